package analysis

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bobby854854854/LexiSense/config"
	"github.com/bobby854854854/LexiSense/pkg/logger"
	"github.com/bobby854854854/LexiSense/service"
)

// MineruExtractor delegates PDF extraction to a MinerU server. The server
// downloads the document from a signed URL; plain text is decoded locally.
type MineruExtractor struct {
	config     *config.MineruConfig
	blobs      service.BlobStore
	urlTTL     time.Duration
	httpClient *http.Client
	local      LocalExtractor
}

// MineruTaskRequest represents the request to create an extraction task
type MineruTaskRequest struct {
	URL          string `json:"url"`
	ModelVersion string `json:"model_version"`
	DataID       string `json:"data_id,omitempty"`
}

// MineruTaskResponse represents the response from task creation
type MineruTaskResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
}

// MineruTaskStatusResponse represents the task status query response
type MineruTaskStatusResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	TraceID string `json:"trace_id"`
	Data    struct {
		TaskID     string `json:"task_id"`
		DataID     string `json:"data_id"`
		State      string `json:"state"` // pending, running, done, failed, converting
		FullZipURL string `json:"full_zip_url,omitempty"`
		ErrorMsg   string `json:"err_msg,omitempty"`
	} `json:"data"`
}

// contentBlock is one element of content_list.json
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func NewMineruExtractor(cfg *config.MineruConfig, blobs service.BlobStore, urlTTL time.Duration) *MineruExtractor {
	if urlTTL <= 0 {
		urlTTL = time.Hour
	}
	return &MineruExtractor{
		config: cfg,
		blobs:  blobs,
		urlTTL: urlTTL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (m *MineruExtractor) Extract(ctx context.Context, job service.Job, data []byte) (string, error) {
	if job.MIMEType != service.MIMETypePDF {
		return m.local.Extract(ctx, job, data)
	}

	pdfURL, err := m.blobs.SignedURL(ctx, job.StorageKey, m.urlTTL)
	if err != nil {
		return "", fmt.Errorf("failed to sign document url: %w", err)
	}

	task, err := m.CreateTask(ctx, pdfURL, job.ContractID)
	if err != nil {
		return "", err
	}
	logger.Info(ctx, "mineru task created", "task_id", task.Data.TaskID)

	zipURL, err := m.waitForResult(ctx, task.Data.TaskID)
	if err != nil {
		return "", err
	}

	text, err := m.FetchZipText(ctx, zipURL)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrNoText
	}
	return text, nil
}

func (m *MineruExtractor) waitForResult(ctx context.Context, taskID string) (string, error) {
	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for i := 0; i < m.config.MaxPolls; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		status, err := m.GetTaskStatus(ctx, taskID)
		if err != nil {
			logger.Warn(ctx, "mineru status poll failed", "task_id", taskID, "attempt", i+1, "error", err)
			continue
		}

		switch status.Data.State {
		case "done":
			if status.Data.FullZipURL == "" {
				return "", fmt.Errorf("mineru task %s finished without a result url", taskID)
			}
			return status.Data.FullZipURL, nil
		case "failed":
			return "", fmt.Errorf("mineru task %s failed: %s", taskID, status.Data.ErrorMsg)
		default:
			logger.Debug(ctx, "mineru task pending", "task_id", taskID, "state", status.Data.State)
		}
	}
	return "", fmt.Errorf("mineru task %s did not finish after %d polls", taskID, m.config.MaxPolls)
}

// CreateTask creates a new extraction task
func (m *MineruExtractor) CreateTask(ctx context.Context, pdfURL, dataID string) (*MineruTaskResponse, error) {
	jsonData, err := json.Marshal(MineruTaskRequest{
		URL:          pdfURL,
		ModelVersion: m.config.ModelVersion,
		DataID:       dataID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.APIURL+"/extract/task", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var result MineruTaskResponse
	if err := m.do(req, &result); err != nil {
		return nil, err
	}
	if result.Code != 0 {
		return nil, fmt.Errorf("MinerU API error: %s", result.Message)
	}
	return &result, nil
}

// GetTaskStatus queries the status of a task
func (m *MineruExtractor) GetTaskStatus(ctx context.Context, taskID string) (*MineruTaskStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/extract/task/%s", m.config.APIURL, taskID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var result MineruTaskStatusResponse
	if err := m.do(req, &result); err != nil {
		return nil, err
	}
	if result.Code != 0 {
		return nil, fmt.Errorf("MinerU API error: %s", result.Message)
	}
	return &result, nil
}

func (m *MineruExtractor) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+m.config.APIToken)
	req.Header.Set("Accept", "*/*")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}

// FetchZipText downloads the result archive and returns the document text
// from content_list.json, falling back to the markdown rendering.
func (m *MineruExtractor) FetchZipText(ctx context.Context, zipURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, zipURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download ZIP: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download ZIP: status %d", resp.StatusCode)
	}

	zipData, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read ZIP: %w", err)
	}

	zipReader, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		return "", fmt.Errorf("failed to open ZIP: %w", err)
	}

	var markdown *zip.File
	for _, file := range zipReader.File {
		switch {
		case strings.HasSuffix(file.Name, "content_list.json"):
			content, err := readZipFile(file)
			if err != nil {
				continue
			}
			var blocks []contentBlock
			if err := json.Unmarshal(content, &blocks); err != nil {
				logger.Warn(ctx, "mineru content list unreadable", "file", file.Name, "error", err)
				continue
			}
			var sb strings.Builder
			for _, b := range blocks {
				if b.Text == "" {
					continue
				}
				sb.WriteString(b.Text)
				sb.WriteString("\n")
			}
			return sb.String(), nil
		case strings.HasSuffix(file.Name, ".md"):
			markdown = file
		}
	}

	if markdown != nil {
		content, err := readZipFile(markdown)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", markdown.Name, err)
		}
		return string(content), nil
	}
	return "", fmt.Errorf("no text found in ZIP")
}

func readZipFile(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
