package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bobby854854854/LexiSense/model"
	"github.com/bobby854854854/LexiSense/service"
	"github.com/gin-gonic/gin"
)

var samplePDF = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n%%EOF\n")

type recordingDispatcher struct {
	mu     sync.Mutex
	jobs   []service.Job
	reject bool
}

func (d *recordingDispatcher) Submit(job service.Job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reject {
		return false
	}
	d.jobs = append(d.jobs, job)
	return true
}

func (d *recordingDispatcher) Jobs() []service.Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]service.Job(nil), d.jobs...)
}

type brokenBlobStore struct {
	*service.MemoryBlobStore
}

func (b brokenBlobStore) Put(context.Context, string, []byte, string, map[string]string) error {
	return errors.New("connection refused")
}

type testEnv struct {
	store      *service.MemoryContractStore
	blobs      *service.MemoryBlobStore
	dispatcher *recordingDispatcher
	handler    *ContractHandler
}

func newTestEnv(maxBytes int64) *testEnv {
	env := &testEnv{
		store:      service.NewMemoryContractStore(0),
		blobs:      service.NewMemoryBlobStore(),
		dispatcher: &recordingDispatcher{},
	}
	ingestor := service.NewIngestor(env.blobs, env.store, env.dispatcher, maxBytes)
	env.handler = NewContractHandler(ingestor, env.store, env.blobs, time.Hour)
	return env
}

// seed stores a contract and its blob for tenant.
func (env *testEnv) seed(t *testing.T, id, tenant string, status model.Status, created time.Time) *model.Contract {
	t.Helper()
	c := &model.Contract{
		ID:             id,
		OrganizationID: tenant,
		Name:           id + ".pdf",
		StorageKey:     "contracts/" + tenant + "/" + id + ".pdf",
		MIMEType:       service.MIMETypePDF,
		Status:         status,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
	if err := env.store.Create(context.Background(), c); err != nil {
		t.Fatalf("Failed to seed contract: %v", err)
	}
	if err := env.blobs.Put(context.Background(), c.StorageKey, samplePDF, service.MIMETypePDF, nil); err != nil {
		t.Fatalf("Failed to seed blob: %v", err)
	}
	return c
}

func withIdentity(userID, tenant string, h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Set("tenant", tenant)
		h(c)
	}
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if field != "" {
		part, err := writer.CreateFormFile(field, filename)
		if err != nil {
			t.Fatalf("Failed to create form file: %v", err)
		}
		part.Write(data)
	} else {
		writer.WriteField("note", "no file here")
	}
	writer.Close()
	return body, writer.FormDataContentType()
}

func decodeMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	msg, _ := response["message"].(string)
	return msg
}

func TestContractHandlerUpload(t *testing.T) {
	env := newTestEnv(0)

	router := gin.New()
	router.POST("/upload", withIdentity("u1", "org-1", env.handler.Upload))

	body, contentType := multipartBody(t, "contractFile", "msa.pdf", samplePDF)
	req := httptest.NewRequest("POST", "/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var contract model.Contract
	if err := json.Unmarshal(w.Body.Bytes(), &contract); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if contract.Status != model.StatusProcessing {
		t.Errorf("Expected status 'processing', got '%s'", contract.Status)
	}
	if contract.OrganizationID != "org-1" {
		t.Errorf("Expected organization 'org-1', got '%s'", contract.OrganizationID)
	}
	if contract.UploadedByUserID != "u1" {
		t.Errorf("Expected uploader 'u1', got '%s'", contract.UploadedByUserID)
	}
	if contract.MIMEType != service.MIMETypePDF {
		t.Errorf("Expected mime type '%s', got '%s'", service.MIMETypePDF, contract.MIMEType)
	}
	if contract.AnalysisResults != nil {
		t.Error("Expected no analysis results on upload")
	}

	jobs := env.dispatcher.Jobs()
	if len(jobs) != 1 || jobs[0].ContractID != contract.ID {
		t.Errorf("Expected one analysis job for %s, got %+v", contract.ID, jobs)
	}
	if env.blobs.Len() != 1 {
		t.Errorf("Expected 1 stored blob, got %d", env.blobs.Len())
	}
}

func TestContractHandlerUploadFileField(t *testing.T) {
	env := newTestEnv(0)

	router := gin.New()
	router.POST("/upload", withIdentity("u1", "org-1", env.handler.Upload))

	body, contentType := multipartBody(t, "file", "terms.txt", []byte("These terms govern the use of the service."))
	req := httptest.NewRequest("POST", "/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", w.Code)
	}
}

func TestContractHandlerUploadRejected(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01")

	tests := []struct {
		name           string
		field          string
		data           []byte
		expectedStatus int
		expectedMsg    string
	}{
		{
			name:           "no file",
			field:          "",
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "Invalid request.",
		},
		{
			name:           "empty file",
			field:          "contractFile",
			data:           []byte{},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "Invalid request.",
		},
		{
			name:           "png named pdf",
			field:          "contractFile",
			data:           png,
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "Unsupported file type. Only PDF and plain text files are accepted.",
		},
		{
			name:           "oversize",
			field:          "contractFile",
			data:           bytes.Repeat([]byte("a"), 100),
			expectedStatus: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(64)

			router := gin.New()
			router.POST("/upload", withIdentity("u1", "org-1", env.handler.Upload))

			body, contentType := multipartBody(t, tt.field, "contract.pdf", tt.data)
			req := httptest.NewRequest("POST", "/upload", body)
			req.Header.Set("Content-Type", contentType)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if msg := decodeMessage(t, w); tt.expectedMsg != "" && msg != tt.expectedMsg {
				t.Errorf("Expected message '%s', got '%s'", tt.expectedMsg, msg)
			}
			if env.store.Count() != 0 {
				t.Errorf("Expected no contract record, got %d", env.store.Count())
			}
			if env.blobs.Len() != 0 {
				t.Errorf("Expected no stored blob, got %d", env.blobs.Len())
			}
		})
	}
}

func TestContractHandlerUploadStorageFailure(t *testing.T) {
	store := service.NewMemoryContractStore(0)
	blobs := brokenBlobStore{service.NewMemoryBlobStore()}
	ingestor := service.NewIngestor(blobs, store, &recordingDispatcher{}, 0)
	handler := NewContractHandler(ingestor, store, blobs, time.Hour)

	router := gin.New()
	router.POST("/upload", withIdentity("u1", "org-1", handler.Upload))

	body, contentType := multipartBody(t, "contractFile", "msa.pdf", samplePDF)
	req := httptest.NewRequest("POST", "/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
	if msg := decodeMessage(t, w); msg != "Upload failed: storage unavailable." {
		t.Errorf("Unexpected message '%s'", msg)
	}
	if strings.Contains(w.Body.String(), "connection refused") {
		t.Error("Expected storage error details to stay out of the response")
	}
	if store.Count() != 0 {
		t.Errorf("Expected no contract record, got %d", store.Count())
	}
}

func TestContractHandlerList(t *testing.T) {
	env := newTestEnv(0)
	base := time.Now().Add(-time.Hour)
	env.seed(t, "test-1", "tenant1", model.StatusActive, base)
	env.seed(t, "test-2", "tenant1", model.StatusProcessing, base.Add(time.Minute))
	env.seed(t, "test-3", "tenant2", model.StatusActive, base)

	router := gin.New()
	router.GET("/contracts", withIdentity("u1", "tenant1", env.handler.List))

	req := httptest.NewRequest("GET", "/contracts", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var contracts []model.Contract
	if err := json.Unmarshal(w.Body.Bytes(), &contracts); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(contracts) != 2 {
		t.Fatalf("Expected 2 contracts for tenant1, got %d", len(contracts))
	}
	if contracts[0].ID != "test-2" {
		t.Errorf("Expected newest contract first, got '%s'", contracts[0].ID)
	}
}

func TestContractHandlerListEmpty(t *testing.T) {
	env := newTestEnv(0)

	router := gin.New()
	router.GET("/contracts", withIdentity("u1", "empty-tenant", env.handler.List))

	req := httptest.NewRequest("GET", "/contracts", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("Expected empty array, got %s", w.Body.String())
	}
}

func TestContractHandlerGet(t *testing.T) {
	env := newTestEnv(0)
	env.seed(t, "get-test", "tenant1", model.StatusActive, time.Now())

	tests := []struct {
		name           string
		id             string
		tenant         string
		expectedStatus int
	}{
		{
			name:           "valid get",
			id:             "get-test",
			tenant:         "tenant1",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "wrong tenant",
			id:             "get-test",
			tenant:         "tenant2",
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "non-existent",
			id:             "non-existent",
			tenant:         "tenant1",
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/contracts/:id", withIdentity("u1", tt.tenant, env.handler.Get))

			req := httptest.NewRequest("GET", "/contracts/"+tt.id, nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if tt.expectedStatus == http.StatusNotFound {
				if msg := decodeMessage(t, w); msg != "Contract not found." {
					t.Errorf("Expected 'Contract not found.', got '%s'", msg)
				}
			}
		})
	}
}

func TestContractHandlerGetStatus(t *testing.T) {
	env := newTestEnv(0)
	env.seed(t, "status-test", "tenant1", model.StatusProcessing, time.Now())
	if err := env.store.MarkFailed(context.Background(), "status-test", "analysis failed: timeout"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	router := gin.New()
	router.GET("/contracts/:id/status", withIdentity("u1", "tenant1", env.handler.GetStatus))

	req := httptest.NewRequest("GET", "/contracts/status-test/status", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &response)

	if response["status"] != string(model.StatusFailed) {
		t.Errorf("Expected status 'failed', got '%v'", response["status"])
	}
	if response["analysisError"] != "analysis failed: timeout" {
		t.Errorf("Expected analysis error, got '%v'", response["analysisError"])
	}
}

func TestContractHandlerGetStatusWrongTenant(t *testing.T) {
	env := newTestEnv(0)
	env.seed(t, "tenant-test", "tenant1", model.StatusProcessing, time.Now())

	router := gin.New()
	router.GET("/contracts/:id/status", withIdentity("u2", "tenant2", env.handler.GetStatus))

	req := httptest.NewRequest("GET", "/contracts/tenant-test/status", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for wrong tenant, got %d", w.Code)
	}
}

func TestContractHandlerDownload(t *testing.T) {
	env := newTestEnv(0)
	env.seed(t, "dl-test", "tenant1", model.StatusActive, time.Now())

	router := gin.New()
	router.GET("/contracts/:id/download", withIdentity("u1", "tenant1", env.handler.Download))

	req := httptest.NewRequest("GET", "/contracts/dl-test/download", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &response)
	url, _ := response["url"].(string)
	if !strings.HasPrefix(url, "memory://contracts/tenant1/dl-test.pdf") {
		t.Errorf("Unexpected url '%s'", url)
	}
}

func TestContractHandlerAnalyze(t *testing.T) {
	env := newTestEnv(0)
	env.seed(t, "pending", "tenant1", model.StatusProcessing, time.Now())
	env.seed(t, "done", "tenant1", model.StatusActive, time.Now())

	router := gin.New()
	router.POST("/contracts/:id/analyze", withIdentity("u1", "tenant1", env.handler.Analyze))

	tests := []struct {
		id             string
		expectedStatus int
	}{
		{"pending", http.StatusAccepted},
		{"done", http.StatusConflict},
		{"missing", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/contracts/"+tt.id+"/analyze", nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
		})
	}

	jobs := env.dispatcher.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("Expected 1 job, got %d", len(jobs))
	}
	if jobs[0].ContractID != "pending" || jobs[0].StorageKey != "contracts/tenant1/pending.pdf" || jobs[0].Data != nil {
		t.Errorf("Unexpected job %+v", jobs[0])
	}
}

func TestContractHandlerAnalyzeQueueFull(t *testing.T) {
	env := newTestEnv(0)
	env.dispatcher.reject = true
	env.seed(t, "pending", "tenant1", model.StatusProcessing, time.Now())

	router := gin.New()
	router.POST("/contracts/:id/analyze", withIdentity("u1", "tenant1", env.handler.Analyze))

	req := httptest.NewRequest("POST", "/contracts/pending/analyze", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
}

func TestContractHandlerDelete(t *testing.T) {
	env := newTestEnv(0)
	c := env.seed(t, "delete-test", "tenant1", model.StatusActive, time.Now())

	router := gin.New()
	router.DELETE("/contracts/:id", withIdentity("u1", "tenant1", env.handler.Delete))

	req := httptest.NewRequest("DELETE", "/contracts/delete-test", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if _, err := env.store.GetByID(context.Background(), "delete-test"); !errors.Is(err, service.ErrNotFound) {
		t.Error("Expected contract to be deleted")
	}
	if ok, _ := env.blobs.Exists(context.Background(), c.StorageKey); ok {
		t.Error("Expected blob to be deleted")
	}
}

func TestContractHandlerDeleteWrongTenant(t *testing.T) {
	env := newTestEnv(0)
	c := env.seed(t, "delete-tenant-test", "tenant1", model.StatusActive, time.Now())

	router := gin.New()
	router.DELETE("/contracts/:id", withIdentity("u2", "tenant2", env.handler.Delete))

	req := httptest.NewRequest("DELETE", "/contracts/delete-tenant-test", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for wrong tenant, got %d", w.Code)
	}
	if _, err := env.store.GetByID(context.Background(), "delete-tenant-test"); err != nil {
		t.Error("Expected contract to still exist")
	}
	if ok, _ := env.blobs.Exists(context.Background(), c.StorageKey); !ok {
		t.Error("Expected blob to still exist")
	}
}

func TestContractHandlerAnalytics(t *testing.T) {
	env := newTestEnv(0)
	env.seed(t, "a", "tenant1", model.StatusProcessing, time.Now())
	env.seed(t, "b", "tenant1", model.StatusProcessing, time.Now())
	env.seed(t, "c", "tenant2", model.StatusProcessing, time.Now())

	result := model.EmptyAnalysisResult()
	result.RiskLevel = model.RiskHigh
	if err := env.store.MarkActive(context.Background(), "a", result); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	router := gin.New()
	router.GET("/contracts/analytics", withIdentity("u1", "tenant1", env.handler.Analytics))

	req := httptest.NewRequest("GET", "/contracts/analytics", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var analytics model.Analytics
	if err := json.Unmarshal(w.Body.Bytes(), &analytics); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if analytics.TotalContracts != 2 {
		t.Errorf("Expected 2 contracts, got %d", analytics.TotalContracts)
	}
	if analytics.RiskDistribution["high"] != 1 || analytics.RiskDistribution["low"] != 1 {
		t.Errorf("Unexpected risk distribution %v", analytics.RiskDistribution)
	}
	if analytics.StatusDistribution["active"] != 1 || analytics.StatusDistribution["processing"] != 1 {
		t.Errorf("Unexpected status distribution %v", analytics.StatusDistribution)
	}
}
