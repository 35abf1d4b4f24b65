package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bobby854854854/LexiSense/config"
	"github.com/bobby854854854/LexiSense/service"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrNoText is returned when a document yields no readable text.
var ErrNoText = errors.New("no extractable text")

// TextExtractor turns stored contract bytes into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, job service.Job, data []byte) (string, error)
}

// NewTextExtractor builds the extractor selected by cfg.Extract.Backend.
// The mineru backend hands the service a signed URL from blobs.
func NewTextExtractor(cfg *config.Config, blobs service.BlobStore) (TextExtractor, error) {
	switch cfg.Extract.Backend {
	case "", "local":
		return LocalExtractor{}, nil
	case "mineru":
		if cfg.Mineru.APIURL == "" {
			return nil, fmt.Errorf("mineru.api_url is required")
		}
		return NewMineruExtractor(&cfg.Mineru, blobs, cfg.Storage.SignedURLTTL), nil
	default:
		return nil, fmt.Errorf("unsupported extract backend: %s", cfg.Extract.Backend)
	}
}

// LocalExtractor decodes text files and reads PDF content streams in
// process.
type LocalExtractor struct{}

func (LocalExtractor) Extract(ctx context.Context, job service.Job, data []byte) (string, error) {
	var text string
	switch job.MIMEType {
	case service.MIMETypePlain:
		text = string(data)
	case service.MIMETypePDF:
		var err error
		if text, err = pdfText(data); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("cannot extract text from %s", job.MIMEType)
	}

	text = strings.ToValidUTF8(text, "\uFFFD")
	if strings.TrimSpace(text) == "" {
		return "", ErrNoText
	}
	return text, nil
}

func pdfText(data []byte) (string, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pdfCtx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return "", fmt.Errorf("failed to read pdf: %w", err)
	}
	if err := api.ValidateContext(pdfCtx); err != nil {
		return "", fmt.Errorf("failed to validate pdf: %w", err)
	}

	var sb strings.Builder
	for page := 1; page <= pdfCtx.PageCount; page++ {
		r, err := pdfcpu.ExtractPageContent(pdfCtx, page)
		if err != nil {
			return "", fmt.Errorf("failed to extract page %d: %w", page, err)
		}
		if r == nil {
			continue
		}
		content, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("failed to read page %d: %w", page, err)
		}
		sb.WriteString(contentStreamText(content))
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// contentStreamText collects the string operands of text showing operators
// from a decoded page content stream. Only literal strings are read; hex
// strings and font encodings are not interpreted.
func contentStreamText(content []byte) string {
	var sb strings.Builder
	inText := false
	for i := 0; i < len(content); i++ {
		c := content[i]
		switch {
		case c == 'B' && i+1 < len(content) && content[i+1] == 'T' && isDelimited(content, i, 2):
			inText = true
			i++
		case c == 'E' && i+1 < len(content) && content[i+1] == 'T' && isDelimited(content, i, 2):
			inText = false
			sb.WriteByte('\n')
			i++
		case c == 'T' && i+1 < len(content) && (content[i+1] == '*' || content[i+1] == 'd' || content[i+1] == 'D') && inText:
			sb.WriteByte('\n')
			i++
		case c == '(' && inText:
			s, next := readLiteral(content, i)
			sb.WriteString(s)
			i = next
		}
	}
	return sb.String()
}

func isDelimited(content []byte, i, n int) bool {
	before := i == 0 || isSpace(content[i-1])
	after := i+n >= len(content) || isSpace(content[i+n])
	return before && after
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

// readLiteral reads a PDF literal string starting at the opening paren and
// returns it with the index of the closing paren.
func readLiteral(content []byte, start int) (string, int) {
	var sb strings.Builder
	depth := 0
	for i := start; i < len(content); i++ {
		c := content[i]
		switch c {
		case '\\':
			if i+1 >= len(content) {
				return sb.String(), i
			}
			i++
			switch e := content[i]; e {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'b', 'f':
			case '\r', '\n':
				// line continuation
			default:
				if e >= '0' && e <= '7' {
					v := 0
					j := 0
					for ; j < 3 && i+j < len(content) && content[i+j] >= '0' && content[i+j] <= '7'; j++ {
						v = v*8 + int(content[i+j]-'0')
					}
					sb.WriteByte(byte(v))
					i += j - 1
				} else {
					sb.WriteByte(e)
				}
			}
		case '(':
			if depth > 0 {
				sb.WriteByte(c)
			}
			depth++
		case ')':
			depth--
			if depth == 0 {
				return sb.String(), i
			}
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String(), len(content)
}
