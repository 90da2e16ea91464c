package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/richoz-sanitaire/intervention-service/internal/config"
	"github.com/richoz-sanitaire/intervention-service/internal/errs"
	"go.uber.org/zap"
)

// Client вызывает вебхуки платформы автоматизации: генерация PDF отчёта и транскрипция аудио.
type Client struct {
	baseURL       string
	pdfPath       string
	transcribeURL string
	httpClient    *http.Client
	log           *zap.Logger
}

// NewClient возвращает клиент. Пустой BaseURL — GenerateReportPDF вернёт errs.ErrNotConfigured.
func NewClient(cfg config.AutomationConfig, log *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		pdfPath:       cfg.PDFPath,
		transcribeURL: cfg.TranscribeURL,
		httpClient:    &http.Client{Timeout: timeout},
		log:           log,
	}
}

// ReportPDFRequest — тело POST <base>/webhook/report-pdf.
type ReportPDFRequest struct {
	ReportID       string `json:"report_id"`
	InterventionID string `json:"intervention_id,omitempty"`
}

type reportPDFResponse struct {
	PDFURL string `json:"pdf_url"`
}

// GenerateReportPDF просит платформу отрендерить PDF и возвращает его URL (может быть пустым).
func (c *Client) GenerateReportPDF(ctx context.Context, req ReportPDFRequest) (string, error) {
	if c.baseURL == "" {
		return "", errs.ErrNotConfigured
	}
	var out reportPDFResponse
	if err := c.post(ctx, c.baseURL+c.pdfPath, req, &out); err != nil {
		return "", err
	}
	return out.PDFURL, nil
}

// TranscriptionRequest — тело запроса на транскрипцию; результат придёт на CallbackURL.
type TranscriptionRequest struct {
	AudioURL       string `json:"audio_url"`
	ReportID       string `json:"report_id,omitempty"`
	InterventionID string `json:"intervention_id,omitempty"`
	CallbackURL    string `json:"callback_url"`
}

func (c *Client) TranscriptionEnabled() bool {
	return c.transcribeURL != ""
}

// RequestTranscription запускает транскрипцию. Ответ платформы не разбирается.
func (c *Client) RequestTranscription(ctx context.Context, req TranscriptionRequest) error {
	if c.transcribeURL == "" {
		return errs.ErrNotConfigured
	}
	return c.post(ctx, c.transcribeURL, req, nil)
}

func (c *Client) post(ctx context.Context, url string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("automation: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("automation: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("automation: %v: %w", err, errs.ErrUpstream)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Warn("automation: unexpected status",
			zap.String("url", url), zap.Int("status", resp.StatusCode), zap.ByteString("body", snippet))
		return fmt.Errorf("automation: status %d: %w", resp.StatusCode, errs.ErrUpstream)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("automation: decode response: %v: %w", err, errs.ErrUpstream)
	}
	return nil
}
