package automation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/richoz-sanitaire/intervention-service/internal/config"
	"github.com/richoz-sanitaire/intervention-service/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGenerateReportPDF(t *testing.T) {
	var got ReportPDFRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/webhook/report-pdf", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pdf_url":"https://files.example.ch/r1.pdf"}`))
	}))
	defer srv.Close()

	c := NewClient(config.AutomationConfig{BaseURL: srv.URL + "/", PDFPath: "/webhook/report-pdf"}, zap.NewNop())
	url, err := c.GenerateReportPDF(context.Background(), ReportPDFRequest{ReportID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.ch/r1.pdf", url)
	assert.Equal(t, "r1", got.ReportID)
}

func TestGenerateReportPDF_NotConfigured(t *testing.T) {
	c := NewClient(config.AutomationConfig{}, zap.NewNop())
	_, err := c.GenerateReportPDF(context.Background(), ReportPDFRequest{ReportID: "r1"})
	assert.ErrorIs(t, err, errs.ErrNotConfigured)
}

func TestGenerateReportPDF_UpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(config.AutomationConfig{BaseURL: srv.URL, PDFPath: "/pdf"}, zap.NewNop())
	_, err := c.GenerateReportPDF(context.Background(), ReportPDFRequest{ReportID: "r1"})
	assert.ErrorIs(t, err, errs.ErrUpstream)
}

func TestGenerateReportPDF_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(config.AutomationConfig{BaseURL: srv.URL, PDFPath: "/pdf", Timeout: 20 * time.Millisecond}, zap.NewNop())
	_, err := c.GenerateReportPDF(context.Background(), ReportPDFRequest{ReportID: "r1"})
	assert.ErrorIs(t, err, errs.ErrUpstream)
}

func TestRequestTranscription(t *testing.T) {
	var got TranscriptionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(config.AutomationConfig{TranscribeURL: srv.URL}, zap.NewNop())
	require.True(t, c.TranscriptionEnabled())
	err := c.RequestTranscription(context.Background(), TranscriptionRequest{
		AudioURL:    "https://files.example.ch/a.webm",
		ReportID:    "r1",
		CallbackURL: "https://app.example.ch/webhooks/transcribe-audio",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.ch/a.webm", got.AudioURL)
	assert.Equal(t, "https://app.example.ch/webhooks/transcribe-audio", got.CallbackURL)

	off := NewClient(config.AutomationConfig{}, zap.NewNop())
	assert.ErrorIs(t, off.RequestTranscription(context.Background(), TranscriptionRequest{}), errs.ErrNotConfigured)
}
