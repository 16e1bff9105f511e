package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kdocs2pdf/internal/convert"
	"kdocs2pdf/internal/domain"
	"kdocs2pdf/internal/storage"
	u "kdocs2pdf/internal/utils"
)

type fakeConverter struct {
	mu    sync.Mutex
	calls []string
	res   convert.Result
	err   error
}

func (f *fakeConverter) Convert(ctx context.Context, sourceURL string) (convert.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sourceURL)
	return f.res, f.err
}

func newTestService(t *testing.T, conv Converter) (*fiber.App, *storage.FileStore) {
	t.Helper()
	files, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	svc := NewDocumentService(u.DefaultConfig(), conv, files, nil)
	app := fiber.New()
	app.Post("/convert", svc.HandleConvert)
	app.Get("/download/:filename", svc.HandleDownload)
	return app, files
}

func postConvert(t *testing.T, app *fiber.App, body string) (int, map[string]string) {
	t.Helper()
	req := httptest.NewRequest("POST", "/convert", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]string{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestHandleConvert_Success(t *testing.T) {
	conv := &fakeConverter{res: convert.Result{FileID: "abc", Filename: "abc.pdf"}}
	app, _ := newTestService(t, conv)

	status, body := postConvert(t, app, `{"url":"https://www.kdocs.cn/l/cabc123"}`)

	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "abc.pdf", body["filename"])
	assert.Equal(t, "http://example.com/download/abc.pdf", body["download_url"])
	assert.Equal(t, []string{"https://www.kdocs.cn/l/cabc123"}, conv.calls)
}

func TestHandleConvert_PublicBaseURL(t *testing.T) {
	files, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	cfg := u.DefaultConfig()
	cfg.Server.PublicBaseURL = "https://pdf.internal/"

	svc := NewDocumentService(cfg, &fakeConverter{res: convert.Result{FileID: "x", Filename: "x.pdf"}}, files, nil)
	app := fiber.New()
	app.Post("/convert", svc.HandleConvert)

	_, body := postConvert(t, app, `{"url":"https://www.kdocs.cn/l/x"}`)
	assert.Equal(t, "https://pdf.internal/download/x.pdf", body["download_url"])
}

func TestHandleConvert_RequestValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"empty body", "", "Missing document URL"},
		{"not json", "url=https://www.kdocs.cn/l/x", "Missing document URL"},
		{"no url field", `{"link":"https://www.kdocs.cn/l/x"}`, "Missing document URL"},
		{"null url", `{"url":null}`, "Missing document URL"},
		{"foreign host", `{"url":"https://evil.example/doc"}`, "Invalid WPS URL"},
		{"empty url", `{"url":""}`, "Invalid WPS URL"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			conv := &fakeConverter{}
			app, _ := newTestService(t, conv)

			status, body := postConvert(t, app, tc.body)

			assert.Equal(t, fiber.StatusBadRequest, status)
			assert.Equal(t, tc.wantErr, body["error"])
			assert.Empty(t, conv.calls, "no conversion may start for a rejected request")
		})
	}
}

func TestHandleConvert_SubstringMatchIsAccepted(t *testing.T) {
	conv := &fakeConverter{res: convert.Result{FileID: "y", Filename: "y.pdf"}}
	app, _ := newTestService(t, conv)

	status, _ := postConvert(t, app, `{"url":"https://evil.example/?next=https://www.kdocs.cn"}`)
	assert.Equal(t, fiber.StatusOK, status)
}

func TestHandleConvert_FailureStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"timeout", &domain.ConversionError{Stage: domain.StageReady, Detail: ".kdocs-header", Err: domain.ErrTimeout}, fiber.StatusGatewayTimeout},
		{"interaction", &domain.ConversionError{Stage: domain.StageExport, Err: fmt.Errorf("%w: text=PDF not found", domain.ErrInteraction)}, fiber.StatusBadGateway},
		{"download", &domain.ConversionError{Stage: domain.StageDownload, Err: domain.ErrDownload}, fiber.StatusBadGateway},
		{"launch", &domain.ConversionError{Stage: domain.StageLaunch, Err: errors.New("exec: not found")}, fiber.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			app, _ := newTestService(t, &fakeConverter{err: tc.err})

			status, body := postConvert(t, app, `{"url":"https://www.kdocs.cn/l/x"}`)

			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.err.Error(), body["error"])
		})
	}
}

func TestHandleDownload(t *testing.T) {
	app, files := newTestService(t, &fakeConverter{})
	pdf := "%PDF-1.7 body"
	require.NoError(t, files.Put("doc.pdf", strings.NewReader(pdf)))

	resp, err := app.Test(httptest.NewRequest("GET", "/download/doc.pdf", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentDisposition), `attachment; filename="doc.pdf"`)
	assert.Equal(t, "application/pdf", resp.Header.Get(fiber.HeaderContentType))
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, pdf, string(got))
}

func TestHandleDownload_NotFound(t *testing.T) {
	app, _ := newTestService(t, &fakeConverter{})

	for _, path := range []string{"/download/missing.pdf", "/download/..%2Fsecret", "/download/.upload-123"} {
		resp, err := app.Test(httptest.NewRequest("GET", path, nil), -1)
		require.NoError(t, err)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		resp.Body.Close()

		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode, path)
		assert.Equal(t, "File not found", body["error"], path)
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, fiber.StatusBadRequest, StatusFor(convert.ErrInvalidURL))
	assert.Equal(t, fiber.StatusUnauthorized, StatusFor(domain.ErrUnauthorized))
	assert.Equal(t, fiber.StatusNotFound, StatusFor(fmt.Errorf("x: %w", domain.ErrNotFound)))
	assert.Equal(t, fiber.StatusGatewayTimeout, StatusFor(fmt.Errorf("x: %w", domain.ErrTimeout)))
	assert.Equal(t, fiber.StatusBadGateway, StatusFor(domain.ErrInteraction))
	assert.Equal(t, fiber.StatusBadGateway, StatusFor(domain.ErrDownload))
	assert.Equal(t, fiber.StatusInternalServerError, StatusFor(errors.New("boom")))
}
