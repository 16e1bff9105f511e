package handlers

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"kdocs2pdf/internal/convert"
	"kdocs2pdf/internal/domain"
	"kdocs2pdf/internal/metrics"
	u "kdocs2pdf/internal/utils"
)

// Converter runs one document conversion.
type Converter interface {
	Convert(ctx context.Context, sourceURL string) (convert.Result, error)
}

// FileSource serves stored files.
type FileSource interface {
	Open(name string) (io.ReadCloser, int64, error)
}

// DocumentService bundles configuration and dependencies for the convert and
// download routes.
type DocumentService struct {
	Config    *u.Config
	Converter Converter
	Files     FileSource
	Metrics   *metrics.ConversionMetrics
}

// NewDocumentService creates a new DocumentService instance.
func NewDocumentService(cfg u.Config, conv Converter, files FileSource, m *metrics.ConversionMetrics) *DocumentService {
	return &DocumentService{
		Config:    &cfg,
		Converter: conv,
		Files:     files,
		Metrics:   m,
	}
}

type convertRequest struct {
	URL *string `json:"url"`
}

type convertResponse struct {
	DownloadURL string `json:"download_url"`
	Filename    string `json:"filename"`
}

// HandleConvert converts the document named in the JSON body and answers with
// its download location. The conversion runs inside the request.
func (svc *DocumentService) HandleConvert(c *fiber.Ctx) error {
	sourceURL, err := extractSourceURL(c, svc.Config.Validation.BaseURL)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}

	requestID := c.GetRespHeader(fiber.HeaderXRequestID)
	u.Info("Conversion requested", "url", sourceURL, "request_id", requestID)

	// Conversions are not canceled when the client goes away.
	res, err := svc.Converter.Convert(context.Background(), sourceURL)
	if err != nil {
		status := StatusFor(err)
		u.Warn("Conversion request failed", "status", status, "error", err, "request_id", requestID)
		return errorJSON(c, status, err.Error())
	}

	return c.JSON(convertResponse{
		DownloadURL: svc.downloadURL(c, res.Filename),
		Filename:    res.Filename,
	})
}

// HandleDownload streams a stored PDF as an attachment.
func (svc *DocumentService) HandleDownload(c *fiber.Ctx) error {
	name := c.Params("filename")

	rc, size, err := svc.Files.Open(name)
	if errors.Is(err, domain.ErrNotFound) {
		svc.Metrics.Download(strconv.Itoa(fiber.StatusNotFound))
		return errorJSON(c, fiber.StatusNotFound, "File not found")
	}
	if err != nil {
		u.Error("Opening stored file failed", "filename", name, "error", err)
		svc.Metrics.Download(strconv.Itoa(fiber.StatusInternalServerError))
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}

	svc.Metrics.Download(strconv.Itoa(fiber.StatusOK))
	c.Attachment(name)
	c.Set(fiber.HeaderContentType, "application/pdf")
	return c.SendStream(rc, int(size))
}

// extractSourceURL returns the url field of a JSON body. A missing body, an
// undecodable body and a missing field are all reported as a missing URL.
func extractSourceURL(c *fiber.Ctx, baseURL string) (string, error) {
	body := c.Body()
	if len(body) == 0 {
		return "", convert.ErrMissingURL
	}
	var req convertRequest
	if err := c.App().Config().JSONDecoder(body, &req); err != nil || req.URL == nil {
		return "", convert.ErrMissingURL
	}
	if err := convert.ValidateSourceURL(*req.URL, baseURL); err != nil {
		return "", err
	}
	return *req.URL, nil
}

func (svc *DocumentService) downloadURL(c *fiber.Ctx, filename string) string {
	base := strings.TrimRight(svc.Config.Server.PublicBaseURL, "/")
	if base == "" {
		base = c.BaseURL()
	}
	return base + "/download/" + filename
}

// StatusFor maps a conversion error onto an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return fiber.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrTimeout):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, domain.ErrInteraction), errors.Is(err, domain.ErrDownload):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}
