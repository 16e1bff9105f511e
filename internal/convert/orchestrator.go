// Package convert drives one browser session through the document export
// sequence and stores the resulting PDF.
package convert

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/google/uuid"

	"kdocs2pdf/internal/chrome"
	"kdocs2pdf/internal/domain"
	"kdocs2pdf/internal/metrics"
	"kdocs2pdf/internal/storage"
	u "kdocs2pdf/internal/utils"
)

// Result identifies a stored PDF.
type Result struct {
	FileID   string
	Filename string
	// Cached is set when the result came from the result cache and no
	// browser was started.
	Cached bool
}

// Store is where finished downloads are written.
type Store interface {
	Put(name string, r io.Reader) error
	Exists(name string) bool
}

// Orchestrator runs conversions. It holds no per-conversion state and is
// safe for concurrent use; every call gets its own browser.
type Orchestrator struct {
	cfg      u.BrowserConfig
	launcher chrome.Launcher
	store    Store
	cache    *storage.ResultCache
	metrics  *metrics.ConversionMetrics
	newID    func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithResultCache enables reuse of earlier results for the same source URL.
func WithResultCache(c *storage.ResultCache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithMetrics records attempts on m.
func WithMetrics(m *metrics.ConversionMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithIDGenerator replaces the UUIDv4 file id generator.
func WithIDGenerator(f func() string) Option {
	return func(o *Orchestrator) { o.newID = f }
}

// New returns an Orchestrator using cfg's timeouts and export steps.
func New(cfg u.BrowserConfig, launcher chrome.Launcher, store Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		launcher: launcher,
		store:    store,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Convert exports sourceURL as PDF. The caller is expected to have validated
// sourceURL with ValidateSourceURL.
func (o *Orchestrator) Convert(ctx context.Context, sourceURL string) (Result, error) {
	if name := o.cache.Get(ctx, sourceURL); name != "" && o.store.Exists(name) {
		o.metrics.CacheHit()
		u.Info("Conversion served from cache", "filename", name)
		return Result{FileID: strings.TrimSuffix(name, ".pdf"), Filename: name, Cached: true}, nil
	}

	id := o.newID()
	res := Result{FileID: id, Filename: id + ".pdf"}

	if o.cfg.ConversionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.ConversionTimeout)
		defer cancel()
	}

	record := o.metrics.Begin()
	a := &attempt{fileID: id}
	err := o.run(ctx, a, sourceURL, res.Filename)
	record(outcome(err))
	if err != nil {
		u.Error("Conversion failed", "file_id", id, "error", err)
		return Result{}, err
	}

	o.cache.Set(ctx, sourceURL, res.Filename)
	u.Info("Conversion finished", "file_id", id, "filename", res.Filename)
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, a *attempt, sourceURL, filename string) (err error) {
	session, err := o.launcher.Launch(ctx)
	if err != nil {
		a.to(StateFailed)
		a.to(StateClosed)
		return &domain.ConversionError{Stage: domain.StageLaunch, Err: err}
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			u.Warn("Browser cleanup failed", "file_id", a.fileID, "error", cerr)
		}
		if err != nil {
			a.to(StateFailed)
		}
		a.to(StateClosed)
	}()

	a.to(StateNavigating)
	navCtx, cancel := context.WithTimeout(ctx, o.cfg.ActionTimeout)
	err = session.Navigate(navCtx, sourceURL)
	cancel()
	if err != nil {
		return &domain.ConversionError{Stage: domain.StageNavigate, Err: err}
	}

	a.to(StateWaitingForReady)
	if err := session.WaitFor(ctx, o.cfg.ReadySelector, o.cfg.ReadyTimeout); err != nil {
		return &domain.ConversionError{Stage: domain.StageReady, Detail: o.cfg.ReadySelector, Err: err}
	}

	a.to(StateExporting)
	for _, step := range o.cfg.Steps {
		target := chrome.TargetFromStep(step)
		if err := session.Click(ctx, target, o.cfg.ActionTimeout); err != nil {
			return &domain.ConversionError{Stage: domain.StageExport, Detail: target.String(), Err: err}
		}
	}

	a.to(StateAwaitingDownload)
	dl, err := session.AwaitDownload(ctx, o.cfg.DownloadTimeout)
	if err != nil {
		return &domain.ConversionError{Stage: domain.StageDownload, Err: err}
	}

	if err := o.save(dl, filename); err != nil {
		return err
	}
	a.to(StateSaved)
	return nil
}

func (o *Orchestrator) save(dl chrome.Download, filename string) error {
	rc, err := dl.Open()
	if err != nil {
		return &domain.ConversionError{Stage: domain.StageDownload, Detail: dl.Name(), Err: err}
	}
	defer rc.Close()

	if err := o.store.Put(filename, rc); err != nil {
		return &domain.ConversionError{Stage: domain.StageSave, Detail: filename, Err: err}
	}
	return nil
}

// outcome is the metrics label for a conversion error.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrInteraction):
		return "interaction"
	case errors.Is(err, domain.ErrDownload):
		return "download"
	default:
		return "error"
	}
}
