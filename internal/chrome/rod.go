package chrome

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"kdocs2pdf/internal/domain"
	u "kdocs2pdf/internal/utils"
)

// RodLauncher starts a new Chrome process per session via go-rod. When no
// chrome_path is configured rod fetches a compatible Chromium build.
type RodLauncher struct {
	Config u.BrowserConfig
}

type rodDownload struct {
	guid string
	name string
	ok   bool
}

type rodSession struct {
	launcher    *launcher.Launcher
	browser     *rod.Browser
	page        *rod.Page
	profileDir  string
	downloadDir string
	launched    bool

	downloadCancel context.CancelFunc
	waitDownload   func() rodDownload

	closeOnce sync.Once
	closeErr  error
}

func (l *RodLauncher) newLauncher(ctx context.Context, profileDir string) *launcher.Launcher {
	ln := launcher.New().
		Context(ctx).
		Headless(true).
		UserDataDir(profileDir).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("window-size", "1440,900")
	if l.Config.ChromePath != "" {
		ln = ln.Bin(l.Config.ChromePath)
	}
	if l.Config.NoSandbox {
		ln = ln.NoSandbox(true)
	}
	return ln
}

// Launch starts Chrome, connects to it and arms the download listener before
// any page action can trigger a download. ctx only bounds the page creation.
func (l *RodLauncher) Launch(ctx context.Context) (Session, error) {
	profileDir, err := createProfileDir(l.Config.UserDataDir)
	if err != nil {
		return nil, err
	}
	downloadDir := filepath.Join(profileDir, "downloads")
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		_ = os.RemoveAll(profileDir)
		return nil, fmt.Errorf("cannot create download dir: %w", err)
	}

	// The process outlives the launch context; Close tears it down.
	ln := l.newLauncher(context.Background(), profileDir)
	s := &rodSession{launcher: ln, profileDir: profileDir, downloadDir: downloadDir}

	controlURL, err := ln.Launch()
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	s.launched = true

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("connect chrome: %w", err)
	}
	s.browser = b

	dctx, dcancel := context.WithCancel(context.Background())
	s.downloadCancel = dcancel
	wait := s.browser.Context(dctx).WaitDownload(downloadDir)
	s.waitDownload = func() rodDownload {
		info := wait()
		if info == nil {
			return rodDownload{}
		}
		return rodDownload{guid: info.GUID, name: info.SuggestedFilename, ok: true}
	}

	s.page, err = s.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	return s, nil
}

func (s *rodSession) pageWithin(ctx context.Context, timeout time.Duration) (*rod.Page, context.CancelFunc) {
	if timeout <= 0 {
		return s.page.Context(ctx), func() {}
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	return s.page.Context(tctx), cancel
}

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return classify(err)
	}
	return classify(p.WaitLoad())
}

func (s *rodSession) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	p, cancel := s.pageWithin(ctx, timeout)
	defer cancel()

	el, err := p.Element(selector)
	if err != nil {
		return classify(err)
	}
	return classify(el.WaitVisible())
}

func (s *rodSession) Click(ctx context.Context, target Target, timeout time.Duration) error {
	p, cancel := s.pageWithin(ctx, timeout)
	defer cancel()

	var (
		el  *rod.Element
		err error
	)
	if xp := target.XPath(); xp != "" {
		el, err = p.ElementX(xp)
	} else {
		el, err = p.Element(target.Value)
	}
	if err == nil {
		err = el.Click(proto.InputMouseButtonLeft, 1)
	}

	err = classify(err)
	if errors.Is(err, domain.ErrTimeout) {
		return fmt.Errorf("%w: %s not found within %s", domain.ErrInteraction, target, timeout)
	}
	if err != nil {
		return fmt.Errorf("%w: click %s: %v", domain.ErrInteraction, target, err)
	}
	return nil
}

func (s *rodSession) AwaitDownload(ctx context.Context, timeout time.Duration) (Download, error) {
	done := make(chan rodDownload, 1)
	go func() { done <- s.waitDownload() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d := <-done:
		if !d.ok {
			return nil, fmt.Errorf("%w: browser stopped before the download completed", domain.ErrDownload)
		}
		path := downloadPath(s.downloadDir, d.guid)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrDownload, err)
		}
		return fileDownload{name: d.name, path: path}, nil
	case <-timer.C:
		s.downloadCancel()
		return nil, fmt.Errorf("%w: no download completed within %s", domain.ErrTimeout, timeout)
	case <-ctx.Done():
		s.downloadCancel()
		return nil, fmt.Errorf("%w: %v", domain.ErrTimeout, ctx.Err())
	}
}

// Close stops the download listener, closes the browser, kills the process
// and deletes the profile.
func (s *rodSession) Close() error {
	s.closeOnce.Do(func() {
		if s.downloadCancel != nil {
			s.downloadCancel()
		}
		if s.browser != nil {
			_ = s.browser.Close()
		}
		// Cleanup waits for the process to exit, so only call it after a start.
		if s.launched {
			s.launcher.Kill()
			s.launcher.Cleanup()
		}
		s.closeErr = os.RemoveAll(s.profileDir)
	})
	return s.closeErr
}
