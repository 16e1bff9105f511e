package chrome

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"

	"kdocs2pdf/internal/domain"
	u "kdocs2pdf/internal/utils"
)

// ChromedpLauncher starts a new Chrome process per session via chromedp.
type ChromedpLauncher struct {
	Config u.BrowserConfig
}

type chromedpSession struct {
	ctx         context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	profileDir  string
	downloadDir string
	downloads   *downloadTracker

	closeOnce sync.Once
	closeErr  error
}

func (l *ChromedpLauncher) allocatorOptions(profileDir string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(profileDir),
		// Force software rendering and avoid Vulkan/ANGLE issues in minimal container environments.
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-gpu-compositing", true),
		chromedp.Flag("disable-features", "Vulkan,UseSkiaRenderer"),
		chromedp.Flag("use-gl", "swiftshader"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1440, 900),
	)
	if l.Config.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(l.Config.ChromePath))
	}
	if l.Config.NoSandbox {
		opts = append(opts, chromedp.Flag("no-sandbox", true))
	}
	return opts
}

// Launch starts Chrome with a fresh profile and enables download events.
func (l *ChromedpLauncher) Launch(ctx context.Context) (Session, error) {
	profileDir, err := createProfileDir(l.Config.UserDataDir)
	if err != nil {
		return nil, err
	}
	downloadDir := filepath.Join(profileDir, "downloads")
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		_ = os.RemoveAll(profileDir)
		return nil, fmt.Errorf("cannot create download dir: %w", err)
	}

	// The browser outlives the launch context; Close tears it down.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions(profileDir)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &chromedpSession{
		ctx:         tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		profileDir:  profileDir,
		downloadDir: downloadDir,
		downloads:   newDownloadTracker(),
	}
	chromedp.ListenTarget(tabCtx, s.onEvent)

	// The first Run allocates the browser and must use the tab context itself:
	// a derived context would take the process down when it is canceled.
	stop := context.AfterFunc(ctx, tabCancel)
	err = chromedp.Run(tabCtx, browser.
		SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
		WithDownloadPath(downloadDir).
		WithEventsEnabled(true))
	stop()
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	return s, nil
}

func (s *chromedpSession) onEvent(ev interface{}) {
	switch ev := ev.(type) {
	case *browser.EventDownloadWillBegin:
		s.downloads.begin(ev.GUID, ev.SuggestedFilename)
	case *browser.EventDownloadProgress:
		switch ev.State {
		case browser.DownloadProgressStateCompleted:
			s.downloads.finish(ev.GUID, nil)
		case browser.DownloadProgressStateCanceled:
			s.downloads.finish(ev.GUID, errors.New("download canceled by browser"))
		}
	}
}

// run executes actions on the tab, bounded by timeout (if positive) and by the
// caller's ctx. Canceling the derived context does not close the tab.
func (s *chromedpSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	if timeout > 0 {
		var tcancel context.CancelFunc
		runCtx, tcancel = context.WithTimeout(runCtx, timeout)
		defer tcancel()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return classify(chromedp.Run(runCtx, actions...))
}

func (s *chromedpSession) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, 0, chromedp.Navigate(url))
}

func (s *chromedpSession) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	return s.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (s *chromedpSession) Click(ctx context.Context, target Target, timeout time.Duration) error {
	var action chromedp.Action
	// Click waits for every matched node to be visible; XPath yields at most one.
	if xp := target.XPath(); xp != "" {
		action = chromedp.Click(xp, chromedp.BySearch)
	} else {
		action = chromedp.Click(target.Value, chromedp.ByQuery)
	}
	err := s.run(ctx, timeout, action)
	if errors.Is(err, domain.ErrTimeout) {
		return fmt.Errorf("%w: %s not found within %s", domain.ErrInteraction, target, timeout)
	}
	if err != nil {
		return fmt.Errorf("%w: click %s: %v", domain.ErrInteraction, target, err)
	}
	return nil
}

func (s *chromedpSession) AwaitDownload(ctx context.Context, timeout time.Duration) (Download, error) {
	guid, name, err := s.downloads.wait(ctx, timeout)
	if err != nil {
		return nil, err
	}
	return fileDownload{name: name, path: downloadPath(s.downloadDir, guid)}, nil
}

// Close closes the tab, kills the browser process and deletes the profile.
func (s *chromedpSession) Close() error {
	s.closeOnce.Do(func() {
		s.tabCancel()
		s.allocCancel()
		s.closeErr = os.RemoveAll(s.profileDir)
	})
	return s.closeErr
}
