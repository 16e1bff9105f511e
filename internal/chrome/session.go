// Package chrome drives a headless browser through the narrow set of actions
// a document export needs. Two engines are available, chromedp and go-rod;
// both hand out one isolated browser process per Session.
package chrome

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kdocs2pdf/internal/domain"
	u "kdocs2pdf/internal/utils"
)

// Launcher starts isolated browser sessions.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// Session is one browser process with one page. Close must be called exactly
// once and releases the process and its profile directory.
type Session interface {
	Navigate(ctx context.Context, url string) error
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	Click(ctx context.Context, target Target, timeout time.Duration) error
	// AwaitDownload blocks until a download started by a previous action has
	// completed, or timeout elapses.
	AwaitDownload(ctx context.Context, timeout time.Duration) (Download, error)
	Close() error
}

// Download is a completed browser download.
type Download interface {
	Name() string
	Open() (io.ReadCloser, error)
}

// Target locates a clickable element.
type Target struct {
	Kind  string
	Value string
}

// TargetFromStep converts a configured step.
func TargetFromStep(s u.Step) Target {
	return Target{Kind: s.Kind, Value: s.Value}
}

func (t Target) String() string {
	return t.Kind + "=" + t.Value
}

const (
	upperASCII = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerASCII = "abcdefghijklmnopqrstuvwxyz"
)

// XPath returns an XPath expression for text-based targets. CSS targets have
// no XPath form and return "".
//
// The expression selects at most one node: the first match in document order.
// Matching is a case-insensitive (ASCII) substring test on the element's
// normalized text. Text targets only consider elements under body that carry
// their own text node, skipping script, style, noscript and template.
func (t Target) XPath() string {
	lit := xpathLiteral(asciiLower(t.Value))
	text := fmt.Sprintf(`contains(translate(normalize-space(.), "%s", "%s"), %s)`, upperASCII, lowerASCII, lit)
	switch t.Kind {
	case u.StepButton:
		return fmt.Sprintf(`(//button[%s])[1]`, text)
	case u.StepText:
		return fmt.Sprintf(`(//body//*[not(self::script or self::style or self::noscript or self::template)][text()[%s]])[1]`, text)
	default:
		return ""
	}
}

// asciiLower lowers A-Z only, matching what XPath translate() does with
// upperASCII and lowerASCII.
func asciiLower(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, s)
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, `'`) {
		return `'` + s + `'`
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		if p != "" {
			quoted = append(quoted, `"`+p+`"`)
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}

// NewLauncher builds the launcher for the configured engine.
func NewLauncher(cfg u.BrowserConfig) (Launcher, error) {
	switch cfg.Engine {
	case u.EngineChromedp, "":
		return &ChromedpLauncher{Config: cfg}, nil
	case u.EngineRod:
		return &RodLauncher{Config: cfg}, nil
	default:
		return nil, fmt.Errorf("unknown browser engine %q", cfg.Engine)
	}
}

// createProfileDir makes a throwaway profile directory, under base if set.
func createProfileDir(base string) (string, error) {
	if base != "" {
		if err := os.MkdirAll(base, 0o755); err != nil {
			return "", fmt.Errorf("cannot create profile base dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(base, "kdocs2pdf-profile-*")
	if err != nil {
		return "", fmt.Errorf("cannot create temp profile dir: %w", err)
	}
	return dir, nil
}

// classify maps engine errors onto domain sentinels.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	default:
		return err
	}
}

// fileDownload is a finished download on disk.
type fileDownload struct {
	name string
	path string
}

func (d fileDownload) Name() string { return d.name }

func (d fileDownload) Open() (io.ReadCloser, error) {
	f, err := os.Open(d.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDownload, err)
	}
	return f, nil
}

func downloadPath(dir, guid string) string {
	return filepath.Join(dir, guid)
}
