package chrome

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kdocs2pdf/internal/domain"
	u "kdocs2pdf/internal/utils"
)

func TestTargetXPath(t *testing.T) {
	const fold = `translate(normalize-space(.), "ABCDEFGHIJKLMNOPQRSTUVWXYZ", "abcdefghijklmnopqrstuvwxyz")`
	const textScope = `//body//*[not(self::script or self::style or self::noscript or self::template)]`

	tests := []struct {
		name   string
		target Target
		want   string
	}{
		{"button", Target{Kind: u.StepButton, Value: "文件"}, `(//button[contains(` + fold + `, "文件")])[1]`},
		{"text", Target{Kind: u.StepText, Value: "PDF"}, `(` + textScope + `[text()[contains(` + fold + `, "pdf")]])[1]`},
		{"css has no xpath", Target{Kind: u.StepCSS, Value: "#export"}, ""},
		{"double quote", Target{Kind: u.StepText, Value: `say "hi"`}, `(` + textScope + `[text()[contains(` + fold + `, 'say "hi"')]])[1]`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.target.XPath())
		})
	}
}

func TestTargetXPath_SelectsSingleNode(t *testing.T) {
	for _, kind := range []string{u.StepButton, u.StepText} {
		xp := Target{Kind: kind, Value: "导出"}.XPath()
		assert.True(t, strings.HasPrefix(xp, "("), xp)
		assert.True(t, strings.HasSuffix(xp, ")[1]"), "a click must resolve to one node: %s", xp)
	}
}

func TestTargetXPath_TextSkipsNonRenderedElements(t *testing.T) {
	xp := Target{Kind: u.StepText, Value: "PDF"}.XPath()
	assert.True(t, strings.HasPrefix(xp, "(//body//"), "head and title are outside body")
	for _, tag := range []string{"script", "style", "noscript", "template"} {
		assert.Contains(t, xp, "self::"+tag)
	}
}

func TestTargetXPath_CaseInsensitive(t *testing.T) {
	lower := Target{Kind: u.StepText, Value: "pdf"}.XPath()
	upper := Target{Kind: u.StepText, Value: "PDF"}.XPath()
	assert.Equal(t, lower, upper)
	assert.Equal(t, "导出为 pdf", asciiLower("导出为 PDF"))
	assert.Equal(t, "Éa", asciiLower("ÉA"), "only ASCII letters are folded")
}

func TestXPathLiteral_BothQuotes(t *testing.T) {
	assert.Equal(t, `concat("it's ", '"', "x", '"')`, xpathLiteral(`it's "x"`))
}

func TestTargetFromStep(t *testing.T) {
	tg := TargetFromStep(u.Step{Kind: u.StepText, Value: "导出为"})
	assert.Equal(t, "text=导出为", tg.String())
}

func TestNewLauncher(t *testing.T) {
	l, err := NewLauncher(u.BrowserConfig{Engine: u.EngineChromedp})
	require.NoError(t, err)
	assert.IsType(t, &ChromedpLauncher{}, l)

	l, err = NewLauncher(u.BrowserConfig{Engine: u.EngineRod})
	require.NoError(t, err)
	assert.IsType(t, &RodLauncher{}, l)

	_, err = NewLauncher(u.BrowserConfig{Engine: "selenium"})
	assert.Error(t, err)
}

func TestCreateProfileDir_DefaultAndCustomBase(t *testing.T) {
	dir1, err := createProfileDir("")
	require.NoError(t, err)
	defer os.RemoveAll(dir1)
	_, err = os.Stat(dir1)
	assert.NoError(t, err)

	base := filepath.Join(t.TempDir(), "nested")
	dir2, err := createProfileDir(base)
	require.NoError(t, err)
	assert.Equal(t, base, filepath.Dir(dir2))
}

func TestCreateProfileDir_InvalidBase(t *testing.T) {
	_, err := createProfileDir("/dev/null/x")
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))
	assert.True(t, errors.Is(classify(context.DeadlineExceeded), domain.ErrTimeout))
	other := errors.New("target closed")
	assert.Equal(t, other, classify(other))
}

func TestFileDownload_Open(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guid-1"), []byte("%PDF-1.7"), 0o644))

	d := fileDownload{name: "doc.pdf", path: downloadPath(dir, "guid-1")}
	assert.Equal(t, "doc.pdf", d.Name())
	rc, err := d.Open()
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(b))

	_, err = fileDownload{path: filepath.Join(dir, "missing")}.Open()
	assert.True(t, errors.Is(err, domain.ErrDownload))
}

func TestDownloadTracker_Completed(t *testing.T) {
	tr := newDownloadTracker()
	tr.begin("g1", "report.pdf")
	go tr.finish("g1", nil)

	guid, name, err := tr.wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "g1", guid)
	assert.Equal(t, "report.pdf", name)
}

func TestDownloadTracker_Canceled(t *testing.T) {
	tr := newDownloadTracker()
	tr.finish("g1", errors.New("canceled"))

	_, _, err := tr.wait(context.Background(), time.Second)
	assert.True(t, errors.Is(err, domain.ErrDownload))
}

func TestDownloadTracker_Timeout(t *testing.T) {
	tr := newDownloadTracker()
	_, _, err := tr.wait(context.Background(), 10*time.Millisecond)
	assert.True(t, errors.Is(err, domain.ErrTimeout))
}

func TestDownloadTracker_ContextCanceled(t *testing.T) {
	tr := newDownloadTracker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := tr.wait(ctx, time.Second)
	assert.True(t, errors.Is(err, domain.ErrTimeout))
}

func TestDownloadTracker_FinishDoesNotBlock(t *testing.T) {
	tr := newDownloadTracker()
	for i := 0; i < 10; i++ {
		tr.finish("g", nil)
	}
}

func TestChromedpLaunch_ErrorWhenBinaryMissing(t *testing.T) {
	base := t.TempDir()
	l := &ChromedpLauncher{Config: u.BrowserConfig{
		ChromePath:  "/definitely/missing/chrome",
		UserDataDir: base,
	}}

	_, err := l.Launch(context.Background())
	require.Error(t, err)

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.Empty(t, entries, "profile dir must be removed after a failed launch")
}
