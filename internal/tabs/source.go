// Package tabs enumerates open browser tabs.
package tabs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/hyperjump/tabwise/internal/models"
)

// Source lists the tabs currently open.
type Source interface {
	ListOpenTabs(ctx context.Context) ([]models.Tab, error)
}

// Source types accepted by NewSource.
const (
	TypeChrome = "chrome"
	TypeFile   = "file"
	TypeStatic = "static"
)

// NewSource returns the source for typ. path is used by the file source.
func NewSource(typ, path string) (Source, error) {
	switch typ {
	case TypeChrome, "":
		return NewChromeSource(), nil
	case TypeFile:
		if path == "" {
			return nil, fmt.Errorf("file tab source requires a path")
		}
		return NewFileSource(path), nil
	case TypeStatic:
		return NewStaticSource(nil), nil
	default:
		return nil, fmt.Errorf("unknown tab source type: %s", typ)
	}
}

// StaticSource returns a fixed list of tabs.
type StaticSource struct {
	tabs []models.Tab
}

// NewStaticSource returns a source that always lists tabs.
func NewStaticSource(tabs []models.Tab) *StaticSource {
	return &StaticSource{tabs: tabs}
}

func (s *StaticSource) ListOpenTabs(ctx context.Context) ([]models.Tab, error) {
	out := make([]models.Tab, len(s.tabs))
	copy(out, s.tabs)
	return out, nil
}

// FileSource reads tabs from a JSON file holding an array of {"title","url"} objects.
// A browser extension or script keeps the file current.
type FileSource struct {
	path string
}

// NewFileSource returns a source reading path on every call.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Path returns the file the source reads.
func (s *FileSource) Path() string {
	return s.path
}

func (s *FileSource) ListOpenTabs(ctx context.Context) ([]models.Tab, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read tab file: %w", err)
	}
	return ParseTabs(data)
}

// ParseTabs decodes a JSON array of tabs. Blank input is an empty list.
func ParseTabs(data []byte) ([]models.Tab, error) {
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}
	var tabs []models.Tab
	if err := json.Unmarshal(data, &tabs); err != nil {
		return nil, fmt.Errorf("malformed tab list: %w", err)
	}
	return tabs, nil
}

// chromeScript is JavaScript for Automation; it prints every Chrome tab as JSON.
const chromeScript = `
var chrome = Application("Google Chrome");
var out = [];
if (chrome.running()) {
  chrome.windows().forEach(function (w) {
    w.tabs().forEach(function (t) { out.push({title: t.title(), url: t.url()}); });
  });
}
JSON.stringify(out);
`

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// ChromeSource lists Google Chrome tabs through osascript (macOS only).
type ChromeSource struct {
	run Runner
}

// NewChromeSource returns a Chrome source that shells out to osascript.
func NewChromeSource() *ChromeSource {
	return &ChromeSource{run: execRunner}
}

// NewChromeSourceWithRunner returns a Chrome source that executes through run.
func NewChromeSourceWithRunner(run Runner) *ChromeSource {
	return &ChromeSource{run: run}
}

func (s *ChromeSource) ListOpenTabs(ctx context.Context) ([]models.Tab, error) {
	out, err := s.run(ctx, "osascript", "-l", "JavaScript", "-e", chromeScript)
	if err != nil {
		return nil, fmt.Errorf("osascript: %w", err)
	}
	return ParseTabs(out)
}
