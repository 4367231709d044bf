package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/tabwise/internal/config"
	"github.com/hyperjump/tabwise/internal/embedding"
	"github.com/hyperjump/tabwise/internal/models"
	"github.com/hyperjump/tabwise/internal/server"
	"github.com/hyperjump/tabwise/internal/storage"
)

func TestSearchArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"memory model", "-mode", "hybrid"},
			expected: []string{"-mode", "hybrid", "memory model"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-mode", "hybrid", "memory model"},
			expected: []string{"-mode", "hybrid", "memory model"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"memory model"},
			expected: []string{"memory model"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "url and title then flags",
			args:     []string{"https://go.dev", "Go", "-project", "5"},
			expected: []string{"-project", "5", "https://go.dev", "Go"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := searchArgsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("searchArgsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"generics"}, "generics"},
		{"multiple words", []string{"go", "generics"}, "go generics"},
		{"single quoted phrase", []string{"go generics"}, "go generics"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildSearchQuery(tt.args)
			if got != tt.expected {
				t.Errorf("buildSearchQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
storage:
  database_path: "./test.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	chdir(t, dir)

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolvedCanon, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_builtinDefaultsWhenNoFile(t *testing.T) {
	if _, err := os.Stat(defaultConfigPath); err == nil {
		t.Skip("a system config exists at the default path")
	}
	chdir(t, t.TempDir())
	t.Setenv(config.EnvServerPort, "9191")

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != "" {
		t.Errorf("resolved path = %q, want empty", resolved)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("port = %d, want env override 9191", cfg.Server.Port)
	}
	if cfg.Expiry.TTL == 0 || cfg.Embedding.Dimensions == 0 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.DatabasePath = filepath.Join(dir, "tabwise.db")
	cfg.Storage.VectorIndexPath = filepath.Join(dir, "vectors.idx")
	cfg.Embedding.Provider = embedding.ProviderMock
	cfg.Embedding.Dimensions = 16
	return cfg
}

func TestInitializeComponents_lockAndSnapshot(t *testing.T) {
	cfg := testConfig(t)
	c, err := initializeComponents(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := initializeComponents(cfg, zap.NewNop()); !errors.Is(err, storage.ErrLocked) {
		t.Errorf("second open: got %v, want ErrLocked", err)
	}

	ctx := context.Background()
	if _, err := c.Engine.SaveObservation(ctx, &models.SaveRequest{Title: "Go", URL: "https://go.dev"}); err != nil {
		t.Fatal(err)
	}
	c.Close()
	if _, err := os.Stat(cfg.Storage.VectorIndexPath); err != nil {
		t.Errorf("snapshot not written: %v", err)
	}

	c, err = initializeComponents(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
	defer c.Close()
	st, err := c.Engine.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Observations != 1 || st.IndexedVectors != 1 {
		t.Errorf("status after reopen: %+v", st)
	}
}

func TestAPICall(t *testing.T) {
	cfg := testConfig(t)
	c, err := initializeComponents(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ts := httptest.NewServer(server.NewServer(c.Engine, cfg, zap.NewNop()).Handler())
	defer ts.Close()

	var res models.SaveResult
	req := models.SaveRequest{Title: "SQLite WAL", URL: "https://sqlite.org/wal.html"}
	if err := apiCall(http.MethodPost, ts.URL, "/api/v1/observations", req, &res); err != nil {
		t.Fatal(err)
	}
	if res.Status != models.StatusCreated {
		t.Errorf("status = %q", res.Status)
	}

	var resp models.SearchResponse
	if err := apiCall(http.MethodPost, ts.URL, "/api/v1/search", models.SearchQuery{Query: "wal"}, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 {
		t.Errorf("total = %d, want 1", resp.Total)
	}

	err = apiCall(http.MethodGet, ts.URL, "/api/v1/observations/1", nil, &models.Observation{})
	if err == nil {
		t.Error("expected an error for an unknown id")
	}
}
