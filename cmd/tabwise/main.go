// Package main is the tabwise CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/tabwise/internal/cli"
	"github.com/hyperjump/tabwise/internal/config"
	"github.com/hyperjump/tabwise/internal/embedding"
	"github.com/hyperjump/tabwise/internal/engine"
	"github.com/hyperjump/tabwise/internal/expiry"
	"github.com/hyperjump/tabwise/internal/export"
	"github.com/hyperjump/tabwise/internal/keyword"
	"github.com/hyperjump/tabwise/internal/models"
	"github.com/hyperjump/tabwise/internal/prompt"
	"github.com/hyperjump/tabwise/internal/reconcile"
	"github.com/hyperjump/tabwise/internal/server"
	"github.com/hyperjump/tabwise/internal/storage"
	"github.com/hyperjump/tabwise/internal/tabs"
	"github.com/hyperjump/tabwise/internal/vector"
	"github.com/hyperjump/tabwise/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/tabwise/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development). When the default file does not
// exist either, built-in defaults plus TABWISE_* overrides are used.
// Returns the config and the path that was actually loaded ("" for built-in defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			cfg := &config.Config{}
			if err := config.ApplyEnv(cfg); err != nil {
				return nil, "", err
			}
			config.ApplyDefaults(cfg)
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "save":
		runSave()
	case "search":
		runSearch()
	case "route":
		runMatch("route", "/api/v1/route")
	case "merge":
		runMatch("merge", "/api/v1/merge-suggestion")
	case "sweep":
		runSweep()
	case "projects":
		runProjects()
	case "status":
		runStatus()
	case "reconcile":
		runReconcile()
	case "check":
		runCheck()
	case "export":
		runExport()
	case "version", "--version", "-v":
		fmt.Printf("tabwise version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func parseFormat(s string) cli.OutputFormat {
	switch s {
	case "json":
		return cli.OutputJSON
	case "text":
		return cli.OutputText
	default:
		fatalf("Unknown output format %q; use text or json", s)
		return cli.OutputText
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (reconcile cycles, requests, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	sweeper := expiry.New(components.Engine, cfg.Expiry.TTL, logger)
	sweeper.Start(bgCtx, cfg.Expiry.SweepInterval)
	defer sweeper.Stop()

	srvOpts := []server.Option{server.WithSweeper(sweeper)}
	if cfg.Reconcile.Enabled {
		loop, err := newReconcileLoop(cfg, components.Engine, logger, cfg.Reconcile.Interactive)
		if err != nil {
			logger.Fatal("Failed to create reconcile loop", zap.Error(err))
		}
		if err := loop.Start(bgCtx); err != nil {
			logger.Fatal("Failed to start reconcile loop", zap.Error(err))
		}
		defer loop.Stop()
		srvOpts = append(srvOpts, server.WithReconciler(loop))

		if ts := cfg.Reconcile.TabSource; ts.Type == tabs.TypeFile && ts.Watch {
			fw := tabs.NewFileWatcher(ts.Path, loop.Trigger, tabs.WithLogger(logger))
			if err := fw.Start(bgCtx); err != nil {
				logger.Fatal("Failed to watch tab file", zap.String("path", ts.Path), zap.Error(err))
			}
			defer fw.Stop()
		}
	}

	srv := server.NewServer(components.Engine, cfg, logger, srvOpts...)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
	bgCancel()
}

// newReconcileLoop builds the loop over the configured tab source. interactive attaches a
// terminal prompter on stdin/stdout that can also create projects.
func newReconcileLoop(cfg *config.Config, eng *engine.Engine, logger *zap.Logger, interactive bool) (*reconcile.Loop, error) {
	source, err := tabs.NewSource(cfg.Reconcile.TabSource.Type, cfg.Reconcile.TabSource.Path)
	if err != nil {
		return nil, err
	}
	opts := []reconcile.Option{
		reconcile.WithLogger(logger),
		reconcile.WithInterval(cfg.Reconcile.Interval),
		reconcile.WithPromptTimeout(cfg.Reconcile.PromptTimeout),
	}
	if interactive {
		create := func(ctx context.Context, name string) (int64, error) {
			p, err := eng.CreateProject(ctx, &models.ProjectInput{Name: name})
			if err != nil {
				return 0, err
			}
			return p.ID, nil
		}
		term := prompt.NewTerminal(os.Stdin, os.Stdout,
			prompt.WithTimeout(cfg.Reconcile.PromptTimeout),
			prompt.WithCreate(create))
		opts = append(opts, reconcile.WithPrompter(term))
	}
	return reconcile.New(eng, source, opts...), nil
}

// openDirect loads config and opens every component for a one-shot command.
// The returned func releases them.
func openDirect(configPath string) (*Components, *config.Config, func()) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		fatalf("Failed to initialize: %v", err)
	}
	return components, cfg, func() {
		components.Close()
		_ = logger.Sync()
	}
}

// apiCall sends body as JSON to serverURL+path and decodes a 2xx JSON response into out.
func apiCall(method, serverURL, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, serverURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func runSave() {
	fs := flag.NewFlagSet("save", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	projectID := fs.Int64("project", 0, "assign to this project id (0 = unassigned)")
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	if fs.NArg() < 2 {
		fmt.Println("Usage: tabwise save [flags] <url> <title...>")
		os.Exit(1)
	}
	req := &models.SaveRequest{URL: fs.Arg(0), Title: buildSearchQuery(fs.Args()[1:])}
	if *projectID != 0 {
		req.ProjectID = projectID
	}

	var res models.SaveResult
	if *serverURL != "" {
		if err := apiCall(http.MethodPost, *serverURL, "/api/v1/observations", req, &res); err != nil {
			fatalf("Save failed: %v", err)
		}
	} else {
		components, _, done := openDirect(*configPath)
		defer done()
		out, err := components.Engine.SaveObservation(context.Background(), req)
		if err != nil {
			done()
			fatalf("Save failed: %v", err)
		}
		res = *out
	}
	fmt.Printf("%s: %d\n", res.Status, res.ID)
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: tabwise search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  tabwise search rust borrow checker
  tabwise search --mode keyword "go.dev"
  tabwise search --mode hybrid --limit 10 --output json sqlite wal
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the positional
// arguments to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage when server is not running)")
	limit := fs.Int("limit", 0, "number of results (0 = config default)")
	mode := fs.String("mode", string(models.ModeSemantic), "search mode: semantic, keyword, or hybrid")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)
	query := &models.SearchQuery{Query: queryStr, TopK: *limit, Mode: models.SearchMode(*mode)}

	var response *models.SearchResponse
	if *serverURL != "" {
		// HTTP avoids contending with the server for the data lock.
		response = &models.SearchResponse{}
		if err := apiCall(http.MethodPost, *serverURL, "/api/v1/search", query, response); err != nil {
			fatalf("Search failed: %v", err)
		}
	} else {
		components, cfg, done := openDirect(*configPath)
		defer done()
		if err := query.Validate(cfg.Search.DefaultLimit, cfg.Search.MaxLimit); err != nil {
			done()
			fatalf("Invalid query: %v", err)
		}
		var err error
		response, err = components.Engine.Search(context.Background(), query)
		if err != nil {
			done()
			fatalf("Search failed: %v", err)
		}
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

// runMatch implements route and merge: both take a url and a title and print an Assignment.
func runMatch(name, path string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	if fs.NArg() < 2 {
		fmt.Printf("Usage: tabwise %s [flags] <url> <title...>\n", name)
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)
	q := models.TabQuery{URL: fs.Arg(0), Title: buildSearchQuery(fs.Args()[1:])}

	a := &models.Assignment{}
	if *serverURL != "" {
		if err := apiCall(http.MethodPost, *serverURL, path, q, a); err != nil {
			fatalf("%s failed: %v", name, err)
		}
	} else {
		components, _, done := openDirect(*configPath)
		defer done()
		var err error
		if name == "route" {
			a, err = components.Engine.RouteToProject(context.Background(), q.Title, q.URL)
		} else {
			a, err = components.Engine.SuggestMerge(context.Background(), q.Title, q.URL)
		}
		if err != nil {
			done()
			fatalf("%s failed: %v", name, err)
		}
	}
	if err := cli.WriteAssignment(os.Stdout, name, a, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runSweep() {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	ttl := fs.Duration("ttl", 0, "maximum observation age (0 = config expiry.ttl)")
	_ = fs.Parse(os.Args[2:])

	var removed int
	if *serverURL != "" {
		body := map[string]string{}
		if *ttl > 0 {
			body["ttl"] = ttl.String()
		}
		var out struct {
			Removed int `json:"removed"`
		}
		if err := apiCall(http.MethodPost, *serverURL, "/api/v1/sweep", body, &out); err != nil {
			fatalf("Sweep failed: %v", err)
		}
		removed = out.Removed
	} else {
		components, cfg, done := openDirect(*configPath)
		defer done()
		d := cfg.Expiry.TTL
		if *ttl > 0 {
			d = *ttl
		}
		var err error
		removed, err = components.Engine.SweepExpired(context.Background(), d)
		if err != nil {
			done()
			fatalf("Sweep failed: %v", err)
		}
	}
	fmt.Printf("Removed %d expired observation(s)\n", removed)
}

func runProjects() {
	sub := "list"
	args := os.Args[2:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub, args = args[0], args[1:]
	}
	fs := flag.NewFlagSet("projects", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	description := fs.String("description", "", "project description (create)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(searchArgsReorder(args))
	format := parseFormat(*outputFormat)

	switch sub {
	case "list":
		var projects []*models.Project
		if *serverURL != "" {
			var out struct {
				Projects []*models.Project `json:"projects"`
			}
			if err := apiCall(http.MethodGet, *serverURL, "/api/v1/projects", nil, &out); err != nil {
				fatalf("List failed: %v", err)
			}
			projects = out.Projects
		} else {
			components, _, done := openDirect(*configPath)
			defer done()
			var err error
			projects, err = components.Engine.ListProjects(context.Background())
			if err != nil {
				done()
				fatalf("List failed: %v", err)
			}
		}
		if err := cli.WriteProjects(os.Stdout, projects, format); err != nil {
			fatalf("Output failed: %v", err)
		}
	case "create":
		name := buildSearchQuery(fs.Args())
		if name == "" {
			fmt.Println("Usage: tabwise projects create [--description text] <name...>")
			os.Exit(1)
		}
		in := &models.ProjectInput{Name: name, Description: *description}
		p := &models.Project{}
		if *serverURL != "" {
			if err := apiCall(http.MethodPost, *serverURL, "/api/v1/projects", in, p); err != nil {
				fatalf("Create failed: %v", err)
			}
		} else {
			components, _, done := openDirect(*configPath)
			defer done()
			var err error
			p, err = components.Engine.CreateProject(context.Background(), in)
			if err != nil {
				done()
				fatalf("Create failed: %v", err)
			}
		}
		fmt.Printf("Created project %d: %s\n", p.ID, p.Name)
	default:
		fmt.Printf("Unknown projects subcommand: %s\n", sub)
		os.Exit(1)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	var st *engine.Status
	if *serverURL != "" {
		var out struct {
			Engine *engine.Status `json:"engine"`
		}
		if err := apiCall(http.MethodGet, *serverURL, "/api/v1/status", nil, &out); err != nil {
			fatalf("Status failed: %v", err)
		}
		st = out.Engine
	} else {
		components, _, done := openDirect(*configPath)
		defer done()
		var err error
		st, err = components.Engine.Status(context.Background())
		if err != nil {
			done()
			fatalf("Status failed: %v", err)
		}
	}
	if st == nil {
		fatalf("Status failed: empty response")
	}
	if err := cli.WriteStatus(os.Stdout, st, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runReconcile() {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = run one cycle against direct storage)")
	interactive := fs.Bool("interactive", false, "prompt for a project per new tab (direct mode only)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	report := &reconcile.CycleReport{}
	if *serverURL != "" {
		if err := apiCall(http.MethodPost, *serverURL, "/api/v1/reconcile", nil, report); err != nil {
			fatalf("Reconcile failed: %v", err)
		}
	} else {
		components, cfg, done := openDirect(*configPath)
		defer done()
		loop, err := newReconcileLoop(cfg, components.Engine, utils.OrNop(components.Logger), *interactive)
		if err != nil {
			done()
			fatalf("Reconcile failed: %v", err)
		}
		report, err = loop.RunCycle(context.Background())
		if err != nil {
			done()
			fatalf("Reconcile failed: %v", err)
		}
	}
	if err := cli.WriteCycleReport(os.Stdout, report, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runCheck() {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	repair := fs.Bool("repair", false, "rebuild the vector index when it disagrees with the store")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	var report *engine.ConsistencyReport
	if *serverURL != "" {
		if *repair {
			var out struct {
				Before *engine.ConsistencyReport `json:"before"`
			}
			if err := apiCall(http.MethodPost, *serverURL, "/api/v1/consistency/repair", nil, &out); err != nil {
				fatalf("Repair failed: %v", err)
			}
			report = out.Before
		} else {
			var out struct {
				Report *engine.ConsistencyReport `json:"report"`
			}
			if err := apiCall(http.MethodGet, *serverURL, "/api/v1/consistency", nil, &out); err != nil {
				fatalf("Check failed: %v", err)
			}
			report = out.Report
		}
	} else {
		components, _, done := openDirect(*configPath)
		defer done()
		var err error
		if *repair {
			report, err = components.Engine.Repair(context.Background())
		} else {
			report, err = components.Engine.CheckConsistency(context.Background())
		}
		if report == nil || (*repair && err != nil) {
			done()
			fatalf("Check failed: %v", err)
		}
	}
	if report == nil {
		fatalf("Check failed: empty response")
	}
	if err := cli.WriteConsistency(os.Stdout, report, format); err != nil {
		fatalf("Output failed: %v", err)
	}
	if *repair && !report.OK() {
		fmt.Println("index rebuilt from store")
	}
}

func runExport() {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	outPath := fs.String("out", "", "output file (default project-<id>-research.xlsx)")
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: tabwise export [flags] <project-id>")
		os.Exit(1)
	}
	id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		fatalf("Invalid project id: %s", fs.Arg(0))
	}

	research := &models.ProjectResearch{}
	if *serverURL != "" {
		if err := apiCall(http.MethodGet, *serverURL, fmt.Sprintf("/api/v1/projects/%d/research", id), nil, research); err != nil {
			fatalf("Export failed: %v", err)
		}
	} else {
		components, _, done := openDirect(*configPath)
		defer done()
		research, err = components.Engine.ProjectResearch(context.Background(), id)
		if err != nil {
			done()
			fatalf("Export failed: %v", err)
		}
	}

	path := *outPath
	if path == "" {
		path = export.Filename(research.Project)
	}
	f, err := os.Create(path)
	if err != nil {
		fatalf("Export failed: %v", err)
	}
	if err := export.WriteProjectXLSX(f, research); err != nil {
		_ = f.Close()
		fatalf("Export failed: %v", err)
	}
	if err := f.Close(); err != nil {
		fatalf("Export failed: %v", err)
	}
	fmt.Printf("Exported %d observation(s) to %s\n", len(research.Observations), path)
}

// Components holds initialized services.
type Components struct {
	Storage      storage.Storage
	Lock         *storage.Lock
	Embedder     embedding.Embedder
	VectorIndex  vector.VectorIndex
	KeywordIndex keyword.KeywordIndex
	Engine       *engine.Engine
	Logger       *zap.Logger

	snapshotPath string
}

// Close saves the vector snapshot and releases every component.
func (c *Components) Close() {
	if c.Engine != nil {
		if err := c.Engine.SaveSnapshot(c.snapshotPath); err != nil && c.Logger != nil {
			c.Logger.Warn("vector snapshot save failed", zap.String("path", c.snapshotPath), zap.Error(err))
		}
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.VectorIndex != nil {
		_ = c.VectorIndex.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	_ = c.Lock.Release()
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	lock, err := storage.AcquireLock(cfg.Storage.DatabasePath)
	if err != nil {
		if errors.Is(err, storage.ErrLocked) {
			return nil, fmt.Errorf("%w (is the server running? use --server)", err)
		}
		return nil, err
	}
	c := &Components{Lock: lock, Logger: logger, snapshotPath: cfg.Storage.VectorIndexPath}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store

	embedder, err := embedding.New(embedding.Options{
		Provider:    cfg.Embedding.Provider,
		Dimensions:  cfg.Embedding.Dimensions,
		ModelPath:   cfg.Embedding.ModelPath,
		MaxTokens:   cfg.Embedding.MaxTokens,
		CacheSize:   cfg.Embedding.CacheSize,
		OllamaHost:  cfg.Embedding.OllamaHost,
		OllamaModel: cfg.Embedding.OllamaModel,
		Timeout:     cfg.Embedding.Timeout,
	})
	if err != nil {
		logger.Warn("embedding provider unavailable, falling back to mock",
			zap.String("provider", cfg.Embedding.Provider),
			zap.Error(err))
		embedder = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	}
	c.Embedder = embedder

	vectorIndex, err := vector.NewVectorIndex(cfg.Vector.IndexType, cfg.Embedding.Dimensions)
	if err != nil {
		// Fall back to memory index if configured type fails (e.g., FAISS not available)
		if cfg.Vector.IndexType != string(vector.IndexTypeMemory) && cfg.Vector.IndexType != "" {
			logger.Warn("failed to create vector index, falling back to memory",
				zap.String("requested_type", cfg.Vector.IndexType),
				zap.Error(err))
			vectorIndex, err = vector.NewVectorIndex(string(vector.IndexTypeMemory), cfg.Embedding.Dimensions)
		}
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize vector index: %w", err)
		}
	}
	c.VectorIndex = vectorIndex
	logger.Info("vector index initialized",
		zap.String("type", vectorIndex.Type()),
		zap.Bool("faiss_available", vector.IsFAISSAvailable()))

	keywordIndex, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	c.KeywordIndex = keywordIndex

	eng, err := engine.New(store, vectorIndex, embedder,
		engine.WithLogger(logger),
		engine.WithKeywordIndex(keywordIndex),
		engine.WithThresholds(cfg.Matching.RoutingThreshold, cfg.Matching.OverlapThreshold),
	)
	if err != nil {
		c.Close()
		return nil, err
	}
	if err := eng.Start(context.Background(), cfg.Storage.VectorIndexPath); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to prepare indices: %w", err)
	}
	c.Engine = eng
	return c, nil
}

func printUsage() {
	fmt.Println(`tabwise - Browser research memory with project routing

Usage:
  tabwise server [flags]                   Start the HTTP server, reconcile loop and expiry sweeper
  tabwise save [flags] <url> <title>       Save one observation
  tabwise search [flags] <query>           Search saved observations
  tabwise route [flags] <url> <title>      Suggest a project for a tab
  tabwise merge [flags] <url> <title>      Suggest a project from overlapping research
  tabwise sweep [flags]                    Remove expired observations
  tabwise projects [list|create] [flags]   List or create projects
  tabwise status [flags]                   Show store and index counts
  tabwise reconcile [flags]                Run one reconciliation cycle
  tabwise check [flags]                    Verify the vector index against the store
  tabwise export [flags] <project-id>      Export project research to XLSX
  tabwise version                          Show version
  tabwise help                             Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/tabwise/config.yaml)
  --server string    Server URL (default: http://localhost:8080). Use --server "" for direct storage.
  --output string    Output format: text or json (default: text)

Server Flags:
  --debug            Enable debug logging

Search Flags:
  --limit int        Number of results (default from config)
  --mode string      semantic, keyword, or hybrid (default: semantic)

Examples:
  tabwise server
  tabwise save https://go.dev/ref/mem "The Go Memory Model"
  tabwise search --mode hybrid memory model
  tabwise projects create --description "compiler internals" compilers
  tabwise route https://llvm.org "LLVM"
  tabwise sweep --ttl 24h
  tabwise reconcile --server "" --interactive
  tabwise check --repair
  tabwise export --out compilers.xlsx 3`)
}
