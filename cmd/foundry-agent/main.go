package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/foundryhq/foundry-agent/internal/agent"
	"github.com/foundryhq/foundry-agent/internal/config"
	"github.com/foundryhq/foundry-agent/internal/orch"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
	// BuildTime is set via -ldflags at build time.
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "init":
		initCmd(os.Args[2:])
	case "run":
		runCmd(os.Args[2:])
	case "status":
		statusCmd(os.Args[2:])
	case "history":
		historyCmd(os.Args[2:])
	case "secret":
		secretCmd(os.Args[2:])
	case "version":
		fmt.Printf("foundry-agent %s (%s) %s\n", Version, Commit, BuildTime)
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `foundry-agent

Usage:
  foundry-agent init [flags]
  foundry-agent run [flags]
  foundry-agent status [flags]
  foundry-agent history [flags]
  foundry-agent secret set|clear [flags]
  foundry-agent version

Commands:
  init        Write a starter config file.
  run         Delegate one or more tasks to sub-agent workers and wait for results.
  status      Print agent and host status.
  history     Print recent task results from the ledger.
  secret      Store or clear a provider API key.
  version     Print build information.

`)
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	format := ""
	if cfg != nil {
		format = strings.TrimSpace(cfg.LogFormat)
		switch strings.TrimSpace(cfg.LogLevel) {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	if format == "" {
		// Human-facing by default on a TTY, machine-parsable otherwise.
		if isTerminalWriter(os.Stderr) {
			format = "text"
		} else {
			format = "json"
		}
	}
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func initCmd(args []string) {
	fs := newFlagSet("init")
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	force := fs.Bool("force", false, "Overwrite an existing config")
	_ = fs.Parse(args)

	path := filepath.Clean(*cfgPath)
	if !*force {
		if _, err := os.Stat(path); err == nil {
			fatalf("config already exists at %s (use -force to overwrite)", path)
		}
	}

	cfg := &config.Config{
		LogFormat: "text",
		LogLevel:  "info",
		Providers: []config.Provider{
			{
				ID:   "anthropic_main",
				Name: "Anthropic",
				Type: config.ProviderTypeAnthropic,
				Models: []config.Model{
					{ModelName: "claude-sonnet-4-5", IsDefault: true},
					{ModelName: "claude-haiku-4-5"},
				},
			},
		},
	}
	if err := config.Save(path, cfg); err != nil {
		fatalf("write config: %v", err)
	}
	fmt.Printf("Config written: %s\n", path)
	fmt.Printf("Next: foundry-agent secret set -provider anthropic_main\n")
}

type taskFlags []string

func (t *taskFlags) String() string { return strings.Join(*t, "; ") }
func (t *taskFlags) Set(v string) error {
	*t = append(*t, v)
	return nil
}

func runCmd(args []string) {
	fs := newFlagSet("run")
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	workerName := fs.String("worker", "worker-1", "Worker name")
	purpose := fs.String("purpose", "", "Worker purpose/specialty")
	model := fs.String("model", "", "Model reference (provider_id/model_name or bare model name)")
	timeout := fs.Duration("timeout", 10*time.Minute, "Per-run wait timeout")
	asJSON := fs.Bool("json", false, "Print results as JSON")
	var tasks taskFlags
	fs.Var(&tasks, "task", "Task description (repeatable)")
	_ = fs.Parse(args)

	if len(tasks) == 0 {
		fs.Usage()
		fatalf("at least one -task is required")
	}

	cfg, err := config.Load(filepath.Clean(*cfgPath))
	if err != nil {
		fatalf("load config: %v", err)
	}
	log := newLogger(cfg)

	a, err := agent.New(agent.Options{
		Log:        log,
		ConfigPath: filepath.Clean(*cfgPath),
		Config:     cfg,
		Version:    Version,
		Commit:     Commit,
		BuildTime:  BuildTime,
	})
	if err != nil {
		fatalf("init agent: %v", err)
	}
	defer a.Close()

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
		a.Close()
	}()

	w, err := a.Engine().CreateWorker(*workerName, *purpose, orch.WorkerOptions{Model: *model})
	if err != nil {
		fatalf("create worker: %v", err)
	}

	taskIDs := make([]string, 0, len(tasks))
	for _, desc := range tasks {
		// One worker runs one task at a time; wait for the previous hand-off.
		if len(taskIDs) > 0 {
			if !a.Engine().WaitOne(taskIDs[len(taskIDs)-1], *timeout) {
				fatalf("task %s timed out", taskIDs[len(taskIDs)-1])
			}
		}
		id, err := a.Engine().HandOff(w.ID, desc, nil)
		if err != nil {
			fatalf("hand off: %v", err)
		}
		taskIDs = append(taskIDs, id)
	}

	results := a.Engine().WaitAll(taskIDs, *timeout)
	if ctx.Err() != nil {
		os.Exit(1)
	}
	if len(results) < len(taskIDs) {
		fmt.Fprintf(os.Stderr, "%d of %d tasks still pending at timeout\n", len(taskIDs)-len(results), len(taskIDs))
	}

	failed := false
	for _, res := range results {
		if !res.Success {
			failed = true
		}
		printResult(os.Stdout, res, *asJSON)
	}
	if failed || len(results) < len(taskIDs) {
		os.Exit(1)
	}
}

func statusCmd(args []string) {
	fs := newFlagSet("status")
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	asJSON := fs.Bool("json", false, "Print status as JSON")
	_ = fs.Parse(args)

	a, err := agent.New(agent.Options{
		Log:        newLogger(nil),
		ConfigPath: filepath.Clean(*cfgPath),
		Version:    Version,
		Commit:     Commit,
		BuildTime:  BuildTime,
		SkipLock:   true,
	})
	if err != nil {
		fatalf("init agent: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := a.Status(ctx)
	if err != nil {
		fatalf("status: %v", err)
	}
	printStatus(os.Stdout, st, *asJSON)
}

func historyCmd(args []string) {
	fs := newFlagSet("history")
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	limit := fs.Int("limit", 20, "Max results to print")
	taskID := fs.String("task", "", "Print one task's full result")
	asJSON := fs.Bool("json", false, "Print as JSON")
	_ = fs.Parse(args)

	a, err := agent.New(agent.Options{
		Log:        newLogger(nil),
		ConfigPath: filepath.Clean(*cfgPath),
		SkipLock:   true,
	})
	if err != nil {
		fatalf("init agent: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if id := strings.TrimSpace(*taskID); id != "" {
		row, ok, err := a.TaskHistory(ctx, id)
		if err != nil {
			fatalf("history: %v", err)
		}
		if !ok {
			fatalf("no result for %s", id)
		}
		printHistoryRow(os.Stdout, row, true, *asJSON)
		return
	}

	rows, err := a.History(ctx, *limit, 0)
	if err != nil {
		fatalf("history: %v", err)
	}
	for _, row := range rows {
		printHistoryRow(os.Stdout, row, false, *asJSON)
	}
}

func secretCmd(args []string) {
	if len(args) < 1 {
		fatalf("usage: foundry-agent secret set|clear -provider <id>")
	}
	verb := args[0]
	fs := newFlagSet("secret " + verb)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	providerID := fs.String("provider", "", "Provider id from the config file")
	_ = fs.Parse(args[1:])

	if strings.TrimSpace(*providerID) == "" {
		fs.Usage()
		fatalf("-provider is required")
	}

	a, err := agent.New(agent.Options{
		Log:        newLogger(nil),
		ConfigPath: filepath.Clean(*cfgPath),
		SkipLock:   true,
	})
	if err != nil {
		fatalf("init agent: %v", err)
	}
	defer a.Close()

	switch verb {
	case "set":
		key, err := readSecret(os.Stdin, os.Stderr, fmt.Sprintf("API key for %s: ", *providerID))
		if err != nil {
			fatalf("read key: %v", err)
		}
		if err := a.Secrets().SetProviderAPIKey(*providerID, key); err != nil {
			fatalf("store key: %v", err)
		}
		fmt.Printf("Key stored for %s\n", *providerID)
	case "clear":
		if err := a.Secrets().ClearProviderAPIKey(*providerID); err != nil {
			fatalf("clear key: %v", err)
		}
		fmt.Printf("Key cleared for %s\n", *providerID)
	default:
		fatalf("unknown secret verb %q", verb)
	}
}

func readSecret(in *os.File, prompt io.Writer, label string) (string, error) {
	fmt.Fprint(prompt, label)
	if isTerminalWriter(in) {
		b, err := readPassword(in)
		fmt.Fprintln(prompt)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	// Piped input (e.g. from a secret manager).
	sc := bufio.NewScanner(in)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("no input")
	}
	return strings.TrimSpace(sc.Text()), nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func marshalOrDie(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatalf("encode: %v", err)
	}
	return string(b)
}
