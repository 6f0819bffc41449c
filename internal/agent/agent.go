// Package agent is the composition root: it loads configuration, takes the
// state-directory lock, wires the model runtime into the orchestration
// engine, and fans lifecycle events out to the durable sinks.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/foundryhq/foundry-agent/internal/auditlog"
	"github.com/foundryhq/foundry-agent/internal/config"
	"github.com/foundryhq/foundry-agent/internal/lockfile"
	"github.com/foundryhq/foundry-agent/internal/monitor"
	"github.com/foundryhq/foundry-agent/internal/orch"
	"github.com/foundryhq/foundry-agent/internal/runtime"
	"github.com/foundryhq/foundry-agent/internal/settings"
	"github.com/foundryhq/foundry-agent/internal/taskstore"
)

const workerSystemPrompt = `You are a focused sub-agent working on one delegated task at a time.
Complete the task described by the user message. Reply with the finished
work product only; do not narrate your process.`

const reviewerSystemPrompt = `You review a sub-agent's completed work against its task description.
Start your reply with exactly one of:
  APPROVED: <short reason>
  REVISION: <what must change>
  REJECTED: <why the work is unusable>`

type Options struct {
	Log *slog.Logger

	// ConfigPath locates the YAML preferences file. Empty means the default
	// path under the user's home directory.
	ConfigPath string
	// Config, when set, is used as-is and ConfigPath is only consulted for
	// the state directory.
	Config *config.Config

	Version   string
	Commit    string
	BuildTime string

	// Factory overrides for tests. When nil, the model runtime backs both.
	NewWorkerInvoker orch.WorkerInvokerFactory
	NewReviewer      orch.ReviewerFactory

	// SkipLock disables the state-directory lock, for read-only commands
	// that must work while an agent runs.
	SkipLock bool
}

type Agent struct {
	log *slog.Logger

	configPath string
	stateDir   string

	version   string
	commit    string
	buildTime string

	lock    *lockfile.Lock
	secrets *settings.SecretsStore
	tasks   *taskstore.Store
	audit   *auditlog.Store
	monitor *monitor.Service
	orch    *orch.Orchestrator

	closeOnce sync.Once
}

func New(opts Options) (*Agent, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	configPath := strings.TrimSpace(opts.ConfigPath)
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}

	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.Load(configPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("no config at %s (create one or pass -config)", configPath)
			}
			return nil, err
		}
		cfg = loaded
	}

	stateDir := cfg.StateDirFor(configPath)
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, err
	}

	a := &Agent{
		log:        log,
		configPath: configPath,
		stateDir:   stateDir,
		version:    opts.Version,
		commit:     opts.Commit,
		buildTime:  opts.BuildTime,
		secrets:    settings.NewSecretsStore(filepath.Join(stateDir, "secrets.json")),
		monitor:    monitor.NewService(log),
	}

	if !opts.SkipLock {
		lock, err := lockfile.Acquire(filepath.Join(stateDir, "agent.lock"))
		if err != nil {
			if errors.Is(err, lockfile.ErrAlreadyLocked) {
				return nil, fmt.Errorf("another agent already holds %s", stateDir)
			}
			return nil, err
		}
		a.lock = lock
	}

	tasks, err := taskstore.Open(filepath.Join(stateDir, "tasks.db"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open task ledger: %w", err)
	}
	a.tasks = tasks

	audit, err := auditlog.New(auditlog.Options{Logger: log, StateDir: stateDir})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open audit journal: %w", err)
	}
	a.audit = audit

	prefs := &filePreferences{path: configPath, cfg: cfg, log: log}

	workerFactory := opts.NewWorkerInvoker
	if workerFactory == nil {
		workerFactory = a.newWorkerInvoker
	}
	reviewerFactory := opts.NewReviewer
	if reviewerFactory == nil {
		reviewerFactory = a.newReviewer
	}

	engine, err := orch.New(orch.Options{
		Log:              log,
		Prefs:            prefs,
		NewWorkerInvoker: workerFactory,
		NewReviewer:      reviewerFactory,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.orch = engine
	a.orch.Subscribe(a.recordEvent)

	log.Info("agent ready", "state_dir", stateDir, "version", opts.Version)
	return a, nil
}

// Close releases everything in reverse construction order. Safe to call on a
// partially constructed agent and more than once.
func (a *Agent) Close() {
	if a == nil {
		return
	}
	a.closeOnce.Do(func() {
		if a.orch != nil {
			a.orch.Close()
		}
		// The audit journal needs no close; it flushes per append.
		if a.tasks != nil {
			if err := a.tasks.Close(); err != nil {
				a.log.Warn("close task ledger", "error", err)
			}
		}
		if a.lock != nil {
			if err := a.lock.Release(); err != nil {
				a.log.Warn("release lock", "error", err)
			}
		}
	})
}

// recordEvent is the single sink subscribed to engine notifications. It must
// never panic and never block: both stores are local and best-effort.
func (a *Agent) recordEvent(ev orch.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch ev.Kind {
	case orch.EventTaskCompleted:
		if ev.Result == nil {
			return
		}
		res := *ev.Result
		if err := a.tasks.RecordResult(ctx, taskstore.ResultRow{
			TaskID:          res.TaskID,
			WorkerID:        res.WorkerID,
			WorkerName:      res.WorkerName,
			Success:         res.Success,
			ResultText:      res.Result,
			CompletedAtUnix: res.CompletedAt.UnixMilli(),
			Duration:        res.Duration,
		}); err != nil {
			a.log.Warn("record task result", "task_id", res.TaskID, "error", err)
		}
		success := res.Success
		a.audit.Append(auditlog.Entry{
			Kind:       string(ev.Kind),
			WorkerID:   res.WorkerID,
			WorkerName: res.WorkerName,
			TaskID:     res.TaskID,
			Success:    &success,
		})
	default:
		if err := a.tasks.RecordWorkerEvent(ctx, taskstore.WorkerEventRow{
			WorkerID:      ev.WorkerID,
			WorkerName:    ev.WorkerName,
			Kind:          string(ev.Kind),
			Status:        ev.Status,
			CreatedAtUnix: ev.At.UnixMilli(),
		}); err != nil {
			a.log.Warn("record worker event", "worker_id", ev.WorkerID, "error", err)
		}
		a.audit.Append(auditlog.Entry{
			Kind:       string(ev.Kind),
			WorkerID:   ev.WorkerID,
			WorkerName: ev.WorkerName,
			Status:     ev.Status,
		})
	}
}

// runtimeOptions resolves a model reference to concrete provider settings,
// including the API key from the secrets store.
func (a *Agent) runtimeOptions(modelRef string) (runtime.Options, error) {
	cfg, err := a.currentConfig()
	if err != nil {
		return runtime.Options{}, err
	}

	var (
		provider config.Provider
		model    string
		ok       bool
	)
	if strings.TrimSpace(modelRef) == "" {
		provider, model, ok = cfg.DefaultModelRef()
		if !ok {
			return runtime.Options{}, errors.New("no default model configured")
		}
	} else {
		provider, model, ok = cfg.FindModel(modelRef)
		if !ok {
			return runtime.Options{}, fmt.Errorf("unknown model %q", modelRef)
		}
	}

	apiKey, has, err := a.secrets.GetProviderAPIKey(provider.ID)
	if err != nil {
		return runtime.Options{}, err
	}
	if !has {
		if provider.Type == config.ProviderTypeOpenAICompatible {
			// Local endpoints usually ignore the key but the SDK wants one.
			apiKey = "unused"
		} else {
			return runtime.Options{}, fmt.Errorf("no api key stored for provider %q", provider.ID)
		}
	}

	return runtime.Options{
		Log:      a.log,
		Provider: provider.Type,
		Model:    model,
		APIKey:   apiKey,
		BaseURL:  provider.BaseURL,
	}, nil
}

func (a *Agent) newWorkerInvoker(w orch.WorkerSnapshot) (orch.Invoker, error) {
	opts, err := a.runtimeOptions(w.Model)
	if err != nil {
		return nil, err
	}
	opts.SystemPrompt = workerSystemPrompt
	if p := strings.TrimSpace(w.Purpose); p != "" {
		opts.SystemPrompt = workerSystemPrompt + "\n\nYour specialty: " + p
	}
	return runtime.NewConversation(opts)
}

func (a *Agent) newReviewer(model string) (orch.Invoker, error) {
	opts, err := a.runtimeOptions(model)
	if err != nil {
		return nil, err
	}
	opts.SystemPrompt = reviewerSystemPrompt
	return runtime.NewReviewer(opts)
}

func (a *Agent) currentConfig() (*config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Engine exposes the orchestration surface to callers (CLI, future RPC).
func (a *Agent) Engine() *orch.Orchestrator {
	return a.orch
}

func (a *Agent) StateDir() string   { return a.stateDir }
func (a *Agent) ConfigPath() string { return a.configPath }

func (a *Agent) Secrets() *settings.SecretsStore {
	return a.secrets
}

// filePreferences re-reads the config file when its mtime changes, so edits
// to orchestration settings apply to new dispatches without a restart.
type filePreferences struct {
	path string
	log  *slog.Logger

	mu      sync.Mutex
	cfg     *config.Config
	modTime time.Time
}

func (p *filePreferences) Orchestration() orch.OrchestrationPrefs {
	p.mu.Lock()
	defer p.mu.Unlock()

	if st, err := os.Stat(p.path); err == nil && !st.ModTime().Equal(p.modTime) {
		if cfg, err := config.Load(p.path); err == nil {
			p.cfg = cfg
			p.modTime = st.ModTime()
		} else {
			p.log.Warn("config reload failed, keeping previous", "path", p.path, "error", err)
		}
	}
	return orchestrationPrefs(p.cfg)
}

func orchestrationPrefs(cfg *config.Config) orch.OrchestrationPrefs {
	out := orch.OrchestrationPrefs{}
	if cfg == nil || cfg.Orchestration == nil {
		return out
	}
	o := cfg.Orchestration
	if o.MaxWorkers != nil {
		out.MaxWorkers = *o.MaxWorkers
	}
	if o.MaxConcurrentReviews != nil {
		out.MaxConcurrentReviews = *o.MaxConcurrentReviews
	}
	if o.ReviewEnabled != nil {
		out.ReviewEnabled = *o.ReviewEnabled
	}
	if o.MaxRevisions != nil {
		out.MaxRevisions = *o.MaxRevisions
	}
	if o.ReviewTimeoutSec != nil {
		out.ReviewTimeout = time.Duration(*o.ReviewTimeoutSec) * time.Second
	}
	out.ReviewerModel = o.ReviewerModel
	out.DefaultModel = o.DefaultModel
	out.DefaultTemperature = o.DefaultTemperature
	if o.DefaultMaxOutputTokens != nil {
		out.DefaultMaxOutputTokens = *o.DefaultMaxOutputTokens
	}
	return out
}
