package agent

import (
	"context"

	"github.com/foundryhq/foundry-agent/internal/monitor"
	"github.com/foundryhq/foundry-agent/internal/orch"
	"github.com/foundryhq/foundry-agent/internal/taskstore"
)

// Status is the CLI-facing health summary.
type Status struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`

	StateDir   string `json:"state_dir"`
	ConfigPath string `json:"config_path"`

	Workers []orch.WorkerSnapshot `json:"workers"`

	// ProviderKeysSet reports, per provider id, whether an API key is stored.
	ProviderKeysSet map[string]bool `json:"provider_keys_set,omitempty"`

	Host monitor.Snapshot `json:"host"`
}

func (a *Agent) Status(ctx context.Context) (Status, error) {
	st := Status{
		Version:    a.version,
		Commit:     a.commit,
		BuildTime:  a.buildTime,
		StateDir:   a.stateDir,
		ConfigPath: a.configPath,
		Host:       a.monitor.Snapshot(ctx),
	}
	if a.orch != nil {
		st.Workers = a.orch.ListWorkers()
	}
	if cfg, err := a.currentConfig(); err == nil {
		ids := make([]string, 0, len(cfg.Providers))
		for _, p := range cfg.Providers {
			ids = append(ids, p.ID)
		}
		if set, err := a.secrets.KeySet(ids); err == nil {
			st.ProviderKeysSet = set
		}
	}
	return st, nil
}

// History returns recent terminal results from the durable ledger, newest
// first.
func (a *Agent) History(ctx context.Context, limit int, beforeUnixMs int64) ([]taskstore.ResultRow, error) {
	return a.tasks.ListResults(ctx, limit, beforeUnixMs)
}

// TaskHistory looks one task up in the durable ledger, falling back past the
// in-memory registry so completed tasks survive restarts.
func (a *Agent) TaskHistory(ctx context.Context, taskID string) (taskstore.ResultRow, bool, error) {
	if a.orch != nil {
		if res, ok := a.orch.GetResult(taskID); ok {
			return taskstore.ResultRow{
				TaskID:          res.TaskID,
				WorkerID:        res.WorkerID,
				WorkerName:      res.WorkerName,
				Success:         res.Success,
				ResultText:      res.Result,
				CompletedAtUnix: res.CompletedAt.UnixMilli(),
				Duration:        res.Duration,
			}, true, nil
		}
	}
	return a.tasks.GetResult(ctx, taskID)
}
