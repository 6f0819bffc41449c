package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/foundryhq/foundry-agent/internal/agent"
	"github.com/foundryhq/foundry-agent/internal/orch"
	"github.com/foundryhq/foundry-agent/internal/taskstore"
)

// ANSI color codes for terminal styling.
const (
	ansiReset = "\033[0m"
	ansiBold  = "\033[1m"
	ansiGreen = "\033[92m"
	ansiRed   = "\033[91m"
	ansiDim   = "\033[2m"
)

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ExitOnError)
}

func isTerminalWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func readPassword(f *os.File) ([]byte, error) {
	return term.ReadPassword(int(f.Fd()))
}

func style(s, code string, enabled bool) string {
	if !enabled {
		return s
	}
	return code + s + ansiReset
}

func outcomeLabel(success bool, ansi bool) string {
	if success {
		return style("ok", ansiGreen, ansi)
	}
	return style("failed", ansiRed, ansi)
}

func printResult(w io.Writer, res orch.TaskResult, asJSON bool) {
	if asJSON {
		fmt.Fprintln(w, marshalOrDie(res))
		return
	}
	ansi := isTerminalWriter(w)
	fmt.Fprintf(w, "%s %s %s (%s, %s)\n",
		outcomeLabel(res.Success, ansi),
		style(res.TaskID, ansiBold, ansi),
		res.WorkerName,
		res.Duration.Round(time.Millisecond),
		style(res.CompletedAt.Format(time.RFC3339), ansiDim, ansi))
	text := strings.TrimSpace(res.Result)
	if text != "" {
		fmt.Fprintln(w, indent(text, "  "))
	}
}

func printHistoryRow(w io.Writer, row taskstore.ResultRow, full bool, asJSON bool) {
	if asJSON {
		fmt.Fprintln(w, marshalOrDie(row))
		return
	}
	ansi := isTerminalWriter(w)
	completed := time.UnixMilli(row.CompletedAtUnix).Format(time.RFC3339)
	fmt.Fprintf(w, "%s %s %s (%s, %s)\n",
		outcomeLabel(row.Success, ansi),
		style(row.TaskID, ansiBold, ansi),
		row.WorkerName,
		row.Duration.Round(time.Millisecond),
		style(completed, ansiDim, ansi))
	if full {
		text := strings.TrimSpace(row.ResultText)
		if text != "" {
			fmt.Fprintln(w, indent(text, "  "))
		}
	}
}

func printStatus(w io.Writer, st agent.Status, asJSON bool) {
	if asJSON {
		fmt.Fprintln(w, marshalOrDie(st))
		return
	}
	ansi := isTerminalWriter(w)
	fmt.Fprintf(w, "%s %s (%s)\n", style("foundry-agent", ansiBold, ansi), st.Version, st.Commit)
	fmt.Fprintf(w, "state dir: %s\n", st.StateDir)
	fmt.Fprintf(w, "config:    %s\n", st.ConfigPath)
	fmt.Fprintf(w, "host:      cpu %.1f%% of %d cores, rss %s, %d goroutines\n",
		st.Host.CPUUsage, st.Host.CPUCores, formatBytes(st.Host.AgentRSSBytes), st.Host.Goroutines)

	if len(st.ProviderKeysSet) > 0 {
		fmt.Fprintln(w, "providers:")
		for id, set := range st.ProviderKeysSet {
			mark := style("key set", ansiGreen, ansi)
			if !set {
				mark = style("no key", ansiRed, ansi)
			}
			fmt.Fprintf(w, "  %-20s %s\n", id, mark)
		}
	}

	if len(st.Workers) == 0 {
		fmt.Fprintln(w, "workers:   none")
		return
	}
	fmt.Fprintln(w, "workers:")
	for _, worker := range st.Workers {
		fmt.Fprintf(w, "  %-20s %-14s %s\n", worker.Name, worker.Status, style(worker.ID, ansiDim, ansi))
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

func formatBytes(n uint64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(n)/float64(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/float64(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
