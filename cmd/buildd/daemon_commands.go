package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"buildd/internal/daemonctl"
	"buildd/internal/daemonrun"
	"buildd/internal/history"
	"buildd/internal/ipc"
	"buildd/internal/logging"
	"buildd/internal/logs"
	"buildd/internal/preflight"
	"buildd/internal/watcher"
)

const defaultStopGrace = 5 * time.Second

func newDaemonCommand(ctx *commandContext, configFlag, rootFlag *string) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Inspect and manage the daemon serving a project",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
	}
	daemonCmd.PersistentFlags().StringVarP(configFlag, "config", "c", "", "Configuration file path")
	daemonCmd.PersistentFlags().StringVar(rootFlag, "root", "", "Project root (defaults to the working directory)")

	daemonCmd.AddCommand(newStatusCommand(ctx))
	daemonCmd.AddCommand(newHistoryCommand(ctx))
	daemonCmd.AddCommand(newLogsCommand(ctx))
	daemonCmd.AddCommand(newStopCommand(ctx))
	daemonCmd.AddCommand(newConfigCommand(ctx))
	daemonCmd.AddCommand(newWatchCommand(ctx))
	return daemonCmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon state, pending changes, and the last dispatch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, id, err := ctx.identity()
			if err != nil {
				return err
			}
			checks := preflight.RunAll(cfg)
			client, err := daemonctl.Connect(id.SocketPath(cfg.Paths.RuntimeDir), cfg.DialTimeout())
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), map[string]any{"state": "not_running", "root": cfg.Project.Root, "checks": checks})
				}
				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)
				fmt.Fprintln(stdout, renderStatusLine("Daemon", statusInfo, "Not running", colorize))
				fmt.Fprintln(stdout)
				for _, line := range environmentLines(checks, colorize) {
					fmt.Fprintln(stdout, line)
				}
				return nil
			}
			if err != nil {
				return err
			}
			defer client.Close()

			status, err := client.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("query daemon status: %w", err)
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), status)
			}
			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)
			for _, line := range statusLines(status, colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout)
			for _, line := range environmentLines(checks, colorize) {
				fmt.Fprintln(stdout, line)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the raw status as JSON")
	return cmd
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent dispatches",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, id, err := ctx.identity()
			if err != nil {
				return err
			}
			store, err := history.Open(id.StorePath(cfg.Paths.StateDir))
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list history: %w", err)
			}
			stdout := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(stdout, "No dispatches recorded")
				return nil
			}
			total, err := store.Count(cmd.Context())
			if err != nil {
				return fmt.Errorf("count history: %w", err)
			}
			fmt.Fprintf(stdout, "Showing %d of %d dispatches\n", len(records), total)
			fmt.Fprint(stdout, renderTable(
				[]string{"ID", "Finished", "Decision", "Result", "Duration", "Args"},
				historyRows(records),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			fmt.Fprintln(stdout)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of dispatches to show")
	return cmd
}

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the log of the current or most recent daemon run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, id, err := ctx.identity()
			if err != nil {
				return err
			}
			path := filepath.Join(cfg.Paths.LogDir, id.Name+".log")
			tail, offset, err := logs.Tail(path, lines)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			if len(tail) == 0 && !follow {
				fmt.Fprintf(stdout, "No log output at %s\n", path)
				return nil
			}
			for _, line := range tail {
				fmt.Fprintln(stdout, line)
			}
			if !follow {
				return nil
			}
			return logs.Follow(cmd.Context(), path, offset, 0, func(line string) {
				fmt.Fprintln(stdout, line)
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines until interrupted")
	return cmd
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	var force bool
	var grace time.Duration
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon after its current dispatch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, id, err := ctx.identity()
			if err != nil {
				return err
			}
			socket := id.SocketPath(cfg.Paths.RuntimeDir)
			var result daemonctl.StopResult
			if force {
				result, err = daemonctl.StopAndTerminate(cmd.Context(), socket, id.PIDPath(cfg.Paths.RuntimeDir), cfg.DialTimeout(), grace)
			} else {
				result, err = daemonctl.Stop(cmd.Context(), socket, cfg.DialTimeout(), grace)
			}
			stdout := cmd.OutOrStdout()
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Killed daemon process (pid %d)\n", result.PID)
			} else if !result.StopAcknowledged {
				fmt.Fprintln(stdout, "Stop request sent")
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Kill the daemon process if it does not exit within the grace period")
	cmd.Flags().DurationVar(&grace, "grace", defaultStopGrace, "How long to wait for the daemon to exit")
	return cmd
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var socket string
	cmd := &cobra.Command{
		Use:    "watch",
		Short:  "Run the file watcher for a daemon (internal)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, id, err := ctx.identity()
			if err != nil {
				return err
			}
			if strings.TrimSpace(socket) == "" {
				socket = id.SocketPath(cfg.Paths.RuntimeDir)
			}
			logger := logging.NewComponentLogger(ctx.logger(), "watcher")
			err = daemonrun.RunWatcher(cmd.Context(), cfg, id, socket, logger)
			if code := watcher.ExitCode(err); code != 0 {
				logging.ErrorWithContext(logger, "watcher stopped", "watcher_failed",
					logging.Error(err),
					logging.Int("exit_code", code),
					logging.String(logging.FieldErrorHint, "the daemon keeps serving builds without change tracking; restart it to watch again"))
				return exitCodeError{code: code}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&socket, "socket", "", "Daemon socket to report changes to")
	return cmd
}

func statusLines(status *ipc.StatusResponse, colorize bool) []string {
	title := cases.Title(language.English)
	lines := renderSectionHeader("Daemon", colorize)
	lines = append(lines,
		renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize),
		renderStatusLine("State", statusInfo, title.String(status.State), colorize),
		renderStatusLine("Project", statusInfo, status.Root, colorize),
		renderStatusLine("Identity", statusInfo, status.Identity, colorize),
		renderStatusLine("Started", statusInfo, formatTime(status.StartedAt), colorize),
	)
	if status.WatcherActive {
		lines = append(lines, renderStatusLine("Watcher", statusOK, "Active", colorize))
	} else {
		detail := strings.TrimSpace(status.WatcherDetail)
		if detail == "" {
			detail = "Inactive"
		}
		lines = append(lines, renderStatusLine("Watcher", statusWarn, detail+" (changes are not tracked)", colorize))
	}
	lines = append(lines,
		renderStatusLine("Remembered args", statusInfo, strings.Join(status.RememberedArgs, " "), colorize),
		renderStatusLine("Last rebuild", statusInfo, formatTime(status.LastRebuild), colorize),
		renderStatusLine("Pending changes", statusInfo, fmt.Sprintf("%d", len(status.PendingChanges)), colorize),
	)
	for _, path := range status.PendingChanges {
		lines = append(lines, statusIndent+statusIndent+path)
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Last Dispatch", colorize)...)
	last := status.LastDispatch
	if last == nil {
		return append(lines, renderStatusLine("Dispatch", statusInfo, "None yet", colorize))
	}
	result := statusOK
	label := "Succeeded"
	if last.BuildFailed {
		result = statusError
		label = "Build failed"
	}
	return append(lines,
		renderStatusLine("ID", statusInfo, last.ID, colorize),
		renderStatusLine("Decision", statusInfo, title.String(last.Decision), colorize),
		renderStatusLine("Result", result, label, colorize),
		renderStatusLine("Finished", statusInfo, formatTime(last.FinishedAt), colorize),
		renderStatusLine("Duration", statusInfo, last.Duration.Round(time.Millisecond).String(), colorize),
	)
}

func environmentLines(checks []preflight.Result, colorize bool) []string {
	lines := renderSectionHeader("Environment", colorize)
	for _, check := range checks {
		kind := statusOK
		if !check.Passed {
			kind = statusError
		}
		lines = append(lines, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}
	return lines
}

func historyRows(records []history.Record) [][]string {
	title := cases.Title(language.English)
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		result := "ok"
		if rec.BuildFailed {
			result = "failed"
		}
		rows = append(rows, []string{
			shortID(rec.ID),
			formatTime(rec.FinishedAt),
			title.String(rec.Decision),
			result,
			rec.Duration().Round(time.Millisecond).String(),
			strings.Join(rec.Args, " "),
		})
	}
	return rows
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return "never"
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}
