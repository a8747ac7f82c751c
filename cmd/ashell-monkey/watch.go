package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/acolita/ashell-monkey/internal/config"
	"github.com/acolita/ashell-monkey/internal/scripts"
	"github.com/acolita/ashell-monkey/internal/watch"
)

func newWatchCommand(a *app) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "watch [flags] [port] <script|glob>...",
		Short: "Re-run the scripts whenever they, the helper or the config change",
		Long: `Watch performs a run, then waits for changes to the scripts, the
assertion helper or the config file and runs again. A run that fails or aborts
does not stop watching; interrupt to exit.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.apply(a.cfg, cmd.Flags()); err != nil {
				return err
			}
			port, patterns := splitArgs(args)
			return a.watchLoop(cmd.Context(), port, patterns, &f, cmd)
		},
	}
	f.register(cmd.Flags())
	return cmd
}

func (a *app) watchLoop(ctx context.Context, port string, patterns []string, f *runFlags, cmd *cobra.Command) error {
	configPath := a.configPath
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}

	helper := a.cfg.Shell.HelperPath
	w, err := a.openWatcher(patterns, configPath)
	if err != nil {
		return err
	}
	defer func() { w.Close() }()

	// the port is resolved once so a picker is shown at most once
	resolved, err := a.resolvePort(port)
	if err != nil {
		return err
	}

	for {
		if _, err := a.runOnce(ctx, resolved, patterns, f.print); err != nil {
			// a broken setup (missing script, port gone) is reported and retried on the next change
			printError(a.stderr, err)
		}
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprintln(a.stderr, "watching for changes (interrupt to stop)")

		select {
		case <-ctx.Done():
			return nil
		case changed := <-w.Changes():
			a.logger.Info("change detected", slog.Any("paths", changed))
			if !slices.ContainsFunc(changed, func(p string) bool { return sameFile(p, configPath) }) {
				continue
			}
			if !a.reloadConfig(configPath, f, cmd) || a.cfg.Shell.HelperPath == helper {
				continue
			}
			next, err := a.openWatcher(patterns, configPath)
			if err != nil {
				a.logger.Error("keeping previous watch set", slog.String("error", err.Error()))
				continue
			}
			w.Close()
			w, helper = next, a.cfg.Shell.HelperPath
			a.logger.Info("now watching helper", slog.String("helper", helper))
		}
	}
}

func (a *app) openWatcher(patterns []string, configPath string) (*watch.Watcher, error) {
	match, dirs := a.watchSet(patterns, configPath)
	w, err := watch.New(dirs, watch.Options{
		Match:    match.Match,
		Debounce: a.cfg.Watch.Debounce,
		Clock:    a.clock,
		Logger:   a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	return w, nil
}

// watchSet returns the files that trigger a re-run and the directories to
// watch for them: the scripts, the current helper and the config file.
func (a *app) watchSet(patterns []string, configPath string) (*scripts.Matcher, []string) {
	match := scripts.NewMatcher(patterns)
	match.Add(a.cfg.Shell.HelperPath, configPath)

	dirs := scripts.Dirs(append(slices.Clone(patterns), a.cfg.Shell.HelperPath))
	if configPath != "" {
		if _, err := a.fs.Stat(configPath); err == nil {
			dirs = append(dirs, filepath.Dir(configPath))
		}
	}
	slices.Sort(dirs)
	return match, slices.Compact(dirs)
}

// reloadConfig swaps in a changed config file, keeping the old one if the
// new one does not load. It reports whether the new config took effect.
func (a *app) reloadConfig(path string, f *runFlags, cmd *cobra.Command) bool {
	prev := a.cfg
	prevLogger := a.logger
	if err := a.loadConfig(); err != nil {
		a.cfg, a.logger = prev, prevLogger
		a.logger.Error("config reload failed", slog.String("path", path), slog.String("error", err.Error()))
		return false
	}
	if err := f.apply(a.cfg, cmd.Flags()); err != nil {
		a.cfg, a.logger = prev, prevLogger
		a.logger.Error("config reload failed", slog.String("path", path), slog.String("error", err.Error()))
		return false
	}
	a.logger.Info("config reloaded", slog.String("path", path))
	return true
}

func sameFile(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	aa, errA := filepath.Abs(a)
	bb, errB := filepath.Abs(b)
	return errors.Join(errA, errB) == nil && aa == bb
}
