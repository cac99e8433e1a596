package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"

	"github.com/backup-tools/github-backup/backup"
	"github.com/backup-tools/github-backup/github"
	"github.com/backup-tools/github-backup/lockfile"
	"github.com/backup-tools/github-backup/mirror"
)

var (
	loggerLevel = new(slog.LevelVar)
	logger      *slog.Logger

	userRgx = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

	flags = []cli.Flag{
		&cli.BoolFlag{
			Name:  "cron",
			Usage: "cron mode: a held lock is an expected silent skip and logging defaults to warnings",
		},
		&cli.BoolFlag{
			Name:    "debug",
			Aliases: []string{"d"},
			Usage:   "debug mode",
		},
		&cli.StringFlag{
			Name:    "config",
			Sources: cli.EnvVars("GITHUB_BACKUP_CONFIG"),
			Usage:   "path to the optional config file",
		},
		&cli.StringFlag{
			Name:  "metrics-file",
			Usage: "write prometheus metrics in text format to this file after the run",
		},
	}
)

func init() {
	loggerLevel.Set(slog.LevelInfo)
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: loggerLevel,
	}))
}

func run(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() != 2 {
		return fmt.Errorf("expected arguments: <user> <backup_dir>")
	}

	user := c.Args().Get(0)
	if !userRgx.MatchString(user) {
		return fmt.Errorf("invalid user name '%s'", user)
	}

	backupDir, err := filepath.Abs(c.Args().Get(1))
	if err != nil {
		return fmt.Errorf("unable to resolve backup directory: %w", err)
	}

	// in cron mode only warnings and above are interesting unless debug
	// is requested explicitly
	switch {
	case c.Bool("debug"):
		loggerLevel.Set(slog.Level(-8))
	case c.Bool("cron"):
		loggerLevel.Set(slog.LevelWarn)
	}

	conf := &Config{}
	if path := c.String("config"); path != "" {
		if conf, err = parseConfigFile(path); err != nil {
			return fmt.Errorf("unable to parse config file: %w", err)
		}
	}
	applyDefaults(conf)
	if path := c.String("metrics-file"); path != "" {
		conf.MetricsFile = path
	}

	// the reconciler deletes unknown entries, refuse to point it at /
	// or the home directory before anything else happens
	if err := backup.CheckBackupDir(backupDir); err != nil {
		return err
	}

	lock, err := lockfile.Acquire(filepath.Join(backupDir, backup.LockFileName))
	if err != nil {
		if errors.Is(err, lockfile.ErrLocked) && c.Bool("cron") {
			logger.Debug("exiting: another backup run is already in progress", "err", err)
			return nil
		}
		return err
	}
	defer lock.Release(logger)

	if conf.MetricsFile != "" {
		mirror.EnableMetrics("githubbackup", prometheus.DefaultRegisterer)
	}

	lister, err := github.NewLister(conf.APIURL, conf.ListTimeout, logger)
	if err != nil {
		return err
	}

	// path to resolve git and its helpers
	gitENV := []string{fmt.Sprintf("PATH=%s", os.Getenv("PATH"))}

	b, err := backup.New(user, backupDir, conf.RemoteBase, conf.GitGC, lister, gitENV, logger)
	if err != nil {
		return err
	}

	sum, err := b.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return errors.New("the program has been terminated")
		}
		return err
	}

	logger.Info("backup complete",
		"cloned", sum.Cloned, "fetched", sum.Fetched, "removed", sum.Removed, "failed", sum.Failed)

	// written even when some repositories failed, the failure counter is
	// the interesting part
	if conf.MetricsFile != "" {
		if err := writeMetricsFile(conf.MetricsFile); err != nil {
			logger.Error("unable to write metrics file", "path", conf.MetricsFile, "err", err)
		}
	}

	return nil
}

func main() {
	// writing to a closed consumer must not kill the process
	signal.Ignore(syscall.SIGPIPE)

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	cmd := &cli.Command{
		Name:      "github-backup",
		Usage:     "creates a mirror of your GitHub repositories that is suitable for incremental backup",
		ArgsUsage: "<user> <backup_dir>",
		Flags:     flags,
		Action:    run,
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
