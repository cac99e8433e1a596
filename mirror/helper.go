package mirror

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// levelTrace is used for the git command logs, it is below debug so the
// output only shows up when the trace level is requested.
const levelTrace = slog.Level(-8)

// reapDelay is how long to wait for git to exit after it was sent
// SIGTERM on cancellation before it is killed outright.
const reapDelay = 10 * time.Second

// runGitCommand runs git command with given arguments on given CWD.
// If the context is cancelled mid run the subprocess is sent SIGTERM and
// reaped before the context error is returned, so an interrupted run
// never leaves an orphaned git process behind.
func runGitCommand(ctx context.Context, log *slog.Logger, envs []string, cwd string, args ...string) (string, error) {
	cmdStr := gitExecutablePath + " " + strings.Join(args, " ")
	log.Log(ctx, levelTrace, "running command", "cwd", cwd, "cmd", cmdStr)

	cmd := exec.CommandContext(ctx, gitExecutablePath, args...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	outbuf := bytes.NewBuffer(nil)
	errbuf := bytes.NewBuffer(nil)
	cmd.Stdout = outbuf
	cmd.Stderr = errbuf

	if len(envs) > 0 {
		cmd.Env = append(cmd.Env, envs...)
	}

	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = reapDelay

	start := time.Now()
	err := cmd.Run()
	runTime := time.Since(start)

	stdout := strings.TrimSpace(outbuf.String())
	stderr := strings.TrimSpace(errbuf.String())
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		return "", fmt.Errorf("Run(%s): err:%w { stdout: %q, stderr: %q }", cmdStr, err, stdout, stderr)
	}
	log.Log(ctx, levelTrace, "command result", "stdout", stdout, "stderr", stderr, "time", runTime)

	return stdout, nil
}
