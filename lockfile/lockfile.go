// Package lockfile implements a pid file based lock which guarantees that
// only one backup run operates on a given backup directory at a time.
//
// The lock is an advisory flock(2) on a well known file inside the backup
// directory. Since the kernel releases the flock when the owning process
// dies, a leftover file from a crashed run does not hold the lock and is
// reclaimed silently on the next Acquire.
package lockfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned by Acquire when the lock file is held by a
// running process.
var ErrLocked = errors.New("already locked by another process")

// Lock represents a held lock file.
type Lock struct {
	path string
	file *os.File
}

// Path returns the path of the held lock file.
func (l *Lock) Path() string {
	return l.path
}

// Acquire creates or opens the lock file at the given path, takes an
// exclusive non-blocking flock on it and records the current process id.
// If the file is flocked by a live process it returns an error wrapping
// ErrLocked which includes the recorded owner pid if one can be read.
func Acquire(path string) (*Lock, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("unable to open lock file '%s': %w", path, err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		owner := readOwnerPID(file)
		file.Close()

		if err == unix.EWOULDBLOCK {
			if owner != "" {
				return nil, fmt.Errorf("'%s' is held by process %s: %w", path, owner, ErrLocked)
			}
			return nil, fmt.Errorf("'%s': %w", path, ErrLocked)
		}
		return nil, fmt.Errorf("unable to lock '%s': %w", path, err)
	}

	// getting here with a pre-existing file means its owner is dead,
	// reclaim it by overwriting the recorded pid
	if err := file.Truncate(0); err != nil {
		file.Close()
		return nil, fmt.Errorf("unable to truncate lock file '%s': %w", path, err)
	}
	if _, err := file.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("unable to write pid to lock file '%s': %w", path, err)
	}

	return &Lock{path: path, file: file}, nil
}

// Release deletes the lock file and closes the underlying descriptor,
// which drops the flock. A failed delete is logged and not returned
// since the flock itself dies with the descriptor.
func (l *Lock) Release(log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.Remove(l.path); err != nil {
		log.Error("failed to delete lock file", "path", l.path, "err", err)
	}
	l.file.Close()
}

// readOwnerPID returns the pid recorded in the lock file or an empty
// string if the content does not look like one.
func readOwnerPID(file *os.File) string {
	buf := make([]byte, 32)
	n, err := file.ReadAt(buf, 0)
	if n == 0 && err != nil {
		return ""
	}
	pid := strings.TrimSpace(string(buf[:n]))
	if _, err := strconv.Atoi(pid); err != nil {
		return ""
	}
	return pid
}
