// Package lock provides mutex types with optional runtime deadlock
// detection. Detection is off by default and can be enabled by setting
// the GITHUB_BACKUP_DEADLOCK_DETECTION environment variable, it is meant
// for tests and debugging only.
package lock

import (
	"os"
	"time"

	"github.com/sasha-s/go-deadlock"
)

type Mutex = deadlock.Mutex

type RWMutex = deadlock.RWMutex

func init() {
	if os.Getenv("GITHUB_BACKUP_DEADLOCK_DETECTION") == "" {
		deadlock.Opts.Disable = true
		return
	}
	deadlock.Opts.DeadlockTimeout = 2 * time.Minute
}
