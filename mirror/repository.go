package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/backup-tools/github-backup/internal/lock"
)

var gitExecutablePath string

func init() {
	gitExecutablePath = exec.Command("git").String()
}

type gcMode string

const (
	gcAuto       = "auto"
	gcAlways     = "always"
	gcAggressive = "aggressive"
	gcOff        = "off"
)

// ValidateGCMode returns an error if the given garbage collection mode
// is not one of the supported values.
func ValidateGCMode(gitGC string) error {
	switch gitGC {
	case gcAuto, gcAlways, gcAggressive, gcOff:
		return nil
	default:
		return fmt.Errorf("wrong gc value provided, must be one of %s, %s, %s, %s",
			gcAuto, gcAlways, gcAggressive, gcOff)
	}
}

// Action describes what Sync did to bring a repository up to date.
type Action string

const (
	// ActionCloned means the repository was absent locally and a fresh
	// mirror clone was published.
	ActionCloned Action = "cloned"
	// ActionFetched means the existing mirror was updated in place.
	ActionFetched Action = "fetched"
)

// Repository represents the local mirror of one remote repository.
// A Repository is safe for concurrent use by multiple goroutines.
type Repository struct {
	lock   lock.RWMutex // repository will be locked during sync
	name   string       // validated repository name, used as the dir name
	remote string       // remote repo to mirror
	dir    string       // absolute path of the published mirror
	tmpDir string       // hidden path used while a fresh clone is formed
	gitGC  gcMode       // garbage collection mode for fresh clones
	envs   []string     // envs which will be passed to git commands
	log    *slog.Logger
}

// New creates the mirror of the given remote under root. The remote repo
// will not be touched until Sync is called.
func New(name, remote, root, gitGC string, envs []string, log *slog.Logger) (*Repository, error) {
	if name == "" {
		return nil, fmt.Errorf("repository name cannot be empty")
	}

	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("backup root '%s' must be absolute", root)
	}

	if err := ValidateGCMode(gitGC); err != nil {
		return nil, err
	}

	if log == nil {
		log = slog.Default()
	}

	return &Repository{
		name:   name,
		remote: remote,
		dir:    filepath.Join(root, name),
		tmpDir: filepath.Join(root, "."+name),
		gitGC:  gcMode(gitGC),
		envs:   envs,
		log:    log.With("repo", name),
	}, nil
}

// Dir returns the absolute path of the published mirror.
func (r *Repository) Dir() string {
	return r.dir
}

// Sync brings the local mirror in line with the remote: a missing mirror
// is cloned, an existing one is fetched in place.
func (r *Repository) Sync(ctx context.Context) (Action, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	defer updateSyncLatency(r.name, time.Now())

	action, err := r.sync(ctx)
	recordSync(r.name, err == nil)
	return action, err
}

func (r *Repository) sync(ctx context.Context) (Action, error) {
	_, err := os.Stat(r.dir)
	switch {
	case os.IsNotExist(err):
		return ActionCloned, r.cloneMirror(ctx)
	case err != nil:
		return "", fmt.Errorf("unable to verify mirror dir err:%w", err)
	default:
		return ActionFetched, r.fetch(ctx)
	}
}

// cloneMirror creates a fresh mirror clone at a hidden temporary path,
// optimises it and publishes it with an atomic rename. Nothing ever
// appears under the final name until the clone is fully formed, a failed
// attempt only leaves the hidden path behind for next-run cleanup.
func (r *Repository) cloneMirror(ctx context.Context) error {
	r.log.Info("mirroring new repository", "remote", r.remote)

	// git clone --mirror --no-progress <remote> <tmp>
	if _, err := runGitCommand(ctx, r.log, r.envs, "", "clone", "--mirror", "--no-progress", r.remote, r.tmpDir); err != nil {
		return fmt.Errorf("unable to clone mirror err:%w", err)
	}

	if err := r.optimize(ctx, r.tmpDir); err != nil {
		return fmt.Errorf("unable to optimize fresh clone err:%w", err)
	}

	// the rename is the publish point
	if err := os.Rename(r.tmpDir, r.dir); err != nil {
		return fmt.Errorf("unable to rename '%s' to '%s' err:%w", r.tmpDir, r.dir, err)
	}

	return nil
}

// fetch runs an incremental fetch against the existing mirror. The clone
// was created with --mirror so a plain fetch updates all refs, --prune
// drops refs deleted on the remote.
func (r *Repository) fetch(ctx context.Context) error {
	r.log.Info("syncing repository")

	// git fetch --prune --no-progress
	if _, err := runGitCommand(ctx, r.log, r.envs, r.dir, "fetch", "--prune", "--no-progress"); err != nil {
		return fmt.Errorf("unable to fetch err:%w", err)
	}
	return nil
}

// optimize runs git's garbage collection on a fresh clone before it is
// published. Mirrors are written once and then only fetched, so the
// default mode packs them aggressively.
func (r *Repository) optimize(ctx context.Context, dir string) error {
	if r.gitGC == gcOff {
		return nil
	}

	args := []string{"gc"}
	switch r.gitGC {
	case gcAuto:
		args = append(args, "--auto")
	case gcAlways:
		// no extra flags
	case gcAggressive:
		args = append(args, "--aggressive")
	}

	if _, err := runGitCommand(ctx, r.log, r.envs, dir, args...); err != nil {
		return err
	}
	return nil
}
