package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/backup-tools/github-backup/mirror"
)

// LockFileName is the well known lock file inside the backup directory,
// it is the only local entry which never takes part in reconciliation.
const LockFileName = ".lock"

// repoNameRgx matches names which are safe to use as a path segment in
// the backup directory. Names starting with a dot are rejected since the
// hidden namespace is reserved for in-progress clones and the lock file.
var repoNameRgx = regexp.MustCompile(`^[a-zA-Z0-9_-][a-zA-Z0-9._-]*$`)

// RepoLister returns the full set of repository names owned by a user.
type RepoLister interface {
	ListUserRepositories(ctx context.Context, user string) (map[string]struct{}, error)
}

// Summary is the outcome of one backup run. Per repository failures are
// counted here instead of aborting the run, a run's value is proportional
// to how many repositories it syncs even when some fail.
type Summary struct {
	Cloned  int
	Fetched int
	Removed int
	Failed  int
}

// Backup reconciles the local backup directory against the remote
// repository set of one user.
type Backup struct {
	user       string
	dir        string
	remoteBase string
	gitGC      string
	envs       []string
	lister     RepoLister
	log        *slog.Logger
}

// New creates a backup run for the given user targeting the given
// directory. remoteBase is the URL base from which clone URLs are
// constructed, for github "https://github.com".
func New(user, dir, remoteBase, gitGC string, lister RepoLister, envs []string, log *slog.Logger) (*Backup, error) {
	if !filepath.IsAbs(dir) {
		return nil, fmt.Errorf("backup directory '%s' must be absolute", dir)
	}
	if lister == nil {
		return nil, fmt.Errorf("repository lister must be provided")
	}
	if err := mirror.ValidateGCMode(gitGC); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	return &Backup{
		user:       user,
		dir:        dir,
		remoteBase: strings.TrimSuffix(remoteBase, "/"),
		gitGC:      gitGC,
		envs:       envs,
		lister:     lister,
		log:        log,
	}, nil
}

// Run performs one reconciliation pass: list the remote repositories,
// drop unsafe names, delete local entries which are no longer present
// remotely and then sync every target repository in order.
//
// Only listing and local-listing failures abort the run, anything scoped
// to a single repository or single filesystem entry is logged and
// counted in the summary.
func (b *Backup) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	remote, err := b.lister.ListUserRepositories(ctx, b.user)
	if err != nil {
		return sum, err
	}

	targets := b.validRepoNames(remote)
	if len(targets) == 0 {
		b.log.Info("user doesn't have any repositories", "user", b.user)
	} else {
		b.log.Info("listed user repositories",
			"user", b.user, "count", len(targets), "repositories", strings.Join(targets, ", "))
	}

	sum.Removed, err = b.cleanup(targets)
	if err != nil {
		return sum, err
	}

	for _, name := range targets {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		repo, err := mirror.New(name, b.remoteURL(name), b.dir, b.gitGC, b.envs, b.log)
		if err != nil {
			b.log.Error("unable to set up repository mirror", "repo", name, "err", err)
			sum.Failed++
			continue
		}

		action, err := repo.Sync(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			b.log.Error("failed to sync repository", "repo", name, "err", err)
			sum.Failed++
			continue
		}

		switch action {
		case mirror.ActionCloned:
			sum.Cloned++
		case mirror.ActionFetched:
			sum.Fetched++
		}
	}

	return sum, nil
}

// validRepoNames drops remote names which are not safe to use as a local
// path segment and returns the rest sorted case-insensitively, so runs
// produce reproducible logs and diffs. Rejected names leave the working
// set entirely: they are never cloned and never become deletion targets.
func (b *Backup) validRepoNames(remote map[string]struct{}) []string {
	names := make([]string, 0, len(remote))
	for name := range remote {
		if !repoNameRgx.MatchString(name) {
			b.log.Error("got an invalid repository name, ignoring it", "name", name)
			continue
		}
		names = append(names, name)
	}

	slices.SortFunc(names, func(a, b string) int {
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	})
	return names
}

// cleanup removes local entries which have no matching remote repository.
// Hidden entries are leftovers of interrupted clones and are removed
// quietly, anything else is a repository deleted on the remote and is
// logged as a warning. A failed removal is skipped, one unremovable
// entry must not block the sync of all other repositories.
func (b *Backup) cleanup(targets []string) (int, error) {
	dirents, err := os.ReadDir(b.dir)
	if err != nil {
		return 0, fmt.Errorf("unable to list '%s' directory: %w", b.dir, err)
	}

	keep := make(map[string]struct{}, len(targets)+1)
	for _, name := range targets {
		keep[name] = struct{}{}
	}
	keep[LockFileName] = struct{}{}

	removed := 0
	for _, dirent := range dirents {
		name := dirent.Name()
		if _, ok := keep[name]; ok {
			continue
		}

		path := filepath.Join(b.dir, name)
		if strings.HasPrefix(name, ".") {
			b.log.Debug("removing leftover entry", "path", path)
		} else {
			b.log.Warn("removing deleted repository", "repo", name)
		}

		if err := os.RemoveAll(path); err != nil {
			b.log.Error("failed to remove path, skipping", "path", path, "err", err)
			continue
		}
		removed++
	}

	return removed, nil
}

func (b *Backup) remoteURL(name string) string {
	return fmt.Sprintf("%s/%s/%s.git", b.remoteBase, b.user, name)
}
