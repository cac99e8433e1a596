package backup

import (
	"fmt"
	"os"
)

// CheckBackupDir verifies that the given directory does not refer to the
// same filesystem object as / or the invoking user's home directory.
// The run deletes all unknown contents of the backup directory, so
// pointing it at either would be catastrophic. Identity is compared by
// inode and device, not by path string, which also catches symlinks and
// bind mounts.
//
// A backup directory which does not exist yet is not a violation here,
// the run fails later when the directory is listed.
func CheckBackupDir(backupDir string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("unable to resolve home directory: %w", err)
	}

	dirInfo, err := os.Stat(backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to check '%s' backup directory: %w", backupDir, err)
	}

	for _, forbidden := range []string{"/", home} {
		forbiddenInfo, err := os.Stat(forbidden)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("failed to check '%s' backup directory against '%s': %w", backupDir, forbidden, err)
		}

		if os.SameFile(dirInfo, forbiddenInfo) {
			return fmt.Errorf("invalid backup directory '%s': it mustn't be / or your home directory "+
				"because all other contents of the backup directory are deleted", backupDir)
		}
	}

	return nil
}
