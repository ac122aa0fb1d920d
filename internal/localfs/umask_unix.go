//go:build unix

package localfs

import (
	"io/fs"
	"sync"

	"golang.org/x/sys/unix"
)

var umaskMu sync.Mutex

// CurrentUmask returns the process umask without permanently altering it,
// used to mask the permission bits of every file and directory
// ExtractToDir materializes.
func CurrentUmask() fs.FileMode {
	umaskMu.Lock()
	defer umaskMu.Unlock()
	old := unix.Umask(0)
	unix.Umask(old)
	return fs.FileMode(old)
}
