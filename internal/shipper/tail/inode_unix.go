//go:build unix

package tail

import (
	"os"
	"syscall"
)

// inode extracts the platform inode number used to detect rotation; on
// filesystems or platforms where this isn't available, it returns 0 and
// rotation detection falls back to the file-shrink check alone.
func inode(info os.FileInfo) uint64 {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0
	}
	return stat.Ino
}
