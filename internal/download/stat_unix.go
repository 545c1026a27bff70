//go:build unix

package download

import (
	"os"
	"syscall"
)

// hardLinks returns the file's hard-link count.
func hardLinks(fi os.FileInfo) uint64 {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 1
	}
	return uint64(st.Nlink)
}
