package fwebpf

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// DefaultBPFFS is where bpffs is normally mounted.
const DefaultBPFFS = "/sys/fs/bpf"

// EnsureBPFFilesystem makes sure a bpf filesystem is mounted at root,
// mounting one if needed. It reports whether it had to mount.
func EnsureBPFFilesystem(root string) (bool, error) {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return false, fmt.Errorf("creating %s: %w", root, err)
		}
	}

	var statfs unix.Statfs_t
	if err := unix.Statfs(root, &statfs); err != nil {
		return false, fmt.Errorf("checking BPF filesystem: %w", err)
	}
	if statfs.Type == unix.BPF_FS_MAGIC {
		return false, nil
	}
	if err := unix.Mount("bpffs", root, "bpf", 0, ""); err != nil {
		return false, fmt.Errorf("mounting BPF filesystem at %s: %w (run 'sudo mount -t bpf bpffs %s')", root, err, root)
	}
	return true, nil
}
