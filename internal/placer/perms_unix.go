//go:build !windows

package placer

import "os"

const ownerOnlyEnforced = true

func restrictPermissions(path string, public bool) error {
	mode := os.FileMode(0o400)
	if public {
		mode = 0o444
	}
	return os.Chmod(path, mode)
}
