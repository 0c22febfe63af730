//go:build windows

package placer

import "os"

// Windows only has a read-only attribute; ACLs are out of reach of os.Chmod.
const ownerOnlyEnforced = false

func restrictPermissions(path string, public bool) error {
	return os.Chmod(path, 0o444)
}
