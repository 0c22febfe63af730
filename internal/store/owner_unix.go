//go:build !windows

package store

import (
	"os"
	"strconv"
)

// InvokingOwner returns the unprivileged user behind this process: the
// sudo caller when running as root under sudo, otherwise the real user.
func InvokingOwner() Owner {
	owner := Owner{UID: os.Getuid(), GID: os.Getgid()}
	if os.Geteuid() != 0 {
		return owner
	}
	if uid, err := strconv.Atoi(os.Getenv("SUDO_UID")); err == nil {
		owner.UID = uid
	}
	if gid, err := strconv.Atoi(os.Getenv("SUDO_GID")); err == nil {
		owner.GID = gid
	}
	return owner
}
