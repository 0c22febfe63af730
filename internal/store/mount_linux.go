//go:build linux

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	dserrors "github.com/systmms/punlock/internal/errors"
	"github.com/systmms/punlock/pkg/exec"
)

const tmpfsFlags = unix.MS_NOSUID | unix.MS_NODEV | unix.MS_NOEXEC

// NewMounter mounts directly when running as root and through sudo
// otherwise.
func NewMounter(executor exec.CommandExecutor) Mounter {
	if os.Geteuid() == 0 {
		return &syscallMounter{}
	}
	return &sudoMounter{executor: executor}
}

type syscallMounter struct{}

func (m *syscallMounter) Supported() bool { return true }

func (m *syscallMounter) Mount(ctx context.Context, root string, opts MountOptions) error {
	return unix.Mount("tmpfs", root, "tmpfs", tmpfsFlags, mountData(opts))
}

func (m *syscallMounter) Unmount(ctx context.Context, root string) error {
	return unix.Unmount(root, 0)
}

func (m *syscallMounter) Chown(ctx context.Context, root string, owner Owner) error {
	return os.Chown(root, owner.UID, owner.GID)
}

func (m *syscallMounter) IsMountPoint(root string) (bool, error) {
	return isMountPoint(root)
}

// sudoMounter shells out to sudo for an unprivileged caller. sudo talks to
// the terminal directly, so a password prompt still works with captured
// output.
type sudoMounter struct {
	executor exec.CommandExecutor
}

func (m *sudoMounter) Supported() bool { return true }

func (m *sudoMounter) Mount(ctx context.Context, root string, opts MountOptions) error {
	return m.run(ctx, "mount", "-t", "tmpfs", "-o", "nosuid,nodev,noexec,"+mountData(opts), "tmpfs", root)
}

func (m *sudoMounter) Unmount(ctx context.Context, root string) error {
	return m.run(ctx, "umount", root)
}

func (m *sudoMounter) Chown(ctx context.Context, root string, owner Owner) error {
	return m.run(ctx, "chown", strconv.Itoa(owner.UID)+":"+strconv.Itoa(owner.GID), root)
}

func (m *sudoMounter) IsMountPoint(root string) (bool, error) {
	return isMountPoint(root)
}

func (m *sudoMounter) run(ctx context.Context, args ...string) error {
	_, stderr, err := m.executor.Execute(ctx, "sudo", args...)
	if err == nil {
		return nil
	}
	if !exec.IsExitError(err) && len(stderr) == 0 {
		return dserrors.WrapCommandNotFound("sudo", err)
	}
	msg := strings.TrimSpace(string(stderr))
	if msg == "" {
		msg = err.Error()
	}
	return dserrors.CommandError{Command: "sudo " + args[0], Message: msg}
}

// isMountPoint compares the device of path with that of its parent.
func isMountPoint(path string) (bool, error) {
	path = filepath.Clean(path)
	if path == "/" {
		return true, nil
	}

	var self, parent unix.Stat_t
	if err := unix.Lstat(path, &self); err != nil {
		return false, err
	}
	if err := unix.Lstat(filepath.Dir(path), &parent); err != nil {
		return false, fmt.Errorf("stat parent of %s: %w", path, err)
	}
	return self.Dev != parent.Dev, nil
}
