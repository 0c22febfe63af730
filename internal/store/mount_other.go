//go:build !linux

package store

import (
	"context"

	"github.com/systmms/punlock/pkg/exec"
)

// NewMounter returns a mounter that always reports tmpfs as unavailable.
func NewMounter(executor exec.CommandExecutor) Mounter {
	return unsupportedMounter{}
}

type unsupportedMounter struct{}

func (unsupportedMounter) Supported() bool { return false }

func (unsupportedMounter) Mount(ctx context.Context, root string, opts MountOptions) error {
	return ErrVolatileUnsupported
}

func (unsupportedMounter) Unmount(ctx context.Context, root string) error {
	return ErrVolatileUnsupported
}

func (unsupportedMounter) Chown(ctx context.Context, root string, owner Owner) error {
	return nil
}

func (unsupportedMounter) IsMountPoint(root string) (bool, error) {
	return false, nil
}
