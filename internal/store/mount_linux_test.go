//go:build linux

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dserrors "github.com/systmms/punlock/internal/errors"
	"github.com/systmms/punlock/tests/testutil"
)

func TestSudoMounter(t *testing.T) {
	t.Parallel()

	executor := testutil.NewMockCommandExecutor()
	m := &sudoMounter{executor: executor}
	ctx := context.Background()

	require.NoError(t, m.Mount(ctx, "/run/user/1000/punlock", MountOptions{Size: "16M", Owner: Owner{UID: 1000, GID: 1000}}))
	require.NoError(t, m.Chown(ctx, "/run/user/1000/punlock", Owner{UID: 1000, GID: 1000}))
	require.NoError(t, m.Unmount(ctx, "/run/user/1000/punlock"))

	assert.Equal(t, []string{
		"sudo mount -t tmpfs -o nosuid,nodev,noexec,size=16M,mode=0700,uid=1000,gid=1000 tmpfs /run/user/1000/punlock",
		"sudo chown 1000:1000 /run/user/1000/punlock",
		"sudo umount /run/user/1000/punlock",
	}, executor.Keys())
}

func TestSudoMounter_Errors(t *testing.T) {
	t.Parallel()

	executor := testutil.NewMockCommandExecutor()
	executor.AddErrorResponse("sudo mount", "mount: only root can use \"--options\" option\n", 1)
	executor.AddResponse("sudo umount", testutil.SpawnFailure(errors.New(`exec: "sudo": executable file not found in $PATH`)))
	m := &sudoMounter{executor: executor}

	err := m.Mount(context.Background(), "/r", MountOptions{Size: "1M"})
	var cmdErr dserrors.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "sudo mount", cmdErr.Command)
	assert.Equal(t, `mount: only root can use "--options" option`, cmdErr.Message)

	err = m.Unmount(context.Background(), "/r")
	require.ErrorAs(t, err, &cmdErr)
	assert.Contains(t, cmdErr.Suggestion, "store.volatile")
}

func TestIsMountPoint(t *testing.T) {
	t.Parallel()

	mounted, err := isMountPoint(t.TempDir())
	require.NoError(t, err)
	assert.False(t, mounted)

	mounted, err = isMountPoint("/")
	require.NoError(t, err)
	assert.True(t, mounted)

	_, err = isMountPoint("/definitely/not/here")
	assert.Error(t, err)
}
