package store

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dserrors "github.com/systmms/punlock/internal/errors"
	"github.com/systmms/punlock/internal/logging"
)

type fakeMounter struct {
	supported bool
	mounted   bool

	mountErr   error
	unmountErr error
	chownErr   error

	mounts   []MountOptions
	unmounts int
	chowns   []Owner
}

func (f *fakeMounter) Supported() bool { return f.supported }

func (f *fakeMounter) Mount(ctx context.Context, root string, opts MountOptions) error {
	f.mounts = append(f.mounts, opts)
	if f.mountErr != nil {
		return f.mountErr
	}
	f.mounted = true
	return nil
}

func (f *fakeMounter) Unmount(ctx context.Context, root string) error {
	f.unmounts++
	if f.unmountErr != nil {
		return f.unmountErr
	}
	f.mounted = false
	return nil
}

func (f *fakeMounter) Chown(ctx context.Context, root string, owner Owner) error {
	f.chowns = append(f.chowns, owner)
	return f.chownErr
}

func (f *fakeMounter) IsMountPoint(root string) (bool, error) { return f.mounted, nil }

func newTestStore(t *testing.T, root string, volatile bool, m Mounter) (*Store, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	s := New(Options{Root: root, Volatile: volatile, Size: "8M"}, logging.NewWithWriter(&buf, true, true),
		WithMounter(m), WithOwner(Owner{UID: 1000, GID: 100}))
	return s, &buf
}

func TestTeardown_MissingRootIsNoop(t *testing.T) {
	t.Parallel()

	m := &fakeMounter{supported: true}
	root := filepath.Join(t.TempDir(), "never-created")
	s, _ := newTestStore(t, root, true, m)

	s.Teardown(context.Background())

	assert.Zero(t, m.unmounts)
	_, err := os.Stat(root)
	assert.True(t, os.IsNotExist(err))
}

func TestTeardown_RemovesContents(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "punlock")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "ssh"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ssh", "id"), []byte("k\n"), 0o400))

	m := &fakeMounter{supported: true}
	s, _ := newTestStore(t, root, true, m)
	s.Teardown(context.Background())

	assert.Zero(t, m.unmounts, "plain directory is not unmounted")
	_, err := os.Stat(root)
	assert.True(t, os.IsNotExist(err))
}

func TestTeardown_UnmountsAndIgnoresFailures(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "punlock")
	require.NoError(t, os.MkdirAll(root, 0o700))

	m := &fakeMounter{supported: true, mounted: true, unmountErr: errors.New("target is busy")}
	s, logs := newTestStore(t, root, true, m)
	s.Teardown(context.Background())

	assert.Equal(t, 1, m.unmounts)
	assert.Contains(t, logs.String(), "target is busy")
}

func TestSetup_MountsTmpfsForInvokingUser(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "punlock")
	m := &fakeMounter{supported: true}
	s, _ := newTestStore(t, root, true, m)

	got, err := s.Setup(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Provisioned{Root: root, Volatile: true}, got)
	assert.Equal(t, []MountOptions{{Size: "8M", Owner: Owner{UID: 1000, GID: 100}}}, m.mounts)
	assert.Equal(t, []Owner{{UID: 1000, GID: 100}}, m.chowns)
	assert.True(t, s.Mounted())

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestSetup_Fallbacks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		volatile bool
		mounter  *fakeMounter
		wantLog  string
	}{
		{
			name:     "volatile disabled",
			volatile: false,
			mounter:  &fakeMounter{supported: true},
			wantLog:  "Volatile storage disabled",
		},
		{
			name:     "platform unsupported",
			volatile: true,
			mounter:  &fakeMounter{supported: false},
			wantLog:  "tmpfs is not available on this platform",
		},
		{
			name:     "mounter reports unsupported",
			volatile: true,
			mounter:  &fakeMounter{supported: true, mountErr: ErrVolatileUnsupported},
			wantLog:  "tmpfs is not available",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			root := filepath.Join(t.TempDir(), "punlock")
			s, logs := newTestStore(t, root, tt.volatile, tt.mounter)

			got, err := s.Setup(context.Background())
			require.NoError(t, err)

			assert.False(t, got.Volatile)
			assert.Contains(t, logs.String(), tt.wantLog)
			assert.Empty(t, tt.mounter.chowns)
			_, statErr := os.Stat(root)
			assert.NoError(t, statErr)
		})
	}
}

func TestSetup_MountFailuresAreFatal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mounter *fakeMounter
		wantOp  string
	}{
		{
			name:    "mount",
			mounter: &fakeMounter{supported: true, mountErr: errors.New("sudo: a password is required")},
			wantOp:  "mount",
		},
		{
			name:    "chown",
			mounter: &fakeMounter{supported: true, chownErr: errors.New("operation not permitted")},
			wantOp:  "chown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, _ := newTestStore(t, filepath.Join(t.TempDir(), "punlock"), true, tt.mounter)
			_, err := s.Setup(context.Background())

			var mountErr *dserrors.MountError
			require.ErrorAs(t, err, &mountErr)
			assert.Equal(t, tt.wantOp, mountErr.Op)
		})
	}
}

func TestSetup_RootCreationFailure(t *testing.T) {
	t.Parallel()

	parent := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(parent, []byte("x"), 0o600))

	s, _ := newTestStore(t, filepath.Join(parent, "punlock"), true, &fakeMounter{supported: true})
	_, err := s.Setup(context.Background())

	var ioErr *dserrors.IoError
	assert.ErrorAs(t, err, &ioErr)
}

func TestValidSize(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{"16M", "512k", "1G", "50%", "1048576"} {
		assert.NoError(t, ValidSize(ok), ok)
	}
	for _, bad := range []string{"", "M", "16 M", "16MB", "-1", "size=1,exec"} {
		assert.Error(t, ValidSize(bad), bad)
	}
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	s := New(Options{Root: "/tmp/x", Volatile: true}, nil, WithMounter(&fakeMounter{}))
	assert.Equal(t, DefaultSize, s.size)
	assert.Equal(t, "/tmp/x", s.Root())
	assert.False(t, s.VolatileSupported())
}
