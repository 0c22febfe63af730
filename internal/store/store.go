// Package store manages the directory that holds materialized secrets.
//
// The root is torn down and recreated at the start of every run. On Linux
// it is backed by a size-capped tmpfs so secrets never reach a disk; the
// mount is owned by the invoking user even when mounting needed root.
// Elsewhere, or when volatile storage is disabled, the root is a plain
// directory and a warning says so.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"

	dserrors "github.com/systmms/punlock/internal/errors"
	"github.com/systmms/punlock/internal/logging"
	"github.com/systmms/punlock/pkg/exec"
)

// DefaultSize is the tmpfs size cap when none is configured.
const DefaultSize = "16M"

// ErrVolatileUnsupported is returned by mounters on platforms without tmpfs.
var ErrVolatileUnsupported = errors.New("volatile storage is not supported on this platform")

var sizePattern = regexp.MustCompile(`^[0-9]+[kKmMgG%]?$`)

// ValidSize checks a tmpfs size option such as "16M" or "10%".
func ValidSize(size string) error {
	if !sizePattern.MatchString(size) {
		return fmt.Errorf("invalid tmpfs size %q: want a number with an optional k, m, g or %% suffix", size)
	}
	return nil
}

// Owner is a numeric uid/gid pair.
type Owner struct {
	UID int
	GID int
}

// MountOptions are passed to Mounter.Mount.
type MountOptions struct {
	Size  string
	Owner Owner
}

// Mounter performs the privileged parts of provisioning.
type Mounter interface {
	// Supported reports whether tmpfs can be mounted at all here.
	Supported() bool
	Mount(ctx context.Context, root string, opts MountOptions) error
	Unmount(ctx context.Context, root string) error
	Chown(ctx context.Context, root string, owner Owner) error
	IsMountPoint(root string) (bool, error)
}

// Options configures a Store.
type Options struct {
	Root     string
	Volatile bool
	Size     string
}

// Provisioned describes the root Setup produced.
type Provisioned struct {
	Root     string
	Volatile bool
}

// Store provisions and tears down the secret root.
type Store struct {
	root     string
	volatile bool
	size     string
	owner    Owner
	mounter  Mounter
	logger   *logging.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithMounter replaces the platform mounter.
func WithMounter(m Mounter) Option {
	return func(s *Store) {
		s.mounter = m
	}
}

// WithOwner overrides the owner the root is handed to.
func WithOwner(o Owner) Option {
	return func(s *Store) {
		s.owner = o
	}
}

// WithExecutor sets the executor the default mounter uses for sudo.
func WithExecutor(e exec.CommandExecutor) Option {
	return func(s *Store) {
		s.mounter = NewMounter(e)
	}
}

// New creates a store for opts.Root.
func New(opts Options, logger *logging.Logger, options ...Option) *Store {
	if logger == nil {
		logger = logging.Discard()
	}
	size := opts.Size
	if size == "" {
		size = DefaultSize
	}

	s := &Store{
		root:     opts.Root,
		volatile: opts.Volatile,
		size:     size,
		owner:    InvokingOwner(),
		logger:   logger,
	}
	for _, opt := range options {
		opt(s)
	}
	if s.mounter == nil {
		s.mounter = NewMounter(exec.DefaultExecutor())
	}
	return s
}

// Root returns the store root path.
func (s *Store) Root() string {
	return s.root
}

// VolatileSupported reports whether this platform can back the root with tmpfs.
func (s *Store) VolatileSupported() bool {
	return s.mounter.Supported()
}

// Mounted reports whether the root is currently a mount point.
func (s *Store) Mounted() bool {
	mounted, err := s.mounter.IsMountPoint(s.root)
	return err == nil && mounted
}

// Teardown unmounts and deletes the root. Every failure is logged and
// ignored; a missing root is a no-op.
func (s *Store) Teardown(ctx context.Context) {
	if _, err := os.Lstat(s.root); errors.Is(err, os.ErrNotExist) {
		s.logger.Debug("Store root %s does not exist, nothing to tear down", s.root)
		return
	}

	if mounted, err := s.mounter.IsMountPoint(s.root); err != nil {
		s.logger.Debug("Could not tell whether %s is mounted: %v", s.root, err)
	} else if mounted {
		if err := s.mounter.Unmount(ctx, s.root); err != nil {
			s.logger.Warn("Failed to unmount %s: %v", s.root, err)
		}
	}

	if err := os.RemoveAll(s.root); err != nil {
		s.logger.Warn("Failed to remove %s: %v", s.root, err)
		return
	}
	s.logger.Debug("Removed store root %s", s.root)
}

// Setup creates the root and, when enabled and supported, mounts a tmpfs
// on it owned by the invoking user. Mount or ownership failures are fatal
// *errors.MountError values.
func (s *Store) Setup(ctx context.Context) (Provisioned, error) {
	plain := Provisioned{Root: s.root}

	if err := os.MkdirAll(s.root, 0o700); err != nil {
		return plain, &dserrors.IoError{Op: "mkdir", Path: s.root, Err: err}
	}

	if !s.volatile {
		s.logger.Warn("Volatile storage disabled: secrets in %s stay on disk until the next run", s.root)
		return plain, nil
	}
	if !s.mounter.Supported() {
		s.logger.Warn("tmpfs is not available on this platform: %s is a plain directory", s.root)
		return plain, nil
	}

	opts := MountOptions{Size: s.size, Owner: s.owner}
	if err := s.mounter.Mount(ctx, s.root, opts); err != nil {
		if errors.Is(err, ErrVolatileUnsupported) {
			s.logger.Warn("tmpfs is not available: %s is a plain directory", s.root)
			return plain, nil
		}
		return plain, &dserrors.MountError{Root: s.root, Op: "mount", Err: err}
	}

	if err := s.mounter.Chown(ctx, s.root, s.owner); err != nil {
		return plain, &dserrors.MountError{Root: s.root, Op: "chown", Err: err}
	}

	s.logger.Debug("Mounted tmpfs (size=%s) at %s for uid %d", s.size, s.root, s.owner.UID)
	return Provisioned{Root: s.root, Volatile: true}, nil
}

func mountData(opts MountOptions) string {
	return fmt.Sprintf("size=%s,mode=0700,uid=%d,gid=%d", opts.Size, opts.Owner.UID, opts.Owner.GID)
}
