// Package placer writes resolved secrets into the store root with hardened
// permissions and keeps the user's symlinks pointing at them.
package placer

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	dserrors "github.com/systmms/punlock/internal/errors"
	"github.com/systmms/punlock/internal/logging"
	"github.com/systmms/punlock/pkg/vault"
)

// ErrUnsafePath is returned for entry paths that would escape the store root.
var ErrUnsafePath = errors.New("path must be relative and stay inside the store root")

// Placer writes secrets and reconciles links.
type Placer struct {
	home   string
	logger *logging.Logger
}

// New creates a placer resolving relative link targets against home.
func New(home string, logger *logging.Logger) *Placer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Placer{home: home, logger: logger}
}

// ValidatePath rejects absolute paths, any path with a ".." segment, and
// paths such as "." that name the root itself rather than something in it.
func ValidatePath(p string) error {
	if strings.TrimSpace(p) == "" {
		return fmt.Errorf("%w: empty path", ErrUnsafePath)
	}
	if filepath.IsAbs(p) || strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\`) || filepath.VolumeName(p) != "" {
		return fmt.Errorf("%w: %s is absolute", ErrUnsafePath, p)
	}
	named := false
	for _, segment := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		switch segment {
		case "..":
			return fmt.Errorf("%w: %s", ErrUnsafePath, p)
		case ".":
		default:
			named = true
		}
	}
	if !named {
		return fmt.Errorf("%w: %s names the root itself", ErrUnsafePath, p)
	}
	return nil
}

// ValidateLink checks a link target. Absolute targets are accepted as long
// as they are not a filesystem root. Relative and "~/" targets live under
// the home directory and follow the ValidatePath rules, so they can neither
// climb out of it nor replace it.
func ValidateLink(link string) error {
	link = strings.TrimSpace(link)
	if link == "" {
		return fmt.Errorf("%w: empty link target", ErrUnsafePath)
	}
	if filepath.IsAbs(link) {
		clean := filepath.Clean(link)
		if filepath.Dir(clean) == clean {
			return fmt.Errorf("%w: %s is a filesystem root", ErrUnsafePath, link)
		}
		return nil
	}
	if link == "~" {
		return fmt.Errorf("%w: ~ names the home directory itself", ErrUnsafePath)
	}
	return ValidatePath(strings.TrimPrefix(link, "~/"))
}

// Write places secret at root/entry.Path and returns the destination.
//
// Missing parents are created. The content is written verbatim plus one
// trailing newline when it does not already end in one, synced, then made
// read-only: 0400 for private entries, 0444 for public ones. A failed write
// leaves no file behind.
func (p *Placer) Write(root string, entry vault.Entry, secret []byte) (string, error) {
	if err := ValidatePath(entry.Path); err != nil {
		return "", &dserrors.IoError{Op: "validate", Path: entry.Path, Err: err}
	}

	dest := filepath.Join(root, filepath.FromSlash(entry.Path))
	if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
		return "", &dserrors.IoError{Op: "mkdir", Path: filepath.Dir(dest), Err: err}
	}

	// A read-only file from an earlier write cannot be truncated in place.
	if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", &dserrors.IoError{Op: "replace", Path: dest, Err: err}
	}

	if err := writeSynced(dest, secret); err != nil {
		_ = os.Remove(dest)
		return "", &dserrors.IoError{Op: "write", Path: dest, Err: err}
	}

	if err := restrictPermissions(dest, entry.Public); err != nil {
		_ = os.Remove(dest)
		return "", &dserrors.IoError{Op: "chmod", Path: dest, Err: err}
	}
	if !entry.Public && !ownerOnlyEnforced {
		p.logger.Warn("%s is read-only but not owner-only: this platform has no owner-only file mode", dest)
	}

	return dest, nil
}

func writeSynced(dest string, secret []byte) error {
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}

	if _, err := f.Write(secret); err != nil {
		_ = f.Close()
		return err
	}
	if !bytes.HasSuffix(secret, []byte("\n")) {
		if _, err := f.Write([]byte("\n")); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReconcileLinks makes every link in entry.Links a symlink to destination
// and returns how many links it had to create or replace.
//
// A link already pointing at destination is left alone. Anything else at
// the link path (a symlink elsewhere, a file, a directory) is removed first.
// Remove and create are two steps; a crash in between leaves the link
// missing until the next run.
func (p *Placer) ReconcileLinks(destination string, entry vault.Entry) (int, error) {
	changed := 0
	var errs []error

	for _, link := range entry.Links {
		target, err := p.resolveLink(link)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		updated, err := reconcileLink(target, destination)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if updated {
			changed++
			p.logger.Debug("Linked %s -> %s", target, destination)
		}
	}

	return changed, errors.Join(errs...)
}

func (p *Placer) resolveLink(link string) (string, error) {
	link = strings.TrimSpace(link)
	if err := ValidateLink(link); err != nil {
		return "", &dserrors.IoError{Op: "link", Path: link, Err: err}
	}
	if rest, ok := strings.CutPrefix(link, "~/"); ok {
		link = rest
	}
	if filepath.IsAbs(link) {
		return filepath.Clean(link), nil
	}
	if p.home == "" {
		return "", &dserrors.IoError{Op: "link", Path: link, Err: errors.New("home directory unknown for relative link")}
	}
	return filepath.Join(p.home, filepath.FromSlash(link)), nil
}

func reconcileLink(target, destination string) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
		return false, &dserrors.IoError{Op: "mkdir", Path: filepath.Dir(target), Err: err}
	}

	info, err := os.Lstat(target)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return false, &dserrors.IoError{Op: "stat", Path: target, Err: err}
	case info.Mode()&os.ModeSymlink != 0:
		current, err := os.Readlink(target)
		if err == nil && current == destination {
			return false, nil
		}
		if err := os.Remove(target); err != nil {
			return false, &dserrors.IoError{Op: "unlink", Path: target, Err: err}
		}
	case info.IsDir():
		if err := os.RemoveAll(target); err != nil {
			return false, &dserrors.IoError{Op: "remove", Path: target, Err: err}
		}
	default:
		if err := os.Remove(target); err != nil {
			return false, &dserrors.IoError{Op: "remove", Path: target, Err: err}
		}
	}

	if err := os.Symlink(destination, target); err != nil {
		return false, &dserrors.IoError{Op: "symlink", Path: target, Err: err}
	}
	return true, nil
}
