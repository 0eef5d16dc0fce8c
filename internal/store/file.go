package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Picker chooses where a vault file lives. It stands in for the system file
// dialog: it is consulted only when no handle is available.
type Picker interface {
	// PickSave returns the location for a new vault file.
	PickSave(ctx context.Context, vaultName string) (string, error)

	// PickOpen returns the location of an existing vault file.
	PickOpen(ctx context.Context, vaultName string) (string, error)
}

// DirPicker places every vault at <Dir>/<name>.enc without asking anyone.
type DirPicker struct {
	Dir string
}

// PickSave implements Picker.
func (p DirPicker) PickSave(_ context.Context, vaultName string) (string, error) {
	return filepath.Join(p.Dir, vaultName+FileExtension), nil
}

// PickOpen implements Picker.
func (p DirPicker) PickOpen(_ context.Context, vaultName string) (string, error) {
	return filepath.Join(p.Dir, vaultName+FileExtension), nil
}

// FileBackend implements Backend with one native file per vault.
type FileBackend struct {
	dir    string
	picker Picker
	logger *slog.Logger

	mu      sync.Mutex
	handles map[string]*FileHandle
}

// NewFileBackend returns a file backend rooted at dir. A nil picker places
// files in dir.
func NewFileBackend(dir string, picker Picker) *FileBackend {
	if picker == nil {
		picker = DirPicker{Dir: dir}
	}
	return &FileBackend{
		dir:     dir,
		picker:  picker,
		logger:  slog.Default(),
		handles: make(map[string]*FileHandle),
	}
}

// Kind implements Backend.
func (f *FileBackend) Kind() BackendKind { return BackendNative }

// Supported probes that the vault directory can be created and written.
func (f *FileBackend) Supported() bool {
	if f.dir == "" {
		return false
	}
	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		f.logger.Debug("native store unavailable", "dir", f.dir, "error", err)
		return false
	}
	probe, err := os.CreateTemp(f.dir, ".probe-*")
	if err != nil {
		f.logger.Debug("native store unavailable", "dir", f.dir, "error", err)
		return false
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return true
}

// Close implements Backend. Handles stay valid for a later backend instance.
func (f *FileBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handles = make(map[string]*FileHandle)
	return nil
}

func (f *FileBackend) fileHandle(h Handle) (*FileHandle, error) {
	if h == nil {
		return nil, nil
	}
	fh, ok := h.(*FileHandle)
	if !ok {
		return nil, ErrForeignHandle
	}
	return fh, nil
}

func (f *FileBackend) remember(fh *FileHandle) {
	f.mu.Lock()
	f.handles[fh.name] = fh
	f.mu.Unlock()
}

func (f *FileBackend) known(name string) *FileHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[name]
}

// accessLost classifies stat/open errors on a location a handle points at.
func accessLost(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission)
}

// Write atomically replaces the vault file. With a handle the file must still
// be the one the handle was issued for; otherwise the Picker chooses a location.
func (f *FileBackend) Write(ctx context.Context, name string, data []byte, h Handle) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fh, err := f.fileHandle(h)
	if err != nil {
		return nil, err
	}

	var path string
	if fh != nil {
		cur, err := os.Stat(fh.path)
		if err != nil {
			if accessLost(err) {
				return nil, fmt.Errorf("%w: %s", ErrAccessLost, fh.path)
			}
			return nil, fmt.Errorf("stat vault file: %w", err)
		}
		if fh.info != nil && !os.SameFile(fh.info, cur) {
			return nil, fmt.Errorf("%w: %s was replaced", ErrAccessLost, fh.path)
		}
		path = fh.path
		name = fh.name
	} else {
		path, err = f.picker.PickSave(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("choose vault location: %w", err)
		}
	}

	if err := writeFileAtomic(path, data); err != nil {
		if accessLost(err) && fh != nil {
			return nil, fmt.Errorf("%w: %v", ErrAccessLost, err)
		}
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat vault file: %w", err)
	}
	next := &FileHandle{name: name, path: path, info: info}
	f.remember(next)
	return next, nil
}

// Read returns the file contents. A handle whose file disappeared yields
// ErrAccessLost; a name with no file yields ErrVaultNotFound.
func (f *FileBackend) Read(ctx context.Context, name string, h Handle) ([]byte, Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	fh, err := f.fileHandle(h)
	if err != nil {
		return nil, nil, err
	}
	if fh == nil {
		fh = f.known(name)
	}

	if fh != nil {
		data, err := os.ReadFile(fh.path)
		if err != nil {
			if accessLost(err) {
				return nil, nil, fmt.Errorf("%w: %s", ErrAccessLost, fh.path)
			}
			return nil, nil, fmt.Errorf("read vault file: %w", err)
		}
		return data, f.refresh(fh), nil
	}

	path, err := f.picker.PickOpen(ctx, name)
	if err != nil {
		return nil, nil, fmt.Errorf("choose vault location: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrVaultNotFound
		}
		return nil, nil, fmt.Errorf("read vault file: %w", err)
	}
	return data, f.refresh(&FileHandle{name: name, path: path}), nil
}

// refresh records the current file identity on a handle after a read.
func (f *FileBackend) refresh(fh *FileHandle) *FileHandle {
	next := &FileHandle{name: fh.name, path: fh.path, info: fh.info}
	if info, err := os.Stat(fh.path); err == nil {
		next.info = info
	}
	f.remember(next)
	return next
}

// Remove deletes the vault file. A name with no handle in this process is
// located through the Picker, as Read does.
func (f *FileBackend) Remove(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var path string
	if fh := f.known(name); fh != nil {
		path = fh.path
	} else {
		var err error
		if path, err = f.picker.PickOpen(ctx, name); err != nil {
			return fmt.Errorf("choose vault location: %w", err)
		}
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrVaultNotFound
		}
		return fmt.Errorf("remove vault file: %w", err)
	}

	f.mu.Lock()
	delete(f.handles, name)
	f.mu.Unlock()
	return nil
}

// List returns the names of vault files in the backend directory.
func (f *FileBackend) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list vault directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || strings.HasPrefix(n, ".") || !strings.HasSuffix(n, FileExtension) {
			continue
		}
		names = append(names, strings.TrimSuffix(n, FileExtension))
	}
	return names, nil
}

// Enumerable implements Backend. Only the default picker keeps every file in
// the backend directory.
func (f *FileBackend) Enumerable() bool {
	_, ok := f.picker.(DirPicker)
	return ok
}

// writeFileAtomic writes data next to path and renames it into place, so a
// reader sees either the old or the new contents, never a partial file.
func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()))

	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(tmp)
		}
	}()

	if _, err = out.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = out.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace vault file: %w", err)
	}

	// Persist the rename itself. Not every platform allows syncing a directory.
	if d, derr := os.Open(dir); derr == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}
