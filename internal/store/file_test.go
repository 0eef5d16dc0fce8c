package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// countingPicker records how often the user would have been prompted.
type countingPicker struct {
	dir string

	mu    sync.Mutex
	saves int
	opens int
}

func (p *countingPicker) PickSave(_ context.Context, name string) (string, error) {
	p.mu.Lock()
	p.saves++
	p.mu.Unlock()
	return filepath.Join(p.dir, name+FileExtension), nil
}

func (p *countingPicker) PickOpen(_ context.Context, name string) (string, error) {
	p.mu.Lock()
	p.opens++
	p.mu.Unlock()
	return filepath.Join(p.dir, name+FileExtension), nil
}

type cancelPicker struct{}

func (cancelPicker) PickSave(context.Context, string) (string, error) { return "", ErrPickCanceled }
func (cancelPicker) PickOpen(context.Context, string) (string, error) { return "", ErrPickCanceled }

func TestFileBackend_WriteReusesHandle(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	picker := &countingPicker{dir: dir}
	f := NewFileBackend(dir, picker)

	h, err := f.Write(ctx, "Acme", []byte("v1"), nil)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	for i := 0; i < 3; i++ {
		if h, err = f.Write(ctx, "Acme", []byte("v2"), h); err != nil {
			t.Fatalf("Write with handle: %v", err)
		}
	}

	if picker.saves != 1 {
		t.Errorf("picker prompted %d times, want 1", picker.saves)
	}

	data, err := os.ReadFile(filepath.Join(dir, "Acme"+FileExtension))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "v2" {
		t.Errorf("file = %q, want %q", data, "v2")
	}

	info, _ := os.Stat(filepath.Join(dir, "Acme"+FileExtension))
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected file permissions 0600, got %04o", perm)
	}
}

func TestFileBackend_NoTempFilesLeft(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	f := NewFileBackend(dir, nil)

	h, _ := f.Write(ctx, "Acme", []byte("v1"), nil)
	if _, err := f.Write(ctx, "Acme", []byte("v2"), h); err != nil {
		t.Fatalf("Write: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestFileBackend_ReadReturnsHandle(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Acme"+FileExtension), []byte("sealed"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	picker := &countingPicker{dir: dir}
	f := NewFileBackend(dir, picker)

	data, h, err := f.Read(ctx, "Acme", nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "sealed" {
		t.Errorf("Read = %q", data)
	}
	if _, err := f.Write(ctx, "Acme", []byte("resealed"), h); err != nil {
		t.Fatalf("Write with read handle: %v", err)
	}
	if picker.saves != 0 || picker.opens != 1 {
		t.Errorf("prompts: saves=%d opens=%d, want 0 and 1", picker.saves, picker.opens)
	}
}

func TestFileBackend_ReadMissing(t *testing.T) {
	f := NewFileBackend(t.TempDir(), nil)
	if _, _, err := f.Read(context.Background(), "nope", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileBackend_StaleHandle(t *testing.T) {
	ctx := context.Background()

	t.Run("deleted", func(t *testing.T) {
		dir := t.TempDir()
		f := NewFileBackend(dir, nil)
		h, _ := f.Write(ctx, "Acme", []byte("v1"), nil)

		os.Remove(filepath.Join(dir, "Acme"+FileExtension))

		if _, err := f.Write(ctx, "Acme", []byte("v2"), h); !errors.Is(err, ErrAccessLost) {
			t.Fatalf("Write: expected ErrAccessLost, got %v", err)
		}
		if _, _, err := f.Read(ctx, "Acme", h); !errors.Is(err, ErrAccessLost) {
			t.Fatalf("Read: expected ErrAccessLost, got %v", err)
		}
	})

	t.Run("moved", func(t *testing.T) {
		dir := t.TempDir()
		f := NewFileBackend(dir, nil)
		h, _ := f.Write(ctx, "Acme", []byte("v1"), nil)

		src := filepath.Join(dir, "Acme"+FileExtension)
		if err := os.Rename(src, filepath.Join(dir, "Moved"+FileExtension)); err != nil {
			t.Fatalf("Rename: %v", err)
		}

		if _, err := f.Write(ctx, "Acme", []byte("v2"), h); !errors.Is(err, ErrAccessLost) {
			t.Fatalf("expected ErrAccessLost, got %v", err)
		}
	})

	t.Run("replaced", func(t *testing.T) {
		dir := t.TempDir()
		f := NewFileBackend(dir, nil)
		h, _ := f.Write(ctx, "Acme", []byte("v1"), nil)

		// Swap in a different file under the same name.
		path := filepath.Join(dir, "Acme"+FileExtension)
		if err := os.WriteFile(path+".new", []byte("someone else"), 0o600); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		if err := os.Rename(path+".new", path); err != nil {
			t.Fatalf("Rename: %v", err)
		}

		if _, err := f.Write(ctx, "Acme", []byte("v2"), h); !errors.Is(err, ErrAccessLost) {
			t.Fatalf("expected ErrAccessLost, got %v", err)
		}
		data, _ := os.ReadFile(path)
		if string(data) != "someone else" {
			t.Error("stale handle overwrote a replaced file")
		}
	})
}

func TestFileBackend_PickerCanceled(t *testing.T) {
	f := NewFileBackend(t.TempDir(), cancelPicker{})
	if _, err := f.Write(context.Background(), "Acme", []byte("x"), nil); !errors.Is(err, ErrPickCanceled) {
		t.Fatalf("expected ErrPickCanceled, got %v", err)
	}
}

func TestFileBackend_RemovePickedLocation(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	elsewhere := t.TempDir()

	writer := NewFileBackend(dir, &countingPicker{dir: elsewhere})
	if _, err := writer.Write(ctx, "Acme", []byte("sealed"), nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	path := filepath.Join(elsewhere, "Acme"+FileExtension)

	// A fresh backend has no handle for the vault and must ask the picker.
	picker := &countingPicker{dir: elsewhere}
	f := NewFileBackend(dir, picker)
	if err := f.Remove(ctx, "Acme"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if picker.opens != 1 {
		t.Errorf("picker opens = %d, want 1", picker.opens)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("vault file still present: %v", err)
	}

	if err := NewFileBackend(dir, cancelPicker{}).Remove(ctx, "Acme"); !errors.Is(err, ErrPickCanceled) {
		t.Errorf("expected ErrPickCanceled, got %v", err)
	}
}

func TestFileBackend_RemoveAndList(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	f := NewFileBackend(dir, nil)

	for _, name := range []string{"Acme", "Beta Co"} {
		if _, err := f.Write(ctx, name, []byte(name), nil); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	// Unrelated files are ignored.
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600)

	names, err := f.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("List = %v, want 2 names", names)
	}

	if err := f.Remove(ctx, "Acme"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := f.Remove(ctx, "Acme"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileBackend_Supported(t *testing.T) {
	if !NewFileBackend(t.TempDir(), nil).Supported() {
		t.Error("Supported() = false for writable directory")
	}
	if NewFileBackend("", nil).Supported() {
		t.Error("Supported() = true without a directory")
	}

	blocker := filepath.Join(t.TempDir(), "file")
	os.WriteFile(blocker, []byte("x"), 0o600)
	if NewFileBackend(filepath.Join(blocker, "sub"), nil).Supported() {
		t.Error("Supported() = true beneath a regular file")
	}
}

// ---------------------------------------------------------------------------
// Selection
// ---------------------------------------------------------------------------

func TestSelect(t *testing.T) {
	native := NewFileBackend(t.TempDir(), nil)
	embedded := newTestBolt(t)
	broken := NewFileBackend("", nil)

	tests := []struct {
		name      string
		native    Backend
		embedded  Backend
		sandboxed bool
		want      BackendKind
		wantErr   error
	}{
		{"prefers_native", native, embedded, false, BackendNative, nil},
		{"sandboxed", native, embedded, true, BackendEmbedded, nil},
		{"native_unsupported", broken, embedded, false, BackendEmbedded, nil},
		{"no_native", nil, embedded, false, BackendEmbedded, nil},
		{"nothing", broken, nil, false, "", ErrUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Select(tt.native, tt.embedded, tt.sandboxed)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Select() error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && got.Kind() != tt.want {
				t.Errorf("Select() = %v, want %v", got.Kind(), tt.want)
			}
		})
	}
}

func TestFileBackend_Enumerable(t *testing.T) {
	dir := t.TempDir()
	if !NewFileBackend(dir, nil).Enumerable() {
		t.Error("default picker should be enumerable")
	}
	if NewFileBackend(dir, &countingPicker{dir: dir}).Enumerable() {
		t.Error("custom picker should not be enumerable")
	}
}
