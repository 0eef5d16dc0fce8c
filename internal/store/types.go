package store

import (
	"os"
	"time"
)

// FileExtension is appended to vault names stored as native files.
const FileExtension = ".enc"

// FileHandle refers to a vault file chosen through a Picker. It remembers the
// identity of the file it last wrote or read so a file that was moved,
// deleted, or replaced behind the application's back is detected.
type FileHandle struct {
	name string
	path string
	info os.FileInfo
}

func (h *FileHandle) Backend() BackendKind { return BackendNative }
func (h *FileHandle) VaultName() string    { return h.name }

// Path returns the file location the handle grants access to.
func (h *FileHandle) Path() string { return h.path }

// indexEntry is the value stored in the embedded backend's vault_index bucket.
type indexEntry struct {
	StoredAt time.Time `json:"stored_at"`
	Size     int       `json:"size"`
}
