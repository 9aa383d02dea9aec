package core

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to a temp file in the same directory and
// renames it over path, so readers never see a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ErrStorage.Messagef("create %s", dir).WithCause(err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return ErrStorage.Messagef("create temp for %s", path).WithCause(err)
	}
	name := tmp.Name()
	cleanup := func() { _ = os.Remove(name) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return ErrStorage.Messagef("write %s", path).WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return ErrStorage.Messagef("close %s", path).WithCause(err)
	}
	if err := os.Chmod(name, perm); err != nil {
		cleanup()
		return ErrStorage.Messagef("chmod %s", path).WithCause(err)
	}
	if err := os.Rename(name, path); err != nil {
		cleanup()
		return ErrStorage.Messagef("rename %s", path).WithCause(err)
	}
	return nil
}

// WriteJSONAtomic marshals v with indentation and writes it atomically.
func WriteJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ErrStorage.Messagef("encode %s", path).WithCause(err)
	}
	return WriteFileAtomic(path, data, 0o644)
}
