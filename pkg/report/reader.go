package report

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/devicelab-dev/simlens/pkg/core"
)

// ReadIndex loads report.json from dir.
func ReadIndex(dir string) (*Index, error) {
	data, err := os.ReadFile(filepath.Join(dir, "report.json"))
	if err != nil {
		return nil, core.ErrStorage.Messagef("read report index in %s", dir).WithCause(err)
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, core.ErrStorage.Messagef("parse %s/report.json", dir).WithCause(err)
	}
	return &idx, nil
}

// ReadReport loads the index and every capture detail it references.
// Captures whose detail file has not been written yet get a stub detail.
func ReadReport(dir string) (*Index, []CaptureDetail, error) {
	idx, err := ReadIndex(dir)
	if err != nil {
		return nil, nil, err
	}
	details := make([]CaptureDetail, 0, len(idx.Captures))
	for _, entry := range idx.Captures {
		d, err := ReadCapture(dir, entry)
		if err != nil {
			return nil, nil, err
		}
		details = append(details, *d)
	}
	return idx, details, nil
}

// ReadCapture loads one capture detail.
func ReadCapture(dir string, entry CaptureEntry) (*CaptureDetail, error) {
	data, err := os.ReadFile(filepath.Join(dir, entry.DataFile))
	if errors.Is(err, os.ErrNotExist) {
		return &CaptureDetail{ID: entry.ID, Index: entry.Index, Source: entry.Source}, nil
	}
	if err != nil {
		return nil, core.ErrStorage.Messagef("read %s", entry.DataFile).WithCause(err)
	}
	var d CaptureDetail
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, core.ErrStorage.Messagef("parse %s", entry.DataFile).WithCause(err)
	}
	return &d, nil
}
