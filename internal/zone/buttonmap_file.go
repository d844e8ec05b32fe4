package zone

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// LoadResult describes the button map active after a reload attempt.
type LoadResult struct {
	Map     ButtonMap
	Version int
	Changed bool
	// Skipped lists commands dropped from the map because they could not be
	// decoded.
	Skipped []error
}

// ButtonMapFile loads a button map from a JSON file and reloads it when the
// file's modification time advances.
type ButtonMapFile struct {
	path string

	mu      sync.Mutex
	lastMod time.Time
	version int
	current ButtonMap
}

// NewButtonMapFile creates a source for the file at path. Nothing is read
// until the first Reload.
func NewButtonMapFile(path string) *ButtonMapFile {
	return &ButtonMapFile{path: path, current: ButtonMap{}}
}

// Path returns the file location.
func (f *ButtonMapFile) Path() string {
	return f.path
}

// Reload re-reads the file if it changed since the last successful load. On
// any failure the previous map stays active and the error wraps ErrMapLoad.
func (f *ButtonMapFile) Reload() (LoadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	unchanged := LoadResult{Map: f.current, Version: f.version}

	info, err := os.Stat(f.path)
	if err != nil {
		return unchanged, fmt.Errorf("%w: %w", ErrMapLoad, err)
	}
	if !info.ModTime().After(f.lastMod) {
		return unchanged, nil
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return unchanged, fmt.Errorf("%w: %w", ErrMapLoad, err)
	}
	m, skipped, err := ParseButtonMap(data)
	if err != nil {
		return unchanged, err
	}

	f.current = m
	f.lastMod = info.ModTime()
	f.version++
	return LoadResult{Map: m, Version: f.version, Changed: true, Skipped: skipped}, nil
}
