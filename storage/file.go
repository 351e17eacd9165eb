package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/callebjorkell/rpi-nfc-reader/reader"
	log "github.com/sirupsen/logrus"
)

// File keeps the settings document in a JSON file.
type File struct {
	path string
	mu   sync.Mutex
}

func NewFile(path string) *File {
	return &File{path: path}
}

// Load reads the reader section. A missing or unreadable file gives an empty document.
func (f *File) Load() (reader.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Debugf("No settings file at %v, using defaults", f.path)
		return reader.Document{}, nil
	}
	if err != nil {
		log.Warnf("Could not read settings from %v: %v", f.path, err)
		return reader.Document{}, nil
	}
	doc, err := extract(data)
	if err != nil {
		log.Warnf("Ignoring settings in %v: %v", f.path, err)
		return reader.Document{}, nil
	}
	return doc, nil
}

// Save replaces the reader section and leaves the rest of the file as it was. The file is replaced atomically.
func (f *File) Save(doc reader.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, err := os.ReadFile(f.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	data, err := merge(existing, doc)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

func (f *File) Close() error {
	return nil
}
