// Package storage persists the application settings document. The reader settings live under the "nfc" key of
// that document, next to whatever else the application keeps there.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/callebjorkell/rpi-nfc-reader/reader"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/buntdb"
	"github.com/tidwall/gjson"
)

const (
	TypeBuntDB = "buntdb"
	TypeFile   = "file"

	settingsKey = "settings"
	section     = "nfc"
)

// Store loads and saves the reader settings.
type Store interface {
	reader.Store
	Save(doc reader.Document) error
	Close() error
}

// Open opens the store of the given type at path.
func Open(kind, path string) (Store, error) {
	switch kind {
	case TypeBuntDB, "":
		return OpenDB(path)
	case TypeFile:
		return NewFile(path), nil
	}
	return nil, fmt.Errorf("unknown storage type %q", kind)
}

type DB struct {
	instance *buntdb.DB
}

// OpenDB opens the buntdb database at path. ":memory:" gives a database that is never written to disk.
func OpenDB(path string) (*DB, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %v: %w", path, err)
	}
	return &DB{instance: db}, nil
}

func (db *DB) Close() error {
	return db.instance.Close()
}

func (db *DB) Load() (reader.Document, error) {
	var doc reader.Document
	err := db.instance.View(func(tx *buntdb.Tx) error {
		s, err := tx.Get(settingsKey)
		if errors.Is(err, buntdb.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		doc, err = extract([]byte(s))
		return err
	})
	return doc, err
}

func (db *DB) Save(doc reader.Document) error {
	return db.instance.Update(func(tx *buntdb.Tx) error {
		s, err := tx.Get(settingsKey)
		if err != nil && !errors.Is(err, buntdb.ErrNotFound) {
			return err
		}
		data, err := merge([]byte(s), doc)
		if err != nil {
			return err
		}
		if _, _, err := tx.Set(settingsKey, string(data), nil); err != nil {
			return err
		}
		return nil
	})
}

// Settings returns the whole settings document as stored.
func (db *DB) Settings() (string, error) {
	var s string
	err := db.instance.View(func(tx *buntdb.Tx) error {
		var err error
		s, err = tx.Get(settingsKey)
		if errors.Is(err, buntdb.ErrNotFound) {
			s = "{}"
			return nil
		}
		return err
	})
	return s, err
}

// extract decodes the reader section of a settings document. A document without one gives the zero Document.
func extract(settings []byte) (reader.Document, error) {
	var doc reader.Document
	if len(settings) == 0 {
		return doc, nil
	}
	if !gjson.ValidBytes(settings) {
		return doc, errors.New("settings document is not valid JSON")
	}
	res := gjson.GetBytes(settings, section)
	if !res.Exists() || res.Type == gjson.Null {
		return doc, nil
	}
	if !res.IsObject() {
		return doc, fmt.Errorf("%q section of the settings is not an object", section)
	}
	if err := json.Unmarshal([]byte(res.Raw), &doc); err != nil {
		return doc, fmt.Errorf("decode %q section: %w", section, err)
	}
	return doc, nil
}

// merge replaces the reader section of a settings document and keeps every other top level key.
func merge(settings []byte, doc reader.Document) ([]byte, error) {
	top := map[string]json.RawMessage{}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &top); err != nil {
			log.Warnf("Replacing unreadable settings document: %v", err)
			top = map[string]json.RawMessage{}
		}
	}
	if doc.Plugins == nil {
		doc.Plugins = map[string]map[string]any{}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	top[section] = raw
	return json.MarshalIndent(top, "", "  ")
}
