package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/callebjorkell/rpi-nfc-reader/reader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/buntdb"
	"github.com/tidwall/gjson"
)

func pn532Doc() reader.Document {
	return reader.Document{
		Active: "pn532",
		Plugins: map[string]map[string]any{
			"pn532": {"interface": "i2c", "i2c_address": float64(36), "poll_interval": 0.5},
		},
	}
}

func TestReadWriteSettings(t *testing.T) {
	db, err := OpenDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	doc, err := db.Load()
	require.NoError(t, err)
	assert.Equal(t, reader.Document{}, doc, "empty database")

	require.NoError(t, db.Save(pn532Doc()))
	doc, err = db.Load()
	require.NoError(t, err)
	assert.Equal(t, pn532Doc(), doc)
}

func TestSaveKeepsOtherSettings(t *testing.T) {
	db, err := OpenDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	err = db.instance.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(settingsKey, `{"volume": 30, "nfc": {"active": "mock"}}`, nil)
		return err
	})
	require.NoError(t, err)

	doc, err := db.Load()
	require.NoError(t, err)
	assert.Equal(t, "mock", doc.Active)

	require.NoError(t, db.Save(pn532Doc()))
	s, err := db.Settings()
	require.NoError(t, err)
	assert.Equal(t, int64(30), gjson.Get(s, "volume").Int())
	assert.Equal(t, "pn532", gjson.Get(s, "nfc.active").String())
	assert.Equal(t, "i2c", gjson.Get(s, "nfc.plugins.pn532.interface").String())
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name      string
		settings  string
		assertion func(t *testing.T, doc reader.Document, err error)
	}{
		{
			"no nfc section",
			`{"volume": 30}`,
			func(t *testing.T, doc reader.Document, err error) {
				assert.NoError(t, err)
				assert.Empty(t, doc.Active)
			},
		},
		{
			"null nfc section",
			`{"nfc": null}`,
			func(t *testing.T, doc reader.Document, err error) {
				assert.NoError(t, err)
			},
		},
		{
			"nfc section of the wrong type",
			`{"nfc": "pn532"}`,
			func(t *testing.T, doc reader.Document, err error) {
				assert.Error(t, err)
			},
		},
		{
			"broken json",
			`{"nfc": {`,
			func(t *testing.T, doc reader.Document, err error) {
				assert.Error(t, err)
			},
		},
		{
			"stored configuration",
			`{"nfc": {"active": "rc522", "plugins": {"rc522": {"antenna_gain": 4}}}}`,
			func(t *testing.T, doc reader.Document, err error) {
				require.NoError(t, err)
				assert.Equal(t, "rc522", doc.Active)
				assert.Equal(t, float64(4), doc.PluginConfig("rc522")["antenna_gain"])
				assert.Nil(t, doc.PluginConfig("pn532"))
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := extract([]byte(tc.settings))
			tc.assertion(t, doc, err)
		})
	}
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	f := NewFile(path)

	doc, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, reader.Document{}, doc, "missing file")

	require.NoError(t, os.WriteFile(path, []byte(`{"cards": {"AABBCC": "spotify:1"}}`), 0o644))
	require.NoError(t, f.Save(pn532Doc()))

	doc, err = f.Load()
	require.NoError(t, err)
	assert.Equal(t, pn532Doc(), doc)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "spotify:1", gjson.GetBytes(data, "cards.AABBCC").String())
}

func TestFileStoreIgnoresGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	f := NewFile(path)
	doc, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, reader.Document{}, doc)

	require.NoError(t, f.Save(reader.Document{Active: "mock"}))
	doc, err = f.Load()
	require.NoError(t, err)
	assert.Equal(t, "mock", doc.Active)
}

func TestOpen(t *testing.T) {
	s, err := Open(TypeBuntDB, ":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(TypeFile, filepath.Join(t.TempDir(), "s.json"))
	require.NoError(t, err)
	assert.IsType(t, &File{}, s)

	_, err = Open("redis", "")
	assert.Error(t, err)
}
