package nfc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopReader struct {
	cfg Config
}

func (n *nopReader) Start() error         { return nil }
func (n *nopReader) Stop() error          { return nil }
func (n *nopReader) SimulateScan(string)  {}
func (n *nopReader) ConfigSchema() Schema { return testSchema() }
func (n *nopReader) PluginName() string   { return "Nop" }

func (n *nopReader) ValidateConfig(raw map[string]any) []FieldError {
	_, errs := testSchema().Validate(raw)
	return errs
}

func nopDescriptor(id string) Descriptor {
	return Descriptor{
		ID:     id,
		Name:   "Nop " + id,
		Schema: testSchema(),
		New: func(cfg Config, _ ScanFunc) (Reader, error) {
			return &nopReader{cfg: cfg}, nil
		},
	}
}

func TestRegistryLookup(t *testing.T) {
	reg, err := NewRegistry(nopDescriptor("a"), nopDescriptor("b"))
	require.NoError(t, err)

	d, err := reg.Lookup("b")
	require.NoError(t, err)
	assert.Equal(t, "Nop b", d.Name)
	assert.Equal(t, []string{"a", "b"}, reg.IDs())
	assert.Len(t, reg.Descriptors(), 2)

	_, err = reg.Lookup("nonexistent")
	var cerr *ConfigurationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "nonexistent", cerr.Plugin)
	assert.Contains(t, err.Error(), `unknown plugin "nonexistent"`)
}

func TestRegistryRejectsBadTables(t *testing.T) {
	_, err := NewRegistry(nopDescriptor("a"), nopDescriptor("a"))
	assert.Error(t, err)

	_, err = NewRegistry(Descriptor{ID: "x"})
	assert.Error(t, err)

	_, err = NewRegistry(Descriptor{New: nopDescriptor("x").New})
	assert.Error(t, err)

	assert.Panics(t, func() { MustRegistry(nopDescriptor("a"), nopDescriptor("a")) })
}

func TestDescriptorValidate(t *testing.T) {
	d := nopDescriptor("nop")

	cfg, err := d.Validate(map[string]any{"interface": "spi"})
	require.NoError(t, err)
	assert.Equal(t, "spi", cfg.String("interface"))

	_, err = d.Validate(map[string]any{"interface": "spi", "i2c_address": 300})
	var cerr *ConfigurationError
	require.True(t, errors.As(err, &cerr))
	assert.True(t, cerr.HasField("i2c_address"))
	assert.False(t, cerr.HasField("interface"))
}

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("bus gone")

	herr := &HardwareInitError{Plugin: "pn532", Cause: cause}
	assert.ErrorIs(t, herr, cause)
	assert.Contains(t, herr.Error(), "pn532")

	rerr := &TransientReadError{Plugin: "pn532", Err: cause}
	assert.ErrorIs(t, rerr, cause)

	cberr := &CallbackError{CardID: "AABB", Err: cause}
	assert.ErrorIs(t, cberr, cause)
	assert.Contains(t, cberr.Error(), "AABB")
}
