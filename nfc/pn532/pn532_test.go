package pn532

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/callebjorkell/rpi-nfc-reader/nfc"
	"github.com/callebjorkell/rpi-nfc-reader/pins"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChip answers PN532 commands the way the real chip does: an ACK first, then the response.
type fakeChip struct {
	mu       sync.Mutex
	ic       byte
	silent   bool
	cards    [][]byte
	failures int
	pending  [][]byte
	commands []byte
	closed   bool
}

func (f *fakeChip) Write(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(b) < 7 {
		return errors.New("runt frame")
	}
	cmd := b[6]
	f.commands = append(f.commands, cmd)
	if f.silent {
		return nil
	}

	f.pending = append(f.pending, ackFrame)
	switch cmd {
	case cmdGetFirmwareVersion:
		f.pending = append(f.pending, frame(pn532ToHost, []byte{cmd + 1, f.ic, 0x01, 0x06, 0x07}))
	case cmdSAMConfiguration:
		f.pending = append(f.pending, frame(pn532ToHost, []byte{cmd + 1}))
	case cmdInListPassiveTarget:
		if f.failures > 0 {
			f.failures--
			f.pending = nil
			return errors.New("i2c: remote I/O error")
		}
		if len(f.cards) > 0 {
			uid := f.cards[0]
			f.cards = f.cards[1:]
			data := []byte{cmd + 1, 0x01, 0x01, 0x00, 0x04, 0x08, byte(len(uid))}
			f.pending = append(f.pending, frame(pn532ToHost, append(data, uid...)))
		}
	}
	return nil
}

func (f *fakeChip) Ready() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending) > 0, nil
}

func (f *fakeChip) Read(n int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil, errNotReady
	}
	out := make([]byte, n)
	copy(out, f.pending[0])
	f.pending = f.pending[1:]
	return out, nil
}

func (f *fakeChip) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChip) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeChip) addCard(uid ...byte) {
	f.mu.Lock()
	f.cards = append(f.cards, uid)
	f.mu.Unlock()
}

type fakePin struct {
	mu     sync.Mutex
	levels []string
	closed bool
}

func (p *fakePin) High() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.levels = append(p.levels, "high")
	return nil
}

func (p *fakePin) Low() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.levels = append(p.levels, "low")
	return nil
}

func (p *fakePin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type scans struct {
	mu  sync.Mutex
	ids []string
}

func (s *scans) onScan(id string) error {
	s.mu.Lock()
	s.ids = append(s.ids, id)
	s.mu.Unlock()
	return nil
}

func (s *scans) get() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

func config(t *testing.T, raw map[string]any) nfc.Config {
	cfg, errs := Schema().Validate(raw)
	require.Empty(t, errs)
	return cfg
}

func withChip(chip *fakeChip) Option {
	return WithTransport(func(nfc.Config) (Transport, error) {
		return chip, nil
	})
}

func TestReaderReadsCards(t *testing.T) {
	chip := &fakeChip{ic: expectedIC}
	s := &scans{}
	r := New(config(t, map[string]any{"interface": "i2c", "poll_interval": 0.1}), s.onScan, withChip(chip))

	require.NoError(t, r.Start())
	defer r.Stop()
	assert.Equal(t, Firmware{IC: 0x32, Ver: 1, Rev: 6, Support: 7}, r.Firmware())

	chip.addCard(0xaa, 0xbb, 0xcc)
	chip.addCard(0xaa, 0xbb, 0xcc)
	chip.addCard(0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66)

	assert.Eventually(t, func() bool {
		return len(s.get()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"AABBCC", "04112233445566"}, s.get())
	assert.Equal(t, uint64(1), r.Stats().Ignored)

	require.NoError(t, r.Stop())
	assert.True(t, chip.isClosed())
}

func TestReaderStartIsIdempotent(t *testing.T) {
	chip := &fakeChip{ic: expectedIC}
	r := New(config(t, map[string]any{"interface": "i2c"}), nil, withChip(chip))

	require.NoError(t, r.Start())
	require.NoError(t, r.Start())
	require.NoError(t, r.Stop())
	assert.NoError(t, r.Stop())
}

func TestReaderStopBeforeStart(t *testing.T) {
	r := New(config(t, map[string]any{"interface": "spi"}), nil, withChip(&fakeChip{}))
	assert.NoError(t, r.Stop())
}

func TestReaderStartFailures(t *testing.T) {
	tests := []struct {
		name  string
		chip  *fakeChip
		open  error
		cause string
	}{
		{"wrong chip", &fakeChip{ic: 0x00}, nil, "unexpected PN532 firmware"},
		{"nothing answering", &fakeChip{silent: true}, nil, "waiting for ACK"},
		{"bus unavailable", nil, errors.New("open I2C1: no such bus"), "no such bus"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pin := &fakePin{}
			r := New(
				config(t, map[string]any{"interface": "i2c", "reset_pin": 25}),
				nil,
				WithTransport(func(nfc.Config) (Transport, error) {
					if tc.open != nil {
						return nil, tc.open
					}
					return tc.chip, nil
				}),
				WithResetPin(func(int) (pins.Output, error) { return pin, nil }),
				WithResetTiming(0, 0),
			)

			err := r.Start()
			var herr *nfc.HardwareInitError
			require.True(t, errors.As(err, &herr))
			assert.Equal(t, ID, herr.Plugin)
			assert.ErrorContains(t, err, tc.cause)

			if tc.chip != nil {
				assert.True(t, tc.chip.isClosed(), "transport released")
			}
			assert.True(t, pin.closed, "reset line released")
			assert.NoError(t, r.Stop())
		})
	}
}

func TestReaderResetPulse(t *testing.T) {
	pin := &fakePin{}
	var opened int
	r := New(
		config(t, map[string]any{"interface": "i2c", "reset_pin": 20}),
		nil,
		withChip(&fakeChip{ic: expectedIC}),
		WithResetPin(func(n int) (pins.Output, error) {
			opened = n
			return pin, nil
		}),
		WithResetTiming(0, 0),
	)

	require.NoError(t, r.Start())
	assert.Equal(t, 20, opened)
	assert.Equal(t, []string{"low", "high"}, pin.levels)
	require.NoError(t, r.Stop())
	assert.True(t, pin.closed)
}

func TestReaderKeepsPollingAfterReadErrors(t *testing.T) {
	chip := &fakeChip{ic: expectedIC, failures: 3}
	s := &scans{}
	r := New(config(t, map[string]any{"interface": "i2c", "poll_interval": 0.1}), s.onScan, withChip(chip))
	chip.addCard(0x01, 0x02, 0x03, 0x04)

	require.NoError(t, r.Start())
	defer r.Stop()

	assert.Eventually(t, func() bool {
		return len(s.get()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"01020304"}, s.get())
	assert.Equal(t, uint64(3), r.Stats().Errors)
}

func TestReaderSimulateScanIsDebounced(t *testing.T) {
	s := &scans{}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := New(
		config(t, map[string]any{"interface": "i2c", "debounce_time": 1.0}),
		s.onScan,
		withChip(&fakeChip{ic: expectedIC}),
		WithClock(func() time.Time { return now }),
	)

	r.SimulateScan("AABBCC")
	r.SimulateScan("AABBCC")
	assert.Equal(t, []string{"AABBCC"}, s.get())

	now = now.Add(time.Second)
	r.SimulateScan("AABBCC")
	assert.Len(t, s.get(), 2)
}

func TestSchema(t *testing.T) {
	r := New(nil, nil)
	assert.Equal(t, "PN532 (I2C/SPI)", r.PluginName())

	errs := r.ValidateConfig(map[string]any{"interface": "i2c", "i2c_address": 128})
	require.Len(t, errs, 1)
	assert.Equal(t, "i2c_address", errs[0].Field)

	errs = r.ValidateConfig(map[string]any{"interface": "uart"})
	require.Len(t, errs, 1)
	assert.Equal(t, "interface", errs[0].Field)

	cfg, errs := r.ConfigSchema().Validate(map[string]any{"interface": "i2c"})
	require.Empty(t, errs)
	assert.Equal(t, 1, cfg.Int("i2c_bus"))
	assert.Equal(t, 0x24, cfg.Int("i2c_address"))
	assert.Equal(t, 0.5, cfg.Float("poll_interval"))
	assert.Equal(t, 1.0, cfg.Float("debounce_time"))
	assert.False(t, cfg.Has("reset_pin"))
}
