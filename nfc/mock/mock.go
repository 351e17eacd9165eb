// Package mock provides a card reader without any hardware. Cards only show up through SimulateScan, which makes it
// the default reader and the fallback whenever a hardware reader cannot be started.
package mock

import (
	"sync"
	"time"

	"github.com/callebjorkell/rpi-nfc-reader/nfc"
	log "github.com/sirupsen/logrus"
)

const (
	ID   = "mock"
	Name = "Mock (Simulation Only)"
)

func Descriptor() nfc.Descriptor {
	return nfc.Descriptor{
		ID:     ID,
		Name:   Name,
		Schema: nfc.Schema{},
		New: func(_ nfc.Config, onScan nfc.ScanFunc) (nfc.Reader, error) {
			return New(onScan), nil
		},
	}
}

func New(onScan nfc.ScanFunc) *Reader {
	return &Reader{onScan: onScan}
}

type Reader struct {
	onScan nfc.ScanFunc

	mu      sync.Mutex
	running bool
}

func (m *Reader) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}
	m.running = true
	log.Infoln("Mock NFC reader started (simulation only)")
	return nil
}

func (m *Reader) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}
	m.running = false
	log.Infoln("Mock NFC reader stopped")
	return nil
}

func (m *Reader) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// SimulateScan passes the card straight to the callback. The mock reader does not debounce.
func (m *Reader) SimulateScan(cardID string) {
	log.Infof("Simulating NFC scan: %v", cardID)
	_ = nfc.Notify(ID, m.onScan, nfc.CardEvent{CardID: cardID, Time: time.Now()})
}

func (m *Reader) ConfigSchema() nfc.Schema {
	return nfc.Schema{}
}

func (m *Reader) ValidateConfig(raw map[string]any) []nfc.FieldError {
	_, errs := m.ConfigSchema().Validate(raw)
	return errs
}

func (m *Reader) PluginName() string {
	return Name
}
