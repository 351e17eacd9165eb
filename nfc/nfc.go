package nfc

import (
	"encoding/hex"
	"strings"
	"time"
)

// ScanFunc is called once for every accepted card scan. A returned error is logged by the reader and never stops
// it from polling.
type ScanFunc func(cardID string) error

// Reader is implemented by every card reader driver.
type Reader interface {
	// Start begins listening for cards. Calling Start on a running reader is a no-op. Hardware failures are
	// reported as a *HardwareInitError, and leave nothing open.
	Start() error
	// Stop releases everything the reader holds. It is safe to call on readers that were never started or have
	// already been stopped.
	Stop() error
	// SimulateScan behaves as if the hardware had detected the given card.
	SimulateScan(cardID string)
	ConfigSchema() Schema
	ValidateConfig(raw map[string]any) []FieldError
	PluginName() string
}

type CardEvent struct {
	CardID string
	Time   time.Time
}

// CanonicalID formats a raw card UID as an upper case hex string with two characters per byte.
func CanonicalID(uid []byte) string {
	return strings.ToUpper(hex.EncodeToString(uid))
}
