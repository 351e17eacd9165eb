package reader

import (
	"time"

	"github.com/callebjorkell/rpi-nfc-reader/nfc"
	"github.com/callebjorkell/rpi-nfc-reader/nfc/mock"
	"github.com/callebjorkell/rpi-nfc-reader/nfc/pn532"
	"github.com/callebjorkell/rpi-nfc-reader/nfc/rc522"
)

// DefaultRegistry is the table of every reader this build knows about. New readers are added here.
func DefaultRegistry(stopTimeout time.Duration) *nfc.Registry {
	return nfc.MustRegistry(
		mock.Descriptor(),
		pn532.Descriptor(pn532.WithStopTimeout(stopTimeout)),
		rc522.Descriptor(rc522.WithStopTimeout(stopTimeout)),
	)
}
