package pn532

import (
	"errors"
	"fmt"
	"time"

	"github.com/callebjorkell/rpi-nfc-reader/nfc"
)

const (
	ackTimeout   = 100 * time.Millisecond
	cmdTimeout   = time.Second
	readyBackoff = 5 * time.Millisecond

	// expectedIC is the IC byte every genuine PN532 reports in GetFirmwareVersion.
	expectedIC byte = 0x32
)

type Firmware struct {
	IC      byte
	Ver     byte
	Rev     byte
	Support byte
}

func (f Firmware) String() string {
	return fmt.Sprintf("IC=0x%02X, Ver=%d.%d, Support=0x%02X", f.IC, f.Ver, f.Rev, f.Support)
}

type device struct {
	t Transport
}

func (d *device) waitReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		ready, err := d.t.Ready()
		if err != nil {
			return err
		}
		if ready {
			return nil
		}
		if time.Now().After(deadline) {
			return nfc.ErrTimeout
		}
		time.Sleep(readyBackoff)
	}
}

// call sends a command and gives the chip at most timeout to acknowledge and answer it.
func (d *device) call(cmd byte, timeout time.Duration, params ...byte) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	if err := d.t.Write(commandFrame(cmd, params...)); err != nil {
		return nil, fmt.Errorf("write command %02x: %w", cmd, err)
	}
	if err := d.waitReady(min(ackTimeout, timeout)); err != nil {
		if errors.Is(err, nfc.ErrTimeout) {
			err = errNoAck
		}
		return nil, fmt.Errorf("waiting for ACK: %w", err)
	}
	ack, err := d.t.Read(len(ackFrame))
	if err != nil {
		return nil, fmt.Errorf("read ACK: %w", err)
	}
	if !isAck(ack) {
		return nil, fmt.Errorf("%w: got %v", errNoAck, printBytes(ack))
	}

	if err := d.waitReady(time.Until(deadline)); err != nil {
		return nil, err
	}
	resp, err := d.t.Read(maxFrame)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return parseResponse(resp, cmd)
}

func (d *device) firmwareVersion() (Firmware, error) {
	data, err := d.call(cmdGetFirmwareVersion, cmdTimeout)
	if err != nil {
		return Firmware{}, err
	}
	if len(data) < 4 {
		return Firmware{}, fmt.Errorf("firmware version: %w", errShortFrame)
	}
	return Firmware{IC: data[0], Ver: data[1], Rev: data[2], Support: data[3]}, nil
}

// samConfiguration puts the SAM in normal mode with the IRQ pin in use, so that the PN532 can read cards.
func (d *device) samConfiguration() error {
	_, err := d.call(cmdSAMConfiguration, cmdTimeout, 0x01, 0x14, 0x01)
	return err
}

// readPassiveTarget looks for a single ISO14443A card for at most timeout and returns its UID.
func (d *device) readPassiveTarget(timeout time.Duration) ([]byte, error) {
	data, err := d.call(cmdInListPassiveTarget, timeout, 0x01, 0x00)
	if errors.Is(err, nfc.ErrTimeout) {
		return nil, nfc.ErrNoCard
	}
	if err != nil {
		return nil, err
	}
	// NbTg, Tg, SENS_RES (2), SEL_RES, NFCIDLength, NFCID...
	if len(data) < 1 || data[0] == 0 {
		return nil, nfc.ErrNoCard
	}
	if len(data) < 6 {
		return nil, fmt.Errorf("target data: %w", errShortFrame)
	}
	l := int(data[5])
	if len(data) < 6+l {
		return nil, fmt.Errorf("uid of %d bytes: %w", l, errShortFrame)
	}
	uid := make([]byte, l)
	copy(uid, data[6:6+l])
	return uid, nil
}
