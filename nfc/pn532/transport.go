package pn532

import (
	"errors"
	"fmt"
	"io"
	"math/bits"

	"github.com/callebjorkell/rpi-nfc-reader/pins"
	"github.com/ecc1/spi"
	log "github.com/sirupsen/logrus"
	"periph.io/x/periph/conn/i2c/i2creg"
	"tinygo.org/x/drivers"
)

// Transport moves raw frames between the host and the PN532.
type Transport interface {
	Write(frame []byte) error
	// Ready reports whether the PN532 has a frame waiting to be read.
	Ready() (bool, error)
	Read(n int) ([]byte, error)
	Close() error
}

var errNotReady = errors.New("PN532 not ready")

type i2cTransport struct {
	bus    drivers.I2C
	addr   uint16
	closer io.Closer
}

// NewI2C returns a transport talking to the PN532 at addr. Every read on I2C starts with the status byte.
func NewI2C(bus drivers.I2C, addr uint16) Transport {
	t := &i2cTransport{bus: bus, addr: addr}
	if c, ok := bus.(io.Closer); ok {
		t.closer = c
	}
	return t
}

// OpenI2C opens I2C bus number busNum through periph.io.
func OpenI2C(busNum int, addr uint16) (Transport, error) {
	if err := pins.InitHost(); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("I2C%d", busNum)
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open %v: %w", name, err)
	}
	log.Debugf("Initializing PN532 on I2C bus %d, address 0x%02X", busNum, addr)
	return NewI2C(bus, addr), nil
}

func (t *i2cTransport) Write(frame []byte) error {
	return t.bus.Tx(t.addr, frame, nil)
}

func (t *i2cTransport) Ready() (bool, error) {
	status := make([]byte, 1)
	if err := t.bus.Tx(t.addr, nil, status); err != nil {
		return false, err
	}
	return status[0]&0x01 == 0x01, nil
}

func (t *i2cTransport) Read(n int) ([]byte, error) {
	buf := make([]byte, n+1)
	if err := t.bus.Tx(t.addr, nil, buf); err != nil {
		return nil, err
	}
	if buf[0]&0x01 == 0 {
		return nil, errNotReady
	}
	return buf[1:], nil
}

func (t *i2cTransport) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}

const (
	spiDataWrite  byte = 0x01
	spiStatusRead byte = 0x02
	spiDataRead   byte = 0x03
)

// SPIConn is the full duplex part of an SPI device that the transport needs. *spi.Device implements it.
type SPIConn interface {
	Transfer(buf []byte) error
	Close() error
}

type spiTransport struct {
	conn SPIConn
}

func NewSPI(conn SPIConn) Transport {
	return &spiTransport{conn: conn}
}

// OpenSPI opens /dev/spidev<bus>.<device> in mode 0. The PN532 talks LSB first, which the Raspberry Pi SPI controller
// cannot do, so the bus runs MSB first and the transport reverses the bits of every byte.
func OpenSPI(bus, device, speedHz int) (Transport, error) {
	path := fmt.Sprintf("/dev/spidev%d.%d", bus, device)
	dev, err := spi.Open(path, speedHz, 0)
	if err != nil {
		return nil, fmt.Errorf("open %v: %w", path, err)
	}
	if err := dev.SetLSBFirst(false); err != nil {
		dev.Close()
		return nil, err
	}
	if err := dev.SetBitsPerWord(8); err != nil {
		dev.Close()
		return nil, err
	}
	log.Debugf("Initializing PN532 on SPI bus %d, device %d", bus, device)
	return NewSPI(dev), nil
}

// transfer does a full duplex exchange, converting between LSB first bytes and the MSB first wire.
func (t *spiTransport) transfer(buf []byte) error {
	reverseBits(buf)
	err := t.conn.Transfer(buf)
	reverseBits(buf)
	return err
}

func (t *spiTransport) Write(frame []byte) error {
	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, spiDataWrite)
	buf = append(buf, frame...)
	return t.transfer(buf)
}

func (t *spiTransport) Ready() (bool, error) {
	buf := []byte{spiStatusRead, 0x00}
	if err := t.transfer(buf); err != nil {
		return false, err
	}
	return buf[1]&0x01 == 0x01, nil
}

func (t *spiTransport) Read(n int) ([]byte, error) {
	buf := make([]byte, n+1)
	buf[0] = spiDataRead
	if err := t.transfer(buf); err != nil {
		return nil, err
	}
	return buf[1:], nil
}

func reverseBits(buf []byte) {
	for i, b := range buf {
		buf[i] = bits.Reverse8(b)
	}
}

func (t *spiTransport) Close() error {
	return t.conn.Close()
}
