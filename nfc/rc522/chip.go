package rc522

// The MFRC522 datasheet can be found here: https://www.nxp.com/docs/en/data-sheet/MFRC522.pdf

import (
	"errors"
	"fmt"
	"time"

	"github.com/callebjorkell/rpi-nfc-reader/nfc"
	"github.com/jdevelop/golang-rpi-extras/rf522/commands"
	log "github.com/sirupsen/logrus"
)

const (
	versionReg = 0x37

	piccReqIdl     = 0x26
	piccAnticollL1 = 0x93
	piccAnticollL2 = 0x95
	cascadeTag     = 0x88
)

// Versions reported by VersionReg on genuine chips and the common clones.
var knownVersions = map[byte]string{
	0x88: "FM17522 clone",
	0x90: "MFRC522 v0.0",
	0x91: "MFRC522 v1.0",
	0x92: "MFRC522 v2.0",
	0x12: "counterfeit MFRC522",
}

// Conn is the full duplex SPI connection to the chip. *spi.Device implements it.
type Conn interface {
	Transfer(buf []byte) error
	Close() error
}

type chip struct {
	conn        Conn
	antennaGain int
	// deadline bounds the interrupt wait of cardWrite. Zero means no bound.
	deadline time.Time
}

func (r *chip) devWrite(address int, data byte) error {
	buf := []byte{(byte(address) << 1) & 0x7E, data}
	return r.conn.Transfer(buf)
}

func (r *chip) devRead(address int) (byte, error) {
	buf := []byte{((byte(address) << 1) & 0x7E) | 0x80, 0}
	if err := r.conn.Transfer(buf); err != nil {
		return 0, err
	}
	return buf[1], nil
}

func (r *chip) setBitmask(address, mask int) error {
	current, err := r.devRead(address)
	if err != nil {
		return err
	}
	return r.devWrite(address, current|byte(mask))
}

func (r *chip) clearBitmask(address, mask int) error {
	current, err := r.devRead(address)
	if err != nil {
		return err
	}
	return r.devWrite(address, current&^byte(mask))
}

// writeAll performs register writes in order and stops at the first error.
func (r *chip) writeAll(regs ...[2]int) error {
	for _, rv := range regs {
		if err := r.devWrite(rv[0], byte(rv[1])); err != nil {
			return err
		}
	}
	return nil
}

func (r *chip) version() (byte, error) {
	return r.devRead(versionReg)
}

func (r *chip) init() error {
	if err := r.devWrite(commands.CommandReg, commands.PCD_RESETPHASE); err != nil {
		return err
	}
	err := r.writeAll(
		[2]int{0x2A, 0x8D}, // TModeReg
		[2]int{0x2B, 0x3E}, // TPrescalerReg
		[2]int{0x2D, 30},   // TReloadRegL
		[2]int{0x2C, 0},    // TReloadRegH
		[2]int{0x15, 0x40}, // TxASKReg
		[2]int{0x11, 0x3D}, // ModeReg
		[2]int{0x26, r.antennaGain << 4},
	)
	if err != nil {
		return err
	}
	return r.antennaOn()
}

func (r *chip) antennaOn() error {
	current, err := r.devRead(commands.TxControlReg)
	if err != nil {
		return err
	}
	if current&0x03 == 0 {
		return r.setBitmask(commands.TxControlReg, 0x03)
	}
	return nil
}

func (r *chip) antennaOff() error {
	return r.clearBitmask(commands.TxControlReg, 0x03)
}

func (r *chip) cardWrite(command byte, data []byte) (backData []byte, backLength int, err error) {
	backLength = -1
	irqEn := byte(0x00)
	irqWait := byte(0x00)

	switch command {
	case commands.PCD_AUTHENT:
		irqEn = 0x12
		irqWait = 0x10
	case commands.PCD_TRANSCEIVE:
		irqEn = 0x77
		irqWait = 0x30
	}

	if err = r.devWrite(commands.CommIEnReg, irqEn|0x80); err != nil {
		return
	}
	if err = r.clearBitmask(commands.CommIrqReg, 0x80); err != nil {
		return
	}
	if err = r.setBitmask(commands.FIFOLevelReg, 0x80); err != nil {
		return
	}
	if err = r.devWrite(commands.CommandReg, commands.PCD_IDLE); err != nil {
		return
	}
	for _, v := range data {
		if err = r.devWrite(commands.FIFODataReg, v); err != nil {
			return
		}
	}
	if err = r.devWrite(commands.CommandReg, command); err != nil {
		return
	}
	if command == commands.PCD_TRANSCEIVE {
		if err = r.setBitmask(commands.BitFramingReg, 0x80); err != nil {
			return
		}
	}

	i := 2000
	n := byte(0)
	expired := false
	for ; i > 0; i-- {
		n, err = r.devRead(commands.CommIrqReg)
		if err != nil {
			return
		}
		if n&(irqWait|1) != 0 {
			break
		}
		if !r.deadline.IsZero() && time.Now().After(r.deadline) {
			expired = true
			break
		}
	}

	if err = r.clearBitmask(commands.BitFramingReg, 0x80); err != nil {
		return
	}

	if expired {
		err = nfc.ErrTimeout
		return
	}
	if i == 0 {
		err = errors.New("can't read data after 2000 loops")
		return
	}

	d, err := r.devRead(commands.ErrorReg)
	if err != nil {
		return
	}
	if d&0x1B != 0 {
		err = fmt.Errorf("error register %02x", d)
		return
	}

	// the timer interrupt fired before anything answered
	if n&irqEn&0x01 == 1 {
		err = nfc.ErrNoCard
		return
	}

	if command != commands.PCD_TRANSCEIVE {
		return
	}

	n, err = r.devRead(commands.FIFOLevelReg)
	if err != nil {
		return
	}
	lastBits, err := r.devRead(commands.ControlReg)
	if err != nil {
		return
	}
	lastBits = lastBits & 0x07
	if lastBits != 0 {
		backLength = (int(n)-1)*8 + int(lastBits)
	} else {
		backLength = int(n) * 8
	}

	if n == 0 {
		n = 1
	}
	if n > 16 {
		n = 16
	}

	backData = make([]byte, 0, n)
	for i := byte(0); i < n; i++ {
		v, err1 := r.devRead(commands.FIFODataReg)
		if err1 != nil {
			err = err1
			return
		}
		backData = append(backData, v)
	}
	return
}

func (r *chip) request() error {
	if err := r.devWrite(commands.BitFramingReg, 0x07); err != nil {
		return err
	}
	_, backBits, err := r.cardWrite(commands.PCD_TRANSCEIVE, []byte{piccReqIdl})
	if err != nil {
		return nfc.ErrNoCard
	}
	if backBits != 0x10 {
		return fmt.Errorf("wrong number of bits %d", backBits)
	}
	return nil
}

// readCardID returns the UID of the card in the field, or nfc.ErrNoCard. Waiting for the card gives up once timeout
// has passed.
func (r *chip) readCardID(timeout time.Duration) ([]byte, error) {
	r.deadline = time.Now().Add(timeout)
	defer func() { r.deadline = time.Time{} }()

	if err := r.init(); err != nil {
		return nil, err
	}
	if err := r.request(); err != nil {
		return nil, err
	}
	return r.antiColl()
}

func xorSum(data []byte) byte {
	crc := byte(0)
	for _, v := range data {
		crc ^= v
	}
	return crc
}

func (r *chip) anticollLevel(sel byte) ([]byte, error) {
	if err := r.devWrite(commands.BitFramingReg, 0x00); err != nil {
		return nil, err
	}
	backData, _, err := r.cardWrite(commands.PCD_TRANSCEIVE, []byte{sel, 0x20})
	if err != nil {
		return nil, fmt.Errorf("anticollision: %w", err)
	}
	if len(backData) != 5 {
		return nil, fmt.Errorf("back data expected 5, actual %d", len(backData))
	}
	if crc := xorSum(backData[:4]); crc != backData[4] {
		return nil, fmt.Errorf("BCC mismatch, expected %02x actual %02x", crc, backData[4])
	}
	return backData, nil
}

func (r *chip) antiColl() ([]byte, error) {
	backData, err := r.anticollLevel(piccAnticollL1)
	if err != nil {
		return nil, err
	}
	if backData[0] != cascadeTag {
		return backData[:4], nil
	}

	log.Debug("cascade l2 required!")
	uid := make([]byte, 7)
	copy(uid, backData[1:4])

	cmd := []byte{piccAnticollL1, 0x70, backData[0], backData[1], backData[2], backData[3], backData[4]}
	cascadeCRC, err := r.crc(cmd)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 9)
	buf = append(buf, cmd...)
	buf = append(buf, cascadeCRC[0], cascadeCRC[1])

	sak, _, err := r.cardWrite(commands.PCD_TRANSCEIVE, buf)
	if err != nil {
		return nil, err
	}
	if len(sak) == 0 || sak[0] != 0x04 {
		return nil, fmt.Errorf("unexpected L2 anticollision response: %v", sak)
	}

	backData2, err := r.anticollLevel(piccAnticollL2)
	if err != nil {
		return nil, err
	}
	copy(uid[3:], backData2[:4])
	return uid, nil
}

func (r *chip) crc(inData []byte) ([]byte, error) {
	if err := r.clearBitmask(commands.DivIrqReg, 0x04); err != nil {
		return nil, err
	}
	if err := r.setBitmask(commands.FIFOLevelReg, 0x80); err != nil {
		return nil, err
	}
	for _, v := range inData {
		if err := r.devWrite(commands.FIFODataReg, v); err != nil {
			return nil, err
		}
	}
	if err := r.devWrite(commands.CommandReg, commands.PCD_CALCCRC); err != nil {
		return nil, err
	}
	for i := 0xFF; i > 0; i-- {
		n, err := r.devRead(commands.DivIrqReg)
		if err != nil {
			return nil, err
		}
		if n&0x04 > 0 {
			break
		}
	}
	lsb, err := r.devRead(commands.CRCResultRegL)
	if err != nil {
		return nil, err
	}
	msb, err := r.devRead(commands.CRCResultRegM)
	if err != nil {
		return nil, err
	}
	return []byte{lsb, msb}, nil
}
