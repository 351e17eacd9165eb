// Package pn532 is a polling driver for PN532 NFC modules connected over I2C or SPI.
package pn532

import (
	"fmt"
	"sync"
	"time"

	"github.com/callebjorkell/rpi-nfc-reader/nfc"
	"github.com/callebjorkell/rpi-nfc-reader/pins"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

const (
	ID   = "pn532"
	Name = "PN532 (I2C/SPI)"

	InterfaceI2C = "i2c"
	InterfaceSPI = "spi"

	resetLow  = 100 * time.Millisecond
	resetHigh = 500 * time.Millisecond

	defaultStopTimeout = 2 * time.Second
)

func Schema() nfc.Schema {
	addrMin, addrMax := nfc.Bounds(0, 127)
	busMin, busMax := nfc.Bounds(0, 255)
	pinMin, pinMax := nfc.Bounds(0, 27)
	speedMin, speedMax := nfc.Bounds(10000, 5000000)
	pollMin, pollMax := nfc.Bounds(0.1, 2.0)
	debounceMin, debounceMax := nfc.Bounds(0.5, 5.0)

	return nfc.Schema{
		{
			Name:        "interface",
			Label:       "Interface Type",
			Description: "Communication interface (I2C or SPI)",
			Kind:        nfc.KindSelect,
			Default:     InterfaceI2C,
			Required:    true,
			Options: []nfc.Option{
				{Value: InterfaceI2C, Label: "I2C"},
				{Value: InterfaceSPI, Label: "SPI"},
			},
		},
		{
			Name:        "i2c_bus",
			Label:       "I2C Bus",
			Description: "I2C bus number (usually 1 on Raspberry Pi)",
			Kind:        nfc.KindInteger,
			Default:     1,
			Min:         busMin,
			Max:         busMax,
			ShowIf:      map[string]string{"interface": InterfaceI2C},
		},
		{
			Name:        "i2c_address",
			Label:       "I2C Address",
			Description: "7 bit I2C address (0x24 = 36 decimal, common default)",
			Kind:        nfc.KindInteger,
			Default:     0x24,
			Min:         addrMin,
			Max:         addrMax,
			ShowIf:      map[string]string{"interface": InterfaceI2C},
		},
		{
			Name:        "spi_bus",
			Label:       "SPI Bus",
			Description: "SPI bus number (usually 0)",
			Kind:        nfc.KindInteger,
			Default:     0,
			Min:         busMin,
			Max:         busMax,
			ShowIf:      map[string]string{"interface": InterfaceSPI},
		},
		{
			Name:        "spi_device",
			Label:       "SPI Device",
			Description: "SPI chip select (CE0 = 0, CE1 = 1)",
			Kind:        nfc.KindInteger,
			Default:     0,
			Min:         busMin,
			Max:         busMax,
			ShowIf:      map[string]string{"interface": InterfaceSPI},
		},
		{
			Name:    "spi_speed_hz",
			Label:   "SPI Speed (Hz)",
			Kind:    nfc.KindInteger,
			Default: 1000000,
			Min:     speedMin,
			Max:     speedMax,
			ShowIf:  map[string]string{"interface": InterfaceSPI},
		},
		{
			Name:        "reset_pin",
			Label:       "Reset Pin (Optional)",
			Description: "GPIO pin for hardware reset (BCM numbering, leave empty to disable)",
			Kind:        nfc.KindInteger,
			Optional:    true,
			Min:         pinMin,
			Max:         pinMax,
		},
		{
			Name:        "gpio_backend",
			Label:       "GPIO Library",
			Description: "Library used to drive the reset pin",
			Kind:        nfc.KindSelect,
			Default:     pins.Periph,
			Options: []nfc.Option{
				{Value: pins.Periph, Label: "periph.io"},
				{Value: pins.GoRpio, Label: "go-rpio"},
				{Value: pins.Jdevelop, Label: "jdevelop/gpio"},
			},
		},
		{
			Name:        "poll_interval",
			Label:       "Poll Interval (seconds)",
			Description: "How often to check for cards (0.1 - 2.0 seconds)",
			Kind:        nfc.KindFloat,
			Default:     0.5,
			Min:         pollMin,
			Max:         pollMax,
		},
		{
			Name:        "debounce_time",
			Label:       "Debounce Time (seconds)",
			Description: "Minimum time between same card scans (0.5 - 5.0 seconds)",
			Kind:        nfc.KindFloat,
			Default:     1.0,
			Min:         debounceMin,
			Max:         debounceMax,
		},
	}
}

type Option func(*Reader)

// WithTransport replaces the function that opens the bus to the PN532.
func WithTransport(open func(cfg nfc.Config) (Transport, error)) Option {
	return func(r *Reader) {
		r.openTransport = open
	}
}

// WithResetPin replaces the function that opens the reset line.
func WithResetPin(open pins.Opener) Option {
	return func(r *Reader) {
		r.openPin = open
	}
}

// WithClock sets the clock used for debouncing.
func WithClock(now func() time.Time) Option {
	return func(r *Reader) {
		r.now = now
	}
}

func WithStopTimeout(d time.Duration) Option {
	return func(r *Reader) {
		if d > 0 {
			r.stopTimeout = d
		}
	}
}

// WithResetTiming overrides the hold times of the reset pulse.
func WithResetTiming(low, high time.Duration) Option {
	return func(r *Reader) {
		r.resetLow, r.resetHigh = low, high
	}
}

// Descriptor describes the driver. Options are applied to every reader it constructs.
func Descriptor(opts ...Option) nfc.Descriptor {
	return nfc.Descriptor{
		ID:     ID,
		Name:   Name,
		Schema: Schema(),
		New: func(cfg nfc.Config, onScan nfc.ScanFunc) (nfc.Reader, error) {
			return New(cfg, onScan, opts...), nil
		},
	}
}

type Reader struct {
	cfg           nfc.Config
	openTransport func(cfg nfc.Config) (Transport, error)
	openPin       pins.Opener
	now           func() time.Time
	stopTimeout   time.Duration
	resetLow      time.Duration
	resetHigh     time.Duration
	poller        *nfc.Poller

	mu        sync.Mutex
	transport Transport
	reset     pins.Output
	firmware  Firmware
}

// New creates a reader from a validated configuration. No hardware is touched before Start.
func New(cfg nfc.Config, onScan nfc.ScanFunc, opts ...Option) *Reader {
	r := &Reader{
		cfg:           cfg,
		openTransport: openTransport,
		stopTimeout:   defaultStopTimeout,
		resetLow:      resetLow,
		resetHigh:     resetHigh,
	}
	r.openPin = func(pin int) (pins.Output, error) {
		return pins.Open(r.cfg.String("gpio_backend"), pin)
	}
	for _, o := range opts {
		o(r)
	}

	interval := cfg.Seconds("poll_interval")
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	r.poller = nfc.NewPoller(ID, interval, nfc.NewDebouncer(cfg.Seconds("debounce_time"), r.now), onScan, r.now)
	return r
}

func openTransport(cfg nfc.Config) (Transport, error) {
	switch iface := cfg.String("interface"); iface {
	case InterfaceI2C:
		return OpenI2C(cfg.Int("i2c_bus"), uint16(cfg.Int("i2c_address")))
	case InterfaceSPI:
		return OpenSPI(cfg.Int("spi_bus"), cfg.Int("spi_device"), cfg.Int("spi_speed_hz"))
	default:
		return nil, fmt.Errorf("unsupported interface type: %q", iface)
	}
}

func (r *Reader) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.poller.Running() {
		log.Debugln("PN532 reader already running")
		return nil
	}
	if r.poller.Stopping() {
		return &nfc.HardwareInitError{Plugin: ID, Cause: nfc.ErrStillStopping}
	}

	if err := r.open(); err != nil {
		if rerr := r.release(); rerr != nil {
			log.Warnf("Releasing PN532 after failed start: %v", rerr)
		}
		return &nfc.HardwareInitError{Plugin: ID, Cause: err}
	}

	dev := &device{t: r.transport}
	r.poller.Start(dev.readPassiveTarget)
	log.Infof("PN532 NFC reader started (%v mode)", r.cfg.String("interface"))
	return nil
}

// open resets the chip, opens the bus and checks that a PN532 answers. The caller releases whatever was opened if
// this fails.
func (r *Reader) open() error {
	if r.cfg.Has("reset_pin") {
		pin, err := r.openPin(r.cfg.Int("reset_pin"))
		if err != nil {
			return fmt.Errorf("reset pin: %w", err)
		}
		r.reset = pin
		if err := pins.Pulse(pin, r.resetLow, r.resetHigh); err != nil {
			return err
		}
		log.Debugf("PN532 hardware reset via GPIO %d", r.cfg.Int("reset_pin"))
	}

	t, err := r.openTransport(r.cfg)
	if err != nil {
		return err
	}
	r.transport = t

	dev := &device{t: t}
	fw, err := dev.firmwareVersion()
	if err != nil {
		return fmt.Errorf("get firmware version: %w", err)
	}
	if fw.IC != expectedIC {
		return fmt.Errorf("unexpected PN532 firmware (%v)", fw)
	}
	r.firmware = fw
	log.Infof("PN532 firmware version: %v", fw)

	if err := dev.samConfiguration(); err != nil {
		return fmt.Errorf("SAM configuration: %w", err)
	}
	return nil
}

func (r *Reader) release() error {
	var err error
	if r.transport != nil {
		err = multierr.Append(err, r.transport.Close())
		r.transport = nil
	}
	if r.reset != nil {
		err = multierr.Append(err, r.reset.Close())
		r.reset = nil
	}
	return err
}

func (r *Reader) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.poller.Running() && !r.poller.Stopping() && r.transport == nil && r.reset == nil {
		return nil
	}

	log.Infoln("Stopping PN532 NFC reader")
	err := r.poller.Stop(r.stopTimeout)
	if err != nil {
		log.Warnf("PN532 poll loop did not stop within %v, releasing anyway", r.stopTimeout)
		err = fmt.Errorf("pn532: %w", err)
	}
	err = multierr.Append(err, r.release())
	log.Infoln("PN532 NFC reader stopped")
	return err
}

// SimulateScan delivers the card through the same debounce bookkeeping as the hardware.
func (r *Reader) SimulateScan(cardID string) {
	log.Infof("Simulating NFC scan: %v", cardID)
	r.poller.Deliver(cardID)
}

func (r *Reader) Firmware() Firmware {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.firmware
}

func (r *Reader) Stats() nfc.PollStats {
	return r.poller.Stats()
}

func (r *Reader) ConfigSchema() nfc.Schema {
	return Schema()
}

func (r *Reader) ValidateConfig(raw map[string]any) []nfc.FieldError {
	_, errs := Schema().Validate(raw)
	return errs
}

func (r *Reader) PluginName() string {
	return Name
}
