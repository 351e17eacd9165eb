// Package rc522 is a polling driver for MFRC522 based RFID modules on the SPI bus.
package rc522

import (
	"fmt"
	"sync"
	"time"

	"github.com/callebjorkell/rpi-nfc-reader/nfc"
	"github.com/callebjorkell/rpi-nfc-reader/pins"
	"github.com/ecc1/spi"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

const (
	ID   = "rc522"
	Name = "MFRC522 (SPI)"

	resetLow  = 50 * time.Millisecond
	resetHigh = 50 * time.Millisecond

	defaultStopTimeout = 2 * time.Second
)

func Schema() nfc.Schema {
	busMin, busMax := nfc.Bounds(0, 255)
	pinMin, pinMax := nfc.Bounds(0, 27)
	speedMin, speedMax := nfc.Bounds(10000, 10000000)
	gainMin, gainMax := nfc.Bounds(0, 7)
	pollMin, pollMax := nfc.Bounds(0.1, 2.0)
	debounceMin, debounceMax := nfc.Bounds(0.5, 5.0)

	return nfc.Schema{
		{Name: "spi_bus", Label: "SPI Bus", Kind: nfc.KindInteger, Default: 0, Min: busMin, Max: busMax},
		{Name: "spi_device", Label: "SPI Device", Kind: nfc.KindInteger, Default: 0, Min: busMin, Max: busMax},
		{Name: "spi_speed_hz", Label: "SPI Speed (Hz)", Kind: nfc.KindInteger, Default: 100000, Min: speedMin, Max: speedMax},
		{
			Name:        "reset_pin",
			Label:       "Reset Pin (Optional)",
			Description: "GPIO pin wired to RST (BCM numbering)",
			Kind:        nfc.KindInteger,
			Optional:    true,
			Min:         pinMin,
			Max:         pinMax,
		},
		{
			Name:        "antenna_gain",
			Label:       "Antenna Gain",
			Description: "Receiver gain, 0 (18 dB) to 7 (48 dB)",
			Kind:        nfc.KindInteger,
			Default:     7,
			Min:         gainMin,
			Max:         gainMax,
		},
		{Name: "poll_interval", Label: "Poll Interval (seconds)", Kind: nfc.KindFloat, Default: 0.15, Min: pollMin, Max: pollMax},
		{Name: "debounce_time", Label: "Debounce Time (seconds)", Kind: nfc.KindFloat, Default: 1.0, Min: debounceMin, Max: debounceMax},
	}
}

type Option func(*Reader)

// WithConn replaces the function that opens the SPI device.
func WithConn(open func(cfg nfc.Config) (Conn, error)) Option {
	return func(r *Reader) {
		r.openConn = open
	}
}

func WithResetPin(open pins.Opener) Option {
	return func(r *Reader) {
		r.openPin = open
	}
}

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
	cfg         nfc.Config
	openConn    func(cfg nfc.Config) (Conn, error)
	openPin     pins.Opener
	now         func() time.Time
	stopTimeout time.Duration
	poller      *nfc.Poller

	mu      sync.Mutex
	chip    *chip
	reset   pins.Output
	version byte
}

func New(cfg nfc.Config, onScan nfc.ScanFunc, opts ...Option) *Reader {
	r := &Reader{
		cfg:         cfg,
		openConn:    openConn,
		stopTimeout: defaultStopTimeout,
	}
	r.openPin = func(pin int) (pins.Output, error) {
		return pins.Open(pins.Jdevelop, pin)
	}
	for _, o := range opts {
		o(r)
	}

	interval := cfg.Seconds("poll_interval")
	if interval <= 0 {
		interval = 150 * time.Millisecond
	}
	r.poller = nfc.NewPoller(ID, interval, nfc.NewDebouncer(cfg.Seconds("debounce_time"), r.now), onScan, r.now)
	return r
}

func openConn(cfg nfc.Config) (Conn, error) {
	path := fmt.Sprintf("/dev/spidev%d.%d", cfg.Int("spi_bus"), cfg.Int("spi_device"))
	dev, err := spi.Open(path, cfg.Int("spi_speed_hz"), 0)
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
	return dev, nil
}

func (r *Reader) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.poller.Running() {
		log.Debugln("MFRC522 reader already running")
		return nil
	}
	if r.poller.Stopping() {
		return &nfc.HardwareInitError{Plugin: ID, Cause: nfc.ErrStillStopping}
	}

	if err := r.open(); err != nil {
		if rerr := r.release(); rerr != nil {
			log.Warnf("Releasing MFRC522 after failed start: %v", rerr)
		}
		return &nfc.HardwareInitError{Plugin: ID, Cause: err}
	}

	r.poller.Start(r.chip.readCardID)
	log.Infof("MFRC522 reader started (SPI %d.%d)", r.cfg.Int("spi_bus"), r.cfg.Int("spi_device"))
	return nil
}

func (r *Reader) open() error {
	if r.cfg.Has("reset_pin") {
		pin, err := r.openPin(r.cfg.Int("reset_pin"))
		if err != nil {
			return fmt.Errorf("reset pin: %w", err)
		}
		r.reset = pin
		if err := pins.Pulse(pin, resetLow, resetHigh); err != nil {
			return err
		}
	}

	conn, err := r.openConn(r.cfg)
	if err != nil {
		return err
	}
	gain := 7
	if r.cfg.Has("antenna_gain") {
		gain = r.cfg.Int("antenna_gain")
	}
	r.chip = &chip{conn: conn, antennaGain: gain}

	v, err := r.chip.version()
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	name, ok := knownVersions[v]
	if !ok {
		return fmt.Errorf("no MFRC522 answering (version register %02x)", v)
	}
	r.version = v
	log.Infof("Found %v (version %02x)", name, v)

	return r.chip.init()
}

func (r *Reader) release() error {
	var err error
	if r.chip != nil {
		if aerr := r.chip.antennaOff(); aerr != nil {
			log.Debugf("Could not turn off antenna: %v", aerr)
		}
		err = multierr.Append(err, r.chip.conn.Close())
		r.chip = nil
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

	if !r.poller.Running() && !r.poller.Stopping() && r.chip == nil && r.reset == nil {
		return nil
	}

	log.Infoln("Stopping MFRC522 reader")
	err := r.poller.Stop(r.stopTimeout)
	if err != nil {
		log.Warnf("MFRC522 poll loop did not stop within %v, releasing anyway", r.stopTimeout)
		err = fmt.Errorf("rc522: %w", err)
	}
	return multierr.Append(err, r.release())
}

func (r *Reader) SimulateScan(cardID string) {
	log.Infof("Simulating NFC scan: %v", cardID)
	r.poller.Deliver(cardID)
}

// Version returns the content of VersionReg read during Start.
func (r *Reader) Version() byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
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
