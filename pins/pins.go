// Package pins drives the single output lines the readers need, such as a hardware reset line.
package pins

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Backends, named after the library that drives the line.
const (
	Periph   = "periph"
	GoRpio   = "go-rpio"
	Jdevelop = "jdevelop"
)

// Backends lists the accepted backend names.
var Backends = []string{Periph, GoRpio, Jdevelop}

// Output is a GPIO line configured as output.
type Output interface {
	High() error
	Low() error
	Close() error
}

// Opener opens BCM pin number pin as an output.
type Opener func(pin int) (Output, error)

var openers = map[string]Opener{
	Periph:   openPeriph,
	GoRpio:   openRpio,
	Jdevelop: openJdevelop,
}

// Open opens pin through the named backend.
func Open(backend string, pin int) (Output, error) {
	if backend == "" {
		backend = Periph
	}
	open, ok := openers[backend]
	if !ok {
		return nil, fmt.Errorf("unknown gpio backend %q", backend)
	}
	return open(pin)
}

// Pulse drives the line low for low, then high for high. This is the reset sequence of most reader chips.
func Pulse(o Output, low, high time.Duration) error {
	if err := o.Low(); err != nil {
		return fmt.Errorf("drive reset low: %w", err)
	}
	time.Sleep(low)
	if err := o.High(); err != nil {
		return fmt.Errorf("drive reset high: %w", err)
	}
	time.Sleep(high)
	log.Debugf("Reset pulse done (low %v, high %v)", low, high)
	return nil
}
