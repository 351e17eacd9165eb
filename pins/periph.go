package pins

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"
)

var hostInit struct {
	sync.Once
	err error
}

// InitHost loads the periph.io host drivers. It is safe to call any number of times.
func InitHost() error {
	hostInit.Do(func() {
		if _, err := host.Init(); err != nil {
			hostInit.err = fmt.Errorf("unable to initialize periph: %w", err)
		}
	})
	return hostInit.err
}

type periphPin struct {
	pin gpio.PinIO
}

func openPeriph(pin int) (Output, error) {
	if err := InitHost(); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("GPIO%d", pin)
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("no such pin: %v", name)
	}
	log.Debugf("Opened %v through periph", name)
	return &periphPin{pin: p}, nil
}

func (p *periphPin) High() error {
	return p.pin.Out(gpio.High)
}

func (p *periphPin) Low() error {
	return p.pin.Out(gpio.Low)
}

// Close leaves the line high, which is the idle (not in reset) level.
func (p *periphPin) Close() error {
	return p.pin.Out(gpio.High)
}
