package pins

import (
	"github.com/jdevelop/gpio"
	rpio "github.com/jdevelop/gpio/rpi"
)

type jdevelopPin struct {
	pin gpio.Pin
}

func openJdevelop(pin int) (Output, error) {
	p, err := rpio.OpenPin(pin, gpio.ModeOutput)
	if err != nil {
		return nil, err
	}
	p.Set()
	return &jdevelopPin{pin: p}, nil
}

func (j *jdevelopPin) High() error {
	j.pin.Set()
	return nil
}

func (j *jdevelopPin) Low() error {
	j.pin.Clear()
	return nil
}

func (j *jdevelopPin) Close() error {
	j.pin.Set()
	return nil
}
