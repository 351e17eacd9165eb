package pins

import (
	"fmt"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"
)

// go-rpio maps the GPIO memory once per process, so the mapping is reference counted across open pins.
var rpioState struct {
	sync.Mutex
	refs int
}

type rpioPin struct {
	pin    rpio.Pin
	closed bool
}

func openRpio(pin int) (Output, error) {
	if pin < 0 || pin > 27 {
		return nil, fmt.Errorf("pin %d is not a BCM GPIO", pin)
	}

	rpioState.Lock()
	defer rpioState.Unlock()
	if rpioState.refs == 0 {
		if err := rpio.Open(); err != nil {
			return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
		}
	}
	rpioState.refs++

	p := rpio.Pin(pin)
	p.Output()
	return &rpioPin{pin: p}, nil
}

func (r *rpioPin) High() error {
	r.pin.High()
	return nil
}

func (r *rpioPin) Low() error {
	r.pin.Low()
	return nil
}

// Close drives the line high, puts it back into input mode and unmaps GPIO memory with the last pin.
func (r *rpioPin) Close() error {
	rpioState.Lock()
	defer rpioState.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.pin.High()
	r.pin.Input()

	rpioState.refs--
	if rpioState.refs == 0 {
		return rpio.Close()
	}
	return nil
}
