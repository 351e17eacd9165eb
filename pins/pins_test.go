package pins

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPin struct {
	levels []string
	failOn string
}

func (r *recordingPin) set(level string) error {
	if level == r.failOn {
		return errors.New("line stuck")
	}
	r.levels = append(r.levels, level)
	return nil
}

func (r *recordingPin) High() error  { return r.set("high") }
func (r *recordingPin) Low() error   { return r.set("low") }
func (r *recordingPin) Close() error { return nil }

func TestPulse(t *testing.T) {
	p := &recordingPin{}
	require.NoError(t, Pulse(p, time.Millisecond, time.Millisecond))
	assert.Equal(t, []string{"low", "high"}, p.levels)
}

func TestPulseErrors(t *testing.T) {
	err := Pulse(&recordingPin{failOn: "low"}, 0, 0)
	assert.ErrorContains(t, err, "drive reset low")

	err = Pulse(&recordingPin{failOn: "high"}, 0, 0)
	assert.ErrorContains(t, err, "drive reset high")
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("wiringpi", 17)
	assert.ErrorContains(t, err, `unknown gpio backend "wiringpi"`)
}

func TestOpenRpioRejectsNonBCMPins(t *testing.T) {
	_, err := Open(GoRpio, 40)
	assert.Error(t, err)
}

func TestBackendsAreRegistered(t *testing.T) {
	for _, b := range Backends {
		_, ok := openers[b]
		assert.True(t, ok, b)
	}
}
