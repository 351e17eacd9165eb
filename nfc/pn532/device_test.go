package pn532

import (
	"sync"
	"testing"
	"time"

	"github.com/callebjorkell/rpi-nfc-reader/nfc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lateChip holds back the ready signal of every command for a while.
type lateChip struct {
	*fakeChip
	delay time.Duration

	mu      sync.Mutex
	written time.Time
}

func (l *lateChip) Write(b []byte) error {
	l.mu.Lock()
	l.written = time.Now()
	l.mu.Unlock()
	return l.fakeChip.Write(b)
}

func (l *lateChip) Ready() (bool, error) {
	l.mu.Lock()
	since := time.Since(l.written)
	l.mu.Unlock()
	if since < l.delay {
		return false, nil
	}
	return l.fakeChip.Ready()
}

func TestReadPassiveTargetStaysWithinTimeout(t *testing.T) {
	const slack = 30 * time.Millisecond

	tests := []struct {
		name    string
		chip    *fakeChip
		delay   time.Duration
		timeout time.Duration
		want    error
	}{
		{"no card", &fakeChip{ic: expectedIC}, 0, 30 * time.Millisecond, nfc.ErrNoCard},
		{"slow ACK counts against the timeout", &fakeChip{ic: expectedIC}, 40 * time.Millisecond, 60 * time.Millisecond, nfc.ErrNoCard},
		{"no ACK is an error", &fakeChip{silent: true}, 0, 10 * time.Millisecond, errNoAck},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := &device{t: &lateChip{fakeChip: tc.chip, delay: tc.delay}}

			began := time.Now()
			_, err := d.readPassiveTarget(tc.timeout)
			elapsed := time.Since(began)

			require.ErrorIs(t, err, tc.want)
			assert.Less(t, elapsed, tc.timeout+slack)
		})
	}
}

func TestReadPassiveTargetReturnsUID(t *testing.T) {
	chip := &fakeChip{ic: expectedIC}
	chip.addCard(0x04, 0xa1, 0xb2, 0xc3)
	d := &device{t: &lateChip{fakeChip: chip, delay: 10 * time.Millisecond}}

	uid, err := d.readPassiveTarget(100 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04, 0xa1, 0xb2, 0xc3}, uid)
}
