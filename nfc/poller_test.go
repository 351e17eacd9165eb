package nfc

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// script returns a PollFunc that plays back the given results and then reports no card forever.
func script(results ...any) PollFunc {
	var mu sync.Mutex
	return func(time.Duration) ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(results) == 0 {
			return nil, ErrNoCard
		}
		r := results[0]
		results = results[1:]
		switch v := r.(type) {
		case []byte:
			return v, nil
		case error:
			return nil, v
		}
		return nil, ErrNoCard
	}
}

type recorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *recorder) onScan(id string) error {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
	return nil
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func TestPollerDeliversDebouncedCards(t *testing.T) {
	rec := &recorder{}
	clock := newFakeClock()
	p := NewPoller("test", 5*time.Millisecond, NewDebouncer(time.Second, clock.Now), rec.onScan, clock.Now)

	card := []byte{0xaa, 0xbb, 0xcc}
	require.True(t, p.Start(script(card, card, card, []byte{0x01})))
	assert.False(t, p.Start(script()), "second start while running")

	assert.Eventually(t, func() bool {
		return len(rec.get()) == 2
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop(time.Second))

	assert.Equal(t, []string{"AABBCC", "01"}, rec.get())
	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.Accepted)
	assert.Equal(t, uint64(2), stats.Ignored)
	assert.False(t, p.Running())
}

func TestPollerSurvivesReadErrors(t *testing.T) {
	rec := &recorder{}
	p := NewPoller("test", time.Millisecond, NewDebouncer(time.Second, nil), rec.onScan, nil)

	bad := errors.New("i2c nack")
	p.Start(script(bad, bad, bad, []byte{0x12, 0x34}))

	assert.Eventually(t, func() bool {
		return len(rec.get()) == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop(time.Second))

	assert.Equal(t, []string{"1234"}, rec.get())
	assert.Equal(t, uint64(3), p.Stats().Errors)
}

func TestPollerSurvivesFailingCallback(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	onScan := func(string) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			panic("first card explodes")
		}
		return nil
	}
	p := NewPoller("test", time.Millisecond, NewDebouncer(time.Second, nil), onScan, nil)
	p.Start(script([]byte{0x01}, []byte{0x02}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, time.Second, 5*time.Millisecond)
	assert.NoError(t, p.Stop(time.Second))
}

func TestPollerStop(t *testing.T) {
	t.Run("not running", func(t *testing.T) {
		p := NewPoller("test", time.Millisecond, NewDebouncer(time.Second, nil), nil, nil)
		assert.NoError(t, p.Stop(time.Second))
	})

	t.Run("interrupts the wait", func(t *testing.T) {
		p := NewPoller("test", time.Hour, NewDebouncer(time.Second, nil), nil, nil)
		p.Start(script())
		time.Sleep(10 * time.Millisecond)

		began := time.Now()
		assert.NoError(t, p.Stop(time.Second))
		assert.Less(t, time.Since(began), 500*time.Millisecond)
	})

	t.Run("times out on a stuck poll", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)
		p := NewPoller("test", time.Millisecond, NewDebouncer(time.Second, nil), nil, nil)
		p.Start(func(time.Duration) ([]byte, error) {
			<-release
			return nil, ErrNoCard
		})
		time.Sleep(10 * time.Millisecond)

		err := p.Stop(20 * time.Millisecond)
		assert.ErrorIs(t, err, ErrStopTimeout)
		assert.False(t, p.Running())
	})

	t.Run("no second loop until the stuck one exits", func(t *testing.T) {
		release := make(chan struct{})
		var mu sync.Mutex
		active, peak := 0, 0
		poll := func(time.Duration) ([]byte, error) {
			mu.Lock()
			active++
			peak = max(peak, active)
			mu.Unlock()
			defer func() {
				mu.Lock()
				active--
				mu.Unlock()
			}()
			<-release
			return nil, ErrNoCard
		}

		p := NewPoller("test", time.Millisecond, NewDebouncer(time.Second, nil), nil, nil)
		require.True(t, p.Start(poll))
		time.Sleep(10 * time.Millisecond)

		require.ErrorIs(t, p.Stop(20*time.Millisecond), ErrStopTimeout)
		assert.True(t, p.Stopping())
		assert.False(t, p.Start(poll), "start while the old loop is stuck")
		assert.ErrorIs(t, p.Stop(10*time.Millisecond), ErrStopTimeout, "stop waits for the old loop again")

		close(release)
		assert.Eventually(t, func() bool { return !p.Stopping() }, time.Second, 5*time.Millisecond)
		assert.NoError(t, p.Stop(time.Second))

		require.True(t, p.Start(script()))
		require.NoError(t, p.Stop(time.Second))

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 1, peak)
	})

	t.Run("restart", func(t *testing.T) {
		rec := &recorder{}
		p := NewPoller("test", time.Millisecond, NewDebouncer(time.Second, nil), rec.onScan, nil)
		p.Start(script())
		require.NoError(t, p.Stop(time.Second))
		require.True(t, p.Start(script([]byte{0xfe})))
		assert.Eventually(t, func() bool { return len(rec.get()) == 1 }, time.Second, 5*time.Millisecond)
		require.NoError(t, p.Stop(time.Second))
	})
}

func TestPollerDeliverSharesDebounce(t *testing.T) {
	rec := &recorder{}
	clock := newFakeClock()
	p := NewPoller("test", time.Millisecond, NewDebouncer(time.Second, clock.Now), rec.onScan, clock.Now)

	assert.True(t, p.Deliver("AABBCC"))
	assert.False(t, p.Deliver("AABBCC"))
	clock.Advance(time.Second)
	assert.True(t, p.Deliver("AABBCC"))
	assert.Equal(t, []string{"AABBCC", "AABBCC"}, rec.get())
}
