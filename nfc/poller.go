package nfc

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// PollFunc performs a single presence check that gives up after timeout. It returns the UID of the card in the
// field, or ErrNoCard when there is none.
type PollFunc func(timeout time.Duration) ([]byte, error)

type PollStats struct {
	Polls    uint64
	Accepted uint64
	Ignored  uint64
	Errors   uint64
}

// Poller runs the polling loop of a hardware reader and owns the debounce bookkeeping that real and simulated scans
// share. A Poller can be started again after it has been stopped.
type Poller struct {
	plugin   string
	interval time.Duration
	debounce *Debouncer
	onScan   ScanFunc
	now      func() time.Time

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}

	polls, accepted, ignored, errs atomic.Uint64
}

func NewPoller(plugin string, interval time.Duration, debounce *Debouncer, onScan ScanFunc, now func() time.Time) *Poller {
	if now == nil {
		now = time.Now
	}
	return &Poller{
		plugin:   plugin,
		interval: interval,
		debounce: debounce,
		onScan:   onScan,
		now:      now,
	}
}

// Start launches the polling goroutine. It returns false if a loop is running or still winding down from a Stop
// that timed out.
func (p *Poller) Start(poll PollFunc) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.alive() {
		return false
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.loop(poll, p.stop, p.done)
	return true
}

// Stop asks the loop to finish and waits at most timeout for it. Stopping a poller that is not running is a no-op.
// After ErrStopTimeout the poller keeps tracking the old loop, and calling Stop again waits for it once more.
func (p *Poller) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.alive() {
		p.mu.Unlock()
		return nil
	}
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
	done := p.done
	p.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

// alive reports whether a loop goroutine has not exited yet. Callers hold mu.
func (p *Poller) alive() bool {
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		p.done = nil
		return false
	default:
		return true
	}
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop != nil
}

// Stopping reports whether a stopped loop is still stuck in a poll.
func (p *Poller) Stopping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop == nil && p.alive()
}

func (p *Poller) Stats() PollStats {
	return PollStats{
		Polls:    p.polls.Load(),
		Accepted: p.accepted.Load(),
		Ignored:  p.ignored.Load(),
		Errors:   p.errs.Load(),
	}
}

// Deliver runs a card id through the debouncer and, if accepted, hands it to the callback. Real and simulated scans
// both end up here.
func (p *Poller) Deliver(id string) bool {
	if !p.debounce.Accept(id) {
		p.ignored.Add(1)
		log.WithFields(log.Fields{"plugin": p.plugin, "card": id}).Debugf("Ignoring card within %v of last scan", p.debounce.Window())
		return false
	}
	p.accepted.Add(1)
	_ = Notify(p.plugin, p.onScan, CardEvent{CardID: id, Time: p.now()})
	return true
}

func (p *Poller) loop(poll PollFunc, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	logger := log.WithField("plugin", p.plugin)
	logger.Debugf("Poll loop started (interval=%v, debounce=%v)", p.interval, p.debounce.Window())

	streak := 0
	for {
		select {
		case <-stop:
			logger.Debugln("Poll loop stopped. Returning.")
			return
		default:
		}

		began := time.Now()
		p.polls.Add(1)
		uid, err := poll(p.interval)
		switch {
		case errors.Is(err, ErrNoCard) || (err == nil && len(uid) == 0):
			streak = 0
		case err != nil:
			streak++
			p.errs.Add(1)
			rerr := &TransientReadError{Plugin: p.plugin, Err: err}
			if streak == 1 {
				logger.Warn(rerr)
			} else {
				logger.Debugf("%v (%d in a row)", rerr, streak)
			}
		default:
			if streak > 0 {
				logger.Infof("Reading again after %d failed polls", streak)
			}
			streak = 0
			p.Deliver(CanonicalID(uid))
			continue
		}

		if !sleep(stop, p.interval-time.Since(began)) {
			logger.Debugln("Poll loop stopped. Returning.")
			return
		}
	}
}

// sleep waits for d or until stop is closed, and reports whether the loop should keep going.
func sleep(stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-stop:
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}
