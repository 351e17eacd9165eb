package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/callebjorkell/rpi-nfc-reader/config"
	"github.com/callebjorkell/rpi-nfc-reader/reader"
	log "github.com/sirupsen/logrus"
)

func readCard(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *readTimeout)
		defer cancel()
	}

	m, cards := newCardReader(cfg)
	id, err := readSingleCard(ctx, m, cards)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

// newCardReader creates a manager whose scans end up on the returned channel. Scans are dropped while nobody is
// waiting for one.
func newCardReader(cfg *config.Config) (*reader.Manager, <-chan string) {
	cards := make(chan string)
	m := newManager(cfg, func(id string) error {
		select {
		case cards <- id:
		default:
		}
		return nil
	})
	return m, cards
}

// readSingleCard starts the reader, waits for the first card and stops the reader again.
func readSingleCard(ctx context.Context, m *reader.Manager, cards <-chan string) (string, error) {
	if err := m.Start(); err != nil {
		return "", err
	}
	defer func() {
		if err := m.Stop(); err != nil {
			log.Warnln("Reader did not stop cleanly:", err)
		}
	}()

	if m.State() == reader.Fallback {
		log.Warnf("Configured reader is unavailable, %v is running instead", m.PluginName())
	}
	log.Infof("Waiting for a card on %v...", m.PluginName())

	select {
	case id := <-cards:
		return id, nil
	case <-ctx.Done():
		return "", fmt.Errorf("no card was read: %w", ctx.Err())
	}
}
