package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/callebjorkell/rpi-nfc-reader/config"
	"github.com/callebjorkell/rpi-nfc-reader/logbuf"
	"github.com/chzyer/readline"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func logScan(id string) error {
	log.WithField("card", id).Infof("Card %v scanned", id)
	return nil
}

func runServe(cfg *config.Config, stream *logbuf.StreamHook, logs *logbuf.Hook) error {
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	var rl *readline.Instance
	if *serveConsole {
		var err error
		rl, err = readline.NewEx(&readline.Config{
			Prompt:          "nfc> ",
			InterruptPrompt: "^C",
			EOFPrompt:       "quit",
		})
		if err != nil {
			return fmt.Errorf("unable to open the console: %w", err)
		}
		// nothing logs concurrently yet
		stream.Out, stream.Err = rl.Stdout(), rl.Stderr()
	}

	m := newManager(cfg, logScan)
	if err := m.Start(); err != nil {
		return err
	}
	log.Infof("Listening for cards with %v (%v)", m.PluginName(), m.State())

	g, gctx := errgroup.WithContext(ctx)
	if rl != nil {
		c := &console{m: m, store: db, logs: logs, out: rl.Stdout()}
		g.Go(func() error {
			c.run(gctx, rl, cancel)
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return rl.Close()
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Infoln("Shutting down...")
		return m.Stop()
	})
	return g.Wait()
}
