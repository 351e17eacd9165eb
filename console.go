package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/callebjorkell/rpi-nfc-reader/logbuf"
	"github.com/callebjorkell/rpi-nfc-reader/reader"
	"github.com/callebjorkell/rpi-nfc-reader/storage"
	"github.com/chzyer/readline"
	log "github.com/sirupsen/logrus"
)

const defaultLogLines = 20

// console is the interactive command loop of serve --console.
type console struct {
	m     *reader.Manager
	store storage.Store
	logs  *logbuf.Hook
	out   io.Writer
}

func (c *console) run(ctx context.Context, rl *readline.Instance, cancel context.CancelFunc) {
	defer cancel()
	c.help()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			return
		}
		if c.exec(line) {
			return
		}
	}
}

// exec runs a single console line and reports whether the console should close.
func (c *console) exec(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd, args := strings.ToLower(parts[0]), parts[1:]

	switch cmd {
	case "help", "?":
		c.help()
	case "scan":
		c.scan(args)
	case "use":
		c.use(args)
	case "status":
		c.status()
	case "plugins":
		c.plugins(args)
	case "logs":
		c.showLogs(args)
	case "start":
		if err := c.m.Start(); err != nil {
			fmt.Fprintln(c.out, "Unable to start the reader:", err)
		}
		c.status()
	case "stop":
		if err := c.m.Stop(); err != nil {
			fmt.Fprintln(c.out, "Reader did not stop cleanly:", err)
		}
		c.status()
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Exiting...")
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: %v (type 'help' for commands)\n", cmd)
	}
	return false
}

func (c *console) help() {
	fmt.Fprintln(c.out, `Commands:
  scan <card id>          simulate a scan on the active reader
  use <driver> [k=v ...]  switch driver and store its configuration
  status                  show the reader state and fallback warnings
  plugins [id]            list drivers, or show the fields of one
  logs [n]                show the last n log entries
  start / stop            start or stop the reader
  quit                    stop serving`)
}

func (c *console) scan(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: scan <card id>")
		return
	}
	if err := c.m.SimulateScan(args[0]); err != nil {
		fmt.Fprintln(c.out, "Unable to simulate scan:", err)
	}
}

func (c *console) use(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: use <driver> [key=value ...]")
		return
	}
	id := args[0]
	doc, cfg, err := prepareSettings(c.m, c.store, id, args[1:])
	if err != nil {
		fmt.Fprintln(c.out, err)
		printFieldErrors(c.out, err)
		return
	}
	if err := c.store.Save(doc); err != nil {
		fmt.Fprintln(c.out, "Unable to store settings:", err)
		return
	}
	if err := c.m.SetActivePlugin(id, cfg.Raw()); err != nil {
		fmt.Fprintln(c.out, "Unable to start", id+":", err)
	}
	c.status()
}

func (c *console) status() {
	fmt.Fprintf(c.out, "State:      %v\n", c.m.State())
	fmt.Fprintf(c.out, "Reader:     %v\n", c.m.PluginName())
	if id := c.m.ActivePlugin(); id != "" {
		fmt.Fprintf(c.out, "Driver:     %v\n", id)
	}
	if gen := c.m.Generation(); gen != "" {
		fmt.Fprintf(c.out, "Generation: %v\n", gen)
	}
	for _, w := range c.m.Warnings() {
		fmt.Fprintf(c.out, "Warning:    %v %v\n", w.At.Format("15:04:05"), w)
	}
}

func (c *console) plugins(args []string) {
	if len(args) > 0 {
		if err := describePlugin(c.out, c.m, args[0]); err != nil {
			fmt.Fprintln(c.out, err)
		}
		return
	}
	printPlugins(c.out, c.m.Plugins(), c.m.ActivePlugin())
}

func (c *console) showLogs(args []string) {
	n := defaultLogLines
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 1 {
			fmt.Fprintln(c.out, "Usage: logs [n]")
			return
		}
		n = v
	}
	entries := c.logs.Entries(n, log.TraceLevel)
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "No log entries yet...")
		return
	}
	for _, e := range entries {
		fmt.Fprint(c.out, e.Formatted)
	}
}
