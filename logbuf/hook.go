// Package logbuf keeps the most recent log entries in memory so that they can be shown on request.
package logbuf

import (
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type Entry struct {
	Time    time.Time
	Level   log.Level
	Message string
	Fields  log.Fields
	// Formatted is the entry as the configured formatter renders it.
	Formatted string
}

// Hook is a logrus hook storing the last entries in a ring buffer.
type Hook struct {
	formatter log.Formatter

	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

func New(capacity int, formatter log.Formatter) *Hook {
	if capacity < 1 {
		capacity = 1
	}
	if formatter == nil {
		formatter = &log.TextFormatter{DisableColors: true}
	}
	return &Hook{formatter: formatter, entries: make([]Entry, capacity)}
}

func (h *Hook) Levels() []log.Level {
	return log.AllLevels
}

func (h *Hook) Fire(e *log.Entry) error {
	// format before taking the lock; formatters may log
	formatted, err := h.formatter.Format(e)
	if err != nil {
		formatted = []byte(e.Message)
	}
	fields := make(log.Fields, len(e.Data))
	for k, v := range e.Data {
		fields[k] = v
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.next] = Entry{
		Time:      e.Time,
		Level:     e.Level,
		Message:   e.Message,
		Fields:    fields,
		Formatted: string(formatted),
	}
	h.next = (h.next + 1) % len(h.entries)
	if h.next == 0 {
		h.full = true
	}
	return nil
}

// Entries returns up to n of the newest entries at minLevel or more severe, oldest first. n <= 0 means all.
func (h *Hook) Entries(n int, minLevel log.Level) []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	var ordered []Entry
	if h.full {
		ordered = append(ordered, h.entries[h.next:]...)
	}
	ordered = append(ordered, h.entries[:h.next]...)

	out := make([]Entry, 0, len(ordered))
	for _, e := range ordered {
		// logrus levels grow more verbose as the value increases
		if e.Level <= minLevel {
			out = append(out, e)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// Clear drops every stored entry.
func (h *Hook) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.entries {
		h.entries[i] = Entry{}
	}
	h.next, h.full = 0, false
}

// StreamHook writes errors and worse to one writer and everything else to another, usually stderr and stdout.
type StreamHook struct {
	Formatter log.Formatter
	Out       io.Writer
	Err       io.Writer

	mu sync.Mutex
}

func (s *StreamHook) Levels() []log.Level {
	return log.AllLevels
}

func (s *StreamHook) Fire(e *log.Entry) error {
	b, err := s.Formatter.Format(e)
	if err != nil {
		return err
	}
	w := s.Out
	if e.Level <= log.ErrorLevel {
		w = s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = w.Write(b)
	return err
}
