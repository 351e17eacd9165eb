package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/callebjorkell/rpi-nfc-reader/nfc"
	"github.com/callebjorkell/rpi-nfc-reader/nfc/mock"
	"github.com/callebjorkell/rpi-nfc-reader/reader"
	log "github.com/sirupsen/logrus"
)

func listPlugins(w io.Writer, m *reader.Manager) error {
	active := mock.ID
	doc, err := db.Load()
	if err != nil {
		log.Warnln("Unable to load the stored reader settings:", err)
	} else if doc.Active != "" {
		active = doc.Active
	}
	printPlugins(w, m.Plugins(), active)
	return nil
}

func printPlugins(w io.Writer, infos []reader.PluginInfo, active string) {
	if len(infos) == 0 {
		fmt.Fprintln(w, "No reader drivers available...")
		return
	}
	fmt.Fprintln(w, "        ID │ Name                         │ Fields")
	fmt.Fprintln(w, "───────────┼──────────────────────────────┼────────")
	for _, p := range infos {
		marker := " "
		if p.ID == active {
			marker = "*"
		}
		fmt.Fprintf(w, "%9v%v │ %-28v │ %6v\n", p.ID, marker, checkLength(p.Name, 28), len(p.Schema))
	}
}

func describePlugin(w io.Writer, m *reader.Manager, id string) error {
	p, err := m.PluginInfo(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%v (%v)\n\n", p.Name, p.ID)
	printSchema(w, p.Schema)
	return nil
}

func printSchema(w io.Writer, s nfc.Schema) {
	if len(s) == 0 {
		fmt.Fprintln(w, "No configuration needed.")
		return
	}
	fmt.Fprintln(w, "            Field │ Type    │    Default │ Allowed       │ Description")
	fmt.Fprintln(w, "──────────────────┼─────────┼────────────┼───────────────┼─────────────────────────────────")
	for _, f := range s {
		def := "-"
		switch {
		case f.Required:
			def = "required"
		case f.Default != nil:
			def = fmt.Sprint(f.Default)
		}
		fmt.Fprintf(w, "%17v │ %-7v │ %10v │ %-13v │ %v\n", f.Name, f.Kind, def, checkLength(allowed(f), 13), checkLength(f.Description, 60))
	}
}

// allowed renders the constraints of a field in a single short column.
func allowed(f nfc.Field) string {
	switch {
	case len(f.Options) > 0:
		vals := make([]string, 0, len(f.Options))
		for _, o := range f.Options {
			vals = append(vals, o.Value)
		}
		return strings.Join(vals, "/")
	case f.Min != nil && f.Max != nil:
		return fmt.Sprintf("%v..%v", *f.Min, *f.Max)
	case f.Min != nil:
		return fmt.Sprintf(">= %v", *f.Min)
	case f.Max != nil:
		return fmt.Sprintf("<= %v", *f.Max)
	case f.Optional:
		return "optional"
	}
	return ""
}

func checkLength(s string, l int) string {
	r := []rune(s)
	if len(r) > l {
		return string(r[:l-1]) + "…"
	}
	return s
}
