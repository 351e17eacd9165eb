package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/callebjorkell/rpi-nfc-reader/nfc"
	"github.com/callebjorkell/rpi-nfc-reader/reader"
	"github.com/callebjorkell/rpi-nfc-reader/storage"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// parseSettings turns key=value arguments into a raw configuration document.
func parseSettings(args []string) (map[string]any, error) {
	raw := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("setting %q is not in the form key=value", arg)
		}
		v, err := parseValue(value)
		if err != nil {
			return nil, fmt.Errorf("setting %v: %w", key, err)
		}
		raw[key] = v
	}
	return raw, nil
}

// parseValue reads a single value the way it would be written in YAML. Integers are decimal unless they carry a 0x
// prefix, so a leading zero is never read as octal. Anything that is not a plain scalar is kept as a string.
func parseValue(value string) (any, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(value), &doc); err != nil {
		return value, nil
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	n := doc.Content[0]
	if n.Kind != yaml.ScalarNode {
		return value, nil
	}

	switch n.ShortTag() {
	case "!!null":
		return nil, nil
	case "!!bool":
		var b bool
		err := n.Decode(&b)
		return b, err
	case "!!int":
		s := strings.ReplaceAll(n.Value, "_", "")
		base := 10
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			s, base = s[2:], 16
		}
		if i, err := strconv.ParseInt(s, base, 64); err == nil {
			return i, nil
		}
		return n.Value, nil
	case "!!float":
		var f float64
		err := n.Decode(&f)
		return f, err
	}
	return n.Value, nil
}

// prepareSettings merges the given values over the stored configuration of a driver and validates the result.
// Unknown keys are dropped with a warning.
func prepareSettings(m *reader.Manager, store storage.Store, id string, args []string) (reader.Document, nfc.Config, error) {
	p, err := m.PluginInfo(id)
	if err != nil {
		return reader.Document{}, nil, err
	}
	raw, err := parseSettings(args)
	if err != nil {
		return reader.Document{}, nil, err
	}
	doc, err := store.Load()
	if err != nil {
		return reader.Document{}, nil, fmt.Errorf("unable to load stored settings: %w", err)
	}

	merged := make(map[string]any)
	for k, v := range doc.PluginConfig(id) {
		if _, ok := p.Schema.Field(k); ok {
			merged[k] = v
		}
	}
	for k, v := range raw {
		if _, ok := p.Schema.Field(k); !ok {
			log.Warnf("Ignoring unknown setting %q for %v", k, id)
			continue
		}
		merged[k] = v
	}

	cfg, errs := p.Schema.Validate(merged)
	if len(errs) > 0 {
		return reader.Document{}, nil, nfc.InvalidConfig(id, errs)
	}

	if doc.Plugins == nil {
		doc.Plugins = make(map[string]map[string]any)
	}
	doc.Active = id
	doc.Plugins[id] = merged
	return doc, cfg, nil
}

func checkSettings(w io.Writer, m *reader.Manager, id string, args []string) error {
	_, cfg, err := prepareSettings(m, db, id, args)
	if err != nil {
		printFieldErrors(w, err)
		return err
	}
	p, _ := m.PluginInfo(id)
	fmt.Fprintf(w, "Configuration for %v is valid.\n\n", p.Name)
	printConfig(w, p.Schema, cfg)
	return nil
}

func storeSettings(w io.Writer, m *reader.Manager, id string, args []string) error {
	doc, cfg, err := prepareSettings(m, db, id, args)
	if err != nil {
		printFieldErrors(w, err)
		return err
	}
	if err := db.Save(doc); err != nil {
		return fmt.Errorf("unable to store settings: %w", err)
	}
	p, _ := m.PluginInfo(id)
	fmt.Fprintf(w, "%v is now the active reader.\n\n", p.Name)
	printConfig(w, p.Schema, cfg)
	return nil
}

func printConfig(w io.Writer, s nfc.Schema, cfg nfc.Config) {
	if len(s) == 0 {
		return
	}
	fmt.Fprintln(w, "            Field │ Value")
	fmt.Fprintln(w, "──────────────────┼────────────────────")
	for _, f := range s {
		v := "-"
		if cfg.Has(f.Name) {
			v = fmt.Sprint(cfg[f.Name])
		}
		fmt.Fprintf(w, "%17v │ %v\n", f.Name, v)
	}
}

func printFieldErrors(w io.Writer, err error) {
	var cerr *nfc.ConfigurationError
	if !errors.As(err, &cerr) || len(cerr.Fields) == 0 {
		return
	}
	fmt.Fprintln(w, "            Field │ Problem")
	fmt.Fprintln(w, "──────────────────┼────────────────────")
	for _, f := range cerr.Fields {
		fmt.Fprintf(w, "%17v │ %v\n", f.Field, f.Message)
	}
}
