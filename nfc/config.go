package nfc

import (
	"time"
)

// Config is a validated plugin configuration, as returned by Schema.Validate. The accessors return the zero value
// for fields that are not set, so drivers should only read fields declared in their schema.
type Config map[string]any

func (c Config) Has(name string) bool {
	v, ok := c[name]
	return ok && v != nil
}

func (c Config) String(name string) string {
	s, _ := c[name].(string)
	return s
}

func (c Config) Int(name string) int {
	n, _ := toFloat(c[name])
	return int(n)
}

func (c Config) Float(name string) float64 {
	n, _ := toFloat(c[name])
	return n
}

func (c Config) Bool(name string) bool {
	b, _ := c[name].(bool)
	return b
}

// Seconds reads a field holding a number of seconds.
func (c Config) Seconds(name string) time.Duration {
	return time.Duration(c.Float(name) * float64(time.Second))
}

// Raw returns a copy that can be stored in a configuration document.
func (c Config) Raw() map[string]any {
	m := make(map[string]any, len(c))
	for k, v := range c {
		m[k] = v
	}
	return m
}
