package nfc

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type Kind int

const (
	KindString Kind = iota
	KindInteger
	KindFloat
	KindBoolean
	KindSelect
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindBoolean:
		return "boolean"
	case KindSelect:
		return "select"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Field describes a single configuration value of a plugin.
type Field struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Kind        Kind   `json:"type"`
	Default     any    `json:"default"`
	Required    bool   `json:"required"`
	// Optional fields may be left empty (null), and have no default.
	Optional bool     `json:"optional,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Options  []Option `json:"options,omitempty"`
	// ShowIf is a hint for configuration surfaces, e.g. {"interface": "i2c"}. It does not affect validation.
	ShowIf map[string]string `json:"show_if,omitempty"`
}

// Bounds is a small helper for declaring inclusive numeric limits.
func Bounds(lo, hi float64) (*float64, *float64) {
	return &lo, &hi
}

// Schema is the ordered list of fields a plugin accepts.
type Schema []Field

func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Defaults returns a configuration holding the default of every field that has one.
func (s Schema) Defaults() Config {
	c := Config{}
	for _, f := range s {
		if f.Default != nil {
			c[f.Name] = f.Default
		}
	}
	return c
}

// Validate checks a raw configuration document against the schema. The returned configuration only contains fields
// that are part of the schema, with defaults filled in for everything that was left out.
func (s Schema) Validate(raw map[string]any) (Config, []FieldError) {
	cfg := Config{}
	var errs []FieldError
	for _, f := range s {
		v, present := raw[f.Name]
		if !present || v == nil {
			switch {
			case f.Required:
				errs = append(errs, FieldError{f.Name, fmt.Sprintf("%v is required", f.label())})
			case f.Default != nil:
				cfg[f.Name] = f.Default
			}
			continue
		}

		val, err := f.coerce(v)
		if err != nil {
			errs = append(errs, FieldError{f.Name, err.Error()})
			continue
		}
		cfg[f.Name] = val
	}
	return cfg, errs
}

func (f Field) label() string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

func (f Field) coerce(v any) (any, error) {
	switch f.Kind {
	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%v must be a string", f.label())
		}
		return s, nil
	case KindSelect:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%v must be one of %v", f.label(), f.optionValues())
		}
		for _, o := range f.Options {
			if o.Value == s {
				return s, nil
			}
		}
		return nil, fmt.Errorf("%v must be one of %v, got %q", f.label(), f.optionValues(), s)
	case KindBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%v must be true/false", f.label())
		}
		return b, nil
	case KindInteger:
		n, ok := toFloat(v)
		if !ok || n != math.Trunc(n) {
			return nil, fmt.Errorf("%v must be a whole number", f.label())
		}
		if err := f.checkRange(n); err != nil {
			return nil, err
		}
		return int(n), nil
	case KindFloat:
		n, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("%v must be a number", f.label())
		}
		if err := f.checkRange(n); err != nil {
			return nil, err
		}
		return n, nil
	}
	return nil, fmt.Errorf("%v has unsupported type %v", f.label(), f.Kind)
}

func (f Field) checkRange(n float64) error {
	if f.Min != nil && n < *f.Min {
		return fmt.Errorf("%v must be at least %v, got %v", f.label(), *f.Min, n)
	}
	if f.Max != nil && n > *f.Max {
		return fmt.Errorf("%v must be at most %v, got %v", f.label(), *f.Max, n)
	}
	return nil
}

func (f Field) optionValues() string {
	vals := make([]string, 0, len(f.Options))
	for _, o := range f.Options {
		vals = append(vals, o.Value)
	}
	return strings.Join(vals, "/")
}

// toFloat accepts finite numbers only. NaN would slip through every range check.
func toFloat(v any) (float64, bool) {
	f, ok := number(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// number accepts the number shapes that end up in decoded documents: JSON and YAML numbers, Go integers and the
// numeric strings that web forms like to send.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.ToLower(strings.TrimSpace(n))
		if strings.HasPrefix(s, "0x") {
			i, err := strconv.ParseInt(s[2:], 16, 64)
			return float64(i), err == nil
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}
