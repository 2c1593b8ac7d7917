package templates

import (
	"fmt"
	"strconv"
)

// Key is a typed template field. Format renders a field value into a
// path fragment; Parse is its inverse.
type Key interface {
	Name() string
	Format(v any) (string, error)
	Parse(s string) (any, error)

	// regex returns the regexp fragment matching a rendered value.
	regex() string
}

// FrameSpec is the value a sequence key accepts when the path should
// carry a frame placeholder ("%04d") instead of a concrete frame.
type FrameSpec struct{}

type StrKey struct {
	name    string
	Choices []string
	Default string
}

func (k StrKey) Name() string { return k.name }

func (k StrKey) Format(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("key %q: expected string, got %T", k.name, v)
	}
	if s == "" {
		return "", fmt.Errorf("key %q: empty value", k.name)
	}
	if len(k.Choices) > 0 {
		for _, c := range k.Choices {
			if c == s {
				return s, nil
			}
		}
		return "", fmt.Errorf("key %q: %q is not one of %v", k.name, s, k.Choices)
	}
	return s, nil
}

func (k StrKey) Parse(s string) (any, error) { return s, nil }

func (k StrKey) regex() string { return `[^/]+?` }

type IntKey struct {
	name string

	// FormatSpec is a printf width spec such as "03". Values wider than
	// the width render unpadded.
	FormatSpec string
}

func (k IntKey) Name() string { return k.name }

func (k IntKey) Format(v any) (string, error) {
	n, err := intValue(v)
	if err != nil {
		return "", fmt.Errorf("key %q: %w", k.name, err)
	}
	if k.FormatSpec == "" {
		return strconv.Itoa(n), nil
	}
	return fmt.Sprintf("%0"+k.FormatSpec+"d", n), nil
}

func (k IntKey) Parse(s string) (any, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("key %q: %q is not an integer", k.name, s)
	}
	return n, nil
}

func (k IntKey) regex() string { return `\d+` }

// SequenceKey is a frame-sequence placeholder. It formats concrete frame
// numbers like an int key, renders FrameSpec values as "%04d"-style
// placeholders, and passes pre-rendered strings (such as Flame range
// markers) through verbatim.
type SequenceKey struct {
	IntKey
}

func (k SequenceKey) Format(v any) (string, error) {
	switch val := v.(type) {
	case FrameSpec:
		return k.Placeholder(), nil
	case string:
		if val == "" {
			return "", fmt.Errorf("key %q: empty value", k.name)
		}
		return val, nil
	default:
		return k.IntKey.Format(v)
	}
}

// Placeholder returns the printf form of the sequence, e.g. "%04d".
func (k SequenceKey) Placeholder() string {
	if k.FormatSpec == "" {
		return "%d"
	}
	return "%0" + k.FormatSpec + "d"
}

// Parse reads concrete frames back as ints; placeholder and range
// tokens ("%04d", "[0100-0150]") survive as strings.
func (k SequenceKey) Parse(s string) (any, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	return s, nil
}

func (k SequenceKey) regex() string { return `(?:\d+|%\d*d|\[\d+-\d+\])` }

// Spec exposes the raw width spec, e.g. "04".
func (k SequenceKey) Spec() string { return k.FormatSpec }

func intValue(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", n)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}
