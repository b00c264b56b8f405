package params

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
)

var (
	// ErrUnknownProperty is returned for names not in the table.
	ErrUnknownProperty = errors.New("sci-capture: unknown property")
	// ErrCannotSet is returned when a value is rejected or the property is read-only.
	ErrCannotSet = errors.New("sci-capture: cannot set property")
)

// Kind tags a descriptor's value domain.
type Kind int

const (
	// Enumerated values come from a fixed list of choices.
	Enumerated Kind = iota
	// Numeric values are floats, optionally bounded.
	Numeric
	// Text values are free-form strings.
	Text
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case Enumerated:
		return "enumerated"
	case Numeric:
		return "numeric"
	case Text:
		return "text"
	default:
		return "unknown"
	}
}

// Descriptor is one entry of the property table. Choices and Limits are
// evaluated on every access because they can depend on other parameters.
type Descriptor struct {
	Name     string
	Kind     Kind
	ReadOnly bool
	Get      func() string
	Set      func(value string) error
	// Choices lists the allowed values of an Enumerated property.
	Choices func() []string
	// Limits bounds a Numeric property; nil means unbounded.
	Limits func() (lo, hi float64)
}

// Table dispatches get/set by name.
type Table struct {
	order  []string
	byName map[string]Descriptor
}

// NewTable builds a table from descriptors. Later entries replace earlier ones
// with the same name.
func NewTable(ds ...Descriptor) *Table {
	t := &Table{byName: make(map[string]Descriptor, len(ds))}
	for _, d := range ds {
		t.Add(d)
	}
	return t
}

// Add inserts or replaces a descriptor.
func (t *Table) Add(d Descriptor) {
	if _, exists := t.byName[d.Name]; !exists {
		t.order = append(t.order, d.Name)
	}
	t.byName[d.Name] = d
}

// Names returns property names in insertion order.
func (t *Table) Names() []string {
	return slices.Clone(t.order)
}

// Lookup returns the descriptor for name.
func (t *Table) Lookup(name string) (Descriptor, bool) {
	d, ok := t.byName[name]
	return d, ok
}

// Get reads the current value of name.
func (t *Table) Get(name string) (string, error) {
	d, ok := t.byName[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProperty, name)
	}
	return d.Get(), nil
}

// Set validates value against the descriptor's domain and applies it.
func (t *Table) Set(name, value string) error {
	d, ok := t.byName[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProperty, name)
	}
	if d.ReadOnly || d.Set == nil {
		return fmt.Errorf("%w: %q is read-only", ErrCannotSet, name)
	}

	switch d.Kind {
	case Enumerated:
		if d.Choices != nil && !slices.Contains(d.Choices(), value) {
			return fmt.Errorf("%w: %q is not an allowed value for %q", ErrCannotSet, value, name)
		}
	case Numeric:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w: %q is not numeric for %q", ErrCannotSet, value, name)
		}
		if d.Limits != nil {
			lo, hi := d.Limits()
			if v < lo || v > hi {
				return fmt.Errorf("%w: %v outside [%v, %v] for %q", ErrCannotSet, v, lo, hi, name)
			}
		}
	}

	if err := d.Set(value); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrCannotSet, name, err)
	}
	return nil
}
