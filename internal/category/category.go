// Package category holds the versioned table of canonical label names and the
// display decoration that a rendering client may show instead of them.
package category

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Unknown is the sentinel label carried by masks that have not been labeled yet.
// It is never a member of a Table.
const Unknown = "Unknown"

// Entry pairs a canonical name with its display string.
type Entry struct {
	Name    string `yaml:"name" json:"name"`
	Display string `yaml:"display,omitempty" json:"display"`
}

// Table is an immutable, bijective mapping between canonical names and
// display strings. The zero value is an empty table.
type Table struct {
	version   string
	entries   []Entry
	byName    map[string]string
	byDisplay map[string]string
}

// ErrDuplicate reports a canonical name or display string used twice.
var ErrDuplicate = errors.New("category: duplicate entry")

// New builds a table from entries. An empty Display defaults to the name.
// Names and display strings must each be unique, non-empty and distinct from
// the Unknown sentinel so that Canonical is a pure inverse of Display.
func New(version string, entries []Entry) (*Table, error) {
	t := &Table{
		version:   version,
		entries:   make([]Entry, 0, len(entries)),
		byName:    make(map[string]string, len(entries)),
		byDisplay: make(map[string]string, len(entries)),
	}
	for _, e := range entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, fmt.Errorf("category: empty name in version %q", version)
		}
		if name == Unknown {
			return nil, fmt.Errorf("category: %q is reserved", Unknown)
		}
		display := e.Display
		if display == "" {
			display = name
		}
		if display == Unknown {
			return nil, fmt.Errorf("category: %q is reserved", Unknown)
		}
		if _, ok := t.byName[name]; ok {
			return nil, fmt.Errorf("%w: name %q", ErrDuplicate, name)
		}
		if _, ok := t.byDisplay[display]; ok {
			return nil, fmt.Errorf("%w: display %q", ErrDuplicate, display)
		}
		t.byName[name] = display
		t.byDisplay[display] = name
		t.entries = append(t.entries, Entry{Name: name, Display: display})
	}
	// A display string may only coincide with its own entry's name, otherwise
	// the same input would name two categories.
	for _, e := range t.entries {
		if other, ok := t.byDisplay[e.Name]; ok && other != e.Name {
			return nil, fmt.Errorf("%w: display %q of %q is another category's name", ErrDuplicate, e.Name, other)
		}
	}
	return t, nil
}

// Version returns the table version label.
func (t *Table) Version() string {
	if t == nil {
		return ""
	}
	return t.version
}

// Entries returns the categories in declaration order.
func (t *Table) Entries() []Entry {
	if t == nil {
		return nil
	}
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Names returns the canonical names in declaration order.
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Name
	}
	return out
}

// Contains reports whether name is a canonical category.
func (t *Table) Contains(name string) bool {
	if t == nil {
		return false
	}
	_, ok := t.byName[name]
	return ok
}

// Display maps a canonical name to its decorated form.
func (t *Table) Display(name string) (string, bool) {
	if t == nil {
		return "", false
	}
	d, ok := t.byName[name]
	return d, ok
}

// Canonical maps a display string back to the canonical name. Canonical names
// are accepted as-is so clients may send either form.
func (t *Table) Canonical(display string) (string, bool) {
	if t == nil {
		return "", false
	}
	if name, ok := t.byDisplay[display]; ok {
		return name, true
	}
	if _, ok := t.byName[display]; ok {
		return display, true
	}
	return "", false
}

type fileFormat struct {
	Version    string  `yaml:"version"`
	Categories []Entry `yaml:"categories"`
}

// LoadFile reads a YAML category table:
//
//	version: v3
//	categories:
//	  - name: Wood
//	    display: "🪵 Wood"
func LoadFile(path string) (*Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read categories: %w", err)
	}
	return Parse(b)
}

// Parse decodes a YAML category table.
func Parse(b []byte) (*Table, error) {
	var ff fileFormat
	if err := yaml.Unmarshal(b, &ff); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	if len(ff.Categories) == 0 {
		return nil, fmt.Errorf("category file declares no categories")
	}
	return New(ff.Version, ff.Categories)
}
