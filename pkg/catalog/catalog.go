// Package catalog provides the in-memory table catalog at the heart of
// FluxGate. Uploaded datasets are stored under compound keys derived
// from their descriptors and live for the lifetime of the process;
// durability is the persistence engine's job, not the catalog's.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/fluxstack-labs/fluxgate/pkg/tabular"
)

// ErrNotFound is returned by Get for keys with no entry.
var ErrNotFound = errors.New("table not found")

// Kind discriminates the two descriptor flavors.
type Kind int

const (
	// KindPath identifies a dataset by hierarchical path segments.
	KindPath Kind = iota + 1

	// KindCommand identifies a dataset by an opaque command string;
	// business data uses "<schema>:<field>" commands.
	KindCommand
)

func (k Kind) String() string {
	switch k {
	case KindPath:
		return "path"
	case KindCommand:
		return "cmd"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Descriptor names a dataset the way a caller addresses it: either an
// opaque command or a path. Only the field matching Kind is meaningful.
type Descriptor struct {
	Kind    Kind
	Command string
	Path    []string
}

// Key is the comparable catalog key derived from a descriptor. Path
// segments are joined with "/" so the key can index a map; identical
// descriptors always derive equal keys.
type Key struct {
	kind    Kind
	command string
	path    string
}

// KeyFor derives the catalog key for a descriptor.
func KeyFor(d Descriptor) Key {
	switch d.Kind {
	case KindPath:
		return Key{kind: KindPath, path: strings.Join(d.Path, "/")}
	default:
		return Key{kind: KindCommand, command: d.Command}
	}
}

// KeyForCommand derives the key for a command descriptor.
func KeyForCommand(cmd string) Key {
	return Key{kind: KindCommand, command: cmd}
}

// KeyForPath derives the key for a path descriptor.
func KeyForPath(segments ...string) Key {
	return Key{kind: KindPath, path: strings.Join(segments, "/")}
}

// Kind returns the descriptor flavor this key was derived from.
func (k Key) Kind() Kind { return k.kind }

// Command returns the command string for command keys, else "".
func (k Key) Command() string { return k.command }

// Descriptor reverses the key derivation.
func (k Key) Descriptor() Descriptor {
	if k.kind == KindPath {
		d := Descriptor{Kind: KindPath}
		if k.path != "" {
			d.Path = strings.Split(k.path, "/")
		}
		return d
	}
	return Descriptor{Kind: KindCommand, Command: k.command}
}

func (k Key) String() string {
	if k.kind == KindPath {
		return "path:" + k.path
	}
	return "cmd:" + k.command
}

// Entry is one catalog entry as returned by List.
type Entry struct {
	Key     Key
	Dataset tabular.Dataset
}

// Catalog stores datasets under compound keys.
type Catalog interface {
	// Put inserts or replaces the entry for key. Last write wins; the
	// dataset's shape is not validated.
	Put(key Key, ds tabular.Dataset)

	// Get returns the entry for key, or an error wrapping ErrNotFound.
	Get(key Key) (tabular.Dataset, error)

	// List returns a snapshot of all entries sorted by key. The
	// snapshot is not isolated from concurrent Puts to other keys.
	List() []Entry

	// Clear removes every entry and returns how many were removed.
	// Clearing an empty catalog succeeds with zero.
	Clear() int

	// Len returns the current entry count.
	Len() int
}

// Memory is the map-backed Catalog used by the server.
type Memory struct {
	mu     sync.RWMutex
	tables map[Key]tabular.Dataset
}

// NewMemory creates an empty catalog.
func NewMemory() *Memory {
	return &Memory{tables: make(map[Key]tabular.Dataset)}
}

// Put inserts or replaces the entry for key.
func (m *Memory) Put(key Key, ds tabular.Dataset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[key] = ds
}

// Get returns the entry for key.
func (m *Memory) Get(key Key) (tabular.Dataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ds, ok := m.tables[key]
	if !ok {
		return tabular.Dataset{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return ds, nil
}

// List returns a sorted snapshot of all entries.
func (m *Memory) List() []Entry {
	m.mu.RLock()
	entries := make([]Entry, 0, len(m.tables))
	for k, ds := range m.tables {
		entries = append(entries, Entry{Key: k, Dataset: ds})
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key.String() < entries[j].Key.String()
	})
	return entries
}

// Clear removes every entry.
func (m *Memory) Clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.tables)
	m.tables = make(map[Key]tabular.Dataset)
	return n
}

// Len returns the current entry count.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tables)
}

// Ensure Memory implements the Catalog interface
var _ Catalog = (*Memory)(nil)
