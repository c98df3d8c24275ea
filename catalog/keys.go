package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrSchema         = errors.New("catalog schema missing or unreadable")
	ErrSchemaMismatch = errors.New("catalog already initialised with different keys")
	ErrNotFound       = errors.New("dataset not found")
)

// KeyArityError is returned when a key tuple does not have one value per
// schema key field.
type KeyArityError struct {
	Got  int
	Want int
}

func (e *KeyArityError) Error() string {
	return fmt.Sprintf("got %d key values, schema defines %d", e.Got, e.Want)
}

type UnknownKeyError struct {
	Name string
}

func (e *UnknownKeyError) Error() string {
	return fmt.Sprintf("unknown key %q", e.Name)
}

// KeyDef is one schema key field.
type KeyDef struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Key is an ordered tuple of key values, one per schema key field.
type Key []string

func (k Key) String() string {
	return strings.Join(k, "/")
}

// Schema is the immutable list of key fields a catalog was created with.
type Schema []KeyDef

// FileSchema is the single field schema keyed by file name.
var FileSchema = Schema{{Name: "file", Description: "source file name without extension"}}

func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, k := range s {
		names[i] = k.Name
	}
	return names
}

// Key checks a positional key tuple against the schema.
func (s Schema) Key(values ...string) (Key, error) {
	if len(values) != len(s) {
		return nil, &KeyArityError{Got: len(values), Want: len(s)}
	}
	return Key(values), nil
}

// KeyFromMap orders named key values by the schema.
func (s Schema) KeyFromMap(values map[string]string) (Key, error) {
	for name := range values {
		if !s.has(name) {
			return nil, &UnknownKeyError{Name: name}
		}
	}
	if len(values) != len(s) {
		return nil, &KeyArityError{Got: len(values), Want: len(s)}
	}

	key := make(Key, len(s))
	for i, k := range s {
		key[i] = values[k.Name]
	}
	return key, nil
}

func (s Schema) has(name string) bool {
	for _, k := range s {
		if k.Name == name {
			return true
		}
	}
	return false
}

func (s Schema) sameNames(other Schema) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i].Name != other[i].Name {
			return false
		}
	}
	return true
}

var safeNameRegex = regexp.MustCompile("^[a-zA-Z_][a-zA-Z0-9_]*$")

func (s Schema) validate() error {
	if len(s) == 0 {
		return errors.New("schema needs at least one key")
	}
	seen := make(map[string]struct{}, len(s))
	for _, k := range s {
		if !safeNameRegex.MatchString(k.Name) {
			return fmt.Errorf("invalid key name: %q", k.Name)
		}
		lower := strings.ToLower(k.Name)
		if _, reserved := reservedColumns[lower]; reserved {
			return fmt.Errorf("key name %q clashes with a catalog column", k.Name)
		}
		if _, dup := seen[lower]; dup {
			return fmt.Errorf("duplicate key name: %q", k.Name)
		}
		seen[lower] = struct{}{}
	}
	return nil
}
