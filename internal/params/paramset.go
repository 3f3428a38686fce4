package params

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind enumerates the value kinds a parameter may hold
type Kind int

const (
	String Kind = iota
	Int
	Float
	Bool
	StringSlice
	Time // parsed from "MM/DD/YYYY" raw form
	Sub  // nested parameter set
	Opaque
)

// String returns the display name of the kind
func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case StringSlice:
		return "[]string"
	case Time:
		return "time"
	case Sub:
		return "sub"
	case Opaque:
		return "opaque"
	}
	return "unknown"
}

// VerifyFunc validates an assigned value. Returning false rejects the
// assignment with the declaration's VerifyMsg diagnostic.
type VerifyFunc func(value any) bool

// Decl describes a parameter declaration passed to Add
type Decl struct {
	Kind      Kind
	Required  bool
	Immutable bool
	Private   bool
	Default   any
	Verify    VerifyFunc
	VerifyMsg string
	Doc       string
}

// Parameter is a declared entry of a Set
type Parameter struct {
	Name  string
	Decl  Decl
	value any
	set   bool
}

// Value returns the current value, falling back to the declared default
func (p *Parameter) Value() any {
	if p.set {
		return p.value
	}
	return p.Decl.Default
}

// IsSet reports whether the parameter has been explicitly assigned
func (p *Parameter) IsSet() bool {
	return p.set
}

// Set is a typed, hierarchical parameter container. Parameters are declared
// with Add, assigned with Set or SetRaw, and checked with Validate before
// the Set is consumed by a constructor.
type Set struct {
	entries map[string]*Parameter
	order   []string
}

// NewSet creates an empty parameter set
func NewSet() *Set {
	return &Set{entries: make(map[string]*Parameter)}
}

// Add declares a parameter. Declaring a name twice is an error.
func (s *Set) Add(name string, decl Decl) error {
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateParameter, name)
	}
	s.entries[name] = &Parameter{Name: name, Decl: decl}
	s.order = append(s.order, name)
	return nil
}

// AddSub grafts a nested parameter set under the given prefix. Controllers
// contribute their object parameters this way.
func (s *Set) AddSub(prefix string, sub *Set) error {
	return s.Add(prefix, Decl{Kind: Sub, Default: sub})
}

// Has reports whether the name has been declared
func (s *Set) Has(name string) bool {
	_, ok := s.entries[name]
	return ok
}

// Keys returns the declared names in declaration order
func (s *Set) Keys() []string {
	keys := make([]string, len(s.order))
	copy(keys, s.order)
	return keys
}

// Param returns the declared parameter, or nil
func (s *Set) Param(name string) *Parameter {
	return s.entries[name]
}

// Set assigns a value, enforcing the declared kind, mutability and the
// verify predicate. A plain string assigned to a []string parameter is
// split on whitespace.
func (s *Set) Set(name string, value any) error {
	p, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParameter, name)
	}
	if p.Decl.Immutable && p.set {
		return fmt.Errorf("%w: %s", ErrImmutableViolation, name)
	}

	coerced, err := coerceValue(p.Decl.Kind, value)
	if err != nil {
		return fmt.Errorf("%w: parameter %q expects %s, got %T", ErrTypeMismatch, name, p.Decl.Kind, value)
	}

	if p.Decl.Verify != nil && !p.Decl.Verify(coerced) {
		return fmt.Errorf("%w: parameter %q: %s", ErrVerifyFailed, name, p.Decl.VerifyMsg)
	}

	p.value = coerced
	p.set = true
	return nil
}

// SetRaw assigns from raw configuration text: matching double quotes are
// stripped, and the remaining string is coerced per the declared kind.
func (s *Set) SetRaw(name, raw string) error {
	p, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParameter, name)
	}

	quoted := false
	if len(raw) >= 2 && strings.HasPrefix(raw, `"`) && strings.HasSuffix(raw, `"`) {
		raw = raw[1 : len(raw)-1]
		quoted = true
	}

	if p.Decl.Kind == StringSlice && quoted {
		// A quoted value assigned to an array parameter stays one element
		return s.Set(name, []string{raw})
	}

	value, err := coerceRaw(p.Decl.Kind, raw)
	if err != nil {
		return fmt.Errorf("%w: parameter %q: %v", ErrTypeMismatch, name, err)
	}
	return s.Set(name, value)
}

// Get returns the value for name, or nil when unset and no default exists
func (s *Set) Get(name string) any {
	p, ok := s.entries[name]
	if !ok {
		return nil
	}
	return p.Value()
}

// GetFrom returns the value of name inside the nested set declared as group
func (s *Set) GetFrom(group, name string) any {
	sub := s.Sub(group)
	if sub == nil {
		return nil
	}
	return sub.Get(name)
}

// Sub returns the nested parameter set declared under prefix, or nil
func (s *Set) Sub(prefix string) *Set {
	p, ok := s.entries[prefix]
	if !ok || p.Decl.Kind != Sub {
		return nil
	}
	sub, _ := p.Value().(*Set)
	return sub
}

// GetString returns the string value for name ("" when absent)
func (s *Set) GetString(name string) string {
	v, _ := s.Get(name).(string)
	return v
}

// GetInt returns the int value for name (0 when absent)
func (s *Set) GetInt(name string) int {
	v, _ := s.Get(name).(int)
	return v
}

// GetFloat returns the float value for name (0 when absent)
func (s *Set) GetFloat(name string) float64 {
	v, _ := s.Get(name).(float64)
	return v
}

// GetBool returns the bool value for name (false when absent)
func (s *Set) GetBool(name string) bool {
	v, _ := s.Get(name).(bool)
	return v
}

// GetStrings returns the []string value for name (nil when absent)
func (s *Set) GetStrings(name string) []string {
	v, _ := s.Get(name).([]string)
	return v
}

// GetTime returns the time value for name (zero when absent)
func (s *Set) GetTime(name string) time.Time {
	v, _ := s.Get(name).(time.Time)
	return v
}

// IsValid reports whether name is declared and holds a usable value
func (s *Set) IsValid(name string) bool {
	p, ok := s.entries[name]
	if !ok {
		return false
	}
	return p.Value() != nil
}

// RequiredKeys returns the names declared as required, in declaration order
func (s *Set) RequiredKeys() []string {
	var keys []string
	for _, name := range s.order {
		if s.entries[name].Decl.Required {
			keys = append(keys, name)
		}
	}
	return keys
}

// Validate returns the required-but-unset parameter names, recursing into
// nested sets (reported as "prefix/name"). An empty result means the set is
// ready for consumption.
func (s *Set) Validate() []string {
	var missing []string
	for _, name := range s.order {
		p := s.entries[name]
		if p.Decl.Required && !p.set {
			missing = append(missing, name)
		}
		if p.Decl.Kind == Sub {
			if sub, ok := p.Value().(*Set); ok && sub != nil {
				for _, m := range sub.Validate() {
					missing = append(missing, name+"/"+m)
				}
			}
		}
	}
	return missing
}

// Clone returns an independent deep copy; nested sets are cloned recursively.
// The Factory hands out clones so templates stay pristine.
func (s *Set) Clone() *Set {
	out := NewSet()
	for _, name := range s.order {
		p := s.entries[name]
		decl := p.Decl
		if decl.Kind == Sub {
			if sub, ok := decl.Default.(*Set); ok && sub != nil {
				decl.Default = sub.Clone()
			}
		}
		np := &Parameter{Name: name, Decl: decl, set: p.set}
		np.value = cloneValue(p.value)
		out.entries[name] = np
		out.order = append(out.order, name)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []string:
		c := make([]string, len(t))
		copy(c, t)
		return c
	case *Set:
		if t == nil {
			return t
		}
		return t.Clone()
	default:
		return v
	}
}

// coerceValue checks (and where allowed converts) a runtime value against
// the declared kind
func coerceValue(kind Kind, value any) (any, error) {
	switch kind {
	case String:
		if v, ok := value.(string); ok {
			return v, nil
		}
	case Int:
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		}
	case Float:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		}
	case Bool:
		if v, ok := value.(bool); ok {
			return v, nil
		}
	case StringSlice:
		switch v := value.(type) {
		case []string:
			return v, nil
		case string:
			// single string splits on whitespace into an ordered sequence
			return strings.Fields(v), nil
		}
	case Time:
		if v, ok := value.(time.Time); ok {
			return v, nil
		}
	case Sub:
		if v, ok := value.(*Set); ok {
			return v, nil
		}
	case Opaque:
		return value, nil
	}
	return nil, fmt.Errorf("cannot assign %T to %s", value, kind)
}

// coerceRaw converts the raw (unquoted) string form per the declared kind
func coerceRaw(kind Kind, raw string) (any, error) {
	switch kind {
	case String, Opaque:
		return raw, nil
	case Int:
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid int value %q", raw)
		}
		return n, nil
	case Float:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float value %q", raw)
		}
		return f, nil
	case Bool:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true", "yes", "on", "1":
			return true, nil
		case "false", "no", "off", "0":
			return false, nil
		}
		return nil, fmt.Errorf("invalid bool value %q", raw)
	case StringSlice:
		return strings.Fields(raw), nil
	case Time:
		t, err := time.Parse("01/02/2006", strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid date value %q", raw)
		}
		return t, nil
	case Sub:
		return nil, fmt.Errorf("nested set cannot be assigned from text")
	}
	return nil, fmt.Errorf("unsupported kind %s", kind)
}
