package ctypes

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Factory builds a Type for a named value of the given C spelling.
type Factory func(name, spelling string) Type

type Entry struct {
	Factory Factory
	Kind    string
	// Active entries may cross the boundary. Structs start inactive until
	// bound explicitly.
	Active bool
}

// Registry maps C type spellings to marshalling variants. Each generator
// run owns one registry; declarations found in headers extend it.
type Registry struct {
	entries map[string]*Entry
}

func integer(spec *IntSpec) Factory {
	return func(name, spelling string) Type { return NewInteger(spec, name, spelling) }
}

func pointerOut(kind string, spec *IntSpec) Factory {
	return func(name, spelling string) Type { return NewPIntegerOut(kind, spec, name, spelling) }
}

var builtins = []struct {
	spellings []string
	kind      string
	factory   Factory
}{
	{[]string{"IN unsigned char *", "IN char *", "unsigned char *", "char *"}, "String",
		func(n, s string) Type { return NewString(n, s) }},
	{[]string{"ZString"}, "ZString", func(n, s string) Type { return NewZString(n, s) }},
	{[]string{"OUT unsigned char *", "OUT char *"}, "StringOut",
		func(n, s string) Type { return NewStringOut(n, s) }},
	{[]string{"OUT uint64_t *"}, "PInteger64UnsignedOut", pointerOut("PInteger64UnsignedOut", Integer64UnsignedSpec)},
	{[]string{"OUT uint32_t *"}, "PInteger32UnsignedOut", pointerOut("PInteger32UnsignedOut", Integer32UnsignedSpec)},
	{[]string{"void *"}, "PVoid", func(n, s string) Type { return NewPVoid(n, s) }},
	{[]string{"void"}, "Void", func(n, s string) Type { return NewVoid(n, s) }},
	{[]string{"TDB_DATA *"}, "TDBDataPointer", func(n, s string) Type { return NewTDBDataPointer(n, s) }},
	{[]string{"TDB_DATA"}, "TDBData", func(n, s string) Type { return NewTDBData(n, s) }},
	{[]string{"int"}, "Integer", integer(IntegerSpec)},
	{[]string{"unsigned int"}, "IntegerUnsigned", integer(IntegerUnsignedSpec)},
	{[]string{"long", "long int"}, "Long", integer(LongSpec)},
	{[]string{"unsigned long", "unsigned long int"}, "LongUnsigned", integer(LongUnsignedSpec)},
	{[]string{"int8_t"}, "Integer8", integer(Integer8Spec)},
	{[]string{"uint8_t"}, "Integer8Unsigned", integer(Integer8UnsignedSpec)},
	{[]string{"int16_t"}, "Integer16", integer(Integer16Spec)},
	{[]string{"uint16_t"}, "Integer16Unsigned", integer(Integer16UnsignedSpec)},
	{[]string{"int32_t"}, "Integer32", integer(Integer32Spec)},
	{[]string{"uint32_t"}, "Integer32Unsigned", integer(Integer32UnsignedSpec)},
	{[]string{"int64_t", "off_t", "ssize_t", "time_t"}, "Integer64", integer(Integer64Spec)},
	{[]string{"uint64_t", "size_t", "TSK_INUM_T"}, "Integer64Unsigned", integer(Integer64UnsignedSpec)},
	{[]string{"char"}, "Char", func(n, s string) Type { return NewChar(n, s) }},
	{[]string{"struct timeval"}, "Timeval", func(n, s string) Type { return NewTimeval(n, s) }},
	{[]string{"char **"}, "StringArray", func(n, s string) Type { return NewStringArray(n, s) }},
	{[]string{"PyObject *"}, "PyObject", func(n, s string) Type { return NewPyObject(n, s) }},
}

// NewRegistry returns a registry holding the built-in spellings.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]*Entry)}
	for _, b := range builtins {
		for _, s := range b.spellings {
			r.Register(s, b.kind, b.factory, true)
		}
	}
	return r
}

func (r *Registry) Register(spelling, kind string, f Factory, active bool) {
	r.entries[Normalize(spelling)] = &Entry{Factory: f, Kind: kind, Active: active}
}

// RegisterClass makes a class usable by handle and by pointer to handle.
func (r *Registry) RegisterClass(name string) {
	r.Register(name, "Wrapper", func(n, s string) Type { return NewWrapper(n, s) }, true)
	r.Register(name+" *", "PointerWrapper", func(n, s string) Type { return NewPointerWrapper(n, s) }, true)
}

// RegisterStruct registers a plain struct. It stays inactive until
// Activate is called for it.
func (r *Registry) RegisterStruct(name string) {
	r.Register(name, "StructWrapper", func(n, s string) Type { return NewStructWrapper(n, s) }, false)
	r.Register(name+" *", "PointerStructWrapper", func(n, s string) Type { return NewPointerStructWrapper(n, s) }, false)
}

func (r *Registry) RegisterEnum(name string) {
	r.Register(name, "EnumType", func(n, s string) Type { return NewEnumType(n, s) }, true)
}

// Alias makes alias resolve like existing. It reports false, changing
// nothing, when existing is not registered or alias already is.
func (r *Registry) Alias(alias, existing string) bool {
	e, ok := r.entries[Normalize(existing)]
	if !ok {
		return false
	}
	if _, taken := r.entries[Normalize(alias)]; taken {
		return false
	}
	copied := *e
	r.entries[Normalize(alias)] = &copied
	return true
}

// Activate marks a spelling as usable across the boundary.
func (r *Registry) Activate(spelling string) bool {
	e, ok := r.entries[Normalize(spelling)]
	if ok {
		e.Active = true
	}
	return ok
}

func (r *Registry) Lookup(spelling string) (*Entry, bool) {
	e, ok := r.entries[Normalize(spelling)]
	return e, ok
}

// Active reports whether spelling is registered and active.
func (r *Registry) Active(spelling string) bool {
	e, ok := r.Lookup(spelling)
	return ok && e.Active
}

var (
	structHandle = regexp.MustCompile(`struct\s+([a-zA-Z0-9_]+)_t\s*\*`)
	spaces       = regexp.MustCompile(`\s+`)
	stars        = regexp.MustCompile(`\s*\*[\s*]*`)
)

// Normalize canonicalises a spelling: single spaces, one space before a
// run of stars and no spaces inside it.
func Normalize(spelling string) string {
	s := spaces.ReplaceAllString(strings.TrimSpace(spelling), " ")
	s = stars.ReplaceAllStringFunc(s, func(run string) string {
		return " " + strings.Repeat("*", strings.Count(run, "*")) + " "
	})
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}

// Resolve splits a declared spelling into the registered spelling and the
// attribute words in front of it.
func (r *Registry) Resolve(spelling string) (string, Attributes) {
	attrs := NewAttributes()
	s := Normalize(spelling)
	if s == "" {
		return "void *", attrs
	}
	s = Normalize(structHandle.ReplaceAllString(s, "$1"))

	for {
		word, rest, found := strings.Cut(s, " ")
		if !found || !slices.Contains(MethodAttributes, word) {
			break
		}
		attrs.Add(word)
		s = rest
	}

	if _, ok := r.entries[s]; !ok && strings.HasPrefix(s, "IN ") {
		s = strings.TrimPrefix(s, "IN ")
	}
	return s, attrs
}

// Dispatch builds the Type for a named value.
func (r *Registry) Dispatch(name, spelling string) (Type, error) {
	s, attrs := r.Resolve(spelling)
	e, ok := r.entries[s]
	if !ok {
		return nil, &UnknownTypeError{Spelling: strings.TrimSpace(spelling)}
	}
	t := e.Factory(name, s)
	for a := range attrs {
		t.Attributes().Add(a)
	}
	return t, nil
}

// DispatchArray builds the Type for a fixed size struct member. char
// arrays become strings, integer arrays become lists.
func (r *Registry) DispatchArray(name, spelling, size string) (Type, error) {
	s, _ := r.Resolve(spelling)
	if s == "char" {
		return NewCharArray(name, s, size), nil
	}
	t, err := r.Dispatch(name, spelling)
	if err != nil {
		return nil, err
	}
	i, ok := t.(*Integer)
	if !ok {
		return nil, fmt.Errorf("%s %s[%s]: arrays of %s are not supported", spelling, name, size, t.Kind())
	}
	i.arraySize = size
	return i, nil
}

// Fuse merges a string parameter with the integer length that follows it.
func Fuse(previous, next Type) (Type, bool) {
	if previous == nil || next == nil {
		return nil, false
	}
	if next.Interface() != "integer" || previous.Interface() != "string" {
		return nil, false
	}
	if previous.Sense() == SenseOut {
		return NewCharAndLengthOut(previous, next), true
	}
	return NewCharAndLength(previous, next), true
}
