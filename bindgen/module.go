// Package bindgen holds the model of a generated extension module (classes,
// structs, enums, methods and constants) and writes it out as a single C
// source file for the CPython 3 API.
package bindgen

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"classbindgen/ctypes"
	"classbindgen/logger"
	orderedmap "classbindgen/ordered_map"
)

const (
	DefaultFree          = "aff4_free"
	DefaultErrorFunction = "aff4_get_current_error"
	DefaultVersion       = "20190507"
)

// DefaultBlacklist holds #define names never exported as constants.
var DefaultBlacklist = []string{"TSK3_H_"}

// ConstantKind is the Python type a constant is exported as.
type ConstantKind string

const (
	IntegerConstant ConstantKind = "integer"
	StringConstant  ConstantKind = "string"
)

type Constant struct {
	Name string
	Kind ConstantKind
}

// Diagnostic is a declaration the parser had to skip.
type Diagnostic struct {
	Pass    int
	File    string
	Offset  int
	Kind    string
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s:%d: pass %d: %s: %s", d.File, d.Offset, d.Pass, d.Kind, d.Message)
}

// Options configures a Module.
type Options struct {
	Name string
	// InitString is C code run at the end of module initialisation.
	InitString    string
	Free          string
	ErrorFunction string
	Version       string
	Blacklist     []string
	// UnicodeConstants are string constants exported as str, not bytes.
	UnicodeConstants []string
	Registry         *ctypes.Registry
	Log              *slog.Logger
}

// Module is everything one generated extension module contains.
type Module struct {
	Name          string
	InitString    string
	Free          string
	ErrorFunction string
	Version       string

	reg          *ctypes.Registry
	log          *slog.Logger
	classes      *orderedmap.OrderedMap[string, Generator]
	constants    map[string]ConstantKind
	blacklist    []string
	unicode      map[string]bool
	files        []string
	headers      []string
	activeStruct map[string]bool
	enumValues   map[string]int64
	diagnostics  []Diagnostic
}

func NewModule(opts Options) *Module {
	m := &Module{
		Name:          opts.Name,
		InitString:    opts.InitString,
		Free:          opts.Free,
		ErrorFunction: opts.ErrorFunction,
		Version:       opts.Version,
		reg:           opts.Registry,
		log:           logger.OrDiscard(opts.Log),
		classes:       orderedmap.NewOrderedMap[string, Generator](),
		constants:     make(map[string]ConstantKind),
		blacklist:     opts.Blacklist,
		unicode:       make(map[string]bool),
		activeStruct:  make(map[string]bool),
		enumValues:    make(map[string]int64),
	}
	if m.Free == "" {
		m.Free = DefaultFree
	}
	if m.ErrorFunction == "" {
		m.ErrorFunction = DefaultErrorFunction
	}
	if m.Version == "" {
		m.Version = DefaultVersion
	}
	if m.blacklist == nil {
		m.blacklist = DefaultBlacklist
	}
	if m.reg == nil {
		m.reg = ctypes.NewRegistry()
	}
	for _, name := range opts.UnicodeConstants {
		m.unicode[name] = true
	}
	return m
}

func (m *Module) Registry() *ctypes.Registry { return m.reg }
func (m *Module) Log() *slog.Logger           { return m.log }

// AddClass stores a generator under its name and registers its types. A
// redeclared name keeps its original position.
func (m *Module) AddClass(g Generator) {
	if m.classes.Has(g.Name()) {
		m.log.Debug("class redeclared", "class", g.Name())
	}
	m.classes.Set(g.Name(), g)
	switch g := g.(type) {
	case *ClassGenerator:
		if !g.Modifiers.Has(ModifierProxy) {
			m.reg.RegisterClass(g.Name())
		}
	case *StructGenerator:
		m.reg.RegisterStruct(g.Name())
	case *Enum:
		m.reg.RegisterEnum(g.Name())
		// Enum values are exported whatever their spelling.
		for _, v := range g.Values {
			m.constants[v] = IntegerConstant
		}
	}
}

func (m *Module) Class(name string) (Generator, bool) {
	return m.classes.Get(name)
}

// Classes returns the generators in declaration order.
func (m *Module) Classes() []Generator {
	return m.classes.Values()
}

// AddConstant exports a #define. Short names, names starting with an
// underscore, names that are not all upper case and blacklisted names are
// ignored; it reports whether the constant was kept.
func (m *Module) AddConstant(name string, kind ConstantKind) bool {
	name = strings.TrimSpace(name)
	if len(name) <= 3 || name[0] == '_' || name != strings.ToUpper(name) || slices.Contains(m.blacklist, name) {
		return false
	}
	m.constants[name] = kind
	return true
}

// Constants returns integer constants then string constants, each sorted
// by name.
func (m *Module) Constants() []Constant {
	out := make([]Constant, 0, len(m.constants))
	for name, kind := range m.constants {
		out = append(out, Constant{Name: name, Kind: kind})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind == IntegerConstant
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// BindStruct forces a struct, and pointers to it, across the boundary.
func (m *Module) BindStruct(name string) {
	name = ctypes.Normalize(name)
	m.activeStruct[name] = true
	m.activeStruct[ctypes.Normalize(name+" *")] = true
	m.reg.Activate(name)
	m.reg.Activate(name + " *")
}

func (m *Module) StructBound(spelling string) bool {
	return m.activeStruct[ctypes.Normalize(spelling)]
}

// AddFile records a parsed header. The include path is made relative to
// base when it lies under it.
func (m *Module) AddFile(path, base string) {
	name := path
	if base != "" {
		if rel, err := filepath.Rel(base, path); err == nil && !strings.HasPrefix(rel, "..") {
			name = rel
		}
	}
	if slices.Contains(m.files, name) {
		return
	}
	m.files = append(m.files, name)
	m.headers = append(m.headers, fmt.Sprintf("#include \"%s\"\n", name))
}

func (m *Module) Files() []string { return slices.Clone(m.files) }

// AnnotateEnumValue records the value of an enum constant so the enum
// docstring can show it.
func (m *Module) AnnotateEnumValue(name string, value int64) {
	m.enumValues[name] = value
}

func (m *Module) Report(d Diagnostic) {
	m.log.Debug("diagnostic", "pass", d.Pass, "file", d.File, "offset", d.Offset, "kind", d.Kind, "message", d.Message)
	m.diagnostics = append(m.diagnostics, d)
}

// Diagnostics returns the diagnostics recorded during pass, or all of them
// when pass is negative.
func (m *Module) Diagnostics(pass int) []Diagnostic {
	var out []Diagnostic
	for _, d := range m.diagnostics {
		if pass < 0 || d.Pass == pass {
			out = append(out, d)
		}
	}
	return out
}

func (m *Module) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Module %s\n", m.Name))

	classNames := m.classes.Keys()
	sort.Strings(classNames)
	for _, name := range classNames {
		if g, _ := m.classes.Get(name); g.Active() {
			sb.WriteString(fmt.Sprintf("    %s\n", g.String()))
		}
	}

	names := make([]string, 0, len(m.constants))
	for name := range m.constants {
		names = append(names, name)
	}
	sort.Strings(names)
	sb.WriteString("Constants:\n")
	for _, name := range names {
		sb.WriteString(fmt.Sprintf(" %s\n", name))
	}
	return sb.String()
}

// Write emits the module source.
func (m *Module) Write(w io.Writer) error {
	_, err := io.WriteString(w, m.Generate())
	return err
}
