package bindgen

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"classbindgen/ctypes"
)

// MethodKind selects how a method is exposed to Python.
type MethodKind int

const (
	KindRegular MethodKind = iota
	// KindConstructor allocates the native object and installs proxies.
	KindConstructor
	// KindIterator implements tp_iternext.
	KindIterator
	// KindSelfIterator implements tp_iter and returns the object itself.
	KindSelfIterator
	KindStructConstructor
	KindEmptyConstructor
	KindEnumConstructor
)

func (k MethodKind) String() string {
	switch k {
	case KindConstructor:
		return "constructor"
	case KindIterator:
		return "iterator"
	case KindSelfIterator:
		return "self-iterator"
	case KindStructConstructor:
		return "struct constructor"
	case KindEmptyConstructor:
		return "empty constructor"
	case KindEnumConstructor:
		return "enum constructor"
	default:
		return "method"
	}
}

func (k MethodKind) isConstructor() bool {
	switch k {
	case KindConstructor, KindStructConstructor, KindEmptyConstructor, KindEnumConstructor:
		return true
	}
	return false
}

// Classify picks the kind of a method declared in className.
func Classify(className, methodName, returnSpelling string) MethodKind {
	switch {
	case strings.TrimSpace(returnSpelling) == className && strings.HasPrefix(methodName, "Con"):
		return KindConstructor
	case methodName == "iternext":
		return KindIterator
	case methodName == "__iter__":
		return KindSelfIterator
	default:
		return KindRegular
	}
}

// Method is one wrapped native method. Methods are templates: deriving a
// class clones them, sharing argument and return Types.
type Method struct {
	Kind                MethodKind
	ClassName           string
	BaseClassName       string
	DefinitionClassName string
	Name                string
	Args                []ctypes.Type
	Return              ctypes.Type
	ReturnSpelling      string
	Docstring           string
	Modifier            string
	Defaults            map[string]string
	Exception           *ResultException
}

// NewMethod builds a method with no arguments. When the return type is not
// registered the method is still returned, returning an untyped pointer,
// together with the *ctypes.UnknownTypeError.
func NewMethod(reg *ctypes.Registry, kind MethodKind, className, baseClassName, name, returnSpelling string) (*Method, error) {
	m := &Method{
		Kind:                kind,
		ClassName:           className,
		BaseClassName:       baseClassName,
		DefinitionClassName: className,
		Name:                name,
		ReturnSpelling:      strings.TrimSpace(returnSpelling),
		Defaults:            make(map[string]string),
	}

	var err error
	switch kind {
	case KindStructConstructor, KindEmptyConstructor, KindEnumConstructor:
		m.Return = ctypes.NewVoid("func_return", "void")
		m.ReturnSpelling = "void"
	default:
		m.Return, err = reg.Dispatch("func_return", m.ReturnSpelling)
		if err != nil {
			m.Return = ctypes.NewPVoid("func_return", "void *")
		}
	}
	m.Return.Attributes().Add(ctypes.Out)
	if kind == KindIterator {
		m.Return.Attributes().Add(ctypes.NullOK)
	}
	return m, err
}

// AddArg appends an argument. A length following a string is fused into
// the string. Unknown types are skipped and reported.
func (m *Method) AddArg(reg *ctypes.Registry, name, spelling string) error {
	t, err := reg.Dispatch(name, spelling)
	if err != nil {
		return fmt.Errorf("%s.%s argument %s: %w", m.ClassName, m.Name, name, err)
	}
	if n := len(m.Args); n > 0 {
		if fused, ok := ctypes.Fuse(m.Args[n-1], t); ok {
			m.Args[n-1] = fused
			return nil
		}
	}
	m.Args = append(m.Args, t)
	return nil
}

var integerLiteral = regexp.MustCompile(`^-?(?:0[xX][0-9a-fA-F]+|[0-9]+)$`)

// SetDocstring stores the docstring and reads its directives. A literal
// DEFAULT that does not fit its integer argument is dropped and reported.
func (m *Method) SetDocstring(doc string) error {
	m.Docstring = doc
	d, err := ParseDirectives(doc)
	m.Defaults = d.Defaults
	m.Exception = d.Exception

	errs := []error{err}
	for _, a := range m.Args {
		i, ok := a.(*ctypes.Integer)
		if !ok {
			continue
		}
		value, ok := m.Defaults[i.Name()]
		if !ok || !integerLiteral.MatchString(value) {
			continue
		}
		if rangeErr := i.Spec.CheckString(value); rangeErr != nil {
			delete(m.Defaults, i.Name())
			errs = append(errs, fmt.Errorf("DEFAULT(%s): %w", i.Name(), rangeErr))
		}
	}
	return errors.Join(errs...)
}

func (m *Method) clone(className string) *Method {
	c := *m
	c.ClassName = className
	return &c
}

// Comment is the C declaration shown in generated comments and docstrings.
func (m *Method) Comment() string {
	args := make([]string, 0, len(m.Args))
	for _, a := range m.Args {
		args = append(args, a.Comment())
	}
	return fmt.Sprintf("%s %s.%s(%s);\n", m.ReturnSpelling, m.ClassName, m.Name, strings.Join(args, ","))
}

func (m *Method) String() string {
	if m.Kind == KindIterator {
		return fmt.Sprintf("Iterator returning %s.", m.Return.Describe())
	}
	args := make([]string, 0, len(m.Args))
	for _, a := range m.Args {
		if d := a.Describe(); d != "" {
			args = append(args, d)
		}
	}
	return fmt.Sprintf("def %s %s(%s):", m.Return.Describe(), m.Name, strings.Join(args, " , "))
}

// parsedArgs returns the arguments taken from Python, mandatory arguments
// first, then those with a DEFAULT.
func (m *Method) parsedArgs() []ctypes.Type {
	var mandatory, optional []ctypes.Type
	for _, a := range m.Args {
		if a.PythonName() == "" || a.MarshalCode() == "" {
			continue
		}
		if _, ok := m.Defaults[a.PythonName()]; ok {
			optional = append(optional, a)
		} else {
			mandatory = append(mandatory, a)
		}
	}
	return append(mandatory, optional...)
}

// PythonArgs lists the keyword names, mandatory arguments first.
func (m *Method) PythonArgs() []string {
	var names []string
	for _, a := range m.parsedArgs() {
		names = append(names, a.PythonName())
	}
	return names
}

// Format is the PyArg_ParseTupleAndKeywords format string.
func (m *Method) Format() string {
	var sb strings.Builder
	optional := false
	for _, a := range m.parsedArgs() {
		if _, ok := m.Defaults[a.PythonName()]; ok && !optional {
			sb.WriteString("|")
			optional = true
		}
		sb.WriteString(a.MarshalCode())
	}
	return sb.String()
}

// ProxyName is the trampoline installed in place of the native slot.
func (m *Method) ProxyName() string {
	return fmt.Sprintf("Proxied%s_%s", m.DefinitionClassName, m.Name)
}

// Proxied reports whether the method gets a trampoline. close doubles as
// the destructor hook and must never call back into Python.
func (m *Method) Proxied() bool {
	return m.Name != "close" && !strings.HasPrefix(m.Name, "_") && !m.Kind.isConstructor()
}

// Exposed reports whether the method goes into the PyMethodDef table.
func (m *Method) Exposed() bool {
	return m.Kind == KindRegular
}

// Getattr collects the attributes readable through generated getters.
type Getattr struct {
	ClassName     string
	BaseClassName string
	attrs         []attribute
}

// attribute remembers the class declaring it; inherited attributes are
// read through that class.
type attribute struct {
	owner string
	t     ctypes.Type
}

func (g *Getattr) Add(t ctypes.Type) {
	if t.Name() != "" {
		g.attrs = append(g.attrs, attribute{owner: g.ClassName, t: t})
	}
}

func (g *Getattr) clone(className string) *Getattr {
	return &Getattr{
		ClassName:     className,
		BaseClassName: g.BaseClassName,
		attrs:         append([]attribute(nil), g.attrs...),
	}
}

func (g *Getattr) visible(m *Module) []attribute {
	var out []attribute
	for _, a := range g.attrs {
		s := a.t.Spelling()
		if _, known := m.reg.Lookup(s); known && !m.reg.Active(s) && !m.StructBound(s) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Attributes returns the attributes whose types may cross the boundary.
func (g *Getattr) Attributes(m *Module) []ctypes.Type {
	var out []ctypes.Type
	for _, a := range g.visible(m) {
		out = append(out, a.t)
	}
	return out
}

func (g *Getattr) String(m *Module) string {
	var sb strings.Builder
	for _, a := range g.Attributes(m) {
		sb.WriteString(fmt.Sprintf("    %s\n", a.Describe()))
	}
	return sb.String()
}
