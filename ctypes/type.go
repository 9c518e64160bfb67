// Package ctypes holds the marshalling strategies used by the generated
// extension module: one Type per category of value crossing between C and
// Python, plus the Registry that maps C type spellings to them.
package ctypes

import (
	"fmt"
	"sort"
	"strings"
)

// Sense is the direction a value travels in a call.
type Sense int

const (
	SenseIn Sense = iota
	// SenseOut values are written by the callee and are not taken
	// positionally.
	SenseOut
	// SenseOutDone values are written by the callee and returned to the
	// caller as part of the result.
	SenseOutDone
)

func (s Sense) String() string {
	switch s {
	case SenseOut:
		return "OUT"
	case SenseOutDone:
		return "OUT_DONE"
	default:
		return "IN"
	}
}

// Attribute flags carried by a Type.
const (
	Borrowed   = "BORROWED"
	Destructor = "DESTRUCTOR"
	Ignore     = "IGNORE"
	Foreign    = "FOREIGN"
	NullOK     = "NULL_OK"
	Out        = "OUT"
)

// MethodAttributes may prefix a type spelling and are moved into the
// attribute set by Dispatch.
var MethodAttributes = []string{Borrowed, Destructor, Ignore}

// Attributes is a set of flags.
type Attributes map[string]struct{}

func NewAttributes(flags ...string) Attributes {
	a := make(Attributes, len(flags))
	for _, f := range flags {
		a.Add(f)
	}
	return a
}

func (a Attributes) Add(flag string) {
	if flag = strings.TrimSpace(flag); flag != "" {
		a[flag] = struct{}{}
	}
}

func (a Attributes) Has(flag string) bool {
	_, ok := a[flag]
	return ok
}

// Sorted returns the flags in lexical order.
func (a Attributes) Sorted() []string {
	out := make([]string, 0, len(a))
	for f := range a {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// CallContext is the per-function state shared by the Types taking part in
// one generated function.
type CallContext struct {
	// ErrorSet is raised by any fragment that jumps to on_error.
	ErrorSet bool
	// PythonObjectIndex selects the keep-alive slot (1 or 2) a wrapped
	// argument is stored in; 0 disables keep-alive.
	PythonObjectIndex int
}

// MarkError records that the fragment being generated uses on_error.
func (c *CallContext) MarkError() {
	if c != nil {
		c.ErrorSet = true
	}
}

// ToPythonOptions controls a C to Python conversion.
type ToPythonOptions struct {
	Name     string // C expression to convert, defaults to the Type name
	Result   string // Python variable receiving the value, defaults to Py_result
	Proxied  bool   // converting arguments for a call into Python
	Borrowed bool   // the C value must not be released after conversion
}

func (o ToPythonOptions) resolve(t Type) (name, result string) {
	name, result = o.Name, o.Result
	if name == "" {
		name = t.Name()
	}
	if result == "" {
		result = "Py_result"
	}
	return name, result
}

// Type is the marshalling contract every variant implements.
type Type interface {
	Name() string
	CType() string
	// Spelling is the declared C type as written in the header.
	Spelling() string
	Kind() string
	Attributes() Attributes
	Interface() string
	Sense() Sense

	// MarshalCode is the PyArg_ParseTupleAndKeywords format code, empty
	// when the value is never taken positionally.
	MarshalCode() string
	// PythonName is the keyword name, empty when not exposed.
	PythonName() string

	Comment() string
	Describe() string

	// Declare returns the local declarations for an argument or result.
	Declare(defaultValue string) string
	// DeclareProxied declares the C result variable of a proxy.
	DeclareProxied() string
	// DeclareLocal returns extra locals a proxy needs for an argument.
	DeclareLocal() string
	// Reference is the address expression used for unpacking, "" for none.
	Reference() string
	Prepare(ctx *CallContext) string
	NativeCallArg() string
	// BindResult performs call and stores its value, bracketed by the
	// interpreter lock release. owned says the caller owns the result.
	BindResult(ctx *CallContext, call string, owned bool) string
	PostCall(ctx *CallContext) string
	ToPython(ctx *CallContext, opts ToPythonOptions) string
	FromPython(ctx *CallContext, source, destination, allocContext string) string
	CleanupOnError() string
	ProxyPostCall(ctx *CallContext, result string) string
	ErrorValue(result string) string
	ReturnValue(value string) string
}

// ResultReplacer is implemented by Types whose Python value replaces the
// converted return value of the call.
type ResultReplacer interface {
	ReplacesResult() bool
}

// base carries the defaults shared by every variant.
type base struct {
	name      string
	ctype     string
	spelling  string
	kind      string
	iface     string
	code      string
	sense     Sense
	attrs     Attributes
	arraySize string
	errValue  string
}

func newBase(kind, name, spelling, ctype string) base {
	return base{
		name:     name,
		ctype:    ctype,
		spelling: spelling,
		kind:     kind,
		code:     "O",
		attrs:    NewAttributes(),
		errValue: "return 0;",
	}
}

func (b *base) Name() string           { return b.name }
func (b *base) CType() string          { return b.ctype }
func (b *base) Spelling() string       { return b.spelling }
func (b *base) Kind() string           { return b.kind }
func (b *base) Attributes() Attributes { return b.attrs }
func (b *base) Interface() string      { return b.iface }
func (b *base) Sense() Sense           { return b.sense }
func (b *base) MarshalCode() string    { return b.code }
func (b *base) PythonName() string     { return b.name }
func (b *base) ArraySize() string      { return b.arraySize }

func (b *base) Comment() string {
	return fmt.Sprintf("%s %s", b.ctype, b.name)
}

func (b *base) Describe() string {
	if b.name == "func_return" {
		return b.spelling
	}
	if strings.Contains(b.spelling, "void") {
		return ""
	}
	return fmt.Sprintf("%s : %s", b.spelling, b.name)
}

func (b *base) Declare(defaultValue string) string {
	switch {
	case defaultValue != "":
		return fmt.Sprintf("    %s %s = %s;\n", b.ctype, b.name, defaultValue)
	case b.arraySize != "":
		return fmt.Sprintf("    int array_index = 0;\n    %s UNUSED *%s;\n", b.ctype, b.name)
	default:
		return fmt.Sprintf("    %s UNUSED %s;\n", b.ctype, b.name)
	}
}

func (b *base) DeclareProxied() string { return b.Declare("") }
func (b *base) DeclareLocal() string   { return "" }

func (b *base) Reference() string {
	return "&" + b.name
}

func (b *base) Prepare(*CallContext) string { return "" }
func (b *base) NativeCallArg() string       { return b.name }

func (b *base) BindResult(_ *CallContext, call string, _ bool) string {
	return fmt.Sprintf("        Py_BEGIN_ALLOW_THREADS\n        %s = %s;\n        Py_END_ALLOW_THREADS\n",
		b.name, strings.TrimSpace(call))
}

func (b *base) PostCall(ctx *CallContext) string {
	ctx.MarkError()
	result := "    if(check_error()) {\n        goto on_error;\n    }\n"
	if b.attrs.Has(Destructor) {
		result += "    self->base = NULL;  // DESTRUCTOR - C object no longer valid\n"
	}
	return result
}

func (b *base) ToPython(*CallContext, ToPythonOptions) string { return "" }

func (b *base) FromPython(*CallContext, string, string, string) string { return "" }

func (b *base) CleanupOnError() string { return "" }

func (b *base) ProxyPostCall(*CallContext, string) string { return "" }

func (b *base) ErrorValue(result string) string {
	return strings.ReplaceAll(b.errValue, "{result}", result)
}

func (b *base) ReturnValue(value string) string {
	return fmt.Sprintf("return %s;", value)
}

// UnknownTypeError reports a spelling with no registered variant.
type UnknownTypeError struct {
	Spelling string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown type %q", e.Spelling)
}
