package ctypes

import (
	"fmt"
	"math/big"
	"strings"
)

// IntSpec describes one integer variant: how it is unpacked, its C limits
// and how it converts back to Python.
type IntSpec struct {
	Kind   string
	CType  string
	Code   string // "i", "l" and "L" are range-checked by Python, "O" by us
	Signed bool
	Bits   int
	Min    string // C limit macros, Min is empty for unsigned types
	Max    string
	ToPy   string
	Cast   string
}

var (
	IntegerSpec           = &IntSpec{"Integer", "int", "i", true, 32, "INT_MIN", "INT_MAX", "PyLong_FromLong", "long"}
	IntegerUnsignedSpec   = &IntSpec{"IntegerUnsigned", "unsigned int", "O", false, 32, "", "UINT_MAX", "PyLong_FromUnsignedLong", "unsigned long"}
	Integer8Spec          = &IntSpec{"Integer8", "int8_t", "O", true, 8, "INT8_MIN", "INT8_MAX", "PyLong_FromLong", "long"}
	Integer8UnsignedSpec  = &IntSpec{"Integer8Unsigned", "uint8_t", "O", false, 8, "", "UINT8_MAX", "PyLong_FromUnsignedLong", "unsigned long"}
	Integer16Spec         = &IntSpec{"Integer16", "int16_t", "O", true, 16, "INT16_MIN", "INT16_MAX", "PyLong_FromLong", "long"}
	Integer16UnsignedSpec = &IntSpec{"Integer16Unsigned", "uint16_t", "O", false, 16, "", "UINT16_MAX", "PyLong_FromUnsignedLong", "unsigned long"}
	Integer32Spec         = &IntSpec{"Integer32", "int32_t", "O", true, 32, "INT32_MIN", "INT32_MAX", "PyLong_FromLong", "long"}
	Integer32UnsignedSpec = &IntSpec{"Integer32Unsigned", "uint32_t", "O", false, 32, "", "UINT32_MAX", "PyLong_FromUnsignedLong", "unsigned long"}
	Integer64Spec         = &IntSpec{"Integer64", "int64_t", "L", true, 64, "INT64_MIN", "INT64_MAX", "PyLong_FromLongLong", "long long"}
	Integer64UnsignedSpec = &IntSpec{"Integer64Unsigned", "uint64_t", "O", false, 64, "", "UINT64_MAX", "PyLong_FromUnsignedLongLong", "unsigned long long"}
	// long is assumed to be 64 bits wide (LP64).
	LongSpec         = &IntSpec{"Long", "long", "l", true, 64, "LONG_MIN", "LONG_MAX", "PyLong_FromLong", "long"}
	LongUnsignedSpec = &IntSpec{"LongUnsigned", "unsigned long", "O", false, 64, "", "ULONG_MAX", "PyLong_FromUnsignedLong", "unsigned long"}
)

// IntSpecs lists every integer variant.
var IntSpecs = []*IntSpec{
	IntegerSpec, IntegerUnsignedSpec,
	Integer8Spec, Integer8UnsignedSpec,
	Integer16Spec, Integer16UnsignedSpec,
	Integer32Spec, Integer32UnsignedSpec,
	Integer64Spec, Integer64UnsignedSpec,
	LongSpec, LongUnsignedSpec,
}

// Bounds returns the inclusive range of values the variant accepts.
func (s *IntSpec) Bounds() (lo, hi *big.Int) {
	one := big.NewInt(1)
	if s.Signed {
		hi = new(big.Int).Lsh(one, uint(s.Bits-1))
		lo = new(big.Int).Neg(hi)
		hi.Sub(hi, one)
		return lo, hi
	}
	hi = new(big.Int).Lsh(one, uint(s.Bits))
	return big.NewInt(0), hi.Sub(hi, one)
}

// Check reports whether v fits the variant. The message matches the
// OverflowError raised by the generated code.
func (s *IntSpec) Check(v *big.Int) error {
	lo, hi := s.Bounds()
	if v.Cmp(lo) < 0 || v.Cmp(hi) > 0 {
		return &OverflowError{Kind: s.Kind, Value: v.String(), Min: lo.String(), Max: hi.String()}
	}
	return nil
}

// CheckString parses a decimal or 0x prefixed literal and checks it.
func (s *IntSpec) CheckString(literal string) error {
	v, ok := new(big.Int).SetString(strings.TrimSpace(literal), 0)
	if !ok {
		return fmt.Errorf("%s: invalid integer literal %q", s.Kind, literal)
	}
	return s.Check(v)
}

// Bounded reports whether the generated code range-checks the value itself.
func (s *IntSpec) Bounded() bool { return s.Code == "O" }

type OverflowError struct {
	Kind, Value, Min, Max string
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("%s: integer %s out of range [%s, %s]", e.Kind, e.Value, e.Min, e.Max)
}

// copyTo is the C helper converting a Python integer into the variant.
func (s *IntSpec) copyTo(source, destination string) string {
	if s.Signed {
		return fmt.Sprintf(`    {
        int64_t integer_value = 0;

        if(integer_object_copy_to_signed(%[1]s, %[3]s, %[4]s, &integer_value) != 0) {
            goto on_error;
        }
        %[2]s = (%[5]s) integer_value;
    }
`, source, destination, s.Min, s.Max, s.CType)
	}
	return fmt.Sprintf(`    {
        uint64_t integer_value = 0;

        if(integer_object_copy_to_unsigned(%[1]s, %[3]s, &integer_value) != 0) {
            goto on_error;
        }
        %[2]s = (%[4]s) integer_value;
    }
`, source, destination, s.Max, s.CType)
}

// Integer covers every fixed width and platform integer.
type Integer struct {
	base
	Spec *IntSpec
}

func NewInteger(spec *IntSpec, name, spelling string) *Integer {
	i := &Integer{base: newBase(spec.Kind, name, spelling, spec.CType), Spec: spec}
	i.iface = "integer"
	i.code = spec.Code
	return i
}

func (i *Integer) shadow() string { return "py_" + i.name }

func (i *Integer) Declare(defaultValue string) string {
	decl := i.base.Declare(defaultValue)
	if i.Spec.Bounded() && i.arraySize == "" {
		if defaultValue == "" {
			decl = fmt.Sprintf("    %s UNUSED %s = 0;\n", i.ctype, i.name)
		}
		decl += fmt.Sprintf("    PyObject *%s = NULL;\n", i.shadow())
	}
	return decl
}

func (i *Integer) DeclareProxied() string { return i.base.Declare("") }

func (i *Integer) Reference() string {
	if i.Spec.Bounded() {
		return "&" + i.shadow()
	}
	return i.base.Reference()
}

func (i *Integer) Prepare(ctx *CallContext) string {
	if !i.Spec.Bounded() {
		return ""
	}
	ctx.MarkError()
	body := i.Spec.copyTo(i.shadow(), i.name)
	return fmt.Sprintf("    if(%s != NULL) {\n%s    }\n", i.shadow(), indent(body, 4))
}

func (i *Integer) ToPython(_ *CallContext, opts ToPythonOptions) string {
	name, result := opts.resolve(i)
	if i.arraySize != "" {
		return fmt.Sprintf(`    %[1]s = PyList_New(0);
    for(array_index = 0; array_index < %[2]s; array_index++) {
        PyObject *item_object = %[3]s((%[4]s) %[5]s[array_index]);

        if(item_object != NULL) {
            PyList_Append(%[1]s, item_object);
            Py_DecRef(item_object);
        }
    }
`, result, i.arraySize, i.Spec.ToPy, i.Spec.Cast, name)
	}
	return fmt.Sprintf("    %s = %s((%s) %s);\n", result, i.Spec.ToPy, i.Spec.Cast, name)
}

func (i *Integer) FromPython(ctx *CallContext, source, destination, _ string) string {
	ctx.MarkError()
	return i.Spec.copyTo(source, destination)
}

func (i *Integer) Comment() string {
	if i.arraySize != "" {
		return fmt.Sprintf("%s %s[%s]", i.ctype, i.name, i.arraySize)
	}
	return i.base.Comment()
}

// Char marshals a single byte as a bytes object of length one.
type Char struct {
	base
}

func NewChar(name, spelling string) *Char {
	c := &Char{base: newBase("Char", name, spelling, "char")}
	c.iface = "small_integer"
	c.code = "s"
	return c
}

func (c *Char) Declare(string) string {
	return fmt.Sprintf("    char %[1]s = 0;\n    char *str_%[1]s = NULL;\n", c.name)
}

func (c *Char) Reference() string { return "&str_" + c.name }

func (c *Char) Prepare(ctx *CallContext) string {
	ctx.MarkError()
	return fmt.Sprintf(`    if(str_%[1]s != NULL) {
        if(strlen(str_%[1]s) != 1) {
            PyErr_Format(PyExc_RuntimeError, "You must only provide a single character for arg %[1]s");
            goto on_error;
        }
        %[1]s = str_%[1]s[0];
    }
`, c.name)
}

func (c *Char) ToPython(_ *CallContext, opts ToPythonOptions) string {
	name, result := opts.resolve(c)
	return fmt.Sprintf("    %s = PyBytes_FromStringAndSize(&%s, 1);\n", result, name)
}

func (c *Char) FromPython(ctx *CallContext, source, destination, _ string) string {
	ctx.MarkError()
	return fmt.Sprintf(`    {
        char *char_buffer = NULL;
        Py_ssize_t char_length = 0;

        if(PyBytes_AsStringAndSize(%[1]s, &char_buffer, &char_length) == -1 || char_length != 1) {
            PyErr_Format(PyExc_TypeError, "expected a single byte");
            goto on_error;
        }
        %[2]s = char_buffer[0];
    }
`, source, destination)
}

// PIntegerOut returns a value the callee writes through a pointer.
type PIntegerOut struct {
	base
	Spec *IntSpec
}

func NewPIntegerOut(kind string, spec *IntSpec, name, spelling string) *PIntegerOut {
	p := &PIntegerOut{base: newBase(kind, name, spelling, spec.CType+" *"), Spec: spec}
	p.iface = "integer_out"
	p.code = ""
	p.sense = SenseOutDone
	return p
}

func (p *PIntegerOut) PythonName() string { return "" }

func (p *PIntegerOut) Declare(string) string {
	return fmt.Sprintf("    %[1]s UNUSED %[2]s_storage = 0;\n    %[1]s *%[2]s = &%[2]s_storage;\n", p.Spec.CType, p.name)
}

func (p *PIntegerOut) DeclareProxied() string { return "" }

func (p *PIntegerOut) Reference() string { return "" }

func (p *PIntegerOut) ToPython(_ *CallContext, opts ToPythonOptions) string {
	name, result := opts.resolve(p)
	if opts.Proxied {
		return fmt.Sprintf("    Py_IncRef(Py_None);\n    %s = Py_None;\n", result)
	}
	return fmt.Sprintf("    %s = %s((%s) *%s);\n", result, p.Spec.ToPy, p.Spec.Cast, name)
}

func (p *PIntegerOut) Comment() string {
	return fmt.Sprintf("%s *%s", p.Spec.CType, p.name)
}

// EnumType passes an enum as an int and converts results back into the
// generated enum class.
type EnumType struct {
	base
}

func NewEnumType(name, spelling string) *EnumType {
	e := &EnumType{base: newBase("EnumType", name, spelling, spelling)}
	e.iface = "enum"
	e.code = "i"
	return e
}

func (e *EnumType) Declare(defaultValue string) string {
	if defaultValue != "" {
		return fmt.Sprintf("    int %s = %s;\n", e.name, defaultValue)
	}
	return fmt.Sprintf("    int UNUSED %s = 0;\n", e.name)
}

func (e *EnumType) Prepare(ctx *CallContext) string {
	ctx.MarkError()
	return fmt.Sprintf(`    // Check if the integer passed is actually a valid member of the enum
    // Enum value of 0 is always allowed
    if(%[1]s) {
        PyObject *py_%[1]s = PyLong_FromLong((long) %[1]s);
        PyObject *tmp = PyDict_GetItem(%[2]s_rev_lookup, py_%[1]s);

        Py_DecRef(py_%[1]s);
        if(!tmp) {
            PyErr_Format(PyExc_RuntimeError, "value %%lu is not valid for Enum %[2]s of arg '%[1]s'", (unsigned long) %[1]s);
            goto on_error;
        }
    }
`, e.name, e.spelling)
}

func (e *EnumType) ToPython(_ *CallContext, opts ToPythonOptions) string {
	name, result := opts.resolve(e)
	return fmt.Sprintf("    %s = PyObject_CallMethod(g_module, \"%s\", \"K\", (unsigned long long) %s);\n",
		result, e.spelling, name)
}

func (e *EnumType) FromPython(ctx *CallContext, source, destination, _ string) string {
	ctx.MarkError()
	return fmt.Sprintf(`    {
        PyObject *enum_integer = PyNumber_Long(%[1]s);
        int64_t integer_value = 0;
        int copy_result = -1;

        if(enum_integer != NULL) {
            copy_result = integer_object_copy_to_signed(enum_integer, INT_MIN, INT_MAX, &integer_value);
            Py_DecRef(enum_integer);
        }
        if(copy_result != 0) {
            goto on_error;
        }
        %[2]s = (%[3]s) integer_value;
    }
`, source, destination, e.ctype)
}

func indent(s string, n int) string {
	pad := strings.Repeat(" ", n)
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = pad + l
		}
	}
	return strings.Join(lines, "\n") + "\n"
}
