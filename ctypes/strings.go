package ctypes

import (
	"fmt"
	"strings"
)

// String is a NUL terminated buffer. Results are copied into bytes and the
// native buffer is released unless BORROWED.
type String struct {
	base
}

func NewString(name, spelling string) *String {
	s := &String{base: newBase("String", name, spelling, cleanSpelling(spelling))}
	s.iface = "string"
	s.code = "s"
	s.errValue = "return NULL;"
	return s
}

func (s *String) ToPython(ctx *CallContext, opts ToPythonOptions) string {
	name, result := opts.resolve(s)
	release := ""
	if !opts.Proxied && !opts.Borrowed && !s.attrs.Has(Borrowed) {
		release = fmt.Sprintf("        talloc_unlink(NULL, %s);\n", name)
	}
	ctx.MarkError()
	return fmt.Sprintf(`    PyErr_Clear();

    if(!%[1]s) {
        Py_IncRef(Py_None);
        %[2]s = Py_None;
    } else {
        %[2]s = PyBytes_FromStringAndSize((char *) %[1]s, strlen((char *) %[1]s));
%[3]s
        if(!%[2]s) {
            goto on_error;
        }
    }
`, name, result, release)
}

func (s *String) FromPython(ctx *CallContext, source, destination, allocContext string) string {
	ctx.MarkError()
	return fmt.Sprintf(`    {
        char *buff = NULL;
        Py_ssize_t length = 0;

        PyErr_Clear();
        if(PyBytes_AsStringAndSize(%[1]s, &buff, &length) == -1) {
            goto on_error;
        }
        %[2]s = talloc_size(%[3]s, length + 1);
        memcpy(%[2]s, buff, length);
        %[2]s[length] = 0;
    }
`, source, destination, allocContext)
}

// NewZString is a String that is never fused with a following length.
func NewZString(name, spelling string) *String {
	s := NewString(name, spelling)
	s.kind = "ZString"
	s.iface = "null_terminated_string"
	return s
}

// NewStringOut is a buffer filled by the callee. On its own it is not
// exposed to Python; followed by a length it fuses into CharAndLengthOut.
func NewStringOut(name, spelling string) *StringOut {
	s := &StringOut{String: *NewString(name, spelling)}
	s.kind = "StringOut"
	s.sense = SenseOut
	s.code = ""
	return s
}

type StringOut struct {
	String
}

func (s *StringOut) PythonName() string { return "" }
func (s *StringOut) Reference() string  { return "" }

func (s *StringOut) Declare(string) string {
	return fmt.Sprintf("    %s %s = NULL;\n", s.ctype, s.name)
}

// CharArray is a fixed size char buffer embedded in a struct.
type CharArray struct {
	base
}

func NewCharArray(name, spelling, size string) *CharArray {
	c := &CharArray{base: newBase("CharArray", name, spelling, "char")}
	c.iface = "string"
	c.code = ""
	c.arraySize = size
	c.attrs.Add(Borrowed)
	return c
}

func (c *CharArray) Declare(string) string {
	return fmt.Sprintf("    char UNUSED *%s = NULL;\n", c.name)
}

func (c *CharArray) ToPython(_ *CallContext, opts ToPythonOptions) string {
	name, result := opts.resolve(c)
	return fmt.Sprintf("    %s = PyBytes_FromStringAndSize(%s, strnlen(%s, %s));\n", result, name, name, c.arraySize)
}

func (c *CharArray) Comment() string {
	return fmt.Sprintf("char %s[%s]", c.name, c.arraySize)
}

// CharAndLength is a string argument fused with the length parameter that
// follows it.
type CharAndLength struct {
	base
	Length     string
	LengthType string
}

func NewCharAndLength(data, length Type) *CharAndLength {
	c := &CharAndLength{
		base:       newBase("CharAndLength", data.Name(), data.Spelling(), cleanSpelling(data.Spelling())),
		Length:     length.Name(),
		LengthType: length.CType(),
	}
	c.iface = "string_and_length"
	c.code = "s#"
	c.errValue = "return NULL;"
	return c
}

func (c *CharAndLength) Declare(string) string {
	return fmt.Sprintf("    char *%s = NULL;\n    Py_ssize_t %s = 0;\n", c.name, c.Length)
}

func (c *CharAndLength) Reference() string {
	return fmt.Sprintf("&%s, &%s", c.name, c.Length)
}

func (c *CharAndLength) NativeCallArg() string {
	return fmt.Sprintf("%s, (%s) %s", c.name, c.LengthType, c.Length)
}

func (c *CharAndLength) Comment() string {
	return fmt.Sprintf("%s %s, %s %s", c.ctype, c.name, c.LengthType, c.Length)
}

func (c *CharAndLength) ToPython(_ *CallContext, opts ToPythonOptions) string {
	name, result := opts.resolve(c)
	return fmt.Sprintf("    %s = PyBytes_FromStringAndSize((char *) %s, (Py_ssize_t) %s);\n", result, name, c.Length)
}

// CharAndLengthOut is a caller-sized buffer the callee fills. Python passes
// the length, the buffer comes back truncated to what was written.
type CharAndLengthOut struct {
	CharAndLength
}

func NewCharAndLengthOut(data, length Type) *CharAndLengthOut {
	c := &CharAndLengthOut{CharAndLength: *NewCharAndLength(data, length)}
	c.kind = "CharAndLengthOut"
	c.iface = "string_and_length_out"
	c.sense = SenseOutDone
	c.code = "n"
	return c
}

func (c *CharAndLengthOut) PythonName() string { return c.Length }
func (c *CharAndLengthOut) ReplacesResult() bool { return true }

func (c *CharAndLengthOut) Declare(string) string {
	return fmt.Sprintf("    char *%[1]s = NULL;\n    Py_ssize_t %[2]s = 0;\n    PyObject *tmp_%[1]s = NULL;\n", c.name, c.Length)
}

func (c *CharAndLengthOut) DeclareProxied() string { return "" }

func (c *CharAndLengthOut) Reference() string { return "&" + c.Length }

func (c *CharAndLengthOut) Prepare(ctx *CallContext) string {
	ctx.MarkError()
	return fmt.Sprintf(`    PyErr_Clear();

    if(%[2]s < 0) {
        PyErr_Format(PyExc_ValueError, "Invalid length: %%zd", %[2]s);
        goto on_error;
    }
    tmp_%[1]s = PyBytes_FromStringAndSize(NULL, %[2]s);

    if(!tmp_%[1]s) {
        goto on_error;
    }
    PyBytes_AsStringAndSize(tmp_%[1]s, &%[1]s, &%[2]s);
`, c.name, c.Length)
}

func (c *CharAndLengthOut) ToPython(_ *CallContext, opts ToPythonOptions) string {
	name, result := opts.resolve(c)
	if opts.Proxied {
		return fmt.Sprintf("    %s = PyLong_FromLong((long) %s);\n", result, c.Length)
	}
	return fmt.Sprintf(`    // A callee claiming more than the buffer it was given has overflowed it.
    if((uint64_t) func_return > (uint64_t) %[3]s) {
        printf("Programming Error - possible overflow!!\n");
        abort();

    // Truncate the buffer for a short read.
    } else if((uint64_t) func_return < (uint64_t) %[3]s) {
        _PyBytes_Resize(&tmp_%[1]s, (Py_ssize_t) func_return);
    }
    %[2]s = tmp_%[1]s;
    tmp_%[1]s = NULL;
`, name, result, c.Length)
}

func (c *CharAndLengthOut) ProxyPostCall(ctx *CallContext, result string) string {
	ctx.MarkError()
	return fmt.Sprintf(`    {
        char *tmp_buff = NULL;
        Py_ssize_t tmp_len = 0;

        if(PyBytes_AsStringAndSize(%[1]s, &tmp_buff, &tmp_len) == -1) {
            goto on_error;
        }
        if((size_t) tmp_len > (size_t) %[3]s) {
            PyErr_Format(PyExc_IOError, "Python method returned %%zd bytes for a %%zu byte buffer", tmp_len, (size_t) %[3]s);
            goto on_error;
        }
        memcpy(%[2]s, tmp_buff, tmp_len);
        Py_DecRef(%[1]s);
        %[1]s = PyLong_FromLong((long) tmp_len);
    }
`, result, c.name, c.Length)
}

func (c *CharAndLengthOut) CleanupOnError() string {
	return fmt.Sprintf("    if(tmp_%[1]s != NULL) {\n        Py_DecRef(tmp_%[1]s);\n    }\n", c.name)
}

// StringArray takes a Python sequence of strings as a NULL terminated
// char ** array.
type StringArray struct {
	base
}

func NewStringArray(name, spelling string) *StringArray {
	s := &StringArray{base: newBase("StringArray", name, spelling, "char **")}
	s.iface = "array"
	s.errValue = "return NULL;"
	return s
}

func (s *StringArray) Declare(string) string {
	return fmt.Sprintf("    char **%[1]s = NULL;\n    PyObject *py_%[1]s = NULL;\n", s.name)
}

func (s *StringArray) Reference() string { return "&py_" + s.name }

func (s *StringArray) Prepare(ctx *CallContext) string {
	ctx.MarkError()
	return fmt.Sprintf(`    if(py_%[1]s != NULL && py_%[1]s != Py_None) {
        Py_ssize_t sequence_size = 0;
        Py_ssize_t sequence_index = 0;

        if(!PySequence_Check(py_%[1]s)) {
            PyErr_Format(PyExc_ValueError, "%[1]s must be a sequence");
            goto on_error;
        }
        sequence_size = PySequence_Size(py_%[1]s);
        %[1]s = talloc_zero_array(NULL, char *, sequence_size + 1);

        for(sequence_index = 0; sequence_index < sequence_size; sequence_index++) {
            PyObject *item_object = PySequence_GetItem(py_%[1]s, sequence_index);
            const char *item_string = NULL;

            if(item_object == NULL) {
                goto on_error;
            }
            if(PyUnicode_Check(item_object)) {
                item_string = PyUnicode_AsUTF8(item_object);
            } else {
                item_string = PyBytes_AsString(item_object);
            }
            if(item_string == NULL) {
                Py_DecRef(item_object);
                goto on_error;
            }
            %[1]s[sequence_index] = talloc_strdup(%[1]s, item_string);
            Py_DecRef(item_object);
        }
    }
`, s.name)
}

func (s *StringArray) CleanupOnError() string {
	return fmt.Sprintf("    if(%[1]s != NULL) {\n        talloc_free(%[1]s);\n    }\n", s.name)
}

// TDBData is a TDB_DATA blob passed by value.
type TDBData struct {
	base
	pointer bool
}

func NewTDBData(name, spelling string) *TDBData {
	t := &TDBData{base: newBase("TDBData", name, spelling, "TDB_DATA")}
	t.iface = "tdb"
	t.code = "s#"
	t.errValue = "{result}.dptr = NULL;\n    return {result};"
	return t
}

// NewTDBDataPointer is a heap allocated TDB_DATA, freed after conversion.
func NewTDBDataPointer(name, spelling string) *TDBData {
	t := NewTDBData(name, spelling)
	t.kind = "TDBDataPointer"
	t.ctype = "TDB_DATA *"
	t.pointer = true
	t.errValue = "return NULL;"
	return t
}

func (t *TDBData) member(field string) string {
	if t.pointer {
		return t.name + "->" + field
	}
	return t.name + "." + field
}

func (t *TDBData) Declare(string) string {
	decl := fmt.Sprintf("    char *%[1]s_buffer = NULL;\n    Py_ssize_t %[1]s_length = 0;\n", t.name)
	if t.pointer {
		return decl + fmt.Sprintf("    TDB_DATA %[1]s_value;\n    TDB_DATA *%[1]s = &%[1]s_value;\n", t.name)
	}
	return decl + fmt.Sprintf("    TDB_DATA %s;\n", t.name)
}

func (t *TDBData) DeclareProxied() string {
	return fmt.Sprintf("    %s %s;\n", t.ctype, t.name)
}

func (t *TDBData) Reference() string {
	return fmt.Sprintf("&%[1]s_buffer, &%[1]s_length", t.name)
}

func (t *TDBData) Prepare(*CallContext) string {
	return fmt.Sprintf("    %s = (unsigned char *) %s_buffer;\n    %s = (size_t) %s_length;\n",
		t.member("dptr"), t.name, t.member("dsize"), t.name)
}

func (t *TDBData) ToPython(_ *CallContext, opts ToPythonOptions) string {
	name, result := opts.resolve(t)
	if t.pointer {
		out := fmt.Sprintf("    PyErr_Clear();\n    %[2]s = PyBytes_FromStringAndSize((char *) %[1]s->dptr, %[1]s->dsize);\n", name, result)
		if !opts.Proxied && !opts.Borrowed {
			out += fmt.Sprintf("    talloc_free(%s);\n", name)
		}
		return out
	}
	return fmt.Sprintf("    PyErr_Clear();\n    %[2]s = PyBytes_FromStringAndSize((char *) %[1]s.dptr, %[1]s.dsize);\n", name, result)
}

func (t *TDBData) FromPython(ctx *CallContext, source, destination, allocContext string) string {
	ctx.MarkError()
	sep := "."
	alloc := ""
	owner := "NULL"
	if t.pointer {
		sep = "->"
		alloc = fmt.Sprintf("    %s = talloc_zero(%s, TDB_DATA);\n", destination, allocContext)
		owner = destination
	}
	return alloc + fmt.Sprintf(`    {
        char *buf = NULL;
        Py_ssize_t tmp = 0;

        PyErr_Clear();
        if(PyBytes_AsStringAndSize(%[1]s, &buf, &tmp) == -1) {
            goto on_error;
        }
        %[2]s%[3]sdptr = talloc_memdup(%[4]s, buf, tmp);
        %[2]s%[3]sdsize = tmp;
    }
`, source, destination, sep, owner)
}

// cleanSpelling drops IN and OUT markers, which are empty macros in C.
func cleanSpelling(spelling string) string {
	fields := strings.Fields(spelling)
	for len(fields) > 1 && (fields[0] == "IN" || fields[0] == "OUT") {
		fields = fields[1:]
	}
	return strings.Join(fields, " ")
}
