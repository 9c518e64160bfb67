package ctypes

import (
	"fmt"
	"strings"
)

// Void is the return type of functions without a result.
type Void struct {
	base
}

func NewVoid(name, spelling string) *Void {
	v := &Void{base: newBase("Void", name, spelling, "void")}
	v.code = ""
	v.errValue = "return;"
	return v
}

func (v *Void) PythonName() string { return "" }
func (v *Void) Reference() string { return "" }
func (v *Void) Declare(string) string { return "" }
func (v *Void) DeclareProxied() string { return "" }
func (v *Void) Comment() string { return "void *ctx" }
func (v *Void) ReturnValue(string) string { return "return;" }
func (v *Void) FromPython(*CallContext, string, string, string) string { return "" }

func (v *Void) BindResult(_ *CallContext, call string, _ bool) string {
	return fmt.Sprintf("        Py_BEGIN_ALLOW_THREADS\n        %s;\n        Py_END_ALLOW_THREADS\n", strings.TrimSpace(call))
}

func (v *Void) ToPython(_ *CallContext, opts ToPythonOptions) string {
	_, result := opts.resolve(v)
	return fmt.Sprintf("    Py_IncRef(Py_None);\n    %s = Py_None;\n", result)
}

// PVoid is an untyped pointer. It cannot be expressed in Python and
// converts to None.
type PVoid struct {
	Void
}

func NewPVoid(name, spelling string) *PVoid {
	p := &PVoid{Void: *NewVoid(name, spelling)}
	p.kind = "PVoid"
	p.ctype = "void *"
	p.errValue = "return NULL;"
	return p
}

func (p *PVoid) Comment() string { return "void *" + p.name }

func (p *PVoid) Declare(string) string {
	return fmt.Sprintf("    void UNUSED *%s = NULL;\n", p.name)
}

func (p *PVoid) DeclareProxied() string { return p.Declare("") }

func (p *PVoid) ReturnValue(value string) string {
	return fmt.Sprintf("return %s;", value)
}

func (p *PVoid) BindResult(ctx *CallContext, call string, owned bool) string {
	return p.base.BindResult(ctx, call, owned)
}

// Timeval carries a struct timeval as a float number of seconds.
type Timeval struct {
	base
}

func NewTimeval(name, spelling string) *Timeval {
	t := &Timeval{base: newBase("Timeval", name, spelling, "struct timeval")}
	t.iface = "numeric"
	t.code = "f"
	return t
}

func (t *Timeval) Declare(string) string {
	return fmt.Sprintf("    struct timeval %s;\n", t.name) + t.DeclareLocal()
}

func (t *Timeval) DeclareLocal() string {
	return fmt.Sprintf("    float %s_flt = 0;\n", t.name)
}

func (t *Timeval) Reference() string { return fmt.Sprintf("&%s_flt", t.name) }

func (t *Timeval) Prepare(*CallContext) string {
	return fmt.Sprintf("    %[1]s.tv_sec = (int) %[1]s_flt;\n    %[1]s.tv_usec = (%[1]s_flt - %[1]s.tv_sec) * 1e6;\n", t.name)
}

func (t *Timeval) ToPython(_ *CallContext, opts ToPythonOptions) string {
	name, result := opts.resolve(t)
	return fmt.Sprintf("    %[1]s_flt = (double) (%[1]s.tv_sec) + %[1]s.tv_usec / 1e6;\n    %[2]s = PyFloat_FromDouble(%[1]s_flt);\n", name, result)
}

func (t *Timeval) FromPython(ctx *CallContext, source, destination, _ string) string {
	ctx.MarkError()
	return fmt.Sprintf(`    {
        double seconds = PyFloat_AsDouble(%[1]s);

        if(seconds == -1.0 && PyErr_Occurred()) {
            goto on_error;
        }
        %[2]s.tv_sec = (time_t) seconds;
        %[2]s.tv_usec = (suseconds_t) ((seconds - %[2]s.tv_sec) * 1e6);
    }
`, source, destination)
}

// PyObject passes an opaque Python object through unchanged.
type PyObject struct {
	base
}

func NewPyObject(name, spelling string) *PyObject {
	p := &PyObject{base: newBase("PyObject", name, spelling, "PyObject *")}
	p.iface = "opaque"
	p.errValue = "return NULL;"
	return p
}

func (p *PyObject) Declare(defaultValue string) string {
	if defaultValue == "" {
		defaultValue = "NULL"
	}
	return fmt.Sprintf("    PyObject *%s = %s;\n", p.name, defaultValue)
}

func (p *PyObject) ToPython(_ *CallContext, opts ToPythonOptions) string {
	name, result := opts.resolve(p)
	return fmt.Sprintf(`    if(%[1]s == NULL) {
        %[1]s = Py_None;
    }
    Py_IncRef(%[1]s);
    %[2]s = %[1]s;
`, name, result)
}

func (p *PyObject) FromPython(_ *CallContext, source, destination, _ string) string {
	return fmt.Sprintf("    Py_IncRef(%[1]s);\n    %[2]s = %[1]s;\n", source, destination)
}
