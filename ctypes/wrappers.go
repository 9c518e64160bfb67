package ctypes

import (
	"fmt"
	"strings"
)

// Wrapper is a class instance, passed as its Python wrapper object.
type Wrapper struct {
	base
}

func NewWrapper(name, spelling string) *Wrapper {
	w := &Wrapper{base: newBase("Wrapper", name, spelling, firstWord(spelling))}
	w.iface = "wrapper"
	w.errValue = "return NULL;"
	return w
}

// ClassName is the wrapped class the value must derive from.
func (w *Wrapper) ClassName() string { return firstWord(w.ctype) }

func (w *Wrapper) Declare(defaultValue string) string {
	if defaultValue == "" {
		defaultValue = "NULL"
	}
	result := fmt.Sprintf("    Gen_wrapper wrapped_%s UNUSED = %s;\n", w.name, defaultValue)
	if !w.attrs.Has(Out) {
		result += fmt.Sprintf("    %s UNUSED %s = NULL;\n", w.ctype, w.name)
	}
	return result
}

func (w *Wrapper) DeclareProxied() string {
	return fmt.Sprintf("    %s %s = NULL;\n", w.ctype, w.name)
}

func (w *Wrapper) Reference() string { return "&wrapped_" + w.name }

func (w *Wrapper) keepAlive(index int) string {
	if index < 1 || index > 2 {
		return ""
	}
	return fmt.Sprintf(`        if(self->python_object%[2]d == NULL) {
            self->python_object%[2]d = (PyObject *) wrapped_%[1]s;
            Py_IncRef(self->python_object%[2]d);
        }
`, w.name, index)
}

func (w *Wrapper) Prepare(ctx *CallContext) string {
	if w.attrs.Has(Out) || w.sense == SenseOut {
		return ""
	}
	ctx.MarkError()
	return fmt.Sprintf(`    if(wrapped_%[1]s == NULL || (PyObject *) wrapped_%[1]s == Py_None) {
        %[1]s = NULL;
    } else if(!type_check((PyObject *) wrapped_%[1]s, &%[2]s_Type)) {
        PyErr_Format(PyExc_TypeError, "%[1]s must be derived from type %[2]s");
        goto on_error;
    } else if(wrapped_%[1]s->base == NULL) {
        PyErr_Format(PyExc_RuntimeError, "%[2]s instance is no longer valid (was it gc'ed?)");
        goto on_error;
    } else {
        %[1]s = wrapped_%[1]s->base;
%[3]s    }
`, w.name, w.ClassName(), w.keepAlive(ctx.PythonObjectIndex))
}

const releaseReturned = `            if(returned_object != NULL) {
                if(self->base_is_python_object != 0) {
                    Py_DecRef((PyObject *) returned_object);
                } else if(self->base_is_internal != 0) {
                    talloc_free(returned_object);
                }
            }
            goto on_error;
`

func (w *Wrapper) BindResult(ctx *CallContext, call string, _ bool) string {
	ctx.MarkError()
	var b strings.Builder

	b.WriteString(fmt.Sprintf(`    {
        Object returned_object = NULL;

        ClearError();

        Py_BEGIN_ALLOW_THREADS
        // Returns a Python object when the base is a proxied Python object,
        // a talloc managed object otherwise.
        returned_object = (Object) %s;
        Py_END_ALLOW_THREADS

        if(check_error()) {
%s        }
`, strings.TrimSpace(call), releaseReturned))

	// NULL only ends iteration when allowed, otherwise it becomes None.
	if w.attrs.Has(NullOK) {
		b.WriteString("        if(returned_object == NULL) {\n            goto on_error;\n        }\n")
	}

	b.WriteString(fmt.Sprintf(`        wrapped_%s = new_class_wrapper(returned_object, self->base_is_python_object);

        if(wrapped_%s == NULL) {
%s        }
`, w.name, w.name, releaseReturned))

	if w.attrs.Has(Borrowed) {
		b.WriteString(fmt.Sprintf(`        // The native object is owned elsewhere.
        if((PyObject *) wrapped_%[1]s != Py_None) {
            wrapped_%[1]s->base_is_internal = 0;
        }
`, w.name))
	}
	b.WriteString("    }\n")
	return b.String()
}

func (w *Wrapper) ToPython(_ *CallContext, opts ToPythonOptions) string {
	name, result := opts.resolve(w)
	if opts.Proxied {
		return fmt.Sprintf("    %s = (PyObject *) new_class_wrapper((Object) %s, 0);\n", result, name)
	}
	return fmt.Sprintf("    %s = (PyObject *) wrapped_%s;\n", result, name)
}

func (w *Wrapper) FromPython(ctx *CallContext, source, destination, _ string) string {
	ctx.MarkError()
	return fmt.Sprintf(`    // The returned value must be a wrapper of the right type.
    if(!type_check(%[1]s, &%[3]s_Type)) {
        PyErr_Format(PyExc_TypeError, "function must return an %[3]s instance");
        goto on_error;
    }
    %[2]s = ((Gen_wrapper) %[1]s)->base;

    if(!%[2]s) {
        PyErr_Format(PyExc_RuntimeError, "%[3]s instance is no longer valid (was it gc'ed?)");
        goto on_error;
    }
`, source, destination, w.ClassName())
}

// PointerWrapper passes the address of a wrapped class handle.
type PointerWrapper struct {
	Wrapper
}

func NewPointerWrapper(name, spelling string) *PointerWrapper {
	p := &PointerWrapper{Wrapper: *NewWrapper(name, spelling)}
	p.kind = "PointerWrapper"
	return p
}

func (p *PointerWrapper) Comment() string {
	return fmt.Sprintf("%s *%s", p.ctype, p.name)
}

func (p *PointerWrapper) Declare(defaultValue string) string {
	if defaultValue == "" {
		defaultValue = "NULL"
	}
	result := fmt.Sprintf("    Gen_wrapper wrapped_%s = %s;\n", p.name, defaultValue)
	if !p.attrs.Has(Out) {
		result += fmt.Sprintf("    %s *%s = NULL;\n", p.ctype, p.name)
	}
	return result
}

func (p *PointerWrapper) DeclareProxied() string {
	return fmt.Sprintf("    %s *%s = NULL;\n", p.ctype, p.name)
}

func (p *PointerWrapper) Prepare(ctx *CallContext) string {
	if p.attrs.Has(Out) || p.sense == SenseOut {
		return ""
	}
	ctx.MarkError()
	return fmt.Sprintf(`    if(!wrapped_%[1]s || (PyObject *) wrapped_%[1]s == Py_None) {
        %[1]s = NULL;
    } else if(!type_check((PyObject *) wrapped_%[1]s, &%[2]s_Type)) {
        PyErr_Format(PyExc_TypeError, "%[1]s must be derived from type %[2]s");
        goto on_error;
    } else {
        %[1]s = (%[2]s *) &wrapped_%[1]s->base;
    }
`, p.name, p.ClassName())
}

// StructWrapper exposes a bound struct through its generated wrapper type.
// Only structs forced active by BIND_STRUCT can cross the boundary.
type StructWrapper struct {
	Wrapper
}

func NewStructWrapper(name, spelling string) *StructWrapper {
	s := &StructWrapper{Wrapper: *NewWrapper(name, spelling)}
	s.kind = "StructWrapper"
	return s
}

func (s *StructWrapper) Reference() string { return "&" + s.name }

func (s *StructWrapper) Comment() string {
	return fmt.Sprintf("%s %s", cleanSpelling(s.spelling), s.name)
}

func (s *StructWrapper) Declare(defaultValue string) string {
	if defaultValue == "" {
		defaultValue = "NULL"
	}
	result := fmt.Sprintf("    Gen_wrapper wrapped_%s = %s;\n", s.name, defaultValue)
	if !s.attrs.Has(Out) {
		result += fmt.Sprintf("    %s *%s = NULL;\n", s.ClassName(), s.name)
	}
	return result
}

func (s *StructWrapper) DeclareProxied() string {
	return fmt.Sprintf("    %s *%s = NULL;\n", s.ClassName(), s.name)
}

func (s *StructWrapper) BindResult(ctx *CallContext, call string, owned bool) string {
	internal := 0
	if owned {
		internal = 1
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf(`    {
        %[4]s *returned_struct = NULL;

        PyErr_Clear();

        Py_BEGIN_ALLOW_THREADS
        returned_struct = %[2]s;
        Py_END_ALLOW_THREADS

        wrapped_%[1]s = (Gen_wrapper) PyObject_New(py%[3]s, &%[3]s_Type);

        if(wrapped_%[1]s == NULL) {
            return NULL;
        }
        wrapped_%[1]s->base = returned_struct;
        wrapped_%[1]s->base_is_python_object = 0;
        wrapped_%[1]s->base_is_internal = %[5]d;
        wrapped_%[1]s->python_object1 = NULL;
        wrapped_%[1]s->python_object2 = NULL;

`, s.name, strings.TrimSpace(call), s.ClassName(), s.ClassName(), internal))

	if s.attrs.Has(NullOK) {
		b.WriteString(fmt.Sprintf(`        if(wrapped_%[1]s->base == NULL) {
            Py_DecRef((PyObject *) wrapped_%[1]s);
            return NULL;
        }
`, s.name))
	}
	b.WriteString(fmt.Sprintf(`        // A NULL object gets translated to a None
        if(wrapped_%[1]s->base == NULL) {
            Py_DecRef((PyObject *) wrapped_%[1]s);
            Py_IncRef(Py_None);
            wrapped_%[1]s = (Gen_wrapper) Py_None;
        }
    }
`, s.name))
	return b.String()
}

// PointerStructWrapper is a pointer to a bound struct.
type PointerStructWrapper struct {
	StructWrapper
}

func NewPointerStructWrapper(name, spelling string) *PointerStructWrapper {
	p := &PointerStructWrapper{StructWrapper: *NewStructWrapper(name, spelling)}
	p.kind = "PointerStructWrapper"
	return p
}

func (p *PointerStructWrapper) Reference() string { return "&wrapped_" + p.name }

func (p *PointerStructWrapper) FromPython(_ *CallContext, source, destination, _ string) string {
	return fmt.Sprintf("    %s = ((Gen_wrapper) %s)->base;\n", destination, source)
}

func firstWord(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return s
}
