package bindgen

import (
	"fmt"
	"strings"

	"classbindgen/ctypes"
)

func writeMethodPrototype(w *writer, m *Method) {
	switch m.Kind {
	case KindRegular:
		w.printf("static PyObject *py%[1]s_%[2]s(py%[1]s *self, PyObject *args, PyObject *kwds);\n", m.ClassName, m.Name)
	case KindIterator, KindSelfIterator:
		w.printf("static PyObject *py%[1]s_%[2]s(py%[1]s *self);\n", m.ClassName, m.Name)
	}
}

func methodDocstring(m *Method) string {
	return FormatAsDocstring(m.Comment() + "\n" + arity(len(m.PythonArgs())) + "\n\n" + strings.TrimSpace(m.Docstring))
}

func writeMethodDef(w *writer, m *Method) {
	w.printf(`    { "%[2]s",
      (PyCFunction) py%[1]s_%[2]s,
      METH_VARARGS|METH_KEYWORDS,
      "%[3]s" },

`, m.ClassName, m.Name, methodDocstring(m))
}

// writeArgParsing declares the keyword list and unpacks the Python
// arguments into the declared locals.
func writeArgParsing(sb *strings.Builder, m *Method) {
	args := m.parsedArgs()
	kwlist := make([]string, 0, len(args)+1)
	refs := make([]string, 0, len(args))
	for _, a := range args {
		kwlist = append(kwlist, fmt.Sprintf("%q", a.PythonName()))
		if ref := a.Reference(); ref != "" {
			refs = append(refs, ref)
		}
	}
	kwlist = append(kwlist, "NULL")

	call := fmt.Sprintf("args, kwds, \"%s\", kwlist", m.Format())
	if len(refs) > 0 {
		call += ", " + strings.Join(refs, ", ")
	}
	sb.WriteString(fmt.Sprintf(`    static char *kwlist[] = {%s};

    if(!PyArg_ParseTupleAndKeywords(%s)) {
        goto on_error;
    }

`, strings.Join(kwlist, ", "), call))
}

// nativeCall is the C expression calling the method on the wrapped object.
func nativeCall(m *Method) string {
	def := m.DefinitionClassName
	args := []string{fmt.Sprintf("(%s) self->base", def)}
	for _, a := range m.Args {
		args = append(args, a.NativeCallArg())
	}
	return fmt.Sprintf("((%s) self->base)->%s(%s)", def, m.Name, strings.Join(args, ", "))
}

// results lists the values handed back to Python: the converted return
// value followed by every OUT_DONE argument. A ResultReplacer takes the
// place of the return value, and a void return is dropped when other
// values remain.
func results(m *Method) []ctypes.Type {
	out := []ctypes.Type{m.Return}
	for _, a := range m.Args {
		if a.Sense() != ctypes.SenseOutDone {
			continue
		}
		if r, ok := a.(ctypes.ResultReplacer); ok && r.ReplacesResult() {
			out[0] = a
			continue
		}
		out = append(out, a)
	}
	if len(out) > 1 {
		switch out[0].Kind() {
		case "Void", "PVoid":
			out = out[1:]
		}
	}
	return out
}

func writeMethod(w *writer, m *Method) {
	if m.Kind == KindSelfIterator {
		writeSelfIterator(w, m)
		return
	}

	ctx := &ctypes.CallContext{}
	var sb strings.Builder

	// Generate the function header
	sb.WriteString(fmt.Sprintf(`/********************************************************
Autogenerated wrapper for function:
%s********************************************************/

`, m.Comment()))
	if m.Kind == KindIterator {
		sb.WriteString(fmt.Sprintf("static PyObject *py%[1]s_%[2]s(py%[1]s *self) {\n", m.ClassName, m.Name))
	} else {
		sb.WriteString(fmt.Sprintf("static PyObject *py%[1]s_%[2]s(py%[1]s *self, PyObject *args, PyObject *kwds) {\n", m.ClassName, m.Name))
	}
	sb.WriteString("    PyObject *returned_result = NULL;\n    PyObject UNUSED *Py_result = NULL;\n")
	sb.WriteString(m.Return.Declare(""))
	for _, a := range m.Args {
		sb.WriteString(a.Declare(m.Defaults[a.PythonName()]))
	}
	sb.WriteString("\n")

	if m.Kind == KindRegular {
		writeArgParsing(&sb, m)
	}

	sb.WriteString(fmt.Sprintf(`    if(self->base == NULL) {
        PyErr_Format(PyExc_RuntimeError, "%s object no longer valid");
        goto on_error;
    }
`, m.ClassName))

	// Generate the precall preparations
	sb.WriteString("    // Precall preparations\n")
	for _, a := range m.Args {
		sb.WriteString(a.Prepare(ctx))
	}

	sb.WriteString(fmt.Sprintf(`
    // Check the function is implemented
    {
        void *method = (void *) ((%[1]s) self->base)->%[2]s;

        if(method == NULL || method == (void *) unimplemented) {
            PyErr_Format(PyExc_RuntimeError, "%[3]s.%[2]s is not implemented");
            goto on_error;
        }

        // Make the call
        ClearError();
`, m.DefinitionClassName, m.Name, m.ClassName))
	sb.WriteString(m.Return.BindResult(ctx, nativeCall(m), true))
	if m.Exception != nil {
		m.Exception.write(&sb)
	}
	sb.WriteString("    }\n\n")

	// Generate the postcall code, identical fragments once
	sb.WriteString("    // Postcall preparations\n")
	seen := make(map[string]bool)
	post := []string{m.Return.PostCall(ctx)}
	for _, a := range m.Args {
		post = append(post, a.PostCall(ctx))
	}
	for _, p := range post {
		if p != "" && !seen[p] {
			seen[p] = true
			sb.WriteString(p)
		}
	}

	// Generate the result conversion
	sb.WriteString("\n    // prepare results\n")
	values := results(m)
	if len(values) == 1 {
		sb.WriteString(values[0].ToPython(ctx, ctypes.ToPythonOptions{Result: "returned_result"}))
	} else {
		sb.WriteString("    returned_result = PyList_New(0);\n")
		for _, v := range values {
			sb.WriteString(v.ToPython(ctx, ctypes.ToPythonOptions{Result: "Py_result"}))
			sb.WriteString("    PyList_Append(returned_result, Py_result);\n    Py_DecRef(Py_result);\n")
		}
	}
	sb.WriteString("\n    return returned_result;\n\n")

	// Generate the error path
	sb.WriteString("on_error:\n")
	if m.Return.Attributes().Has(ctypes.Destructor) {
		sb.WriteString("    self->base = NULL;\n")
	}
	for _, a := range m.Args {
		sb.WriteString(a.CleanupOnError())
	}
	sb.WriteString("    return NULL;\n}\n\n")

	w.write(sb.String())
}

func writeSelfIterator(w *writer, m *Method) {
	w.printf(`static PyObject *py%[1]s_%[2]s(py%[1]s *self) {
    if(self->base == NULL) {
        PyErr_Format(PyExc_RuntimeError, "%[1]s object no longer valid");
        return NULL;
    }
    ((%[3]s) self->base)->%[2]s((%[3]s) self->base);

    return PyObject_SelfIter((PyObject *) self);
}

`, m.ClassName, m.Name, m.DefinitionClassName)
}

// writeStrSlot adapts __str__ to the tp_str signature.
func writeStrSlot(w *writer, className string) {
	w.printf(`static PyObject *py%[1]s_tp_str(py%[1]s *self) {
    PyObject *arguments = PyTuple_New(0);
    PyObject *result = NULL;

    if(arguments == NULL) {
        return NULL;
    }
    result = py%[1]s___str__(self, arguments, NULL);
    Py_DecRef(arguments);

    return result;
}

`, className)
}

func writeDestructor(w *writer, className string) {
	w.printf(`static void %[1]s_dealloc(py%[1]s *self) {
    if(self != NULL) {
        if(self->base != NULL) {
            if(self->base_is_python_object != 0) {
                Py_DecRef((PyObject *) self->base);
            } else if(self->base_is_internal != 0) {
                %[2]s(self->base);
            }
            self->base = NULL;
        }
        if(self->python_object2 != NULL) {
            Py_DecRef(self->python_object2);
            self->python_object2 = NULL;
        }
        if(self->python_object1 != NULL) {
            Py_DecRef(self->python_object1);
            self->python_object1 = NULL;
        }
        if(Py_TYPE(self) != NULL && Py_TYPE(self)->tp_free != NULL) {
            Py_TYPE(self)->tp_free((PyObject *) self);
        }
    }
}

`, className, w.module.Free)
}

func writeEmptyConstructor(w *writer, className string) {
	w.printf(`static int py%[1]s_init(py%[1]s *self, PyObject *args, PyObject *kwds) {
    return 0;
}

`, className)
}

// writeConstructor allocates the native object, installs the proxies and
// runs the native constructor. Up to two wrapped arguments are kept alive
// for the lifetime of the object.
func writeConstructor(w *writer, c *ClassGenerator, m *Method) {
	ctx := &ctypes.CallContext{}
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("static int py%[1]s_init(py%[1]s *self, PyObject *args, PyObject *kwds) {\n", c.name))
	sb.WriteString(fmt.Sprintf("    %s result_constructor = NULL;\n", c.native))
	for _, a := range m.Args {
		sb.WriteString(a.Declare(m.Defaults[a.PythonName()]))
	}
	sb.WriteString("\n")
	writeArgParsing(&sb, m)

	sb.WriteString(fmt.Sprintf(`    self->python_object1 = NULL;
    self->python_object2 = NULL;
    self->initialise = (void *) py%s_initialize_proxies;

`, c.name))

	sb.WriteString("    // Precall preparations\n")
	index := 0
	for _, a := range m.Args {
		ctx.PythonObjectIndex = 0
		if a.Interface() == "wrapper" && index < 2 {
			index++
			ctx.PythonObjectIndex = index
		}
		sb.WriteString(a.Prepare(ctx))
	}

	callArgs := []string{c.native, m.DefinitionClassName, m.Name, "self->base"}
	for _, a := range m.Args {
		callArgs = append(callArgs, a.NativeCallArg())
	}

	sb.WriteString(fmt.Sprintf(`
    // Allocate a new instance
    ClearError();

    self->base = (%[1]s) alloc_%[1]s();
    self->base_is_python_object = 0;
    self->base_is_internal = 1;
    self->object_is_proxied = 0;

    // Replace overridden methods with proxies calling back into Python
    py%[2]s_initialize_proxies(self, self->base);

    // Now call the constructor
    Py_BEGIN_ALLOW_THREADS
    result_constructor = CONSTRUCT_INITIALIZE(%[3]s);
    Py_END_ALLOW_THREADS

    if(!CheckError(EZero)) {
        char *buffer = NULL;
        PyObject *exception = resolve_exception(&buffer);

        PyErr_Format(exception, "%%s", buffer);
        ClearError();
        goto on_error;
    }
    if(result_constructor == NULL) {
        PyErr_Format(PyExc_IOError, "Unable to construct class %[2]s");
        goto on_error;
    }
    return 0;

on_error:
    if(self->python_object2 != NULL) {
        Py_DecRef(self->python_object2);
        self->python_object2 = NULL;
    }
    if(self->python_object1 != NULL) {
        Py_DecRef(self->python_object1);
        self->python_object1 = NULL;
    }
`, c.native, c.name, strings.Join(callArgs, ", ")))
	for _, a := range m.Args {
		sb.WriteString(a.CleanupOnError())
	}
	sb.WriteString(fmt.Sprintf(`    if(self->base != NULL) {
        %s(self->base);
        self->base = NULL;
    }
    return -1;
}

`, w.module.Free))
	w.write(sb.String())
}

func writeGetattrPrototypes(w *writer, className string, g *Getattr) {
	w.printf("static PyObject *py%[1]s_getattr(py%[1]s *self, PyObject *name);\n", className)
	for _, a := range g.visible(w.module) {
		w.printf("static PyObject *py%[1]s_%[2]s_getter(py%[1]s *self, PyObject *arguments);\n", className, a.t.Name())
	}
}

func writeGetSetDefs(w *writer, className string, g *Getattr) {
	for _, a := range g.visible(w.module) {
		name := a.t.Name()
		w.printf("    { \"%[2]s\",\n      (getter) py%[1]s_%[2]s_getter,\n      (setter) 0,\n      \"%[3]s\",\n      NULL },\n\n",
			className, name, FormatAsDocstring(name+"."))
	}
}

// writeGetattr emits tp_getattro, which adds __members__ on top of the
// generic lookup, and one getter per visible attribute.
func writeGetattr(w *writer, className string, g *Getattr) {
	attrs := g.visible(w.module)

	var members strings.Builder
	for _, a := range attrs {
		members.WriteString(fmt.Sprintf(`        string_object = PyUnicode_FromString("%s");
        PyList_Append(list_object, string_object);
        Py_DecRef(string_object);

`, a.t.Name()))
	}

	w.printf(`static PyObject *py%[1]s_getattr(py%[1]s *self, PyObject *pyname) {
    PyObject *result = NULL;
    PyObject *utf8_string_object = NULL;
    char *name = NULL;

    // Try the generic lookup first
    result = PyObject_GenericGetAttr((PyObject *) self, pyname);

    if(result) {
        return result;
    }
    PyErr_Clear();

    utf8_string_object = PyUnicode_AsUTF8String(pyname);

    if(utf8_string_object != NULL) {
        name = PyBytes_AsString(utf8_string_object);
    }
    if(!self->base) {
        Py_DecRef(utf8_string_object);
        return PyErr_Format(PyExc_RuntimeError, "Wrapped object (%[1]s.getattr) no longer valid");
    }
    if(!name) {
        goto on_error;
    }
    if(strcmp(name, "__members__") == 0) {
        PyMethodDef *i = NULL;
        PyObject *list_object = NULL;
        PyObject *string_object = NULL;

        list_object = PyList_New(0);
        if(list_object == NULL) {
            goto on_error;
        }

%[2]s        for(i = %[1]s_methods; i->ml_name; i++) {
            string_object = PyUnicode_FromString(i->ml_name);
            PyList_Append(list_object, string_object);
            Py_DecRef(string_object);
        }
        Py_DecRef(utf8_string_object);

        return list_object;
    }
    Py_DecRef(utf8_string_object);

    return PyObject_GenericGetAttr((PyObject *) self, pyname);

on_error:
    Py_DecRef(utf8_string_object);
    return NULL;
}

`, className, members.String())

	for _, a := range attrs {
		writeGetter(w, className, g, a)
	}
}

func writeGetter(w *writer, className string, g *Getattr, a attribute) {
	ctx := &ctypes.CallContext{}
	name := a.t.Name()

	call := fmt.Sprintf("(self->base->%s)", name)
	if g.BaseClassName != "" {
		call = fmt.Sprintf("(((%s) self->base)->%s)", a.owner, name)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("static PyObject *py%[1]s_%[2]s_getter(py%[1]s *self, PyObject *arguments) {\n", className, name))
	sb.WriteString("    PyObject *Py_result = NULL;\n")
	sb.WriteString(a.t.Declare(""))
	sb.WriteString(`
    if(self->base == NULL) {
        PyErr_Format(PyExc_RuntimeError, "Wrapped object no longer valid");
        return NULL;
    }
`)
	sb.WriteString(a.t.BindResult(ctx, call, false))
	sb.WriteString(a.t.ToPython(ctx, ctypes.ToPythonOptions{Result: "Py_result", Borrowed: true}))
	sb.WriteString("\n    return Py_result;\n")
	if ctx.ErrorSet {
		sb.WriteString("\non_error:\n    return NULL;\n")
	}
	sb.WriteString("}\n\n")
	w.write(sb.String())
}
