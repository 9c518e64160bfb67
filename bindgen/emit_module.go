package bindgen

import (
	"fmt"
	"strings"
)

// Generate returns the C source of the extension module.
func (m *Module) Generate() string {
	w := newWriter(m)
	classes := m.Classes()
	for _, g := range classes {
		g.prepare()
	}

	var active []Generator
	for _, g := range classes {
		if g.Active() {
			active = append(active, g)
		}
	}
	m.log.Debug("generating module", "module", m.Name, "classes", len(classes), "active", len(active))

	// Generate the banner
	banner := strings.ReplaceAll(m.String(), "*/", "* /")
	w.printf(`/*************************************************************
 * Autogenerated module %s
 *
 * This module was autogenerated from the following files:
`, m.Name)
	for _, f := range m.files {
		w.printf(" * %s\n", f)
	}
	w.printf(" *\n * It wraps %s:\n *\n", countNoun(len(active), "class", "classes"))
	for _, line := range strings.Split(strings.TrimRight(banner, "\n"), "\n") {
		w.printf(" * %s\n", line)
	}
	w.write(" *************************************************************/\n\n")

	// Generate the headers
	w.write("#define PY_SSIZE_T_CLEAN\n#include <Python.h>\n\n")
	for _, h := range m.headers {
		w.write(h)
	}
	w.write("\n")
	writePrivateFunctions(w)

	for _, g := range active {
		w.printf("\n/******************** %s ***********************/", g.Name())
		g.writeStruct(w)
		g.writePrototypes(w)
	}

	w.write(`
/*****************************************************
 *             Implementation
 ****************************************************/

`)
	for _, g := range active {
		g.writeMethodTable(w)
		g.writeGetSetTable(w)
		g.writeCode(w)
		g.writeTypeObject(w)
	}

	writeModuleMethods(w)
	writeModuleInit(w, active)
	return w.String()
}

func writeModuleMethods(w *writer) {
	name := w.module.Name
	w.printf(`static PyObject *%[1]s_get_version(PyObject *self, PyObject *arguments) {
    const char *errors = NULL;
    return PyUnicode_DecodeUTF8("%[2]s", (Py_ssize_t) %[3]d, errors);
}

static PyMethodDef %[1]s_module_methods[] = {
    { "get_version",
      (PyCFunction) %[1]s_get_version,
      METH_NOARGS,
      "get_version() -> String\n"
      "\n"
      "Retrieves the version." },

    {NULL, NULL, 0, NULL}  /* Sentinel */
};

static struct PyModuleDef %[1]s_moduledef = {
    PyModuleDef_HEAD_INIT,
    "%[1]s",
    "Python %[1]s module.",
    -1,
    %[1]s_module_methods,
    NULL,
    NULL,
    NULL,
    NULL
};

`, name, FormatAsDocstring(w.module.Version), len(w.module.Version))
}

// writeClassInit readies the type of g after the type of its base, each
// type exactly once.
func writeClassInit(w *writer, g Generator, done map[string]bool) {
	if done[g.Name()] {
		return
	}
	done[g.Name()] = true
	if !g.Active() {
		return
	}
	if base, ok := w.module.Class(g.BaseName()); ok && base.Active() {
		writeClassInit(w, base, done)
		w.printf("    %s_Type.tp_base = &%s_Type;\n", g.Name(), base.Name())
	}
	w.printf(`    %[1]s_Type.tp_new = PyType_GenericNew;

    if(PyType_Ready(&%[1]s_Type) < 0) {
        goto on_error;
    }
    Py_IncRef((PyObject *) &%[1]s_Type);
    PyModule_AddObject(module, "%[1]s", (PyObject *) &%[1]s_Type);

`, g.Name())
}

func writeConstants(w *writer) {
	for _, c := range w.module.Constants() {
		var value string
		switch {
		case c.Kind == IntegerConstant:
			value = fmt.Sprintf("PyLong_FromUnsignedLongLong((uint64_t) %s)", c.Name)
		case w.module.unicode[c.Name]:
			value = fmt.Sprintf("PyUnicode_FromString(%s)", c.Name)
		default:
			value = fmt.Sprintf("PyBytes_FromString(%s)", c.Name)
		}
		w.printf(`    tmp = %[2]s;
    PyDict_SetItemString(d, "%[1]s", tmp);
    Py_DecRef(tmp);

`, c.Name, value)
	}
}

func writeModuleInit(w *writer, active []Generator) {
	m := w.module
	w.printf(`/* Initializes the module and the wrapped types. */
PyMODINIT_FUNC PyInit_%[1]s(void) {
    PyGILState_STATE gil_state;
    PyObject *module = NULL;
    PyObject *d = NULL;
    PyObject UNUSED *tmp = NULL;

    module = PyModule_Create(&%[1]s_moduledef);

    if(module == NULL) {
        return NULL;
    }
    d = PyModule_GetDict(module);

    gil_state = PyGILState_Ensure();

    g_module = module;

`, m.Name)

	done := make(map[string]bool)
	for _, g := range active {
		writeClassInit(w, g, done)
	}

	w.write("    // Constants\n")
	writeConstants(w)

	w.write("    // Initialization\n")
	if m.InitString != "" {
		w.printf("    %s\n", strings.TrimSpace(m.InitString))
	}
	w.write("    talloc_set_log_fn((void (*)(const char *)) printf);\n\n")
	for _, g := range active {
		w.write(g.initialise())
	}

	w.write(`
    PyGILState_Release(gil_state);

    return module;

on_error:
    PyGILState_Release(gil_state);

    return NULL;
}
`)
}
