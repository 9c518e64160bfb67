package bindgen

import (
	"fmt"
	"slices"
	"strings"

	"classbindgen/ctypes"
)

// cSpelling drops the annotation words that are not C.
func cSpelling(spelling string) string {
	fields := strings.Fields(spelling)
	for len(fields) > 1 && (fields[0] == "IN" || fields[0] == "OUT" || slices.Contains(ctypes.MethodAttributes, fields[0])) {
		fields = fields[1:]
	}
	return strings.Join(fields, " ")
}

func proxySignature(m *Method) string {
	args := []string{m.DefinitionClassName + " self"}
	for _, a := range m.Args {
		args = append(args, a.Comment())
	}
	return fmt.Sprintf("static %s %s(%s)", cSpelling(m.ReturnSpelling), m.ProxyName(), strings.Join(args, ", "))
}

func writeProxyPrototype(w *writer, m *Method) {
	if w.once("proxy prototype " + m.ProxyName()) {
		w.printf("%s;\n", proxySignature(m))
	}
}

// writeProxy emits the trampoline a native slot is redirected to when a
// Python subclass overrides the method. It holds the interpreter lock for
// its whole body and releases it on every return path.
func writeProxy(w *writer, m *Method) {
	if !w.once("proxy " + m.ProxyName()) {
		return
	}
	ctx := &ctypes.CallContext{}
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("/* Proxy for %s.%s: calls the Python override. */\n", m.DefinitionClassName, m.Name))
	sb.WriteString(proxySignature(m) + " {\n")
	sb.WriteString("    PyGILState_STATE gstate;\n    PyObject *Py_result = NULL;\n    PyObject *method_name = NULL;\n")
	sb.WriteString(m.Return.DeclareProxied())

	pyArgs := make([]string, 0, len(m.Args))
	for _, a := range m.Args {
		sb.WriteString(a.DeclareLocal())
		sb.WriteString(fmt.Sprintf("    PyObject *py_%s = NULL;\n", a.Name()))
		pyArgs = append(pyArgs, "py_"+a.Name())
	}

	sb.WriteString(fmt.Sprintf("\n    gstate = PyGILState_Ensure();\n    method_name = PyUnicode_FromString(\"%s\");\n\n", m.Name))

	for _, a := range m.Args {
		sb.WriteString(a.ToPython(ctx, ctypes.ToPythonOptions{Result: "py_" + a.Name(), Proxied: true, Borrowed: true}))
	}

	callArgs := append([]string{"((Object) self)->extension", "method_name"}, pyArgs...)
	callArgs = append(callArgs, "NULL")
	sb.WriteString(fmt.Sprintf(`
    // Call the method
    if(((Object) self)->extension == NULL) {
        RaiseError(ERuntimeError, "No proxied object in %[1]s");
        goto on_error;
    }
    PyErr_Clear();
    Py_result = PyObject_CallMethodObjArgs(%[2]s);

    if(PyErr_Occurred()) {
        pytsk_fetch_error();
        goto on_error;
    }

`, m.DefinitionClassName, strings.Join(callArgs, ", ")))

	for _, a := range m.Args {
		sb.WriteString(a.ProxyPostCall(ctx, "Py_result"))
	}
	sb.WriteString(m.Return.FromPython(ctx, "Py_result", "func_return", "self"))

	var release strings.Builder
	release.WriteString("    Py_DecRef(Py_result);\n    Py_DecRef(method_name);\n")
	for _, p := range pyArgs {
		release.WriteString(fmt.Sprintf("    Py_DecRef(%s);\n", p))
	}
	release.WriteString("\n    PyGILState_Release(gstate);\n")

	sb.WriteString("\n")
	sb.WriteString(release.String())
	sb.WriteString(fmt.Sprintf("\n    %s\n\non_error:\n", m.Return.ReturnValue("func_return")))
	sb.WriteString(release.String())
	sb.WriteString(fmt.Sprintf("\n    %s\n}\n\n", m.Return.ErrorValue("func_return")))
	w.write(sb.String())
}

// writeProxyTable lists the slots a Python subclass may redirect.
func writeProxyTable(w *writer, c *ClassGenerator) {
	w.printf("static struct proxy_patch_t %s_proxy_patches[] = {\n", c.name)
	for _, m := range c.proxiedMethods() {
		w.printf("    {\"%s\", offsetof(struct %s_t, %s), (void *) %s},\n",
			m.Name, m.DefinitionClassName, m.Name, m.ProxyName())
	}
	w.write("    {NULL, 0, NULL}\n};\n\n")
}

// writeInitializeProxies links the native object to its wrapper and
// redirects the overridden slots. Proxy classes redirect every slot.
func writeInitializeProxies(w *writer, c *ClassGenerator) {
	patch := `        if(check_method_override((PyObject *) self, &%[1]s_Type, patch->method)) {
            *(void **) ((char *) item + patch->offset) = patch->proxy;
        }
`
	proxied := ""
	if c.Modifiers.Has(ModifierProxy) {
		patch = "        *(void **) ((char *) item + patch->offset) = patch->proxy;\n"
		proxied = "    self->object_is_proxied = 1;\n"
	}
	w.printf(`static void py%[1]s_initialize_proxies(py%[1]s *self, void *item) {
    struct proxy_patch_t *patch = NULL;

    // The native object refers back to its wrapper
    ((Object) item)->extension = self;
%[2]s
    for(patch = %[1]s_proxy_patches; patch->method != NULL; patch++) {
`+patch+`    }
}

`, c.name, proxied)
}
