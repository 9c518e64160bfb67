package bindgen

import "strings"

// typeObject holds the slots of one generated PyTypeObject. Empty slots
// are left out.
type typeObject struct {
	Class     string
	Module    string
	Docstring string

	Getattr     string
	Nonzero     string
	Int         string
	Str         string
	RichCompare string
	Iter        string
	IterNext    string
}

func writeTypeObject(w *writer, t typeObject) {
	var number strings.Builder
	if t.Nonzero != "" {
		number.WriteString("    .nb_bool = (inquiry) " + t.Nonzero + ",\n")
	}
	if t.Int != "" {
		number.WriteString("    .nb_int = (unaryfunc) " + t.Int + ",\n")
	}
	w.printf("static PyNumberMethods %s_as_number = {\n%s};\n\n", t.Class, number.String())

	slot := func(field, cast, value string) string {
		if value == "" {
			return ""
		}
		return "    ." + field + " = (" + cast + ") " + value + ",\n"
	}

	var sb strings.Builder
	sb.WriteString(slot("tp_str", "reprfunc", t.Str))
	sb.WriteString(slot("tp_getattro", "getattrofunc", t.Getattr))

	var tail strings.Builder
	tail.WriteString(slot("tp_richcompare", "richcmpfunc", t.RichCompare))
	tail.WriteString(slot("tp_iter", "getiterfunc", t.Iter))
	tail.WriteString(slot("tp_iternext", "iternextfunc", t.IterNext))

	w.printf(`static PyTypeObject %[1]s_Type = {
    PyVarObject_HEAD_INIT(NULL, 0)
    .tp_name = "%[2]s.%[1]s",
    .tp_basicsize = sizeof(py%[1]s),
    .tp_itemsize = 0,
    .tp_dealloc = (destructor) %[1]s_dealloc,
    .tp_as_number = &%[1]s_as_number,
%[3]s    .tp_flags = Py_TPFLAGS_DEFAULT | Py_TPFLAGS_BASETYPE,
    .tp_doc = "%[4]s",
%[5]s    .tp_methods = %[1]s_methods,
    .tp_getset = %[1]s_get_set_definitions,
    .tp_init = (initproc) py%[1]s_init,
};

`, t.Class, t.Module, sb.String(), t.Docstring, tail.String())
}
