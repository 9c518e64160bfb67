package bindgen

import (
	"fmt"
	"strings"

	"github.com/golang-cz/textcase"
)

// Enum is a C enum exposed as an integer holder type with name lookup
// tables. Its values are also exported as module constants.
type Enum struct {
	module    *Module
	name      string
	Docstring string
	Values    []string
}

func (m *Module) NewEnum(name string) *Enum {
	return &Enum{module: m, name: name}
}

func (e *Enum) Name() string     { return e.name }
func (e *Enum) BaseName() string { return "" }
func (e *Enum) Active() bool     { return true }

// Rename names an enum declared as an anonymous typedef.
func (e *Enum) Rename(name string) { e.name = name }

func (e *Enum) AddValue(name string) {
	if name = strings.TrimSpace(name); name != "" {
		e.Values = append(e.Values, name)
	}
}

// docstring falls back to a listing of the values.
func (e *Enum) docstring() string {
	if doc := strings.TrimSpace(e.Docstring); doc != "" {
		return doc
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s enumeration with %s.\n", textcase.PascalCase(e.name), countNoun(len(e.Values), "value", "values")))
	for _, v := range e.Values {
		if n, ok := e.module.enumValues[v]; ok {
			sb.WriteString(fmt.Sprintf("    %s = %d\n", v, n))
		} else {
			sb.WriteString(fmt.Sprintf("    %s\n", v))
		}
	}
	return sb.String()
}

func (e *Enum) String() string {
	return fmt.Sprintf("#%s\nEnum %s:\n    %s\n", e.Docstring, e.name, strings.Join(e.Values, "\n    "))
}

func (e *Enum) prepare() {}

func (e *Enum) writeStruct(w *writer) {
	w.printf(`
typedef struct {
    PyObject_HEAD
    PyObject *value;
} py%[1]s;

static PyObject *%[1]s_Dict_lookup;
static PyObject *%[1]s_rev_lookup;
`, e.name)
}

func (e *Enum) writePrototypes(w *writer) {
	w.printf(`static PyTypeObject %[1]s_Type;
static int py%[1]s_init(py%[1]s *self, PyObject *args, PyObject *kwds);
static PyObject *py%[1]s___str__(py%[1]s *self);
static PyObject *%[1]s_eq(py%[1]s *me, PyObject *other, int op);
static PyObject *%[1]s_int(py%[1]s *self);
`, e.name)
}

func (e *Enum) writeMethodTable(w *writer) {
	w.printf("static PyMethodDef %s_methods[] = {\n    {NULL, NULL, 0, NULL}  /* Sentinel */\n};\n\n", e.name)
}

func (e *Enum) writeGetSetTable(w *writer) {
	w.printf("static PyGetSetDef %s_get_set_definitions[] = {\n    {NULL, NULL, NULL, NULL, NULL}  /* Sentinel */\n};\n\n", e.name)
}

func (e *Enum) writeCode(w *writer) {
	w.printf(`static void %[1]s_dealloc(py%[1]s *self) {
    if(self != NULL) {
        Py_DecRef(self->value);

        if(Py_TYPE(self) != NULL && Py_TYPE(self)->tp_free != NULL) {
            Py_TYPE(self)->tp_free((PyObject *) self);
        }
    }
}

static int py%[1]s_init(py%[1]s *self, PyObject *args, PyObject *kwds) {
    static char *kwlist[] = {"value", NULL};

    if(!PyArg_ParseTupleAndKeywords(args, kwds, "O", kwlist, &self->value)) {
        return -1;
    }
    Py_IncRef(self->value);

    return 0;
}

static PyObject *py%[1]s___str__(py%[1]s *self) {
    PyObject *result = PyDict_GetItem(%[1]s_rev_lookup, self->value);

    if(result != NULL) {
        Py_IncRef(result);
    } else {
        result = PyObject_Str(self->value);
    }
    return result;
}

static PyObject *%[1]s_eq(py%[1]s *me, PyObject *other, int op) {
    long self_value = 0;
    long other_value = 0;

    if(op != Py_EQ && op != Py_NE) {
        Py_RETURN_NOTIMPLEMENTED;
    }
    self_value = PyLong_AsLong(me->value);

    if(type_check(other, &%[1]s_Type)) {
        other_value = PyLong_AsLong(((py%[1]s *) other)->value);
    } else {
        other_value = PyLong_AsLong(other);
    }
    if(PyErr_Occurred()) {
        PyErr_Clear();
        Py_RETURN_NOTIMPLEMENTED;
    }
    if((self_value == other_value) == (op == Py_EQ)) {
        Py_RETURN_TRUE;
    }
    Py_RETURN_FALSE;
}

static PyObject *%[1]s_int(py%[1]s *self) {
    return PyNumber_Long(self->value);
}

`, e.name)
}

func (e *Enum) writeTypeObject(w *writer) {
	writeTypeObject(w, typeObject{
		Class:       e.name,
		Module:      e.module.Name,
		Docstring:   fmt.Sprintf("%s: %s", e.name, FormatAsDocstring(e.docstring())),
		Int:         fmt.Sprintf("%s_int", e.name),
		Str:         fmt.Sprintf("py%s___str__", e.name),
		RichCompare: fmt.Sprintf("%s_eq", e.name),
	})
}

// initialise fills the name to value and value to name tables.
func (e *Enum) initialise() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("    %[1]s_Dict_lookup = PyDict_New();\n    %[1]s_rev_lookup = PyDict_New();\n", e.name))
	if len(e.Values) == 0 {
		return sb.String()
	}
	sb.WriteString("    {\n        PyObject *tmp = NULL;\n        PyObject *tmp2 = NULL;\n\n")
	for _, v := range e.Values {
		sb.WriteString(fmt.Sprintf(`        tmp = PyLong_FromLong((long) %[2]s);
        tmp2 = PyUnicode_FromString("%[2]s");
        PyDict_SetItem(%[1]s_Dict_lookup, tmp2, tmp);
        PyDict_SetItem(%[1]s_rev_lookup, tmp, tmp2);
        Py_DecRef(tmp);
        Py_DecRef(tmp2);
`, e.name, v))
	}
	sb.WriteString("    }\n")
	return sb.String()
}
