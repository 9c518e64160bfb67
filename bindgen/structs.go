package bindgen

import (
	"fmt"
	"strings"

	"classbindgen/ctypes"
)

// StructGenerator wraps a plain C struct. Structs are read only and only
// cross the boundary once bound with BIND_STRUCT.
type StructGenerator struct {
	module    *Module
	name      string
	Docstring string
	Getattr   *Getattr
}

func (m *Module) NewStruct(name string) *StructGenerator {
	return &StructGenerator{
		module:  m,
		name:    name,
		Getattr: &Getattr{ClassName: name},
	}
}

func (s *StructGenerator) Name() string     { return s.name }
func (s *StructGenerator) BaseName() string { return "" }

// Rename names a struct declared as an anonymous typedef once its name is
// known.
func (s *StructGenerator) Rename(name string) {
	s.name = name
	s.Getattr.ClassName = name
	for i := range s.Getattr.attrs {
		s.Getattr.attrs[i].owner = name
	}
}

func (s *StructGenerator) AddAttribute(name, spelling, modifier string) error {
	return addAttribute(s.module, s.Getattr, name, spelling, modifier)
}

// AddArrayAttribute adds a fixed size member.
func (s *StructGenerator) AddArrayAttribute(name, spelling, size string) error {
	t, err := s.module.reg.DispatchArray(name, spelling, size)
	if err != nil {
		return fmt.Errorf("attribute %s.%s: %w", s.name, name, err)
	}
	s.Getattr.Add(t)
	return nil
}

func (s *StructGenerator) Active() bool {
	return s.module.StructBound(s.name)
}

func (s *StructGenerator) String() string {
	return fmt.Sprintf("#%s\nStruct %s:\n%s\n", s.Docstring, s.name, s.Getattr.String(s.module))
}

// prepare marks every member as owned by the native struct.
func (s *StructGenerator) prepare() {
	for _, a := range s.Getattr.attrs {
		a.t.Attributes().Add(ctypes.Foreign)
	}
}

func (s *StructGenerator) writeStruct(w *writer) {
	w.printf(`
typedef struct {
    PyObject_HEAD
    %[1]s *base;
    int base_is_python_object;
    int base_is_internal;
    PyObject *python_object1;
    PyObject *python_object2;
    int object_is_proxied;
    %[1]s *cbase;
} py%[1]s;
`, s.name)
}

func (s *StructGenerator) writePrototypes(w *writer) {
	w.printf("static PyTypeObject %s_Type;\n", s.name)
	w.printf("static int py%[1]s_init(py%[1]s *self, PyObject *args, PyObject *kwds);\n", s.name)
	writeGetattrPrototypes(w, s.name, s.Getattr)
}

func (s *StructGenerator) writeMethodTable(w *writer) {
	w.printf("static PyMethodDef %s_methods[] = {\n    {NULL, NULL, 0, NULL}  /* Sentinel */\n};\n\n", s.name)
}

func (s *StructGenerator) writeGetSetTable(w *writer) {
	w.printf("static PyGetSetDef %s_get_set_definitions[] = {\n", s.name)
	writeGetSetDefs(w, s.name, s.Getattr)
	w.write("    {NULL, NULL, NULL, NULL, NULL}  /* Sentinel */\n};\n\n")
}

func (s *StructGenerator) writeCode(w *writer) {
	// The struct belongs to whoever returned it.
	w.printf(`static void %[1]s_dealloc(py%[1]s *self) {
    if(self != NULL) {
        self->base = NULL;

        if(Py_TYPE(self) != NULL && Py_TYPE(self)->tp_free != NULL) {
            Py_TYPE(self)->tp_free((PyObject *) self);
        }
    }
}

static int py%[1]s_init(py%[1]s *self, PyObject *args, PyObject *kwds) {
    self->base = NULL;
    return 0;
}

`, s.name)
	writeGetattr(w, s.name, s.Getattr)
}

func (s *StructGenerator) writeTypeObject(w *writer) {
	w.printf(`static int %[1]s_nonzero(py%[1]s *v) {
    return v->base != 0;
}
`, s.name)
	writeTypeObject(w, typeObject{
		Class:     s.name,
		Module:    s.module.Name,
		Docstring: fmt.Sprintf("%s: %s", s.name, FormatAsDocstring(strings.TrimSpace(s.Docstring))),
		Getattr:   fmt.Sprintf("py%s_getattr", s.name),
		Nonzero:   fmt.Sprintf("%s_nonzero", s.name),
	})
}

func (s *StructGenerator) initialise() string { return "" }
