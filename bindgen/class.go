package bindgen

import (
	"fmt"
	"strings"

	"classbindgen/ctypes"
)

// Class modifiers.
const (
	ModifierPrivate  = "PRIVATE"
	ModifierAbstract = "ABSTRACT"
	ModifierForeign  = "FOREIGN"
	ModifierBorrowed = "BORROWED"
	ModifierIterator = "ITERATOR"
	ModifierSelfIter = "SELF_ITER"
	ModifierTPStr    = "TP_STR"
	ModifierTPEqual  = "TP_EQUAL"
	// ModifierProxy classes always route their methods into Python.
	ModifierProxy = "PROXY"
)

// Generator is one type of the generated module.
type Generator interface {
	Name() string
	BaseName() string
	Active() bool
	String() string

	prepare()
	writeStruct(w *writer)
	writePrototypes(w *writer)
	writeMethodTable(w *writer)
	writeGetSetTable(w *writer)
	writeCode(w *writer)
	writeTypeObject(w *writer)
	initialise() string
}

// ClassGenerator is a CLASS() block.
type ClassGenerator struct {
	module    *Module
	name      string
	baseName  string
	native    string
	Docstring string
	Modifiers ctypes.Attributes

	methods     []*Method
	index       map[string]int
	Constructor *Method
	Getattr     *Getattr
}

// NewClass returns a class with no methods and an empty constructor.
func (m *Module) NewClass(name, baseName string) *ClassGenerator {
	c := &ClassGenerator{
		module:    m,
		name:      name,
		baseName:  baseName,
		native:    name,
		Modifiers: ctypes.NewAttributes(),
		index:     make(map[string]int),
		Getattr:   &Getattr{ClassName: name, BaseClassName: baseName},
	}
	c.Constructor, _ = NewMethod(m.reg, KindEmptyConstructor, name, baseName, "Con", "")
	return c
}

// Derive returns a subclass inheriting every method, the constructor and
// the attributes of c.
func (c *ClassGenerator) Derive(name string) *ClassGenerator {
	d := c.module.NewClass(name, c.name)
	d.Constructor = c.Constructor.clone(name)
	for _, meth := range c.methods {
		d.AddMethod(meth.clone(name))
	}
	d.Getattr = c.Getattr.clone(name)
	return d
}

// NewProxyClass returns "Proxied<base>", a subclass of base whose
// overridable methods always call into Python.
func (c *ClassGenerator) NewProxyClass() *ClassGenerator {
	p := c.Derive("Proxied" + c.name)
	p.native = c.native
	p.Modifiers.Add(ModifierProxy)
	return p
}

func (c *ClassGenerator) Name() string     { return c.name }
func (c *ClassGenerator) BaseName() string { return c.baseName }

// Native is the C class backing the wrapper.
func (c *ClassGenerator) Native() string { return c.native }

// AddMethod appends meth, or replaces the method of the same name in place.
// Iterator and __str__ methods set the matching slot modifier.
func (c *ClassGenerator) AddMethod(meth *Method) {
	switch {
	case meth.Kind == KindIterator:
		c.Modifiers.Add(ModifierIterator)
	case meth.Kind == KindSelfIterator:
		c.Modifiers.Add(ModifierSelfIter)
	case meth.Name == "__str__":
		c.Modifiers.Add(ModifierTPStr)
	}

	if i, ok := c.index[meth.Name]; ok {
		c.methods[i] = meth
		return
	}
	c.index[meth.Name] = len(c.methods)
	c.methods = append(c.methods, meth)
}

func (c *ClassGenerator) Methods() []*Method { return c.methods }

func (c *ClassGenerator) Method(name string) (*Method, bool) {
	i, ok := c.index[name]
	if !ok {
		return nil, false
	}
	return c.methods[i], true
}

// AddAttribute adds a readable attribute. Attributes of inactive classes
// are dropped; attributes are always borrowed from the owning object.
func (c *ClassGenerator) AddAttribute(name, spelling, modifier string) error {
	return addAttribute(c.module, c.Getattr, name, spelling, modifier)
}

func addAttribute(m *Module, g *Getattr, name, spelling, modifier string) error {
	if cls, ok := m.Class(strings.TrimSpace(spelling)); ok && !cls.Active() {
		return nil
	}
	t, err := m.reg.Dispatch(name, "BORROWED "+spelling)
	if err != nil {
		return fmt.Errorf("attribute %s.%s: %w", g.ClassName, name, err)
	}
	t.Attributes().Add(modifier)
	g.Add(t)
	return nil
}

// Active reports whether the class is emitted.
func (c *ClassGenerator) Active() bool {
	if c.module.StructBound(c.name) {
		return true
	}
	if c.Modifiers.Has(ModifierPrivate) || c.Modifiers.Has(ModifierAbstract) {
		return false
	}
	return true
}

func (c *ClassGenerator) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("#%s\nClass %s(%s):\n    Constructor:%s\n    Attributes:\n%s\n    Methods:\n",
		c.Docstring, c.name, c.baseName, c.Constructor.String(), c.Getattr.String(c.module)))
	for _, meth := range c.methods {
		sb.WriteString(fmt.Sprintf("        %s\n", meth.String()))
	}
	return sb.String()
}

func (c *ClassGenerator) prepare() {}

// hasProxies reports whether the class installs trampolines at
// construction.
func (c *ClassGenerator) hasProxies() bool {
	return c.Constructor != nil && c.Constructor.Kind == KindConstructor
}

func (c *ClassGenerator) proxiedMethods() []*Method {
	var out []*Method
	for _, meth := range c.methods {
		if meth.Proxied() {
			out = append(out, meth)
		}
	}
	return out
}

func (c *ClassGenerator) writeStruct(w *writer) {
	w.printf(`
typedef struct {
    PyObject_HEAD
    %s base;
    int base_is_python_object;
    int base_is_internal;
    PyObject *python_object1;
    PyObject *python_object2;
    int object_is_proxied;

    void (*initialise)(Gen_wrapper self, void *item);
} py%s;
`, c.native, c.name)
}

func (c *ClassGenerator) writePrototypes(w *writer) {
	w.printf("static PyTypeObject %s_Type;\n", c.name)
	w.printf("static int py%[1]s_init(py%[1]s *self, PyObject *args, PyObject *kwds);\n", c.name)
	if c.hasProxies() {
		w.printf("static void py%[1]s_initialize_proxies(py%[1]s *self, void *item);\n", c.name)
	}
	writeGetattrPrototypes(w, c.name, c.Getattr)
	for _, meth := range c.methods {
		writeMethodPrototype(w, meth)
		if c.hasProxies() && meth.Proxied() {
			writeProxyPrototype(w, meth)
		}
	}
}

func (c *ClassGenerator) writeMethodTable(w *writer) {
	w.printf("static PyMethodDef %s_methods[] = {\n", c.name)
	for _, meth := range c.methods {
		if meth.Exposed() {
			writeMethodDef(w, meth)
		}
	}
	w.write("    {NULL, NULL, 0, NULL}  /* Sentinel */\n};\n\n")
}

func (c *ClassGenerator) writeGetSetTable(w *writer) {
	w.printf("static PyGetSetDef %s_get_set_definitions[] = {\n", c.name)
	writeGetSetDefs(w, c.name, c.Getattr)
	w.write("    {NULL, NULL, NULL, NULL, NULL}  /* Sentinel */\n};\n\n")
}

func (c *ClassGenerator) writeCode(w *writer) {
	writeDestructor(w, c.name)
	switch c.Constructor.Kind {
	case KindConstructor:
		writeProxyTable(w, c)
		writeInitializeProxies(w, c)
		writeConstructor(w, c, c.Constructor)
	default:
		writeEmptyConstructor(w, c.name)
	}

	writeGetattr(w, c.name, c.Getattr)

	for _, meth := range c.methods {
		writeMethod(w, meth)
		if c.hasProxies() && meth.Proxied() {
			writeProxy(w, meth)
		}
	}
	if c.Modifiers.Has(ModifierTPStr) {
		writeStrSlot(w, c.name)
	}
}

func (c *ClassGenerator) writeTypeObject(w *writer) {
	t := typeObject{
		Class:     c.name,
		Module:    c.module.Name,
		Docstring: fmt.Sprintf("%s: %s", c.name, FormatAsDocstring(c.Docstring)),
		Getattr:   fmt.Sprintf("py%s_getattr", c.name),
		Nonzero:   fmt.Sprintf("%s_nonzero", c.name),
	}
	if c.Modifiers.Has(ModifierIterator) {
		t.Iter = "PyObject_SelfIter"
		t.IterNext = fmt.Sprintf("py%s_iternext", c.name)
	}
	if c.Modifiers.Has(ModifierSelfIter) {
		t.Iter = fmt.Sprintf("py%s___iter__", c.name)
	}
	if c.Modifiers.Has(ModifierTPStr) {
		t.Str = fmt.Sprintf("py%s_tp_str", c.name)
	}
	w.printf(`static int %[1]s_nonzero(py%[1]s *v) {
    return v->base != 0;
}
`, c.name)
	writeTypeObject(w, t)
}

// initialise registers the class so native objects of this class come
// back as its wrapper. Proxy classes are never the most specific wrapper
// of a native object and stay unregistered.
func (c *ClassGenerator) initialise() string {
	if c.Modifiers.Has(ModifierProxy) {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("    python_wrappers[TOTAL_CLASSES].class_ref = (Object)&__%s;\n", c.native))
	sb.WriteString(fmt.Sprintf("    python_wrappers[TOTAL_CLASSES].python_type = &%s_Type;\n", c.name))
	if c.hasProxies() {
		sb.WriteString(fmt.Sprintf("    python_wrappers[TOTAL_CLASSES].initialize_proxies = (void (*)(Gen_wrapper, void *)) &py%s_initialize_proxies;\n", c.name))
	} else {
		sb.WriteString("    python_wrappers[TOTAL_CLASSES].initialize_proxies = NULL;\n")
	}
	sb.WriteString("    TOTAL_CLASSES++;\n")
	return sb.String()
}
