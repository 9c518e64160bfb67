package bindgen

import (
	"strings"
	"testing"
)

func newTestModule(t *testing.T) *Module {
	t.Helper()
	m := NewModule(Options{Name: "pytsk3", UnicodeConstants: []string{"TSK_VERSION_STR"}})
	m.AddClass(m.NewClass("Object", "Obj"))
	return m
}

func mustMethod(t *testing.T, m *Module, kind MethodKind, class, base, name, ret string, args ...[2]string) *Method {
	t.Helper()
	meth, err := NewMethod(m.Registry(), kind, class, base, name, ret)
	if err != nil {
		t.Fatalf("NewMethod(%s.%s): %v", class, name, err)
	}
	for _, a := range args {
		if err := meth.AddArg(m.Registry(), a[0], a[1]); err != nil {
			t.Fatalf("AddArg(%s): %v", a[0], err)
		}
	}
	return meth
}

// newImg declares Img with a constructor, a read method, a close method
// and a private helper.
func newImg(t *testing.T, m *Module) *ClassGenerator {
	t.Helper()
	img := m.NewClass("Img", "Object")
	m.AddClass(img)
	img.Constructor = mustMethod(t, m, KindConstructor, "Img", "Object", "Con", "Img", [2]string{"url", "char *"})
	img.AddMethod(mustMethod(t, m, KindRegular, "Img", "Object", "read", "ssize_t",
		[2]string{"offset", "off_t"}, [2]string{"buf", "OUT char *"}, [2]string{"len", "size_t"}))
	img.AddMethod(mustMethod(t, m, KindRegular, "Img", "Object", "close", "void"))
	img.AddMethod(mustMethod(t, m, KindRegular, "Img", "Object", "_hidden", "int"))
	return img
}

// section returns the text from the first occurrence of start up to the
// end of the enclosing top level block.
func section(t *testing.T, out, start string) string {
	t.Helper()
	i := strings.Index(out, start)
	if i < 0 {
		t.Fatalf("output has no %q", start)
	}
	rest := out[i:]
	if j := strings.Index(rest, "\n}\n"); j >= 0 {
		return rest[:j+3]
	}
	return rest
}

func TestParseDirectives(t *testing.T) {
	doc := `Reads from the image.

      DEFAULT(offset) = 0;
      DEFAULT(flags) = TSK_FS_FLAG_NONE | 4;
      RAISES(func_return == 0, IOError) = "Unable to read %s", name;
`
	d, err := ParseDirectives(doc)
	if err != nil {
		t.Fatalf("ParseDirectives: %v", err)
	}
	if got := d.Defaults["offset"]; got != "0" {
		t.Errorf("DEFAULT(offset) = %q, want %q", got, "0")
	}
	if got := d.Defaults["flags"]; got != "TSK_FS_FLAG_NONE | 4" {
		t.Errorf("DEFAULT(flags) = %q, want %q", got, "TSK_FS_FLAG_NONE | 4")
	}
	if d.Exception == nil {
		t.Fatal("RAISES not parsed")
	}
	want := ResultException{Check: "func_return == 0", Exception: "IOError", Message: `"Unable to read %s", name`}
	if *d.Exception != want {
		t.Errorf("RAISES = %+v, want %+v", *d.Exception, want)
	}
}

func TestParseDirectivesKeepsGoodLines(t *testing.T) {
	d, err := ParseDirectives("DEFAULT(x) 3;\nDEFAULT(y) = 7;\n")
	if err == nil {
		t.Error("malformed DEFAULT accepted")
	}
	if d.Defaults["y"] != "7" {
		t.Errorf("DEFAULT(y) = %q, want %q", d.Defaults["y"], "7")
	}
	if _, ok := d.Defaults["x"]; ok {
		t.Error("malformed DEFAULT(x) recorded")
	}
}

func TestFormatAsDocstring(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"Line one\n   * line two", `Line one\nline two`},
		{`say "hi"\`, `say \"hi\"\\`},
		{"tab\there", `tab\there`},
		{"café", `caf\303\251`},
	}

	for _, tt := range tests {
		if got := FormatAsDocstring(tt.in); got != tt.want {
			t.Errorf("FormatAsDocstring(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestArity(t *testing.T) {
	tests := map[int]string{
		0: "Takes no arguments.",
		1: "Takes one argument.",
		3: "Takes three arguments.",
	}
	for n, want := range tests {
		if got := arity(n); got != want {
			t.Errorf("arity(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		class, method, ret string
		want               MethodKind
	}{
		{"Img", "Con", "Img", KindConstructor},
		{"Img", "Con_with_offset", "Img", KindConstructor},
		{"Img", "Con", "int", KindRegular},
		{"Dir", "iternext", "File", KindIterator},
		{"Dir", "__iter__", "void", KindSelfIterator},
		{"Img", "read", "ssize_t", KindRegular},
	}
	for _, tt := range tests {
		if got := Classify(tt.class, tt.method, tt.ret); got != tt.want {
			t.Errorf("Classify(%s, %s, %s) = %v, want %v", tt.class, tt.method, tt.ret, got, tt.want)
		}
	}
}

func TestDeriveOverridesInPlace(t *testing.T) {
	m := newTestModule(t)
	img := newImg(t, m)

	ewf := img.Derive("EWFImg")
	m.AddClass(ewf)
	override := mustMethod(t, m, KindRegular, "EWFImg", "Img", "close", "void")
	ewf.AddMethod(override)

	var names []string
	for _, meth := range ewf.Methods() {
		names = append(names, meth.Name)
	}
	if got, want := strings.Join(names, ","), "read,close,_hidden"; got != want {
		t.Errorf("methods = %s, want %s", got, want)
	}

	got, _ := ewf.Method("close")
	if got.DefinitionClassName != "EWFImg" {
		t.Errorf("close defined in %s, want EWFImg", got.DefinitionClassName)
	}
	read, _ := ewf.Method("read")
	if read.ClassName != "EWFImg" || read.DefinitionClassName != "Img" {
		t.Errorf("inherited read = %s/%s, want EWFImg/Img", read.ClassName, read.DefinitionClassName)
	}
	if orig, _ := img.Method("close"); orig.ClassName != "Img" {
		t.Errorf("base method renamed to %s", orig.ClassName)
	}
}

func TestPythonArgsMandatoryFirst(t *testing.T) {
	m := newTestModule(t)
	meth := mustMethod(t, m, KindRegular, "Object", "Obj", "seek", "int",
		[2]string{"whence", "int"}, [2]string{"offset", "int"})
	if err := meth.SetDocstring("Seeks.\nDEFAULT(whence) = 1;\n"); err != nil {
		t.Fatal(err)
	}

	if got := strings.Join(meth.PythonArgs(), ","); got != "offset,whence" {
		t.Errorf("PythonArgs = %s, want offset,whence", got)
	}
	if got := meth.Format(); got != "i|i" {
		t.Errorf("Format = %q, want %q", got, "i|i")
	}

	c, _ := m.Class("Object")
	c.(*ClassGenerator).AddMethod(meth)
	out := m.Generate()
	for _, want := range []string{
		`static char *kwlist[] = {"offset", "whence", NULL};`,
		`PyArg_ParseTupleAndKeywords(args, kwds, "i|i", kwlist, &offset, &whence)`,
		"    int whence = 1;\n",
		`Takes two arguments.`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestFusedStringLength(t *testing.T) {
	m := newTestModule(t)
	img := newImg(t, m)
	read, _ := img.Method("read")

	if len(read.Args) != 2 {
		t.Fatalf("read has %d args, want 2", len(read.Args))
	}
	if got := strings.Join(read.PythonArgs(), ","); got != "offset,len" {
		t.Errorf("PythonArgs = %s, want offset,len", got)
	}
	if got := results(read); len(got) != 1 || got[0].Kind() != "CharAndLengthOut" {
		t.Errorf("read results = %v, want the buffer alone", got)
	}
}

func TestResultsList(t *testing.T) {
	m := newTestModule(t)
	tests := []struct {
		ret  string
		want int
	}{
		{"void", 1},
		{"int", 2},
	}
	for _, tt := range tests {
		meth := mustMethod(t, m, KindRegular, "Object", "Obj", "stat", tt.ret, [2]string{"size", "OUT uint64_t *"})
		got := results(meth)
		if len(got) != tt.want {
			t.Errorf("%s return: %d results, want %d", tt.ret, len(got), tt.want)
		}
		if got[len(got)-1].Name() != "size" {
			t.Errorf("%s return: last result %s, want size", tt.ret, got[len(got)-1].Name())
		}
	}
}

func TestInitialiseBaseBeforeDerived(t *testing.T) {
	m := newTestModule(t)
	base := m.NewClass("FS", "Object")
	derived := base.Derive("NTFS")
	m.AddClass(derived)
	m.AddClass(base)

	out := m.Generate()
	for _, class := range []string{"Object", "FS", "NTFS"} {
		if n := strings.Count(out, "PyType_Ready(&"+class+"_Type)"); n != 1 {
			t.Errorf("%s readied %d times, want once", class, n)
		}
	}
	if !strings.Contains(out, "NTFS_Type.tp_base = &FS_Type;\n") {
		t.Error("NTFS not derived from FS")
	}
	fs := strings.Index(out, "PyType_Ready(&FS_Type)")
	ntfs := strings.Index(out, "PyType_Ready(&NTFS_Type)")
	if fs > ntfs {
		t.Error("FS readied after NTFS")
	}
}

func TestProxyExclusions(t *testing.T) {
	m := newTestModule(t)
	img := newImg(t, m)
	out := m.Generate()

	if !strings.Contains(out, "ProxiedImg_read(Img self") {
		t.Error("read has no trampoline")
	}
	for _, name := range []string{"ProxiedImg_close", "ProxiedImg__hidden", "ProxiedImg_Con"} {
		if strings.Contains(out, name) {
			t.Errorf("output contains %s", name)
		}
	}
	for _, meth := range img.Methods() {
		if (meth.Name == "read") != meth.Proxied() {
			t.Errorf("%s.Proxied() = %v", meth.Name, meth.Proxied())
		}
	}
}

func TestTrampolineReleasesLock(t *testing.T) {
	m := newTestModule(t)
	img := newImg(t, m)
	read, _ := img.Method("read")
	body := section(t, m.Generate(), proxySignature(read)+" {")

	if n := strings.Count(body, "PyGILState_Ensure"); n != 1 {
		t.Errorf("PyGILState_Ensure appears %d times, want 1", n)
	}
	returns := strings.Count(body, "    return ")
	releases := strings.Count(body, "PyGILState_Release(gstate);")
	if returns != 2 || releases != returns {
		t.Errorf("%d returns and %d releases, want 2 of each", returns, releases)
	}
	if strings.Index(body, "PyGILState_Release") > strings.Index(body, "return func_return;") {
		t.Error("lock released after returning")
	}
}

func TestProxyPatchTable(t *testing.T) {
	m := newTestModule(t)
	img := newImg(t, m)
	proxied := img.NewProxyClass()
	m.AddClass(proxied)
	out := m.Generate()

	if !strings.Contains(out, `{"read", offsetof(struct Img_t, read), (void *) ProxiedImg_read},`) {
		t.Error("Img patch table missing read")
	}

	conditional := section(t, out, "static void pyImg_initialize_proxies(pyImg *self, void *item) {")
	if !strings.Contains(conditional, "check_method_override((PyObject *) self, &Img_Type, patch->method)") {
		t.Error("Img patches without checking for overrides")
	}

	always := section(t, out, "static void pyProxiedImg_initialize_proxies(pyProxiedImg *self, void *item) {")
	if strings.Contains(always, "check_method_override") {
		t.Error("proxy class checks for overrides")
	}
	if !strings.Contains(always, "self->object_is_proxied = 1;") {
		t.Error("proxy class not marked proxied")
	}

	if strings.Count(out, "static ssize_t ProxiedImg_read(Img self") != 2 {
		t.Error("shared trampoline not declared and defined exactly once")
	}
	if strings.Contains(out, "&__ProxiedImg") {
		t.Error("proxy class registered as a wrapper")
	}
	if !strings.Contains(out, "self->base = (Img) alloc_Img();") {
		t.Error("proxy class does not allocate its base")
	}
}

func TestInheritedAttributeCast(t *testing.T) {
	m := newTestModule(t)
	img := newImg(t, m)
	if err := img.AddAttribute("size", "size_t", ""); err != nil {
		t.Fatal(err)
	}
	ewf := img.Derive("EWFImg")
	m.AddClass(ewf)

	out := m.Generate()
	getter := section(t, out, "static PyObject *pyEWFImg_size_getter(pyEWFImg *self, PyObject *arguments) {")
	if !strings.Contains(getter, "(((Img) self->base)->size)") {
		t.Errorf("inherited getter does not read through Img:\n%s", getter)
	}
}

func TestAttributeOfInactiveClassDropped(t *testing.T) {
	m := newTestModule(t)
	hidden := m.NewClass("Hidden", "Object")
	hidden.Modifiers.Add(ModifierPrivate)
	m.AddClass(hidden)
	img := newImg(t, m)

	if err := img.AddAttribute("hidden", "Hidden", ""); err != nil {
		t.Fatal(err)
	}
	if n := len(img.Getattr.Attributes(m)); n != 0 {
		t.Errorf("%d attributes, want 0", n)
	}
	if strings.Contains(m.Generate(), "Hidden_Type") {
		t.Error("private class emitted")
	}
}

func TestConstants(t *testing.T) {
	m := newTestModule(t)
	for _, c := range []struct {
		name string
		kind ConstantKind
		kept bool
	}{
		{"TSK_B", IntegerConstant, true},
		{"TSK_VERSION_STR", StringConstant, true},
		{"TSK_A", IntegerConstant, true},
		{"TSK3_H_", IntegerConstant, false},
		{"_TSK_X", IntegerConstant, false},
		{"Tsk_Mixed", IntegerConstant, false},
		{"ABC", IntegerConstant, false},
		{"TSK_NAME", StringConstant, true},
	} {
		if got := m.AddConstant(c.name, c.kind); got != c.kept {
			t.Errorf("AddConstant(%s) = %v, want %v", c.name, got, c.kept)
		}
	}

	var names []string
	for _, c := range m.Constants() {
		names = append(names, c.Name)
	}
	if got, want := strings.Join(names, ","), "TSK_A,TSK_B,TSK_NAME,TSK_VERSION_STR"; got != want {
		t.Errorf("Constants = %s, want %s", got, want)
	}

	out := m.Generate()
	for _, want := range []string{
		"PyLong_FromUnsignedLongLong((uint64_t) TSK_A)",
		"PyBytes_FromString(TSK_NAME)",
		"PyUnicode_FromString(TSK_VERSION_STR)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestEnum(t *testing.T) {
	m := newTestModule(t)
	e := m.NewEnum("TSK_FS_TYPE_ENUM")
	for _, v := range []string{"TSK_FS_TYPE_NTFS", "TSK_FS_TYPE_FAT12", "TSK_FS_TYPE_EXT2"} {
		e.AddValue(v)
	}
	m.AnnotateEnumValue("TSK_FS_TYPE_NTFS", 1)
	m.AddClass(e)

	if !m.Registry().Active("TSK_FS_TYPE_ENUM") {
		t.Error("enum type not registered")
	}
	if len(m.Constants()) != 3 {
		t.Errorf("%d constants, want the three values", len(m.Constants()))
	}
	doc := e.docstring()
	if !strings.Contains(doc, "three values") || !strings.Contains(doc, "TSK_FS_TYPE_NTFS = 1") {
		t.Errorf("docstring = %q", doc)
	}

	out := m.Generate()
	for _, want := range []string{
		"static PyObject *TSK_FS_TYPE_ENUM_rev_lookup;",
		`tmp2 = PyUnicode_FromString("TSK_FS_TYPE_FAT12");`,
		".tp_richcompare = (richcmpfunc) TSK_FS_TYPE_ENUM_eq,",
		".nb_int = (unaryfunc) TSK_FS_TYPE_ENUM_int,",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestStructNeedsBinding(t *testing.T) {
	m := newTestModule(t)
	s := m.NewStruct("TSK_FS_INFO")
	if err := s.AddAttribute("block_size", "unsigned int", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.AddArrayAttribute("label", "char", "32"); err != nil {
		t.Fatal(err)
	}
	m.AddClass(s)

	if strings.Contains(m.Generate(), "pyTSK_FS_INFO") {
		t.Fatal("unbound struct emitted")
	}

	m.BindStruct("TSK_FS_INFO")
	out := m.Generate()
	for _, want := range []string{
		"    TSK_FS_INFO *cbase;\n",
		"(self->base->block_size)",
		"strnlen(label, 32)",
		`{ "label",`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestTypeSlots(t *testing.T) {
	m := newTestModule(t)
	dir := m.NewClass("Directory", "Object")
	m.AddClass(dir)
	dir.AddMethod(mustMethod(t, m, KindSelfIterator, "Directory", "Object", "__iter__", "void"))
	dir.AddMethod(mustMethod(t, m, KindIterator, "Directory", "Object", "iternext", "Directory"))
	dir.AddMethod(mustMethod(t, m, KindRegular, "Directory", "Object", "__str__", "char *"))

	out := m.Generate()
	for _, want := range []string{
		".tp_iter = (getiterfunc) pyDirectory___iter__,",
		".tp_iternext = (iternextfunc) pyDirectory_iternext,",
		".tp_str = (reprfunc) pyDirectory_tp_str,",
		"static PyObject *pyDirectory_iternext(pyDirectory *self) {",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
	if strings.Contains(out, `{ "iternext",`) {
		t.Error("iternext exposed as a method")
	}
}

func TestGenerateLayout(t *testing.T) {
	m := newTestModule(t)
	newImg(t, m)
	m.AddFile("/src/tsk/libtsk.h", "/src")
	m.AddFile("/src/tsk/libtsk.h", "/src")
	out := m.Generate()

	if strings.Count(out, `#include "tsk/libtsk.h"`) != 1 {
		t.Error("header not included exactly once")
	}
	order := []string{
		"#define PY_SSIZE_T_CLEAN\n#include <Python.h>",
		"static int TOTAL_CLASSES = 0;",
		"/******************** Img ***********************/",
		"Implementation",
		"static PyMethodDef Img_methods[] = {",
		"static PyTypeObject Img_Type = {",
		"PyMODINIT_FUNC PyInit_pytsk3(void) {",
	}
	last := -1
	for _, s := range order {
		i := strings.Index(out, s)
		if i < 0 {
			t.Fatalf("output missing %q", s)
		}
		if i < last {
			t.Errorf("%q out of order", s)
		}
		last = i
	}
	if !strings.Contains(out, "python_wrappers[3];") {
		t.Error("wrapper table not sized for every class")
	}
}

func TestReturnValueIsNotRangeChecked(t *testing.T) {
	m := newTestModule(t)
	img := newImg(t, m)
	img.AddMethod(mustMethod(t, m, KindRegular, "Img", "Object", "seek", "uint64_t", [2]string{"offset", "uint32_t"}))

	body := section(t, m.Generate(), "static PyObject *pyImg_seek(pyImg *self, PyObject *args, PyObject *kwds) {")
	if strings.Contains(body, "if(py_func_return != NULL)") {
		t.Error("return value converted before the call")
	}
	if !strings.Contains(body, "if(py_offset != NULL)") {
		t.Error("argument range check missing")
	}
}

func TestConstructorFailureUsesFreeFunction(t *testing.T) {
	m := NewModule(Options{Name: "pytsk3", Free: "tsk_release"})
	m.AddClass(m.NewClass("Object", "Obj"))
	newImg(t, m)

	body := section(t, m.Generate(), "static int pyImg_init(pyImg *self, PyObject *args, PyObject *kwds) {")
	if !strings.Contains(body, "tsk_release(self->base);") {
		t.Errorf("constructor error path does not call the free function:\n%s", body)
	}
	if strings.Contains(body, "talloc_free") {
		t.Error("constructor error path calls talloc_free directly")
	}
}

func TestDefaultOutOfRange(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		keep    bool
		wantErr bool
	}{
		{"fits", "DEFAULT(flags) = 0xff;", true, false},
		{"too large", "DEFAULT(flags) = 256;", false, true},
		{"negative", "DEFAULT(flags) = -1;", false, true},
		{"expression", "DEFAULT(flags) = TSK_FS_FLAG_NONE;", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestModule(t)
			meth := mustMethod(t, m, KindRegular, "Img", "Object", "walk", "int", [2]string{"flags", "uint8_t"})
			err := meth.SetDocstring(tt.doc)
			if (err != nil) != tt.wantErr {
				t.Errorf("SetDocstring(%q) error = %v, wantErr %v", tt.doc, err, tt.wantErr)
			}
			if _, ok := meth.Defaults["flags"]; ok != tt.keep {
				t.Errorf("default kept = %v, want %v", ok, tt.keep)
			}
		})
	}
}
