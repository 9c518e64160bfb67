package headerparser

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"classbindgen/bindgen"
)

func newTestParser() *Parser {
	m := bindgen.NewModule(bindgen.Options{Name: "test"})
	return New(m, Options{})
}

func parse(t *testing.T, src string) *Parser {
	t.Helper()
	p := newTestParser()
	if err := p.Parse("test.h", strings.NewReader(src)); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return p
}

func classOf(t *testing.T, p *Parser, name string) *bindgen.ClassGenerator {
	t.Helper()
	g, ok := p.Module().Class(name)
	if !ok {
		t.Fatalf("class %s not declared", name)
	}
	cls, ok := g.(*bindgen.ClassGenerator)
	if !ok {
		t.Fatalf("%s is a %T, want *bindgen.ClassGenerator", name, g)
	}
	return cls
}

func methodNames(cls *bindgen.ClassGenerator) []string {
	var names []string
	for _, m := range cls.Methods() {
		names = append(names, m.Name)
	}
	return names
}

func diagnosticKinds(p *Parser, pass int) []string {
	var kinds []string
	for _, d := range p.Module().Diagnostics(pass) {
		kinds = append(kinds, d.Kind)
	}
	return kinds
}

func TestRootClass(t *testing.T) {
	p := newTestParser()
	obj := classOf(t, p, "Object")
	if obj.BaseName() != "Obj" {
		t.Errorf("Object base = %q, want Obj", obj.BaseName())
	}
	if got := p.Module().Diagnostics(-1); len(got) != 0 {
		t.Errorf("seed produced diagnostics: %v", got)
	}
}

func TestSenseQualifiedArgument(t *testing.T) {
	p := parse(t, `CLASS(Foo, Object)
    int METHOD(Foo, Bar, IN int, x);
END_CLASS
`)
	cls := classOf(t, p, "Foo")
	meth, ok := cls.Method("Bar")
	if !ok {
		t.Fatalf("methods = %v, want Bar", methodNames(cls))
	}
	if len(meth.Args) != 1 {
		t.Fatalf("len(Args) = %d, want 1", len(meth.Args))
	}
	if got := meth.Args[0].Name(); got != "x" {
		t.Errorf("argument name = %q, want x", got)
	}
	if got := meth.Args[0].Kind(); got != "Integer" {
		t.Errorf("argument kind = %q, want Integer", got)
	}
	if got := meth.Return.Kind(); got != "Integer" {
		t.Errorf("return kind = %q, want Integer", got)
	}
	if got := meth.Format(); got != "i" {
		t.Errorf("Format() = %q, want %q", got, "i")
	}
}

func TestMethodArguments(t *testing.T) {
	p := parse(t, `CLASS(Img, Object)
    ssize_t METHOD(Img, read, off_t offset,
                   OUT char *buf, size_t len);
    char* METHOD(Img, name);
    void METHOD(Img, close);
END_CLASS
`)
	cls := classOf(t, p, "Img")
	if got, want := methodNames(cls), []string{"read", "name", "close"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("methods = %v, want %v", got, want)
	}

	read, _ := cls.Method("read")
	if len(read.Args) != 2 {
		t.Fatalf("read has %d arguments, want the buffer fused with its length", len(read.Args))
	}
	if got := read.Args[1].Kind(); got != "CharAndLengthOut" {
		t.Errorf("read argument 2 kind = %q, want CharAndLengthOut", got)
	}

	name, _ := cls.Method("name")
	if got := name.Return.Kind(); got != "String" {
		t.Errorf("name return kind = %q, want String", got)
	}
}

func TestDefines(t *testing.T) {
	p := parse(t, `#define MAX_SIZE 100
#define GREETING "hi"
#define ok 1
#define _HIDDEN_ 2
#define TSK3_H_
#define MAKE_THING(x) ((x) + 1)
#define WITH_COMMENT 4 /* "quoted" */
`)
	want := []bindgen.Constant{
		{Name: "MAX_SIZE", Kind: bindgen.IntegerConstant},
		{Name: "WITH_COMMENT", Kind: bindgen.IntegerConstant},
		{Name: "GREETING", Kind: bindgen.StringConstant},
	}
	if got := p.Module().Constants(); !reflect.DeepEqual(got, want) {
		t.Errorf("Constants() = %v, want %v", got, want)
	}
}

func TestBindStruct(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want bool
	}{
		{"unbound", "struct Point { int x; int y; };\n", false},
		{"bound", "struct Point { int x; int y; };\nBIND_STRUCT(Point)\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := parse(t, tt.src)
			g, ok := p.Module().Class("Point")
			if !ok {
				t.Fatal("struct Point not declared")
			}
			if g.Active() != tt.want {
				t.Errorf("Active() = %v, want %v", g.Active(), tt.want)
			}
		})
	}
}

func TestTypedefStruct(t *testing.T) {
	p := parse(t, `typedef struct {
    char name[32];
    uint32_t flags;
    struct {
        int a;
    } inner;
    int (*callback)(int);
    uint8_t *data;
} Info;
BIND_STRUCT(Info)
`)
	g, ok := p.Module().Class("Info")
	if !ok {
		t.Fatal("struct Info not declared")
	}
	s, ok := g.(*bindgen.StructGenerator)
	if !ok {
		t.Fatalf("Info is a %T, want *bindgen.StructGenerator", g)
	}

	var names []string
	for _, a := range s.Getattr.Attributes(p.Module()) {
		names = append(names, a.Name())
	}
	if want := []string{"name", "flags"}; !reflect.DeepEqual(names, want) {
		t.Errorf("attributes = %v, want %v", names, want)
	}
	if kinds := diagnosticKinds(p, 1); !reflect.DeepEqual(kinds, []string{KindUnknownType}) {
		t.Errorf("diagnostics = %v, want one for the uint8_t pointer", kinds)
	}
	if p.LexerErrors() != 0 {
		t.Errorf("LexerErrors() = %d, want 0", p.LexerErrors())
	}
}

func TestEnums(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		enum   string
		values []string
	}{
		{
			name:   "named",
			src:    "enum Color { RED = 0, GREEN = 1, BLUE = 2 };\n",
			enum:   "Color",
			values: []string{"RED", "GREEN", "BLUE"},
		},
		{
			name:   "typedef",
			src:    "typedef enum {\n    TSK_FS_TYPE_NTFS = 0x01,\n    TSK_FS_TYPE_FAT12 = 0x02,\n    TSK_FS_TYPE_RAW\n} TSK_FS_TYPE_ENUM;\n",
			enum:   "TSK_FS_TYPE_ENUM",
			values: []string{"TSK_FS_TYPE_NTFS", "TSK_FS_TYPE_FAT12", "TSK_FS_TYPE_RAW"},
		},
		{
			name:   "named typedef",
			src:    "typedef enum flags { FLAG_ONE = 1 << 0, FLAG_TWO = 1 << 1 } FLAGS;\n",
			enum:   "FLAGS",
			values: []string{"FLAG_ONE", "FLAG_TWO"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := parse(t, tt.src)
			g, ok := p.Module().Class(tt.enum)
			if !ok {
				t.Fatalf("enum %s not declared", tt.enum)
			}
			e, ok := g.(*bindgen.Enum)
			if !ok {
				t.Fatalf("%s is a %T, want *bindgen.Enum", tt.enum, g)
			}
			if !reflect.DeepEqual(e.Values, tt.values) {
				t.Errorf("Values = %v, want %v", e.Values, tt.values)
			}

			var consts []string
			for _, c := range p.Module().Constants() {
				if c.Kind != bindgen.IntegerConstant {
					t.Errorf("constant %s kind = %s, want integer", c.Name, c.Kind)
				}
				consts = append(consts, c.Name)
			}
			if len(consts) != len(tt.values) {
				t.Errorf("constants = %v, want %v", consts, tt.values)
			}
			if e, ok := p.Module().Registry().Lookup(tt.enum); !ok || e.Kind != "EnumType" {
				t.Errorf("%s is not registered as an enum type", tt.enum)
			}
		})
	}
}

func TestForwardReference(t *testing.T) {
	dir := t.TempDir()
	header := filepath.Join(dir, "forward.h")
	src := `CLASS(Derived, Base)
END_CLASS

CLASS(Base, Object)
    void METHOD(Base, run);
END_CLASS
`
	if err := os.WriteFile(header, []byte(src), 0644); err != nil {
		t.Fatal(err)
	}

	p := newTestParser()
	if err := p.ParseFilenames([]string{header}); err != nil {
		t.Fatalf("ParseFilenames() error = %v", err)
	}

	if got := p.Module().Diagnostics(-1); len(got) != 0 {
		t.Errorf("diagnostics = %v, want none", got)
	}

	derived := classOf(t, p, "Derived")
	if got := methodNames(derived); !reflect.DeepEqual(got, []string{"run"}) {
		t.Errorf("Derived methods = %v, want [run]", got)
	}
	if got := p.Module().Files(); !reflect.DeepEqual(got, []string{header}) {
		t.Errorf("Files() = %v, want [%s]", got, header)
	}
}

func TestFilesRelativeToBase(t *testing.T) {
	dir := t.TempDir()
	header := filepath.Join(dir, "tsk3.h")
	if err := os.WriteFile(header, []byte("CLASS(Img, Object)\nEND_CLASS\n"), 0644); err != nil {
		t.Fatal(err)
	}

	m := bindgen.NewModule(bindgen.Options{Name: "test"})
	p := New(m, Options{Base: dir})
	if err := p.ParseFilenames([]string{header}); err != nil {
		t.Fatalf("ParseFilenames() error = %v", err)
	}
	if got := m.Files(); !reflect.DeepEqual(got, []string{"tsk3.h"}) {
		t.Errorf("Files() = %v, want [tsk3.h]", got)
	}
}

func TestOverrideKeepsPosition(t *testing.T) {
	p := parse(t, `CLASS(Base, Object)
    int METHOD(Base, first);
    int METHOD(Base, second);
    int METHOD(Base, third);
END_CLASS

CLASS(Derived, Base)
    int METHOD(Derived, second, int extra);
    int METHOD(Derived, fourth);
END_CLASS
`)
	derived := classOf(t, p, "Derived")
	if got, want := methodNames(derived), []string{"first", "second", "third", "fourth"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("methods = %v, want %v", got, want)
	}

	second, _ := derived.Method("second")
	if second.DefinitionClassName != "Derived" || len(second.Args) != 1 {
		t.Errorf("second defined in %s with %d args, want Derived with 1", second.DefinitionClassName, len(second.Args))
	}
	first, _ := derived.Method("first")
	if first.DefinitionClassName != "Base" || first.ClassName != "Derived" {
		t.Errorf("first defined in %s for %s, want Base for Derived", first.DefinitionClassName, first.ClassName)
	}

	base := classOf(t, p, "Base")
	if got := methodNames(base); len(got) != 3 {
		t.Errorf("Base methods = %v, want 3 methods", got)
	}
}

func TestSpecialMethods(t *testing.T) {
	p := parse(t, `CLASS(Directory, Object)
    Directory METHOD(Directory, Con, char *path);
    Directory METHOD(Directory, iternext);
    Directory METHOD(Directory, __iter__);
    char *METHOD(Directory, __str__);
END_CLASS

CLASS(SubDirectory, Directory)
END_CLASS
`)
	cls := classOf(t, p, "Directory")
	if cls.Constructor == nil || cls.Constructor.Kind != bindgen.KindConstructor {
		t.Fatalf("Constructor = %v, want a constructor", cls.Constructor)
	}
	if len(cls.Constructor.Args) != 1 {
		t.Errorf("constructor has %d args, want 1", len(cls.Constructor.Args))
	}
	if _, ok := cls.Method("Con"); ok {
		t.Error("constructor listed as a regular method")
	}

	tests := []struct {
		name string
		kind bindgen.MethodKind
	}{
		{"iternext", bindgen.KindIterator},
		{"__iter__", bindgen.KindSelfIterator},
		{"__str__", bindgen.KindRegular},
	}
	for _, tt := range tests {
		meth, ok := cls.Method(tt.name)
		if !ok {
			t.Errorf("method %s missing", tt.name)
			continue
		}
		if meth.Kind != tt.kind {
			t.Errorf("%s kind = %v, want %v", tt.name, meth.Kind, tt.kind)
		}
	}

	// Slot modifiers are known as soon as the headers are parsed.
	for _, name := range []string{"Directory", "SubDirectory"} {
		c := classOf(t, p, name)
		for _, mod := range []string{bindgen.ModifierIterator, bindgen.ModifierSelfIter, bindgen.ModifierTPStr} {
			if !c.Modifiers.Has(mod) {
				t.Errorf("%s modifiers %v, missing %s", name, c.Modifiers.Sorted(), mod)
			}
		}
	}
}

func TestPrivateDeclarationsSkipped(t *testing.T) {
	p := parse(t, `CLASS(Vol, Object)
    int size;
    PRIVATE int secret;
    int METHOD(Vol, open);
    PRIVATE int METHOD(Vol, internal, int x);
END_CLASS

PRIVATE CLASS(Hidden, Object)
END_CLASS
`)
	vol := classOf(t, p, "Vol")
	if got := methodNames(vol); !reflect.DeepEqual(got, []string{"open"}) {
		t.Errorf("methods = %v, want [open]", got)
	}

	var attrs []string
	for _, a := range vol.Getattr.Attributes(p.Module()) {
		attrs = append(attrs, a.Name())
	}
	if !reflect.DeepEqual(attrs, []string{"size"}) {
		t.Errorf("attributes = %v, want [size]", attrs)
	}

	if classOf(t, p, "Hidden").Active() {
		t.Error("PRIVATE class is active")
	}
}

func TestDocstrings(t *testing.T) {
	p := parse(t, `/* A disk image. */
CLASS(Img, Object)
    /* Reads from the image.

       DEFAULT(len) = 1024;
       RAISES(func_return < 0, IOError) = "Unable to read";
    */
    ssize_t METHOD(Img, read, off_t offset, size_t len);

    /* Forgotten comment */

    void METHOD(Img, close);
END_CLASS
`)
	img := classOf(t, p, "Img")
	if got := strings.TrimSpace(img.Docstring); got != "A disk image." {
		t.Errorf("class docstring = %q", got)
	}

	read, _ := img.Method("read")
	if !strings.Contains(read.Docstring, "Reads from the image.") {
		t.Errorf("read docstring = %q", read.Docstring)
	}
	if got := read.Defaults["len"]; got != "1024" {
		t.Errorf("DEFAULT(len) = %q, want 1024", got)
	}
	if read.Exception == nil || read.Exception.Exception != "IOError" {
		t.Errorf("Exception = %+v, want IOError", read.Exception)
	}

	closeMethod, _ := img.Method("close")
	if closeMethod.Docstring != "" {
		t.Errorf("close docstring = %q, want it cleared by the blank line", closeMethod.Docstring)
	}
}

func TestCommentClearedBetweenConstructs(t *testing.T) {
	first := "// About A\nCLASS(A, Object)\nEND_CLASS\n"
	second := "CLASS(B, Object)\nEND_CLASS\n"

	together := parse(t, first+"\n"+second)
	apart := newTestParser()
	for _, src := range []string{first, second} {
		if err := apart.Parse("test.h", strings.NewReader(src)); err != nil {
			t.Fatal(err)
		}
	}

	if together.Module().String() != apart.Module().String() {
		t.Errorf("concatenated parse differs:\n%s\nwant:\n%s", together.Module().String(), apart.Module().String())
	}
	if got := classOf(t, together, "B").Docstring; got != "" {
		t.Errorf("B docstring = %q, want empty", got)
	}
}

func TestCClass(t *testing.T) {
	p := parse(t, `CCLASS(Attribute, Object)
    int METHOD(Attribute, size);
END_CCLASS

CLASS(File, Object)
END_CLASS
`)
	attr := classOf(t, p, "Attribute")
	if got := methodNames(attr); !reflect.DeepEqual(got, []string{"size"}) {
		t.Errorf("methods = %v, want [size]", got)
	}
	if attr.Modifiers.Has("C") {
		t.Error("CCLASS prefix read as a modifier")
	}
	classOf(t, p, "File")
}

func TestModifiers(t *testing.T) {
	p := parse(t, "ABSTRACT CLASS(Info, Object)\nEND_CLASS\n")
	info := classOf(t, p, "Info")
	if !info.Modifiers.Has(bindgen.ModifierAbstract) {
		t.Error("ABSTRACT modifier missing")
	}
	if info.Active() {
		t.Error("ABSTRACT class is active")
	}
}

func TestProxyClass(t *testing.T) {
	p := parse(t, `CLASS(Img, Object)
    ssize_t METHOD(Img, read, off_t offset, OUT char *buf, size_t len);
END_CLASS

PROXY_CLASS(Img)
`)
	proxy := classOf(t, p, "ProxiedImg")
	if proxy.BaseName() != "Img" {
		t.Errorf("BaseName() = %q, want Img", proxy.BaseName())
	}
	if !proxy.Modifiers.Has(bindgen.ModifierProxy) {
		t.Error("PROXY modifier missing")
	}
	if got := methodNames(proxy); !reflect.DeepEqual(got, []string{"read"}) {
		t.Errorf("methods = %v, want [read]", got)
	}
}

func TestProxyClassUndefinedBase(t *testing.T) {
	p := newTestParser()
	err := p.Parse("test.h", strings.NewReader("PROXY_CLASS(Missing)\n"))
	if !errors.Is(err, ErrUndefinedBase) {
		t.Fatalf("Parse() error = %v, want ErrUndefinedBase", err)
	}
}

func TestSimpleTypedef(t *testing.T) {
	p := parse(t, `typedef uint64_t TSK_DADDR_T;
typedef struct foo_t *Foo;
CLASS(Fs, Object)
    int METHOD(Fs, block, TSK_DADDR_T addr);
END_CLASS
`)
	e, ok := p.Module().Registry().Lookup("TSK_DADDR_T")
	if !ok || e.Kind != "Integer64Unsigned" {
		t.Fatalf("TSK_DADDR_T = %+v, want an alias of uint64_t", e)
	}
	block, ok := classOf(t, p, "Fs").Method("block")
	if !ok {
		t.Fatal("method using the alias was skipped")
	}
	if got := block.Args[0].Kind(); got != "Integer64Unsigned" {
		t.Errorf("argument kind = %q, want Integer64Unsigned", got)
	}
}

func TestUnknownArgumentDropped(t *testing.T) {
	p := parse(t, `CLASS(Fs, Object)
    int METHOD(Fs, walk, mystery_t *cb, int flags);
    int METHOD(Fs, count);
END_CLASS
`)
	fs := classOf(t, p, "Fs")
	if got := methodNames(fs); !reflect.DeepEqual(got, []string{"walk", "count"}) {
		t.Errorf("methods = %v, want [walk count]", got)
	}
	walk, _ := fs.Method("walk")
	if got := walk.PythonArgs(); !reflect.DeepEqual(got, []string{"flags"}) {
		t.Errorf("walk arguments = %v, want [flags]", got)
	}
	diags := p.Module().Diagnostics(1)
	if len(diags) != 1 || diags[0].Kind != KindUnknownType || diags[0].File != "test.h" {
		t.Fatalf("diagnostics = %v, want one unknown-type in test.h", diags)
	}
	if !strings.Contains(diags[0].Message, "mystery_t") {
		t.Errorf("message = %q, want the unknown spelling", diags[0].Message)
	}
}

func TestUnterminatedClass(t *testing.T) {
	p := parse(t, "CLASS(Img, Object)\n    int METHOD(Img, read);\n")
	if kinds := diagnosticKinds(p, 1); !reflect.DeepEqual(kinds, []string{KindUnterminated}) {
		t.Fatalf("diagnostics = %v, want [%s]", kinds, KindUnterminated)
	}
	if msg := p.Module().Diagnostics(1)[0].Message; msg != "input ends inside CLASS (depth 1)" {
		t.Errorf("message = %q", msg)
	}
}

func TestClassTypeUsableAfterDeclaration(t *testing.T) {
	p := parse(t, `CLASS(Img, Object)
END_CLASS

CLASS(Fs, Object)
    Img img;
    Fs METHOD(Fs, Con, Img img, int offset);
END_CLASS
`)
	fs := classOf(t, p, "Fs")
	if len(fs.Constructor.Args) != 2 || fs.Constructor.Args[0].Kind() != "Wrapper" {
		t.Errorf("constructor args = %v, want an Img wrapper first", fs.Constructor.Args)
	}
	if attrs := fs.Getattr.Attributes(p.Module()); len(attrs) != 1 {
		t.Errorf("attributes = %d, want 1", len(attrs))
	}
}

func TestUndeclaredBaseIsNotADiagnostic(t *testing.T) {
	p := parse(t, `CLASS(Foo, Obj)
    int METHOD(Foo, Bar, IN int, x);
END_CLASS
`)
	foo := classOf(t, p, "Foo")
	if got := methodNames(foo); !reflect.DeepEqual(got, []string{"Bar"}) {
		t.Errorf("methods = %v, want [Bar]", got)
	}
	if got := p.Module().Diagnostics(-1); len(got) != 0 {
		t.Errorf("diagnostics = %v, want none", got)
	}
}

func TestTypedefKeepsBuiltinType(t *testing.T) {
	p := parse(t, `typedef char * ZString;
typedef uint64_t TSK_DADDR_T;

CLASS(Fs, Object)
    int METHOD(Fs, open_dir, ZString path, uint64_t inode);
    int METHOD(Fs, seek, TSK_DADDR_T block);
END_CLASS
`)
	fs := classOf(t, p, "Fs")
	openDir, ok := fs.Method("open_dir")
	if !ok {
		t.Fatalf("methods = %v, want open_dir", methodNames(fs))
	}
	if len(openDir.Args) != 2 || openDir.Args[0].Kind() != "ZString" {
		t.Fatalf("open_dir args = %v, want a ZString then an integer", openDir.Args)
	}
	if got := openDir.Format(); got != "sO" {
		t.Errorf("Format() = %q, want %q", got, "sO")
	}
	if got := openDir.PythonArgs(); !reflect.DeepEqual(got, []string{"path", "inode"}) {
		t.Errorf("PythonArgs() = %v, want [path inode]", got)
	}
	if seek, ok := fs.Method("seek"); !ok || seek.Args[0].Kind() != "Integer64Unsigned" {
		t.Errorf("seek = %v, want a uint64_t argument", seek)
	}
}
