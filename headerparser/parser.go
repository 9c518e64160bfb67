// Package headerparser reads annotated C headers into a bindgen.Module.
//
// Headers are scanned with a fixed lexer table rather than a C front end:
// only the CLASS/METHOD/END_CLASS class language, plain structs and enums,
// #define constants, simple typedefs and the BIND_STRUCT and PROXY_CLASS
// directives are recognised. Everything else is skipped.
package headerparser

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"classbindgen/bindgen"
	"classbindgen/lexer"
	"classbindgen/logger"
)

// ErrUndefinedBase is returned when PROXY_CLASS names a class that has not
// been declared yet.
var ErrUndefinedBase = errors.New("proxied class is not defined")

// Diagnostic kinds reported to the module.
const (
	KindUnknownType  = "unknown-type"
	KindDirective    = "directive"
	KindUnterminated = "unterminated"
)

const seed = "// Base object\nCLASS(Object, Obj)\nEND_CLASS\n"

var rules = []lexer.Rule{
	{"INITIAL", `#define\s+`, "PUSH_STATE", "DEFINE"},
	{"DEFINE", `(\w+)[ \t]+\S[^\n]*`, "DEFINE,POP_STATE", ""},
	// Macros with arguments are ignored.
	{"DEFINE", `\w+\([^\n]*`, "POP_STATE", ""},
	{"DEFINE", `\w+[ \t]*`, "SPACE", ""},
	{"DEFINE", `\r?\n`, "POP_STATE", ""},
	{"DEFINE", `[^\n]+`, "POP_STATE", ""},

	{".", `/\*\*?`, "PUSH_STATE", "COMMENT"},
	{"COMMENT", `(.*?)\*/`, "COMMENT_END,POP_STATE", ""},
	{"COMMENT", `(.+)`, "COMMENT", ""},
	{".", `//([^\n]*)`, "COMMENT", ""},

	// An empty line clears the current comment.
	{".", `[ \t]*\r?\n[ \t]*\r?\n`, "CLEAR_COMMENT", ""},

	{".", `\s+`, "SPACE", ""},
	{".", `\\\r?\n`, "SPACE", ""},

	{"INITIAL", `(?:([A-Z]+)\s+)?C?CLASS\(\s*(\w+)\s*,\s*(\w+)\s*\)`, "PUSH_STATE,CLASS_START", "CLASS"},
	{"CLASS", `END_C?CLASS\b`, "END_CLASS,POP_STATE", ""},
	{"CLASS", `(?:(FOREIGN|ABSTRACT|PRIVATE)\s+)?(\w[\w \*]*[ \*])METHOD\(\s*(\w+)\s*,\s*(\w+)\s*,?`, "PUSH_STATE,METHOD_START", "METHOD"},
	{"METHOD", `\)\s*;`, "POP_STATE,METHOD_END", ""},
	{"METHOD", `([\w ]*\w(?:\s*\*+\s*|\s+))(\w+)\s*,?`, "METHOD_ARG", ""},
	// The second half of the "IN int, name" spelling.
	{"METHOD", `(\w+)\s*,?`, "METHOD_ARG_NAME", ""},
	{"CLASS", `(?:(FOREIGN|ABSTRACT|PRIVATE)\s+)?([\w ]*\w(?:\s*\*+\s*|\s+))(\w+)\s*;`, "CLASS_ATTRIBUTE", ""},

	{"INITIAL", `(?:(\w[\w ]*?)\s+)?struct\s+(\w+)\s*\{`, "PUSH_STATE,STRUCT_START", "STRUCT"},
	{"INITIAL", `typedef\s+struct\s*\{`, "PUSH_STATE,TYPEDEF_STRUCT_START", "STRUCT"},

	// Nested struct and union bodies are skipped.
	{"(RECURSIVE_)?STRUCT", `(?:struct|union)\s*\w*\s*\{`, "PUSH_STATE", "RECURSIVE_STRUCT"},
	{"RECURSIVE_STRUCT", `\}[^;{}]*;`, "POP_STATE", ""},
	{"RECURSIVE_STRUCT", `[^{}\s]+`, "SPACE", ""},

	{"STRUCT", `([\w ]*\w(?:\s*\*+\s*|\s+))(\w+)\s*(?:\[\s*(\w+)\s*\])?\s*;`, "STRUCT_ATTRIBUTE", ""},
	// Function pointers.
	{"STRUCT", `[^;{}()]*\([^;{}]*;`, "SPACE", ""},
	{"STRUCT", `\}\s*(\w+)\s*;`, "POP_STATE,TYPEDEF_STRUCT_END", ""},
	{"STRUCT", `\}\s*;?`, "POP_STATE,STRUCT_END", ""},

	{"INITIAL", `enum\s+(\w+)\s*\{`, "PUSH_STATE,ENUM_START", "ENUM"},
	{"INITIAL", `typedef\s+enum\s*\{`, "PUSH_STATE,TYPEDEF_ENUM_START", "ENUM"},
	{"INITIAL", `typedef\s+enum\s+(\w+)\s*\{`, "PUSH_STATE,ENUM_START", "ENUM"},
	{"ENUM", `(\w+)\s*=[^,}]*,?`, "ENUM_VALUE", ""},
	{"ENUM", `(\w+)\s*,?`, "ENUM_VALUE", ""},
	{"ENUM", `\}\s*(\w+)\s*;`, "POP_STATE,TYPEDEFED_ENUM_END", ""},
	{"ENUM", `\}\s*;?`, "POP_STATE,ENUM_END", ""},

	{"INITIAL", `BIND_STRUCT\(([\w \*]+)\)`, "BIND_STRUCT", ""},
	{"INITIAL", `PROXY_CLASS\((\w+)\)`, "PROXY_CLASS", ""},

	// A simple typedef of one type for another type.
	{"INITIAL", `typedef\s+(\w[\w ]*?(?:\s*\*+)?)\s*\b(\w+)\s*;`, "SIMPLE_TYPEDEF", ""},

	{"INITIAL", `\w+|[^\w\s]`, "SPACE", ""},
}

type Options struct {
	// Base is stripped from header paths recorded in the module.
	Base string
	Log  *slog.Logger
}

// pendingMethod collects a METHOD() declaration until its closing ");".
type pendingMethod struct {
	offset   int
	modifier string
	ret      string
	name     string
	doc      string
	args     []rawArg
}

type rawArg struct {
	spelling string
	name     string
}

// Parser feeds headers into a module. The same Parser is used for both
// passes so that declarations seen late in pass one resolve in pass two.
type Parser struct {
	module *bindgen.Module
	opts   Options
	log    *slog.Logger

	pass        int
	file        string
	err         error
	lexerErrors int

	comment string
	class   *bindgen.ClassGenerator
	method  *pendingMethod
	strct   *bindgen.StructGenerator
	enum    *bindgen.Enum
}

// New returns a parser for module, already holding the Object root class.
func New(module *bindgen.Module, opts Options) *Parser {
	p := &Parser{
		module: module,
		opts:   opts,
		log:    logger.OrDiscard(opts.Log),
	}
	if err := p.Parse("<builtin>", strings.NewReader(seed)); err != nil {
		panic(err)
	}
	p.pass = 1
	return p
}

func (p *Parser) Module() *bindgen.Module { return p.module }

// Pass is the pass number diagnostics are currently recorded under.
func (p *Parser) Pass() int { return p.pass }

// LexerErrors counts the bytes discarded while scanning.
func (p *Parser) LexerErrors() int { return p.lexerErrors }

func (p *Parser) handlers() map[string]lexer.Handler {
	return map[string]lexer.Handler{
		"SPACE":                func(string, *lexer.Match) string { return "" },
		"COMMENT":              p.onComment,
		"COMMENT_END":          p.onCommentEnd,
		"CLEAR_COMMENT":        p.onClearComment,
		"DEFINE":               p.onDefine,
		"CLASS_START":          p.onClassStart,
		"METHOD_START":         p.onMethodStart,
		"METHOD_ARG":           p.onMethodArg,
		"METHOD_ARG_NAME":      p.onMethodArgName,
		"METHOD_END":           p.onMethodEnd,
		"CLASS_ATTRIBUTE":      p.onClassAttribute,
		"END_CLASS":            p.onEndClass,
		"STRUCT_START":         p.onStructStart,
		"TYPEDEF_STRUCT_START": p.onTypedefStructStart,
		"STRUCT_ATTRIBUTE":     p.onStructAttribute,
		"STRUCT_END":           p.onStructEnd,
		"TYPEDEF_STRUCT_END":   p.onTypedefStructEnd,
		"ENUM_START":           p.onEnumStart,
		"TYPEDEF_ENUM_START":   p.onTypedefEnumStart,
		"ENUM_VALUE":           p.onEnumValue,
		"ENUM_END":             p.onEnumEnd,
		"TYPEDEFED_ENUM_END":   p.onTypedefedEnumEnd,
		"BIND_STRUCT":          p.onBindStruct,
		"SIMPLE_TYPEDEF":       p.onSimpleTypedef,
		"PROXY_CLASS":          p.onProxyClass,
	}
}

// Parse scans one header. name is used in diagnostics only.
func (p *Parser) Parse(name string, r io.Reader) error {
	p.file = name
	p.err = nil
	p.comment = ""
	p.class, p.method, p.strct, p.enum = nil, nil, nil, nil

	lex, err := lexer.New(rules, p.handlers(), p.log)
	if err != nil {
		return err
	}
	if err := lex.ParseReader(r); err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}

	if n := lex.Errors(); n > 0 {
		p.lexerErrors += n
		p.log.Debug("lexer recovered from unrecognised input", "file", name, "pass", p.pass, "errors", n)
	}
	if lex.State() != lexer.InitialState {
		p.report(lex.Processed(), KindUnterminated, fmt.Sprintf("input ends inside %s (depth %d)", lex.State(), lex.Depth()))
	}
	if p.err != nil {
		return fmt.Errorf("parsing %s: %w", name, p.err)
	}
	return nil
}

func (p *Parser) ParseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open header: %w", err)
	}
	defer f.Close()
	return p.Parse(path, f)
}

// ParseFilenames parses every header twice. Headers are recorded in the
// module after their first parse.
func (p *Parser) ParseFilenames(paths []string) error {
	for pass := 1; pass <= 2; pass++ {
		p.pass = pass
		for _, path := range paths {
			if err := p.ParseFile(path); err != nil {
				return err
			}
			if pass == 1 {
				p.module.AddFile(path, p.opts.Base)
			}
		}
		p.log.Debug("pass complete", "pass", pass, "diagnostics", len(p.module.Diagnostics(pass)))
	}
	return nil
}

func (p *Parser) report(offset int, kind, message string) {
	if p.pass == 0 {
		return
	}
	p.module.Report(bindgen.Diagnostic{
		Pass:    p.pass,
		File:    p.file,
		Offset:  offset,
		Kind:    kind,
		Message: message,
	})
}

func (p *Parser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

// takeComment returns the pending docstring and clears it.
func (p *Parser) takeComment() string {
	c := p.comment
	p.comment = ""
	return c
}

func (p *Parser) onComment(_ string, m *lexer.Match) string {
	p.comment += m.Group(1) + "\n"
	return ""
}

func (p *Parser) onCommentEnd(_ string, m *lexer.Match) string {
	p.comment += m.Group(1)
	return ""
}

func (p *Parser) onClearComment(string, *lexer.Match) string {
	p.comment = ""
	return ""
}

func (p *Parser) onDefine(_ string, m *lexer.Match) string {
	line, _, _ := strings.Cut(m.Text, "/*")
	kind := bindgen.IntegerConstant
	if strings.Contains(line, `"`) {
		kind = bindgen.StringConstant
	}
	p.module.AddConstant(m.Group(1), kind)
	return ""
}

func (p *Parser) onClassStart(_ string, m *lexer.Match) string {
	name := strings.TrimSpace(m.Group(2))
	baseName := strings.TrimSpace(m.Group(3))

	var cls *bindgen.ClassGenerator
	if g, ok := p.module.Class(baseName); ok {
		if base, ok := g.(*bindgen.ClassGenerator); ok {
			cls = base.Derive(name)
		}
	}
	if cls == nil {
		p.log.Debug("base class is not defined, nothing inherited", "class", name, "base", baseName, "pass", p.pass)
		cls = p.module.NewClass(name, baseName)
	}

	cls.Docstring = p.takeComment()
	if mod := m.Group(1); mod != "" {
		cls.Modifiers.Add(mod)
	}
	p.module.AddClass(cls)
	p.class = cls
	return ""
}

func (p *Parser) onMethodStart(_ string, m *lexer.Match) string {
	p.method = nil
	modifier := m.Group(1)
	doc := p.takeComment()
	if p.class == nil || strings.Contains(modifier, bindgen.ModifierPrivate) {
		return ""
	}
	p.method = &pendingMethod{
		offset:   m.Offset,
		modifier: modifier,
		ret:      strings.TrimSpace(m.Group(2)),
		name:     strings.TrimSpace(m.Group(4)),
		doc:      doc,
	}
	return ""
}

func (p *Parser) onMethodArg(_ string, m *lexer.Match) string {
	if p.method != nil {
		p.method.args = append(p.method.args, rawArg{
			spelling: strings.TrimSpace(m.Group(1)),
			name:     strings.TrimSpace(m.Group(2)),
		})
	}
	return ""
}

// onMethodArgName completes an argument whose type and name were written
// as separate list items, as in "IN int, offset".
func (p *Parser) onMethodArgName(_ string, m *lexer.Match) string {
	if p.method == nil || len(p.method.args) == 0 {
		return ""
	}
	last := &p.method.args[len(p.method.args)-1]
	last.spelling = last.spelling + " " + last.name
	last.name = strings.TrimSpace(m.Group(1))
	return ""
}

func (p *Parser) onMethodEnd(string, *lexer.Match) string {
	pm := p.method
	p.method = nil
	if pm == nil || p.class == nil {
		return ""
	}
	cls := p.class
	reg := p.module.Registry()

	kind := bindgen.Classify(cls.Name(), pm.name, pm.ret)
	meth, err := bindgen.NewMethod(reg, kind, cls.Name(), cls.BaseName(), pm.name, pm.ret)
	if err != nil {
		p.report(pm.offset, KindUnknownType, fmt.Sprintf("%s.%s returns unknown type: %v", cls.Name(), pm.name, err))
	}
	meth.Modifier = pm.modifier

	for _, a := range pm.args {
		if err := meth.AddArg(reg, a.name, a.spelling); err != nil {
			p.report(pm.offset, KindUnknownType, fmt.Sprintf("dropping argument: %v", err))
		}
	}
	if err := meth.SetDocstring(pm.doc); err != nil {
		p.report(pm.offset, KindDirective, fmt.Sprintf("%s.%s: %v", cls.Name(), pm.name, err))
	}

	if kind == bindgen.KindConstructor {
		cls.Constructor = meth
	} else {
		cls.AddMethod(meth)
	}
	return ""
}

func (p *Parser) onClassAttribute(_ string, m *lexer.Match) string {
	modifier := m.Group(1)
	if p.class == nil || modifier == bindgen.ModifierPrivate {
		return ""
	}
	name := strings.TrimSpace(m.Group(3))
	if err := p.class.AddAttribute(name, strings.TrimSpace(m.Group(2)), modifier); err != nil {
		p.report(m.Offset, KindUnknownType, err.Error())
	}
	return ""
}

func (p *Parser) onEndClass(string, *lexer.Match) string {
	p.class = nil
	return ""
}

func (p *Parser) onStructStart(_ string, m *lexer.Match) string {
	p.strct = p.module.NewStruct(strings.TrimSpace(m.Group(2)))
	p.strct.Docstring = p.takeComment()
	return ""
}

func (p *Parser) onTypedefStructStart(string, *lexer.Match) string {
	p.strct = p.module.NewStruct("")
	p.strct.Docstring = p.takeComment()
	return ""
}

func (p *Parser) onStructAttribute(_ string, m *lexer.Match) string {
	if p.strct == nil {
		return ""
	}
	spelling := strings.TrimSpace(m.Group(1))
	name := strings.TrimSpace(m.Group(2))

	var err error
	if m.Has(3) {
		err = p.strct.AddArrayAttribute(name, spelling, strings.TrimSpace(m.Group(3)))
	} else {
		err = p.strct.AddAttribute(name, spelling, "")
	}
	if err != nil {
		p.report(m.Offset, KindUnknownType, err.Error())
	}
	return ""
}

func (p *Parser) onStructEnd(string, *lexer.Match) string {
	s := p.strct
	p.strct = nil
	if s == nil || s.Name() == "" {
		return ""
	}
	p.module.AddClass(s)
	return ""
}

func (p *Parser) onTypedefStructEnd(action string, m *lexer.Match) string {
	if p.strct != nil {
		p.strct.Rename(strings.TrimSpace(m.Group(1)))
	}
	return p.onStructEnd(action, m)
}

func (p *Parser) onEnumStart(_ string, m *lexer.Match) string {
	p.enum = p.module.NewEnum(strings.TrimSpace(m.Group(1)))
	p.enum.Docstring = p.takeComment()
	return ""
}

func (p *Parser) onTypedefEnumStart(string, *lexer.Match) string {
	p.enum = p.module.NewEnum("")
	p.enum.Docstring = p.takeComment()
	return ""
}

func (p *Parser) onEnumValue(_ string, m *lexer.Match) string {
	if p.enum != nil {
		p.enum.AddValue(m.Group(1))
	}
	return ""
}

func (p *Parser) onEnumEnd(string, *lexer.Match) string {
	e := p.enum
	p.enum = nil
	if e == nil || e.Name() == "" {
		return ""
	}
	p.module.AddClass(e)
	return ""
}

func (p *Parser) onTypedefedEnumEnd(action string, m *lexer.Match) string {
	if p.enum != nil {
		p.enum.Rename(strings.TrimSpace(m.Group(1)))
	}
	return p.onEnumEnd(action, m)
}

func (p *Parser) onBindStruct(_ string, m *lexer.Match) string {
	p.module.BindStruct(strings.TrimSpace(m.Group(1)))
	return ""
}

// onSimpleTypedef copies the type of an already known spelling. Spellings
// that are already registered keep their type.
func (p *Parser) onSimpleTypedef(_ string, m *lexer.Match) string {
	reg := p.module.Registry()
	old, _ := reg.Resolve(m.Group(1))
	alias := strings.TrimSpace(m.Group(2))
	if _, known := reg.Lookup(alias); known {
		p.log.Debug("typedef of a known type ignored", "type", old, "alias", alias)
		return ""
	}
	if !reg.Alias(alias, old) {
		p.log.Debug("typedef of unknown type ignored", "type", old, "alias", alias)
	}
	return ""
}

func (p *Parser) onProxyClass(_ string, m *lexer.Match) string {
	baseName := strings.TrimSpace(m.Group(1))
	g, ok := p.module.Class(baseName)
	base, isClass := g.(*bindgen.ClassGenerator)
	if !ok || !isClass {
		p.fail(fmt.Errorf("%w: PROXY_CLASS(%s) must follow the CLASS(%s) declaration", ErrUndefinedBase, baseName, baseName))
		return ""
	}

	proxy := base.NewProxyClass()
	proxy.Docstring = p.takeComment()
	p.module.AddClass(proxy)
	return ""
}
