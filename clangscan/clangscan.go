// Package clangscan runs libclang over the headers before they are parsed.
// It collects compiler diagnostics, the headers each file includes and the
// values of enum constants, which the lexer based parser cannot compute.
package clangscan

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-clang/clang-v13/clang"

	"classbindgen/bindgen"
	"classbindgen/logger"
)

// Report is what libclang saw in one header.
type Report struct {
	File        string
	Diagnostics []string
	Includes    []string
	EnumValues  map[string]int64

	// Errors counts the diagnostics of error severity or worse.
	Errors int
}

// Apply records the enum values in m so generated enum docstrings show them.
func (r *Report) Apply(m *bindgen.Module) {
	for name, value := range r.EnumValues {
		m.AnnotateEnumValue(name, value)
	}
}

type Scanner struct {
	// Args are passed to clang, typically -I and -D options.
	Args []string
	log  *slog.Logger

	processedCursors map[clang.Cursor]bool
}

func New(args []string, log *slog.Logger) *Scanner {
	return &Scanner{Args: args, log: logger.OrDiscard(log)}
}

// ScanFile parses filename with libclang.
func (s *Scanner) ScanFile(filename string) (*Report, error) {
	s.log.Debug("scanning header", "file", filename)

	// Parse the header through a temporary C file including it
	tempFile := filename + "_temp.c"
	tempContent := fmt.Sprintf("#include \"%s\"\n", filepath.Base(filename))

	if err := os.WriteFile(tempFile, []byte(tempContent), 0644); err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tempFile)

	idx := clang.NewIndex(0, 0)
	defer idx.Dispose()

	tu := idx.ParseTranslationUnit(tempFile, s.Args, nil, uint32(clang.TranslationUnit_DetailedPreprocessingRecord))
	if tu == (clang.TranslationUnit{}) {
		return nil, fmt.Errorf("failed to parse translation unit for %s", filename)
	}
	defer tu.Dispose()

	report := &Report{
		File:       filename,
		EnumValues: make(map[string]int64),
	}

	for _, d := range tu.Diagnostics() {
		report.Diagnostics = append(report.Diagnostics, formatDiagnostic(d))
		if sev := d.Severity(); sev == clang.Diagnostic_Error || sev == clang.Diagnostic_Fatal {
			report.Errors++
		}
		d.Dispose()
	}

	s.processedCursors = make(map[clang.Cursor]bool)
	s.visitCursor(tu.TranslationUnitCursor(), report, 0)

	s.log.Debug("scanned header", "file", filename,
		"diagnostics", len(report.Diagnostics), "includes", len(report.Includes), "enum_values", len(report.EnumValues))
	return report, nil
}

func formatDiagnostic(d clang.Diagnostic) string {
	severity := "note"
	switch d.Severity() {
	case clang.Diagnostic_Fatal:
		severity = "fatal"
	case clang.Diagnostic_Error:
		severity = "error"
	case clang.Diagnostic_Warning:
		severity = "warning"
	}

	file, line, column, _ := d.Location().FileLocation()
	if file == (clang.File{}) {
		return fmt.Sprintf("%s: %s", severity, d.Spelling())
	}
	return fmt.Sprintf("%s: %s:%d:%d: %s", severity, file.Name(), line, column, d.Spelling())
}

// visitCursor walks the AST collecting includes and enum constants.
func (s *Scanner) visitCursor(cursor clang.Cursor, report *Report, depth int) {
	// Skip system headers
	if cursor.Location().IsInSystemHeader() {
		return
	}

	if s.processedCursors[cursor] {
		return
	}
	s.processedCursors[cursor] = true

	switch cursor.Kind() {
	case clang.Cursor_InclusionDirective:
		report.Includes = append(report.Includes, cursor.Spelling())
	case clang.Cursor_EnumDecl:
		s.handleEnumDecl(cursor, report, depth)
		return
	}

	cursor.Visit(func(cursor, parent clang.Cursor) clang.ChildVisitResult {
		s.visitCursor(cursor, report, depth+1)
		return clang.ChildVisit_Continue
	})
}

func (s *Scanner) handleEnumDecl(cursor clang.Cursor, report *Report, depth int) {
	s.log.Debug("found enum", "name", cursor.Spelling(), "depth", depth)

	cursor.Visit(func(cursor, parent clang.Cursor) clang.ChildVisitResult {
		if cursor.Kind() == clang.Cursor_EnumConstantDecl {
			report.EnumValues[cursor.Spelling()] = cursor.EnumConstantDeclValue()
		}
		return clang.ChildVisit_Continue
	})
}
