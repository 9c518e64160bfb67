package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-cz/textcase"

	"classbindgen/bindgen"
	"classbindgen/clangscan"
	"classbindgen/ctypes"
	"classbindgen/headerparser"
	"classbindgen/logger"
)

const usage = `Usage: classbindgen <header-file>... [options]
Options:
  -o, --output <file>     Output file (default: bindings.c)
  -m, --module <name>     Module name (default: derived from the output file)
  -free <function>        Function releasing native objects (default: aff4_free)
  -init <code>            C code run when the module is initialised
  -init-file <file>       Read the initialisation code from a file
  -base <dir>             Strip this directory from #include lines
  -clang                  Check the headers with libclang first
  -I <dir>                Include directory passed to libclang
  -unicode <name>         Export the string constant as str (repeatable)
  -strict                 Fail when declarations had to be skipped
  -v                      Verbose logging
  -log-format <fmt>       Log format: text or json
  -h, --help              Show this help message`

type config struct {
	headers    []string
	output     string
	module     string
	free       string
	initString string
	initFile   string
	base       string
	clang      bool
	includes   []string
	unicode    []string
	strict     bool
	verbose    bool
	logFormat  string
}

// moduleName derives a Python module name from the output file name.
func moduleName(output string) string {
	base := filepath.Base(output)
	return textcase.SnakeCase(strings.TrimSuffix(base, filepath.Ext(base)))
}

func parseArgs(args []string) (*config, error) {
	cfg := &config{
		output:    "bindings.c",
		free:      bindgen.DefaultFree,
		logFormat: "text",
	}

	next := func(i *int, flag string) (string, error) {
		if *i+1 >= len(args) {
			return "", fmt.Errorf("%s needs a value", flag)
		}
		*i++
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		var err error
		switch arg := args[i]; arg {
		case "-o", "--output":
			cfg.output, err = next(&i, arg)
		case "-m", "--module":
			cfg.module, err = next(&i, arg)
		case "-free":
			cfg.free, err = next(&i, arg)
		case "-init":
			cfg.initString, err = next(&i, arg)
		case "-init-file":
			cfg.initFile, err = next(&i, arg)
		case "-base":
			cfg.base, err = next(&i, arg)
		case "-clang":
			cfg.clang = true
		case "-I":
			var dir string
			dir, err = next(&i, arg)
			cfg.includes = append(cfg.includes, dir)
		case "-unicode":
			var name string
			name, err = next(&i, arg)
			cfg.unicode = append(cfg.unicode, name)
		case "-strict":
			cfg.strict = true
		case "-v":
			cfg.verbose = true
		case "-log-format":
			cfg.logFormat, err = next(&i, arg)
		default:
			if strings.HasPrefix(arg, "-") {
				return nil, fmt.Errorf("unknown option %s", arg)
			}
			cfg.headers = append(cfg.headers, arg)
		}
		if err != nil {
			return nil, err
		}
	}

	if len(cfg.headers) == 0 {
		return nil, fmt.Errorf("no header files given")
	}
	if cfg.module == "" {
		cfg.module = moduleName(cfg.output)
	}
	if cfg.unicode == nil {
		cfg.unicode = []string{"TSK_VERSION_STR"}
	}
	return cfg, nil
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-h" || arg == "--help" {
			fmt.Println("classbindgen - Generate Python extension modules from annotated C headers")
			fmt.Println(usage)
			os.Exit(0)
		}
	}

	cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		fmt.Println(usage)
		os.Exit(1)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Format = cfg.logFormat
	if cfg.verbose {
		logCfg.Level = logger.LevelDebug
	}
	log, closeLog, err := logger.New(logCfg)
	if err != nil {
		fmt.Printf("Error setting up logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	if cfg.initFile != "" {
		data, err := os.ReadFile(cfg.initFile)
		if err != nil {
			fmt.Printf("Error reading init file: %v\n", err)
			os.Exit(1)
		}
		cfg.initString = string(data)
	}

	module := bindgen.NewModule(bindgen.Options{
		Name:             cfg.module,
		InitString:       cfg.initString,
		Free:             cfg.free,
		UnicodeConstants: cfg.unicode,
		Registry:         ctypes.NewRegistry(),
		Log:              log,
	})

	if cfg.clang {
		var args []string
		for _, dir := range cfg.includes {
			args = append(args, "-I"+dir)
		}
		scanner := clangscan.New(args, log)
		for _, header := range cfg.headers {
			fmt.Printf("Checking header file: %s\n", header)
			report, err := scanner.ScanFile(header)
			if err != nil {
				fmt.Printf("Error checking header file: %v\n", err)
				os.Exit(1)
			}
			for _, d := range report.Diagnostics {
				log.Debug("libclang", "file", header, "diagnostic", d)
			}
			if report.Errors > 0 {
				log.Warn("libclang reported errors", "file", header, "errors", report.Errors, "includes", len(report.Includes))
			}
			report.Apply(module)
		}
	}

	parser := headerparser.New(module, headerparser.Options{Base: cfg.base, Log: log})
	fmt.Printf("Parsing header files: %s\n", strings.Join(cfg.headers, ", "))
	if err := parser.ParseFilenames(cfg.headers); err != nil {
		fmt.Printf("Error parsing header files: %v\n", err)
		os.Exit(1)
	}

	skipped := module.Diagnostics(2)
	for _, d := range skipped {
		fmt.Printf("Skipped: %s\n", d)
	}
	if cfg.strict && len(skipped) > 0 {
		fmt.Printf("Error: %d declarations could not be bound\n", len(skipped))
		os.Exit(1)
	}

	f, err := os.Create(cfg.output)
	if err != nil {
		fmt.Printf("Error creating output file: %v\n", err)
		os.Exit(1)
	}
	if err := module.Write(f); err != nil {
		f.Close()
		fmt.Printf("Error writing bindings file: %v\n", err)
		os.Exit(1)
	}
	if err := f.Close(); err != nil {
		fmt.Printf("Error writing bindings file: %v\n", err)
		os.Exit(1)
	}

	var classes, structs, enums int
	for _, g := range module.Classes() {
		if !g.Active() {
			continue
		}
		switch g.(type) {
		case *bindgen.ClassGenerator:
			classes++
		case *bindgen.StructGenerator:
			structs++
		case *bindgen.Enum:
			enums++
		}
	}

	fmt.Printf("Generated module %s: %s\n", cfg.module, cfg.output)
	fmt.Printf("Classes: %d\n", classes)
	fmt.Printf("Structs: %d\n", structs)
	fmt.Printf("Enums: %d\n", enums)
	fmt.Printf("Constants: %d\n", len(module.Constants()))
	fmt.Printf("Skipped declarations: %d\n", len(skipped))
	if n := parser.LexerErrors(); n > 0 {
		fmt.Printf("Unrecognised bytes: %d\n", n)
	}
}
