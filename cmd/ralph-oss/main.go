package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/raymyers/ralph-oss/pkg/cabs"
	"github.com/raymyers/ralph-oss/pkg/config"
	"github.com/raymyers/ralph-oss/pkg/diag"
	"github.com/raymyers/ralph-oss/pkg/irgen"
	"github.com/raymyers/ralph-oss/pkg/lexer"
	"github.com/raymyers/ralph-oss/pkg/parser"
	"github.com/raymyers/ralph-oss/pkg/preproc"
	"github.com/raymyers/ralph-oss/pkg/sema"
	"github.com/raymyers/ralph-oss/pkg/tasklower"
	"github.com/raymyers/ralph-oss/pkg/taskregion"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

var version = "0.1.0"

// Debug flags for dumping intermediate results
var (
	dParse bool
	dLL    bool
	dTasks bool
	dC     bool
)

// Compilation options
var (
	outputFile     string
	configFile     string
	disableChecks  bool
	printVerbosity []string
	jobs           int
	logLevel       string
	noColor        bool
)

// Preprocessor options
var (
	includePaths   []string
	defineFlags    []string
	undefineFlags  []string
	preprocessOnly bool // -E flag
)

// debugFlagInfo holds metadata for a debug flag
type debugFlagInfo struct {
	flag *bool
	desc string
}

// debugFlags maps flag names to descriptions for unimplemented warnings
var debugFlags = map[string]debugFlagInfo{
	"dc": {&dC, "dump the checked C program"},
}

// ErrNotImplemented indicates a feature is not yet implemented
var ErrNotImplemented = errors.New("not yet implemented")

// ErrCompileFailed is returned when a file has errors. The diagnostics
// themselves have already been displayed.
var ErrCompileFailed = errors.New("compilation failed")

// checkDebugFlags checks if any unimplemented debug flags are set and returns an error
func checkDebugFlags(w io.Writer) error {
	for name, info := range debugFlags {
		if *info.flag {
			fmt.Fprintf(w, "ralph-oss: warning: -%s (%s) is not yet implemented\n", name, info.desc)
			return ErrNotImplemented
		}
	}
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	// single-dash dump flags are accepted like the C compiler drivers do
	rootCmd.SetArgs(normalizeFlags(os.Args[1:]))
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, ErrCompileFailed) && !errors.Is(err, ErrNotImplemented) {
			fmt.Fprintf(os.Stderr, "ralph-oss: %v\n", err)
		}
		return 1
	}
	return 0
}

// debugFlagNames lists the flags that also accept single-dash style
var debugFlagNames = []string{"dparse", "dll", "dtasks", "dc"}

// normalizeFlags converts single-dash flags like -dparse to --dparse
func normalizeFlags(args []string) []string {
	result := make([]string, len(args))
	for i, arg := range args {
		for _, flagName := range debugFlagNames {
			if arg == "-"+flagName {
				result[i] = "--" + flagName
				break
			}
		}
		if result[i] == "" {
			result[i] = arg
		}
	}
	return result
}

// underscoreFlags lets --disable_checks stand for --disable-checks, the
// spelling used by config files
func underscoreFlags(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ralph-oss [flags] file...",
		Short: "ralph-oss compiles OmpSs-2 annotated C to LLVM IR",
		Long: `ralph-oss compiles C programs annotated with OmpSs-2 task
pragmas to textual LLVM IR. Task regions are analyzed and outlined
into calls to the nanos6 runtime.`,
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkDebugFlags(errOut); err != nil {
				return err
			}

			if len(args) == 0 {
				cmd.Help()
				return nil
			}
			if outputFile != "" && outputFile != "-" && len(args) > 1 {
				return errors.New("cannot specify -o with multiple files")
			}

			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			logger := diag.NewLogger(errOut, diag.ParseLogLevel(cfg.Diagnostics.LogLevel), cfg.Diagnostics.Color)

			if preprocessOnly {
				return doPreprocessOnly(cmd.Context(), args, cfg, out, logger)
			}

			d := &driver{cfg: cfg, logger: logger, out: out}
			var g errgroup.Group
			g.SetLimit(jobs)
			for _, filename := range args {
				filename := filename
				g.Go(func() error {
					return d.compile(cmd.Context(), filename)
				})
			}
			err = g.Wait()
			logger.Finish()
			return err
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)
	rootCmd.Flags().SetNormalizeFunc(underscoreFlags)

	// Add debug flags
	rootCmd.Flags().BoolVarP(&dParse, "dparse", "", false, "Dump after parsing")
	rootCmd.Flags().BoolVarP(&dLL, "dll", "", false, "Dump LLVM IR before task lowering")
	rootCmd.Flags().BoolVarP(&dTasks, "dtasks", "", false, "Dump the task region analysis")
	rootCmd.Flags().BoolVarP(&dC, "dc", "", false, "Dump the checked C program")

	// Add compilation flags
	rootCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write output to `file` (- for stdout)")
	rootCmd.Flags().StringVar(&configFile, "config", "", "Read settings from a YAML or TOML `file`")
	rootCmd.Flags().BoolVar(&disableChecks, "disable-checks", false, "Report region consistency violations without failing")
	rootCmd.Flags().StringSliceVar(&printVerbosity, "print-verbosity", nil, "Analysis dumps to print: "+strings.Join(config.Verbosities, ", "))
	rootCmd.Flags().IntVarP(&jobs, "jobs", "j", runtime.NumCPU(), "Number of files compiled in parallel")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Diagnostic level: silent, error, warning or verbose")
	rootCmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored diagnostics")

	// Add preprocessor flags
	rootCmd.Flags().StringArrayVarP(&includePaths, "include", "I", nil, "Add directory to include search path")
	rootCmd.Flags().StringArrayVarP(&defineFlags, "define", "D", nil, "Define macro (NAME or NAME=VALUE)")
	rootCmd.Flags().StringArrayVarP(&undefineFlags, "undefine", "U", nil, "Undefine macro")
	rootCmd.Flags().BoolVarP(&preprocessOnly, "preprocess", "E", false, "Preprocess only, output to stdout")

	return rootCmd
}

// loadConfig reads the configuration file, if any, and applies the
// command line over it
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return nil, err
		}
	}
	if flags.Changed("disable-checks") {
		cfg.Analysis.DisableChecks = disableChecks
	}
	if flags.Changed("print-verbosity") {
		cfg.Analysis.PrintVerbosity = printVerbosity
	}
	if flags.Changed("log-level") {
		cfg.Diagnostics.LogLevel = logLevel
	}
	if noColor {
		cfg.Diagnostics.Color = false
	}
	cfg.Preprocess.Include = append(cfg.Preprocess.Include, includePaths...)
	cfg.Preprocess.Defines = append(cfg.Preprocess.Defines, defineFlags...)
	if jobs < 1 {
		return nil, fmt.Errorf("--jobs must be at least 1, got %d", jobs)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func preprocessOptions(cfg *config.Config) *preproc.Options {
	opts := preproc.FromConfig(cfg.Preprocess)
	opts.Undefines = undefineFlags
	return opts
}

// doPreprocessOnly runs the preprocessor and writes its output to stdout
func doPreprocessOnly(ctx context.Context, files []string, cfg *config.Config, out io.Writer, logger *diag.Logger) error {
	for _, filename := range files {
		content, err := preproc.Preprocess(ctx, filename, preprocessOptions(cfg))
		if err != nil {
			logger.Fatal(filename, err)
			return ErrCompileFailed
		}
		fmt.Fprint(out, content)
	}
	return nil
}

// driver compiles files concurrently; writes to out are serialized
type driver struct {
	cfg    *config.Config
	logger *diag.Logger
	out    io.Writer
	outMu  sync.Mutex
}

func (d *driver) print(content string) {
	d.outMu.Lock()
	defer d.outMu.Unlock()
	fmt.Fprint(d.out, content)
}

// compile runs every phase on one file and writes the lowered module
func (d *driver) compile(ctx context.Context, filename string) error {
	d.logger.Phase(filename, "parse")
	src, err := preproc.ReadSource(ctx, filename, preprocessOptions(d.cfg))
	if err != nil {
		d.logger.Fatal(filename, err)
		return ErrCompileFailed
	}

	p := parser.New(lexer.New(src))
	prog := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		d.logger.Report(filename, []byte(src), syntaxDiagnostics(errs))
		return ErrCompileFailed
	}
	if dParse {
		var buf bytes.Buffer
		cabs.NewPrinter(&buf).PrintProgram(prog)
		if err := d.writeDump(filename, ".parsed.c", buf.Bytes()); err != nil {
			return err
		}
	}

	d.logger.Phase(filename, "check")
	var diags diag.List
	info := sema.Check(prog, &diags)
	d.logger.Report(filename, []byte(src), diags.Sorted())
	if diags.HasErrors() {
		return ErrCompileFailed
	}

	d.logger.Phase(filename, "generate")
	unit, err := irgen.Generate(prog, info, filename)
	if err != nil {
		d.logger.Fatal(filename, err)
		return ErrCompileFailed
	}
	if dLL {
		if err := d.writeDump(filename, ".oss.ll", []byte(unit.Module.String())); err != nil {
			return err
		}
	}

	d.logger.Phase(filename, "analyze")
	var analysis bytes.Buffer
	opts := tasklower.DefaultOptions()
	opts.Lowering = d.cfg.Lowering
	opts.Analysis = taskregion.Options{
		DisableChecks: d.cfg.Analysis.DisableChecks,
		Print:         d.cfg.Analysis.PrintVerbosity,
		Out:           &analysis,
	}
	if dTasks && len(opts.Analysis.Print) == 0 {
		opts.Analysis.Print = config.Verbosities
	}
	if _, err := tasklower.Lower(unit, opts); err != nil {
		d.logger.Fatal(filename, err)
		return ErrCompileFailed
	}
	if dTasks {
		if err := d.writeDump(filename, ".tasks", analysis.Bytes()); err != nil {
			return err
		}
	} else if analysis.Len() > 0 {
		d.print(analysis.String())
	}
	d.logger.Phase(filename, "lower")

	return d.writeOutput(filename, unit.Module.String())
}

// writeDump writes a debug dump next to the output
func (d *driver) writeDump(filename, suffix string, content []byte) error {
	path := d.derivedPath(filename, suffix)
	if err := os.WriteFile(path, content, 0644); err != nil {
		d.logger.Fatal(filename, fmt.Errorf("writing %s: %w", path, err))
		return ErrCompileFailed
	}
	return nil
}

func (d *driver) writeOutput(filename, module string) error {
	if outputFile == "-" {
		d.print(module)
		return nil
	}
	path := outputFile
	if path == "" {
		path = d.derivedPath(filename, ".ll")
	}
	if err := os.WriteFile(path, []byte(module), 0644); err != nil {
		d.logger.Fatal(filename, fmt.Errorf("writing %s: %w", path, err))
		return ErrCompileFailed
	}
	return nil
}

// derivedPath replaces the extension of filename with suffix, placing the
// result in the configured output directory when there is one
func (d *driver) derivedPath(filename, suffix string) string {
	base := strings.TrimSuffix(filename, filepath.Ext(filename)) + suffix
	if d.cfg.Output.Dir != "" {
		return filepath.Join(d.cfg.Output.Dir, filepath.Base(base))
	}
	return base
}

// syntaxDiagnostics converts parser messages of the form
// "line L, col C: msg" into diagnostics
func syntaxDiagnostics(errs []string) []diag.Diagnostic {
	out := make([]diag.Diagnostic, 0, len(errs))
	for _, e := range errs {
		var loc cabs.Loc
		msg := e
		if _, err := fmt.Sscanf(e, "line %d, col %d:", &loc.Line, &loc.Col); err == nil {
			if i := strings.Index(e, ": "); i >= 0 {
				msg = e[i+2:]
			}
		}
		out = append(out, diag.Diagnostic{Loc: loc, Kind: diag.Syntax, Args: []any{msg}})
	}
	return out
}
