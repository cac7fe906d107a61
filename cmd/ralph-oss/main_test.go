package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/raymyers/ralph-oss/pkg/diag"
)

const taskProgram = `void f(void) {
  int x = 0;
#pragma oss task inout(x) label("bump")
  x++;
#pragma oss taskwait
}
`

// writeSource writes an already preprocessed file so no C compiler is
// needed to run the pipeline
func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(args ...string) (string, string, error) {
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(normalizeFlags(args))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestVersion(t *testing.T) {
	if version == "" {
		t.Error("version should not be empty")
	}
}

func TestFlagsExist(t *testing.T) {
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)

	expectedFlags := []string{
		"dparse", "dll", "dtasks", "dc",
		"output", "config", "disable-checks", "print-verbosity", "jobs", "log-level", "no-color",
		"include", "define", "undefine", "preprocess",
	}
	for _, flagName := range expectedFlags {
		if cmd.Flags().Lookup(flagName) == nil {
			t.Errorf("expected flag --%s to exist", flagName)
		}
	}
}

func TestDebugFlagsWarnAndExit(t *testing.T) {
	_, errOut, err := execute("-dc", "test.c")
	if !errors.Is(err, ErrNotImplemented) {
		t.Errorf("expected ErrNotImplemented, got %v", err)
	}
	if !strings.Contains(errOut, "-dc") || !strings.Contains(errOut, "not yet implemented") {
		t.Errorf("unexpected warning %q", errOut)
	}
}

func TestNoArgsShowsHelp(t *testing.T) {
	out, _, err := execute()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "ralph-oss") {
		t.Errorf("expected usage, got %q", out)
	}
}

func TestNormalizeFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"dump flags", []string{"-dparse", "-dll", "-dtasks", "a.c"}, []string{"--dparse", "--dll", "--dtasks", "a.c"}},
		{"already double", []string{"--dparse", "a.c"}, []string{"--dparse", "a.c"}},
		{"short flags untouched", []string{"-o", "x.ll", "-I", "inc", "a.c"}, []string{"-o", "x.ll", "-I", "inc", "a.c"}},
		{"unknown single dash", []string{"-dfoo"}, []string{"-dfoo"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, normalizeFlags(tt.args)); diff != "" {
				t.Errorf("normalizeFlags mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUnderscoreFlags(t *testing.T) {
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	if err := cmd.ParseFlags([]string{"--disable_checks", "--print_verbosity=task,uses"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if !disableChecks {
		t.Error("--disable_checks was not applied")
	}
	if diff := cmp.Diff([]string{"task", "uses"}, printVerbosity); diff != "" {
		t.Errorf("print verbosity mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileWritesModule(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "prog.i", taskProgram)

	if _, errOut, err := execute("--no-color", path); err != nil {
		t.Fatalf("compile failed: %v\n%s", err, errOut)
	}
	data, err := os.ReadFile(filepath.Join(dir, "prog.ll"))
	if err != nil {
		t.Fatalf("output not written: %v", err)
	}
	for _, want := range []string{"@nanos6_create_task(", "@nanos6_submit_task(", "@nanos6_taskwait("} {
		if !strings.Contains(string(data), want) {
			t.Errorf("expected %q in output:\n%s", want, data)
		}
	}
}

func TestOutputFlag(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "prog.i", taskProgram)
	target := filepath.Join(dir, "custom.ll")

	if _, _, err := execute("-o", target, path); err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Errorf("expected %s: %v", target, err)
	}

	out, _, err := execute("-o", "-", path)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if !strings.Contains(out, "define void @f()") {
		t.Errorf("expected module on stdout, got:\n%s", out)
	}
}

func TestOutputFlagMultipleFiles(t *testing.T) {
	dir := t.TempDir()
	a := writeSource(t, dir, "a.i", taskProgram)
	b := writeSource(t, dir, "b.i", "void g(void) { }\n")
	if _, _, err := execute("-o", filepath.Join(dir, "x.ll"), a, b); err == nil {
		t.Error("expected an error for -o with several files")
	}
}

func TestMultipleFilesInParallel(t *testing.T) {
	dir := t.TempDir()
	var files []string
	for _, name := range []string{"a.i", "b.i", "c.i"} {
		files = append(files, writeSource(t, dir, name, taskProgram))
	}
	args := append([]string{"-j", "2"}, files...)
	if _, errOut, err := execute(args...); err != nil {
		t.Fatalf("compile failed: %v\n%s", err, errOut)
	}
	for _, name := range []string{"a.ll", "b.ll", "c.ll"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
}

func TestDumpFlags(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "prog.i", taskProgram)

	if _, errOut, err := execute("-dparse", "-dll", "-dtasks", path); err != nil {
		t.Fatalf("compile failed: %v\n%s", err, errOut)
	}
	tests := []struct {
		file string
		want string
	}{
		{"prog.parsed.c", "#pragma oss task"},
		{"prog.oss.ll", "llvm.directive.region.entry"},
		{"prog.tasks", "dep INOUT x"},
		{"prog.ll", "@nanos6_create_task("},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			data, err := os.ReadFile(filepath.Join(dir, tt.file))
			if err != nil {
				t.Fatalf("dump not written: %v", err)
			}
			if !strings.Contains(string(data), tt.want) {
				t.Errorf("expected %q in %s:\n%s", tt.want, tt.file, data)
			}
		})
	}
}

func TestPrintVerbosityToStdout(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "prog.i", taskProgram)

	out, _, err := execute("--print-verbosity", "task", path)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if !strings.Contains(out, `label "bump"`) {
		t.Errorf("expected the analysis dump on stdout, got:\n%s", out)
	}
}

func TestCompileErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"syntax", "void f(void) { int x = ; }\n", "Syntax Error"},
		{"undeclared", "void f(void) { y = 1; }\n", "use of undeclared identifier 'y'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeSource(t, dir, tt.name+".i", tt.src)
			_, errOut, err := execute("--no-color", path)
			if !errors.Is(err, ErrCompileFailed) {
				t.Fatalf("expected ErrCompileFailed, got %v", err)
			}
			if !strings.Contains(errOut, tt.want) {
				t.Errorf("expected %q in diagnostics:\n%s", tt.want, errOut)
			}
			if !strings.Contains(errOut, "Compilation failed.") {
				t.Errorf("expected the closing summary:\n%s", errOut)
			}
			if _, err := os.Stat(filepath.Join(dir, tt.name+".ll")); err == nil {
				t.Error("no output should be written for a failing file")
			}
		})
	}
}

func TestMissingFile(t *testing.T) {
	_, errOut, err := execute("--no-color", filepath.Join(t.TempDir(), "missing.i"))
	if !errors.Is(err, ErrCompileFailed) {
		t.Fatalf("expected ErrCompileFailed, got %v", err)
	}
	if !strings.Contains(errOut, "Fatal Error") {
		t.Errorf("expected a fatal error report:\n%s", errOut)
	}
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	if err := os.Mkdir(outDir, 0755); err != nil {
		t.Fatal(err)
	}
	path := writeSource(t, dir, "prog.i", taskProgram)

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"yaml", "ralph.yaml", "output:\n  dir: " + outDir + "\nlowering:\n  task_align: 32\n"},
		{"toml", "ralph.toml", "[output]\ndir = \"" + outDir + "\"\n[lowering]\ntask-align = 32\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeSource(t, dir, tt.file, tt.content)
			if _, errOut, err := execute("--config", cfgPath, path); err != nil {
				t.Fatalf("compile failed: %v\n%s", err, errOut)
			}
			data, err := os.ReadFile(filepath.Join(outDir, "prog.ll"))
			if err != nil {
				t.Fatalf("output not written to the configured directory: %v", err)
			}
			if !strings.Contains(string(data), "align 32") {
				t.Errorf("task alignment from config not applied:\n%s", data)
			}
		})
	}
}

func TestInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeSource(t, dir, "bad.yaml", "lowering:\n  args_align: 12\n")
	path := writeSource(t, dir, "prog.i", taskProgram)
	if _, _, err := execute("--config", cfgPath, path); err == nil {
		t.Error("expected an error for a non power of two alignment")
	}
	if _, _, err := execute("--log-level", "loud", path); err == nil {
		t.Error("expected an error for an unknown log level")
	}
	if _, _, err := execute("-j", "0", path); err == nil {
		t.Error("expected an error for zero jobs")
	}
}

func TestLogLevelVerbose(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "prog.i", taskProgram)
	_, errOut, err := execute("--no-color", "--log-level", "verbose", path)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	for _, phase := range []string{"parse", "check", "generate", "analyze", "lower"} {
		if !strings.Contains(errOut, phase) {
			t.Errorf("expected phase %q in progress output:\n%s", phase, errOut)
		}
	}
	if !strings.Contains(errOut, "All done!") {
		t.Errorf("expected the closing summary:\n%s", errOut)
	}
}

func TestSyntaxDiagnostics(t *testing.T) {
	got := syntaxDiagnostics([]string{"line 3, col 7: expected ';'", "unexpected end of input"})
	if len(got) != 2 {
		t.Fatalf("expected 2 diagnostics, got %d", len(got))
	}
	if got[0].Loc.Line != 3 || got[0].Loc.Col != 7 || got[0].Message() != "expected ';'" {
		t.Errorf("unexpected first diagnostic %v", got[0])
	}
	if got[1].Kind != diag.Syntax || got[1].Message() != "unexpected end of input" {
		t.Errorf("unexpected second diagnostic %v", got[1])
	}
}
