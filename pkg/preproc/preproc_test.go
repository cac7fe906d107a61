package preproc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/raymyers/ralph-oss/pkg/config"
)

func TestNeedsPreprocessing(t *testing.T) {
	tests := []struct {
		file string
		want bool
	}{
		{"a.c", true},
		{"dir/b.h", true},
		{"a.i", false},
		{"A.I", false},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			if got := NeedsPreprocessing(tt.file); got != tt.want {
				t.Errorf("NeedsPreprocessing(%q) = %v, want %v", tt.file, got, tt.want)
			}
		})
	}
}

func TestArgs(t *testing.T) {
	opts := FromConfig(config.Preprocess{Include: []string{"inc"}, Defines: []string{"N=4"}})
	opts.Undefines = []string{"DEBUG"}
	want := []string{"-E", "-dD", "-Iinc", "-DN=4", "-UDEBUG", "x.c"}
	if diff := cmp.Diff(want, opts.Args("x.c")); diff != "" {
		t.Errorf("Args mismatch (-want +got):\n%s", diff)
	}

	var none *Options
	if diff := cmp.Diff([]string{"-E", "-dD", "x.c"}, none.Args("x.c")); diff != "" {
		t.Errorf("nil options mismatch (-want +got):\n%s", diff)
	}
}

func TestMissingCommand(t *testing.T) {
	_, err := Preprocess(context.Background(), "x.c", &Options{Command: filepath.Join(t.TempDir(), "no-such-cc")})
	if err == nil {
		t.Fatal("expected an error for a missing preprocessor")
	}
}

func TestReadPreprocessed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.i")
	if err := os.WriteFile(path, []byte("# 1 \"a.c\"\nint x;\n"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadSource(context.Background(), path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "int x;") {
		t.Errorf("unexpected contents %q", got)
	}

	_, err = ReadSource(context.Background(), filepath.Join(t.TempDir(), "missing.i"), nil)
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestPreprocessPragma(t *testing.T) {
	if findPreprocessor() == "" {
		t.Skip("no C preprocessor available")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "p.c")
	src := "#define N 4\nvoid f(int *a) {\n#pragma oss task inout(a[0;N])\n  a[0]++;\n}\n"
	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := Preprocess(context.Background(), path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "#pragma oss task inout(a[0;4])") {
		t.Errorf("pragma macros were not expanded:\n%s", got)
	}
	if strings.Contains(got, "#define") {
		t.Errorf("macro definition left in output:\n%s", got)
	}
}
