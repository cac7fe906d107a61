package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// E2ETest is a single end-to-end compilation from e2e.yaml
type E2ETest struct {
	Name         string   `yaml:"name"`
	Input        string   `yaml:"input"`
	Args         []string `yaml:"args"`
	Fail         bool     `yaml:"fail"`
	Expect       []string `yaml:"expect"`
	ExpectOrder  []string `yaml:"expect_order"`
	ExpectUnique []string `yaml:"expect_unique"`
	ExpectNot    []string `yaml:"expect_not"`
	ExpectDiag   []string `yaml:"expect_diag"`
}

// E2ESpec is the root of e2e.yaml
type E2ESpec struct {
	Tests []E2ETest `yaml:"tests"`
}

func TestE2EYAML(t *testing.T) {
	data, err := os.ReadFile("../../testdata/e2e.yaml")
	if err != nil {
		t.Skipf("e2e.yaml not found: %v", err)
	}
	var spec E2ESpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		t.Fatalf("failed to parse e2e.yaml: %v", err)
	}

	for _, tc := range spec.Tests {
		t.Run(tc.Name, func(t *testing.T) {
			path := writeSource(t, t.TempDir(), "test.i", tc.Input)
			args := append([]string{"--no-color", "-o", "-"}, tc.Args...)
			out, errOut, err := execute(append(args, path)...)
			if tc.Fail != (err != nil) {
				t.Fatalf("fail = %v, got error %v\n%s", tc.Fail, err, errOut)
			}

			for _, want := range tc.Expect {
				if !strings.Contains(out, want) {
					t.Errorf("expected %q in output:\n%s", want, out)
				}
			}
			pos := 0
			for _, want := range tc.ExpectOrder {
				i := strings.Index(out[pos:], want)
				if i < 0 {
					t.Errorf("expected %q after offset %d in output:\n%s", want, pos, out)
					break
				}
				pos += i + len(want)
			}
			for _, want := range tc.ExpectUnique {
				if n := strings.Count(out, want); n != 1 {
					t.Errorf("expected %q exactly once, found %d times:\n%s", want, n, out)
				}
			}
			for _, bad := range tc.ExpectNot {
				if strings.Contains(out, bad) {
					t.Errorf("unexpected %q in output:\n%s", bad, out)
				}
			}
			for _, want := range tc.ExpectDiag {
				if !strings.Contains(errOut, want) {
					t.Errorf("expected diagnostic %q:\n%s", want, errOut)
				}
			}
		})
	}
}

func TestPreprocessOnly(t *testing.T) {
	if findCC() == "" {
		t.Skip("no C preprocessor available")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "p.c")
	src := "#define N 4\nvoid f(int *a) {\n#pragma oss task inout(a[0;N])\n  a[0]++;\n}\n"
	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		t.Fatal(err)
	}

	out, _, err := execute("-E", path)
	if err != nil {
		t.Fatalf("preprocess failed: %v", err)
	}
	if !strings.Contains(out, "#pragma oss task inout(a[0;4])") || strings.Contains(out, "#define") {
		t.Errorf("unexpected preprocessor output:\n%s", out)
	}

	out, errOut, err := execute("-D", "UNUSED=1", "-o", "-", path)
	if err != nil {
		t.Fatalf("compile failed: %v\n%s", err, errOut)
	}
	if !strings.Contains(out, "@nanos6_create_task(") {
		t.Errorf("expected a lowered task:\n%s", out)
	}
}

func findCC() string {
	for _, name := range []string{"cc", "gcc", "clang"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}
