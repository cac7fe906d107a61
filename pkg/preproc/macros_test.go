package preproc

import (
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

type pragmaCase struct {
	Name      string   `yaml:"name"`
	Input     string   `yaml:"input"`
	Expect    []string `yaml:"expect"`
	ExpectNot []string `yaml:"expect_not"`
}

type pragmaFile struct {
	Tests []pragmaCase `yaml:"tests"`
}

func TestExpandPragmasYAML(t *testing.T) {
	data, err := os.ReadFile("../../testdata/preproc.yaml")
	if err != nil {
		t.Skipf("preproc.yaml not found: %v", err)
	}
	var file pragmaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		t.Fatalf("failed to parse preproc.yaml: %v", err)
	}

	for _, tc := range file.Tests {
		t.Run(tc.Name, func(t *testing.T) {
			got := expandPragmas(tc.Input)
			for _, want := range tc.Expect {
				if !strings.Contains(got, want) {
					t.Errorf("expected %q in output:\n%s", want, got)
				}
			}
			for _, bad := range tc.ExpectNot {
				if strings.Contains(got, bad) {
					t.Errorf("unexpected %q in output:\n%s", bad, got)
				}
			}
			if n, m := strings.Count(got, "\n"), strings.Count(tc.Input, "\n"); n != m {
				t.Errorf("line count changed from %d to %d", m, n)
			}
		})
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"a[0;N]", []string{"a", "[", "0", ";", "N", "]"}},
		{"x  +=\t1.5e+3", []string{"x", " ", "+=", " ", "1.5e+3"}},
		{`f("a,b", 'c')`, []string{"f", "(", `"a,b"`, ",", " ", "'c'", ")"}},
		{"p->q...##", []string{"p", "->", "q", "...", "##"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tokenize(tt.in)); diff != "" {
				t.Errorf("tokenize mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
