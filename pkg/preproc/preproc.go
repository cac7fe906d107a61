// Package preproc runs the system C preprocessor. Task pragmas pass
// through it unexpanded, so their macros are expanded here; the line
// markers it emits are honored by the lexer.
package preproc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/raymyers/ralph-oss/pkg/config"
)

// ErrNoPreprocessor is returned when no preprocessor command is available
var ErrNoPreprocessor = errors.New("no C preprocessor found (tried: cc, gcc, clang)")

// Options configures the preprocessing step
type Options struct {
	Command      string   // preprocessor executable; found on PATH when empty
	IncludePaths []string // -I directories
	Defines      []string // -D macros, NAME or NAME=VALUE
	Undefines    []string // -U macros
}

// FromConfig builds options from the preprocess section of a config
func FromConfig(c config.Preprocess) *Options {
	return &Options{
		Command:      c.Command,
		IncludePaths: append([]string(nil), c.Include...),
		Defines:      append([]string(nil), c.Defines...),
	}
}

// Args returns the preprocessor arguments for filename
func (o *Options) Args(filename string) []string {
	args := []string{"-E", "-dD"}
	if o != nil {
		for _, path := range o.IncludePaths {
			args = append(args, "-I"+path)
		}
		for _, d := range o.Defines {
			args = append(args, "-D"+d)
		}
		for _, name := range o.Undefines {
			args = append(args, "-U"+name)
		}
	}
	return append(args, filename)
}

// Preprocess runs the preprocessor on filename and returns its output
func Preprocess(ctx context.Context, filename string, opts *Options) (string, error) {
	command := ""
	if opts != nil {
		command = opts.Command
	}
	if command == "" {
		command = findPreprocessor()
	}
	if command == "" {
		return "", ErrNoPreprocessor
	}

	cmd := exec.CommandContext(ctx, command, opts.Args(filepath.Base(filename))...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// relative includes resolve from the file's directory
	cmd.Dir = filepath.Dir(filename)

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("preprocessing %s: %w\n%s", filename, err, stderr.String())
	}
	return expandPragmas(stdout.String()), nil
}

// ReadSource returns the text to compile: the preprocessed file, or its
// contents when it is already preprocessed
func ReadSource(ctx context.Context, filename string, opts *Options) (string, error) {
	if NeedsPreprocessing(filename) {
		return Preprocess(ctx, filename, opts)
	}
	content, err := os.ReadFile(filename)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", filename, err)
	}
	return string(content), nil
}

// NeedsPreprocessing reports whether filename is not yet preprocessed.
// Files ending in .i are considered already preprocessed.
func NeedsPreprocessing(filename string) bool {
	return strings.ToLower(filepath.Ext(filename)) != ".i"
}

// findPreprocessor searches for a C compiler driver on the system
func findPreprocessor() string {
	for _, cmd := range []string{"cc", "gcc", "clang"} {
		if path, err := exec.LookPath(cmd); err == nil {
			return path
		}
	}
	return ""
}
