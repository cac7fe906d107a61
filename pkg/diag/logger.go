package diag

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pterm/pterm"
)

var (
	SuccessColorFG = pterm.FgLightGreen
	SuccessStyleBG = pterm.NewStyle(pterm.BgLightGreen, pterm.FgBlack)
	WarnColorFG    = pterm.FgYellow
	WarnStyleBG    = pterm.NewStyle(pterm.BgYellow, pterm.FgBlack)
	ErrorColorFG   = pterm.FgRed
	ErrorStyleBG   = pterm.NewStyle(pterm.BgRed, pterm.FgWhite)
	InfoColorFG    = SuccessColorFG
)

// Enumeration of the different log levels
const (
	LogLevelSilent  = iota // no output at all
	LogLevelError          // errors and the closing summary
	LogLevelWarning        // errors, warnings and the closing summary
	LogLevelVerbose        // everything including phase progress
)

// ParseLogLevel maps a level name; unknown names select verbose
func ParseLogLevel(name string) int {
	switch name {
	case "silent":
		return LogLevelSilent
	case "error":
		return LogLevelError
	case "warning":
		return LogLevelWarning
	}
	return LogLevelVerbose
}

// Logger renders diagnostics of several translation units. It is safe for
// concurrent use; warnings are held back until Finish.
type Logger struct {
	errorCount int
	LogLevel   int
	Color      bool

	warnings []func()

	out io.Writer
	m   sync.Mutex
}

// NewLogger creates a logger writing to out
func NewLogger(out io.Writer, level int, color bool) *Logger {
	return &Logger{LogLevel: level, Color: color, out: out}
}

// ErrorCount returns the number of errors displayed so far
func (l *Logger) ErrorCount() int {
	l.m.Lock()
	defer l.m.Unlock()
	return l.errorCount
}

// Report displays the diagnostics of one file. src is the file's text and
// may be nil when it is not available.
func (l *Logger) Report(file string, src []byte, diags []Diagnostic) {
	l.m.Lock()
	defer l.m.Unlock()

	var lines []string
	if src != nil {
		lines = strings.Split(string(src), "\n")
	}
	for _, d := range diags {
		d := d
		if d.Kind.IsWarning() {
			l.warnings = append(l.warnings, func() { l.display(file, lines, d) })
			continue
		}
		l.errorCount++
		if l.LogLevel > LogLevelSilent {
			l.display(file, lines, d)
		}
	}
}

// Phase reports compilation progress at verbose level
func (l *Logger) Phase(file, phase string) {
	l.m.Lock()
	defer l.m.Unlock()
	if l.LogLevel < LogLevelVerbose {
		return
	}
	fmt.Fprintf(l.out, "%s %s\n", l.paint(InfoColorFG, fmt.Sprintf("%-9s", phase)), filepath.Base(file))
}

// Fatal displays an unexpected internal failure
func (l *Logger) Fatal(file string, err error) {
	l.m.Lock()
	defer l.m.Unlock()
	l.errorCount++
	if l.LogLevel == LogLevelSilent {
		return
	}
	fmt.Fprint(l.out, "\n\n")
	fmt.Fprint(l.out, l.style(ErrorStyleBG, "Fatal Error"))
	fmt.Fprintln(l.out, " "+l.paint(ErrorColorFG, filepath.Base(file)+": "+err.Error()))
	fmt.Fprintln(l.out, l.paint(InfoColorFG, fatalErrorPostlude))
}

const fatalErrorPostlude = `
This is likely a bug in the compiler.`

// Finish flushes deferred warnings and prints the closing summary
func (l *Logger) Finish() {
	l.m.Lock()
	defer l.m.Unlock()

	if l.LogLevel >= LogLevelWarning {
		for _, w := range l.warnings {
			w()
		}
	}
	if l.LogLevel == LogLevelSilent {
		return
	}

	fmt.Fprint(l.out, "\n")
	if l.errorCount == 0 {
		fmt.Fprint(l.out, l.paint(SuccessColorFG, "All done! "))
	} else {
		fmt.Fprint(l.out, l.paint(ErrorColorFG, "Compilation failed. "))
	}
	fmt.Fprintf(l.out, "(%s %s, %s %s)\n",
		l.count(l.errorCount, ErrorColorFG), plural(l.errorCount, "error"),
		l.count(len(l.warnings), WarnColorFG), plural(len(l.warnings), "warning"))
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func (l *Logger) count(n int, c pterm.Color) string {
	if n == 0 {
		return l.paint(SuccessColorFG, "0")
	}
	return l.paint(c, strconv.Itoa(n))
}

func (l *Logger) paint(c pterm.Color, s string) string {
	if !l.Color {
		return s
	}
	return c.Sprint(s)
}

func (l *Logger) style(s *pterm.Style, text string) string {
	if !l.Color {
		return "[" + text + "]"
	}
	return s.Sprint(text)
}

func (l *Logger) display(file string, lines []string, d Diagnostic) {
	l.displayBanner(file, d)
	fmt.Fprintf(l.out, "%s: %s\n", d.Loc, d.Message())
	if d.Loc.Line > 0 && d.Loc.Line <= len(lines) {
		l.displayCodeSelection(lines[d.Loc.Line-1], d)
	}
}

// displayBanner displays the banner on top of every message
func (l *Logger) displayBanner(file string, d Diagnostic) {
	fmt.Fprint(l.out, "\n-- ")
	kindStr := d.Kind.Category()
	if d.Kind.IsWarning() {
		kindStr += " Warning"
		fmt.Fprint(l.out, l.style(WarnStyleBG, kindStr))
	} else {
		kindStr += " Error"
		fmt.Fprint(l.out, l.style(ErrorStyleBG, kindStr))
	}
	fmt.Fprint(l.out, " ")

	fileName := filepath.Base(file)
	bannerLen := 50
	if l.Color {
		if w := pterm.GetTerminalWidth() / 2; w < bannerLen {
			bannerLen = w
		}
	}
	dashCount := bannerLen - len(fileName) - len(kindStr) - 1
	if dashCount < 2 {
		dashCount = 2
	}
	fmt.Fprint(l.out, strings.Repeat("-", dashCount)+" ")
	fmt.Fprintln(l.out, l.paint(InfoColorFG, fileName))
}

// displayCodeSelection prints the offending line with a caret under the
// reported column
func (l *Logger) displayCodeSelection(line string, d Diagnostic) {
	line = strings.ReplaceAll(line, "\t", "    ")
	trimmed := strings.TrimLeft(line, " ")
	indent := len(line) - len(trimmed)

	lineNo := strconv.Itoa(d.Loc.Line)
	fmt.Fprint(l.out, l.paint(InfoColorFG, lineNo+" "))
	fmt.Fprintln(l.out, "|  "+trimmed)

	col := d.Loc.Col - 1 - indent
	if col < 0 {
		col = 0
	}
	caretColor := ErrorColorFG
	if d.Kind.IsWarning() {
		caretColor = WarnColorFG
	}
	fmt.Fprint(l.out, strings.Repeat(" ", len(lineNo)+1)+"|  "+strings.Repeat(" ", col))
	fmt.Fprintln(l.out, l.paint(caretColor, "^"))
}
