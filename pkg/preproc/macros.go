package preproc

import (
	"strings"
)

// C preprocessors leave unknown pragmas unexpanded, so task clauses that
// name macros are expanded here from the definitions -dD keeps in the
// output.

// macro is one definition read back from the preprocessor output
type macro struct {
	function bool
	variadic bool
	params   []string
	body     []string
}

type macroTable map[string]*macro

// define records the text following "#define"
func (t macroTable) define(text string) {
	toks := tokenize(text)
	i := skipSpace(toks, 0)
	if i == len(toks) || !isIdent(toks[i]) {
		return
	}
	name := toks[i]
	i++
	m := &macro{}
	// a function-like macro has its '(' right after the name
	if i < len(toks) && toks[i] == "(" {
		m.function = true
		for i++; i < len(toks) && toks[i] != ")"; i++ {
			switch tok := toks[i]; {
			case tok == "...":
				m.variadic = true
			case isIdent(tok):
				m.params = append(m.params, tok)
			}
		}
		i++
	}
	if i < len(toks) {
		m.body = trimSpace(toks[i:])
	}
	t[name] = m
}

// undef removes the macro named by the text following "#undef"
func (t macroTable) undef(text string) {
	delete(t, strings.TrimSpace(text))
}

// expandPragmas blanks the macro directives -dD leaves in out and expands
// the clauses of every task pragma with the definitions in effect at
// that line. Line numbering is unchanged.
func expandPragmas(out string) string {
	macros := macroTable{}
	var sb strings.Builder
	sb.Grow(len(out))
	for _, line := range strings.SplitAfter(out, "\n") {
		body := strings.TrimRight(line, "\r\n")
		directive, rest := splitDirective(body)
		switch directive {
		case "define":
			macros.define(rest)
			body = ""
		case "undef":
			macros.undef(rest)
			body = ""
		case "pragma":
			if clauses, ok := strings.CutPrefix(strings.TrimLeft(rest, " \t"), "oss"); ok && (clauses == "" || clauses[0] == ' ' || clauses[0] == '\t') {
				e := &expander{macros: macros, active: map[string]bool{}}
				body = "#pragma oss" + join(e.expand(tokenize(clauses)))
			}
		}
		sb.WriteString(body)
		if strings.HasSuffix(line, "\n") {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// splitDirective returns the directive name of a "#name rest" line
func splitDirective(line string) (string, string) {
	s := strings.TrimLeft(line, " \t")
	if !strings.HasPrefix(s, "#") {
		return "", ""
	}
	s = strings.TrimLeft(s[1:], " \t")
	end := 0
	for end < len(s) && isIdentByte(s[end], end > 0) {
		end++
	}
	return s[:end], s[end:]
}

type expander struct {
	macros macroTable
	active map[string]bool // macros being replaced
}

func (e *expander) expand(toks []string) []string {
	var out []string
	for i := 0; i < len(toks); i++ {
		tok := toks[i]
		m := e.macros[tok]
		if m == nil || e.active[tok] {
			out = append(out, tok)
			continue
		}
		if !m.function {
			out = append(out, e.replace(tok, m, nil)...)
			continue
		}
		open := skipSpace(toks, i+1)
		if open == len(toks) || toks[open] != "(" {
			out = append(out, tok)
			continue
		}
		args, end, ok := arguments(toks, open)
		if !ok {
			return append(out, toks[i:]...)
		}
		out = append(out, e.replace(tok, m, args)...)
		i = end
	}
	return out
}

// replace substitutes the arguments into the body of m and rescans it
func (e *expander) replace(name string, m *macro, args [][]string) []string {
	e.active[name] = true
	defer delete(e.active, name)

	params := map[string][]string{}
	for i, p := range m.params {
		if i < len(args) {
			params[p] = args[i]
		} else {
			params[p] = nil
		}
	}
	if m.variadic {
		var va []string
		for i := len(m.params); i < len(args); i++ {
			if i > len(m.params) {
				va = append(va, ",", " ")
			}
			va = append(va, args[i]...)
		}
		params["__VA_ARGS__"] = va
	}

	var body []string
	for i := 0; i < len(m.body); i++ {
		tok := m.body[i]
		if m.function && tok == "#" {
			if j := skipSpace(m.body, i+1); j < len(m.body) {
				if arg, ok := params[m.body[j]]; ok {
					body = append(body, stringize(arg))
					i = j
					continue
				}
			}
		}
		arg, ok := params[tok]
		if !ok {
			body = append(body, tok)
			continue
		}
		if nextToPaste(m.body, i) {
			if len(arg) == 0 {
				// placeholder
				arg = []string{""}
			}
			body = append(body, arg...)
		} else {
			body = append(body, e.expand(arg)...)
		}
	}
	return e.expand(paste(body))
}

// arguments splits the invocation starting at toks[open] == "(". It
// returns the index of the closing parenthesis.
func arguments(toks []string, open int) ([][]string, int, bool) {
	var args [][]string
	var cur []string
	depth := 0
	for i := open + 1; i < len(toks); i++ {
		switch toks[i] {
		case "(":
			depth++
		case ")":
			if depth == 0 {
				if len(args) > 0 || len(trimSpace(cur)) > 0 {
					args = append(args, trimSpace(cur))
				}
				return args, i, true
			}
			depth--
		case ",":
			if depth == 0 {
				args = append(args, trimSpace(cur))
				cur = nil
				continue
			}
		}
		cur = append(cur, toks[i])
	}
	return nil, 0, false
}

func nextToPaste(toks []string, i int) bool {
	j := i - 1
	for j >= 0 && isSpace(toks[j]) {
		j--
	}
	if j >= 0 && toks[j] == "##" {
		return true
	}
	j = skipSpace(toks, i+1)
	return j < len(toks) && toks[j] == "##"
}

// paste applies the ## operator
func paste(toks []string) []string {
	var out []string
	for i := 0; i < len(toks); i++ {
		if toks[i] != "##" {
			out = append(out, toks[i])
			continue
		}
		for len(out) > 0 && isSpace(out[len(out)-1]) {
			out = out[:len(out)-1]
		}
		j := skipSpace(toks, i+1)
		if j == len(toks) {
			break
		}
		left := ""
		if len(out) > 0 {
			left = out[len(out)-1]
			out = out[:len(out)-1]
		}
		if s := left + toks[j]; s != "" {
			out = append(out, tokenize(s)...)
		}
		i = j
	}
	kept := out[:0]
	for _, tok := range out {
		if tok != "" {
			kept = append(kept, tok)
		}
	}
	return kept
}

func stringize(toks []string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, tok := range trimSpace(toks) {
		if tok[0] == '"' || tok[0] == '\'' {
			tok = strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(tok)
		}
		sb.WriteString(tok)
	}
	sb.WriteByte('"')
	return sb.String()
}

// join renders tokens, separating neighbors that would otherwise lex as
// one token
func join(toks []string) string {
	var sb strings.Builder
	prev := ""
	for _, tok := range toks {
		if prev != "" && !isSpace(prev) && !isSpace(tok) && len(tokenize(prev+tok)) != 2 {
			sb.WriteByte(' ')
		}
		sb.WriteString(tok)
		prev = tok
	}
	return sb.String()
}

var punctuators = []string{
	"...", "<<=", ">>=",
	"->", "++", "--", "<<", ">>", "<=", ">=", "==", "!=", "&&", "||",
	"*=", "/=", "%=", "+=", "-=", "&=", "^=", "|=", "##",
}

// tokenize splits a line into preprocessing tokens. A run of blanks is
// one " " token.
func tokenize(s string) []string {
	var toks []string
	for i := 0; i < len(s); {
		c := s[i]
		start := i
		switch {
		case c == ' ' || c == '\t' || c == '\v' || c == '\f':
			for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\v' || s[i] == '\f') {
				i++
			}
			toks = append(toks, " ")
			continue
		case isIdentByte(c, false):
			for i < len(s) && isIdentByte(s[i], true) {
				i++
			}
		case isDigit(c) || c == '.' && i+1 < len(s) && isDigit(s[i+1]):
			for i++; i < len(s); i++ {
				if (s[i] == '+' || s[i] == '-') && strings.ContainsRune("eEpP", rune(s[i-1])) {
					continue
				}
				if !isIdentByte(s[i], true) && s[i] != '.' {
					break
				}
			}
		case c == '"' || c == '\'':
			for i++; i < len(s) && s[i] != c; i++ {
				if s[i] == '\\' {
					i++
				}
			}
			i = min(i+1, len(s))
		default:
			i++
			for _, p := range punctuators {
				if strings.HasPrefix(s[start:], p) {
					i = start + len(p)
					break
				}
			}
		}
		toks = append(toks, s[start:i])
	}
	return toks
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentByte(c byte, inner bool) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || inner && isDigit(c)
}

func isIdent(tok string) bool { return tok != "" && isIdentByte(tok[0], false) }

func isSpace(tok string) bool { return tok == " " }

func skipSpace(toks []string, i int) int {
	for i < len(toks) && isSpace(toks[i]) {
		i++
	}
	return i
}

func trimSpace(toks []string) []string {
	start, end := skipSpace(toks, 0), len(toks)
	for end > start && isSpace(toks[end-1]) {
		end--
	}
	return toks[start:end]
}
