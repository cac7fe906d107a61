package lexer

import (
	"strconv"
	"strings"
	"unicode"
)

// Lexer tokenizes preprocessed C source code. Preprocessor line markers
// update the reported position; "#pragma oss" lines are tokenized and
// terminated with TokenPragmaEnd; every other directive is skipped.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // next reading position
	ch      byte // current character
	line    int
	column  int
	file    string

	lineStart bool // only whitespace seen since the last newline
	inPragma  bool
}

// New creates a new Lexer for the given input
func New(input string) *Lexer {
	l := &Lexer{input: input, line: 1, column: 0, lineStart: true}
	l.readChar()
	return l
}

// File returns the file name from the most recent line marker
func (l *Lexer) File() string {
	return l.file
}

func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.column = 0
	}
	if l.readPos >= len(l.input) {
		l.ch = 0 // EOF
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
	l.column++
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) peekCharAt(n int) byte {
	if l.readPos+n >= len(l.input) {
		return 0
	}
	return l.input[l.readPos+n]
}

// NextToken returns the next token from the input
func (l *Lexer) NextToken() Token {
	for {
		l.skipWhitespace()
		if l.skipComments() {
			continue
		}
		if l.ch == '#' && l.lineStart && !l.inPragma {
			if tok, ok := l.directive(); ok {
				return tok
			}
			continue
		}
		break
	}

	tok := Token{Line: l.line, Column: l.column}
	if l.inPragma && (l.ch == '\n' || l.ch == 0) {
		l.inPragma = false
		tok.Type = TokenPragmaEnd
		return tok
	}
	l.lineStart = false

	switch l.ch {
	case 0:
		tok.Type = TokenEOF
		tok.Literal = ""
	case '+':
		tok = l.pick(tok, TokenPlus, map[byte]TokenType{'+': TokenIncrement, '=': TokenPlusAssign})
	case '-':
		tok = l.pick(tok, TokenMinus, map[byte]TokenType{'-': TokenDecrement, '=': TokenMinusAssign, '>': TokenArrow})
	case '*':
		tok = l.pick(tok, TokenStar, map[byte]TokenType{'=': TokenStarAssign})
	case '/':
		tok = l.pick(tok, TokenSlash, map[byte]TokenType{'=': TokenSlashAssign})
	case '%':
		tok = l.pick(tok, TokenPercent, map[byte]TokenType{'=': TokenPercentAssign})
	case '=':
		tok = l.pick(tok, TokenAssign, map[byte]TokenType{'=': TokenEq})
	case '!':
		tok = l.pick(tok, TokenNot, map[byte]TokenType{'=': TokenNe})
	case '<':
		if l.peekChar() == '<' && l.peekCharAt(1) == '=' {
			tok = l.multi(tok, TokenShlAssign, 3)
		} else {
			tok = l.pick(tok, TokenLt, map[byte]TokenType{'=': TokenLe, '<': TokenShl})
		}
	case '>':
		if l.peekChar() == '>' && l.peekCharAt(1) == '=' {
			tok = l.multi(tok, TokenShrAssign, 3)
		} else {
			tok = l.pick(tok, TokenGt, map[byte]TokenType{'=': TokenGe, '>': TokenShr})
		}
	case '&':
		tok = l.pick(tok, TokenAmpersand, map[byte]TokenType{'&': TokenAnd, '=': TokenAndAssign})
	case '|':
		tok = l.pick(tok, TokenPipe, map[byte]TokenType{'|': TokenOr, '=': TokenOrAssign})
	case '^':
		tok = l.pick(tok, TokenCaret, map[byte]TokenType{'=': TokenXorAssign})
	case '~':
		tok = l.newToken(TokenTilde, l.ch)
	case '?':
		tok = l.newToken(TokenQuestion, l.ch)
	case ':':
		tok = l.newToken(TokenColon, l.ch)
	case '(':
		tok = l.newToken(TokenLParen, l.ch)
	case ')':
		tok = l.newToken(TokenRParen, l.ch)
	case '{':
		tok = l.newToken(TokenLBrace, l.ch)
	case '}':
		tok = l.newToken(TokenRBrace, l.ch)
	case '[':
		tok = l.newToken(TokenLBracket, l.ch)
	case ']':
		tok = l.newToken(TokenRBracket, l.ch)
	case ';':
		tok = l.newToken(TokenSemicolon, l.ch)
	case ',':
		tok = l.newToken(TokenComma, l.ch)
	case '.':
		if l.peekChar() == '.' && l.peekCharAt(1) == '.' {
			tok = l.multi(tok, TokenEllipsis, 3)
		} else if isDigit(l.peekChar()) {
			tok.Type = TokenFloatLit
			tok.Literal = l.readNumber()
			return tok
		} else {
			tok = l.newToken(TokenDot, l.ch)
		}
	case '"':
		tok.Type = TokenString
		tok.Literal = l.readQuoted('"')
		return tok
	case '\'':
		tok.Type = TokenCharLit
		tok.Literal = l.readQuoted('\'')
		return tok
	default:
		if isLetter(l.ch) {
			tok.Literal = l.readIdentifier()
			tok.Type = LookupIdent(tok.Literal)
			return tok
		} else if isDigit(l.ch) {
			tok.Literal = l.readNumber()
			tok.Type = TokenInt
			if isFloatLiteral(tok.Literal) {
				tok.Type = TokenFloatLit
			}
			return tok
		} else {
			tok = l.newToken(TokenIllegal, l.ch)
		}
	}

	l.readChar()
	return tok
}

func (l *Lexer) newToken(tokenType TokenType, ch byte) Token {
	return Token{Type: tokenType, Literal: string(ch), Line: l.line, Column: l.column}
}

// pick returns the two-character token selected by the next character, or
// the single-character fallback.
func (l *Lexer) pick(tok Token, single TokenType, pairs map[byte]TokenType) Token {
	if t, ok := pairs[l.peekChar()]; ok {
		return l.multi(tok, t, 2)
	}
	return l.newToken(single, l.ch)
}

// multi consumes an n-character operator, leaving the last one current
func (l *Lexer) multi(tok Token, t TokenType, n int) Token {
	start := l.pos
	for i := 1; i < n; i++ {
		l.readChar()
	}
	tok.Type = t
	tok.Literal = l.input[start : l.pos+1]
	return tok
}

func (l *Lexer) skipWhitespace() {
	for {
		switch l.ch {
		case ' ', '\t', '\r', '\f', '\v':
			l.readChar()
		case '\n':
			if l.inPragma {
				return
			}
			l.lineStart = true
			l.readChar()
		case '\\':
			// line continuation
			if l.peekChar() != '\n' {
				return
			}
			l.readChar()
			l.readChar()
		default:
			return
		}
	}
}

// skipComments skips one comment and reports whether it did
func (l *Lexer) skipComments() bool {
	if l.ch != '/' {
		return false
	}
	if l.peekChar() == '/' {
		for l.ch != '\n' && l.ch != 0 {
			l.readChar()
		}
		return true
	}
	if l.peekChar() == '*' {
		l.readChar() // consume /
		l.readChar() // consume *
		for l.ch != 0 {
			if l.ch == '*' && l.peekChar() == '/' {
				l.readChar() // consume *
				l.readChar() // consume /
				break
			}
			l.readChar()
		}
		return true
	}
	return false
}

// directive handles a line starting with '#'. It returns a TokenPragma for
// "#pragma oss" and consumes every other directive.
func (l *Lexer) directive() (Token, bool) {
	tok := Token{Line: l.line, Column: l.column}
	l.readChar() // consume #
	l.skipBlanks()
	word := ""
	if isLetter(l.ch) {
		word = l.readIdentifier()
	} else if isDigit(l.ch) {
		l.lineMarker()
		return tok, false
	}
	if word == "line" {
		l.skipBlanks()
		l.lineMarker()
		return tok, false
	}
	if word == "pragma" {
		l.skipBlanks()
		save := *l
		if isLetter(l.ch) && l.readIdentifier() == "oss" {
			l.inPragma = true
			tok.Type = TokenPragma
			tok.Literal = "oss"
			return tok, true
		}
		*l = save
	}
	l.skipLine()
	return tok, false
}

// lineMarker handles `# N "file" flags...`
func (l *Lexer) lineMarker() {
	num := l.readNumber()
	l.skipBlanks()
	file := ""
	if l.ch == '"' {
		file = l.readQuoted('"')
	}
	l.skipLine()
	if n, err := strconv.Atoi(num); err == nil {
		// the newline ending the marker advances to line n
		l.line = n - 1
	}
	if file != "" {
		l.file = file
	}
}

func (l *Lexer) skipBlanks() {
	for l.ch == ' ' || l.ch == '\t' {
		l.readChar()
	}
}

func (l *Lexer) skipLine() {
	for l.ch != '\n' && l.ch != 0 {
		if l.ch == '\\' && l.peekChar() == '\n' {
			l.readChar()
		}
		l.readChar()
	}
}

func (l *Lexer) readIdentifier() string {
	pos := l.pos
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	return l.input[pos:l.pos]
}

// readNumber reads an integer or floating literal including its suffix
func (l *Lexer) readNumber() string {
	pos := l.pos
	hex := l.ch == '0' && (l.peekChar() == 'x' || l.peekChar() == 'X')
	if hex {
		l.readChar()
		l.readChar()
	}
	for {
		switch {
		case isDigit(l.ch) || l.ch == '.':
		case hex && isHexDigit(l.ch):
		case !hex && (l.ch == 'e' || l.ch == 'E'):
			if p := l.peekChar(); p == '+' || p == '-' {
				l.readChar()
			}
		case l.ch == 'u' || l.ch == 'U' || l.ch == 'l' || l.ch == 'L' || l.ch == 'f' || l.ch == 'F':
		default:
			return l.input[pos:l.pos]
		}
		l.readChar()
	}
}

func isFloatLiteral(lit string) bool {
	if strings.HasPrefix(lit, "0x") || strings.HasPrefix(lit, "0X") {
		return false
	}
	return strings.ContainsAny(lit, ".eEfF")
}

// readQuoted reads a string or character literal and returns its raw body
func (l *Lexer) readQuoted(quote byte) string {
	l.readChar() // consume opening quote
	pos := l.pos
	for l.ch != quote && l.ch != 0 && l.ch != '\n' {
		if l.ch == '\\' {
			l.readChar() // skip escape char
		}
		l.readChar()
	}
	str := l.input[pos:l.pos]
	l.readChar() // consume closing quote
	return str
}

func isLetter(ch byte) bool {
	return unicode.IsLetter(rune(ch)) || ch == '_'
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

func isHexDigit(ch byte) bool {
	return isDigit(ch) || ('a' <= ch && ch <= 'f') || ('A' <= ch && ch <= 'F')
}
