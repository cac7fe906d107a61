// Package parser implements a recursive descent parser for C with task pragmas
package parser

import (
	"fmt"

	"github.com/raymyers/ralph-oss/pkg/cabs"
	"github.com/raymyers/ralph-oss/pkg/lexer"
)

// Parser parses C source code into a Cabs AST
type Parser struct {
	l         *lexer.Lexer
	curToken  lexer.Token
	peekToken lexer.Token
	errors    []string
	typedefs  map[string]bool // typedef names in scope
	anonTags  int

	// clause parsing state: sections are only accepted inside dependency
	// clauses, and the clause spelling decides how "[a:b]" reads.
	inDepend    bool
	sectionForm cabs.SectionForm
}

// New creates a new Parser for the given lexer
func New(l *lexer.Lexer) *Parser {
	p := &Parser{
		l:        l,
		typedefs: make(map[string]bool),
	}
	// Read two tokens to initialize curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

// Errors returns the list of parsing errors
func (p *Parser) Errors() []string {
	return p.errors
}

func (p *Parser) addError(msg string) {
	p.errors = append(p.errors, fmt.Sprintf("line %d, col %d: %s",
		p.curToken.Line, p.curToken.Column, msg))
}

func (p *Parser) loc() cabs.Loc {
	return cabs.Loc{Line: p.curToken.Line, Col: p.curToken.Column}
}

func (p *Parser) curTokenIs(t lexer.TokenType) bool {
	return p.curToken.Type == t
}

func (p *Parser) peekTokenIs(t lexer.TokenType) bool {
	return p.peekToken.Type == t
}

func (p *Parser) expectPeek(t lexer.TokenType) bool {
	if p.peekTokenIs(t) {
		p.nextToken()
		return true
	}
	p.addError(fmt.Sprintf("expected %s, got %s", t, p.peekToken.Type))
	return false
}

func (p *Parser) expect(t lexer.TokenType) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	p.addError(fmt.Sprintf("expected %s, got %s", t, p.curToken.Type))
	return false
}

// ParseProgram parses a whole translation unit
func (p *Parser) ParseProgram() *cabs.Program {
	prog := &cabs.Program{}
	for !p.curTokenIs(lexer.TokenEOF) {
		before := len(p.errors)
		defs := p.ParseDefinition()
		prog.Definitions = append(prog.Definitions, defs...)
		if len(p.errors) > before {
			p.recoverTopLevel()
		}
	}
	return prog
}

// recoverTopLevel skips to a plausible start of the next definition
func (p *Parser) recoverTopLevel() {
	depth := 0
	for !p.curTokenIs(lexer.TokenEOF) {
		switch p.curToken.Type {
		case lexer.TokenLBrace:
			depth++
		case lexer.TokenRBrace:
			depth--
			if depth <= 0 {
				p.nextToken()
				return
			}
		case lexer.TokenSemicolon, lexer.TokenPragmaEnd:
			if depth <= 0 {
				p.nextToken()
				return
			}
		}
		p.nextToken()
	}
}

// ParseDefinition parses one top-level construct. A declaration may yield
// several definitions (e.g. "int a, f(void);").
func (p *Parser) ParseDefinition() []cabs.Definition {
	if p.curTokenIs(lexer.TokenSemicolon) {
		p.nextToken()
		return nil
	}
	if p.curTokenIs(lexer.TokenPragma) {
		return p.parseTopLevelPragma()
	}
	return p.parseExternalDeclaration(nil)
}
