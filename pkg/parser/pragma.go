package parser

import (
	"fmt"

	"github.com/raymyers/ralph-oss/pkg/cabs"
	"github.com/raymyers/ralph-oss/pkg/lexer"
)

// Task pragma parsing. The lexer delivers "#pragma oss" lines as
// TokenPragma ... TokenPragmaEnd.

// skipPragma discards the rest of a pragma line
func (p *Parser) skipPragma() {
	for !p.curTokenIs(lexer.TokenPragmaEnd) && !p.curTokenIs(lexer.TokenEOF) {
		p.nextToken()
	}
	if p.curTokenIs(lexer.TokenPragmaEnd) {
		p.nextToken()
	}
}

func (p *Parser) parseTopLevelPragma() []cabs.Definition {
	loc := p.loc()
	p.nextToken() // consume #pragma oss
	switch p.curToken.Literal {
	case "task":
		p.nextToken()
		clauses, ok := p.parseClauses()
		if !ok {
			return nil
		}
		return p.parseExternalDeclaration(&cabs.TaskPragma{Clauses: clauses, Loc: loc})
	case "declare":
		d := p.parseDeclareReduction(loc)
		if d == nil {
			return nil
		}
		return []cabs.Definition{d}
	}
	p.addError(fmt.Sprintf("unexpected '#pragma oss %s' at file scope", p.curToken.Literal))
	p.skipPragma()
	return nil
}

func (p *Parser) parseStatementPragma() cabs.Stmt {
	loc := p.loc()
	p.nextToken() // consume #pragma oss
	switch p.curToken.Literal {
	case "task":
		p.nextToken()
		clauses, ok := p.parseClauses()
		if !ok {
			return nil
		}
		if p.isTypeStart(p.curToken) {
			p.addError("expected statement after '#pragma oss task'")
			return nil
		}
		body := p.parseStatement()
		if body == nil {
			return nil
		}
		return &cabs.TaskStmt{Clauses: clauses, Body: body, Loc: loc}
	case "taskwait":
		p.nextToken()
		if !p.expect(lexer.TokenPragmaEnd) {
			return nil
		}
		return &cabs.TaskwaitStmt{Loc: loc}
	}
	p.addError(fmt.Sprintf("unknown directive '#pragma oss %s'", p.curToken.Literal))
	p.skipPragma()
	return nil
}

// parseClauses parses clauses up to and including the end of the pragma
func (p *Parser) parseClauses() ([]cabs.Clause, bool) {
	var clauses []cabs.Clause
	for !p.curTokenIs(lexer.TokenPragmaEnd) && !p.curTokenIs(lexer.TokenEOF) {
		if p.curTokenIs(lexer.TokenComma) {
			p.nextToken()
			continue
		}
		c := p.parseClause()
		if c == nil {
			p.skipPragma()
			return nil, false
		}
		clauses = append(clauses, c)
	}
	return clauses, p.expect(lexer.TokenPragmaEnd)
}

func (p *Parser) parseClause() cabs.Clause {
	loc := p.loc()
	kind, ok := cabs.LookupClause(p.curToken.Literal)
	if !ok {
		p.addError(fmt.Sprintf("unknown clause '%s'", p.curToken.Literal))
		return nil
	}
	if !p.expectPeek(lexer.TokenLParen) {
		return nil
	}
	p.nextToken() // consume '('

	var clause cabs.Clause
	switch kind {
	case cabs.ClauseShared, cabs.ClausePrivate, cabs.ClauseFirstprivate:
		items := p.parseClauseItems(false, cabs.LengthForm)
		if items == nil {
			return nil
		}
		clause = &cabs.DSAClause{Which: kind, Items: items, Loc: loc}
	case cabs.ClauseDefault:
		c := &cabs.DefaultClause{Loc: loc}
		switch p.curToken.Literal {
		case "none":
			c.Value = cabs.DefaultNone
		case "shared":
			c.Value = cabs.DefaultShared
		default:
			p.addError(fmt.Sprintf("expected 'none' or 'shared' in default clause, got '%s'", p.curToken.Literal))
			return nil
		}
		p.nextToken()
		clause = c
	case cabs.ClauseDepend:
		c := &cabs.DependClause{Which: kind, Loc: loc}
		for !p.curTokenIs(lexer.TokenColon) {
			mod, ok := cabs.LookupDepModifier(p.curToken.Literal)
			if !ok {
				p.addError(fmt.Sprintf("unknown dependency type '%s'", p.curToken.Literal))
				return nil
			}
			c.Modifiers = append(c.Modifiers, mod)
			p.nextToken()
			if p.curTokenIs(lexer.TokenComma) {
				p.nextToken()
			} else if !p.curTokenIs(lexer.TokenColon) {
				p.addError(fmt.Sprintf("expected ':' in depend clause, got %s", p.curToken.Type))
				return nil
			}
		}
		p.nextToken() // consume ':'
		if c.Items = p.parseClauseItems(true, cabs.LengthForm); c.Items == nil {
			return nil
		}
		clause = c
	case cabs.ClauseIn, cabs.ClauseOut, cabs.ClauseInout, cabs.ClauseConcurrent,
		cabs.ClauseCommutative, cabs.ClauseWeakIn, cabs.ClauseWeakOut,
		cabs.ClauseWeakInout, cabs.ClauseWeakConcurrent, cabs.ClauseWeakCommutative:
		items := p.parseClauseItems(true, cabs.UpperForm)
		if items == nil {
			return nil
		}
		clause = &cabs.DependClause{Which: kind, Items: items, Loc: loc}
	case cabs.ClauseReduction, cabs.ClauseWeakReduction:
		c := &cabs.ReductionClause{Weak: kind == cabs.ClauseWeakReduction, Loc: loc}
		switch p.curToken.Type {
		case lexer.TokenPlus, lexer.TokenMinus, lexer.TokenStar, lexer.TokenAmpersand,
			lexer.TokenPipe, lexer.TokenCaret, lexer.TokenAnd, lexer.TokenOr, lexer.TokenIdent:
			c.Op = p.curToken.Literal
		default:
			p.addError(fmt.Sprintf("expected reduction identifier, got %s", p.curToken.Type))
			return nil
		}
		if !p.expectPeek(lexer.TokenColon) {
			return nil
		}
		p.nextToken()
		if c.Items = p.parseClauseItems(true, cabs.UpperForm); c.Items == nil {
			return nil
		}
		clause = c
	case cabs.ClauseIf, cabs.ClauseFinal, cabs.ClauseCost, cabs.ClausePriority:
		e := p.parseExpression()
		if e == nil {
			return nil
		}
		clause = &cabs.ScalarClause{Which: kind, Expr: e, Loc: loc}
	case cabs.ClauseLabel:
		if !p.curTokenIs(lexer.TokenString) {
			p.addError("expected string literal in label clause")
			return nil
		}
		clause = &cabs.LabelClause{Text: decodeEscapes(p.curToken.Literal), Loc: loc}
		p.nextToken()
	}
	if !p.expect(lexer.TokenRParen) {
		return nil
	}
	return clause
}

// parseClauseItems parses a comma separated list up to ')'
func (p *Parser) parseClauseItems(depend bool, form cabs.SectionForm) []cabs.Expr {
	saveDepend, saveForm := p.inDepend, p.sectionForm
	p.inDepend, p.sectionForm = depend, form
	defer func() { p.inDepend, p.sectionForm = saveDepend, saveForm }()

	var items []cabs.Expr
	for {
		item := p.parseAssignment()
		if item == nil {
			return nil
		}
		items = append(items, item)
		if !p.curTokenIs(lexer.TokenComma) {
			return items
		}
		p.nextToken()
	}
}

func (p *Parser) parseDeclareReduction(loc cabs.Loc) *cabs.DeclareReduction {
	p.nextToken() // consume 'declare'
	if p.curToken.Literal != "reduction" {
		p.addError(fmt.Sprintf("expected 'reduction' after 'declare', got '%s'", p.curToken.Literal))
		p.skipPragma()
		return nil
	}
	if !p.expectPeek(lexer.TokenLParen) {
		p.skipPragma()
		return nil
	}
	p.nextToken()
	d := &cabs.DeclareReduction{Name: p.curToken.Literal, Loc: loc}
	switch p.curToken.Type {
	case lexer.TokenIdent, lexer.TokenPlus, lexer.TokenStar, lexer.TokenAmpersand,
		lexer.TokenPipe, lexer.TokenCaret, lexer.TokenAnd, lexer.TokenOr, lexer.TokenMinus:
	default:
		p.addError(fmt.Sprintf("expected reduction identifier, got %s", p.curToken.Type))
		p.skipPragma()
		return nil
	}
	if !p.expectPeek(lexer.TokenColon) {
		p.skipPragma()
		return nil
	}
	p.nextToken()
	for {
		tn := p.parseTypeName()
		if tn == nil {
			p.skipPragma()
			return nil
		}
		d.Types = append(d.Types, tn)
		if !p.curTokenIs(lexer.TokenComma) {
			break
		}
		p.nextToken()
	}
	if !p.expect(lexer.TokenColon) {
		p.skipPragma()
		return nil
	}
	if d.Combiner = p.parseExpression(); d.Combiner == nil || !p.expect(lexer.TokenRParen) {
		p.skipPragma()
		return nil
	}
	if p.curTokenIs(lexer.TokenIdent) && p.curToken.Literal == "initializer" {
		if !p.expectPeek(lexer.TokenLParen) {
			p.skipPragma()
			return nil
		}
		p.nextToken()
		init := p.parseExpression()
		if init == nil || !p.expect(lexer.TokenRParen) {
			p.skipPragma()
			return nil
		}
		if a, ok := init.(*cabs.Assign); ok && a.Op == cabs.OpAssign {
			if v, ok := a.Left.(*cabs.Variable); ok && v.Name == "omp_priv" {
				d.Initializer = a.Right
			}
		}
		if d.Initializer == nil {
			d.Initializer = init
			d.InitIsCall = true
		}
	}
	if !p.expect(lexer.TokenPragmaEnd) {
		p.skipPragma()
		return nil
	}
	return d
}
