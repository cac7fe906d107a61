package parser

import (
	"fmt"

	"github.com/raymyers/ralph-oss/pkg/cabs"
	"github.com/raymyers/ralph-oss/pkg/lexer"
)

func (p *Parser) parseBlock() *cabs.Block {
	block := &cabs.Block{Items: []cabs.Stmt{}, Loc: p.loc()}

	p.nextToken() // consume '{'

	for !p.curTokenIs(lexer.TokenRBrace) && !p.curTokenIs(lexer.TokenEOF) {
		before := len(p.errors)
		stmt := p.parseBlockItem()
		if stmt != nil {
			block.Items = append(block.Items, stmt)
		}
		if len(p.errors) > before {
			p.recoverStatement()
		}
	}

	p.expect(lexer.TokenRBrace)

	return block
}

// recoverStatement skips the rest of a broken statement
func (p *Parser) recoverStatement() {
	for !p.curTokenIs(lexer.TokenEOF) && !p.curTokenIs(lexer.TokenRBrace) {
		if p.curTokenIs(lexer.TokenSemicolon) || p.curTokenIs(lexer.TokenPragmaEnd) {
			p.nextToken()
			return
		}
		p.nextToken()
	}
}

func (p *Parser) parseBlockItem() cabs.Stmt {
	if p.isTypeStart(p.curToken) {
		ds := p.parseLocalDeclaration()
		if ds == nil {
			return nil
		}
		return ds
	}
	return p.parseStatement()
}

func (p *Parser) parseStatement() cabs.Stmt {
	loc := p.loc()
	switch p.curToken.Type {
	case lexer.TokenLBrace:
		return p.parseBlock()
	case lexer.TokenReturn:
		return p.parseReturnStatement()
	case lexer.TokenIf:
		return p.parseIfStatement()
	case lexer.TokenWhile:
		p.nextToken()
		cond := p.parseParenCond()
		if cond == nil {
			return nil
		}
		body := p.parseStatement()
		if body == nil {
			return nil
		}
		return &cabs.While{Cond: cond, Body: body, Loc: loc}
	case lexer.TokenDo:
		p.nextToken()
		body := p.parseStatement()
		if body == nil || !p.expect(lexer.TokenWhile) {
			return nil
		}
		cond := p.parseParenCond()
		if cond == nil || !p.expect(lexer.TokenSemicolon) {
			return nil
		}
		return &cabs.DoWhile{Body: body, Cond: cond, Loc: loc}
	case lexer.TokenFor:
		return p.parseForStatement()
	case lexer.TokenBreak:
		p.nextToken()
		if !p.expect(lexer.TokenSemicolon) {
			return nil
		}
		return &cabs.Break{Loc: loc}
	case lexer.TokenContinue:
		p.nextToken()
		if !p.expect(lexer.TokenSemicolon) {
			return nil
		}
		return &cabs.Continue{Loc: loc}
	case lexer.TokenSemicolon:
		p.nextToken()
		return &cabs.Empty{Loc: loc}
	case lexer.TokenPragma:
		return p.parseStatementPragma()
	case lexer.TokenSwitch, lexer.TokenGoto, lexer.TokenCase, lexer.TokenDefault:
		p.addError(fmt.Sprintf("%s statements are not supported", p.curToken.Type))
		return nil
	}

	expr := p.parseExpression()
	if expr == nil {
		return nil
	}
	if !p.expect(lexer.TokenSemicolon) {
		return nil
	}
	return &cabs.Computation{Expr: expr, Loc: loc}
}

func (p *Parser) parseParenCond() cabs.Expr {
	if !p.expect(lexer.TokenLParen) {
		return nil
	}
	cond := p.parseExpression()
	if cond == nil || !p.expect(lexer.TokenRParen) {
		return nil
	}
	return cond
}

func (p *Parser) parseReturnStatement() cabs.Stmt {
	loc := p.loc()
	p.nextToken() // consume 'return'

	var expr cabs.Expr
	if !p.curTokenIs(lexer.TokenSemicolon) {
		expr = p.parseExpression()
		if expr == nil {
			return nil
		}
	}

	if !p.expect(lexer.TokenSemicolon) {
		return nil
	}

	return &cabs.Return{Expr: expr, Loc: loc}
}

func (p *Parser) parseIfStatement() cabs.Stmt {
	loc := p.loc()
	p.nextToken() // consume 'if'
	cond := p.parseParenCond()
	if cond == nil {
		return nil
	}
	then := p.parseStatement()
	if then == nil {
		return nil
	}
	stmt := &cabs.If{Cond: cond, Then: then, Loc: loc}
	if p.curTokenIs(lexer.TokenElse) {
		p.nextToken()
		if stmt.Else = p.parseStatement(); stmt.Else == nil {
			return nil
		}
	}
	return stmt
}

func (p *Parser) parseForStatement() cabs.Stmt {
	loc := p.loc()
	p.nextToken() // consume 'for'
	if !p.expect(lexer.TokenLParen) {
		return nil
	}
	stmt := &cabs.For{Loc: loc}
	switch {
	case p.curTokenIs(lexer.TokenSemicolon):
		p.nextToken()
	case p.isTypeStart(p.curToken):
		ds := p.parseLocalDeclaration()
		if ds == nil {
			return nil
		}
		stmt.Init = ds
	default:
		iloc := p.loc()
		init := p.parseExpression()
		if init == nil || !p.expect(lexer.TokenSemicolon) {
			return nil
		}
		stmt.Init = &cabs.Computation{Expr: init, Loc: iloc}
	}
	if !p.curTokenIs(lexer.TokenSemicolon) {
		if stmt.Cond = p.parseExpression(); stmt.Cond == nil {
			return nil
		}
	}
	if !p.expect(lexer.TokenSemicolon) {
		return nil
	}
	if !p.curTokenIs(lexer.TokenRParen) {
		if stmt.Step = p.parseExpression(); stmt.Step == nil {
			return nil
		}
	}
	if !p.expect(lexer.TokenRParen) {
		return nil
	}
	if stmt.Body = p.parseStatement(); stmt.Body == nil {
		return nil
	}
	return stmt
}
