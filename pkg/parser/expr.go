package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/raymyers/ralph-oss/pkg/cabs"
	"github.com/raymyers/ralph-oss/pkg/lexer"
)

type binaryInfo struct {
	prec int
	op   cabs.BinaryOp
}

var binaryOps = map[lexer.TokenType]binaryInfo{
	lexer.TokenOr:        {1, cabs.OpOr},
	lexer.TokenAnd:       {2, cabs.OpAnd},
	lexer.TokenPipe:      {3, cabs.OpBitOr},
	lexer.TokenCaret:     {4, cabs.OpBitXor},
	lexer.TokenAmpersand: {5, cabs.OpBitAnd},
	lexer.TokenEq:        {6, cabs.OpEq},
	lexer.TokenNe:        {6, cabs.OpNe},
	lexer.TokenLt:        {7, cabs.OpLt},
	lexer.TokenLe:        {7, cabs.OpLe},
	lexer.TokenGt:        {7, cabs.OpGt},
	lexer.TokenGe:        {7, cabs.OpGe},
	lexer.TokenShl:       {8, cabs.OpShl},
	lexer.TokenShr:       {8, cabs.OpShr},
	lexer.TokenPlus:      {9, cabs.OpAdd},
	lexer.TokenMinus:     {9, cabs.OpSub},
	lexer.TokenStar:      {10, cabs.OpMul},
	lexer.TokenSlash:     {10, cabs.OpDiv},
	lexer.TokenPercent:   {10, cabs.OpMod},
}

var assignOps = map[lexer.TokenType]cabs.BinaryOp{
	lexer.TokenAssign:        cabs.OpAssign,
	lexer.TokenPlusAssign:    cabs.OpAdd,
	lexer.TokenMinusAssign:   cabs.OpSub,
	lexer.TokenStarAssign:    cabs.OpMul,
	lexer.TokenSlashAssign:   cabs.OpDiv,
	lexer.TokenPercentAssign: cabs.OpMod,
	lexer.TokenAndAssign:     cabs.OpBitAnd,
	lexer.TokenOrAssign:      cabs.OpBitOr,
	lexer.TokenXorAssign:     cabs.OpBitXor,
	lexer.TokenShlAssign:     cabs.OpShl,
	lexer.TokenShrAssign:     cabs.OpShr,
}

var unaryOps = map[lexer.TokenType]cabs.UnaryOp{
	lexer.TokenMinus:     cabs.OpNeg,
	lexer.TokenPlus:      cabs.OpPlus,
	lexer.TokenNot:       cabs.OpNot,
	lexer.TokenTilde:     cabs.OpBitNot,
	lexer.TokenStar:      cabs.OpDeref,
	lexer.TokenAmpersand: cabs.OpAddrOf,
}

// ParseExpression parses a full (comma) expression
func (p *Parser) ParseExpression() cabs.Expr {
	return p.parseExpression()
}

func (p *Parser) parseExpression() cabs.Expr {
	loc := p.loc()
	e := p.parseAssignment()
	for e != nil && p.curTokenIs(lexer.TokenComma) {
		p.nextToken()
		right := p.parseAssignment()
		e = &cabs.Binary{Op: cabs.OpComma, Left: e, Right: right, Loc: loc}
	}
	return e
}

func (p *Parser) parseAssignment() cabs.Expr {
	loc := p.loc()
	left := p.parseConditional()
	if op, ok := assignOps[p.curToken.Type]; ok && left != nil {
		p.nextToken()
		right := p.parseAssignment()
		return &cabs.Assign{Op: op, Left: left, Right: right, Loc: loc}
	}
	return left
}

func (p *Parser) parseConditional() cabs.Expr {
	loc := p.loc()
	cond := p.parseBinary(1)
	if cond == nil || !p.curTokenIs(lexer.TokenQuestion) {
		return cond
	}
	p.nextToken()
	then := p.parseExpression()
	if !p.expect(lexer.TokenColon) {
		return nil
	}
	els := p.parseConditional()
	return &cabs.Conditional{Cond: cond, Then: then, Else: els, Loc: loc}
}

func (p *Parser) parseBinary(minPrec int) cabs.Expr {
	left := p.parseCast()
	for left != nil {
		info, ok := binaryOps[p.curToken.Type]
		if !ok || info.prec < minPrec {
			return left
		}
		loc := p.loc()
		p.nextToken()
		right := p.parseBinary(info.prec + 1)
		if right == nil {
			return nil
		}
		left = &cabs.Binary{Op: info.op, Left: left, Right: right, Loc: loc}
	}
	return left
}

func (p *Parser) parseCast() cabs.Expr {
	if p.curTokenIs(lexer.TokenLParen) && p.isTypeStart(p.peekToken) {
		loc := p.loc()
		p.nextToken()
		tn := p.parseTypeName()
		if tn == nil || !p.expect(lexer.TokenRParen) {
			return nil
		}
		operand := p.parseCast()
		if operand == nil {
			return nil
		}
		return &cabs.Cast{Type: tn, Expr: operand, Loc: loc}
	}
	return p.parseUnary()
}

func (p *Parser) parseUnary() cabs.Expr {
	loc := p.loc()
	switch p.curToken.Type {
	case lexer.TokenIncrement, lexer.TokenDecrement:
		op := cabs.OpPreInc
		if p.curTokenIs(lexer.TokenDecrement) {
			op = cabs.OpPreDec
		}
		p.nextToken()
		operand := p.parseUnary()
		if operand == nil {
			return nil
		}
		return &cabs.Unary{Op: op, Expr: operand, Loc: loc}
	case lexer.TokenSizeof:
		p.nextToken()
		if p.curTokenIs(lexer.TokenLParen) && p.isTypeStart(p.peekToken) {
			p.nextToken()
			tn := p.parseTypeName()
			if tn == nil || !p.expect(lexer.TokenRParen) {
				return nil
			}
			return &cabs.SizeofType{Type: tn, Loc: loc}
		}
		operand := p.parseUnary()
		if operand == nil {
			return nil
		}
		return &cabs.SizeofExpr{Expr: operand, Loc: loc}
	case lexer.TokenLBracket:
		if p.inDepend {
			return p.parseShape()
		}
	}
	if op, ok := unaryOps[p.curToken.Type]; ok {
		p.nextToken()
		operand := p.parseCast()
		if operand == nil {
			return nil
		}
		return &cabs.Unary{Op: op, Expr: operand, Loc: loc}
	}
	return p.parsePostfix()
}

// parseShape parses an array shaping expression [d1]...[dn]operand
func (p *Parser) parseShape() cabs.Expr {
	shape := &cabs.Shape{Loc: p.loc()}
	for p.curTokenIs(lexer.TokenLBracket) {
		p.nextToken()
		dim := p.parseExpression()
		if dim == nil || !p.expect(lexer.TokenRBracket) {
			return nil
		}
		shape.Dims = append(shape.Dims, dim)
	}
	shape.Expr = p.parseCast()
	if shape.Expr == nil {
		return nil
	}
	return shape
}

func (p *Parser) parsePostfix() cabs.Expr {
	e := p.parsePrimary()
	for e != nil {
		loc := p.loc()
		switch p.curToken.Type {
		case lexer.TokenLBracket:
			e = p.parseSubscript(e)
		case lexer.TokenLParen:
			p.nextToken()
			var args []cabs.Expr
			for !p.curTokenIs(lexer.TokenRParen) && !p.curTokenIs(lexer.TokenEOF) {
				arg := p.parseAssignment()
				if arg == nil {
					return nil
				}
				args = append(args, arg)
				if !p.curTokenIs(lexer.TokenComma) {
					break
				}
				p.nextToken()
			}
			if !p.expect(lexer.TokenRParen) {
				return nil
			}
			e = &cabs.Call{Func: e, Args: args, Loc: loc}
		case lexer.TokenDot, lexer.TokenArrow:
			arrow := p.curTokenIs(lexer.TokenArrow)
			if !p.expectPeek(lexer.TokenIdent) {
				return nil
			}
			e = &cabs.Member{Expr: e, Name: p.curToken.Literal, Arrow: arrow, Loc: loc}
			p.nextToken()
		case lexer.TokenIncrement:
			p.nextToken()
			e = &cabs.Unary{Op: cabs.OpPostInc, Expr: e, Loc: loc}
		case lexer.TokenDecrement:
			p.nextToken()
			e = &cabs.Unary{Op: cabs.OpPostDec, Expr: e, Loc: loc}
		default:
			return e
		}
	}
	return e
}

// parseSubscript parses "[index]" or, inside dependency clauses, an array
// section "[lower:bound]" / "[lower;length]".
func (p *Parser) parseSubscript(base cabs.Expr) cabs.Expr {
	loc := p.loc()
	p.nextToken() // consume '['
	isSep := func() bool {
		return p.inDepend && (p.curTokenIs(lexer.TokenColon) || p.curTokenIs(lexer.TokenSemicolon))
	}
	var lower cabs.Expr
	if !isSep() {
		if p.inDepend {
			lower = p.parseAssignment()
		} else {
			lower = p.parseExpression()
		}
		if lower == nil {
			return nil
		}
	}
	if !isSep() {
		if !p.expect(lexer.TokenRBracket) {
			return nil
		}
		return &cabs.Index{Array: base, Index: lower, Loc: loc}
	}
	semi := p.curTokenIs(lexer.TokenSemicolon)
	p.nextToken()
	var bound cabs.Expr
	if !p.curTokenIs(lexer.TokenRBracket) {
		if bound = p.parseAssignment(); bound == nil {
			return nil
		}
	}
	if !p.expect(lexer.TokenRBracket) {
		return nil
	}
	form := p.sectionForm
	if semi {
		form = cabs.LengthForm
	}
	return &cabs.Section{Array: base, Lower: lower, Bound: bound, Form: form, Semicolon: semi, Loc: loc}
}

func (p *Parser) parsePrimary() cabs.Expr {
	loc := p.loc()
	switch p.curToken.Type {
	case lexer.TokenIdent:
		v := &cabs.Variable{Name: p.curToken.Literal, Loc: loc}
		p.nextToken()
		return v
	case lexer.TokenInt:
		lit := p.curToken.Literal
		p.nextToken()
		return p.parseIntLiteral(lit, loc)
	case lexer.TokenFloatLit:
		lit := p.curToken.Literal
		p.nextToken()
		trimmed := strings.TrimRight(lit, "fFlL")
		value, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			p.addError(fmt.Sprintf("invalid floating constant %s", lit))
		}
		return &cabs.FloatConst{Value: value, Text: lit, Single: strings.ContainsAny(lit[len(trimmed):], "fF"), Loc: loc}
	case lexer.TokenCharLit:
		lit := p.curToken.Literal
		p.nextToken()
		decoded := decodeEscapes(lit)
		var value int64
		if len(decoded) > 0 {
			value = int64(int8(decoded[0]))
		}
		return &cabs.CharConst{Value: value, Text: "'" + lit + "'", Loc: loc}
	case lexer.TokenString:
		var sb strings.Builder
		for p.curTokenIs(lexer.TokenString) {
			sb.WriteString(decodeEscapes(p.curToken.Literal))
			p.nextToken()
		}
		return &cabs.StringLit{Value: sb.String(), Loc: loc}
	case lexer.TokenLParen:
		p.nextToken()
		inner := p.parseExpression()
		if inner == nil || !p.expect(lexer.TokenRParen) {
			return nil
		}
		return &cabs.Paren{Expr: inner, Loc: loc}
	}
	p.addError(fmt.Sprintf("expected expression, got %s", p.curToken.Type))
	return nil
}

func (p *Parser) parseIntLiteral(lit string, loc cabs.Loc) cabs.Expr {
	digits := strings.TrimRight(lit, "uUlL")
	suffix := strings.ToLower(lit[len(digits):])
	value, err := strconv.ParseUint(digits, 0, 64)
	if err != nil {
		p.addError(fmt.Sprintf("invalid integer constant %s", lit))
	}
	c := &cabs.Constant{
		Value:    int64(value),
		Text:     lit,
		Unsigned: strings.Contains(suffix, "u"),
		Long:     strings.Contains(suffix, "l") || value > 0x7fffffff,
		Loc:      loc,
	}
	return c
}

// decodeEscapes decodes C escape sequences
func decodeEscapes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			sb.WriteByte(s[i])
			continue
		}
		i++
		switch c := s[i]; c {
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case 'r':
			sb.WriteByte('\r')
		case 'a':
			sb.WriteByte('\a')
		case 'b':
			sb.WriteByte('\b')
		case 'f':
			sb.WriteByte('\f')
		case 'v':
			sb.WriteByte('\v')
		case 'x':
			j := i + 1
			for j < len(s) && j < i+3 && strings.IndexByte("0123456789abcdefABCDEF", s[j]) >= 0 {
				j++
			}
			v, _ := strconv.ParseUint(s[i+1:j], 16, 8)
			sb.WriteByte(byte(v))
			i = j - 1
		case '0', '1', '2', '3', '4', '5', '6', '7':
			j := i
			for j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7' {
				j++
			}
			v, _ := strconv.ParseUint(s[i:j], 8, 8)
			sb.WriteByte(byte(v))
			i = j - 1
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
