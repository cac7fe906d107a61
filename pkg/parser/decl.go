package parser

import (
	"fmt"

	"github.com/raymyers/ralph-oss/pkg/cabs"
	"github.com/raymyers/ralph-oss/pkg/ctypes"
	"github.com/raymyers/ralph-oss/pkg/lexer"
)

// declSpec is the result of parsing declaration specifiers
type declSpec struct {
	storage cabs.Storage
	base    cabs.TypeExpr
	structs []*cabs.StructDef
	loc     cabs.Loc
}

// builtinCounts tallies base type keywords
type builtinCounts struct {
	void, char, short, int, long, float, double, signed, unsigned, boolean int
}

func (c builtinCounts) any() bool {
	return c != builtinCounts{}
}

func (c builtinCounts) resolve() (ctypes.Type, error) {
	unsigned := c.unsigned > 0
	switch {
	case c.void > 0:
		return ctypes.Void(), nil
	case c.boolean > 0:
		return ctypes.Bool(), nil
	case c.char > 0:
		switch {
		case unsigned:
			return ctypes.UChar(), nil
		case c.signed > 0:
			return ctypes.SChar(), nil
		}
		return ctypes.Char(), nil
	case c.short > 0:
		if unsigned {
			return ctypes.UShort(), nil
		}
		return ctypes.Short(), nil
	case c.float > 0:
		return ctypes.Float(), nil
	case c.double > 0:
		return ctypes.Double(), nil
	case c.long >= 2:
		if unsigned {
			return ctypes.ULongLong(), nil
		}
		return ctypes.LongLong(), nil
	case c.long == 1:
		if unsigned {
			return ctypes.ULong(), nil
		}
		return ctypes.Long(), nil
	case c.int > 0 || c.signed > 0 || unsigned:
		if unsigned {
			return ctypes.UInt(), nil
		}
		return ctypes.Int(), nil
	}
	return nil, fmt.Errorf("missing type specifier")
}

func (p *Parser) isQualifier() bool {
	switch p.curToken.Type {
	case lexer.TokenConst, lexer.TokenVolatile, lexer.TokenRestrict:
		return true
	}
	return false
}

// isTypeStart reports whether tok can begin declaration specifiers
func (p *Parser) isTypeStart(tok lexer.Token) bool {
	switch tok.Type {
	case lexer.TokenVoid, lexer.TokenChar, lexer.TokenShort, lexer.TokenInt_,
		lexer.TokenLong, lexer.TokenFloat, lexer.TokenDouble, lexer.TokenSigned,
		lexer.TokenUnsigned, lexer.TokenBool, lexer.TokenStruct, lexer.TokenUnion,
		lexer.TokenConst, lexer.TokenVolatile, lexer.TokenRestrict,
		lexer.TokenTypedef, lexer.TokenStatic, lexer.TokenExtern, lexer.TokenAuto,
		lexer.TokenRegister, lexer.TokenInline, lexer.TokenAttr:
		return true
	case lexer.TokenIdent:
		return p.typedefs[tok.Literal]
	}
	return false
}

func (p *Parser) parseDeclSpec() (*declSpec, bool) {
	spec := &declSpec{loc: p.loc()}
	var counts builtinCounts
	isConst := false

loop:
	for {
		switch p.curToken.Type {
		case lexer.TokenTypedef:
			spec.storage = cabs.StorageTypedef
		case lexer.TokenStatic:
			spec.storage = cabs.StorageStatic
		case lexer.TokenExtern:
			spec.storage = cabs.StorageExtern
		case lexer.TokenRegister:
			spec.storage = cabs.StorageRegister
		case lexer.TokenAuto, lexer.TokenInline, lexer.TokenVolatile, lexer.TokenRestrict:
		case lexer.TokenConst:
			isConst = true
		case lexer.TokenAttr:
			p.parseAttribute()
			continue
		case lexer.TokenVoid:
			counts.void++
		case lexer.TokenChar:
			counts.char++
		case lexer.TokenShort:
			counts.short++
		case lexer.TokenInt_:
			counts.int++
		case lexer.TokenLong:
			counts.long++
		case lexer.TokenFloat:
			counts.float++
		case lexer.TokenDouble:
			counts.double++
		case lexer.TokenSigned:
			counts.signed++
		case lexer.TokenUnsigned:
			counts.unsigned++
		case lexer.TokenBool:
			counts.boolean++
		case lexer.TokenStruct, lexer.TokenUnion:
			if spec.base != nil || counts.any() {
				break loop
			}
			tag := p.parseTagType()
			if tag == nil {
				return nil, false
			}
			if tag.Def != nil {
				spec.structs = append(spec.structs, tag.Def)
			}
			spec.base = tag
			continue
		case lexer.TokenIdent:
			if spec.base != nil || counts.any() || !p.typedefs[p.curToken.Literal] {
				break loop
			}
			spec.base = &cabs.NamedType{Name: p.curToken.Literal}
		default:
			break loop
		}
		p.nextToken()
	}

	if spec.base == nil {
		t, err := counts.resolve()
		if err != nil {
			p.addError(fmt.Sprintf("expected type specifier, got %s", p.curToken.Type))
			return nil, false
		}
		spec.base = &cabs.BuiltinType{Type: t}
	}
	if isConst {
		spec.base = &cabs.ConstType{Elem: spec.base}
	}
	return spec, true
}

// parseTagType parses "struct name", "struct name { ... }" or an anonymous
// struct or union definition.
func (p *Parser) parseTagType() *cabs.TagType {
	loc := p.loc()
	tag := &cabs.TagType{Union: p.curTokenIs(lexer.TokenUnion)}
	p.nextToken()
	var lifecycle *cabs.LifecycleAttr
	for p.curTokenIs(lexer.TokenAttr) {
		if lc := p.parseAttribute(); lc != nil {
			lifecycle = lc
		}
	}
	if p.curTokenIs(lexer.TokenIdent) {
		tag.Name = p.curToken.Literal
		p.nextToken()
	}
	if !p.curTokenIs(lexer.TokenLBrace) {
		if tag.Name == "" {
			p.addError("expected struct name or '{'")
			return nil
		}
		return tag
	}
	if tag.Name == "" {
		p.anonTags++
		tag.Name = fmt.Sprintf("__anon%d", p.anonTags)
	}
	def := &cabs.StructDef{Union: tag.Union, Name: tag.Name, Loc: loc}
	p.nextToken() // consume '{'
	for !p.curTokenIs(lexer.TokenRBrace) && !p.curTokenIs(lexer.TokenEOF) {
		spec, ok := p.parseDeclSpec()
		if !ok {
			return nil
		}
		for {
			name, t, floc := p.parseDeclarator(spec.base, false)
			def.Fields = append(def.Fields, &cabs.VarDecl{Name: name, Type: t, Loc: floc})
			if !p.curTokenIs(lexer.TokenComma) {
				break
			}
			p.nextToken()
		}
		if !p.expect(lexer.TokenSemicolon) {
			return nil
		}
	}
	p.nextToken() // consume '}'
	for p.curTokenIs(lexer.TokenAttr) {
		if lc := p.parseAttribute(); lc != nil {
			lifecycle = lc
		}
	}
	def.Lifecycle = lifecycle
	tag.Def = def
	return tag
}

// parseAttribute consumes __attribute__((...)) and returns the lifecycle
// attribute if present.
func (p *Parser) parseAttribute() *cabs.LifecycleAttr {
	p.nextToken() // consume __attribute__
	if !p.expect(lexer.TokenLParen) || !p.expect(lexer.TokenLParen) {
		return nil
	}
	var lc *cabs.LifecycleAttr
	for !p.curTokenIs(lexer.TokenRParen) && !p.curTokenIs(lexer.TokenEOF) {
		name := p.curToken.Literal
		p.nextToken()
		if name == "oss_lifecycle" && p.curTokenIs(lexer.TokenLParen) {
			p.nextToken()
			var fns []string
			for p.curTokenIs(lexer.TokenIdent) {
				fns = append(fns, p.curToken.Literal)
				p.nextToken()
				if !p.curTokenIs(lexer.TokenComma) {
					break
				}
				p.nextToken()
			}
			if len(fns) != 3 {
				p.addError("oss_lifecycle expects constructor, destructor and copy functions")
			} else {
				lc = &cabs.LifecycleAttr{Ctor: fns[0], Dtor: fns[1], Copy: fns[2]}
			}
			p.expect(lexer.TokenRParen)
		} else if p.curTokenIs(lexer.TokenLParen) {
			p.skipBalanced()
		}
		if p.curTokenIs(lexer.TokenComma) {
			p.nextToken()
		}
	}
	p.expect(lexer.TokenRParen)
	p.expect(lexer.TokenRParen)
	return lc
}

// skipBalanced skips a parenthesized token run starting at '('
func (p *Parser) skipBalanced() {
	depth := 0
	for !p.curTokenIs(lexer.TokenEOF) {
		switch p.curToken.Type {
		case lexer.TokenLParen:
			depth++
		case lexer.TokenRParen:
			depth--
			if depth == 0 {
				p.nextToken()
				return
			}
		}
		p.nextToken()
	}
}

// parseDeclarator parses a declarator around base. When abstract is set
// the name may be omitted.
func (p *Parser) parseDeclarator(base cabs.TypeExpr, abstract bool) (string, cabs.TypeExpr, cabs.Loc) {
	loc := p.loc()
	for p.curTokenIs(lexer.TokenStar) {
		p.nextToken()
		ptr := &cabs.PointerType{Elem: base}
		for p.isQualifier() {
			if p.curTokenIs(lexer.TokenConst) {
				ptr.Const = true
			}
			p.nextToken()
		}
		base = ptr
	}

	var name string
	var hole, inner cabs.TypeExpr
	switch {
	case p.curTokenIs(lexer.TokenIdent) && !p.typedefs[p.curToken.Literal]:
		name = p.curToken.Literal
		loc = p.loc()
		p.nextToken()
	case p.curTokenIs(lexer.TokenLParen) && p.startsNestedDeclarator():
		p.nextToken()
		hole = &cabs.NamedType{}
		name, inner, loc = p.parseDeclarator(hole, abstract)
		p.expect(lexer.TokenRParen)
	case !abstract:
		p.addError(fmt.Sprintf("expected identifier in declarator, got %s", p.curToken.Type))
	}

	var suffixes []func(cabs.TypeExpr) cabs.TypeExpr
	for {
		if p.curTokenIs(lexer.TokenLBracket) {
			p.nextToken()
			for p.isQualifier() || p.curTokenIs(lexer.TokenStatic) {
				p.nextToken()
			}
			var size cabs.Expr
			if !p.curTokenIs(lexer.TokenRBracket) {
				size = p.parseAssignment()
			}
			p.expect(lexer.TokenRBracket)
			suffixes = append(suffixes, func(t cabs.TypeExpr) cabs.TypeExpr {
				return &cabs.ArrayType{Elem: t, Size: size}
			})
		} else if p.curTokenIs(lexer.TokenLParen) {
			p.nextToken()
			params, variadic := p.parseParams()
			suffixes = append(suffixes, func(t cabs.TypeExpr) cabs.TypeExpr {
				return &cabs.FuncType{Return: t, Params: params, Variadic: variadic}
			})
		} else {
			break
		}
	}
	t := base
	for i := len(suffixes) - 1; i >= 0; i-- {
		t = suffixes[i](t)
	}
	if hole != nil {
		t = fillHole(inner, hole, t)
	}
	for p.curTokenIs(lexer.TokenAttr) {
		p.parseAttribute()
	}
	return name, t, loc
}

func (p *Parser) startsNestedDeclarator() bool {
	switch p.peekToken.Type {
	case lexer.TokenStar, lexer.TokenLParen:
		return true
	case lexer.TokenIdent:
		return !p.typedefs[p.peekToken.Literal]
	}
	return false
}

// fillHole replaces the placeholder of a nested declarator with t
func fillHole(inner, hole, t cabs.TypeExpr) cabs.TypeExpr {
	if inner == hole {
		return t
	}
	switch it := inner.(type) {
	case *cabs.PointerType:
		it.Elem = fillHole(it.Elem, hole, t)
	case *cabs.ArrayType:
		it.Elem = fillHole(it.Elem, hole, t)
	case *cabs.FuncType:
		it.Return = fillHole(it.Return, hole, t)
	case *cabs.ConstType:
		it.Elem = fillHole(it.Elem, hole, t)
	}
	return inner
}

// parseParams parses a parameter list after '('
func (p *Parser) parseParams() ([]*cabs.VarDecl, bool) {
	var params []*cabs.VarDecl
	variadic := false
	if p.curTokenIs(lexer.TokenVoid) && p.peekTokenIs(lexer.TokenRParen) {
		p.nextToken()
	}
	for !p.curTokenIs(lexer.TokenRParen) && !p.curTokenIs(lexer.TokenEOF) {
		if p.curTokenIs(lexer.TokenEllipsis) {
			variadic = true
			p.nextToken()
			break
		}
		spec, ok := p.parseDeclSpec()
		if !ok {
			break
		}
		name, t, loc := p.parseDeclarator(spec.base, true)
		params = append(params, &cabs.VarDecl{Name: name, Type: t, Param: true, Storage: spec.storage, Loc: loc})
		if !p.curTokenIs(lexer.TokenComma) {
			break
		}
		p.nextToken()
	}
	p.expect(lexer.TokenRParen)
	return params, variadic
}

// parseTypeName parses an abstract declarator used by casts and sizeof
func (p *Parser) parseTypeName() *cabs.TypeName {
	loc := p.loc()
	spec, ok := p.parseDeclSpec()
	if !ok {
		return nil
	}
	_, t, _ := p.parseDeclarator(spec.base, true)
	return &cabs.TypeName{Type: t, Loc: loc}
}

// parseExternalDeclaration parses a file-scope declaration or function
// definition. task is the preceding "#pragma oss task", if any.
func (p *Parser) parseExternalDeclaration(task *cabs.TaskPragma) []cabs.Definition {
	spec, ok := p.parseDeclSpec()
	if !ok {
		return nil
	}
	gd := &cabs.GlobalDecl{Structs: spec.structs, Loc: spec.loc}
	var funcs []cabs.Definition
	if p.curTokenIs(lexer.TokenSemicolon) {
		p.nextToken()
		gd.Task = task
		return []cabs.Definition{gd}
	}

	count := 0
	for {
		name, t, loc := p.parseDeclarator(spec.base, false)
		count++
		if ft, ok := t.(*cabs.FuncType); ok && spec.storage != cabs.StorageTypedef {
			fd := &cabs.FuncDecl{Name: name, Type: ft, Storage: spec.storage, Task: task, Loc: loc}
			if p.curTokenIs(lexer.TokenLBrace) {
				fd.Body = p.parseBlock()
				if task != nil {
					task.Declarators = count
				}
				return append(nonEmpty(gd), append(funcs, fd)...)
			}
			funcs = append(funcs, fd)
		} else {
			vd := &cabs.VarDecl{Name: name, Type: t, Storage: spec.storage, Global: true, Loc: loc}
			if spec.storage == cabs.StorageTypedef {
				p.typedefs[name] = true
			}
			if p.curTokenIs(lexer.TokenAssign) {
				p.nextToken()
				vd.Init = p.parseInitializer()
			}
			gd.Decls = append(gd.Decls, vd)
		}
		if !p.curTokenIs(lexer.TokenComma) {
			break
		}
		p.nextToken()
	}
	p.expect(lexer.TokenSemicolon)
	if task != nil {
		task.Declarators = count
		// a lone prototype carries the pragma itself
		if len(gd.Decls) > 0 || count > 1 {
			gd.Task = task
		}
	}
	return append(nonEmpty(gd), funcs...)
}

func nonEmpty(gd *cabs.GlobalDecl) []cabs.Definition {
	if len(gd.Decls) == 0 && len(gd.Structs) == 0 && gd.Task == nil {
		return nil
	}
	return []cabs.Definition{gd}
}

func (p *Parser) parseInitializer() cabs.Expr {
	if p.curTokenIs(lexer.TokenLBrace) {
		p.addError("brace-enclosed initializers are not supported")
		p.skipBraces()
		return nil
	}
	return p.parseAssignment()
}

func (p *Parser) skipBraces() {
	depth := 0
	for !p.curTokenIs(lexer.TokenEOF) {
		switch p.curToken.Type {
		case lexer.TokenLBrace:
			depth++
		case lexer.TokenRBrace:
			depth--
			if depth == 0 {
				p.nextToken()
				return
			}
		}
		p.nextToken()
	}
}

// parseLocalDeclaration parses a block-scope declaration
func (p *Parser) parseLocalDeclaration() *cabs.DeclStmt {
	loc := p.loc()
	spec, ok := p.parseDeclSpec()
	if !ok {
		return nil
	}
	ds := &cabs.DeclStmt{Structs: spec.structs, Loc: loc}
	if p.curTokenIs(lexer.TokenSemicolon) {
		p.nextToken()
		return ds
	}
	for {
		name, t, dloc := p.parseDeclarator(spec.base, false)
		if _, ok := t.(*cabs.FuncType); ok && spec.storage != cabs.StorageTypedef {
			p.addError(fmt.Sprintf("block-scope function declaration of %s is not supported", name))
		}
		vd := &cabs.VarDecl{Name: name, Type: t, Storage: spec.storage, Loc: dloc}
		if spec.storage == cabs.StorageTypedef {
			p.typedefs[name] = true
		}
		if p.curTokenIs(lexer.TokenAssign) {
			p.nextToken()
			vd.Init = p.parseInitializer()
		}
		ds.Decls = append(ds.Decls, vd)
		if !p.curTokenIs(lexer.TokenComma) {
			break
		}
		p.nextToken()
	}
	if !p.expect(lexer.TokenSemicolon) {
		return nil
	}
	return ds
}
