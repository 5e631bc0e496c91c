package syntax

import "hbash.dev/bashbox/token"

// arithParser is a small precedence-climbing parser for the C-style
// arithmetic sub-language used by $((...)), (( ... )), and for ((;;)).
// It is kept separate from the main [Parser] because arithmetic tokens
// (numbers, operators) have nothing to do with shell word/quote scanning.
type arithParser struct {
	p      *Parser
	src    string
	pos    int
	offset Pos // byte offset of src[0] in the original source, for node positions
}

func parseArithm(p *Parser, src string, offset int) ArithmExpr {
	ap := &arithParser{p: p, src: src, offset: Pos(offset)}
	if ap.atEOF() {
		return nil
	}
	x := ap.expr()
	return x
}

// splitCStyle parses a for((init;cond;post)) header, which is the one place
// the comma operator is not used to separate clauses: each of the three
// parts is itself a full arithmetic expression (commas inside are the
// expression-sequencing operator).
func splitCStyle(p *Parser, src string, offset int) (init, cond, post ArithmExpr) {
	parts := splitTop(src, ';')
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	init = parseArithm(p, parts[0], offset)
	cond = parseArithm(p, parts[1], offset+len(parts[0])+1)
	post = parseArithm(p, parts[2], offset+len(parts[0])+len(parts[1])+2)
	return
}

func splitTop(s string, sep byte) []string {
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case sep:
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

func (ap *arithParser) atEOF() bool {
	ap.skipSpace()
	return ap.pos >= len(ap.src)
}

func (ap *arithParser) skipSpace() {
	for ap.pos < len(ap.src) {
		switch ap.src[ap.pos] {
		case ' ', '\t', '\n':
			ap.pos++
			continue
		}
		return
	}
}

func (ap *arithParser) cur() byte {
	if ap.pos >= len(ap.src) {
		return 0
	}
	return ap.src[ap.pos]
}

func (ap *arithParser) at(off int) byte {
	i := ap.pos + off
	if i < 0 || i >= len(ap.src) {
		return 0
	}
	return ap.src[i]
}

// expr parses the full comma-operator sequence: a, b, c.
func (ap *arithParser) expr() ArithmExpr {
	x := ap.assign()
	for {
		ap.skipSpace()
		if ap.cur() == ',' {
			opPos := ap.pos
			ap.pos++
			y := ap.assign()
			x = &BinaryArithm{OpPos: ap.offset + Pos(opPos), Op: token.COMMA, X: x, Y: y}
			continue
		}
		return x
	}
}

var assignOps = []struct {
	s  string
	op token.Kind
}{
	{"+=", token.ADDASSGN}, {"-=", token.SUBASSGN}, {"*=", token.MULASSGN},
	{"/=", token.QUOASSGN}, {"%=", token.REMASSGN}, {"&=", token.ANDASSGN},
	{"|=", token.ORASSGN}, {"^=", token.XORASSGN},
	{"<<=", token.SHLASSGN}, {">>=", token.SHRASSGN},
}

func (ap *arithParser) assign() ArithmExpr {
	x := ap.ternary()
	ap.skipSpace()
	for _, a := range assignOps {
		if hasPrefixAt(ap.src, ap.pos, a.s) {
			opPos := ap.pos
			ap.pos += len(a.s)
			y := ap.assign()
			return &BinaryArithm{OpPos: ap.offset + Pos(opPos), Op: a.op, X: x, Y: y}
		}
	}
	if ap.cur() == '=' && ap.at(1) != '=' {
		opPos := ap.pos
		ap.pos++
		y := ap.assign()
		return &BinaryArithm{OpPos: ap.offset + Pos(opPos), Op: token.ASSIGN, X: x, Y: y}
	}
	return x
}

func hasPrefixAt(s string, i int, pre string) bool {
	return i+len(pre) <= len(s) && s[i:i+len(pre)] == pre
}

func (ap *arithParser) ternary() ArithmExpr {
	x := ap.logOr()
	ap.skipSpace()
	if ap.cur() == '?' {
		opPos := ap.pos
		ap.pos++
		y := ap.assign()
		ap.skipSpace()
		var colonPos int
		if ap.cur() == ':' {
			colonPos = ap.pos
			ap.pos++
		}
		z := ap.assign()
		return &BinaryArithm{OpPos: ap.offset + Pos(opPos), Op: token.QUEST, X: x,
			Y: &BinaryArithm{OpPos: ap.offset + Pos(colonPos), Op: token.COLON, X: y, Y: z}}
	}
	return x
}

type binLevel struct {
	ops []string
	kos []token.Kind
}

func (ap *arithParser) binary(next func() ArithmExpr, ops []string, kinds []token.Kind) ArithmExpr {
	x := next()
	for {
		ap.skipSpace()
		matched := -1
		for i, o := range ops {
			if hasPrefixAt(ap.src, ap.pos, o) {
				// avoid matching a short prefix of a longer, different operator
				if matched == -1 || len(o) > len(ops[matched]) {
					matched = i
				}
			}
		}
		if matched == -1 {
			return x
		}
		opPos := ap.pos
		ap.pos += len(ops[matched])
		y := next()
		x = &BinaryArithm{OpPos: ap.offset + Pos(opPos), Op: kinds[matched], X: x, Y: y}
	}
}

func (ap *arithParser) logOr() ArithmExpr {
	return ap.binary(ap.logAnd, []string{"||"}, []token.Kind{token.LOR})
}
func (ap *arithParser) logAnd() ArithmExpr {
	return ap.binary(ap.bitOr, []string{"&&"}, []token.Kind{token.LAND})
}
func (ap *arithParser) bitOr() ArithmExpr {
	return ap.binary(ap.bitXor, []string{"|"}, []token.Kind{token.OR})
}
func (ap *arithParser) bitXor() ArithmExpr {
	return ap.binary(ap.bitAnd, []string{"^"}, []token.Kind{token.XOR})
}
func (ap *arithParser) bitAnd() ArithmExpr {
	return ap.binary(ap.equality, []string{"&"}, []token.Kind{token.AND})
}
func (ap *arithParser) equality() ArithmExpr {
	return ap.binary(ap.relational, []string{"==", "!="}, []token.Kind{token.EQL, token.NEQ})
}
func (ap *arithParser) relational() ArithmExpr {
	return ap.binary(ap.shift, []string{"<=", ">=", "<", ">"}, []token.Kind{token.LEQ, token.GEQ, token.LSS, token.GTR})
}
func (ap *arithParser) shift() ArithmExpr {
	return ap.binary(ap.additive, []string{"<<", ">>"}, []token.Kind{token.SHL, token.SHR})
}
func (ap *arithParser) additive() ArithmExpr {
	return ap.binary(ap.multiplicative, []string{"+", "-"}, []token.Kind{token.ADD, token.SUB})
}
func (ap *arithParser) multiplicative() ArithmExpr {
	return ap.binary(ap.power, []string{"*", "/", "%"}, []token.Kind{token.MUL, token.QUO, token.REM})
}

// power is right-associative: 2**3**2 == 2**(3**2).
func (ap *arithParser) power() ArithmExpr {
	x := ap.unary()
	ap.skipSpace()
	if hasPrefixAt(ap.src, ap.pos, "**") {
		opPos := ap.pos
		ap.pos += 2
		y := ap.power()
		return &BinaryArithm{OpPos: ap.offset + Pos(opPos), Op: token.POW, X: x, Y: y}
	}
	return x
}

func (ap *arithParser) unary() ArithmExpr {
	ap.skipSpace()
	opPos := ap.pos
	switch {
	case hasPrefixAt(ap.src, ap.pos, "++"):
		ap.pos += 2
		return &UnaryArithm{OpPos: ap.offset + Pos(opPos), Op: token.INC, X: ap.unary()}
	case hasPrefixAt(ap.src, ap.pos, "--"):
		ap.pos += 2
		return &UnaryArithm{OpPos: ap.offset + Pos(opPos), Op: token.DEC, X: ap.unary()}
	case ap.cur() == '!':
		ap.pos++
		return &UnaryArithm{OpPos: ap.offset + Pos(opPos), Op: token.NOT, X: ap.unary()}
	case ap.cur() == '~':
		ap.pos++
		return &UnaryArithm{OpPos: ap.offset + Pos(opPos), Op: token.XOR, X: ap.unary()}
	case ap.cur() == '-':
		ap.pos++
		return &UnaryArithm{OpPos: ap.offset + Pos(opPos), Op: token.SUB, X: ap.unary()}
	case ap.cur() == '+':
		ap.pos++
		return &UnaryArithm{OpPos: ap.offset + Pos(opPos), Op: token.ADD, X: ap.unary()}
	}
	return ap.postfix()
}

func (ap *arithParser) postfix() ArithmExpr {
	x := ap.primary()
	ap.skipSpace()
	opPos := ap.pos
	if hasPrefixAt(ap.src, ap.pos, "++") {
		ap.pos += 2
		return &UnaryArithm{OpPos: ap.offset + Pos(opPos), Op: token.INC, Post: true, X: x}
	}
	if hasPrefixAt(ap.src, ap.pos, "--") {
		ap.pos += 2
		return &UnaryArithm{OpPos: ap.offset + Pos(opPos), Op: token.DEC, Post: true, X: x}
	}
	return x
}

func isAllDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func (ap *arithParser) primary() ArithmExpr {
	ap.skipSpace()
	if ap.cur() == '(' {
		lp := ap.pos
		ap.pos++
		x := ap.expr()
		ap.skipSpace()
		rp := ap.pos
		if ap.cur() == ')' {
			ap.pos++
		}
		return &ParenArithm{Lparen: ap.offset + Pos(lp), Rparen: ap.offset + Pos(rp), X: x}
	}
	if ap.cur() == '$' {
		// ${var} / $var used directly inside arithmetic context; delegate
		// to the main word scanner so parameter expansion rules still apply.
		sub := &Parser{lexer: *newLexer(ap.src[ap.pos:])}
		part := sub.dollar()
		consumed := sub.pos
		w := &Word{Parts: []WordPart{part}}
		ap.pos += consumed
		return &WordArithm{W: w}
	}
	start := ap.pos
	for ap.pos < len(ap.src) {
		b := ap.src[ap.pos]
		if b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '.' {
			ap.pos++
			continue
		}
		break
	}
	if ap.pos < len(ap.src) && ap.src[ap.pos] == '#' && ap.pos > start && isAllDigits(ap.src[start:ap.pos]) {
		// base#digits literal (e.g. 16#FF); the digit alphabet after '#'
		// runs wider than a bare number, so extend the scan past it.
		ap.pos++
		for ap.pos < len(ap.src) {
			b := ap.src[ap.pos]
			if b == '_' || b == '@' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') {
				ap.pos++
				continue
			}
			break
		}
	}
	lit := ap.src[start:ap.pos]
	if lit == "" {
		// malformed input; advance one byte to guarantee progress
		if ap.pos < len(ap.src) {
			ap.pos++
		}
		lit = "0"
	}
	return &WordArithm{W: &Word{Parts: []WordPart{&Lit{ValuePos: ap.offset + Pos(start), ValueEnd: ap.offset + Pos(ap.pos), Value: lit}}}}
}
