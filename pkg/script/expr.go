package script

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

var (
	// ErrSyntax indicates the expression source could not be parsed.
	ErrSyntax = errors.New("expression syntax error")
	// ErrUnknownIdentifier indicates a referenced path does not resolve in the scope.
	ErrUnknownIdentifier = errors.New("unknown identifier")
	// ErrTypeMismatch indicates an unsupported coercion was attempted.
	ErrTypeMismatch = errors.New("type mismatch")
)

// Compiled is the executable form of an expression. Compilation happens
// once, at graph-build time; evaluation is allocation-light and carries
// no parser state.
type Compiled struct {
	src  string
	root node
}

// Compile parses an expression into its executable form.
//
// Identifiers resolve against the scope: `event` is the payload,
// `event.a.b` walks nested maps inside it, and `meta.ns.key` reads the
// metadata side channel.
func Compile(src string) (*Compiled, error) {
	trimmed := strings.TrimSpace(src)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrSyntax)
	}

	p := newParser(newLexer(trimmed))
	root, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokenEOF); err != nil {
		return nil, err
	}

	return &Compiled{src: trimmed, root: root}, nil
}

// MustCompile is Compile for static expressions in tests and wiring code.
func MustCompile(src string) *Compiled {
	c, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return c
}

// Source returns the original expression text.
func (c *Compiled) Source() string {
	return c.src
}

// Eval evaluates the expression against the scope.
func (c *Compiled) Eval(ctx context.Context, sc *Scope) (any, error) {
	return c.root.eval(ctx, sc)
}

// Test evaluates the expression and requires a boolean result.
func (c *Compiled) Test(ctx context.Context, sc *Scope) (bool, error) {
	v, err := c.root.eval(ctx, sc)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %q does not evaluate to a boolean", ErrTypeMismatch, c.src)
	}
	return b, nil
}

// Apply evaluates the expression as a payload transform.
func (c *Compiled) Apply(ctx context.Context, sc *Scope) (any, error) {
	return c.root.eval(ctx, sc)
}

// --- Lexer ---

type tokenType int

const (
	tokenIllegal tokenType = iota
	tokenEOF
	tokenIdentifier
	tokenNumber
	tokenString
	tokenBool
	tokenNull
	tokenAnd
	tokenOr
	tokenNot
	tokenEq
	tokenNeq
	tokenGt
	tokenGte
	tokenLt
	tokenLte
	tokenLParen
	tokenRParen
	tokenMinus
	tokenPlus
)

func (t tokenType) String() string {
	switch t {
	case tokenEOF:
		return "eof"
	case tokenIdentifier:
		return "identifier"
	case tokenNumber:
		return "number"
	case tokenString:
		return "string"
	case tokenBool:
		return "bool"
	case tokenNull:
		return "null"
	case tokenAnd:
		return "&&"
	case tokenOr:
		return "||"
	case tokenNot:
		return "!"
	case tokenEq:
		return "=="
	case tokenNeq:
		return "!="
	case tokenGt:
		return ">"
	case tokenGte:
		return ">="
	case tokenLt:
		return "<"
	case tokenLte:
		return "<="
	case tokenLParen:
		return "("
	case tokenRParen:
		return ")"
	case tokenMinus:
		return "-"
	case tokenPlus:
		return "+"
	default:
		return "illegal"
	}
}

type token struct {
	typ     tokenType
	literal string
}

type lexer struct {
	input string
	pos   int
}

func newLexer(input string) *lexer {
	return &lexer{input: input}
}

func (l *lexer) next() token {
	l.skipSpace()
	if l.pos >= len(l.input) {
		return token{typ: tokenEOF}
	}

	ch := l.input[l.pos]
	switch ch {
	case '(':
		l.pos++
		return token{typ: tokenLParen, literal: "("}
	case ')':
		l.pos++
		return token{typ: tokenRParen, literal: ")"}
	case '!':
		if l.peek() == '=' {
			l.pos += 2
			return token{typ: tokenNeq, literal: "!="}
		}
		l.pos++
		return token{typ: tokenNot, literal: "!"}
	case '=':
		if l.peek() == '=' {
			l.pos += 2
			return token{typ: tokenEq, literal: "=="}
		}
	case '>':
		if l.peek() == '=' {
			l.pos += 2
			return token{typ: tokenGte, literal: ">="}
		}
		l.pos++
		return token{typ: tokenGt, literal: ">"}
	case '<':
		if l.peek() == '=' {
			l.pos += 2
			return token{typ: tokenLte, literal: "<="}
		}
		l.pos++
		return token{typ: tokenLt, literal: "<"}
	case '&':
		if l.peek() == '&' {
			l.pos += 2
			return token{typ: tokenAnd, literal: "&&"}
		}
	case '|':
		if l.peek() == '|' {
			l.pos += 2
			return token{typ: tokenOr, literal: "||"}
		}
	case '-':
		l.pos++
		return token{typ: tokenMinus, literal: "-"}
	case '+':
		l.pos++
		return token{typ: tokenPlus, literal: "+"}
	case '\'', '"':
		return l.scanString()
	}

	if isDigit(ch) {
		return l.scanNumber()
	}
	if isIdentStart(ch) {
		return l.scanIdentifier()
	}
	return token{typ: tokenIllegal, literal: string(ch)}
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.input) {
		switch l.input[l.pos] {
		case ' ', '\t', '\n', '\r':
			l.pos++
		default:
			return
		}
	}
}

func (l *lexer) peek() byte {
	if l.pos+1 >= len(l.input) {
		return 0
	}
	return l.input[l.pos+1]
}

func (l *lexer) scanNumber() token {
	start := l.pos
	hasDot := false
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == '.' {
			if hasDot {
				break
			}
			hasDot = true
			l.pos++
			continue
		}
		if !isDigit(ch) {
			break
		}
		l.pos++
	}
	return token{typ: tokenNumber, literal: l.input[start:l.pos]}
}

func (l *lexer) scanIdentifier() token {
	start := l.pos
	for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
		l.pos++
	}
	literal := l.input[start:l.pos]
	switch literal {
	case "true", "false":
		return token{typ: tokenBool, literal: literal}
	case "null":
		return token{typ: tokenNull, literal: literal}
	case "and":
		return token{typ: tokenAnd, literal: literal}
	case "or":
		return token{typ: tokenOr, literal: literal}
	case "not":
		return token{typ: tokenNot, literal: literal}
	}
	return token{typ: tokenIdentifier, literal: literal}
}

func (l *lexer) scanString() token {
	quote := l.input[l.pos]
	l.pos++
	var b strings.Builder
	escaped := false
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		l.pos++
		if escaped {
			switch ch {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteByte(ch)
			}
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if ch == quote {
			return token{typ: tokenString, literal: b.String()}
		}
		b.WriteByte(ch)
	}
	return token{typ: tokenIllegal, literal: "unterminated string"}
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_' || ch == '$'
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch) || ch == '.'
}

// --- Parser ---

type parser struct {
	lex *lexer
	cur token
}

func newParser(lex *lexer) *parser {
	p := &parser{lex: lex}
	p.cur = lex.next()
	return p
}

func (p *parser) advance() {
	p.cur = p.lex.next()
}

func (p *parser) expect(typ tokenType) error {
	if p.cur.typ != typ {
		return fmt.Errorf("%w: expected %s, found %q", ErrSyntax, typ, p.cur.literal)
	}
	return nil
}

func (p *parser) parseExpression() (node, error) {
	return p.parseOr()
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.typ == tokenOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: tokenOr, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.cur.typ == tokenAnd {
		p.advance()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: tokenAnd, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur.typ {
		case tokenEq, tokenNeq, tokenGt, tokenGte, tokenLt, tokenLte:
			op := p.cur.typ
			p.advance()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &binaryNode{op: op, left: left, right: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur.typ == tokenPlus || p.cur.typ == tokenMinus {
		op := p.cur.typ
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	switch p.cur.typ {
	case tokenNot:
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: tokenNot, operand: operand}, nil
	case tokenMinus:
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: tokenMinus, operand: operand}, nil
	default:
		return p.parsePrimary()
	}
}

func (p *parser) parsePrimary() (node, error) {
	switch p.cur.typ {
	case tokenNumber:
		literal := p.cur.literal
		p.advance()
		if strings.Contains(literal, ".") {
			f, err := strconv.ParseFloat(literal, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad number %q", ErrSyntax, literal)
			}
			return &literalNode{value: f}, nil
		}
		i, err := strconv.ParseInt(literal, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q", ErrSyntax, literal)
		}
		return &literalNode{value: i}, nil
	case tokenString:
		n := &literalNode{value: p.cur.literal}
		p.advance()
		return n, nil
	case tokenBool:
		n := &literalNode{value: p.cur.literal == "true"}
		p.advance()
		return n, nil
	case tokenNull:
		p.advance()
		return &literalNode{value: nil}, nil
	case tokenIdentifier:
		path, err := compilePath(p.cur.literal)
		if err != nil {
			return nil, err
		}
		p.advance()
		return path, nil
	case tokenLParen:
		p.advance()
		inner, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokenRParen); err != nil {
			return nil, err
		}
		p.advance()
		return inner, nil
	default:
		return nil, fmt.Errorf("%w: unexpected token %q", ErrSyntax, p.cur.literal)
	}
}

// --- AST ---

type node interface {
	eval(ctx context.Context, sc *Scope) (any, error)
}

type literalNode struct {
	value any
}

func (n *literalNode) eval(context.Context, *Scope) (any, error) {
	return n.value, nil
}

const (
	rootEvent = "event"
	rootMeta  = "meta"
)

type pathNode struct {
	root  string
	steps []string
}

func compilePath(literal string) (*pathNode, error) {
	parts := strings.Split(literal, ".")
	switch parts[0] {
	case rootEvent, rootMeta:
		return &pathNode{root: parts[0], steps: parts[1:]}, nil
	default:
		return nil, fmt.Errorf("%w: %q (paths start with %q or %q)", ErrUnknownIdentifier, literal, rootEvent, rootMeta)
	}
}

func (n *pathNode) eval(_ context.Context, sc *Scope) (any, error) {
	var current any
	switch n.root {
	case rootEvent:
		current = sc.Value
	case rootMeta:
		if len(n.steps) < 2 {
			return nil, fmt.Errorf("%w: meta paths need a namespace and a key", ErrUnknownIdentifier)
		}
		v, ok := sc.Meta.Get(n.steps[0], n.steps[1])
		if !ok {
			return nil, fmt.Errorf("%w: meta.%s.%s", ErrUnknownIdentifier, n.steps[0], n.steps[1])
		}
		current = v
		return walkPath(current, n.steps[2:])
	}
	return walkPath(current, n.steps)
}

func walkPath(current any, steps []string) (any, error) {
	for _, step := range steps {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: cannot descend into %T at %q", ErrTypeMismatch, current, step)
		}
		v, ok := m[step]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownIdentifier, step)
		}
		current = v
	}
	return current, nil
}

type unaryNode struct {
	op      tokenType
	operand node
}

func (n *unaryNode) eval(ctx context.Context, sc *Scope) (any, error) {
	v, err := n.operand.eval(ctx, sc)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case tokenNot:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: ! requires a boolean operand", ErrTypeMismatch)
		}
		return !b, nil
	case tokenMinus:
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("%w: - requires a numeric operand", ErrTypeMismatch)
		}
		return -f, nil
	default:
		return nil, fmt.Errorf("%w: unsupported unary operator", ErrSyntax)
	}
}

type binaryNode struct {
	op          tokenType
	left, right node
}

func (n *binaryNode) eval(ctx context.Context, sc *Scope) (any, error) {
	left, err := n.left.eval(ctx, sc)
	if err != nil {
		return nil, err
	}

	// Short-circuit boolean operators before touching the right side.
	switch n.op {
	case tokenAnd, tokenOr:
		lb, ok := left.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s requires boolean operands", ErrTypeMismatch, n.op)
		}
		if n.op == tokenAnd && !lb {
			return false, nil
		}
		if n.op == tokenOr && lb {
			return true, nil
		}
		right, err := n.right.eval(ctx, sc)
		if err != nil {
			return nil, err
		}
		rb, ok := right.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s requires boolean operands", ErrTypeMismatch, n.op)
		}
		return rb, nil
	}

	right, err := n.right.eval(ctx, sc)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case tokenEq:
		return looseEqual(left, right), nil
	case tokenNeq:
		return !looseEqual(left, right), nil
	case tokenGt, tokenGte, tokenLt, tokenLte:
		return compareOrdered(n.op, left, right)
	case tokenPlus:
		return addValues(left, right)
	case tokenMinus:
		lf, lok := toFloat(left)
		rf, rok := toFloat(right)
		if !lok || !rok {
			return nil, fmt.Errorf("%w: - requires numeric operands", ErrTypeMismatch)
		}
		return lf - rf, nil
	default:
		return nil, fmt.Errorf("%w: unsupported operator", ErrSyntax)
	}
}

func addValues(left, right any) (any, error) {
	if ls, ok := left.(string); ok {
		if rs, ok := right.(string); ok {
			return ls + rs, nil
		}
		return nil, fmt.Errorf("%w: + mixes string and %T", ErrTypeMismatch, right)
	}
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if !lok || !rok {
		return nil, fmt.Errorf("%w: + requires two numbers or two strings", ErrTypeMismatch)
	}
	return lf + rf, nil
}

func compareOrdered(op tokenType, left, right any) (any, error) {
	if ls, ok := left.(string); ok {
		rs, ok := right.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s mixes string and %T", ErrTypeMismatch, op, right)
		}
		switch op {
		case tokenGt:
			return ls > rs, nil
		case tokenGte:
			return ls >= rs, nil
		case tokenLt:
			return ls < rs, nil
		default:
			return ls <= rs, nil
		}
	}

	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if !lok || !rok {
		return nil, fmt.Errorf("%w: %s requires comparable operands", ErrTypeMismatch, op)
	}
	switch op {
	case tokenGt:
		return lf > rf, nil
	case tokenGte:
		return lf >= rf, nil
	case tokenLt:
		return lf < rf, nil
	default:
		return lf <= rf, nil
	}
}

func looseEqual(left, right any) bool {
	if lf, ok := toFloat(left); ok {
		if rf, ok := toFloat(right); ok {
			return lf == rf
		}
		return false
	}
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	// Maps and slices are uncomparable; == on them would panic instead
	// of returning an evaluation result.
	if !reflect.TypeOf(left).Comparable() || !reflect.TypeOf(right).Comparable() {
		return reflect.DeepEqual(left, right)
	}
	return left == right
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
