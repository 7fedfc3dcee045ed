package control

import (
	"strconv"
	"strings"
)

// Trigger conditions use a closed expression language: a fixed metric
// vocabulary compared against numeric literals, combined with AND/OR
// and parentheses. Nothing is ever evaluated as code.
//
//	latency_p99 > 3000 && error_rate >= 0.05
//	(cpu_utilization > 0.9 || memory_utilization > 0.9) && burn_rate > 0.75

var conditionVocabulary = map[string]bool{
	"latency_p99":        true,
	"error_rate":         true,
	"cpu_utilization":    true,
	"memory_utilization": true,
	"throughput":         true,
	"burn_rate":          true,
}

// Condition is a parsed, immutable trigger expression.
type Condition struct {
	src  string
	root exprNode
	vars []string
}

// ParseCondition compiles src against the closed vocabulary. Unknown
// identifiers, malformed literals, and dangling tokens are rejected.
func ParseCondition(src string) (*Condition, error) {
	toks, err := scanCondition(src)
	if err != nil {
		return nil, err
	}
	p := &condParser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, NewError(ErrCodeInvalidInput, "condition %q: unexpected %q", src, p.toks[p.pos].text)
	}

	seen := map[string]bool{}
	var vars []string
	collectVars(root, seen, &vars)
	return &Condition{src: src, root: root, vars: vars}, nil
}

// Eval resolves the condition against a metric environment. Metrics
// absent from env read as 0.
func (c *Condition) Eval(env map[string]float64) bool {
	return c.root.eval(env)
}

// Vars lists the metrics the condition reads, in first-use order.
func (c *Condition) Vars() []string { return c.vars }

func (c *Condition) String() string { return c.src }

type exprNode interface {
	eval(env map[string]float64) bool
}

type logicNode struct {
	and         bool
	left, right exprNode
}

func (n *logicNode) eval(env map[string]float64) bool {
	if n.and {
		return n.left.eval(env) && n.right.eval(env)
	}
	return n.left.eval(env) || n.right.eval(env)
}

type compareNode struct {
	metric string
	op     string
	value  float64
}

func (n *compareNode) eval(env map[string]float64) bool {
	v := env[n.metric]
	switch n.op {
	case ">":
		return v > n.value
	case ">=":
		return v >= n.value
	case "<":
		return v < n.value
	case "<=":
		return v <= n.value
	case "==":
		return v == n.value
	case "!=":
		return v != n.value
	}
	return false
}

func collectVars(n exprNode, seen map[string]bool, out *[]string) {
	switch v := n.(type) {
	case *logicNode:
		collectVars(v.left, seen, out)
		collectVars(v.right, seen, out)
	case *compareNode:
		if !seen[v.metric] {
			seen[v.metric] = true
			*out = append(*out, v.metric)
		}
	}
}

type condToken struct {
	kind string // ident, number, op, and, or, lparen, rparen
	text string
}

func scanCondition(src string) ([]condToken, error) {
	var toks []condToken
	i := 0
	for i < len(src) {
		ch := src[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n':
			i++
		case ch == '(':
			toks = append(toks, condToken{"lparen", "("})
			i++
		case ch == ')':
			toks = append(toks, condToken{"rparen", ")"})
			i++
		case ch == '&' || ch == '|':
			if i+1 >= len(src) || src[i+1] != ch {
				return nil, NewError(ErrCodeInvalidInput, "condition %q: lone %q at %d", src, string(ch), i)
			}
			if ch == '&' {
				toks = append(toks, condToken{"and", "&&"})
			} else {
				toks = append(toks, condToken{"or", "||"})
			}
			i += 2
		case ch == '>' || ch == '<' || ch == '=' || ch == '!':
			op := string(ch)
			if i+1 < len(src) && src[i+1] == '=' {
				op += "="
				i++
			}
			i++
			if op == "=" || op == "!" {
				return nil, NewError(ErrCodeInvalidInput, "condition %q: bad operator %q", src, op)
			}
			toks = append(toks, condToken{"op", op})
		case ch >= '0' && ch <= '9' || ch == '.':
			j := i
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.') {
				j++
			}
			toks = append(toks, condToken{"number", src[i:j]})
			i = j
		case ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch == '_':
			j := i
			for j < len(src) && (src[j] >= 'a' && src[j] <= 'z' || src[j] >= 'A' && src[j] <= 'Z' || src[j] >= '0' && src[j] <= '9' || src[j] == '_') {
				j++
			}
			word := src[i:j]
			switch strings.ToUpper(word) {
			case "AND":
				toks = append(toks, condToken{"and", word})
			case "OR":
				toks = append(toks, condToken{"or", word})
			default:
				toks = append(toks, condToken{"ident", word})
			}
			i = j
		default:
			return nil, NewError(ErrCodeInvalidInput, "condition %q: bad character %q at %d", src, string(ch), i)
		}
	}
	if len(toks) == 0 {
		return nil, NewError(ErrCodeInvalidInput, "empty condition")
	}
	return toks, nil
}

type condParser struct {
	toks []condToken
	pos  int
}

func (p *condParser) peek() (condToken, bool) {
	if p.pos >= len(p.toks) {
		return condToken{}, false
	}
	return p.toks[p.pos], true
}

func (p *condParser) parseOr() (exprNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != "or" {
			return left, nil
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logicNode{and: false, left: left, right: right}
	}
}

func (p *condParser) parseAnd() (exprNode, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != "and" {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &logicNode{and: true, left: left, right: right}
	}
}

func (p *condParser) parseTerm() (exprNode, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, NewError(ErrCodeInvalidInput, "condition ends mid-expression")
	}

	if tok.kind == "lparen" {
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		closing, ok := p.peek()
		if !ok || closing.kind != "rparen" {
			return nil, NewError(ErrCodeInvalidInput, "missing closing parenthesis")
		}
		p.pos++
		return inner, nil
	}

	if tok.kind != "ident" {
		return nil, NewError(ErrCodeInvalidInput, "expected metric name, got %q", tok.text)
	}
	if !conditionVocabulary[tok.text] {
		return nil, NewError(ErrCodeInvalidInput, "unknown metric %q", tok.text)
	}
	p.pos++

	opTok, ok := p.peek()
	if !ok || opTok.kind != "op" {
		return nil, NewError(ErrCodeInvalidInput, "metric %q: expected comparison operator", tok.text)
	}
	p.pos++

	numTok, ok := p.peek()
	if !ok || numTok.kind != "number" {
		return nil, NewError(ErrCodeInvalidInput, "metric %q: expected numeric literal", tok.text)
	}
	p.pos++

	value, err := strconv.ParseFloat(numTok.text, 64)
	if err != nil {
		return nil, NewError(ErrCodeInvalidInput, "bad numeric literal %q", numTok.text)
	}
	return &compareNode{metric: tok.text, op: opTok.text, value: value}, nil
}
