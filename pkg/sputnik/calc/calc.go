// Package calc implements the local arithmetic fast path. Expressions built
// from digits, + - * / ( ) . and whitespace (optionally ending in "=") are
// evaluated without spending a model call; anything else is declined and
// falls through to the normal reply path.
package calc

import (
	"math"
	"strconv"
	"strings"
)

// Evaluate computes an arithmetic expression. The boolean reports whether
// the input was accepted by the fast path at all; a false return means the
// caller should defer to the model. Whole-number results are formatted as
// integers, everything else as a decimal string.
func Evaluate(input string) (string, bool) {
	expr := strings.TrimSpace(input)
	expr = strings.TrimSuffix(expr, "=")
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "", false
	}

	for _, r := range expr {
		switch {
		case r >= '0' && r <= '9':
		case r == '+' || r == '-' || r == '*' || r == '/':
		case r == '(' || r == ')' || r == '.':
		case r == ' ' || r == '\t':
		default:
			return "", false
		}
	}

	p := parser{input: expr}
	value, ok := p.parseExpr()
	if !ok {
		return "", false
	}
	p.skipSpaces()
	if p.pos != len(p.input) {
		return "", false
	}
	if math.IsInf(value, 0) || math.IsNaN(value) {
		return "", false
	}

	if value == math.Trunc(value) && math.Abs(value) < 1e15 {
		return strconv.FormatInt(int64(value), 10), true
	}
	return strconv.FormatFloat(value, 'f', -1, 64), true
}

// parser is a recursive-descent evaluator over the validated character set.
type parser struct {
	input string
	pos   int
}

func (p *parser) skipSpaces() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) peek() byte {
	if p.pos < len(p.input) {
		return p.input[p.pos]
	}
	return 0
}

// parseExpr handles + and -.
func (p *parser) parseExpr() (float64, bool) {
	left, ok := p.parseTerm()
	if !ok {
		return 0, false
	}
	for {
		p.skipSpaces()
		op := p.peek()
		if op != '+' && op != '-' {
			return left, true
		}
		p.pos++
		right, ok := p.parseTerm()
		if !ok {
			return 0, false
		}
		if op == '+' {
			left += right
		} else {
			left -= right
		}
	}
}

// parseTerm handles * and /.
func (p *parser) parseTerm() (float64, bool) {
	left, ok := p.parseFactor()
	if !ok {
		return 0, false
	}
	for {
		p.skipSpaces()
		op := p.peek()
		if op != '*' && op != '/' {
			return left, true
		}
		p.pos++
		right, ok := p.parseFactor()
		if !ok {
			return 0, false
		}
		if op == '*' {
			left *= right
		} else {
			if right == 0 {
				return 0, false
			}
			left /= right
		}
	}
}

// parseFactor handles numbers, parentheses, and unary signs.
func (p *parser) parseFactor() (float64, bool) {
	p.skipSpaces()
	switch p.peek() {
	case '+':
		p.pos++
		return p.parseFactor()
	case '-':
		p.pos++
		v, ok := p.parseFactor()
		return -v, ok
	case '(':
		p.pos++
		v, ok := p.parseExpr()
		if !ok {
			return 0, false
		}
		p.skipSpaces()
		if p.peek() != ')' {
			return 0, false
		}
		p.pos++
		return v, true
	}
	return p.parseNumber()
}

func (p *parser) parseNumber() (float64, bool) {
	start := p.pos
	sawDigit := false
	sawDot := false
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c >= '0' && c <= '9' {
			sawDigit = true
			p.pos++
			continue
		}
		if c == '.' && !sawDot {
			sawDot = true
			p.pos++
			continue
		}
		break
	}
	if !sawDigit {
		return 0, false
	}
	v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
