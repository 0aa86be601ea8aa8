// internal/rules/formula.go
package rules

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/solatis/rewardkeeper/internal/types"
)

/*
 * Reward formula compilation and evaluation.
 *
 * A formula is a tiny arithmetic language: integer/decimal literals, the
 * variables G (raw score), P (percentage) and M (max score), the binary
 * operators + - * /, parentheses and unary minus. Nothing else is accepted.
 *
 * Pipeline:
 *   1. Validate alphabet and strip whitespace
 *   2. Tokenize left to right (unary minus rewritten as 0 followed by '-')
 *   3. Shunting-Yard to RPN with precedence + - : 1, * / : 2, left-associative
 *   4. Stack-machine evaluation with a finiteness check after every operation
 *
 * The grammar is whitelisted by construction; there is no dynamic code
 * execution anywhere in the path. CompileFormula runs steps 1-3 once so rule
 * authoring can reject a broken formula before it is ever stored.
 *
 * Unary minus: the rewrite to (0, '-') means the parser never special-cases
 * unary operators. The rewrite binds with binary '-' precedence, so 2*-3
 * evaluates as (2*0)-3.
 */

// tokenKind classifies formula tokens.
type tokenKind int

const (
	tokNumber tokenKind = iota
	tokVariable
	tokOperator
	tokLParen
	tokRParen
)

// token is one lexical unit. num is set for tokNumber, sym for the rest.
type token struct {
	kind tokenKind
	num  float64
	sym  byte
}

// precedence of binary operators; all are left-associative.
var precedence = map[byte]int{
	'+': 1,
	'-': 1,
	'*': 2,
	'/': 2,
}

// Vars binds the formula variables.
type Vars struct {
	G float64 // raw score
	P float64 // percentage
	M float64 // max score
}

// Formula is a validated expression in RPN form, safe to evaluate repeatedly
// and from multiple goroutines.
type Formula struct {
	source string
	rpn    []token
}

// String returns the formula as authored.
func (f *Formula) String() string {
	return f.source
}

// CompileFormula validates and converts a formula to RPN.
func CompileFormula(formula string) (*Formula, error) {
	trimmed := strings.TrimSpace(formula)
	if trimmed == "" {
		return nil, types.ErrEmptyFormula
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		switch {
		case unicode.IsSpace(r):
			continue
		case isFormulaRune(r):
			b.WriteRune(r)
		default:
			return nil, fmt.Errorf("%w: %q", types.ErrInvalidFormulaChar, r)
		}
	}

	tokens, err := tokenize(b.String())
	if err != nil {
		return nil, err
	}

	rpn, err := toRPN(tokens)
	if err != nil {
		return nil, err
	}

	return &Formula{source: formula, rpn: rpn}, nil
}

// ValidateFormula reports whether formula compiles.
func ValidateFormula(formula string) error {
	_, err := CompileFormula(formula)
	return err
}

// EvaluateFormula compiles and evaluates formula in one step.
func EvaluateFormula(formula string, vars Vars) (float64, error) {
	f, err := CompileFormula(formula)
	if err != nil {
		return 0, err
	}
	return f.Evaluate(vars)
}

// isFormulaRune reports whether r belongs to the formula alphabet.
func isFormulaRune(r rune) bool {
	switch {
	case r >= '0' && r <= '9':
		return true
	case r == 'G', r == 'P', r == 'M':
		return true
	case r == '+', r == '-', r == '*', r == '/', r == '(', r == ')', r == '.':
		return true
	default:
		return false
	}
}

// tokenize scans a whitespace-free expression.
// A '-' at the start, after an operator or after '(' is unary and is emitted
// as the pair (0, '-').
func tokenize(expr string) ([]token, error) {
	tokens := make([]token, 0, len(expr)+4)

	for i := 0; i < len(expr); {
		c := expr[i]

		switch {
		case (c >= '0' && c <= '9') || c == '.':
			start := i
			for i < len(expr) && ((expr[i] >= '0' && expr[i] <= '9') || expr[i] == '.') {
				i++
			}
			lit := expr[start:i]
			n, err := strconv.ParseFloat(lit, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %q", types.ErrMalformedNumber, lit)
			}
			tokens = append(tokens, token{kind: tokNumber, num: n})
			continue

		case c == 'G' || c == 'P' || c == 'M':
			tokens = append(tokens, token{kind: tokVariable, sym: c})

		case c == '-' && unaryPosition(tokens):
			tokens = append(tokens, token{kind: tokNumber, num: 0}, token{kind: tokOperator, sym: '-'})

		case c == '+' || c == '-' || c == '*' || c == '/':
			tokens = append(tokens, token{kind: tokOperator, sym: c})

		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, sym: c})

		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, sym: c})

		default:
			return nil, fmt.Errorf("%w: unexpected token %q", types.ErrInvalidFormulaChar, c)
		}
		i++
	}

	return tokens, nil
}

// unaryPosition reports whether a '-' appearing next is a unary minus.
func unaryPosition(prev []token) bool {
	if len(prev) == 0 {
		return true
	}
	last := prev[len(prev)-1]
	return last.kind == tokOperator || last.kind == tokLParen
}

// toRPN converts infix tokens to Reverse Polish Notation (Shunting-Yard).
func toRPN(tokens []token) ([]token, error) {
	output := make([]token, 0, len(tokens))
	ops := make([]token, 0, len(tokens)/2)

	for _, t := range tokens {
		switch t.kind {
		case tokNumber, tokVariable:
			output = append(output, t)

		case tokOperator:
			// Left-associative: pop while the stacked operator binds at least as tight
			for len(ops) > 0 {
				top := ops[len(ops)-1]
				if top.kind != tokOperator || precedence[top.sym] < precedence[t.sym] {
					break
				}
				output = append(output, top)
				ops = ops[:len(ops)-1]
			}
			ops = append(ops, t)

		case tokLParen:
			ops = append(ops, t)

		case tokRParen:
			matched := false
			for len(ops) > 0 {
				top := ops[len(ops)-1]
				ops = ops[:len(ops)-1]
				if top.kind == tokLParen {
					matched = true
					break
				}
				output = append(output, top)
			}
			if !matched {
				return nil, fmt.Errorf("%w: unexpected ')'", types.ErrMismatchedParens)
			}
		}
	}

	for len(ops) > 0 {
		top := ops[len(ops)-1]
		ops = ops[:len(ops)-1]
		if top.kind == tokLParen {
			return nil, fmt.Errorf("%w: unclosed '('", types.ErrMismatchedParens)
		}
		output = append(output, top)
	}

	return output, nil
}

// Evaluate runs the RPN program against vars.
func (f *Formula) Evaluate(vars Vars) (float64, error) {
	stack := make([]float64, 0, len(f.rpn))

	for _, t := range f.rpn {
		switch t.kind {
		case tokNumber:
			stack = append(stack, t.num)

		case tokVariable:
			stack = append(stack, vars.lookup(t.sym))

		case tokOperator:
			if len(stack) < 2 {
				return 0, types.ErrBadExpression
			}
			a, b := stack[len(stack)-2], stack[len(stack)-1]
			stack = stack[:len(stack)-2]

			r := apply(t.sym, a, b)
			if !isFinite(r) {
				return 0, fmt.Errorf("%w: %v %c %v", types.ErrNonFiniteResult, a, t.sym, b)
			}
			stack = append(stack, r)
		}
	}

	if len(stack) != 1 {
		return 0, types.ErrBadExpression
	}
	if !isFinite(stack[0]) {
		return 0, types.ErrNonFiniteResult
	}
	return stack[0], nil
}

func (v Vars) lookup(name byte) float64 {
	switch name {
	case 'G':
		return v.G
	case 'P':
		return v.P
	default:
		return v.M
	}
}

func apply(op byte, a, b float64) float64 {
	switch op {
	case '+':
		return a + b
	case '-':
		return a - b
	case '*':
		return a * b
	default:
		return a / b
	}
}
