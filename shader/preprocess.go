package shader

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Preprocessor errors.
var (
	// ErrUnbalancedDirective is returned for #else, #elif or #endif without a
	// matching #if, for #elif after #else, and for a block left open at the
	// end of the source.
	ErrUnbalancedDirective = errors.New("shader: unbalanced preprocessor directive")

	// ErrBadDirective is returned for unknown directives and malformed
	// #if expressions.
	ErrBadDirective = errors.New("shader: malformed preprocessor directive")
)

// condFrame is one level of #if nesting.
type condFrame struct {
	parentActive bool // enclosing region emits code
	active       bool // current branch emits code
	taken        bool // some branch of this block was active
	seenElse     bool
	line         int
}

// Preprocess expands conditional blocks and substitutes valued defines.
//
// Supported directives are #define, #undef, #ifdef, #ifndef, #if, #elif,
// #else and #endif. #if and #elif take expressions over integer literals,
// define names, defined(NAME), the comparison operators, !, && and ||.
// A define with an empty value evaluates to 1, an undefined name to 0.
//
// Directive lines and lines in inactive regions are replaced by empty lines
// so compiler diagnostics keep their original line numbers.
//
// Defines with a non-empty value are substituted as whole identifiers in
// active source lines. Substitution is not recursive.
func Preprocess(src string, defines *DefineList) (string, error) {
	env := defines.Clone()
	var (
		stack []condFrame
		out   strings.Builder
	)
	out.Grow(len(src))

	active := func() bool {
		if len(stack) == 0 {
			return true
		}
		return stack[len(stack)-1].active
	}

	lines := strings.Split(src, "\n")
	for i, line := range lines {
		lineNo := i + 1
		if i > 0 {
			out.WriteByte('\n')
		}

		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if active() {
				out.WriteString(substitute(line, env))
			}
			continue
		}

		directive, rest := splitDirective(trimmed[1:])
		switch directive {
		case "define":
			if !active() {
				continue
			}
			name, value := splitDirective(rest)
			if name == "" {
				return "", fmt.Errorf("%w: line %d: #define without a name", ErrBadDirective, lineNo)
			}
			env.Set(name, value)

		case "undef":
			if active() {
				env.Delete(strings.TrimSpace(rest))
			}

		case "ifdef", "ifndef", "if":
			f := condFrame{parentActive: active(), line: lineNo}
			if f.parentActive {
				cond, err := evalCondition(directive, rest, env)
				if err != nil {
					return "", fmt.Errorf("line %d: %w", lineNo, err)
				}
				f.active, f.taken = cond, cond
			}
			stack = append(stack, f)

		case "elif":
			if len(stack) == 0 {
				return "", fmt.Errorf("%w: line %d: #elif without #if", ErrUnbalancedDirective, lineNo)
			}
			f := &stack[len(stack)-1]
			if f.seenElse {
				return "", fmt.Errorf("%w: line %d: #elif after #else", ErrUnbalancedDirective, lineNo)
			}
			f.active = false
			if f.parentActive && !f.taken {
				cond, err := evalExpr(rest, env)
				if err != nil {
					return "", fmt.Errorf("line %d: %w", lineNo, err)
				}
				f.active, f.taken = cond, cond
			}

		case "else":
			if len(stack) == 0 {
				return "", fmt.Errorf("%w: line %d: #else without #if", ErrUnbalancedDirective, lineNo)
			}
			f := &stack[len(stack)-1]
			if f.seenElse {
				return "", fmt.Errorf("%w: line %d: duplicate #else", ErrUnbalancedDirective, lineNo)
			}
			f.seenElse = true
			f.active = f.parentActive && !f.taken
			f.taken = true

		case "endif":
			if len(stack) == 0 {
				return "", fmt.Errorf("%w: line %d: #endif without #if", ErrUnbalancedDirective, lineNo)
			}
			stack = stack[:len(stack)-1]

		default:
			if active() {
				return "", fmt.Errorf("%w: line %d: unknown directive #%s", ErrBadDirective, lineNo, directive)
			}
		}
	}

	if len(stack) > 0 {
		return "", fmt.Errorf("%w: #if at line %d is never closed", ErrUnbalancedDirective, stack[len(stack)-1].line)
	}
	return out.String(), nil
}

// splitDirective splits s at the first run of whitespace.
func splitDirective(s string) (head, rest string) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i], strings.TrimSpace(s[i+1:])
	}
	return s, ""
}

func evalCondition(directive, rest string, env *DefineList) (bool, error) {
	switch directive {
	case "ifdef":
		return env.Has(strings.TrimSpace(rest)), nil
	case "ifndef":
		return !env.Has(strings.TrimSpace(rest)), nil
	default:
		return evalExpr(rest, env)
	}
}

// substitute replaces whole identifiers that name a valued define.
func substitute(line string, env *DefineList) string {
	if env.Len() == 0 {
		return line
	}
	var sb strings.Builder
	for i := 0; i < len(line); {
		c := line[i]
		if !isIdentStart(c) {
			sb.WriteByte(c)
			i++
			continue
		}
		j := i + 1
		for j < len(line) && isIdentChar(line[j]) {
			j++
		}
		word := line[i:j]
		if v, ok := env.Get(word); ok && v != "" {
			sb.WriteString(v)
		} else {
			sb.WriteString(word)
		}
		i = j
	}
	return sb.String()
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// exprParser evaluates #if expressions by recursive descent:
//
//	or      = and { "||" and }
//	and     = unary { "&&" unary }
//	unary   = "!" unary | compare
//	compare = primary [ op primary ]
//	primary = number | name | "defined" ( "(" name ")" | name ) | "(" or ")"
type exprParser struct {
	toks []string
	pos  int
	env  *DefineList
}

func evalExpr(s string, env *DefineList) (bool, error) {
	toks, err := tokenize(s)
	if err != nil {
		return false, err
	}
	if len(toks) == 0 {
		return false, fmt.Errorf("%w: empty #if expression", ErrBadDirective)
	}
	p := &exprParser{toks: toks, env: env}
	v, err := p.or()
	if err != nil {
		return false, err
	}
	if p.pos != len(p.toks) {
		return false, fmt.Errorf("%w: unexpected %q in #if expression", ErrBadDirective, p.toks[p.pos])
	}
	return v != 0, nil
}

func tokenize(s string) ([]string, error) {
	var toks []string
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case isIdentChar(c):
			j := i + 1
			for j < len(s) && isIdentChar(s[j]) {
				j++
			}
			toks = append(toks, s[i:j])
			i = j
		case c == '(' || c == ')':
			toks = append(toks, string(c))
			i++
		default:
			if i+1 < len(s) {
				two := s[i : i+2]
				switch two {
				case "&&", "||", "==", "!=", "<=", ">=":
					toks = append(toks, two)
					i += 2
					continue
				}
			}
			switch c {
			case '!', '<', '>':
				toks = append(toks, string(c))
				i++
			default:
				return nil, fmt.Errorf("%w: unexpected character %q in #if expression", ErrBadDirective, c)
			}
		}
	}
	return toks, nil
}

func (p *exprParser) peek() string {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return ""
}

func (p *exprParser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *exprParser) or() (int64, error) {
	v, err := p.and()
	if err != nil {
		return 0, err
	}
	for p.peek() == "||" {
		p.next()
		r, err := p.and()
		if err != nil {
			return 0, err
		}
		v = b2i(v != 0 || r != 0)
	}
	return v, nil
}

func (p *exprParser) and() (int64, error) {
	v, err := p.unary()
	if err != nil {
		return 0, err
	}
	for p.peek() == "&&" {
		p.next()
		r, err := p.unary()
		if err != nil {
			return 0, err
		}
		v = b2i(v != 0 && r != 0)
	}
	return v, nil
}

func (p *exprParser) unary() (int64, error) {
	if p.peek() == "!" {
		p.next()
		v, err := p.unary()
		if err != nil {
			return 0, err
		}
		return b2i(v == 0), nil
	}
	return p.compare()
}

func (p *exprParser) compare() (int64, error) {
	l, err := p.primary()
	if err != nil {
		return 0, err
	}
	op := p.peek()
	switch op {
	case "==", "!=", "<", ">", "<=", ">=":
	default:
		return l, nil
	}
	p.next()
	r, err := p.primary()
	if err != nil {
		return 0, err
	}
	switch op {
	case "==":
		return b2i(l == r), nil
	case "!=":
		return b2i(l != r), nil
	case "<":
		return b2i(l < r), nil
	case ">":
		return b2i(l > r), nil
	case "<=":
		return b2i(l <= r), nil
	default:
		return b2i(l >= r), nil
	}
}

func (p *exprParser) primary() (int64, error) {
	t := p.next()
	switch {
	case t == "":
		return 0, fmt.Errorf("%w: truncated #if expression", ErrBadDirective)
	case t == "(":
		v, err := p.or()
		if err != nil {
			return 0, err
		}
		if p.next() != ")" {
			return 0, fmt.Errorf("%w: missing ) in #if expression", ErrBadDirective)
		}
		return v, nil
	case t == "defined":
		paren := p.peek() == "("
		if paren {
			p.next()
		}
		name := p.next()
		if !isIdentStart(firstByte(name)) {
			return 0, fmt.Errorf("%w: defined() needs a name", ErrBadDirective)
		}
		if paren && p.next() != ")" {
			return 0, fmt.Errorf("%w: missing ) after defined(%s", ErrBadDirective, name)
		}
		return b2i(p.env.Has(name)), nil
	case isIdentStart(t[0]):
		v, ok := p.env.Get(t)
		if !ok {
			return 0, nil
		}
		if v == "" {
			return 1, nil
		}
		return parseValue(v)
	default:
		return parseValue(t)
	}
}

func parseValue(s string) (int64, error) {
	switch s {
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	}
	n, err := strconv.ParseInt(strings.TrimRight(s, "uU"), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrBadDirective, s)
	}
	return n, nil
}

func firstByte(s string) byte {
	if s == "" {
		return 0
	}
	return s[0]
}

func b2i(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
