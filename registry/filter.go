package registry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidFilter is returned by ParseFilter for malformed expressions.
var ErrInvalidFilter = errors.New("invalid filter")

// Filter is a compiled LDAP-style (RFC 1960) filter over service properties,
// e.g. "(&(application.state=ACTIVE)(!(application.default=true)))".
// Attribute names compare case-insensitively; values compare as strings,
// or numerically for >= and <= when both sides parse as numbers.
type Filter struct {
	src  string
	root filterNode
}

// ParseFilter compiles expr.
func ParseFilter(expr string) (*Filter, error) {
	p := &filterParser{src: strings.TrimSpace(expr)}
	node, err := p.parse()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errorf("unexpected trailing input")
	}
	return &Filter{src: p.src, root: node}, nil
}

// MustParseFilter is like ParseFilter but panics on error.
func MustParseFilter(expr string) *Filter {
	f, err := ParseFilter(expr)
	if err != nil {
		panic(err)
	}
	return f
}

// Match reports whether props satisfies the filter.
func (f *Filter) Match(props Properties) bool {
	if f == nil {
		return true
	}
	lowered := make(map[string]any, len(props))
	for k, v := range props {
		lowered[strings.ToLower(k)] = v
	}
	return f.root.match(lowered)
}

func (f *Filter) String() string { return f.src }

type filterOp int

const (
	opEqual filterOp = iota
	opGreater
	opLess
	opApprox
	opPresent
	opSubstring
)

type filterNode interface {
	match(props map[string]any) bool
}

type andNode []filterNode

func (n andNode) match(props map[string]any) bool {
	for _, c := range n {
		if !c.match(props) {
			return false
		}
	}
	return true
}

type orNode []filterNode

func (n orNode) match(props map[string]any) bool {
	for _, c := range n {
		if c.match(props) {
			return true
		}
	}
	return false
}

type notNode struct{ child filterNode }

func (n notNode) match(props map[string]any) bool { return !n.child.match(props) }

type itemNode struct {
	attr  string
	op    filterOp
	value string
	parts []string // substring pieces split on unescaped '*'
}

func (n itemNode) match(props map[string]any) bool {
	v, ok := props[n.attr]
	if !ok {
		return false
	}
	if n.op == opPresent {
		return true
	}
	// multi-valued properties match when any element matches
	switch vs := v.(type) {
	case []string:
		for _, s := range vs {
			if n.matchValue(s) {
				return true
			}
		}
		return false
	case []any:
		for _, s := range vs {
			if n.matchValue(fmt.Sprint(s)) {
				return true
			}
		}
		return false
	}
	return n.matchValue(fmt.Sprint(v))
}

func (n itemNode) matchValue(actual string) bool {
	switch n.op {
	case opEqual:
		return actual == n.value
	case opApprox:
		return strings.EqualFold(strings.Join(strings.Fields(actual), ""), strings.Join(strings.Fields(n.value), ""))
	case opGreater, opLess:
		cmp := compareValues(actual, n.value)
		if n.op == opGreater {
			return cmp >= 0
		}
		return cmp <= 0
	case opSubstring:
		return matchSubstring(actual, n.parts)
	}
	return false
}

func compareValues(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

func matchSubstring(s string, parts []string) bool {
	if len(parts) == 0 {
		return true
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := len(parts) - 1
	for i := 1; i < last; i++ {
		idx := strings.Index(s, parts[i])
		if idx < 0 {
			return false
		}
		s = s[idx+len(parts[i]):]
	}
	return strings.HasSuffix(s, parts[last])
}

type filterParser struct {
	src string
	pos int
}

func (p *filterParser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s at offset %d in %q", ErrInvalidFilter, fmt.Sprintf(format, args...), p.pos, p.src)
}

func (p *filterParser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func (p *filterParser) expect(c byte) error {
	p.skipSpace()
	if p.pos >= len(p.src) || p.src[p.pos] != c {
		return p.errorf("expected %q", c)
	}
	p.pos++
	return nil
}

func (p *filterParser) parse() (filterNode, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos >= len(p.src) {
		return nil, p.errorf("unterminated filter")
	}

	var node filterNode
	var err error
	switch p.src[p.pos] {
	case '&':
		p.pos++
		var children []filterNode
		children, err = p.parseList()
		node = andNode(children)
	case '|':
		p.pos++
		var children []filterNode
		children, err = p.parseList()
		node = orNode(children)
	case '!':
		p.pos++
		var child filterNode
		child, err = p.parse()
		node = notNode{child: child}
	default:
		node, err = p.parseItem()
	}
	if err != nil {
		return nil, err
	}
	if err := p.expect(')'); err != nil {
		return nil, err
	}
	return node, nil
}

func (p *filterParser) parseList() ([]filterNode, error) {
	var children []filterNode
	for {
		p.skipSpace()
		if p.pos >= len(p.src) || p.src[p.pos] != '(' {
			break
		}
		child, err := p.parse()
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	if len(children) == 0 {
		return nil, p.errorf("empty filter list")
	}
	return children, nil
}

func (p *filterParser) parseItem() (filterNode, error) {
	start := p.pos
	for p.pos < len(p.src) && !strings.ContainsRune("=<>~()", rune(p.src[p.pos])) {
		p.pos++
	}
	attr := strings.ToLower(strings.TrimSpace(p.src[start:p.pos]))
	if attr == "" {
		return nil, p.errorf("missing attribute")
	}
	if p.pos >= len(p.src) {
		return nil, p.errorf("missing operator")
	}

	op := opEqual
	switch p.src[p.pos] {
	case '=':
		p.pos++
	case '>', '<', '~':
		if p.pos+1 >= len(p.src) || p.src[p.pos+1] != '=' {
			return nil, p.errorf("invalid operator")
		}
		op = map[byte]filterOp{'>': opGreater, '<': opLess, '~': opApprox}[p.src[p.pos]]
		p.pos += 2
	default:
		return nil, p.errorf("invalid operator")
	}

	var parts []string
	var cur strings.Builder
	hasStar := false
	for p.pos < len(p.src) && p.src[p.pos] != ')' {
		c := p.src[p.pos]
		switch c {
		case '\\':
			p.pos++
			if p.pos >= len(p.src) {
				return nil, p.errorf("dangling escape")
			}
			cur.WriteByte(p.src[p.pos])
		case '(':
			return nil, p.errorf("unescaped '('")
		case '*':
			hasStar = true
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
		p.pos++
	}
	parts = append(parts, cur.String())

	if op == opEqual && hasStar {
		if len(parts) == 2 && parts[0] == "" && parts[1] == "" {
			return itemNode{attr: attr, op: opPresent}, nil
		}
		return itemNode{attr: attr, op: opSubstring, parts: parts}, nil
	}
	return itemNode{attr: attr, op: op, value: strings.Join(parts, "*")}, nil
}
