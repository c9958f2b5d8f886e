package recon

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/raskyld/warp/pkg/structure"
)

// Parse decodes a Recon document.
//
// Parsing is lenient on truncation: missing `}`, `]`, `)` or a closing quote
// at the end of the input are accepted as if present. Anything the grammar
// cannot start an item with fails with a `*ParseError`.
func Parse(text string) (structure.Value, error) {
	p := &parser{input: text}
	v, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.done() {
		return nil, p.fail(ErrUnexpectedChar, "trailing %q", p.peek())
	}
	return v, nil
}

type parser struct {
	input  string
	offset int
}

func (p *parser) done() bool {
	return p.offset >= len(p.input)
}

func (p *parser) peek() byte {
	return p.input[p.offset]
}

func (p *parser) fail(err error, format string, args ...any) *ParseError {
	return &ParseError{
		Err:    err,
		Offset: p.offset,
		Msg:    fmt.Sprintf(format, args...),
		Input:  p.input,
	}
}

// skipSpace only skips spaces and tabs, nothing else is insignificant.
func (p *parser) skipSpace() {
	for !p.done() {
		switch p.peek() {
		case ' ', '\t':
			p.offset++
		default:
			return
		}
	}
}

// parseBlock reads separated items until a closing delimiter or the end of
// the input, without consuming the delimiter.
func (p *parser) parseBlock() (structure.Value, error) {
	b, err := p.parseItems()
	if err != nil {
		return nil, err
	}
	return b.Bind(), nil
}

func (p *parser) parseItems() (*structure.Builder, error) {
	b := &structure.Builder{}
	for {
		p.skipSpace()
		if p.done() || isCloser(p.peek()) {
			return b, nil
		}
		if isSeparator(p.peek()) {
			p.offset++
			continue
		}
		if err := p.parseSlot(b); err != nil {
			return nil, err
		}
		p.skipSpace()
		if !p.done() && isSeparator(p.peek()) {
			p.offset++
		}
	}
}

// parseSlot reads `expr` or `expr:expr` into b.
//
// An expression made only of attributes contributes them as fields of the
// enclosing block rather than as a nested record.
func (p *parser) parseSlot(b *structure.Builder) error {
	key, attrOnly, err := p.parseExpr()
	if err != nil {
		return err
	}

	p.skipSpace()
	if !p.done() && p.peek() == ':' {
		p.offset++
		p.skipSpace()
		value := structure.Extant()
		if !p.done() && !isSeparator(p.peek()) && !isCloser(p.peek()) {
			value, _, err = p.parseExpr()
			if err != nil {
				return err
			}
		}
		return b.Add(structure.NewSlot(key, value))
	}

	if attrOnly {
		record := key.(*structure.RecordMap)
		for i := 0; i < record.Size(); i++ {
			if err := b.Add(record.ItemAt(i)); err != nil {
				return err
			}
		}
		return nil
	}
	return b.Add(key)
}

// parseExpr reads a run of attributes and literals.
//
// A literal alone is returned as-is. As soon as an attribute is involved,
// everything accumulates onto one record, record literals being flattened
// into it: `@Person{name:Bob}@Pet{name:Rex}` is a single 4 items record.
func (p *parser) parseExpr() (structure.Value, bool, error) {
	var (
		acc            *structure.RecordMap
		single         structure.Value
		singleIsRecord bool
		lastIsLiteral  bool
		attrOnly       = true
		start          = p.offset
	)

	fold := func() error {
		acc = structure.NewRecordMap()
		if single == nil {
			return nil
		}
		lit := single
		single = nil
		return appendLiteral(acc, lit, singleIsRecord)
	}

	for {
		p.skipSpace()
		if p.done() {
			break
		}

		c := p.peek()
		if c == '@' {
			attr, err := p.parseAttr()
			if err != nil {
				return nil, false, err
			}
			if acc == nil {
				if err := fold(); err != nil {
					return nil, false, err
				}
			}
			if err := acc.Add(attr); err != nil {
				return nil, false, err
			}
			lastIsLiteral = false
			continue
		}

		if lastIsLiteral || !startsLiteral(c) {
			break
		}

		lit, isRecord, err := p.parseLiteral()
		if err != nil {
			return nil, false, err
		}
		attrOnly = false
		lastIsLiteral = true
		if acc == nil && single == nil {
			single, singleIsRecord = lit, isRecord
			continue
		}
		if acc == nil {
			if err := fold(); err != nil {
				return nil, false, err
			}
		}
		if err := appendLiteral(acc, lit, isRecord); err != nil {
			return nil, false, err
		}
	}

	switch {
	case acc != nil:
		return acc, attrOnly, nil
	case single != nil:
		return single, false, nil
	}

	p.offset = start
	if p.done() {
		return nil, false, p.fail(ErrUnexpectedChar, "unexpected end of input")
	}
	return nil, false, p.fail(ErrUnexpectedChar, "%q cannot start a value", p.peek())
}

func appendLiteral(acc *structure.RecordMap, lit structure.Value, isRecord bool) error {
	if rec, ok := lit.(*structure.RecordMap); ok && isRecord {
		for i := 0; i < rec.Size(); i++ {
			if err := acc.Add(rec.ItemAt(i)); err != nil {
				return err
			}
		}
		return nil
	}
	return acc.Add(lit)
}

// parseAttr reads `@name` or `@name(block)`. No body means `Extant`.
func (p *parser) parseAttr() (*structure.Attr, error) {
	p.offset++
	if p.done() || !isIdentStart(p.peek()) {
		return nil, p.fail(ErrMalformedAttr, "expected an attribute name after '@'")
	}
	name := p.parseIdent()

	if p.done() || p.peek() != '(' {
		return structure.NewAttr(name, structure.Extant()), nil
	}

	p.offset++
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.done() {
		if p.peek() != ')' {
			return nil, p.fail(ErrMalformedAttr, "attribute %q closed by %q", name, p.peek())
		}
		p.offset++
	}

	if body == structure.Absent() {
		body = structure.Extant()
	}
	return structure.NewAttr(name, body), nil
}

// parseLiteral reads a record, string, number or identifier. The boolean
// reports whether a record literal was read.
func (p *parser) parseLiteral() (structure.Value, bool, error) {
	switch c := p.peek(); {
	case c == '{' || c == '[':
		p.offset++
		b, err := p.parseItems()
		if err != nil {
			return nil, false, err
		}
		p.skipSpace()
		if !p.done() && (p.peek() == '}' || p.peek() == ']') {
			p.offset++
		}
		return b.BindRecord(), true, nil
	case c == '"':
		return p.parseString(), false, nil
	case c == '-' || c == '.' || isDigit(c):
		n, err := p.parseNumber()
		return n, false, err
	case isIdentStart(c):
		ident := p.parseIdent()
		switch ident {
		case "true":
			return structure.NewBool(true), false, nil
		case "false":
			return structure.NewBool(false), false, nil
		}
		return structure.NewText(ident), false, nil
	}
	return nil, false, p.fail(ErrMalformedIdent, "%q cannot start an identifier", p.peek())
}

// parseString has no escapes. An unterminated string runs to the end.
func (p *parser) parseString() structure.Value {
	p.offset++
	end := strings.IndexByte(p.input[p.offset:], '"')
	if end < 0 {
		s := p.input[p.offset:]
		p.offset = len(p.input)
		return structure.NewText(s)
	}
	s := p.input[p.offset : p.offset+end]
	p.offset += end + 1
	return structure.NewText(s)
}

func (p *parser) parseIdent() string {
	start := p.offset
	p.offset++
	for !p.done() && isIdentChar(p.peek()) {
		p.offset++
	}
	return p.input[start:p.offset]
}

// parseNumber reads `-? digit* (. digit*)?`.
//
// Leading zeros are dropped, a lone `.` is 0.0 and the sign of a negative
// zero decimal is kept.
func (p *parser) parseNumber() (structure.Value, error) {
	start := p.offset
	negative := false
	if p.peek() == '-' {
		negative = true
		p.offset++
	}

	intStart := p.offset
	for !p.done() && isDigit(p.peek()) {
		p.offset++
	}
	intPart := strings.TrimLeft(p.input[intStart:p.offset], "0")

	isDecimal := false
	fracPart := ""
	if !p.done() && p.peek() == '.' {
		isDecimal = true
		p.offset++
		fracStart := p.offset
		for !p.done() && isDigit(p.peek()) {
			p.offset++
		}
		fracPart = p.input[fracStart:p.offset]
	}

	if !isDecimal && p.offset == intStart {
		p.offset = start
		return nil, p.fail(ErrMalformedNumber, "expected digits after '-'")
	}

	if intPart == "" {
		intPart = "0"
	}

	if !isDecimal {
		i, err := strconv.ParseInt(intPart, 10, 64)
		if err == nil {
			if negative {
				i = -i
			}
			return structure.NewInt(i), nil
		}
	}

	if fracPart == "" {
		fracPart = "0"
	}
	f, err := strconv.ParseFloat(intPart+"."+fracPart, 64)
	if err != nil {
		p.offset = start
		return nil, p.fail(ErrMalformedNumber, "%s", err)
	}
	if negative {
		f = -f
	}
	return structure.NewFloat(f), nil
}

func isSeparator(c byte) bool {
	return c == ',' || c == ';'
}

func isCloser(c byte) bool {
	return c == '}' || c == ']' || c == ')'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '-'
}

func startsLiteral(c byte) bool {
	return c == '{' || c == '[' || c == '"' || c == '-' || c == '.' || isDigit(c) || isIdentStart(c)
}

// IsIdent reports whether s can be written without quotes.
func IsIdent(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentChar(s[i]) {
			return false
		}
	}
	return true
}
