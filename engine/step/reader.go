// Package step implements a streaming reader for STEP physical files
// (ISO 10303-21), the encoding used by IFC building models. The reader
// yields one Record per entity instance without loading the whole file,
// so multi-gigabyte models stay within a fixed memory budget.
package step

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bimgraph/bimgraph/engine/domain"
)

// supportedSchemas are the IFC schema identifiers the pipeline can map.
// Matching is by prefix so revision suffixes (IFC4X3_ADD2 etc.) pass.
var supportedSchemas = []string{"IFC2X3", "IFC4", "IFC4X1", "IFC4X3"}

const magic = "ISO-10303-21"

// Reader streams entity Records out of one STEP file. Not safe for
// concurrent use; each file gets its own Reader.
type Reader struct {
	f      *os.File
	br     *bufio.Reader
	name   string
	schema string

	line    int
	offset  int64
	count   int64 // records returned so far
	skipped int64 // records dropped due to unparsable parameters
	inData  bool
	done    bool
}

// Open opens the file, parses the HEADER section, and validates the
// declared schema. It returns *domain.ParseError for malformed framing and
// *domain.UnsupportedSchemaError for schemas outside the supported set.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := &Reader{
		f:    f,
		br:   bufio.NewReaderSize(f, 64*1024),
		name: filepath.Base(path),
		line: 1,
	}
	if err := r.readHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// Schema returns the schema identifier declared in the file header.
func (r *Reader) Schema() string { return r.schema }

// Count returns the number of records returned so far, for progress
// reporting on large files.
func (r *Reader) Count() int64 { return r.count }

// Skipped returns the number of records dropped because their parameter
// list could not be parsed.
func (r *Reader) Skipped() int64 { return r.skipped }

// Close releases the underlying file.
func (r *Reader) Close() error { return r.f.Close() }

// Next returns the next entity Record, or io.EOF once the DATA section
// ends. Records with unparsable parameter lists are skipped and counted
// rather than failing the file.
func (r *Reader) Next() (Record, error) {
	for {
		if r.done {
			return Record{}, io.EOF
		}
		stmt, line, offset, err := r.readStatement()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Record{}, r.parseErr(line, offset, "unexpected end of file inside DATA section")
			}
			return Record{}, err
		}
		switch {
		case stmt == "ENDSEC", stmt == "END-ISO-10303-21":
			r.done = true
			return Record{}, io.EOF
		case strings.HasPrefix(stmt, "#"):
			rec, err := r.parseRecord(stmt, line, offset)
			if err != nil {
				var perr *domain.ParseError
				if errors.As(err, &perr) && perr.Msg == errRecordFraming {
					return Record{}, err
				}
				r.skipped++
				continue
			}
			r.count++
			return rec, nil
		case stmt == "":
			continue
		default:
			return Record{}, r.parseErr(line, offset, fmt.Sprintf("unexpected statement %q in DATA section", truncate(stmt, 40)))
		}
	}
}

// errRecordFraming marks framing errors that must abort the file rather
// than skip one record.
const errRecordFraming = "broken record framing"

func (r *Reader) readHeader() error {
	first, line, offset, err := r.readStatement()
	if err != nil {
		return r.parseErr(line, offset, "missing ISO-10303-21 marker")
	}
	if first != magic {
		return r.parseErr(line, offset, fmt.Sprintf("not a STEP file: first statement %q", truncate(first, 40)))
	}
	sawHeader := false
	for {
		stmt, line, offset, err := r.readStatement()
		if err != nil {
			return r.parseErr(line, offset, "unexpected end of file inside HEADER section")
		}
		upper := strings.ToUpper(stmt)
		switch {
		case upper == "HEADER":
			sawHeader = true
		case upper == "DATA":
			if !sawHeader {
				return r.parseErr(line, offset, "DATA section before HEADER")
			}
			if r.schema == "" {
				return &domain.UnsupportedSchemaError{File: r.name, Schema: ""}
			}
			r.inData = true
			return nil
		case strings.HasPrefix(upper, "FILE_SCHEMA"):
			schema, ok := parseFileSchema(stmt)
			if !ok {
				return r.parseErr(line, offset, "malformed FILE_SCHEMA")
			}
			r.schema = schema
			if !schemaSupported(schema) {
				return &domain.UnsupportedSchemaError{File: r.name, Schema: schema}
			}
		case upper == "ENDSEC", strings.HasPrefix(upper, "FILE_"):
			// other header statements carry no information we need
		default:
			return r.parseErr(line, offset, fmt.Sprintf("unexpected header statement %q", truncate(stmt, 40)))
		}
	}
}

// parseFileSchema pulls the first quoted identifier out of
// FILE_SCHEMA(('IFC4')).
func parseFileSchema(stmt string) (string, bool) {
	start := strings.IndexByte(stmt, '\'')
	if start < 0 {
		return "", false
	}
	end := strings.IndexByte(stmt[start+1:], '\'')
	if end < 0 {
		return "", false
	}
	return strings.ToUpper(stmt[start+1 : start+1+end]), true
}

func schemaSupported(schema string) bool {
	for _, s := range supportedSchemas {
		if strings.HasPrefix(schema, s) {
			return true
		}
	}
	return false
}

// readStatement accumulates input up to the next ';' outside a string
// literal or comment, returning the trimmed statement text and its
// starting position.
func (r *Reader) readStatement() (stmt string, line int, offset int64, err error) {
	var b strings.Builder
	inString := false
	started := false
	line, offset = r.line, r.offset
	for {
		c, rerr := r.br.ReadByte()
		if rerr != nil {
			if b.Len() == 0 && !started {
				return "", line, offset, io.EOF
			}
			return "", line, offset, io.EOF
		}
		r.offset++
		if c == '\n' {
			r.line++
		}
		if !started && (c == ' ' || c == '\t' || c == '\r' || c == '\n') {
			line, offset = r.line, r.offset
			continue
		}
		if !inString && c == '/' {
			if next, _ := r.br.Peek(1); len(next) == 1 && next[0] == '*' {
				if err := r.skipComment(); err != nil {
					return "", line, offset, err
				}
				continue
			}
		}
		started = true
		if c == '\'' {
			// '' inside a string is an escaped quote, not a terminator.
			if inString {
				if next, _ := r.br.Peek(1); len(next) == 1 && next[0] == '\'' {
					r.br.ReadByte()
					r.offset++
					b.WriteByte('\'')
					b.WriteByte('\'')
					continue
				}
			}
			inString = !inString
			b.WriteByte(c)
			continue
		}
		if c == ';' && !inString {
			return strings.TrimSpace(b.String()), line, offset, nil
		}
		if c == '\n' || c == '\r' {
			if inString {
				b.WriteByte(c)
			} else {
				b.WriteByte(' ')
			}
			continue
		}
		b.WriteByte(c)
	}
}

func (r *Reader) skipComment() error {
	// the opening '/' is already consumed; consume '*' then scan for "*/"
	r.br.ReadByte()
	r.offset++
	var prev byte
	for {
		c, err := r.br.ReadByte()
		if err != nil {
			return io.EOF
		}
		r.offset++
		if c == '\n' {
			r.line++
		}
		if prev == '*' && c == '/' {
			return nil
		}
		prev = c
	}
}

// parseRecord parses "#12=IFCWALL('...',#2,$,...)" into a Record.
func (r *Reader) parseRecord(stmt string, line int, offset int64) (Record, error) {
	eq := strings.IndexByte(stmt, '=')
	if eq < 0 {
		return Record{}, r.parseErr(line, offset, errRecordFraming)
	}
	idText := strings.TrimSpace(stmt[1:eq])
	id, err := strconv.ParseInt(idText, 10, 64)
	if err != nil {
		return Record{}, r.parseErr(line, offset, errRecordFraming)
	}
	body := strings.TrimSpace(stmt[eq+1:])
	open := strings.IndexByte(body, '(')
	if open < 0 || !strings.HasSuffix(body, ")") {
		return Record{}, r.parseErr(line, offset, "record body is not TYPE(...)")
	}
	typ := strings.ToUpper(strings.TrimSpace(body[:open]))
	if typ == "" || !isIdent(typ) {
		return Record{}, r.parseErr(line, offset, "invalid entity type tag")
	}
	p := &valueParser{src: body[open+1 : len(body)-1]}
	args, err := p.parseValueList()
	if err != nil {
		return Record{}, r.parseErr(line, offset, err.Error())
	}
	return Record{ID: id, Type: typ, Args: args, Line: line, Offset: offset}, nil
}

func (r *Reader) parseErr(line int, offset int64, msg string) error {
	return &domain.ParseError{File: r.name, Line: line, Offset: offset, Msg: msg}
}

func isIdent(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		ok := (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
		if !ok {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// valueParser parses a STEP parameter list. It is a plain recursive
// descent over the already-framed argument text.
type valueParser struct {
	src string
	pos int
}

func (p *valueParser) parseValueList() ([]Value, error) {
	var out []Value
	p.skipSpace()
	if p.pos >= len(p.src) {
		return out, nil
	}
	for {
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		p.skipSpace()
		if p.pos >= len(p.src) {
			return out, nil
		}
		if p.src[p.pos] != ',' {
			return nil, fmt.Errorf("expected ',' at %d", p.pos)
		}
		p.pos++
	}
}

func (p *valueParser) parseValue() (Value, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return Value{}, fmt.Errorf("unexpected end of parameters")
	}
	switch c := p.src[p.pos]; {
	case c == '$':
		p.pos++
		return Value{Kind: KindNull}, nil
	case c == '*':
		p.pos++
		return Value{Kind: KindDerived}, nil
	case c == '\'':
		return p.parseString()
	case c == '.':
		return p.parseEnum()
	case c == '#':
		return p.parseRef()
	case c == '(':
		return p.parseList()
	case c == '-' || c == '+' || (c >= '0' && c <= '9'):
		return p.parseNumber()
	case (c >= 'A' && c <= 'Z') || c == '_':
		return p.parseTyped()
	default:
		return Value{}, fmt.Errorf("unexpected character %q at %d", c, p.pos)
	}
}

func (p *valueParser) parseString() (Value, error) {
	p.pos++ // opening quote
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '\'' {
			if p.pos+1 < len(p.src) && p.src[p.pos+1] == '\'' {
				b.WriteByte('\'')
				p.pos += 2
				continue
			}
			p.pos++
			return Value{Kind: KindString, Str: b.String()}, nil
		}
		b.WriteByte(c)
		p.pos++
	}
	return Value{}, fmt.Errorf("unterminated string")
}

func (p *valueParser) parseEnum() (Value, error) {
	p.pos++ // opening dot
	start := p.pos
	for p.pos < len(p.src) && p.src[p.pos] != '.' {
		p.pos++
	}
	if p.pos >= len(p.src) {
		return Value{}, fmt.Errorf("unterminated enum")
	}
	v := Value{Kind: KindEnum, Str: p.src[start:p.pos]}
	p.pos++ // closing dot
	return v, nil
}

func (p *valueParser) parseRef() (Value, error) {
	p.pos++ // '#'
	start := p.pos
	for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
		p.pos++
	}
	if start == p.pos {
		return Value{}, fmt.Errorf("empty entity reference at %d", p.pos)
	}
	id, err := strconv.ParseInt(p.src[start:p.pos], 10, 64)
	if err != nil {
		return Value{}, err
	}
	return Value{Kind: KindRef, Ref: id}, nil
}

func (p *valueParser) parseList() (Value, error) {
	p.pos++ // '('
	var items []Value
	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] == ')' {
		p.pos++
		return Value{Kind: KindList}, nil
	}
	for {
		v, err := p.parseValue()
		if err != nil {
			return Value{}, err
		}
		items = append(items, v)
		p.skipSpace()
		if p.pos >= len(p.src) {
			return Value{}, fmt.Errorf("unterminated aggregate")
		}
		switch p.src[p.pos] {
		case ',':
			p.pos++
		case ')':
			p.pos++
			return Value{Kind: KindList, List: items}, nil
		default:
			return Value{}, fmt.Errorf("expected ',' or ')' at %d", p.pos)
		}
	}
}

func (p *valueParser) parseNumber() (Value, error) {
	start := p.pos
	p.pos++ // sign or first digit
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if (c >= '0' && c <= '9') || c == '.' || c == 'E' || c == 'e' {
			p.pos++
			continue
		}
		if (c == '-' || c == '+') && (p.src[p.pos-1] == 'E' || p.src[p.pos-1] == 'e') {
			p.pos++
			continue
		}
		break
	}
	f, err := strconv.ParseFloat(p.src[start:p.pos], 64)
	if err != nil {
		return Value{}, fmt.Errorf("bad number %q", p.src[start:p.pos])
	}
	return Value{Kind: KindNumber, Num: f}, nil
}

// parseTyped handles typed values like IFCLABEL('x') that wrap a value in
// a defined-type constructor.
func (p *valueParser) parseTyped() (Value, error) {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			p.pos++
			continue
		}
		break
	}
	name := p.src[start:p.pos]
	p.skipSpace()
	if p.pos >= len(p.src) || p.src[p.pos] != '(' {
		return Value{}, fmt.Errorf("expected '(' after %s", name)
	}
	list, err := p.parseList()
	if err != nil {
		return Value{}, err
	}
	return Value{Kind: KindTyped, TypeName: name, Inner: list.List}, nil
}

func (p *valueParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}
