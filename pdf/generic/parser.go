package generic

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
)

// Common errors
var (
	ErrUnexpectedEOF     = errors.New("unexpected end of data")
	ErrInvalidObject     = errors.New("invalid PDF object")
	ErrInvalidDictionary = errors.New("invalid PDF dictionary")
	ErrInvalidArray      = errors.New("invalid PDF array")
	ErrInvalidString     = errors.New("invalid PDF string")
	ErrInvalidName       = errors.New("invalid PDF name")
	ErrInvalidNumber     = errors.New("invalid PDF number")
)

// maxDepth bounds array and dictionary nesting.
const maxDepth = 256

// Parser parses PDF objects from an in-memory buffer.
type Parser struct {
	data  []byte
	pos   int
	depth int
}

// NewParser creates a parser positioned at the start of data.
func NewParser(data []byte) *Parser {
	return &Parser{data: data}
}

// NewParserAt creates a parser positioned at offset, clamped to the data.
func NewParserAt(data []byte, offset int) *Parser {
	p := &Parser{data: data}
	p.SetPos(offset)
	return p
}

// Pos returns the current offset.
func (p *Parser) Pos() int { return p.pos }

// SetPos moves the parser to offset, clamped to the data.
func (p *Parser) SetPos(offset int) {
	p.pos = min(max(offset, 0), len(p.data))
}

// IsWhitespace reports whether b is PDF whitespace.
func IsWhitespace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == 0 || b == '\f'
}

// IsDelimiter reports whether b is a PDF delimiter.
func IsDelimiter(b byte) bool {
	switch b {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

// SkipWhitespace skips whitespace and comments.
func (p *Parser) SkipWhitespace() {
	for p.pos < len(p.data) {
		b := p.data[p.pos]
		switch {
		case IsWhitespace(b):
			p.pos++
		case b == '%':
			for p.pos < len(p.data) && p.data[p.pos] != '\n' && p.data[p.pos] != '\r' {
				p.pos++
			}
		default:
			return
		}
	}
}

// ReadKeyword reads a run of regular characters, such as "obj" or "trailer".
func (p *Parser) ReadKeyword() string {
	p.SkipWhitespace()
	start := p.pos
	for p.pos < len(p.data) && !IsWhitespace(p.data[p.pos]) && !IsDelimiter(p.data[p.pos]) {
		p.pos++
	}
	return string(p.data[start:p.pos])
}

// ParseObject parses one object. Two integers followed by R are returned as
// a Reference.
func (p *Parser) ParseObject() (PdfObject, error) {
	p.SkipWhitespace()
	if p.pos >= len(p.data) {
		return nil, ErrUnexpectedEOF
	}

	switch b := p.data[p.pos]; {
	case b == '(':
		return p.parseLiteralString()
	case b == '<':
		if p.pos+1 < len(p.data) && p.data[p.pos+1] == '<' {
			return p.parseDictionary()
		}
		return p.parseHexString()
	case b == '[':
		return p.parseArray()
	case b == '/':
		return p.parseName()
	case b == '-' || b == '+' || b == '.' || (b >= '0' && b <= '9'):
		return p.parseNumberOrReference()
	default:
		start := p.pos
		switch kw := p.ReadKeyword(); kw {
		case "true":
			return BooleanObject(true), nil
		case "false":
			return BooleanObject(false), nil
		case "null":
			return NullObject{}, nil
		default:
			p.pos = start
			return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrInvalidObject, kw, start)
		}
	}
}

func (p *Parser) parseLiteralString() (*StringObject, error) {
	p.pos++ // (
	var buf bytes.Buffer
	depth := 1
	for {
		if p.pos >= len(p.data) {
			return nil, fmt.Errorf("%w: unterminated string", ErrInvalidString)
		}
		b := p.data[p.pos]
		p.pos++
		switch b {
		case '(':
			depth++
			buf.WriteByte(b)
		case ')':
			depth--
			if depth == 0 {
				return &StringObject{Value: buf.Bytes()}, nil
			}
			buf.WriteByte(b)
		case '\\':
			if p.pos >= len(p.data) {
				return nil, fmt.Errorf("%w: unterminated escape", ErrInvalidString)
			}
			esc := p.data[p.pos]
			p.pos++
			switch esc {
			case 'n':
				buf.WriteByte('\n')
			case 'r':
				buf.WriteByte('\r')
			case 't':
				buf.WriteByte('\t')
			case 'b':
				buf.WriteByte('\b')
			case 'f':
				buf.WriteByte('\f')
			case '\r':
				if p.pos < len(p.data) && p.data[p.pos] == '\n' {
					p.pos++
				}
			case '\n':
			default:
				if esc >= '0' && esc <= '7' {
					val := int(esc - '0')
					for i := 0; i < 2 && p.pos < len(p.data); i++ {
						d := p.data[p.pos]
						if d < '0' || d > '7' {
							break
						}
						val = val*8 + int(d-'0')
						p.pos++
					}
					buf.WriteByte(byte(val))
				} else {
					buf.WriteByte(esc)
				}
			}
		default:
			buf.WriteByte(b)
		}
	}
}

func (p *Parser) parseHexString() (*StringObject, error) {
	p.pos++ // <
	end := bytes.IndexByte(p.data[p.pos:], '>')
	if end < 0 {
		return nil, fmt.Errorf("%w: unterminated hex string", ErrInvalidString)
	}
	digits := make([]byte, 0, end)
	for _, b := range p.data[p.pos : p.pos+end] {
		if !IsWhitespace(b) {
			digits = append(digits, b)
		}
	}
	p.pos += end + 1
	if len(digits)%2 != 0 {
		digits = append(digits, '0')
	}
	value := make([]byte, len(digits)/2)
	if _, err := hex.Decode(value, digits); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidString, err)
	}
	return &StringObject{Value: value, IsHex: true}, nil
}

func (p *Parser) parseDictionary() (*DictionaryObject, error) {
	if p.depth++; p.depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting too deep", ErrInvalidDictionary)
	}
	defer func() { p.depth-- }()

	p.pos += 2 // <<
	dict := NewDictionary()
	for {
		p.SkipWhitespace()
		if p.pos >= len(p.data) {
			return nil, fmt.Errorf("%w: unterminated dictionary", ErrInvalidDictionary)
		}
		if p.data[p.pos] == '>' {
			if p.pos+1 >= len(p.data) || p.data[p.pos+1] != '>' {
				return nil, fmt.Errorf("%w: expected '>>'", ErrInvalidDictionary)
			}
			p.pos += 2
			return dict, nil
		}
		if p.data[p.pos] != '/' {
			return nil, fmt.Errorf("%w: key at offset %d is not a name", ErrInvalidDictionary, p.pos)
		}
		key, err := p.parseName()
		if err != nil {
			return nil, err
		}
		value, err := p.ParseObject()
		if err != nil {
			return nil, fmt.Errorf("%w: value for /%s: %v", ErrInvalidDictionary, key, err)
		}
		dict.Set(string(key), value)
	}
}

func (p *Parser) parseArray() (ArrayObject, error) {
	if p.depth++; p.depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting too deep", ErrInvalidArray)
	}
	defer func() { p.depth-- }()

	p.pos++ // [
	arr := ArrayObject{}
	for {
		p.SkipWhitespace()
		if p.pos >= len(p.data) {
			return nil, fmt.Errorf("%w: unterminated array", ErrInvalidArray)
		}
		if p.data[p.pos] == ']' {
			p.pos++
			return arr, nil
		}
		obj, err := p.ParseObject()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArray, err)
		}
		arr = append(arr, obj)
	}
}

func (p *Parser) parseName() (NameObject, error) {
	p.pos++ // /
	var buf bytes.Buffer
	for p.pos < len(p.data) {
		b := p.data[p.pos]
		if IsWhitespace(b) || IsDelimiter(b) {
			break
		}
		p.pos++
		if b == '#' {
			if p.pos+2 > len(p.data) {
				return "", fmt.Errorf("%w: truncated escape", ErrInvalidName)
			}
			v, err := strconv.ParseUint(string(p.data[p.pos:p.pos+2]), 16, 8)
			if err != nil {
				return "", fmt.Errorf("%w: invalid escape", ErrInvalidName)
			}
			buf.WriteByte(byte(v))
			p.pos += 2
			continue
		}
		buf.WriteByte(b)
	}
	return NameObject(buf.String()), nil
}

func (p *Parser) readNumberToken() string {
	start := p.pos
	for p.pos < len(p.data) {
		b := p.data[p.pos]
		if (b >= '0' && b <= '9') || b == '.' || ((b == '-' || b == '+') && p.pos == start) {
			p.pos++
			continue
		}
		break
	}
	return string(p.data[start:p.pos])
}

func parseNumber(tok string) (PdfObject, error) {
	if tok == "" || tok == "-" || tok == "+" || tok == "." {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNumber, tok)
	}
	if bytes.IndexByte([]byte(tok), '.') >= 0 {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidNumber, err)
		}
		return RealObject(v), nil
	}
	v, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNumber, err)
	}
	return IntegerObject(v), nil
}

func (p *Parser) parseNumberOrReference() (PdfObject, error) {
	first, err := parseNumber(p.readNumberToken())
	if err != nil {
		return nil, err
	}
	objNum, ok := first.(IntegerObject)
	if !ok || objNum < 0 {
		return first, nil
	}

	save := p.pos
	p.SkipWhitespace()
	if p.pos < len(p.data) && p.data[p.pos] >= '0' && p.data[p.pos] <= '9' {
		if gen, err := parseNumber(p.readNumberToken()); err == nil {
			if genNum, ok := gen.(IntegerObject); ok {
				p.SkipWhitespace()
				if p.pos < len(p.data) && p.data[p.pos] == 'R' &&
					(p.pos+1 == len(p.data) || IsWhitespace(p.data[p.pos+1]) || IsDelimiter(p.data[p.pos+1])) {
					p.pos++
					return Reference{ObjectNumber: int(objNum), GenerationNumber: int(genNum)}, nil
				}
			}
		}
	}
	p.pos = save
	return first, nil
}

// ParseIndirectObject parses "N G obj ... endobj" at the current offset.
// Stream data is delimited by /Length when it is a direct integer that lands
// on "endstream", and by searching for "endstream" otherwise.
func (p *Parser) ParseIndirectObject() (*IndirectObject, error) {
	p.SkipWhitespace()
	num, err := parseNumber(p.readNumberToken())
	if err != nil {
		return nil, fmt.Errorf("%w: object number: %v", ErrInvalidObject, err)
	}
	p.SkipWhitespace()
	gen, err := parseNumber(p.readNumberToken())
	if err != nil {
		return nil, fmt.Errorf("%w: generation number: %v", ErrInvalidObject, err)
	}
	objNum, ok1 := num.(IntegerObject)
	genNum, ok2 := gen.(IntegerObject)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%w: object header must be integers", ErrInvalidObject)
	}
	if kw := p.ReadKeyword(); kw != "obj" {
		return nil, fmt.Errorf("%w: expected 'obj', got %q", ErrInvalidObject, kw)
	}

	obj, err := p.ParseObject()
	if err != nil {
		return nil, err
	}

	if dict, ok := obj.(*DictionaryObject); ok {
		save := p.pos
		if p.ReadKeyword() == "stream" {
			data, err := p.readStreamData(dict)
			if err != nil {
				return nil, err
			}
			obj = &StreamObject{Dictionary: dict, Data: data}
		} else {
			p.pos = save
		}
	}

	// A missing endobj is tolerated.
	save := p.pos
	if p.ReadKeyword() != "endobj" {
		p.pos = save
	}

	return &IndirectObject{ObjectNumber: int(objNum), GenerationNumber: int(genNum), Object: obj}, nil
}

func (p *Parser) readStreamData(dict *DictionaryObject) ([]byte, error) {
	if p.pos < len(p.data) && p.data[p.pos] == '\r' {
		p.pos++
	}
	if p.pos < len(p.data) && p.data[p.pos] == '\n' {
		p.pos++
	}
	start := p.pos

	if length, ok := dict.GetInt("Length"); ok && length >= 0 && start+int(length) <= len(p.data) {
		end := start + int(length)
		q := NewParserAt(p.data, end)
		if q.ReadKeyword() == "endstream" {
			p.pos = q.pos
			return p.data[start:end], nil
		}
	}

	idx := bytes.Index(p.data[start:], []byte("endstream"))
	if idx < 0 {
		return nil, fmt.Errorf("%w: unterminated stream", ErrInvalidObject)
	}
	end := start + idx
	p.pos = end + len("endstream")
	if end > start && p.data[end-1] == '\n' {
		end--
	}
	if end > start && p.data[end-1] == '\r' {
		end--
	}
	return p.data[start:end], nil
}
