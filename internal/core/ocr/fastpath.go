package ocr

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// FastPath reads an existing text layer without running OCR.
type FastPath interface {
	// TryExtract returns the text layer of the PDF at path. ok is false when the
	// file cannot be parsed or carries no text; it never returns an error.
	TryExtract(path string) (text string, ok bool)
}

// PDFTextLayer is the pdfcpu backed FastPath.
type PDFTextLayer struct {
	Logger *slog.Logger
}

func NewPDFTextLayer(logger *slog.Logger) *PDFTextLayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFTextLayer{Logger: logger}
}

func (p *PDFTextLayer) TryExtract(path string) (text string, ok bool) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("pdf text layer extraction panicked", "path", path, "panic", fmt.Sprint(r))
			text, ok = "", false
		}
	}()

	t, err := extractTextLayer(path)
	if err != nil {
		logger.Debug("no usable pdf text layer", "path", path, "error", err)
		return "", false
	}
	t = Normalize(t)
	if t == "" {
		return "", false
	}
	return t, true
}

func extractTextLayer(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return "", fmt.Errorf("pdfcpu read: %w", err)
	}

	var all strings.Builder
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
		if err != nil || r == nil {
			continue
		}
		data, err := io.ReadAll(r)
		if err != nil || len(data) == 0 {
			continue
		}
		text, err := textFromContentStream(data)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", pageNr, err)
		}
		page := strings.TrimSpace(text)
		if page == "" {
			continue
		}
		if all.Len() > 0 {
			all.WriteString("\n\n")
		}
		all.WriteString(page)
	}
	return all.String(), nil
}

// errUnmappedText marks show operators whose bytes are glyph ids rather than
// characters, such as Identity-H subset fonts. OCR reads those pages better.
var errUnmappedText = errors.New("text shown through an unmapped font encoding")

// textFromContentStream scans a page content stream as operand/operator tokens and
// collects the strings shown by Tj, TJ, ' and ". Moves to a new line become line
// breaks and large TJ gaps become spaces.
func textFromContentStream(data []byte) (string, error) {
	sc := &contentScanner{data: data}
	var out strings.Builder
	breakWith := func(sep byte) {
		if out.Len() == 0 {
			return
		}
		if last := out.String()[out.Len()-1]; last == '\n' || last == sep {
			return
		}
		out.WriteByte(sep)
	}
	show := func(o operand) error {
		text, err := o.text()
		if err != nil {
			return err
		}
		out.WriteString(text)
		return nil
	}

	var operands []operand
	for {
		tok, ok := sc.next()
		if !ok {
			break
		}
		if tok.kind != kindOperator {
			operands = append(operands, tok)
			continue
		}
		switch tok.op {
		case "BT", "T*":
			breakWith('\n')
		case "Td", "TD":
			if len(operands) >= 2 && operands[len(operands)-1].kind == kindNumber {
				if operands[len(operands)-1].num != 0 {
					breakWith('\n')
				} else {
					breakWith(' ')
				}
			}
		case "Tj":
			if n := len(operands); n > 0 && operands[n-1].kind == kindString {
				if err := show(operands[n-1]); err != nil {
					return "", err
				}
			}
		case "'", "\"":
			if n := len(operands); n > 0 && operands[n-1].kind == kindString {
				breakWith('\n')
				if err := show(operands[n-1]); err != nil {
					return "", err
				}
			}
		case "TJ":
			if n := len(operands); n > 0 && operands[n-1].kind == kindArray {
				for _, item := range operands[n-1].items {
					switch {
					case item.kind == kindString:
						if err := show(item); err != nil {
							return "", err
						}
					case item.kind == kindNumber && item.num <= -tjWordGap:
						breakWith(' ')
					}
				}
			}
		case "ID":
			sc.skipInlineImage()
		}
		operands = operands[:0]
	}
	return out.String(), nil
}

// tjWordGap is the TJ displacement, in thousandths of an em, read as a space.
const tjWordGap = 200

type operandKind int

const (
	kindOther operandKind = iota
	kindNumber
	kindString
	kindArray
	kindArrayEnd
	kindOperator
)

type operand struct {
	kind  operandKind
	num   float64
	raw   []byte // decoded string bytes
	items []operand
	op    string
}

// text turns the bytes of a shown string into UTF-8. Strings with a UTF-16BE
// byte order mark are decoded as such; the rest are read as single-byte codes
// and rejected when they hold control bytes, which is how glyph ids look.
func (o operand) text() (string, error) {
	b := o.raw
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		return decodeUTF16BE(b[2:]), nil
	}
	runes := make([]rune, 0, len(b))
	for _, c := range b {
		if c < 0x20 && c != '\t' && c != '\n' && c != '\r' {
			return "", errUnmappedText
		}
		runes = append(runes, rune(c))
	}
	return string(runes), nil
}

func decodeUTF16BE(b []byte) string {
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = uint16(b[2*i])<<8 | uint16(b[2*i+1])
	}
	return string(utf16.Decode(units))
}

// contentScanner splits a content stream into tokens.
type contentScanner struct {
	data []byte
	pos  int
}

func isPDFSpace(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

func isPDFDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (s *contentScanner) skipSpaceAndComments() {
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		switch {
		case isPDFSpace(c):
			s.pos++
		case c == '%':
			for s.pos < len(s.data) && s.data[s.pos] != '\n' && s.data[s.pos] != '\r' {
				s.pos++
			}
		default:
			return
		}
	}
}

// next returns the next token; ok is false at the end of the stream.
func (s *contentScanner) next() (operand, bool) {
	s.skipSpaceAndComments()
	if s.pos >= len(s.data) {
		return operand{}, false
	}
	c := s.data[s.pos]
	switch {
	case c == '(':
		return operand{kind: kindString, raw: []byte(decodePDFString(s.literal()))}, true
	case c == '<' && s.pos+1 < len(s.data) && s.data[s.pos+1] == '<':
		s.pos += 2
		return operand{kind: kindOther}, true
	case c == '<':
		return operand{kind: kindString, raw: s.hex()}, true
	case c == '>' && s.pos+1 < len(s.data) && s.data[s.pos+1] == '>':
		s.pos += 2
		return operand{kind: kindOther}, true
	case c == '[':
		s.pos++
		arr := operand{kind: kindArray}
		for {
			item, ok := s.next()
			if !ok || item.kind == kindArrayEnd {
				return arr, true
			}
			if item.kind != kindOperator {
				arr.items = append(arr.items, item)
			}
		}
	case c == ']':
		s.pos++
		return operand{kind: kindArrayEnd}, true
	case c == '/':
		s.pos++
		s.regular()
		return operand{kind: kindOther}, true
	case isPDFDelimiter(c):
		s.pos++
		return operand{kind: kindOther}, true
	}

	word := s.regular()
	if (c >= '0' && c <= '9') || c == '-' || c == '+' || c == '.' {
		if v, err := strconv.ParseFloat(word, 64); err == nil {
			return operand{kind: kindNumber, num: v}, true
		}
		return operand{kind: kindOther}, true
	}
	return operand{kind: kindOperator, op: word}, true
}

// regular consumes a run of regular characters and returns it.
func (s *contentScanner) regular() string {
	start := s.pos
	for s.pos < len(s.data) && !isPDFSpace(s.data[s.pos]) && !isPDFDelimiter(s.data[s.pos]) {
		s.pos++
	}
	if s.pos == start {
		// a lone stray byte; consume it so scanning always advances
		s.pos++
	}
	return string(s.data[start:s.pos])
}

// literal consumes a (...) string, balanced parentheses included, and returns
// its body with escapes still in place.
func (s *contentScanner) literal() []byte {
	s.pos++ // (
	start, depth := s.pos, 1
	for s.pos < len(s.data) {
		switch s.data[s.pos] {
		case '\\':
			s.pos++
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				body := s.data[start:s.pos]
				s.pos++
				return body
			}
		}
		s.pos++
	}
	return s.data[start:min(s.pos, len(s.data))]
}

// hex consumes a <...> string and returns its bytes; an odd final digit is
// padded with zero.
func (s *contentScanner) hex() []byte {
	s.pos++ // <
	var out []byte
	var hi byte
	half := false
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		s.pos++
		if c == '>' {
			break
		}
		v, ok := hexValue(c)
		if !ok {
			continue
		}
		if half {
			out = append(out, hi<<4|v)
		} else {
			hi = v
		}
		half = !half
	}
	if half {
		out = append(out, hi<<4)
	}
	return out
}

func hexValue(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// skipInlineImage moves past the binary data of an inline image up to its EI.
func (s *contentScanner) skipInlineImage() {
	for i := s.pos; i+2 <= len(s.data); i++ {
		if s.data[i] != 'E' || s.data[i+1] != 'I' {
			continue
		}
		before := i == 0 || isPDFSpace(s.data[i-1])
		after := i+2 == len(s.data) || isPDFSpace(s.data[i+2])
		if before && after {
			s.pos = i + 2
			return
		}
	}
	s.pos = len(s.data)
}

// decodePDFString handles the escape sequences of a PDF literal string.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case 'b':
			sb.WriteByte('\b')
		case 'f':
			sb.WriteByte('\f')
		case '\r':
			// line continuation
			if i+1 < len(raw) && raw[i+1] == '\n' {
				i++
			}
		case '\n':
		case '\\', '(', ')':
			sb.WriteByte(raw[i])
		default:
			if raw[i] < '0' || raw[i] > '7' {
				sb.WriteByte(raw[i])
				continue
			}
			// up to three octal digits
			val := int(raw[i] - '0')
			for n := 0; n < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; n++ {
				i++
				val = val*8 + int(raw[i]-'0')
			}
			sb.WriteByte(byte(val))
		}
	}
	return sb.String()
}
