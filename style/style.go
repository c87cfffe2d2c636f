// Package style rewrites stylesheets so they agree with obfuscated markup.
//
// The stylesheet is tokenized with gorilla/css and cut into segments at
// "{", ";" and "}". A segment ending in "{" that is not an at-rule prelude is
// a selector: ".name" goes through the class-name mapping and "#name" through
// the element-id mapping. Any other segment is a declaration: quoted strings
// are chunked and rejoined with CSS line continuations, which the CSS string
// grammar discards. At-rule preludes (@charset, @media ...) are otherwise
// copied verbatim.
//
// Every url(...) token, and the string form of @import, goes through a
// Linker anchored at the stylesheet's own path, so references keep working
// when the stylesheet is served from a link.
package style

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gorilla/css/scanner"

	"github.com/firasghr/GoShroud/obfuscation"
	"github.com/firasghr/GoShroud/tokenizer"
)

// continuation joins string pieces: an escaped newline, dropped by the CSS
// string grammar.
const continuation = "\\\n"

type segKind int

const (
	segDeclaration segKind = iota
	segSelector
	segAtRule
)

// Linker rewrites a URL reference found in the stylesheet at docPath.
type Linker interface {
	Rewrite(ref, docPath string, ctx *obfuscation.Context) string
}

// Options configures a Transformer. A nil Links copies references verbatim.
type Options struct {
	Links Linker
}

// Transformer rewrites stylesheets. It holds no per-call state.
type Transformer struct {
	links Linker
}

// New returns a Transformer.
func New(opts Options) *Transformer { return &Transformer{links: opts.Links} }

// Transform rewrites src under ctx. docPath is the original path of the
// stylesheet, or of the document embedding it. On a tokenizer error it
// returns a *obfuscation.ParseError and no output.
func (t *Transformer) Transform(src []byte, ctx *obfuscation.Context, docPath string) ([]byte, error) {
	s := scanner.New(string(src))
	var (
		out strings.Builder
		seg []*scanner.Token
	)
	out.Grow(len(src) + len(src)/4)
	w := segmentWriter{out: &out, ctx: ctx, links: t.links, docPath: docPath}

	flush := func(endsBlock bool) {
		w.write(seg, classify(seg, endsBlock))
		seg = seg[:0]
	}

	for {
		tok := s.Next()
		switch tok.Type {
		case scanner.TokenEOF:
			flush(false)
			return []byte(out.String()), nil
		case scanner.TokenError:
			return nil, obfuscation.NewParseError(obfuscation.KindStyle,
				fmt.Errorf("%s at line %d, column %d", tok.Value, tok.Line, tok.Column))
		}
		seg = append(seg, tok)
		if tok.Type == scanner.TokenChar {
			switch tok.Value {
			case "{":
				flush(true)
			case ";", "}":
				flush(false)
			}
		}
	}
}

func classify(seg []*scanner.Token, endsBlock bool) segKind {
	for _, tok := range seg {
		switch tok.Type {
		case scanner.TokenS, scanner.TokenComment, scanner.TokenCDO, scanner.TokenCDC, scanner.TokenBOM:
			continue
		case scanner.TokenAtKeyword:
			return segAtRule
		}
		break
	}
	if endsBlock {
		return segSelector
	}
	return segDeclaration
}

type segmentWriter struct {
	out     *strings.Builder
	ctx     *obfuscation.Context
	links   Linker
	docPath string
}

func (w *segmentWriter) write(seg []*scanner.Token, kind segKind) {
	out, ctx := w.out, w.ctx
	importRule := kind == segAtRule && isImport(seg)
	for i := 0; i < len(seg); i++ {
		tok := seg[i]
		if tok.Type == scanner.TokenURI {
			out.WriteString(w.uri(tok.Value))
			continue
		}
		switch kind {
		case segSelector:
			if tok.Type == scanner.TokenChar && tok.Value == "." && i+1 < len(seg) &&
				seg[i+1].Type == scanner.TokenIdent && plainName(seg[i+1].Value) {
				out.WriteString(".")
				out.WriteString(ctx.ClassToken(seg[i+1].Value))
				i++
				continue
			}
			if tok.Type == scanner.TokenHash && plainName(tok.Value[1:]) {
				out.WriteString("#")
				out.WriteString(ctx.Token(tokenizer.ElementID, tok.Value[1:]))
				continue
			}
		case segDeclaration:
			if tok.Type == scanner.TokenString {
				out.WriteString(chunkString(tok.Value, ctx))
				continue
			}
		case segAtRule:
			if importRule && tok.Type == scanner.TokenString {
				out.WriteString(w.importString(tok.Value))
				continue
			}
		}
		out.WriteString(tok.Value)
	}
}

// uri rewrites a url(...) token. The result is always quoted.
func (w *segmentWriter) uri(raw string) string {
	if w.links == nil || len(raw) < 5 {
		return raw
	}
	ref := strings.TrimSpace(raw[4 : len(raw)-1])
	if len(ref) >= 2 && (ref[0] == '"' || ref[0] == '\'') {
		ref = Unquote(ref[1 : len(ref)-1])
	} else {
		ref = Unquote(ref)
	}
	rewritten := w.links.Rewrite(ref, w.docPath, w.ctx)
	if rewritten == ref {
		return raw
	}
	return "url(\"" + escape(rewritten, '"') + "\")"
}

func (w *segmentWriter) importString(raw string) string {
	if w.links == nil || len(raw) < 2 {
		return raw
	}
	ref := Unquote(raw[1 : len(raw)-1])
	rewritten := w.links.Rewrite(ref, w.docPath, w.ctx)
	if rewritten == ref {
		return raw
	}
	return "\"" + escape(rewritten, '"') + "\""
}

func isImport(seg []*scanner.Token) bool {
	for _, tok := range seg {
		if tok.Type == scanner.TokenAtKeyword {
			return strings.EqualFold(tok.Value, "@import")
		}
	}
	return false
}

// plainName reports whether name carries no CSS escapes, so it can be
// compared with the literal class or id found in markup.
func plainName(name string) bool {
	return name != "" && !strings.ContainsRune(name, '\\')
}

// chunkString rewrites a quoted CSS string token. Strings shorter than two
// characters are left alone.
func chunkString(raw string, ctx *obfuscation.Context) string {
	if len(raw) < 2 {
		return raw
	}
	quote := raw[0]
	text := Unquote(raw[1 : len(raw)-1])
	if utf8.RuneCountInString(text) < 2 {
		return raw
	}
	pieces := ctx.Chunks(text)
	var b strings.Builder
	b.WriteByte(quote)
	for i, p := range pieces {
		if i > 0 {
			b.WriteString(continuation)
		}
		b.WriteString(escape(p, quote))
	}
	b.WriteByte(quote)
	return b.String()
}

// Unquote decodes the body of a CSS string: hex escapes with their optional
// trailing whitespace, escaped newlines (removed), and escaped characters.
func Unquote(body string) string {
	if !strings.ContainsRune(body, '\\') {
		return body
	}
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' || i+1 >= len(body) {
			b.WriteByte(c)
			continue
		}
		i++
		switch next := body[i]; {
		case next == '\n':
		case isHex(next):
			j := i
			for j < len(body) && j-i < 6 && isHex(body[j]) {
				j++
			}
			v, _ := strconv.ParseUint(body[i:j], 16, 32)
			r := rune(v)
			if r == 0 || r > utf8.MaxRune || (r >= 0xD800 && r <= 0xDFFF) {
				r = utf8.RuneError
			}
			b.WriteRune(r)
			if j < len(body) && (body[j] == ' ' || body[j] == '\t' || body[j] == '\n') {
				j++
			}
			i = j - 1
		default:
			_, size := utf8.DecodeRuneInString(body[i:])
			b.WriteString(body[i : i+size])
			i += size - 1
		}
	}
	return b.String()
}

// escape encodes text for the inside of a string quoted with quote, using
// only characters the tokenizer accepts in strings.
func escape(text string, quote byte) string {
	var b strings.Builder
	for _, r := range text {
		switch {
		case r == '\\' || r == rune(quote):
			b.WriteByte('\\')
			b.WriteRune(r)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, "\\%x ", r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}
