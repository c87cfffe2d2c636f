// Package markup rewrites HTML documents under a session's obfuscation
// context.
//
// Architecture:
//   - The document is parsed with golang.org/x/net/html into a node tree,
//     rewritten in place by a depth-first walk, and rendered back.
//   - Attributes: class names and element ids go through their mappings.
//     src/href references go through a Linker: static files become opaque
//     /<prefix>/<token> links, relative references become root-relative, and
//     fragments follow the id mapping. The page then works from any URL.
//   - Visible text is replaced by its memoized chunking with empty comments
//     between the pieces. Browsers render and expose the same text, scrapers
//     reading the raw source do not.
//   - Inline <style> bodies, style attributes and JavaScript <script> bodies
//     are handed to the style and script transformers so they keep matching
//     the rewritten markup.
package markup

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/firasghr/GoShroud/obfuscation"
	"github.com/firasghr/GoShroud/tokenizer"
)

// ContentTransformer rewrites one embedded script.
type ContentTransformer interface {
	Transform(src []byte, ctx *obfuscation.Context) ([]byte, error)
}

// StyleTransformer rewrites one embedded stylesheet. docPath anchors its
// relative url() references.
type StyleTransformer interface {
	Transform(src []byte, ctx *obfuscation.Context, docPath string) ([]byte, error)
}

// Linker rewrites a URL reference found in the document at docPath.
type Linker interface {
	Rewrite(ref, docPath string, ctx *obfuscation.Context) string
}

// Options configures a Transformer. Nil Scripts or Styles leave inline code
// untouched; a nil Links leaves every reference untouched.
type Options struct {
	Links   Linker
	Scripts ContentTransformer
	Styles  StyleTransformer
}

// Transformer rewrites HTML. It is safe for concurrent use.
type Transformer struct {
	opts Options
}

// New returns a Transformer.
func New(opts Options) *Transformer {
	return &Transformer{opts: opts}
}

var documentPattern = regexp.MustCompile(`(?i)<!doctype|<html`)

// rawTextParents hold text that is not rendered as markup: chunk separators
// placed there would show up literally or change behaviour.
var rawTextParents = map[atom.Atom]bool{
	atom.Script:    true,
	atom.Style:     true,
	atom.Title:     true,
	atom.Textarea:  true,
	atom.Noscript:  true,
	atom.Template:  true,
	atom.Xmp:       true,
	atom.Iframe:    true,
	atom.Plaintext: true,
}

var scriptTypes = map[string]bool{
	"":                         true,
	"text/javascript":          true,
	"application/javascript":   true,
	"application/x-javascript": true,
	"text/ecmascript":          true,
	"application/ecmascript":   true,
	"module":                   true,
}

// Transform rewrites src. docPath is the request path of the document and
// anchors relative references.
func (t *Transformer) Transform(src []byte, ctx *obfuscation.Context, docPath string) ([]byte, error) {
	var roots []*html.Node
	if documentPattern.Match(src) {
		doc, err := html.Parse(bytes.NewReader(src))
		if err != nil {
			return nil, obfuscation.NewParseError(obfuscation.KindMarkup, err)
		}
		roots = []*html.Node{doc}
	} else {
		body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
		nodes, err := html.ParseFragment(bytes.NewReader(src), body)
		if err != nil {
			return nil, obfuscation.NewParseError(obfuscation.KindMarkup, err)
		}
		roots = nodes
	}

	w := walker{t: t, ctx: ctx, docPath: docPath}
	for _, n := range roots {
		if err := w.walk(n, false); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	buf.Grow(len(src) + len(src)/2)
	for _, n := range roots {
		if err := html.Render(&buf, n); err != nil {
			return nil, fmt.Errorf("markup: render: %w", err)
		}
	}
	return buf.Bytes(), nil
}

type walker struct {
	t       *Transformer
	ctx     *obfuscation.Context
	docPath string
}

func (w *walker) walk(n *html.Node, rawText bool) error {
	switch n.Type {
	case html.TextNode:
		if !rawText {
			w.chunkText(n)
		}
		return nil
	case html.ElementNode:
		if err := w.rewriteAttrs(n); err != nil {
			return err
		}
		if err := w.inlineCode(n); err != nil {
			return err
		}
		rawText = rawText || rawTextParents[n.DataAtom]
	}

	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if err := w.walk(c, rawText); err != nil {
			return err
		}
		c = next
	}
	return nil
}

func (w *walker) chunkText(n *html.Node) {
	if utf8.RuneCountInString(strings.TrimSpace(n.Data)) <= 1 {
		return
	}
	pieces := w.ctx.Chunks(n.Data)
	if len(pieces) < 2 {
		return
	}
	parent := n.Parent
	for i, p := range pieces {
		if i > 0 {
			parent.InsertBefore(&html.Node{Type: html.CommentNode}, n)
		}
		parent.InsertBefore(&html.Node{Type: html.TextNode, Data: p}, n)
	}
	parent.RemoveChild(n)
}

func (w *walker) rewriteAttrs(n *html.Node) error {
	for i := range n.Attr {
		a := &n.Attr[i]
		if a.Namespace == "xlink" && a.Key == "href" {
			w.rewriteRef(a)
			continue
		}
		if a.Namespace != "" {
			continue
		}
		switch a.Key {
		case "class":
			fields := strings.Fields(a.Val)
			if len(fields) == 0 {
				continue
			}
			for j, name := range fields {
				fields[j] = w.ctx.ClassToken(name)
			}
			a.Val = strings.Join(fields, " ")
		case "id", "for":
			if a.Val != "" {
				a.Val = w.ctx.Token(tokenizer.ElementID, a.Val)
			}
		case "src", "href":
			w.rewriteRef(a)
		case "style":
			if w.t.opts.Styles == nil || strings.TrimSpace(a.Val) == "" {
				continue
			}
			out, err := w.t.opts.Styles.Transform([]byte(a.Val), w.ctx, w.docPath)
			if err != nil {
				return err
			}
			a.Val = string(out)
		}
	}
	return nil
}

func (w *walker) rewriteRef(a *html.Attribute) {
	if w.t.opts.Links != nil {
		a.Val = w.t.opts.Links.Rewrite(a.Val, w.docPath, w.ctx)
	}
}

func (w *walker) inlineCode(n *html.Node) error {
	var transform func([]byte) ([]byte, error)
	switch n.DataAtom {
	case atom.Style:
		if st := w.t.opts.Styles; st != nil {
			transform = func(src []byte) ([]byte, error) { return st.Transform(src, w.ctx, w.docPath) }
		}
	case atom.Script:
		if sc := w.t.opts.Scripts; sc != nil && scriptTypes[strings.ToLower(strings.TrimSpace(attr(n, "type")))] {
			transform = func(src []byte) ([]byte, error) { return sc.Transform(src, w.ctx) }
		}
	}
	if transform == nil {
		return nil
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.TextNode || strings.TrimSpace(c.Data) == "" {
			continue
		}
		out, err := transform([]byte(c.Data))
		if err != nil {
			return err
		}
		c.Data = string(out)
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}
