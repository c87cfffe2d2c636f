package assets

import (
	"net/url"
	"path"
	"strings"

	"github.com/firasghr/GoShroud/obfuscation"
	"github.com/firasghr/GoShroud/tokenizer"
)

// LinkPath is the public path of a link token.
func LinkPath(prefix, token string) string {
	return "/" + prefix + "/" + token
}

// Linker rewrites the references of a document so they still work when the
// document itself is served from a link path:
//   - static files found under a root become session links;
//   - other relative references become root-relative;
//   - fragments that point into markup follow the element-id mapping.
//
// Query strings and fragments are carried over.
type Linker struct {
	resolver *Resolver
	prefix   string
}

// NewLinker returns a Linker emitting /prefix/<token> links.
func NewLinker(r *Resolver, prefix string) *Linker {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "o"
	}
	return &Linker{resolver: r, prefix: prefix}
}

// Prefix is the link path segment.
func (l *Linker) Prefix() string { return l.prefix }

// Rewrite returns ref as it must appear in the document at docPath.
func (l *Linker) Rewrite(ref, docPath string, ctx *obfuscation.Context) string {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" || l.resolver.Classify(trimmed) == External {
		return ref
	}
	p, query, fragment := Split(trimmed)

	// Same-document fragment.
	if p == "" && query == "" {
		return mapFragment(fragment, "", ctx)
	}

	if clean, ok := l.resolver.Resolve(trimmed, docPath); ok {
		return LinkPath(l.prefix, ctx.Token(tokenizer.Link, clean)) + query + mapFragment(fragment, clean, ctx)
	}

	target := p
	if !strings.HasPrefix(p, "/") && docPath != "" {
		target = Absolute(p, docPath)
	}
	return target + query + mapFragment(fragment, target, ctx)
}

// Split cuts ref into its path, its query (with "?") and its fragment (with
// "#").
func Split(ref string) (p, query, fragment string) {
	if i := strings.IndexByte(ref, '#'); i >= 0 {
		ref, fragment = ref[:i], ref[i:]
	}
	if i := strings.IndexByte(ref, '?'); i >= 0 {
		ref, query = ref[:i], ref[i:]
	}
	return ref, query, fragment
}

// Absolute resolves the relative path p against docPath and keeps a
// trailing slash. An empty p names the document itself.
func Absolute(p, docPath string) string {
	if p == "" {
		return docPath
	}
	abs := Canonical(p, docPath)
	if abs != "/" && (strings.HasSuffix(p, "/") || p == "." || p == ".." ||
		strings.HasSuffix(p, "/.") || strings.HasSuffix(p, "/..")) {
		abs += "/"
	}
	return abs
}

// mapFragment rewrites "#name" through the element-id mapping when target
// is markup served by the gateway. target "" is the current document.
func mapFragment(fragment, target string, ctx *obfuscation.Context) string {
	if len(fragment) < 2 || !isMarkup(target) {
		return fragment
	}
	name := fragment[1:]
	if dec, err := url.PathUnescape(name); err == nil {
		name = dec
	}
	return "#" + ctx.Token(tokenizer.ElementID, name)
}

func isMarkup(target string) bool {
	p := target
	if dec, err := url.PathUnescape(p); err == nil {
		p = dec
	}
	switch strings.ToLower(path.Ext(path.Base(p))) {
	case "", ".html", ".htm", ".xhtml":
		return true
	}
	return strings.HasSuffix(p, "/")
}
