// Package assets classifies URL references found in markup and resolves
// static ones against an ordered list of root directories.
//
// A reference is:
//   - External: has a scheme (http:, data:, mailto:, ...) or is
//     protocol-relative (//host/...). Never rewritten.
//   - Dynamic: its path has no file extension. Assumed to be an application
//     route and left untouched.
//   - Static: has an extension. Resolved to a clean root-relative path if some
//     root holds a regular file there; otherwise left unchanged.
package assets

import (
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// Kind is the classification of a reference.
type Kind int

const (
	Dynamic Kind = iota
	External
	Static
)

func (k Kind) String() string {
	switch k {
	case External:
		return "external"
	case Static:
		return "static"
	default:
		return "dynamic"
	}
}

var schemePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.\-]*:`)

// Resolver searches ordered roots; the first root holding the file wins.
type Resolver struct {
	roots []string
}

// NewResolver creates a Resolver over roots, in priority order.
func NewResolver(roots []string) *Resolver {
	return &Resolver{roots: append([]string(nil), roots...)}
}

// Roots returns the search order.
func (r *Resolver) Roots() []string { return append([]string(nil), r.roots...) }

// Classify returns the Kind of ref.
func (r *Resolver) Classify(ref string) Kind {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "", strings.HasPrefix(ref, "#"):
		return Dynamic
	case strings.HasPrefix(ref, "//"), strings.HasPrefix(ref, `\\`):
		return External
	case schemePattern.MatchString(ref):
		return External
	}
	p := stripSuffixes(ref)
	if dec, err := url.PathUnescape(p); err == nil {
		p = dec
	}
	if path.Ext(path.Base(p)) == "" || strings.HasSuffix(p, "/") {
		return Dynamic
	}
	return Static
}

// Resolve returns the clean root-relative path of a static ref and true, or
// ref unchanged and false. base is the request path of the referencing
// document; relative refs are resolved against its directory.
func (r *Resolver) Resolve(ref, base string) (string, bool) {
	if r.Classify(ref) != Static {
		return ref, false
	}
	p, err := url.PathUnescape(stripSuffixes(strings.TrimSpace(ref)))
	if err != nil {
		return ref, false
	}
	clean := Canonical(p, base)
	if _, ok := r.Locate(clean); !ok {
		return ref, false
	}
	return clean, true
}

// Canonical joins a relative p onto the directory of base and cleans the
// result. The result always starts with "/" and never climbs above it.
func Canonical(p, base string) string {
	if !strings.HasPrefix(p, "/") {
		dir := base
		if !strings.HasSuffix(dir, "/") {
			dir = path.Dir(dir)
		}
		p = path.Join("/", dir, p)
	}
	return path.Clean("/" + p)
}

// Locate returns the filesystem path of the regular file at clean in the
// first root that has one.
func (r *Resolver) Locate(clean string) (string, bool) {
	for _, root := range r.roots {
		fp := filepath.Join(root, filepath.FromSlash(path.Clean("/"+clean)))
		if fi, err := os.Stat(fp); err == nil && fi.Mode().IsRegular() {
			return fp, true
		}
	}
	return "", false
}

func stripSuffixes(ref string) string {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		return ref[:i]
	}
	return ref
}
