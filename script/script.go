// Package script rewrites JavaScript so it agrees with obfuscated markup and
// carries no readable string constants.
//
// Design:
//   - The source is parsed into tdewolff's typed AST, whose scope analysis
//     already links every use of a binding to its declaration. Renaming a
//     binding is a matter of rewriting the Data of each *js.Var in the chain.
//   - A single js.Walk visitor does both passes. Parent nodes are entered
//     before their children, so call sites, bracket accesses and property
//     names tag the string literals beneath them before the literals are
//     visited.
//   - The rewritten AST is printed back with its own printer. Comments and
//     original formatting are not preserved.
package script

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/js"

	"github.com/firasghr/GoShroud/obfuscation"
	"github.com/firasghr/GoShroud/tokenizer"
)

// Verifier checks that expr evaluates to want.
type Verifier interface {
	Verify(expr, want string) error
}

// Options configures a Transformer.
type Options struct {
	// Reserved names are never renamed, in addition to the built-in globals.
	Reserved []string
	// Preserved string literals are never rewritten.
	Preserved []string
	// MinLiteralLength is the shortest decoded literal that is rewritten.
	MinLiteralLength int
	// RenameGlobals also renames top-level declarations. Undeclared names
	// are never renamed.
	RenameGlobals bool
	// Verifier, when set, checks every emitted concatenation.
	Verifier Verifier
}

// Transformer rewrites scripts. It is safe for concurrent use.
type Transformer struct {
	reserved      map[string]struct{}
	preserved     map[string]struct{}
	minLen        int
	renameGlobals bool
	verifier      Verifier
}

// New builds a Transformer from opts.
func New(opts Options) *Transformer {
	t := &Transformer{
		reserved:      make(map[string]struct{}, len(builtinGlobals)+len(opts.Reserved)),
		preserved:     make(map[string]struct{}, len(opts.Preserved)),
		minLen:        opts.MinLiteralLength,
		renameGlobals: opts.RenameGlobals,
		verifier:      opts.Verifier,
	}
	for _, name := range builtinGlobals {
		t.reserved[name] = struct{}{}
	}
	for _, name := range opts.Reserved {
		t.reserved[name] = struct{}{}
	}
	for _, lit := range opts.Preserved {
		t.preserved[lit] = struct{}{}
	}
	return t
}

// Transform rewrites src under ctx. Parse failures are returned as
// *obfuscation.ParseError.
func (t *Transformer) Transform(src []byte, ctx *obfuscation.Context) ([]byte, error) {
	ast, err := js.Parse(parse.NewInputString(string(src)), js.Options{})
	if err != nil {
		return nil, obfuscation.NewParseError(obfuscation.KindScript, err)
	}

	r := &rewriter{
		t:       t,
		ctx:     ctx,
		names:   make(map[*js.Var]string),
		orig:    make(map[*js.Var]string),
		roles:   make(map[*js.LiteralExpr]role),
		globals: make(map[*js.Var]struct{}, len(ast.BlockStmt.Scope.Declared)),
		bound:   moduleBindings(ast),
	}
	for _, v := range ast.BlockStmt.Scope.Declared {
		r.globals[v] = struct{}{}
	}
	js.Walk(r, ast)
	if r.err != nil {
		return nil, r.err
	}
	return []byte(ast.JSString()), nil
}

// role tags a string literal with how its context wants it treated.
type role int

const (
	roleDefault role = iota
	roleKeep
	roleElementID
	roleSelector
)

var (
	classLike      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)
	simpleSelector = regexp.MustCompile(`^([.#])([A-Za-z_][A-Za-z0-9_-]*)$`)
)

// keepFirstArg lists methods whose first argument names something outside
// the session mappings: tags, attributes, events, storage keys.
var keepFirstArg = map[string]struct{}{
	"createElement":       {},
	"getAttribute":        {},
	"setAttribute":        {},
	"hasAttribute":        {},
	"removeAttribute":     {},
	"toggleAttribute":     {},
	"addEventListener":    {},
	"removeEventListener": {},
	"getItem":             {},
	"setItem":             {},
	"removeItem":          {},
}

// selectorMethods take a CSS selector as their first argument.
var selectorMethods = map[string]struct{}{
	"querySelector":    {},
	"querySelectorAll": {},
	"closest":          {},
	"matches":          {},
}

type rewriter struct {
	t   *Transformer
	ctx *obfuscation.Context

	names   map[*js.Var]string // root var -> emitted name
	orig    map[*js.Var]string // root var -> source name
	roles   map[*js.LiteralExpr]role
	globals map[*js.Var]struct{}
	bound   map[string]struct{}
	err     error
}

func (r *rewriter) Enter(n js.INode) js.IVisitor {
	if r.err != nil {
		return nil
	}
	switch n := n.(type) {
	case *js.Var:
		r.rename(n)
	case *js.PropertyName:
		if n.Computed != nil {
			if lit, ok := n.Computed.(*js.LiteralExpr); ok {
				r.roles[lit] = roleKeep
			}
			js.Walk(r, n.Computed)
		}
		return nil
	case *js.IndexExpr:
		if lit, ok := n.Y.(*js.LiteralExpr); ok {
			r.roles[lit] = roleKeep
		}
	case *js.CallExpr:
		r.tagCall(n)
	case *js.LiteralExpr:
		if n.TokenType == js.StringToken {
			r.literal(n)
		}
	}
	return r
}

func (r *rewriter) Exit(js.INode) {}

func (r *rewriter) rename(v *js.Var) {
	root := v
	for root.Link != nil {
		root = root.Link
	}
	name, seen := r.names[root]
	if !seen {
		orig := string(root.Data)
		r.orig[root] = orig
		name = orig
		if r.renamable(root, orig) {
			name = r.ctx.Token(tokenizer.Identifier, orig)
		}
		r.names[root] = name
		root.Data = []byte(name)
	}
	if v != root {
		v.Data = []byte(name)
	}
}

func (r *rewriter) renamable(root *js.Var, name string) bool {
	if root.Decl == js.PrivateDecl || strings.HasPrefix(name, "#") {
		return false
	}
	if _, ok := r.t.reserved[name]; ok {
		return false
	}
	if _, ok := r.bound[name]; ok {
		return false
	}
	// Unresolved names belong to the host or to another script.
	if root.Decl == js.NoDecl {
		return false
	}
	if _, ok := r.globals[root]; ok {
		return r.t.renameGlobals
	}
	return true
}

// sourceName returns the name v had before any renaming.
func (r *rewriter) sourceName(v *js.Var) string {
	root := v
	for root.Link != nil {
		root = root.Link
	}
	if name, ok := r.orig[root]; ok {
		return name
	}
	return string(root.Data)
}

func (r *rewriter) tagCall(n *js.CallExpr) {
	if len(n.Args.List) == 0 || n.Args.List[0].Rest {
		return
	}
	first, ok := n.Args.List[0].Value.(*js.LiteralExpr)
	if !ok || first.TokenType != js.StringToken {
		return
	}

	switch x := n.X.(type) {
	case *js.LiteralExpr:
		if x.TokenType == js.ImportToken {
			r.roles[first] = roleKeep
		}
	case *js.Var:
		if r.sourceName(x) == "require" {
			r.roles[first] = roleKeep
		}
	case *js.DotExpr:
		prop, ok := x.Y.(js.LiteralExpr)
		if !ok {
			return
		}
		method := string(prop.Data)
		if method == "getElementById" && len(n.Args.List) == 1 {
			r.roles[first] = roleElementID
		} else if _, ok := selectorMethods[method]; ok {
			r.roles[first] = roleSelector
		} else if _, ok := keepFirstArg[method]; ok {
			r.roles[first] = roleKeep
		}
	}
}

func (r *rewriter) literal(n *js.LiteralExpr) {
	role := r.roles[n]
	if role == roleKeep {
		return
	}
	value, ok := unquote(n.Data)
	if !ok || strings.ContainsAny(value, "<>") {
		return
	}

	// Element ids are mapped in markup whatever their length.
	switch role {
	case roleElementID:
		if value != "" {
			n.Data = []byte(quote(r.ctx.Token(tokenizer.ElementID, value)))
		}
		return
	case roleSelector:
		if m := simpleSelector.FindStringSubmatch(value); m != nil {
			tok := r.ctx.Token(tokenizer.ElementID, m[2])
			if m[1] == "." {
				tok = r.ctx.ClassToken(m[2])
			}
			n.Data = []byte(quote(m[1] + tok))
			return
		}
	}

	if utf8.RuneCountInString(value) < r.t.minLen {
		return
	}
	if _, ok := r.t.preserved[value]; ok {
		return
	}
	if classLike.MatchString(value) {
		n.Data = []byte(quote(r.ctx.ClassToken(value)))
		return
	}

	expr := concat(r.ctx.Chunks(value))
	if r.t.verifier != nil {
		if err := r.t.verifier.Verify(expr, value); err != nil {
			r.err = fmt.Errorf("script: verify literal: %w", err)
			return
		}
	}
	n.Data = []byte(expr)
}

// moduleBindings collects the local names that import and export statements
// refer to by name. Those must keep their spelling.
func moduleBindings(ast *js.AST) map[string]struct{} {
	bound := make(map[string]struct{})
	add := func(b []byte) {
		if len(b) > 0 && string(b) != "*" {
			bound[string(b)] = struct{}{}
		}
	}
	for _, stmt := range ast.BlockStmt.List {
		switch s := stmt.(type) {
		case *js.ImportStmt:
			add(s.Default)
			for _, a := range s.List {
				add(a.Name)
				add(a.Binding)
			}
		case *js.ExportStmt:
			if s.Module == nil {
				for _, a := range s.List {
					add(a.Name)
					add(a.Binding)
				}
			}
			switch d := s.Decl.(type) {
			case *js.FuncDecl:
				if d.Name != nil {
					add(d.Name.Data)
				}
			case *js.ClassDecl:
				if d.Name != nil {
					add(d.Name.Data)
				}
			case *js.VarDecl:
				for _, el := range d.List {
					bindingNames(el.Binding, add)
				}
			}
		}
	}
	return bound
}

func bindingNames(b js.IBinding, add func([]byte)) {
	switch b := b.(type) {
	case *js.Var:
		add(b.Data)
	case *js.BindingArray:
		for _, el := range b.List {
			bindingNames(el.Binding, add)
		}
		if b.Rest != nil {
			bindingNames(b.Rest, add)
		}
	case *js.BindingObject:
		for _, item := range b.List {
			bindingNames(item.Value.Binding, add)
		}
		if b.Rest != nil {
			add(b.Rest.Data)
		}
	}
}
