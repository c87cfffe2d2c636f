package markup_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firasghr/GoShroud/assets"
	"github.com/firasghr/GoShroud/markup"
	"github.com/firasghr/GoShroud/obfuscation"
	"github.com/firasghr/GoShroud/script"
	"github.com/firasghr/GoShroud/style"
	"github.com/firasghr/GoShroud/tokenizer"
)

func newTransformer(t *testing.T) *markup.Transformer {
	t.Helper()
	root := t.TempDir()
	css := filepath.Join(root, "static", "css", "app.css")
	require.NoError(t, os.MkdirAll(filepath.Dir(css), 0o755))
	require.NoError(t, os.WriteFile(css, []byte(".nav{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.js"), []byte("1"), 0o644))

	require.NoError(t, os.WriteFile(filepath.Join(root, "static", "guide.html"), []byte("<p>guide</p>"), 0o644))

	links := assets.NewLinker(assets.NewResolver([]string{root}), "o")
	return markup.New(markup.Options{
		Links:   links,
		Scripts: script.New(script.Options{MinLiteralLength: 3, RenameGlobals: true}),
		Styles:  style.New(style.Options{Links: links}),
	})
}

func fixedContext(opts ...obfuscation.Option) *obfuscation.Context {
	opts = append(opts, obfuscation.WithRand(obfuscation.NewFixedSource(1)))
	return obfuscation.NewContext("c0ffee", nil, opts...)
}

func transform(t *testing.T, tr *markup.Transformer, ctx *obfuscation.Context, src string) string {
	t.Helper()
	out, err := tr.Transform([]byte(src), ctx, "/index.html")
	require.NoError(t, err)
	return string(out)
}

func TestTransform_ClassNames(t *testing.T) {
	tr := newTransformer(t)
	ctx := fixedContext(obfuscation.WithExclusions(obfuscation.NewExclusions([]string{"fa", "fa-*"})))
	out := transform(t, tr, ctx, `<div class="header-title  fa fa-home">x</div>`)

	tok := ctx.Token(tokenizer.ClassName, "header-title")
	assert.Equal(t, tokenizer.Token(tokenizer.ClassName, "header-title", "c0ffee", tokenizer.DefaultLength), tok)
	assert.Contains(t, out, `class="`+tok+` fa fa-home"`)
}

func TestTransform_IDsAndLabels(t *testing.T) {
	tr := newTransformer(t)
	ctx := fixedContext()
	out := transform(t, tr, ctx, `<label for="email">E</label><input id="email">`)
	tok := ctx.Token(tokenizer.ElementID, "email")
	assert.Contains(t, out, `for="`+tok+`"`)
	assert.Contains(t, out, `id="`+tok+`"`)
}

func TestTransform_TextIsChunked(t *testing.T) {
	tr := newTransformer(t)
	ctx := fixedContext()
	out := transform(t, tr, ctx, `<p>Play games</p><p> x </p><title>Site title</title>`)

	assert.Contains(t, out, "<p>Pl<!---->ay<!----> g<!---->am<!---->es</p>")
	assert.Contains(t, out, "<p> x </p>")
	assert.NotContains(t, out, "Play games")
}

func TestTransform_RawTextParentsUntouched(t *testing.T) {
	tr := newTransformer(t)
	ctx := fixedContext()
	src := `<!DOCTYPE html><html><head><title>My Site</title></head><body>` +
		`<textarea>draft text</textarea><noscript>enable js</noscript></body></html>`
	out := transform(t, tr, ctx, src)
	assert.Contains(t, out, "<title>My Site</title>")
	assert.Contains(t, out, "<textarea>draft text</textarea>")
	assert.Contains(t, out, "enable js")
	assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
}

func TestTransform_StaticLinks(t *testing.T) {
	tr := newTransformer(t)
	ctx := fixedContext()
	src := `<link rel="stylesheet" href="/static/css/app.css">` +
		`<script src="app.js"></script>` +
		`<a href="/games">games</a>` +
		`<img src="https://cdn.example.com/logo.png">` +
		`<img src="/missing.png">`
	out := transform(t, tr, ctx, src)

	css := ctx.Token(tokenizer.Link, "/static/css/app.css")
	js := ctx.Token(tokenizer.Link, "/app.js")
	assert.Contains(t, out, `href="/o/`+css+`"`)
	assert.Contains(t, out, `src="/o/`+js+`"`)
	assert.Contains(t, out, `href="/games"`)
	assert.Contains(t, out, `src="https://cdn.example.com/logo.png"`)
	assert.Contains(t, out, `src="/missing.png"`)

	orig, ok := ctx.Reverse(tokenizer.Link, css)
	require.True(t, ok)
	assert.Equal(t, "/static/css/app.css", orig)
}

func TestTransform_InlineStyleAndScript(t *testing.T) {
	tr := newTransformer(t)
	ctx := fixedContext()
	src := `<style>.nav { color: red }</style>` +
		`<script>var greeting = "Hello world";</script>` +
		`<script type="application/json">{"title": "Hello world"}</script>`
	out := transform(t, tr, ctx, src)

	assert.Contains(t, out, "<style>."+ctx.Token(tokenizer.ClassName, "nav")+" { color: red }</style>")
	assert.Contains(t, out, `("He"+"ll"+"o "+"wo"+"rl"+"d")`)
	assert.Contains(t, out, ctx.Token(tokenizer.Identifier, "greeting"))
	assert.Contains(t, out, `<script type="application/json">{"title": "Hello world"}</script>`)
}

func TestTransform_ScriptParseErrorAborts(t *testing.T) {
	tr := newTransformer(t)
	_, err := tr.Transform([]byte(`<p>fine</p><script>var = ;</script>`), fixedContext(), "/")
	require.Error(t, err)
	var pe *obfuscation.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, obfuscation.KindScript, pe.Kind)
}

func TestTransform_Idempotent(t *testing.T) {
	tr := newTransformer(t)
	ctx := obfuscation.NewContext("c0ffee", nil)
	src := `<div class="card" id="main"><p>Some visible text</p><a href="/static/css/app.css">css</a></div>`
	a := transform(t, tr, ctx, src)
	b := transform(t, tr, ctx, src)
	assert.Equal(t, a, b)

	// A fresh context over the committed entries agrees as well.
	base := obfuscation.NewMappings()
	base.Merge(ctx.Delta())
	c := transform(t, tr, obfuscation.NewContext("c0ffee", base), src)
	assert.Equal(t, a, c)
}

func TestTransform_SessionsDiffer(t *testing.T) {
	tr := newTransformer(t)
	src := `<div class="card">Same text here</div>`
	a := transform(t, tr, obfuscation.NewContext("k1a2b3c4", nil), src)
	b := transform(t, tr, obfuscation.NewContext("z9y8x7w6", nil), src)
	assert.NotEqual(t, a, b)
}

func TestTransform_FragmentsFollowIDs(t *testing.T) {
	tr := newTransformer(t)
	ctx := fixedContext()
	src := `<a href="/static/guide.html?v=2#install">guide</a>` +
		`<a href="#install">here</a>` +
		`<h2 id="install">Install</h2>` +
		`<svg><use xlink:href="#icon"></use><use href="/static/sprite.svg#icon"></use></svg>`
	out, err := tr.Transform([]byte(src), ctx, "/static/index.html")
	require.NoError(t, err)

	install := ctx.Token(tokenizer.ElementID, "install")
	guide := ctx.Token(tokenizer.Link, "/static/guide.html")
	assert.Contains(t, string(out), `href="/o/`+guide+`?v=2#`+install+`"`)
	assert.Contains(t, string(out), `href="#`+install+`"`)
	assert.Contains(t, string(out), `id="`+install+`"`)
	assert.Contains(t, string(out), `xlink:href="#`+ctx.Token(tokenizer.ElementID, "icon")+`"`)
	assert.Contains(t, string(out), `href="/static/sprite.svg#icon"`)
}

func TestTransform_RelativeReferencesBecomeRootRelative(t *testing.T) {
	tr := newTransformer(t)
	ctx := fixedContext()
	src := `<a href="contact">c</a><a href="sub/">s</a><a href="../">up</a>` +
		`<a href="mailto:team@example.com">m</a>` +
		`<div style="background: url(../static/css/app.css)"></div>` +
		`<style>.hero { background: url(css/app.css) }</style>`
	out, err := tr.Transform([]byte(src), ctx, "/static/guide.html")
	require.NoError(t, err)

	app := ctx.Token(tokenizer.Link, "/static/css/app.css")
	assert.Contains(t, string(out), `href="/static/contact"`)
	assert.Contains(t, string(out), `href="/static/sub/"`)
	assert.Contains(t, string(out), `href="/"`)
	assert.Contains(t, string(out), `href="mailto:team@example.com"`)
	assert.Contains(t, string(out), `style="background: url(&#34;/o/`+app+`&#34;)"`)
	assert.Contains(t, string(out), `url("/o/`+app+`")`)
}
