package style_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firasghr/GoShroud/assets"
	"github.com/firasghr/GoShroud/obfuscation"
	"github.com/firasghr/GoShroud/style"
	"github.com/firasghr/GoShroud/tokenizer"
)

func newContext(opts ...obfuscation.Option) *obfuscation.Context {
	return obfuscation.NewContext("c0ffee", nil, opts...)
}

func transform(t *testing.T, ctx *obfuscation.Context, src string) string {
	t.Helper()
	out, err := style.New(style.Options{}).Transform([]byte(src), ctx, "/")
	require.NoError(t, err)
	return string(out)
}

func TestTransform_SelectorsUseMappings(t *testing.T) {
	ctx := newContext()
	out := transform(t, ctx, ".header-title { color: red; }\n#main .nav > a:hover{color:#fff}")

	cls := ctx.Token(tokenizer.ClassName, "header-title")
	nav := ctx.Token(tokenizer.ClassName, "nav")
	id := ctx.Token(tokenizer.ElementID, "main")
	assert.Equal(t, "."+cls+" { color: red; }\n#"+id+" ."+nav+" > a:hover{color:#fff}", out)
}

func TestTransform_DeclarationsKeepValues(t *testing.T) {
	ctx := newContext()
	src := ".a{margin:.5em 0;background:url(img/bg.png) #fafafa}"
	out := transform(t, ctx, src)
	assert.Contains(t, out, "margin:.5em 0;")
	assert.Contains(t, out, "url(img/bg.png) #fafafa}")
	assert.NotContains(t, out, ".a{")
}

func TestTransform_NestedRules(t *testing.T) {
	ctx := newContext()
	out := transform(t, ctx, "@media (max-width: 600px) { .a { color: red } }\n.card { padding: 0; &.active { color: blue } }")
	a := ctx.Token(tokenizer.ClassName, "a")
	active := ctx.Token(tokenizer.ClassName, "active")
	card := ctx.Token(tokenizer.ClassName, "card")
	assert.Contains(t, out, "@media (max-width: 600px) { ."+a+" { color: red } }")
	assert.Contains(t, out, "."+card+" { padding: 0; &."+active+" { color: blue } }")
}

func TestTransform_Exclusions(t *testing.T) {
	ctx := newContext(obfuscation.WithExclusions(obfuscation.NewExclusions([]string{"fa", "fa-*"})))
	out := transform(t, ctx, ".fa.fa-home, .icon { width: 1em }")
	icon := ctx.Token(tokenizer.ClassName, "icon")
	assert.Equal(t, ".fa.fa-home, ."+icon+" { width: 1em }", out)
}

func TestTransform_StringsAreChunked(t *testing.T) {
	ctx := newContext(obfuscation.WithRand(obfuscation.NewFixedSource(1)))
	out := transform(t, ctx, `.x::before { content: "Hello"; }`)
	assert.Contains(t, out, "content: \"He\\\nll\\\no\";")

	// Decoding the continuation gives back the original text.
	start := strings.Index(out, `"`)
	end := strings.LastIndex(out, `"`)
	assert.Equal(t, "Hello", style.Unquote(out[start+1:end]))
}

func TestTransform_StringEscapesSurvive(t *testing.T) {
	ctx := newContext()
	src := `.q::after { content: "it's \"quoted\" \2014 done"; }`
	out := transform(t, ctx, src)
	start := strings.Index(out, `content: "`) + len(`content: "`)
	end := strings.LastIndex(out, `"`)
	assert.Equal(t, "it's \"quoted\" —done", style.Unquote(out[start:end]))
}

func TestTransform_ShortStringsAndAtRulesVerbatim(t *testing.T) {
	ctx := newContext()
	src := "@charset \"UTF-8\";\n@import \"theme.css\";\n.q { quotes: \"a\" \"b\"; }"
	out := transform(t, ctx, src)
	assert.Contains(t, out, "@charset \"UTF-8\";\n@import \"theme.css\";")
	assert.Contains(t, out, `quotes: "a" "b";`)
}

func TestTransform_SelectorStringsUntouched(t *testing.T) {
	ctx := newContext()
	out := transform(t, ctx, `a[title="read more"] { color: red }`)
	assert.Equal(t, `a[title="read more"] { color: red }`, out)
}

func TestTransform_BareDeclarationList(t *testing.T) {
	ctx := newContext()
	out := transform(t, ctx, "color: red; font-family: 'Open Sans'")
	assert.Contains(t, out, "color: red;")
	assert.Equal(t, "Open Sans", style.Unquote(out[strings.Index(out, "'")+1:strings.LastIndex(out, "'")]))
}

func TestTransform_ParseError(t *testing.T) {
	ctx := newContext()
	_, err := style.New(style.Options{}).Transform([]byte(`.a { content: "unterminated }`), ctx, "/")
	require.Error(t, err)
	var pe *obfuscation.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, obfuscation.KindStyle, pe.Kind)

	_, err = style.New(style.Options{}).Transform([]byte(".a { color: red } /* open"), ctx, "/")
	assert.Error(t, err)
}

func TestTransform_Deterministic(t *testing.T) {
	src := ".a .b #c { content: \"stable text\" }"
	a := transform(t, newContext(), src)
	b := transform(t, newContext(), src)
	assert.Equal(t, a, b)
}

func TestUnquote(t *testing.T) {
	assert.Equal(t, "plain", style.Unquote("plain"))
	assert.Equal(t, "ab", style.Unquote("a\\\nb"))
	assert.Equal(t, "A!", style.Unquote(`\41!`))
	assert.Equal(t, "AB", style.Unquote(`\41 B`))
	assert.Equal(t, `"`, style.Unquote(`\"`))
}

func newLinker(t *testing.T, files ...string) *assets.Linker {
	t.Helper()
	root := t.TempDir()
	for _, name := range files {
		fp := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(fp), 0o755))
		require.NoError(t, os.WriteFile(fp, []byte("x"), 0o644))
	}
	return assets.NewLinker(assets.NewResolver([]string{root}), "o")
}

func TestTransform_URLsFollowStylesheetPath(t *testing.T) {
	tr := style.New(style.Options{Links: newLinker(t, "static/img/bg.png", "static/css/theme.css")})
	ctx := newContext()
	src := ".hero { background: url(../img/bg.png) }\n" +
		".logo { background: url( \"../img/missing.png\" ) }\n" +
		".ext { background: url(https://cdn.example.com/x.png) }\n" +
		".blur { filter: url(#soft) }"
	out, err := tr.Transform([]byte(src), ctx, "/static/css/app.css")
	require.NoError(t, err)

	bg := ctx.Token(tokenizer.Link, "/static/img/bg.png")
	assert.Contains(t, string(out), `url("/o/`+bg+`")`)
	assert.Contains(t, string(out), `url("/static/img/missing.png")`)
	assert.Contains(t, string(out), "url(https://cdn.example.com/x.png)")
	assert.Contains(t, string(out), `url("#`+ctx.Token(tokenizer.ElementID, "soft")+`")`)
	assert.NotContains(t, string(out), "../img")
}

func TestTransform_ImportsFollowStylesheetPath(t *testing.T) {
	tr := style.New(style.Options{Links: newLinker(t, "static/css/theme.css", "static/css/print.css")})
	ctx := newContext()
	out, err := tr.Transform([]byte("@import \"theme.css\";\n@import url(print.css) print;\n.a{}"), ctx, "/static/css/app.css")
	require.NoError(t, err)

	assert.Contains(t, string(out), `@import "/o/`+ctx.Token(tokenizer.Link, "/static/css/theme.css")+`";`)
	assert.Contains(t, string(out), `@import url("/o/`+ctx.Token(tokenizer.Link, "/static/css/print.css")+`") print;`)
}
