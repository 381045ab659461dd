package fetcher_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/seekerlabs/crawld/internal/fetcher"
)

const basePage = "https://example.com/articles/go"

func extract(t *testing.T, html string) *fetcher.ExtractedContent {
	t.Helper()

	content, err := fetcher.NewExtractor().Extract(basePage, []byte(html))
	require.NoError(t, err)

	return content
}

func TestExtract_TitlePreference(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "title element wins",
			html: `<html><head><title>  Real   Title </title>` +
				`<meta property="og:title" content="OG Title"></head><body><h1>Heading</h1></body></html>`,
			want: "Real Title",
		},
		{
			name: "og title when title missing",
			html: `<html><head><meta property="og:title" content="OG Title"></head>` +
				`<body><h1>Heading</h1></body></html>`,
			want: "OG Title",
		},
		{
			name: "first heading when no metadata",
			html: `<html><body><h1>Heading</h1><h1>Second</h1></body></html>`,
			want: "Heading",
		},
		{
			name: "fallback when nothing declared",
			html: `<html><body><p>text</p></body></html>`,
			want: "Untitled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, extract(t, tt.html).Title)
		})
	}
}

func TestExtract_MetaDescription(t *testing.T) {
	html := `<html><head>
		<meta name="description" content="A page about Go.">
		<meta property="og:description" content="OG version.">
	</head><body></body></html>`

	require.Equal(t, "A page about Go.", extract(t, html).MetaDescription)

	ogOnly := `<html><head><meta property="og:description" content="OG version."></head><body></body></html>`
	require.Equal(t, "OG version.", extract(t, ogOnly).MetaDescription)
}

func TestExtract_Language(t *testing.T) {
	require.Equal(t, "de", extract(t, `<html lang="de"><body></body></html>`).Language)
	require.Equal(t, "en", extract(t, `<html lang="en-US"><body></body></html>`).Language)
	require.Equal(t, "fr",
		extract(t, `<html><head><meta http-equiv="content-language" content="fr"></head><body></body></html>`).Language)
	require.Equal(t, "en", extract(t, `<html><body></body></html>`).Language)
}

func TestExtract_StripsNonContent(t *testing.T) {
	html := `<html><body>
		<nav>Navigation menu</nav>
		<header>Site header</header>
		<script>var x = 1;</script>
		<style>.a { color: red }</style>
		<p>Visible   paragraph
		text.</p>
		<aside>Sidebar</aside>
		<footer>Copyright</footer>
	</body></html>`

	content := extract(t, html)

	require.Equal(t, "Visible paragraph text.", content.Text)
	require.NotContains(t, content.Text, "Navigation")
	require.NotContains(t, content.Text, "var x")
}

func TestExtract_PrefersArticleText(t *testing.T) {
	html := `<html><body>
		<div>Surrounding chrome</div>
		<article>The article body.</article>
	</body></html>`

	require.Equal(t, "The article body.", extract(t, html).Text)
}

func TestExtract_TruncatesLongText(t *testing.T) {
	html := `<html><body><p>` + strings.Repeat("a", 150_000) + `</p></body></html>`

	content := extract(t, html)
	require.Len(t, content.Text, 100_000)
}

func TestExtract_Links(t *testing.T) {
	html := `<html><body>
		<a href="/guide">The Guide</a>
		<a href="https://other.org/page?utm_source=x">External</a>
		<a href="/guide">Duplicate anchor</a>
		<a href="mailto:team@example.com">Mail</a>
		<a href="javascript:void(0)">JS</a>
		<a href="#section">Fragment only</a>
	</body></html>`

	content := extract(t, html)

	require.Len(t, content.Links, 2)
	require.Equal(t, "https://example.com/guide", content.Links[0].URL)
	require.Equal(t, "The Guide", content.Links[0].AnchorText)
	require.Equal(t, "https://other.org/page", content.Links[1].URL,
		"tracking parameters must not survive link extraction")
}

func TestExtract_SelfLinkExcluded(t *testing.T) {
	html := `<html><body><a href="` + basePage + `">Self</a><a href="/other">Other</a></body></html>`

	content := extract(t, html)

	require.Len(t, content.Links, 1)
	require.Equal(t, "https://example.com/other", content.Links[0].URL)
}

func TestExtract_ContentHashIsDeterministic(t *testing.T) {
	html := `<html><body><p>Stable text.</p></body></html>`

	first := extract(t, html)
	second := extract(t, html)

	require.Equal(t, first.ContentHash, second.ContentHash)
	require.Len(t, first.ContentHash, 64)
}
