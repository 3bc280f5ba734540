package extract

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/metrics-snapshot-crawler/internal/crawler"
)

const listingHTML = `<html><body>
<table class="data item-list">
  <tr><th>Code</th><th>Name</th></tr>
  <tr><td>1301</td><td><a href="/detail/1301">Kyokuyo</a></td></tr>
  <tr><td></td><td><a href="/detail/none">No Code</a></td></tr>
  <tr><td>1332</td><td>Nissui (no link)</td></tr>
  <tr><td>1333</td><td><a href="https://other.example.com/detail/1333"> Maruha  Nichiro </a></td></tr>
</table>
<div class="pager"><a href="?page=1">Prev</a> <a href="?page=3">  next </a></div>
</body></html>`

func TestCollectStubs(t *testing.T) {
	t.Parallel()

	doc, err := ParseDocument([]byte(listingHTML))
	require.NoError(t, err)

	p := NewListingParser(ListingLocators{})
	require.Empty(t, p.Errs())

	stubs, next := p.CollectStubs(doc, "https://example.com/markets/list/?page=2")
	require.Equal(t, []crawler.EntityStub{
		{Code: "1301", Name: "Kyokuyo", DetailURL: "https://example.com/detail/1301"},
		{Code: "1333", Name: "Maruha  Nichiro", DetailURL: "https://other.example.com/detail/1333"},
	}, stubs)
	require.Equal(t, "https://example.com/markets/list/?page=3", next)
}

func TestCollectStubsLastPage(t *testing.T) {
	t.Parallel()

	doc, err := ParseDocument([]byte(`<table class="item-list"><tr><td>7203</td><td><a href="d/7203">Toyota</a></td></tr></table><a href="/x">Nextly</a>`))
	require.NoError(t, err)

	stubs, next := NewListingParser(ListingLocators{}).CollectStubs(doc, "https://example.com/list/")
	require.Len(t, stubs, 1)
	require.Equal(t, "https://example.com/list/d/7203", stubs[0].DetailURL)
	require.Empty(t, next)
}

func TestCollectStubsCustomNextLabel(t *testing.T) {
	t.Parallel()

	doc, err := ParseDocument([]byte(`<p><a href="/list?p=2">次へ</a></p>`))
	require.NoError(t, err)

	stubs, next := NewListingParser(ListingLocators{NextLabel: "次へ"}).CollectStubs(doc, "https://example.com/list")
	require.Empty(t, stubs)
	require.Equal(t, "https://example.com/list?p=2", next)
}

func TestListingParserReportsBadLocators(t *testing.T) {
	t.Parallel()

	p := NewListingParser(ListingLocators{Rows: "//tr[", Code: "./td["})
	require.Len(t, p.Errs(), 2)

	doc, err := ParseDocument([]byte(listingHTML))
	require.NoError(t, err)
	stubs, _ := p.CollectStubs(doc, "https://example.com/")
	require.Empty(t, stubs)
}
