package extract

import (
	"net/url"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/metrics-snapshot-crawler/internal/crawler"
)

// ListingLocators describes where stubs live on a listing page. Cell
// locators are evaluated relative to each row.
type ListingLocators struct {
	Rows      string `mapstructure:"rows"`
	Code      string `mapstructure:"code"`
	Name      string `mapstructure:"name"`
	Href      string `mapstructure:"href"`
	NextLabel string `mapstructure:"next_label"`
}

// DefaultListingLocators matches an item-list table with the code in the
// first cell and the linked name in the second.
func DefaultListingLocators() ListingLocators {
	return ListingLocators{
		Rows:      `//table[contains(@class,"item-list")]//tr`,
		Code:      `./td[1]//text()`,
		Name:      `./td[2]//text()`,
		Href:      `./td[2]//a/@href`,
		NextLabel: "Next",
	}
}

// ListingParser collects stubs and the next-page link from listing pages.
type ListingParser struct {
	rows      Locator
	code      Locator
	name      Locator
	href      Locator
	nextLabel string
	anchors   Locator
}

// NewListingParser compiles locs. Empty fields fall back to the defaults.
func NewListingParser(locs ListingLocators) *ListingParser {
	def := DefaultListingLocators()
	return &ListingParser{
		rows:      NewLocator(orDefault(locs.Rows, def.Rows)),
		code:      NewLocator(orDefault(locs.Code, def.Code)),
		name:      NewLocator(orDefault(locs.Name, def.Name)),
		href:      NewLocator(orDefault(locs.Href, def.Href)),
		nextLabel: normalizeLabel(orDefault(locs.NextLabel, def.NextLabel)),
		anchors:   NewLocator(`//a[@href]`),
	}
}

// Errs returns compile errors for any locator that will never match.
func (p *ListingParser) Errs() []error {
	var errs []error
	for _, l := range []Locator{p.rows, p.code, p.name, p.href} {
		if l.Err() != nil {
			errs = append(errs, l.Err())
		}
	}
	return errs
}

// CollectStubs returns the stubs on the page in document order plus the
// absolute next-page URL, or "" when the page has no next link. Rows missing
// a code, name or detail link are skipped.
func (p *ListingParser) CollectStubs(doc *html.Node, pageURL string) ([]crawler.EntityStub, string) {
	base, _ := url.Parse(pageURL)
	var stubs []crawler.EntityStub
	for _, row := range queryAll(doc, p.rows) {
		stub := crawler.EntityStub{
			Code:      firstText(row, p.code),
			Name:      firstText(row, p.name),
			DetailURL: resolve(base, firstText(row, p.href)),
		}
		if !stub.Valid() {
			continue
		}
		stubs = append(stubs, stub)
	}
	return stubs, p.nextLink(doc, base)
}

func (p *ListingParser) nextLink(doc *html.Node, base *url.URL) string {
	for _, a := range queryAll(doc, p.anchors) {
		if normalizeLabel(htmlquery.InnerText(a)) != p.nextLabel {
			continue
		}
		if href := strings.TrimSpace(htmlquery.SelectAttr(a, "href")); href != "" {
			return resolve(base, href)
		}
	}
	return ""
}

// firstText is Extract without the sentinel: stubs treat a miss as empty.
func firstText(n *html.Node, loc Locator) string {
	for _, m := range queryAll(n, loc) {
		if v := strings.TrimSpace(htmlquery.InnerText(m)); v != "" {
			return v
		}
	}
	return ""
}

func resolve(base *url.URL, href string) string {
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
