package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"

	"github.com/JakeFAU/metrics-snapshot-crawler/internal/crawler"
)

// Locator is a compiled XPath expression. A locator that failed to compile is
// still usable; it simply never matches.
type Locator struct {
	raw  string
	expr *xpath.Expr
	err  error
}

// NewLocator compiles expr. Compilation errors are kept on the locator and
// reported through Err rather than returned.
func NewLocator(expr string) Locator {
	compiled, err := xpath.Compile(expr)
	if err != nil {
		err = fmt.Errorf("compile locator %q: %w", expr, err)
	}
	return Locator{raw: expr, expr: compiled, err: err}
}

// String returns the source expression.
func (l Locator) String() string { return l.raw }

// Err reports a compile failure, if any.
func (l Locator) Err() error { return l.err }

// ParseDocument parses an HTML body into a node tree.
func ParseDocument(body []byte) (*html.Node, error) {
	doc, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// Extract resolves loc against doc and returns the first non-blank match,
// trimmed. It returns crawler.NotAvailable when nothing usable matches.
func Extract(doc *html.Node, loc Locator) string {
	for _, n := range queryAll(doc, loc) {
		if v := strings.TrimSpace(htmlquery.InnerText(n)); v != "" {
			return v
		}
	}
	return crawler.NotAvailable
}

// NormalizePercentage makes a percentage-denominated value carry a trailing
// "%". Blank input and the sentinel come back as the sentinel.
func NormalizePercentage(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || value == crawler.NotAvailable {
		return crawler.NotAvailable
	}
	if strings.HasSuffix(value, "%") {
		return value
	}
	return value + "%"
}

// queryAll never panics; malformed trees or expressions produce no nodes.
func queryAll(doc *html.Node, loc Locator) (nodes []*html.Node) {
	if doc == nil || loc.expr == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			nodes = nil
		}
	}()
	return htmlquery.QuerySelectorAll(doc, loc.expr)
}
