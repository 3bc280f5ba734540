package extract

import (
	"golang.org/x/net/html"

	"github.com/JakeFAU/metrics-snapshot-crawler/internal/crawler"
)

// FieldLocators holds one XPath per extracted record attribute.
type FieldLocators struct {
	Sector        string `mapstructure:"sector"`
	PriceText     string `mapstructure:"price_text"`
	PE            string `mapstructure:"pe"`
	DividendYield string `mapstructure:"dividend_yield"`
	PB            string `mapstructure:"pb"`
	ROE           string `mapstructure:"roe"`
	EarningYield  string `mapstructure:"earning_yield"`
}

// DefaultFieldLocators targets the #main header block and the #metrics list.
func DefaultFieldLocators() FieldLocators {
	return FieldLocators{
		Sector:        `//*[@id="main"]//span[@class="category"]/text()`,
		PriceText:     `//*[@id="main"]//div[@class="price"]/text()`,
		PE:            `//*[@id="metrics"]//li[@data-key="pe"]/span/text()`,
		DividendYield: `//*[@id="metrics"]//li[@data-key="div_yld"]/span/text()`,
		PB:            `//*[@id="metrics"]//li[@data-key="pb"]/span/text()`,
		ROE:           `//*[@id="metrics"]//li[@data-key="roe"]/span/text()`,
		EarningYield:  `//*[@id="metrics"]//li[@data-key="earn_yld"]/span/text()`,
	}
}

// Builder assembles snapshot records from a stub and its detail document.
type Builder struct {
	sector        Locator
	priceText     Locator
	pe            Locator
	dividendYield Locator
	pb            Locator
	roe           Locator
	earningYield  Locator
}

// NewBuilder compiles locs, using the default for any empty entry.
func NewBuilder(locs FieldLocators) *Builder {
	def := DefaultFieldLocators()
	return &Builder{
		sector:        NewLocator(orDefault(locs.Sector, def.Sector)),
		priceText:     NewLocator(orDefault(locs.PriceText, def.PriceText)),
		pe:            NewLocator(orDefault(locs.PE, def.PE)),
		dividendYield: NewLocator(orDefault(locs.DividendYield, def.DividendYield)),
		pb:            NewLocator(orDefault(locs.PB, def.PB)),
		roe:           NewLocator(orDefault(locs.ROE, def.ROE)),
		earningYield:  NewLocator(orDefault(locs.EarningYield, def.EarningYield)),
	}
}

// Errs returns compile errors for any locator that will never match.
func (b *Builder) Errs() []error {
	var errs []error
	for _, l := range []Locator{b.sector, b.priceText, b.pe, b.dividendYield, b.pb, b.roe, b.earningYield} {
		if l.Err() != nil {
			errs = append(errs, l.Err())
		}
	}
	return errs
}

// Build produces the record for stub on targetDate. Code and name come from
// the stub; everything else from doc.
func (b *Builder) Build(targetDate string, stub crawler.EntityStub, doc *html.Node) crawler.Record {
	return crawler.Record{
		TargetDate:    targetDate,
		Code:          stub.Code,
		Sector:        Extract(doc, b.sector),
		Name:          stub.Name,
		PriceText:     Extract(doc, b.priceText),
		PE:            Extract(doc, b.pe),
		DividendYield: NormalizePercentage(Extract(doc, b.dividendYield)),
		PB:            Extract(doc, b.pb),
		ROE:           NormalizePercentage(Extract(doc, b.roe)),
		EarningYield:  NormalizePercentage(Extract(doc, b.earningYield)),
	}
}
