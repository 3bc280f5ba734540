package crawler

// NotAvailable is stored for any field that could not be located in a detail
// document. It is distinct from the empty string.
const NotAvailable = "N/A"

// EntityStub is one row discovered on a listing page. It carries just enough
// to request the entity's detail document.
type EntityStub struct {
	Code      string
	Name      string
	DetailURL string
}

// Valid reports whether every identifying field is populated.
func (s EntityStub) Valid() bool {
	return s.Code != "" && s.Name != "" && s.DetailURL != ""
}

// Record is a single entity's metric snapshot for one target date.
// All values are kept as text exactly as extracted.
type Record struct {
	TargetDate    string `json:"target_date"`
	Code          string `json:"code"`
	Sector        string `json:"sector"`
	Name          string `json:"name"`
	PriceText     string `json:"price_text"`
	PE            string `json:"pe"`
	DividendYield string `json:"dividend_yield"`
	PB            string `json:"pb"`
	ROE           string `json:"roe"`
	EarningYield  string `json:"earning_yield"`
}

// Key identifies the row a record occupies in the snapshot store.
type Key struct {
	Code       string
	TargetDate string
}

// Key returns the record's uniqueness key.
func (r Record) Key() Key {
	return Key{Code: r.Code, TargetDate: r.TargetDate}
}

// Document is a fetched listing or detail page.
type Document struct {
	URL        string
	StatusCode int
	Body       []byte
	FromCache  bool
}
