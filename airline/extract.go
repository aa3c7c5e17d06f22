package airline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/use-agent/farescout/models"
)

// resultSelectors describes where one airline's results page keeps each
// field of a fare row. Field selectors are relative to the row.
type resultSelectors struct {
	Row   string
	Empty string

	Flight    string
	Price     string
	Miles     string
	Taxes     string
	Depart    string
	Arrive    string
	Stops     string
	FareBasis string

	// TimeAttr names the attribute holding a machine-readable timestamp on
	// the Depart/Arrive elements. Empty means use the element text.
	TimeAttr string
}

// extractor is a compiled resultSelectors.
type extractor struct {
	rowSelector   string
	emptySelector string
	timeAttr      string

	row, empty                       cascadia.Sel
	flight, price, miles, taxes      cascadia.Sel
	depart, arrive, stops, fareBasis cascadia.Sel
}

// compile parses every selector. Sites are static tables, so a bad selector
// is a programming error and panics at registry construction.
func (rs resultSelectors) compile() *extractor {
	return &extractor{
		rowSelector:   rs.Row,
		emptySelector: rs.Empty,
		timeAttr:      rs.TimeAttr,
		row:           mustParse(rs.Row),
		empty:         mustParse(rs.Empty),
		flight:        mustParse(rs.Flight),
		price:         mustParse(rs.Price),
		miles:         mustParse(rs.Miles),
		taxes:         mustParse(rs.Taxes),
		depart:        mustParse(rs.Depart),
		arrive:        mustParse(rs.Arrive),
		stops:         mustParse(rs.Stops),
		fareBasis:     mustParse(rs.FareBasis),
	}
}

func mustParse(selector string) cascadia.Sel {
	if selector == "" {
		return nil
	}
	sel, err := cascadia.Parse(selector)
	if err != nil {
		panic(fmt.Sprintf("airline: invalid selector %q: %v", selector, err))
	}
	return sel
}

// extraction is what one results page yielded.
type extraction struct {
	offers []models.RawFareOffer
	rows   int
	empty  bool
}

// offerTemplate carries the fields every offer from one page shares.
type offerTemplate struct {
	airline   models.AirlineCode
	direction models.Direction
	cabin     models.CabinClass
	currency  string
	miles     bool
}

// extract parses the rendered results page. Rows without a usable price
// (sold out, waitlist) are skipped; if every row lacks one the selectors no
// longer fit the page and the result is LAYOUT_CHANGED.
func (ex *extractor) extract(rendered string, tpl offerTemplate) (*extraction, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rendered))
	if err != nil {
		return nil, models.NewAirlineError(tpl.airline, models.ErrCodeLayoutChanged, "unparseable results page", err)
	}
	root := doc.Nodes[0]

	rows := cascadia.QueryAll(root, ex.row)
	out := &extraction{rows: len(rows)}
	if len(rows) == 0 {
		if ex.empty != nil && cascadia.Query(root, ex.empty) != nil {
			out.empty = true
			return out, nil
		}
		return nil, models.NewAirlineError(tpl.airline, models.ErrCodeLayoutChanged,
			fmt.Sprintf("no %q rows and no empty-result marker", ex.rowSelector), nil)
	}

	for _, row := range rows {
		offer := models.RawFareOffer{
			Airline:       tpl.airline,
			Direction:     tpl.direction,
			Cabin:         tpl.cabin,
			Currency:      tpl.currency,
			Source:        models.SourceBrowser,
			FlightNumbers: ex.texts(doc, row, ex.flight),
			DepartureText: ex.timestamp(doc, row, ex.depart),
			ArrivalText:   ex.timestamp(doc, row, ex.arrive),
			Stops:         parseStops(ex.text(doc, row, ex.stops)),
			FareBasis:     ex.text(doc, row, ex.fareBasis),
		}
		if tpl.miles {
			offer.MilesText = ex.text(doc, row, ex.miles)
			offer.TaxesText = ex.text(doc, row, ex.taxes)
			if offer.MilesText == "" {
				continue
			}
		} else {
			offer.PriceText = ex.text(doc, row, ex.price)
			if !hasDigit(offer.PriceText) {
				continue
			}
		}
		out.offers = append(out.offers, offer)
	}

	if len(out.offers) == 0 {
		return nil, models.NewAirlineError(tpl.airline, models.ErrCodeLayoutChanged,
			fmt.Sprintf("%d result rows but none carried a price", len(rows)), nil)
	}
	return out, nil
}

func (ex *extractor) node(row *html.Node, sel cascadia.Sel) *html.Node {
	if sel == nil {
		return nil
	}
	return cascadia.Query(row, sel)
}

func (ex *extractor) text(doc *goquery.Document, row *html.Node, sel cascadia.Sel) string {
	n := ex.node(row, sel)
	if n == nil {
		return ""
	}
	return cleanText(doc.FindNodes(n).Text())
}

func (ex *extractor) texts(doc *goquery.Document, row *html.Node, sel cascadia.Sel) []string {
	if sel == nil {
		return nil
	}
	var out []string
	for _, n := range cascadia.QueryAll(row, sel) {
		if t := strings.ReplaceAll(cleanText(doc.FindNodes(n).Text()), " ", ""); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (ex *extractor) timestamp(doc *goquery.Document, row *html.Node, sel cascadia.Sel) string {
	n := ex.node(row, sel)
	if n == nil {
		return ""
	}
	s := doc.FindNodes(n)
	if ex.timeAttr != "" {
		if v, ok := s.Attr(ex.timeAttr); ok {
			return strings.TrimSpace(v)
		}
	}
	return cleanText(s.Text())
}

var (
	spaceRe = regexp.MustCompile(`\s+`)
	digitRe = regexp.MustCompile(`\d+`)
)

func cleanText(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

func hasDigit(s string) bool {
	return digitRe.MatchString(s)
}

// parseStops reads "Nonstop", "直飛", "1 stop" or "2 轉機". Anything without
// a number is nonstop.
func parseStops(s string) int {
	m := digitRe.FindString(s)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}
