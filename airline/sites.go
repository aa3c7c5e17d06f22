package airline

import (
	"net/url"
	"strconv"

	"github.com/use-agent/farescout/models"
)

func newChinaAirlines(memory *LayoutMemory) Adapter {
	form := &formSpec{
		URL:         "https://www.china-airlines.com/tw/zh/booking/book-flights",
		Consent:     "#onetrust-accept-btn-handler",
		Origin:      "#ci-origin",
		Destination: "#ci-destination",
		Date:        "#ci-depart-date",
		DateLayout:  "2006/01/02",
		Cabin:       "#ci-cabin",
		Passengers:  "#ci-adults",
		Submit:      "#ci-search-submit",
	}
	award := *form
	award.URL = "https://www.china-airlines.com/tw/zh/member/award-ticket"
	award.Submit = "#ci-award-submit"

	return build(site{
		code:     models.ChinaAirlines,
		currency: "TWD",
		cabinLabels: map[models.CabinClass]string{
			models.CabinEconomy:        "經濟艙",
			models.CabinPremiumEconomy: "豪華經濟艙",
			models.CabinBusiness:       "商務艙",
			models.CabinFirst:          "頭等艙",
		},
		cash: searchSpec{
			form: form,
			results: resultSelectors{
				Row:       ".flight-result-item",
				Empty:     ".no-flight-result",
				Flight:    ".flight-no",
				Price:     ".fare-price .amount",
				Depart:    "time.depart-time",
				Arrive:    "time.arrive-time",
				Stops:     ".stops",
				FareBasis: ".fare-family",
				TimeAttr:  "datetime",
			},
		},
		login: &loginSpec{
			URL:      "https://www.china-airlines.com/tw/zh/member/login",
			Consent:  "#onetrust-accept-btn-handler",
			MemberID: "#dynasty-id",
			Password: "#dynasty-password",
			Submit:   "#login-submit",
			Success:  ".member-greeting",
			Failure:  ".login-error",
		},
		award: &searchSpec{
			form: &award,
			results: resultSelectors{
				Row:      ".award-flight",
				Empty:    ".no-award-seat",
				Flight:   ".flight-no",
				Miles:    ".award-miles",
				Taxes:    ".award-taxes",
				Depart:   "time.depart-time",
				Arrive:   "time.arrive-time",
				Stops:    ".stops",
				TimeAttr: "datetime",
			},
		},
	}, memory)
}

func newEVAAir(memory *LayoutMemory) Adapter {
	cabins := map[models.CabinClass]string{
		models.CabinEconomy:        "Y",
		models.CabinPremiumEconomy: "W",
		models.CabinBusiness:       "C",
		models.CabinFirst:          "C",
	}
	link := func(base string) func(Query) string {
		return func(q Query) string {
			v := url.Values{}
			v.Set("from", q.Origin)
			v.Set("to", q.Destination)
			v.Set("date", q.Date.Format("20060102"))
			v.Set("cabin", cabins[q.Cabin])
			v.Set("adt", strconv.Itoa(max(q.Passengers, 1)))
			return base + "?" + v.Encode()
		}
	}

	return build(site{
		code:     models.EVAAir,
		currency: "TWD",
		cash: searchSpec{
			deepLink: link("https://booking.evaair.com/flyeva/eva/b2c/booking-online.aspx"),
			results: resultSelectors{
				Row:       "tr.flight-row",
				Empty:     "#noFlightMessage",
				Flight:    ".flt-number span",
				Price:     "td.lowest-fare",
				Depart:    ".dep-time",
				Arrive:    ".arr-time",
				Stops:     ".transfer-info",
				FareBasis: ".fare-brand",
				TimeAttr:  "data-datetime",
			},
		},
		login: &loginSpec{
			URL:      "https://www.evaair.com/zh-tw/infinity-mileagelands/login/",
			MemberID: "input[name=memberNo]",
			Password: "input[name=password]",
			Submit:   "button.login-btn",
			Success:  ".member-info .name",
			Failure:  ".login-form .error-message",
		},
		award: &searchSpec{
			deepLink: link("https://booking.evaair.com/flyeva/eva/b2c/award-booking.aspx"),
			results: resultSelectors{
				Row:      "tr.award-row",
				Empty:    "#noAwardMessage",
				Flight:   ".flt-number span",
				Miles:    ".award-price",
				Depart:   ".dep-time",
				Arrive:   ".arr-time",
				Stops:    ".transfer-info",
				TimeAttr: "data-datetime",
			},
		},
	}, memory)
}

func newStarlux(memory *LayoutMemory) Adapter {
	return build(site{
		code:     models.Starlux,
		currency: "TWD",
		cabinLabels: map[models.CabinClass]string{
			models.CabinEconomy:        "Economy",
			models.CabinPremiumEconomy: "Premium Economy",
			models.CabinBusiness:       "Business",
			models.CabinFirst:          "First",
		},
		cash: searchSpec{
			form: &formSpec{
				URL:         "https://www.starlux-airlines.com/zh-TW/booking/book-flight",
				Consent:     "button.cookie-accept",
				Origin:      "input[data-testid=origin-input]",
				Destination: "input[data-testid=destination-input]",
				Date:        "input[data-testid=depart-date]",
				DateLayout:  "2006-01-02",
				Cabin:       "select[data-testid=cabin-select]",
				Passengers:  "select[data-testid=adult-select]",
				Submit:      "button[data-testid=search-flight]",
			},
			results: resultSelectors{
				Row:      "[data-testid=flight-card]",
				Empty:    "[data-testid=no-flight]",
				Flight:   "[data-testid=flight-number]",
				Price:    "[data-testid=lowest-price]",
				Depart:   "[data-testid=depart-time]",
				Arrive:   "[data-testid=arrive-time]",
				Stops:    "[data-testid=stop-count]",
				TimeAttr: "data-iso",
			},
		},
		login: &loginSpec{
			URL:      "https://www.starlux-airlines.com/zh-TW/cosmile/login",
			Consent:  "button.cookie-accept",
			MemberID: "input[data-testid=cosmile-id]",
			Password: "input[data-testid=cosmile-password]",
			Submit:   "button[data-testid=login-submit]",
			Success:  "[data-testid=member-avatar]",
			Failure:  "[data-testid=login-error]",
		},
		award: &searchSpec{
			form: &formSpec{
				URL:         "https://www.starlux-airlines.com/zh-TW/cosmile/redeem-flight",
				Origin:      "input[data-testid=origin-input]",
				Destination: "input[data-testid=destination-input]",
				Date:        "input[data-testid=depart-date]",
				DateLayout:  "2006-01-02",
				Cabin:       "select[data-testid=cabin-select]",
				Submit:      "button[data-testid=search-award]",
			},
			results: resultSelectors{
				Row:      "[data-testid=award-card]",
				Empty:    "[data-testid=no-award]",
				Flight:   "[data-testid=flight-number]",
				Miles:    "[data-testid=award-miles]",
				Taxes:    "[data-testid=award-tax]",
				Depart:   "[data-testid=depart-time]",
				Arrive:   "[data-testid=arrive-time]",
				Stops:    "[data-testid=stop-count]",
				TimeAttr: "data-iso",
			},
		},
	}, memory)
}

func newCathayPacific(memory *LayoutMemory) Adapter {
	cabins := map[models.CabinClass]string{
		models.CabinEconomy:        "ECONOMY",
		models.CabinPremiumEconomy: "PREMIUM_ECONOMY",
		models.CabinBusiness:       "BUSINESS",
		models.CabinFirst:          "FIRST",
	}
	link := func(base string) func(Query) string {
		return func(q Query) string {
			v := url.Values{}
			v.Set("origin", q.Origin)
			v.Set("destination", q.Destination)
			v.Set("departureDate", q.Date.Format("20060102"))
			v.Set("cabinClass", cabins[q.Cabin])
			v.Set("adult", strconv.Itoa(max(q.Passengers, 1)))
			v.Set("tripType", "O")
			return base + "?" + v.Encode()
		}
	}

	return build(site{
		code:     models.CathayPacific,
		currency: "TWD",
		cash: searchSpec{
			deepLink: link("https://book.cathaypacific.com/CathayPacificV3/dyn/air/booking/availability"),
			results: resultSelectors{
				Row:       ".flight-list .flight-item",
				Empty:     ".no-flights-found",
				Flight:    ".flight-number",
				Price:     ".price-from .price-amount",
				Depart:    ".departure .time",
				Arrive:    ".arrival .time",
				Stops:     ".stop-info",
				FareBasis: ".fare-family-name",
				TimeAttr:  "data-timestamp",
			},
		},
		login: &loginSpec{
			URL:      "https://www.cathaypacific.com/cx/zh_TW/sign-in.html",
			Consent:  "#onetrust-accept-btn-handler",
			MemberID: "#membershipNumber",
			Password: "#password",
			Submit:   "button[type=submit].signin-button",
			Success:  ".member-dashboard",
			Failure:  ".signin-error",
		},
		award: &searchSpec{
			deepLink: link("https://book.cathaypacific.com/CathayPacificAwardV3/dyn/air/booking/availability"),
			results: resultSelectors{
				Row:      ".award-list .flight-item",
				Empty:    ".no-award-availability",
				Flight:   ".flight-number",
				Miles:    ".asia-miles-amount",
				Taxes:    ".taxes-amount",
				Depart:   ".departure .time",
				Arrive:   ".arrival .time",
				Stops:    ".stop-info",
				TimeAttr: "data-timestamp",
			},
		},
	}, memory)
}

// Tigerair Taiwan has no award program, so it is cash only.
func newTigerairTaiwan(memory *LayoutMemory) Adapter {
	return build(site{
		code:     models.TigerairTaiwan,
		currency: "TWD",
		cash: searchSpec{
			form: &formSpec{
				URL:         "https://booking.tigerairtw.com/zh-TW/index",
				Consent:     ".cookie-consent .accept",
				Origin:      "#origin-station",
				Destination: "#destination-station",
				Date:        "#departure-date",
				DateLayout:  "2006-01-02",
				Passengers:  "#adult-count",
				Submit:      "#flight-search-btn",
			},
			results: resultSelectors{
				Row:       ".flight-select-list .flight-option",
				Empty:     ".flight-select-list .empty-state",
				Flight:    ".flight-code",
				Price:     ".fare-bundle.light .fare-amount",
				Depart:    ".depart .clock",
				Arrive:    ".arrive .clock",
				FareBasis: ".fare-bundle.light .bundle-name",
				TimeAttr:  "data-local",
			},
		},
	}, memory)
}
