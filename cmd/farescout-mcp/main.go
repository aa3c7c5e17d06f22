package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/use-agent/farescout/client"
	"github.com/use-agent/farescout/models"
)

func main() {
	apiURL := os.Getenv("FARESCOUT_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("FARESCOUT_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "FARESCOUT_API_KEY is required")
		os.Exit(1)
	}

	// Searches may run up to the server's deadline.
	c := client.New(apiURL, apiKey, 150*time.Second)

	s := server.NewMCPServer(
		"farescout",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	searchTool := mcp.NewTool("search_flights",
		mcp.WithDescription("Search live cash fares (and award fares where mileage accounts are configured on the server) across Taiwan-market airlines. Returns fares ranked cheapest first plus any airlines that could not be searched."),
		mcp.WithString("origin",
			mcp.Required(),
			mcp.Description("Departure airport IATA code, e.g. TPE"),
		),
		mcp.WithString("destination",
			mcp.Required(),
			mcp.Description("Arrival airport IATA code, e.g. NRT"),
		),
		mcp.WithString("departure_date",
			mcp.Required(),
			mcp.Description("Outbound date, YYYY-MM-DD"),
		),
		mcp.WithString("return_date",
			mcp.Description("Inbound date, YYYY-MM-DD. Omit for one-way."),
		),
		mcp.WithNumber("passengers",
			mcp.Description("Adult passengers, 1-9 (default 1)"),
		),
		mcp.WithString("cabin",
			mcp.Description("Travel class (default economy)"),
			mcp.Enum("economy", "premium_economy", "business", "first"),
		),
		mcp.WithString("airlines",
			mcp.Description("Comma-separated carrier codes to search, e.g. \"CI,BR,JX\". Default: all."),
		),
		mcp.WithNumber("max_age_seconds",
			mcp.Description("Accept a cached result up to this old (default 0: always search live)"),
		),
	)
	s.AddTool(searchTool, handleSearch(c))

	valuateTool := mcp.NewTool("valuate_miles",
		mcp.WithDescription("Decide whether redeeming miles beats paying cash for a comparable itinerary. Amounts are in the server's reporting currency (TWD)."),
		mcp.WithNumber("cash_price",
			mcp.Required(),
			mcp.Description("Cash fare"),
		),
		mcp.WithNumber("miles",
			mcp.Required(),
			mcp.Description("Miles required for the award ticket"),
		),
		mcp.WithNumber("taxes",
			mcp.Description("Taxes and fees payable on the award ticket (default 0)"),
		),
		mcp.WithNumber("rate",
			mcp.Description("Value of one mile; defaults to the server's configured rate"),
		),
	)
	s.AddTool(valuateTool, handleValuate(c))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func handleSearch(c *client.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		origin, err := request.RequireString("origin")
		if err != nil {
			return mcp.NewToolResultError("origin is required"), nil
		}
		destination, err := request.RequireString("destination")
		if err != nil {
			return mcp.NewToolResultError("destination is required"), nil
		}
		departure, err := request.RequireString("departure_date")
		if err != nil {
			return mcp.NewToolResultError("departure_date is required"), nil
		}

		req := &models.SearchRequest{
			Origin:        origin,
			Destination:   destination,
			DepartureDate: departure,
			ReturnDate:    request.GetString("return_date", ""),
			Passengers:    request.GetInt("passengers", 0),
			Cabin:         models.CabinClass(request.GetString("cabin", "")),
		}
		if list := request.GetString("airlines", ""); list != "" {
			codes, err := models.ParseAirlineCodes(list)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			req.Airlines = codes
		}
		maxAge := time.Duration(request.GetFloat("max_age_seconds", 0) * float64(time.Second))

		resp, err := c.Search(ctx, req, maxAge)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(formatResult(resp)), nil
	}
}

func handleValuate(c *client.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		cashPrice, err := request.RequireFloat("cash_price")
		if err != nil {
			return mcp.NewToolResultError("cash_price is required"), nil
		}
		miles, err := request.RequireFloat("miles")
		if err != nil {
			return mcp.NewToolResultError("miles is required"), nil
		}
		taxes := request.GetFloat("taxes", 0)
		rate := request.GetFloat("rate", 0)

		v, err := c.Valuate(ctx,
			models.FareRecord{Cash: &models.Money{Amount: cashPrice}},
			models.FareRecord{Miles: &models.MilesCost{Miles: int(miles), Taxes: taxes}},
			rate,
		)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		verdict := "NOT worth it: pay cash"
		if v.WorthIt {
			verdict = "Worth it: redeem miles"
		}
		text := fmt.Sprintf("%s\n\nCash price: %.0f\nMiles: %d + %.0f taxes\nMiles at %.2f each: %.0f (total %.0f)\nSavings vs cash: %.0f\nValue per mile: %.3f",
			verdict, v.CashPrice, v.Miles, v.Taxes, v.Rate, v.CashEquivalent, v.TotalEquivalent, v.Savings, v.ValuePerMile)
		return mcp.NewToolResultText(text), nil
	}
}

// formatResult renders a search result as plain text for the model.
func formatResult(resp *models.SearchResponse) string {
	r := resp.Result
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s → %s on %s", r.Request.Origin, r.Request.Destination, r.Request.DepartureDate)
	if r.Request.ReturnDate != "" {
		fmt.Fprintf(&sb, ", returning %s", r.Request.ReturnDate)
	}
	fmt.Fprintf(&sb, " (%d/%d tasks succeeded", r.Tasks.Succeeded, r.Tasks.Scheduled)
	if resp.CacheStatus == "hit" {
		sb.WriteString(", cached")
	}
	sb.WriteString(")\n")

	writeLeg(&sb, "Outbound", r.Outbound)
	if r.Request.ReturnDate != "" {
		writeLeg(&sb, "Inbound", r.Inbound)
	}

	if len(r.Failures) > 0 {
		sb.WriteString("\nCould not search:\n")
		for _, f := range r.Failures {
			who := string(f.Airline)
			if who == "" {
				who = "fare API"
			}
			fmt.Fprintf(&sb, "- %s (%s): %s, %s\n", who, f.Kind, f.Code, f.Reason)
		}
	}
	return sb.String()
}

func writeLeg(sb *strings.Builder, title string, records []models.FareRecord) {
	fmt.Fprintf(sb, "\n%s (%d fares):\n", title, len(records))
	for i, f := range records {
		if i == 20 {
			fmt.Fprintf(sb, "... %d more\n", len(records)-i)
			break
		}
		price := ""
		if f.Cash != nil {
			price = fmt.Sprintf("%s %.0f", f.Cash.Currency, f.Cash.Amount)
		} else if f.Miles != nil {
			price = fmt.Sprintf("%d miles + %s %.0f", f.Miles.Miles, f.Miles.Currency, f.Miles.Taxes)
		}
		dep := ""
		if !f.DepartureLocal.IsZero() {
			dep = f.DepartureLocal.Format("01-02 15:04")
		}
		fmt.Fprintf(sb, "%2d. %s %s  %s  dep %s  %dmin  %d stop(s)  [%s]\n",
			i+1, f.Airline, strings.Join(f.FlightNumbers, "/"), price, dep, f.DurationMinutes, f.Stops, f.Source)
	}
}
