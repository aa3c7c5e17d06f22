package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/use-agent/farescout/client"
	"github.com/use-agent/farescout/models"
)

var searchCmd = &cobra.Command{
	Use:   "search ORIGIN DESTINATION DEPARTURE [RETURN]",
	Short: "Search live fares for a route.",
	Long: `Search live fares for a route. Dates are YYYY-MM-DD.

Award fares are included for airlines with an account in the accounts file.`,
	Example: `  farescout-cli search TPE NRT 2026-04-01 2026-04-08 --airlines CI,BR,JX
  farescout-cli search TPE HKG 2026-05-10 --cabin business --max-age 10m`,
	Args: cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		applyColorFlag(cmd)

		req := &models.SearchRequest{
			Origin:        args[0],
			Destination:   args[1],
			DepartureDate: args[2],
		}
		if len(args) == 4 {
			req.ReturnDate = args[3]
		}
		req.Passengers, _ = cmd.Flags().GetInt("pax")
		cabin, _ := cmd.Flags().GetString("cabin")
		req.Cabin = models.CabinClass(cabin)

		if list, _ := cmd.Flags().GetString("airlines"); list != "" {
			codes, err := models.ParseAirlineCodes(list)
			if err != nil {
				return err
			}
			req.Airlines = codes
		}

		accounts, err := loadAccounts(cmd)
		if err != nil {
			return err
		}
		if len(accounts) > 0 {
			req.MileageAccounts = accounts
		}

		apiURL, _ := cmd.Flags().GetString("api-url")
		apiKey, _ := cmd.Flags().GetString("api-key")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		maxAge, _ := cmd.Flags().GetDuration("max-age")
		asJSON, _ := cmd.Flags().GetBool("json")
		async, _ := cmd.Flags().GetBool("async")

		c := client.New(apiURL, apiKey, timeout)
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var (
			result *models.SearchResult
			cached bool
		)
		if async {
			id, err := c.SearchAsync(ctx, req, "", "")
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "job %s started, waiting...\n", id)
			job, err := c.Wait(ctx, id, 2*time.Second)
			if err != nil {
				return err
			}
			if job.Result == nil {
				return fmt.Errorf("job %s %s", id, job.Status)
			}
			result = job.Result
		} else {
			resp, err := c.Search(ctx, req, maxAge)
			if err != nil {
				return err
			}
			result, cached = resp.Result, resp.CacheStatus == "hit"
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}
		printResult(os.Stdout, result, cached)
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("pax", 1, "adult passengers (1-9)")
	searchCmd.Flags().String("cabin", "economy", "economy, premium_economy, business or first")
	searchCmd.Flags().String("airlines", "", "comma-separated carrier codes (default: all)")
	searchCmd.Flags().Duration("max-age", 0, "accept a cached result up to this old")
	searchCmd.Flags().Duration("timeout", 150*time.Second, "give up after this long")
	searchCmd.Flags().Bool("async", false, "run as a background job and poll for it")
	searchCmd.Flags().Bool("json", false, "print the raw result as JSON")
}

func applyColorFlag(cmd *cobra.Command) {
	if off, _ := cmd.Flags().GetBool("no-color"); off {
		color.NoColor = true
	}
}

func printResult(w io.Writer, r *models.SearchResult, cached bool) {
	header := color.New(color.Bold)
	header.Fprintf(w, "%s → %s  %s", r.Request.Origin, r.Request.Destination, r.Request.DepartureDate)
	if r.Request.ReturnDate != "" {
		header.Fprintf(w, " / %s", r.Request.ReturnDate)
	}
	fmt.Fprintf(w, "  (%d/%d tasks, %.1fs", r.Tasks.Succeeded, r.Tasks.Scheduled, float64(r.ElapsedMs)/1000)
	if cached {
		fmt.Fprint(w, ", cached")
	}
	fmt.Fprintln(w, ")")

	printLeg(w, "OUTBOUND", r.Outbound)
	if r.Request.ReturnDate != "" {
		printLeg(w, "INBOUND", r.Inbound)
	}

	if len(r.Failures) > 0 {
		fmt.Fprintln(w)
		warn := color.New(color.FgYellow)
		for _, f := range r.Failures {
			who := string(f.Airline)
			if who == "" {
				who = "fare API"
			}
			warn.Fprintf(w, "! %s %s: %s (%s)\n", who, f.Kind, f.Code, f.Reason)
		}
	}
}

func printLeg(w io.Writer, title string, records []models.FareRecord) {
	fmt.Fprintln(w)
	color.New(color.FgCyan, color.Bold).Fprintln(w, title)
	if len(records) == 0 {
		fmt.Fprintln(w, "  no fares")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  AIRLINE\tFLIGHT\tPRICE\tDEPART\tDURATION\tSTOPS\tSOURCE")
	for _, f := range records {
		dep := "-"
		if !f.DepartureLocal.IsZero() {
			dep = f.DepartureLocal.Format("01-02 15:04")
		}
		dur := "-"
		if f.DurationMinutes > 0 {
			dur = fmt.Sprintf("%dh%02dm", f.DurationMinutes/60, f.DurationMinutes%60)
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			f.Airline, strings.Join(f.FlightNumbers, "/"), priceText(f), dep, dur, f.Stops, f.Source)
	}
	tw.Flush()
}

func priceText(f models.FareRecord) string {
	switch {
	case f.Cash != nil:
		return fmt.Sprintf("%s %s", f.Cash.Currency, thousands(f.Cash.Amount))
	case f.Miles != nil:
		return fmt.Sprintf("%s mi + %s %s", thousands(float64(f.Miles.Miles)), f.Miles.Currency, thousands(f.Miles.Taxes))
	default:
		return "-"
	}
}

// thousands formats an amount with comma separators, dropping fractions
// below one unit.
func thousands(v float64) string {
	s := fmt.Sprintf("%.0f", v)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	n := len(s)
	if n <= 3 {
		return sign + s
	}
	var sb strings.Builder
	sb.WriteString(sign)
	for i, ch := range s {
		if i > 0 && (n-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(ch)
	}
	return sb.String()
}
