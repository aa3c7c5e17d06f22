package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/use-agent/farescout/fare"
	"github.com/use-agent/farescout/models"
)

var valuateCmd = &cobra.Command{
	Use:   "valuate",
	Short: "Decide whether an award ticket is worth the miles.",
	Long: `Compare a cash fare with a miles-plus-taxes redemption for the same trip.

A redemption is worth it when the cash it saves, per mile spent, exceeds the
value you assign to one mile (--rate).`,
	Example: `  farescout-cli valuate --cash 18000 --miles 50000 --taxes 3200
  farescout-cli valuate --cash 30000 --miles 50000 --taxes 3200 --rate 0.5`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		applyColorFlag(cmd)

		cash, _ := cmd.Flags().GetFloat64("cash")
		miles, _ := cmd.Flags().GetInt("miles")
		taxes, _ := cmd.Flags().GetFloat64("taxes")
		rate, _ := cmd.Flags().GetFloat64("rate")
		if cash < 0 || miles < 0 || taxes < 0 || rate <= 0 {
			return fmt.Errorf("cash, miles and taxes must be non-negative and rate positive")
		}

		printVerdict(os.Stdout, fare.ValuateAmounts(cash, miles, taxes, rate))
		return nil
	},
}

func init() {
	valuateCmd.Flags().Float64("cash", 0, "cash fare")
	valuateCmd.Flags().Int("miles", 0, "miles required")
	valuateCmd.Flags().Float64("taxes", 0, "taxes and fees on the award ticket")
	valuateCmd.Flags().Float64("rate", 0.4, "value of one mile")
	_ = valuateCmd.MarkFlagRequired("cash")
	_ = valuateCmd.MarkFlagRequired("miles")
}

func printVerdict(w io.Writer, v models.ValuationVerdict) {
	fmt.Fprintf(w, "Cash fare           %s\n", thousands(v.CashPrice))
	fmt.Fprintf(w, "Award               %s mi + %s taxes\n", thousands(float64(v.Miles)), thousands(v.Taxes))
	fmt.Fprintf(w, "Miles at %.2f       %s (total %s)\n", v.Rate, thousands(v.CashEquivalent), thousands(v.TotalEquivalent))
	fmt.Fprintf(w, "Cash saved          %s\n", thousands(v.Savings))
	fmt.Fprintf(w, "Value per mile      %.3f\n\n", v.ValuePerMile)

	if v.WorthIt {
		color.New(color.FgGreen, color.Bold).Fprintln(w, "✔ Worth it: redeem miles")
		return
	}
	color.New(color.FgRed, color.Bold).Fprintln(w, "✘ Not worth it: pay cash")
}
