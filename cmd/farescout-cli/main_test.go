package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/farescout/fare"
	"github.com/use-agent/farescout/models"
)

func init() {
	color.NoColor = true
}

func TestThousands(t *testing.T) {
	cases := map[float64]string{
		0:       "0",
		999:     "999",
		1000:    "1,000",
		18000:   "18,000",
		1234567: "1,234,567",
		-123:    "-123",
		-14800:  "-14,800",
		3200.4:  "3,200",
	}
	for in, want := range cases {
		assert.Equal(t, want, thousands(in), in)
	}
}

func TestPrintVerdict(t *testing.T) {
	var buf bytes.Buffer
	printVerdict(&buf, fare.ValuateAmounts(18000, 50000, 3200, 0.4))
	out := buf.String()
	assert.Contains(t, out, "14,800")
	assert.Contains(t, out, "0.296")
	assert.Contains(t, out, "Not worth it")

	buf.Reset()
	printVerdict(&buf, fare.ValuateAmounts(30000, 50000, 3200, 0.4))
	assert.Contains(t, buf.String(), "Worth it: redeem miles")
}

func TestPrintResult(t *testing.T) {
	r := &models.SearchResult{
		Request: models.SearchRequest{Origin: "TPE", Destination: "NRT", DepartureDate: "2026-04-01", ReturnDate: "2026-04-08"},
		Outbound: []models.FareRecord{{
			Airline:         models.Starlux,
			FlightNumbers:   []string{"JX800"},
			Cash:            &models.Money{Amount: 16500, Currency: "TWD"},
			DepartureLocal:  time.Date(2026, 4, 1, 8, 30, 0, 0, time.UTC),
			DurationMinutes: 195,
			Source:          models.SourceBrowser,
		}, {
			Airline: models.ChinaAirlines,
			Miles:   &models.MilesCost{Miles: 50000, Taxes: 3200, Currency: "TWD"},
			Source:  models.SourceBrowser,
		}},
		Failures: []models.TaskFailure{{Kind: models.TaskExternal, Code: models.ErrCodeRateLimited, Reason: "slow down"}},
		Tasks:    models.TaskStats{Scheduled: 3, Succeeded: 2, Failed: 1},
	}

	var buf bytes.Buffer
	printResult(&buf, r, true)
	out := buf.String()
	assert.Contains(t, out, "TPE → NRT")
	assert.Contains(t, out, "cached")
	assert.Contains(t, out, "TWD 16,500")
	assert.Contains(t, out, "3h15m")
	assert.Contains(t, out, "04-01 08:30")
	assert.Contains(t, out, "50,000 mi + TWD 3,200")
	assert.Contains(t, out, "INBOUND")
	assert.Contains(t, out, "no fares")
	assert.Contains(t, out, "fare API external: RATE_LIMITED")
}

func TestLoadAccounts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"airline":"ci","member_id":"AB123456","credential":"pw"}]`), 0o600))

	require.NoError(t, searchCmd.ParseFlags(nil))
	require.NoError(t, rootCmd.PersistentFlags().Set("accounts", path))
	accounts, err := loadAccounts(searchCmd)
	require.NoError(t, err)
	require.Contains(t, accounts, models.ChinaAirlines)
	assert.Equal(t, "pw", accounts[models.ChinaAirlines].Credential)

	require.NoError(t, rootCmd.PersistentFlags().Set("accounts", filepath.Join(dir, "missing.json")))
	_, err = loadAccounts(searchCmd)
	assert.Error(t, err, "an explicit path must exist")
}
