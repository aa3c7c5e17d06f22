package fare

import (
	"sort"

	"github.com/use-agent/farescout/models"
)

// Cost is the comparable price of a record: the cash amount, or for a
// redemption the miles at rate plus taxes.
func Cost(r models.FareRecord, rate float64) float64 {
	switch {
	case r.Cash != nil:
		return r.Cash.Amount
	case r.Miles != nil:
		return float64(r.Miles.Miles)*rate + r.Miles.Taxes
	default:
		return 0
	}
}

// Sort orders records in place by ascending cost, then fewer stops, then
// earlier departure. Equal records keep their input order.
func Sort(records []models.FareRecord, rate float64) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		ca, cb := Cost(a, rate), Cost(b, rate)
		if ca != cb {
			return ca < cb
		}
		if a.Stops != b.Stops {
			return a.Stops < b.Stops
		}
		return a.DepartureLocal.Before(b.DepartureLocal)
	})
}

// Split partitions records by direction, preserving order.
func Split(records []models.FareRecord) (outbound, inbound []models.FareRecord) {
	outbound = make([]models.FareRecord, 0, len(records))
	inbound = make([]models.FareRecord, 0)
	for _, r := range records {
		if r.Direction == models.Inbound {
			inbound = append(inbound, r)
		} else {
			outbound = append(outbound, r)
		}
	}
	return outbound, inbound
}
