package fare

import (
	"github.com/use-agent/farescout/models"
)

// Valuate compares a cash record with a redemption record for what the
// caller judged to be the same itinerary. It is a pure function.
func Valuate(cash, miles models.FareRecord, rate float64) (models.ValuationVerdict, error) {
	if !cash.IsCash() || cash.IsMiles() {
		return models.ValuationVerdict{}, models.NewFareError(models.ErrCodeInvalidInput,
			"first fare must be a cash fare", nil)
	}
	if !miles.IsMiles() || miles.IsCash() {
		return models.ValuationVerdict{}, models.NewFareError(models.ErrCodeInvalidInput,
			"second fare must be a miles fare", nil)
	}
	if cash.Cash.Currency != "" && miles.Miles.Currency != "" && cash.Cash.Currency != miles.Miles.Currency {
		return models.ValuationVerdict{}, models.NewFareError(models.ErrCodeInvalidInput,
			"cash and miles fares use different currencies", nil)
	}
	v := ValuateAmounts(cash.Cash.Amount, miles.Miles.Miles, miles.Miles.Taxes, rate)
	v.Currency = cash.Cash.Currency
	return v, nil
}

// ValuateAmounts is Valuate over plain numbers.
//
//	cash-equivalent = miles × rate
//	total           = cash-equivalent + taxes
//	savings         = cash − taxes
//	value per mile  = savings / miles, 0 when miles is 0
//	worth it        iff value per mile > rate
func ValuateAmounts(cashPrice float64, miles int, taxes, rate float64) models.ValuationVerdict {
	cashEq := float64(miles) * rate
	savings := cashPrice - taxes
	var vpm float64
	if miles > 0 {
		vpm = savings / float64(miles)
	}
	return models.ValuationVerdict{
		CashPrice:       cashPrice,
		Miles:           miles,
		Taxes:           taxes,
		Rate:            rate,
		CashEquivalent:  round2(cashEq),
		TotalEquivalent: round2(cashEq + taxes),
		Savings:         round2(savings),
		ValuePerMile:    vpm,
		WorthIt:         vpm > rate,
	}
}
