package pricing

import (
	"github.com/shopspring/decimal"

	pkgerrors "github.com/modaluna/modaluna-backend/pkg/errors"
)

var hundred = decimal.NewFromInt(100)

// InstallmentPlan is the quote for paying a price in n equal installments
// with a flat surcharge applied to the total.
type InstallmentPlan struct {
	Count          int             `json:"count"`
	SurchargeRate  decimal.Decimal `json:"surchargeRate"`
	PerInstallment decimal.Decimal `json:"perInstallment"`
	TotalPayable   decimal.Decimal `json:"totalPayable"`
}

// CalculateInstallments quotes n installments of ceil(price*(1+rate/100)/n),
// rounded up to whole currency units so the merchant never collects less
// than the surcharged total.
func CalculateInstallments(price decimal.Decimal, count int, surchargeRate decimal.Decimal) (*InstallmentPlan, error) {
	if price.Sign() <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price must be positive")
	}
	if count < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "installment count must be at least 1")
	}
	if surchargeRate.Sign() < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "surcharge rate cannot be negative")
	}

	multiplier := decimal.NewFromInt(1).Add(surchargeRate.Div(hundred))
	surcharged := price.Mul(multiplier)
	per := surcharged.Div(decimal.NewFromInt(int64(count))).Ceil()

	return &InstallmentPlan{
		Count:          count,
		SurchargeRate:  surchargeRate,
		PerInstallment: per,
		TotalPayable:   per.Mul(decimal.NewFromInt(int64(count))),
	}, nil
}
