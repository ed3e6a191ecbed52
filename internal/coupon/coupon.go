// Package coupon decides whether a discount code may be redeemed.
package coupon

import (
	"strings"
	"time"
	_ "time/tzdata"

	"bakery-service/internal/apperr"
	"bakery-service/internal/models"

	"github.com/shopspring/decimal"
)

// DefaultTimezone is the store's operating timezone when none is configured.
const DefaultTimezone = "America/Costa_Rica"

var maxDiscountPct = decimal.NewFromInt(100)

// Accepted is a redeemable coupon with its discount frozen at validation time.
type Accepted struct {
	ID          int64           `json:"id"`
	Code        string          `json:"code"`
	DiscountPct decimal.Decimal `json:"discountPct"`
}

// Canonicalize trims and uppercases a submitted code.
func Canonicalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks c against now. Expiry is compared on calendar dates in loc,
// so a coupon stays valid through its whole expiration day.
func Validate(c *models.Coupon, code string, now time.Time, loc *time.Location) (Accepted, error) {
	code = Canonicalize(code)
	if c == nil {
		return Accepted{}, &apperr.CouponRejectedError{Code: code, Reason: apperr.CouponNotFound}
	}
	if !c.Active {
		return Accepted{}, &apperr.CouponRejectedError{Code: c.Code, Reason: apperr.CouponInactive}
	}
	if c.ExpiresOn != nil && today(now, loc).After(civilDate(*c.ExpiresOn)) {
		return Accepted{}, &apperr.CouponRejectedError{Code: c.Code, Reason: apperr.CouponExpired}
	}
	if !c.DiscountPct.IsPositive() || c.DiscountPct.GreaterThan(maxDiscountPct) {
		return Accepted{}, apperr.Invalid("discountPct", "coupon %s has discount %s outside (0, 100]", c.Code, c.DiscountPct)
	}
	return Accepted{ID: c.ID, Code: c.Code, DiscountPct: c.DiscountPct}, nil
}

// today is the store-local calendar date of now, expressed as UTC midnight.
func today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return civilDate(now.In(loc))
}

// civilDate drops the time of day and zone, keeping the wall-clock date.
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
