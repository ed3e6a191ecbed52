package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bakery-service/internal/apperr"
	"bakery-service/internal/coupon"
	"bakery-service/internal/util"
)

// CouponService validates discount codes ahead of checkout
type CouponService struct {
	coupons  CouponRepository
	location *time.Location
	now      func() time.Time
}

// NewCouponService creates a new coupon service
func NewCouponService(coupons CouponRepository, loc *time.Location) *CouponService {
	if loc == nil {
		loc = time.UTC
	}
	return &CouponService{coupons: coupons, location: loc, now: time.Now}
}

// Validate looks the code up and checks it against today's store date.
func (s *CouponService) Validate(ctx context.Context, code string) (coupon.Accepted, error) {
	code = coupon.Canonicalize(code)
	if code == "" {
		return coupon.Accepted{}, apperr.Invalid("code", "coupon code is required")
	}

	c, err := s.coupons.GetCouponByCode(ctx, code)
	if err != nil {
		return coupon.Accepted{}, fmt.Errorf("failed to load coupon: %w", err)
	}

	accepted, err := coupon.Validate(c, code, s.now(), s.location)
	var rejected *apperr.CouponRejectedError
	if errors.As(err, &rejected) {
		util.CouponRejectionsTotal.WithLabelValues(string(rejected.Reason)).Inc()
	}
	return accepted, err
}
