package service

import (
	"strings"

	"github.com/fairshare/ration-tds/internal/domain"
)

// CategoryClassifier decides a new cardholder's entitlement category. Real
// eligibility determination lives outside this core; swapping the
// implementation must not touch the verification flow.
type CategoryClassifier interface {
	Classify(email string) string
}

// EmailHeuristicClassifier is the placeholder classifier: an email that
// mentions "bpl" is treated as below the poverty line.
type EmailHeuristicClassifier struct{}

func (EmailHeuristicClassifier) Classify(email string) string {
	if strings.Contains(strings.ToLower(email), "bpl") {
		return domain.CategoryBPL
	}
	return domain.CategoryAPL
}

// ShopResolver assigns a shop to a newly provisioned user.
type ShopResolver interface {
	Resolve(email string) string
}

// StaticShopResolver reflects a single-shop deployment: every user gets the
// same shop.
type StaticShopResolver struct {
	ShopID string
}

func (r StaticShopResolver) Resolve(email string) string {
	return r.ShopID
}
