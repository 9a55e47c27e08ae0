package domain

import (
	"fmt"
	"time"
)

// MonthlyAllocation is a cardholder's eligible quantity of one subsidized
// item for a month. Unique per (UserID, ItemCode, Month, Year).
type MonthlyAllocation struct {
	ID                int64     `json:"id"`
	UserID            int64     `json:"user_id"`
	ItemCode          string    `json:"item_code"`
	EligibleQuantity  float64   `json:"eligible_quantity"`
	CollectedQuantity float64   `json:"collected_quantity"`
	Month             int       `json:"month"`
	Year              int       `json:"year"`
	CreatedAt         time.Time `json:"created_at"`
}

type Entitlement struct {
	ItemCode string
	Quantity float64
}

// DefaultEntitlements is the fixed item set seeded for every new cardholder.
var DefaultEntitlements = []Entitlement{
	{ItemCode: "rice", Quantity: 5},
	{ItemCode: "wheat", Quantity: 5},
	{ItemCode: "sugar", Quantity: 1},
	{ItemCode: "kerosene", Quantity: 2},
}

type UpsertAllocationRequest struct {
	UserID           int64   `json:"user_id"`
	ItemCode         string  `json:"item_code"`
	EligibleQuantity float64 `json:"eligible_quantity"`
	Month            int     `json:"month,omitempty"`
	Year             int     `json:"year,omitempty"`
}

func (r *UpsertAllocationRequest) Validate() error {
	if r.UserID <= 0 {
		return fmt.Errorf("user_id is required")
	}
	if r.ItemCode == "" {
		return fmt.Errorf("item_code is required")
	}
	if r.EligibleQuantity < 0 {
		return fmt.Errorf("eligible_quantity must not be negative")
	}
	if r.Month < 0 || r.Month > 12 {
		return fmt.Errorf("month must be 1-12")
	}
	return nil
}
