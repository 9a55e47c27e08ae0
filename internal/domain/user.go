package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

type User struct {
	ID         int64      `json:"id"`
	Email      string     `json:"email"`
	Role       string     `json:"role"`
	Name       string     `json:"name"`
	RationCard string     `json:"ration_card"`
	Category   string     `json:"category"`
	Language   string     `json:"language"`
	ShopID     string     `json:"shop_id"`
	IsActive   bool       `json:"is_active"`
	IsFlagged  bool       `json:"is_flagged"`
	FlagReason *string    `json:"flag_reason,omitempty"`
	FlaggedBy  *int64     `json:"flagged_by,omitempty"`
	FlaggedAt  *time.Time `json:"flagged_at,omitempty"`
	LastLogin  *time.Time `json:"last_login,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type UserInfo struct {
	ID         int64  `json:"id"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	Name       string `json:"name"`
	RationCard string `json:"ration_card"`
	Category   string `json:"category"`
	Language   string `json:"language"`
	ShopID     string `json:"shop_id"`
}

type SendCodeRequest struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

type VerifyCodeRequest struct {
	Email    string `json:"email"`
	Code     string `json:"code"`
	Role     string `json:"role,omitempty"`
	Language string `json:"language,omitempty"`
}

type SessionResponse struct {
	Token     string    `json:"token"`
	ExpiresIn int64     `json:"expires_in"`
	User      *UserInfo `json:"user"`
}

type FlagUserRequest struct {
	Flagged bool   `json:"flagged"`
	Reason  string `json:"reason,omitempty"`
}

type SetActiveRequest struct {
	Active bool `json:"active"`
}

// Valid user roles
const (
	RoleCardholder = "cardholder"
	RoleAdmin      = "admin"
)

// Card categories
const (
	CategoryBPL = "BPL"
	CategoryAPL = "APL"
)

const DefaultLanguage = "english"

var validRoles = map[string]bool{
	RoleCardholder: true,
	RoleAdmin:      true,
}

func IsValidRole(role string) bool {
	return validRoles[role]
}

func IsValidCategory(category string) bool {
	return category == CategoryBPL || category == CategoryAPL
}

// Validation methods
func (r *SendCodeRequest) Validate() error {
	if r.Email == "" {
		return fmt.Errorf("email is required")
	}
	if !isValidEmail(r.Email) {
		return fmt.Errorf("invalid email format")
	}
	if !validRoles[r.Role] {
		return fmt.Errorf("invalid role")
	}
	return nil
}

func (r *VerifyCodeRequest) Validate() error {
	if r.Email == "" {
		return fmt.Errorf("email is required")
	}
	if !isValidEmail(r.Email) {
		return fmt.Errorf("invalid email format")
	}
	if r.Code == "" {
		return fmt.Errorf("code is required")
	}
	if !regexp.MustCompile(`^\d{6}$`).MatchString(r.Code) {
		return fmt.Errorf("code must be 6 digits")
	}
	if !validRoles[r.Role] {
		return fmt.Errorf("invalid role")
	}
	return nil
}

func (r *FlagUserRequest) Validate() error {
	if r.Flagged && strings.TrimSpace(r.Reason) == "" {
		return fmt.Errorf("reason is required when flagging a user")
	}
	return nil
}

// Normalize methods
func (r *SendCodeRequest) Normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	if r.Role == "" {
		r.Role = RoleCardholder
	}
}

func (r *VerifyCodeRequest) Normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Code = strings.TrimSpace(r.Code)
	if r.Role == "" {
		r.Role = RoleCardholder
	}
	if r.Language == "" {
		r.Language = DefaultLanguage
	}
}

// ToUserInfo converts User to the shape returned after login.
func (u *User) ToUserInfo() *UserInfo {
	return &UserInfo{
		ID:         u.ID,
		Email:      u.Email,
		Role:       u.Role,
		Name:       u.Name,
		RationCard: u.RationCard,
		Category:   u.Category,
		Language:   u.Language,
		ShopID:     u.ShopID,
	}
}

// Helper functions
func isValidEmail(email string) bool {
	emailRegex := regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	return emailRegex.MatchString(email)
}
