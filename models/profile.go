package models

type Role string

const (
	RoleStudent   Role = "student"
	RoleOrganizer Role = "organizer"
	RoleAdmin     Role = "admin"
)

// Principal is the verified caller handed over by the auth layer.
type Principal struct {
	UserID string
	Role   Role
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

type Profile struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	Role   Role   `json:"role"`

	// organizer payment settings
	CategoryCode    string `json:"toyyibpay_category_code,omitempty"`
	PaymentEnabled  bool   `json:"payment_enabled"`
	ManualQREnabled bool   `json:"manual_qr_enabled"`
	ManualQRURL     string `json:"manual_qr_url,omitempty"`
}

func (p *Profile) HasContact() bool {
	return p.Phone != "" && p.Email != ""
}

// GatewayReady reports whether the organizer has a provisioned ToyyibPay category.
func (p *Profile) GatewayReady() bool {
	return p.PaymentEnabled && p.CategoryCode != ""
}

func (p *Profile) ManualQRReady() bool {
	return p.ManualQREnabled && p.ManualQRURL != ""
}
