package orders

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SessionAddress is a postal address on a checkout session.
type SessionAddress struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// SessionShipping holds the recipient a checkout session ships to.
type SessionShipping struct {
	Name    string          `json:"name"`
	Phone   string          `json:"phone"`
	Address *SessionAddress `json:"address"`
}

// CompletedSession is the subset of a completed checkout session the workflow reads.
type CompletedSession struct {
	ID              string            `json:"id"`
	AmountTotal     *int64            `json:"amount_total"`
	Currency        string            `json:"currency"`
	Created         int64             `json:"created"`
	Metadata        map[string]string `json:"metadata"`
	CustomerEmail   string            `json:"customer_email"`
	CustomerDetails *struct {
		Email string `json:"email"`
		Name  string `json:"name"`
		Phone string `json:"phone"`
	} `json:"customer_details"`
	ShippingDetails      *SessionShipping `json:"shipping_details"`
	CollectedInformation *struct {
		ShippingDetails *SessionShipping `json:"shipping_details"`
	} `json:"collected_information"`
}

// DecodeSession parses a checkout session object.
func DecodeSession(raw json.RawMessage) (CompletedSession, error) {
	var s CompletedSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return CompletedSession{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	return s, nil
}

// Shipping returns the shipping details wherever the API version placed them.
func (s CompletedSession) Shipping() *SessionShipping {
	if s.ShippingDetails != nil {
		return s.ShippingDetails
	}
	if s.CollectedInformation != nil {
		return s.CollectedInformation.ShippingDetails
	}
	return nil
}

// Email returns the customer email.
func (s CompletedSession) Email() string {
	if s.CustomerDetails != nil && s.CustomerDetails.Email != "" {
		return s.CustomerDetails.Email
	}
	return s.CustomerEmail
}

// Phone returns the best known phone number.
func (s CompletedSession) Phone() string {
	if sh := s.Shipping(); sh != nil && sh.Phone != "" {
		return sh.Phone
	}
	if s.CustomerDetails != nil {
		return s.CustomerDetails.Phone
	}
	return ""
}

// GAClientID returns the analytics client id, nil when absent.
func (s CompletedSession) GAClientID() *string {
	id, ok := s.Metadata["ga_client_id"]
	if !ok || id == "" {
		return nil
	}
	return &id
}

// PlacedAt returns the session creation time, falling back to now.
func (s CompletedSession) PlacedAt(now time.Time) time.Time {
	if s.Created > 0 {
		return time.Unix(s.Created, 0).UTC()
	}
	return now.UTC()
}

// Validate reports every required field that is missing.
func (s CompletedSession) Validate() error {
	var missing []string
	if s.ID == "" {
		missing = append(missing, "id")
	}
	if s.AmountTotal == nil {
		missing = append(missing, "amount_total")
	}
	if s.Email() == "" {
		missing = append(missing, "email")
	}
	sh := s.Shipping()
	if sh == nil || sh.Address == nil {
		missing = append(missing, "shipping_details")
	} else {
		if strings.TrimSpace(sh.Name) == "" {
			missing = append(missing, "shipping name")
		}
		if sh.Address.Line1 == "" {
			missing = append(missing, "address line1")
		}
		if sh.Address.City == "" {
			missing = append(missing, "city")
		}
		if sh.Address.PostalCode == "" {
			missing = append(missing, "postal_code")
		}
		if sh.Address.Country == "" {
			missing = append(missing, "country")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidSession, strings.Join(missing, ", "))
	}
	return nil
}
