package types

// Address is the structured shipping/billing address stored as jsonb.
type Address struct {
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	District   *string `json:"district,omitempty"`
	City       string  `json:"city"`
	State      string  `json:"state"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
}

// Normalized returns a copy with the country defaulted to BR.
func (a Address) Normalized() Address {
	if a.Country == "" {
		a.Country = "BR"
	}
	return a
}
