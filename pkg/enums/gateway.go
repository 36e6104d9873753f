package enums

import "fmt"

// Gateway identifies an external payment processor.
type Gateway string

const (
	GatewayMercadoPago Gateway = "mercadopago"
	GatewayStripe      Gateway = "stripe"
	GatewayPix         Gateway = "pix"
)

var validGateways = []Gateway{
	GatewayMercadoPago,
	GatewayStripe,
	GatewayPix,
}

// String implements fmt.Stringer.
func (g Gateway) String() string {
	return string(g)
}

// IsValid reports whether the value is a known Gateway.
func (g Gateway) IsValid() bool {
	for _, candidate := range validGateways {
		if candidate == g {
			return true
		}
	}
	return false
}

// ParseGateway converts raw input into a Gateway.
func ParseGateway(value string) (Gateway, error) {
	for _, candidate := range validGateways {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid gateway %q", value)
}
