package settings

import "github.com/skobkin/hostmon-panel/internal/policy"

// WiFiCredentials is the saved network the appliance joins first at boot.
type WiFiCredentials struct {
	SSID     string `json:"ssid"`
	Password string `json:"pass"`
}

// Valid reports whether the credentials fit the radio limits.
func (c WiFiCredentials) Valid() bool {
	return policy.ValidWiFiCredentials(c.SSID, c.Password)
}
