package httpapi

import "pkt.systems/gitpilot/schema"

// Config defines HTTP API and UI settings.
type Config struct {
	Addr             string
	SessionCookie    string
	SessionTTLHours  int
	SessionStorePath string
	BaseURL          string
	BasePath         string
	// AuthDisabled issues sessions for SingleUser without operator login.
	AuthDisabled bool
	SingleUser   schema.UserID
	// MaxBodyBytes caps request bodies. Zero uses the default.
	MaxBodyBytes int64
}
