package model

import (
	"time"
)

// Credentials is the api_key/access_token pair a streaming session presents
// during the websocket handshake.
type Credentials struct {
	APIKey      string `json:"api_key"`
	AccessToken string `json:"access_token"`
}

// Equal reports whether two credential pairs are identical. The reconnect
// supervisor uses this to refuse redialing with known-rejected credentials.
func (c Credentials) Equal(other Credentials) bool {
	return c.APIKey == other.APIKey && c.AccessToken == other.AccessToken
}

// Profile is one credential row in trade.profile, keyed by (user_id, os_type).
type Profile struct {
	UserID      string    `json:"user_id"`
	OSType      string    `json:"os_type"`
	APIKey      string    `json:"api_key"`
	APISecret   string    `json:"-"`
	AccessToken string    `json:"-"`
	PublicToken string    `json:"-"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Credentials returns the streaming credentials held by the profile.
func (p Profile) Credentials() Credentials {
	return Credentials{APIKey: p.APIKey, AccessToken: p.AccessToken}
}
