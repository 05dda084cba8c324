package kite

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

const loginBaseURL = "https://kite.zerodha.com/connect/login"

// LoginURL is the page the user must visit in a browser to authorize the
// app. The redirect target is the one registered with the API key.
func LoginURL(apiKey string) string {
	v := url.Values{}
	v.Set("api_key", apiKey)
	v.Set("v", kiteVersion)
	return loginBaseURL + "?" + v.Encode()
}

// LoginURLWithRedirect also asks for an explicit redirect target. Most API
// keys reject an off-domain redirect_url with HTTP 400, so LoginURL is the
// default path.
func LoginURLWithRedirect(apiKey, callbackURL string) string {
	v := url.Values{}
	v.Set("api_key", apiKey)
	v.Set("v", kiteVersion)
	v.Set("redirect_url", callbackURL)
	return loginBaseURL + "?" + v.Encode()
}

// CallbackURLForUser renders the per-user redirect target from a base URL
// template. "{userid}" and "{user_id}" placeholders are substituted; when
// the template carries neither, the user id is appended as a query
// parameter instead.
func CallbackURLForUser(base, userID string) string {
	if strings.Contains(base, "{userid}") || strings.Contains(base, "{user_id}") {
		out := strings.ReplaceAll(base, "{userid}", userID)
		return strings.ReplaceAll(out, "{user_id}", userID)
	}

	u, err := url.Parse(base)
	if err != nil || !u.IsAbs() {
		sep := "?"
		if strings.Contains(base, "?") {
			sep = "&"
		}
		return base + sep + "user_id=" + url.QueryEscape(userID)
	}

	q := u.Query()
	q.Set("user_id", userID)
	u.RawQuery = q.Encode()
	return u.String()
}

// checksum signs the token exchange: SHA-256 over api_key + request_token
// + api_secret, hex encoded.
func checksum(apiKey, requestToken, apiSecret string) string {
	sum := sha256.Sum256([]byte(apiKey + requestToken + apiSecret))
	return hex.EncodeToString(sum[:])
}
