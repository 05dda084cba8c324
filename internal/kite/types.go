package kite

import (
	"encoding/json"
	"fmt"
)

// envelope is the standard wrapper on every REST response.
type envelope struct {
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data"`
	Message   string          `json:"message"`
	ErrorType string          `json:"error_type"`
}

// APIError is a broker-reported failure, carrying the error_type the API
// uses to classify it (TokenException, InputException, ...).
type APIError struct {
	StatusCode int
	ErrorType  string
	Message    string
}

func (e *APIError) Error() string {
	if e.ErrorType != "" {
		return fmt.Sprintf("kite api: %s (%s, http %d)", e.Message, e.ErrorType, e.StatusCode)
	}
	return fmt.Sprintf("kite api: %s (http %d)", e.Message, e.StatusCode)
}

// UserProfile is the authenticated user's account summary.
type UserProfile struct {
	UserID    string   `json:"user_id"`
	UserName  string   `json:"user_name"`
	Email     string   `json:"email"`
	Broker    string   `json:"broker"`
	Exchanges []string `json:"exchanges"`
	Products  []string `json:"products"`
}

// Holding is one portfolio holding row.
type Holding struct {
	TradingSymbol string  `json:"tradingsymbol"`
	Exchange      string  `json:"exchange"`
	Quantity      float64 `json:"quantity"`
	AveragePrice  float64 `json:"average_price"`
	LastPrice     float64 `json:"last_price"`
	PnL           float64 `json:"pnl"`
}

// SessionToken is the result of exchanging a request token after login.
type SessionToken struct {
	AccessToken string `json:"access_token"`
	PublicToken string `json:"public_token"`
	UserID      string `json:"user_id"`
}
