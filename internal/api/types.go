package api

import "github.com/rickgao/freightline/internal/model"

// TokenPair is the result of a successful token refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id,omitempty"`
}

// Driver response actions.
const (
	ActionAccept  = "accept"
	ActionDecline = "decline"
)

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type ordersResponse struct {
	Orders []model.Order `json:"orders"`
}

type orderResponse struct {
	Order model.Order `json:"order"`
}

type statusUpdateRequest struct {
	Status model.OrderStatus `json:"status"`
}

type driverResponseRequest struct {
	Action string `json:"action"`
}

type acceptBidRequest struct {
	ExpiryMinutes int `json:"expiry_minutes"`
}

type bidsResponse struct {
	Bids []model.Bid `json:"bids"`
}
