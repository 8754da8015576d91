package model

// BidStatus is the marketplace status of a driver's bid.
type BidStatus string

const (
	BidPending  BidStatus = "pending"
	BidAccepted BidStatus = "accepted"
	BidDeclined BidStatus = "declined"
	BidExpired  BidStatus = "expired"
)

// Bid is a driver's price offer against a posted load.
type Bid struct {
	ID          string    `json:"id"`
	LoadID      string    `json:"load_id"`
	AmountCents int64     `json:"amount_cents"`
	Status      BidStatus `json:"status"`
}

// Acceptable reports whether a shipper may still accept the bid.
func (b Bid) Acceptable() bool {
	return b.Status == BidPending
}
