package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rickgao/freightline/internal/model"
)

// AcceptBid accepts a bid on behalf of the shipper, opening a commitment
// window of expiryMinutes. The server later emits bid_accepted frames.
func (c *Client) AcceptBid(ctx context.Context, bidID string, expiryMinutes int) error {
	err := c.send(ctx, call{
		method: http.MethodPost,
		path:   "/bids/" + url.PathEscape(bidID) + "/accept",
		body:   acceptBidRequest{ExpiryMinutes: expiryMinutes},
	}, nil)
	if err != nil {
		return fmt.Errorf("accept bid %s: %w", bidID, err)
	}
	return nil
}

// ListBids fetches the bids posted against a load.
func (c *Client) ListBids(ctx context.Context, loadID string) ([]model.Bid, error) {
	var resp bidsResponse
	if err := c.get(ctx, "/loads/"+url.PathEscape(loadID)+"/bids", nil, &resp); err != nil {
		return nil, fmt.Errorf("list bids for load %s: %w", loadID, err)
	}
	return resp.Bids, nil
}
