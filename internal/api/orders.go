package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rickgao/freightline/internal/model"
)

// ListOrders fetches every order visible to the current user.
func (c *Client) ListOrders(ctx context.Context) ([]model.Order, error) {
	var resp ordersResponse
	if err := c.get(ctx, "/orders", nil, &resp); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return resp.Orders, nil
}

// GetOrder fetches a single order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	var resp orderResponse
	if err := c.get(ctx, "/orders/"+url.PathEscape(orderID), nil, &resp); err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	return &resp.Order, nil
}

// UpdateOrderStatus requests an explicit status change.
func (c *Client) UpdateOrderStatus(ctx context.Context, orderID string, status model.OrderStatus) error {
	err := c.send(ctx, call{
		method: http.MethodPatch,
		path:   "/orders/" + url.PathEscape(orderID) + "/status",
		body:   statusUpdateRequest{Status: status},
	}, nil)
	if err != nil {
		return fmt.Errorf("update order %s status to %s: %w", orderID, status, err)
	}
	return nil
}

// RespondToBid records the driver's confirmation or rejection of a
// shipper-accepted bid. action is ActionAccept or ActionDecline.
func (c *Client) RespondToBid(ctx context.Context, orderID, action string) error {
	err := c.send(ctx, call{
		method: http.MethodPost,
		path:   "/orders/" + url.PathEscape(orderID) + "/driver-response",
		body:   driverResponseRequest{Action: action},
	}, nil)
	if err != nil {
		return fmt.Errorf("%s order %s: %w", action, orderID, err)
	}
	return nil
}
