package binanceclient

import (
	"context"

	"github.com/adshao/go-binance/v2/futures"

	"github.com/BrianElionDev/BuyBot/internal/ports"
)

// StartUserDataStream acquires a listen key for the user-data stream.
func (c *Client) StartUserDataStream(ctx context.Context) (string, error) {
	op := "StartUserDataStream"
	var listenKey string
	err := c.call(ctx, op, func(ctx context.Context) error {
		key, err := c.futuresClient.NewStartUserStreamService().Do(ctx)
		if err != nil {
			return err
		}
		listenKey = key
		return nil
	})
	if err != nil {
		return "", err
	}
	c.logger.Info(ctx, op+" successful")
	return listenKey, nil
}

// KeepAliveUserDataStream refreshes the listen key.
func (c *Client) KeepAliveUserDataStream(ctx context.Context, listenKey string) error {
	op := "KeepAliveUserDataStream"
	return c.call(ctx, op, func(ctx context.Context) error {
		return c.futuresClient.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx)
	})
}

// CloseUserDataStream invalidates the listen key.
func (c *Client) CloseUserDataStream(ctx context.Context, listenKey string) error {
	op := "CloseUserDataStream"
	return c.call(ctx, op, func(ctx context.Context) error {
		return c.futuresClient.NewCloseUserStreamService().ListenKey(listenKey).Do(ctx)
	})
}

// StreamUserData opens the user-data WebSocket for a listen key. Events are
// delivered in connection order; only order/trade updates are forwarded.
// Reconnection policy lives in the ingestor, which owns the listen-key
// lifecycle; this method opens exactly one connection.
func (c *Client) StreamUserData(ctx context.Context, listenKey string, handler func(event *ports.UserDataEvent), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error) {
	op := "StreamUserData"

	wsHandler := func(event *futures.WsUserDataEvent) {
		translated := translateUserDataEvent(event)
		if translated == nil {
			return // account updates and other event types are not consumed
		}
		handler(translated)
	}
	wsErrHandler := func(err error) {
		errHandler(c.handleError(ctx, err, op+" WebSocket"))
	}

	doneCh, stopCh, err = futures.WsUserDataServe(listenKey, wsHandler, wsErrHandler)
	if err != nil {
		return nil, nil, c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+": WebSocket connection established")
	return doneCh, stopCh, nil
}
