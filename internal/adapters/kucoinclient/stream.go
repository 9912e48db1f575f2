package kucoinclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BrianElionDev/BuyBot/internal/ports"
)

// StartUserDataStream requests a private bullet token. The token plays the
// listen-key role: it authenticates the WebSocket connection that follows.
func (c *Client) StartUserDataStream(ctx context.Context) (string, error) {
	data, err := c.post(ctx, "/api/v1/bullet-private", nil)
	if err != nil {
		return "", err
	}
	var out struct {
		Token           string `json:"token"`
		InstanceServers []struct {
			Endpoint     string `json:"endpoint"`
			PingInterval int64  `json:"pingInterval"`
		} `json:"instanceServers"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to decode bullet response: %w", err)
	}
	if len(out.InstanceServers) == 0 {
		return "", fmt.Errorf("bullet response carried no instance servers: %w", ports.ErrConnectionFailed)
	}

	c.mu.Lock()
	c.wsEndpoint = out.InstanceServers[0].Endpoint
	c.wsPingMs = out.InstanceServers[0].PingInterval
	c.mu.Unlock()

	c.logger.Info(ctx, "KuCoin bullet token acquired")
	return out.Token, nil
}

// KeepAliveUserDataStream is a no-op: KuCoin keeps the session alive
// through WebSocket-level pings rather than a REST keepalive.
func (c *Client) KeepAliveUserDataStream(ctx context.Context, listenKey string) error {
	return nil
}

// CloseUserDataStream is a no-op: bullet tokens expire on their own once
// the connection drops.
func (c *Client) CloseUserDataStream(ctx context.Context, listenKey string) error {
	return nil
}

// wsMessage is the KuCoin stream envelope.
type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	Subject string          `json:"subject,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// orderChange is the tradeOrders payload.
type orderChange struct {
	OrderID    string `json:"orderId"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	OrderType  string `json:"orderType"`
	Type       string `json:"type"`   // open, match, filled, canceled
	Status     string `json:"status"` // open, done
	MatchPrice string `json:"matchPrice"`
	MatchSize  string `json:"matchSize"`
	FilledSize string `json:"filledSize"`
	Size       string `json:"size"`
	Ts         int64  `json:"ts"` // nanoseconds
}

// StreamUserData connects the private stream and subscribes to order
// updates. Events are delivered in connection order.
func (c *Client) StreamUserData(ctx context.Context, listenKey string, handler func(event *ports.UserDataEvent), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error) {
	c.mu.RLock()
	endpoint := c.wsEndpoint
	pingMs := c.wsPingMs
	c.mu.RUnlock()
	if endpoint == "" {
		return nil, nil, fmt.Errorf("no bullet endpoint; call StartUserDataStream first: %w", ports.ErrConnectionFailed)
	}
	if pingMs <= 0 {
		pingMs = 18000
	}

	wsURL := fmt.Sprintf("%s?token=%s&connectId=%d", endpoint, listenKey, time.Now().UnixNano())
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, nil, fmt.Errorf("kucoin stream rejected token: %w", ports.ErrInvalidAPIKeys)
		}
		return nil, nil, fmt.Errorf("kucoin stream dial failed: %w: %w", ports.ErrConnectionFailed, err)
	}

	sub := wsMessage{
		ID:    strconv.FormatInt(time.Now().UnixNano(), 10),
		Type:  "subscribe",
		Topic: "/contractMarket/tradeOrders",
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("kucoin stream subscribe failed: %w: %w", ports.ErrConnectionFailed, err)
	}

	doneCh = make(chan struct{})
	stopCh = make(chan struct{})

	// Writer: protocol-level pings at the server-advertised interval.
	go func() {
		ticker := time.NewTicker(time.Duration(pingMs) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ping := wsMessage{ID: strconv.FormatInt(time.Now().UnixNano(), 10), Type: "ping"}
				if err := conn.WriteJSON(ping); err != nil {
					return
				}
			case <-stopCh:
				conn.Close()
				return
			case <-doneCh:
				return
			}
		}
	}()

	// Reader: translate order changes, preserve delivery order.
	go func() {
		defer close(doneCh)
		defer conn.Close()
		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				select {
				case <-stopCh:
					return // deliberate shutdown
				default:
				}
				errHandler(fmt.Errorf("kucoin stream read failed: %w: %w", ports.ErrConnectionFailed, err))
				return
			}
			if msg.Type != "message" || msg.Subject != "orderChange" {
				continue
			}
			var change orderChange
			if err := json.Unmarshal(msg.Data, &change); err != nil {
				errHandler(fmt.Errorf("kucoin stream decode failed: %w", err))
				continue
			}
			handler(c.translateOrderChange(&change, msg.Data))
		}
	}()

	return doneCh, stopCh, nil
}

func (c *Client) translateOrderChange(change *orderChange, raw []byte) *ports.UserDataEvent {
	multiplier := 1.0
	if f := c.filtersForContract(change.Symbol); f != nil && f.StepSize > 0 {
		multiplier = f.StepSize
	}
	matchPrice, _ := strconv.ParseFloat(change.MatchPrice, 64)
	matchSize, _ := strconv.ParseFloat(change.MatchSize, 64)
	filledSize, _ := strconv.ParseFloat(change.FilledSize, 64)
	size, _ := strconv.ParseFloat(change.Size, 64)

	status := "NEW"
	switch {
	case change.Type == "canceled":
		status = "CANCELED"
	case change.Status == "done" && filledSize >= size && size > 0:
		status = "FILLED"
	case filledSize > 0:
		status = "PARTIALLY_FILLED"
	}

	return &ports.UserDataEvent{
		EventTime:     time.Unix(0, change.Ts),
		Symbol:        FromContract(change.Symbol),
		OrderID:       hashOrderID(change.OrderID),
		Side:          change.Side,
		OrderType:     change.OrderType,
		Status:        status,
		LastFilledQty: matchSize * multiplier,
		FilledQty:     filledSize * multiplier,
		AvgPrice:      matchPrice,
		LastPrice:     matchPrice,
		Raw:           raw,
	}
}
