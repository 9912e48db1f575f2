package binanceclient

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"github.com/BrianElionDev/BuyBot/internal/ports"
)

// --- Translation Helpers ---

func translateOrderResponse(order *futures.CreateOrderResponse) *ports.OrderResponse {
	if order == nil {
		return nil
	}
	price, _ := strconv.ParseFloat(order.Price, 64)
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	origQty, _ := strconv.ParseFloat(order.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	raw, _ := json.Marshal(order)

	return &ports.OrderResponse{
		OrderID:       order.OrderID,
		Symbol:        order.Symbol,
		ClientOrderID: order.ClientOrderID,
		Price:         price,
		AvgPrice:      avgPrice,
		OrigQuantity:  origQty,
		ExecutedQty:   execQty,
		Status:        string(order.Status),
		Type:          string(order.Type),
		Side:          string(order.Side),
		ReduceOnly:    order.ReduceOnly,
		Timestamp:     time.UnixMilli(order.UpdateTime),
		Raw:           raw,
	}
}

func translateQueryResponse(order *futures.Order) *ports.OrderResponse {
	if order == nil {
		return nil
	}
	price, _ := strconv.ParseFloat(order.Price, 64)
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	origQty, _ := strconv.ParseFloat(order.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	raw, _ := json.Marshal(order)

	return &ports.OrderResponse{
		OrderID:       order.OrderID,
		Symbol:        order.Symbol,
		ClientOrderID: order.ClientOrderID,
		Price:         price,
		AvgPrice:      avgPrice,
		OrigQuantity:  origQty,
		ExecutedQty:   execQty,
		Status:        string(order.Status),
		Type:          string(order.Type),
		Side:          string(order.Side),
		ReduceOnly:    order.ReduceOnly,
		Timestamp:     time.UnixMilli(order.UpdateTime),
		Raw:           raw,
	}
}

func translateCancelResponse(res *futures.CancelOrderResponse) *ports.OrderResponse {
	if res == nil {
		return nil
	}
	price, _ := strconv.ParseFloat(res.Price, 64)
	origQty, _ := strconv.ParseFloat(res.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(res.ExecutedQuantity, 64)
	raw, _ := json.Marshal(res)

	return &ports.OrderResponse{
		OrderID:       res.OrderID,
		Symbol:        res.Symbol,
		ClientOrderID: res.ClientOrderID,
		Price:         price,
		OrigQuantity:  origQty,
		ExecutedQty:   execQty,
		Status:        string(res.Status), // CANCELED
		Type:          string(res.Type),
		Side:          string(res.Side),
		ReduceOnly:    res.ReduceOnly,
		Raw:           raw,
	}
}

func translatePositionRisk(pos *futures.PositionRisk) *ports.PositionRisk {
	if pos == nil {
		return nil
	}
	posAmt, _ := strconv.ParseFloat(pos.PositionAmt, 64)
	entryPrice, _ := strconv.ParseFloat(pos.EntryPrice, 64)
	markPrice, _ := strconv.ParseFloat(pos.MarkPrice, 64)
	unProfit, _ := strconv.ParseFloat(pos.UnRealizedProfit, 64)
	liqPrice, _ := strconv.ParseFloat(pos.LiquidationPrice, 64)
	leverage, _ := strconv.Atoi(pos.Leverage) // Leverage is string in go-binance

	return &ports.PositionRisk{
		Symbol:           pos.Symbol,
		PositionAmt:      posAmt,
		EntryPrice:       entryPrice,
		MarkPrice:        markPrice,
		UnRealizedProfit: unProfit,
		LiquidationPrice: liqPrice,
		Leverage:         leverage,
	}
}

func translateUserDataEvent(event *futures.WsUserDataEvent) *ports.UserDataEvent {
	if event == nil || event.Event != futures.UserDataEventTypeOrderTradeUpdate {
		return nil
	}
	u := event.OrderTradeUpdate
	avgPrice, _ := strconv.ParseFloat(u.AveragePrice, 64)
	lastPrice, _ := strconv.ParseFloat(u.LastFilledPrice, 64)
	lastQty, _ := strconv.ParseFloat(u.LastFilledQty, 64)
	filledQty, _ := strconv.ParseFloat(u.AccumulatedFilledQty, 64)
	pnl, _ := strconv.ParseFloat(u.RealizedPnL, 64)
	raw, _ := json.Marshal(event)

	return &ports.UserDataEvent{
		EventTime:     time.UnixMilli(event.Time),
		Symbol:        u.Symbol,
		OrderID:       u.ID,
		ClientOrderID: u.ClientOrderID,
		Side:          string(u.Side),
		OrderType:     string(u.Type),
		Status:        string(u.Status),
		ReduceOnly:    u.IsReduceOnly,
		LastFilledQty: lastQty,
		FilledQty:     filledQty,
		AvgPrice:      avgPrice,
		LastPrice:     lastPrice,
		RealizedPnl:   pnl,
		Raw:           raw,
	}
}
