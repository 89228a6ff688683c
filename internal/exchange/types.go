package exchange

import "time"

// OrderSide 表示下单方向。
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus 表示交易所侧订单状态。
type OrderStatus string

const (
	// OrderStatusOpen 订单仍在挂单簿上。
	OrderStatusOpen OrderStatus = "open"
	// OrderStatusFilled 订单已成交。
	OrderStatusFilled OrderStatus = "filled"
	// OrderStatusAbsent 交易所已不再跟踪该订单（已撤或过期）。
	OrderStatusAbsent OrderStatus = "absent"
)

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// MarketSnapshot 聚合一次行情与余额读取的结果。
// Bid/Ask 为盘口最优价，余额为快照时刻的可用余额。
type MarketSnapshot struct {
	Symbol      string
	Bid         float64
	Ask         float64
	FreeBase    float64
	FreeQuote   float64
	RetrievedAt time.Time
}

// Mid 返回买一卖一的中间价。
func (s MarketSnapshot) Mid() float64 {
	return (s.Bid + s.Ask) / 2
}

// OpenOrder 描述交易所返回的一笔挂单。
type OpenOrder struct {
	ID     string
	Side   OrderSide
	Price  float64
	Amount float64
}
