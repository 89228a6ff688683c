package monitor

import "time"

// EventType 表示周期事件类型。
type EventType string

const (
	EventSnapshot       EventType = "snapshot"
	EventSignal         EventType = "signal"
	EventOrderPlaced    EventType = "order_placed"
	EventOrderAdopted   EventType = "order_adopted"
	EventOrderCancelled EventType = "order_cancelled"
	EventOrderFilled    EventType = "order_filled"
	EventFault          EventType = "fault"
)

// Event 封装通用周期事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// SnapshotPayload 记录一次行情快照。
type SnapshotPayload struct {
	Symbol    string  `json:"symbol"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	FreeBase  float64 `json:"free_base"`
	FreeQuote float64 `json:"free_quote"`
	Cycle     int     `json:"cycle"`
}

// SignalPayload 记录一次信号判定。
type SignalPayload struct {
	Provider  string `json:"provider"`
	Direction string `json:"direction"`
	Cycle     int    `json:"cycle"`
}

// OrderPayload 记录订单生命周期事件。
type OrderPayload struct {
	OrderID string  `json:"order_id"`
	Side    string  `json:"side"`
	Price   float64 `json:"price"`
	Amount  float64 `json:"amount"`
	Cycle   int     `json:"cycle"`
}

// FaultPayload 记录一次故障及处理动作。
type FaultPayload struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
	Action  string `json:"action"`
	Cycle   int    `json:"cycle"`
}
