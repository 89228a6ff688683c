package order

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"pairtrader/internal/exchange"
)

// State 是单侧订单的生命周期状态。
type State int

const (
	// StateNone 该方向当前没有被跟踪的订单。
	StateNone State = iota
	// StateOpen 该方向有一笔挂单。
	StateOpen
	// StateCancelPending 挂单已到龄，撤单请求尚未确认。
	StateCancelPending
)

// String 返回状态名称。
func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateCancelPending:
		return "CANCEL_PENDING"
	default:
		return "NONE"
	}
}

// Client 是生命周期管理所需的最小交易所能力。
type Client interface {
	CreateLimitOrder(ctx context.Context, side exchange.OrderSide, amount, price float64) (string, error)
	CancelOrder(ctx context.Context, id string) error
	FetchOrderStatus(ctx context.Context, id string) (exchange.OrderStatus, error)
	FetchOpenOrders(ctx context.Context) ([]exchange.OpenOrder, error)
}

// Record 描述被跟踪的一笔订单。价格与手数在提交后不再变更。
type Record struct {
	ID            string
	Side          exchange.OrderSide
	Price         float64
	Amount        float64
	PlacedAtCycle int
	State         State
}

// Event 回调用于向外上报生命周期事件（下单/撤单/成交）。
type Event struct {
	Kind   string // placed | cancelled | filled | adopted
	Record Record
	Cycle  int
}

// Manager 跟踪每个方向至多一笔挂单，负责到龄撤单。
// 仅由单一控制流访问，无并发。
type Manager struct {
	client      Client
	cancelLimit int
	logger      *zap.Logger
	onEvent     func(Event)

	buy  Record
	sell Record
}

// NewManager 创建生命周期管理器。onEvent 可为 nil。
func NewManager(client Client, cancelLimit int, logger *zap.Logger, onEvent func(Event)) (*Manager, error) {
	if client == nil {
		return nil, errors.New("order: client 不能为空")
	}
	if cancelLimit < 1 {
		return nil, fmt.Errorf("order: cancel_order_cycle_limit 必须不小于1，当前为 %d", cancelLimit)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		client:      client,
		cancelLimit: cancelLimit,
		logger:      logger,
		onEvent:     onEvent,
	}, nil
}

// AdoptOpenOrders 在启动时接管交易所上已存在的挂单：每个方向采纳
// 第一笔，计龄从当前周期重新开始。被采纳的方向拒绝新下单，因此
// 不会重复占用余额；多余的同向挂单只告警，不会被本进程管理。
func (m *Manager) AdoptOpenOrders(ctx context.Context, cycle int) error {
	open, err := m.client.FetchOpenOrders(ctx)
	if err != nil {
		return err
	}

	for _, o := range open {
		slot := m.slot(o.Side)
		if slot == nil {
			m.logger.Warn("忽略方向未知的挂单", zap.String("order_id", o.ID))
			continue
		}
		if slot.State != StateNone {
			m.logger.Warn("同方向存在多笔挂单，仅接管第一笔",
				zap.String("side", string(o.Side)),
				zap.String("ignored_order_id", o.ID),
			)
			continue
		}

		*slot = Record{
			ID:            o.ID,
			Side:          o.Side,
			Price:         o.Price,
			Amount:        o.Amount,
			PlacedAtCycle: cycle,
			State:         StateOpen,
		}
		m.logger.Info("接管已存在的挂单",
			zap.String("order_id", o.ID),
			zap.String("side", string(o.Side)),
			zap.Float64("price", o.Price),
			zap.Float64("amount", o.Amount),
		)
		m.emit(Event{Kind: "adopted", Record: *slot, Cycle: cycle})
	}

	return nil
}

// CanPlace 判断该方向当前是否允许新下单。
func (m *Manager) CanPlace(side exchange.OrderSide) bool {
	slot := m.slot(side)
	return slot != nil && slot.State == StateNone
}

// Open 返回该方向当前的订单记录及其是否被跟踪。
func (m *Manager) Open(side exchange.OrderSide) (Record, bool) {
	slot := m.slot(side)
	if slot == nil || slot.State == StateNone {
		return Record{}, false
	}
	return *slot, true
}

// Place 提交限价单并开始跟踪。该方向已有挂单时拒绝，
// 保证每个方向至多一笔。
func (m *Manager) Place(ctx context.Context, side exchange.OrderSide, price, amount float64, cycle int) (string, error) {
	slot := m.slot(side)
	if slot == nil {
		return "", fmt.Errorf("order: 未知方向 %q", side)
	}
	if slot.State != StateNone {
		return "", fmt.Errorf("order: %s 方向已有挂单 %s，拒绝重复下单", side, slot.ID)
	}

	id, err := m.client.CreateLimitOrder(ctx, side, amount, price)
	if err != nil {
		return "", err
	}

	*slot = Record{
		ID:            id,
		Side:          side,
		Price:         price,
		Amount:        amount,
		PlacedAtCycle: cycle,
		State:         StateOpen,
	}
	m.logger.Info("限价单已提交",
		zap.String("order_id", id),
		zap.String("side", string(side)),
		zap.Float64("price", price),
		zap.Float64("amount", amount),
		zap.Int("cycle", cycle),
	)
	m.emit(Event{Kind: "placed", Record: *slot, Cycle: cycle})

	return id, nil
}

// Review 在每个周期审视所有被跟踪订单：已成交或已消失的放手，
// 到龄的发起撤单。撤单失败的订单停留在 CANCEL_PENDING，下周期重试。
func (m *Manager) Review(ctx context.Context, cycle int) error {
	for _, slot := range []*Record{&m.buy, &m.sell} {
		if slot.State == StateNone {
			continue
		}
		if err := m.reviewOne(ctx, slot, cycle); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) reviewOne(ctx context.Context, slot *Record, cycle int) error {
	status, err := m.client.FetchOrderStatus(ctx, slot.ID)
	if err != nil {
		return err
	}

	switch status {
	case exchange.OrderStatusFilled:
		// 成交所得会体现在下一次余额读取里，这里只需放手。
		m.logger.Info("订单已成交",
			zap.String("order_id", slot.ID),
			zap.String("side", string(slot.Side)),
		)
		m.emit(Event{Kind: "filled", Record: *slot, Cycle: cycle})
		*slot = Record{}
		return nil

	case exchange.OrderStatusAbsent:
		m.logger.Info("订单已不存在，停止跟踪",
			zap.String("order_id", slot.ID),
			zap.String("side", string(slot.Side)),
		)
		*slot = Record{}
		return nil
	}

	age := cycle - slot.PlacedAtCycle
	if slot.State == StateOpen && age < m.cancelLimit {
		m.logger.Debug("挂单继续等待成交",
			zap.String("order_id", slot.ID),
			zap.String("side", string(slot.Side)),
			zap.Int("age_cycles", age),
			zap.Int("cancel_limit", m.cancelLimit),
		)
		return nil
	}

	// 到龄或此前撤单未确认。
	slot.State = StateCancelPending
	m.logger.Info("挂单到龄，发起撤单",
		zap.String("order_id", slot.ID),
		zap.String("side", string(slot.Side)),
		zap.Int("age_cycles", age),
	)

	if err := m.client.CancelOrder(ctx, slot.ID); err != nil {
		if errors.Is(err, exchange.ErrOrderNotFound) {
			// 撤单时发现订单已不存在，视同撤单完成。
			m.emit(Event{Kind: "cancelled", Record: *slot, Cycle: cycle})
			*slot = Record{}
			return nil
		}
		return err
	}

	m.logger.Info("挂单已撤销",
		zap.String("order_id", slot.ID),
		zap.String("side", string(slot.Side)),
	)
	m.emit(Event{Kind: "cancelled", Record: *slot, Cycle: cycle})
	*slot = Record{}
	return nil
}

func (m *Manager) slot(side exchange.OrderSide) *Record {
	switch side {
	case exchange.OrderSideBuy:
		return &m.buy
	case exchange.OrderSideSell:
		return &m.sell
	default:
		return nil
	}
}

func (m *Manager) emit(event Event) {
	if m.onEvent != nil {
		m.onEvent(event)
	}
}
