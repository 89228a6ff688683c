package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pairtrader/internal/exchange"
	"pairtrader/internal/monitor"
	"pairtrader/internal/pricing"
	"pairtrader/internal/resilience"
	"pairtrader/internal/signal"
)

type marketData interface {
	FetchSnapshot(ctx context.Context) (exchange.MarketSnapshot, error)
	FetchCandles(ctx context.Context, timeframe string, limit int) ([]exchange.Candle, error)
}

type orderBook interface {
	AdoptOpenOrders(ctx context.Context, cycle int) error
	CanPlace(side exchange.OrderSide) bool
	Place(ctx context.Context, side exchange.OrderSide, price, amount float64, cycle int) (string, error)
	Review(ctx context.Context, cycle int) error
}

type journal interface {
	Record(ctx context.Context, eventType monitor.EventType, payload interface{})
}

// CycleState 显式携带跨周期的计数器，随循环体传递而非散落在对象字段上。
// Cycle 单调递增，仅用于判定挂单到龄。
type CycleState struct {
	Cycle int
	Retry resilience.RetryState
}

// scheduler 按固定节奏驱动 快照→信号→定价→订单管理 的单线程循环。
type scheduler struct {
	market  marketData
	signals signal.Provider
	engine  pricing.Engine
	orders  orderBook
	guard   *resilience.Controller
	journal journal
	logger  *zap.Logger

	pair      string
	timeframe string
	window    int
	baseSleep time.Duration
	sleep     resilience.SleepFunc
}

// run 无限循环直至上下文取消或致命故障。周期之间休眠 baseSleep；
// 未知故障的立即重试与退避不推进周期计数。
// 在一次接管扫描成功完成之前不会执行任何交易周期，否则交易所上
// 已存在的挂单可能与新下单在同一方向并存。
func (s *scheduler) run(ctx context.Context) error {
	state := CycleState{}
	adopted := false

	for {
		if ctx.Err() != nil {
			return nil
		}

		var err error
		if !adopted {
			if err = s.orders.AdoptOpenOrders(ctx, state.Cycle); err != nil {
				err = fmt.Errorf("接管已存在挂单失败: %w", err)
			} else {
				adopted = true
			}
		}
		if err == nil {
			err = s.runCycle(ctx, &state)
		}
		if err == nil {
			s.guard.Success(&state.Retry)
			s.sleep(ctx, s.baseSleep)
			state.Cycle++
			continue
		}

		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil
		}

		action := s.guard.Handle(ctx, err, &state.Retry)
		s.journal.Record(ctx, monitor.EventFault, monitor.FaultPayload{
			Message: err.Error(),
			Kind:    s.guard.Classify(err).String(),
			Action:  action.String(),
			Cycle:   state.Cycle,
		})

		switch action {
		case resilience.ActionAbort:
			return s.fatal(err)
		case resilience.ActionRetry, resilience.ActionBackoff:
			// 重试同一周期，不推进计数。
			continue
		default:
			s.sleep(ctx, s.baseSleep)
			state.Cycle++
		}
	}
}

// runCycle 执行一个完整周期。返回的错误交由弹性控制器分类处理。
func (s *scheduler) runCycle(ctx context.Context, state *CycleState) error {
	s.logger.Info("周期开始", zap.Int("cycle", state.Cycle), zap.String("pair", s.pair))

	if err := s.orders.Review(ctx, state.Cycle); err != nil {
		return fmt.Errorf("审视挂单失败: %w", err)
	}

	candles, err := s.market.FetchCandles(ctx, s.timeframe, s.window)
	if err != nil {
		return fmt.Errorf("拉取K线失败: %w", err)
	}

	direction, err := s.signals.Signal(ctx, candles)
	if err != nil {
		return fmt.Errorf("信号判定失败: %w", err)
	}

	s.journal.Record(ctx, monitor.EventSignal, monitor.SignalPayload{
		Provider:  s.signals.Name(),
		Direction: string(direction),
		Cycle:     state.Cycle,
	})

	side, actionable := direction.Side()
	if !actionable {
		s.logger.Info("信号为 HOLD，本周期不动作", zap.Int("cycle", state.Cycle))
		return nil
	}

	s.logger.Info("信号就绪",
		zap.String("direction", string(direction)),
		zap.String("provider", s.signals.Name()),
		zap.Int("cycle", state.Cycle),
	)

	if !s.orders.CanPlace(side) {
		s.logger.Info("该方向已有挂单，等待成交或到龄撤单",
			zap.String("side", string(side)),
			zap.Int("cycle", state.Cycle),
		)
		return nil
	}

	snapshot, err := s.market.FetchSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("拉取行情快照失败: %w", err)
	}

	s.journal.Record(ctx, monitor.EventSnapshot, monitor.SnapshotPayload{
		Symbol:    snapshot.Symbol,
		Bid:       snapshot.Bid,
		Ask:       snapshot.Ask,
		FreeBase:  snapshot.FreeBase,
		FreeQuote: snapshot.FreeQuote,
		Cycle:     state.Cycle,
	})

	quote, err := s.engine.Quote(snapshot)
	if err != nil {
		return err
	}

	price, amount, err := s.engine.OrderFor(quote, side)
	if err != nil {
		if errors.Is(err, pricing.ErrBelowMinimum) {
			s.logger.Info("下单量低于最小成交量，该方向按 HOLD 处理",
				zap.String("side", string(side)),
				zap.Int("cycle", state.Cycle),
			)
			return nil
		}
		return err
	}

	s.logger.Info("准备提交限价单",
		zap.String("side", string(side)),
		zap.Float64("price", price),
		zap.Float64("amount", amount),
		zap.Float64("notional_quote", price*amount),
		zap.Int("cycle", state.Cycle),
	)

	if _, err := s.orders.Place(ctx, side, price, amount, state.Cycle); err != nil {
		return fmt.Errorf("提交订单失败: %w", err)
	}

	return nil
}

func (s *scheduler) fatal(err error) error {
	return fmt.Errorf("交易对 %s 已无法继续交易: %w", s.pair, err)
}
