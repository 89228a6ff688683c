package signal

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"pairtrader/internal/exchange"
	"pairtrader/internal/indicator"
)

// Technical 基于收盘价对滞后均线的穿越生成信号。
// 滞后 lag 根K线的均线作为对照序列：收盘价在最新一根K线上
// 严格上穿且收于其上为 BUY，严格下穿且收于其下为 SELL，
// 其余情况（包括恰好相等）为 HOLD。
type Technical struct {
	period int
	lag    int
	logger *zap.Logger
}

// NewTechnical 创建技术指标信号后端。
func NewTechnical(period, lag int, logger *zap.Logger) (*Technical, error) {
	if period <= 0 {
		return nil, fmt.Errorf("signal: 指标周期必须为正，当前为 %d", period)
	}
	if lag < 0 {
		return nil, fmt.Errorf("signal: 信号滞后不能为负，当前为 %d", lag)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Technical{period: period, lag: lag, logger: logger}, nil
}

// Name 返回后端名称。
func (t *Technical) Name() string {
	return "technical"
}

// MinHistory 返回产生一次判定所需的最少K线数量。
func (t *Technical) MinHistory() int {
	return t.period + t.lag + 1
}

// Signal 实现 Provider。
func (t *Technical) Signal(_ context.Context, candles []exchange.Candle) (Direction, error) {
	if len(candles) < t.MinHistory() {
		return DirectionHold, fmt.Errorf("signal: 历史K线不足，需要至少 %d 根，实际 %d 根", t.MinHistory(), len(candles))
	}

	series := indicator.NewSeries(candles)
	sma := indicator.SMA(series.Close, t.period)
	lagged := indicator.Lagged(sma, t.lag)

	curClose := indicator.Last(series.Close)
	prevClose := indicator.Prev(series.Close)
	curRef := indicator.Last(lagged)
	prevRef := indicator.Prev(lagged)

	if math.IsNaN(curRef) || math.IsNaN(prevRef) {
		return DirectionHold, fmt.Errorf("signal: 均线窗口未就绪 (period=%d lag=%d)", t.period, t.lag)
	}

	direction := DirectionHold
	switch {
	case curClose > curRef && prevClose <= prevRef:
		direction = DirectionBuy
	case curClose < curRef && prevClose >= prevRef:
		direction = DirectionSell
	}

	t.logger.Debug("技术信号判定完成",
		zap.Float64("close", curClose),
		zap.Float64("lagged_sma", curRef),
		zap.String("direction", string(direction)),
	)

	return direction, nil
}
