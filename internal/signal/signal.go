package signal

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"pairtrader/internal/config"
	"pairtrader/internal/exchange"
)

// Direction 表示一次信号判定的三元结果。
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionHold Direction = "HOLD"
)

// Side 将非持有方向映射为下单方向。Hold 返回 false。
func (d Direction) Side() (exchange.OrderSide, bool) {
	switch d {
	case DirectionBuy:
		return exchange.OrderSideBuy, true
	case DirectionSell:
		return exchange.OrderSideSell, true
	default:
		return "", false
	}
}

// Provider 是信号后端的统一能力接口。实现方不得持有跨周期的订单状态。
type Provider interface {
	// Signal 基于历史K线窗口给出方向判定。
	// 无法得出可靠结论时返回 DirectionHold 而非随意取向。
	Signal(ctx context.Context, candles []exchange.Candle) (Direction, error)
	// Name 返回后端名称，用于日志与事件记录。
	Name() string
}

// New 根据配置选择信号后端。
func New(cfg config.SignalConfig, openAI config.OpenAIConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Provider {
	case config.SignalProviderTechnical:
		return NewTechnical(cfg.IndicatorPeriod, cfg.SignalLag, logger)
	case config.SignalProviderLLM:
		return NewClassifier(cfg, openAI, logger)
	default:
		return nil, fmt.Errorf("signal: 未知信号后端 %q", cfg.Provider)
	}
}
