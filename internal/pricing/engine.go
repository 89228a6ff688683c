package pricing

import (
	"errors"
	"fmt"

	"pairtrader/internal/exchange"
)

var (
	// ErrBelowMinimum 表示按当前余额与价格算出的下单量低于最小成交量，
	// 调用方应将该方向视作 HOLD。
	ErrBelowMinimum = errors.New("pricing: 下单量低于最小成交量")
	// ErrMissingBalance 表示基础币与计价币余额同时为零。
	// 该交易对在当前再投资策略下永远无法成交，属于致命前置条件缺失。
	ErrMissingBalance = errors.New("pricing: 基础币与计价币余额同时为零")
)

// Engine 是纯函数式的定价与手数计算引擎。无副作用，输入相同则输出逐位相同。
type Engine struct {
	fee     float64
	premium float64
	rate    float64
	minBase float64
}

// Quote 为一次行情快照计算出的双向限价与手数。
// 价格以计价币计，手数以基础币计。
type Quote struct {
	BuyPrice   float64
	SellPrice  float64
	BuyAmount  float64
	SellAmount float64
}

// NewEngine 创建定价引擎。fee+premium 必须小于1，rate 位于[0,1]，
// 取值合法性由配置校验保证。
func NewEngine(fee, premium, reinvestmentRate, minBaseAmount float64) Engine {
	return Engine{
		fee:     fee,
		premium: premium,
		rate:    reinvestmentRate,
		minBase: minBaseAmount,
	}
}

// Quote 依据快照计算双向限价与手数。
// 买价 = 中间价 × (1 − (fee+premium))，卖价 = 中间价 × (1 + (fee+premium))。
// 买入手数 = rate × 计价币余额 / 买价，卖出手数 = rate × 基础币余额。
func (e Engine) Quote(snapshot exchange.MarketSnapshot) (Quote, error) {
	if snapshot.FreeBase == 0 && snapshot.FreeQuote == 0 {
		return Quote{}, fmt.Errorf("%w (symbol=%s)", ErrMissingBalance, snapshot.Symbol)
	}

	mid := snapshot.Mid()
	if mid <= 0 {
		return Quote{}, fmt.Errorf("pricing: 中间价无效 mid=%v (symbol=%s)", mid, snapshot.Symbol)
	}

	combined := e.fee + e.premium
	buyPrice := mid * (1 - combined)
	sellPrice := mid * (1 + combined)

	return Quote{
		BuyPrice:   buyPrice,
		SellPrice:  sellPrice,
		BuyAmount:  e.rate * snapshot.FreeQuote / buyPrice,
		SellAmount: e.rate * snapshot.FreeBase,
	}, nil
}

// OrderFor 取出指定方向的 (价格, 手数)。手数不高于最小成交量时
// 返回 ErrBelowMinimum。
func (e Engine) OrderFor(q Quote, side exchange.OrderSide) (price, amount float64, err error) {
	switch side {
	case exchange.OrderSideBuy:
		price, amount = q.BuyPrice, q.BuyAmount
	case exchange.OrderSideSell:
		price, amount = q.SellPrice, q.SellAmount
	default:
		return 0, 0, fmt.Errorf("pricing: 未知方向 %q", side)
	}

	if amount <= e.minBase {
		return 0, 0, fmt.Errorf("%w: side=%s amount=%v min=%v", ErrBelowMinimum, side, amount, e.minBase)
	}

	return price, amount, nil
}
