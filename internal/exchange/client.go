package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"pairtrader/internal/config"
)

// Client 负责与 KuCoin 现货接口交互，并在客户端内部做有限次传输层重试。
type Client struct {
	cfg      config.ExchangeConfig
	logger   *zap.Logger
	exchange *ccxt.Kucoin
	symbol   string

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewClient 构造 KuCoin 客户端。
func NewClient(cfg config.ExchangeConfig, symbol string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !strings.EqualFold(cfg.Name, "kucoin") {
		return nil, fmt.Errorf("exchange: 暂不支持交易所 %q (可选 kucoin)", cfg.Name)
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}
	if cfg.APIPass != "" {
		// KuCoin 称之为 passphrase。
		userConfig["password"] = cfg.APIPass
	}

	ex := ccxt.NewKucoin(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &Client{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
		symbol:   symbol,
	}, nil
}

// Symbol 返回交易对符号。
func (c *Client) Symbol() string {
	return c.symbol
}

// FetchCandles 获取指定周期的K线数据。
func (c *Client) FetchCandles(ctx context.Context, timeframe string, limit int) ([]Candle, error) {
	if limit <= 0 {
		limit = 1
	}

	var raw []ccxt.OHLCV

	err := c.callWithRetry(ctx, fmt.Sprintf("fetch_ohlcv_%s", timeframe), func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		result, err := c.exchange.FetchOHLCV(
			c.symbol,
			ccxt.WithFetchOHLCVTimeframe(timeframe),
			ccxt.WithFetchOHLCVLimit(int64(limit)),
		)
		if err != nil {
			return err
		}

		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(raw))
	for _, item := range raw {
		candles = append(candles, Candle{
			Timestamp: time.UnixMilli(item.Timestamp).UTC(),
			Open:      item.Open,
			High:      item.High,
			Low:       item.Low,
			Close:     item.Close,
			Volume:    item.Volume,
		})
	}

	return candles, nil
}

// FetchBestQuote 读取盘口最优买卖价。
func (c *Client) FetchBestQuote(ctx context.Context) (bid, ask float64, err error) {
	var raw ccxt.OrderBook

	err = c.callWithRetry(ctx, "fetch_order_book", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		orderBook, err := c.exchange.FetchOrderBook(
			c.symbol,
			ccxt.WithFetchOrderBookLimit(20),
		)
		if err != nil {
			return err
		}

		raw = orderBook
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	if len(raw.Bids) == 0 || len(raw.Bids[0]) < 2 || len(raw.Asks) == 0 || len(raw.Asks[0]) < 2 {
		return 0, 0, ErrEmptyOrderBook
	}

	return raw.Bids[0][0], raw.Asks[0][0], nil
}

// FetchFreeBalances 读取两个币种的可用余额。余额缺失按0处理，
// 是否致命由定价层判断。
func (c *Client) FetchFreeBalances(ctx context.Context, base, quote string) (freeBase, freeQuote float64, err error) {
	var balances ccxt.Balances

	err = c.callWithRetry(ctx, "fetch_balance", func() error {
		result, err := c.exchange.FetchBalance()
		if err != nil {
			return err
		}
		balances = result
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	if balances.Free != nil {
		if v, ok := balances.Free[base]; ok && v != nil {
			freeBase = *v
		}
		if v, ok := balances.Free[quote]; ok && v != nil {
			freeQuote = *v
		}
	}

	return freeBase, freeQuote, nil
}

// CreateLimitOrder 提交限价单并返回交易所订单号。
func (c *Client) CreateLimitOrder(ctx context.Context, side OrderSide, amount, price float64) (string, error) {
	var raw ccxt.Order

	err := c.callWithRetry(ctx, "create_limit_order", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		order, err := c.exchange.CreateLimitOrder(c.symbol, string(side), amount, price)
		if err != nil {
			return err
		}
		raw = order
		return nil
	})
	if err != nil {
		return "", err
	}

	if raw.Id == nil || *raw.Id == "" {
		return "", errors.New("exchange: 交易所未返回订单号")
	}

	return *raw.Id, nil
}

// CancelOrder 撤销订单。订单已不存在时返回 ErrOrderNotFound。
func (c *Client) CancelOrder(ctx context.Context, id string) error {
	err := c.callWithRetry(ctx, "cancel_order", func() error {
		_, err := c.exchange.CancelOrder(id, ccxt.WithCancelOrderSymbol(c.symbol))
		return err
	})
	if err != nil {
		if isOrderNotFound(err) {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
		}
		return err
	}
	return nil
}

// FetchOrderStatus 查询订单状态，归一化为 OPEN/FILLED/ABSENT 三态。
func (c *Client) FetchOrderStatus(ctx context.Context, id string) (OrderStatus, error) {
	var raw ccxt.Order

	err := c.callWithRetry(ctx, "fetch_order", func() error {
		order, err := c.exchange.FetchOrder(id, ccxt.WithFetchOrderSymbol(c.symbol))
		if err != nil {
			return err
		}
		raw = order
		return nil
	})
	if err != nil {
		if isOrderNotFound(err) {
			return OrderStatusAbsent, nil
		}
		return "", err
	}

	status := ""
	if raw.Status != nil {
		status = strings.ToLower(*raw.Status)
	}

	switch status {
	case "open":
		return OrderStatusOpen, nil
	case "closed":
		return OrderStatusFilled, nil
	case "canceled", "cancelled", "expired", "rejected":
		return OrderStatusAbsent, nil
	default:
		// 状态未知时按仍挂单处理，留待下周期复查。
		return OrderStatusOpen, nil
	}
}

// FetchOpenOrders 列出该交易对当前所有挂单。
func (c *Client) FetchOpenOrders(ctx context.Context) ([]OpenOrder, error) {
	var raw []ccxt.Order

	err := c.callWithRetry(ctx, "fetch_open_orders", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		orders, err := c.exchange.FetchOpenOrders(ccxt.WithFetchOpenOrdersSymbol(c.symbol))
		if err != nil {
			return err
		}
		raw = orders
		return nil
	})
	if err != nil {
		return nil, err
	}

	open := make([]OpenOrder, 0, len(raw))
	for _, order := range raw {
		if order.Id == nil || *order.Id == "" {
			continue
		}
		item := OpenOrder{ID: *order.Id}
		if order.Side != nil {
			item.Side = OrderSide(strings.ToLower(*order.Side))
		}
		if order.Price != nil {
			item.Price = *order.Price
		}
		if order.Amount != nil {
			item.Amount = *order.Amount
		}
		open = append(open, item)
	}

	return open, nil
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	if c.marketsLoaded {
		return nil
	}

	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	loadErr := c.callWithRetry(ctx, "load_markets", func() error {
		_, err := c.exchange.LoadMarkets()
		return err
	})
	if loadErr != nil {
		return loadErr
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.String("symbol", c.symbol))
	return nil
}

// callWithRetry 对传输层抖动做短时指数退避重试；
// 业务层面的故障分类交给 Classify。
func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		if !isTransportRetryable(err) || attempt >= c.cfg.Retry.MaxAttempts {
			return err
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func isOrderNotFound(err error) bool {
	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		return ccxtErr.Type == ccxt.OrderNotFoundErrType
	}
	return false
}
