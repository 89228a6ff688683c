package exchange

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// marketClient 是快照聚合所需的最小客户端能力。
type marketClient interface {
	Symbol() string
	FetchBestQuote(ctx context.Context) (bid, ask float64, err error)
	FetchFreeBalances(ctx context.Context, base, quote string) (freeBase, freeQuote float64, err error)
	FetchCandles(ctx context.Context, timeframe string, limit int) ([]Candle, error)
}

// MarketDataService 聚合盘口与余额，产出单次行情快照。
type MarketDataService struct {
	client marketClient
	base   string
	quote  string
	logger *zap.Logger
}

// NewMarketDataService 创建市场数据服务。
func NewMarketDataService(client marketClient, base, quote string, logger *zap.Logger) *MarketDataService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarketDataService{
		client: client,
		base:   base,
		quote:  quote,
		logger: logger,
	}
}

// FetchSnapshot 并行拉取盘口最优价与可用余额。
// bid > ask 的快照视为损坏，返回 ErrCorruptSnapshot。
func (s *MarketDataService) FetchSnapshot(ctx context.Context) (MarketSnapshot, error) {
	var (
		bid, ask            float64
		freeBase, freeQuote float64
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		b, a, err := s.client.FetchBestQuote(groupCtx)
		if err != nil {
			return err
		}
		bid, ask = b, a
		return nil
	})

	group.Go(func() error {
		fb, fq, err := s.client.FetchFreeBalances(groupCtx, s.base, s.quote)
		if err != nil {
			return err
		}
		freeBase, freeQuote = fb, fq
		return nil
	})

	if err := group.Wait(); err != nil {
		return MarketSnapshot{}, err
	}

	if bid > ask {
		return MarketSnapshot{}, fmt.Errorf("%w: bid=%v ask=%v", ErrCorruptSnapshot, bid, ask)
	}

	snapshot := MarketSnapshot{
		Symbol:      s.client.Symbol(),
		Bid:         bid,
		Ask:         ask,
		FreeBase:    freeBase,
		FreeQuote:   freeQuote,
		RetrievedAt: time.Now().UTC(),
	}

	s.logger.Debug("行情快照就绪",
		zap.String("symbol", snapshot.Symbol),
		zap.Float64("bid", bid),
		zap.Float64("ask", ask),
		zap.Float64("free_base", freeBase),
		zap.Float64("free_quote", freeQuote),
	)

	return snapshot, nil
}

// FetchCandles 透传K线拉取，供信号层使用。
func (s *MarketDataService) FetchCandles(ctx context.Context, timeframe string, limit int) ([]Candle, error) {
	return s.client.FetchCandles(ctx, timeframe, limit)
}
