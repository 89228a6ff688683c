package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"pairtrader/internal/config"
	"pairtrader/internal/exchange"
	"pairtrader/internal/monitor"
	"pairtrader/internal/order"
	"pairtrader/internal/pricing"
	"pairtrader/internal/resilience"
	"pairtrader/internal/signal"
	"pairtrader/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 组装协作方并驱动交易循环，直至上下文取消或致命故障。
func (a *App) Run(ctx context.Context) error {
	trading := a.cfg.Trading
	baseSleep := trading.EffectiveBaseSleep()

	a.logger.Info("交易系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("exchange", a.cfg.Exchange.Name),
		zap.String("pair", trading.Pair),
		zap.Float64("reinvestment_rate", trading.ReinvestmentRate),
		zap.Float64("fee", a.cfg.Exchange.Fee),
		zap.Float64("premium", trading.Premium),
		zap.Float64("min_base_transaction", trading.MinBaseTransaction),
		zap.Duration("base_sleep", baseSleep),
	)

	client, err := exchange.NewClient(a.cfg.Exchange, trading.Pair, a.logger)
	if err != nil {
		return fmt.Errorf("初始化交易所客户端失败: %w", err)
	}

	market := exchange.NewMarketDataService(client, trading.BaseAsset(), trading.QuoteAsset(), a.logger)

	signalProvider, err := signal.New(a.cfg.Signal, a.cfg.OpenAI, a.logger)
	if err != nil {
		return fmt.Errorf("初始化信号后端失败: %w", err)
	}
	a.logger.Info("信号后端就绪", zap.String("provider", signalProvider.Name()))

	journal, err := monitor.NewService(a.store, a.logger)
	if err != nil {
		return fmt.Errorf("初始化事件日志失败: %w", err)
	}

	orders, err := order.NewManager(client, trading.CancelOrderCycleLimit, a.logger, func(event order.Event) {
		journal.Record(ctx, orderEventType(event.Kind), monitor.OrderPayload{
			OrderID: event.Record.ID,
			Side:    string(event.Record.Side),
			Price:   event.Record.Price,
			Amount:  event.Record.Amount,
			Cycle:   event.Cycle,
		})
	})
	if err != nil {
		return fmt.Errorf("初始化订单管理失败: %w", err)
	}

	guard := resilience.NewController(
		trading.MaxRetriesBeforeBackoff,
		baseSleep,
		nil,
		a.logger,
	)

	if a.cfg.Monitor.Enabled {
		go func() {
			if err := startMonitorServer(ctx, journal, a.cfg.Monitor.Port, a.logger); err != nil {
				a.logger.Warn("事件查询服务退出", zap.Error(err))
			}
		}()
	}

	sched := &scheduler{
		market:    market,
		signals:   signalProvider,
		engine:    pricing.NewEngine(a.cfg.Exchange.Fee, trading.Premium, trading.ReinvestmentRate, trading.MinBaseTransaction),
		orders:    orders,
		guard:     guard,
		journal:   journal,
		logger:    a.logger,
		pair:      trading.Pair,
		timeframe: trading.Timeframe,
		window:    trading.DataVectorLength,
		baseSleep: baseSleep,
		sleep:     resilience.Sleep,
	}

	if err := sched.run(ctx); err != nil {
		return err
	}

	a.logger.Info("系统收到退出信号，正在停止")
	return nil
}

func orderEventType(kind string) monitor.EventType {
	switch kind {
	case "placed":
		return monitor.EventOrderPlaced
	case "adopted":
		return monitor.EventOrderAdopted
	case "cancelled":
		return monitor.EventOrderCancelled
	case "filled":
		return monitor.EventOrderFilled
	default:
		return monitor.EventType(kind)
	}
}
