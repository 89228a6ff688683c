package resilience

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"pairtrader/internal/exchange"
	"pairtrader/internal/pricing"
)

// Action 是故障处理后调度层应采取的动作。
type Action int

const (
	// ActionSkip 跳过本周期，正常休眠后进入下一周期。
	ActionSkip Action = iota
	// ActionRetry 立即重试当前周期，不休眠。
	ActionRetry
	// ActionBackoff 已执行退避休眠，重试当前周期。
	ActionBackoff
	// ActionAbort 致命故障，终止运行。
	ActionAbort
)

// String 返回动作名称。
func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionBackoff:
		return "backoff"
	case ActionAbort:
		return "abort"
	default:
		return "skip"
	}
}

// RetryState 记录连续未知故障次数。任何成功周期后归零。
type RetryState struct {
	ConsecutiveUnknown int
}

// SleepFunc 是可注入的休眠原语，便于测试模拟大量周期。
type SleepFunc func(ctx context.Context, d time.Duration)

// Sleep 是真实的定时休眠，可被上下文取消打断。
func Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Controller 将协作方抛出的故障归类为 {已知可恢复, 未知可重试, 致命}，
// 并执行未知故障的有限次重试与退避纪律。
type Controller struct {
	maxRetries int
	baseSleep  time.Duration
	sleep      SleepFunc
	logger     *zap.Logger
}

// NewController 创建弹性控制器。sleep 为 nil 时使用真实休眠。
func NewController(maxRetries int, baseSleep time.Duration, sleep SleepFunc, logger *zap.Logger) *Controller {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if sleep == nil {
		sleep = Sleep
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		maxRetries: maxRetries,
		baseSleep:  baseSleep,
		sleep:      sleep,
		logger:     logger,
	}
}

// Classify 归类一次故障。缺失余额是致命前置条件缺失，
// 其余交给交易所层的分类器。
func (c *Controller) Classify(err error) exchange.FaultKind {
	if errors.Is(err, pricing.ErrMissingBalance) {
		return exchange.FaultFatal
	}
	return exchange.Classify(err)
}

// Handle 处理一次周期故障并返回调度动作。
// 未知故障在计数达到阈值前立即重试；达到阈值后执行一次退避休眠并清零计数。
func (c *Controller) Handle(ctx context.Context, err error, state *RetryState) Action {
	kind := c.Classify(err)

	switch kind {
	case exchange.FaultFatal:
		c.logger.Error("致命故障，终止运行", zap.Error(err))
		return ActionAbort

	case exchange.FaultRecoverable:
		c.logger.Warn("已知可恢复故障，跳过本周期", zap.Error(err))
		return ActionSkip

	default:
		state.ConsecutiveUnknown++
		if state.ConsecutiveUnknown < c.maxRetries {
			c.logger.Warn("未知故障，立即重试",
				zap.Int("consecutive_unknown", state.ConsecutiveUnknown),
				zap.Int("max_retries", c.maxRetries),
				zap.Error(err),
			)
			return ActionRetry
		}

		c.logger.Warn("未知故障达到重试阈值，退避休眠后再试",
			zap.Int("consecutive_unknown", state.ConsecutiveUnknown),
			zap.Duration("backoff", c.baseSleep),
			zap.Error(err),
		)
		state.ConsecutiveUnknown = 0
		c.sleep(ctx, c.baseSleep)
		return ActionBackoff
	}
}

// Success 在任意成功周期后清零未知故障计数。
func (c *Controller) Success(state *RetryState) {
	state.ConsecutiveUnknown = 0
}
