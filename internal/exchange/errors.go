package exchange

import (
	"context"
	"errors"
	"net"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

// FaultKind 是故障的三元分类，决定调度层是跳过、重试还是终止。
type FaultKind int

const (
	// FaultUnknown 未知故障，受有限次立即重试与退避约束。
	FaultUnknown FaultKind = iota
	// FaultRecoverable 已知可恢复故障（限流、网络抖动、撤单时订单已不存在等），
	// 跳过本周期即可。
	FaultRecoverable
	// FaultFatal 不可恢复故障（认证失败、前置条件缺失），必须终止进程。
	FaultFatal
)

// String 返回分类名称，用于日志与事件记录。
func (k FaultKind) String() string {
	switch k {
	case FaultRecoverable:
		return "recoverable"
	case FaultFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var (
	// ErrCorruptSnapshot 表示行情快照自相矛盾（bid > ask），应丢弃后下周期重取。
	ErrCorruptSnapshot = errors.New("exchange: 行情快照损坏 (bid > ask)")
	// ErrEmptyOrderBook 表示盘口缺少买一或卖一。
	ErrEmptyOrderBook = errors.New("exchange: 盘口缺少买一/卖一报价")
	// ErrOrderNotFound 表示交易所已不再跟踪该订单。
	ErrOrderNotFound = errors.New("exchange: 订单不存在")
)

// Classify 将任意协作方错误归入三元故障分类。
func Classify(err error) FaultKind {
	if err == nil {
		return FaultRecoverable
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return FaultFatal
	}

	if errors.Is(err, ErrCorruptSnapshot) || errors.Is(err, ErrEmptyOrderBook) || errors.Is(err, ErrOrderNotFound) {
		return FaultRecoverable
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.OnMaintenanceErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType:
			return FaultRecoverable
		case ccxt.OrderNotFoundErrType:
			return FaultRecoverable
		case ccxt.AuthenticationErrorErrType:
			return FaultFatal
		default:
			return FaultUnknown
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return FaultRecoverable
	}

	return FaultUnknown
}

// isTransportRetryable 判断错误是否适合在客户端内部做短时重试。
func isTransportRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
