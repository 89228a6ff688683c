package exchange

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type fakeNetError struct{ timeout bool }

func (e *fakeNetError) Error() string   { return "connection reset" }
func (e *fakeNetError) Timeout() bool   { return e.timeout }
func (e *fakeNetError) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want FaultKind
	}{
		{"nil error", nil, FaultRecoverable},
		{"corrupt snapshot", ErrCorruptSnapshot, FaultRecoverable},
		{"wrapped corrupt snapshot", fmt.Errorf("拉取行情快照失败: %w", ErrCorruptSnapshot), FaultRecoverable},
		{"empty order book", ErrEmptyOrderBook, FaultRecoverable},
		{"order not found", ErrOrderNotFound, FaultRecoverable},
		{"network error", &fakeNetError{}, FaultRecoverable},
		{"network timeout", &fakeNetError{timeout: true}, FaultRecoverable},
		{"context canceled", context.Canceled, FaultFatal},
		{"deadline exceeded", context.DeadlineExceeded, FaultFatal},
		{"arbitrary error", errors.New("something new"), FaultUnknown},
		{"wrapped arbitrary error", fmt.Errorf("outer: %w", errors.New("inner")), FaultUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Errorf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsTransportRetryable(t *testing.T) {
	if isTransportRetryable(nil) {
		t.Error("nil must not be retryable")
	}
	if isTransportRetryable(errors.New("business rejection")) {
		t.Error("arbitrary errors must not be retried at the transport layer")
	}
	if !isTransportRetryable(&fakeNetError{}) {
		t.Error("network errors should be retried at the transport layer")
	}
}

func TestFaultKindString(t *testing.T) {
	pairs := map[FaultKind]string{
		FaultUnknown:     "unknown",
		FaultRecoverable: "recoverable",
		FaultFatal:       "fatal",
	}
	for kind, want := range pairs {
		if got := kind.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", kind, got, want)
		}
	}
}

func TestMarketSnapshotMid(t *testing.T) {
	s := MarketSnapshot{Bid: 100, Ask: 102}
	if got := s.Mid(); got != 101 {
		t.Errorf("Mid() = %v, want 101", got)
	}
}
