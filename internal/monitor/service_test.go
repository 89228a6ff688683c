package monitor

import (
	"context"
	"testing"

	"pairtrader/internal/config"
	"pairtrader/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	// 内存库必须保持单连接，否则每个连接各有一份空库。
	sqliteStore, err := store.NewSQLite(config.DatabaseConfig{
		InMemory:     true,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = sqliteStore.Close() })

	svc, err := NewService(sqliteStore, nil)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	return svc
}

func TestRecordAndListEvents(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	svc.Record(ctx, EventSignal, SignalPayload{Provider: "technical", Direction: "BUY", Cycle: 1})
	svc.Record(ctx, EventOrderPlaced, OrderPayload{OrderID: "o-1", Side: "buy", Price: 100.9, Amount: 2, Cycle: 1})
	svc.Record(ctx, EventSignal, SignalPayload{Provider: "technical", Direction: "HOLD", Cycle: 2})

	all, err := svc.ListEvents(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	// 倒序返回：最新的在前。
	if all[0].Type != EventSignal || all[2].Type != EventSignal {
		t.Errorf("unexpected ordering: %v %v %v", all[0].Type, all[1].Type, all[2].Type)
	}

	signals, err := svc.ListEvents(ctx, EventSignal, 10)
	if err != nil {
		t.Fatalf("filtered ListEvents returned error: %v", err)
	}
	if len(signals) != 2 {
		t.Errorf("expected 2 signal events, got %d", len(signals))
	}
	for _, e := range signals {
		if e.Type != EventSignal {
			t.Errorf("filter leaked event of type %v", e.Type)
		}
		if e.Timestamp.IsZero() {
			t.Error("expected parsed timestamp")
		}
	}
}

func TestListEvents_LimitApplies(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		svc.Record(ctx, EventFault, FaultPayload{Message: "x", Kind: "unknown", Action: "retry", Cycle: i})
	}

	events, err := svc.ListEvents(ctx, EventFault, 2)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("expected limit of 2, got %d", len(events))
	}
}

func TestRecord_MarshalFailureDoesNotPanic(t *testing.T) {
	svc := newTestService(t)

	// channel 无法被JSON序列化，事件应被丢弃而非中断。
	svc.Record(context.Background(), EventSignal, make(chan int))

	events, err := svc.ListEvents(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
}
