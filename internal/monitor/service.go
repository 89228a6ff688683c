package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pairtrader/internal/store"
)

// Service 负责持久化周期事件。写入失败只记日志，绝不影响交易周期。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化事件日志服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// 表结构由 store 在建连时创建。
	return &Service{
		db:     store.DB(),
		logger: logger,
	}, nil
}

// Record 写入一条事件。
func (s *Service) Record(ctx context.Context, eventType EventType, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("序列化事件失败", zap.String("type", string(eventType)), zap.Error(err))
		return
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cycle_events (event_type, payload, created_at) VALUES (?, ?, ?)`,
		string(eventType), string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		s.logger.Warn("写入事件失败", zap.String("type", string(eventType)), zap.Error(err))
	}
}

// ListEvents 倒序返回事件，eventType 为空时不过滤。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 200
	}

	query := `SELECT event_type, payload, created_at FROM cycle_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ     string
			payload string
			created string
		)
		if err := rows.Scan(&typ, &payload, &created); err != nil {
			return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
		}

		event := Event{Type: EventType(typ)}
		if ts, parseErr := time.Parse(time.RFC3339Nano, created); parseErr == nil {
			event.Timestamp = ts
		}

		var decoded interface{}
		if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
			decoded = payload
		}
		event.Payload = decoded

		events = append(events, event)
	}

	return events, rows.Err()
}
