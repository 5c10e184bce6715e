package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mexc-signals/internal/classifier"
)

// SignalEvent 为一条历史信号记录。
type SignalEvent struct {
	Symbol     string
	Label      string
	Confidence float64
	Factors    json.RawMessage
	CreatedAt  time.Time
}

// History 负责持久化信号历史与采集异常。
type History struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHistory 初始化信号历史服务，创建所需表结构。
func NewHistory(store *Store, logger *zap.Logger) (*History, error) {
	if store == nil {
		return nil, fmt.Errorf("history: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &History{
		db:     store.DB(),
		logger: logger,
	}

	if err := h.initSchema(); err != nil {
		return nil, err
	}

	return h, nil
}

func (h *History) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS signal_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	label TEXT NOT NULL,
	confidence REAL NOT NULL,
	factors TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signal_events_symbol ON signal_events(symbol);

CREATE TABLE IF NOT EXISTS fetch_errors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	stage TEXT NOT NULL,
	message TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`
	if _, err := h.db.Exec(stmt); err != nil {
		return fmt.Errorf("history: 初始化表失败: %w", err)
	}
	return nil
}

// RecordSignal 写入一条信号记录，失败只告警不影响主流程。
func (h *History) RecordSignal(ctx context.Context, signal classifier.Signal) {
	factors, err := json.Marshal(signal.Factors)
	if err != nil {
		h.logger.Warn("序列化信号因子失败", zap.Error(err))
		return
	}

	createdAt := signal.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = h.db.ExecContext(ctx,
		`INSERT INTO signal_events (symbol, label, confidence, factors, created_at) VALUES (?, ?, ?, ?, ?)`,
		signal.Symbol, string(signal.Label), signal.Confidence, string(factors), createdAt.Format(time.RFC3339),
	)
	if err != nil {
		h.logger.Warn("写入信号记录失败", zap.String("symbol", signal.Symbol), zap.Error(err))
	}
}

// RecordError 记录一次采集或分析异常。
func (h *History) RecordError(ctx context.Context, symbol, stage string, cause error) {
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO fetch_errors (symbol, stage, message, created_at) VALUES (?, ?, ?, ?)`,
		symbol, stage, cause.Error(), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		h.logger.Warn("写入异常记录失败", zap.String("symbol", symbol), zap.Error(err))
	}
}

// RecentSignals 检索指定交易对最近的信号记录，symbol 为空时检索全部。
func (h *History) RecentSignals(ctx context.Context, symbol string, limit int) ([]SignalEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT symbol, label, confidence, factors, created_at FROM signal_events`
	args := make([]interface{}, 0, 2)
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: 查询信号失败: %w", err)
	}
	defer rows.Close()

	events := make([]SignalEvent, 0, limit)
	for rows.Next() {
		var (
			event   SignalEvent
			factors string
			created string
		)
		if scanErr := rows.Scan(&event.Symbol, &event.Label, &event.Confidence, &factors, &created); scanErr != nil {
			return nil, fmt.Errorf("history: 解析信号记录失败: %w", scanErr)
		}

		event.Factors = json.RawMessage(factors)
		ts, parseErr := time.Parse(time.RFC3339, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}
		event.CreatedAt = ts

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: 读取信号记录失败: %w", err)
	}

	return events, nil
}
