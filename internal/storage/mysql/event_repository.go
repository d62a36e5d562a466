package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"GhostSignal-Chain/internal/activity"
	xerrors "GhostSignal-Chain/internal/errors"
	"GhostSignal-Chain/internal/ledger"
	"GhostSignal-Chain/internal/scoring"
)

const eventColumns = `seq, id, type, agent_id, commitment_id, occurred_at, tx_id, block_height, simulated, fatal, error, outcome, amount, payload`

// SQLEventRepository 以 MySQL 实现 activity.Store。
type SQLEventRepository struct {
	db *sql.DB
}

var _ activity.Store = (*SQLEventRepository)(nil)

// NewSQLEventRepository 建立连接池并执行内嵌迁移。
func NewSQLEventRepository(ctx context.Context, cfg Config) (*SQLEventRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "open activity store")
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "migrate activity store")
	}
	return &SQLEventRepository{db: db}, nil
}

// NewSQLEventRepositoryWithDB 基于已有连接创建仓库，不执行迁移。
func NewSQLEventRepositoryWithDB(db *sql.DB) *SQLEventRepository {
	return &SQLEventRepository{db: db}
}

// Migrate 执行尚未应用的迁移。
func (s *SQLEventRepository) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Append 写入一条事件。重复的 seq 视为已写入。
func (s *SQLEventRepository) Append(ctx context.Context, e activity.Event) error {
	var payload any
	if len(e.Payload) > 0 {
		encoded, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("序列化事件载荷失败: %w", err)
		}
		payload = string(encoded)
	}
	var receipt ledger.Receipt
	if e.Receipt != nil {
		receipt = *e.Receipt
	}
	var errText any
	if e.Error != "" {
		errText = e.Error
	}

	const stmt = `INSERT IGNORE INTO activity_events (` + eventColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt,
		e.Seq,
		e.ID,
		string(e.Type),
		e.AgentID,
		e.CommitmentID,
		e.Timestamp.UTC().UnixNano(),
		receipt.TxID,
		receipt.BlockHeight,
		receipt.Simulated,
		e.Fatal,
		errText,
		string(e.Outcome),
		e.Amount,
		payload,
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入活动事件失败")
	}
	return nil
}

// Since 按 seq 升序返回 afterSeq 之后的事件。
func (s *SQLEventRepository) Since(ctx context.Context, afterSeq uint64, limit int) ([]activity.Event, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+`
    FROM activity_events WHERE seq > ? ORDER BY seq ASC LIMIT ?`, afterSeq, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询活动事件失败")
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListByAgent 按 seq 降序返回某个智能体最近的事件。
func (s *SQLEventRepository) ListByAgent(ctx context.Context, agentID string, limit int) ([]activity.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+`
    FROM activity_events WHERE agent_id = ? ORDER BY seq DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询智能体事件失败")
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]activity.Event, error) {
	var events []activity.Event
	for rows.Next() {
		var (
			e          activity.Event
			typ        string
			occurredAt int64
			receipt    ledger.Receipt
			errText    sql.NullString
			outcome    string
			payload    sql.NullString
		)
		if err := rows.Scan(&e.Seq, &e.ID, &typ, &e.AgentID, &e.CommitmentID, &occurredAt,
			&receipt.TxID, &receipt.BlockHeight, &receipt.Simulated, &e.Fatal, &errText, &outcome, &e.Amount, &payload); err != nil {
			return nil, fmt.Errorf("解析活动事件失败: %w", err)
		}
		e.Type = activity.Type(typ)
		e.Timestamp = time.Unix(0, occurredAt).UTC()
		e.Outcome = scoring.Outcome(outcome)
		e.Error = errText.String
		if receipt.TxID != "" {
			r := receipt
			e.Receipt = &r
		}
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("解析事件载荷失败: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历活动事件失败: %w", err)
	}
	return events, nil
}

// Close 关闭底层数据库连接。
func (s *SQLEventRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
