package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"TickLab/internal/domain/models"
	"TickLab/internal/domain/repository"
	"TickLab/pkg/clickhouse"
	applogger "TickLab/pkg/logger"
)

// schemaStatements creates the append-only tables. Mutable records
// (sessions, predictions, collector state) live in ReplacingMergeTree
// tables and reads take the latest version per key.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS ticks (
		user_id String,
		market  String,
		ts      DateTime64(3),
		value   Float64
	) ENGINE = MergeTree()
	ORDER BY (market, ts)
	TTL toDateTime(ts) + INTERVAL 30 DAY`,

	`CREATE TABLE IF NOT EXISTS epochs (
		user_id      String,
		epoch_number Int64,
		batch_size   Int32,
		start_time   DateTime64(3),
		end_time     DateTime64(3),
		loss         Float64,
		accuracy     Float64,
		model        String,
		session_id   String,
		ticks        String
	) ENGINE = MergeTree()
	ORDER BY (user_id, epoch_number)`,

	`CREATE TABLE IF NOT EXISTS sessions (
		id            String,
		user_id       String,
		started_at    DateTime64(3),
		completed_at  Nullable(DateTime64(3)),
		status        String,
		epochs_target Int32,
		final_weights String,
		updated_at    DateTime64(3)
	) ENGINE = ReplacingMergeTree(updated_at)
	ORDER BY id`,

	`CREATE TABLE IF NOT EXISTS predictions (
		id           String,
		user_id      String,
		type         String,
		confidence   Float64,
		start_price  Float64,
		end_price    Float64,
		outcome      String,
		created_at   DateTime64(3),
		completed_at Nullable(DateTime64(3)),
		updated_at   DateTime64(3)
	) ENGINE = ReplacingMergeTree(updated_at)
	ORDER BY id`,

	`CREATE TABLE IF NOT EXISTS collector_state (
		user_id    String,
		state      String,
		updated_at DateTime64(3)
	) ENGINE = ReplacingMergeTree(updated_at)
	ORDER BY user_id`,
}

// RecordStore persists ticks, epochs, sessions and predictions in
// ClickHouse. All writes are plain inserts; row versions supersede each
// other through the ReplacingMergeTree ordering key.
type RecordStore struct {
	client *clickhouse.Client
	log    *applogger.Logger
}

// NewRecordStore initializes the schema and returns a ready store.
func NewRecordStore(ctx context.Context, client *clickhouse.Client, log *applogger.Logger) (*RecordStore, error) {
	if err := client.InitSchema(ctx, schemaStatements); err != nil {
		return nil, fmt.Errorf("record store schema: %w", err)
	}
	return &RecordStore{client: client, log: log}, nil
}

var _ repository.RecordStore = (*RecordStore)(nil)

func (s *RecordStore) InsertTick(ctx context.Context, userID string, t *models.Tick) error {
	_, err := s.client.DB().ExecContext(ctx,
		`INSERT INTO ticks (user_id, market, ts, value) VALUES (?, ?, ?, ?)`,
		userID, t.Market, t.Timestamp, t.Value)
	if err != nil {
		return fmt.Errorf("insert tick: %w", err)
	}
	return nil
}

func (s *RecordStore) InsertEpoch(ctx context.Context, e *models.Epoch) error {
	ticksJSON, err := json.Marshal(e.Ticks)
	if err != nil {
		return fmt.Errorf("encode epoch ticks: %w", err)
	}
	_, err = s.client.DB().ExecContext(ctx,
		`INSERT INTO epochs
			(user_id, epoch_number, batch_size, start_time, end_time, loss, accuracy, model, session_id, ticks)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, e.Number, int32(e.BatchSize), e.StartTime, e.EndTime,
		e.Loss, e.Accuracy, string(e.Model), e.SessionID, string(ticksJSON))
	if err != nil {
		return fmt.Errorf("insert epoch %d: %w", e.Number, err)
	}
	return nil
}

func (s *RecordStore) SaveSession(ctx context.Context, sess *models.TrainingSession) error {
	var completed interface{}
	if sess.CompletedAt != nil {
		completed = *sess.CompletedAt
	}
	_, err := s.client.DB().ExecContext(ctx,
		`INSERT INTO sessions
			(id, user_id, started_at, completed_at, status, epochs_target, final_weights, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.StartedAt, completed,
		string(sess.Status), int32(sess.EpochsTarget), string(sess.FinalWeights), time.Now())
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *RecordStore) InsertPrediction(ctx context.Context, p *models.Prediction) error {
	var completed interface{}
	if p.CompletedAt != nil {
		completed = *p.CompletedAt
	}
	_, err := s.client.DB().ExecContext(ctx,
		`INSERT INTO predictions
			(id, user_id, type, confidence, start_price, end_price, outcome, created_at, completed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, string(p.Type), p.Confidence, p.StartPrice, p.EndPrice,
		string(p.Outcome), p.CreatedAt, completed, time.Now())
	if err != nil {
		return fmt.Errorf("insert prediction %s: %w", p.ID, err)
	}
	return nil
}

func (s *RecordStore) RecentEpochs(ctx context.Context, userID string, limit int) ([]*models.Epoch, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.client.DB().QueryContext(ctx,
		`SELECT user_id, epoch_number, batch_size, start_time, end_time, loss, accuracy, model, session_id
		FROM epochs
		WHERE user_id = ?
		ORDER BY epoch_number DESC
		LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent epochs: %w", err)
	}
	defer rows.Close()

	var out []*models.Epoch
	for rows.Next() {
		var (
			e         models.Epoch
			batchSize int32
			model     string
		)
		if err := rows.Scan(&e.UserID, &e.Number, &batchSize, &e.StartTime, &e.EndTime,
			&e.Loss, &e.Accuracy, &model, &e.SessionID); err != nil {
			return nil, fmt.Errorf("scan epoch: %w", err)
		}
		e.BatchSize = int(batchSize)
		e.Model = []byte(model)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *RecordStore) RecentTicks(ctx context.Context, market string, limit int) ([]*models.Tick, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.client.DB().QueryContext(ctx,
		`SELECT market, ts, value
		FROM ticks
		WHERE market = ?
		ORDER BY ts DESC
		LIMIT ?`,
		market, limit)
	if err != nil {
		return nil, fmt.Errorf("recent ticks: %w", err)
	}
	defer rows.Close()

	var out []*models.Tick
	for rows.Next() {
		var t models.Tick
		if err := rows.Scan(&t.Market, &t.Timestamp, &t.Value); err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		out = append(out, &t)
	}
	// Oldest first for consumers that replay the window.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func (s *RecordStore) CollectorState(ctx context.Context, userID string) (*models.CollectorState, error) {
	var raw string
	err := s.client.DB().QueryRowContext(ctx,
		`SELECT state
		FROM collector_state
		WHERE user_id = ?
		ORDER BY updated_at DESC
		LIMIT 1`,
		userID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load collector state: %w", err)
	}
	var st models.CollectorState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("decode collector state: %w", err)
	}
	return &st, nil
}

func (s *RecordStore) SaveCollectorState(ctx context.Context, userID string, st *models.CollectorState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode collector state: %w", err)
	}
	_, err = s.client.DB().ExecContext(ctx,
		`INSERT INTO collector_state (user_id, state, updated_at) VALUES (?, ?, ?)`,
		userID, string(raw), st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save collector state: %w", err)
	}
	return nil
}

func (s *RecordStore) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

func (s *RecordStore) Close() error {
	return s.client.Close()
}
