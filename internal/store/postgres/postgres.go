package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/LanreCloud/minicoach/internal/model"
	"github.com/LanreCloud/minicoach/internal/store"
)

const uniqueViolation = "23505"

// outboxLease is how long a claimed outbox row stays invisible to other workers.
const outboxLease = 30 * time.Second

// Open opens a PostgreSQL connection using the pgx stdlib driver and verifies connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewWithDB constructs a native Postgres store backed directly by database/sql.
func NewWithDB(db *sql.DB) store.Store { return &pgStore{db: db} }

type pgStore struct{ db *sql.DB }

func (s *pgStore) Rules() store.Rules                 { return &rules{db: s.db} }
func (s *pgStore) Events() store.Events               { return &events{db: s.db} }
func (s *pgStore) Conversations() store.Conversations { return &conversations{db: s.db} }
func (s *pgStore) Messages() store.Messages           { return &messages{db: s.db} }
func (s *pgStore) Outbox() store.Outbox               { return &outbox{db: s.db} }
func (s *pgStore) Close() error                       { return s.db.Close() }

// HealthPing implements health.HealthPinger for Postgres-backed store.
func (s *pgStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Bootstrap performs a connectivity check and applies the schema.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return err
	}
	return EnsureSchema(ctx, db)
}

// --- Rules ---
type rules struct{ db *sql.DB }

func (r *rules) Create(ctx context.Context, m *model.TriggerRule) (*model.TriggerRule, error) {
	out := *m
	if out.RuleID == "" {
		out.RuleID = uuid.New().String()
	}
	row := r.db.QueryRowContext(ctx, `
        INSERT INTO trigger_rules (rule_id, app_id, trigger_event, is_active, allow_repeat,
                                   condition_key, condition_value, message_body, sender_name)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING created_at
    `, out.RuleID, out.AppID, out.TriggerEvent, out.IsActive, out.AllowRepeat,
		nullIfEmpty(out.ConditionKey), nullIfEmpty(out.ConditionValue), out.MessageBody, nullIfEmpty(out.SenderName))
	if err := row.Scan(&out.CreationTime); err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

const ruleColumns = `rule_id, app_id, trigger_event, is_active, allow_repeat,
        condition_key, condition_value, message_body, sender_name, created_at`

func (r *rules) Get(ctx context.Context, appID, ruleID string) (*model.TriggerRule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM trigger_rules WHERE app_id=$1 AND rule_id=$2`, appID, ruleID)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return rule, err
}

func (r *rules) ListActive(ctx context.Context, appID, eventName string) ([]*model.TriggerRule, error) {
	return r.query(ctx, `SELECT `+ruleColumns+` FROM trigger_rules
        WHERE app_id=$1 AND trigger_event=$2 AND is_active ORDER BY rule_id`, appID, eventName)
}

func (r *rules) List(ctx context.Context, appID string) ([]*model.TriggerRule, error) {
	return r.query(ctx, `SELECT `+ruleColumns+` FROM trigger_rules WHERE app_id=$1 ORDER BY rule_id`, appID)
}

func (r *rules) Deactivate(ctx context.Context, appID, ruleID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE trigger_rules SET is_active=false WHERE app_id=$1 AND rule_id=$2`, appID, ruleID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *rules) query(ctx context.Context, q string, args ...any) ([]*model.TriggerRule, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.TriggerRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

type scanner interface{ Scan(dest ...any) error }

func scanRule(sc scanner) (*model.TriggerRule, error) {
	var m model.TriggerRule
	var key, value, sender sql.NullString
	if err := sc.Scan(&m.RuleID, &m.AppID, &m.TriggerEvent, &m.IsActive, &m.AllowRepeat,
		&key, &value, &m.MessageBody, &sender, &m.CreationTime); err != nil {
		return nil, err
	}
	m.ConditionKey = key.String
	m.ConditionValue = value.String
	m.SenderName = sender.String
	return &m, nil
}

// --- Events ---
type events struct{ db *sql.DB }

func (e *events) Append(ctx context.Context, ev *model.UserEvent) (*model.UserEvent, error) {
	out := *ev
	if out.EventID == "" {
		out.EventID = uuid.New().String()
	}
	meta, err := json.Marshal(out.Metadata)
	if err != nil {
		return nil, err
	}
	row := e.db.QueryRowContext(ctx, `
        INSERT INTO user_events (event_id, app_id, user_id, event_name, metadata)
        VALUES ($1,$2,$3,$4,$5::jsonb)
        RETURNING created_at
    `, out.EventID, out.AppID, out.UserID, out.EventName, string(meta))
	if err := row.Scan(&out.CreationTime); err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

func (e *events) Recent(ctx context.Context, req model.ListRequest) ([]*model.UserEvent, error) {
	query := `SELECT event_id, app_id, user_id, event_name, metadata, created_at
               FROM user_events WHERE app_id=$1 AND user_id=$2
               ORDER BY created_at DESC, seq DESC`
	if req.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", req.Limit)
	}
	rows, err := e.db.QueryContext(ctx, query, req.AppID, req.UserID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.UserEvent
	for rows.Next() {
		var ev model.UserEvent
		var meta []byte
		if err := rows.Scan(&ev.EventID, &ev.AppID, &ev.UserID, &ev.EventName, &meta, &ev.CreationTime); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &ev.Metadata)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// --- Conversations ---
type conversations struct{ db *sql.DB }

func (c *conversations) GetOrCreate(ctx context.Context, appID, userID string) (*model.Conversation, error) {
	if _, err := c.db.ExecContext(ctx, `
        INSERT INTO conversations (conversation_id, app_id, user_id)
        VALUES ($1,$2,$3)
        ON CONFLICT (app_id, user_id) DO NOTHING
    `, uuid.New().String(), appID, userID); err != nil {
		return nil, err
	}
	var out model.Conversation
	if err := c.db.QueryRowContext(ctx, `
        SELECT conversation_id, app_id, user_id, created_at FROM conversations WHERE app_id=$1 AND user_id=$2
    `, appID, userID).Scan(&out.ConversationID, &out.AppID, &out.UserID, &out.CreationTime); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *conversations) Count(ctx context.Context, appID, userID string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations WHERE app_id=$1 AND user_id=$2`, appID, userID).Scan(&n)
	return n, err
}

// --- Messages ---
type messages struct{ db *sql.DB }

func (m *messages) CreateFromRule(ctx context.Context, conv *model.Conversation, req model.FireRequest) (*model.Message, error) {
	rule := req.Rule
	ruleID := rule.RuleID
	msg := &model.Message{
		MessageID:      uuid.New().String(),
		AppID:          req.AppID,
		UserID:         req.UserID,
		ConversationID: conv.ConversationID,
		TriggerRuleID:  &ruleID,
		Body:           rule.MessageBody,
		SenderName:     rule.Sender(),
	}
	var dedup any
	if !rule.AllowRepeat {
		dedup = store.DedupKey(req.AppID, req.UserID, ruleID)
	}

	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
        INSERT INTO messages (message_id, app_id, user_id, conversation_id, trigger_rule_id, dedup_key, body, sender_name)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING created_at
    `, msg.MessageID, msg.AppID, msg.UserID, msg.ConversationID, ruleID, dedup, msg.Body, msg.SenderName)
	if err := row.Scan(&msg.CreationTime); err != nil {
		return nil, translate(err)
	}
	if err := writeOutbox(ctx, tx, store.OpMessageCreated, msg.MessageID, msg); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, translate(err)
	}
	return msg, nil
}

func (m *messages) ExistsForRule(ctx context.Context, appID, userID, ruleID string) (bool, error) {
	var exists bool
	err := m.db.QueryRowContext(ctx, `
        SELECT EXISTS (SELECT 1 FROM messages WHERE app_id=$1 AND user_id=$2 AND trigger_rule_id=$3)
    `, appID, userID, ruleID).Scan(&exists)
	return exists, err
}

const messageColumns = `message_id, app_id, user_id, conversation_id, trigger_rule_id, body, sender_name, is_read, created_at`

func (m *messages) ListUnread(ctx context.Context, appID, userID string) ([]*model.Message, error) {
	return m.query(ctx, `SELECT `+messageColumns+` FROM messages
        WHERE app_id=$1 AND user_id=$2 AND NOT is_read ORDER BY created_at ASC, seq ASC`, appID, userID)
}

func (m *messages) Recent(ctx context.Context, req model.ListRequest) ([]*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
        WHERE app_id=$1 AND user_id=$2 ORDER BY created_at DESC, seq DESC`
	if req.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", req.Limit)
	}
	return m.query(ctx, query, req.AppID, req.UserID)
}

func (m *messages) MarkRead(ctx context.Context, appID, userID, messageID string) error {
	res, err := m.db.ExecContext(ctx, `
        UPDATE messages SET is_read=true WHERE app_id=$1 AND user_id=$2 AND message_id=$3
    `, appID, userID, messageID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (m *messages) query(ctx context.Context, q string, args ...any) ([]*model.Message, error) {
	rows, err := m.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []*model.Message{}
	for rows.Next() {
		var msg model.Message
		var ruleID sql.NullString
		if err := rows.Scan(&msg.MessageID, &msg.AppID, &msg.UserID, &msg.ConversationID, &ruleID,
			&msg.Body, &msg.SenderName, &msg.IsRead, &msg.CreationTime); err != nil {
			return nil, err
		}
		if ruleID.Valid {
			id := ruleID.String
			msg.TriggerRuleID = &id
		}
		out = append(out, &msg)
	}
	return out, rows.Err()
}

// --- Outbox ---
type outbox struct{ db *sql.DB }

// Claim leases due rows so concurrent relays never see the same record twice within the lease.
func (o *outbox) Claim(ctx context.Context, limit int) ([]model.OutboxRecord, error) {
	rows, err := o.db.QueryContext(ctx, `
        UPDATE outbox SET next_attempt_at = now() + make_interval(secs => $2), update_time = now()
        WHERE id IN (
            SELECT id FROM outbox
            WHERE status = 'pending' AND next_attempt_at <= now()
            ORDER BY id ASC
            FOR UPDATE SKIP LOCKED
            LIMIT $1
        )
        RETURNING id, op, aggregate_id, payload, attempt_count
    `, limit, outboxLease.Seconds())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.OutboxRecord
	for rows.Next() {
		var rec model.OutboxRecord
		if err := rows.Scan(&rec.ID, &rec.Op, &rec.AggregateID, &rec.Payload, &rec.Attempts); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, rows.Err()
}

func (o *outbox) MarkDone(ctx context.Context, id int64) error {
	_, err := o.db.ExecContext(ctx, `UPDATE outbox SET status='done', update_time=now() WHERE id=$1`, id)
	return err
}

func (o *outbox) MarkFailed(ctx context.Context, id int64) error {
	_, err := o.db.ExecContext(ctx, `
        UPDATE outbox
        SET attempt_count = attempt_count + 1,
            next_attempt_at = now() + make_interval(secs => LEAST(POWER(2, attempt_count+1), 300)),
            update_time = now()
        WHERE id=$1`, id)
	return err
}

// helpers
func writeOutbox(ctx context.Context, tx *sql.Tx, op string, aggregateID string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO outbox (aggregate_id, op, payload) VALUES ($1,$2,$3)`, aggregateID, op, string(b))
	return err
}

// translate maps unique violations to model.ErrDuplicate.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return model.ErrDuplicate
	}
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
