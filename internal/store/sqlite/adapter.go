package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/LanreCloud/minicoach/internal/model"
	"github.com/LanreCloud/minicoach/internal/store"
)

// New opens the database at path, applies the schema and returns a store.
func New(path string) (store.Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewWithDB(db), nil
}

// NewWithDB wraps an existing connection whose schema is already in place.
func NewWithDB(db *sql.DB) store.Store {
	return &sqliteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

type sqliteStore struct {
	db  *sql.DB
	now func() time.Time
}

func (s *sqliteStore) Rules() store.Rules                 { return &rules{s} }
func (s *sqliteStore) Events() store.Events               { return &events{s} }
func (s *sqliteStore) Conversations() store.Conversations { return &conversations{s} }
func (s *sqliteStore) Messages() store.Messages           { return &messages{s} }
func (s *sqliteStore) Outbox() store.Outbox               { return &outbox{s} }
func (s *sqliteStore) Close() error                       { return s.db.Close() }

// HealthPing implements health.HealthPinger.
func (s *sqliteStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- Rules ---
type rules struct{ s *sqliteStore }

func (r *rules) Create(ctx context.Context, m *model.TriggerRule) (*model.TriggerRule, error) {
	out := *m
	if out.RuleID == "" {
		out.RuleID = uuid.New().String()
	}
	out.CreationTime = r.s.now()
	_, err := r.s.db.ExecContext(ctx, `
        INSERT INTO trigger_rules (rule_id, app_id, trigger_event, is_active, allow_repeat,
                                   condition_key, condition_value, message_body, sender_name, created_at)
        VALUES (?,?,?,?,?,?,?,?,?,?)
    `, out.RuleID, out.AppID, out.TriggerEvent, out.IsActive, out.AllowRepeat,
		nullIfEmpty(out.ConditionKey), nullIfEmpty(out.ConditionValue), out.MessageBody,
		nullIfEmpty(out.SenderName), out.CreationTime.UnixNano())
	if err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

const ruleColumns = `rule_id, app_id, trigger_event, is_active, allow_repeat,
        condition_key, condition_value, message_body, sender_name, created_at`

func (r *rules) Get(ctx context.Context, appID, ruleID string) (*model.TriggerRule, error) {
	row := r.s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM trigger_rules WHERE app_id=? AND rule_id=?`, appID, ruleID)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return rule, err
}

func (r *rules) ListActive(ctx context.Context, appID, eventName string) ([]*model.TriggerRule, error) {
	return r.query(ctx, `SELECT `+ruleColumns+` FROM trigger_rules
        WHERE app_id=? AND trigger_event=? AND is_active=1 ORDER BY rule_id`, appID, eventName)
}

func (r *rules) List(ctx context.Context, appID string) ([]*model.TriggerRule, error) {
	return r.query(ctx, `SELECT `+ruleColumns+` FROM trigger_rules WHERE app_id=? ORDER BY rule_id`, appID)
}

func (r *rules) Deactivate(ctx context.Context, appID, ruleID string) error {
	res, err := r.s.db.ExecContext(ctx, `UPDATE trigger_rules SET is_active=0 WHERE app_id=? AND rule_id=?`, appID, ruleID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *rules) query(ctx context.Context, q string, args ...any) ([]*model.TriggerRule, error) {
	rows, err := r.s.db.QueryContext(ctx, q, args...)
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
	var created int64
	if err := sc.Scan(&m.RuleID, &m.AppID, &m.TriggerEvent, &m.IsActive, &m.AllowRepeat,
		&key, &value, &m.MessageBody, &sender, &created); err != nil {
		return nil, err
	}
	m.ConditionKey = key.String
	m.ConditionValue = value.String
	m.SenderName = sender.String
	m.CreationTime = fromNanos(created)
	return &m, nil
}

// --- Events ---
type events struct{ s *sqliteStore }

func (e *events) Append(ctx context.Context, ev *model.UserEvent) (*model.UserEvent, error) {
	out := *ev
	if out.EventID == "" {
		out.EventID = uuid.New().String()
	}
	out.CreationTime = e.s.now()
	meta, err := json.Marshal(out.Metadata)
	if err != nil {
		return nil, err
	}
	if _, err := e.s.db.ExecContext(ctx, `
        INSERT INTO user_events (event_id, app_id, user_id, event_name, metadata, created_at)
        VALUES (?,?,?,?,?,?)
    `, out.EventID, out.AppID, out.UserID, out.EventName, string(meta), out.CreationTime.UnixNano()); err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

func (e *events) Recent(ctx context.Context, req model.ListRequest) ([]*model.UserEvent, error) {
	rows, err := e.s.db.QueryContext(ctx, `
        SELECT event_id, app_id, user_id, event_name, metadata, created_at
        FROM user_events WHERE app_id=? AND user_id=?
        ORDER BY created_at DESC, seq DESC LIMIT ?
    `, req.AppID, req.UserID, limitOrAll(req.Limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.UserEvent
	for rows.Next() {
		var ev model.UserEvent
		var meta sql.NullString
		var created int64
		if err := rows.Scan(&ev.EventID, &ev.AppID, &ev.UserID, &ev.EventName, &meta, &created); err != nil {
			return nil, err
		}
		if meta.Valid && meta.String != "" {
			_ = json.Unmarshal([]byte(meta.String), &ev.Metadata)
		}
		ev.CreationTime = fromNanos(created)
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// --- Conversations ---
type conversations struct{ s *sqliteStore }

func (c *conversations) GetOrCreate(ctx context.Context, appID, userID string) (*model.Conversation, error) {
	if _, err := c.s.db.ExecContext(ctx, `
        INSERT INTO conversations (conversation_id, app_id, user_id, created_at)
        VALUES (?,?,?,?)
        ON CONFLICT(app_id, user_id) DO NOTHING
    `, uuid.New().String(), appID, userID, c.s.now().UnixNano()); err != nil {
		return nil, err
	}
	var out model.Conversation
	var created int64
	if err := c.s.db.QueryRowContext(ctx, `
        SELECT conversation_id, app_id, user_id, created_at FROM conversations WHERE app_id=? AND user_id=?
    `, appID, userID).Scan(&out.ConversationID, &out.AppID, &out.UserID, &created); err != nil {
		return nil, err
	}
	out.CreationTime = fromNanos(created)
	return &out, nil
}

func (c *conversations) Count(ctx context.Context, appID, userID string) (int, error) {
	var n int
	err := c.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations WHERE app_id=? AND user_id=?`, appID, userID).Scan(&n)
	return n, err
}

// --- Messages ---
type messages struct{ s *sqliteStore }

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
		CreationTime:   m.s.now(),
	}
	var dedup any
	if !rule.AllowRepeat {
		dedup = store.DedupKey(req.AppID, req.UserID, ruleID)
	}

	tx, err := m.s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
        INSERT INTO messages (message_id, app_id, user_id, conversation_id, trigger_rule_id, dedup_key,
                              body, sender_name, is_read, created_at)
        VALUES (?,?,?,?,?,?,?,?,0,?)
    `, msg.MessageID, msg.AppID, msg.UserID, msg.ConversationID, ruleID, dedup,
		msg.Body, msg.SenderName, msg.CreationTime.UnixNano()); err != nil {
		return nil, translate(err)
	}
	if err := m.writeOutbox(ctx, tx, msg); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, translate(err)
	}
	return msg, nil
}

func (m *messages) writeOutbox(ctx context.Context, tx *sql.Tx, msg *model.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	now := m.s.now().UnixNano()
	_, err = tx.ExecContext(ctx, `
        INSERT INTO outbox (aggregate_id, op, payload, next_attempt_at, update_time) VALUES (?,?,?,?,?)
    `, msg.MessageID, store.OpMessageCreated, string(b), now, now)
	return err
}

func (m *messages) ExistsForRule(ctx context.Context, appID, userID, ruleID string) (bool, error) {
	var one int
	err := m.s.db.QueryRowContext(ctx, `
        SELECT 1 FROM messages WHERE app_id=? AND user_id=? AND trigger_rule_id=? LIMIT 1
    `, appID, userID, ruleID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

const messageColumns = `message_id, app_id, user_id, conversation_id, trigger_rule_id, body, sender_name, is_read, created_at`

func (m *messages) ListUnread(ctx context.Context, appID, userID string) ([]*model.Message, error) {
	return m.query(ctx, `SELECT `+messageColumns+` FROM messages
        WHERE app_id=? AND user_id=? AND is_read=0 ORDER BY created_at ASC, seq ASC`, appID, userID)
}

func (m *messages) Recent(ctx context.Context, req model.ListRequest) ([]*model.Message, error) {
	return m.query(ctx, `SELECT `+messageColumns+` FROM messages
        WHERE app_id=? AND user_id=? ORDER BY created_at DESC, seq DESC LIMIT ?`, req.AppID, req.UserID, limitOrAll(req.Limit))
}

func (m *messages) MarkRead(ctx context.Context, appID, userID, messageID string) error {
	res, err := m.s.db.ExecContext(ctx, `
        UPDATE messages SET is_read=1 WHERE app_id=? AND user_id=? AND message_id=?
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
	rows, err := m.s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []*model.Message{}
	for rows.Next() {
		var msg model.Message
		var ruleID sql.NullString
		var created int64
		if err := rows.Scan(&msg.MessageID, &msg.AppID, &msg.UserID, &msg.ConversationID, &ruleID,
			&msg.Body, &msg.SenderName, &msg.IsRead, &created); err != nil {
			return nil, err
		}
		if ruleID.Valid {
			id := ruleID.String
			msg.TriggerRuleID = &id
		}
		msg.CreationTime = fromNanos(created)
		out = append(out, &msg)
	}
	return out, rows.Err()
}

// --- Outbox ---
type outbox struct{ s *sqliteStore }

func (o *outbox) Claim(ctx context.Context, limit int) ([]model.OutboxRecord, error) {
	rows, err := o.s.db.QueryContext(ctx, `
        SELECT id, op, aggregate_id, payload, attempt_count FROM outbox
        WHERE status='pending' AND next_attempt_at <= ?
        ORDER BY id ASC LIMIT ?
    `, o.s.now().UnixNano(), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.OutboxRecord
	for rows.Next() {
		var rec model.OutboxRecord
		var payload string
		if err := rows.Scan(&rec.ID, &rec.Op, &rec.AggregateID, &payload, &rec.Attempts); err != nil {
			return nil, err
		}
		rec.Payload = []byte(payload)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (o *outbox) MarkDone(ctx context.Context, id int64) error {
	_, err := o.s.db.ExecContext(ctx, `UPDATE outbox SET status='done', update_time=? WHERE id=?`, o.s.now().UnixNano(), id)
	return err
}

// MarkFailed backs the record off exponentially, capped at five minutes.
func (o *outbox) MarkFailed(ctx context.Context, id int64) error {
	var attempts int
	if err := o.s.db.QueryRowContext(ctx, `SELECT attempt_count FROM outbox WHERE id=?`, id).Scan(&attempts); err != nil {
		return err
	}
	delay := time.Duration(1<<min(attempts+1, 8)) * time.Second
	if delay > 5*time.Minute {
		delay = 5 * time.Minute
	}
	now := o.s.now()
	_, err := o.s.db.ExecContext(ctx, `
        UPDATE outbox SET attempt_count=attempt_count+1, next_attempt_at=?, update_time=? WHERE id=?
    `, now.Add(delay).UnixNano(), now.UnixNano(), id)
	return err
}

// helpers

// translate maps unique-constraint failures to model.ErrDuplicate.
func translate(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return model.ErrDuplicate
		}
	}
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func limitOrAll(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }
