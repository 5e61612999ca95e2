package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/veesix-networks/hotspotd/pkg/models"
	"github.com/veesix-networks/hotspotd/pkg/store"
)

// Dialect holds what differs between the SQL backends.
type Dialect struct {
	Name string
	// Placeholder returns the n-th (1-based) bind marker.
	Placeholder func(n int) string
	// Schema is run in order on open; every statement must be idempotent.
	Schema []string
	// IsActiveSessionConflict reports whether err is a violation of
	// OneActiveIndex and nothing else, such as a duplicate primary key.
	IsActiveSessionConflict func(err error) bool
}

func QuestionMark(int) string { return "?" }

func Dollar(n int) string { return "$" + strconv.Itoa(n) }

// Store implements store.Store on database/sql. Timestamps are stored as
// unix milliseconds so both backends compare them the same way.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

func New(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	for _, stmt := range d.Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("%w: bootstrap schema: %w", store.ErrStore, err)
		}
	}
	return &Store{db: db, dialect: d}, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", store.ErrStore, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? markers for the dialect.
func (s *Store) rebind(query string) string {
	if s.dialect.Placeholder == nil {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.dialect.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func wrap(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", store.ErrStore, op, err)
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func octets(v uint64) int64 {
	if v > 1<<63-1 {
		return 1<<63 - 1
	}
	return int64(v)
}

const sessionColumns = `s.id, s.user_id, s.username, s.nas_id, s.plan_id, s.acct_session_id, s.framed_ip,
	s.started_at, s.ended_at, s.end_reason, s.input_octets, s.output_octets`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner, extra ...any) (*models.Session, error) {
	var (
		sess      models.Session
		framedIP  sql.NullString
		startedAt int64
		endedAt   sql.NullInt64
		reason    string
		in, out   int64
	)
	dest := []any{
		&sess.ID, &sess.UserID, &sess.Username, &sess.NASID, &sess.PlanID, &sess.AcctSessionID, &framedIP,
		&startedAt, &endedAt, &reason, &in, &out,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	if framedIP.Valid && framedIP.String != "" {
		sess.FramedIP = net.ParseIP(framedIP.String)
	}
	sess.StartedAt = fromMillis(startedAt)
	if endedAt.Valid {
		t := fromMillis(endedAt.Int64)
		sess.EndedAt = &t
	}
	sess.EndReason = models.EndReason(reason)
	sess.InputOctets = uint64(in)
	sess.OutputOctets = uint64(out)
	return &sess, nil
}

func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	var framedIP sql.NullString
	if sess.FramedIP != nil {
		framedIP = sql.NullString{String: sess.FramedIP.String(), Valid: true}
	}
	var endedAt sql.NullInt64
	if sess.EndedAt != nil {
		endedAt = sql.NullInt64{Int64: millis(*sess.EndedAt), Valid: true}
	}

	_, err := s.exec(ctx, `
		INSERT INTO sessions (id, user_id, username, nas_id, plan_id, acct_session_id, framed_ip,
			started_at, ended_at, end_reason, input_octets, output_octets)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.UserID, sess.Username, sess.NASID, sess.PlanID, sess.AcctSessionID, framedIP,
		millis(sess.StartedAt), endedAt, string(sess.EndReason), octets(sess.InputOctets), octets(sess.OutputOctets))
	if err != nil {
		if s.dialect.IsActiveSessionConflict != nil && s.dialect.IsActiveSessionConflict(err) {
			return fmt.Errorf("%w: user %s on %s", store.ErrActiveSessionExists, sess.UserID, sess.NASID)
		}
		return wrap("create session", err)
	}
	return nil
}

func (s *Store) getSession(ctx context.Context, op, where string, args ...any) (*models.Session, error) {
	row := s.queryRow(ctx, `SELECT `+sessionColumns+` FROM sessions s WHERE `+where, args...)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, wrap(op, err)
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	return s.getSession(ctx, "get session", `s.id = ?`, id)
}

func (s *Store) FindActive(ctx context.Context, userID, nasID string) (*models.Session, error) {
	return s.getSession(ctx, "find active session",
		`s.user_id = ? AND s.nas_id = ? AND s.ended_at IS NULL`, userID, nasID)
}

func (s *Store) FindByAcctSessionID(ctx context.Context, nasID, acctSessionID string) (*models.Session, error) {
	return s.getSession(ctx, "find session by acct id",
		`s.nas_id = ? AND s.acct_session_id = ? ORDER BY s.started_at DESC LIMIT 1`, nasID, acctSessionID)
}

func (s *Store) FindActiveByAcctSessionID(ctx context.Context, nasID, acctSessionID string) (*models.Session, error) {
	return s.getSession(ctx, "find active session by acct id",
		`s.nas_id = ? AND s.acct_session_id = ? AND s.ended_at IS NULL ORDER BY s.started_at DESC LIMIT 1`, nasID, acctSessionID)
}

func (s *Store) ActiveSessions(ctx context.Context) ([]*models.ActiveSession, error) {
	rows, err := s.query(ctx, `
		SELECT `+sessionColumns+`, p.name, p.duration_minutes, p.data_cap_bytes
		FROM sessions s
		JOIN plans p ON p.id = s.plan_id
		WHERE s.ended_at IS NULL
		ORDER BY s.started_at, s.id
	`)
	if err != nil {
		return nil, wrap("list active sessions", err)
	}
	defer rows.Close()

	var out []*models.ActiveSession
	for rows.Next() {
		var (
			name     string
			duration int64
			dataCap  int64
		)
		sess, err := scanSession(rows, &name, &duration, &dataCap)
		if err != nil {
			return nil, wrap("scan active session", err)
		}
		out = append(out, &models.ActiveSession{
			Session:      *sess,
			PlanName:     name,
			PlanDuration: time.Duration(duration) * time.Minute,
			DataCapBytes: uint64(dataCap),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list active sessions", err)
	}
	return out, nil
}

func (s *Store) UpdateCounters(ctx context.Context, id string, inputOctets, outputOctets uint64) error {
	in, out := octets(inputOctets), octets(outputOctets)
	res, err := s.exec(ctx, `
		UPDATE sessions SET
			input_octets = CASE WHEN input_octets < ? THEN ? ELSE input_octets END,
			output_octets = CASE WHEN output_octets < ? THEN ? ELSE output_octets END
		WHERE id = ?
	`, in, in, out, out, id)
	if err != nil {
		return wrap("update counters", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("update counters", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AppendSnapshot(ctx context.Context, snap *models.AccountingSnapshot) error {
	_, err := s.exec(ctx, `
		INSERT INTO accounting_records (session_id, recorded_at, status, session_time, input_octets, output_octets)
		VALUES (?, ?, ?, ?, ?, ?)
	`, snap.SessionID, millis(snap.RecordedAt), string(snap.Status), int64(snap.SessionTime/time.Second),
		octets(snap.InputOctets), octets(snap.OutputOctets))
	if err != nil {
		return wrap("append snapshot", err)
	}
	return nil
}

func (s *Store) Snapshots(ctx context.Context, sessionID string) ([]*models.AccountingSnapshot, error) {
	rows, err := s.query(ctx, `
		SELECT session_id, recorded_at, status, session_time, input_octets, output_octets
		FROM accounting_records
		WHERE session_id = ?
		ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, wrap("list snapshots", err)
	}
	defer rows.Close()

	var out []*models.AccountingSnapshot
	for rows.Next() {
		var (
			snap                models.AccountingSnapshot
			recordedAt, secs    int64
			status              string
			inOctets, outOctets int64
		)
		if err := rows.Scan(&snap.SessionID, &recordedAt, &status, &secs, &inOctets, &outOctets); err != nil {
			return nil, wrap("scan snapshot", err)
		}
		snap.RecordedAt = fromMillis(recordedAt)
		snap.Status = models.AcctStatus(status)
		snap.SessionTime = time.Duration(secs) * time.Second
		snap.InputOctets = uint64(inOctets)
		snap.OutputOctets = uint64(outOctets)
		out = append(out, &snap)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list snapshots", err)
	}
	return out, nil
}

func (s *Store) CloseSession(ctx context.Context, id string, endedAt time.Time, reason models.EndReason) (bool, error) {
	res, err := s.exec(ctx, `
		UPDATE sessions SET ended_at = ?, end_reason = ?
		WHERE id = ? AND ended_at IS NULL
	`, millis(endedAt), string(reason), id)
	if err != nil {
		return false, wrap("close session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("close session", err)
	}
	if n == 1 {
		return true, nil
	}

	if _, err := s.GetSession(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) RecordNotification(ctx context.Context, sessionID string, thresholdMinutes int, sentAt time.Time) (bool, error) {
	res, err := s.exec(ctx, `
		INSERT INTO notification_log (session_id, threshold_minutes, sent_at)
		VALUES (?, ?, ?)
		ON CONFLICT (session_id, threshold_minutes) DO NOTHING
	`, sessionID, thresholdMinutes, millis(sentAt))
	if err != nil {
		return false, wrap("record notification", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("record notification", err)
	}
	return n == 1, nil
}

func (s *Store) HasNotification(ctx context.Context, sessionID string, thresholdMinutes int) (bool, error) {
	var one int
	err := s.queryRow(ctx, `
		SELECT 1 FROM notification_log WHERE session_id = ? AND threshold_minutes = ?
	`, sessionID, thresholdMinutes).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrap("lookup notification", err)
	}
	return true, nil
}

func (s *Store) CreatePlan(ctx context.Context, p *models.Plan) error {
	_, err := s.exec(ctx, `
		INSERT INTO plans (id, name, duration_minutes, data_cap_bytes, active)
		VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.DurationMinutes, octets(p.DataCapBytes), p.Active)
	if err != nil {
		return wrap("create plan", err)
	}
	return nil
}

func (s *Store) getPlan(ctx context.Context, op, where string, arg any) (*models.Plan, error) {
	var (
		p       models.Plan
		dataCap int64
	)
	err := s.queryRow(ctx, `
		SELECT id, name, duration_minutes, data_cap_bytes, active FROM plans WHERE `+where, arg,
	).Scan(&p.ID, &p.Name, &p.DurationMinutes, &dataCap, &p.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, wrap(op, err)
	}
	p.DataCapBytes = uint64(dataCap)
	return &p, nil
}

func (s *Store) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	return s.getPlan(ctx, "get plan", `id = ?`, id)
}

func (s *Store) GetPlanByName(ctx context.Context, name string) (*models.Plan, error) {
	return s.getPlan(ctx, "get plan by name", `name = ?`, name)
}

var _ store.Store = (*Store)(nil)
