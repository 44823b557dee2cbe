// Package postgres persists devices, sessions and turns on PostgreSQL.
// List-valued child attributes are stored comma-joined; the encoding
// stays inside this package.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumetoys/lumivoice/pkg/core"
	"github.com/lumetoys/lumivoice/pkg/core/turn"
)

// Store implements the turn store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects a store to the database.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// ResolveDevice looks up a device by serial and its bound child.
func (s *Store) ResolveDevice(ctx context.Context, deviceSN string) (turn.Device, turn.Child, error) {
	var d turn.Device
	err := s.pool.QueryRow(ctx,
		`SELECT id, device_sn, bound_child_id, toy_name, toy_persona
		 FROM devices WHERE device_sn = $1`, deviceSN,
	).Scan(&d.ID, &d.DeviceSN, &d.BoundChildID, &d.ToyName, &d.ToyPersona)
	if errors.Is(err, pgx.ErrNoRows) {
		return turn.Device{}, turn.Child{}, core.NewDeviceNotBoundError(deviceSN)
	}
	if err != nil {
		return turn.Device{}, turn.Child{}, fmt.Errorf("load device: %w", err)
	}
	if d.BoundChildID == nil {
		return turn.Device{}, turn.Child{}, core.NewDeviceNotBoundError(deviceSN)
	}

	var c turn.Child
	var interests, forbidden string
	err = s.pool.QueryRow(ctx,
		`SELECT id, name, age, gender, interests, forbidden_topics
		 FROM children WHERE id = $1`, *d.BoundChildID,
	).Scan(&c.ID, &c.Name, &c.Age, &c.Gender, &interests, &forbidden)
	if errors.Is(err, pgx.ErrNoRows) {
		return turn.Device{}, turn.Child{}, core.NewDeviceNotBoundError(deviceSN)
	}
	if err != nil {
		return turn.Device{}, turn.Child{}, fmt.Errorf("load child: %w", err)
	}
	c.Interests = splitList(interests)
	c.ForbiddenTopics = splitList(forbidden)
	return d, c, nil
}

// TouchDeviceSeen records device liveness.
func (s *Store) TouchDeviceSeen(ctx context.Context, deviceID int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE devices SET last_seen_at = now() WHERE id = $1`, deviceID)
	return err
}

// ActiveSession returns the child's newest open session, creating one if
// none exists.
func (s *Store) ActiveSession(ctx context.Context, childID int64) (turn.ChatSession, error) {
	var sess turn.ChatSession
	err := s.pool.QueryRow(ctx,
		`SELECT id, child_id, title, started_at, ended_at
		 FROM chat_sessions
		 WHERE child_id = $1 AND ended_at IS NULL
		 ORDER BY started_at DESC LIMIT 1`, childID,
	).Scan(&sess.ID, &sess.ChildID, &sess.Title, &sess.StartedAt, &sess.EndedAt)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return turn.ChatSession{}, fmt.Errorf("load session: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO chat_sessions (child_id) VALUES ($1)
		 RETURNING id, child_id, title, started_at, ended_at`, childID,
	).Scan(&sess.ID, &sess.ChildID, &sess.Title, &sess.StartedAt, &sess.EndedAt)
	if err != nil {
		return turn.ChatSession{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// SetSessionTitle names a session, typically from its first turn.
func (s *Store) SetSessionTitle(ctx context.Context, sessionID int64, title string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE chat_sessions SET title = $2 WHERE id = $1`, sessionID, title)
	return err
}

// NextSeq assigns the next 1-based turn sequence for a session.
func (s *Store) NextSeq(ctx context.Context, sessionID int64) (int, error) {
	var seq int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE session_id = $1`, sessionID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next seq: %w", err)
	}
	return seq, nil
}

// CreateTurn inserts a turn row and returns its id.
func (s *Store) CreateTurn(ctx context.Context, t *turn.Turn) (int64, error) {
	metrics, err := marshalMetrics(t.Metrics)
	if err != nil {
		return 0, err
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO turns (
			session_id, device_id, seq, user_text, reply_text,
			user_audio_path, reply_audio_path,
			risk_flag, risk_source, risk_reason,
			playback_status, resume_count, policy_version, audit_action, metrics_json
		 ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		 RETURNING id`,
		t.SessionID, t.DeviceID, t.Seq, t.UserText, t.ReplyText,
		t.UserAudioPath, t.ReplyAudioPath,
		t.RiskFlag, t.RiskSource, t.RiskReason,
		t.PlaybackStatus, t.ResumeCount, t.PolicyVersion, t.AuditAction, metrics,
	).Scan(&t.ID)
	if err != nil {
		return 0, fmt.Errorf("insert turn: %w", err)
	}
	return t.ID, nil
}

// UpdateRuntime mutates the live playback fields of a turn.
func (s *Store) UpdateRuntime(ctx context.Context, turnID int64, upd turn.RuntimeUpdate) error {
	sets := []string{"playback_status = $2"}
	args := []any{turnID, upd.PlaybackStatus}

	if upd.ResumeCount != nil {
		args = append(args, *upd.ResumeCount)
		sets = append(sets, fmt.Sprintf("resume_count = $%d", len(args)))
	}
	if upd.AuditAction != nil {
		args = append(args, *upd.AuditAction)
		sets = append(sets, fmt.Sprintf("audit_action = $%d", len(args)))
	}
	if upd.Metrics != nil {
		metrics, err := marshalMetrics(upd.Metrics)
		if err != nil {
			return err
		}
		args = append(args, metrics)
		sets = append(sets, fmt.Sprintf("metrics_json = $%d", len(args)))
	}

	query := fmt.Sprintf(`UPDATE turns SET %s WHERE id = $1`, strings.Join(sets, ", "))
	_, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update runtime: %w", err)
	}
	return nil
}

// FinalizeAudio applies a terminal or checkpoint status with metrics.
// The audio bytes themselves go to object storage, not the database.
func (s *Store) FinalizeAudio(ctx context.Context, turnID int64, status string, metrics map[string]any) error {
	payload, err := marshalMetrics(metrics)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE turns SET playback_status = $2, metrics_json = COALESCE($3, metrics_json)
		 WHERE id = $1`, turnID, status, payload)
	if err != nil {
		return fmt.Errorf("finalize audio: %w", err)
	}
	return nil
}

// RecentTurns returns the last n turns of a session in ascending seq order.
func (s *Store) RecentTurns(ctx context.Context, sessionID int64, n int) ([]turn.Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, device_id, seq, user_text, reply_text,
		        user_audio_path, reply_audio_path,
		        risk_flag, risk_source, risk_reason,
		        playback_status, resume_count, policy_version, audit_action, created_at
		 FROM (
			SELECT * FROM turns WHERE session_id = $1 ORDER BY seq DESC LIMIT $2
		 ) recent
		 ORDER BY seq ASC`, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	defer rows.Close()

	var out []turn.Turn
	for rows.Next() {
		var t turn.Turn
		if err := rows.Scan(
			&t.ID, &t.SessionID, &t.DeviceID, &t.Seq, &t.UserText, &t.ReplyText,
			&t.UserAudioPath, &t.ReplyAudioPath,
			&t.RiskFlag, &t.RiskSource, &t.RiskReason,
			&t.PlaybackStatus, &t.ResumeCount, &t.PolicyVersion, &t.AuditAction, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func marshalMetrics(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metrics: %w", err)
	}
	return data, nil
}
