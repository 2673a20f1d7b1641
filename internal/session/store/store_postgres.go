package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"verigate/internal/session/models"
	id "verigate/pkg/domain"
	"verigate/pkg/platform/sentinel"
	txcontext "verigate/pkg/platform/tx"
)

// PostgresStore persists sessions. Maintenance operations are single
// set-based statements so they can run concurrently with live transitions.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed session store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const sessionColumns = `id, session_token, organization_id, verification_id, status, expires_at, created_at, updated_at, terminated_at`

func (s *PostgresStore) Create(ctx context.Context, session *models.Session) error {
	query := `INSERT INTO verification_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT DO NOTHING`
	res, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(session.ID),
		session.Token,
		uuid.UUID(session.OrganizationID),
		nullVerificationID(session.VerificationID),
		string(session.Status),
		session.ExpiresAt,
		session.CreatedAt,
		session.UpdatedAt,
		session.TerminatedAt,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	row := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM verification_sessions WHERE id = $1`, uuid.UUID(sessionID))
	return scanOne(row, "find session by id")
}

func (s *PostgresStore) FindByToken(ctx context.Context, token string) (*models.Session, error) {
	row := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM verification_sessions WHERE session_token = $1`, token)
	return scanOne(row, "find session by token")
}

// Transition is a conditional update: it only fires while the stored status
// is one of from, so a concurrent expiry and terminate cannot both win.
func (s *PostgresStore) Transition(ctx context.Context, sessionID id.SessionID, from []models.Status, to models.Status, now time.Time) (*models.Session, error) {
	query := `
		UPDATE verification_sessions SET
			status = $3,
			updated_at = $4,
			terminated_at = CASE WHEN $3 = 'terminated' THEN $4 ELSE terminated_at END
		WHERE id = $1 AND status = ANY($2)
		RETURNING ` + sessionColumns
	row := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, query,
		uuid.UUID(sessionID), pq.Array(statusStrings(from)), string(to), now)
	session, err := scanSession(row)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transition session: %w", err)
	}
	if _, err := s.FindByID(ctx, sessionID); err != nil {
		return nil, err
	}
	return nil, sentinel.ErrInvalidState
}

// ExpireDue marks every live session past its deadline as expired.
func (s *PostgresStore) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	res, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, `
		UPDATE verification_sessions SET status = $1, updated_at = $2
		WHERE expires_at < $2 AND status = ANY($3)
	`, string(models.StatusExpired), now, pq.Array(statusStrings(models.LiveStatuses)))
	if err != nil {
		return 0, fmt.Errorf("expire due sessions: %w", err)
	}
	return rowsAffected(res, "expire due sessions")
}

// DeleteTerminatedBefore purges terminal sessions whose terminal timestamp is
// older than cutoff. Live sessions are never matched.
func (s *PostgresStore) DeleteTerminatedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, `
		DELETE FROM verification_sessions
		WHERE status = ANY($1) AND COALESCE(terminated_at, updated_at) < $2
	`, pq.Array(statusStrings(models.TerminalStatuses)), cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old sessions: %w", err)
	}
	return rowsAffected(res, "delete old sessions")
}

func (s *PostgresStore) Stats(ctx context.Context, now time.Time, window time.Duration) (models.ExpirationStats, error) {
	var stats models.ExpirationStats
	err := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = ANY($1)),
			COUNT(*) FILTER (WHERE status = 'expired'),
			COUNT(*) FILTER (WHERE status = 'terminated'),
			COUNT(*) FILTER (WHERE status = ANY($1) AND expires_at > $2 AND expires_at < $3)
		FROM verification_sessions
	`, pq.Array(statusStrings(models.LiveStatuses)), now, now.Add(window)).Scan(
		&stats.Total, &stats.Active, &stats.Expired, &stats.Terminated, &stats.ExpiringSoon,
	)
	if err != nil {
		return models.ExpirationStats{}, fmt.Errorf("session stats: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOne(row rowScanner, op string) (*models.Session, error) {
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return session, nil
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		sessionID, orgID uuid.UUID
		verificationID   uuid.NullUUID
		status           string
		terminatedAt     sql.NullTime
		session          models.Session
	)
	err := row.Scan(&sessionID, &session.Token, &orgID, &verificationID, &status,
		&session.ExpiresAt, &session.CreatedAt, &session.UpdatedAt, &terminatedAt)
	if err != nil {
		return nil, err
	}
	session.ID = id.SessionID(sessionID)
	session.OrganizationID = id.OrganizationID(orgID)
	if verificationID.Valid {
		session.VerificationID = id.VerificationID(verificationID.UUID)
	}
	session.Status = models.Status(status)
	if terminatedAt.Valid {
		t := terminatedAt.Time
		session.TerminatedAt = &t
	}
	return &session, nil
}

func nullVerificationID(v id.VerificationID) uuid.NullUUID {
	if v.IsNil() {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(v), Valid: true}
}

func statusStrings(statuses []models.Status) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

func rowsAffected(res sql.Result, op string) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s rows: %w", op, err)
	}
	return int(n), nil
}
