package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"verigate/internal/verification/models"
	id "verigate/pkg/domain"
	"verigate/pkg/platform/sentinel"
	txcontext "verigate/pkg/platform/tx"
)

// PostgresStore persists verification requests, documents and selfies.
// Writes join the caller's transaction when ctx carries one.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed verification store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const requestColumns = `id, user_id, developer_id, state, is_sandbox, cross_validation_score,
	face_match_score, liveness_score, review_reason, applied_events, version, created_at, updated_at`

func (s *PostgresStore) CreateRequest(ctx context.Context, req *models.VerificationRequest) error {
	query := `INSERT INTO verification_requests (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`
	res, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(req.ID),
		uuid.UUID(req.UserID),
		uuid.UUID(req.DeveloperID),
		string(req.State),
		req.IsSandbox,
		nullScore(req.CrossValidationScore),
		nullScore(req.FaceMatchScore),
		nullScore(req.LivenessScore),
		req.ReviewReason,
		pq.Array(eventStrings(req.AppliedEvents)),
		req.Version,
		req.CreatedAt,
		req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create verification request: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) FindRequest(ctx context.Context, verificationID id.VerificationID) (*models.VerificationRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM verification_requests WHERE id = $1`
	row := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(verificationID))
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find verification request: %w", err)
	}
	return req, nil
}

// UpdateRequestIfVersion writes req only while the stored version equals
// expectedVersion. A lost race returns sentinel.ErrConflict.
func (s *PostgresStore) UpdateRequestIfVersion(ctx context.Context, req *models.VerificationRequest, expectedVersion int) error {
	query := `
		UPDATE verification_requests SET
			state = $2,
			cross_validation_score = $3,
			face_match_score = $4,
			liveness_score = $5,
			review_reason = $6,
			applied_events = $7,
			version = $8,
			updated_at = $9
		WHERE id = $1 AND version = $10
	`
	res, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(req.ID),
		string(req.State),
		nullScore(req.CrossValidationScore),
		nullScore(req.FaceMatchScore),
		nullScore(req.LivenessScore),
		req.ReviewReason,
		pq.Array(eventStrings(req.AppliedEvents)),
		req.Version,
		req.UpdatedAt,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update verification request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update verification request rows: %w", err)
	}
	if n == 1 {
		return nil
	}
	// Zero rows: either the request is gone or another writer won.
	if _, err := s.FindRequest(ctx, req.ID); err != nil {
		return err
	}
	return sentinel.ErrConflict
}

func (s *PostgresStore) SaveDocument(ctx context.Context, doc *models.Document) error {
	fields, err := marshalFields(doc.ExtractedFields)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO verification_documents (id, verification_id, side, storage_path, size_bytes, mime_type, extracted_fields, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (verification_id, side) DO UPDATE SET
			id = EXCLUDED.id,
			storage_path = EXCLUDED.storage_path,
			size_bytes = EXCLUDED.size_bytes,
			mime_type = EXCLUDED.mime_type,
			extracted_fields = EXCLUDED.extracted_fields,
			updated_at = EXCLUDED.updated_at
	`
	_, err = txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(doc.ID),
		uuid.UUID(doc.VerificationID),
		doc.Side.String(),
		doc.StoragePath,
		doc.SizeBytes,
		doc.MimeType,
		fields,
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindDocument(ctx context.Context, verificationID id.VerificationID, side id.DocumentSide) (*models.Document, error) {
	query := `
		SELECT id, verification_id, side, storage_path, size_bytes, mime_type, extracted_fields, created_at, updated_at
		FROM verification_documents
		WHERE verification_id = $1 AND side = $2
	`
	var (
		docID, verID uuid.UUID
		sideStr      string
		rawFields    []byte
		doc          models.Document
	)
	err := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(verificationID), side.String()).Scan(
		&docID, &verID, &sideStr, &doc.StoragePath, &doc.SizeBytes, &doc.MimeType, &rawFields, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find document: %w", err)
	}
	doc.ID = id.DocumentID(docID)
	doc.VerificationID = id.VerificationID(verID)
	doc.Side = id.DocumentSide(sideStr)
	if len(rawFields) > 0 {
		if err := json.Unmarshal(rawFields, &doc.ExtractedFields); err != nil {
			return nil, fmt.Errorf("unmarshal extracted fields: %w", err)
		}
	}
	return &doc, nil
}

func (s *PostgresStore) UpdateExtractedFields(ctx context.Context, verificationID id.VerificationID, side id.DocumentSide, fields map[string]string, now time.Time) error {
	raw, err := marshalFields(fields)
	if err != nil {
		return err
	}
	res, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, `
		UPDATE verification_documents SET extracted_fields = $3, updated_at = $4
		WHERE verification_id = $1 AND side = $2
	`, uuid.UUID(verificationID), side.String(), raw, now)
	if err != nil {
		return fmt.Errorf("update extracted fields: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SaveSelfie(ctx context.Context, selfie *models.Selfie) error {
	query := `
		INSERT INTO verification_selfies (id, verification_id, storage_path, size_bytes, mime_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (verification_id) DO UPDATE SET
			id = EXCLUDED.id,
			storage_path = EXCLUDED.storage_path,
			size_bytes = EXCLUDED.size_bytes,
			mime_type = EXCLUDED.mime_type,
			created_at = EXCLUDED.created_at
	`
	_, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(selfie.ID),
		uuid.UUID(selfie.VerificationID),
		selfie.StoragePath,
		selfie.SizeBytes,
		selfie.MimeType,
		selfie.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save selfie: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindSelfie(ctx context.Context, verificationID id.VerificationID) (*models.Selfie, error) {
	query := `
		SELECT id, verification_id, storage_path, size_bytes, mime_type, created_at
		FROM verification_selfies
		WHERE verification_id = $1
	`
	var (
		selfieID, verID uuid.UUID
		selfie          models.Selfie
	)
	err := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(verificationID)).Scan(
		&selfieID, &verID, &selfie.StoragePath, &selfie.SizeBytes, &selfie.MimeType, &selfie.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find selfie: %w", err)
	}
	selfie.ID = id.SelfieID(selfieID)
	selfie.VerificationID = id.VerificationID(verID)
	return &selfie, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.VerificationRequest, error) {
	var (
		reqID, userID, developerID uuid.UUID
		state                      string
		crossValidation, faceMatch sql.NullFloat64
		liveness                   sql.NullFloat64
		applied                    pq.StringArray
		req                        models.VerificationRequest
	)
	err := row.Scan(
		&reqID, &userID, &developerID, &state, &req.IsSandbox,
		&crossValidation, &faceMatch, &liveness,
		&req.ReviewReason, &applied, &req.Version, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	req.ID = id.VerificationID(reqID)
	req.UserID = id.UserID(userID)
	req.DeveloperID = id.DeveloperID(developerID)
	req.State = models.State(state)
	req.CrossValidationScore = scoreFromNull(crossValidation)
	req.FaceMatchScore = scoreFromNull(faceMatch)
	req.LivenessScore = scoreFromNull(liveness)
	for _, e := range applied {
		req.AppliedEvents = append(req.AppliedEvents, models.Event(e))
	}
	return &req, nil
}

func nullScore(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func scoreFromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return models.Score(v.Float64)
}

func eventStrings(events []models.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = string(e)
	}
	return out
}

// marshalFields returns nil for a missing map so the column stays NULL.
func marshalFields(fields map[string]string) (any, error) {
	if fields == nil {
		return nil, nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal extracted fields: %w", err)
	}
	return string(raw), nil
}
