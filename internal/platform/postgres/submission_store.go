package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/bookpush/internal/domain"
	"github.com/phrazzld/bookpush/internal/platform/logger"
	"github.com/phrazzld/bookpush/internal/store"
)

// SubmissionStore implements store.SubmissionStore on PostgreSQL.
type SubmissionStore struct {
	db     store.DBTX
	logger *slog.Logger
}

var _ store.SubmissionStore = (*SubmissionStore)(nil)

// NewSubmissionStore creates a SubmissionStore using db, which the caller owns.
// If l is nil, slog.Default() is used.
func NewSubmissionStore(db store.DBTX, l *slog.Logger) *SubmissionStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if l == nil {
		l = slog.Default()
	}
	return &SubmissionStore{
		db:     db,
		logger: l.With(slog.String("component", "submission_store")),
	}
}

const submissionColumns = `id, external_id, content_size, recipient, title, author,
	send_type, client_version, status, attachment_ref, created_at, updated_at`

// Create implements store.SubmissionStore.
func (s *SubmissionStore) Create(ctx context.Context, sub *domain.Submission) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := sub.Validate(); err != nil {
		log.Warn("invalid submission", "error", err)
		return store.NewStoreError("submission", "create", "validation failed",
			errors.Join(store.ErrInvalidEntity, err))
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions (`+submissionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		sub.ID, sub.ExternalID, sub.ContentSize, sub.Recipient, sub.Title, sub.Author,
		sub.SendType, sub.ClientVersion, sub.Status, sub.AttachmentRef, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create submission", "submission_id", sub.ID, "error", err)
		return store.NewStoreError("submission", "create", "insert failed", MapError(err))
	}

	log.Debug("submission created", "submission_id", sub.ID)
	return nil
}

// GetByID implements store.SubmissionStore.
func (s *SubmissionStore) GetByID(ctx context.Context, id string) (*domain.Submission, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id)

	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrSubmissionNotFound
	}
	if err != nil {
		return nil, store.NewStoreError("submission", "get", "query failed", MapError(err))
	}
	return sub, nil
}

// UpdateStatus implements store.SubmissionStore. The row is only touched while
// it is not yet terminal, so concurrent writers cannot move it backwards out
// of complete or error.
func (s *SubmissionStore) UpdateStatus(ctx context.Context, id string, status domain.SubmissionStatus) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	current, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := domain.CanTransition(current.Status, status); err != nil {
		log.Warn("rejected submission status change",
			"submission_id", id,
			"from", current.Status,
			"to", status)
		return store.NewStoreError("submission", "update_status", "transition not allowed",
			errors.Join(store.ErrUpdateFailed, err))
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE submissions
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status NOT IN ('complete', 'error')`,
		status, time.Now().UTC(), id,
	)
	if err != nil {
		log.Error("failed to update submission status", "submission_id", id, "error", err)
		return store.NewStoreError("submission", "update_status", "update failed", MapError(err))
	}
	if err := rowsAffected(result, domain.ErrInvalidTransition); err != nil {
		log.Warn("submission reached a terminal status concurrently",
			"submission_id", id,
			"to", status)
		return store.NewStoreError("submission", "update_status", "transition not allowed",
			errors.Join(store.ErrUpdateFailed, err))
	}
	return nil
}

// UpdateAttachment implements store.SubmissionStore.
func (s *SubmissionStore) UpdateAttachment(ctx context.Context, id string, path string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET attachment_ref = $1, updated_at = $2 WHERE id = $3`,
		path, time.Now().UTC(), id,
	)
	if err != nil {
		return store.NewStoreError("submission", "update_attachment", "update failed", MapError(err))
	}
	return rowsAffected(result, store.ErrSubmissionNotFound)
}

// FindAttachmentByKey implements store.SubmissionStore.
func (s *SubmissionStore) FindAttachmentByKey(ctx context.Context, key domain.ContentKey) (string, error) {
	var ref string
	err := s.db.QueryRowContext(ctx, `
		SELECT attachment_ref FROM submissions
		WHERE external_id = $1 AND content_size = $2
		  AND attachment_ref IS NOT NULL AND attachment_ref <> ''
		ORDER BY created_at DESC
		LIMIT 1`,
		key.ExternalID, key.Size,
	).Scan(&ref)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrSubmissionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to find attachment for %s: %w", key, MapError(err))
	}
	return ref, nil
}

// ListUnfinished implements store.SubmissionStore.
func (s *SubmissionStore) ListUnfinished(ctx context.Context) ([]*domain.Submission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+submissionColumns+` FROM submissions
		WHERE status IN ('pending', 'processing')
		ORDER BY created_at`)
	if err != nil {
		return nil, store.NewStoreError("submission", "list_unfinished", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var subs []*domain.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, store.NewStoreError("submission", "list_unfinished", "scan failed", MapError(err))
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("submission", "list_unfinished", "iteration failed", MapError(err))
	}
	return subs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*domain.Submission, error) {
	var sub domain.Submission
	var ref sql.NullString
	if err := row.Scan(
		&sub.ID, &sub.ExternalID, &sub.ContentSize, &sub.Recipient, &sub.Title, &sub.Author,
		&sub.SendType, &sub.ClientVersion, &sub.Status, &ref, &sub.CreatedAt, &sub.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if ref.Valid {
		sub.AttachmentRef = &ref.String
	}
	return &sub, nil
}
