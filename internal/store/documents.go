package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/transcribee/coordinator/internal/model"
)

// CreateDocument inserts a new document row.
func (s *Store) CreateDocument(ctx context.Context, d *model.Document) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO documents (id, user_id, name, duration, created_at, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.UserID, d.Name, d.Duration, d.CreatedAt, d.ChangedAt)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// CreateDocumentTx inserts a new document row inside tx, used alongside
// AddMediaFileTx and tasks.CreateDefaultTaskGraph so a document is never
// observable without its initial media file and task graph.
func CreateDocumentTx(ctx context.Context, tx *sqlx.Tx, d *model.Document) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id, user_id, name, duration, created_at, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.UserID, d.Name, d.Duration, d.CreatedAt, d.ChangedAt)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// AddMediaFileTx records a media file attached to a document inside tx.
func AddMediaFileTx(ctx context.Context, tx *sqlx.Tx, m *model.DocumentMediaFile) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO document_media_files (id, document_id, blob_id, content_type, tags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.DocumentID, m.BlobID, m.ContentType, m.Tags, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("add media file: %w", err)
	}
	return nil
}

// GetDocument looks up a document by id.
func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	var d model.Document
	err := s.DB.GetContext(ctx, &d, `SELECT * FROM documents WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &d, nil
}

// ListDocumentsForUser lists every document a user owns, most recently
// changed first.
func (s *Store) ListDocumentsForUser(ctx context.Context, userID uuid.UUID) ([]model.Document, error) {
	var docs []model.Document
	err := s.DB.SelectContext(ctx, &docs,
		`SELECT * FROM documents WHERE user_id = $1 ORDER BY changed_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// UpdateDocumentName renames a document and bumps changed_at.
func (s *Store) UpdateDocumentName(ctx context.Context, id uuid.UUID, name string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE documents SET name = $1, changed_at = now() WHERE id = $2`, name, id)
	if err != nil {
		return fmt.Errorf("rename document: %w", err)
	}
	return nil
}

// SetDocumentDuration records a document's media duration.
func (s *Store) SetDocumentDuration(ctx context.Context, id uuid.UUID, duration float64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE documents SET duration = $1, changed_at = now() WHERE id = $2`, duration, id)
	if err != nil {
		return fmt.Errorf("set document duration: %w", err)
	}
	return nil
}

// TouchDocument bumps changed_at, called whenever a sync change is applied.
func (s *Store) TouchDocument(ctx context.Context, id uuid.UUID) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE documents SET changed_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch document: %w", err)
	}
	return nil
}

// DeleteDocument removes a document; ON DELETE CASCADE takes its tasks,
// media files, updates and share tokens with it.
func (s *Store) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// AddMediaFile records a media file attached to a document.
func (s *Store) AddMediaFile(ctx context.Context, m *model.DocumentMediaFile) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO document_media_files (id, document_id, blob_id, content_type, tags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.DocumentID, m.BlobID, m.ContentType, m.Tags, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("add media file: %w", err)
	}
	return nil
}

// ListMediaFiles lists every media file attached to a document.
func (s *Store) ListMediaFiles(ctx context.Context, documentID uuid.UUID) ([]model.DocumentMediaFile, error) {
	var files []model.DocumentMediaFile
	err := s.DB.SelectContext(ctx, &files,
		`SELECT * FROM document_media_files WHERE document_id = $1 ORDER BY created_at`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list media files: %w", err)
	}
	return files, nil
}

// AppendDocumentUpdate stores one opaque change record.
func (s *Store) AppendDocumentUpdate(ctx context.Context, documentID uuid.UUID, changeBytes []byte) (int64, error) {
	var id int64
	err := s.DB.GetContext(ctx, &id, `
		INSERT INTO document_updates (document_id, change_bytes) VALUES ($1, $2) RETURNING id`,
		documentID, changeBytes)
	if err != nil {
		return 0, fmt.Errorf("append document update: %w", err)
	}
	return id, nil
}

// ListDocumentUpdatesSince returns every change recorded after afterID, in
// order, for the sync hub's backlog replay.
func (s *Store) ListDocumentUpdatesSince(ctx context.Context, documentID uuid.UUID, afterID int64) ([]model.DocumentUpdate, error) {
	var updates []model.DocumentUpdate
	err := s.DB.SelectContext(ctx, &updates,
		`SELECT * FROM document_updates WHERE document_id = $1 AND id > $2 ORDER BY id`,
		documentID, afterID)
	if err != nil {
		return nil, fmt.Errorf("list document updates: %w", err)
	}
	return updates, nil
}

// CreateShareToken inserts a new share token for a document.
func (s *Store) CreateShareToken(ctx context.Context, t *model.DocumentShareToken) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO document_share_tokens (id, document_id, token, name, valid_until, can_write, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.DocumentID, t.Token, t.Name, t.ValidUntil, t.CanWrite, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create share token: %w", err)
	}
	return nil
}

// GetShareTokenByToken looks up a share token by its wire value.
func (s *Store) GetShareTokenByToken(ctx context.Context, token string) (*model.DocumentShareToken, error) {
	var t model.DocumentShareToken
	err := s.DB.GetContext(ctx, &t, `SELECT * FROM document_share_tokens WHERE token = $1`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get share token: %w", err)
	}
	return &t, nil
}

// ListShareTokens lists every share token issued for a document.
func (s *Store) ListShareTokens(ctx context.Context, documentID uuid.UUID) ([]model.DocumentShareToken, error) {
	var tokens []model.DocumentShareToken
	err := s.DB.SelectContext(ctx, &tokens,
		`SELECT * FROM document_share_tokens WHERE document_id = $1 ORDER BY created_at`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list share tokens: %w", err)
	}
	return tokens, nil
}

// DeleteShareToken removes one share token scoped to a document.
func (s *Store) DeleteShareToken(ctx context.Context, documentID, tokenID uuid.UUID) error {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM document_share_tokens WHERE id = $1 AND document_id = $2`, tokenID, documentID)
	if err != nil {
		return fmt.Errorf("delete share token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete share token: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
