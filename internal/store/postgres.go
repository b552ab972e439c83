package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/Lllllllleong/docreconstruct/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

var (
	postgresConnectRetries = 10
	postgresRetryDelay     = 2 * time.Second
	postgresPingTimeout    = 2 * time.Second
)

// NewPostgresPool connects to dsn, retrying until the database answers a ping.
func NewPostgresPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set for the postgres backend")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 5 * time.Minute

	var lastErr error
	for i := 0; i < postgresConnectRetries; i++ {
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			lastErr = err
		} else {
			pingCtx, cancel := context.WithTimeout(ctx, postgresPingTimeout)
			err = pool.Ping(pingCtx)
			cancel()
			if err == nil {
				return pool, nil
			}
			lastErr = err
			pool.Close()
		}
		select {
		case <-time.After(postgresRetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("db ping retries exhausted: %w", lastErr)
}

// PostgresStore keeps identities and documents in Postgres. Creations lock the
// owner's identity row before counting, so concurrent creations for one owner
// run one after another.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const identityColumns = `id, subject_id, email, display_name, avatar_url, role, quota_override, created_at, updated_at, last_document_at`

const documentColumns = `id, owner_id, original_filename, status, source_location, result_location, page_count, problem_count, error_details, created_at, updated_at`

func (s *PostgresStore) UpsertIdentity(ctx context.Context, in IdentityUpsert) (*models.Identity, error) {
	ident := newIdentity(in)
	row := s.pool.QueryRow(ctx, `
		INSERT INTO identities (id, subject_id, email, display_name, avatar_url, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (id) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    avatar_url = EXCLUDED.avatar_url,
		    updated_at = EXCLUDED.updated_at
		RETURNING `+identityColumns,
		ident.ID, ident.SubjectID, ident.Email, ident.DisplayName, ident.AvatarURL, string(ident.Role), in.Now)
	out, err := scanIdentity(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to upsert identity: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetIdentity(ctx context.Context, id string) (*models.Identity, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
	ident, err := scanIdentity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read identity %s: %w", id, err)
	}
	return ident, nil
}

func (s *PostgresStore) ListIdentities(ctx context.Context) ([]models.Identity, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+identityColumns+` FROM identities ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	defer rows.Close()

	var out []models.Identity
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		out = append(out, *ident)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetQuotaOverride(ctx context.Context, id string, override *int) (*models.Identity, error) {
	row := s.pool.QueryRow(ctx, `UPDATE identities SET quota_override = $2 WHERE id = $1 RETURNING `+identityColumns, id, override)
	ident, err := scanIdentity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update quota override for %s: %w", id, err)
	}
	return ident, nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, p CreateDocumentParams) (*models.Document, error) {
	doc := newDocument(p)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var ownerID string
		err := tx.QueryRow(ctx, `SELECT id FROM identities WHERE id = $1 FOR UPDATE`, p.OwnerID).Scan(&ownerID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrIdentityNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock owner identity: %w", err)
		}
		if !p.Quota.Unlimited {
			var used int
			err := tx.QueryRow(ctx, `SELECT count(*) FROM documents WHERE owner_id = $1 AND created_at >= $2`, p.OwnerID, p.WindowStart).Scan(&used)
			if err != nil {
				return fmt.Errorf("failed to count documents in quota window: %w", err)
			}
			if !p.Quota.Allows(used) {
				return &models.QuotaExceededError{Used: used, Limit: p.Quota.Limit}
			}
		}
		if _, err := tx.Exec(ctx, `UPDATE identities SET last_document_at = $2 WHERE id = $1`, p.OwnerID, p.Now); err != nil {
			return fmt.Errorf("failed to touch owner identity: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO documents (id, owner_id, original_filename, status, source_location, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)`,
			doc.ID, doc.OwnerID, doc.OriginalFilename, string(doc.Status), doc.SourceLocation, doc.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert document: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *PostgresStore) TransitionDocument(ctx context.Context, t models.Transition) (*models.Document, error) {
	var result *models.Document
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1 FOR UPDATE`, t.DocumentID)
		doc, err := scanDocument(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock document: %w", err)
		}
		if err := models.ValidateTransition(doc.Status, t); err != nil {
			return err
		}
		previous := doc.Status
		t.Apply(doc)

		var resultLocation *string
		if doc.ResultLocation != "" {
			resultLocation = &doc.ResultLocation
		}
		tag, err := tx.Exec(ctx, `
			UPDATE documents
			SET status = $3, result_location = $4, page_count = $5, problem_count = $6, error_details = $7, updated_at = $8
			WHERE id = $1 AND status = $2`,
			doc.ID, string(previous), string(doc.Status), resultLocation, doc.PageCount, doc.ProblemCount, doc.ErrorDetails, doc.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to update document status: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("%w: status of %s changed concurrently", models.ErrInvalidTransition, doc.ID)
		}
		result = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", id, err)
	}
	return doc, nil
}

func (s *PostgresStore) ListDocumentsByOwner(ctx context.Context, ownerID string) ([]models.Document, error) {
	return s.queryDocuments(ctx, `SELECT `+documentColumns+` FROM documents WHERE owner_id = $1 ORDER BY created_at DESC, id DESC`, ownerID)
}

func (s *PostgresStore) ListDocuments(ctx context.Context, limit int) ([]models.Document, error) {
	if limit <= 0 {
		return s.queryDocuments(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY created_at DESC, id DESC`)
	}
	return s.queryDocuments(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
}

func (s *PostgresStore) CountDocumentsSince(ctx context.Context, ownerID string, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM documents WHERE owner_id = $1 AND created_at >= $2`, ownerID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) queryDocuments(ctx context.Context, sql string, args ...any) ([]models.Document, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}

func scanIdentity(row pgx.Row) (*models.Identity, error) {
	var (
		ident          models.Identity
		role           string
		lastDocumentAt *time.Time
	)
	err := row.Scan(&ident.ID, &ident.SubjectID, &ident.Email, &ident.DisplayName, &ident.AvatarURL,
		&role, &ident.QuotaOverride, &ident.CreatedAt, &ident.UpdatedAt, &lastDocumentAt)
	if err != nil {
		return nil, err
	}
	ident.Role = models.Role(role)
	if lastDocumentAt != nil {
		ident.LastDocumentAt = *lastDocumentAt
	}
	return &ident, nil
}

func scanDocument(row pgx.Row) (*models.Document, error) {
	var (
		doc            models.Document
		status         string
		resultLocation *string
	)
	err := row.Scan(&doc.ID, &doc.OwnerID, &doc.OriginalFilename, &status, &doc.SourceLocation, &resultLocation,
		&doc.PageCount, &doc.ProblemCount, &doc.ErrorDetails, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.Status = models.DocumentStatus(status)
	if resultLocation != nil {
		doc.ResultLocation = *resultLocation
	}
	return &doc, nil
}
