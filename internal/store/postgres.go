package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/coursekit/content-port/internal/db"
	"github.com/coursekit/content-port/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const pgPostColumns = `id, kind, original_id, slug, title, content, excerpt, status, author_id, thumbnail_id, meta, created_at, updated_at`

// preparedStatements lists queries to prepare on each new connection for
// the hottest store operations during a large batch.
var preparedStatements = map[string]string{
	"find_post_original": `SELECT ` + pgPostColumns + ` FROM posts WHERE kind = $1 AND original_id = $2 LIMIT 1`,
	"find_post_slug":     `SELECT ` + pgPostColumns + ` FROM posts WHERE kind = $1 AND slug = $2 LIMIT 1`,
	"find_term_slug":     `SELECT id, taxonomy, name, slug, parent_id FROM terms WHERE taxonomy = $1 AND parent_id = $2 AND slug = $3 LIMIT 1`,
	"find_term_name":     `SELECT id, taxonomy, name, slug, parent_id FROM terms WHERE taxonomy = $1 AND parent_id = $2 AND name = $3 LIMIT 1`,
	"insert_term":        `INSERT INTO terms (id, taxonomy, name, slug, parent_id) VALUES ($1, $2, $3, $4, $5)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS posts (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	original_id  TEXT NOT NULL DEFAULT '',
	slug         TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL,
	content      TEXT NOT NULL DEFAULT '',
	excerpt      TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'draft',
	author_id    TEXT NOT NULL DEFAULT '',
	thumbnail_id TEXT NOT NULL DEFAULT '',
	meta         JSONB NOT NULL DEFAULT '{}',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS terms (
	id        TEXT PRIMARY KEY,
	taxonomy  TEXT NOT NULL,
	name      TEXT NOT NULL,
	slug      TEXT NOT NULL,
	parent_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS post_terms (
	post_id  TEXT NOT NULL,
	term_id  TEXT NOT NULL,
	taxonomy TEXT NOT NULL,
	PRIMARY KEY (post_id, term_id)
);

CREATE TABLE IF NOT EXISTS attachments (
	id          TEXT PRIMARY KEY,
	filename    TEXT NOT NULL,
	url         TEXT NOT NULL DEFAULT '',
	fingerprint TEXT NOT NULL DEFAULT '',
	mime_type   TEXT NOT NULL DEFAULT '',
	data        BYTEA,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS users (
	id       TEXT PRIMARY KEY,
	login    TEXT NOT NULL UNIQUE,
	email    TEXT NOT NULL DEFAULT '',
	password TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS import_runs (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	created     INTEGER NOT NULL DEFAULT 0,
	updated     INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS import_rows (
	run_id    TEXT NOT NULL REFERENCES import_runs(id),
	row_index INTEGER NOT NULL,
	kind      TEXT NOT NULL,
	post_id   TEXT NOT NULL DEFAULT '',
	errors    JSONB NOT NULL DEFAULT '[]',
	PRIMARY KEY (run_id, row_index)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_posts_kind_original ON posts(kind, original_id) WHERE original_id != '';
CREATE INDEX IF NOT EXISTS idx_posts_kind_slug ON posts(kind, slug);
CREATE INDEX IF NOT EXISTS idx_terms_taxonomy_parent ON terms(taxonomy, parent_id);
CREATE INDEX IF NOT EXISTS idx_attachments_fingerprint ON attachments(fingerprint);
CREATE INDEX IF NOT EXISTS idx_attachments_url ON attachments(url);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) FindPostByOriginalID(ctx context.Context, kind, originalID string) (*model.Post, error) {
	if originalID == "" {
		return nil, nil
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgPostColumns+` FROM posts WHERE kind = $1 AND original_id = $2 LIMIT 1`,
		kind, originalID,
	)
	return scanPostPG(row)
}

func (s *PostgresStore) FindPostBySlug(ctx context.Context, kind, slug string) (*model.Post, error) {
	if slug == "" {
		return nil, nil
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgPostColumns+` FROM posts WHERE kind = $1 AND slug = $2 LIMIT 1`,
		kind, slug,
	)
	return scanPostPG(row)
}

func (s *PostgresStore) CreatePost(ctx context.Context, p *model.Post) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	metaJSON, err := marshalMeta(p.Meta)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal post meta")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO posts (`+pgPostColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.Kind, p.OriginalID, p.Slug, p.Title, p.Content, p.Excerpt, p.Status,
		p.AuthorID, p.ThumbnailID, metaJSON, now, now,
	)
	return eris.Wrap(err, "postgres: insert post")
}

func (s *PostgresStore) UpdatePost(ctx context.Context, p *model.Post) error {
	p.UpdatedAt = time.Now().UTC()

	metaJSON, err := marshalMeta(p.Meta)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal post meta")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE posts SET original_id = $1, slug = $2, title = $3, content = $4, excerpt = $5,
		 status = $6, author_id = $7, meta = $8, updated_at = $9 WHERE id = $10`,
		p.OriginalID, p.Slug, p.Title, p.Content, p.Excerpt,
		p.Status, p.AuthorID, metaJSON, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update post %s", p.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("post not found: %s", p.ID)
	}
	return nil
}

func (s *PostgresStore) ListPostsByKind(ctx context.Context, kind string) ([]model.Post, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgPostColumns+` FROM posts WHERE kind = $1 ORDER BY created_at, id`,
		kind,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list posts")
	}
	defer rows.Close()

	var posts []model.Post
	for rows.Next() {
		p, err := scanPostPG(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *p)
	}
	return posts, eris.Wrap(rows.Err(), "postgres: list posts iterate")
}

func (s *PostgresStore) FindTerm(ctx context.Context, q TermQuery) (*model.Term, error) {
	var row pgx.Row
	switch {
	case q.Slug != "":
		row = s.pool.QueryRow(ctx,
			`SELECT id, taxonomy, name, slug, parent_id FROM terms WHERE taxonomy = $1 AND parent_id = $2 AND slug = $3 LIMIT 1`,
			q.Taxonomy, q.ParentID, q.Slug,
		)
	case q.Name != "":
		row = s.pool.QueryRow(ctx,
			`SELECT id, taxonomy, name, slug, parent_id FROM terms WHERE taxonomy = $1 AND parent_id = $2 AND name = $3 LIMIT 1`,
			q.Taxonomy, q.ParentID, q.Name,
		)
	default:
		return nil, eris.New("postgres: term query needs a slug or a name")
	}

	var t model.Term
	err := row.Scan(&t.ID, &t.Taxonomy, &t.Name, &t.Slug, &t.ParentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find term")
	}
	return &t, nil
}

func (s *PostgresStore) CreateTerm(ctx context.Context, t *model.Term) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO terms (id, taxonomy, name, slug, parent_id) VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.Taxonomy, t.Name, t.Slug, t.ParentID,
	)
	return eris.Wrap(err, "postgres: insert term")
}

func (s *PostgresStore) SetPostTerms(ctx context.Context, postID, taxonomy string, termIDs []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin set post terms")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`DELETE FROM post_terms WHERE post_id = $1 AND taxonomy = $2`, postID, taxonomy,
	); err != nil {
		return eris.Wrap(err, "postgres: clear post terms")
	}
	for _, termID := range termIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO post_terms (post_id, term_id, taxonomy) VALUES ($1, $2, $3)`,
			postID, termID, taxonomy,
		); err != nil {
			return eris.Wrap(err, "postgres: insert post term")
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit set post terms")
}

func (s *PostgresStore) FindAttachmentByFilename(ctx context.Context, filename string) (*model.Attachment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, filename, url, fingerprint, mime_type, created_at FROM attachments
		 WHERE filename = $1 OR filename LIKE '%/' || $1 LIMIT 1`,
		filename,
	)
	return scanAttachmentPG(row)
}

func (s *PostgresStore) FindAttachmentByURL(ctx context.Context, url string) (*model.Attachment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, filename, url, fingerprint, mime_type, created_at FROM attachments WHERE url = $1 LIMIT 1`,
		url,
	)
	return scanAttachmentPG(row)
}

func (s *PostgresStore) FindAttachmentByFingerprint(ctx context.Context, fingerprint string) (*model.Attachment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, filename, url, fingerprint, mime_type, created_at FROM attachments WHERE fingerprint = $1 LIMIT 1`,
		fingerprint,
	)
	return scanAttachmentPG(row)
}

func (s *PostgresStore) CreateAttachment(ctx context.Context, a *model.Attachment) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO attachments (id, filename, url, fingerprint, mime_type, data, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.Filename, a.URL, a.Fingerprint, a.MimeType, a.Data, a.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert attachment")
}

func (s *PostgresStore) SetPostThumbnail(ctx context.Context, postID, attachmentID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE posts SET thumbnail_id = $1, updated_at = $2 WHERE id = $3`,
		attachmentID, time.Now().UTC(), postID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set thumbnail for post %s", postID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("post not found: %s", postID)
	}
	return nil
}

func (s *PostgresStore) FindUserByLogin(ctx context.Context, login string) (*model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, login, email FROM users WHERE login = $1 LIMIT 1`, login,
	).Scan(&u.ID, &u.Login, &u.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find user")
	}
	return &u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User, password string) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, login, email, password) VALUES ($1, $2, $3, $4)`,
		u.ID, u.Login, u.Email, password,
	)
	return eris.Wrap(err, "postgres: insert user")
}

func (s *PostgresStore) CreateImportRun(ctx context.Context, source string) (*model.ImportRun, error) {
	run := &model.ImportRun{
		ID:        uuid.New().String(),
		Source:    source,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO import_runs (id, source, status, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, run.Source, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert import run")
	}
	return run, nil
}

// AddRowResults bulk-inserts row outcomes with COPY; a batch can easily run
// to tens of thousands of rows.
func (s *PostgresStore) AddRowResults(ctx context.Context, runID string, results []model.RowResult) error {
	rows := make([][]any, 0, len(results))
	for _, r := range results {
		errorsJSON, err := json.Marshal(r.Errors)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal row errors")
		}
		rows = append(rows, []any{runID, r.Index, r.Kind, r.PostID, string(errorsJSON)})
	}

	_, err := db.CopyFrom(ctx, s.pool, "import_rows",
		[]string{"run_id", "row_index", "kind", "post_id", "errors"}, rows)
	return err
}

func (s *PostgresStore) CompleteImportRun(ctx context.Context, runID string, created, updated, failed int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE import_runs SET status = $1, created = $2, updated = $3, failed = $4, finished_at = $5 WHERE id = $6`,
		string(model.RunStatusComplete), created, updated, failed, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete import run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("import run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetImportRun(ctx context.Context, runID string) (*model.ImportRun, []model.RowResult, error) {
	var run model.ImportRun
	var finished *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT id, source, status, created, updated, failed, started_at, finished_at FROM import_runs WHERE id = $1`,
		runID,
	).Scan(&run.ID, &run.Source, &run.Status, &run.Created, &run.Updated, &run.Failed, &run.StartedAt, &finished)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, eris.Errorf("import run not found: %s", runID)
	}
	if err != nil {
		return nil, nil, eris.Wrap(err, "postgres: get import run")
	}
	run.FinishedAt = finished

	rows, err := s.pool.Query(ctx,
		`SELECT row_index, kind, post_id, errors FROM import_rows WHERE run_id = $1 ORDER BY row_index`,
		runID,
	)
	if err != nil {
		return nil, nil, eris.Wrap(err, "postgres: get import rows")
	}
	defer rows.Close()

	var results []model.RowResult
	for rows.Next() {
		var r model.RowResult
		var errorsJSON []byte
		if err := rows.Scan(&r.Index, &r.Kind, &r.PostID, &errorsJSON); err != nil {
			return nil, nil, eris.Wrap(err, "postgres: scan import row")
		}
		if err := json.Unmarshal(errorsJSON, &r.Errors); err != nil {
			return nil, nil, eris.Wrap(err, "postgres: unmarshal row errors")
		}
		results = append(results, r)
	}
	return &run, results, eris.Wrap(rows.Err(), "postgres: get import rows iterate")
}

func (s *PostgresStore) ListImportRuns(ctx context.Context, filter RunFilter) ([]model.ImportRun, error) {
	query := `SELECT id, source, status, created, updated, failed, started_at, finished_at FROM import_runs WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)

	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list import runs")
	}
	defer rows.Close()

	var runs []model.ImportRun
	for rows.Next() {
		var run model.ImportRun
		var finished *time.Time
		if err := rows.Scan(&run.ID, &run.Source, &run.Status, &run.Created, &run.Updated, &run.Failed, &run.StartedAt, &finished); err != nil {
			return nil, eris.Wrap(err, "postgres: scan import run")
		}
		run.FinishedAt = finished
		runs = append(runs, run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list import runs iterate")
}

func scanPostPG(row scannable) (*model.Post, error) {
	var p model.Post
	var metaJSON []byte

	err := row.Scan(&p.ID, &p.Kind, &p.OriginalID, &p.Slug, &p.Title, &p.Content, &p.Excerpt,
		&p.Status, &p.AuthorID, &p.ThumbnailID, &metaJSON, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan post")
	}
	if err := json.Unmarshal(metaJSON, &p.Meta); err != nil {
		return nil, eris.Wrap(err, "unmarshal post meta")
	}
	return &p, nil
}

func scanAttachmentPG(row scannable) (*model.Attachment, error) {
	var a model.Attachment
	err := row.Scan(&a.ID, &a.Filename, &a.URL, &a.Fingerprint, &a.MimeType, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan attachment")
	}
	return &a, nil
}
