package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/coursekit/content-port/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given DSN and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
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
	meta         TEXT NOT NULL DEFAULT '{}',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
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
	data        BLOB,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
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
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS import_rows (
	run_id    TEXT NOT NULL REFERENCES import_runs(id),
	row_index INTEGER NOT NULL,
	kind      TEXT NOT NULL,
	post_id   TEXT NOT NULL DEFAULT '',
	errors    TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (run_id, row_index)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_posts_kind_original ON posts(kind, original_id) WHERE original_id != '';
CREATE INDEX IF NOT EXISTS idx_posts_kind_slug ON posts(kind, slug);
CREATE INDEX IF NOT EXISTS idx_terms_taxonomy_parent ON terms(taxonomy, parent_id);
CREATE INDEX IF NOT EXISTS idx_attachments_fingerprint ON attachments(fingerprint);
CREATE INDEX IF NOT EXISTS idx_attachments_url ON attachments(url);
CREATE INDEX IF NOT EXISTS idx_import_rows_run ON import_rows(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqlitePostColumns = `id, kind, original_id, slug, title, content, excerpt, status, author_id, thumbnail_id, meta, created_at, updated_at`

func (s *SQLiteStore) FindPostByOriginalID(ctx context.Context, kind, originalID string) (*model.Post, error) {
	if originalID == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqlitePostColumns+` FROM posts WHERE kind = ? AND original_id = ? LIMIT 1`,
		kind, originalID,
	)
	return scanPost(row)
}

func (s *SQLiteStore) FindPostBySlug(ctx context.Context, kind, slug string) (*model.Post, error) {
	if slug == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqlitePostColumns+` FROM posts WHERE kind = ? AND slug = ? LIMIT 1`,
		kind, slug,
	)
	return scanPost(row)
}

func (s *SQLiteStore) CreatePost(ctx context.Context, p *model.Post) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	metaJSON, err := marshalMeta(p.Meta)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal post meta")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO posts (`+sqlitePostColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Kind, p.OriginalID, p.Slug, p.Title, p.Content, p.Excerpt, p.Status,
		p.AuthorID, p.ThumbnailID, metaJSON, now, now,
	)
	return eris.Wrap(err, "sqlite: insert post")
}

func (s *SQLiteStore) UpdatePost(ctx context.Context, p *model.Post) error {
	p.UpdatedAt = time.Now().UTC()

	metaJSON, err := marshalMeta(p.Meta)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal post meta")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE posts SET original_id = ?, slug = ?, title = ?, content = ?, excerpt = ?,
		 status = ?, author_id = ?, meta = ?, updated_at = ? WHERE id = ?`,
		p.OriginalID, p.Slug, p.Title, p.Content, p.Excerpt,
		p.Status, p.AuthorID, metaJSON, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update post %s", p.ID)
	}
	return checkRowsAffected(res, "post", p.ID)
}

func (s *SQLiteStore) ListPostsByKind(ctx context.Context, kind string) ([]model.Post, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqlitePostColumns+` FROM posts WHERE kind = ? ORDER BY created_at, id`,
		kind,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list posts")
	}
	defer rows.Close()

	var posts []model.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *p)
	}
	return posts, eris.Wrap(rows.Err(), "sqlite: list posts iterate")
}

func (s *SQLiteStore) FindTerm(ctx context.Context, q TermQuery) (*model.Term, error) {
	query := `SELECT id, taxonomy, name, slug, parent_id FROM terms WHERE taxonomy = ? AND parent_id = ?`
	args := []any{q.Taxonomy, q.ParentID}

	switch {
	case q.Slug != "":
		query += ` AND slug = ?`
		args = append(args, q.Slug)
	case q.Name != "":
		query += ` AND name = ?`
		args = append(args, q.Name)
	default:
		return nil, eris.New("sqlite: term query needs a slug or a name")
	}
	query += ` LIMIT 1`

	var t model.Term
	err := s.db.QueryRowContext(ctx, query, args...).
		Scan(&t.ID, &t.Taxonomy, &t.Name, &t.Slug, &t.ParentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find term")
	}
	return &t, nil
}

func (s *SQLiteStore) CreateTerm(ctx context.Context, t *model.Term) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO terms (id, taxonomy, name, slug, parent_id) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Taxonomy, t.Name, t.Slug, t.ParentID,
	)
	return eris.Wrap(err, "sqlite: insert term")
}

func (s *SQLiteStore) SetPostTerms(ctx context.Context, postID, taxonomy string, termIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin set post terms")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM post_terms WHERE post_id = ? AND taxonomy = ?`, postID, taxonomy,
	); err != nil {
		return eris.Wrap(err, "sqlite: clear post terms")
	}
	for _, termID := range termIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO post_terms (post_id, term_id, taxonomy) VALUES (?, ?, ?)`,
			postID, termID, taxonomy,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert post term")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit set post terms")
}

func (s *SQLiteStore) FindAttachmentByFilename(ctx context.Context, filename string) (*model.Attachment, error) {
	// Match the stored filename by its last path segment.
	row := s.db.QueryRowContext(ctx,
		`SELECT id, filename, url, fingerprint, mime_type, created_at FROM attachments
		 WHERE filename = ? OR filename LIKE '%/' || ? LIMIT 1`,
		filename, filename,
	)
	return scanAttachment(row)
}

func (s *SQLiteStore) FindAttachmentByURL(ctx context.Context, url string) (*model.Attachment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, filename, url, fingerprint, mime_type, created_at FROM attachments WHERE url = ? LIMIT 1`,
		url,
	)
	return scanAttachment(row)
}

func (s *SQLiteStore) FindAttachmentByFingerprint(ctx context.Context, fingerprint string) (*model.Attachment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, filename, url, fingerprint, mime_type, created_at FROM attachments WHERE fingerprint = ? LIMIT 1`,
		fingerprint,
	)
	return scanAttachment(row)
}

func (s *SQLiteStore) CreateAttachment(ctx context.Context, a *model.Attachment) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attachments (id, filename, url, fingerprint, mime_type, data, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Filename, a.URL, a.Fingerprint, a.MimeType, a.Data, a.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert attachment")
}

func (s *SQLiteStore) SetPostThumbnail(ctx context.Context, postID, attachmentID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE posts SET thumbnail_id = ?, updated_at = ? WHERE id = ?`,
		attachmentID, time.Now().UTC(), postID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set thumbnail for post %s", postID)
	}
	return checkRowsAffected(res, "post", postID)
}

func (s *SQLiteStore) FindUserByLogin(ctx context.Context, login string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, login, email FROM users WHERE login = ? LIMIT 1`, login,
	).Scan(&u.ID, &u.Login, &u.Email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find user")
	}
	return &u, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u *model.User, password string) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, login, email, password) VALUES (?, ?, ?, ?)`,
		u.ID, u.Login, u.Email, password,
	)
	return eris.Wrap(err, "sqlite: insert user")
}

func (s *SQLiteStore) CreateImportRun(ctx context.Context, source string) (*model.ImportRun, error) {
	run := &model.ImportRun{
		ID:        uuid.New().String(),
		Source:    source,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO import_runs (id, source, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Source, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert import run")
	}
	return run, nil
}

func (s *SQLiteStore) AddRowResults(ctx context.Context, runID string, rows []model.RowResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin add row results")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, r := range rows {
		errorsJSON, err := json.Marshal(r.Errors)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal row errors")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO import_rows (run_id, row_index, kind, post_id, errors) VALUES (?, ?, ?, ?, ?)`,
			runID, r.Index, r.Kind, r.PostID, string(errorsJSON),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert row result %d", r.Index)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit row results")
}

func (s *SQLiteStore) CompleteImportRun(ctx context.Context, runID string, created, updated, failed int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE import_runs SET status = ?, created = ?, updated = ?, failed = ?, finished_at = ? WHERE id = ?`,
		string(model.RunStatusComplete), created, updated, failed, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete import run %s", runID)
	}
	return checkRowsAffected(res, "import run", runID)
}

func (s *SQLiteStore) GetImportRun(ctx context.Context, runID string) (*model.ImportRun, []model.RowResult, error) {
	var run model.ImportRun
	var finished sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, source, status, created, updated, failed, started_at, finished_at FROM import_runs WHERE id = ?`,
		runID,
	).Scan(&run.ID, &run.Source, &run.Status, &run.Created, &run.Updated, &run.Failed, &run.StartedAt, &finished)
	if err == sql.ErrNoRows {
		return nil, nil, eris.Errorf("import run not found: %s", runID)
	}
	if err != nil {
		return nil, nil, eris.Wrap(err, "sqlite: get import run")
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT row_index, kind, post_id, errors FROM import_rows WHERE run_id = ? ORDER BY row_index`,
		runID,
	)
	if err != nil {
		return nil, nil, eris.Wrap(err, "sqlite: get import rows")
	}
	defer rows.Close()

	var results []model.RowResult
	for rows.Next() {
		var r model.RowResult
		var errorsJSON string
		if err := rows.Scan(&r.Index, &r.Kind, &r.PostID, &errorsJSON); err != nil {
			return nil, nil, eris.Wrap(err, "sqlite: scan import row")
		}
		if err := json.Unmarshal([]byte(errorsJSON), &r.Errors); err != nil {
			return nil, nil, eris.Wrap(err, "sqlite: unmarshal row errors")
		}
		results = append(results, r)
	}
	return &run, results, eris.Wrap(rows.Err(), "sqlite: get import rows iterate")
}

func (s *SQLiteStore) ListImportRuns(ctx context.Context, filter RunFilter) ([]model.ImportRun, error) {
	query := `SELECT id, source, status, created, updated, failed, started_at, finished_at FROM import_runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list import runs")
	}
	defer rows.Close()

	var runs []model.ImportRun
	for rows.Next() {
		var run model.ImportRun
		var finished sql.NullTime
		if err := rows.Scan(&run.ID, &run.Source, &run.Status, &run.Created, &run.Updated, &run.Failed, &run.StartedAt, &finished); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan import run")
		}
		if finished.Valid {
			run.FinishedAt = &finished.Time
		}
		runs = append(runs, run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list import runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func marshalMeta(meta map[string]any) (string, error) {
	if meta == nil {
		return "{}", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanPost(row scannable) (*model.Post, error) {
	var p model.Post
	var metaJSON string

	err := row.Scan(&p.ID, &p.Kind, &p.OriginalID, &p.Slug, &p.Title, &p.Content, &p.Excerpt,
		&p.Status, &p.AuthorID, &p.ThumbnailID, &metaJSON, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan post")
	}
	if err := json.Unmarshal([]byte(metaJSON), &p.Meta); err != nil {
		return nil, eris.Wrap(err, "unmarshal post meta")
	}
	return &p, nil
}

func scanAttachment(row scannable) (*model.Attachment, error) {
	var a model.Attachment
	err := row.Scan(&a.ID, &a.Filename, &a.URL, &a.Fingerprint, &a.MimeType, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan attachment")
	}
	return &a, nil
}
