package database

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/hashwanthgogineni/gamora-ai/modules/common/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresGateway - pgx 기반 Gateway (Supabase 없이 직접 Postgres 사용)
type PostgresGateway struct {
	pool  *pgxpool.Pool
	clock clock
}

// NewPostgresGateway - 풀 생성 + ping
func NewPostgresGateway(ctx context.Context, dsn string) (*PostgresGateway, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(cctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}

	pctx, pcancel := context.WithTimeout(ctx, 2*time.Second)
	defer pcancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	logrus.Info("✅ Postgres connected")
	return &PostgresGateway{pool: pool}, nil
}

// Migrate - schema.sql 적용 (idempotent)
func (g *PostgresGateway) Migrate(ctx context.Context) error {
	if _, err := g.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close - 풀 종료
func (g *PostgresGateway) Close() {
	g.pool.Close()
}

const projectColumns = `id::text, user_id, prompt, title, description, genre, dimension, status,
	ai_content, error, created_at, updated_at, completed_at`

func scanProject(row pgx.Row) (*model.Project, error) {
	var (
		p       model.Project
		content []byte
	)
	err := row.Scan(&p.ID, &p.UserID, &p.Prompt, &p.Title, &p.Description, &p.Genre, &p.Dimension,
		&p.Status, &content, &p.Error, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt)
	if err != nil {
		return nil, err
	}
	if len(content) > 0 {
		p.AIContent = &model.AIContent{}
		if err := json.Unmarshal(content, p.AIContent); err != nil {
			return nil, fmt.Errorf("decode ai_content: %w", err)
		}
	}
	return &p, nil
}

func collectProjects(rows pgx.Rows) ([]model.Project, error) {
	defer rows.Close()
	var out []model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func jsonOrNil(v any, isNil bool) ([]byte, error) {
	if isNil {
		return nil, nil
	}
	return json.Marshal(v)
}

func (g *PostgresGateway) CreateProject(ctx context.Context, p *model.Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = g.clock.now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	content, err := jsonOrNil(p.AIContent, p.AIContent == nil)
	if err != nil {
		return err
	}

	_, err = g.pool.Exec(ctx, `
		INSERT INTO projects (id, user_id, prompt, title, description, genre, dimension, status,
			ai_content, error, created_at, updated_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.UserID, p.Prompt, p.Title, p.Description, p.Genre, string(p.Dimension), string(p.Status),
		content, p.Error, p.CreatedAt, p.UpdatedAt, p.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (g *PostgresGateway) GetProject(ctx context.Context, id string) (*model.Project, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	p, err := scanProject(g.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (g *PostgresGateway) ListProjects(ctx context.Context, userID string, limit, offset int) ([]model.Project, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := g.pool.Query(ctx, `SELECT `+projectColumns+` FROM projects
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return collectProjects(rows)
}

func (g *PostgresGateway) ListProjectsUpdatedBefore(ctx context.Context, statuses []model.ProjectStatus, before time.Time) ([]model.Project, error) {
	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, string(s))
	}
	rows, err := g.pool.Query(ctx, `SELECT `+projectColumns+` FROM projects
		WHERE status = ANY($1) AND updated_at < $2 ORDER BY updated_at`, values, before)
	if err != nil {
		return nil, fmt.Errorf("list stale projects: %w", err)
	}
	return collectProjects(rows)
}

func (g *PostgresGateway) UpdateProject(ctx context.Context, p *model.Project) error {
	content, err := jsonOrNil(p.AIContent, p.AIContent == nil)
	if err != nil {
		return err
	}
	tag, err := g.pool.Exec(ctx, `
		UPDATE projects SET title=$2, description=$3, genre=$4, dimension=$5, status=$6,
			ai_content=$7, error=$8, updated_at=$9, completed_at=$10
		WHERE id = $1`,
		p.ID, p.Title, p.Description, p.Genre, string(p.Dimension), string(p.Status),
		content, p.Error, p.UpdatedAt, p.CompletedAt)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *PostgresGateway) CreateBuild(ctx context.Context, b *model.Build) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = g.clock.now()
	}
	if b.Platform == "" {
		b.Platform = model.PlatformWeb
	}
	_, err := g.pool.Exec(ctx, `
		INSERT INTO game_builds (id, project_id, platform, status, build_url, web_preview_url,
			storage_path, file_size, error, created_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO NOTHING`,
		b.ID, b.ProjectID, b.Platform, string(b.Status), b.BuildURL, b.WebPreviewURL,
		b.StoragePath, b.FileSize, b.Error, b.CreatedAt, b.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert build: %w", err)
	}
	return nil
}

func (g *PostgresGateway) UpdateBuild(ctx context.Context, b *model.Build) error {
	tag, err := g.pool.Exec(ctx, `
		UPDATE game_builds SET status=$2, build_url=$3, web_preview_url=$4, storage_path=$5,
			file_size=$6, error=$7, completed_at=$8
		WHERE id = $1 AND status <> 'ready'`,
		b.ID, string(b.Status), b.BuildURL, b.WebPreviewURL, b.StoragePath, b.FileSize, b.Error, b.CompletedAt)
	if err != nil {
		return fmt.Errorf("update build: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var stored model.Build
		err := g.pool.QueryRow(ctx, `SELECT status, storage_path FROM game_builds WHERE id = $1`, b.ID).
			Scan(&stored.Status, &stored.StoragePath)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read build: %w", err)
		}
		if sameReadyBuild(&stored, b) {
			return nil
		}
		return fmt.Errorf("build %s is ready and immutable", b.ID)
	}
	return nil
}

func (g *PostgresGateway) ListBuilds(ctx context.Context, projectID string) ([]model.Build, error) {
	if _, err := uuid.Parse(projectID); err != nil {
		return []model.Build{}, nil
	}
	rows, err := g.pool.Query(ctx, `
		SELECT id::text, project_id::text, platform, status, build_url, web_preview_url, storage_path,
			file_size, error, created_at, completed_at
		FROM game_builds WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list builds: %w", err)
	}
	defer rows.Close()

	out := []model.Build{}
	for rows.Next() {
		var b model.Build
		if err := rows.Scan(&b.ID, &b.ProjectID, &b.Platform, &b.Status, &b.BuildURL, &b.WebPreviewURL,
			&b.StoragePath, &b.FileSize, &b.Error, &b.CreatedAt, &b.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (g *PostgresGateway) AppendLog(ctx context.Context, l *model.GenerationLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = g.clock.now()
	}
	meta, err := jsonOrNil(l.Metadata, l.Metadata == nil)
	if err != nil {
		return err
	}
	_, err = g.pool.Exec(ctx, `
		INSERT INTO generation_logs (id, project_id, step, status, attempt, duration_ms, ai_model,
			tokens_used, error, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO NOTHING`,
		l.ID, l.ProjectID, string(l.Step), string(l.Status), l.Attempt, l.DurationMS, l.AIModel,
		l.TokensUsed, l.Error, meta, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert generation log: %w", err)
	}
	return nil
}

func (g *PostgresGateway) ListLogs(ctx context.Context, projectID string) ([]model.GenerationLog, error) {
	if _, err := uuid.Parse(projectID); err != nil {
		return []model.GenerationLog{}, nil
	}
	rows, err := g.pool.Query(ctx, `
		SELECT id::text, project_id::text, step, status, attempt, duration_ms, ai_model, tokens_used,
			error, metadata, created_at
		FROM generation_logs WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list generation logs: %w", err)
	}
	defer rows.Close()

	out := []model.GenerationLog{}
	for rows.Next() {
		var (
			l    model.GenerationLog
			meta []byte
		)
		if err := rows.Scan(&l.ID, &l.ProjectID, &l.Step, &l.Status, &l.Attempt, &l.DurationMS, &l.AIModel,
			&l.TokensUsed, &l.Error, &meta, &l.CreatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &l.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
