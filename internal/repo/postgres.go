package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/antoineMoPa/prflow.dev/internal/cache"
	"github.com/antoineMoPa/prflow.dev/internal/config"
	"github.com/antoineMoPa/prflow.dev/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

func MustOpen(ctx context.Context, cfg config.Config, log zerolog.Logger) *DB {
	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(ctx2); err != nil {
		log.Fatal().Err(err).Msg("db ping failed")
	}
	return &DB{Pool: pool, log: log}
}

func (d *DB) Close() { d.Pool.Close() }

type Repository struct {
	db  *DB
	log zerolog.Logger
}

func NewRepository(d *DB, log zerolog.Logger) *Repository { return &Repository{db: d, log: log} }

func (r *Repository) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	var ok bool
	err := r.db.Pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok)
	return ok, err
}

func (r *Repository) AdvisoryUnlock(ctx context.Context, key int64) error {
	var ok bool
	err := r.db.Pool.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", key).Scan(&ok)
	if !ok && err == nil {
		return errors.New("advisory unlock returned false")
	}
	return err
}

// ---- Teams, roster, credentials ----

func (r *Repository) GetTeam(ctx context.Context, id int64) (*domain.Team, error) {
	const q = `SELECT id, name, COALESCE(slack_webhook_url,''), goals, visibility
		FROM teams WHERE id=$1`
	var t domain.Team
	var goalsJSON, visJSON []byte
	err := r.db.Pool.QueryRow(ctx, q, id).Scan(&t.ID, &t.Name, &t.SlackWebhookURL, &goalsJSON, &visJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTeamNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(goalsJSON) > 0 {
		var g domain.Goals
		if err := json.Unmarshal(goalsJSON, &g); err == nil {
			t.Goals = &g
		}
	}
	if len(visJSON) > 0 {
		_ = json.Unmarshal(visJSON, &t.Visibility)
	}
	return &t, nil
}

func (r *Repository) ListTeamIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT id FROM teams ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *Repository) GetCredentials(ctx context.Context, teamID int64) (*domain.Credentials, error) {
	const q = `SELECT COALESCE(github_token,''), COALESCE(jira_domain,''), COALESCE(jira_token,''),
		COALESCE(jira_email,''), COALESCE(jira_board_id,0), COALESCE(jira_project_key,'')
		FROM team_credentials WHERE team_id=$1`
	var c domain.Credentials
	err := r.db.Pool.QueryRow(ctx, q, teamID).Scan(
		&c.GitHubToken, &c.JiraDomain, &c.JiraToken, &c.JiraEmail, &c.JiraBoardID, &c.JiraProjectKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return &domain.Credentials{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) GetRoster(ctx context.Context, teamID int64) (*domain.Roster, error) {
	roster := &domain.Roster{}
	rows, err := r.db.Pool.Query(ctx, `SELECT github_handle FROM team_members WHERE team_id=$1 ORDER BY github_handle`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		roster.Members = append(roster.Members, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows2, err := r.db.Pool.Query(ctx, `SELECT repo_path FROM team_repositories WHERE team_id=$1 ORDER BY repo_path`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows2.Close()
	for rows2.Next() {
		var p string
		if err := rows2.Scan(&p); err != nil {
			return nil, err
		}
		roster.Repositories = append(roster.Repositories, p)
	}
	return roster, rows2.Err()
}

// ---- Statistics cache store (implements cache.Store) ----

func (r *Repository) Read(ctx context.Context, path string) (*cache.Entry, error) {
	const q = `SELECT path, blob, updated_at, last_fetch_started FROM stats_cache WHERE path=$1`
	var e cache.Entry
	err := r.db.Pool.QueryRow(ctx, q, path).Scan(&e.Path, &e.Blob, &e.UpdatedAt, &e.LastFetchStarted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *Repository) Write(ctx context.Context, path string, blob []byte, updatedAt time.Time) error {
	const q = `INSERT INTO stats_cache(path, blob, updated_at) VALUES($1,$2,$3)
		ON CONFLICT(path) DO UPDATE SET blob=EXCLUDED.blob, updated_at=EXCLUDED.updated_at`
	_, err := r.db.Pool.Exec(ctx, q, path, blob, updatedAt)
	return err
}

func (r *Repository) MarkFetchStarted(ctx context.Context, path string, at time.Time) error {
	const q = `INSERT INTO stats_cache(path, blob, updated_at, last_fetch_started)
		VALUES($1,'{}'::jsonb, to_timestamp(0), $2)
		ON CONFLICT(path) DO UPDATE SET last_fetch_started=EXCLUDED.last_fetch_started`
	_, err := r.db.Pool.Exec(ctx, q, path, at)
	return err
}

// ---- Job runs ----

func (r *Repository) StartJobRun(ctx context.Context, teamID int64) (int64, error) {
	const q = `INSERT INTO job_runs(team_id, started_at, success) VALUES($1, now(), false) RETURNING id`
	var id int64
	if err := r.db.Pool.QueryRow(ctx, q, teamID).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *Repository) FinishJobRun(ctx context.Context, id int64, reposCollected int, success bool, errStr string) error {
	const q = `UPDATE job_runs SET finished_at=now(), repos_collected=$2, success=$3, error=$4 WHERE id=$1`
	_, err := r.db.Pool.Exec(ctx, q, id, reposCollected, success, errStr)
	return err
}

type LastRun struct {
	TeamID         int64      `json:"team_id"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at"`
	ReposCollected int        `json:"repos_collected"`
	Success        bool       `json:"success"`
	Error          string     `json:"error"`
}

func (r *Repository) GetLastRun(ctx context.Context) (*LastRun, error) {
	const q = `SELECT team_id, started_at, finished_at,
		coalesce(repos_collected,0), coalesce(success,false), coalesce(error,'')
		FROM job_runs ORDER BY id DESC LIMIT 1`
	lr := &LastRun{}
	err := r.db.Pool.QueryRow(ctx, q).Scan(&lr.TeamID, &lr.StartedAt, &lr.FinishedAt, &lr.ReposCollected, &lr.Success, &lr.Error)
	if err != nil {
		return nil, err
	}
	return lr, nil
}
