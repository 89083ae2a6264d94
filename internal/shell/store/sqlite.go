package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/artpar/quickops/internal/core/crypto"
	"github.com/artpar/quickops/internal/core/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sqlx.DB
	sealer *crypto.Sealer
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithSealer encrypts credential tokens at rest.
func WithSealer(s *crypto.Sealer) Option {
	return func(st *SQLiteStore) {
		st.sealer = s
	}
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string, opts ...Option) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}
	// Every pooled connection to :memory: would be a separate database.
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	s := &SQLiteStore{db: db, sealer: crypto.NewSealer("")}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateProject(ctx context.Context, p *domain.Project) error {
	return createProject(ctx, s.db, s.sealer, p)
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	return getProject(ctx, s.db, s.sealer, id)
}

func (s *SQLiteStore) FindByName(ctx context.Context, name string) (*domain.Project, error) {
	return findByName(ctx, s.db, s.sealer, name)
}

func (s *SQLiteStore) ListProjects(ctx context.Context, opts ListOptions) ([]domain.Project, error) {
	return listProjects(ctx, s.db, s.sealer, opts)
}

func (s *SQLiteStore) UpdateByID(ctx context.Context, id string, update domain.ProjectUpdate) (*domain.Project, error) {
	return updateByID(ctx, s.db, s.sealer, id, update)
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	return deleteProject(ctx, s.db, id)
}

// WithTx runs fn in a transaction. fn's error rolls it back.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx, sealer: s.sealer}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx     *sqlx.Tx
	sealer *crypto.Sealer
}

func (s *txSQLiteStore) CreateProject(ctx context.Context, p *domain.Project) error {
	return createProject(ctx, s.tx, s.sealer, p)
}

func (s *txSQLiteStore) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	return getProject(ctx, s.tx, s.sealer, id)
}

func (s *txSQLiteStore) FindByName(ctx context.Context, name string) (*domain.Project, error) {
	return findByName(ctx, s.tx, s.sealer, name)
}

func (s *txSQLiteStore) ListProjects(ctx context.Context, opts ListOptions) ([]domain.Project, error) {
	return listProjects(ctx, s.tx, s.sealer, opts)
}

func (s *txSQLiteStore) UpdateByID(ctx context.Context, id string, update domain.ProjectUpdate) (*domain.Project, error) {
	return updateByID(ctx, s.tx, s.sealer, id, update)
}

func (s *txSQLiteStore) DeleteProject(ctx context.Context, id string) error {
	return deleteProject(ctx, s.tx, id)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just execute the function
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	// No-op for transaction store
	return nil
}

// =============================================================================
// Project Operations
// =============================================================================

// projectRow represents a project row in the database.
type projectRow struct {
	ID               string `db:"id"`
	Name             string `db:"name"`
	FrontendRepo     string `db:"frontend_repo"`
	BackendRepos     string `db:"backend_repos"`
	CredentialToken  string `db:"credential_token"`
	DeploymentChoice string `db:"deployment_choice"`
	Status           string `db:"status"`
	Recommendation   string `db:"recommendation"`
	Reasoning        string `db:"reasoning"`
	PublicIP         string `db:"public_ip"`
	DNSLabel         string `db:"dns_label"`
	CreatedAt        string `db:"created_at"`
	UpdatedAt        string `db:"updated_at"`
}

func createProject(ctx context.Context, exec executor, sealer *crypto.Sealer, p *domain.Project) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = domain.StatusNotDeployed
	}
	now := time.Now().UTC().Truncate(time.Second)
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}

	if err := domain.ValidateNewProject(*p); err != nil {
		return NewStoreError("CreateProject", "project", p.ID, err.Error(), errors.Join(ErrInvalidProject, err))
	}

	repos := p.BackendRepos
	if repos == nil {
		repos = []string{}
	}
	reposJSON, err := json.Marshal(repos)
	if err != nil {
		return NewStoreError("CreateProject", "project", p.ID, "failed to serialize backend repos", ErrInvalidData)
	}
	token, err := sealer.Seal(p.CredentialToken)
	if err != nil {
		return NewStoreError("CreateProject", "project", p.ID, "failed to seal credential", err)
	}

	query := `
		INSERT INTO projects (
			id, name, frontend_repo, backend_repos, credential_token,
			deployment_choice, status, recommendation, reasoning,
			public_ip, dns_label, created_at, updated_at
		) VALUES (
			:id, :name, :frontend_repo, :backend_repos, :credential_token,
			:deployment_choice, :status, :recommendation, :reasoning,
			:public_ip, :dns_label, :created_at, :updated_at
		)`

	row := projectRow{
		ID:               p.ID,
		Name:             p.Name,
		FrontendRepo:     p.FrontendRepo,
		BackendRepos:     string(reposJSON),
		CredentialToken:  token,
		DeploymentChoice: string(p.DeploymentChoice),
		Status:           string(p.Status),
		Recommendation:   p.Recommendation,
		Reasoning:        p.Reasoning,
		PublicIP:         p.PublicIP,
		DNSLabel:         p.DNSLabel,
		CreatedAt:        p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        p.UpdatedAt.Format(time.RFC3339),
	}

	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: projects.id") {
			return NewStoreError("CreateProject", "project", p.ID, "project with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed: projects.name") {
			return NewStoreError("CreateProject", "project", p.ID, "project with this name already exists", ErrDuplicateName)
		}
		return NewStoreError("CreateProject", "project", p.ID, err.Error(), err)
	}
	return nil
}

func getProject(ctx context.Context, exec executor, sealer *crypto.Sealer, id string) (*domain.Project, error) {
	var row projectRow
	if err := exec.GetContext(ctx, &row, `SELECT * FROM projects WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetProject", "project", id, "project not found", ErrNotFound)
		}
		return nil, NewStoreError("GetProject", "project", id, err.Error(), err)
	}
	return rowToProject(&row, sealer)
}

func findByName(ctx context.Context, exec executor, sealer *crypto.Sealer, name string) (*domain.Project, error) {
	var row projectRow
	if err := exec.GetContext(ctx, &row, `SELECT * FROM projects WHERE name = ?`, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("FindByName", "project", name, "project not found", ErrNotFound)
		}
		return nil, NewStoreError("FindByName", "project", name, err.Error(), err)
	}
	return rowToProject(&row, sealer)
}

func listProjects(ctx context.Context, exec executor, sealer *crypto.Sealer, opts ListOptions) ([]domain.Project, error) {
	opts = opts.Normalize()

	query := `SELECT * FROM projects`
	args := []any{}
	if opts.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY created_at, id LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	var rows []projectRow
	if err := exec.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, NewStoreError("ListProjects", "project", "", err.Error(), err)
	}

	projects := make([]domain.Project, 0, len(rows))
	for i := range rows {
		p, err := rowToProject(&rows[i], sealer)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, nil
}

// updateByID writes only the columns named by update in a single statement,
// so concurrent partial writes of disjoint fields do not clobber each other.
func updateByID(ctx context.Context, exec executor, sealer *crypto.Sealer, id string, update domain.ProjectUpdate) (*domain.Project, error) {
	if update.IsEmpty() {
		return nil, NewStoreError("UpdateByID", "project", id, "no fields to update", ErrInvalidProject)
	}
	if update.Status != nil && !update.Status.IsValid() {
		return nil, NewStoreError("UpdateByID", "project", id, domain.ErrInvalidProjectStatus.Error(), errors.Join(ErrInvalidProject, domain.ErrInvalidProjectStatus))
	}
	if update.DeploymentChoice != nil && *update.DeploymentChoice != domain.DeploymentNone && !update.DeploymentChoice.IsValid() {
		return nil, NewStoreError("UpdateByID", "project", id, domain.ErrInvalidDeploymentChoice.Error(), errors.Join(ErrInvalidProject, domain.ErrInvalidDeploymentChoice))
	}

	var sets []string
	var args []any
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if update.Status != nil {
		set("status", string(*update.Status))
	}
	if update.Recommendation != nil {
		set("recommendation", *update.Recommendation)
	}
	if update.Reasoning != nil {
		set("reasoning", *update.Reasoning)
	}
	if update.DeploymentChoice != nil {
		set("deployment_choice", string(*update.DeploymentChoice))
	}
	if update.PublicIP != nil {
		set("public_ip", *update.PublicIP)
	}
	if update.DNSLabel != nil {
		set("dns_label", *update.DNSLabel)
	}
	set("updated_at", time.Now().UTC().Format(time.RFC3339))
	args = append(args, id)

	query := `UPDATE projects SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	result, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, NewStoreError("UpdateByID", "project", id, err.Error(), err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, NewStoreError("UpdateByID", "project", id, err.Error(), err)
	}
	if rows == 0 {
		return nil, NewStoreError("UpdateByID", "project", id, "project not found", ErrNotFound)
	}
	return getProject(ctx, exec, sealer, id)
}

func deleteProject(ctx context.Context, exec executor, id string) error {
	result, err := exec.ExecContext(ctx,
		`DELETE FROM projects WHERE id = ? AND status != ?`, id, string(domain.StatusDeployed))
	if err != nil {
		return NewStoreError("DeleteProject", "project", id, err.Error(), err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return NewStoreError("DeleteProject", "project", id, err.Error(), err)
	}
	if rows > 0 {
		return nil
	}

	var status string
	if err := exec.GetContext(ctx, &status, `SELECT status FROM projects WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NewStoreError("DeleteProject", "project", id, "project not found", ErrNotFound)
		}
		return NewStoreError("DeleteProject", "project", id, err.Error(), err)
	}
	return NewStoreError("DeleteProject", "project", id, "cannot delete a deployed project", ErrProjectDeployed)
}

func rowToProject(row *projectRow, sealer *crypto.Sealer) (*domain.Project, error) {
	var repos []string
	if row.BackendRepos != "" {
		if err := json.Unmarshal([]byte(row.BackendRepos), &repos); err != nil {
			return nil, NewStoreError("rowToProject", "project", row.ID, "failed to parse backend repos", ErrInvalidData)
		}
	}
	token, err := sealer.Open(row.CredentialToken)
	if err != nil {
		return nil, NewStoreError("rowToProject", "project", row.ID, "failed to open credential", err)
	}

	p := &domain.Project{
		ID:               row.ID,
		Name:             row.Name,
		FrontendRepo:     row.FrontendRepo,
		BackendRepos:     repos,
		CredentialToken:  token,
		DeploymentChoice: domain.DeploymentChoice(row.DeploymentChoice),
		Status:           domain.ProjectStatus(row.Status),
		Recommendation:   row.Recommendation,
		Reasoning:        row.Reasoning,
		PublicIP:         row.PublicIP,
		DNSLabel:         row.DNSLabel,
	}
	// Older rows may carry alias spellings.
	if p.DeploymentChoice != domain.DeploymentNone && !p.DeploymentChoice.IsValid() {
		if c, err := domain.ParseDeploymentChoice(row.DeploymentChoice); err == nil {
			p.DeploymentChoice = c
		}
	}

	p.CreatedAt, _ = time.Parse(time.RFC3339, row.CreatedAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, row.UpdatedAt)
	return p, nil
}
