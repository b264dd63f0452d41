package store

import (
	"context"
	"fmt"
	"time"

	"github.com/e2elab/runnoor/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store provides persistence for projects, test cases, steps, and
// execution history.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Project reads and status cache updates.
	GetProject(ctx context.Context, id uint) (*Project, error)
	GetProjectByName(ctx context.Context, name string) (*Project, error)
	ListProjects(ctx context.Context) ([]Project, error)
	CreateProject(ctx context.Context, p *Project) error
	UpdateProjectStatus(ctx context.Context, id uint, status string, at time.Time, by string) error

	// Test case reads and status cache updates.
	GetTestCase(ctx context.Context, id uint) (*TestCase, error)
	ListTestCases(ctx context.Context, projectID uint) ([]TestCase, error)
	CreateTestCase(ctx context.Context, tc *TestCase) error
	UpdateTestCaseStatus(ctx context.Context, id uint, status string, at time.Time, by string) error

	// Fixture reads and writes. Fixtures are reusable step groups
	// referenced weakly from test-case steps.
	GetFixtureByName(ctx context.Context, projectID uint, name string) (*Fixture, error)
	CreateFixture(ctx context.Context, f *Fixture) error
	ReplaceFixtureSteps(ctx context.Context, fixtureID uint, steps []Step) error

	// Step reads and consolidation writes. ListSteps returns the ordered
	// steps owned by a test case; ListResolvedSteps additionally expands
	// fixture references in place and renumbers the order contiguously.
	// ReplaceSteps swaps the full step list.
	ListSteps(ctx context.Context, testCaseID uint) ([]Step, error)
	ListFixtureSteps(ctx context.Context, fixtureID uint) ([]Step, error)
	ListResolvedSteps(ctx context.Context, testCaseID uint) ([]Step, error)
	ReplaceSteps(ctx context.Context, testCaseID uint, steps []Step) error

	// Execution history. Append-only: there is no update or delete.
	CreateExecution(ctx context.Context, e *Execution) error
	ListExecutions(ctx context.Context, testCaseID uint, limit int) ([]Execution, error)
	ListProjectExecutions(ctx context.Context, projectID uint, limit int) ([]Execution, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Project{},
		&TestCase{},
		&Fixture{},
		&Step{},
		&Execution{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// --- Projects ---

func (s *store) GetProject(ctx context.Context, id uint) (*Project, error) {
	var p Project
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, fmt.Errorf("getting project: %w", err)
	}

	return &p, nil
}

func (s *store) GetProjectByName(ctx context.Context, name string) (*Project, error) {
	var p Project
	if err := s.db.WithContext(ctx).
		Where("name = ?", name).First(&p).Error; err != nil {
		return nil, fmt.Errorf("getting project by name: %w", err)
	}

	return &p, nil
}

func (s *store) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := s.db.WithContext(ctx).Order("id").Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}

	return projects, nil
}

func (s *store) CreateProject(ctx context.Context, p *Project) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("creating project: %w", err)
	}

	return nil
}

func (s *store) UpdateProjectStatus(
	ctx context.Context, id uint, status string, at time.Time, by string,
) error {
	err := s.db.WithContext(ctx).Model(&Project{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":      status,
			"last_run":    at,
			"last_run_by": by,
		}).Error
	if err != nil {
		return fmt.Errorf("updating project status: %w", err)
	}

	return nil
}

// --- Test cases ---

func (s *store) GetTestCase(ctx context.Context, id uint) (*TestCase, error) {
	var tc TestCase
	if err := s.db.WithContext(ctx).First(&tc, id).Error; err != nil {
		return nil, fmt.Errorf("getting test case: %w", err)
	}

	return &tc, nil
}

func (s *store) ListTestCases(ctx context.Context, projectID uint) ([]TestCase, error) {
	var tcs []TestCase
	if err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("id").
		Find(&tcs).Error; err != nil {
		return nil, fmt.Errorf("listing test cases: %w", err)
	}

	return tcs, nil
}

func (s *store) CreateTestCase(ctx context.Context, tc *TestCase) error {
	if err := s.db.WithContext(ctx).Create(tc).Error; err != nil {
		return fmt.Errorf("creating test case: %w", err)
	}

	return nil
}

func (s *store) UpdateTestCaseStatus(
	ctx context.Context, id uint, status string, at time.Time, by string,
) error {
	err := s.db.WithContext(ctx).Model(&TestCase{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":      status,
			"last_run":    at,
			"last_run_by": by,
		}).Error
	if err != nil {
		return fmt.Errorf("updating test case status: %w", err)
	}

	return nil
}

// --- Fixtures ---

func (s *store) GetFixtureByName(
	ctx context.Context, projectID uint, name string,
) (*Fixture, error) {
	var f Fixture
	if err := s.db.WithContext(ctx).
		Where("project_id = ? AND name = ?", projectID, name).
		First(&f).Error; err != nil {
		return nil, fmt.Errorf("getting fixture by name: %w", err)
	}

	return &f, nil
}

func (s *store) CreateFixture(ctx context.Context, f *Fixture) error {
	if err := s.db.WithContext(ctx).Create(f).Error; err != nil {
		return fmt.Errorf("creating fixture: %w", err)
	}

	return nil
}

func (s *store) ReplaceFixtureSteps(
	ctx context.Context, fixtureID uint, steps []Step,
) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("fixture_id = ?", fixtureID).
			Delete(&Step{}).Error; err != nil {
			return fmt.Errorf("deleting existing steps: %w", err)
		}

		for i := range steps {
			steps[i].ID = 0
			steps[i].FixtureID = &fixtureID
			steps[i].TestCaseID = nil
		}

		if len(steps) == 0 {
			return nil
		}

		if err := tx.Create(&steps).Error; err != nil {
			return fmt.Errorf("inserting steps: %w", err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("replacing fixture steps: %w", err)
	}

	return nil
}

// --- Steps ---

func (s *store) ListSteps(ctx context.Context, testCaseID uint) ([]Step, error) {
	var steps []Step
	if err := s.db.WithContext(ctx).
		Where("test_case_id = ?", testCaseID).
		Order("step_order").
		Find(&steps).Error; err != nil {
		return nil, fmt.Errorf("listing steps: %w", err)
	}

	return steps, nil
}

func (s *store) ListFixtureSteps(ctx context.Context, fixtureID uint) ([]Step, error) {
	var steps []Step
	if err := s.db.WithContext(ctx).
		Where("fixture_id = ?", fixtureID).
		Order("step_order").
		Find(&steps).Error; err != nil {
		return nil, fmt.Errorf("listing fixture steps: %w", err)
	}

	return steps, nil
}

func (s *store) ListResolvedSteps(ctx context.Context, testCaseID uint) ([]Step, error) {
	steps, err := s.ListSteps(ctx, testCaseID)
	if err != nil {
		return nil, err
	}

	resolved := make([]Step, 0, len(steps))

	for _, step := range steps {
		if step.RefFixtureID == nil {
			resolved = append(resolved, step)

			continue
		}

		fixtureSteps, err := s.ListFixtureSteps(ctx, *step.RefFixtureID)
		if err != nil {
			return nil, err
		}

		resolved = append(resolved, fixtureSteps...)
	}

	// Renumber so materialization and step zipping see a contiguous order.
	for i := range resolved {
		resolved[i].Order = i + 1
	}

	return resolved, nil
}

func (s *store) ReplaceSteps(ctx context.Context, testCaseID uint, steps []Step) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("test_case_id = ?", testCaseID).
			Delete(&Step{}).Error; err != nil {
			return fmt.Errorf("deleting existing steps: %w", err)
		}

		for i := range steps {
			steps[i].ID = 0
			steps[i].TestCaseID = &testCaseID
			steps[i].FixtureID = nil
		}

		if len(steps) == 0 {
			return nil
		}

		if err := tx.Create(&steps).Error; err != nil {
			return fmt.Errorf("inserting steps: %w", err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("replacing steps: %w", err)
	}

	return nil
}

// --- Executions ---

func (s *store) CreateExecution(ctx context.Context, e *Execution) error {
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("creating execution: %w", err)
	}

	return nil
}

func (s *store) ListExecutions(
	ctx context.Context, testCaseID uint, limit int,
) ([]Execution, error) {
	var execs []Execution
	q := s.db.WithContext(ctx).
		Where("test_case_id = ?", testCaseID).
		Order("id DESC")

	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Find(&execs).Error; err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}

	return execs, nil
}

func (s *store) ListProjectExecutions(
	ctx context.Context, projectID uint, limit int,
) ([]Execution, error) {
	var execs []Execution
	q := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("id DESC")

	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Find(&execs).Error; err != nil {
		return nil, fmt.Errorf("listing project executions: %w", err)
	}

	return execs, nil
}
