package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"shopfloor/internal/config"
	"shopfloor/internal/engine/auth"
	"shopfloor/internal/events"
	"shopfloor/internal/kpi"
	"shopfloor/internal/lifecycle"
	"shopfloor/internal/metrics"
	"shopfloor/internal/repo"
)

const timeLayout = time.RFC3339

type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Config     *config.Config
	Matrix     auth.Matrix
	Classifier kpi.Classifier
	Logger     *logrus.Entry
	Now        func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default("shopfloor")
	}
	return Engine{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Events:     events.Writer{DB: db},
		Config:     cfg,
		Matrix:     cfg.Matrix(),
		Classifier: cfg.Classifier(),
		Logger:     logrus.WithField("component", "engine"),
		Now:        time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(timeLayout)
}

func (e Engine) log() *logrus.Entry {
	if e.Logger != nil {
		return e.Logger
	}
	return logrus.WithField("component", "engine")
}

func (e Engine) lifecycle() lifecycle.Lifecycle {
	l := lifecycle.New(e.Matrix)
	l.Now = e.now
	return l
}

// Bootstrap persists the site config, the role catalog and the configured
// categories, then reloads the matrix from the stored catalog.
func (e Engine) Bootstrap(ctx context.Context) (Engine, error) {
	if e.Config == nil {
		return e, errors.New("config not loaded")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return e, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertSiteConfig(ctx, tx, e.Config); err != nil {
		return e, fmt.Errorf("store site config: %w", err)
	}
	if err := e.Repo.SyncRoles(ctx, tx, e.Config); err != nil {
		return e, fmt.Errorf("sync roles: %w", err)
	}
	for _, c := range e.Config.Categories {
		if err := e.Repo.UpsertCategory(ctx, tx, categoryFromConfig(c)); err != nil {
			return e, fmt.Errorf("seed category %s: %w", c.Code, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return e, err
	}
	table, err := e.Repo.RolePermissionTable(ctx)
	if err != nil {
		return e, fmt.Errorf("load role catalog: %w", err)
	}
	e.Matrix = auth.NewMatrix(table)
	if err := e.Matrix.Validate(); err != nil {
		return e, err
	}
	e.Classifier = e.Config.Classifier()
	return e, nil
}

// inTx runs fn in one transaction and commits when it succeeds.
func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// require checks perm and records the refusal.
func (e Engine) require(role auth.Role, perm auth.Permission) error {
	return e.observe(e.Matrix.Require(role, perm))
}

// observe logs and counts denials passing through; other errors are returned untouched.
func (e Engine) observe(err error) error {
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		metrics.RecordDenial(string(fe.Permission))
		e.log().WithFields(logrus.Fields{
			"role":       fe.Role,
			"permission": fe.Permission,
		}).Warn("permission denied")
	}
	return err
}

func (e Engine) logTransition(kind, id, from, to string, role auth.Role) {
	metrics.RecordTransition(kind, to)
	e.log().WithFields(logrus.Fields{
		"kind": kind,
		"id":   id,
		"from": from,
		"to":   to,
		"role": role,
	}).Info("status changed")
}

func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

var validate = validator.New()

// ValidationError reports rejected input.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ConflictError reports a create whose id is already taken.
type ConflictError struct {
	Kind string
	ID   string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Kind, e.ID)
}

// requireNewID turns a successful lookup into a ConflictError.
func requireNewID(kind, id string, lookup func() error) error {
	err := lookup()
	switch {
	case err == nil:
		return ConflictError{Kind: kind, ID: id}
	case errors.Is(err, repo.ErrNotFound):
		return nil
	}
	return err
}

// checkInput runs struct tag validation and returns the first failure.
func checkInput(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		msg := "failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		return ValidationError{Field: snake(fe.Field()), Message: msg}
	}
	return err
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !(s[i-1] >= 'A' && s[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (e Engine) requireCategory(ctx context.Context, tx *sql.Tx, code string) error {
	if _, err := e.Repo.GetCategoryByCode(ctx, tx, code); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ValidationError{Field: "category", Message: fmt.Sprintf("unknown category %s", code)}
		}
		return err
	}
	return nil
}

func (e Engine) requireWorkstation(ctx context.Context, tx *sql.Tx, id *string) error {
	if id == nil || *id == "" {
		return nil
	}
	if _, err := e.Repo.GetWorkstation(ctx, tx, *id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ValidationError{Field: "workstation_id", Message: fmt.Sprintf("unknown workstation %s", *id)}
		}
		return err
	}
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
