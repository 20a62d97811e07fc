package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"shopfloor/internal/config"
	"shopfloor/internal/domain"
	"shopfloor/internal/engine/auth"
	"shopfloor/internal/events"
	"shopfloor/internal/repo"
)

func categoryFromConfig(c config.CategoryConfig) domain.Category {
	name := c.Name
	if name == "" {
		name = c.Code
	}
	return domain.Category{
		ID:           uuid.NewSHA1(uuid.NameSpaceOID, []byte("category|"+c.Code)).String(),
		Code:         c.Code,
		Name:         name,
		Color:        c.Color,
		DisplayOrder: c.Order,
	}
}

type CategoryCreateOptions struct {
	Code         string `validate:"required,max=40,lowercase"`
	Name         string `validate:"required,max=120"`
	Color        string `validate:"omitempty,hexcolor"`
	DisplayOrder int    `validate:"gte=0"`
	Role         auth.Role
}

// CreateCategory adds or refreshes a category keyed by code.
func (e Engine) CreateCategory(ctx context.Context, opts CategoryCreateOptions) (domain.Category, error) {
	if err := e.require(opts.Role, auth.ManageCategories); err != nil {
		return domain.Category{}, err
	}
	if err := checkInput(opts); err != nil {
		return domain.Category{}, err
	}
	c := categoryFromConfig(config.CategoryConfig{Code: opts.Code, Name: opts.Name, Color: opts.Color, Order: opts.DisplayOrder})
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpsertCategory(ctx, tx, c); err != nil {
			return err
		}
		stored, err := e.Repo.GetCategoryByCode(ctx, tx, c.Code)
		if err != nil {
			return err
		}
		c = stored
		return e.Events.Append(ctx, tx, events.CategoryCreated, "category", c.Code, string(opts.Role), events.EventPayload{"name": c.Name})
	})
	if err != nil {
		return domain.Category{}, err
	}
	return c, nil
}

// ListCategories is reference data shared by every list view and needs no permission.
func (e Engine) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return e.Repo.ListCategories(ctx)
}

type WorkstationCreateOptions struct {
	ID          string
	Name        string `validate:"required,max=120"`
	Kind        string `validate:"omitempty,oneof=machine station"`
	Status      string `validate:"omitempty,oneof=operational maintenance down"`
	Location    string `validate:"max=120"`
	Description string `validate:"max=2000"`
	Role        auth.Role
}

func (e Engine) CreateWorkstation(ctx context.Context, opts WorkstationCreateOptions) (domain.Workstation, error) {
	if err := e.require(opts.Role, auth.ManageWorkstations); err != nil {
		return domain.Workstation{}, err
	}
	if err := checkInput(opts); err != nil {
		return domain.Workstation{}, err
	}
	if opts.Kind == "" {
		opts.Kind = "machine"
	}
	if opts.Status == "" {
		opts.Status = string(domain.WorkstationOperational)
	}
	id := opts.ID
	if id == "" {
		id = newID("ws")
	}
	w := domain.Workstation{
		ID:          id,
		Name:        opts.Name,
		Kind:        opts.Kind,
		Status:      domain.WorkstationStatus(opts.Status),
		Location:    opts.Location,
		Description: opts.Description,
		CreatedAt:   e.stamp(),
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := requireNewID("workstation", w.ID, func() error {
			_, err := e.Repo.GetWorkstation(ctx, tx, w.ID)
			return err
		}); err != nil {
			return err
		}
		if err := e.Repo.InsertWorkstation(ctx, tx, w); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.WorkstationCreated, "workstation", w.ID, string(opts.Role), events.EventPayload{"status": w.Status})
	})
	if err != nil {
		return domain.Workstation{}, err
	}
	return w, nil
}

// SetWorkstationStatus records a machine going down, into maintenance, or back up.
func (e Engine) SetWorkstationStatus(ctx context.Context, id string, status domain.WorkstationStatus, role auth.Role) (domain.Workstation, error) {
	if err := e.require(role, auth.ManageWorkstations); err != nil {
		return domain.Workstation{}, err
	}
	if err := checkInput(struct {
		Status string `validate:"oneof=operational maintenance down"`
	}{string(status)}); err != nil {
		return domain.Workstation{}, err
	}
	var out domain.Workstation
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		w, err := e.Repo.GetWorkstation(ctx, tx, id)
		if err != nil {
			return err
		}
		from := w.Status
		w.Status = status
		if err := e.Repo.UpdateWorkstation(ctx, tx, w); err != nil {
			return err
		}
		out = w
		return e.Events.Append(ctx, tx, events.WorkstationUpdated, "workstation", w.ID, string(role), events.EventPayload{
			"from": from,
			"to":   w.Status,
		})
	})
	return out, err
}

func (e Engine) ListWorkstations(ctx context.Context, status string, role auth.Role) ([]domain.Workstation, error) {
	if err := e.require(role, auth.ViewWorkstations); err != nil {
		return nil, err
	}
	return e.Repo.ListWorkstations(ctx, status)
}

// CreateAPIKey mints a key bound to keyRole. The plaintext is returned once;
// only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, keyRole auth.Role, name string, role auth.Role) (domain.APIKey, string, error) {
	if err := e.require(role, auth.ManageUsers); err != nil {
		return domain.APIKey{}, "", err
	}
	if len(e.Matrix.Permissions(keyRole)) == 0 {
		return domain.APIKey{}, "", ValidationError{Field: "role", Message: fmt.Sprintf("role %s has no permissions", keyRole)}
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	plain := "sf_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        newID("key"),
		Role:      string(keyRole),
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.stamp(),
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.APIKeyCreated, "api_key", key.ID, string(role), events.EventPayload{"role": key.Role})
	})
	if err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, keyRole string, role auth.Role) ([]domain.APIKey, error) {
	if err := e.require(role, auth.ManageUsers); err != nil {
		return nil, err
	}
	return e.Repo.ListAPIKeys(ctx, keyRole)
}

func (e Engine) DeleteAPIKey(ctx context.Context, id string, role auth.Role) error {
	if err := e.require(role, auth.ManageUsers); err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteAPIKey(ctx, tx, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.APIKeyDeleted, "api_key", id, string(role), nil)
	})
}
