package config

import (
	"os"
	"path/filepath"
	"testing"

	"shopfloor/internal/engine/auth"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := Default("Plant A")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Site.Name != "Plant A" {
		t.Fatalf("site name = %q", cfg.Site.Name)
	}
	if len(cfg.Categories) != 8 {
		t.Fatalf("expected 8 categories, got %d", len(cfg.Categories))
	}
}

func TestDefaultMatrixMatchesBuiltIn(t *testing.T) {
	got := Default("x").Matrix().Table()
	want := auth.DefaultMatrix().Table()
	if len(got) != len(want) {
		t.Fatalf("roles: got %d want %d", len(got), len(want))
	}
	for role, perms := range want {
		if len(got[role]) != len(perms) {
			t.Fatalf("role %s: got %v want %v", role, got[role], perms)
		}
		for i := range perms {
			if got[role][i] != perms[i] {
				t.Fatalf("role %s: got %v want %v", role, got[role], perms)
			}
		}
	}
}

func TestValidateRejectsDeleteWithoutEdit(t *testing.T) {
	data := []byte(`
rbac:
  roles:
    admin:
      permissions: [view_kpis, edit_kpis, delete_kpis]
    manager:
      permissions: [delete_kpis]
`)
	if _, err := FromYAML(data); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidateRequiresAdmin(t *testing.T) {
	data := []byte(`
rbac:
  roles:
    operator:
      permissions: [view_kpis]
`)
	if _, err := FromYAML(data); err == nil {
		t.Fatalf("expected missing admin error")
	}
}

func TestValidateRejectsUnknownPermissionAndBadBand(t *testing.T) {
	cfg := Default("x")
	role := cfg.RBAC.Roles["operator"]
	role.Permissions = append(role.Permissions, "launch_rockets")
	cfg.RBAC.Roles["operator"] = role
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown permission error")
	}

	cfg = Default("x")
	cfg.KPI.WarningBand = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected warning band error")
	}

	cfg = Default("x")
	cfg.Categories = append(cfg.Categories, CategoryConfig{Code: "quality"})
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected duplicate category error")
	}
}

func TestLoadOptionalAndRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("expected nil config, got %v %v", cfg, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "shopfloor.yml"), []byte(GenerateDefault("Line 2")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	out, err := cfg.ToYAML()
	if err != nil {
		t.Fatal(err)
	}
	again, err := FromYAML(out)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if again.Site.Name != "Line 2" || again.KPI.WarningBand != 0.10 {
		t.Fatalf("unexpected reparsed config: %+v", again)
	}
}

func TestClassifierFromConfig(t *testing.T) {
	cfg := Default("x")
	cfg.KPI.WarningBand = 0.25
	if got := cfg.Classifier().WarningBand; got != 0.25 {
		t.Fatalf("warning band = %v", got)
	}
}
