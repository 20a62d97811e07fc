package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"shopfloor/internal/engine/auth"
	"shopfloor/internal/kpi"
)

// Config models shopfloor.yml.
type Config struct {
	Site struct {
		Name string `yaml:"name" json:"name"`
	} `yaml:"site" json:"site"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles" json:"roles"`
	} `yaml:"rbac" json:"rbac"`
	KPI struct {
		WarningBand  float64 `yaml:"warning_band" json:"warning_band"`
		TrendEpsilon float64 `yaml:"trend_epsilon" json:"trend_epsilon"`
	} `yaml:"kpi" json:"kpi"`
	Categories []CategoryConfig `yaml:"categories" json:"categories"`
	Webhooks   []WebhookConfig  `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

type RBACRole struct {
	Description string   `yaml:"description" json:"description"`
	Permissions []string `yaml:"permissions" json:"permissions"`
}

type CategoryConfig struct {
	Code  string `yaml:"code" json:"code"`
	Name  string `yaml:"name" json:"name"`
	Color string `yaml:"color,omitempty" json:"color,omitempty"`
	Order int    `yaml:"order" json:"order"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Secret         string   `yaml:"secret,omitempty" json:"-"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sf init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.RBAC.Roles) == 0 {
		return fmt.Errorf("config.rbac.roles is required")
	}
	if _, ok := c.RBAC.Roles[string(auth.RoleAdmin)]; !ok {
		return fmt.Errorf("config.rbac.roles must include admin")
	}
	for roleID, role := range c.RBAC.Roles {
		if roleID == "" {
			return fmt.Errorf("config.rbac.roles contains empty role id")
		}
		for _, perm := range role.Permissions {
			if perm == "" {
				return fmt.Errorf("role %s has empty permission id", roleID)
			}
		}
	}
	if err := c.Matrix().Validate(); err != nil {
		return err
	}
	if c.KPI.WarningBand < 0 || c.KPI.WarningBand >= 1 {
		return fmt.Errorf("config.kpi.warning_band must be in [0,1)")
	}
	if c.KPI.TrendEpsilon < 0 {
		return fmt.Errorf("config.kpi.trend_epsilon must not be negative")
	}
	seen := make(map[string]struct{}, len(c.Categories))
	for _, cat := range c.Categories {
		if cat.Code == "" {
			return fmt.Errorf("config.categories contains empty code")
		}
		if _, dup := seen[cat.Code]; dup {
			return fmt.Errorf("category %s declared twice", cat.Code)
		}
		seen[cat.Code] = struct{}{}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Matrix builds the permission matrix from rbac.roles.
func (c *Config) Matrix() auth.Matrix {
	table := make(map[auth.Role][]auth.Permission, len(c.RBAC.Roles))
	for roleID, role := range c.RBAC.Roles {
		perms := make([]auth.Permission, 0, len(role.Permissions))
		for _, p := range role.Permissions {
			perms = append(perms, auth.Permission(p))
		}
		table[auth.Role(roleID)] = perms
	}
	return auth.NewMatrix(table)
}

// Classifier returns the KPI classifier tuned by the kpi section.
func (c *Config) Classifier() kpi.Classifier {
	cl := kpi.New()
	if c.KPI.WarningBand > 0 {
		cl.WarningBand = c.KPI.WarningBand
	}
	if c.KPI.TrendEpsilon > 0 {
		cl.TrendEpsilon = c.KPI.TrendEpsilon
	}
	return cl
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "shopfloor.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(siteName string) string {
	return fmt.Sprintf(defaultTemplate, siteName)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config for a site.
func Default(siteName string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(siteName))).Decode(&cfg)
	cfg.Site.Name = siteName
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// ToYAML renders cfg back to YAML.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `site:
  name: %q

rbac:
  roles:
    admin:
      description: "Full access, including user management"
      permissions: [
        view_kpis, create_kpis, edit_kpis, delete_kpis,
        view_actions, create_actions, edit_actions, delete_actions, complete_actions,
        view_problems, create_problems, edit_problems, delete_problems, escalate_problems,
        view_workstations, manage_workstations,
        view_reports, generate_reports,
        view_settings, manage_users, manage_categories
      ]
    manager:
      description: "Runs the site; manages KPIs, workstations and categories"
      permissions: [
        view_kpis, create_kpis, edit_kpis,
        view_actions, create_actions, edit_actions, delete_actions, complete_actions,
        view_problems, create_problems, edit_problems, escalate_problems,
        view_workstations, manage_workstations,
        view_reports, generate_reports,
        view_settings, manage_categories
      ]
    team_leader:
      description: "Leads a shift; updates KPIs, actions and problems"
      permissions: [
        view_kpis, edit_kpis,
        view_actions, create_actions, edit_actions, complete_actions,
        view_problems, create_problems, edit_problems, escalate_problems,
        view_workstations,
        view_reports,
        view_settings
      ]
    operator:
      description: "Works a station; completes actions and reports problems"
      permissions: [
        view_kpis,
        view_actions, complete_actions,
        view_problems, create_problems,
        view_workstations,
        view_settings
      ]

kpi:
  warning_band: 0.10
  trend_epsilon: 0.001

categories:
  - {code: security, name: "Security", color: "#ef4444", order: 1}
  - {code: quality, name: "Quality", color: "#3b82f6", order: 2}
  - {code: delivery, name: "Delivery", color: "#f59e0b", order: 3}
  - {code: cost, name: "Cost", color: "#10b981", order: 4}
  - {code: performance, name: "Performance", color: "#8b5cf6", order: 5}
  - {code: human, name: "Human", color: "#ec4899", order: 6}
  - {code: environment, name: "Environment", color: "#22c55e", order: 7}
  - {code: workstation, name: "Workstation", color: "#64748b", order: 8}
`
