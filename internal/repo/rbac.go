package repo

import (
	"context"
	"database/sql"
	"sort"

	"shopfloor/internal/config"
	"shopfloor/internal/engine/auth"
)

func (r Repo) InsertRole(ctx context.Context, tx *sql.Tx, id, desc string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO roles(id, description) VALUES (?,?)
ON CONFLICT(id) DO UPDATE SET description=excluded.description`, id, nullable(desc))
	return err
}

func (r Repo) InsertPermission(ctx context.Context, tx *sql.Tx, id, desc string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO permissions(id, description) VALUES (?,?)`, id, nullable(desc))
	return err
}

func (r Repo) AddRolePermission(ctx context.Context, tx *sql.Tx, roleID, permID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO role_permissions(role_id, permission_id) VALUES (?,?)`, roleID, permID)
	return err
}

// SyncRoles replaces the stored role catalog with the config matrix. Roles
// dropped from the config lose their grants.
func (r Repo) SyncRoles(ctx context.Context, tx *sql.Tx, cfg *config.Config) error {
	for _, p := range auth.AllPermissions {
		if err := r.InsertPermission(ctx, tx, string(p), ""); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions`); err != nil {
		return err
	}
	roleIDs := make([]string, 0, len(cfg.RBAC.Roles))
	for id := range cfg.RBAC.Roles {
		roleIDs = append(roleIDs, id)
	}
	sort.Strings(roleIDs)
	for _, id := range roleIDs {
		role := cfg.RBAC.Roles[id]
		if err := r.InsertRole(ctx, tx, id, role.Description); err != nil {
			return err
		}
		for _, p := range role.Permissions {
			if err := r.AddRolePermission(ctx, tx, id, p); err != nil {
				return err
			}
		}
	}
	return nil
}

// RolePermissionTable reads back the stored matrix; roles without grants map
// to an empty list.
func (r Repo) RolePermissionTable(ctx context.Context) (map[auth.Role][]auth.Permission, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT r.id, rp.permission_id FROM roles r
LEFT JOIN role_permissions rp ON rp.role_id = r.id ORDER BY r.id, rp.permission_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	table := make(map[auth.Role][]auth.Permission)
	for rows.Next() {
		var role string
		var perm sql.NullString
		if err := rows.Scan(&role, &perm); err != nil {
			return nil, err
		}
		if _, ok := table[auth.Role(role)]; !ok {
			table[auth.Role(role)] = []auth.Permission{}
		}
		if perm.Valid {
			table[auth.Role(role)] = append(table[auth.Role(role)], auth.Permission(perm.String))
		}
	}
	return table, rows.Err()
}
