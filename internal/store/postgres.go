package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, avatar)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Avatar)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, COALESCE(avatar, '')
		FROM users WHERE LOWER(email) = LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Avatar)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, COALESCE(avatar, '')
		FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Avatar)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// UsersExist returns the first id from the list that does not reference a
// stored user, or "" when all exist.
func (s *PostgresStore) UsersExist(ctx context.Context, userIDs []string) (string, error) {
	for _, id := range userIDs {
		var exists bool
		err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id=$1)`, id).Scan(&exists)
		if err != nil {
			return "", fmt.Errorf("check user %s: %w", id, err)
		}
		if !exists {
			return id, nil
		}
	}
	return "", nil
}

// ---- refresh sessions (Postgres fallback when Redis is not configured) ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- projects ----

const projectColumns = `
	p.id, p.owner_id, p.name, COALESCE(p.icon, ''), COALESCE(p.description, ''),
	p.status, p.due_date, COALESCE(p.view_layout, ''), COALESCE(p.modal_size, ''),
	p.created_at, p.updated_at
`

func scanProject(row interface{ Scan(...any) error }, item *Project) error {
	return row.Scan(
		&item.ID,
		&item.OwnerID,
		&item.Name,
		&item.Icon,
		&item.Description,
		&item.Status,
		&item.DueDate,
		&item.ViewLayout,
		&item.ModalSize,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
}

// ListProjectsForUser returns projects the user owns or belongs to, newest
// first, with live task counts.
func (s *PostgresStore) ListProjectsForUser(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectColumns+`,
			(SELECT COUNT(*) FROM tasks t WHERE t.project_id = p.id AND t.deleted_at IS NULL) AS task_count
		FROM projects p
		WHERE p.deleted_at IS NULL
			AND (p.owner_id = $1 OR EXISTS (
				SELECT 1 FROM project_members pm WHERE pm.project_id = p.id AND pm.user_id = $1
			))
		ORDER BY p.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var item Project
		if err := rows.Scan(
			&item.ID, &item.OwnerID, &item.Name, &item.Icon, &item.Description,
			&item.Status, &item.DueDate, &item.ViewLayout, &item.ModalSize,
			&item.CreatedAt, &item.UpdatedAt, &item.TaskCount,
		); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var item Project
	err := scanProject(s.db.QueryRowContext(ctx, `
		SELECT `+projectColumns+` FROM projects p WHERE p.id=$1 AND p.deleted_at IS NULL
	`, projectID), &item)
	if err != nil {
		return Project{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertProject(ctx context.Context, item Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, owner_id, name, icon, description, status, due_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.OwnerID, item.Name, item.Icon, item.Description, item.Status, item.DueDate)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, item Project) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE projects
		SET name=$2, icon=$3, description=$4, status=$5, due_date=$6, updated_at=NOW()
		WHERE id=$1 AND deleted_at IS NULL
	`, item.ID, item.Name, item.Icon, item.Description, item.Status, item.DueDate)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProjectPreferences(ctx context.Context, projectID, viewLayout, modalSize string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE projects SET view_layout=$2, modal_size=$3, updated_at=NOW()
		WHERE id=$1 AND deleted_at IS NULL
	`, projectID, viewLayout, modalSize)
	if err != nil {
		return fmt.Errorf("update project preferences: %w", err)
	}
	return nil
}

func (s *PostgresStore) SoftDeleteProject(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE projects SET deleted_at=NOW() WHERE id=$1 AND deleted_at IS NULL
	`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

// ListActiveProjectsForUser backs dynamic menu expansion.
func (s *PostgresStore) ListActiveProjectsForUser(ctx context.Context, userID string, limit int) ([]Project, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects p
		WHERE p.deleted_at IS NULL AND p.status = 'active'
			AND (p.owner_id = $1 OR EXISTS (
				SELECT 1 FROM project_members pm WHERE pm.project_id = p.id AND pm.user_id = $1
			))
		ORDER BY p.created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list active projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var item Project
		if err := scanProject(rows, &item); err != nil {
			return nil, fmt.Errorf("scan active project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active projects: %w", err)
	}
	return items, nil
}

// AccessibleProjectIDs returns ids of live projects the user owns or belongs to.
func (s *PostgresStore) AccessibleProjectIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id FROM projects p
		WHERE p.deleted_at IS NULL
			AND (p.owner_id = $1 OR EXISTS (
				SELECT 1 FROM project_members pm WHERE pm.project_id = p.id AND pm.user_id = $1
			))
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("accessible project ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project ids: %w", err)
	}
	return ids, nil
}

// ---- project members ----

// ProjectRole resolves the actor's role on a project: "owner" for the
// project owner, the pivot role for members, "" for everyone else.
func (s *PostgresStore) ProjectRole(ctx context.Context, projectID, userID string) (string, error) {
	var ownerID string
	err := s.db.QueryRowContext(ctx, `
		SELECT owner_id FROM projects WHERE id=$1 AND deleted_at IS NULL
	`, projectID).Scan(&ownerID)
	if err != nil {
		return "", err
	}
	if ownerID == userID {
		return "owner", nil
	}

	var role string
	err = s.db.QueryRowContext(ctx, `
		SELECT role FROM project_members WHERE project_id=$1 AND user_id=$2
	`, projectID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read project role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) ListProjectMembers(ctx context.Context, projectID string) ([]ProjectMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.display_name, u.email, COALESCE(u.avatar, ''), pm.role
		FROM project_members pm
		JOIN users u ON u.id = pm.user_id
		WHERE pm.project_id=$1
		ORDER BY pm.created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project members: %w", err)
	}
	defer rows.Close()

	items := make([]ProjectMember, 0)
	for rows.Next() {
		var item ProjectMember
		if err := rows.Scan(&item.UserID, &item.DisplayName, &item.Email, &item.Avatar, &item.Role); err != nil {
			return nil, fmt.Errorf("scan project member: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) IsProjectMember(ctx context.Context, projectID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM project_members WHERE project_id=$1 AND user_id=$2)
	`, projectID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check project member: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) AddProjectMember(ctx context.Context, projectID, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_members (project_id, user_id, role)
		VALUES ($1, $2, $3)
	`, projectID, userID, role)
	if err != nil {
		return fmt.Errorf("add project member: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProjectMemberRole(ctx context.Context, projectID, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE project_members SET role=$3, updated_at=NOW() WHERE project_id=$1 AND user_id=$2
	`, projectID, userID, role)
	if err != nil {
		return fmt.Errorf("update project member role: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveProjectMember(ctx context.Context, projectID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM project_members WHERE project_id=$1 AND user_id=$2
	`, projectID, userID)
	if err != nil {
		return fmt.Errorf("remove project member: %w", err)
	}
	return nil
}

// ---- project properties ----

const propertyColumns = `
	id, project_id, name, key, type, COALESCE(icon, ''), is_visible, show_in_form,
	"order", COALESCE(options::text, '{}'), created_at, updated_at
`

func scanProperty(row interface{ Scan(...any) error }, item *Property) error {
	var rawOptions string
	if err := row.Scan(
		&item.ID,
		&item.ProjectID,
		&item.Name,
		&item.Key,
		&item.Type,
		&item.Icon,
		&item.IsVisible,
		&item.ShowInForm,
		&item.Order,
		&rawOptions,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(rawOptions), &item.Options); err != nil {
		return fmt.Errorf("decode property options: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListProperties(ctx context.Context, projectID string) ([]Property, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+propertyColumns+` FROM project_properties
		WHERE project_id=$1
		ORDER BY "order" ASC, created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	defer rows.Close()

	items := make([]Property, 0)
	for rows.Next() {
		var item Property
		if err := scanProperty(rows, &item); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate properties: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetProperty(ctx context.Context, projectID, propertyID string) (Property, error) {
	var item Property
	err := scanProperty(s.db.QueryRowContext(ctx, `
		SELECT `+propertyColumns+` FROM project_properties WHERE project_id=$1 AND id=$2
	`, projectID, propertyID), &item)
	if err != nil {
		return Property{}, err
	}
	return item, nil
}

func (s *PostgresStore) PropertyKeyExists(ctx context.Context, projectID, key string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM project_properties WHERE project_id=$1 AND key=$2)
	`, projectID, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check property key: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) MaxPropertyOrder(ctx context.Context, projectID string) (int, error) {
	var max int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX("order"), 0) FROM project_properties WHERE project_id=$1
	`, projectID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max property order: %w", err)
	}
	return max, nil
}

func (s *PostgresStore) InsertProperty(ctx context.Context, item Property) error {
	options, err := json.Marshal(item.Options)
	if err != nil {
		return fmt.Errorf("encode property options: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO project_properties (id, project_id, name, key, type, icon, is_visible, show_in_form, "order", options)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, item.ID, item.ProjectID, item.Name, item.Key, item.Type, item.Icon, item.IsVisible, item.ShowInForm, item.Order, options)
	if err != nil {
		return fmt.Errorf("insert property: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProperty(ctx context.Context, item Property) error {
	options, err := json.Marshal(item.Options)
	if err != nil {
		return fmt.Errorf("encode property options: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE project_properties
		SET name=$3, key=$4, type=$5, icon=$6, is_visible=$7, show_in_form=$8, options=$9, updated_at=NOW()
		WHERE project_id=$1 AND id=$2
	`, item.ProjectID, item.ID, item.Name, item.Key, item.Type, item.Icon, item.IsVisible, item.ShowInForm, options)
	if err != nil {
		return fmt.Errorf("update property: %w", err)
	}
	return nil
}

// UpdatePropertyOrder writes one row of a bulk visual reorder. Rows are
// updated independently; visual order is not safety-critical.
func (s *PostgresStore) UpdatePropertyOrder(ctx context.Context, projectID, propertyID string, order int, isVisible bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE project_properties SET "order"=$3, is_visible=$4, updated_at=NOW()
		WHERE project_id=$1 AND id=$2
	`, projectID, propertyID, order, isVisible)
	if err != nil {
		return fmt.Errorf("update property order: %w", err)
	}
	return nil
}

// DeleteProperty removes the definition; task values cascade away with it.
func (s *PostgresStore) DeleteProperty(ctx context.Context, projectID, propertyID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM project_properties WHERE project_id=$1 AND id=$2
	`, projectID, propertyID)
	if err != nil {
		return fmt.Errorf("delete property: %w", err)
	}
	return nil
}
