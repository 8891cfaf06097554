package store

import (
	"context"
	"encoding/json"
	"fmt"
)

const menuColumns = `
	id, title, type, COALESCE(url, ''), COALESCE(route_name, ''), COALESCE(icon, ''),
	COALESCE(permissions::text, '[]'), parent_id, "order", is_active, dynamic_query,
	created_at, updated_at
`

func scanMenuItem(row interface{ Scan(...any) error }, item *MenuItem) error {
	var rawPermissions string
	var rawQuery []byte
	if err := row.Scan(
		&item.ID,
		&item.Title,
		&item.Type,
		&item.URL,
		&item.RouteName,
		&item.Icon,
		&rawPermissions,
		&item.ParentID,
		&item.Order,
		&item.IsActive,
		&rawQuery,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(rawPermissions), &item.Permissions); err != nil {
		return fmt.Errorf("decode menu permissions: %w", err)
	}
	if len(rawQuery) > 0 {
		var query DynamicQuery
		if err := json.Unmarshal(rawQuery, &query); err != nil {
			return fmt.Errorf("decode dynamic query: %w", err)
		}
		item.DynamicQuery = &query
	}
	return nil
}

// ListMenuItems returns every menu item ordered for tree assembly: top
// level first, then children by order within each parent.
func (s *PostgresStore) ListMenuItems(ctx context.Context) ([]MenuItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+menuColumns+` FROM menu_items
		ORDER BY parent_id NULLS FIRST, "order" ASC, created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list menu items: %w", err)
	}
	defer rows.Close()

	items := make([]MenuItem, 0)
	for rows.Next() {
		var item MenuItem
		if err := scanMenuItem(rows, &item); err != nil {
			return nil, fmt.Errorf("scan menu item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate menu items: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetMenuItem(ctx context.Context, itemID string) (MenuItem, error) {
	var item MenuItem
	err := scanMenuItem(s.db.QueryRowContext(ctx, `
		SELECT `+menuColumns+` FROM menu_items WHERE id=$1
	`, itemID), &item)
	if err != nil {
		return MenuItem{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertMenuItem(ctx context.Context, item MenuItem) error {
	permissions, rawQuery, err := encodeMenuJSON(item)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO menu_items (id, title, type, url, route_name, icon, permissions, parent_id, "order", is_active, dynamic_query)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, item.ID, item.Title, item.Type, item.URL, item.RouteName, item.Icon,
		permissions, item.ParentID, item.Order, item.IsActive, rawQuery)
	if err != nil {
		return fmt.Errorf("insert menu item: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateMenuItem(ctx context.Context, item MenuItem) error {
	permissions, rawQuery, err := encodeMenuJSON(item)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE menu_items
		SET title=$2, type=$3, url=$4, route_name=$5, icon=$6, permissions=$7,
			parent_id=$8, "order"=$9, is_active=$10, dynamic_query=$11, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Title, item.Type, item.URL, item.RouteName, item.Icon,
		permissions, item.ParentID, item.Order, item.IsActive, rawQuery)
	if err != nil {
		return fmt.Errorf("update menu item: %w", err)
	}
	return nil
}

// DeleteMenuItem removes the item; children cascade away with it.
func (s *PostgresStore) DeleteMenuItem(ctx context.Context, itemID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM menu_items WHERE id=$1`, itemID)
	if err != nil {
		return fmt.Errorf("delete menu item: %w", err)
	}
	return nil
}

// ReparentMenuItems moves the given items under the parent and rewrites
// their orders to the contiguous sequence 1..n, in one transaction. A nil
// parent means top level.
func (s *PostgresStore) ReparentMenuItems(ctx context.Context, parentID *string, orderedIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin menu reorder: %w", err)
	}
	defer tx.Rollback()

	for i, id := range orderedIDs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE menu_items SET parent_id=$2, "order"=$3, updated_at=NOW() WHERE id=$1
		`, id, parentID, i+1); err != nil {
			return fmt.Errorf("reorder menu item %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit menu reorder: %w", err)
	}
	return nil
}

// ListSiblings returns the ids of items under the given parent in display
// order. A nil parent means top level.
func (s *PostgresStore) ListSiblings(ctx context.Context, parentID *string) ([]string, error) {
	query := `SELECT id FROM menu_items WHERE parent_id IS NULL ORDER BY "order" ASC, created_at ASC`
	args := []any{}
	if parentID != nil {
		query = `SELECT id FROM menu_items WHERE parent_id=$1 ORDER BY "order" ASC, created_at ASC`
		args = append(args, *parentID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list menu siblings: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan menu sibling: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate menu siblings: %w", err)
	}
	return ids, nil
}

func encodeMenuJSON(item MenuItem) ([]byte, []byte, error) {
	permissions := item.Permissions
	if permissions == nil {
		permissions = []string{}
	}
	rawPermissions, err := json.Marshal(permissions)
	if err != nil {
		return nil, nil, fmt.Errorf("encode menu permissions: %w", err)
	}
	if item.DynamicQuery == nil {
		return rawPermissions, nil, nil
	}
	rawQuery, err := json.Marshal(item.DynamicQuery)
	if err != nil {
		return nil, nil, fmt.Errorf("encode dynamic query: %w", err)
	}
	return rawPermissions, rawQuery, nil
}
