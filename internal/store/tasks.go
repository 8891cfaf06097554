package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"taskdeck/api/internal/position"
)

// ---- tasks ----

func (s *PostgresStore) InsertTask(ctx context.Context, task Task, values []TaskValue) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert task: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, project_id, position) VALUES ($1, $2, $3)
	`, task.ID, task.ProjectID, task.Position)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	for _, value := range values {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO task_properties (task_id, property_id, value) VALUES ($1, $2, $3)
		`, task.ID, value.PropertyID, value.Value)
		if err != nil {
			return fmt.Errorf("insert task value: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	var task Task
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, position, created_at, updated_at
		FROM tasks WHERE id=$1 AND deleted_at IS NULL
	`, taskID).Scan(&task.ID, &task.ProjectID, &task.Position, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return Task{}, err
	}
	return task, nil
}

// ListTasksWithValues returns live tasks ordered by position with their
// property values keyed by property key.
func (s *PostgresStore) ListTasksWithValues(ctx context.Context, projectID string) ([]TaskWithValues, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, position, created_at, updated_at
		FROM tasks WHERE project_id=$1 AND deleted_at IS NULL
		ORDER BY position ASC, created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]TaskWithValues, 0)
	index := make(map[string]int)
	for rows.Next() {
		var task Task
		if err := rows.Scan(&task.ID, &task.ProjectID, &task.Position, &task.CreatedAt, &task.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		index[task.ID] = len(items)
		items = append(items, TaskWithValues{Task: task, Values: make(map[string]string)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	if len(items) == 0 {
		return items, nil
	}

	valueRows, err := s.db.QueryContext(ctx, `
		SELECT tp.task_id, pp.key, tp.value
		FROM task_properties tp
		JOIN project_properties pp ON pp.id = tp.property_id
		JOIN tasks t ON t.id = tp.task_id
		WHERE t.project_id=$1 AND t.deleted_at IS NULL
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list task values: %w", err)
	}
	defer valueRows.Close()

	for valueRows.Next() {
		var taskID, key, value string
		if err := valueRows.Scan(&taskID, &key, &value); err != nil {
			return nil, fmt.Errorf("scan task value: %w", err)
		}
		if i, ok := index[taskID]; ok {
			items[i].Values[key] = value
		}
	}
	if err := valueRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task values: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListTaskValues(ctx context.Context, taskID string) ([]TaskValue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tp.task_id, tp.property_id, pp.key, tp.value
		FROM task_properties tp
		JOIN project_properties pp ON pp.id = tp.property_id
		WHERE tp.task_id=$1
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list values: %w", err)
	}
	defer rows.Close()

	items := make([]TaskValue, 0)
	for rows.Next() {
		var item TaskValue
		if err := rows.Scan(&item.TaskID, &item.PropertyID, &item.Key, &item.Value); err != nil {
			return nil, fmt.Errorf("scan value: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate values: %w", err)
	}
	return items, nil
}

// UpsertTaskValue writes a single property value, replacing any prior value
// for the same task and property.
func (s *PostgresStore) UpsertTaskValue(ctx context.Context, taskID, propertyID, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_properties (task_id, property_id, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (task_id, property_id) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()
	`, taskID, propertyID, value)
	if err != nil {
		return fmt.Errorf("upsert task value: %w", err)
	}
	return nil
}

func (s *PostgresStore) SoftDeleteTask(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET deleted_at=NOW() WHERE id=$1 AND deleted_at IS NULL
	`, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// BulkSoftDeleteTasks marks all the given tasks deleted in one transaction.
// Either every task is deleted or none are.
func (s *PostgresStore) BulkSoftDeleteTasks(ctx context.Context, taskIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk delete: %w", err)
	}
	defer tx.Rollback()

	for _, id := range taskIDs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET deleted_at=NOW() WHERE id=$1 AND deleted_at IS NULL
		`, id); err != nil {
			return fmt.Errorf("bulk delete task %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bulk delete: %w", err)
	}
	return nil
}

// DuplicateTasks inserts copies of the given tasks with fresh ids and
// positions, cloning every property value, in one transaction.
func (s *PostgresStore) DuplicateTasks(ctx context.Context, specs []TaskDuplicate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin duplicate: %w", err)
	}
	defer tx.Rollback()

	for _, spec := range specs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, project_id, position)
			SELECT $2, project_id, $3 FROM tasks WHERE id=$1 AND deleted_at IS NULL
		`, spec.SourceID, spec.NewID, spec.Position)
		if err != nil {
			return fmt.Errorf("duplicate task %s: %w", spec.SourceID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO task_properties (task_id, property_id, value)
			SELECT $2, property_id, value FROM task_properties WHERE task_id=$1
		`, spec.SourceID, spec.NewID)
		if err != nil {
			return fmt.Errorf("duplicate task values %s: %w", spec.SourceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit duplicate: %w", err)
	}
	return nil
}

// MaxTaskPosition returns the highest live position in the project, or
// nil when the project has no live tasks.
func (s *PostgresStore) MaxTaskPosition(ctx context.Context, projectID string) (*decimal.Decimal, error) {
	var max decimal.NullDecimal
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(position) FROM tasks WHERE project_id=$1 AND deleted_at IS NULL
	`, projectID).Scan(&max)
	if err != nil {
		return nil, fmt.Errorf("max task position: %w", err)
	}
	if !max.Valid {
		return nil, nil
	}
	return &max.Decimal, nil
}

// TaskProjectIDs maps each live task id to its project id. Ids with no
// live task are absent from the result.
func (s *PostgresStore) TaskProjectIDs(ctx context.Context, taskIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(taskIDs))
	for _, id := range taskIDs {
		var projectID string
		err := s.db.QueryRowContext(ctx, `
			SELECT project_id FROM tasks WHERE id=$1 AND deleted_at IS NULL
		`, id).Scan(&projectID)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("task project %s: %w", id, err)
		}
		out[id] = projectID
	}
	return out, nil
}

// ReorderTasks persists a client-supplied position list for one project in
// a single transaction. Project rows are locked for the duration so that
// concurrent reorders serialize, and if the written order leaves any
// adjacent gap below the minimum the whole project is renumbered before
// commit.
func (s *PostgresStore) ReorderTasks(ctx context.Context, projectID string, updates []TaskPosition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM tasks WHERE project_id=$1 AND deleted_at IS NULL FOR UPDATE
	`, projectID)
	if err != nil {
		return fmt.Errorf("lock tasks: %w", err)
	}
	valid := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan locked task: %w", err)
		}
		valid[id] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate locked tasks: %w", err)
	}
	rows.Close()

	for _, update := range updates {
		if !valid[update.ID] {
			return fmt.Errorf("task %s is not in project %s", update.ID, projectID)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET position=$2, updated_at=NOW() WHERE id=$1
		`, update.ID, update.Position); err != nil {
			return fmt.Errorf("reorder task %s: %w", update.ID, err)
		}
	}

	if err := rebalanceIfCrowded(ctx, tx, projectID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reorder: %w", err)
	}
	return nil
}

// rebalanceIfCrowded renumbers the project's live tasks to wide even
// positions when any adjacent pair has drifted below the minimum gap.
func rebalanceIfCrowded(ctx context.Context, tx *sql.Tx, projectID string) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, position FROM tasks
		WHERE project_id=$1 AND deleted_at IS NULL
		ORDER BY position ASC, created_at ASC
	`, projectID)
	if err != nil {
		return fmt.Errorf("read positions: %w", err)
	}
	var ids []string
	var positions []decimal.Decimal
	for rows.Next() {
		var id string
		var pos decimal.Decimal
		if err := rows.Scan(&id, &pos); err != nil {
			rows.Close()
			return fmt.Errorf("scan position: %w", err)
		}
		ids = append(ids, id)
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate positions: %w", err)
	}
	rows.Close()

	if !position.NeedsRebalance(positions) {
		return nil
	}

	fresh := position.Renumber(len(ids))
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET position=$2, updated_at=NOW() WHERE id=$1
		`, id, fresh[i]); err != nil {
			return fmt.Errorf("renumber task %s: %w", id, err)
		}
	}
	return nil
}

// BackfillTaskPositions assigns wide even positions, in creation order, to
// tasks in projects where no task has a position yet. Projects that already
// carry positions are left alone.
func (s *PostgresStore) BackfillTaskPositions(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id FROM tasks
		WHERE deleted_at IS NULL
		GROUP BY project_id
		HAVING MAX(position) = 0 AND MIN(position) = 0 AND COUNT(*) > 0
	`)
	if err != nil {
		return fmt.Errorf("find backfill projects: %w", err)
	}
	var projectIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan backfill project: %w", err)
		}
		projectIDs = append(projectIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate backfill projects: %w", err)
	}
	rows.Close()

	for _, projectID := range projectIDs {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin backfill %s: %w", projectID, err)
		}

		taskRows, err := tx.QueryContext(ctx, `
			SELECT id FROM tasks WHERE project_id=$1 AND deleted_at IS NULL
			ORDER BY created_at ASC FOR UPDATE
		`, projectID)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("read backfill tasks %s: %w", projectID, err)
		}
		var ids []string
		for taskRows.Next() {
			var id string
			if err := taskRows.Scan(&id); err != nil {
				taskRows.Close()
				_ = tx.Rollback()
				return fmt.Errorf("scan backfill task: %w", err)
			}
			ids = append(ids, id)
		}
		if err := taskRows.Err(); err != nil {
			taskRows.Close()
			_ = tx.Rollback()
			return fmt.Errorf("iterate backfill tasks: %w", err)
		}
		taskRows.Close()

		fresh := position.Renumber(len(ids))
		for i, id := range ids {
			if _, err := tx.ExecContext(ctx, `
				UPDATE tasks SET position=$2 WHERE id=$1
			`, id, fresh[i]); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("backfill task %s: %w", id, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit backfill %s: %w", projectID, err)
		}
	}
	return nil
}
