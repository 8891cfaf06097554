package app

import (
	"context"
	"net/http"
	"sort"

	"github.com/shopspring/decimal"

	"taskdeck/api/internal/position"
	"taskdeck/api/internal/property"
	"taskdeck/api/internal/rbac"
	"taskdeck/api/internal/search"
	"taskdeck/api/internal/store"
	"taskdeck/api/internal/util"
)

type TaskPositionInput struct {
	ID       string          `json:"id"`
	Position decimal.Decimal `json:"position"`
}

type MoveTaskInput struct {
	PrevPosition *decimal.Decimal `json:"prevPosition"`
	NextPosition *decimal.Decimal `json:"nextPosition"`
}

// validateTaskValues checks every provided value against the project's
// property definitions. Unknown keys fail; user references must exist.
func (s *Service) validateTaskValues(ctx context.Context, projectID string, values map[string]string) (map[string]store.Property, error) {
	properties, err := s.store.ListProperties(ctx, projectID)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]store.Property, len(properties))
	for _, p := range properties {
		byKey[p.Key] = p
	}

	for key, value := range values {
		prop, ok := byKey[key]
		if !ok {
			return nil, domainError(http.StatusUnprocessableEntity, "UNKNOWN_PROPERTY", "No property with key "+key, map[string]any{"key": key})
		}
		userIDs, err := property.ValidateValue(property.Type(prop.Type), prop.Options, value)
		if err != nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), map[string]any{"key": key})
		}
		if len(userIDs) > 0 {
			missing, err := s.store.UsersExist(ctx, userIDs)
			if err != nil {
				return nil, err
			}
			if missing != "" {
				return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "No user with id "+missing, map[string]any{"key": key})
			}
		}
	}
	return byKey, nil
}

// CreateTask appends a task to the project with the provided property
// values. Empty values are skipped rather than stored.
func (s *Service) CreateTask(ctx context.Context, projectID, actorID string, values map[string]string) (map[string]any, error) {
	if _, err := s.authorize(ctx, projectID, actorID, rbac.ActionEdit); err != nil {
		return nil, err
	}

	byKey, err := s.validateTaskValues(ctx, projectID, values)
	if err != nil {
		return nil, err
	}

	last, err := s.store.MaxTaskPosition(ctx, projectID)
	if err != nil {
		return nil, err
	}

	task := store.Task{
		ID:        util.NewID("task"),
		ProjectID: projectID,
		Position:  position.Last(last),
	}

	var rows []store.TaskValue
	for key, value := range values {
		if value == "" {
			continue
		}
		rows = append(rows, store.TaskValue{
			TaskID:     task.ID,
			PropertyID: byKey[key].ID,
			Key:        key,
			Value:      value,
		})
	}

	if err := s.store.InsertTask(ctx, task, rows); err != nil {
		return nil, err
	}

	s.reindexTask(ctx, task.ID, projectID)

	payload := map[string]any{
		"id":       task.ID,
		"position": task.Position,
	}
	for _, row := range rows {
		payload[row.Key] = row.Value
	}
	return payload, nil
}

// UpdateTaskValues writes the provided property values. Unlike creation,
// empty strings are stored, clearing the field.
func (s *Service) UpdateTaskValues(ctx context.Context, taskID, actorID string, values map[string]string) (map[string]any, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, task.ProjectID, actorID, rbac.ActionEdit); err != nil {
		return nil, err
	}

	byKey, err := s.validateTaskValues(ctx, task.ProjectID, values)
	if err != nil {
		return nil, err
	}

	for key, value := range values {
		if err := s.store.UpsertTaskValue(ctx, taskID, byKey[key].ID, value); err != nil {
			return nil, err
		}
	}

	s.reindexTask(ctx, taskID, task.ProjectID)

	stored, err := s.store.ListTaskValues(ctx, taskID)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"id":       task.ID,
		"position": task.Position,
	}
	for _, row := range stored {
		payload[row.Key] = row.Value
	}
	return payload, nil
}

func (s *Service) DeleteTask(ctx context.Context, taskID, actorID string) error {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if _, err := s.authorize(ctx, task.ProjectID, actorID, rbac.ActionEdit); err != nil {
		return err
	}
	if err := s.store.SoftDeleteTask(ctx, taskID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteTask(taskID)
	}
	return nil
}

// resolveBulkTasks maps the requested ids to projects and authorizes the
// action on every distinct project before anything is written.
func (s *Service) resolveBulkTasks(ctx context.Context, actorID string, taskIDs []string, action rbac.Action) (map[string]string, error) {
	if len(taskIDs) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "taskIds is required", nil)
	}

	projects, err := s.store.TaskProjectIDs(ctx, taskIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range taskIDs {
		if _, ok := projects[id]; !ok {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", map[string]any{"id": id})
		}
	}

	seen := make(map[string]bool)
	for _, projectID := range projects {
		if seen[projectID] {
			continue
		}
		seen[projectID] = true
		if _, err := s.authorize(ctx, projectID, actorID, action); err != nil {
			return nil, err
		}
	}
	return projects, nil
}

// BulkDeleteTasks deletes every requested task or none of them.
func (s *Service) BulkDeleteTasks(ctx context.Context, actorID string, taskIDs []string) error {
	if _, err := s.resolveBulkTasks(ctx, actorID, taskIDs, rbac.ActionEdit); err != nil {
		return err
	}
	if err := s.store.BulkSoftDeleteTasks(ctx, taskIDs); err != nil {
		return err
	}
	if s.search != nil {
		for _, id := range taskIDs {
			s.search.DeleteTask(id)
		}
	}
	return nil
}

// BulkDuplicateTasks copies every requested task, values included, to the
// tail of its own project. All copies land or none do.
func (s *Service) BulkDuplicateTasks(ctx context.Context, actorID string, taskIDs []string) ([]map[string]any, error) {
	projects, err := s.resolveBulkTasks(ctx, actorID, taskIDs, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}

	// Tail positions continue per project as copies are appended
	tails := make(map[string]*decimal.Decimal)
	specs := make([]store.TaskDuplicate, 0, len(taskIDs))
	for _, sourceID := range taskIDs {
		projectID := projects[sourceID]
		tail, ok := tails[projectID]
		if !ok {
			tail, err = s.store.MaxTaskPosition(ctx, projectID)
			if err != nil {
				return nil, err
			}
		}
		pos := position.Last(tail)
		tails[projectID] = &pos
		specs = append(specs, store.TaskDuplicate{
			SourceID: sourceID,
			NewID:    util.NewID("task"),
			Position: pos,
		})
	}

	if err := s.store.DuplicateTasks(ctx, specs); err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(specs))
	for _, spec := range specs {
		s.reindexTask(ctx, spec.NewID, projects[spec.SourceID])
		items = append(items, map[string]any{
			"id":       spec.NewID,
			"sourceId": spec.SourceID,
			"position": spec.Position,
		})
	}
	return items, nil
}

// ReorderTasks persists client-computed positions. The tasks are resolved
// to their projects first and the edit action is authorized on every
// distinct project before anything is written.
func (s *Service) ReorderTasks(ctx context.Context, actorID string, updates []TaskPositionInput) error {
	if len(updates) == 0 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "tasks is required", nil)
	}

	taskIDs := make([]string, 0, len(updates))
	for _, update := range updates {
		taskIDs = append(taskIDs, update.ID)
	}
	projects, err := s.resolveBulkTasks(ctx, actorID, taskIDs, rbac.ActionEdit)
	if err != nil {
		return err
	}

	byProject := make(map[string][]store.TaskPosition)
	for _, update := range updates {
		projectID := projects[update.ID]
		byProject[projectID] = append(byProject[projectID], store.TaskPosition{ID: update.ID, Position: update.Position})
	}

	for projectID, rows := range byProject {
		// Reject duplicate positions up front; ties would make the
		// resulting order depend on creation time instead of the request.
		sorted := make([]decimal.Decimal, 0, len(rows))
		for _, row := range rows {
			sorted = append(sorted, row.Position)
		}
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
		for i := 1; i < len(sorted); i++ {
			if sorted[i].Equal(sorted[i-1]) {
				return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "positions must be distinct", nil)
			}
		}
		if err := s.store.ReorderTasks(ctx, projectID, rows); err != nil {
			return err
		}
	}
	return nil
}

// MoveTask computes a position between the given neighbors server-side and
// writes it through the reorder path, so crowding triggers a renumber.
func (s *Service) MoveTask(ctx context.Context, taskID, actorID string, input MoveTaskInput) (map[string]any, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, task.ProjectID, actorID, rbac.ActionEdit); err != nil {
		return nil, err
	}

	if input.PrevPosition != nil && input.NextPosition != nil &&
		!input.PrevPosition.LessThan(*input.NextPosition) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "prevPosition must be below nextPosition", nil)
	}

	pos := position.Compute(input.PrevPosition, input.NextPosition)
	err = s.store.ReorderTasks(ctx, task.ProjectID, []store.TaskPosition{{ID: taskID, Position: pos}})
	if err != nil {
		return nil, err
	}

	// The renumber pass may have replaced the computed position
	moved, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":       moved.ID,
		"position": moved.Position,
	}, nil
}

// reindexTask refreshes a task's search record from its stored values.
func (s *Service) reindexTask(ctx context.Context, taskID, projectID string) {
	if s.search == nil {
		return
	}
	values, err := s.store.ListTaskValues(ctx, taskID)
	if err != nil {
		return
	}
	record := search.TaskRecord{ID: taskID, ProjectID: projectID}
	for _, row := range values {
		switch row.Key {
		case "title":
			record.Title = row.Value
		case "description":
			record.Description = row.Value
		}
	}
	s.search.IndexTask(record)
}
