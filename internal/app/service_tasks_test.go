package app

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"taskdeck/api/internal/property"
	"taskdeck/api/internal/store"
)

func taskTestProperties(projectID string) []store.Property {
	return []store.Property{
		{ID: "prop_title", ProjectID: projectID, Name: "Title", Key: "title", Type: "text"},
		{ID: "prop_status", ProjectID: projectID, Name: "Status", Key: "status", Type: "select", Options: property.Options{
			Values: []property.SelectOption{{Value: "todo", Label: "To Do"}, {Value: "done", Label: "Done"}},
		}},
		{ID: "prop_assignee", ProjectID: projectID, Name: "Assigned To", Key: "assigned_to", Type: "user", Options: property.Options{IsMultiple: true}},
	}
}

func ownerStore(projectID string) *fakeStore {
	return &fakeStore{
		projectRoleFn: func(_ context.Context, pid, _ string) (string, error) {
			if pid == projectID {
				return "owner", nil
			}
			return "", nil
		},
		listPropertiesFn: func(_ context.Context, pid string) ([]store.Property, error) {
			return taskTestProperties(pid), nil
		},
	}
}

func TestCreateTaskAppendsToTail(t *testing.T) {
	ctx := context.Background()
	fs := ownerStore("proj_1")
	tail := decimal.NewFromFloat(2500.5)
	fs.maxTaskPositionFn = func(context.Context, string) (*decimal.Decimal, error) {
		return &tail, nil
	}

	var inserted store.Task
	var insertedValues []store.TaskValue
	fs.insertTaskFn = func(_ context.Context, task store.Task, values []store.TaskValue) error {
		inserted = task
		insertedValues = values
		return nil
	}

	svc := newTestService(fs)
	payload, err := svc.CreateTask(ctx, "proj_1", "user_owner", map[string]string{
		"title":  "Ship it",
		"status": "todo",
	})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	want := decimal.NewFromInt(2502)
	if !inserted.Position.Equal(want) {
		t.Errorf("expected position %s, got %s", want, inserted.Position)
	}
	if len(insertedValues) != 2 {
		t.Fatalf("expected 2 values, got %d", len(insertedValues))
	}
	if payload["title"] != "Ship it" {
		t.Errorf("expected payload to echo the title, got %v", payload["title"])
	}
}

func TestCreateTaskSkipsEmptyValues(t *testing.T) {
	ctx := context.Background()
	fs := ownerStore("proj_1")
	var insertedValues []store.TaskValue
	fs.insertTaskFn = func(_ context.Context, _ store.Task, values []store.TaskValue) error {
		insertedValues = values
		return nil
	}

	svc := newTestService(fs)
	_, err := svc.CreateTask(ctx, "proj_1", "user_owner", map[string]string{
		"title":  "Only title",
		"status": "",
	})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if len(insertedValues) != 1 || insertedValues[0].Key != "title" {
		t.Errorf("expected only the title value to be stored, got %+v", insertedValues)
	}
}

func TestCreateTaskRejectsUnknownProperty(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(ownerStore("proj_1"))

	_, err := svc.CreateTask(ctx, "proj_1", "user_owner", map[string]string{"priority": "high"})
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Code != "UNKNOWN_PROPERTY" {
		t.Fatalf("expected UNKNOWN_PROPERTY, got %v", err)
	}
	if derr.Status != 422 {
		t.Errorf("expected 422, got %d", derr.Status)
	}
}

func TestCreateTaskRejectsInvalidSelectValue(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(ownerStore("proj_1"))

	_, err := svc.CreateTask(ctx, "proj_1", "user_owner", map[string]string{"status": "blocked"})
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestCreateTaskRejectsMissingAssignee(t *testing.T) {
	ctx := context.Background()
	fs := ownerStore("proj_1")
	fs.usersExistFn = func(_ context.Context, ids []string) (string, error) {
		return "user_ghost", nil
	}
	svc := newTestService(fs)

	_, err := svc.CreateTask(ctx, "proj_1", "user_owner", map[string]string{"assigned_to": "user_ghost"})
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR for missing user, got %v", err)
	}
}

func TestCreateTaskForbiddenForMember(t *testing.T) {
	ctx := context.Background()
	fs := ownerStore("proj_1")
	fs.projectRoleFn = func(context.Context, string, string) (string, error) {
		return "member", nil
	}
	svc := newTestService(fs)

	_, err := svc.CreateTask(ctx, "proj_1", "user_member", map[string]string{"title": "Nope"})
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Status != 403 {
		t.Fatalf("expected 403 for member, got %v", err)
	}
}

func TestUpdateTaskValuesStoresEmptyString(t *testing.T) {
	ctx := context.Background()
	fs := ownerStore("proj_1")
	fs.getTaskFn = func(_ context.Context, id string) (store.Task, error) {
		return store.Task{ID: id, ProjectID: "proj_1", Position: decimal.NewFromInt(1000)}, nil
	}
	var upserts []store.TaskValue
	fs.upsertTaskValueFn = func(_ context.Context, taskID, propertyID, value string) error {
		upserts = append(upserts, store.TaskValue{TaskID: taskID, PropertyID: propertyID, Value: value})
		return nil
	}

	svc := newTestService(fs)
	_, err := svc.UpdateTaskValues(ctx, "task_1", "user_owner", map[string]string{"status": ""})
	if err != nil {
		t.Fatalf("UpdateTaskValues failed: %v", err)
	}
	if len(upserts) != 1 || upserts[0].Value != "" {
		t.Errorf("expected an empty-string upsert to clear the field, got %+v", upserts)
	}
}

func TestBulkDeleteAuthorizesEveryProjectFirst(t *testing.T) {
	ctx := context.Background()
	deleted := false
	fs := &fakeStore{
		taskProjectIDsFn: func(context.Context, []string) (map[string]string, error) {
			return map[string]string{"task_a": "proj_mine", "task_b": "proj_theirs"}, nil
		},
		projectRoleFn: func(_ context.Context, projectID, _ string) (string, error) {
			if projectID == "proj_mine" {
				return "owner", nil
			}
			return "", nil
		},
		bulkSoftDeleteTasksFn: func(context.Context, []string) error {
			deleted = true
			return nil
		},
	}
	svc := newTestService(fs)

	err := svc.BulkDeleteTasks(ctx, "user_1", []string{"task_a", "task_b"})
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Status != 404 {
		t.Fatalf("expected 404 for the foreign project, got %v", err)
	}
	if deleted {
		t.Error("expected no deletion when authorization fails")
	}
}

func TestBulkDeleteRejectsUnknownTask(t *testing.T) {
	ctx := context.Background()
	fs := &fakeStore{
		taskProjectIDsFn: func(context.Context, []string) (map[string]string, error) {
			return map[string]string{"task_a": "proj_1"}, nil
		},
		projectRoleFn: func(context.Context, string, string) (string, error) {
			return "owner", nil
		},
	}
	svc := newTestService(fs)

	err := svc.BulkDeleteTasks(ctx, "user_1", []string{"task_a", "task_missing"})
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Status != 404 {
		t.Fatalf("expected 404 for the unknown task, got %v", err)
	}
	details, _ := derr.Details.(map[string]any)
	if details["id"] != "task_missing" {
		t.Errorf("expected the missing id in details, got %v", derr.Details)
	}
}

func TestBulkDuplicateChainsTailPositions(t *testing.T) {
	ctx := context.Background()
	tail := decimal.NewFromInt(3000)
	var specs []store.TaskDuplicate
	fs := &fakeStore{
		taskProjectIDsFn: func(context.Context, []string) (map[string]string, error) {
			return map[string]string{"task_a": "proj_1", "task_b": "proj_1"}, nil
		},
		projectRoleFn: func(context.Context, string, string) (string, error) {
			return "admin", nil
		},
		maxTaskPositionFn: func(context.Context, string) (*decimal.Decimal, error) {
			return &tail, nil
		},
		duplicateTasksFn: func(_ context.Context, got []store.TaskDuplicate) error {
			specs = got
			return nil
		},
	}
	svc := newTestService(fs)

	items, err := svc.BulkDuplicateTasks(ctx, "user_1", []string{"task_a", "task_b"})
	if err != nil {
		t.Fatalf("BulkDuplicateTasks failed: %v", err)
	}
	if len(items) != 2 || len(specs) != 2 {
		t.Fatalf("expected 2 copies, got %d items %d specs", len(items), len(specs))
	}
	if !specs[0].Position.Equal(decimal.NewFromInt(3001)) {
		t.Errorf("expected first copy at 3001, got %s", specs[0].Position)
	}
	if !specs[1].Position.Equal(decimal.NewFromInt(3002)) {
		t.Errorf("expected second copy chained to 3002, got %s", specs[1].Position)
	}
}

func TestReorderTasksRejectsDuplicatePositions(t *testing.T) {
	ctx := context.Background()
	fs := &fakeStore{
		taskProjectIDsFn: func(context.Context, []string) (map[string]string, error) {
			return map[string]string{"task_a": "proj_1", "task_b": "proj_1"}, nil
		},
		projectRoleFn: func(context.Context, string, string) (string, error) {
			return "owner", nil
		},
	}
	svc := newTestService(fs)

	err := svc.ReorderTasks(ctx, "user_1", []TaskPositionInput{
		{ID: "task_a", Position: decimal.NewFromInt(1000)},
		{ID: "task_b", Position: decimal.NewFromInt(1000)},
	})
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Status != 422 {
		t.Fatalf("expected 422 for duplicate positions, got %v", err)
	}
}

func TestReorderTasksRequiresEntries(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(&fakeStore{})

	err := svc.ReorderTasks(ctx, "user_1", nil)
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Status != 422 {
		t.Fatalf("expected 422 for empty reorder, got %v", err)
	}
}

func TestReorderTasksGroupsWritesByProject(t *testing.T) {
	ctx := context.Background()
	written := map[string][]store.TaskPosition{}
	fs := &fakeStore{
		taskProjectIDsFn: func(context.Context, []string) (map[string]string, error) {
			return map[string]string{"task_a": "proj_1", "task_b": "proj_2"}, nil
		},
		projectRoleFn: func(context.Context, string, string) (string, error) {
			return "admin", nil
		},
		reorderTasksFn: func(_ context.Context, projectID string, rows []store.TaskPosition) error {
			written[projectID] = rows
			return nil
		},
	}
	svc := newTestService(fs)

	err := svc.ReorderTasks(ctx, "user_1", []TaskPositionInput{
		{ID: "task_a", Position: decimal.NewFromInt(1000)},
		{ID: "task_b", Position: decimal.NewFromInt(1000)},
	})
	if err != nil {
		t.Fatalf("ReorderTasks failed: %v", err)
	}
	if len(written["proj_1"]) != 1 || len(written["proj_2"]) != 1 {
		t.Fatalf("expected one write per project, got %v", written)
	}
}

func TestReorderTasksHidesForeignProjects(t *testing.T) {
	ctx := context.Background()
	var wrote bool
	fs := &fakeStore{
		taskProjectIDsFn: func(context.Context, []string) (map[string]string, error) {
			return map[string]string{"task_a": "proj_mine", "task_b": "proj_theirs"}, nil
		},
		projectRoleFn: func(_ context.Context, projectID, _ string) (string, error) {
			if projectID == "proj_mine" {
				return "owner", nil
			}
			return "", nil
		},
		reorderTasksFn: func(context.Context, string, []store.TaskPosition) error {
			wrote = true
			return nil
		},
	}
	svc := newTestService(fs)

	err := svc.ReorderTasks(ctx, "user_1", []TaskPositionInput{
		{ID: "task_a", Position: decimal.NewFromInt(1000)},
		{ID: "task_b", Position: decimal.NewFromInt(2000)},
	})
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Status != 404 {
		t.Fatalf("expected 404 for the foreign project, got %v", err)
	}
	if wrote {
		t.Error("no positions should be written when authorization fails")
	}
}

func TestMoveTaskBetweenNeighbors(t *testing.T) {
	ctx := context.Background()
	var written []store.TaskPosition
	fs := &fakeStore{
		getTaskFn: func(_ context.Context, id string) (store.Task, error) {
			pos := decimal.NewFromInt(5000)
			if len(written) > 0 {
				pos = written[0].Position
			}
			return store.Task{ID: id, ProjectID: "proj_1", Position: pos}, nil
		},
		projectRoleFn: func(context.Context, string, string) (string, error) {
			return "owner", nil
		},
		reorderTasksFn: func(_ context.Context, _ string, updates []store.TaskPosition) error {
			written = updates
			return nil
		},
	}
	svc := newTestService(fs)

	prev := decimal.NewFromInt(1000)
	next := decimal.NewFromInt(2000)
	payload, err := svc.MoveTask(ctx, "task_1", "user_1", MoveTaskInput{PrevPosition: &prev, NextPosition: &next})
	if err != nil {
		t.Fatalf("MoveTask failed: %v", err)
	}
	want := decimal.NewFromInt(1500)
	if !written[0].Position.Equal(want) {
		t.Errorf("expected written position %s, got %s", want, written[0].Position)
	}
	got, ok := payload["position"].(decimal.Decimal)
	if !ok || !got.Equal(want) {
		t.Errorf("expected payload position %s, got %v", want, payload["position"])
	}
}

func TestMoveTaskRejectsInvertedNeighbors(t *testing.T) {
	ctx := context.Background()
	fs := &fakeStore{
		getTaskFn: func(_ context.Context, id string) (store.Task, error) {
			return store.Task{ID: id, ProjectID: "proj_1"}, nil
		},
		projectRoleFn: func(context.Context, string, string) (string, error) {
			return "owner", nil
		},
	}
	svc := newTestService(fs)

	prev := decimal.NewFromInt(2000)
	next := decimal.NewFromInt(1000)
	_, err := svc.MoveTask(ctx, "task_1", "user_1", MoveTaskInput{PrevPosition: &prev, NextPosition: &next})
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Status != 422 {
		t.Fatalf("expected 422 for inverted neighbors, got %v", err)
	}
}
