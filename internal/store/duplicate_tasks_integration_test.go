package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"taskdeck/api/internal/util"
)

// TestDuplicateTasksClonesValueRows verifies that a duplicated task carries
// an exact copy of every (property, value) row of its source, including
// empty strings, while the copy gets its own id and position.
func TestDuplicateTasksClonesValueRows(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := Open(ctx, databaseURL)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	s := NewPostgresStore(db)

	userID := util.NewID("user")
	projectID := util.NewID("proj")
	_, err = db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash)
		VALUES ($1, 'Dup Tester', $1 || '@example.com', 'x')
	`, userID)
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO projects (id, owner_id, name) VALUES ($1, $2, 'Duplication')
	`, projectID, userID)
	if err != nil {
		t.Fatalf("insert project: %v", err)
	}

	titleProp := util.NewID("prop")
	notesProp := util.NewID("prop")
	for i, spec := range []struct{ id, name, key string }{
		{titleProp, "Title", "title"},
		{notesProp, "Notes", "notes"},
	} {
		_, err = db.ExecContext(ctx, `
			INSERT INTO project_properties (id, project_id, name, key, type, "order")
			VALUES ($1, $2, $3, $4, 'text', $5)
		`, spec.id, projectID, spec.name, spec.key, i+1)
		if err != nil {
			t.Fatalf("insert property %s: %v", spec.key, err)
		}
	}

	sourceID := util.NewID("task")
	err = s.InsertTask(ctx, Task{ID: sourceID, ProjectID: projectID, Position: decimal.NewFromInt(1000)}, []TaskValue{
		{PropertyID: titleProp, Value: "Ship the release"},
		{PropertyID: notesProp, Value: ""},
	})
	if err != nil {
		t.Fatalf("insert source task: %v", err)
	}

	newID := util.NewID("task")
	err = s.DuplicateTasks(ctx, []TaskDuplicate{
		{SourceID: sourceID, NewID: newID, Position: decimal.NewFromInt(2000)},
	})
	if err != nil {
		t.Fatalf("duplicate task: %v", err)
	}

	copyTask, err := s.GetTask(ctx, newID)
	if err != nil {
		t.Fatalf("get copy: %v", err)
	}
	if copyTask.ProjectID != projectID {
		t.Errorf("expected copy in project %s, got %s", projectID, copyTask.ProjectID)
	}
	if !copyTask.Position.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("expected copy at 2000, got %s", copyTask.Position)
	}

	sourceValues, err := s.ListTaskValues(ctx, sourceID)
	if err != nil {
		t.Fatalf("list source values: %v", err)
	}
	copyValues, err := s.ListTaskValues(ctx, newID)
	if err != nil {
		t.Fatalf("list copy values: %v", err)
	}
	if len(copyValues) != len(sourceValues) || len(copyValues) != 2 {
		t.Fatalf("expected %d cloned value rows, got %d", len(sourceValues), len(copyValues))
	}

	byProperty := func(values []TaskValue) map[string]string {
		out := make(map[string]string, len(values))
		for _, v := range values {
			out[v.PropertyID] = v.Value
		}
		return out
	}
	source := byProperty(sourceValues)
	clone := byProperty(copyValues)
	for propertyID, value := range source {
		got, ok := clone[propertyID]
		if !ok {
			t.Errorf("property %s missing from the copy", propertyID)
			continue
		}
		if got != value {
			t.Errorf("property %s: expected %q, got %q", propertyID, value, got)
		}
	}
}
