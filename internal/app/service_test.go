package app

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"taskdeck/api/internal/auth"
	"taskdeck/api/internal/config"
	"taskdeck/api/internal/search"
	"taskdeck/api/internal/store"
)

type fakeStore struct {
	createUserFn     func(context.Context, store.User) error
	getUserByEmailFn func(context.Context, string) (store.User, error)
	getUserByIDFn    func(context.Context, string) (store.User, error)
	usersExistFn     func(context.Context, []string) (string, error)

	saveRefreshSessionFn   func(context.Context, string, string, time.Time) error
	lookupRefreshSessionFn func(context.Context, string) (store.User, error)
	revokeRefreshSessionFn func(context.Context, string) error
	revokeAccessTokenFn    func(context.Context, string, time.Time) error
	isAccessTokenRevokedFn func(context.Context, string) (bool, error)

	listProjectsForUserFn       func(context.Context, string) ([]store.Project, error)
	getProjectFn                func(context.Context, string) (store.Project, error)
	insertProjectFn             func(context.Context, store.Project) error
	updateProjectFn             func(context.Context, store.Project) error
	updateProjectPreferencesFn  func(context.Context, string, string, string) error
	softDeleteProjectFn         func(context.Context, string) error
	listActiveProjectsForUserFn func(context.Context, string, int) ([]store.Project, error)
	accessibleProjectIDsFn      func(context.Context, string) ([]string, error)

	projectRoleFn             func(context.Context, string, string) (string, error)
	listProjectMembersFn      func(context.Context, string) ([]store.ProjectMember, error)
	isProjectMemberFn         func(context.Context, string, string) (bool, error)
	addProjectMemberFn        func(context.Context, string, string, string) error
	updateProjectMemberRoleFn func(context.Context, string, string, string) error
	removeProjectMemberFn     func(context.Context, string, string) error

	listPropertiesFn      func(context.Context, string) ([]store.Property, error)
	getPropertyFn         func(context.Context, string, string) (store.Property, error)
	propertyKeyExistsFn   func(context.Context, string, string) (bool, error)
	maxPropertyOrderFn    func(context.Context, string) (int, error)
	insertPropertyFn      func(context.Context, store.Property) error
	updatePropertyFn      func(context.Context, store.Property) error
	updatePropertyOrderFn func(context.Context, string, string, int, bool) error
	deletePropertyFn      func(context.Context, string, string) error

	insertTaskFn            func(context.Context, store.Task, []store.TaskValue) error
	getTaskFn               func(context.Context, string) (store.Task, error)
	listTasksWithValuesFn   func(context.Context, string) ([]store.TaskWithValues, error)
	listTaskValuesFn        func(context.Context, string) ([]store.TaskValue, error)
	upsertTaskValueFn       func(context.Context, string, string, string) error
	softDeleteTaskFn        func(context.Context, string) error
	bulkSoftDeleteTasksFn   func(context.Context, []string) error
	duplicateTasksFn        func(context.Context, []store.TaskDuplicate) error
	maxTaskPositionFn       func(context.Context, string) (*decimal.Decimal, error)
	taskProjectIDsFn        func(context.Context, []string) (map[string]string, error)
	reorderTasksFn          func(context.Context, string, []store.TaskPosition) error
	backfillTaskPositionsFn func(context.Context) error

	listMenuItemsFn     func(context.Context) ([]store.MenuItem, error)
	getMenuItemFn       func(context.Context, string) (store.MenuItem, error)
	insertMenuItemFn    func(context.Context, store.MenuItem) error
	updateMenuItemFn    func(context.Context, store.MenuItem) error
	deleteMenuItemFn    func(context.Context, string) error
	reparentMenuItemsFn func(context.Context, *string, []string) error
	listSiblingsFn      func(context.Context, *string) ([]string, error)

	pingFn func(context.Context) error
}

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	return nil
}
func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	return store.User{ID: id, DisplayName: "Test User"}, nil
}
func (f *fakeStore) UsersExist(ctx context.Context, ids []string) (string, error) {
	if f.usersExistFn != nil {
		return f.usersExistFn(ctx, ids)
	}
	return "", nil
}

func (f *fakeStore) SaveRefreshSession(ctx context.Context, hash, userID string, exp time.Time) error {
	if f.saveRefreshSessionFn != nil {
		return f.saveRefreshSessionFn(ctx, hash, userID, exp)
	}
	return nil
}
func (f *fakeStore) LookupRefreshSession(ctx context.Context, hash string) (store.User, error) {
	if f.lookupRefreshSessionFn != nil {
		return f.lookupRefreshSessionFn(ctx, hash)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) RevokeRefreshSession(ctx context.Context, hash string) error {
	if f.revokeRefreshSessionFn != nil {
		return f.revokeRefreshSessionFn(ctx, hash)
	}
	return nil
}
func (f *fakeStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	if f.revokeAccessTokenFn != nil {
		return f.revokeAccessTokenFn(ctx, jti, exp)
	}
	return nil
}
func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if f.isAccessTokenRevokedFn != nil {
		return f.isAccessTokenRevokedFn(ctx, jti)
	}
	return false, nil
}

func (f *fakeStore) ListProjectsForUser(ctx context.Context, userID string) ([]store.Project, error) {
	if f.listProjectsForUserFn != nil {
		return f.listProjectsForUserFn(ctx, userID)
	}
	return nil, nil
}
func (f *fakeStore) GetProject(ctx context.Context, id string) (store.Project, error) {
	if f.getProjectFn != nil {
		return f.getProjectFn(ctx, id)
	}
	return store.Project{}, sql.ErrNoRows
}
func (f *fakeStore) InsertProject(ctx context.Context, p store.Project) error {
	if f.insertProjectFn != nil {
		return f.insertProjectFn(ctx, p)
	}
	return nil
}
func (f *fakeStore) UpdateProject(ctx context.Context, p store.Project) error {
	if f.updateProjectFn != nil {
		return f.updateProjectFn(ctx, p)
	}
	return nil
}
func (f *fakeStore) UpdateProjectPreferences(ctx context.Context, id, layout, size string) error {
	if f.updateProjectPreferencesFn != nil {
		return f.updateProjectPreferencesFn(ctx, id, layout, size)
	}
	return nil
}
func (f *fakeStore) SoftDeleteProject(ctx context.Context, id string) error {
	if f.softDeleteProjectFn != nil {
		return f.softDeleteProjectFn(ctx, id)
	}
	return nil
}
func (f *fakeStore) ListActiveProjectsForUser(ctx context.Context, userID string, limit int) ([]store.Project, error) {
	if f.listActiveProjectsForUserFn != nil {
		return f.listActiveProjectsForUserFn(ctx, userID, limit)
	}
	return nil, nil
}
func (f *fakeStore) AccessibleProjectIDs(ctx context.Context, userID string) ([]string, error) {
	if f.accessibleProjectIDsFn != nil {
		return f.accessibleProjectIDsFn(ctx, userID)
	}
	return nil, nil
}

func (f *fakeStore) ProjectRole(ctx context.Context, projectID, userID string) (string, error) {
	if f.projectRoleFn != nil {
		return f.projectRoleFn(ctx, projectID, userID)
	}
	return "", nil
}
func (f *fakeStore) ListProjectMembers(ctx context.Context, projectID string) ([]store.ProjectMember, error) {
	if f.listProjectMembersFn != nil {
		return f.listProjectMembersFn(ctx, projectID)
	}
	return nil, nil
}
func (f *fakeStore) IsProjectMember(ctx context.Context, projectID, userID string) (bool, error) {
	if f.isProjectMemberFn != nil {
		return f.isProjectMemberFn(ctx, projectID, userID)
	}
	return false, nil
}
func (f *fakeStore) AddProjectMember(ctx context.Context, projectID, userID, role string) error {
	if f.addProjectMemberFn != nil {
		return f.addProjectMemberFn(ctx, projectID, userID, role)
	}
	return nil
}
func (f *fakeStore) UpdateProjectMemberRole(ctx context.Context, projectID, userID, role string) error {
	if f.updateProjectMemberRoleFn != nil {
		return f.updateProjectMemberRoleFn(ctx, projectID, userID, role)
	}
	return nil
}
func (f *fakeStore) RemoveProjectMember(ctx context.Context, projectID, userID string) error {
	if f.removeProjectMemberFn != nil {
		return f.removeProjectMemberFn(ctx, projectID, userID)
	}
	return nil
}

func (f *fakeStore) ListProperties(ctx context.Context, projectID string) ([]store.Property, error) {
	if f.listPropertiesFn != nil {
		return f.listPropertiesFn(ctx, projectID)
	}
	return nil, nil
}
func (f *fakeStore) GetProperty(ctx context.Context, projectID, propertyID string) (store.Property, error) {
	if f.getPropertyFn != nil {
		return f.getPropertyFn(ctx, projectID, propertyID)
	}
	return store.Property{}, sql.ErrNoRows
}
func (f *fakeStore) PropertyKeyExists(ctx context.Context, projectID, key string) (bool, error) {
	if f.propertyKeyExistsFn != nil {
		return f.propertyKeyExistsFn(ctx, projectID, key)
	}
	return false, nil
}
func (f *fakeStore) MaxPropertyOrder(ctx context.Context, projectID string) (int, error) {
	if f.maxPropertyOrderFn != nil {
		return f.maxPropertyOrderFn(ctx, projectID)
	}
	return 0, nil
}
func (f *fakeStore) InsertProperty(ctx context.Context, p store.Property) error {
	if f.insertPropertyFn != nil {
		return f.insertPropertyFn(ctx, p)
	}
	return nil
}
func (f *fakeStore) UpdateProperty(ctx context.Context, p store.Property) error {
	if f.updatePropertyFn != nil {
		return f.updatePropertyFn(ctx, p)
	}
	return nil
}
func (f *fakeStore) UpdatePropertyOrder(ctx context.Context, projectID, propertyID string, order int, visible bool) error {
	if f.updatePropertyOrderFn != nil {
		return f.updatePropertyOrderFn(ctx, projectID, propertyID, order, visible)
	}
	return nil
}
func (f *fakeStore) DeleteProperty(ctx context.Context, projectID, propertyID string) error {
	if f.deletePropertyFn != nil {
		return f.deletePropertyFn(ctx, projectID, propertyID)
	}
	return nil
}

func (f *fakeStore) InsertTask(ctx context.Context, task store.Task, values []store.TaskValue) error {
	if f.insertTaskFn != nil {
		return f.insertTaskFn(ctx, task, values)
	}
	return nil
}
func (f *fakeStore) GetTask(ctx context.Context, taskID string) (store.Task, error) {
	if f.getTaskFn != nil {
		return f.getTaskFn(ctx, taskID)
	}
	return store.Task{}, sql.ErrNoRows
}
func (f *fakeStore) ListTasksWithValues(ctx context.Context, projectID string) ([]store.TaskWithValues, error) {
	if f.listTasksWithValuesFn != nil {
		return f.listTasksWithValuesFn(ctx, projectID)
	}
	return nil, nil
}
func (f *fakeStore) ListTaskValues(ctx context.Context, taskID string) ([]store.TaskValue, error) {
	if f.listTaskValuesFn != nil {
		return f.listTaskValuesFn(ctx, taskID)
	}
	return nil, nil
}
func (f *fakeStore) UpsertTaskValue(ctx context.Context, taskID, propertyID, value string) error {
	if f.upsertTaskValueFn != nil {
		return f.upsertTaskValueFn(ctx, taskID, propertyID, value)
	}
	return nil
}
func (f *fakeStore) SoftDeleteTask(ctx context.Context, taskID string) error {
	if f.softDeleteTaskFn != nil {
		return f.softDeleteTaskFn(ctx, taskID)
	}
	return nil
}
func (f *fakeStore) BulkSoftDeleteTasks(ctx context.Context, ids []string) error {
	if f.bulkSoftDeleteTasksFn != nil {
		return f.bulkSoftDeleteTasksFn(ctx, ids)
	}
	return nil
}
func (f *fakeStore) DuplicateTasks(ctx context.Context, specs []store.TaskDuplicate) error {
	if f.duplicateTasksFn != nil {
		return f.duplicateTasksFn(ctx, specs)
	}
	return nil
}
func (f *fakeStore) MaxTaskPosition(ctx context.Context, projectID string) (*decimal.Decimal, error) {
	if f.maxTaskPositionFn != nil {
		return f.maxTaskPositionFn(ctx, projectID)
	}
	return nil, nil
}
func (f *fakeStore) TaskProjectIDs(ctx context.Context, ids []string) (map[string]string, error) {
	if f.taskProjectIDsFn != nil {
		return f.taskProjectIDsFn(ctx, ids)
	}
	return map[string]string{}, nil
}
func (f *fakeStore) ReorderTasks(ctx context.Context, projectID string, updates []store.TaskPosition) error {
	if f.reorderTasksFn != nil {
		return f.reorderTasksFn(ctx, projectID, updates)
	}
	return nil
}
func (f *fakeStore) BackfillTaskPositions(ctx context.Context) error {
	if f.backfillTaskPositionsFn != nil {
		return f.backfillTaskPositionsFn(ctx)
	}
	return nil
}

func (f *fakeStore) ListMenuItems(ctx context.Context) ([]store.MenuItem, error) {
	if f.listMenuItemsFn != nil {
		return f.listMenuItemsFn(ctx)
	}
	return nil, nil
}
func (f *fakeStore) GetMenuItem(ctx context.Context, id string) (store.MenuItem, error) {
	if f.getMenuItemFn != nil {
		return f.getMenuItemFn(ctx, id)
	}
	return store.MenuItem{}, sql.ErrNoRows
}
func (f *fakeStore) InsertMenuItem(ctx context.Context, item store.MenuItem) error {
	if f.insertMenuItemFn != nil {
		return f.insertMenuItemFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) UpdateMenuItem(ctx context.Context, item store.MenuItem) error {
	if f.updateMenuItemFn != nil {
		return f.updateMenuItemFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) DeleteMenuItem(ctx context.Context, id string) error {
	if f.deleteMenuItemFn != nil {
		return f.deleteMenuItemFn(ctx, id)
	}
	return nil
}
func (f *fakeStore) ReparentMenuItems(ctx context.Context, parentID *string, ids []string) error {
	if f.reparentMenuItemsFn != nil {
		return f.reparentMenuItemsFn(ctx, parentID, ids)
	}
	return nil
}
func (f *fakeStore) ListSiblings(ctx context.Context, parentID *string) ([]string, error) {
	if f.listSiblingsFn != nil {
		return f.listSiblingsFn(ctx, parentID)
	}
	return nil, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}
}

func newTestService(fs *fakeStore) *Service {
	return &Service{cfg: testConfig(), store: fs}
}

func TestCreateSessionAndParse(t *testing.T) {
	ctx := context.Background()
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			return store.User{ID: id, DisplayName: "Avery"}, nil
		},
	}
	svc := newTestService(fs)

	session, err := svc.CreateSession(ctx, "user_1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatal("expected tokens to be issued")
	}

	parsed, err := svc.SessionFromToken(ctx, session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken failed: %v", err)
	}
	if parsed.UserID != "user_1" {
		t.Errorf("expected user_1, got %s", parsed.UserID)
	}
	if parsed.UserName != "Avery" {
		t.Errorf("expected Avery, got %s", parsed.UserName)
	}
}

func TestSessionFromRevokedToken(t *testing.T) {
	ctx := context.Background()
	fs := &fakeStore{
		isAccessTokenRevokedFn: func(context.Context, string) (bool, error) {
			return true, nil
		},
	}
	svc := newTestService(fs)

	session, err := svc.CreateSession(ctx, "user_1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if _, err := svc.SessionFromToken(ctx, session.Token); err != auth.ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken for revoked token, got %v", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	ctx := context.Background()
	var revokedHash string
	fs := &fakeStore{
		lookupRefreshSessionFn: func(_ context.Context, hash string) (store.User, error) {
			return store.User{ID: "user_7", DisplayName: "Sam"}, nil
		},
		revokeRefreshSessionFn: func(_ context.Context, hash string) error {
			revokedHash = hash
			return nil
		},
	}
	svc := newTestService(fs)

	session, err := svc.Refresh(ctx, "some-refresh-token")
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if session.UserID != "user_7" {
		t.Errorf("expected user_7, got %s", session.UserID)
	}
	if revokedHash == "" {
		t.Error("expected the used refresh token to be revoked")
	}
	if session.RefreshToken == "some-refresh-token" {
		t.Error("expected a fresh refresh token")
	}
}

func TestLogoutRevokesBothTokens(t *testing.T) {
	ctx := context.Background()
	var revokedJTI, revokedRefresh string
	fs := &fakeStore{
		revokeAccessTokenFn: func(_ context.Context, jti string, _ time.Time) error {
			revokedJTI = jti
			return nil
		},
		revokeRefreshSessionFn: func(_ context.Context, hash string) error {
			revokedRefresh = hash
			return nil
		},
	}
	svc := newTestService(fs)

	err := svc.Logout(ctx, Session{JTI: "jti_1", ExpiresAt: time.Now().Add(time.Hour)}, "refresh-token")
	if err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if revokedJTI != "jti_1" {
		t.Errorf("expected access token jti_1 revoked, got %q", revokedJTI)
	}
	if revokedRefresh == "" {
		t.Error("expected refresh session revoked")
	}
}

func TestSearchScopedToAccessibleProjects(t *testing.T) {
	ctx := context.Background()
	fs := &fakeStore{
		accessibleProjectIDsFn: func(_ context.Context, userID string) ([]string, error) {
			return []string{"proj_a", "proj_b"}, nil
		},
	}
	svc := newTestService(fs)

	// No search backend configured: scope resolution must still succeed
	resp, err := svc.Search(ctx, "user_1", search.Query{Text: "roadmap"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if resp.Results == nil {
		t.Error("expected non-nil results slice")
	}
}

func TestSearchProjectFilterStaysInsideScope(t *testing.T) {
	ctx := context.Background()
	fs := &fakeStore{
		accessibleProjectIDsFn: func(context.Context, string) ([]string, error) {
			return []string{"proj_a", "proj_b"}, nil
		},
	}
	svc := newTestService(fs)

	// Filtering by a project the actor cannot see yields an empty response
	// rather than widening the scope to the requested id.
	resp, err := svc.Search(ctx, "user_1", search.Query{Text: "roadmap", FilterProjectID: "proj_foreign"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(resp.Results) != 0 {
		t.Errorf("expected no results for a foreign project filter, got %d", len(resp.Results))
	}
}

func TestScopeProjectFilter(t *testing.T) {
	accessible := []string{"proj_a", "proj_b"}

	if got := scopeProjectFilter(accessible, ""); len(got) != 2 {
		t.Errorf("expected the full scope without a filter, got %v", got)
	}
	if got := scopeProjectFilter(accessible, "proj_b"); len(got) != 1 || got[0] != "proj_b" {
		t.Errorf("expected the scope narrowed to proj_b, got %v", got)
	}
	if got := scopeProjectFilter(accessible, "proj_foreign"); got != nil {
		t.Errorf("expected an inaccessible filter to empty the scope, got %v", got)
	}
}

func TestBootstrapBackfillsPositions(t *testing.T) {
	ctx := context.Background()
	backfilled := false
	fs := &fakeStore{
		backfillTaskPositionsFn: func(context.Context) error {
			backfilled = true
			return nil
		},
	}
	svc := newTestService(fs)

	if err := svc.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	if !backfilled {
		t.Error("expected Bootstrap to backfill task positions")
	}
}
