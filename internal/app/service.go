package app

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"taskdeck/api/internal/auth"
	"taskdeck/api/internal/authpw"
	"taskdeck/api/internal/config"
	"taskdeck/api/internal/rbac"
	"taskdeck/api/internal/search"
	"taskdeck/api/internal/store"
	"taskdeck/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	UsersExist(context.Context, []string) (string, error)

	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	ListProjectsForUser(context.Context, string) ([]store.Project, error)
	GetProject(context.Context, string) (store.Project, error)
	InsertProject(context.Context, store.Project) error
	UpdateProject(context.Context, store.Project) error
	UpdateProjectPreferences(context.Context, string, string, string) error
	SoftDeleteProject(context.Context, string) error
	ListActiveProjectsForUser(context.Context, string, int) ([]store.Project, error)
	AccessibleProjectIDs(context.Context, string) ([]string, error)

	ProjectRole(context.Context, string, string) (string, error)
	ListProjectMembers(context.Context, string) ([]store.ProjectMember, error)
	IsProjectMember(context.Context, string, string) (bool, error)
	AddProjectMember(context.Context, string, string, string) error
	UpdateProjectMemberRole(context.Context, string, string, string) error
	RemoveProjectMember(context.Context, string, string) error

	ListProperties(context.Context, string) ([]store.Property, error)
	GetProperty(context.Context, string, string) (store.Property, error)
	PropertyKeyExists(context.Context, string, string) (bool, error)
	MaxPropertyOrder(context.Context, string) (int, error)
	InsertProperty(context.Context, store.Property) error
	UpdateProperty(context.Context, store.Property) error
	UpdatePropertyOrder(context.Context, string, string, int, bool) error
	DeleteProperty(context.Context, string, string) error

	InsertTask(context.Context, store.Task, []store.TaskValue) error
	GetTask(context.Context, string) (store.Task, error)
	ListTasksWithValues(context.Context, string) ([]store.TaskWithValues, error)
	ListTaskValues(context.Context, string) ([]store.TaskValue, error)
	UpsertTaskValue(context.Context, string, string, string) error
	SoftDeleteTask(context.Context, string) error
	BulkSoftDeleteTasks(context.Context, []string) error
	DuplicateTasks(context.Context, []store.TaskDuplicate) error
	MaxTaskPosition(context.Context, string) (*decimal.Decimal, error)
	TaskProjectIDs(context.Context, []string) (map[string]string, error)
	ReorderTasks(context.Context, string, []store.TaskPosition) error
	BackfillTaskPositions(context.Context) error

	ListMenuItems(context.Context) ([]store.MenuItem, error)
	GetMenuItem(context.Context, string) (store.MenuItem, error)
	InsertMenuItem(context.Context, store.MenuItem) error
	UpdateMenuItem(context.Context, store.MenuItem) error
	DeleteMenuItem(context.Context, string) error
	ReparentMenuItems(context.Context, *string, []string) error
	ListSiblings(context.Context, *string) ([]string, error)

	Ping(ctx context.Context) error
}

// sessionStore is the subset of session operations that can be served by
// Redis instead of Postgres.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	search   *search.Service
	authpw   *authpw.Service
}

// New creates the application service. sessions may be nil (Postgres-backed
// sessions) and searchSvc may be nil (search disabled).
func New(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, searchSvc *search.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		search:   searchSvc,
		authpw:   authpw.NewService(dataStore),
	}
}

// sessionBackend prefers Redis when configured and falls back to Postgres.
func (s *Service) sessionBackend() sessionStore {
	if s.sessions != nil {
		return s.sessions
	}
	return s.store
}

// AuthPasswordService exposes the email/password auth service to handlers.
func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Bootstrap runs startup maintenance: tasks that predate ordering get
// positions assigned, and the search index is rebuilt from Postgres.
func (s *Service) Bootstrap(ctx context.Context) error {
	if err := s.store.BackfillTaskPositions(ctx); err != nil {
		return err
	}
	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
	return nil
}

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessionBackend().LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessionBackend().RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// Redis stores only the user id; fill in the rest from Postgres
	if user.DisplayName == "" {
		full, err := s.store.GetUserByID(ctx, user.ID)
		if err == nil {
			user = full
		}
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessionBackend().SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessionBackend().IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.sessionBackend().RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessionBackend().RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// authorize resolves the actor's role on a project and checks the action.
// A missing project surfaces as sql.ErrNoRows from the store.
func (s *Service) authorize(ctx context.Context, projectID, actorID string, action rbac.Action) (rbac.Role, error) {
	roleName, err := s.store.ProjectRole(ctx, projectID, actorID)
	if err != nil {
		return rbac.RoleNone, err
	}
	role := rbac.Normalize(roleName)
	if role == rbac.RoleNone {
		// Outsiders learn nothing about the project, not even that it exists
		return rbac.RoleNone, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	if !rbac.Can(role, action) {
		return role, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return role, nil
}

// Search runs a full-text search scoped to the actor's projects. A project
// filter is intersected with that scope here, before any backend sees it, so
// filtering by a project the actor cannot view returns nothing.
func (s *Service) Search(ctx context.Context, actorID string, q search.Query) (search.Response, error) {
	projectIDs, err := s.store.AccessibleProjectIDs(ctx, actorID)
	if err != nil {
		return search.Response{}, err
	}
	q.ProjectIDs = scopeProjectFilter(projectIDs, q.FilterProjectID)
	if q.FilterProjectID != "" && len(q.ProjectIDs) == 0 {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(q), nil
}

func scopeProjectFilter(accessible []string, filterProjectID string) []string {
	if filterProjectID == "" {
		return accessible
	}
	for _, id := range accessible {
		if id == filterProjectID {
			return []string{filterProjectID}
		}
	}
	return nil
}
