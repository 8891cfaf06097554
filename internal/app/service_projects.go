package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"taskdeck/api/internal/property"
	"taskdeck/api/internal/rbac"
	"taskdeck/api/internal/search"
	"taskdeck/api/internal/store"
	"taskdeck/api/internal/util"
)

type ProjectInput struct {
	Name        *string `json:"name"`
	Icon        *string `json:"icon"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	DueDate     *string `json:"dueDate"`
}

var allowedProjectStatuses = map[string]struct{}{
	"active":    {},
	"completed": {},
	"on_hold":   {},
	"canceled":  {},
}

func projectPayload(p store.Project, role rbac.Role) map[string]any {
	payload := map[string]any{
		"id":          p.ID,
		"ownerId":     p.OwnerID,
		"name":        p.Name,
		"icon":        p.Icon,
		"description": p.Description,
		"status":      p.Status,
		"taskCount":   p.TaskCount,
		"createdAt":   p.CreatedAt,
		"updatedAt":   p.UpdatedAt,
	}
	if p.DueDate != nil {
		payload["dueDate"] = p.DueDate.Format("2006-01-02")
	} else {
		payload["dueDate"] = nil
	}
	if role != rbac.RoleNone {
		payload["role"] = string(role)
		payload["canEdit"] = rbac.Can(role, rbac.ActionEdit)
		payload["canManageMembers"] = rbac.Can(role, rbac.ActionManageMembers)
	}
	return payload
}

func (s *Service) ListProjects(ctx context.Context, actorID string) ([]map[string]any, error) {
	projects, err := s.store.ListProjectsForUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(projects))
	for _, p := range projects {
		role, err := s.store.ProjectRole(ctx, p.ID, actorID)
		if err != nil {
			return nil, err
		}
		items = append(items, projectPayload(p, rbac.Normalize(role)))
	}
	return items, nil
}

func (s *Service) CreateProject(ctx context.Context, actorID string, input ProjectInput) (map[string]any, error) {
	name := ""
	if input.Name != nil {
		name = strings.TrimSpace(*input.Name)
	}
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}

	project := store.Project{
		ID:      util.NewID("proj"),
		OwnerID: actorID,
		Name:    name,
		Status:  "active",
	}
	if input.Icon != nil {
		project.Icon = strings.TrimSpace(*input.Icon)
	}
	if input.Description != nil {
		project.Description = strings.TrimSpace(*input.Description)
	}
	if input.Status != nil {
		status := strings.TrimSpace(*input.Status)
		if _, ok := allowedProjectStatuses[status]; !ok {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid project status", nil)
		}
		project.Status = status
	}
	if input.DueDate != nil && strings.TrimSpace(*input.DueDate) != "" {
		due, err := time.Parse("2006-01-02", strings.TrimSpace(*input.DueDate))
		if err != nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "dueDate must be YYYY-MM-DD", nil)
		}
		project.DueDate = &due
	}

	if err := s.store.InsertProject(ctx, project); err != nil {
		return nil, err
	}

	if err := s.seedDefaultProperties(ctx, project.ID); err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexProject(search.ProjectRecord{
			ID:          project.ID,
			Name:        project.Name,
			Description: project.Description,
			Status:      project.Status,
		})
	}

	return projectPayload(project, rbac.RoleOwner), nil
}

// seedDefaultProperties gives every new project the standard field set so
// the board is usable immediately.
func (s *Service) seedDefaultProperties(ctx context.Context, projectID string) error {
	seeds := []store.Property{
		{Name: "Title", Type: string(property.TypeText), Icon: "text", ShowInForm: true},
		{Name: "Description", Type: string(property.TypeText), Icon: "align-left", ShowInForm: true},
		{Name: "Status", Type: string(property.TypeSelect), Icon: "circle-dot", ShowInForm: true, Options: property.Options{
			Values: []property.SelectOption{
				{Value: "todo", Label: "To Do", Color: "gray"},
				{Value: "in_progress", Label: "In Progress", Color: "blue"},
				{Value: "done", Label: "Done", Color: "green"},
			},
		}},
		{Name: "Due Date", Type: string(property.TypeDate), Icon: "calendar", ShowInForm: true},
		{Name: "Assigned To", Type: string(property.TypeUser), Icon: "users", ShowInForm: true, Options: property.Options{
			IsMultiple: true,
		}},
		{Name: "Priority", Type: string(property.TypeSelect), Icon: "flag", ShowInForm: true, Options: property.Options{
			Values: []property.SelectOption{
				{Value: "low", Label: "Low", Color: "gray"},
				{Value: "medium", Label: "Medium", Color: "yellow"},
				{Value: "high", Label: "High", Color: "red"},
			},
		}},
	}

	for i, seed := range seeds {
		seed.ID = util.NewID("prop")
		seed.ProjectID = projectID
		seed.Key = property.SlugifyKey(seed.Name)
		seed.IsVisible = true
		seed.Order = i + 1
		if err := s.store.InsertProperty(ctx, seed); err != nil {
			return err
		}
	}
	return nil
}

// GetProjectBoard returns the project with its properties, members, and
// tasks. Members without the view-all grant see only tasks assigned to them.
func (s *Service) GetProjectBoard(ctx context.Context, projectID, actorID string) (map[string]any, error) {
	role, err := s.authorize(ctx, projectID, actorID, rbac.ActionView)
	if err != nil {
		return nil, err
	}

	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	properties, err := s.store.ListProperties(ctx, projectID)
	if err != nil {
		return nil, err
	}
	propertyItems := make([]map[string]any, 0, len(properties))
	for _, p := range properties {
		propertyItems = append(propertyItems, propertyPayload(p))
	}

	members, err := s.store.ListProjectMembers(ctx, projectID)
	if err != nil {
		return nil, err
	}
	memberItems := make([]map[string]any, 0, len(members))
	for _, m := range members {
		memberItems = append(memberItems, map[string]any{
			"userId":      m.UserID,
			"displayName": m.DisplayName,
			"email":       m.Email,
			"avatar":      m.Avatar,
			"role":        m.Role,
		})
	}

	tasks, err := s.store.ListTasksWithValues(ctx, projectID)
	if err != nil {
		return nil, err
	}

	seeAll := rbac.Can(role, rbac.ActionViewAllTasks)
	taskItems := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		if !seeAll && !property.ContainsValue(task.Values["assigned_to"], actorID) {
			continue
		}
		item := map[string]any{
			"id":       task.ID,
			"position": task.Position,
		}
		for key, value := range task.Values {
			item[key] = value
		}
		taskItems = append(taskItems, item)
	}

	payload := projectPayload(project, role)
	payload["viewLayout"] = project.ViewLayout
	payload["modalSize"] = project.ModalSize
	payload["properties"] = propertyItems
	payload["users"] = memberItems
	payload["tasks"] = taskItems
	return payload, nil
}

func (s *Service) UpdateProject(ctx context.Context, projectID, actorID string, input ProjectInput) (map[string]any, error) {
	role, err := s.authorize(ctx, projectID, actorID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}

	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name cannot be empty", nil)
		}
		project.Name = name
	}
	if input.Icon != nil {
		project.Icon = strings.TrimSpace(*input.Icon)
	}
	if input.Description != nil {
		project.Description = strings.TrimSpace(*input.Description)
	}
	if input.Status != nil {
		status := strings.TrimSpace(*input.Status)
		if _, ok := allowedProjectStatuses[status]; !ok {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid project status", nil)
		}
		project.Status = status
	}
	if input.DueDate != nil {
		raw := strings.TrimSpace(*input.DueDate)
		if raw == "" {
			project.DueDate = nil
		} else {
			due, err := time.Parse("2006-01-02", raw)
			if err != nil {
				return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "dueDate must be YYYY-MM-DD", nil)
			}
			project.DueDate = &due
		}
	}

	if err := s.store.UpdateProject(ctx, project); err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexProject(search.ProjectRecord{
			ID:          project.ID,
			Name:        project.Name,
			Description: project.Description,
			Status:      project.Status,
		})
	}

	return projectPayload(project, role), nil
}

func (s *Service) DeleteProject(ctx context.Context, projectID, actorID string) error {
	if _, err := s.authorize(ctx, projectID, actorID, rbac.ActionDelete); err != nil {
		return err
	}
	if err := s.store.SoftDeleteProject(ctx, projectID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteProject(projectID)
	}
	return nil
}

var allowedViewLayouts = map[string]struct{}{
	"modal":      {},
	"side_panel": {},
	"page":       {},
}

var allowedModalSizes = map[string]struct{}{
	"sm": {},
	"md": {},
	"lg": {},
}

// UpdateProjectPreferences stores how tasks open for this project. The
// preferences are shared per project, so changing them takes the same role
// as editing the project itself. The modal size only applies to the modal
// layout and is cleared whenever another layout is chosen.
func (s *Service) UpdateProjectPreferences(ctx context.Context, projectID, actorID, viewLayout, modalSize string) error {
	if _, err := s.authorize(ctx, projectID, actorID, rbac.ActionEdit); err != nil {
		return err
	}
	if viewLayout == "" {
		// Nothing to change; the size on its own is never stored
		return nil
	}
	if _, ok := allowedViewLayouts[viewLayout]; !ok {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid view layout", nil)
	}
	if viewLayout != "modal" {
		modalSize = ""
	} else if modalSize != "" {
		if _, ok := allowedModalSizes[modalSize]; !ok {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid modal size", nil)
		}
	}
	return s.store.UpdateProjectPreferences(ctx, projectID, viewLayout, modalSize)
}

func (s *Service) ListProjectMembers(ctx context.Context, projectID, actorID string) ([]map[string]any, error) {
	if _, err := s.authorize(ctx, projectID, actorID, rbac.ActionView); err != nil {
		return nil, err
	}
	members, err := s.store.ListProjectMembers(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(members))
	for _, m := range members {
		items = append(items, map[string]any{
			"userId":      m.UserID,
			"displayName": m.DisplayName,
			"email":       m.Email,
			"avatar":      m.Avatar,
			"role":        m.Role,
		})
	}
	return items, nil
}

// InviteMember adds an existing user to the project.
func (s *Service) InviteMember(ctx context.Context, projectID, actorID, userID, role string) (map[string]any, error) {
	if _, err := s.authorize(ctx, projectID, actorID, rbac.ActionManageMembers); err != nil {
		return nil, err
	}

	memberRole := rbac.Normalize(role)
	if memberRole != rbac.RoleAdmin && memberRole != rbac.RoleMember {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "role must be admin or member", nil)
	}

	user, err := s.store.GetUserByID(ctx, strings.TrimSpace(userID))
	if err != nil {
		return nil, domainError(http.StatusNotFound, "USER_NOT_FOUND", "No such user", nil)
	}

	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.OwnerID == user.ID {
		return nil, domainError(http.StatusConflict, "ALREADY_MEMBER", "User already belongs to this project", nil)
	}
	isMember, err := s.store.IsProjectMember(ctx, projectID, user.ID)
	if err != nil {
		return nil, err
	}
	if isMember {
		return nil, domainError(http.StatusConflict, "ALREADY_MEMBER", "User already belongs to this project", nil)
	}

	if err := s.store.AddProjectMember(ctx, projectID, user.ID, string(memberRole)); err != nil {
		return nil, err
	}

	return map[string]any{
		"userId":      user.ID,
		"displayName": user.DisplayName,
		"email":       user.Email,
		"role":        string(memberRole),
	}, nil
}

func (s *Service) UpdateMemberRole(ctx context.Context, projectID, actorID, userID, role string) error {
	if _, err := s.authorize(ctx, projectID, actorID, rbac.ActionManageMembers); err != nil {
		return err
	}

	memberRole := rbac.Normalize(role)
	if memberRole != rbac.RoleAdmin && memberRole != rbac.RoleMember {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "role must be admin or member", nil)
	}

	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if project.OwnerID == userID {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "the owner's role cannot be changed", nil)
	}
	isMember, err := s.store.IsProjectMember(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if !isMember {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}

	return s.store.UpdateProjectMemberRole(ctx, projectID, userID, string(memberRole))
}

func (s *Service) RemoveMember(ctx context.Context, projectID, actorID, userID string) error {
	if _, err := s.authorize(ctx, projectID, actorID, rbac.ActionManageMembers); err != nil {
		return err
	}

	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if project.OwnerID == userID {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "the owner cannot be removed", nil)
	}

	return s.store.RemoveProjectMember(ctx, projectID, userID)
}
