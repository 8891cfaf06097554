package app

import (
	"context"
	"net/http"
	"strings"

	"taskdeck/api/internal/property"
	"taskdeck/api/internal/rbac"
	"taskdeck/api/internal/store"
	"taskdeck/api/internal/util"
)

type PropertyInput struct {
	Name       *string           `json:"name"`
	Key        *string           `json:"key"`
	Type       *string           `json:"type"`
	Icon       *string           `json:"icon"`
	IsVisible  *bool             `json:"isVisible"`
	ShowInForm *bool             `json:"showInForm"`
	Order      *int              `json:"order"`
	Options    *property.Options `json:"options"`
}

type PropertyOrderInput struct {
	ID        string `json:"id"`
	Order     int    `json:"order"`
	IsVisible bool   `json:"isVisible"`
}

func propertyPayload(p store.Property) map[string]any {
	return map[string]any{
		"id":         p.ID,
		"projectId":  p.ProjectID,
		"name":       p.Name,
		"key":        p.Key,
		"type":       p.Type,
		"icon":       p.Icon,
		"isVisible":  p.IsVisible,
		"showInForm": p.ShowInForm,
		"order":      p.Order,
		"options":    p.Options,
	}
}

func (s *Service) ListProperties(ctx context.Context, projectID, actorID string) ([]map[string]any, error) {
	if _, err := s.authorize(ctx, projectID, actorID, rbac.ActionView); err != nil {
		return nil, err
	}
	properties, err := s.store.ListProperties(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(properties))
	for _, p := range properties {
		items = append(items, propertyPayload(p))
	}
	return items, nil
}

func (s *Service) CreateProperty(ctx context.Context, projectID, actorID string, input PropertyInput) (map[string]any, error) {
	if _, err := s.authorize(ctx, projectID, actorID, rbac.ActionEdit); err != nil {
		return nil, err
	}

	name := ""
	if input.Name != nil {
		name = strings.TrimSpace(*input.Name)
	}
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}

	propType := ""
	if input.Type != nil {
		propType = strings.TrimSpace(*input.Type)
	}
	if !property.ValidType(propType) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be text, select, date, or user", nil)
	}

	// Key defaults to the slugified name; an explicit key is slugified too
	// so stored keys stay in one format.
	key := ""
	if input.Key != nil {
		key = property.SlugifyKey(*input.Key)
	}
	if key == "" {
		key = property.SlugifyKey(name)
	}
	if key == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name must contain letters or digits", nil)
	}
	exists, err := s.store.PropertyKeyExists(ctx, projectID, key)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, domainError(http.StatusConflict, "PROPERTY_EXISTS", "A property with this name already exists", map[string]any{"key": key})
	}

	order := 0
	if input.Order != nil && *input.Order > 0 {
		order = *input.Order
	} else {
		maxOrder, err := s.store.MaxPropertyOrder(ctx, projectID)
		if err != nil {
			return nil, err
		}
		order = maxOrder + 1
	}

	item := store.Property{
		ID:         util.NewID("prop"),
		ProjectID:  projectID,
		Name:       name,
		Key:        key,
		Type:       propType,
		IsVisible:  true,
		ShowInForm: true,
		Order:      order,
	}
	if input.Icon != nil {
		item.Icon = strings.TrimSpace(*input.Icon)
	}
	if input.IsVisible != nil {
		item.IsVisible = *input.IsVisible
	}
	if input.ShowInForm != nil {
		item.ShowInForm = *input.ShowInForm
	}
	if input.Options != nil {
		item.Options = *input.Options
	}

	if err := s.store.InsertProperty(ctx, item); err != nil {
		return nil, err
	}
	return propertyPayload(item), nil
}

// UpdateProperty changes a property definition. The storage key and the
// type are fixed at creation: renaming only changes the display name, so
// existing task values stay addressable.
func (s *Service) UpdateProperty(ctx context.Context, projectID, propertyID, actorID string, input PropertyInput) (map[string]any, error) {
	if _, err := s.authorize(ctx, projectID, actorID, rbac.ActionEdit); err != nil {
		return nil, err
	}

	item, err := s.store.GetProperty(ctx, projectID, propertyID)
	if err != nil {
		return nil, err
	}

	if input.Type != nil && strings.TrimSpace(*input.Type) != item.Type {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "a property's type cannot be changed", nil)
	}
	if input.Key != nil && property.SlugifyKey(*input.Key) != item.Key {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "a property's key cannot be changed", nil)
	}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name cannot be empty", nil)
		}
		item.Name = name
	}
	if input.Icon != nil {
		item.Icon = strings.TrimSpace(*input.Icon)
	}
	if input.IsVisible != nil {
		item.IsVisible = *input.IsVisible
	}
	if input.ShowInForm != nil {
		item.ShowInForm = *input.ShowInForm
	}
	if input.Options != nil {
		item.Options = item.Options.Merge(*input.Options)
	}

	if err := s.store.UpdateProperty(ctx, item); err != nil {
		return nil, err
	}
	return propertyPayload(item), nil
}

// ReorderProperties applies a visual reorder. Rows are written
// independently; a torn write only affects display order.
func (s *Service) ReorderProperties(ctx context.Context, projectID, actorID string, updates []PropertyOrderInput) error {
	if _, err := s.authorize(ctx, projectID, actorID, rbac.ActionEdit); err != nil {
		return err
	}
	for _, update := range updates {
		if _, err := s.store.GetProperty(ctx, projectID, update.ID); err != nil {
			return err
		}
		if err := s.store.UpdatePropertyOrder(ctx, projectID, update.ID, update.Order, update.IsVisible); err != nil {
			return err
		}
	}
	return nil
}

// DeleteProperty removes the definition and, through the schema, every
// task value stored against it.
func (s *Service) DeleteProperty(ctx context.Context, projectID, propertyID, actorID string) error {
	if _, err := s.authorize(ctx, projectID, actorID, rbac.ActionEdit); err != nil {
		return err
	}
	if _, err := s.store.GetProperty(ctx, projectID, propertyID); err != nil {
		return err
	}
	return s.store.DeleteProperty(ctx, projectID, propertyID)
}
