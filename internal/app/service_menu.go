package app

import (
	"context"
	"net/http"
	"strings"

	"taskdeck/api/internal/store"
	"taskdeck/api/internal/util"
)

type MenuItemInput struct {
	Title        *string             `json:"title"`
	Type         *string             `json:"type"`
	URL          *string             `json:"url"`
	RouteName    *string             `json:"routeName"`
	Icon         *string             `json:"icon"`
	Permissions  []string            `json:"permissions"`
	ParentID     *string             `json:"parentId"`
	IsActive     *bool               `json:"isActive"`
	DynamicQuery *store.DynamicQuery `json:"dynamicQuery"`
}

type MenuReorderInput struct {
	MenuItemID  string  `json:"menuItemId"`
	NewParentID *string `json:"newParentId"`
	NewOrder    int     `json:"newOrder"`
}

var allowedMenuTypes = map[string]struct{}{
	"fixed":    {},
	"dropdown": {},
	"dynamic":  {},
}

func menuItemPayload(item store.MenuItem) map[string]any {
	payload := map[string]any{
		"id":          item.ID,
		"title":       item.Title,
		"type":        item.Type,
		"url":         item.URL,
		"routeName":   item.RouteName,
		"icon":        item.Icon,
		"permissions": item.Permissions,
		"parentId":    item.ParentID,
		"order":       item.Order,
		"isActive":    item.IsActive,
	}
	if item.DynamicQuery != nil {
		payload["dynamicQuery"] = item.DynamicQuery
	}
	return payload
}

// ListMenuItems returns the raw flat item list for the management screen.
func (s *Service) ListMenuItems(ctx context.Context) ([]map[string]any, error) {
	items, err := s.store.ListMenuItems(ctx)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, menuItemPayload(item))
	}
	return payloads, nil
}

func (s *Service) CreateMenuItem(ctx context.Context, input MenuItemInput) (map[string]any, error) {
	item, err := s.menuItemFromInput(ctx, store.MenuItem{IsActive: true}, input)
	if err != nil {
		return nil, err
	}
	item.ID = util.NewID("menu")

	siblings, err := s.store.ListSiblings(ctx, item.ParentID)
	if err != nil {
		return nil, err
	}
	item.Order = len(siblings) + 1

	if err := s.store.InsertMenuItem(ctx, item); err != nil {
		return nil, err
	}
	return menuItemPayload(item), nil
}

func (s *Service) UpdateMenuItem(ctx context.Context, itemID string, input MenuItemInput) (map[string]any, error) {
	existing, err := s.store.GetMenuItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	item, err := s.menuItemFromInput(ctx, existing, input)
	if err != nil {
		return nil, err
	}
	if item.ParentID != nil && *item.ParentID == item.ID {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "an item cannot be its own parent", nil)
	}
	if err := s.store.UpdateMenuItem(ctx, item); err != nil {
		return nil, err
	}
	return menuItemPayload(item), nil
}

func (s *Service) menuItemFromInput(ctx context.Context, item store.MenuItem, input MenuItemInput) (store.MenuItem, error) {
	if input.Title != nil {
		item.Title = strings.TrimSpace(*input.Title)
	}
	if item.Title == "" {
		return store.MenuItem{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if input.Type != nil {
		item.Type = strings.TrimSpace(*input.Type)
	}
	if _, ok := allowedMenuTypes[item.Type]; !ok {
		return store.MenuItem{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be fixed, dropdown, or dynamic", nil)
	}
	if input.URL != nil {
		item.URL = strings.TrimSpace(*input.URL)
	}
	if input.RouteName != nil {
		item.RouteName = strings.TrimSpace(*input.RouteName)
	}
	if input.Icon != nil {
		item.Icon = strings.TrimSpace(*input.Icon)
	}
	if input.Permissions != nil {
		item.Permissions = input.Permissions
	}
	if input.IsActive != nil {
		item.IsActive = *input.IsActive
	}
	if input.DynamicQuery != nil {
		item.DynamicQuery = input.DynamicQuery
	}
	if item.Type == "dynamic" {
		if item.DynamicQuery == nil || item.DynamicQuery.Type != "projects" {
			return store.MenuItem{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "dynamic items need a dynamicQuery of type projects", nil)
		}
	}
	if input.ParentID != nil {
		if *input.ParentID == "" {
			item.ParentID = nil
		} else {
			parent, err := s.store.GetMenuItem(ctx, *input.ParentID)
			if err != nil {
				return store.MenuItem{}, err
			}
			if parent.Type != "dropdown" {
				return store.MenuItem{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "parent must be a dropdown", nil)
			}
			item.ParentID = input.ParentID
		}
	}
	return item, nil
}

func (s *Service) DeleteMenuItem(ctx context.Context, itemID string) error {
	if _, err := s.store.GetMenuItem(ctx, itemID); err != nil {
		return err
	}
	return s.store.DeleteMenuItem(ctx, itemID)
}

// ReorderMenu moves one item under newParentId at the given sibling index.
// Menu trees are small, so the whole new sibling list is rewritten with
// contiguous orders rather than bisecting positions.
func (s *Service) ReorderMenu(ctx context.Context, input MenuReorderInput) error {
	if input.MenuItemID == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "menuItemId is required", nil)
	}
	if _, err := s.store.GetMenuItem(ctx, input.MenuItemID); err != nil {
		return err
	}
	if input.NewParentID != nil {
		if *input.NewParentID == input.MenuItemID {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "an item cannot be its own parent", nil)
		}
		parent, err := s.store.GetMenuItem(ctx, *input.NewParentID)
		if err != nil {
			return err
		}
		if parent.Type != "dropdown" {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "parent must be a dropdown", nil)
		}
	}

	siblings, err := s.store.ListSiblings(ctx, input.NewParentID)
	if err != nil {
		return err
	}
	ordered := make([]string, 0, len(siblings)+1)
	for _, id := range siblings {
		if id != input.MenuItemID {
			ordered = append(ordered, id)
		}
	}
	index := input.NewOrder
	if index < 0 {
		index = 0
	}
	if index > len(ordered) {
		index = len(ordered)
	}
	ordered = append(ordered[:index], append([]string{input.MenuItemID}, ordered[index:]...)...)

	return s.store.ReparentMenuItems(ctx, input.NewParentID, ordered)
}

// BuildMenu assembles the navigation tree for one user: inactive items are
// dropped, fixed items without a destination are dropped, dynamic items
// expand to the user's active projects, and dropdowns left with no children
// disappear.
func (s *Service) BuildMenu(ctx context.Context, actorID string) ([]map[string]any, error) {
	items, err := s.store.ListMenuItems(ctx)
	if err != nil {
		return nil, err
	}

	children := make(map[string][]store.MenuItem)
	var roots []store.MenuItem
	for _, item := range items {
		if item.ParentID == nil {
			roots = append(roots, item)
		} else {
			children[*item.ParentID] = append(children[*item.ParentID], item)
		}
	}

	var build func(item store.MenuItem) (map[string]any, bool)
	build = func(item store.MenuItem) (map[string]any, bool) {
		if !item.IsActive {
			return nil, false
		}
		node := map[string]any{
			"id":    item.ID,
			"title": item.Title,
			"type":  item.Type,
			"icon":  item.Icon,
		}
		switch item.Type {
		case "fixed":
			if item.URL == "" && item.RouteName == "" {
				return nil, false
			}
			node["url"] = item.URL
			node["routeName"] = item.RouteName
		case "dynamic":
			entries, err := s.expandDynamicItem(ctx, actorID, item)
			if err != nil || len(entries) == 0 {
				return nil, false
			}
			node["children"] = entries
		case "dropdown":
			var kids []map[string]any
			for _, child := range children[item.ID] {
				if built, ok := build(child); ok {
					kids = append(kids, built)
				}
			}
			if len(kids) == 0 {
				return nil, false
			}
			node["children"] = kids
		}
		return node, true
	}

	menu := make([]map[string]any, 0, len(roots))
	for _, root := range roots {
		if node, ok := build(root); ok {
			menu = append(menu, node)
		}
	}
	return menu, nil
}

func (s *Service) expandDynamicItem(ctx context.Context, actorID string, item store.MenuItem) ([]map[string]any, error) {
	limit := 10
	if item.DynamicQuery != nil && item.DynamicQuery.Limit > 0 {
		limit = item.DynamicQuery.Limit
	}
	projects, err := s.store.ListActiveProjectsForUser(ctx, actorID, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]map[string]any, 0, len(projects))
	for _, p := range projects {
		entries = append(entries, map[string]any{
			"id":    p.ID,
			"title": p.Name,
			"icon":  p.Icon,
			"url":   "/projects/" + p.ID,
		})
	}
	return entries, nil
}
