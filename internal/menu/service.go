// cmdbd - Configuration Management Database Server
// Copyright 2026 The cmdbd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opsmesh/cmdbd

// Package menu manages the navigation menu tree: bounded depth,
// cycle-safe reparenting, and permission-gated visibility.
package menu

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/opsmesh/cmdbd/internal/models"
)

var (
	// ErrDepthExceeded is returned when an operation would push a node
	// below the maximum tree depth.
	ErrDepthExceeded = errors.New("menu depth limit exceeded")

	// ErrCycle is returned when a reparent would make a node its own
	// ancestor.
	ErrCycle = errors.New("menu reparent would create a cycle")
)

// Store is the persistence surface the service needs.
type Store interface {
	CreateMenu(ctx context.Context, m *models.Menu) (*models.Menu, error)
	GetMenuByID(ctx context.Context, id int64) (*models.Menu, error)
	ListMenus(ctx context.Context) ([]*models.Menu, error)
	UpdateMenu(ctx context.Context, m *models.Menu) error
	DeleteMenuSubtree(ctx context.Context, id int64) error
	ListPermissionCodesForUser(ctx context.Context, userID int64) ([]string, error)
}

// Service implements the menu operations.
type Service struct {
	store Store
}

// NewService creates the menu service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Create inserts a menu node. Level is derived from the parent and
// validated against the depth cap.
func (s *Service) Create(ctx context.Context, m *models.Menu) (*models.Menu, error) {
	level, err := s.levelFor(ctx, m.ParentID)
	if err != nil {
		return nil, err
	}
	m.Level = level
	return s.store.CreateMenu(ctx, m)
}

// Update persists changes to a node. Reparenting re-derives the level,
// checks the depth cap against the node's subtree, and rejects cycles.
func (s *Service) Update(ctx context.Context, m *models.Menu) error {
	current, err := s.store.GetMenuByID(ctx, m.ID)
	if err != nil {
		return err
	}

	if !sameParent(current.ParentID, m.ParentID) {
		if err := s.checkReparent(ctx, current, m.ParentID); err != nil {
			return err
		}
	}
	level, err := s.levelFor(ctx, m.ParentID)
	if err != nil {
		return err
	}
	m.Level = level
	return s.store.UpdateMenu(ctx, m)
}

// Delete removes a node and its whole subtree.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.store.DeleteMenuSubtree(ctx, id)
}

// Tree returns the full menu tree.
func (s *Service) Tree(ctx context.Context) ([]*models.MenuTree, error) {
	menus, err := s.store.ListMenus(ctx)
	if err != nil {
		return nil, err
	}
	return buildTree(menus, nil), nil
}

// VisibleTree returns the tree filtered for one account: only enabled,
// visible nodes whose permission code (if any) the account holds.
// Superusers see everything.
func (s *Service) VisibleTree(ctx context.Context, userID int64, superuser bool) ([]*models.MenuTree, error) {
	menus, err := s.store.ListMenus(ctx)
	if err != nil {
		return nil, err
	}

	var allowed func(m *models.Menu) bool
	if superuser {
		allowed = func(m *models.Menu) bool { return m.IsVisible && m.IsEnabled }
	} else {
		codes, err := s.store.ListPermissionCodesForUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		held := make(map[string]struct{}, len(codes))
		for _, c := range codes {
			held[c] = struct{}{}
		}
		allowed = func(m *models.Menu) bool {
			if !m.IsVisible || !m.IsEnabled {
				return false
			}
			if m.PermissionCode == "" {
				return true
			}
			_, ok := held[m.PermissionCode]
			return ok
		}
	}

	var visible []*models.Menu
	for _, m := range menus {
		if allowed(m) {
			visible = append(visible, m)
		}
	}
	return buildTree(visible, nil), nil
}

// levelFor computes the level a node gets under the given parent.
func (s *Service) levelFor(ctx context.Context, parentID *int64) (int, error) {
	if parentID == nil {
		return 1, nil
	}
	parent, err := s.store.GetMenuByID(ctx, *parentID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve parent menu: %w", err)
	}
	level := parent.Level + 1
	if level > models.MaxMenuDepth {
		return 0, ErrDepthExceeded
	}
	return level, nil
}

// checkReparent walks the new parent's ancestor chain. Hitting the
// node being moved means a cycle; the walk is bounded by the depth cap
// so a corrupted chain cannot loop forever. It also verifies the
// node's subtree still fits under the cap at its new position.
func (s *Service) checkReparent(ctx context.Context, node *models.Menu, newParentID *int64) error {
	if newParentID == nil {
		return nil
	}
	if *newParentID == node.ID {
		return ErrCycle
	}

	current := *newParentID
	for i := 0; i < models.MaxMenuDepth; i++ {
		ancestor, err := s.store.GetMenuByID(ctx, current)
		if err != nil {
			return fmt.Errorf("failed to walk menu ancestors: %w", err)
		}
		if ancestor.ID == node.ID {
			return ErrCycle
		}
		if ancestor.ParentID == nil {
			break
		}
		current = *ancestor.ParentID
	}

	parent, err := s.store.GetMenuByID(ctx, *newParentID)
	if err != nil {
		return err
	}
	depth, err := s.subtreeDepth(ctx, node)
	if err != nil {
		return err
	}
	if parent.Level+depth > models.MaxMenuDepth {
		return ErrDepthExceeded
	}
	return nil
}

// subtreeDepth returns the height of the subtree rooted at node,
// counting the node itself.
func (s *Service) subtreeDepth(ctx context.Context, node *models.Menu) (int, error) {
	menus, err := s.store.ListMenus(ctx)
	if err != nil {
		return 0, err
	}
	children := make(map[int64][]*models.Menu)
	for _, m := range menus {
		if m.ParentID != nil {
			children[*m.ParentID] = append(children[*m.ParentID], m)
		}
	}

	var depth func(id int64) int
	depth = func(id int64) int {
		max := 0
		for _, c := range children[id] {
			if d := depth(c.ID); d > max {
				max = d
			}
		}
		return max + 1
	}
	return depth(node.ID), nil
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// buildTree assembles MenuTree nodes under the given parent id,
// ordered by sort then id. Children of filtered-out parents are
// dropped with them.
func buildTree(menus []*models.Menu, parentID *int64) []*models.MenuTree {
	var nodes []*models.MenuTree
	for _, m := range menus {
		if !sameParent(m.ParentID, parentID) {
			continue
		}
		nodes = append(nodes, &models.MenuTree{
			Menu:     *m,
			Children: buildTree(menus, &m.ID),
		})
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Sort != nodes[j].Sort {
			return nodes[i].Sort < nodes[j].Sort
		}
		return nodes[i].ID < nodes[j].ID
	})
	return nodes
}
