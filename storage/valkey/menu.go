package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/zinacoffee/menuguard/storage"
)

// menuItemJSON is the JSON representation of a menu item.
// Numeric fields come back as float64 after a round trip.
type menuItemJSON struct {
	ID        string         `json:"id"`
	Fields    map[string]any `json:"fields"`
	CreatedBy string         `json:"created_by,omitempty"`
	CreatedAt int64          `json:"created_at"`
	UpdatedBy string         `json:"updated_by,omitempty"`
	UpdatedAt int64          `json:"updated_at,omitempty"`
	Version   int64          `json:"version"`
}

func toMenuItemJSON(m *storage.MenuItem, version int64) *menuItemJSON {
	j := &menuItemJSON{
		ID:        m.ID,
		Fields:    m.Fields,
		CreatedBy: m.CreatedBy,
		CreatedAt: m.CreatedAt.UnixMilli(),
		UpdatedBy: m.UpdatedBy,
		Version:   version,
	}
	if !m.UpdatedAt.IsZero() {
		j.UpdatedAt = m.UpdatedAt.UnixMilli()
	}
	if j.Fields == nil {
		j.Fields = map[string]any{}
	}
	return j
}

func fromMenuItemJSON(j *menuItemJSON) *storage.MenuItem {
	return &storage.MenuItem{
		ID:        j.ID,
		Fields:    j.Fields,
		CreatedBy: j.CreatedBy,
		CreatedAt: fromMillis(j.CreatedAt),
		UpdatedBy: j.UpdatedBy,
		UpdatedAt: fromMillis(j.UpdatedAt),
	}
}

func validateMenuItem(item *storage.MenuItem) error {
	if item == nil {
		return fmt.Errorf("menu item cannot be nil")
	}
	if item.ID == "" {
		return fmt.Errorf("menu item ID cannot be empty")
	}
	return nil
}

// insertMenuItems stores items in one script call, failing with
// ErrMenuItemExists when any ID is taken
func (s *Store) insertMenuItems(ctx context.Context, items []*storage.MenuItem) error {
	keys := make([]string, 0, len(items)+2)
	keys = append(keys, s.menuIndexKey(), s.menuSeqKey())
	args := make([]string, 0, len(items)*2)

	for _, item := range items {
		data, err := json.Marshal(toMenuItemJSON(item, 1))
		if err != nil {
			return fmt.Errorf("failed to marshal menu item: %w", err)
		}
		keys = append(keys, s.menuItemKey(item.ID))
		args = append(args, string(data), item.ID)
	}

	stored, err := s.eval(ctx, luaInsertMenuItems, keys, args...).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to store menu items: %w", err)
	}
	if stored == 0 {
		return storage.ErrMenuItemExists
	}
	return nil
}

// CreateMenuItem stores a new menu item
func (s *Store) CreateMenuItem(ctx context.Context, item *storage.MenuItem) error {
	if err := validateMenuItem(item); err != nil {
		return err
	}
	if err := s.insertMenuItems(ctx, []*storage.MenuItem{item}); err != nil {
		if errors.Is(err, storage.ErrMenuItemExists) {
			return fmt.Errorf("%w: %s", storage.ErrMenuItemExists, item.ID)
		}
		return err
	}
	return nil
}

// UpdateMenuItem merges fields into an existing item
func (s *Store) UpdateMenuItem(ctx context.Context, id string, fields map[string]any, updatedBy string, updatedAt time.Time) error {
	key := s.menuItemKey(id)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := s.getMenuItemJSON(ctx, key)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("%w: %s", storage.ErrMenuItemNotFound, id)
		}

		expected := current.Version
		if current.Fields == nil {
			current.Fields = make(map[string]any, len(fields))
		}
		maps.Copy(current.Fields, fields)
		current.UpdatedBy = updatedBy
		current.UpdatedAt = updatedAt.UnixMilli()
		current.Version = expected + 1

		data, err := json.Marshal(current)
		if err != nil {
			return fmt.Errorf("failed to marshal menu item: %w", err)
		}

		stored, err := s.eval(ctx, luaCompareAndSwap, []string{key},
			strconv.FormatInt(expected, 10), string(data),
		).AsInt64()
		if err != nil {
			return fmt.Errorf("failed to update menu item: %w", err)
		}
		if stored == 1 {
			return nil
		}

		s.logger.Debug("Menu item changed concurrently, retrying", "id", id, "attempt", attempt+1)
	}

	return fmt.Errorf("%w: menu item %s", storage.ErrConcurrentUpdate, id)
}

// DeleteMenuItem removes an item; missing items are ignored
func (s *Store) DeleteMenuItem(ctx context.Context, id string) error {
	if err := s.eval(ctx, luaDeleteIndexed, []string{s.menuItemKey(id), s.menuIndexKey()}, id).Error(); err != nil {
		return fmt.Errorf("failed to delete menu item: %w", err)
	}
	return nil
}

// GetMenuItem retrieves an item by ID
func (s *Store) GetMenuItem(ctx context.Context, id string) (*storage.MenuItem, error) {
	j, err := s.getMenuItemJSON(ctx, s.menuItemKey(id))
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrMenuItemNotFound, id)
	}
	return fromMenuItemJSON(j), nil
}

func (s *Store) getMenuItemJSON(ctx context.Context, key string) (*menuItemJSON, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get menu item: %w", err)
	}

	var j menuItemJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal menu item: %w", err)
	}
	return &j, nil
}

// ListMenuItems returns all items in creation order
func (s *Store) ListMenuItems(ctx context.Context) ([]*storage.MenuItem, error) {
	docs, err := s.eval(ctx, luaListIndexed, []string{s.menuIndexKey()}, s.menuItemPrefix()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to list menu items: %w", err)
	}

	items := make([]*storage.MenuItem, 0, len(docs))
	for _, doc := range docs {
		var j menuItemJSON
		if err := json.Unmarshal([]byte(doc), &j); err != nil {
			return nil, fmt.Errorf("failed to unmarshal menu item: %w", err)
		}
		items = append(items, fromMenuItemJSON(&j))
	}

	// The index is in insertion order; creation time takes precedence.
	slices.SortStableFunc(items, func(a, b *storage.MenuItem) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return items, nil
}

// SeedMenuItems stores every item, or none if any of them is invalid or taken
func (s *Store) SeedMenuItems(ctx context.Context, items []*storage.MenuItem) error {
	if len(items) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if err := validateMenuItem(item); err != nil {
			return err
		}
		if seen[item.ID] {
			return fmt.Errorf("%w: %s", storage.ErrMenuItemExists, item.ID)
		}
		seen[item.ID] = true
	}

	if err := s.insertMenuItems(ctx, items); err != nil {
		if errors.Is(err, storage.ErrMenuItemExists) {
			return fmt.Errorf("%w: seed overlaps existing items", storage.ErrMenuItemExists)
		}
		return err
	}

	s.logger.Info("Seeded menu items", "count", len(items))
	return nil
}
