package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Space groups nodes under one administrative domain.
type Space struct {
	ID        string
	Name      string
	Users     []string
	IsDefault bool
}

// StoreSpace inserts or updates a space by id.
func (s *Store) StoreSpace(ctx context.Context, space *Space) error {
	users, err := json.Marshal(space.Users)
	if err != nil {
		return fmt.Errorf("encode space users: %w", err)
	}
	query := `
		INSERT INTO spaces (id, name, users, is_default)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			users = excluded.users,
			is_default = excluded.is_default
	`
	if _, err := s.db.ExecContext(ctx, query,
		space.ID, space.Name, string(users), boolToInt(space.IsDefault)); err != nil {
		return fmt.Errorf("store space %q: %w", space.ID, err)
	}
	return nil
}

// GetSpaceByName loads a space by its unique name.
func (s *Store) GetSpaceByName(ctx context.Context, name string) (*Space, error) {
	row := s.db.QueryRowContext(ctx, spaceSelect+" WHERE name = ?", name)
	space, err := scanSpace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("space %q: %w", name, ErrNotFound)
	}
	return space, err
}

// GetDefaultSpace resolves the space currently marked as default.
func (s *Store) GetDefaultSpace(ctx context.Context) (*Space, error) {
	row := s.db.QueryRowContext(ctx, spaceSelect+" WHERE is_default = 1")
	space, err := scanSpace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("default space: %w", ErrNotFound)
	}
	return space, err
}

// SetDefaultSpace marks the space with the given id as the single default.
func (s *Store) SetDefaultSpace(ctx context.Context, id string) error {
	return s.setDefault(ctx, "spaces", "id", id)
}

// ListSpaces returns every space ordered by name.
func (s *Store) ListSpaces(ctx context.Context) ([]*Space, error) {
	rows, err := s.db.QueryContext(ctx, spaceSelect+" ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list spaces: %w", err)
	}
	defer rows.Close()

	var out []*Space
	for rows.Next() {
		space, err := scanSpace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, space)
	}
	return out, rows.Err()
}

// DeleteSpace removes a space by id.
func (s *Store) DeleteSpace(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM spaces WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete space %q: %w", id, err)
	}
	return nil
}

const spaceSelect = `SELECT id, name, users, is_default FROM spaces`

func scanSpace(row rowScanner) (*Space, error) {
	var (
		space     Space
		users     string
		isDefault int
	)
	if err := row.Scan(&space.ID, &space.Name, &users, &isDefault); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(users), &space.Users); err != nil {
		return nil, fmt.Errorf("decode space users: %w", err)
	}
	space.IsDefault = isDefault != 0
	return &space, nil
}
