package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Vault names a sealed key file on disk.
type Vault struct {
	Name      string
	Path      string
	IsDefault bool
}

// StoreVault inserts or updates a vault by name. The first vault stored
// becomes the default unless one was already chosen.
func (s *Store) StoreVault(ctx context.Context, vault *Vault) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	makeDefault := vault.IsDefault
	if !makeDefault {
		var defaults int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM vaults WHERE is_default = 1").Scan(&defaults); err != nil {
			return fmt.Errorf("count default vaults: %w", err)
		}
		makeDefault = defaults == 0
	}
	if makeDefault {
		if _, err := tx.ExecContext(ctx, "UPDATE vaults SET is_default = 0"); err != nil {
			return fmt.Errorf("clear default vault: %w", err)
		}
	}

	query := `
		INSERT INTO vaults (name, path, is_default)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			path = excluded.path,
			is_default = excluded.is_default
	`
	if _, err := tx.ExecContext(ctx, query,
		vault.Name, vault.Path, boolToInt(makeDefault)); err != nil {
		return fmt.Errorf("store vault %q: %w", vault.Name, err)
	}
	return tx.Commit()
}

// GetVault loads a vault by name.
func (s *Store) GetVault(ctx context.Context, name string) (*Vault, error) {
	row := s.db.QueryRowContext(ctx, vaultSelect+" WHERE name = ?", name)
	vault, err := scanVault(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("vault %q: %w", name, ErrNotFound)
	}
	return vault, err
}

// GetDefaultVault resolves the vault currently marked as default.
func (s *Store) GetDefaultVault(ctx context.Context) (*Vault, error) {
	row := s.db.QueryRowContext(ctx, vaultSelect+" WHERE is_default = 1")
	vault, err := scanVault(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("default vault: %w", ErrNotFound)
	}
	return vault, err
}

// SetDefaultVault marks the named vault as the single default.
func (s *Store) SetDefaultVault(ctx context.Context, name string) error {
	return s.setDefault(ctx, "vaults", "name", name)
}

// ListVaults returns every vault ordered by name.
func (s *Store) ListVaults(ctx context.Context) ([]*Vault, error) {
	rows, err := s.db.QueryContext(ctx, vaultSelect+" ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list vaults: %w", err)
	}
	defer rows.Close()

	var out []*Vault
	for rows.Next() {
		vault, err := scanVault(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, vault)
	}
	return out, rows.Err()
}

// DeleteVault removes a vault by name.
func (s *Store) DeleteVault(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM vaults WHERE name = ?", name); err != nil {
		return fmt.Errorf("delete vault %q: %w", name, err)
	}
	return nil
}

const vaultSelect = `SELECT name, path, is_default FROM vaults`

func scanVault(row rowScanner) (*Vault, error) {
	var (
		vault     Vault
		isDefault int
	)
	if err := row.Scan(&vault.Name, &vault.Path, &isDefault); err != nil {
		return nil, err
	}
	vault.IsDefault = isDefault != 0
	return &vault, nil
}
