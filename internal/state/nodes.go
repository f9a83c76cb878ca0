package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/AmirulAndalib/ockam/internal/identity"
)

// NodeInfo describes one locally configured node. A node always carries an
// identifier; its listener address and pid are set only while it runs.
type NodeInfo struct {
	Name               string
	Identifier         identity.Identifier
	TCPListenerAddress string
	PID                int
	IsDefault          bool
	IsAuthority        bool
}

// StoreNode inserts or updates a node by name. The default flag is consulted
// only on first insert; an existing node keeps its flag, which changes solely
// through SetDefaultNode.
func (s *Store) StoreNode(ctx context.Context, info *NodeInfo) error {
	query := `
		INSERT INTO nodes (name, identifier, tcp_listener_address, pid, is_default, is_authority)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			identifier = excluded.identifier,
			tcp_listener_address = excluded.tcp_listener_address,
			pid = excluded.pid,
			is_authority = excluded.is_authority
	`
	_, err := s.db.ExecContext(ctx, query,
		info.Name, string(info.Identifier), info.TCPListenerAddress,
		info.PID, boolToInt(info.IsDefault), boolToInt(info.IsAuthority))
	if err != nil {
		return fmt.Errorf("store node %q: %w", info.Name, err)
	}
	return nil
}

// GetNode loads a node by name.
func (s *Store) GetNode(ctx context.Context, name string) (*NodeInfo, error) {
	row := s.db.QueryRowContext(ctx, nodeSelect+" WHERE name = ?", name)
	info, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %q: %w", name, ErrNotFound)
	}
	return info, err
}

// GetDefaultNode resolves the node currently marked as default.
func (s *Store) GetDefaultNode(ctx context.Context) (*NodeInfo, error) {
	row := s.db.QueryRowContext(ctx, nodeSelect+" WHERE is_default = 1")
	info, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("default node: %w", ErrNotFound)
	}
	return info, err
}

// SetDefaultNode marks the named node as the single default.
func (s *Store) SetDefaultNode(ctx context.Context, name string) error {
	return s.setDefault(ctx, "nodes", "name", name)
}

// ListNodes returns every configured node ordered by name.
func (s *Store) ListNodes(ctx context.Context) ([]*NodeInfo, error) {
	rows, err := s.db.QueryContext(ctx, nodeSelect+" ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var out []*NodeInfo
	for rows.Next() {
		info, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// NodesByIdentifier returns the nodes bound to a given identifier.
func (s *Store) NodesByIdentifier(ctx context.Context, id identity.Identifier) ([]*NodeInfo, error) {
	rows, err := s.db.QueryContext(ctx, nodeSelect+" WHERE identifier = ? ORDER BY name", string(id))
	if err != nil {
		return nil, fmt.Errorf("nodes by identifier: %w", err)
	}
	defer rows.Close()

	var out []*NodeInfo
	for rows.Next() {
		info, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// DeleteNode removes a node by name. Deleting an absent node is not an
// error.
func (s *Store) DeleteNode(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM nodes WHERE name = ?", name); err != nil {
		return fmt.Errorf("delete node %q: %w", name, err)
	}
	return nil
}

// SetNodePID records the running process of a node; zero clears it.
func (s *Store) SetNodePID(ctx context.Context, name string, pid int) error {
	res, err := s.db.ExecContext(ctx, "UPDATE nodes SET pid = ? WHERE name = ?", pid, name)
	if err != nil {
		return fmt.Errorf("set node pid: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("node %q: %w", name, ErrNotFound)
	}
	return nil
}

// SetTCPListenerAddress records the bound listener address of a running
// node.
func (s *Store) SetTCPListenerAddress(ctx context.Context, name, address string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE nodes SET tcp_listener_address = ? WHERE name = ?", address, name)
	if err != nil {
		return fmt.Errorf("set node listener address: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("node %q: %w", name, ErrNotFound)
	}
	return nil
}

const nodeSelect = `
	SELECT name, identifier, tcp_listener_address, pid, is_default, is_authority
	FROM nodes`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*NodeInfo, error) {
	var (
		info       NodeInfo
		identifier string
		isDefault  int
		authority  int
	)
	err := row.Scan(&info.Name, &identifier, &info.TCPListenerAddress,
		&info.PID, &isDefault, &authority)
	if err != nil {
		return nil, err
	}
	info.Identifier = identity.Identifier(identifier)
	info.IsDefault = isDefault != 0
	info.IsAuthority = authority != 0
	return &info, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
