package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/AmirulAndalib/ockam/internal/identity"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return s
}

func TestNodeCRUDAndDefault(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetDefaultNode(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("default on empty store: got %v, want ErrNotFound", err)
	}

	first := &NodeInfo{Name: "alpha", Identifier: identity.Identifier("id-alpha")}
	second := &NodeInfo{Name: "beta", Identifier: identity.Identifier("id-beta")}
	for _, n := range []*NodeInfo{first, second} {
		if err := s.StoreNode(ctx, n); err != nil {
			t.Fatalf("store node %s: %v", n.Name, err)
		}
	}

	if err := s.SetDefaultNode(ctx, "beta"); err != nil {
		t.Fatalf("set default: %v", err)
	}
	def, err := s.GetDefaultNode(ctx)
	if err != nil {
		t.Fatalf("get default: %v", err)
	}
	if def.Name != "beta" {
		t.Fatalf("default node = %s, want beta", def.Name)
	}

	// Moving the default leaves exactly one flagged.
	if err := s.SetDefaultNode(ctx, "alpha"); err != nil {
		t.Fatalf("move default: %v", err)
	}
	nodes, err := s.ListNodes(ctx)
	if err != nil {
		t.Fatalf("list nodes: %v", err)
	}
	defaults := 0
	for _, n := range nodes {
		if n.IsDefault {
			defaults++
		}
	}
	if defaults != 1 {
		t.Fatalf("default count = %d, want 1", defaults)
	}

	if err := s.SetDefaultNode(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("default to missing node: got %v, want ErrNotFound", err)
	}

	if err := s.DeleteNode(ctx, "beta"); err != nil {
		t.Fatalf("delete node: %v", err)
	}
	if _, err := s.GetNode(ctx, "beta"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get deleted node: got %v, want ErrNotFound", err)
	}
}

func TestStoreNodePreservesDefaultFlag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.StoreNode(ctx, &NodeInfo{Name: "alpha", Identifier: "id-alpha"}); err != nil {
		t.Fatalf("store node: %v", err)
	}
	if err := s.SetDefaultNode(ctx, "alpha"); err != nil {
		t.Fatalf("set default: %v", err)
	}

	// A restart re-stores the node with fresh runtime fields and the
	// default flag unset; the stored flag must survive.
	if err := s.StoreNode(ctx, &NodeInfo{Name: "alpha", Identifier: "id-alpha", PID: 42}); err != nil {
		t.Fatalf("re-store node: %v", err)
	}
	got, err := s.GetNode(ctx, "alpha")
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if !got.IsDefault {
		t.Fatal("re-storing a node cleared its default flag")
	}
	if got.PID != 42 {
		t.Fatalf("pid = %d, want 42", got.PID)
	}
}

func TestNodeRuntimeFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.StoreNode(ctx, &NodeInfo{Name: "alpha", Identifier: "id-alpha"}); err != nil {
		t.Fatalf("store node: %v", err)
	}
	if err := s.SetNodePID(ctx, "alpha", 4242); err != nil {
		t.Fatalf("set pid: %v", err)
	}
	if err := s.SetTCPListenerAddress(ctx, "alpha", "127.0.0.1:4000"); err != nil {
		t.Fatalf("set listener: %v", err)
	}

	info, err := s.GetNode(ctx, "alpha")
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if info.PID != 4242 || info.TCPListenerAddress != "127.0.0.1:4000" {
		t.Fatalf("runtime fields = %d / %s", info.PID, info.TCPListenerAddress)
	}

	if err := s.SetNodePID(ctx, "missing", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("pid on missing node: got %v, want ErrNotFound", err)
	}
}

func TestNodesByIdentifier(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, n := range []*NodeInfo{
		{Name: "alpha", Identifier: "shared"},
		{Name: "beta", Identifier: "shared"},
		{Name: "gamma", Identifier: "other"},
	} {
		if err := s.StoreNode(ctx, n); err != nil {
			t.Fatalf("store node %s: %v", n.Name, err)
		}
	}

	nodes, err := s.NodesByIdentifier(ctx, "shared")
	if err != nil {
		t.Fatalf("nodes by identifier: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("got %d nodes, want 2", len(nodes))
	}
}

func TestSpaceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	space := &Space{ID: "sp-1", Name: "engineering", Users: []string{"a@x", "b@x"}}
	if err := s.StoreSpace(ctx, space); err != nil {
		t.Fatalf("store space: %v", err)
	}
	if err := s.SetDefaultSpace(ctx, "sp-1"); err != nil {
		t.Fatalf("set default space: %v", err)
	}

	got, err := s.GetDefaultSpace(ctx)
	if err != nil {
		t.Fatalf("get default space: %v", err)
	}
	if got.Name != "engineering" || len(got.Users) != 2 {
		t.Fatalf("space = %+v", got)
	}

	byName, err := s.GetSpaceByName(ctx, "engineering")
	if err != nil {
		t.Fatalf("get space by name: %v", err)
	}
	if byName.ID != "sp-1" {
		t.Fatalf("space id = %s", byName.ID)
	}

	if err := s.DeleteSpace(ctx, "sp-1"); err != nil {
		t.Fatalf("delete space: %v", err)
	}
	if _, err := s.GetDefaultSpace(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("default after delete: got %v, want ErrNotFound", err)
	}
}

func TestFirstVaultBecomesDefault(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.StoreVault(ctx, &Vault{Name: "primary", Path: "/tmp/v1"}); err != nil {
		t.Fatalf("store vault: %v", err)
	}
	def, err := s.GetDefaultVault(ctx)
	if err != nil {
		t.Fatalf("get default vault: %v", err)
	}
	if def.Name != "primary" {
		t.Fatalf("default vault = %s, want primary", def.Name)
	}

	// A later vault does not steal the default.
	if err := s.StoreVault(ctx, &Vault{Name: "secondary", Path: "/tmp/v2"}); err != nil {
		t.Fatalf("store second vault: %v", err)
	}
	def, err = s.GetDefaultVault(ctx)
	if err != nil {
		t.Fatalf("get default vault: %v", err)
	}
	if def.Name != "primary" {
		t.Fatalf("default vault moved to %s", def.Name)
	}

	// Unless it asks for it.
	if err := s.StoreVault(ctx, &Vault{Name: "tertiary", Path: "/tmp/v3", IsDefault: true}); err != nil {
		t.Fatalf("store third vault: %v", err)
	}
	def, err = s.GetDefaultVault(ctx)
	if err != nil {
		t.Fatalf("get default vault: %v", err)
	}
	if def.Name != "tertiary" {
		t.Fatalf("default vault = %s, want tertiary", def.Name)
	}

	vaults, err := s.ListVaults(ctx)
	if err != nil {
		t.Fatalf("list vaults: %v", err)
	}
	if len(vaults) != 3 {
		t.Fatalf("got %d vaults, want 3", len(vaults))
	}
}
