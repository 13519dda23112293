package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dylanneve1/agent-bridge/internal/common/apperr"
	"github.com/dylanneve1/agent-bridge/internal/common/logger"
	"github.com/dylanneve1/agent-bridge/internal/db"
	"github.com/dylanneve1/agent-bridge/internal/db/dialect"
	"github.com/dylanneve1/agent-bridge/internal/identity/models"
	"github.com/dylanneve1/agent-bridge/internal/identity/store"
)

func createService(t *testing.T) *Service {
	t.Helper()
	pool, err := db.Open(db.Options{
		Driver:      dialect.SQLite3,
		Path:        filepath.Join(t.TempDir(), "bridge.db"),
		BusyTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	repo, err := store.New(pool.Writer(), pool.Reader())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("create logger: %v", err)
	}
	return NewService(repo, nil, log)
}

func TestRegister(t *testing.T) {
	svc := createService(t)
	ctx := context.Background()

	agent, err := svc.Register(ctx, "alice")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if agent.Name != "alice" {
		t.Errorf("name = %q, want alice", agent.Name)
	}
	if len(agent.APIKey) != 64 {
		t.Errorf("api key length = %d, want 64", len(agent.APIKey))
	}

	authed, err := svc.Authenticate(ctx, agent.APIKey)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if authed.Name != "alice" {
		t.Errorf("authenticated as %q, want alice", authed.Name)
	}

	if _, err := svc.Register(ctx, "alice"); !apperr.IsConflict(err) {
		t.Errorf("duplicate register error = %v, want conflict", err)
	}
	if _, err := svc.Register(ctx, "  "); apperr.StatusOf(err) != 400 {
		t.Errorf("blank name error = %v, want validation", err)
	}

	// Names are trimmed before use.
	trimmed, err := svc.Register(ctx, "  bob  ")
	if err != nil {
		t.Fatalf("register trimmed: %v", err)
	}
	if trimmed.Name != "bob" {
		t.Errorf("name = %q, want bob", trimmed.Name)
	}
}

func TestAuthenticate(t *testing.T) {
	svc := createService(t)
	ctx := context.Background()

	if _, err := svc.Authenticate(ctx, ""); apperr.StatusOf(err) != 401 {
		t.Errorf("empty key error = %v, want unauthorized", err)
	}
	if _, err := svc.Authenticate(ctx, "not-a-key"); apperr.StatusOf(err) != 401 {
		t.Errorf("unknown key error = %v, want unauthorized", err)
	}
}

func TestJoinWorkflow(t *testing.T) {
	svc := createService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice"); err != nil {
		t.Fatalf("register approver: %v", err)
	}

	reg, err := svc.JoinRequest(ctx, "worker-7", "overnight batch agent", "ops@example.com")
	if err != nil {
		t.Fatalf("join request: %v", err)
	}
	if reg.Status != models.RegistrationPending {
		t.Errorf("status = %q, want pending", reg.Status)
	}

	// Polling before review yields the pending status and no key.
	polled, key, err := svc.JoinStatus(ctx, reg.ID)
	if err != nil {
		t.Fatalf("join status: %v", err)
	}
	if polled.Status != models.RegistrationPending || key != "" {
		t.Errorf("pending poll = %q key %q, want pending and no key", polled.Status, key)
	}

	pending, err := svc.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].AgentName != "worker-7" {
		t.Fatalf("pending = %+v, want worker-7", pending)
	}

	// A second request for the same name is refused while one is pending.
	if _, err := svc.JoinRequest(ctx, "worker-7", "", ""); !apperr.IsConflict(err) {
		t.Errorf("duplicate pending error = %v, want conflict", err)
	}
	// A registered name cannot be requested at all.
	if _, err := svc.JoinRequest(ctx, "alice", "", ""); !apperr.IsConflict(err) {
		t.Errorf("registered name error = %v, want conflict", err)
	}
	if _, err := svc.JoinRequest(ctx, "", "", ""); apperr.StatusOf(err) != 400 {
		t.Errorf("blank name error = %v, want validation", err)
	}

	agent, approvedReg, err := svc.Approve(ctx, reg.ID, "alice")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if agent.Name != "worker-7" {
		t.Errorf("agent name = %q, want worker-7", agent.Name)
	}
	if approvedReg.ReviewedBy != "alice" {
		t.Errorf("reviewed_by = %q, want alice", approvedReg.ReviewedBy)
	}

	// The requester collects the key by polling.
	polled, key, err = svc.JoinStatus(ctx, reg.ID)
	if err != nil {
		t.Fatalf("join status after approve: %v", err)
	}
	if polled.Status != models.RegistrationApproved {
		t.Errorf("status = %q, want approved", polled.Status)
	}
	if key != agent.APIKey {
		t.Errorf("polled key does not match the issued key")
	}

	// The new key authenticates.
	authed, err := svc.Authenticate(ctx, key)
	if err != nil {
		t.Fatalf("authenticate with issued key: %v", err)
	}
	if authed.Name != "worker-7" {
		t.Errorf("authenticated as %q, want worker-7", authed.Name)
	}
}

func TestRejectAndRetry(t *testing.T) {
	svc := createService(t)
	ctx := context.Background()

	reg, err := svc.JoinRequest(ctx, "worker-9", "", "")
	if err != nil {
		t.Fatalf("join request: %v", err)
	}
	rejected, err := svc.Reject(ctx, reg.ID, "alice")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != models.RegistrationRejected {
		t.Errorf("status = %q, want rejected", rejected.Status)
	}

	// A rejected name is free to try again.
	retry, err := svc.JoinRequest(ctx, "worker-9", "second attempt", "")
	if err != nil {
		t.Fatalf("retry join request: %v", err)
	}
	if retry.ID == reg.ID {
		t.Error("retry should file a fresh registration")
	}

	if _, _, err := svc.Approve(ctx, "missing", "alice"); !apperr.IsNotFound(err) {
		t.Errorf("approve missing error = %v, want not found", err)
	}
}

func TestListKeys(t *testing.T) {
	svc := createService(t)
	ctx := context.Background()

	for _, name := range []string{"alice", "bob"} {
		if _, err := svc.Register(ctx, name); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	keys, err := svc.ListKeys(ctx)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d entries, want 2", len(keys))
	}
	if keys[0].Name != "alice" || keys[1].Name != "bob" {
		t.Errorf("names = %q, %q", keys[0].Name, keys[1].Name)
	}
}
