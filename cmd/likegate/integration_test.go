//go:build integration

package main

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"likegate/pkg/audit"
	"likegate/pkg/config"
	"likegate/pkg/models"
)

// Run with: go test -tags=integration -timeout 120s -run TestPostgresBackendAndAudit ./cmd/likegate/...
func TestPostgresBackendAndAudit(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	pg, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("likegate"),
		postgres.WithUsername("likegate"),
		postgres.WithPassword("likegate"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := pg.Terminate(ctx); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()
	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	cfg := testConfig(t)
	cfg.StoreBackend = config.BackendPostgres
	cfg.DatabaseURL = dsn
	cfg.AuditRedact = false

	a, err := buildApp(ctx, cfg, openers{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := a.audit.(*audit.Writer); !ok {
		t.Fatalf("expected postgres audit writer, got %T", a.audit)
	}
	if err := a.ledger.SetLimit(ctx, 500, 9); err != nil {
		t.Fatalf("set limit: %v", err)
	}
	a.record(ctx, audit.ActionSetLimit, "500", map[string]int{"limit": 9})
	recs, err := a.auditLog.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 1 || recs[0].Action != audit.ActionSetLimit || recs[0].Target != "500" {
		t.Fatalf("unexpected audit records %+v", recs)
	}
	a.closeAll()

	reopened, err := buildApp(ctx, cfg, openers{})
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	defer reopened.closeAll()
	if got := reopened.ledger.DailyLimit(models.Identity(500)); got.Value() != 9 {
		t.Fatalf("expected limit to survive restart, got %s", got)
	}
}
