package foundation_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"livefleet/internal/control"
	"livefleet/internal/fleet"
	"livefleet/internal/foundation"
	"livefleet/internal/observability/logging"
	"livefleet/internal/storage"
	"livefleet/internal/testsupport/controlstub"
)

var settings = fleet.FoundationSettings{Prefix: "livefleet", ResourceGroup: "livefleet-channels", CDNHost: "cdn.example.net"}

// TestEnsureCreatesOnceAndIsIdempotent verifies that a second Ensure reuses
// the recorded identifiers without another create call.
func TestEnsureCreatesOnceAndIsIdempotent(t *testing.T) {
	cp := controlstub.Start(controlstub.Options{})
	defer cp.Close()
	client := cp.Client()
	repo := storage.NewMemoryRepository()
	manager := foundation.NewManager(client, client, repo, logging.Discard())
	ctx := context.Background()

	shared, err := manager.Ensure(ctx, settings)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if got := len(cp.OperationsOfKind("create")); got != 4 {
		t.Fatalf("expected 4 creates, got %d", got)
	}
	if shared.ResourceGroupName() != "livefleet-channels" || shared.CDNHost() != "cdn.example.net" {
		t.Fatalf("unexpected shared settings: %+v", shared)
	}
	if shared.ResourceGroupID() != controlstub.ResourceID(fleet.KindResourceGroup, "livefleet-channels") {
		t.Fatalf("unexpected group id %q", shared.ResourceGroupID())
	}

	var secretAttrs map[string]string
	if err := json.Unmarshal(cp.Attributes(shared.AuthSecretID()), &secretAttrs); err != nil {
		t.Fatalf("decode secret attributes: %v", err)
	}
	if len(secretAttrs["secretValue"]) != 36 {
		t.Fatalf("expected uuid secret value, got %q", secretAttrs["secretValue"])
	}
	var roleAttrs map[string]any
	if err := json.Unmarshal(cp.Attributes(shared.PackagingRoleID()), &roleAttrs); err != nil {
		t.Fatalf("decode role attributes: %v", err)
	}
	if roleAttrs["secretId"] != shared.AuthSecretID() {
		t.Fatalf("packaging role must reference the secret, got %v", roleAttrs["secretId"])
	}

	cp.ResetOperations()
	again, err := manager.Ensure(ctx, settings)
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if got := len(cp.OperationsOfKind("create")); got != 0 {
		t.Fatalf("expected no creates on second Ensure, got %d", got)
	}
	if again.TranscodeRoleID() != shared.TranscodeRoleID() {
		t.Fatalf("identifiers changed between calls")
	}
}

func TestEnsureRejectsInvalidSettings(t *testing.T) {
	cp := controlstub.Start(controlstub.Options{})
	defer cp.Close()
	manager := foundation.NewManager(cp.Client(), cp.Client(), storage.NewMemoryRepository(), nil)

	_, err := manager.Ensure(context.Background(), fleet.FoundationSettings{Prefix: "Bad Prefix"})
	if !fleet.IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if len(cp.Operations()) != 0 {
		t.Fatalf("expected no remote calls")
	}
}

// TestDecommissionRefusesWhileChannelsRemain verifies the foundation is kept
// until every channel is gone, then removed in teardown order.
func TestDecommissionRefusesWhileChannelsRemain(t *testing.T) {
	cp := controlstub.Start(controlstub.Options{})
	defer cp.Close()
	client := cp.Client()
	repo := storage.NewMemoryRepository()
	manager := foundation.NewManager(client, client, repo, nil)
	ctx := context.Background()

	if _, err := manager.Ensure(ctx, settings); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	flow := cp.Seed(control.ResourceState{Name: "CH01-ingest-main", Kind: fleet.KindIngestFlow, Channel: "CH01", State: control.StateStopped})

	err := manager.Decommission(ctx)
	if !errors.Is(err, foundation.ErrChannelsRemain) {
		t.Fatalf("expected ErrChannelsRemain, got %v", err)
	}
	if len(cp.OperationsOfKind("delete")) != 0 {
		t.Fatalf("expected no deletes while channels remain")
	}

	if err := client.Delete(ctx, flow); err != nil {
		t.Fatalf("delete flow: %v", err)
	}
	cp.ResetOperations()
	if err := manager.Decommission(ctx); err != nil {
		t.Fatalf("Decommission: %v", err)
	}
	deletes := cp.OperationsOfKind("delete")
	if len(deletes) != 4 {
		t.Fatalf("expected 4 deletes, got %d", len(deletes))
	}
	if deletes[0].Role != "resource-group" || deletes[3].Role != "cdn-auth-secret" {
		t.Fatalf("unexpected delete order: %+v", deletes)
	}
	if _, err := repo.LoadStack(ctx, foundation.StackName); !errors.Is(err, storage.ErrStackNotFound) {
		t.Fatalf("expected foundation stack removed, got %v", err)
	}
}

func TestNewSharedRequiresIdentifiers(t *testing.T) {
	if _, err := foundation.NewShared(settings, foundation.IDs{AuthSecret: "s"}); err == nil {
		t.Fatal("expected error for missing identifiers")
	}
	shared, err := foundation.NewShared(settings, foundation.IDs{AuthSecret: "s", TranscodeRole: "t", PackagingRole: "p", ResourceGroup: "g"})
	if err != nil {
		t.Fatalf("NewShared: %v", err)
	}
	if shared.PackagingRoleID() != "p" {
		t.Fatalf("unexpected packaging role %q", shared.PackagingRoleID())
	}
}

// TestLoadReadsRecordedFoundation verifies that Load fails before Ensure and
// afterwards returns the same identifiers without remote calls.
func TestLoadReadsRecordedFoundation(t *testing.T) {
	cp := controlstub.Start(controlstub.Options{})
	defer cp.Close()
	client := cp.Client()
	manager := foundation.NewManager(client, client, storage.NewMemoryRepository(), logging.Discard())
	ctx := context.Background()

	if _, err := manager.Load(ctx, settings); !errors.Is(err, foundation.ErrNotEnsured) {
		t.Fatalf("expected ErrNotEnsured, got %v", err)
	}
	ensured, err := manager.Ensure(ctx, settings)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	cp.ResetOperations()

	loaded, err := manager.Load(ctx, settings)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.AuthSecretID() != ensured.AuthSecretID() || loaded.ResourceGroupID() != ensured.ResourceGroupID() {
		t.Fatalf("expected loaded ids to match ensured ones")
	}
	if ops := cp.Operations(); len(ops) != 0 {
		t.Fatalf("expected no remote calls, got %+v", ops)
	}
}

func TestPlaceholderNamesRoles(t *testing.T) {
	shared, err := foundation.Placeholder(settings)
	if err != nil {
		t.Fatalf("Placeholder: %v", err)
	}
	if shared.PackagingRoleID() != "<packaging-role>" || shared.CDNHost() != settings.CDNHost {
		t.Fatalf("unexpected placeholder %+v", shared)
	}
}
