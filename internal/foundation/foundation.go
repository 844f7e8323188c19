// Package foundation creates and tears down the fleet-wide shared resources
// every channel references: the CDN authorization secret, the transcode and
// packaging service roles, and the packaging resource group.
package foundation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"livefleet/internal/control"
	"livefleet/internal/fleet"
	"livefleet/internal/observability/logging"
	"livefleet/internal/storage"
)

// StackName is the storage key the foundation is persisted under.
const StackName = "foundation"

// ErrChannelsRemain is returned by Decommission while channels still own
// resources under the shared group.
var ErrChannelsRemain = errors.New("channels still reference the foundation")

// Shared is the read-only view of the foundation handed to every channel
// compilation. It is built once and never mutated.
type Shared struct {
	authSecretID      string
	transcodeRoleID   string
	packagingRoleID   string
	resourceGroupID   string
	resourceGroupName string
	cdnHost           string
}

// IDs carries the identifiers needed to build a Shared value directly.
type IDs struct {
	AuthSecret    string
	TranscodeRole string
	PackagingRole string
	ResourceGroup string
}

// NewShared builds a Shared value from known identifiers. Every identifier
// is required.
func NewShared(settings fleet.FoundationSettings, ids IDs) (*Shared, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	missing := []string{}
	for name, value := range map[string]string{
		"authSecret":    ids.AuthSecret,
		"transcodeRole": ids.TranscodeRole,
		"packagingRole": ids.PackagingRole,
		"resourceGroup": ids.ResourceGroup,
	} {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("foundation identifiers missing: %s", strings.Join(missing, ", "))
	}
	return &Shared{
		authSecretID:      ids.AuthSecret,
		transcodeRoleID:   ids.TranscodeRole,
		packagingRoleID:   ids.PackagingRole,
		resourceGroupID:   ids.ResourceGroup,
		resourceGroupName: settings.ResourceGroup,
		cdnHost:           settings.CDNHost,
	}, nil
}

func (s *Shared) AuthSecretID() string      { return s.authSecretID }
func (s *Shared) TranscodeRoleID() string   { return s.transcodeRoleID }
func (s *Shared) PackagingRoleID() string   { return s.packagingRoleID }
func (s *Shared) ResourceGroupID() string   { return s.resourceGroupID }
func (s *Shared) ResourceGroupName() string { return s.resourceGroupName }
func (s *Shared) CDNHost() string           { return s.cdnHost }

type component struct {
	role fleet.Role
	kind fleet.ResourceKind
	name func(fleet.FoundationSettings) string
}

const (
	roleAuthSecret    fleet.Role = "cdn-auth-secret"
	roleTranscodeRole fleet.Role = "transcode-role"
	rolePackagingRole fleet.Role = "packaging-role"
	roleResourceGroup fleet.Role = "resource-group"
)

// components are created in this order and deleted in reverse teardown rank.
var components = []component{
	{role: roleAuthSecret, kind: fleet.KindSecret, name: func(s fleet.FoundationSettings) string { return s.Prefix + "-cdn-auth" }},
	{role: roleTranscodeRole, kind: fleet.KindRole, name: func(s fleet.FoundationSettings) string { return s.Prefix + "-transcode-role" }},
	{role: rolePackagingRole, kind: fleet.KindRole, name: func(s fleet.FoundationSettings) string { return s.Prefix + "-packaging-role" }},
	{role: roleResourceGroup, kind: fleet.KindResourceGroup, name: func(s fleet.FoundationSettings) string { return s.ResourceGroup }},
}

// Manager ensures and decommissions the foundation.
type Manager struct {
	provisioner control.Provisioner
	client      control.Client
	repo        storage.Repository
	logger      *slog.Logger
	newSecret   func() string
}

// NewManager wires the collaborators. client is only needed by Decommission.
func NewManager(provisioner control.Provisioner, client control.Client, repo storage.Repository, logger *slog.Logger) *Manager {
	return &Manager{
		provisioner: provisioner,
		client:      client,
		repo:        repo,
		logger:      logging.WithComponent(logger, "foundation"),
		newSecret:   uuid.NewString,
	}
}

func (m *Manager) attributes(settings fleet.FoundationSettings, c component, created map[fleet.Role]string) (json.RawMessage, error) {
	var attrs any
	switch c.role {
	case roleAuthSecret:
		attrs = map[string]string{
			"description": "CDN authorization header value for packaging endpoints",
			"secretValue": m.newSecret(),
		}
	case roleTranscodeRole:
		attrs = map[string]any{
			"assumedBy": "transcode",
			"grants":    []string{"packaging:ingest", "ingest:read"},
		}
	case rolePackagingRole:
		attrs = map[string]any{
			"assumedBy": "packaging",
			"grants":    []string{"secret:read"},
			"secretId":  created[roleAuthSecret],
		}
	case roleResourceGroup:
		attrs = map[string]string{"description": settings.Prefix + " channel group"}
	}
	return json.Marshal(attrs)
}

// Ensure creates every missing foundation resource and returns the shared
// view. Calling it again is a no-op for resources already recorded; creation
// is idempotent by name on the control plane, so a partially recorded
// foundation converges too.
func (m *Manager) Ensure(ctx context.Context, settings fleet.FoundationSettings) (*Shared, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	stack, err := m.repo.LoadStack(ctx, StackName)
	if errors.Is(err, storage.ErrStackNotFound) {
		stack = storage.Stack{Name: StackName}
	} else if err != nil {
		return nil, fmt.Errorf("load foundation: %w", err)
	}

	created := make(map[fleet.Role]string, len(components))
	for _, c := range components {
		name := c.name(settings)
		if res, ok := stack.Resource(name); ok && res.ID != "" {
			created[c.role] = res.ID
			continue
		}
		attrs, err := m.attributes(settings, c, created)
		if err != nil {
			return nil, fmt.Errorf("encode %s attributes: %w", c.role, err)
		}
		state, err := m.provisioner.Create(ctx, control.CreateRequest{
			Name:       name,
			Kind:       c.kind,
			Role:       c.role,
			Attributes: attrs,
		})
		if err != nil {
			return nil, fmt.Errorf("create foundation %s %q: %w", c.role, name, err)
		}
		created[c.role] = state.ID
		stack.Upsert(storage.Resource{Name: name, Kind: c.kind, Role: c.role, ID: state.ID, Outputs: state.Outputs})
		if err := m.repo.SaveStack(ctx, stack); err != nil {
			return nil, fmt.Errorf("save foundation: %w", err)
		}
		m.logger.Info("foundation resource created", "role", c.role, "name", name, "id", state.ID)
	}

	return NewShared(settings, IDs{
		AuthSecret:    created[roleAuthSecret],
		TranscodeRole: created[roleTranscodeRole],
		PackagingRole: created[rolePackagingRole],
		ResourceGroup: created[roleResourceGroup],
	})
}

// ErrNotEnsured is returned by Load when the foundation has not been fully
// created yet.
var ErrNotEnsured = errors.New("foundation has not been ensured")

// Load returns the shared view from recorded state without creating
// anything.
func (m *Manager) Load(ctx context.Context, settings fleet.FoundationSettings) (*Shared, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	stack, err := m.repo.LoadStack(ctx, StackName)
	if errors.Is(err, storage.ErrStackNotFound) {
		return nil, ErrNotEnsured
	} else if err != nil {
		return nil, fmt.Errorf("load foundation: %w", err)
	}
	ids := make(map[fleet.Role]string, len(components))
	for _, c := range components {
		res, ok := stack.Resource(c.name(settings))
		if !ok || res.ID == "" {
			return nil, fmt.Errorf("%w: %s missing", ErrNotEnsured, c.role)
		}
		ids[c.role] = res.ID
	}
	return NewShared(settings, IDs{
		AuthSecret:    ids[roleAuthSecret],
		TranscodeRole: ids[roleTranscodeRole],
		PackagingRole: ids[rolePackagingRole],
		ResourceGroup: ids[roleResourceGroup],
	})
}

// Placeholder returns a shared view whose identifiers name the foundation
// roles instead of real resources. It lets a topology be previewed before
// the foundation exists.
func Placeholder(settings fleet.FoundationSettings) (*Shared, error) {
	return NewShared(settings, IDs{
		AuthSecret:    "<" + string(roleAuthSecret) + ">",
		TranscodeRole: "<" + string(roleTranscodeRole) + ">",
		PackagingRole: "<" + string(rolePackagingRole) + ">",
		ResourceGroup: "<" + string(roleResourceGroup) + ">",
	})
}

// Decommission deletes the foundation. It refuses while any channel still
// owns resources remotely.
func (m *Manager) Decommission(ctx context.Context) error {
	if m.client == nil {
		return errors.New("decommission requires a control client")
	}
	remaining, err := m.client.ListChannels(ctx)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	if len(remaining) > 0 {
		return fmt.Errorf("%w: %s", ErrChannelsRemain, strings.Join(remaining, ", "))
	}

	stack, err := m.repo.LoadStack(ctx, StackName)
	if errors.Is(err, storage.ErrStackNotFound) {
		return nil
	} else if err != nil {
		return fmt.Errorf("load foundation: %w", err)
	}

	resources := append([]storage.Resource(nil), stack.Resources...)
	sort.SliceStable(resources, func(i, j int) bool {
		return resources[i].Kind.TeardownRank() < resources[j].Kind.TeardownRank()
	})
	for _, res := range resources {
		if err := m.client.Delete(ctx, res.ID); err != nil && !control.IsNotFound(err) {
			return fmt.Errorf("delete foundation %s %q: %w", res.Role, res.Name, err)
		}
		stack.Remove(res.Name)
		if err := m.repo.SaveStack(ctx, stack); err != nil {
			return fmt.Errorf("save foundation: %w", err)
		}
		m.logger.Info("foundation resource deleted", "role", res.Role, "name", res.Name)
	}
	return m.repo.DeleteStack(ctx, StackName)
}
