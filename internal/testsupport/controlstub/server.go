package controlstub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"livefleet/internal/control"
	"livefleet/internal/fleet"
)

// Options describes how the fake control plane should behave.
type Options struct {
	// Token is the bearer token enforced by the stub. If empty, the check is
	// skipped.
	Token string

	// Roles and Secrets map identity names to identifiers for the
	// resolution endpoints. Unknown names return 404.
	Roles   map[string]string
	Secrets map[string]string

	// AsyncTransitions leaves accepted transitions, creations and deletions
	// pending until Settle is called. When false they complete immediately.
	AsyncTransitions bool

	// FailDeletesForChannels makes every delete of a resource owned by one of
	// the listed channels return HTTP 500.
	FailDeletesForChannels []string

	// FailTransitions causes the first N transition requests to return HTTP
	// 503. Subsequent requests succeed.
	FailTransitions int

	// FailListChannels makes the channel listing endpoint return HTTP 503.
	FailListChannels bool

	// LenientTeardown disables the check that rejects deleting a resource
	// whose identifier still appears in another resource's attributes.
	LenientTeardown bool
}

// Operation represents a recorded control-plane interaction.
type Operation struct {
	Kind      string
	ID        string
	Name      string
	Channel   string
	Role      fleet.Role
	Target    control.State
	Status    int
	Timestamp time.Time
}

type resource struct {
	state      control.ResourceState
	attributes json.RawMessage
}

// ControlPlane hosts a single httptest.Server that serves all control-plane
// endpoints.
type ControlPlane struct {
	server *httptest.Server
	opts   Options

	mu            sync.Mutex
	resources     map[string]*resource
	byName        map[string]string
	operations    []Operation
	transitionErr int
}

// Start spins up a new control-plane stub using the provided options.
func Start(opts Options) *ControlPlane {
	cp := &ControlPlane{
		opts:      opts,
		resources: make(map[string]*resource),
		byName:    make(map[string]string),
	}
	cp.server = httptest.NewServer(http.HandlerFunc(cp.handle))
	return cp
}

// Close shuts down the underlying HTTP server.
func (c *ControlPlane) Close() {
	if c.server != nil {
		c.server.Close()
	}
}

// BaseURL returns the HTTP base URL for all control-plane endpoints.
func (c *ControlPlane) BaseURL() string {
	return c.server.URL
}

// Client returns a control.HTTPClient pointed at the stub.
func (c *ControlPlane) Client() *control.HTTPClient {
	client, err := control.Config{BaseURL: c.server.URL, Token: c.opts.Token, HTTPMaxAttempts: 1, HTTPClient: c.server.Client()}.NewHTTPClient()
	if err != nil {
		panic(err)
	}
	return client
}

// ResourceID returns the identifier the stub assigns to a resource name.
func ResourceID(kind fleet.ResourceKind, name string) string {
	return fmt.Sprintf("arn:livefleet:%s:%s", kind, name)
}

// Seed installs a resource directly, bypassing the create endpoint. The ID is
// derived from Kind and Name when empty.
func (c *ControlPlane) Seed(state control.ResourceState) string {
	if state.ID == "" {
		state.ID = ResourceID(state.Kind, state.Name)
	}
	if state.Outputs == nil {
		state.Outputs = outputsFor(state)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resources[state.ID] = &resource{state: state}
	if state.Name != "" {
		c.byName[state.Name] = state.ID
	}
	return state.ID
}

// SetState overrides the state and in-flight target of a resource.
func (c *ControlPlane) SetState(id string, state, target control.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if res, ok := c.resources[id]; ok {
		res.state.State = state
		res.state.Target = target
	}
}

// State returns the stored view of a resource.
func (c *ControlPlane) State(id string) (control.ResourceState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.resources[id]
	if !ok {
		return control.ResourceState{}, false
	}
	return cloneState(res.state), true
}

// Attributes returns the attributes a resource was created with.
func (c *ControlPlane) Attributes(id string) json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if res, ok := c.resources[id]; ok {
		return append(json.RawMessage(nil), res.attributes...)
	}
	return nil
}

// Settle completes every pending creation, transition and deletion.
func (c *ControlPlane) Settle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, res := range c.resources {
		switch {
		case res.state.State == control.StateDeleting:
			delete(c.resources, id)
			delete(c.byName, res.state.Name)
		case res.state.State == control.StateCreating:
			res.state.State = initialState(res.state.Kind)
		case res.state.Target != "":
			res.state.State = res.state.Target
			res.state.Target = ""
		}
	}
}

// Operations returns a copy of all recorded operations in the order they
// occurred.
func (c *ControlPlane) Operations() []Operation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Operation, len(c.operations))
	copy(out, c.operations)
	return out
}

// OperationsOfKind filters the recorded operations.
func (c *ControlPlane) OperationsOfKind(kind string) []Operation {
	var out []Operation
	for _, op := range c.Operations() {
		if op.Kind == kind {
			out = append(out, op)
		}
	}
	return out
}

// ResetOperations discards the recorded operations.
func (c *ControlPlane) ResetOperations() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.operations = nil
}

func (c *ControlPlane) handle(w http.ResponseWriter, r *http.Request) {
	if !c.expectBearer(w, r) {
		return
	}
	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && path == "/healthz":
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPost && path == "/v1/resources":
		c.handleCreate(w, r)
	case r.Method == http.MethodGet && path == "/v1/resources":
		c.handleList(w, r)
	case r.Method == http.MethodGet && path == "/v1/channels":
		c.handleListChannels(w)
	case r.Method == http.MethodPost && strings.HasPrefix(path, "/v1/resources/") && strings.HasSuffix(path, "/transitions"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/v1/resources/"), "/transitions")
		c.handleTransition(w, r, id)
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/v1/resources/"):
		c.handleDescribe(w, strings.TrimPrefix(path, "/v1/resources/"))
	case r.Method == http.MethodPut && strings.HasPrefix(path, "/v1/resources/"):
		c.handleUpdate(w, r, strings.TrimPrefix(path, "/v1/resources/"))
	case r.Method == http.MethodDelete && strings.HasPrefix(path, "/v1/resources/"):
		c.handleDelete(w, strings.TrimPrefix(path, "/v1/resources/"))
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/v1/identity/roles/"):
		c.handleResolve(w, c.opts.Roles, strings.TrimPrefix(path, "/v1/identity/roles/"))
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/v1/identity/secrets/"):
		c.handleResolve(w, c.opts.Secrets, strings.TrimPrefix(path, "/v1/identity/secrets/"))
	default:
		writeError(w, http.StatusNotFound, "unexpected request")
	}
}

func (c *ControlPlane) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req control.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || !req.Kind.Known() {
		c.record(Operation{Kind: "create", Name: req.Name, Status: http.StatusBadRequest})
		writeError(w, http.StatusBadRequest, "invalid create request")
		return
	}

	c.mu.Lock()
	if id, ok := c.byName[req.Name]; ok {
		state := cloneState(c.resources[id].state)
		c.mu.Unlock()
		c.record(Operation{Kind: "create", ID: id, Name: req.Name, Channel: req.Channel, Role: req.Role, Status: http.StatusOK})
		writeJSON(w, http.StatusOK, state)
		return
	}
	state := control.ResourceState{
		ID:      ResourceID(req.Kind, req.Name),
		Name:    req.Name,
		Kind:    req.Kind,
		Channel: req.Channel,
		Role:    req.Role,
		State:   initialState(req.Kind),
	}
	state.Outputs = outputsFor(state)
	if c.opts.AsyncTransitions {
		state.State = control.StateCreating
	}
	c.resources[state.ID] = &resource{state: state, attributes: append(json.RawMessage(nil), req.Attributes...)}
	c.byName[req.Name] = state.ID
	c.mu.Unlock()

	c.record(Operation{Kind: "create", ID: state.ID, Name: req.Name, Channel: req.Channel, Role: req.Role, Status: http.StatusCreated})
	writeJSON(w, http.StatusCreated, cloneState(state))
}

func (c *ControlPlane) handleUpdate(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Attributes json.RawMessage `json:"attributes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.record(Operation{Kind: "update", ID: id, Status: http.StatusBadRequest})
		writeError(w, http.StatusBadRequest, "invalid update request")
		return
	}
	c.mu.Lock()
	res, ok := c.resources[id]
	var state control.ResourceState
	if ok {
		res.attributes = append(json.RawMessage(nil), req.Attributes...)
		state = cloneState(res.state)
	}
	c.mu.Unlock()

	if !ok {
		c.record(Operation{Kind: "update", ID: id, Status: http.StatusNotFound})
		writeError(w, http.StatusNotFound, "no such resource")
		return
	}
	c.record(Operation{Kind: "update", ID: id, Name: state.Name, Channel: state.Channel, Role: state.Role, Status: http.StatusOK})
	writeJSON(w, http.StatusOK, state)
}

func (c *ControlPlane) handleDescribe(w http.ResponseWriter, id string) {
	c.mu.Lock()
	res, ok := c.resources[id]
	var state control.ResourceState
	if ok {
		state = cloneState(res.state)
	}
	c.mu.Unlock()

	if !ok {
		c.record(Operation{Kind: "describe", ID: id, Status: http.StatusNotFound})
		writeError(w, http.StatusNotFound, "no such resource")
		return
	}
	c.record(Operation{Kind: "describe", ID: id, Name: state.Name, Channel: state.Channel, Role: state.Role, Status: http.StatusOK})
	writeJSON(w, http.StatusOK, state)
}

func (c *ControlPlane) handleTransition(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Target control.State `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || (req.Target != control.StateActive && req.Target != control.StateStopped) {
		c.record(Operation{Kind: "transition", ID: id, Status: http.StatusBadRequest})
		writeError(w, http.StatusBadRequest, "invalid transition target")
		return
	}

	c.mu.Lock()
	c.transitionErr++
	attempt := c.transitionErr
	res, ok := c.resources[id]
	op := Operation{Kind: "transition", ID: id, Target: req.Target}
	if ok {
		op.Name, op.Channel, op.Role = res.state.Name, res.state.Channel, res.state.Role
	}
	status, detail := http.StatusAccepted, ""
	switch {
	case attempt <= c.opts.FailTransitions:
		status, detail = http.StatusServiceUnavailable, "control plane unavailable"
	case !ok:
		status, detail = http.StatusNotFound, "no such resource"
	case res.state.State == control.StateError && res.state.Target != req.Target:
		if c.opts.AsyncTransitions {
			res.state.Target = req.Target
		} else {
			res.state.State = req.Target
			res.state.Target = ""
			res.state.Detail = ""
		}
	case res.state.Target == req.Target || (res.state.Target == "" && res.state.State == req.Target):
		status, detail = http.StatusConflict, fmt.Sprintf("already %s", req.Target)
	case res.state.State.Pending():
		status, detail = http.StatusConflict, fmt.Sprintf("resource is %s", res.state.State)
	default:
		if c.opts.AsyncTransitions {
			res.state.Target = req.Target
		} else {
			res.state.State = req.Target
			res.state.Target = ""
		}
		res.state.Detail = ""
	}
	c.mu.Unlock()

	op.Status = status
	c.record(op)
	if status != http.StatusAccepted {
		writeError(w, status, detail)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (c *ControlPlane) handleDelete(w http.ResponseWriter, id string) {
	c.mu.Lock()
	res, ok := c.resources[id]
	op := Operation{Kind: "delete", ID: id}
	status, detail := http.StatusAccepted, ""
	switch {
	case !ok:
		status, detail = http.StatusNotFound, "no such resource"
	case contains(c.opts.FailDeletesForChannels, res.state.Channel):
		status, detail = http.StatusInternalServerError, "delete failed"
	case !c.opts.LenientTeardown && c.hasBlockingDependentLocked(res.state):
		status, detail = http.StatusBadRequest, "resource is still referenced"
	default:
		if c.opts.AsyncTransitions {
			res.state.State = control.StateDeleting
			res.state.Target = ""
		} else {
			delete(c.resources, id)
			delete(c.byName, res.state.Name)
		}
	}
	if ok {
		op.Name, op.Channel, op.Role = res.state.Name, res.state.Channel, res.state.Role
	}
	c.mu.Unlock()

	op.Status = status
	c.record(op)
	if status != http.StatusAccepted {
		writeError(w, status, detail)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// hasBlockingDependentLocked reports whether another live resource still
// carries the target's identifier in its attributes.
func (c *ControlPlane) hasBlockingDependentLocked(target control.ResourceState) bool {
	needle := []byte(strconv.Quote(target.ID))
	for _, other := range c.resources {
		if other.state.ID == target.ID || other.state.State == control.StateDeleting {
			continue
		}
		if bytes.Contains(other.attributes, needle) {
			return true
		}
	}
	return false
}

func (c *ControlPlane) handleList(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	c.mu.Lock()
	ids := make([]string, 0)
	for id, res := range c.resources {
		if channel == "" || res.state.Channel == channel {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()
	sort.Strings(ids)
	c.record(Operation{Kind: "list", Channel: channel, Status: http.StatusOK})
	writeJSON(w, http.StatusOK, map[string][]string{"ids": ids})
}

func (c *ControlPlane) handleListChannels(w http.ResponseWriter) {
	if c.opts.FailListChannels {
		c.record(Operation{Kind: "list-channels", Status: http.StatusServiceUnavailable})
		writeError(w, http.StatusServiceUnavailable, "listing unavailable")
		return
	}
	c.mu.Lock()
	seen := make(map[string]bool)
	names := make([]string, 0)
	for _, res := range c.resources {
		if res.state.Channel == "" || seen[res.state.Channel] {
			continue
		}
		seen[res.state.Channel] = true
		names = append(names, res.state.Channel)
	}
	c.mu.Unlock()
	sort.Strings(names)
	c.record(Operation{Kind: "list-channels", Status: http.StatusOK})
	writeJSON(w, http.StatusOK, map[string][]string{"names": names})
}

func (c *ControlPlane) handleResolve(w http.ResponseWriter, table map[string]string, name string) {
	id, ok := table[name]
	if !ok {
		c.record(Operation{Kind: "resolve", Name: name, Status: http.StatusNotFound})
		writeError(w, http.StatusNotFound, "no such identity")
		return
	}
	c.record(Operation{Kind: "resolve", ID: id, Name: name, Status: http.StatusOK})
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (c *ControlPlane) record(op Operation) {
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.operations = append(c.operations, op)
}

func (c *ControlPlane) expectBearer(w http.ResponseWriter, r *http.Request) bool {
	expected := strings.TrimSpace(c.opts.Token)
	if expected == "" {
		return true
	}
	if got := r.Header.Get("Authorization"); got != "Bearer "+expected {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	return true
}

// initialState is the settled state of a freshly created resource. Flows and
// transcode channels come up stopped; everything else is active.
func initialState(kind fleet.ResourceKind) control.State {
	switch kind {
	case fleet.KindIngestFlow, fleet.KindTranscodeChannel:
		return control.StateStopped
	default:
		return control.StateActive
	}
}

func outputsFor(state control.ResourceState) map[string]string {
	outputs := map[string]string{"id": state.ID}
	switch state.Kind {
	case fleet.KindIngestFlow:
		outputs["sourceIngestIp"] = "203.0.113.10"
	case fleet.KindPackagingChannel:
		outputs["ingestEndpoint1"] = fmt.Sprintf("https://ingest-1.example.net/in/v1/%s/1/channel", state.Name)
		outputs["ingestEndpoint2"] = fmt.Sprintf("https://ingest-2.example.net/in/v1/%s/2/channel", state.Name)
	case fleet.KindPackagingEndpoint:
		outputs["originUrl"] = fmt.Sprintf("https://origin.example.net/out/v1/%s", state.Name)
	case fleet.KindSecret, fleet.KindRole, fleet.KindResourceGroup:
		outputs["name"] = state.Name
	}
	return outputs
}

func cloneState(state control.ResourceState) control.ResourceState {
	if state.Outputs != nil {
		outputs := make(map[string]string, len(state.Outputs))
		for k, v := range state.Outputs {
			outputs[k] = v
		}
		state.Outputs = outputs
	}
	return state
}

func contains(values []string, needle string) bool {
	for _, value := range values {
		if value == needle {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
