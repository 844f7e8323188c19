package api

import (
	"errors"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"livefleet/internal/deploy"
	"livefleet/internal/fleet"
	"livefleet/internal/reconcile"
	"livefleet/internal/storage"
)

type deployRequest struct {
	Channels    []string `json:"channels,omitempty"`
	SkipCleanup bool     `json:"skipCleanup,omitempty"`
}

type deployResponse struct {
	deploy.Result
	Failed []string `json:"failed"`
}

func (h *Handler) loadFleet(w http.ResponseWriter) (fleet.Fleet, bool) {
	if h.Fleet == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no fleet configured"))
		return fleet.Fleet{}, false
	}
	f, err := h.Fleet()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return fleet.Fleet{}, false
	}
	return f, true
}

func (h *Handler) deployFleet(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	f, ok := h.loadFleet(w)
	if !ok {
		return
	}
	result, err := h.Deployer.Deploy(r.Context(), f, deploy.Options{Only: req.Channels, SkipCleanup: req.SkipCleanup})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	failed := result.Failed()
	if failed == nil {
		failed = []string{}
	}
	writeJSON(w, http.StatusOK, deployResponse{Result: result, Failed: failed})
}

func (h *Handler) cleanupFleet(w http.ResponseWriter, r *http.Request) {
	f, ok := h.loadFleet(w)
	if !ok {
		return
	}
	report, err := h.Deployer.Cleanup(r.Context(), f)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) channelTopology(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	f, ok := h.loadFleet(w)
	if !ok {
		return
	}
	if _, declared := f.Channel(name); !declared {
		writeError(w, http.StatusNotFound, errors.New("channel is not declared"))
		return
	}
	top, err := h.Deployer.Preview(r.Context(), f, name)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, top)
}

func (h *Handler) channelStack(w http.ResponseWriter, r *http.Request) {
	stack, err := h.Store.LoadStack(r.Context(), storage.ChannelStackName(chi.URLParam(r, "name")))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, stack)
}

type runStateResponse struct {
	Channel string             `json:"channel"`
	Desired reconcile.RunState `json:"desired"`
	Reports []reconcile.Report `json:"reports"`
}

func (h *Handler) channelRunState(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	desired, err := reconcile.ParseRunState(path.Base(r.URL.Path))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	scope, err := deploy.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	reports, err := h.Deployer.SetRunState(r.Context(), name, desired, scope)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	status := http.StatusAccepted
	for _, report := range reports {
		if report.Err() != nil {
			status = http.StatusMultiStatus
		}
	}
	writeJSON(w, status, runStateResponse{Channel: name, Desired: desired, Reports: reports})
}
