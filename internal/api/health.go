package api

import (
	"net/http"
)

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

type healthResponse struct {
	Status     string            `json:"status"`
	Components []componentStatus `json:"components"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Components: make([]componentStatus, 0, 2)}
	code := http.StatusOK
	degrade := func(c componentStatus) {
		resp.Components = append(resp.Components, c)
		if c.Status != "ok" {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	if h.Store != nil {
		c := componentStatus{Component: "datastore", Status: "ok"}
		if err := h.Store.Ping(r.Context()); err != nil {
			c.Status, c.Error = "degraded", err.Error()
		}
		degrade(c)
	}
	if h.Control != nil {
		for _, status := range h.Control.HealthChecks(r.Context()) {
			h.Metrics.SetControlHealth(status.Component, status.Status)
			degrade(componentStatus{Component: status.Component, Status: status.Status, Error: status.Detail})
		}
	}
	writeJSON(w, code, resp)
}
