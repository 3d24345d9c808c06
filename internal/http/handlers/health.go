package handlers

import (
	"net/http"
)

type readiness interface {
	Ready() error
}

type healthResponse struct {
	Status  string `json:"status"`
	Gateway string `json:"gateway"`
}

// Health is a liveness check. It answers 200 even when the AI gateway is
// unconfigured and reports that in the gateway field.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Gateway: "ready"}
	if p, ok := a.Processor.(readiness); ok {
		if err := p.Ready(); err != nil {
			resp.Gateway = "unconfigured"
		}
	}
	a.json(w, http.StatusOK, resp)
}
