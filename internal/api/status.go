package api

import (
	"fmt"
	"net/http"

	"github.com/clawinfra/opsguardian/internal/config"
	"github.com/clawinfra/opsguardian/internal/monitor"
)

// configView is the operator-editable part of the configuration.
type configView struct {
	Monitors []monitor.Definition `json:"monitors"`
	Webhooks []string             `json:"webhooks"`
}

type configUpdate struct {
	Monitors *[]monitor.Definition `json:"monitors"`
	Webhooks *[]string             `json:"webhooks"`
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.opts.Config == nil {
		unavailable(w, "config")
		return
	}
	writeJSON(w, http.StatusOK, s.currentConfig())
}

// handleUpdateConfig replaces the monitor list and webhooks. Omitted fields
// are left unchanged.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	if s.opts.Config == nil {
		unavailable(w, "config")
		return
	}
	var body configUpdate
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Monitors != nil {
		for i, m := range *body.Monitors {
			if m.Name == "" || m.Command == "" {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("monitor %d: name and command are required", i))
				return
			}
		}
	}

	err := s.opts.Config.Update(func(c *config.Config) {
		if body.Monitors != nil {
			c.Monitors = *body.Monitors
		}
		if body.Webhooks != nil {
			c.Notifications.Webhooks = *body.Webhooks
		}
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	s.logger.Info("configuration updated", "monitors", body.Monitors != nil, "webhooks", body.Webhooks != nil)
	writeJSON(w, http.StatusOK, s.currentConfig())
}

func (s *Server) currentConfig() configView {
	view := configView{
		Monitors: s.opts.Config.Monitors(),
		Webhooks: s.opts.Config.WebhookURLs(),
	}
	if view.Monitors == nil {
		view.Monitors = []monitor.Definition{}
	}
	if view.Webhooks == nil {
		view.Webhooks = []string{}
	}
	return view
}

// handleSystemStatus runs every monitor and returns name to output.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	if s.opts.Monitors == nil {
		unavailable(w, "monitors")
		return
	}
	writeJSON(w, http.StatusOK, monitor.Map(s.opts.Monitors.CheckAll(r.Context())))
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	if s.opts.Resources == nil {
		unavailable(w, "resources")
		return
	}
	res, err := s.opts.Resources(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
