package runtime

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/drblury/policyflow/internal/runtime/jsoncodec"
	"github.com/drblury/policyflow/internal/runtime/pool"
	"github.com/drblury/policyflow/transport"
)

// DefaultAdminAPIPort serves the admin API when AdminAPIPort is unset.
const DefaultAdminAPIPort = 8081

// FlowInfo describes a registered flow.
type FlowInfo struct {
	Name         string               `json:"name"`
	ConsumeQueue string               `json:"consume_queue"`
	PublishQueue string               `json:"publish_queue,omitempty"`
	ErrorQueue   string               `json:"error_queue,omitempty"`
	Policies     []string             `json:"policies"`
	Acceptors    []string             `json:"acceptors"`
	Pipelines    []pool.PipelineStats `json:"pipelines"`
	Stats        FlowStatsSnapshot    `json:"stats"`
}

// Info returns the admin view of the flow.
func (f *Flow) Info() FlowInfo {
	acceptors := f.handler.Acceptors()
	names := make([]string, 0, len(acceptors))
	for _, a := range acceptors {
		names = append(names, a.Name())
	}
	return FlowInfo{
		Name:         f.name,
		ConsumeQueue: f.reg.ConsumeQueue,
		PublishQueue: f.reg.PublishQueue,
		ErrorQueue:   f.reg.ErrorQueue,
		Policies:     policyIDs(f.policies),
		Acceptors:    names,
		Pipelines:    f.pool.Stats(),
		Stats:        f.stats.Snapshot(),
	}
}

// TransportInfo describes the configured transport.
type TransportInfo struct {
	Capabilities     transport.Capabilities `json:"capabilities"`
	OpenTransactions int                    `json:"open_transactions"`
}

// StartAdminAPI mounts the admin API when it is enabled.
func (s *Service) StartAdminAPI() {
	if !s.Conf.AdminAPIEnabled {
		return
	}
	port := s.Conf.AdminAPIPort
	if port == 0 {
		port = DefaultAdminAPIPort
	}
	s.RegisterHTTPHandler(port, "/api/", s.AdminHandler())
}

// AdminHandler returns the admin API router.
func (s *Service) AdminHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(s.cors)

	r.Get("/api/flows", s.handleListFlows)
	r.Get("/api/flows/{name}", s.handleFlowDetail)
	r.Get("/api/transport", s.handleTransport)
	r.Get("/api/runtime", s.handleRuntime)
	return r
}

func (s *Service) handleListFlows(w http.ResponseWriter, _ *http.Request) {
	flows := s.Flows()
	out := make([]FlowInfo, 0, len(flows))
	for _, f := range flows {
		out = append(out, f.Info())
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleFlowDetail(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	f, ok := s.Flow(name)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "flow not found", "flow": name})
		return
	}
	s.writeJSON(w, http.StatusOK, f.Info())
}

func (s *Service) handleTransport(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, TransportInfo{
		Capabilities:     s.caps,
		OpenTransactions: s.txs.count(),
	})
}

// RuntimeInfo reports process load and uptime.
type RuntimeInfo struct {
	Uptime    string        `json:"uptime"`
	Flows     int           `json:"flows"`
	Resources ResourceUsage `json:"resources"`
}

func (s *Service) handleRuntime(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, RuntimeInfo{
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Flows:     len(s.Flows()),
		Resources: s.resources.Snapshot(),
	})
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := jsoncodec.Encode(w, v); err != nil {
		s.Logger.Error("Failed to encode admin response", err, nil)
	}
}

// cors answers preflight requests and sets CORS headers for allowed origins.
func (s *Service) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowedCORSOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) allowedCORSOrigin(requestOrigin string) string {
	if requestOrigin == "" {
		return ""
	}
	for _, allowed := range s.Conf.AdminCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
