package fdc3

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes a RootAgent over HTTP/WebSocket, the chi-routed
// counterpart of the teacher's cloud-node listener. One route upgrades
// browser-tab connections into FDC3 ports; the rest are operational.
type Server struct {
	agent  *RootAgent
	router chi.Router
	reg    *prometheus.Registry

	upgrader websocket.Upgrader
}

// NewServer wires a chi.Router around agent: /fdc3/connect for the
// WebSocket upgrade, /healthz for liveness, /metrics for Prometheus
// scraping against reg (a fresh prometheus.Registry if nil — pass the
// same Registry given to NewMetrics so /metrics reports what RootAgent
// records).
func NewServer(agent *RootAgent, reg *prometheus.Registry) *Server {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	s := &Server{
		agent: agent,
		reg:   reg,
		upgrader: websocket.Upgrader{
			// Hosted applications are loaded cross-origin from the
			// directory's declared URLs, not same-origin with the root
			// agent's listener — there is no single Origin to pin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Get("/fdc3/connect", s.handleConnect)
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the HTTP listener on addr.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.agent.AcceptConnection(conn)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
