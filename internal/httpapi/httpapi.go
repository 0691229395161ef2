// Package httpapi serves a read-only JSON view of registered ports and
// forwards to each port's Prometheus registry, mirroring the attributes
// package typec exposes (§4.6).
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/oxplot/go-typec-tpm/internal/metrics"
	"github.com/oxplot/go-typec-tpm/typec"
)

// Server is the daemon's status and metrics HTTP endpoint.
type Server struct {
	log    *logrus.Entry
	server *http.Server

	mu    sync.RWMutex
	ports map[string]*registeredPort
}

type registeredPort struct {
	port    *typec.Port
	metrics *metrics.PortMetrics
}

// New builds a Server listening on addr. Call AddPort for each registered
// port before Start.
func New(addr string, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{
		log:   log.WithField("component", "httpapi"),
		ports: make(map[string]*registeredPort),
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.healthzHandler).Methods("GET")
	router.HandleFunc("/ports", s.listPortsHandler).Methods("GET")
	router.HandleFunc("/ports/{id}", s.portHandler).Methods("GET")
	router.HandleFunc("/ports/{id}/metrics", s.portMetricsHandler).Methods("GET")

	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// AddPort registers a port (and its metrics collector) to be served under
// /ports/{id}. m may be nil if the caller doesn't want a per-port metrics
// endpoint.
func (s *Server) AddPort(p *typec.Port, m *metrics.PortMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ports[p.ID()] = &registeredPort{port: p, metrics: m}
}

// RemovePort unregisters a previously added port.
func (s *Server) RemovePort(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ports, id)
}

// Start runs the HTTP server until it errors or is shut down.
func (s *Server) Start() error {
	s.log.WithField("addr", s.server.Addr).Info("tpm: http api listening")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server, waiting for in-flight requests
// to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

type portView struct {
	ID          string `json:"id"`
	Attached    bool   `json:"attached"`
	PowerRole   string `json:"power_role"`
	DataRole    string `json:"data_role"`
	Polarity    string `json:"polarity"`
	PowerOpMode string `json:"power_op_mode"`
}

func viewOf(p *typec.Port) portView {
	return portView{
		ID:          p.ID(),
		Attached:    p.Attached(),
		PowerRole:   p.PowerRole().String(),
		DataRole:    p.DataRole().String(),
		Polarity:    p.Polarity().String(),
		PowerOpMode: p.PowerOpMode().String(),
	}
}

func (s *Server) listPortsHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	views := make([]portView, 0, len(s.ports))
	for _, rp := range s.ports {
		views = append(views, viewOf(rp.port))
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}

func (s *Server) lookup(r *http.Request) *registeredPort {
	id := mux.Vars(r)["id"]
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ports[id]
}

func (s *Server) portHandler(w http.ResponseWriter, r *http.Request) {
	rp := s.lookup(r)
	if rp == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(viewOf(rp.port))
}

func (s *Server) portMetricsHandler(w http.ResponseWriter, r *http.Request) {
	rp := s.lookup(r)
	if rp == nil || rp.metrics == nil {
		http.NotFound(w, r)
		return
	}
	promhttp.HandlerFor(rp.metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
}
