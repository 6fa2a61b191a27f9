package mesh

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// AdminServer exposes read-only mesh diagnostics over HTTP: network
// info and per-chain registry state, wired the way this stack's other
// HTTP surfaces are (gorilla/mux routing, gorilla/handlers access
// logging, rs/cors for browser-based dashboards).
type AdminServer struct {
	host     *Host
	registry *Registry
	log      *zap.Logger
}

// NewAdminServer builds an AdminServer over host and registry.
func NewAdminServer(host *Host, registry *Registry, log *zap.Logger) *AdminServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminServer{host: host, registry: registry, log: log.Named("mesh.admin")}
}

// Handler builds the wrapped http.Handler: CORS, then access logging,
// then the route table.
func (a *AdminServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/mesh/network", a.handleNetwork).Methods(http.MethodGet)
	r.HandleFunc("/mesh/chains/{key}", a.handleChain).Methods(http.MethodGet)

	corsWrapped := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet},
	}).Handler(r)

	return handlers.CombinedLoggingHandler(zapWriter{a.log}, corsWrapped)
}

func (a *AdminServer) handleNetwork(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.host.NetworkInfo())
}

func (a *AdminServer) handleChain(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	binding, ok := a.registry.Lookup(key)
	if !ok {
		http.Error(w, "unknown chain", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]interface{}{
		"chain_key":      key,
		"timeline_len":   binding.Engine.Timeline().Len(),
		"integrity":      int(binding.Engine.Integrity()),
		"flow":           int(binding.Flow),
		"is_shutdown":    binding.Engine.IsShutdown(),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// zapWriter adapts a zap.Logger to the io.Writer gorilla/handlers'
// access logger expects.
type zapWriter struct{ log *zap.Logger }

func (z zapWriter) Write(p []byte) (int, error) {
	z.log.Info(string(p))
	return len(p), nil
}
