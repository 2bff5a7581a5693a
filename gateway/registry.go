package gateway

import (
	"net/http"
	"sync"

	"github.com/goccy/go-json"
	"github.com/jensneuse/abstractlogger"
)

type registrationRequest struct {
	Name string `json:"name"`
	Host string `json:"host"`
	SDL  string `json:"sdl"`
}

type registrationResponse struct {
	Name      string   `json:"name"`
	SubGraphs []string `json:"subgraphs"`
}

// registry replaces one subgraph SDL at a time and swaps in the rebuilt engine. Readers never
// block; registrations are serialized.
type registry struct {
	g  *gateway
	mu sync.Mutex
}

func newRegistry(g *gateway) *registry {
	return &registry{g: g}
}

func (r *registry) RegisterSubGraph(w http.ResponseWriter, req *http.Request, requestID string) {
	var body registrationRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidSchema, "failed to read request body")
		return
	}
	if body.Name == "" || body.SDL == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidSchema, "name and sdl are required")
		return
	}

	next, err := r.register(body)
	if err != nil {
		// the previous engine keeps serving
		r.g.logger.Error("schema registration rejected",
			abstractlogger.String("request_id", requestID),
			abstractlogger.String("subgraph", body.Name),
			abstractlogger.Error(err),
		)
		writeError(w, http.StatusBadRequest, CodeInvalidSchema, err.Error())
		return
	}

	r.g.logger.Info("schema registered",
		abstractlogger.String("request_id", requestID),
		abstractlogger.String("subgraph", body.Name),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(registrationResponse{ //nolint:errcheck
		Name:      body.Name,
		SubGraphs: next.engine.subGraphNames(),
	})
}

func (r *registry) register(body registrationRequest) (*schemaStore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.g.current()
	sdls := copyMap(cur.sdls)
	hosts := copyMap(cur.hosts)
	sdls[body.Name] = body.SDL
	if body.Host != "" {
		hosts[body.Name] = body.Host
	}

	engine, err := buildEngine(sdls, hosts, r.g.plannerCfg, r.g.cacheSetting)
	if err != nil {
		return nil, err
	}

	next := &schemaStore{sdls: sdls, hosts: hosts, engine: engine}
	r.g.store.Store(next)
	return next, nil
}
