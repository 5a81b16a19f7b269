package httpapi

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh-go/pkg/event"
	"github.com/agentmesh/agentmesh-go/pkg/eventdb"
	"github.com/agentmesh/agentmesh-go/pkg/node"
	"github.com/agentmesh/agentmesh-go/pkg/router"
)

// Server is the REST control surface over one node.
type Server struct {
	node     *node.Node
	upgrader websocket.Upgrader
}

// New returns a control surface bound to n.
func New(n *node.Node) *Server {
	return &Server{
		node: n,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The explorer UI connects cross-origin; the REST layer already
			// carries CORS, the stream mirrors that openness.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler builds the routed handler with CORS and panic recovery.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/balances", s.handleBalances)
	r.Get("/peers", s.handlePeers)
	r.Get("/follows", s.handleFollows)
	r.Post("/follows", s.handleAddFollow)
	r.Get("/events", s.handleEvents)
	r.Post("/send-event", s.handleSendEvent)
	r.Post("/broadcast", s.handleBroadcast)
	r.Post("/connect", s.handleConnect)

	r.Get("/channels", s.handleChannels)
	r.Post("/channels/open", s.handleChannelOpen)
	r.Post("/channels/sign-proof", s.handleSignProof)
	r.Post("/channels/cooperative-settle", s.handleCooperativeSettle)
	r.Get("/xrp-channels", s.handleXRPChannels)
	r.Post("/xrp-channels/open", s.handleXRPChannelOpen)
	r.Post("/xrp-channels/claim", s.handleXRPChannelClaim)
	r.Post("/configure-evm", s.handleConfigureEVM)
	r.Post("/configure-xrp", s.handleConfigureXRP)

	r.Get("/telemetry", s.handleTelemetryHistory)
	r.Get("/telemetry/stream", s.handleTelemetryStream)
	r.Get("/metrics", s.handleMetrics)

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler(r)
}

// respond writes v as JSON.
func respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("response encode failed", zap.Error(err))
	}
}

// respondErr writes the uniform failure envelope.
func respondErr(w http.ResponseWriter, status int, message string) {
	respond(w, status, map[string]interface{}{"success": false, "error": message})
}

// decodeBody parses the request body into dst, answering 400 itself on
// malformed input.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondErr(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"initialized": true,
		"agentId":     s.node.Config().AgentID,
		"pubkey":      s.node.Identity().PubKey,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	n := s.node
	events, err := n.DB().Count()
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	var uptimeMs int64
	if started := n.StartedAt(); !started.IsZero() {
		uptimeMs = time.Since(started).Milliseconds()
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"agentId":  n.Config().AgentID,
		"address":  n.Config().Address,
		"uptimeMs": uptimeMs,
		"counts": map[string]interface{}{
			"events":         events,
			"peers":          len(n.Router().Peers()),
			"follows":        len(n.Router().Follows()),
			"skills":         n.Registry().Size(),
			"pendingPackets": n.PendingCount(),
		},
		"ai": map[string]interface{}{
			"enabled": n.Config().AI.Enabled,
			"model":   n.Config().AI.Model,
			"budget":  n.Budget().Snapshot(),
		},
		"evmConfigured": n.EVM() != nil,
		"xrpConfigured": n.XRP() != nil,
	})
}

func (s *Server) handlePeers(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"peers":   s.node.Router().Peers(),
	})
}

func (s *Server) handleFollows(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"follows": s.node.Router().Follows(),
	})
}

func (s *Server) handleAddFollow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PubKey     string `json:"pubkey"`
		ILPAddress string `json:"ilpAddress"`
		Petname    string `json:"petname"`
		BTPURL     string `json:"btpUrl"`
		EVMAddress string `json:"evmAddress"`
		XRPAddress string `json:"xrpAddress"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	f := router.Follow{
		PubKey:     req.PubKey,
		Address:    req.ILPAddress,
		Petname:    req.Petname,
		BTPURL:     req.BTPURL,
		EVMAddress: req.EVMAddress,
		XRPAddress: req.XRPAddress,
	}
	if err := s.node.Router().SetFollow(f); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"success": true, "follow": f})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := eventdb.Filter{
		Since: queryInt64(q.Get("since")),
		Until: queryInt64(q.Get("until")),
		Limit: int(queryInt64(q.Get("limit"))),
	}
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	if kinds := q.Get("kinds"); kinds != "" {
		for _, part := range strings.Split(kinds, ",") {
			k, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				respondErr(w, http.StatusBadRequest, "malformed kinds parameter")
				return
			}
			f.Kinds = append(f.Kinds, k)
		}
	}
	if authors := q.Get("authors"); authors != "" {
		f.Authors = strings.Split(authors, ",")
	}
	events, err := s.node.DB().Query(f)
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []*event.Event{}
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"events":  events,
		"count":   len(events),
	})
}

// eventBody is the caller-supplied event surface of the send endpoints.
type eventBody struct {
	Kind    int        `json:"kind"`
	Content string     `json:"content"`
	Tags    [][]string `json:"tags"`
}

func (b eventBody) build() *event.Event {
	tags := make([]event.Tag, 0, len(b.Tags))
	for _, t := range b.Tags {
		tags = append(tags, event.Tag(t))
	}
	return event.New(b.Kind, b.Content, tags)
}

func (s *Server) handleSendEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PeerID string `json:"peerId"`
		Amount string `json:"amount"`
		eventBody
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.PeerID == "" {
		respondErr(w, http.StatusBadRequest, "peerId is required")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		respondErr(w, http.StatusBadRequest, "malformed amount")
		return
	}
	ev := req.eventBody.build()
	if err := s.node.SendEvent(r.Context(), req.PeerID, ev, amount); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"eventId": ev.ID,
	})
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount string `json:"amount"`
		eventBody
	}
	if !decodeBody(w, r, &req) {
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		respondErr(w, http.StatusBadRequest, "malformed amount")
		return
	}
	ev := req.eventBody.build()
	sent, err := s.node.Broadcast(r.Context(), ev, amount)
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"eventId": ev.ID,
		"sent":    sent,
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PeerID     string `json:"peerId"`
		URL        string `json:"url"`
		Address    string `json:"address"`
		EVMAccount string `json:"evmAccount"`
		XRPAccount string `json:"xrpAccount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.PeerID == "" || req.URL == "" {
		respondErr(w, http.StatusBadRequest, "peerId and url are required")
		return
	}
	err := s.node.Connect(r.Context(), router.Peer{
		ID:         req.PeerID,
		URL:        req.URL,
		Address:    req.Address,
		EVMAccount: req.EVMAccount,
		XRPAccount: req.XRPAccount,
	})
	if err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"success": true})
}

// parseAmount parses a decimal amount; empty means zero.
func parseAmount(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}

func queryInt64(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
