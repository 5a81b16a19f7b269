package btp

import (
	"net/http"
	"net/url"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// PeerFunc adopts a freshly accepted inbound peer link.
type PeerFunc func(peerID string, c *Conn)

// Server accepts inbound peer links over websocket upgrades. The peer
// identifies itself with the "peer" query parameter.
type Server struct {
	upgrader websocket.Upgrader
	handler  Handler
	onPeer   PeerFunc
}

// NewServer returns a server that hands every inbound frame to handler and
// announces each new link through onPeer. allowedOrigins restricts browser
// connections; an empty list admits every origin, the mode peer daemons run
// in when no explorer UI is attached.
func NewServer(allowedOrigins []string, handler Handler, onPeer PeerFunc) *Server {
	origins := mapset.NewSet[string]()
	for _, o := range allowedOrigins {
		if o != "" {
			origins.Add(strings.ToLower(o))
		}
	}
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(origins, r.Header.Get("Origin"))
			},
		},
		handler: handler,
		onPeer:  onPeer,
	}
}

// originAllowed admits requests without an Origin header (non-browser
// peers) and browser origins present in the allow set.
func originAllowed(origins mapset.Set[string], origin string) bool {
	if origin == "" || origins.Cardinality() == 0 {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return origins.Contains(strings.ToLower(origin)) ||
		origins.Contains(strings.ToLower(u.Hostname()))
}

// ServeHTTP upgrades the request and adopts the link.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	peerID := r.URL.Query().Get("peer")
	if peerID == "" {
		http.Error(w, "missing peer query parameter", http.StatusBadRequest)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Warn("websocket upgrade failed",
			zap.String("peer", peerID), zap.Error(err))
		return
	}
	zap.L().Info("inbound peer link accepted", zap.String("peer", peerID))
	conn := Adopt(ws, peerID, s.handler)
	if s.onPeer != nil {
		s.onPeer(peerID, conn)
	}
}
