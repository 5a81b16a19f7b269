package httpapi

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh-go/pkg/telemetry"
)

func (s *Server) handleTelemetryHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := telemetry.StoreFilter{
		Since:     queryInt64(q.Get("since")),
		Until:     queryInt64(q.Get("until")),
		PeerID:    q.Get("peerId"),
		PacketID:  q.Get("packetId"),
		Direction: q.Get("direction"),
		Limit:     int(queryInt64(q.Get("limit"))),
		Offset:    int(queryInt64(q.Get("offset"))),
	}
	if types := q.Get("types"); types != "" {
		for _, part := range strings.Split(types, ",") {
			if part = strings.TrimSpace(part); part != "" {
				f.Types = append(f.Types, part)
			}
		}
	}
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	records, err := s.node.TelemetryStore().Query(f)
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []telemetry.Record{}
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"records": records,
		"count":   len(records),
	})
}

// handleTelemetryStream upgrades to a websocket and mirrors live telemetry
// records onto it until either side closes.
func (s *Server) handleTelemetryStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Debug("telemetry stream upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch := make(chan telemetry.Record, 64)
	sub := s.node.Emitter().Subscribe(ch)
	defer sub.Unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case rec := <-ch:
			if err := conn.WriteJSON(rec); err != nil {
				return
			}
		case err := <-sub.Err():
			if err != nil {
				zap.L().Debug("telemetry subscription failed", zap.Error(err))
			}
			return
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(s.node.Gatherer(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
}
