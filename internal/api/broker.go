package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/brulejr/autohome/internal/bridge"
	"github.com/brulejr/autohome/internal/broker"
	"github.com/brulejr/autohome/internal/supervisor"
)

// Health status values.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string          `json:"status"`
	Version    string          `json:"version"`
	Node       string          `json:"node,omitempty"`
	Components map[string]bool `json:"components"`
}

// BrokerStatus is returned by GET /broker.
type BrokerStatus struct {
	Timestamp     string            `json:"timestamp"`
	Node          string            `json:"node,omitempty"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Relay         broker.Stats      `json:"relay"`
	Supervisor    *supervisor.Stats `json:"supervisor,omitempty"`
	Bridge        *bridge.Stats     `json:"bridge,omitempty"`
	Feed          FeedStats         `json:"feed"`
}

// FeedStats describes the live WebSocket feed.
type FeedStats struct {
	Viewers int `json:"viewers"`
}

// PublishRequest is the body of POST /publish.
//
// With an empty Topic the payload is sent as plain text: a JSON string is
// sent unquoted, anything else as its JSON text. With a Topic the payload
// is wrapped as {"payload": ...} unless Envelope is set, in which case it
// is sent as-is.
type PublishRequest struct {
	Topic    string          `json:"topic"`
	Payload  json.RawMessage `json:"payload"`
	Envelope bool            `json:"envelope,omitempty"`
}

// handleHealth reports whether the relay and optional connections are up.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]bool{
		"relay": s.relay.Stats().State == broker.StateRunning,
	}
	if s.mqtt != nil {
		components["mqtt"] = s.mqtt.HealthCheck(r.Context()) == nil
	}
	if s.influx != nil {
		components["influxdb"] = s.influx.HealthCheck(r.Context()) == nil
	}

	status := HealthOK
	for _, up := range components {
		if !up {
			status = HealthDegraded
			break
		}
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:     status,
		Version:    s.version,
		Node:       s.node,
		Components: components,
	})
}

// handleBrokerStatus returns relay, supervisor and bridge counters.
func (s *Server) handleBrokerStatus(w http.ResponseWriter, _ *http.Request) {
	resp := BrokerStatus{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Node:      s.node,
		Relay:     s.relay.Stats(),
		Feed:      FeedStats{Viewers: s.feed.Viewers()},
	}
	if !s.startTime.IsZero() {
		resp.UptimeSeconds = int64(time.Since(s.startTime).Seconds())
	}
	if s.supervisor != nil {
		st := s.supervisor.Stats()
		resp.Supervisor = &st
	}
	if s.bridge != nil {
		st := s.bridge.Stats()
		resp.Bridge = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePublish sends one message onto the bus.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeMalformedBody, "invalid JSON body")
		return
	}

	payload, err := publishPayload(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidMessage, err.Error())
		return
	}

	if err := s.relay.Publish(req.Topic, payload); err != nil {
		status, code, known := classifyPublishError(err)
		msg := err.Error()
		if !known {
			s.logger.Error("publish failed", "topic", req.Topic, "error", err)
			msg = "publish failed"
		}
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "published",
		"topic":  req.Topic,
	})
}

func publishPayload(req PublishRequest) (any, error) {
	raw := strings.TrimSpace(string(req.Payload))
	if raw == "" || raw == "null" {
		if req.Topic == "" {
			return nil, errors.New("payload is required")
		}
		return broker.Message{}, nil
	}

	if req.Topic == "" {
		var text string
		if err := json.Unmarshal(req.Payload, &text); err == nil {
			return text, nil
		}
		return raw, nil
	}

	if req.Envelope {
		if !strings.HasPrefix(raw, "{") {
			return nil, errors.New("envelope payload must be a JSON object")
		}
		return broker.RawJSON(raw), nil
	}
	return broker.Message{Payload: broker.RawJSON(raw)}, nil
}
