package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/signalhouse/msgvault/internal/client"
	"github.com/signalhouse/msgvault/internal/storage"
	"github.com/signalhouse/msgvault/internal/types"
)

// Handler implements the API handlers.
type Handler struct {
	clients *client.Manager
	apiKey  string
	version string
}

// NewHandler creates a Handler backed by the given client manager.
func NewHandler(m *client.Manager, apiKey, version string) *Handler {
	return &Handler{
		clients: m,
		apiKey:  apiKey,
		version: version,
	}
}

// wireMessage is the JSON shape of a message on the API surface.
// Time is epoch milliseconds, matching the stored representation.
type wireMessage struct {
	ID    int64          `json:"id,omitempty"`
	Time  int64          `json:"time"`
	Type  string         `json:"type"`
	From  string         `json:"from,omitempty"`
	Text  string         `json:"text,omitempty"`
	Self  bool           `json:"self,omitempty"`
	Extra map[string]any `json:"extra,omitempty"`
}

func toWireMessage(m types.Message) wireMessage {
	return wireMessage{
		ID:    m.ID,
		Time:  m.Time.UnixMilli(),
		Type:  string(m.Type),
		From:  m.From,
		Text:  m.Text,
		Self:  m.Self,
		Extra: m.Extra,
	}
}

// pathParam returns a URL parameter with percent-encoding undone, so
// channel names like "#go" survive the round trip through a path.
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

// HealthResponse is the GET /health payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Health returns the health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "healthy",
		Version: h.version,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// IngestRequest is the POST messages payload.
type IngestRequest struct {
	Network types.Network `json:"network"`
	Channel string        `json:"channel"`
	Message wireMessage   `json:"message"`
}

// IngestResponse acknowledges an accepted (not yet executed) write.
type IngestResponse struct {
	Receipt string `json:"receipt"`
}

// IngestMessage handles POST /api/v1/clients/{client}/messages.
// The write is fire-and-forget: 202 means the message was queued, not
// that it has hit disk.
func (h *Handler) IngestMessage(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	if _, err := uuid.Parse(req.Network.UUID); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "network.uuid must be a valid UUID")
		return
	}
	if req.Channel == "" {
		WriteProblem(w, r, http.StatusBadRequest, "channel must not be empty")
		return
	}
	if req.Message.Time <= 0 {
		WriteProblem(w, r, http.StatusBadRequest, "message.time must be positive epoch milliseconds")
		return
	}
	if req.Message.Type == "" {
		req.Message.Type = string(types.MessageTypeMessage)
	}

	c, err := h.clients.Get(r.Context(), chi.URLParam(r, "client"))
	if err != nil {
		MapClientError(w, r, err)
		return
	}

	c.Store().Index(req.Network, types.Channel{Name: req.Channel}, types.Message{
		Time:  time.UnixMilli(req.Message.Time),
		Type:  types.MessageType(req.Message.Type),
		From:  req.Message.From,
		Text:  req.Message.Text,
		Self:  req.Message.Self,
		Extra: req.Message.Extra,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(IngestResponse{Receipt: ulid.Make().String()})
}

// HistoryResponse is the GET channel messages payload.
type HistoryResponse struct {
	Messages []wireMessage `json:"messages"`
}

// GetMessages handles
// GET /api/v1/clients/{client}/networks/{network}/channels/{channel}/messages.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	c, err := h.clients.Get(r.Context(), chi.URLParam(r, "client"))
	if err != nil {
		MapClientError(w, r, err)
		return
	}

	network := types.Network{UUID: pathParam(r, "network")}
	channel := types.Channel{Name: pathParam(r, "channel")}

	messages, err := c.Store().GetMessages(r.Context(), network, channel)
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	resp := HistoryResponse{Messages: make([]wireMessage, 0, len(messages))}
	for _, m := range messages {
		resp.Messages = append(resp.Messages, toWireMessage(m))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// DeleteChannel handles
// DELETE /api/v1/clients/{client}/networks/{network}/channels/{channel}.
func (h *Handler) DeleteChannel(w http.ResponseWriter, r *http.Request) {
	c, err := h.clients.Get(r.Context(), chi.URLParam(r, "client"))
	if err != nil {
		MapClientError(w, r, err)
		return
	}

	network := types.Network{UUID: pathParam(r, "network")}
	channel := types.Channel{Name: pathParam(r, "channel")}
	c.Store().DeleteChannel(network, channel)

	w.WriteHeader(http.StatusNoContent)
}

// searchResult is one search hit on the wire.
type searchResult struct {
	Network string      `json:"network"`
	Channel string      `json:"channel"`
	Message wireMessage `json:"message"`
}

// SearchResponse is the GET search payload. LastTime/LastID are the
// cursor for the next page, -1 when this page was empty.
type SearchResponse struct {
	Term     string         `json:"term"`
	Network  string         `json:"network,omitempty"`
	Channel  string         `json:"channel,omitempty"`
	LastTime int64          `json:"last_time"`
	LastID   int64          `json:"last_id"`
	Results  []searchResult `json:"results"`
}

// Search handles GET /api/v1/clients/{client}/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	term := q.Get("q")
	if term == "" {
		WriteProblem(w, r, http.StatusBadRequest, "query parameter q must not be empty")
		return
	}

	req := storage.SearchRequest{
		Term:        term,
		NetworkUUID: q.Get("network"),
		Channel:     q.Get("channel"),
	}
	if v := q.Get("last_time"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			WriteProblem(w, r, http.StatusBadRequest, "last_time must be an integer")
			return
		}
		req.LastTime = n
	}
	if v := q.Get("last_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			WriteProblem(w, r, http.StatusBadRequest, "last_id must be an integer")
			return
		}
		req.LastID = n
	}

	c, err := h.clients.Get(r.Context(), chi.URLParam(r, "client"))
	if err != nil {
		MapClientError(w, r, err)
		return
	}

	page, err := c.Store().Search(r.Context(), req)
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	resp := SearchResponse{
		Term:     page.Term,
		Network:  page.NetworkUUID,
		Channel:  page.Channel,
		LastTime: page.LastTime,
		LastID:   page.LastID,
		Results:  make([]searchResult, 0, len(page.Results)),
	}
	for _, res := range page.Results {
		resp.Results = append(resp.Results, searchResult{
			Network: res.NetworkUUID,
			Channel: res.Channel,
			Message: toWireMessage(res.Message),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
