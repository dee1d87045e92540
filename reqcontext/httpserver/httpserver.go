// Package httpserver is the loopback HTTP server side of the request
// context protocol: it exposes the same state/progress/metrics operations
// reqcontext.Context offers in-process, over HTTP, for function code running
// in a different process from the one that holds the context. The local
// runner runs functions as goroutines and does not use this server.
// Routing follows the net/http 1.22 ServeMux + PathValue style.
package httpserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"

	"github.com/tensorlake/sdk-go/reqcontext"
	"github.com/tensorlake/sdk-go/sdkerrors"
	"github.com/tensorlake/sdk-go/serializer"
)

// Server backs one or more Contexts over HTTP on an ephemeral localhost
// port, keyed by request id so multiple requests can share one server.
type Server struct {
	mu       sync.RWMutex
	contexts map[string]reqcontext.Context

	httpServer *http.Server
	listener   net.Listener
}

// New builds a Server. Call Start to begin listening.
func New() *Server {
	return &Server{contexts: map[string]reqcontext.Context{}}
}

// Register makes ctx reachable at /<requestID>/... for the server's
// lifetime.
func (s *Server) Register(requestID string, ctx reqcontext.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[requestID] = ctx
}

// Unregister removes a previously registered request id.
func (s *Server) Unregister(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, requestID)
}

func (s *Server) lookup(requestID string) (reqcontext.Context, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctx, ok := s.contexts[requestID]
	return ctx, ok
}

// Start binds an ephemeral localhost port and begins serving in the
// background. BaseURL is valid once Start returns without error.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{requestID}/state/{key}", s.handleStateGet)
	mux.HandleFunc("PUT /{requestID}/state/{key}", s.handleStateSet)
	mux.HandleFunc("POST /{requestID}/progress", s.handleProgress)
	mux.HandleFunc("POST /{requestID}/metrics/counter/{name}", s.handleCounter)
	mux.HandleFunc("POST /{requestID}/metrics/timer/{name}", s.handleTimer)

	s.httpServer = &http.Server{Handler: mux}
	go s.httpServer.Serve(ln) //nolint:errcheck // Serve's error is discarded; after Stop it is http.ErrServerClosed
	return nil
}

// BaseURL returns the server's http://127.0.0.1:<port> address.
func (s *Server) BaseURL() string {
	if s.listener == nil {
		return ""
	}
	return "http://" + s.listener.Addr().String()
}

// Stop shuts the server down, waiting for in-flight requests to finish.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) contextFor(w http.ResponseWriter, r *http.Request) (reqcontext.Context, bool) {
	ctx, ok := s.lookup(r.PathValue("requestID"))
	if !ok {
		http.Error(w, "unknown request id", http.StatusNotFound)
		return nil, false
	}
	return ctx, true
}

func (s *Server) handleStateGet(w http.ResponseWriter, r *http.Request) {
	ctx, ok := s.contextFor(w, r)
	if !ok {
		return
	}
	value, found, err := ctx.State().Get(r.PathValue("key"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "key not found", http.StatusNotFound)
		return
	}

	codec, err := serializer.ByName(serializer.Binary)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	data, err := codec.Marshal(value)
	if err != nil {
		http.Error(w, (&sdkerrors.SerializationError{Serializer: serializer.Binary, Cause: err}).Error(), http.StatusInternalServerError)
		return
	}
	blob := serializer.Blob{
		Data:           data,
		SerializerName: serializer.Binary,
		ContentType:    codec.ContentType(),
		ClassHint:      serializer.ClassTokenOf(value),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(blob) //nolint:errcheck
}

func (s *Server) handleStateSet(w http.ResponseWriter, r *http.Request) {
	ctx, ok := s.contextFor(w, r)
	if !ok {
		return
	}
	var blob serializer.Blob
	if err := json.NewDecoder(r.Body).Decode(&blob); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	codec, err := serializer.ByName(blob.SerializerName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	value, err := codec.Unmarshal(blob.Data, blob.ClassHint)
	if err != nil {
		http.Error(w, (&sdkerrors.SerializationError{Serializer: blob.SerializerName, Cause: err}).Error(), http.StatusBadRequest)
		return
	}
	if err := ctx.State().Set(r.PathValue("key"), value); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	ctx, ok := s.contextFor(w, r)
	if !ok {
		return
	}
	var body struct {
		Current    float64           `json:"current"`
		Total      float64           `json:"total"`
		Message    string            `json:"message"`
		Attributes map[string]string `json:"attributes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := ctx.Progress().Update(body.Current, body.Total, body.Message, body.Attributes); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCounter(w http.ResponseWriter, r *http.Request) {
	ctx, ok := s.contextFor(w, r)
	if !ok {
		return
	}
	var body struct {
		Value int `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx.Metrics().Counter(r.PathValue("name"), body.Value)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTimer(w http.ResponseWriter, r *http.Request) {
	ctx, ok := s.contextFor(w, r)
	if !ok {
		return
	}
	var body struct {
		Value float64 `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx.Metrics().Timer(r.PathValue("name"), body.Value)
	w.WriteHeader(http.StatusNoContent)
}
