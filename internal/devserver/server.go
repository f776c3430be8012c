// Package devserver is an in-memory stand-in for the object-upload service
// and the entity store, speaking the HTTP protocol of remote.Client.
//
// It is meant for local development and tests: nothing is persisted and all
// data is lost when the process exits.
package devserver

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// DefaultMaxUpload bounds the size of one uploaded blob.
const DefaultMaxUpload = 32 << 20

// Validator checks an entity payload. *schema.Registry implements it.
type Validator interface {
	Validate(collection string, payload map[string]any) error
}

// Entity is a stored entity.
type Entity struct {
	ID         string         `json:"id"`
	Collection string         `json:"collection"`
	Payload    map[string]any `json:"payload"`
	CreatedAt  time.Time      `json:"created_at"`
}

type blob struct {
	contentType string
	data        []byte
}

// Server holds blobs and entities in memory.
//
// Thread-safety: all methods and handlers are safe for concurrent use.
type Server struct {
	*mux.Router

	token     string
	validator Validator
	publicURL string
	maxUpload int64
	newID     func() string
	now       func() time.Time
	logger    *slog.Logger

	mu       sync.Mutex
	blobs    map[string]blob
	entities map[string]map[string]Entity
	order    []string // entity keys "collection/id" in creation order
	byKey    map[string]string
}

// Option configures a Server.
type Option func(*Server)

// WithToken requires "Authorization: Bearer <token>" on every request except
// the health check.
func WithToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

// WithValidator rejects entity payloads the validator refuses with 422.
func WithValidator(v Validator) Option {
	return func(s *Server) {
		s.validator = v
	}
}

// WithPublicURL sets the base of returned blob URLs. Default: derived from
// the request Host.
func WithPublicURL(base string) Option {
	return func(s *Server) {
		s.publicURL = strings.TrimRight(base, "/")
	}
}

// WithIDs overrides UUIDv7 generation of blob and entity ids.
func WithIDs(fn func() string) Option {
	return func(s *Server) {
		s.newID = fn
	}
}

// WithLogger sets the request logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New creates a server with all routes registered.
func New(opts ...Option) *Server {
	s := &Server{
		Router:    mux.NewRouter(),
		maxUpload: DefaultMaxUpload,
		newID:     func() string { return uuid.Must(uuid.NewV7()).String() },
		now:       time.Now,
		logger:    slog.Default(),
		blobs:     make(map[string]blob),
		entities:  make(map[string]map[string]Entity),
		byKey:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.HandleFunc("/healthz", s.healthCheck).Methods("GET")

	api := s.PathPrefix("/").Subrouter()
	api.Use(s.logRequests, s.requireToken)
	api.HandleFunc("/uploads", s.upload).Methods("POST")
	api.HandleFunc("/blobs/{id}", s.getBlob).Methods("GET")
	api.HandleFunc("/entities/{collection}", s.createEntity).Methods("POST")
	api.HandleFunc("/entities/{collection}", s.listEntities).Methods("GET")
	api.HandleFunc("/entities/{collection}/{id}", s.getEntity).Methods("GET")

	return s
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			respondError(w, http.StatusUnauthorized, "missing or invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	blobs, entities := len(s.blobs), len(s.order)
	s.mu.Unlock()

	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"blobs":    blobs,
		"entities": entities,
	})
}

// upload stores the raw request body as a blob.
func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUpload))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := idempotencyKey(r, "upload")
	if id, ok := s.byKey[key]; ok && key != "" {
		respondJSON(w, http.StatusOK, map[string]string{"url": s.blobURL(r, id)})
		return
	}

	id := s.newID()
	s.blobs[id] = blob{contentType: contentType, data: data}
	if key != "" {
		s.byKey[key] = id
	}
	respondJSON(w, http.StatusCreated, map[string]string{"url": s.blobURL(r, id)})
}

func (s *Server) getBlob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	b, ok := s.blobs[id]
	s.mu.Unlock()
	if !ok {
		respondError(w, http.StatusNotFound, "blob not found")
		return
	}

	w.Header().Set("Content-Type", b.contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(b.data)
}

// createEntity stores a JSON object in a collection.
func (s *Server) createEntity(w http.ResponseWriter, r *http.Request) {
	collection := mux.Vars(r)["collection"]

	var payload map[string]any
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON object: %v", err))
		return
	}
	if payload == nil {
		respondError(w, http.StatusBadRequest, "payload must be a JSON object")
		return
	}

	if s.validator != nil {
		if err := s.validator.Validate(collection, payload); err != nil {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := idempotencyKey(r, "create:"+collection)
	if id, ok := s.byKey[key]; ok && key != "" {
		respondJSON(w, http.StatusOK, map[string]string{"id": id})
		return
	}

	ent := Entity{
		ID:         s.newID(),
		Collection: collection,
		Payload:    payload,
		CreatedAt:  s.now().UTC(),
	}
	if s.entities[collection] == nil {
		s.entities[collection] = make(map[string]Entity)
	}
	s.entities[collection][ent.ID] = ent
	s.order = append(s.order, collection+"/"+ent.ID)
	if key != "" {
		s.byKey[key] = ent.ID
	}

	s.logger.Info("entity created", "collection", collection, "id", ent.ID)
	respondJSON(w, http.StatusCreated, map[string]string{"id": ent.ID})
}

func (s *Server) getEntity(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ent, ok := s.Entity(vars["collection"], vars["id"])
	if !ok {
		respondError(w, http.StatusNotFound, "entity not found")
		return
	}
	respondJSON(w, http.StatusOK, ent)
}

func (s *Server) listEntities(w http.ResponseWriter, r *http.Request) {
	collection := mux.Vars(r)["collection"]
	ents := s.Entities(collection)
	respondJSON(w, http.StatusOK, map[string]any{
		"collection": collection,
		"count":      len(ents),
		"entities":   ents,
	})
}

// Entity returns a stored entity.
func (s *Server) Entity(collection, id string) (Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.entities[collection][id]
	return ent, ok
}

// Entities returns the entities of collection in creation order.
func (s *Server) Entities(collection string) []Entity {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []Entity{}
	prefix := collection + "/"
	for _, k := range s.order {
		if strings.HasPrefix(k, prefix) {
			out = append(out, s.entities[collection][strings.TrimPrefix(k, prefix)])
		}
	}
	return out
}

// Collections returns the names of collections holding entities.
func (s *Server) Collections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entities))
	for name := range s.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BlobCount returns the number of stored blobs.
func (s *Server) BlobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

func (s *Server) blobURL(r *http.Request, id string) string {
	base := s.publicURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return base + "/blobs/" + id
}

func idempotencyKey(r *http.Request, scope string) string {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		return ""
	}
	return scope + ":" + key
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
