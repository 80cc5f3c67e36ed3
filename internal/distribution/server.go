package distribution

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/zsiec/simulcast/internal/ingest"
	"github.com/zsiec/simulcast/internal/pipeline"
	"github.com/zsiec/simulcast/internal/simulcast"
)

// StreamInfo is the JSON-serializable summary of a live stream, returned
// by the /api/streams list endpoint.
type StreamInfo struct {
	Key            string `json:"key"`
	Layers         int    `json:"layers"`
	ForwardedLayer *int   `json:"forwardedLayer,omitempty"`
	Viewers        int    `json:"viewers"`
	Description    string `json:"description,omitempty"`
	Codec          string `json:"codec,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	UptimeMs       int64  `json:"uptimeMs,omitempty"`
}

// ExecutorStats reports the stream executor's task counters.
type ExecutorStats struct {
	Executed  int64 `json:"executed"`
	Discarded int64 `json:"discarded"`
}

// DebugSnapshot is the JSON response for /api/streams/{key}/debug,
// aggregating ingest, pipeline, selector, and viewer diagnostics.
type DebugSnapshot struct {
	Ingest    []ingest.LayerStats   `json:"ingest"`
	Pipelines []pipeline.DebugStats `json:"pipelines"`
	Selector  simulcast.Stats       `json:"selector"`
	Executor  ExecutorStats         `json:"executor"`
	Relay     RelayStats            `json:"relay"`
	Viewers   []ViewerStats         `json:"viewers"`
}

// SRTPullInfo describes an SRT caller-mode pull of one layer.
type SRTPullInfo struct {
	Address   string `json:"address"`
	StreamKey string `json:"streamKey"`
	Layer     uint32 `json:"layer"`
	Codec     string `json:"codec,omitempty"`
	StreamID  string `json:"streamId,omitempty"`
}

// ServerConfig holds the callback hooks the API server reads from.
type ServerConfig struct {
	StreamLister func() []StreamInfo
	DebugLookup  func(key string) (*DebugSnapshot, bool)
	CertHash     string
	SRTPull      func(req SRTPullInfo) error
	SRTStop      func(streamKey string, layer uint32) error
	SRTList      func() []SRTPullInfo
}

// Server serves the REST API.
type Server struct {
	log    *slog.Logger
	config ServerConfig
}

// NewServer creates an API server. If log is nil, slog.Default() is used.
func NewServer(config ServerConfig, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{log: log.With("component", "api"), config: config}
}

// APIHandler returns an http.Handler for the REST API.
func (s *Server) APIHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/streams", s.handleListStreams)
	mux.HandleFunc("GET /api/streams/{key}/debug", s.handleStreamDebug)
	mux.HandleFunc("GET /api/cert-hash", s.handleCertHash)
	mux.HandleFunc("GET /api/srt-pull", s.handleSRTPullList)
	mux.HandleFunc("POST /api/srt-pull", s.handleSRTPullCreate)
	mux.HandleFunc("DELETE /api/srt-pull", s.handleSRTPullStop)
	mux.HandleFunc("OPTIONS /api/srt-pull", s.handleSRTPullOptions)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleListStreams(w http.ResponseWriter, _ *http.Request) {
	var resp []StreamInfo
	if s.config.StreamLister != nil {
		resp = s.config.StreamLister()
	}
	if resp == nil {
		resp = make([]StreamInfo, 0)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStreamDebug(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if s.config.DebugLookup == nil {
		writeError(w, http.StatusNotFound, "stream not found")
		return
	}
	snap, ok := s.config.DebugLookup(key)
	if !ok {
		writeError(w, http.StatusNotFound, "stream not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCertHash(w http.ResponseWriter, _ *http.Request) {
	if s.config.CertHash == "" {
		writeError(w, http.StatusNotFound, "TLS not enabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hash": s.config.CertHash})
}

func (s *Server) handleSRTPullOptions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusNoContent)
}

// SECURITY: the pull endpoint dials arbitrary addresses. Expose the API
// only to operators or internal networks.
func (s *Server) handleSRTPullList(w http.ResponseWriter, _ *http.Request) {
	if s.config.SRTList == nil {
		writeJSON(w, http.StatusOK, []SRTPullInfo{})
		return
	}
	pulls := s.config.SRTList()
	if pulls == nil {
		pulls = []SRTPullInfo{}
	}
	writeJSON(w, http.StatusOK, pulls)
}

func (s *Server) handleSRTPullCreate(w http.ResponseWriter, r *http.Request) {
	if s.config.SRTPull == nil {
		writeError(w, http.StatusNotImplemented, "SRT pull not configured")
		return
	}
	var req SRTPullInfo
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Address == "" || req.StreamKey == "" {
		writeError(w, http.StatusBadRequest, "address and streamKey are required")
		return
	}
	if err := s.config.SRTPull(req); err != nil {
		s.log.Warn("pull failed", "address", req.Address, "stream_key", req.StreamKey, "layer", req.Layer, "error", err)
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "pulling", "streamKey": req.StreamKey, "layer": req.Layer})
}

func (s *Server) handleSRTPullStop(w http.ResponseWriter, r *http.Request) {
	if s.config.SRTStop == nil {
		writeError(w, http.StatusNotImplemented, "SRT pull not configured")
		return
	}
	q := r.URL.Query()
	key := q.Get("streamKey")
	if key == "" {
		writeError(w, http.StatusBadRequest, "streamKey query parameter required")
		return
	}
	layer, err := strconv.ParseUint(q.Get("layer"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "layer query parameter must be a non-negative integer")
		return
	}
	if err := s.config.SRTStop(key, uint32(layer)); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "stopped", "streamKey": key, "layer": layer})
}
