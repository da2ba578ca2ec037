// Package api serves the one-shot transcription and synthesis endpoints next
// to the voice loop.
//
//	POST /transcribe   multipart "file" (WAV) → {"text", "language"}
//	POST /tts          {"text", "language", "format"} → audio bytes
//	GET  /health       {"status":"ok","mode":<active language>}
//	GET  /healthz, /readyz, /metrics
//
// Errors are JSON objects of the form {"detail": "..."}. Request validation
// happens before any provider is called.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// DefaultMaxUploadBytes caps /transcribe uploads. 20 s of 16 kHz mono s16le
// is about 640 KiB; the default leaves room for higher sample rates.
const DefaultMaxUploadBytes = 32 << 20

// defaultTTSFormat is used when a /tts request names no format.
const defaultTTSFormat = tts.FormatMP3

// Option is a functional option for [New].
type Option func(*Server)

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth mounts /healthz and /readyz from h.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMaxUploadBytes overrides [DefaultMaxUploadBytes].
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) { s.maxUpload = n }
}

// Server holds the collaborators behind the HTTP endpoints. It is safe for
// concurrent use as long as its providers are.
type Server struct {
	cfg            *config.Config
	stt            stt.Transcriber
	tts            tts.Provider
	metrics        *observe.Metrics
	health         *health.Handler
	metricsHandler http.Handler
	maxUpload      int64
}

// New returns a Server transcribing with transcriber and synthesising with
// synth. cfg supplies the active language and the voice table.
func New(cfg *config.Config, transcriber stt.Transcriber, synth tts.Provider, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		stt:       transcriber,
		tts:       synth,
		maxUpload: DefaultMaxUploadBytes,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the routed handler wrapped in [observe.Middleware].
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /transcribe", s.handleTranscribe)
	mux.HandleFunc("POST /tts", s.handleTTS)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	return observe.Middleware(s.metrics)(mux)
}

// ---- handlers ----

type transcribeResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	file, _, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "Field 'file' is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Could not read upload: "+err.Error())
		return
	}
	u, err := audio.DecodeWAV(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Upload is not a PCM WAV file: "+err.Error())
		return
	}

	_, voice := s.cfg.ActiveVoice()
	start := time.Now()
	t, err := s.stt.Transcribe(r.Context(), u, voice.TranscriptionLanguage)
	s.metrics.STTDuration.Record(r.Context(), time.Since(start).Seconds())
	if err != nil {
		log.Error("transcription failed", "stage", "transcribe", "err", err)
		s.metrics.RecordProviderRequest(r.Context(), s.cfg.Providers.STT.Name, observe.KindSTT, observe.StatusError)
		s.metrics.RecordProviderError(r.Context(), s.cfg.Providers.STT.Name, observe.KindSTT)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.metrics.RecordProviderRequest(r.Context(), s.cfg.Providers.STT.Name, observe.KindSTT, observe.StatusOK)

	lang := t.Language
	if lang == "" {
		lang = voice.TranscriptionLanguage
	}
	log.Info("transcribed upload", "language", lang, "duration", u.Duration, "chars", len(t.Text))
	writeJSON(w, http.StatusOK, transcribeResponse{Text: t.Text, Language: lang})
}

type ttsRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Format   string `json:"format"`
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())

	var req ttsRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body: "+err.Error())
		return
	}

	lang := strings.ToLower(strings.TrimSpace(req.Language))
	if lang == "" {
		lang, _ = s.cfg.ActiveVoice()
	}
	voice, ok := s.cfg.Voice(lang)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Language '%s' not supported. Options: %s",
			req.Language, strings.Join(s.cfg.Languages(), ", ")))
		return
	}

	format := defaultTTSFormat
	if req.Format != "" {
		f, err := tts.ParseFormat(req.Format)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Format '%s' not supported. Options: %s",
				req.Format, formatOptions()))
			return
		}
		format = f
	}

	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "Field 'text' must not be empty")
		return
	}

	log.Info("tts request", "language", lang, "chars", len(req.Text), "format", format)
	start := time.Now()
	data, err := s.tts.Synthesize(r.Context(), req.Text, tts.Voice{ID: voice.VoiceID, Language: lang}, format)
	s.metrics.TTSDuration.Record(r.Context(), time.Since(start).Seconds())
	if err != nil {
		log.Error("synthesis failed", "stage", "synthesize", "err", err)
		s.metrics.RecordProviderRequest(r.Context(), s.cfg.Providers.TTS.Name, observe.KindTTS, observe.StatusError)
		s.metrics.RecordProviderError(r.Context(), s.cfg.Providers.TTS.Name, observe.KindTTS)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.metrics.RecordProviderRequest(r.Context(), s.cfg.Providers.TTS.Name, observe.KindTTS, observe.StatusOK)

	w.Header().Set("Content-Type", format.MediaType())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Warn("write tts response", "err", err)
	}
}

type healthResponse struct {
	Status string `json:"status"`
	Mode   string `json:"mode"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	lang, _ := s.cfg.ActiveVoice()
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Mode: lang})
}

// ---- helpers ----

func formatOptions() string {
	fs := tts.Formats()
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: encode response", "err", err)
	}
}
