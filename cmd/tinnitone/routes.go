package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/satindergrewal/tinnitone/internal/catalog"
	"github.com/satindergrewal/tinnitone/internal/schedule"
	"github.com/satindergrewal/tinnitone/internal/session"
	"github.com/satindergrewal/tinnitone/internal/stream"
	"github.com/satindergrewal/tinnitone/internal/therapy"
	"github.com/satindergrewal/tinnitone/internal/web"
)

// server holds what the HTTP routes need. catalog, metrics and the stream
// handlers may be nil.
type server struct {
	ctrl    *session.Controller
	fanout  *stream.Fanout
	mp3     http.Handler
	webrtc  *stream.WebRTCHandler
	catalog *catalog.Store
	metrics http.Handler
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(web.IndexHTML)
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": true})
	})

	if s.mp3 != nil {
		mux.Handle("/stream", s.mp3)
	}
	if s.webrtc != nil {
		mux.Handle("/offer", s.webrtc)
	}
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}

	mux.HandleFunc("/api/frequencies", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"frequencies": therapy.SupportedFrequencies,
			"severities":  therapy.Severities(),
		})
	})

	mux.HandleFunc("/api/session", post(func(w http.ResponseWriter, r *http.Request) {
		var p therapy.Profile
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, "invalid profile: "+err.Error(), http.StatusBadRequest)
			return
		}
		st, err := s.ctrl.Start(p)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, st)
	}))

	mux.HandleFunc("/api/stop", post(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": true, "stopped": s.ctrl.Stop()})
	}))

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		st := s.ctrl.Status()
		listeners := 0
		if s.fanout != nil {
			listeners = s.fanout.ListenerCount()
		}
		peers := 0
		if s.webrtc != nil {
			peers = s.webrtc.PeerCount()
		}
		w.Header().Set("Access-Control-Allow-Origin", "*")
		writeJSON(w, struct {
			session.Status
			Listeners   int `json:"listeners"`
			WebRTCPeers int `json:"webrtc_peers"`
		}{st, listeners, peers})
	})

	mux.HandleFunc("/api/gain", post(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Gain *float64 `json:"gain"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Gain == nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if err := s.ctrl.SetGain(*req.Gain); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{"ok": true, "gain": *req.Gain})
	}))

	mux.HandleFunc("/api/tone", post(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			FrequencyHz float64 `json:"frequency_hz"`
			DurationMS  int     `json:"duration_ms"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if req.DurationMS == 0 {
			req.DurationMS = 2000
		}
		if err := s.ctrl.PlayTone(req.FrequencyHz, time.Duration(req.DurationMS)*time.Millisecond); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	}))

	mux.HandleFunc("/api/preview", post(func(w http.ResponseWriter, r *http.Request) {
		var p therapy.Profile
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, "invalid profile: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.ctrl.Preview(p); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	}))

	mux.HandleFunc("/api/assets", func(w http.ResponseWriter, r *http.Request) {
		if s.catalog == nil {
			http.Error(w, "catalog not configured", http.StatusNotFound)
			return
		}
		q := r.URL.Query()
		if q.Get("hz") == "" {
			assets, err := s.catalog.List(r.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			if assets == nil {
				assets = []catalog.Asset{}
			}
			writeJSON(w, assets)
			return
		}

		hz, err := strconv.ParseFloat(q.Get("hz"), 64)
		if err != nil {
			http.Error(w, "invalid hz", http.StatusBadRequest)
			return
		}
		sev, err := therapy.ParseSeverity(q.Get("severity"))
		if err != nil {
			writeError(w, err)
			return
		}
		a, err := s.catalog.Lookup(r.Context(), hz, sev)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, a)
	})

	return mux
}

func post(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("HTTP: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, therapy.ErrConfiguration):
		status = http.StatusBadRequest
	case errors.Is(err, schedule.ErrPlaying):
		status = http.StatusConflict
	case errors.Is(err, catalog.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, therapy.ErrAudioBackendUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, therapy.ErrResourceExhaustion):
		status = http.StatusInsufficientStorage
	}
	http.Error(w, err.Error(), status)
}
