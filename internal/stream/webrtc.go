package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/tinnitone/internal/audio"
)

// maxOpusPacket is the largest packet libopus can produce for one frame.
const maxOpusPacket = 4000

var errBadOffer = errors.New("invalid SDP offer")

// WebRTCHandler serves SDP negotiation for low-latency Opus delivery. Opus
// needs 48 kHz frames, which is the graph's native rate.
type WebRTCHandler struct {
	fanout  *Fanout
	bitrate int

	mu    sync.Mutex
	peers map[string]*peer
}

// peer is one connected browser and the fanout listener feeding it.
type peer struct {
	id       string
	pc       *webrtc.PeerConnection
	track    *webrtc.TrackLocalStaticSample
	listener *Listener
}

// NewWebRTCHandler creates a WebRTC handler encoding at bitrate bits/s.
func NewWebRTCHandler(f *Fanout, bitrate int) *WebRTCHandler {
	return &WebRTCHandler{fanout: f, bitrate: bitrate, peers: make(map[string]*peer)}
}

// PeerCount returns the number of active WebRTC peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil || offer.Type != webrtc.SDPTypeOffer {
		http.Error(w, errBadOffer.Error(), http.StatusBadRequest)
		return
	}

	p, err := h.negotiate(r, offer)
	if err != nil {
		if errors.Is(err, errBadOffer) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		} else if r.Context().Err() == nil {
			log.Printf("WebRTC: %v", err)
			http.Error(w, "negotiation failed", http.StatusInternalServerError)
		}
		return
	}

	p.listener = h.fanout.Subscribe()
	h.mu.Lock()
	h.peers[p.id] = p
	n := len(h.peers)
	h.mu.Unlock()
	log.Printf("WebRTC peer %s connected (total: %d)", p.id, n)

	go h.stream(p)

	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			if h.drop(p.id) {
				log.Printf("WebRTC peer %s disconnected (remaining: %d)", p.id, h.PeerCount())
			}
		}
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p.pc.LocalDescription())
}

// negotiate answers offer with a send-only Opus track and waits for ICE
// gathering so the answer carries every candidate.
func (h *WebRTCHandler) negotiate(r *http.Request, offer webrtc.SessionDescription) (p *peer, err error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	defer func() {
		if err != nil {
			pc.Close()
		}
	}()

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: audio.SampleRate, Channels: audio.Channels},
		"audio",
		"tinnitone",
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadOffer, err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-r.Context().Done():
		return nil, r.Context().Err()
	}

	return &peer{id: uuid.NewString(), pc: pc, track: track}, nil
}

// stream encodes the peer's frames to Opus until it is dropped.
func (h *WebRTCHandler) stream(p *peer) {
	defer h.drop(p.id)

	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		log.Printf("WebRTC: opus encoder error: %v", err)
		return
	}
	if err := enc.SetBitrate(h.bitrate); err != nil {
		log.Printf("WebRTC: opus bitrate %d rejected: %v", h.bitrate, err)
	}

	packet := make([]byte, maxOpusPacket)
	for {
		select {
		case <-p.listener.Done():
			return
		case frame := <-p.listener.C:
			n, err := enc.Encode(frame, packet)
			if err != nil {
				log.Printf("WebRTC: opus encode error: %v", err)
				continue
			}
			if err := p.track.WriteSample(media.Sample{Data: packet[:n], Duration: audio.FrameDuration}); err != nil {
				return
			}
		}
	}
}

// drop removes the peer, stops its listener and closes the connection.
// Returns false if the peer was already gone.
func (h *WebRTCHandler) drop(id string) bool {
	h.mu.Lock()
	p, ok := h.peers[id]
	delete(h.peers, id)
	h.mu.Unlock()
	if !ok {
		return false
	}
	h.fanout.Unsubscribe(p.listener)
	p.pc.Close()
	return true
}

// Close disconnects every peer.
func (h *WebRTCHandler) Close() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.peers))
	for id := range h.peers {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.drop(id)
	}
}
