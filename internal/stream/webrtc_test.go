package stream

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

func TestWebRTCRejects(t *testing.T) {
	h := NewWebRTCHandler(NewFanout(1), 128000)
	tests := []struct {
		method string
		body   string
		want   int
	}{
		{http.MethodGet, "", http.StatusMethodNotAllowed},
		{http.MethodPost, "not json", http.StatusBadRequest},
		{http.MethodPost, `{"type":"answer","sdp":"v=0"}`, http.StatusBadRequest},
		{http.MethodOptions, "", http.StatusOK},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tt.method, "/offer", strings.NewReader(tt.body)))
		if rec.Code != tt.want {
			t.Errorf("%s %q: status = %d, want %d", tt.method, tt.body, rec.Code, tt.want)
		}
	}
	if h.PeerCount() != 0 {
		t.Errorf("PeerCount = %d after rejected offers", h.PeerCount())
	}
}

func TestWebRTCNegotiates(t *testing.T) {
	client, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	if _, err := client.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		t.Fatal(err)
	}
	offer, err := client.CreateOffer(nil)
	if err != nil {
		t.Fatal(err)
	}
	gathered := webrtc.GatheringCompletePromise(client)
	if err := client.SetLocalDescription(offer); err != nil {
		t.Fatal(err)
	}
	select {
	case <-gathered:
	case <-time.After(10 * time.Second):
		t.Fatal("client ICE gathering timed out")
	}

	body, _ := json.Marshal(client.LocalDescription())
	f := NewFanout(1)
	h := NewWebRTCHandler(f, 64000)
	defer h.Close()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/offer", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var answer webrtc.SessionDescription
	if err := json.NewDecoder(rec.Body).Decode(&answer); err != nil {
		t.Fatal(err)
	}
	if answer.Type != webrtc.SDPTypeAnswer {
		t.Errorf("answer type = %s", answer.Type)
	}
	if !strings.Contains(strings.ToLower(answer.SDP), "opus") {
		t.Error("answer does not offer Opus")
	}
	if err := client.SetRemoteDescription(answer); err != nil {
		t.Errorf("client rejected answer: %v", err)
	}
	if h.PeerCount() != 1 || f.ListenerCount() != 1 {
		t.Errorf("peers = %d, listeners = %d", h.PeerCount(), f.ListenerCount())
	}
}

func TestWebRTCCloseDropsPeers(t *testing.T) {
	client, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	if _, err := client.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		t.Fatal(err)
	}
	offer, err := client.CreateOffer(nil)
	if err != nil {
		t.Fatal(err)
	}
	gathered := webrtc.GatheringCompletePromise(client)
	if err := client.SetLocalDescription(offer); err != nil {
		t.Fatal(err)
	}
	<-gathered
	body, _ := json.Marshal(client.LocalDescription())

	f := NewFanout(1)
	h := NewWebRTCHandler(f, 64000)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/offer", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	h.Close()
	if h.PeerCount() != 0 || f.ListenerCount() != 0 {
		t.Errorf("after Close: peers = %d, listeners = %d", h.PeerCount(), f.ListenerCount())
	}
	h.Close()
}
