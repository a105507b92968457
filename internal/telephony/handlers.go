package telephony

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/twilio/twilio-go/twiml"

	"github.com/lexiqai/voice-agent/internal/call"
)

const streamPath = "/streams/twilio"

// HandleVoice answers an incoming call with TwiML that connects it to our
// media stream. The caller and callee numbers travel as stream parameters.
func (h *Handler) HandleVoice(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return
	}
	if !h.validSignature(r) {
		h.logger.Warn().Str("remote_addr", r.RemoteAddr).Msg("Rejected webhook with invalid signature")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	callSID := r.PostForm.Get("CallSid")
	h.logger.Info().Str("call_sid", callSID).Str("from", r.PostForm.Get("From")).Msg("Incoming call")

	stream := &twiml.VoiceStream{
		Url: h.streamURL(r),
		InnerElements: []twiml.Element{
			&twiml.VoiceParameter{Name: "from", Value: r.PostForm.Get("From")},
			&twiml.VoiceParameter{Name: "to", Value: r.PostForm.Get("To")},
		},
	}
	response, err := twiml.Voice([]twiml.Element{
		&twiml.VoiceConnect{InnerElements: []twiml.Element{stream}},
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to build TwiML")
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(response))
}

// HandleCallStatus reports the stored record of a call.
func (h *Handler) HandleCallStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.Get(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, call.ErrNotFound):
		http.Error(w, "call not found", http.StatusNotFound)
		return
	case err != nil:
		h.logger.Error().Err(err).Msg("Failed to load call status")
		http.Error(w, "failed to load call status", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rec); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode call status")
	}
}

// validSignature checks X-Twilio-Signature against the public URL of the
// request. Twilio signs the URL it was configured with, so behind a proxy the
// configured PUBLIC_URL is used instead of the Host header.
func (h *Handler) validSignature(r *http.Request) bool {
	if h.validator == nil {
		return true
	}
	params := make(map[string]string, len(r.PostForm))
	for key, values := range r.PostForm {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	return h.validator.Validate(h.publicBase(r)+r.URL.RequestURI(), params, r.Header.Get("X-Twilio-Signature"))
}

func (h *Handler) publicBase(r *http.Request) string {
	if h.cfg.PublicURL != "" {
		return strings.TrimRight(h.cfg.PublicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// streamURL is the websocket counterpart of the public base URL.
func (h *Handler) streamURL(r *http.Request) string {
	u, err := url.Parse(h.publicBase(r))
	if err != nil {
		return "wss://" + r.Host + streamPath
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + streamPath
	return u.String()
}
