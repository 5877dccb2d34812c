package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marcomolinaleija/GIC/internal/health"
	"github.com/marcomolinaleija/GIC/internal/narration"
	"github.com/marcomolinaleija/GIC/internal/observe"
	"github.com/marcomolinaleija/GIC/internal/resilience"
	"github.com/marcomolinaleija/GIC/internal/session"
	"github.com/marcomolinaleija/GIC/internal/transcript"
	"github.com/marcomolinaleija/GIC/pkg/audio"
	"github.com/marcomolinaleija/GIC/pkg/provider/help"
	"github.com/marcomolinaleija/GIC/pkg/provider/image"
	"github.com/marcomolinaleija/GIC/pkg/provider/speech"
)

// maxBody caps request bodies. Edit and analyze requests carry an image.
const maxBody = 20 << 20

// Handler returns the HTTP control surface wrapped in the observability
// middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	health.New(
		health.Checker{Name: "live", Check: a.checkLive},
		health.Checker{Name: "conversation", Check: a.checkConversation},
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /v1/conversation", a.handleConversation)
	mux.HandleFunc("POST /v1/conversation/start", a.handleStart)
	mux.HandleFunc("POST /v1/conversation/stop", a.handleStop)

	mux.HandleFunc("GET /v1/images", a.handleImages)
	mux.HandleFunc("GET /v1/images/latest", a.handleLatestImage)
	mux.HandleFunc("POST /v1/images", a.handleGenerate)
	mux.HandleFunc("POST /v1/images/edit", a.handleEdit)
	mux.HandleFunc("POST /v1/images/analyze", a.handleAnalyze)

	mux.HandleFunc("GET /v1/help", a.handleSuggestions)
	mux.HandleFunc("POST /v1/help", a.handleHelp)

	mux.HandleFunc("POST /v1/speech", a.handleSpeech)

	return observe.Middleware(a.metrics)(mux)
}

// ── Readiness ────────────────────────────────────────────────────────────────

func (a *App) checkLive(context.Context) error {
	if a.cfg.Providers.Live.APIKey == "" {
		return errors.New("providers.live.api_key is empty")
	}
	return nil
}

// checkConversation fails while the last conversation ended in error, so a
// supervisor can tell the user to retry.
func (a *App) checkConversation(context.Context) error {
	if a.engine.State() == session.Error {
		return errors.New(a.engine.Status())
	}
	return nil
}

// ── Conversation ─────────────────────────────────────────────────────────────

type conversationResponse struct {
	State      session.State       `json:"state"`
	Status     string              `json:"status"`
	SessionID  string              `json:"session_id,omitempty"`
	Voice      string              `json:"voice,omitempty"`
	Transcript transcript.Snapshot `json:"transcript"`
}

func (a *App) conversation() conversationResponse {
	a.mu.Lock()
	voice := a.conv.Voice
	a.mu.Unlock()
	state := a.engine.State()
	return conversationResponse{
		State:      state,
		Status:     state.Status(),
		SessionID:  a.engine.SessionID(),
		Voice:      voice,
		Transcript: a.engine.Transcript(),
	}
}

func (a *App) handleConversation(w http.ResponseWriter, _ *http.Request) {
	health.WriteJSON(w, http.StatusOK, a.conversation())
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	err := a.engine.Start(r.Context())
	if errors.Is(err, session.ErrAlreadyRunning) {
		writeError(w, http.StatusConflict, err)
		return
	}
	log := observe.Logger(observe.WithSession(r.Context(), a.engine.SessionID()))
	if err != nil {
		log.Warn("conversation start failed", "err", err)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	log.Info("conversation started")
	health.WriteJSON(w, http.StatusAccepted, a.conversation())
}

func (a *App) handleStop(w http.ResponseWriter, _ *http.Request) {
	a.engine.Stop()
	health.WriteJSON(w, http.StatusOK, a.conversation())
}

// ── Images ───────────────────────────────────────────────────────────────────

type imageInfo struct {
	MIMEType    string            `json:"mime_type"`
	Prompt      string            `json:"prompt"`
	AspectRatio image.AspectRatio `json:"aspect_ratio"`
	CreatedAt   time.Time         `json:"created_at"`
	Bytes       int               `json:"bytes"`
}

func (a *App) handleImages(w http.ResponseWriter, _ *http.Request) {
	all := a.gallery.All()
	out := make([]imageInfo, 0, len(all))
	for _, img := range all {
		out = append(out, imageInfo{
			MIMEType:    img.MIMEType,
			Prompt:      img.Prompt,
			AspectRatio: img.AspectRatio,
			CreatedAt:   img.CreatedAt,
			Bytes:       len(img.Data),
		})
	}
	health.WriteJSON(w, http.StatusOK, map[string]any{"images": out})
}

func (a *App) handleLatestImage(w http.ResponseWriter, _ *http.Request) {
	img := a.gallery.Latest()
	if img == nil {
		writeError(w, http.StatusNotFound, errors.New("no image has been generated yet"))
		return
	}
	writeImage(w, img)
}

type generateRequest struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio"`
}

func (a *App) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if a.image == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("image provider is not configured"))
		return
	}
	var req generateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, errors.New("prompt is required"))
		return
	}
	ratio, err := image.ParseAspectRatio(req.AspectRatio)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	img, err := a.image.Generate(r.Context(), image.GenerateRequest{Prompt: req.Prompt, AspectRatio: ratio})
	if err != nil {
		writeProviderError(w, err)
		return
	}
	a.gallery.Deliver(r.Context(), img)
	writeImage(w, img)
}

// sourceRequest names the image to work on: inline bytes, or the latest
// gallery image when Image is empty. Speak narrates the progress of the
// operation on the speaker.
type sourceRequest struct {
	Prompt   string `json:"prompt"`
	Image    []byte `json:"image"`
	MIMEType string `json:"mime_type"`
	Speak    bool   `json:"speak"`
}

func (a *App) source(req sourceRequest) (image.Image, error) {
	if len(req.Image) > 0 {
		mime := req.MIMEType
		if mime == "" {
			mime = http.DetectContentType(req.Image)
		}
		if !strings.HasPrefix(mime, "image/") {
			return image.Image{}, errors.New("image must be an image/* payload")
		}
		return image.Image{Data: req.Image, MIMEType: mime}, nil
	}
	latest := a.gallery.Latest()
	if latest == nil {
		return image.Image{}, errors.New("no image given and none has been generated yet")
	}
	return *latest, nil
}

func (a *App) handleEdit(w http.ResponseWriter, r *http.Request) {
	if a.image == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("image provider is not configured"))
		return
	}
	var req sourceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, errors.New("prompt is required"))
		return
	}
	src, err := a.source(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if req.Speak {
		a.narrateText(narration.MsgEditing)
	}
	img, err := a.image.Edit(r.Context(), src, req.Prompt)
	if err != nil {
		if req.Speak {
			a.narrateText(narration.MsgEditFailed)
		}
		writeProviderError(w, err)
		return
	}
	if req.Speak {
		a.narrateText(narration.MsgEdited)
	}
	a.gallery.Deliver(r.Context(), img)
	writeImage(w, img)
}

func (a *App) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if a.image == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("image provider is not configured"))
		return
	}
	var req sourceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	src, err := a.source(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if req.Speak {
		a.narrateText(narration.MsgAnalyzing)
	}
	desc, err := a.image.Analyze(r.Context(), src)
	if err != nil {
		if req.Speak {
			a.narrateText(narration.MsgAnalyzeFailed)
		}
		writeProviderError(w, err)
		return
	}
	resp := analyzeResponse{Description: desc}
	if req.Speak {
		resp.Spoken = a.narrateText(desc)
		a.narrateText(narration.MsgAnalyzed)
	}
	health.WriteJSON(w, http.StatusOK, resp)
}

type analyzeResponse struct {
	Description string `json:"description"`
	Spoken      bool   `json:"spoken,omitempty"`
}

// ── Help ─────────────────────────────────────────────────────────────────────

type helpRequest struct {
	Question string `json:"question"`
}

type helpResponse struct {
	Answer   string `json:"answer"`
	Fallback bool   `json:"fallback,omitempty"`
}

func (a *App) handleSuggestions(w http.ResponseWriter, _ *http.Request) {
	health.WriteJSON(w, http.StatusOK, map[string][]string{"suggestions": help.Suggestions})
}

// handleHelp answers with [help.FallbackAnswer] when the backend is missing
// or fails, so the chat always gets a reply.
func (a *App) handleHelp(w http.ResponseWriter, r *http.Request) {
	var req helpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	q := strings.TrimSpace(req.Question)
	if q == "" {
		writeError(w, http.StatusBadRequest, errors.New("question is required"))
		return
	}
	if a.help == nil {
		health.WriteJSON(w, http.StatusOK, helpResponse{Answer: help.FallbackAnswer, Fallback: true})
		return
	}
	answer, err := a.help.Ask(r.Context(), q)
	if err != nil {
		health.WriteJSON(w, http.StatusOK, helpResponse{Answer: help.FallbackAnswer, Fallback: true})
		return
	}
	health.WriteJSON(w, http.StatusOK, helpResponse{Answer: answer})
}

// ── Speech ───────────────────────────────────────────────────────────────────

type speechRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
	Play  bool   `json:"play"`
}

// handleSpeech returns the synthesized PCM, or with play set queues the text
// for narration on the speaker and answers 202.
func (a *App) handleSpeech(w http.ResponseWriter, r *http.Request) {
	if a.speech == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("speech provider is not configured"))
		return
	}
	var req speechRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, errors.New("text is required"))
		return
	}
	if req.Play {
		if !a.narrateText(req.Text) {
			writeError(w, http.StatusTooManyRequests, errors.New("narration queue is full"))
			return
		}
		health.WriteJSON(w, http.StatusAccepted, map[string]bool{"queued": true})
		return
	}

	voice := req.Voice
	if voice == "" {
		voice = a.voice()
	}
	pcm, err := a.speech.Speak(r.Context(), req.Text, voice)
	if err != nil {
		writeProviderError(w, err)
		return
	}
	w.Header().Set("Content-Type", audio.PCMMIMEType(speech.SampleRate))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pcm)
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, err error) {
	health.WriteJSON(w, status, map[string]string{"error": err.Error()})
}

// writeProviderError maps backend failures to status codes.
func writeProviderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, image.ErrNoImage), errors.Is(err, speech.ErrNoAudio):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err)
	default:
		writeError(w, http.StatusBadGateway, err)
	}
}

func writeImage(w http.ResponseWriter, img *image.Image) {
	w.Header().Set("Content-Type", img.MIMEType)
	if img.AspectRatio != "" {
		w.Header().Set("X-Aspect-Ratio", string(img.AspectRatio))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Data)
}
