package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/marcomolinaleija/GIC/internal/app"
	"github.com/marcomolinaleija/GIC/internal/config"
	"github.com/marcomolinaleija/GIC/internal/narration"
	"github.com/marcomolinaleija/GIC/internal/observe"
	"github.com/marcomolinaleija/GIC/internal/session"
	"github.com/marcomolinaleija/GIC/internal/tools/imagegen"
	"github.com/marcomolinaleija/GIC/pkg/audio"
	audiomock "github.com/marcomolinaleija/GIC/pkg/audio/mock"
	helpmock "github.com/marcomolinaleija/GIC/pkg/provider/help/mock"
	"github.com/marcomolinaleija/GIC/pkg/provider/image"
	imagemock "github.com/marcomolinaleija/GIC/pkg/provider/image/mock"
	livemock "github.com/marcomolinaleija/GIC/pkg/provider/live/mock"
	"github.com/marcomolinaleija/GIC/pkg/provider/speech"
	speechmock "github.com/marcomolinaleija/GIC/pkg/provider/speech/mock"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

type fixture struct {
	app    *app.App
	srv    *httptest.Server
	dev    *audiomock.Devices
	live   *livemock.Provider
	image  *imagemock.Provider
	help   *helpmock.Provider
	speech *speechmock.Provider
	reader *sdkmetric.ManualReader
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{
			Live:  config.ProviderEntry{Name: "gemini-live", APIKey: "k"},
			Image: config.ProviderEntry{Name: "gemini"},
			Help:  config.ProviderEntry{Name: "gemini"},
			Audio: config.ProviderEntry{Name: "portaudio"},

			Speech: config.ProviderEntry{Name: "gemini"},
		},
		Conversation: config.ConversationConfig{Voice: "Zephyr"},
	}
}

func newFixture(t *testing.T, cfg *config.Config, mutate ...func(*app.Providers)) *fixture {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := &fixture{
		dev:    &audiomock.Devices{Output: audiomock.NewOutputStream(audio.OutputFormat)},
		live:   &livemock.Provider{},
		image:  &imagemock.Provider{},
		help:   &helpmock.Provider{Answer: "Pulsa Iniciar y habla."},
		speech: &speechmock.Provider{PCM: make([]byte, 4800)},
		reader: reader,
	}
	providers := &app.Providers{Live: f.live, Image: f.image, Help: f.help, Audio: f.dev, Speech: f.speech}
	for _, fn := range mutate {
		fn(providers)
	}

	f.app, err = app.New(cfg, providers, app.WithMetrics(m), app.WithGatherer(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	f.srv = httptest.NewServer(f.app.Handler())
	t.Cleanup(func() {
		f.srv.Close()
		_ = f.app.Shutdown(context.Background())
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type conversation struct {
	State      string `json:"state"`
	Status     string `json:"status"`
	SessionID  string `json:"session_id"`
	Voice      string `json:"voice"`
	Transcript struct {
		Turns []struct {
			User  string `json:"user"`
			Model string `json:"model"`
		} `json:"turns"`
	} `json:"transcript"`
}

// ─── New ─────────────────────────────────────────────────────────────────────

func TestNew_RequiresLiveAndAudio(t *testing.T) {
	t.Parallel()
	if _, err := app.New(testConfig(), &app.Providers{Audio: &audiomock.Devices{}}); err == nil {
		t.Error("New without a live provider should fail")
	}
	if _, err := app.New(testConfig(), &app.Providers{Live: &livemock.Provider{}}); err == nil {
		t.Error("New without audio devices should fail")
	}
}

func TestNew_ToolWithoutImageProviderFails(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Conversation.Tools = []string{imagegen.Name}
	_, err := app.New(cfg, &app.Providers{Live: &livemock.Provider{}, Audio: &audiomock.Devices{}})
	if err == nil || !strings.Contains(err.Error(), "conversation.tools") {
		t.Errorf("err = %v, want a conversation.tools error", err)
	}
}

// ─── Conversation ────────────────────────────────────────────────────────────

func TestConversation_StartStop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())

	c := decodeBody[conversation](t, f.do(t, "GET", "/v1/conversation", nil))
	if c.State != "idle" || c.Status != session.Idle.Status() || c.Voice != "Zephyr" {
		t.Errorf("initial conversation = %+v", c)
	}

	resp := f.do(t, "POST", "/v1/conversation/start", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	eventually(t, func() bool { return f.live.ConnectCount() == 1 }, "Connect was not called")

	cfg := f.live.ConnectCalls[0].Cfg
	if cfg.Voice != "Zephyr" || cfg.SystemInstruction != app.DefaultInstruction {
		t.Errorf("live config = %+v", cfg)
	}
	if !cfg.InputTranscription || !cfg.OutputTranscription {
		t.Error("transcription should default to on")
	}
	if len(cfg.Tools) != 1 || cfg.Tools[0].Name != imagegen.Name {
		t.Errorf("tools = %+v, want [generateImage]", cfg.Tools)
	}

	f.live.Callbacks().OnOpen()
	eventually(t, func() bool { return f.app.Engine().State() == session.Active }, "never became active")

	if resp := f.do(t, "POST", "/v1/conversation/start", nil); resp.StatusCode != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", resp.StatusCode)
	}

	c = decodeBody[conversation](t, f.do(t, "POST", "/v1/conversation/stop", nil))
	if c.State != "ended" || c.SessionID == "" {
		t.Errorf("after stop = %+v", c)
	}
	if n := f.dev.Input.CloseCount(); n != 1 {
		t.Errorf("input close count = %d, want 1", n)
	}
}

func TestConversation_DeviceErrorIsBadGateway(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	f.dev.OpenInputErr = errors.New("permission denied")

	if resp := f.do(t, "POST", "/v1/conversation/start", nil); resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
	c := decodeBody[conversation](t, f.do(t, "GET", "/v1/conversation", nil))
	if c.State != "error" {
		t.Errorf("state = %q, want error", c.State)
	}
	if resp := f.do(t, "GET", "/readyz", nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d, want 503 after a failed conversation", resp.StatusCode)
	}
}

func TestApplyConversation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())

	conv := testConfig().Conversation
	conv.Voice = "Puck"
	conv.SystemInstruction = "Habla como un pirata."
	conv.Tools = []string{}
	if err := f.app.ApplyConversation(conv); err != nil {
		t.Fatalf("ApplyConversation: %v", err)
	}
	f.do(t, "POST", "/v1/conversation/start", nil)
	eventually(t, func() bool { return f.live.ConnectCount() == 1 }, "Connect was not called")

	cfg := f.live.ConnectCalls[0].Cfg
	if cfg.Voice != "Puck" || cfg.SystemInstruction != "Habla como un pirata." || len(cfg.Tools) != 0 {
		t.Errorf("live config = %+v", cfg)
	}

	conv.Tools = []string{"paintWall"}
	if err := f.app.ApplyConversation(conv); err == nil {
		t.Error("unknown tool should be rejected")
	}
}

// ─── Images ──────────────────────────────────────────────────────────────────

func TestImages_GenerateAndLatest(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())

	if resp := f.do(t, "GET", "/v1/images/latest", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("latest before any image = %d, want 404", resp.StatusCode)
	}

	resp := f.do(t, "POST", "/v1/images", map[string]string{"prompt": "un perro", "aspect_ratio": "16:9"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := resp.Header.Get("X-Aspect-Ratio"); got != "16:9" {
		t.Errorf("X-Aspect-Ratio = %q", got)
	}

	latest := f.app.Gallery().Latest()
	if latest == nil || latest.Prompt != "un perro" || latest.AspectRatio != image.Landscape {
		t.Fatalf("gallery latest = %+v", latest)
	}
	if resp := f.do(t, "GET", "/v1/images/latest", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("latest status = %d", resp.StatusCode)
	}

	list := decodeBody[struct {
		Images []struct {
			Prompt string `json:"prompt"`
		} `json:"images"`
	}](t, f.do(t, "GET", "/v1/images", nil))
	if len(list.Images) != 1 || list.Images[0].Prompt != "un perro" {
		t.Errorf("images = %+v", list.Images)
	}
}

func TestImages_GenerateValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	tests := []struct {
		name string
		body any
	}{
		{"empty prompt", map[string]string{"prompt": "  "}},
		{"bad ratio", map[string]string{"prompt": "gato", "aspect_ratio": "2:1"}},
		{"unknown field", map[string]string{"promt": "gato"}},
	}
	for _, tc := range tests {
		if resp := f.do(t, "POST", "/v1/images", tc.body); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tc.name, resp.StatusCode)
		}
	}
	if n := f.image.GenerateCount(); n != 0 {
		t.Errorf("provider called %d times for invalid requests", n)
	}
}

func TestImages_ProviderFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	f.image.GenerateErr = image.ErrNoImage

	if resp := f.do(t, "POST", "/v1/images", map[string]string{"prompt": "gato"}); resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}

	rm := metricdata.ResourceMetrics{}
	if err := f.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if !hasMetric(rm, "gic.provider.errors") || !hasMetric(rm, "gic.provider.requests") {
		t.Error("provider metrics were not recorded")
	}
}

func TestImages_EditUsesLatestByDefault(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	f.image.EditResult = &image.Image{Data: []byte{1, 2}, MIMEType: "image/png", Prompt: "naranja"}

	if resp := f.do(t, "POST", "/v1/images/edit", map[string]string{"prompt": "cielo naranja"}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("edit without any image = %d, want 400", resp.StatusCode)
	}

	f.do(t, "POST", "/v1/images", map[string]string{"prompt": "playa"})
	resp := f.do(t, "POST", "/v1/images/edit", map[string]string{"prompt": "cielo naranja"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("edit status = %d", resp.StatusCode)
	}
	if len(f.image.EditCalls) != 1 || f.image.EditCalls[0].Src.Prompt != "playa" {
		t.Errorf("edit calls = %+v", f.image.EditCalls)
	}
	if got := f.app.Gallery().Latest().Prompt; got != "naranja" {
		t.Errorf("latest prompt = %q, want the edited image", got)
	}
}

func TestImages_AnalyzeInline(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	f.image.Description = "Un perro en la playa."

	png := []byte("\x89PNG\r\n\x1a\n0000")
	out := decodeBody[map[string]string](t, f.do(t, "POST", "/v1/images/analyze", map[string]any{"image": png}))
	if out["description"] != "Un perro en la playa." {
		t.Errorf("description = %q", out["description"])
	}
	if len(f.image.AnalyzeCalls) != 1 || f.image.AnalyzeCalls[0].MIMEType != "image/png" {
		t.Errorf("analyze calls = %+v", f.image.AnalyzeCalls)
	}
}

func TestImages_NoProvider(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	f := newFixture(t, cfg, func(p *app.Providers) { p.Image = nil })
	if resp := f.do(t, "POST", "/v1/images", map[string]string{"prompt": "gato"}); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

// ─── Help ────────────────────────────────────────────────────────────────────

func TestHelp(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())

	out := decodeBody[map[string]any](t, f.do(t, "POST", "/v1/help", map[string]string{"question": " ¿Cómo empiezo? "}))
	if out["answer"] != "Pulsa Iniciar y habla." || out["fallback"] != nil {
		t.Errorf("answer = %+v", out)
	}
	if len(f.help.Questions) != 1 || f.help.Questions[0] != "¿Cómo empiezo?" {
		t.Errorf("questions = %q", f.help.Questions)
	}

	if resp := f.do(t, "POST", "/v1/help", map[string]string{"question": ""}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty question status = %d, want 400", resp.StatusCode)
	}

	sugg := decodeBody[map[string][]string](t, f.do(t, "GET", "/v1/help", nil))
	if len(sugg["suggestions"]) == 0 {
		t.Error("no suggestions")
	}
}

func TestHelp_FallbackOnFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	f.help.AskErr = errors.New("quota exceeded")

	out := decodeBody[map[string]any](t, f.do(t, "POST", "/v1/help", map[string]string{"question": "hola"}))
	if out["fallback"] != true || out["answer"] == "" {
		t.Errorf("response = %+v", out)
	}
}

// ─── Speech ──────────────────────────────────────────────────────────────────

// playNarration finishes n utterances one after the other and returns the
// texts that were spoken.
func (f *fixture) playNarration(t *testing.T, n int) []string {
	t.Helper()
	for i := range n {
		eventually(t, func() bool { return len(f.dev.Output.Calls()) > i }, "utterance was not scheduled")
		f.dev.Output.Calls()[i].Source.Finish()
	}
	var texts []string
	for _, c := range f.speech.Calls() {
		texts = append(texts, c.Text)
	}
	return texts
}

func TestSpeech_ReturnsPCM(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())

	resp := f.do(t, "POST", "/v1/speech", map[string]string{"text": " Hola "})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/pcm;rate=24000" {
		t.Errorf("Content-Type = %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if len(body) != 4800 {
		t.Errorf("body = %d bytes, want 4800", len(body))
	}

	f.do(t, "POST", "/v1/speech", map[string]string{"text": "adiós", "voice": "Kore"})
	calls := f.speech.Calls()
	if len(calls) != 2 || calls[0] != (speechmock.Call{Text: "Hola", Voice: "Zephyr"}) || calls[1].Voice != "Kore" {
		t.Errorf("speech calls = %+v", calls)
	}
	if len(f.dev.Output.Calls()) != 0 {
		t.Error("PCM request played on the speaker")
	}
}

func TestSpeech_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		body map[string]any
		want int
	}{
		{"blank text", nil, map[string]any{"text": "  "}, http.StatusBadRequest},
		{"unknown field", nil, map[string]any{"text": "hola", "rate": 8000}, http.StatusBadRequest},
		{"backend failure", errors.New("quota"), map[string]any{"text": "hola"}, http.StatusBadGateway},
		{"no audio", speech.ErrNoAudio, map[string]any{"text": "hola"}, http.StatusUnprocessableEntity},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, testConfig())
			f.speech.SpeakErr = tc.err
			if resp := f.do(t, "POST", "/v1/speech", tc.body); resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestSpeech_NoProvider(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), func(p *app.Providers) { p.Speech = nil })
	if resp := f.do(t, "POST", "/v1/speech", map[string]string{"text": "hola"}); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	resp := f.do(t, "POST", "/v1/images/analyze", map[string]any{"image": []byte("\x89PNG\r\n\x1a\n0000"), "speak": true})
	if out := decodeBody[map[string]any](t, resp); out["spoken"] != nil {
		t.Errorf("analyze without speech provider = %+v, want no spoken flag", out)
	}
}

func TestSpeech_PlayNarrates(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())

	resp := f.do(t, "POST", "/v1/speech", map[string]any{"text": "Bienvenido", "play": true})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if got := f.playNarration(t, 1); len(got) != 1 || got[0] != "Bienvenido" {
		t.Errorf("spoken = %q", got)
	}
	call := f.dev.Output.Calls()[0]
	if call.Buffer.SampleRate != speech.SampleRate {
		t.Errorf("narration rate = %d", call.Buffer.SampleRate)
	}
}

func TestImages_AnalyzeSpeaksDescription(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	f.image.Description = "Un perro en la playa."

	png := []byte("\x89PNG\r\n\x1a\n0000")
	out := decodeBody[map[string]any](t, f.do(t, "POST", "/v1/images/analyze", map[string]any{"image": png, "speak": true}))
	if out["description"] != "Un perro en la playa." || out["spoken"] != true {
		t.Errorf("response = %+v", out)
	}
	want := []string{narration.MsgAnalyzing, "Un perro en la playa.", narration.MsgAnalyzed}
	got := f.playNarration(t, len(want))
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("spoken = %q, want %q", got, want)
	}
}

func TestImages_EditSpeaksProgress(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want []string
	}{
		{"success", nil, []string{narration.MsgEditing, narration.MsgEdited}},
		{"failure", errors.New("quota"), []string{narration.MsgEditing, narration.MsgEditFailed}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, testConfig())
			f.image.EditResult = &image.Image{Data: []byte{1}, MIMEType: "image/png"}
			f.image.EditErr = tc.err

			png := []byte("\x89PNG\r\n\x1a\n0000")
			f.do(t, "POST", "/v1/images/edit", map[string]any{"prompt": "cielo naranja", "image": png, "speak": true})
			got := f.playNarration(t, len(tc.want))
			if strings.Join(got, "|") != strings.Join(tc.want, "|") {
				t.Errorf("spoken = %q, want %q", got, tc.want)
			}
		})
	}
}

// ─── Health & metrics ────────────────────────────────────────────────────────

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		if resp := f.do(t, "GET", path, nil); resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestReadyz_MissingAPIKey(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Providers.Live.APIKey = ""
	f := newFixture(t, cfg)
	if resp := f.do(t, "GET", "/readyz", nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d, want 503", resp.StatusCode)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

func TestRun_ServesUntilCancelled(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.Conversation.Autostart = true
	live := &livemock.Provider{}
	a, err := app.New(cfg, &app.Providers{Live: live, Audio: &audiomock.Devices{}},
		app.WithListener(ln), app.WithGatherer(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, "server never became healthy")
	eventually(t, func() bool { return live.ConnectCount() == 1 }, "autostart did not connect")

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func hasMetric(rm metricdata.ResourceMetrics, name string) bool {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return true
			}
		}
	}
	return false
}
