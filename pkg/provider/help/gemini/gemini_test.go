package gemini

import (
	"context"
	"errors"
	"strings"
	"testing"

	"google.golang.org/genai"
)

type fakeModels struct {
	resp *genai.GenerateContentResponse
	err  error

	model    string
	contents []*genai.Content
	cfg      *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model, f.contents, f.cfg = model, contents, cfg
	return f.resp, f.err
}

func answer(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: text}}}}},
	}
}

func TestAsk_SendsQuestionWithManual(t *testing.T) {
	t.Parallel()
	f := &fakeModels{resp: answer("  Usa la sección Crear.  ")}
	p := newProvider(f)

	got, err := p.Ask(context.Background(), "¿Cómo creo una nueva imagen?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got != "Usa la sección Crear." {
		t.Errorf("answer = %q", got)
	}
	if f.model != "gemini-2.5-flash" {
		t.Errorf("model = %q", f.model)
	}
	if f.contents[0].Role != "user" || f.contents[0].Parts[0].Text != "¿Cómo creo una nueva imagen?" {
		t.Errorf("contents = %+v", f.contents[0])
	}
	sys := f.cfg.SystemInstruction.Parts[0].Text
	if !strings.HasPrefix(sys, "Eres un bot de ayuda") || !strings.Contains(sys, "MANUAL DE LA APLICACIÓN") {
		t.Errorf("system instruction = %q", sys)
	}
}

func TestAsk_Options(t *testing.T) {
	t.Parallel()
	f := &fakeModels{resp: answer("ok")}
	p := newProvider(f, WithModel("m"), WithSystemInstruction("sé breve"))

	if _, err := p.Ask(context.Background(), "hola"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if f.model != "m" || f.cfg.SystemInstruction.Parts[0].Text != "sé breve" {
		t.Errorf("model = %q, instruction = %q", f.model, f.cfg.SystemInstruction.Parts[0].Text)
	}
}

func TestAsk_Errors(t *testing.T) {
	t.Parallel()
	boom := errors.New("unavailable")
	tests := []struct {
		name     string
		question string
		f        *fakeModels
		wantIs   error
	}{
		{"blank question", "   ", &fakeModels{}, nil},
		{"backend error", "hola", &fakeModels{err: boom}, boom},
		{"empty answer", "hola", &fakeModels{resp: &genai.GenerateContentResponse{}}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := newProvider(tc.f).Ask(context.Background(), tc.question)
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.wantIs != nil && !errors.Is(err, tc.wantIs) {
				t.Errorf("err = %v, want wrapped %v", err, tc.wantIs)
			}
		})
	}
}
