package provider

import (
	"context"
	"fmt"

	"github.com/quorumlabs/quorum/internal/model"
)

// MockAdapter returns a scripted or generated response without calling any
// upstream network. Used in tests and for local dry runs of the engine.
type MockAdapter struct {
	cfg       model.ProviderConfig
	responses map[string]string // exact prompt -> canned text, "" matches everything
	fail      bool
}

// NewMockAdapter builds a MockAdapter bound to cfg. responses maps an exact
// prompt text to the text it should return for that prompt; the empty key
// is the default.
func NewMockAdapter(cfg model.ProviderConfig, responses map[string]string) *MockAdapter {
	return &MockAdapter{cfg: cfg, responses: responses}
}

func (m *MockAdapter) Name() string                { return m.cfg.Name }
func (m *MockAdapter) Config() model.ProviderConfig { return m.cfg }

// SetFail toggles whether Generate returns an error, for exercising
// retry/fallback paths in tests.
func (m *MockAdapter) SetFail(fail bool) { m.fail = fail }

func (m *MockAdapter) Generate(ctx context.Context, prompt, system string) (string, error) {
	if m.fail {
		return "", fmt.Errorf("mock provider %s: simulated failure", m.cfg.Name)
	}
	if m.responses != nil {
		if text, ok := m.responses[prompt]; ok {
			return text, nil
		}
		if text, ok := m.responses[""]; ok {
			return text, nil
		}
	}
	return fmt.Sprintf("%s response to: %s", m.cfg.Name, prompt), nil
}

// GenerateStream satisfies StreamingAdapter by chunking the non-streaming
// response into fixed-size pieces.
func (m *MockAdapter) GenerateStream(ctx context.Context, prompt, system string, onDelta OnDelta) (string, error) {
	text, err := m.Generate(ctx, prompt, system)
	if err != nil {
		return "", err
	}
	const chunkSize = 16
	for i := 0; i < len(text); i += chunkSize {
		end := i + chunkSize
		if end > len(text) {
			end = len(text)
		}
		onDelta(text[i:end])
	}
	return text, nil
}
