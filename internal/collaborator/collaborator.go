// Package collaborator defines the external text-generation services used by
// the simulation engine and provides OpenAI, gRPC and scripted backends.
package collaborator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/prosim/internal/domain"
)

// DialogueRequest asks the persona for its next line. Scores is nil for the
// opening line of a session.
type DialogueRequest struct {
	Scenario    string
	Phase       string
	Persona     domain.Persona
	Context     map[string]any
	Window      []domain.Turn
	Summary     string
	UserMessage string
	Scores      *domain.Metrics
}

// Opening reports whether the request is for the first line of a session.
func (r DialogueRequest) Opening() bool {
	return r.Scores == nil && r.UserMessage == ""
}

// AnalysisRequest asks for scores of a single user message.
type AnalysisRequest struct {
	Scenario string
	Phase    string
	Message  string
	Summary  string
}

// SynthesisRequest asks for the end-of-session report.
type SynthesisRequest struct {
	Scenario string
	Metrics  domain.Metrics
	Summary  string
}

// Dialogue produces persona lines.
type Dialogue interface {
	Generate(ctx context.Context, req DialogueRequest) (string, error)
}

// Analyzer returns raw analysis text, decoded with ParseAnalysis.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (string, error)
}

// Synthesizer returns raw report text, decoded with ParseReport.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (string, error)
}

// Backend bundles all three roles behind one connection.
type Backend interface {
	Dialogue
	Analyzer
	Synthesizer
	Close() error
}

// Provider names a Backend implementation.
const (
	ProviderOpenAI   = "openai"
	ProviderGRPC     = "grpc"
	ProviderScripted = "scripted"
)

// Config selects and configures a backend.
type Config struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
	Addr        string
}

// New builds the backend named by cfg.Provider.
func New(cfg Config, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Provider {
	case ProviderOpenAI:
		b, err := NewOpenAI(cfg, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	case ProviderGRPC:
		gc := DefaultGRPCConfig()
		gc.Address = cfg.Addr
		gc.RequestTimeout = cfg.Timeout
		b, err := NewGRPC(gc, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	case ProviderScripted, "":
		return NewScripted(), nil
	default:
		return nil, fmt.Errorf("unknown collaborator provider %q", cfg.Provider)
	}
}
