package collaborator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ashureev/prosim/internal/domain"
)

// Full method names of the remote persona service. Requests are
// google.protobuf.Struct and replies google.protobuf.StringValue.
const (
	PersonaServiceName = "prosim.persona.v1.PersonaService"

	generateMethod   = "/" + PersonaServiceName + "/Generate"
	analyzeMethod    = "/" + PersonaServiceName + "/Analyze"
	synthesizeMethod = "/" + PersonaServiceName + "/Synthesize"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GRPCConfig holds configuration for the gRPC backend.
type GRPCConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGRPCConfig returns default configuration.
func DefaultGRPCConfig() GRPCConfig {
	return GRPCConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   30 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GRPC implements Backend against a remote persona service.
type GRPC struct {
	conn    *grpc.ClientConn
	addr    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGRPC connects to the persona service and waits until it is ready.
func NewGRPC(cfg GRPCConfig, logger *slog.Logger) (*GRPC, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultGRPCConfig()
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = def.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = def.KeepaliveTimeout
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to persona service at %s: %w", cfg.Address, err)
	}

	// Force a connection attempt during startup so we fail fast on bad endpoints.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("persona service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to persona service", "address", cfg.Address)
	return &GRPC{
		conn:    conn,
		addr:    cfg.Address,
		timeout: cfg.RequestTimeout,
		logger:  logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

var _ Backend = (*GRPC)(nil)

// Close closes the gRPC connection.
func (g *GRPC) Close() error {
	if g.conn == nil {
		return nil
	}
	if err := g.conn.Close(); err != nil {
		g.logger.Warn("failed to close gRPC connection", "error", err)
		return err
	}
	return nil
}

// Generate implements Dialogue.
func (g *GRPC) Generate(ctx context.Context, req DialogueRequest) (string, error) {
	payload := map[string]any{
		"scenario":     req.Scenario,
		"phase":        req.Phase,
		"persona":      personaFields(req.Persona),
		"context":      req.Context,
		"window":       turnFields(req.Window),
		"summary":      req.Summary,
		"user_message": req.UserMessage,
		"opening":      req.Opening(),
	}
	if req.Scores != nil {
		payload["scores"] = scoreFields(*req.Scores)
	}
	return g.invoke(ctx, generateMethod, payload)
}

// Analyze implements Analyzer.
func (g *GRPC) Analyze(ctx context.Context, req AnalysisRequest) (string, error) {
	return g.invoke(ctx, analyzeMethod, map[string]any{
		"scenario": req.Scenario,
		"phase":    req.Phase,
		"message":  req.Message,
		"summary":  req.Summary,
	})
}

// Synthesize implements Synthesizer.
func (g *GRPC) Synthesize(ctx context.Context, req SynthesisRequest) (string, error) {
	return g.invoke(ctx, synthesizeMethod, map[string]any{
		"scenario": req.Scenario,
		"metrics":  scoreFields(req.Metrics),
		"summary":  req.Summary,
	})
}

func (g *GRPC) invoke(ctx context.Context, method string, payload map[string]any) (string, error) {
	in, err := toStruct(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s request: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var out wrapperspb.StringValue
	if err := g.conn.Invoke(ctx, method, in, &out); err != nil {
		return "", fmt.Errorf("%s failed: %w", method, err)
	}
	return out.GetValue(), nil
}

// toStruct converts payload into a protobuf Struct. Values that structpb
// does not accept directly are normalised through JSON first.
func toStruct(payload map[string]any) (*structpb.Struct, error) {
	if s, err := structpb.NewStruct(payload); err == nil {
		return s, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var generic map[string]any
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil, err
	}
	return structpb.NewStruct(generic)
}

func personaFields(p domain.Persona) map[string]any {
	return map[string]any{
		"id":                  p.ID,
		"name":                p.Name,
		"role":                p.Role,
		"personality":         p.Personality,
		"communication_style": p.CommunicationStyle,
		"knowledge_level":     p.KnowledgeLevel,
		"typical_concerns":    stringList(p.TypicalConcerns),
		"response_patterns":   stringList(p.ResponsePatterns),
	}
}

func turnFields(turns []domain.Turn) []any {
	out := make([]any, len(turns))
	for i, t := range turns {
		out[i] = map[string]any{
			"speaker": string(t.Speaker),
			"message": t.Message,
			"phase":   t.Phase,
		}
	}
	return out
}

func scoreFields(m domain.Metrics) map[string]any {
	return map[string]any{
		"clarity_score":               m.Clarity,
		"technical_accuracy":          m.TechnicalAccuracy,
		"communication_effectiveness": m.CommunicationEffectiveness,
		"response_relevance":          m.ResponseRelevance,
	}
}

func stringList(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
