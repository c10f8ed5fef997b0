package classifiers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/triage-ai/moderation/internal/engine"
)

// ClassifyMethod is the full gRPC method name served by the scoring service.
// Requests and responses are google.protobuf.Struct messages:
//
//	request:  {"text": string, "mode": "general" | "sensitive_context"}
//	response: {"scores": {category: number}, "model": string, "latency_ms": number}
const ClassifyMethod = "/moderation.classifier.v1.ClassifierService/Classify"

var errMalformedResponse = errors.New("malformed classifier response")

// GRPCClassifier calls a remote scoring model over gRPC.
//
// It is only wired up when CLASSIFIER_ENDPOINT is set. Unlike the rule
// checks it can fail; errors are returned so the engine can fail open.
type GRPCClassifier struct {
	conn   *grpc.ClientConn
	logger *zap.Logger
}

// NewGRPCClassifier creates a client for endpoint (e.g. "classifier:50052").
// The connection is established lazily on first use.
func NewGRPCClassifier(endpoint string, logger *zap.Logger) (*GRPCClassifier, error) {
	conn, err := grpc.NewClient(
		endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(
			grpc.WaitForReady(true),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("NewGRPCClassifier: %w", err)
	}

	logger.Info("grpc classifier configured", zap.String("endpoint", endpoint))

	return &GRPCClassifier{conn: conn, logger: logger}, nil
}

func (c *GRPCClassifier) Name() string {
	return "grpc_classifier"
}

func (c *GRPCClassifier) Classify(ctx context.Context, req *engine.ClassifyRequest) (*engine.Classification, error) {
	in, err := structpb.NewStruct(map[string]any{
		"text": req.Text,
		"mode": req.Mode.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("GRPCClassifier.Classify: %w", err)
	}

	start := time.Now()
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, ClassifyMethod, in, out); err != nil {
		return nil, fmt.Errorf("GRPCClassifier.Classify: %w", err)
	}

	res, err := parseClassification(out)
	if err != nil {
		return nil, fmt.Errorf("GRPCClassifier.Classify: %w", err)
	}
	if res.Latency == 0 {
		res.Latency = time.Since(start)
	}
	return res, nil
}

func parseClassification(s *structpb.Struct) (*engine.Classification, error) {
	fields := s.GetFields()
	scores := fields["scores"].GetStructValue()
	if scores == nil {
		return nil, fmt.Errorf("%w: missing scores", errMalformedResponse)
	}

	res := &engine.Classification{
		Scores: make(map[string]float32, len(scores.GetFields())),
		Model:  fields["model"].GetStringValue(),
	}
	for cat, v := range scores.GetFields() {
		num, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("%w: score %q is not a number", errMalformedResponse, cat)
		}
		res.Scores[cat] = clampScore(num.NumberValue)
	}
	if ms := fields["latency_ms"].GetNumberValue(); ms > 0 {
		res.Latency = time.Duration(ms * float64(time.Millisecond))
	}
	return res, nil
}

func clampScore(f float64) float32 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return float32(f)
	}
}

// Close shuts down the gRPC connection.
func (c *GRPCClassifier) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
