package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// ModelServiceName is the gRPC service implemented by the model sidecar.
const ModelServiceName = "polly.model.v1.ModelService"

const (
	completeMethod = "/" + ModelServiceName + "/Complete"
	classifyMethod = "/" + ModelServiceName + "/Classify"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errMalformedReply           = errors.New("malformed model reply")
)

// GrpcClient provides a gRPC client to the model sidecar.
type GrpcClient struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	addr   string
	logger *slog.Logger
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	DialOptions      []grpc.DialOption
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig() GrpcClientConfig {
	return GrpcClientConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcClient connects to the model sidecar and waits until it is ready.
func NewGrpcClient(cfg GrpcClientConfig, logger *slog.Logger) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultGrpcClientConfig()
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
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

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, cfg.DialOptions...)

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to model service at %s: %w", cfg.Address, err)
	}

	// Force a connection attempt during startup so we fail fast on bad endpoints.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("model service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to model service", "address", cfg.Address)

	return &GrpcClient{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		addr:   cfg.Address,
		logger: logger,
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

// Close closes the gRPC connection.
func (c *GrpcClient) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Health reports whether the sidecar's model service is serving.
func (c *GrpcClient) Health(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ModelServiceName})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("health check failed: status %s", resp.GetStatus())
	}
	return nil
}

// Complete sends the conversation window to the sidecar.
// Request: {"messages": [{"role", "content"}...]}. Reply: {"text": string}.
func (c *GrpcClient) Complete(ctx context.Context, messages []Message) (string, error) {
	items := make([]any, len(messages))
	for i, m := range messages {
		items[i] = map[string]any{"role": string(m.Role), "content": m.Content}
	}
	req, err := structpb.NewStruct(map[string]any{"messages": items})
	if err != nil {
		return "", fmt.Errorf("encode complete request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, completeMethod, req, resp); err != nil {
		c.logger.Warn("Complete failed", "error", err, "messages", len(messages))
		return "", fmt.Errorf("complete request failed: %w", err)
	}
	text, ok := resp.GetFields()["text"]
	if !ok {
		return "", fmt.Errorf("%w: missing text", errMalformedReply)
	}
	return text.GetStringValue(), nil
}

// Classify asks the sidecar a yes/no question.
// Request: {"prompt": string}. Reply: {"verdict": bool} or {"text": string}.
func (c *GrpcClient) Classify(ctx context.Context, prompt string) (bool, error) {
	req, err := structpb.NewStruct(map[string]any{"prompt": prompt})
	if err != nil {
		return false, fmt.Errorf("encode classify request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, classifyMethod, req, resp); err != nil {
		c.logger.Warn("Classify failed", "error", err)
		return false, fmt.Errorf("classify request failed: %w", err)
	}
	fields := resp.GetFields()
	if v, ok := fields["verdict"]; ok {
		if _, isBool := v.GetKind().(*structpb.Value_BoolValue); isBool {
			return v.GetBoolValue(), nil
		}
	}
	if v, ok := fields["text"]; ok {
		return ParseVerdict(v.GetStringValue()), nil
	}
	return false, fmt.Errorf("%w: missing verdict", errMalformedReply)
}
