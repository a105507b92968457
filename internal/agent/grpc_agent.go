package agent

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lexiqai/voice-agent/internal/observability"
	"github.com/lexiqai/voice-agent/internal/resilience"
)

// The remote agent speaks a schemaless contract: requests and responses are
// google.protobuf.Struct messages on a server-streaming method.
const (
	ServiceName   = "lexiq.agent.v1.Agent"
	respondMethod = "/" + ServiceName + "/Respond"
)

var respondDesc = &grpc.StreamDesc{StreamName: "Respond", ServerStreams: true}

// Options carries process-level settings for remote agents.
type Options struct {
	Address     string
	TLSEnabled  bool
	DialTimeout time.Duration

	Retry               *resilience.RetryConfig
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration

	Logger zerolog.Logger
}

// GRPCParams are the "grpc" provider parameters.
type GRPCParams struct {
	Address   string `json:"address,omitempty"`
	TimeoutMs int    `json:"timeout_ms,omitempty"`
}

// Dialer shares one client connection per agent address across calls.
type Dialer struct {
	opts Options

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewDialer creates a dialer. Connections are created lazily.
func NewDialer(opts Options) *Dialer {
	return &Dialer{opts: opts, conns: make(map[string]*grpc.ClientConn)}
}

// Conn returns the shared connection for address.
func (d *Dialer) Conn(address string) (*grpc.ClientConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if conn, ok := d.conns[address]; ok {
		return conn, nil
	}

	var opts []grpc.DialOption
	if d.opts.TLSEnabled {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	// Keepalive settings for long-lived connections
	opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             3 * time.Second,
		PermitWithoutStream: true,
	}))

	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent client for %s: %w", address, err)
	}
	d.conns[address] = conn
	d.opts.Logger.Info().Str("address", address).Msg("Agent client created")
	return conn, nil
}

// HealthCheck asks the default agent's health service whether it is serving.
func (d *Dialer) HealthCheck(ctx context.Context) error {
	conn, err := d.Conn(d.opts.Address)
	if err != nil {
		return err
	}
	if d.opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.DialTimeout)
		defer cancel()
	}
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("agent is %s", resp.GetStatus())
	}
	return nil
}

// Close closes every connection.
func (d *Dialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for addr, conn := range d.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", addr, err))
		}
		delete(d.conns, addr)
	}
	return errors.Join(errs...)
}

// GRPCAgent streams replies from a remote dialogue agent.
type GRPCAgent struct {
	conn           grpc.ClientConnInterface
	turnTimeout    time.Duration
	retry          *resilience.RetryConfig
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
}

// NewGRPCAgent creates an agent on an existing connection.
func NewGRPCAgent(conn grpc.ClientConnInterface, params GRPCParams, opts Options) *GRPCAgent {
	maxFailures := opts.BreakerMaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}
	reset := opts.BreakerResetTimeout
	if reset <= 0 {
		reset = 30 * time.Second
	}
	return &GRPCAgent{
		conn:           conn,
		turnTimeout:    time.Duration(params.TimeoutMs) * time.Millisecond,
		retry:          opts.Retry,
		circuitBreaker: resilience.NewCircuitBreaker("agent", maxFailures, reset).Observe(observability.BreakerMetrics{}),
		logger:         opts.Logger.With().Str("component", "grpc_agent").Logger(),
	}
}

// Respond sends the history and streams the agent's reply back.
func (a *GRPCAgent) Respond(ctx context.Context, conversationID string, history []Message) (<-chan *Response, error) {
	req, err := encodeRequest(conversationID, history)
	if err != nil {
		return nil, err
	}

	cancel := context.CancelFunc(func() {})
	if a.turnTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, a.turnTimeout)
	}
	ctx, span := observability.StartSpan(ctx, "agent.respond",
		attribute.String("conversation_id", conversationID),
		attribute.Int("history_len", len(history)))

	// Use circuit breaker to protect the call
	var stream grpc.ClientStream
	err = a.circuitBreaker.Call(func() error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			s, err := a.conn.NewStream(ctx, respondDesc, respondMethod)
			if err != nil {
				return err
			}
			if err := s.SendMsg(req); err != nil {
				return err
			}
			if err := s.CloseSend(); err != nil {
				return err
			}
			stream = s
			return nil
		}, a.retry, resilience.IsRetryableNetworkError)
	})
	if err != nil {
		observability.EndSpan(span, err)
		cancel()
		return nil, fmt.Errorf("failed to call Respond: %w", err)
	}

	out := make(chan *Response, responseBuffer)
	go func() {
		var streamErr error
		defer func() {
			observability.EndSpan(span, streamErr)
			cancel()
			close(out)
		}()

		for {
			var msg structpb.Struct
			if err := stream.RecvMsg(&msg); err != nil {
				if errors.Is(err, io.EOF) || ctx.Err() != nil {
					return
				}
				streamErr = err
				st := status.Convert(err)
				a.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("Agent stream failed")
				select {
				case out <- &Response{Error: &Error{Code: st.Code().String(), Message: st.Message()}}:
				case <-ctx.Done():
				}
				return
			}

			resp := decodeResponse(&msg)
			select {
			case out <- resp:
			case <-ctx.Done():
				return
			}
			if resp.Done {
				return
			}
		}
	}()

	return out, nil
}

func encodeRequest(conversationID string, history []Message) (*structpb.Struct, error) {
	messages := make([]any, 0, len(history))
	for _, m := range history {
		messages = append(messages, map[string]any{
			"role":        string(m.Role),
			"text":        m.Text,
			"interrupted": m.Interrupted,
		})
	}
	req, err := structpb.NewStruct(map[string]any{
		"conversation_id": conversationID,
		"messages":        messages,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode agent request: %w", err)
	}
	return req, nil
}

func decodeResponse(msg *structpb.Struct) *Response {
	f := msg.GetFields()
	resp := &Response{
		Text: f["text"].GetStringValue(),
		Done: f["done"].GetBoolValue(),
	}

	if action := f["action"].GetStructValue(); action != nil {
		params := json.RawMessage("{}")
		if p := action.GetFields()["params"].GetStructValue(); p != nil {
			if b, err := protojson.Marshal(p); err == nil {
				params = b
			}
		}
		resp.Action = &ActionRequest{
			Name:   action.GetFields()["name"].GetStringValue(),
			Params: params,
		}
	}

	if e := f["error"].GetStructValue(); e != nil {
		resp.Error = &Error{
			Code:    e.GetFields()["code"].GetStringValue(),
			Message: e.GetFields()["message"].GetStringValue(),
		}
	}
	return resp
}
