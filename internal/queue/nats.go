// ABOUTME: NATS client wrapper for queue subscriptions
// ABOUTME: Handles connection, subscription with queue groups, and graceful shutdown

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/meridian-io/meridian/internal/observability"
)

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	// NATS server URL.
	URL string

	// Subject to subscribe to for lookup requests.
	Subject string

	// BatchSubject to subscribe to for batch lookup requests.
	BatchSubject string

	// Queue group name for load balancing.
	QueueGroup string

	// Connection name for identification.
	Name string

	// Reconnect settings.
	MaxReconnects int
	ReconnectWait time.Duration

	// Request timeout.
	Timeout time.Duration
}

// DefaultNATSConfig returns a configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Subject:       "meridian.lookup",
		BatchSubject:  "meridian.lookup.batch",
		QueueGroup:    "meridian-lookups",
		Name:          "meridian",
		MaxReconnects: -1, // Unlimited.
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Client wraps the NATS connection and subscriptions.
type Client struct {
	conn     *nats.Conn
	sub      *nats.Subscription
	batchSub *nats.Subscription
	handler  *Handler
	config   NATSConfig
	logger   *slog.Logger
}

// NewClient creates a new NATS client with the given configuration.
func NewClient(cfg NATSConfig, handler *Handler, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		handler: handler,
		config:  cfg,
		logger:  logger,
	}, nil
}

// Connect establishes the NATS connection.
func (c *Client) Connect(ctx context.Context) error {
	opts := []nats.Option{
		nats.Name(c.config.Name),
		nats.MaxReconnects(c.config.MaxReconnects),
		nats.ReconnectWait(c.config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			c.logger.Warn("NATS disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			c.logger.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			c.logger.Error("NATS error",
				slog.Any("error", err),
				slog.String("subject", sub.Subject),
			)
		}),
	}

	conn, err := nats.Connect(c.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	c.conn = conn
	c.logger.Info("connected to NATS",
		slog.String("url", conn.ConnectedUrl()),
		slog.String("server_id", conn.ConnectedServerId()),
	)

	return nil
}

// Subscribe starts listening for lookup requests.
func (c *Client) Subscribe(ctx context.Context) error {
	if c.conn == nil {
		return fmt.Errorf("not connected to NATS")
	}

	sub, err := c.conn.QueueSubscribe(c.config.Subject, c.config.QueueGroup, func(msg *nats.Msg) {
		c.handleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	c.sub = sub

	batchSub, err := c.conn.QueueSubscribe(c.config.BatchSubject, c.config.QueueGroup, func(msg *nats.Msg) {
		c.handleBatchMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to batch subject: %w", err)
	}
	c.batchSub = batchSub

	c.logger.Info("subscribed to NATS",
		slog.String("subject", c.config.Subject),
		slog.String("batch_subject", c.config.BatchSubject),
		slog.String("queue", c.config.QueueGroup),
	)

	return nil
}

// handleMessage processes an incoming lookup request.
func (c *Client) handleMessage(ctx context.Context, msg *nats.Msg) {
	ctx, span := observability.StartSpan(ctx, "nats.lookup")
	defer span.End()

	start := time.Now()

	var req LookupRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		c.logger.Error("failed to parse lookup request",
			slog.Any("error", err),
			slog.String("data", string(msg.Data)),
		)
		c.replyError(msg, "", "invalid request format: "+err.Error())
		return
	}

	resp := c.handler.ProcessRequest(ctx, req)

	if msg.Reply != "" {
		respData, err := json.Marshal(resp)
		if err != nil {
			c.logger.Error("failed to marshal response",
				slog.Any("error", err),
				slog.String("request_id", req.RequestID),
			)
			return
		}

		if err := msg.Respond(respData); err != nil {
			c.logger.Error("failed to send reply",
				slog.Any("error", err),
				slog.String("request_id", req.RequestID),
			)
			return
		}
	}

	c.logger.Info("processed lookup request",
		slog.String("request_id", req.RequestID),
		slog.String("ip", req.IP),
		slog.String("status", resp.Status),
		slog.Bool("cache_hit", resp.CacheHit),
		slog.Duration("duration", time.Since(start)),
	)
}

// handleBatchMessage processes an incoming batch lookup request.
func (c *Client) handleBatchMessage(ctx context.Context, msg *nats.Msg) {
	ctx, span := observability.StartSpan(ctx, "nats.lookup_batch")
	defer span.End()

	start := time.Now()

	var req BatchLookupRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		c.logger.Error("failed to parse batch lookup request",
			slog.Any("error", err),
			slog.String("data", string(msg.Data)),
		)
		c.replyError(msg, "", "invalid request format: "+err.Error())
		return
	}

	reqs := make([]LookupRequest, 0, len(req.IPs))
	for _, ip := range req.IPs {
		reqs = append(reqs, LookupRequest{IP: ip, RequestID: req.RequestID})
	}

	resp := BatchLookupResponse{
		RequestID:   req.RequestID,
		Results:     c.handler.ProcessBatch(ctx, reqs),
		TotalTimeMs: elapsedMs(start),
	}

	if msg.Reply != "" {
		respData, err := json.Marshal(resp)
		if err != nil {
			c.logger.Error("failed to marshal batch response",
				slog.Any("error", err),
				slog.String("request_id", req.RequestID),
			)
			return
		}

		if err := msg.Respond(respData); err != nil {
			c.logger.Error("failed to send batch reply",
				slog.Any("error", err),
				slog.String("request_id", req.RequestID),
			)
			return
		}
	}

	c.logger.Info("processed batch lookup request",
		slog.String("request_id", req.RequestID),
		slog.Int("count", len(req.IPs)),
		slog.Duration("duration", time.Since(start)),
	)
}

// replyError sends an error response.
func (c *Client) replyError(msg *nats.Msg, requestID, errMsg string) {
	if msg.Reply == "" {
		return
	}

	resp := LookupResponse{
		RequestID:  requestID,
		Status:     StatusError,
		Error:      errMsg,
		ResolvedAt: time.Now().UTC(),
	}

	respData, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("failed to marshal error response", slog.Any("error", err))
		return
	}

	if err := msg.Respond(respData); err != nil {
		c.logger.Error("failed to send error reply", slog.Any("error", err))
	}
}

// Lookup sends a lookup request over the queue and waits for the reply. It
// is the client side of the request/reply bridge, used by the lookup CLI.
func (c *Client) Lookup(ctx context.Context, req LookupRequest) (*LookupResponse, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("not connected to NATS")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok && c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	msg, err := c.conn.RequestWithContext(ctx, c.config.Subject, data)
	if err != nil {
		return nil, fmt.Errorf("lookup request: %w", err)
	}

	var resp LookupResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return &resp, nil
}

// Close closes the NATS connection.
func (c *Client) Close() error {
	if c.sub != nil {
		if err := c.sub.Unsubscribe(); err != nil {
			c.logger.Warn("failed to unsubscribe", slog.Any("error", err))
		}
	}

	if c.batchSub != nil {
		if err := c.batchSub.Unsubscribe(); err != nil {
			c.logger.Warn("failed to unsubscribe from batch subject", slog.Any("error", err))
		}
	}

	if c.conn != nil {
		c.conn.Close()
	}

	return nil
}

// IsConnected returns true if connected to NATS.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}
