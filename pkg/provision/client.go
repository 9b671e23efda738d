package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	applogger "github.com/saker-ai/convai/internal/logger"
)

// DefaultHost is the production provisioning endpoint.
const DefaultHost = "https://iot-cn-shanghai.iot.volces.com"

const (
	apiVersion          = "2021-12-14"
	actionRegister      = "DynamicRegister"
	actionSessionConfig = "GetRTCConfig"
	maxResponseBytes    = 1 << 20
)

// Identity is the long-lived device credential set supplied by the caller.
type Identity struct {
	InstanceID    string
	ProductKey    string
	ProductSecret string
	DeviceName    string
}

// Validate reports which identity fields are missing.
func (id Identity) Validate() error {
	var missing []string
	if id.InstanceID == "" {
		missing = append(missing, "instance_id")
	}
	if id.ProductKey == "" {
		missing = append(missing, "product_key")
	}
	if id.ProductSecret == "" {
		missing = append(missing, "product_secret")
	}
	if id.DeviceName == "" {
		missing = append(missing, "device_name")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidIdentity, strings.Join(missing, ", "))
	}
	return nil
}

// Registration is the outcome of a successful DynamicRegister call.
type Registration struct {
	DeviceSecret Secret
	AppID        string
}

// RoomConfig is the media-transport room assignment for one session.
type RoomConfig struct {
	ChannelName string
	UserID      string
	Token       string
	TaskID      string
}

// SessionConfigRequest carries the per-session inputs of GetRTCConfig.
type SessionConfigRequest struct {
	AudioCodec int
	BotID      string
	TaskID     string
}

// Client performs the signed provisioning calls. It keeps no credential
// state of its own and never retries.
type Client struct {
	host   string
	http   *http.Client
	logger *zap.Logger
	now    func() time.Time
	random func() int32

	nonceMu       sync.Mutex
	lastTimestamp uint64
}

// Option configures a Client.
type Option func(*Client)

// WithHost points the client at another provisioning host.
func WithHost(host string) Option {
	return func(c *Client) { c.host = strings.TrimRight(host, "/") }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithClock replaces the wall clock used for nonce timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithRandom replaces the random_num source.
func WithRandom(random func() int32) Option {
	return func(c *Client) { c.random = random }
}

// NewClient creates a provisioning client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		host:   DefaultHost,
		now:    time.Now,
		random: func() int32 { return rand.Int32() },
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = NewHTTPClient()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// NextNonce draws fresh nonce material. Timestamps never repeat or go
// backwards within one Client, even if the wall clock does.
func (c *Client) NextNonce() Nonce {
	ts := uint64(c.now().UnixMilli())
	c.nonceMu.Lock()
	if ts <= c.lastTimestamp {
		ts = c.lastTimestamp + 1
	}
	c.lastTimestamp = ts
	c.nonceMu.Unlock()
	return Nonce{Random: c.random(), Timestamp: ts}
}

type registerRequest struct {
	InstanceID string `json:"InstanceID"`
	ProductKey string `json:"product_key"`
	DeviceName string `json:"device_name"`
	RandomNum  int32  `json:"random_num"`
	Timestamp  uint64 `json:"timestamp"`
	AuthType   int    `json:"auth_type"`
	Signature  string `json:"signature"`
}

type sessionConfigRequest struct {
	InstanceID string `json:"InstanceID"`
	ProductKey string `json:"product_key"`
	DeviceName string `json:"device_name"`
	RandomNum  int32  `json:"random_num"`
	Timestamp  uint64 `json:"timestamp"`
	Signature  string `json:"signature"`
	BotID      string `json:"bot_id"`
	AudioCodec int    `json:"audio_codec"`
	TaskID     string `json:"task_id"`
}

type envelope struct {
	ResponseMetadata struct {
		Error *struct {
			CodeN *int   `json:"CodeN"`
			Code  string `json:"Code"`
		} `json:"Error"`
	} `json:"ResponseMetadata"`
	Result struct {
		Payload  string `json:"payload"`
		RTCAppID string `json:"RTCAppID"`
		RoomID   string `json:"RoomID"`
		UserID   string `json:"UserID"`
		Token    string `json:"Token"`
		TaskID   string `json:"TaskID"`
	} `json:"Result"`
}

// Register exchanges the product credentials for a device secret.
func (c *Client) Register(ctx context.Context, id Identity) (Registration, error) {
	if err := id.Validate(); err != nil {
		return Registration{}, err
	}
	nonce := c.NextNonce()
	signature := Sign(id.ProductSecret, id.ProductKey, id.DeviceName, AuthTypeRegister, nonce)
	c.logger.Debug("provision sign",
		zap.String("action", actionRegister),
		zap.String("device_name", id.DeviceName),
		zap.Uint64("timestamp", nonce.Timestamp),
		applogger.Redacted("signature", signature),
	)
	body := registerRequest{
		InstanceID: id.InstanceID,
		ProductKey: id.ProductKey,
		DeviceName: id.DeviceName,
		RandomNum:  nonce.Random,
		Timestamp:  nonce.Timestamp,
		AuthType:   AuthTypeRegister,
		Signature:  signature,
	}

	resp, err := c.post(ctx, actionRegister, body)
	if err != nil {
		return Registration{}, err
	}
	if resp.Result.Payload == "" {
		return Registration{}, fmt.Errorf("%w: %s missing Result.payload", ErrMalformedResponse, actionRegister)
	}
	if resp.Result.RTCAppID == "" {
		return Registration{}, fmt.Errorf("%w: %s missing Result.RTCAppID", ErrMalformedResponse, actionRegister)
	}
	secret, err := decryptPayload(id.ProductSecret, resp.Result.Payload)
	if err != nil {
		return Registration{}, err
	}
	c.logger.Info("device registered",
		zap.String("device_name", id.DeviceName),
		zap.String("app_id", resp.Result.RTCAppID),
		applogger.Redacted("device_secret", string(secret)),
	)
	return Registration{DeviceSecret: secret, AppID: resp.Result.RTCAppID}, nil
}

// GetSessionConfig fetches a room assignment, signed with the device secret.
// Every RoomConfig field must be present and non-empty.
func (c *Client) GetSessionConfig(ctx context.Context, id Identity, secret Secret, req SessionConfigRequest) (RoomConfig, error) {
	if err := id.Validate(); err != nil {
		return RoomConfig{}, err
	}
	if len(secret) == 0 {
		return RoomConfig{}, fmt.Errorf("%w: empty device secret", ErrInvalidIdentity)
	}
	nonce := c.NextNonce()
	body := sessionConfigRequest{
		InstanceID: id.InstanceID,
		ProductKey: id.ProductKey,
		DeviceName: id.DeviceName,
		RandomNum:  nonce.Random,
		Timestamp:  nonce.Timestamp,
		Signature:  Sign(string(secret), id.ProductKey, id.DeviceName, AuthTypeSession, nonce),
		BotID:      req.BotID,
		AudioCodec: req.AudioCodec,
		TaskID:     req.TaskID,
	}

	resp, err := c.post(ctx, actionSessionConfig, body)
	if err != nil {
		return RoomConfig{}, err
	}
	room := RoomConfig{
		ChannelName: resp.Result.RoomID,
		UserID:      resp.Result.UserID,
		Token:       resp.Result.Token,
		TaskID:      resp.Result.TaskID,
	}
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"RoomID", room.ChannelName},
		{"UserID", room.UserID},
		{"Token", room.Token},
		{"TaskID", room.TaskID},
	} {
		if f.value == "" {
			missing = append(missing, "Result."+f.name)
		}
	}
	if len(missing) > 0 {
		return RoomConfig{}, fmt.Errorf("%w: %s missing %s", ErrMalformedResponse, actionSessionConfig, strings.Join(missing, ", "))
	}
	c.logger.Info("session config fetched",
		zap.String("room_id", room.ChannelName),
		zap.String("user_id", room.UserID),
		zap.String("task_id", room.TaskID),
		applogger.Redacted("token", room.Token),
	)
	return room, nil
}

func (c *Client) endpoint(action string) string {
	return fmt.Sprintf("%s/%s/%s?Action=%s&Version=%s", c.host, apiVersion, action, action, apiVersion)
}

func (c *Client) post(ctx context.Context, action string, body any) (envelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return envelope{}, fmt.Errorf("encode %s request: %w", action, err)
	}
	url := c.endpoint(action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return envelope{}, fmt.Errorf("%w: build %s request: %v", ErrNetwork, action, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("provision request failed", zap.String("action", action), zap.Error(err))
		return envelope{}, fmt.Errorf("%w: %s: %v", ErrNetwork, action, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return envelope{}, fmt.Errorf("%w: read %s response: %v", ErrNetwork, action, err)
	}
	c.logger.Debug("provision response",
		zap.String("action", action),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(raw)),
		zap.Duration("latency", time.Since(start)),
	)

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return envelope{}, fmt.Errorf("%w: %s returned http %d", ErrNetwork, action, resp.StatusCode)
		}
		return envelope{}, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, action, err)
	}
	if e := env.ResponseMetadata.Error; e != nil && e.CodeN != nil && *e.CodeN != 0 {
		perr := &Error{Action: action, Kind: kindForCode(*e.CodeN), Code: *e.CodeN}
		c.logger.Warn("provision rejected",
			zap.String("action", action),
			zap.Int("code", perr.Code),
			zap.String("kind", perr.Kind.String()),
			zap.String("error_code", e.Code),
		)
		return envelope{}, perr
	}
	if resp.StatusCode != http.StatusOK {
		return envelope{}, fmt.Errorf("%w: %s returned http %d", ErrNetwork, action, resp.StatusCode)
	}
	return env, nil
}
