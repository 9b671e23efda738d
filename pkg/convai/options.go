package convai

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/saker-ai/convai/pkg/provision"
	"github.com/saker-ai/convai/pkg/transport"
	"github.com/saker-ai/convai/pkg/transport/rtc"
	"github.com/saker-ai/convai/pkg/transport/ws"
)

// Provisioner performs the signed provisioning calls.
type Provisioner interface {
	Register(ctx context.Context, id provision.Identity) (provision.Registration, error)
	GetSessionConfig(ctx context.Context, id provision.Identity, secret provision.Secret, req provision.SessionConfigRequest) (provision.RoomConfig, error)
}

type options struct {
	logger      *zap.Logger
	provisioner Provisioner
	host        string
	httpClient  *http.Client
	factories   map[Mode]transport.Factory
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithProvisioner replaces the provisioning client entirely.
func WithProvisioner(p Provisioner) Option {
	return func(o *options) { o.provisioner = p }
}

// WithProvisionHost points the default provisioning client at host.
func WithProvisionHost(host string) Option {
	return func(o *options) { o.host = host }
}

// WithHTTPClient sets the HTTP client of the default provisioning client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithBackend registers the backend factory for mode.
func WithBackend(mode Mode, factory transport.Factory) Option {
	return func(o *options) { o.factories[mode] = factory }
}

// WithRoom enables ModeRTC on top of a media SDK adapter.
func WithRoom(open rtc.Opener) Option {
	return WithBackend(ModeRTC, rtc.NewFactory(open))
}

func defaultOptions() options {
	return options{
		factories: map[Mode]transport.Factory{
			ModeWS: ws.Factory,
		},
	}
}

func (o *options) buildProvisioner() Provisioner {
	if o.provisioner != nil {
		return o.provisioner
	}
	opts := []provision.Option{provision.WithLogger(o.logger.Named("provision"))}
	if o.host != "" {
		opts = append(opts, provision.WithHost(o.host))
	}
	if o.httpClient != nil {
		opts = append(opts, provision.WithHTTPClient(o.httpClient))
	}
	return provision.NewClient(opts...)
}
