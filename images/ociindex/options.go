package ociindex

import (
	"log/slog"

	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/registry/remote/credentials"

	"github.com/byte4ever/multiarch/images/imageref"
)

// Option configures a Publisher.
type Option func(*Publisher)

// TargetFunc opens the repository behind a reference.
type TargetFunc func(ref imageref.Ref) (oras.Target, error)

// WithPlainHTTP talks to registries over plain HTTP, for
// local development registries.
func WithPlainHTTP(enabled bool) Option {
	return func(p *Publisher) {
		p.plainHTTP = enabled
	}
}

// WithCredentials authenticates to host with a static
// username and password.
func WithCredentials(host, username, password string) Option {
	return func(p *Publisher) {
		p.store = StaticCredentials(host, username, password)
	}
}

// WithCredentialStore sets the credential store used for
// authentication.
func WithCredentialStore(store credentials.Store) Option {
	return func(p *Publisher) {
		p.store = store
	}
}

// WithDockerConfig reads credentials from the docker
// configuration and its credential helpers. When the
// configuration cannot be loaded the publisher stays
// anonymous.
func WithDockerConfig() Option {
	return func(p *Publisher) {
		store, err := DockerCredentials()
		if err != nil {
			p.log().Warn(
				"docker credentials unavailable",
				"error", err,
			)

			return
		}

		p.store = store
	}
}

// WithUserAgent sets the User-Agent header of registry
// requests.
func WithUserAgent(ua string) Option {
	return func(p *Publisher) {
		p.userAgent = ua
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithTarget replaces the registry connection, typically
// with an in-memory store.
func WithTarget(fn TargetFunc) Option {
	return func(p *Publisher) {
		p.target = fn
	}
}
