package ociindex

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
)

// errReadOnlyStore is returned by writes to a static store.
var errReadOnlyStore = errors.New("credential store is read-only")

// dockerHubHosts are the names docker uses for Docker Hub,
// in lookup order.
var dockerHubHosts = []string{
	"https://index.docker.io/v1/",
	"index.docker.io",
	"registry-1.docker.io",
	"docker.io",
}

// DockerCredentials returns a store backed by the docker
// configuration file and credential helpers. Lookups for
// Docker Hub try every name docker logs in under.
func DockerCredentials() (credentials.Store, error) {
	const errCtx = "loading docker credentials"

	store, err := credentials.NewStoreFromDocker(
		credentials.StoreOptions{},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return &hubStore{Store: store}, nil
}

// StaticCredentials returns a read-only store holding one
// username and password for host.
func StaticCredentials(host, username, password string) credentials.Store {
	return &staticStore{
		host: serverHost(host),
		cred: auth.Credential{
			Username: username,
			Password: password,
		},
	}
}

type staticStore struct {
	host string
	cred auth.Credential
}

func (s *staticStore) Get(
	_ context.Context,
	server string,
) (auth.Credential, error) {
	host := serverHost(server)

	if host == s.host || (isHub(host) && isHub(s.host)) {
		return s.cred, nil
	}

	return auth.EmptyCredential, nil
}

func (*staticStore) Put(
	context.Context, string, auth.Credential,
) error {
	return errReadOnlyStore
}

func (*staticStore) Delete(context.Context, string) error {
	return errReadOnlyStore
}

// hubStore retries empty Docker Hub lookups under the
// other Docker Hub names.
type hubStore struct {
	credentials.Store
}

func (s *hubStore) Get(
	ctx context.Context,
	server string,
) (auth.Credential, error) {
	cred, err := s.Store.Get(ctx, server)
	if (err == nil && cred != auth.EmptyCredential) ||
		!isHub(serverHost(server)) {
		return cred, err
	}

	for _, alt := range dockerHubHosts {
		if alt == server {
			continue
		}

		altCred, altErr := s.Store.Get(ctx, alt)
		if altErr == nil && altCred != auth.EmptyCredential {
			return altCred, nil
		}
	}

	return cred, err
}

// serverHost strips the scheme and path of a server
// address, keeping any port.
func serverHost(server string) string {
	server = strings.TrimPrefix(server, "https://")
	server = strings.TrimPrefix(server, "http://")
	host, _, _ := strings.Cut(server, "/")

	return host
}

func isHub(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}

	switch host {
	case "docker.io", "index.docker.io", "registry-1.docker.io":
		return true
	default:
		return false
	}
}
