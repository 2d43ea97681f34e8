package ociindex

import "oras.land/oras-go/v2/registry/remote/credentials"

func HubStoreForTest(store credentials.Store) credentials.Store {
	return &hubStore{Store: store}
}
