// Package ociindex publishes multi-platform image indexes directly
// against an OCI registry with oras-go, as an alternative to shelling
// out to docker buildx imagetools.
//
// Create resolves every source digest, reads each image config to learn
// its platform, assembles one OCI image index over them and pushes it
// under the target tag. Inspect reads the index back.
package ociindex
