// Package buildx drives docker buildx for push-by-digest builds and
// manifest list creation.
//
// Builder runs one single-platform build whose output is pushed by
// digest and reads the resulting digest from the build metadata file.
// Publisher creates a manifest list with "imagetools create" and reads
// it back with "imagetools inspect --raw". Both shell out through an
// exec.Runner, so a failing docker command surfaces with its own exit
// status.
package buildx
