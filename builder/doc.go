// Package builder runs the per-platform half of a sharded image build.
//
// For each platform Run invokes a push-by-digest build, validates the
// digest the build reports and stores it in a digest record named after
// the tag and platform. The records are what the merger later turns
// into a manifest list. Several platforms share a bounded worker pool;
// CI runs pass one platform per job.
package builder
