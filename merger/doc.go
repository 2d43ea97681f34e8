// Package merger collects the per-platform digest records written by
// the builder and publishes one multi-platform manifest list over them.
//
// Run reads every record under Config.DigestsDir, validates each digest
// locally, applies the duplicate policy, turns each record into an
// {image}@{digest} address and asks a Publisher to create the list tagged
// {image}:{tag} in a single call. The tag is then inspected and the
// report written to Config.Out. Nothing reaches the registry unless every
// record is valid.
package merger
