// Package digestfile writes and collects digest record files. A digest
// record holds the content address of one platform image pushed by
// digest, as a single "sha256:<hex>" line. Record file names are
// rendered from a {tag}/{platform} template so that each tag and
// platform combination gets its own file; Collect gathers and validates
// every record found under a directory.
package digestfile
