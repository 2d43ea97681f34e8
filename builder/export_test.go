package builder

// ArtifactNameForTest exposes artifactName.
var ArtifactNameForTest = artifactName
