// Package media defines the narrow contracts looma-sync consumes from
// external media collaborators: object storage with audio probing, and
// speech-to-text transcription.
//
// DiskStore is the built-in BlobStore for development and tests; real
// deployments inject object-storage and transcoding clients that satisfy
// the same interfaces.
package media
