// Package orchestrator replicates one release from a source to every destination.
//
// A run gathers the release and all of its assets first; a failed fetch ends the run
// before any destination is contacted. Destinations then run concurrently and fully
// independently, each walking CreatingRelease, UploadingAssets, Finalizing and Done,
// and each resolving to its own DestinationResult. Within a destination the asset
// failure policy decides whether the first failed asset cancels its siblings.
package orchestrator
