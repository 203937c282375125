// Package mixedreality keeps a local mirror of real-world entities reported
// by an external tracker (an AR SDK) and tells observers when that mirror
// changes.
//
// Responsibilities: mirror entity types (planes, anchors, augmented
// images), the per-entity tracking state machine, listener capability
// interfaces, and the error taxonomy shared by the sub-packages.
// Key types: Plane, Anchor, AugmentedImage, HitResult.
//
// Sub-packages, leaf to root:
//
//	pose       tracker-space to local-space conversion
//	tracker    external tracker boundary (handles, snapshots, backend)
//	fanout     ordered copy-on-write listener lists
//	registry   handle to mirror maps
//	reconcile  per-frame synchronization engine
//	session    resume/pause gating and the application-facing API
//
// Dependency rule: this package may depend on pose and tracker only.
package mixedreality
