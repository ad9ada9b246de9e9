// Package moment defines the timestamped events consumed by the phase
// reconstruction engine.
//
// A Moment is produced once by an extractor (application log parser or
// capture classifier), never mutated afterwards, and only read by the
// engine. This package imports nothing internal so every other package can
// depend on it.
//
// Key constraints:
//   - Source is always one of the two device roles (host, resolver)
//   - The engine keys transitions on Event(), i.e. "{source}: {name}"
//   - Metadata is opaque to the engine; only writers and the store read it
//   - Identity (ID) is content-addressed over canonical JSON, so the same
//     moment extracted twice is stored once
package moment
