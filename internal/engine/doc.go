// Package engine implements the phase reconstruction scanner.
//
// The scanner consumes one globally time-ordered sequence of moments
// (merged from both devices' application logs and packet captures) and
// groups them into possibly-overlapping instances of the five-stage
// interaction pipeline (see package phase).
//
// ARCHITECTURE:
//
// Single-Threaded Scan:
// One Scanner owns its in-flight queue and its result list for the length
// of one scan. Nothing is shared between scanners, so independent runs can
// be scanned in parallel with one Scanner each.
//
// Moment Processing Flow:
//  1. Moments before the gate are ignored. The gate opens on the first
//     "add a stroke" that follows a "user touches screen"; the touch that
//     armed the gate seeds the first phase.
//  2. The moment's event key "{source}: {name}" is offered to in-flight
//     phases oldest-first; the first phase that accepts it transits.
//  3. A phase reaching its terminal stage is emitted and removed from the
//     queue by identity.
//  4. An unclaimed touch or point addition spawns a new phase with the
//     moment's source as host. Anything else is dropped.
//
// CRITICAL PATTERNS:
//
// Deterministic Tie-Break:
// When several phases could accept the same event, the oldest wins.
// Phases are numbered by a logical Clock in creation order.
//
// Fail Fast:
// A timeline that goes backwards in time, or a phase that rejects an event
// it claimed to accept, aborts the scan with a *RuntimeError.
package engine
