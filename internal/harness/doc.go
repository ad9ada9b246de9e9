// Package harness runs timeline scenarios against the scanner.
//
// A scenario is a YAML file listing moments at millisecond offsets from a
// start time, plus assertions on the phases the scan produces:
//
//	name: race
//	description: "relay forwards before the host sees its ack"
//	start: "2023-04-07T15:16:47Z"
//	moments:
//	  - {at: 0,   source: host,     name: user touches screen}
//	  - {at: 9,   source: host,     name: add a stroke}
//	  - {at: 20,  source: host,     name: send data pkt to cloud}
//	  - {at: 130, source: resolver, name: receive data pkt from cloud}
//	  - {at: 237, source: resolver, name: finish rendering}
//	assertions:
//	  - {type: phase_count, count: 1}
//	  - {type: stage, phase: 1, stage: "cloud: processing", start: 130, end: 130}
//	  - {type: e2e, phase: 1, duration: 237}
//
// # Assertion Types
//
//   - phase_count: number of emitted phases
//   - stage: a stage of phase N (1-based, completion order) with optional
//     start, end and duration in ms; open: true expects no end
//   - no_stage: phase N has no entry for the stage
//   - e2e: end-to-end duration of phase N in ms
//   - unfinished: number of phases still in flight at the end
//   - counters: any of ignored, consumed, spawned, dropped
//
// A scenario may instead set expect_error to a scanner error code; the
// scan must then fail with that code and assertions are skipped.
//
// # Golden Files
//
// RunWithGolden renders the emitted phases as the phases CSV and compares
// it with testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
