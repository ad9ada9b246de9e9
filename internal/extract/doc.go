// Package extract turns raw experiment artefacts into moments.
//
// Two sources are supported per device:
//   - Application logs (logcat text). Lines tagged "ar_activity:" are
//     matched against a fixed rule table; the first rule for the device's
//     role whose prefix matches the log message names the moment.
//   - Packet captures exported as CSV. Packets are read in time order and,
//     once cut to the experiment window by the caller, classified into
//     uploads, downloads and acks relative to the relay endpoint.
//
// Log moments keep file order; merging is done by package timeline.
package extract
