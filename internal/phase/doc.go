// Package phase models one instance of the five-stage interaction pipeline:
//
//	{host}: local action -> {host}: data transmission -> cloud: processing
//	  -> {resolver}: rendering -> {resolver}: done
//
// A Phase wraps an fsm.Machine parameterised by which device plays host and
// which plays resolver for this action, and records when each stage was
// entered and left. The instant of a transition is both the end of the old
// stage and the start of the new one.
package phase
