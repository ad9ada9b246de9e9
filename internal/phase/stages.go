package phase

import (
	"github.com/roach88/phasetrace/internal/fsm"
	"github.com/roach88/phasetrace/internal/moment"
)

// Stage suffixes. Full stage names are "{role}: {suffix}" except the cloud
// stage, which is shared by both roles.
const (
	suffixLocalAction      = "local action"
	suffixDataTransmission = "data transmission"
	suffixRendering        = "rendering"
	suffixDone             = "done"

	// StageCloudProcessing is the relay-side stage name.
	StageCloudProcessing = "cloud: processing"
)

// Stage indexes into the pipeline.
const (
	IndexLocalAction = iota
	IndexDataTransmission
	IndexCloudProcessing
	IndexRendering
	IndexDone
)

// StageLocalAction names the first stage for the given host role.
func StageLocalAction(host moment.Role) string {
	return moment.EventKey(host, suffixLocalAction)
}

// StageDataTransmission names the upload stage for the given host role.
func StageDataTransmission(host moment.Role) string {
	return moment.EventKey(host, suffixDataTransmission)
}

// StageRendering names the remote rendering stage for the given resolver role.
func StageRendering(resolver moment.Role) string {
	return moment.EventKey(resolver, suffixRendering)
}

// StageDone names the terminal state for the given resolver role.
func StageDone(resolver moment.Role) string {
	return moment.EventKey(resolver, suffixDone)
}

// IsTerminalStage reports whether a stage name is a terminal "…: done" entry.
func IsTerminalStage(name string) bool {
	n := len(suffixDone) + 2
	return len(name) >= n && name[len(name)-n:] == ": "+suffixDone
}

// StageNames returns the five state names in pipeline order.
func StageNames(host, resolver moment.Role) []string {
	return []string{
		StageLocalAction(host),
		StageDataTransmission(host),
		StageCloudProcessing,
		StageRendering(resolver),
		StageDone(resolver),
	}
}

// transitions builds the event table for the given roles.
//
// From local action, repeated touches and point additions loop until the
// first upload. From data transmission the resolver may observe the
// relay's forwarded data before the host sees its own ack, so that edge
// skips cloud processing.
func transitions(host, resolver moment.Role) fsm.Transitions {
	return fsm.Transitions{
		IndexLocalAction: {
			moment.EventKey(host, moment.UserTouchesScreen):  IndexLocalAction,
			moment.EventKey(host, moment.AddPointsToStroke):  IndexLocalAction,
			moment.EventKey(host, moment.SendDataPktToCloud): IndexDataTransmission,
		},
		IndexDataTransmission: {
			moment.EventKey(host, moment.ReceiveAckPktFromCloud):      IndexCloudProcessing,
			moment.EventKey(resolver, moment.ReceiveDataPktFromCloud): IndexRendering,
		},
		IndexCloudProcessing: {
			moment.EventKey(resolver, moment.ReceiveDataPktFromCloud): IndexRendering,
		},
		IndexRendering: {
			moment.EventKey(resolver, moment.FinishRendering): IndexDone,
		},
	}
}
