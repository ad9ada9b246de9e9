// Package testutil builds moment timelines for tests.
package testutil

import (
	"time"

	"github.com/roach88/phasetrace/internal/moment"
)

// Epoch is the default start of built timelines.
var Epoch = time.Date(2023, 4, 7, 15, 16, 47, 0, time.UTC)

// Timeline accumulates moments at millisecond offsets from a start time.
//
// Example:
//
//	moments := testutil.NewTimeline(testutil.Epoch).
//		Host(0, moment.UserTouchesScreen).
//		Host(1, moment.AddStroke).
//		Moments()
type Timeline struct {
	start   time.Time
	moments []moment.Moment
}

// NewTimeline creates an empty timeline starting at start.
func NewTimeline(start time.Time) *Timeline {
	return &Timeline{start: start}
}

// At returns the absolute time of an offset in milliseconds.
func (b *Timeline) At(ms int) time.Time {
	return b.start.Add(time.Duration(ms) * time.Millisecond)
}

// Add appends a moment. meta is read as key, value pairs; a trailing odd
// key is ignored.
func (b *Timeline) Add(ms int, source moment.Role, name string, meta ...string) *Timeline {
	m := moment.Moment{
		Name:   name,
		Source: source,
		From:   source.String(),
		To:     source.String(),
		Time:   b.At(ms),
	}
	switch name {
	case moment.SendDataPktToCloud, moment.SendAckPktToCloud:
		m.To = moment.EndpointCloud
	case moment.ReceiveAckPktFromCloud, moment.ReceiveDataPktFromCloud:
		m.From = moment.EndpointCloud
	}
	if len(meta) >= 2 {
		m.Metadata = make(map[string]string, len(meta)/2)
		for i := 0; i+1 < len(meta); i += 2 {
			m.Metadata[meta[i]] = meta[i+1]
		}
	}
	b.moments = append(b.moments, m)
	return b
}

// Host appends a moment from the host device.
func (b *Timeline) Host(ms int, name string, meta ...string) *Timeline {
	return b.Add(ms, moment.RoleHost, name, meta...)
}

// Resolver appends a moment from the resolver device.
func (b *Timeline) Resolver(ms int, name string, meta ...string) *Timeline {
	return b.Add(ms, moment.RoleResolver, name, meta...)
}

// Moments returns a copy of the accumulated moments.
func (b *Timeline) Moments() []moment.Moment {
	out := make([]moment.Moment, len(b.moments))
	copy(out, b.moments)
	return out
}

// SinglePhase returns a gated host-initiated interaction that completes
// one phase: touch, stroke, upload, relay ack, remote download, render.
func SinglePhase() []moment.Moment {
	return NewTimeline(Epoch).
		Host(0, moment.UserTouchesScreen).
		Host(9, moment.AddStroke, moment.MetaStrokeID, "-NSSCsksd3t6Qrxa0fqY").
		Host(20, moment.SendDataPktToCloud, moment.MetaSrcIP, "10.0.0.2", moment.MetaDstIP, "142.250.1.1", moment.MetaType, "data", moment.MetaSize, "583").
		Host(65, moment.ReceiveAckPktFromCloud, moment.MetaSrcIP, "142.250.1.1", moment.MetaDstIP, "10.0.0.2", moment.MetaType, "ack", moment.MetaSize, "66").
		Resolver(130, moment.ReceiveDataPktFromCloud, moment.MetaSrcIP, "142.250.1.1", moment.MetaDstIP, "10.0.0.3", moment.MetaType, "data", moment.MetaSize, "412").
		Resolver(237, moment.FinishRendering).
		Moments()
}
