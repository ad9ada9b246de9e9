// Package report renders a scanned run into the files analysts consume:
// the merged timeline, per-phase stage timings, a sequence diagram script,
// the upload packet series, and a latency summary.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/phasetrace/internal/engine"
	"github.com/roach88/phasetrace/internal/moment"
	"github.com/roach88/phasetrace/internal/phase"
)

// TimeLayout formats every timestamp in the reports.
const TimeLayout = "2006-01-02 15:04:05.000000"

// NaN marks a duration that cannot be computed.
const NaN = "NaN"

// File names written by WriteAll.
const (
	TimelineFile    = "timeline.csv"
	PhasesFile      = "phases.csv"
	SequencesFile   = "sequences.txt"
	SendPacketsFile = "send_pkt_sequences.csv"
	SummaryFile     = "summary.csv"

	// TrafficFile is written by WriteTrafficFile.
	TrafficFile = "traffic.csv"
)

// FormatTime renders t with TimeLayout, or "" for the zero time.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(TimeLayout)
}

// FormatMillis renders a span's duration in whole milliseconds, or NaN
// when the span is open. Halves round to even.
func FormatMillis(s phase.Span) string {
	d, ok := s.Duration()
	if !ok {
		return NaN
	}
	return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', 0, 64)
}

// WriteTimeline writes one CSV row per moment:
// time,source,name,from,to,metadata (json).
func WriteTimeline(w io.Writer, moments []moment.Moment) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "source", "name", "from", "to", "metadata (json)"}); err != nil {
		return fmt.Errorf("write timeline: %w", err)
	}
	for i, m := range moments {
		meta := m.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		data, err := moment.MarshalCanonical(meta)
		if err != nil {
			return fmt.Errorf("write timeline: moment %d: %w", i, err)
		}
		if err := cw.Write([]string{FormatTime(m.Time), m.Source.String(), m.Name, m.From, m.To, string(data)}); err != nil {
			return fmt.Errorf("write timeline: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WritePhases writes each phase's stages in pipeline order, labelled
// "phase N" by completion order, followed by a "phase N (e2e)" row after
// the rendering stage.
func WritePhases(w io.Writer, outputs []phase.Output) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"phase", "state", "duration", "start_time", "end_time"}); err != nil {
		return fmt.Errorf("write phases: %w", err)
	}
	for i, out := range outputs {
		label := fmt.Sprintf("phase %d", i+1)
		for _, st := range out.Stages {
			if err := cw.Write(spanRow(label, st.Name, st.Span)); err != nil {
				return fmt.Errorf("write phases: %w", err)
			}
			if !isRendering(st.Name) {
				continue
			}
			e2e, ok := out.EndToEnd()
			if !ok {
				e2e = phase.Span{Start: out.Stages[0].Start}
			}
			if err := cw.Write(spanRow(label+" (e2e)", "e2e", e2e)); err != nil {
				return fmt.Errorf("write phases: %w", err)
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func spanRow(label, state string, s phase.Span) []string {
	return []string{label, state, FormatMillis(s), FormatTime(s.Start), FormatTime(s.End)}
}

func isRendering(stage string) bool {
	return strings.HasSuffix(stage, ": rendering")
}

// WriteSequences writes one "from->to: name" line per moment, with a
// dashed arrow for messages leaving the relay.
func WriteSequences(w io.Writer, moments []moment.Moment) error {
	for _, m := range moments {
		arrow := "->"
		if m.From == moment.EndpointCloud {
			arrow = "-->"
		}
		if _, err := fmt.Fprintf(w, "%s%s%s: %s\n", m.From, arrow, m.To, m.Name); err != nil {
			return fmt.Errorf("write sequences: %w", err)
		}
	}
	return nil
}

// WriteSendPackets writes the host's upload packets after the start gate:
// time,pkt_size,src_ip,dst_ip. Nothing but the header is written when the
// gate never opens.
func WriteSendPackets(w io.Writer, moments []moment.Moment) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "pkt_size", "src_ip", "dst_ip"}); err != nil {
		return fmt.Errorf("write send packets: %w", err)
	}

	if _, open, ok := engine.FindGate(moments); ok {
		for _, m := range moments[open+1:] {
			if m.Source != moment.RoleHost || m.Name != moment.SendDataPktToCloud {
				continue
			}
			row := []string{FormatTime(m.Time), m.Meta(moment.MetaSize), m.Meta(moment.MetaSrcIP), m.Meta(moment.MetaDstIP)}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("write send packets: %w", err)
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
