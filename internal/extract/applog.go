package extract

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/roach88/phasetrace/internal/moment"
)

// LogOptions controls how application log lines are interpreted.
type LogOptions struct {
	// Year completes the "MM-DD" logcat date. Required.
	Year int

	// Location is the time zone the device logged in. Default: time.Local.
	Location *time.Location
}

// logRule maps a message prefix to a moment name. A rule with a role
// applies only to that device's log.
type logRule struct {
	role     moment.Role
	prefix   *regexp.Regexp
	name     string
	strokeID bool
}

var (
	messagePattern   = regexp.MustCompile(`^.*?ar_activity:\s(.*)$`)
	timestampPattern = regexp.MustCompile(`^.*?(\d{2}-\d{2})\s(\d{2}:\d{2}:\d{2}\.\d{3})`)
	strokeIDEquals   = regexp.MustCompile(`^.*id=([-\w]+)`)
	strokeIDColon    = regexp.MustCompile(`^.*id:\s([-\w]+)`)
)

// logRules is evaluated in order; the first rule for the log's role that
// matches wins. Both devices run the same app, but a child callback means
// something different on each side: the host hears that the relay stored
// its own stroke, the resolver receives someone else's points.
var logRules = []logRule{
	{prefix: Prefix(`\[\[1a start\] touch screen`), name: moment.UserTouchesScreen},
	{prefix: Prefix(`stroke \(id: .*?\) was added at`), name: moment.AddStroke, strokeID: true},
	{prefix: Prefix(`send stroke to firebase`), name: moment.AddPointsToStroke},
	{role: moment.RoleHost, prefix: Prefix(`\[\[2a end - 2d start\] onChildChanged`), name: moment.NotifiedCloudProcessingDone, strokeID: true},
	{role: moment.RoleResolver, prefix: Prefix(`\[\[2a end - 2d start\] onChild(?:Added|Changed)`), name: moment.ReceivePointUpdates, strokeID: true},
	{prefix: Prefix(`\[\[2d\] after update`), name: moment.FinishRendering},
}

const logTimeLayout = "2006-01-02 15:04:05.000"

// Prefix compiles expr into a pattern anchored at the start of a log
// message. Panics on an invalid expression.
func Prefix(expr string) *regexp.Regexp {
	return regexp.MustCompile(`^(?:` + expr + `)`)
}

// Message returns the text after the "ar_activity: " tag.
func Message(line string) (string, bool) {
	m := messagePattern.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// HasPrefix reports whether the line's ar_activity message starts with a
// match of prefix (see Prefix).
func HasPrefix(line string, prefix *regexp.Regexp) bool {
	msg, ok := Message(line)
	if !ok {
		return false
	}
	return prefix.MatchString(msg)
}

// ExtractTimestamp parses the leading "MM-DD HH:MM:SS.mmm" logcat time.
func ExtractTimestamp(line string, year int, loc *time.Location) (time.Time, error) {
	m := timestampPattern.FindStringSubmatch(line)
	if m == nil {
		return time.Time{}, fmt.Errorf("no logcat timestamp in %q", line)
	}
	if loc == nil {
		loc = time.Local
	}
	ts, err := time.ParseInLocation(logTimeLayout, fmt.Sprintf("%04d-%s %s", year, m[1], m[2]), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse logcat timestamp: %w", err)
	}
	return ts, nil
}

// ExtractStrokeID returns the stroke id written as "id=X" or "id: X".
// The last "id=" occurrence wins over any "id:".
func ExtractStrokeID(line string) (string, bool) {
	if m := strokeIDEquals.FindStringSubmatch(line); m != nil {
		return m[1], true
	}
	if m := strokeIDColon.FindStringSubmatch(line); m != nil {
		return m[1], true
	}
	return "", false
}

// ParseAppLog reads a logcat capture and returns its moments in file
// order, all attributed to role.
//
// Lines that match no rule are skipped. A matching line without a valid
// timestamp is an error.
func ParseAppLog(r io.Reader, role moment.Role, opts LogOptions) ([]moment.Moment, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("applog: invalid role %q", role)
	}
	if opts.Year <= 0 {
		return nil, fmt.Errorf("applog: year must be positive, got %d", opts.Year)
	}

	var moments []moment.Moment
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")

		msg, ok := Message(line)
		if !ok {
			continue
		}
		rule, ok := matchRule(role, msg)
		if !ok {
			continue
		}

		ts, err := ExtractTimestamp(line, opts.Year, opts.Location)
		if err != nil {
			return nil, fmt.Errorf("applog: line %d: %w", lineNo, err)
		}

		m := moment.Moment{
			Name:   rule.name,
			Source: role,
			From:   role.String(),
			To:     role.String(),
			Time:   ts,
		}
		if rule.strokeID {
			if id, ok := ExtractStrokeID(line); ok {
				m.Metadata = map[string]string{moment.MetaStrokeID: id}
			}
		}
		moments = append(moments, m)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("applog: read: %w", err)
	}
	return moments, nil
}

func matchRule(role moment.Role, msg string) (logRule, bool) {
	for _, rule := range logRules {
		if rule.role != "" && rule.role != role {
			continue
		}
		if rule.prefix.MatchString(msg) {
			return rule, true
		}
	}
	return logRule{}, false
}
