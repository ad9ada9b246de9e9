// Package pipeline turns the raw files of one experiment run into a
// scanned timeline.
//
// A run is two devices, each with an application log and a packet capture.
// The host log and the resolver log bound the end-to-end window; the
// host capture is classified first because the relay address is learned
// from its first upload, and the resolver capture is then filtered to
// that address.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/phasetrace/internal/config"
	"github.com/roach88/phasetrace/internal/engine"
	"github.com/roach88/phasetrace/internal/extract"
	"github.com/roach88/phasetrace/internal/moment"
	"github.com/roach88/phasetrace/internal/timeline"
)

var (
	// ErrEmptyLog is returned when a device log yields no moments.
	ErrEmptyLog = errors.New("log has no recognised lines")

	// ErrNoCloudIP is returned when the host capture has no upload to
	// learn the relay address from.
	ErrNoCloudIP = errors.New("cannot infer cloud ip from host capture")
)

// RunInput names the four files of one run.
type RunInput struct {
	HostLog         string
	HostCapture     string
	ResolverLog     string
	ResolverCapture string

	// Traffic also labels the packets outside the drawing flow: every TCP
	// data and ack packet in the window not touching the relay, limited
	// to TrafficIPs when that is non-empty.
	Traffic    bool
	TrafficIPs []string
}

// InputFromDirs builds a RunInput from the two device directories using
// the file names in cfg.
func InputFromDirs(hostDir, resolverDir string, cfg *config.Config) RunInput {
	return RunInput{
		HostLog:         filepath.Join(hostDir, cfg.AppLog),
		HostCapture:     filepath.Join(hostDir, cfg.Capture),
		ResolverLog:     filepath.Join(resolverDir, cfg.AppLog),
		ResolverCapture: filepath.Join(resolverDir, cfg.Capture),
	}
}

// RunOutput is everything derived from one run.
type RunOutput struct {
	Sources timeline.Sources
	Moments []moment.Moment
	Result  *engine.Result

	// Traffic is the time-ordered background traffic of both devices,
	// set only when RunInput.Traffic is.
	Traffic []moment.Moment

	PhoneIP  string
	CloudIP  string
	Start    time.Time
	End      time.Time
	Duration time.Duration
}

// Run extracts, assembles and scans one run.
func Run(ctx context.Context, in RunInput, cfg *config.Config) (*RunOutput, error) {
	started := time.Now()

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	logOpts := extract.LogOptions{Year: cfg.Year, Location: loc}

	hostLog, err := parseLog(in.HostLog, moment.RoleHost, logOpts)
	if err != nil {
		return nil, err
	}
	resolverLog, err := parseLog(in.ResolverLog, moment.RoleResolver, logOpts)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := hostLog[0].Time
	end := resolverLog[len(resolverLog)-1].Time
	slog.Debug("e2e window", "start", start, "end", end)

	hostPkts, err := readPackets(in.HostCapture, start, end)
	if err != nil {
		return nil, err
	}
	hostCap, err := classify(in.HostCapture, hostPkts, moment.RoleHost, extract.CaptureOptions{
		MinDataPktSize: cfg.MinDataPktSize,
	})
	if err != nil {
		return nil, err
	}
	if hostCap.CloudIP == "" {
		return nil, fmt.Errorf("%s: %w", in.HostCapture, ErrNoCloudIP)
	}
	resolverPkts, err := readPackets(in.ResolverCapture, start, end)
	if err != nil {
		return nil, err
	}
	resolverCap, err := classify(in.ResolverCapture, resolverPkts, moment.RoleResolver, extract.CaptureOptions{
		MinDataPktSize: cfg.MinDataPktSize,
		CloudIP:        hostCap.CloudIP,
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var traffic []moment.Moment
	if in.Traffic {
		opts := trafficOptions(in.TrafficIPs, hostCap.CloudIP, cfg.MinDataPktSize)
		traffic = timeline.Assemble(
			extract.ClassifyTraffic(hostPkts, moment.RoleHost, opts),
			extract.ClassifyTraffic(resolverPkts, moment.RoleResolver, opts),
		)
	}

	sources := timeline.Sources{
		HostLog:         hostLog,
		ResolverLog:     resolverLog,
		HostCapture:     hostCap.Moments,
		ResolverCapture: resolverCap.Moments,
	}
	moments := sources.Merge()

	result, err := engine.Scan(moments)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	out := &RunOutput{
		Sources:  sources,
		Moments:  moments,
		Result:   result,
		Traffic:  traffic,
		PhoneIP:  hostCap.PhoneIP,
		CloudIP:  hostCap.CloudIP,
		Start:    start,
		End:      end,
		Duration: time.Since(started),
	}
	slog.Info("run analysed",
		"host_log", in.HostLog,
		"moments", len(moments),
		"phases", len(result.Phases),
		"cloud_ip", out.CloudIP,
		"duration", out.Duration,
	)
	return out, nil
}

func parseLog(path string, role moment.Role, opts extract.LogOptions) ([]moment.Moment, error) {
	var moments []moment.Moment
	err := withFile(path, func(r io.Reader) error {
		var err error
		moments, err = extract.ParseAppLog(r, role, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(moments) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyLog)
	}
	return moments, nil
}

// readPackets loads a capture and cuts it to the end-to-end window.
func readPackets(path string, start, end time.Time) ([]extract.Packet, error) {
	var pkts []extract.Packet
	err := withFile(path, func(r io.Reader) error {
		var err error
		pkts, err = extract.ReadPackets(r)
		return err
	})
	if err != nil {
		return nil, err
	}
	return timeline.Window(pkts, func(p extract.Packet) time.Time { return p.Time }, start, end), nil
}

func classify(path string, pkts []extract.Packet, role moment.Role, opts extract.CaptureOptions) (*extract.Capture, error) {
	c, err := extract.ClassifyCapture(pkts, role, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func trafficOptions(include []string, cloudIP string, minSize int) extract.TrafficOptions {
	opts := extract.TrafficOptions{
		MinDataPktSize: minSize,
		Exclude:        map[string]struct{}{cloudIP: {}},
	}
	if len(include) > 0 {
		opts.Include = make(map[string]struct{}, len(include))
		for _, ip := range include {
			opts.Include[ip] = struct{}{}
		}
	}
	return opts
}

func withFile(path string, fn func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if err := fn(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
