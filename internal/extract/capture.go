package extract

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/phasetrace/internal/moment"
)

// DefaultMinDataPktSize is the payload length a TLS application-data
// packet must exceed to count as a drawing upload or download.
const DefaultMinDataPktSize = 100

// captureHeader is the column layout of exported packet records.
var captureHeader = []string{"time", "src", "dst", "length", "tcp", "ack", "push", "app_data"}

// Packet is one captured frame.
type Packet struct {
	Time    time.Time
	Src     string
	Dst     string
	Length  int
	TCP     bool
	Ack     bool
	Push    bool
	AppData bool
}

// IsData reports whether p carries TLS application data longer than
// minSize bytes. minSize <= 0 disables the length check.
func (p Packet) IsData(minSize int) bool {
	if !p.AppData {
		return false
	}
	return minSize <= 0 || p.Length > minSize
}

// IsAck reports whether p is a bare TCP acknowledgement.
func (p Packet) IsAck() bool {
	return p.TCP && p.Ack && !p.Push
}

// Touches reports whether ip is either endpoint of p.
func (p Packet) Touches(ip string) bool {
	return p.Src == ip || p.Dst == ip
}

// ReadPackets parses packet records. The first row must be the header
// "time,src,dst,length,tcp,ack,push,app_data"; time is epoch seconds with
// an optional fraction. Packets are returned stable-sorted by time.
func ReadPackets(r io.Reader) ([]Packet, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(captureHeader)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("capture: empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("capture: read header: %w", err)
	}
	for i, col := range captureHeader {
		if strings.TrimSpace(header[i]) != col {
			return nil, fmt.Errorf("capture: column %d is %q, want %q", i+1, header[i], col)
		}
	}

	var pkts []Packet
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("capture: %w", err)
		}
		line, _ := cr.FieldPos(0)
		p, err := parsePacket(rec)
		if err != nil {
			return nil, fmt.Errorf("capture: line %d: %w", line, err)
		}
		pkts = append(pkts, p)
	}
	slices.SortStableFunc(pkts, func(a, b Packet) int {
		return a.Time.Compare(b.Time)
	})
	return pkts, nil
}

func parsePacket(rec []string) (Packet, error) {
	ts, err := parseEpoch(rec[0])
	if err != nil {
		return Packet{}, err
	}
	length, err := strconv.Atoi(rec[3])
	if err != nil {
		return Packet{}, fmt.Errorf("length: %w", err)
	}

	flags := make([]bool, 4)
	for i, field := range rec[4:8] {
		v, err := strconv.ParseBool(field)
		if err != nil {
			return Packet{}, fmt.Errorf("%s: %w", captureHeader[4+i], err)
		}
		flags[i] = v
	}

	return Packet{
		Time:    ts,
		Src:     rec[1],
		Dst:     rec[2],
		Length:  length,
		TCP:     flags[0],
		Ack:     flags[1],
		Push:    flags[2],
		AppData: flags[3],
	}, nil
}

// parseEpoch parses "seconds[.fraction]" without going through float64,
// so microsecond capture stamps survive exactly.
func parseEpoch(s string) (time.Time, error) {
	secPart, fracPart, _ := strings.Cut(s, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("time %q: %w", s, err)
	}

	var nsec int64
	if fracPart != "" {
		if len(fracPart) > 9 {
			fracPart = fracPart[:9]
		}
		frac, err := strconv.ParseInt(fracPart, 10, 64)
		if err != nil || frac < 0 {
			return time.Time{}, fmt.Errorf("time %q: bad fraction", s)
		}
		for i := len(fracPart); i < 9; i++ {
			frac *= 10
		}
		nsec = frac
	}
	return time.Unix(sec, nsec), nil
}

// CaptureOptions selects and labels the packets of one device.
type CaptureOptions struct {
	// MinDataPktSize overrides DefaultMinDataPktSize when positive.
	MinDataPktSize int

	// CloudIP is the relay address learned from the other device. When
	// empty, the device is treated as the uploader and the phone and
	// relay addresses are inferred from its first application-data packet.
	CloudIP string
}

func (o CaptureOptions) minSize() int {
	if o.MinDataPktSize > 0 {
		return o.MinDataPktSize
	}
	return DefaultMinDataPktSize
}

// Capture is the classified view of one device's packets.
type Capture struct {
	Moments []moment.Moment

	// IPs holds every address seen on a selected packet.
	IPs map[string]struct{}

	PhoneIP string
	CloudIP string
}

// ClassifyCapture converts a device's packets into pipeline moments.
//
// pkts are expected to be cut to the experiment window already.
//
// Without CloudIP (uploader view): packets are limited to TCP; the first application-data packet fixes phone and relay addresses;
// uploads, relay acks and downloads between those two are emitted.
//
// With CloudIP (downloader view): packets are further limited to those
// touching the relay; data packets become downloads and bare acks become
// acks sent to the relay, regardless of direction.
func ClassifyCapture(pkts []Packet, role moment.Role, opts CaptureOptions) (*Capture, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("capture: invalid role %q", role)
	}

	selected := make([]Packet, 0, len(pkts))
	for _, p := range pkts {
		if !p.TCP {
			continue
		}
		if opts.CloudIP != "" && !p.Touches(opts.CloudIP) {
			continue
		}
		selected = append(selected, p)
	}

	c := &Capture{IPs: make(map[string]struct{})}
	for _, p := range selected {
		c.IPs[p.Src] = struct{}{}
		c.IPs[p.Dst] = struct{}{}
	}

	if opts.CloudIP == "" {
		classifyUploader(c, selected, role, opts.minSize())
	} else {
		classifyDownloader(c, selected, role, opts.CloudIP, opts.minSize())
	}
	return c, nil
}

func classifyUploader(c *Capture, pkts []Packet, role moment.Role, minSize int) {
	for _, p := range pkts {
		if p.IsData(0) {
			c.PhoneIP, c.CloudIP = p.Src, p.Dst
			break
		}
	}
	if c.CloudIP == "" {
		return
	}

	for _, p := range pkts {
		up := p.Src == c.PhoneIP && p.Dst == c.CloudIP
		down := p.Src == c.CloudIP && p.Dst == c.PhoneIP
		switch {
		case up && p.IsData(minSize):
			c.Moments = append(c.Moments, packetMoment(p, role, moment.SendDataPktToCloud, "data", role.String(), moment.EndpointCloud))
		case down && p.IsAck():
			c.Moments = append(c.Moments, packetMoment(p, role, moment.ReceiveAckPktFromCloud, "ack", moment.EndpointCloud, role.String()))
		case down && p.IsData(minSize):
			c.Moments = append(c.Moments, packetMoment(p, role, moment.ReceiveDataPktFromCloud, "data", moment.EndpointCloud, role.String()))
		}
	}
}

func classifyDownloader(c *Capture, pkts []Packet, role moment.Role, cloudIP string, minSize int) {
	c.CloudIP = cloudIP
	for _, p := range pkts {
		if p.Src == cloudIP && p.IsData(0) {
			c.PhoneIP = p.Dst
			break
		}
	}

	for _, p := range pkts {
		switch {
		case p.IsData(minSize):
			c.Moments = append(c.Moments, packetMoment(p, role, moment.ReceiveDataPktFromCloud, "data", moment.EndpointCloud, role.String()))
		case p.IsAck():
			c.Moments = append(c.Moments, packetMoment(p, role, moment.SendAckPktToCloud, "ack", role.String(), moment.EndpointCloud))
		}
	}
}

// TrafficOptions selects packets for an address-level view.
type TrafficOptions struct {
	MinDataPktSize int

	// Include keeps only packets with an endpoint in the set, if non-empty.
	Include map[string]struct{}

	// Exclude drops packets with an endpoint in the set.
	Exclude map[string]struct{}
}

// ClassifyTraffic labels every TCP data and ack packet without any
// phone/relay inference. From and To carry the raw addresses. Used to
// inspect background traffic next to the drawing flow.
func ClassifyTraffic(pkts []Packet, role moment.Role, opts TrafficOptions) []moment.Moment {
	minSize := CaptureOptions{MinDataPktSize: opts.MinDataPktSize}.minSize()

	var moments []moment.Moment
	for _, p := range pkts {
		if !p.TCP {
			continue
		}
		if hasEndpoint(opts.Exclude, p) {
			continue
		}
		if len(opts.Include) > 0 && !hasEndpoint(opts.Include, p) {
			continue
		}
		switch {
		case p.IsData(minSize):
			moments = append(moments, packetMoment(p, role, moment.TCPDataPkt, "data", p.Src, p.Dst))
		case p.IsAck():
			moments = append(moments, packetMoment(p, role, moment.TCPAckPkt, "ack", p.Src, p.Dst))
		}
	}
	return moments
}

func hasEndpoint(set map[string]struct{}, p Packet) bool {
	if _, ok := set[p.Src]; ok {
		return true
	}
	_, ok := set[p.Dst]
	return ok
}

func packetMoment(p Packet, role moment.Role, name, kind, from, to string) moment.Moment {
	return moment.Moment{
		Name:   name,
		Source: role,
		From:   from,
		To:     to,
		Time:   p.Time,
		Metadata: map[string]string{
			moment.MetaSrcIP: p.Src,
			moment.MetaDstIP: p.Dst,
			moment.MetaType:  kind,
			moment.MetaSize:  strconv.Itoa(p.Length),
		},
	}
}
