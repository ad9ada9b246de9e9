package moment

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainMoment prefixes moment identity hashes. The version suffix allows
// the algorithm to change without colliding with stored IDs.
const DomainMoment = "phasetrace/moment/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ID computes the content-addressed identity of a moment. Two moments with
// the same source, name, endpoints, instant and metadata share an ID.
func (m Moment) ID() (string, error) {
	obj := map[string]any{
		"name":    m.Name,
		"source":  string(m.Source),
		"from":    m.From,
		"to":      m.To,
		"time_ns": m.Time.UnixNano(),
	}
	if len(m.Metadata) > 0 {
		meta := make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			meta[k] = v
		}
		obj["metadata"] = meta
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("moment ID: %w", err)
	}
	return hashWithDomain(DomainMoment, canonical), nil
}
