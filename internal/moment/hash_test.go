package moment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMoment() Moment {
	return Moment{
		Name:   SendDataPktToCloud,
		Source: RoleHost,
		From:   "host",
		To:     EndpointCloud,
		Time:   time.Date(2023, 4, 7, 15, 16, 47, 171000000, time.UTC),
		Metadata: map[string]string{
			MetaSize:  "512",
			MetaSrcIP: "10.0.0.2",
		},
	}
}

func TestMomentIDDeterministic(t *testing.T) {
	m := sampleMoment()

	id1, err := m.ID()
	require.NoError(t, err)
	id2, err := m.ID()
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 64)
}

func TestMomentIDIgnoresLocation(t *testing.T) {
	m := sampleMoment()
	other := m
	other.Time = m.Time.In(time.FixedZone("UTC+8", 8*3600))

	id1, err := m.ID()
	require.NoError(t, err)
	id2, err := other.ID()
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "same instant in another zone must hash identically")
}

func TestMomentIDSensitiveToFields(t *testing.T) {
	base := sampleMoment()
	baseID, err := base.ID()
	require.NoError(t, err)

	variants := map[string]func(m *Moment){
		"name":     func(m *Moment) { m.Name = ReceiveAckPktFromCloud },
		"source":   func(m *Moment) { m.Source = RoleResolver },
		"time":     func(m *Moment) { m.Time = m.Time.Add(time.Millisecond) },
		"metadata": func(m *Moment) { m.Metadata = map[string]string{MetaSize: "513"} },
	}

	for name, mutate := range variants {
		t.Run(name, func(t *testing.T) {
			m := sampleMoment()
			mutate(&m)
			id, err := m.ID()
			require.NoError(t, err)
			assert.NotEqual(t, baseID, id)
		})
	}
}

func TestHashWithDomainSeparation(t *testing.T) {
	data := []byte(`{"a":1}`)
	assert.NotEqual(t, hashWithDomain("a/v1", data), hashWithDomain("b/v1", data))
}
