package packet_test

import (
	"bytes"
	"testing"

	"github.com/hamba/avro/v2/ocf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transient-alerts/internal/packet"
	"transient-alerts/internal/packet/packettest"
)

func TestDecodeSinglePacket(t *testing.T) {
	alert := packettest.WithHistory(packettest.Alert("ZTF21aaaaaaa", 1001),
		packettest.Detection(2459999.5, 2, 18.9),
		packettest.NonDetection(2459999.8, 1, 20.1),
	)
	raw := packettest.Encode(t, alert)

	alerts, err := packet.NewDecoder().Decode(raw)
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	got := alerts[0]
	assert.Equal(t, "ZTF21aaaaaaa", got.ObjectID)
	assert.Equal(t, int64(1001), got.Candid)
	assert.Equal(t, int32(2), got.Candidate.Fid)
	assert.InDelta(t, 18.2, float64(got.Candidate.MagPSF), 1e-5)
	assert.True(t, got.Candidate.DiffPositive())
	require.NotNil(t, got.CutoutDifference)
	assert.Equal(t, "diff.fits.gz", got.CutoutDifference.FileName)

	history := got.History()
	require.Len(t, history, 2)
	assert.True(t, history[0].IsDetection())
	assert.False(t, history[0].IsNonDetection())
	assert.True(t, history[1].IsNonDetection())
	assert.False(t, history[1].IsDetection())
}

func TestDecodeBatchedContainer(t *testing.T) {
	raw := packettest.Encode(t,
		packettest.Alert("ZTF21aaaaaaa", 1),
		packettest.Alert("ZTF21aaaaaab", 2),
		packettest.Alert("ZTF21aaaaaac", 3),
	)

	alerts, err := packet.NewDecoder().Decode(raw)
	require.NoError(t, err)
	require.Len(t, alerts, 3)
	for i, a := range alerts {
		assert.Equal(t, int64(i+1), a.Candid)
		assert.Nil(t, a.History())
	}
}

func TestDecodeEmptyContainer(t *testing.T) {
	raw := packettest.Encode(t)

	alerts, err := packet.NewDecoder().Decode(raw)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for name, raw := range map[string][]byte{
		"empty":   nil,
		"garbage": []byte("definitely not a container"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := packet.NewDecoder().Decode(raw)
			require.Error(t, err)
			assert.True(t, packet.IsDecodeError(err))
		})
	}
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	alert := packettest.Alert("ZTF21aaaaaaa", 7)
	alert.SchemaVersion = "9.9"
	raw := packettest.Encode(t, alert)

	_, err := packet.NewDecoder().Decode(raw)
	require.Error(t, err)
	assert.True(t, packet.IsDecodeError(err))
	assert.Contains(t, err.Error(), "9.9")
}

func TestDecodeAcceptsConfiguredVersion(t *testing.T) {
	alert := packettest.Alert("ZTF21aaaaaaa", 7)
	alert.SchemaVersion = "3.4"
	raw := packettest.Encode(t, alert)

	alerts, err := packet.NewDecoder("3.3", "3.4").Decode(raw)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
}

func TestDecodeRejectsSchemaWithoutSections(t *testing.T) {
	const schema = `{
		"type": "record",
		"name": "alert",
		"namespace": "other.survey",
		"fields": [
			{"name": "schemavsn", "type": "string"},
			{"name": "objectId", "type": "string"},
			{"name": "candid", "type": "long"}
		]
	}`

	var buf bytes.Buffer
	enc, err := ocf.NewEncoder(schema, &buf)
	require.NoError(t, err)
	require.NoError(t, enc.Encode(map[string]any{"schemavsn": "3.3", "objectId": "x", "candid": int64(1)}))
	require.NoError(t, enc.Close())

	_, err = packet.NewDecoder().Decode(buf.Bytes())
	require.Error(t, err)
	assert.True(t, packet.IsDecodeError(err))
	assert.Contains(t, err.Error(), "candidate")
}

func TestParseDiffPos(t *testing.T) {
	cases := map[string]bool{"t": true, "1": true, "true": true, "T": true, "f": false, "0": false, "": false}
	for in, want := range cases {
		assert.Equal(t, want, packet.ParseDiffPos(in), "input %q", in)
	}
}
