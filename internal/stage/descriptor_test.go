package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams() Params {
	return Params{
		Width:            1920,
		Height:           1080,
		ScaleMethod:      1,
		JPEGQuality:      85,
		Decoders:         []string{"avdec_h264"},
		DecoderMaxErrors: -1,
		MaxQueueBytes:    4 << 20,
		SinkMaxBuffers:   2,
	}
}

func TestTopologyIsValid(t *testing.T) {
	descs := Topology(testParams())
	require.NoError(t, ValidateChain(descs))

	kinds := make([]Kind, len(descs))
	for i, d := range descs {
		kinds[i] = d.Kind
	}
	assert.Equal(t, order, kinds)
}

func TestTopologyPinsOutputResolution(t *testing.T) {
	p := testParams()
	p.Width, p.Height = 1280, 720

	var scale Descriptor
	for _, d := range Topology(p) {
		if d.Kind == KindScale {
			scale = d
		}
	}
	assert.Equal(t, "1280", scale.FilterCaps.Fields["width"])
	assert.Equal(t, "720", scale.FilterCaps.Fields["height"])
	assert.Equal(t, "1/1", scale.FilterCaps.Fields["pixel-aspect-ratio"])
}

func TestValidateChain(t *testing.T) {
	t.Run("missing stage", func(t *testing.T) {
		descs := Topology(testParams())
		err := ValidateChain(append(descs[:2:2], descs[3:]...))
		assert.ErrorIs(t, err, ErrInvalidTopology)
	})

	t.Run("reordered stages", func(t *testing.T) {
		descs := Topology(testParams())
		descs[3], descs[4] = descs[4], descs[3]
		assert.ErrorIs(t, ValidateChain(descs), ErrInvalidTopology)
	})

	t.Run("duplicate names", func(t *testing.T) {
		descs := Topology(testParams())
		descs[1].Name = descs[0].Name
		assert.ErrorIs(t, ValidateChain(descs), ErrInvalidTopology)
	})

	t.Run("no decoder factory", func(t *testing.T) {
		p := testParams()
		p.Decoders = nil
		assert.ErrorIs(t, ValidateChain(Topology(p)), ErrInvalidTopology)
	})

	t.Run("incompatible boundary", func(t *testing.T) {
		descs := Topology(testParams())
		descs[0].SrcCaps = MustParseCaps("video/x-h264,stream-format=avc,alignment=au")
		err := ValidateChain(descs)
		assert.ErrorIs(t, err, ErrCapsNegotiation)
		assert.Contains(t, err.Error(), "h264-source")
	})

	t.Run("encoder output not jpeg", func(t *testing.T) {
		descs := Topology(testParams())
		descs[5].SrcCaps = MustParseCaps("image/png")
		assert.ErrorIs(t, ValidateChain(descs), ErrCapsNegotiation)
	})
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "decode", KindDecode.String())
	assert.Equal(t, "unknown", Kind(42).String())
}
