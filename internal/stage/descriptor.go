// Package stage describes the fixed stage topology of the H.264 to JPEG chain
// and the caps contracts checked between adjacent stages before anything is
// instantiated.
package stage

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrCapsNegotiation is returned when two adjacent stages declare
	// incompatible caps.
	ErrCapsNegotiation = errors.New("jpeg-bridge: caps negotiation failed")
	// ErrInvalidTopology is returned when the stage list is not the fixed
	// ingest → parse → decode → convert → scale → encode → sink order.
	ErrInvalidTopology = errors.New("jpeg-bridge: invalid stage topology")
)

// Kind identifies the role of a stage in the chain.
type Kind int

const (
	KindIngest Kind = iota
	KindParse
	KindDecode
	KindConvert
	KindScale
	KindEncode
	KindSink
)

// order is the only topology the chain supports.
var order = []Kind{KindIngest, KindParse, KindDecode, KindConvert, KindScale, KindEncode, KindSink}

func (k Kind) String() string {
	switch k {
	case KindIngest:
		return "ingest"
	case KindParse:
		return "parse"
	case KindDecode:
		return "decode"
	case KindConvert:
		return "convert"
	case KindScale:
		return "scale"
	case KindEncode:
		return "encode"
	case KindSink:
		return "sink"
	default:
		return "unknown"
	}
}

// Descriptor is the construction-time configuration of one stage.
type Descriptor struct {
	Kind Kind
	// Name is the element name inside the pipeline (e.g. "h264-parser").
	Name string
	// Factories lists element factories in preference order; the first one
	// available in the runtime is used.
	Factories []string
	// Properties are applied to whichever factory is chosen. Properties a
	// factory does not know are skipped.
	Properties map[string]any
	// FactoryProperties are applied only when the keyed factory is chosen.
	FactoryProperties map[string]map[string]any
	// SinkCaps is what the stage accepts; SrcCaps is what it produces.
	SinkCaps Caps
	SrcCaps  Caps
	// FilterCaps, when set, pins the stage output with a capsfilter.
	FilterCaps Caps
}

// Params are the validated configuration values the topology depends on.
type Params struct {
	Width            int
	Height           int
	AddBorders       bool
	ScaleMethod      int
	JPEGQuality      int
	Decoders         []string
	DecoderMaxErrors int
	MaxQueueBytes    uint64
	SinkMaxBuffers   uint
}

// H264ByteStream is the caps every access unit entering the chain carries.
var H264ByteStream = MustParseCaps("video/x-h264,stream-format=byte-stream,alignment=au")

var (
	anyH264  = MustParseCaps("video/x-h264")
	rawVideo = MustParseCaps("video/x-raw")
	jpeg     = MustParseCaps("image/jpeg")
)

// Topology returns the descriptors of the fixed chain for p, in link order.
func Topology(p Params) []Descriptor {
	scaled := rawVideo.
		With("width", strconv.Itoa(p.Width)).
		With("height", strconv.Itoa(p.Height)).
		With("pixel-aspect-ratio", "1/1")

	return []Descriptor{
		{
			Kind:      KindIngest,
			Name:      "h264-source",
			Factories: []string{"appsrc"},
			Properties: map[string]any{
				"is-live":   true,
				"max-bytes": p.MaxQueueBytes,
				"block":     false,
			},
			SrcCaps: H264ByteStream,
		},
		{
			Kind:      KindParse,
			Name:      "h264-parser",
			Factories: []string{"h264parse"},
			Properties: map[string]any{
				"config-interval": -1,
			},
			SinkCaps: anyH264,
			SrcCaps:  H264ByteStream,
		},
		{
			Kind:      KindDecode,
			Name:      "h264-decoder",
			Factories: p.Decoders,
			Properties: map[string]any{
				"max-errors": p.DecoderMaxErrors,
			},
			FactoryProperties: map[string]map[string]any{
				"avdec_h264": {
					"max-threads":    0,
					"output-corrupt": false,
				},
				"vaapih264dec": {
					"low-latency": true,
				},
			},
			SinkCaps: anyH264,
			SrcCaps:  rawVideo,
		},
		{
			Kind:      KindConvert,
			Name:      "video-converter",
			Factories: []string{"videoconvert"},
			Properties: map[string]any{
				"n-threads": 0,
			},
			SinkCaps: rawVideo,
			SrcCaps:  rawVideo,
		},
		{
			Kind:      KindScale,
			Name:      "video-scaler",
			Factories: []string{"videoscale"},
			Properties: map[string]any{
				"add-borders": p.AddBorders,
				"method":      p.ScaleMethod,
			},
			SinkCaps:   rawVideo,
			SrcCaps:    scaled,
			FilterCaps: scaled,
		},
		{
			Kind:      KindEncode,
			Name:      "jpeg-encoder",
			Factories: []string{"jpegenc"},
			Properties: map[string]any{
				"quality": p.JPEGQuality,
			},
			SinkCaps: rawVideo,
			SrcCaps:  jpeg,
		},
		{
			Kind:      KindSink,
			Name:      "app-sink",
			Factories: []string{"appsink"},
			Properties: map[string]any{
				"sync":        false,
				"drop":        true,
				"max-buffers": p.SinkMaxBuffers,
			},
			SinkCaps: jpeg,
		},
	}
}

// ValidateChain checks that descs follow the fixed order and that every
// boundary links compatible caps.
func ValidateChain(descs []Descriptor) error {
	if len(descs) != len(order) {
		return fmt.Errorf("%w: expected %d stages, got %d", ErrInvalidTopology, len(order), len(descs))
	}

	names := make(map[string]struct{}, len(descs))
	for i, d := range descs {
		if d.Kind != order[i] {
			return fmt.Errorf("%w: stage %d is %s, expected %s", ErrInvalidTopology, i, d.Kind, order[i])
		}
		if d.Name == "" {
			return fmt.Errorf("%w: %s stage has no name", ErrInvalidTopology, d.Kind)
		}
		if _, dup := names[d.Name]; dup {
			return fmt.Errorf("%w: duplicate stage name %q", ErrInvalidTopology, d.Name)
		}
		names[d.Name] = struct{}{}
		if len(d.Factories) == 0 {
			return fmt.Errorf("%w: %s stage has no element factory", ErrInvalidTopology, d.Kind)
		}
	}

	for i := 0; i+1 < len(descs); i++ {
		up, down := descs[i], descs[i+1]
		if !up.SrcCaps.Compatible(down.SinkCaps) {
			return fmt.Errorf("%w: %s (%s) → %s (%s)",
				ErrCapsNegotiation, up.Name, up.SrcCaps, down.Name, down.SinkCaps)
		}
	}
	return nil
}
