package jpegbridge

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Frame is one finished JPEG image handed to the FrameCallback.
type Frame struct {
	// Seq is the 1-based extraction sequence number
	Seq uint64
	// PTS is the presentation timestamp of the access unit the frame was decoded from
	PTS time.Duration
	// Data is a read-only view of the JPEG bytes, valid only for the duration
	// of the callback. Copy it to keep it.
	Data []byte
	// Width in pixels
	Width int
	// Height in pixels
	Height int
}

// FrameCallback receives every extracted frame together with the userData
// registered alongside it.
//
// It runs on a pipeline streaming thread, concurrently with PushBuffer
// calls. It must not block and must copy frame.Data if it keeps it.
type FrameCallback func(frame Frame, userData any)

// State is the pipeline lifecycle state.
type State int

const (
	StateNull State = iota
	StateReady
	StatePaused
	StatePlaying
	// StateError is absorbing: only Destroy is valid afterwards.
	StateError
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "NULL"
	case StateReady:
		return "READY"
	case StatePaused:
		return "PAUSED"
	case StatePlaying:
		return "PLAYING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Outcome records why Start returned.
type Outcome int

const (
	// OutcomeNone means Start has not returned yet.
	OutcomeNone Outcome = iota
	// OutcomeEOS means every pushed unit drained after EndStream.
	OutcomeEOS
	// OutcomeError means a stage failed fatally.
	OutcomeError
	// OutcomeCanceled means the context passed to Start was cancelled.
	OutcomeCanceled
	// OutcomeStopped means Destroy was called while Start was running.
	OutcomeStopped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeEOS:
		return "eos"
	case OutcomeError:
		return "error"
	case OutcomeCanceled:
		return "canceled"
	case OutcomeStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Resolution is a named output size. ResCustom uses Config.Width and
// Config.Height.
type Resolution int

const (
	ResCustom Resolution = iota
	Res480p
	Res720p
	Res1080p
	Res1440p
	Res2160p
)

// Dimensions returns the width and height for the resolution
func (r Resolution) Dimensions() (width, height int) {
	switch r {
	case Res480p:
		return 640, 480
	case Res720p:
		return 1280, 720
	case Res1080p:
		return 1920, 1080
	case Res1440p:
		return 2560, 1440
	case Res2160p:
		return 3840, 2160
	default:
		return 0, 0
	}
}

func (r Resolution) String() string {
	switch r {
	case Res480p:
		return "480p"
	case Res720p:
		return "720p"
	case Res1080p:
		return "1080p"
	case Res1440p:
		return "1440p"
	case Res2160p:
		return "2160p"
	default:
		return "custom"
	}
}

// ParseResolution parses a preset name such as "720p".
func ParseResolution(s string) (Resolution, error) {
	for r := ResCustom; r <= Res2160p; r++ {
		if strings.EqualFold(s, r.String()) {
			return r, nil
		}
	}
	return ResCustom, fmt.Errorf("unknown resolution %q", s)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *Resolution) UnmarshalYAML(value *yaml.Node) error {
	v, err := ParseResolution(value.Value)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Fraction is a frame rate as Num/Den frames per second.
type Fraction struct {
	Num int
	Den int
}

// ParseFraction accepts "30", "30/1" or "30000/1001".
func ParseFraction(s string) (Fraction, error) {
	numStr, denStr, hasDen := strings.Cut(strings.TrimSpace(s), "/")
	num, err := strconv.Atoi(numStr)
	if err != nil {
		return Fraction{}, fmt.Errorf("invalid frame rate %q: %w", s, err)
	}
	den := 1
	if hasDen {
		den, err = strconv.Atoi(denStr)
		if err != nil {
			return Fraction{}, fmt.Errorf("invalid frame rate %q: %w", s, err)
		}
	}
	if num <= 0 || den <= 0 {
		return Fraction{}, fmt.Errorf("invalid frame rate %q: must be positive", s)
	}
	return Fraction{Num: num, Den: den}, nil
}

// Interval returns the fixed per-frame timestamp step.
func (f Fraction) Interval() time.Duration {
	if f.Num <= 0 || f.Den <= 0 {
		return 0
	}
	return time.Duration(int64(time.Second) * int64(f.Den) / int64(f.Num))
}

// FPS returns the frame rate as a float.
func (f Fraction) FPS() float64 {
	if f.Den == 0 {
		return 0
	}
	return float64(f.Num) / float64(f.Den)
}

func (f Fraction) String() string {
	return fmt.Sprintf("%d/%d", f.Num, f.Den)
}

// Set implements flag.Value.
func (f *Fraction) Set(s string) error {
	v, err := ParseFraction(s)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (f *Fraction) UnmarshalYAML(value *yaml.Node) error {
	return f.Set(value.Value)
}

// Aspect selects how the source aspect ratio is mapped onto the output size.
type Aspect int

const (
	// AspectStretch scales to the output size, distorting if needed.
	AspectStretch Aspect = iota
	// AspectLetterbox preserves the source aspect ratio and pads with
	// black borders.
	AspectLetterbox
)

func (a Aspect) String() string {
	switch a {
	case AspectStretch:
		return "stretch"
	case AspectLetterbox:
		return "letterbox"
	default:
		return "unknown"
	}
}

// ParseAspect parses "stretch" or "letterbox".
func ParseAspect(s string) (Aspect, error) {
	switch strings.ToLower(s) {
	case "stretch":
		return AspectStretch, nil
	case "letterbox":
		return AspectLetterbox, nil
	default:
		return AspectStretch, fmt.Errorf("unknown aspect mode %q", s)
	}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Aspect) UnmarshalYAML(value *yaml.Node) error {
	v, err := ParseAspect(value.Value)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// ScaleMethod is the scaler's interpolation method. Values match the
// videoscale method enum.
type ScaleMethod int

const (
	ScaleNearest  ScaleMethod = 0
	ScaleBilinear ScaleMethod = 1
	ScaleLanczos  ScaleMethod = 3
	// ScaleBicubic is videoscale's Catmull-Rom cubic filter
	ScaleBicubic ScaleMethod = 8
)

func (m ScaleMethod) String() string {
	switch m {
	case ScaleNearest:
		return "nearest"
	case ScaleBilinear:
		return "bilinear"
	case ScaleBicubic:
		return "bicubic"
	case ScaleLanczos:
		return "lanczos"
	default:
		return "unknown"
	}
}

// ParseScaleMethod parses a method name such as "bilinear".
func ParseScaleMethod(s string) (ScaleMethod, error) {
	for _, m := range []ScaleMethod{ScaleNearest, ScaleBilinear, ScaleBicubic, ScaleLanczos} {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return ScaleBilinear, fmt.Errorf("unknown scale method %q", s)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *ScaleMethod) UnmarshalYAML(value *yaml.Node) error {
	v, err := ParseScaleMethod(value.Value)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// HardwareAccel selects the decoder implementation.
type HardwareAccel int

const (
	// AccelAuto tries VAAPI and falls back to software decode
	AccelAuto HardwareAccel = iota
	// AccelSoftware forces CPU decode
	AccelSoftware
	// AccelVAAPI forces VAAPI decode; construction fails without it
	AccelVAAPI
)

func (a HardwareAccel) String() string {
	switch a {
	case AccelAuto:
		return "auto"
	case AccelSoftware:
		return "software"
	case AccelVAAPI:
		return "vaapi"
	default:
		return "unknown"
	}
}

// decoders returns decoder factories in preference order.
func (a HardwareAccel) decoders() []string {
	switch a {
	case AccelSoftware:
		return []string{"avdec_h264"}
	case AccelVAAPI:
		return []string{"vaapih264dec"}
	default:
		return []string{"vaapih264dec", "avdec_h264"}
	}
}

// ParseHardwareAccel parses "auto", "software" or "vaapi".
func ParseHardwareAccel(s string) (HardwareAccel, error) {
	for _, a := range []HardwareAccel{AccelAuto, AccelSoftware, AccelVAAPI} {
		if strings.EqualFold(s, a.String()) {
			return a, nil
		}
	}
	return AccelAuto, fmt.Errorf("unknown acceleration %q", s)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *HardwareAccel) UnmarshalYAML(value *yaml.Node) error {
	v, err := ParseHardwareAccel(value.Value)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
