// Package h264au inspects H.264 Annex-B access units before they enter the
// stage chain, so malformed units are dropped at ingest instead of reaching
// the decoder.
package h264au

import (
	"errors"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// ErrMalformed wraps every reason a unit is rejected.
var ErrMalformed = errors.New("malformed access unit")

// Unit is an inspected access unit.
type Unit struct {
	NALUs  [][]byte
	Types  []h264.NALUType
	HasIDR bool
	HasSPS bool
	HasPPS bool
	// Width and Height come from the SPS, when the unit carries one that
	// parses. SPSErr holds the parse failure otherwise; the unit is still
	// passed on and the parser stage decides.
	Width  int
	Height int
	SPSErr error
}

// RandomAccess reports whether decoding can start at this unit.
func (u Unit) RandomAccess() bool {
	return u.HasIDR || u.HasSPS
}

// Inspect splits data into NAL units and validates their headers.
//
// Only structural faults are rejected: empty input, missing start code,
// zero-length NAL units, forbidden_zero_bit set, and NAL types 0 and
// 24..31 (not valid in a byte stream). There is no limit on the number of
// NAL units or the unit size.
func Inspect(data []byte) (Unit, error) {
	if len(data) == 0 {
		return Unit{}, fmt.Errorf("%w: empty", ErrMalformed)
	}

	au, err := split(data)
	if err != nil {
		return Unit{}, err
	}

	u := Unit{
		NALUs: au,
		Types: make([]h264.NALUType, 0, len(au)),
	}

	for i, nalu := range au {
		if nalu[0]&0x80 != 0 {
			return Unit{}, fmt.Errorf("%w: NAL unit %d has forbidden_zero_bit set", ErrMalformed, i)
		}

		typ := h264.NALUType(nalu[0] & 0x1F)
		if typ == 0 || typ >= 24 {
			return Unit{}, fmt.Errorf("%w: NAL unit %d has invalid type %d", ErrMalformed, i, typ)
		}
		u.Types = append(u.Types, typ)

		switch typ {
		case h264.NALUTypeIDR:
			u.HasIDR = true

		case h264.NALUTypeSPS:
			u.HasSPS = true
			var sps h264.SPS
			if err := sps.Unmarshal(nalu); err != nil {
				u.SPSErr = err
				continue
			}
			u.Width = sps.Width()
			u.Height = sps.Height()

		case h264.NALUTypePPS:
			u.HasPPS = true
		}
	}

	return u, nil
}

// split cuts an Annex-B byte stream at its 3- and 4-byte start codes.
// Trailing zero bytes before a start code belong to the start code.
func split(data []byte) ([][]byte, error) {
	i := 0
	for i < len(data) && data[i] == 0 {
		i++
	}
	if i < 2 || i >= len(data) || data[i] != 1 {
		return nil, fmt.Errorf("%w: missing start code", ErrMalformed)
	}

	var nalus [][]byte
	start := i + 1
	zeros := 0
	for j := start; j < len(data); j++ {
		switch {
		case data[j] == 0:
			zeros++
		case data[j] == 1 && zeros >= 2:
			end := j - zeros
			if end <= start {
				return nil, fmt.Errorf("%w: NAL unit %d is empty", ErrMalformed, len(nalus))
			}
			nalus = append(nalus, data[start:end])
			start = j + 1
			zeros = 0
		default:
			zeros = 0
		}
	}

	end := len(data)
	for end > start && data[end-1] == 0 {
		end--
	}
	if end <= start {
		return nil, fmt.Errorf("%w: NAL unit %d is empty", ErrMalformed, len(nalus))
	}
	return append(nalus, data[start:end]), nil
}
