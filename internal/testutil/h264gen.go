// Package testutil produces H.264 access units for tests that exercise the
// GStreamer chain.
package testutil

import (
	"fmt"
	"testing"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// EncodeTestPattern encodes n frames of videotestsrc into Annex-B access
// units, one unit per frame, without B-frames.
func EncodeTestPattern(n, width, height int) ([][]byte, error) {
	gst.Init(nil)

	desc := fmt.Sprintf(
		"videotestsrc num-buffers=%d pattern=ball ! "+
			"video/x-raw,width=%d,height=%d,framerate=30/1 ! "+
			"x264enc tune=zerolatency speed-preset=ultrafast key-int-max=30 bframes=0 ! "+
			"video/x-h264,stream-format=byte-stream,alignment=au ! "+
			"appsink name=au-sink sync=false",
		n, width, height,
	)

	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return nil, fmt.Errorf("build encoder pipeline: %w", err)
	}
	defer pipeline.SetState(gst.StateNull)

	elem, err := pipeline.GetElementByName("au-sink")
	if err != nil {
		return nil, fmt.Errorf("find au-sink: %w", err)
	}
	sink := app.SinkFromElement(elem)

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("start encoder pipeline: %w", err)
	}

	units := make([][]byte, 0, n)
	for len(units) < n {
		sample := sink.PullSample()
		if sample == nil {
			break
		}
		buffer := sample.GetBuffer()
		if buffer == nil {
			continue
		}
		mapInfo := buffer.Map(gst.MapRead)
		data := mapInfo.Bytes()
		unit := make([]byte, len(data))
		copy(unit, data)
		buffer.Unmap()
		units = append(units, unit)
	}

	if len(units) == 0 {
		return nil, fmt.Errorf("encoder produced no access units")
	}
	return units, nil
}

// RequireTestPattern is EncodeTestPattern that skips the test when the
// runtime lacks the encoder elements.
func RequireTestPattern(t testing.TB, n, width, height int) [][]byte {
	t.Helper()
	units, err := EncodeTestPattern(n, width, height)
	if err != nil {
		t.Skipf("GStreamer H.264 encoder unavailable: %v", err)
	}
	return units
}
