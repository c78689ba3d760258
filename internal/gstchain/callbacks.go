package gstchain

import (
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// onNewSample is the appsink completion hook. It runs on the sink's
// streaming thread.
//
// A sample that cannot be pulled or mapped is skipped: one bad frame must
// not stop the chain.
func (c *Chain) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		c.logger.Warn("jpeg-bridge: failed to pull sample from sink, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		c.logger.Warn("jpeg-bridge: sample has no buffer, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		c.logger.Warn("jpeg-bridge: failed to map buffer, skipping frame")
		return gst.FlowOK
	}
	defer buffer.Unmap()

	data := mapInfo.Bytes()
	if len(data) == 0 {
		c.logger.Warn("jpeg-bridge: empty buffer received")
		return gst.FlowOK
	}

	if c.hooks.OnSample != nil {
		c.hooks.OnSample(data, buffer.PresentationTimestamp())
	}
	return gst.FlowOK
}

func (c *Chain) onNeedData() {
	if c.enough.Swap(false) {
		c.logger.Debug("jpeg-bridge: ingest queue drained, accepting buffers")
	}
}

func (c *Chain) onEnoughData() {
	if !c.enough.Swap(true) {
		c.logger.Debug("jpeg-bridge: ingest queue full, refusing buffers")
	}
}

// addEncodeProbe counts buffers leaving the encoder so frames dropped by
// the sink can be derived.
func (c *Chain) addEncodeProbe(encoder *gst.Element) error {
	srcPad := encoder.GetStaticPad("src")
	if srcPad == nil {
		return errNoSrcPad
	}

	srcPad.AddProbe(gst.PadProbeTypeBuffer, func(_ *gst.Pad, _ *gst.PadProbeInfo) gst.PadProbeReturn {
		if c.hooks.OnEncoded != nil {
			c.hooks.OnEncoded()
		}
		return gst.PadProbeOK
	})
	return nil
}
