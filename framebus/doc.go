// Package framebus fans extracted JPEG frames out to multiple consumers
// without ever blocking the pipeline's streaming thread.
//
// The pipeline hands frames to a single FrameCallback that must return
// quickly. Register Bus.Callback as that callback and subscribe as many
// consumers as needed:
//
//	bus := framebus.New()
//	defer bus.Close()
//
//	writerCh := make(chan jpegbridge.Frame, 8)
//	bus.Subscribe("writer", writerCh)
//	preview, _ := bus.SubscribeLatest("preview")
//
//	pipeline.SetFrameCallback(bus.Callback, nil)
//
// # Drop Policies
//
// DropNew subscribers own a buffered channel. When it is full the incoming
// frame is dropped for that subscriber and counted.
//
// DropOld subscribers get a Receiver that only ever holds the newest frame.
// Publishing always succeeds; frames the receiver never picked up are
// counted as dropped when they are replaced.
//
// Either way Publish returns in microseconds, so a slow consumer costs
// frames, not latency.
//
// # Ownership
//
// Frame data delivered by the pipeline is only valid inside the callback.
// Callback copies it once and every subscriber shares that copy, which
// they must treat as read-only.
package framebus
