// Package jpegbridge turns a live H.264 elementary stream into JPEG still
// frames using GStreamer.
//
// A producer pushes Annex-B access units (for example the output of an
// RTSP client); a fixed chain of stages parses, decodes, converts, scales
// and JPEG-encodes them; each finished image is handed to a caller-supplied
// callback.
//
// # Quick Start
//
//	cfg := jpegbridge.DefaultConfig()
//	cfg.Resolution = jpegbridge.Res720p
//
//	p, err := jpegbridge.Create(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Destroy()
//
//	p.SetFrameCallback(func(f jpegbridge.Frame, _ any) {
//	    jpg := append([]byte(nil), f.Data...) // f.Data is only valid during the call
//	    out <- jpg
//	}, nil)
//
//	go func() {
//	    for au := range accessUnits {
//	        if err := p.PushBuffer(au); err != nil {
//	            log.Printf("push: %v", err)
//	        }
//	    }
//	    p.EndStream()
//	}()
//
//	if err := p.Start(ctx); err != nil {
//	    log.Printf("session ended: %v (outcome %s)", err, p.Outcome())
//	}
//
// # Stage Chain
//
// The topology is fixed at construction:
//
//	appsrc → h264parse → decoder → videoconvert → videoscale → capsfilter → jpegenc → appsink
//
// The decoder is vaapih264dec or avdec_h264 depending on Config.Acceleration.
// Caps between adjacent stages are checked before any element is created;
// an incompatible boundary fails Create with ErrCapsNegotiation.
//
// # Threads
//
// Three execution contexts interact:
//
//   - the producer calls PushBuffer from any goroutine; it never blocks on
//     decoding and returns ErrBackpressure instead of waiting
//   - Start runs the notification loop on the caller's goroutine until end
//     of stream, a fatal error, ctx cancellation or Destroy
//   - the FrameCallback runs on a GStreamer streaming thread, concurrently
//     with PushBuffer; it must not block and must copy what it keeps
//
// Consumers that prefer queue semantics can publish from the callback into
// a framebus.Bus and receive on their own goroutines.
//
// # Timestamps and Ordering
//
// Every non-empty PushBuffer call consumes one presentation timestamp; the
// clock advances by exactly one frame interval (Config.FrameRate) per call,
// so timestamps stay strictly increasing even when units are dropped.
// Frames reach the callback in push order; the sink may drop frames under
// load but never reorders or duplicates them. Drops are reported in Stats.
//
// # Errors
//
// Per-unit failures (ErrEmptyUnit, ErrMalformedUnit, ErrInjection,
// ErrBackpressure) never stop the pipeline. A fatal stage error moves the
// pipeline to StateError and Start returns a *StageError. Always call
// Destroy after Start returns; it is idempotent and nil-safe.
package jpegbridge
