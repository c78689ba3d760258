package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bluenviron/gortsplib/v5"
	"github.com/bluenviron/gortsplib/v5/pkg/base"
	"github.com/bluenviron/gortsplib/v5/pkg/format"
	"github.com/bluenviron/gortsplib/v5/pkg/format/rtph264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pion/rtp"

	"github.com/e7canasta/orion-care-sensor/modules/jpeg-bridge/internal/metrics"
	"github.com/e7canasta/orion-care-sensor/modules/jpeg-bridge/internal/reconnect"
)

// ErrNoH264 is returned when the stream has no H.264 media.
var ErrNoH264 = errors.New("source: stream has no H.264 media")

// RTSPSource reads the H.264 media of an RTSP stream and pushes one
// Annex-B access unit per decoded RTP frame. Sessions that drop are
// re-established with exponential backoff.
type RTSPSource struct {
	URL       string
	Reconnect reconnect.Config
	Logger    *slog.Logger

	state  reconnect.State
	units  atomic.Uint64
	failed atomic.Uint64
}

// Name implements Source.
func (s *RTSPSource) Name() string {
	return "rtsp:" + s.URL
}

// Units returns how many access units were pushed and how many the sink
// rejected.
func (s *RTSPSource) Units() (pushed, rejected uint64) {
	return s.units.Load(), s.failed.Load()
}

// Reconnects returns the number of failed session attempts so far.
func (s *RTSPSource) Reconnects() uint32 {
	return s.state.Reconnects.Load()
}

// Run implements Source. It only returns when ctx is done, the URL is
// unusable, the sink stops accepting units, or the retry budget is spent.
func (s *RTSPSource) Run(ctx context.Context, sink Sink) error {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}

	u, err := base.ParseURL(s.URL)
	if err != nil {
		return fmt.Errorf("source: parse RTSP URL: %w", err)
	}

	return reconnect.Run(ctx, s.Logger, func(ctx context.Context) error {
		err := s.session(ctx, u, sink)
		if err != nil && ctx.Err() == nil {
			metrics.IncSourceReconnect(s.Name())
		}
		return err
	}, s.Reconnect, &s.state)
}

// session runs one RTSP session until it fails or ctx is done.
func (s *RTSPSource) session(ctx context.Context, u *base.URL, sink Sink) error {
	c := gortsplib.Client{
		Scheme: u.Scheme,
		Host:   u.Host,
	}
	if err := c.Start(); err != nil {
		return fmt.Errorf("source: connect: %w", err)
	}
	closeClient := sync.OnceFunc(func() { c.Close() })
	defer closeClient()

	desc, _, err := c.Describe(u)
	if err != nil {
		return fmt.Errorf("source: describe: %w", err)
	}

	var forma *format.H264
	medi := desc.FindFormat(&forma)
	if medi == nil {
		return reconnect.Permanent(ErrNoH264)
	}

	rtpDec, err := forma.CreateDecoder()
	if err != nil {
		return reconnect.Permanent(fmt.Errorf("source: H.264 RTP decoder: %w", err))
	}

	if _, err := c.Setup(desc.BaseURL, medi, 0, 0); err != nil {
		return fmt.Errorf("source: setup: %w", err)
	}

	sinkErr := make(chan error, 1)
	c.OnPacketRTP(medi, forma, func(pkt *rtp.Packet) {
		au, err := rtpDec.Decode(pkt)
		if err != nil {
			if !errors.Is(err, rtph264.ErrNonStartingPacketAndNoPrevious) &&
				!errors.Is(err, rtph264.ErrMorePacketsNeeded) {
				s.Logger.Debug("source: RTP decode failed", "error", err)
			}
			return
		}

		unit, err := annexB(au, forma)
		if err != nil {
			s.Logger.Debug("source: dropping access unit", "error", err)
			return
		}

		if err := sink.PushBuffer(unit); err != nil {
			s.failed.Add(1)
			if fatal(err) {
				select {
				case sinkErr <- err:
				default:
				}
			}
			return
		}
		s.units.Add(1)
	})

	if _, err := c.Play(nil); err != nil {
		return fmt.Errorf("source: play: %w", err)
	}

	s.state.Reset()
	s.Logger.Info("source: RTSP session playing", "url", s.URL, "reconnects", s.state.Reconnects.Load())

	waitErr := make(chan error, 1)
	go func() { waitErr <- c.Wait() }()

	select {
	case <-ctx.Done():
		closeClient()
		<-waitErr
		return ctx.Err()
	case err := <-sinkErr:
		closeClient()
		<-waitErr
		return reconnect.Permanent(fmt.Errorf("source: sink closed: %w", err))
	case err := <-waitErr:
		return fmt.Errorf("source: session ended: %w", err)
	}
}

// annexB turns the NAL units of one RTP access unit into an Annex-B
// buffer. IDR units without in-band parameter sets get the SPS and PPS
// from the session description prepended, so the decoder can start on
// them.
func annexB(au [][]byte, forma *format.H264) ([]byte, error) {
	if len(au) == 0 {
		return nil, errors.New("empty access unit")
	}

	var hasIDR, hasSPS, hasPPS bool
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeIDR:
			hasIDR = true
		case h264.NALUTypeSPS:
			hasSPS = true
		case h264.NALUTypePPS:
			hasPPS = true
		}
	}

	if hasIDR {
		sps, pps := forma.SafeParams()
		var prefix [][]byte
		if !hasSPS && sps != nil {
			prefix = append(prefix, sps)
		}
		if !hasPPS && pps != nil {
			prefix = append(prefix, pps)
		}
		if len(prefix) > 0 {
			au = append(prefix, au...)
		}
	}

	return h264.AnnexB(au).Marshal()
}
