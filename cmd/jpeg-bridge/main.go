package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	jpegbridge "github.com/e7canasta/orion-care-sensor/modules/jpeg-bridge"
	"github.com/e7canasta/orion-care-sensor/modules/jpeg-bridge/framebus"
	"github.com/e7canasta/orion-care-sensor/modules/jpeg-bridge/internal/reconnect"
	"github.com/e7canasta/orion-care-sensor/modules/jpeg-bridge/internal/source"
)

const version = "v0.1.0"

// minJPEGSize rejects frames too small to be a real image
const minJPEGSize = 100

func main() {
	configPath := flag.String("config", "", "YAML configuration file (optional)")
	rtspURL := flag.String("rtsp", "", "RTSP stream URL")
	inputDir := flag.String("input", "", "Directory of frame_N.h264 access units")
	outputDir := flag.String("out", "output_jpegs", "Directory to write frame_NNNN.jpg files")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	var fps jpegbridge.Fraction
	flag.Var(&fps, "fps", "Override input frame rate (e.g. 30 or 30000/1001)")
	statsInterval := flag.Duration("stats-interval", 10*time.Second, "Interval between stats reports (0 disables)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("jpeg-bridge %s\n", version)
		os.Exit(0)
	}

	if (*rtspURL == "") == (*inputDir == "") {
		fmt.Fprintf(os.Stderr, "Error: exactly one of -rtsp or -input is required\n\n")
		fmt.Fprintf(os.Stderr, "Usage example:\n")
		fmt.Fprintf(os.Stderr, "  jpeg-bridge -input ./h264 -out ./output_jpegs\n")
		fmt.Fprintf(os.Stderr, "  jpeg-bridge -rtsp rtsp://192.168.1.100/stream -config bridge.yaml -metrics-addr :9090\n\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg := jpegbridge.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = jpegbridge.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if fps.Num > 0 {
		cfg.FrameRate = fps
	}
	cfg.Logger = logger

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	pipeline, err := jpegbridge.Create(cfg)
	if err != nil {
		log.Fatalf("Failed to create pipeline: %v", err)
	}
	defer pipeline.Destroy()

	width, height := cfg.Dimensions()
	fmt.Printf("\n")
	fmt.Printf("jpeg-bridge %s\n", version)
	fmt.Printf("Configuration:\n")
	fmt.Printf("  Pipeline:      %s\n", pipeline.Name())
	if *rtspURL != "" {
		fmt.Printf("  RTSP URL:      %s\n", *rtspURL)
	} else {
		fmt.Printf("  Input Dir:     %s\n", *inputDir)
	}
	fmt.Printf("  Output:        %dx%d JPEG q%d (%s, %s)\n", width, height, cfg.JPEGQuality, cfg.Aspect, cfg.ScaleMethod)
	fmt.Printf("  Frame Rate:    %s\n", cfg.FrameRate)
	fmt.Printf("  Decoder:       %s\n", cfg.Acceleration)
	fmt.Printf("  Output Dir:    %s\n", *outputDir)
	fmt.Printf("\n")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var metricsServer *http.Server
	if *metricsAddr != "" {
		metricsServer = serveMetrics(*metricsAddr)
	}

	bus := framebus.New()
	writerCh := make(chan jpegbridge.Frame, 16)
	if err := bus.Subscribe("writer", writerCh); err != nil {
		log.Fatalf("Failed to subscribe frame writer: %v", err)
	}
	pipeline.SetFrameCallback(bus.Callback, nil)

	var (
		wg          sync.WaitGroup
		framesSaved int
		saveErrors  int
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for frame := range writerCh {
			if err := saveFrame(*outputDir, frame); err != nil {
				slog.Error("Failed to save frame", "error", err, "seq", frame.Seq)
				saveErrors++
				continue
			}
			framesSaved++
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range pipeline.Events() {
			switch ev.Type {
			case jpegbridge.EventError:
				slog.Error("Pipeline error", "source", ev.Source, "category", ev.Category, "message", ev.Message)
			case jpegbridge.EventWarning:
				slog.Warn("Pipeline warning", "source", ev.Source, "message", ev.Message)
			default:
				slog.Debug("Pipeline event", "type", ev.Type, "from", ev.From, "to", ev.To)
			}
		}
	}()

	src := newSource(*rtspURL, *inputDir, cfg, logger)
	go func() {
		err := src.Run(ctx, pipeline)
		switch {
		case err == nil:
			slog.Info("Source finished", "source", src.Name())
		case errors.Is(err, context.Canceled):
			return
		default:
			slog.Error("Source stopped", "source", src.Name(), "error", err)
		}
		if err := pipeline.EndStream(); err != nil {
			slog.Warn("Failed to signal end of stream", "error", err)
		}
	}()

	if *statsInterval > 0 {
		go reportStats(ctx, *statsInterval, pipeline, bus)
	}

	fmt.Printf("Converting access units... press Ctrl+C to stop\n\n")
	startErr := pipeline.Start(ctx)

	bus.Close()
	close(writerCh)

	final := pipeline.Stats()
	pipeline.Destroy()
	wg.Wait()

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	fmt.Printf("\n")
	fmt.Printf("Final Statistics\n")
	fmt.Printf("  Outcome:            %s\n", pipeline.Outcome())
	fmt.Printf("  Uptime:             %s\n", final.Uptime.Round(time.Millisecond))
	fmt.Printf("  Units Pushed:       %d\n", final.UnitsPushed)
	fmt.Printf("  Units Rejected:     %d empty, %d malformed, %d before keyframe\n",
		final.UnitsEmpty, final.UnitsMalformed, final.UnitsSkipped)
	fmt.Printf("  Frames Extracted:   %d\n", final.FramesExtracted)
	fmt.Printf("  Frames Dropped:     %d (%.1f%%)\n", final.FramesDropped, final.DropRate)
	fmt.Printf("  Frames Saved:       %d (%d failed)\n", framesSaved, saveErrors)
	fmt.Printf("  Output FPS:         %.2f fps\n", final.OutputFPS)
	fmt.Printf("  Latency:            %.1f ms mean, %.1f ms p95\n", final.LatencyMeanMS, final.LatencyP95MS)
	fmt.Printf("\n")

	if startErr != nil && !errors.Is(startErr, context.Canceled) {
		slog.Error("Pipeline failed", "error", startErr)
		os.Exit(1)
	}
	slog.Info("jpeg-bridge completed")
}

func newSource(rtspURL, inputDir string, cfg jpegbridge.Config, logger *slog.Logger) source.Source {
	if rtspURL != "" {
		rc := reconnect.DefaultConfig()
		rc.MaxRetries = -1
		return &source.RTSPSource{URL: rtspURL, Reconnect: rc, Logger: logger}
	}
	return &source.DirSource{Dir: inputDir, Interval: cfg.FrameRate.Interval(), Logger: logger}
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "addr", addr, "error", err)
		}
	}()
	slog.Info("Serving metrics", "addr", addr)
	return srv
}

func reportStats(ctx context.Context, interval time.Duration, p *jpegbridge.Pipeline, bus *framebus.Bus) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := p.Stats()
			b := bus.Stats()
			slog.Info("Pipeline stats",
				"state", s.State,
				"units_pushed", s.UnitsPushed,
				"frames_extracted", s.FramesExtracted,
				"frames_dropped", s.FramesDropped,
				"output_fps", fmt.Sprintf("%.2f", s.OutputFPS),
				"cadence_stable", s.CadenceStable,
				"latency_p95_ms", fmt.Sprintf("%.1f", s.LatencyP95MS),
				"bus_dropped", b.TotalDropped,
			)
		}
	}
}

// saveFrame writes one JPEG as frame_NNNN.jpg.
func saveFrame(dir string, frame jpegbridge.Frame) error {
	if len(frame.Data) < minJPEGSize {
		return fmt.Errorf("suspiciously small JPEG frame (%d bytes)", len(frame.Data))
	}
	name := filepath.Join(dir, fmt.Sprintf("frame_%04d.jpg", frame.Seq))
	if err := os.WriteFile(name, frame.Data, 0o644); err != nil {
		return fmt.Errorf("failed to save frame %d: %w", frame.Seq, err)
	}
	slog.Debug("Saved frame", "file", name, "bytes", len(frame.Data))
	return nil
}
