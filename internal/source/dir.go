package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	unitPrefix = "frame_"
	unitSuffix = ".h264"

	// busyRetryDelay paces retries when no Interval is set
	busyRetryDelay = 10 * time.Millisecond
)

// DirSource replays frame_N.h264 files from a directory in numeric order,
// one access unit per file, paced at Interval.
type DirSource struct {
	Dir      string
	Interval time.Duration
	Logger   *slog.Logger
}

// Name implements Source.
func (d *DirSource) Name() string {
	return "dir:" + d.Dir
}

// ListUnits returns the access unit files in dir sorted by frame number.
// Names that do not match frame_<N>.h264 are ignored.
func ListUnits(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("source: read dir: %w", err)
	}

	type unitFile struct {
		num  int
		path string
	}
	var files []unitFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, unitPrefix) || !strings.HasSuffix(name, unitSuffix) {
			continue
		}
		num, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, unitPrefix), unitSuffix))
		if err != nil || num < 0 {
			continue
		}
		files = append(files, unitFile{num: num, path: filepath.Join(dir, name)})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].num < files[j].num })

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

// Run implements Source. It returns nil once every file was pushed.
func (d *DirSource) Run(ctx context.Context, sink Sink) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	paths, err := ListUnits(d.Dir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("source: no %s<N>%s files in %s", unitPrefix, unitSuffix, d.Dir)
	}
	logger.Info("source: replaying access units", "dir", d.Dir, "units", len(paths), "interval", d.Interval)

	var tick <-chan time.Time
	if d.Interval > 0 {
		ticker := time.NewTicker(d.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	pushed, dropped := 0, 0
	for i, attempts := 0, 0; i < len(paths); attempts++ {
		if attempts > 0 && tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		data, err := os.ReadFile(paths[i])
		if err != nil {
			return fmt.Errorf("source: read unit: %w", err)
		}

		err = sink.PushBuffer(data)
		switch {
		case err == nil:
			pushed++
		case retryable(err):
			logger.Debug("source: pipeline busy, retrying unit", "file", paths[i])
			if tick == nil {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(busyRetryDelay):
				}
			}
			continue
		case fatal(err):
			return fmt.Errorf("source: push %s: %w", filepath.Base(paths[i]), err)
		default:
			dropped++
			logger.Warn("source: unit rejected", "file", filepath.Base(paths[i]), "error", err)
		}
		i++
	}

	logger.Info("source: replay complete", "pushed", pushed, "rejected", dropped)
	return nil
}
