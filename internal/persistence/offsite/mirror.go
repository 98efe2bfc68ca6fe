package offsite

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// MirrorOptions configures a Mirror. Zero values get sane defaults.
type MirrorOptions struct {
	// DataDir is the local root the galaxy writes under. Object keys are
	// the path of each file relative to it, under Prefix.
	DataDir string
	Prefix  string

	Workers     int
	QueueSize   int
	EnqueueWait time.Duration
}

// MirrorStats is a point-in-time snapshot of mirror counters.
type MirrorStats struct {
	QueueDepth     int
	QueueSize      int
	Enqueued       uint64
	QueueSaturated uint64
	Dropped        uint64
	Uploaded       uint64
	Failed         uint64
	LastUploadUnix int64
	LastErrorUnix  int64
}

// Mirror pushes local files to offsite storage from a bounded worker pool.
// Enqueue never blocks the tick loop for longer than EnqueueWait; when the
// queue stays full the file is dropped and counted.
type Mirror struct {
	client *Client
	opts   MirrorOptions
	log    zerolog.Logger

	jobs chan string
	wg   sync.WaitGroup

	enqueued       atomic.Uint64
	queueSaturated atomic.Uint64
	dropped        atomic.Uint64
	uploaded       atomic.Uint64
	failed         atomic.Uint64
	lastUploadUnix atomic.Int64
	lastErrorUnix  atomic.Int64
}

func NewMirror(client *Client, opts MirrorOptions, logger zerolog.Logger) *Mirror {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 2048
	}
	if opts.EnqueueWait <= 0 {
		opts.EnqueueWait = 25 * time.Millisecond
	}
	opts.Prefix = strings.Trim(strings.ReplaceAll(opts.Prefix, "\\", "/"), "/")

	m := &Mirror{
		client: client,
		opts:   opts,
		log:    logger,
		jobs:   make(chan string, opts.QueueSize),
	}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for localPath := range m.jobs {
				m.upload(localPath)
			}
		}()
	}
	return m
}

// Enqueue schedules localPath for upload. It waits at most EnqueueWait for
// queue room, then drops the file rather than stall the caller.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil || m.client == nil {
		return
	}
	m.enqueued.Add(1)

	select {
	case m.jobs <- localPath:
		return
	default:
	}

	m.queueSaturated.Add(1)
	timer := time.NewTimer(m.opts.EnqueueWait)
	defer timer.Stop()
	select {
	case m.jobs <- localPath:
	case <-timer.C:
		m.dropped.Add(1)
		m.log.Warn().
			Str("local", localPath).
			Int64("wait_ms", m.opts.EnqueueWait.Milliseconds()).
			Uint64("dropped_total", m.dropped.Load()).
			Msg("offsite queue saturated, dropping upload")
	}
}

// Close drains the queue and waits for in-flight uploads to finish.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	close(m.jobs)
	m.wg.Wait()
}

func (m *Mirror) Stats() MirrorStats {
	if m == nil {
		return MirrorStats{}
	}
	return MirrorStats{
		QueueDepth:     len(m.jobs),
		QueueSize:      cap(m.jobs),
		Enqueued:       m.enqueued.Load(),
		QueueSaturated: m.queueSaturated.Load(),
		Dropped:        m.dropped.Load(),
		Uploaded:       m.uploaded.Load(),
		Failed:         m.failed.Load(),
		LastUploadUnix: m.lastUploadUnix.Load(),
		LastErrorUnix:  m.lastErrorUnix.Load(),
	}
}

func (m *Mirror) upload(localPath string) {
	key, err := m.objectKey(localPath)
	if err != nil {
		m.log.Warn().Str("local", localPath).Err(err).Msg("offsite upload skipped")
		return
	}

	if err := m.putWithRetry(key, localPath); err != nil {
		m.failed.Add(1)
		m.lastErrorUnix.Store(time.Now().UTC().Unix())
		m.log.Error().Str("key", key).Str("local", localPath).Err(err).Msg("offsite upload failed")
		return
	}
	m.uploaded.Add(1)
	m.lastUploadUnix.Store(time.Now().UTC().Unix())
	m.log.Debug().Str("key", key).Str("local", localPath).Msg("offsite upload done")
}

func (m *Mirror) putWithRetry(key, localPath string) error {
	const attempts = 4
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := m.client.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < attempts {
			time.Sleep(time.Duration(attempt*attempt) * 200 * time.Millisecond)
		}
	}
	return lastErr
}

// objectKey maps a local file to its bucket key: the path relative to
// DataDir, joined under Prefix. Files outside DataDir are refused.
func (m *Mirror) objectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty local path")
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}

	absBase, err := filepath.Abs(m.opts.DataDir)
	if err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(absBase, absLocal)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside data dir %s", absLocal, absBase)
	}

	if m.opts.Prefix != "" {
		return path.Join(m.opts.Prefix, rel), nil
	}
	return rel, nil
}
