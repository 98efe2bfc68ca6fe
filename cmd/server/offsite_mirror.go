package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"starhold.gg/internal/persistence/offsite"
)

// offsiteMirror uploads written snapshots and log segments to an
// S3-compatible bucket. Disabled unless SH_S3_MIRROR=true.
type offsiteMirror struct {
	enabled bool
	mirror  *offsite.Mirror
}

func buildOffsiteMirror(dataDir string, logger zerolog.Logger) (*offsiteMirror, error) {
	if !envBool("SH_S3_MIRROR", false) {
		return &offsiteMirror{enabled: false}, nil
	}

	endpoint := strings.TrimSpace(os.Getenv("SH_S3_ENDPOINT"))
	bucket := strings.TrimSpace(os.Getenv("SH_S3_BUCKET"))
	keyID := strings.TrimSpace(os.Getenv("SH_S3_ACCESS_KEY_ID"))
	secret := strings.TrimSpace(os.Getenv("SH_S3_SECRET_ACCESS_KEY"))

	if endpoint == "" || bucket == "" || keyID == "" || secret == "" {
		return nil, fmt.Errorf("SH_S3_MIRROR=true but SH_S3_ENDPOINT/SH_S3_BUCKET/SH_S3_ACCESS_KEY_ID/SH_S3_SECRET_ACCESS_KEY are not fully set")
	}

	client, err := offsite.NewClient(endpoint, bucket, keyID, secret)
	if err != nil {
		return nil, err
	}

	mirror := offsite.NewMirror(client, offsite.MirrorOptions{
		DataDir:     dataDir,
		Prefix:      strings.TrimSpace(os.Getenv("SH_S3_PREFIX")),
		Workers:     envInt("SH_S3_UPLOAD_WORKERS", 2),
		QueueSize:   envInt("SH_S3_UPLOAD_QUEUE", 256),
		EnqueueWait: 50 * time.Millisecond,
	}, logger)

	return &offsiteMirror{enabled: true, mirror: mirror}, nil
}

func (m *offsiteMirror) Enqueue(localPath string) {
	if m == nil || !m.enabled || m.mirror == nil {
		return
	}
	m.mirror.Enqueue(localPath)
}

func (m *offsiteMirror) Close() {
	if m == nil || m.mirror == nil {
		return
	}
	m.mirror.Close()
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
