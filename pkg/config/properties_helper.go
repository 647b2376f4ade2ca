package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/downfa11-org/go-journal/util"
)

const (
	minSegmentSize = 4 << 10
	maxSegmentSize = math.MaxInt32
)

func (cfg *Config) Normalize() {
	if cfg.ExporterPort <= 0 {
		cfg.ExporterPort = 9100
	}

	// journal storage
	if strings.TrimSpace(cfg.LogDir) == "" {
		cfg.LogDir = "journal-data"
	}
	if strings.TrimSpace(cfg.JournalName) == "" {
		cfg.JournalName = "journal"
	}
	if cfg.MaxSegmentSize < minSegmentSize {
		util.Warn("Invalid max_segment_size (%d), defaulting to 128MB", cfg.MaxSegmentSize)
		cfg.MaxSegmentSize = 128 << 20
	}
	if cfg.MaxSegmentSize > maxSegmentSize {
		cfg.MaxSegmentSize = maxSegmentSize
	}
	if cfg.JournalIndexDensity <= 0 {
		cfg.JournalIndexDensity = 100
	}
	if cfg.FlushIntervalMS < 0 {
		cfg.FlushIntervalMS = 0
	}
	if cfg.MinFreeDiskSpace < 0 {
		cfg.MinFreeDiskSpace = 0
	}
	if strings.TrimSpace(cfg.MetaFile) == "" {
		cfg.MetaFile = filepath.Join(cfg.LogDir, cfg.JournalName+".meta")
	}

	if cfg.CompressionType == "" {
		cfg.CompressionType = util.CompressionNone
	}
	if !util.ValidCompression(cfg.CompressionType) {
		util.Warn("Invalid compression_type '%s', defaulting to 'none'", cfg.CompressionType)
		cfg.CompressionType = util.CompressionNone
	}
}

func overrideEnvInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseInt(v, *target)
	}
}

func overrideEnvInt64(target *int64, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseSize(v, *target)
	}
}

func overrideEnvSize(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		*target = int(util.ParseSize(v, int64(*target)))
	}
}

func overrideEnvBool(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseBool(v, *target)
	}
}

func overrideEnvString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func overrideEnvLogLevel(target *util.LogLevel, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseLogLevel(v)
	}
}
