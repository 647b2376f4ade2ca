package journal

import (
	"fmt"
	"time"

	"github.com/downfa11-org/go-journal/pkg/config"
	"github.com/downfa11-org/go-journal/pkg/disk"
	"github.com/downfa11-org/go-journal/pkg/types"
)

const (
	DefaultName           = "journal"
	DefaultMaxSegmentSize = 128 << 20
)

// Options configures a SegmentedJournal.
type Options struct {
	Directory string
	Name      string

	MaxSegmentSize int32
	IndexDensity   int

	// PreallocateSegmentFiles reserves the full segment size on disk when a
	// segment is created. Allocator, when set, is used instead.
	PreallocateSegmentFiles bool
	Allocator               disk.SpaceAllocator

	// MinFreeDiskSpace is the free space that must remain after creating a segment.
	MinFreeDiskSpace int64
	// FlushInterval enables a background flush; zero means only explicit flushes.
	FlushInterval time.Duration

	MetaStore types.MetaStore
	Metrics   Metrics
}

// OptionsFromConfig maps the file/flag configuration onto journal options.
func OptionsFromConfig(cfg *config.Config, metaStore types.MetaStore) Options {
	return Options{
		Directory:               cfg.LogDir,
		Name:                    cfg.JournalName,
		MaxSegmentSize:          int32(cfg.MaxSegmentSize),
		IndexDensity:            cfg.JournalIndexDensity,
		PreallocateSegmentFiles: cfg.PreallocateSegmentFiles,
		MinFreeDiskSpace:        cfg.MinFreeDiskSpace,
		FlushInterval:           time.Duration(cfg.FlushIntervalMS) * time.Millisecond,
		MetaStore:               metaStore,
	}
}

func (o *Options) normalize() error {
	if o.Directory == "" {
		return fmt.Errorf("journal directory is required")
	}
	if o.MetaStore == nil {
		return fmt.Errorf("journal meta store is required")
	}
	if o.Name == "" {
		o.Name = DefaultName
	}
	if o.MaxSegmentSize == 0 {
		o.MaxSegmentSize = DefaultMaxSegmentSize
	}
	if minSize := int32(currentDescriptorLength + FrameLength(0)); o.MaxSegmentSize < minSize {
		return fmt.Errorf("%w: max segment size %d is below the minimum of %d bytes", ErrSegmentSizeTooSmall, o.MaxSegmentSize, minSize)
	}
	if o.IndexDensity <= 0 {
		o.IndexDensity = DefaultIndexDensity
	}
	if o.FlushInterval < 0 {
		o.FlushInterval = 0
	}
	return nil
}

func (o Options) allocator() disk.SpaceAllocator {
	if o.Allocator != nil {
		return o.Allocator
	}
	if o.PreallocateSegmentFiles {
		return disk.DefaultAllocator()
	}
	return disk.NoopAllocator
}

func (o Options) metrics() Metrics {
	if o.Metrics != nil {
		return o.Metrics
	}
	return noopMetrics{}
}
