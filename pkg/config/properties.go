package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/downfa11-org/go-journal/util"
	"gopkg.in/yaml.v3"
)

// Config represents the journal configuration including tunable performance options
type Config struct {
	// Journal storage
	LogDir                  string `yaml:"log_dir" json:"log.dir"`
	JournalName             string `yaml:"journal_name" json:"journal.name"`
	MaxSegmentSize          int    `yaml:"max_segment_size" json:"max.segment.size"`
	JournalIndexDensity     int    `yaml:"journal_index_density" json:"journal.index.density"`
	PreallocateSegmentFiles bool   `yaml:"preallocate_segment_files" json:"preallocate.segment.files"`
	FlushIntervalMS         int    `yaml:"flush_interval_ms" json:"flush.interval.ms"`
	MinFreeDiskSpace        int64  `yaml:"min_free_disk_space" json:"min.free.disk.space"`
	MetaFile                string `yaml:"meta_file" json:"meta.file"`

	// Raft log store
	CompressionType string `yaml:"compression_type" json:"compression.type"`

	// Observability
	LogLevel       util.LogLevel `yaml:"log_level" json:"log_level"`
	EnableExporter bool          `yaml:"enable_exporter" json:"enable.exporter"`
	ExporterPort   int           `yaml:"exporter_port" json:"exporter.port"`

	// Args holds the positional command line arguments left after the flags.
	Args []string `yaml:"-" json:"-"`
}

type flagValues struct {
	configPath    *string
	logDir        *string
	journalName   *string
	segmentSize   *string
	indexDensity  *int
	preallocate   *bool
	flushInterval *int
	minFreeDisk   *string
	compression   *string
	logLevel      *string
	exporter      *bool
	exporterPort  *int
	explicit      map[string]bool
}

// LoadConfig builds the configuration from flag defaults, an optional YAML or
// JSON file, explicitly passed flags and JOURNAL_* environment variables, in
// that order of precedence. args excludes the program name.
func LoadConfig(name string, args []string) (*Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	flags := registerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	flags.explicit = map[string]bool{}
	fs.Visit(func(f *flag.Flag) { flags.explicit[f.Name] = true })

	cfg := &Config{}
	applyDefaults(cfg, flags)

	configPath := *flags.configPath
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" && configPath == "" {
		configPath = envPath
	}
	if configPath != "" {
		if err := loadFile(cfg, configPath); err != nil {
			return nil, err
		}
	}

	applyExplicitFlags(cfg, flags)
	applyEnvOverrides(cfg)
	cfg.Args = fs.Args()

	cfg.Normalize()
	util.SetLevel(cfg.LogLevel)
	return cfg, nil
}

func registerFlags(fs *flag.FlagSet) *flagValues {
	return &flagValues{
		configPath:    fs.String("config", "", "Path to YAML/JSON config file"),
		logDir:        fs.String("log-dir", "journal-data", "Directory holding the journal segments"),
		journalName:   fs.String("name", "journal", "Journal name, used as the segment file prefix"),
		segmentSize:   fs.String("segment-size", "128MB", "Maximum segment size (bytes or KB/MB/GB)"),
		indexDensity:  fs.Int("index-density", 100, "Index every n-th record"),
		preallocate:   fs.Bool("preallocate", true, "Reserve disk space for new segments"),
		flushInterval: fs.Int("flush-interval-ms", 0, "Background flush interval in milliseconds (0=explicit flush only)"),
		minFreeDisk:   fs.String("min-free-disk", "0", "Minimum free disk space required to create a segment"),
		compression:   fs.String("compression", "none", "Raft entry compression (none, gzip, snappy, lz4)"),
		logLevel:      fs.String("log-level", "info", "Log Level (debug, info, warn, error)"),
		exporter:      fs.Bool("exporter", false, "Enable Prometheus exporter"),
		exporterPort:  fs.Int("exporter-port", 9100, "Exporter port"),
	}
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyDefaults(cfg *Config, f *flagValues) {
	cfg.LogDir = *f.logDir
	cfg.JournalName = *f.journalName
	cfg.MaxSegmentSize = int(util.ParseSize(*f.segmentSize, 128<<20))
	cfg.JournalIndexDensity = *f.indexDensity
	cfg.PreallocateSegmentFiles = *f.preallocate
	cfg.FlushIntervalMS = *f.flushInterval
	cfg.MinFreeDiskSpace = util.ParseSize(*f.minFreeDisk, 0)
	cfg.CompressionType = *f.compression
	cfg.LogLevel = util.ParseLogLevel(*f.logLevel)
	cfg.EnableExporter = *f.exporter
	cfg.ExporterPort = *f.exporterPort
}

func applyExplicitFlags(cfg *Config, f *flagValues) {
	set := f.explicit
	if set["log-dir"] {
		cfg.LogDir = *f.logDir
	}
	if set["name"] {
		cfg.JournalName = *f.journalName
	}
	if set["segment-size"] {
		cfg.MaxSegmentSize = int(util.ParseSize(*f.segmentSize, int64(cfg.MaxSegmentSize)))
	}
	if set["index-density"] {
		cfg.JournalIndexDensity = *f.indexDensity
	}
	if set["preallocate"] {
		cfg.PreallocateSegmentFiles = *f.preallocate
	}
	if set["flush-interval-ms"] {
		cfg.FlushIntervalMS = *f.flushInterval
	}
	if set["min-free-disk"] {
		cfg.MinFreeDiskSpace = util.ParseSize(*f.minFreeDisk, cfg.MinFreeDiskSpace)
	}
	if set["compression"] {
		cfg.CompressionType = *f.compression
	}
	if set["log-level"] {
		cfg.LogLevel = util.ParseLogLevel(*f.logLevel)
	}
	if set["exporter"] {
		cfg.EnableExporter = *f.exporter
	}
	if set["exporter-port"] {
		cfg.ExporterPort = *f.exporterPort
	}
}

func applyEnvOverrides(cfg *Config) {
	overrideEnvString(&cfg.LogDir, "JOURNAL_DIR")
	overrideEnvString(&cfg.JournalName, "JOURNAL_NAME")
	overrideEnvSize(&cfg.MaxSegmentSize, "JOURNAL_MAX_SEGMENT_SIZE")
	overrideEnvInt(&cfg.JournalIndexDensity, "JOURNAL_INDEX_DENSITY")
	overrideEnvBool(&cfg.PreallocateSegmentFiles, "JOURNAL_PREALLOCATE_SEGMENT_FILES")
	overrideEnvInt(&cfg.FlushIntervalMS, "JOURNAL_FLUSH_INTERVAL_MS")
	overrideEnvInt64(&cfg.MinFreeDiskSpace, "JOURNAL_MIN_FREE_DISK_SPACE")
	overrideEnvString(&cfg.MetaFile, "JOURNAL_META_FILE")
	overrideEnvString(&cfg.CompressionType, "JOURNAL_COMPRESSION_TYPE")
	overrideEnvLogLevel(&cfg.LogLevel, "JOURNAL_LOG_LEVEL")
	overrideEnvBool(&cfg.EnableExporter, "JOURNAL_ENABLE_EXPORTER")
	overrideEnvInt(&cfg.ExporterPort, "JOURNAL_EXPORTER_PORT")
}
