// Package config defines the shape of configuration the log engine
// consumes. Loading, validation, and hot-reload live outside this
// package; it only describes the fully-resolved value the engine is
// handed, plus the CLI flags used by the standalone agent binary.
package config

import "time"

// FileConfig is one per-file-pattern configuration entry: a base path,
// a match pattern, and the framing/processor/checkpoint behavior
// applied to files it matches.
type FileConfig struct {
	Name            string   `long:"name" env:"NAME" description:"unique config name used in composite checkpoint keys"`
	BasePath        string   `long:"base-path" env:"BASE_PATH" description:"directory the file pattern is rooted at"`
	FilePattern     string   `long:"file-pattern" env:"FILE_PATTERN" description:"glob pattern matched against file names under base-path"`
	MaxDepth        int      `long:"max-depth" env:"MAX_DEPTH" default:"0" description:"maximum subdirectory depth searched below base-path"`
	PreserveDirs    bool     `long:"preserve-dirs" env:"PRESERVE_DIRS" description:"treat base-path as a literal directory rather than a wildcard root"`
	ForceMultiConfig bool    `long:"force-multi-config" env:"FORCE_MULTI_CONFIG" description:"allow more than one config to match the same file"`

	FramingMode      string `long:"framing-mode" env:"FRAMING_MODE" default:"line" choice:"line" choice:"multiline" choice:"container" description:"record framing strategy applied to this file's bytes"`
	EncodingMode     string `long:"encoding" env:"ENCODING" default:"utf8" choice:"utf8" choice:"gbk" description:"source file text encoding"`
	ExactlyOnce      bool   `long:"exactly-once" env:"EXACTLY_ONCE" description:"enable bounded exactly-once delivery for this file"`
	Concurrency      int    `long:"concurrency" env:"CONCURRENCY" default:"1" description:"number of in-flight exactly-once ranges per file"`
	RoutingPriority  int    `long:"routing-priority" env:"ROUTING_PRIORITY" default:"0" description:"priority level assigned to this config's routing key"`

	Processors []string `long:"processor" env:"PROCESSORS" env-delim:"," description:"ordered list of processor kinds applied to records from this file, e.g. \"regex\", \"delimiter\", \"json\", \"timestamp\", \"tag\""`

	RegexPattern         string   `long:"regex-pattern" env:"REGEX_PATTERN" description:"pattern for the regex processor, when selected"`
	RegexKeys            []string `long:"regex-keys" env:"REGEX_KEYS" env-delim:"," description:"field keys assigned to the regex processor's capture groups, in order"`
	DelimiterSeparator   string   `long:"delimiter-separator" env:"DELIMITER_SEPARATOR" default:"," description:"single-byte field separator for the delimiter processor"`
	DelimiterQuote       string   `long:"delimiter-quote" env:"DELIMITER_QUOTE" default:"\"" description:"single-byte quote character for the delimiter processor"`
	DelimiterKeys        []string `long:"delimiter-keys" env:"DELIMITER_KEYS" env-delim:"," description:"field keys assigned to the delimiter processor's columns, in order"`
	DelimiterOverflow    string   `long:"delimiter-overflow" env:"DELIMITER_OVERFLOW" default:"extend" choice:"extend" choice:"catch-all" choice:"discard" description:"policy applied when a row has more fields than keys"`
	TimestampFieldKey    string   `long:"timestamp-field" env:"TIMESTAMP_FIELD" description:"field key holding the timestamp, for the timestamp processor"`
	TimestampFormat      string   `long:"timestamp-format" env:"TIMESTAMP_FORMAT" description:"%-token timestamp format, for the timestamp processor"`
	TopicLiteral         string   `long:"topic-literal" env:"TOPIC_LITERAL" description:"fixed topic string assigned by the tag-injection processor"`

	MultilineStartPattern    string `long:"multiline-start" env:"MULTILINE_START" description:"pattern marking the first line of a multi-line record"`
	MultilineContinuePattern string `long:"multiline-continue" env:"MULTILINE_CONTINUE" description:"pattern marking a continuation line of a multi-line record"`
	MultilineEndPattern      string `long:"multiline-end" env:"MULTILINE_END" description:"pattern marking the last line of a multi-line record"`
	MultilineDiscardUnmatched bool  `long:"multiline-discard-unmatched" env:"MULTILINE_DISCARD_UNMATCHED" description:"discard lines that never join a recognized multi-line record"`
}

// HostBlacklistConfig mirrors the discovery package's HostBlacklist,
// expressed as CLI-bindable struct tags.
type HostBlacklistConfig struct {
	Paths        []string `long:"blacklist-path" env:"BLACKLIST_PATHS" env-delim:"," description:"exact directory paths excluded from discovery"`
	PathPrefixes []string `long:"blacklist-prefix" env:"BLACKLIST_PREFIXES" env-delim:"," description:"directory path prefixes excluded from discovery"`
	Suffixes     []string `long:"blacklist-suffix" env:"BLACKLIST_SUFFIXES" env-delim:"," description:"file name suffixes excluded from discovery"`
}

// CheckpointConfig configures the three checkpoint store layouts.
type CheckpointConfig struct {
	AggregatePath   string        `long:"checkpoint-path" env:"CHECKPOINT_PATH" default:"/var/lib/logtail/checkpoint.json" description:"aggregate checkpoint document path"`
	AdhocDir        string        `long:"adhoc-checkpoint-dir" env:"ADHOC_CHECKPOINT_DIR" default:"/var/lib/logtail/adhoc" description:"directory holding one document per ad-hoc job"`
	ExactlyOnceDir  string        `long:"exactly-once-dir" env:"EXACTLY_ONCE_DIR" default:"/var/lib/logtail/exactly-once" description:"directory holding one document per exactly-once primary key"`
	Capacity        int           `long:"checkpoint-capacity" env:"CHECKPOINT_CAPACITY" default:"100000" description:"maximum active checkpoints retained in one aggregate dump"`
	LoadTTL         time.Duration `long:"checkpoint-load-ttl" env:"CHECKPOINT_LOAD_TTL" default:"300s" description:"staleness bound applied to checkpoint records on load"`
	DumpInterval    time.Duration `long:"checkpoint-dump-interval" env:"CHECKPOINT_DUMP_INTERVAL" default:"15m" description:"base interval between checkpoint dumps, jittered by ±1m"`
}

// QueueConfig configures the bounded priority queue manager.
type QueueConfig struct {
	Capacity      int           `long:"queue-capacity" env:"QUEUE_CAPACITY" default:"4096" description:"per-queue item capacity"`
	HighWatermark int           `long:"queue-high-watermark" env:"QUEUE_HIGH_WATERMARK" default:"3072" description:"depth above which backpressure is signaled"`
	LowWatermark  int           `long:"queue-low-watermark" env:"QUEUE_LOW_WATERMARK" default:"1024" description:"depth at or below which backpressure is released"`
	GCTick        time.Duration `long:"queue-gc-tick" env:"QUEUE_GC_TICK" default:"30s" description:"interval between routing-key garbage collection rounds"`
}

// AgentConfig is the engine's fully-resolved input, the value a
// hot-reload layer outside the core would hand to the engine on
// startup and on every accepted reload.
type AgentConfig struct {
	Files      []FileConfig        `group:"file" description:"per-file-pattern configurations"`
	Blacklist  HostBlacklistConfig `group:"blacklist"`
	Checkpoint CheckpointConfig    `group:"checkpoint"`
	Queue      QueueConfig         `group:"queue"`

	ScanInterval time.Duration `long:"scan-interval" env:"SCAN_INTERVAL" default:"10s" description:"interval between discovery directory scans"`
	ReaderPool   int           `long:"reader-pool-size" env:"READER_POOL_SIZE" default:"8" description:"bounded worker pool size for reader tasks"`
	ProcessPool  int           `long:"process-pool-size" env:"PROCESS_POOL_SIZE" default:"8" description:"bounded worker pool size for processor tasks"`
}
