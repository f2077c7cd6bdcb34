// Package config holds the tunable knobs shared by the WAL, LSM engine and
// compactor, with an optional TOML-backed loader.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// SyncMode controls how aggressively the WAL fsyncs. See spec §4.1.
type SyncMode int

const (
	// SyncAlways fsyncs after every append.
	SyncAlways SyncMode = iota
	// SyncAsync flushes the userspace buffer only; fsync happens at segment
	// boundaries and on the periodic timer.
	SyncAsync
	// SyncNone neither flushes nor fsyncs after an append; the buffer is
	// flushed and fsynced only when a segment rotates or the WAL is closed.
	SyncNone
)

func (m SyncMode) String() string {
	switch m {
	case SyncAlways:
		return "always"
	case SyncAsync:
		return "async"
	case SyncNone:
		return "none"
	default:
		return "unknown"
	}
}

func parseSyncMode(s string) (SyncMode, error) {
	switch s {
	case "", "always":
		return SyncAlways, nil
	case "async":
		return SyncAsync, nil
	case "none":
		return SyncNone, nil
	default:
		return SyncAlways, fmt.Errorf("config: unknown sync mode %q", s)
	}
}

// Options bundles the engine's configuration knobs. Defaults mirror the
// teacher's hardcoded constants in velocity.go (DefaultMemTableSize,
// DefaultBlockSize, WALSyncInterval, MaxLevels, CompactionRatio), rescaled
// to this spec's §4.2 parameter names.
type Options struct {
	// MemtableSize is the byte threshold at which the active memtable is
	// swapped out and flushed (spec §4.2 step 4).
	MemtableSize int64
	// BlockSize is the target uncompressed size of an SSTable data block.
	BlockSize int
	// BloomBitsPerKey sizes the per-SSTable bloom filter.
	BloomBitsPerKey int
	// MaxSegmentSize is the WAL segment rotation threshold.
	MaxSegmentSize int64
	// SyncMode controls WAL fsync policy.
	SyncMode SyncMode
	// SyncInterval is how often the background sync loop flushes in Async mode.
	SyncInterval time.Duration
	// Level0Trigger is the number of level-0 SSTables that triggers compaction.
	Level0Trigger int
	// MaxLevels bounds the number of LSM levels.
	MaxLevels int
	// Level1MaxSize is the byte budget of level 1 before compaction triggers.
	Level1MaxSize int64
	// LevelMultiplier scales the per-level byte budget (level N budget =
	// Level1MaxSize * LevelMultiplier^(N-1)).
	LevelMultiplier float64
	// TargetFileSize bounds the size of a single compaction output SSTable.
	TargetFileSize int64
	// ManifestLogThreshold is the number of manifest log records appended
	// before the manifest is rewritten into a fresh snapshot.
	ManifestLogThreshold int
	// Level0CompactionBatch bounds how many level>=1 source SSTables a
	// single higher-level compaction pass selects (§4.2 "Higher-level
	// compaction", left as implementation latitude by spec §9).
	Level0CompactionBatch int
	// BlockCacheBytes bounds the total size of resolved-lookup values the
	// engine's LRU block cache holds at once.
	BlockCacheBytes int64
}

// Default returns the engine's default tuning, following the teacher's
// constants (16MB memtable, 4KB blocks, 10 bloom bits/key, 7 levels).
func Default() Options {
	return Options{
		MemtableSize:          16 * 1024 * 1024,
		BlockSize:             4096,
		BloomBitsPerKey:       10,
		MaxSegmentSize:        64 * 1024 * 1024,
		SyncMode:              SyncAlways,
		SyncInterval:          time.Second,
		Level0Trigger:         4,
		MaxLevels:             7,
		Level1MaxSize:         64 * 1024 * 1024,
		LevelMultiplier:       4,
		TargetFileSize:        32 * 1024 * 1024,
		ManifestLogThreshold:  1000,
		Level0CompactionBatch: 4,
		BlockCacheBytes:       4 * 1024 * 1024,
	}
}

// fileFormat is the TOML document shape: an [engine] table layered over
// the defaults. Fields are pointers so omitted keys leave the default intact.
type fileFormat struct {
	Engine struct {
		MemtableSizeMB        *int64   `toml:"memtable_size_mb"`
		BlockSizeBytes        *int     `toml:"block_size_bytes"`
		BloomBitsPerKey       *int     `toml:"bloom_bits_per_key"`
		MaxSegmentSizeMB      *int64   `toml:"max_segment_size_mb"`
		SyncMode              *string  `toml:"sync_mode"`
		SyncIntervalMS        *int64   `toml:"sync_interval_ms"`
		Level0Trigger         *int     `toml:"level0_trigger"`
		MaxLevels             *int     `toml:"max_levels"`
		Level1MaxSizeMB       *int64   `toml:"level1_max_size_mb"`
		LevelMultiplier       *float64 `toml:"level_multiplier"`
		TargetFileSizeMB      *int64   `toml:"target_file_size_mb"`
		ManifestLogThreshold  *int     `toml:"manifest_log_threshold"`
		Level0CompactionBatch *int     `toml:"level0_compaction_batch"`
		BlockCacheBytes       *int64   `toml:"block_cache_bytes"`
	} `toml:"engine"`
}

// Load reads a TOML configuration file and layers it over Default(). A
// missing file is not an error — Default() is returned unchanged, matching
// the teacher's NewWithConfig which falls back to defaults when a field is
// zero-valued.
func Load(path string) (Options, error) {
	opts := Default()
	if path == "" {
		return opts, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return opts, nil
	}

	var doc fileFormat
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return opts, fmt.Errorf("config: decode %s: %w", path, err)
	}

	e := doc.Engine
	if e.MemtableSizeMB != nil {
		opts.MemtableSize = *e.MemtableSizeMB * 1024 * 1024
	}
	if e.BlockSizeBytes != nil {
		opts.BlockSize = *e.BlockSizeBytes
	}
	if e.BloomBitsPerKey != nil {
		opts.BloomBitsPerKey = *e.BloomBitsPerKey
	}
	if e.MaxSegmentSizeMB != nil {
		opts.MaxSegmentSize = *e.MaxSegmentSizeMB * 1024 * 1024
	}
	if e.SyncMode != nil {
		mode, err := parseSyncMode(*e.SyncMode)
		if err != nil {
			return opts, err
		}
		opts.SyncMode = mode
	}
	if e.SyncIntervalMS != nil {
		opts.SyncInterval = time.Duration(*e.SyncIntervalMS) * time.Millisecond
	}
	if e.Level0Trigger != nil {
		opts.Level0Trigger = *e.Level0Trigger
	}
	if e.MaxLevels != nil {
		opts.MaxLevels = *e.MaxLevels
	}
	if e.Level1MaxSizeMB != nil {
		opts.Level1MaxSize = *e.Level1MaxSizeMB * 1024 * 1024
	}
	if e.LevelMultiplier != nil {
		opts.LevelMultiplier = *e.LevelMultiplier
	}
	if e.TargetFileSizeMB != nil {
		opts.TargetFileSize = *e.TargetFileSizeMB * 1024 * 1024
	}
	if e.ManifestLogThreshold != nil {
		opts.ManifestLogThreshold = *e.ManifestLogThreshold
	}
	if e.Level0CompactionBatch != nil {
		opts.Level0CompactionBatch = *e.Level0CompactionBatch
	}
	if e.BlockCacheBytes != nil {
		opts.BlockCacheBytes = *e.BlockCacheBytes
	}

	return opts, nil
}
