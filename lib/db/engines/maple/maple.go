package maple

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"

	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/ValentinKolb/pKV/lib/db/engines/maple/internal"
	"github.com/ValentinKolb/pKV/lib/db/util"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Constants for database behavior and structure
const (
	magicNum     = "MAPLEDB\x00" // File format identifier
	mapleVersion = 4             // Database version
)

// supportedFeatures are the features of every maple instance
const supportedFeatures = db.FeatureSet |
	db.FeatureGet |
	db.FeatureDelete |
	db.FeatureHas |
	db.FeatureRange |
	db.FeatureSave |
	db.FeatureLoad

// --------------------------------------------------------------------------
// Core Maple database structure
// --------------------------------------------------------------------------

// mapleImpl implements an in-memory database with sharded data
type mapleImpl struct {
	numShards int                             // Number of shards
	seed      uint64                          // Seed for hash function
	shards    atomic.Pointer[internal.Shards] // Current shards, swapped by Load
}

// DBOptions configures the mapleImpl behavior during initialization
type DBOptions struct {
	NumShards int // Number of shards (0 = one per cpu)
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		NumShards: runtime.NumCPU(), // Auto-determine based on CPU count
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMapleDB creates a new MapleDB instance with the specified options (optional)
func NewMapleDB(opts *DBOptions) db.KVDB {

	// Generate default options if not provided
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.NumShards < 1 {
		opts.NumShards = runtime.NumCPU()
	}

	newDB := &mapleImpl{
		numShards: opts.NumShards,
		seed:      util.GenerateSeed(),
	}
	newDB.shards.Store(internal.NewShards(opts.NumShards, newDB.seed))

	return newDB
}

// shardFor returns the shard responsible for key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) shardFor(key string) *internal.Shard {
	return maple.shards.Load().For(key)
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Set inserts or updates an entry and returns the value it replaced.
// The value is copied, the caller may reuse it afterwards.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Set(key string, value []byte) (prev []byte, loaded bool, err error) {
	// Copy value to prevent memory corruption
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	// Use Compute to swap the value and observe the previous one atomically
	maple.shardFor(key).Data.Compute(key, func(old []byte, exists bool) ([]byte, bool) {
		prev, loaded = old, exists
		return valueCopy, false
	})

	// the replaced slice is no longer reachable from the map and belongs to the caller now
	return prev, loaded, nil
}

// Delete removes an entry and returns the removed value.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Delete(key string) (prev []byte, loaded bool, err error) {
	maple.shardFor(key).Data.Compute(key, func(old []byte, exists bool) ([]byte, bool) {
		prev, loaded = old, exists
		return old, true // delete, also if the key does not exist (no-op)
	})
	return prev, loaded, nil
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Read Operations
// --------------------------------------------------------------------------

// Get retrieves a value for a key.
// The returned value is a copy of the stored data and therefore safe to use and modify.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Get(key string) ([]byte, bool, error) {
	value, ok := maple.shardFor(key).Data.Load(key)
	if !ok {
		return nil, false, nil
	}
	data := make([]byte, len(value))
	copy(data, value)
	return data, true, nil
}

// Has checks if a key exists in the database.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Has(key string) (bool, error) {
	_, ok := maple.shardFor(key).Data.Load(key)
	return ok, nil
}

// Range calls fn for every entry with a copy of its value.
//
// Thread-safety: Range does not block writers, concurrent writes may or may not be observed.
func (maple *mapleImpl) Range(fn func(key string, value []byte) bool) error {
	for _, shard := range maple.shards.Load().All() {
		cont := true
		shard.Data.Range(func(key string, value []byte) bool {
			data := make([]byte, len(value))
			copy(data, value)
			cont = fn(key, data)
			return cont
		})
		if !cont {
			return nil
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save persists the database to the writer. The snapshot is fuzzy: writes
// that happen during Save may or may not be part of it.
//
// Format: magic, version (uint8), entry count (uint64), then per entry
// key length (uint32), key, value length (uint32), value. All little endian.
//
// Thread-safety: This function allows concurrent operations with all other functions
// except Load.
func (maple *mapleImpl) Save(w io.Writer) error {
	// Use a buffered writer for better performance
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	type entryToSave struct {
		key   string
		value []byte
	}

	// values are never modified in place, so holding on to the slices is a consistent snapshot
	var entries []entryToSave
	for _, shard := range maple.shards.Load().All() {
		shard.Data.Range(func(key string, value []byte) bool {
			entries = append(entries, entryToSave{key, value})
			return true
		})
	}

	// Write file header
	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}

	// Write maple version
	if err := binary.Write(bw, binary.LittleEndian, uint8(mapleVersion)); err != nil {
		return err
	}

	// Write total data entries count
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(entries))); err != nil {
		return err
	}

	// Write data entries
	for _, item := range entries {
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(item.key))); err != nil {
			return err
		}
		if _, err := bw.WriteString(item.key); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(item.value))); err != nil {
			return err
		}
		if _, err := bw.Write(item.value); err != nil {
			return err
		}
	}

	// Flush buffer to ensure all data is written
	return bw.Flush()
}

// Load replaces the content of the database with a snapshot written by Save
//
// Thread-safety: This function is not thread-safe and should not be called concurrently
func (maple *mapleImpl) Load(r io.Reader) error {

	// Use a buffered reader for better performance
	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	// Read and verify magic number
	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}

	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	// Read and verify version
	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}

	if int(version) != mapleVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, mapleVersion)
	}

	// Read data entries count
	var dataCount uint64
	if err := binary.Read(br, binary.LittleEndian, &dataCount); err != nil {
		return err
	}

	// Fill fresh shards, the current ones stay intact if the snapshot is broken
	shards := internal.NewShards(maple.numShards, maple.seed)
	for i := uint64(0); i < dataCount; i++ {
		key, err := readBlock(br)
		if err != nil {
			return fmt.Errorf("failed to read key %d: %w", i, err)
		}
		value, err := readBlock(br)
		if err != nil {
			return fmt.Errorf("failed to read value %d: %w", i, err)
		}
		shards.For(string(key)).Data.Store(string(key), value)
	}

	maple.shards.Store(shards)
	return nil
}

// readBlock reads a uint32 length prefixed byte block
func readBlock(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	block := make([]byte, n)
	if _, err := io.ReadFull(r, block); err != nil {
		return nil, err
	}
	return block, nil
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Features and Metadata
// --------------------------------------------------------------------------

// GetInfo returns statistics about the database
func (maple *mapleImpl) GetInfo() db.DatabaseInfo {
	shards := maple.shards.Load().All()

	keys, sizeBytes := 0, 0
	shardSizes := make([]int, len(shards))
	for i, shard := range shards {
		shard.Data.Range(func(key string, value []byte) bool {
			sizeBytes += len(key) + len(value)
			return true
		})
		shardSizes[i] = shard.Data.Size()
		keys += shardSizes[i]
	}

	// Metadata for this specific database implementation
	meta := &struct {
		ShardCount   int                    `json:"shard_count"`
		ShardSizes   []int                  `json:"shard_sizes"`
		Distribution util.DistributionStats `json:"distribution"`
	}{
		ShardCount:   len(shards),
		ShardSizes:   shardSizes,
		Distribution: util.NewDistributionStats(shardSizes),
	}

	// features
	features := make([]db.Feature, 0, 8)
	for f := db.FeatureSet; f <= db.FeaturePersistent; f <<= 1 {
		if supportedFeatures&f != 0 {
			features = append(features, f)
		}
	}

	return db.DatabaseInfo{
		SizeBytes:         sizeBytes,
		Keys:              keys,
		DbType:            db.ImplMaple,
		SupportedFeatures: features,
		Metadata:          meta,
	}
}

// SupportsFeature checks if this implementation supports a specific KVDB feature
func (maple *mapleImpl) SupportsFeature(feature db.Feature) bool {
	return supportedFeatures&feature == feature
}

// Close releases the data, the database must not be used afterwards
func (maple *mapleImpl) Close() error {
	maple.shards.Store(internal.NewShards(maple.numShards, maple.seed))
	return nil
}
