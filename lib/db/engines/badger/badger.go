package badger

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/dgraph-io/badger/v4"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("badger")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	magicNum      = "BADGERKV" // Snapshot format identifier
	badgerVersion = 1          // Snapshot format version

	// keyPrefix is prepended to every user key, badger rejects empty keys
	keyPrefix = 'k'

	maxUpdateRetries = 1024
)

const baseFeatures = db.FeatureSet |
	db.FeatureGet |
	db.FeatureDelete |
	db.FeatureHas |
	db.FeatureRange |
	db.FeatureSave |
	db.FeatureLoad

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options configures the badger engine
type Options struct {
	Dir        string        // Data directory, ignored when InMemory is set
	InMemory   bool          // Keep everything in memory (no persistence)
	SyncWrites bool          // Fsync every write
	GCInterval time.Duration // Interval of the value log gc (0 = 5 minutes)
}

// --------------------------------------------------------------------------
// Core structure
// --------------------------------------------------------------------------

type badgerImpl struct {
	db       *badger.DB
	opts     Options
	features db.Feature

	stopGC   chan struct{}
	gcDone   chan struct{}
	stopOnce sync.Once
}

// NewBadgerDB opens (or creates) a badger database
func NewBadgerDB(opts Options) (db.KVDB, error) {
	var bOpts badger.Options
	if opts.InMemory {
		bOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Dir == "" {
			return nil, fmt.Errorf("badger: a data directory is required")
		}
		bOpts = badger.DefaultOptions(opts.Dir).WithSyncWrites(opts.SyncWrites)
	}
	bOpts = bOpts.WithLogger(Logger)

	bdb, err := badger.Open(bOpts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}

	impl := &badgerImpl{
		db:       bdb,
		opts:     opts,
		features: baseFeatures,
		stopGC:   make(chan struct{}),
		gcDone:   make(chan struct{}),
	}

	if opts.InMemory {
		close(impl.gcDone)
	} else {
		impl.features |= db.FeaturePersistent
		go impl.gcLoop()
	}

	Logger.Infof("badger engine started (dir=%q, in-memory=%v)", opts.Dir, opts.InMemory)
	return impl, nil
}

func encodeKey(key string) []byte {
	k := make([]byte, 1+len(key))
	k[0] = keyPrefix
	copy(k[1:], key)
	return k
}

func decodeKey(k []byte) string {
	return string(k[1:])
}

// update runs fn in a read-write transaction and retries it on conflicts
func (b *badgerImpl) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxUpdateRetries; i++ {
		err = b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("badger: giving up after %d conflicting attempts: %w", maxUpdateRetries, err)
}

// lookup returns a copy of the current value of key
func lookup(txn *badger.Txn, key []byte) ([]byte, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

// Set stores the value and returns the value it replaced. The read of the
// previous value and the write happen in one serializable transaction.
func (b *badgerImpl) Set(key string, value []byte) (prev []byte, loaded bool, err error) {
	k := encodeKey(key)
	v := make([]byte, len(value))
	copy(v, value)

	err = b.update(func(txn *badger.Txn) error {
		var err error
		if prev, loaded, err = lookup(txn, k); err != nil {
			return err
		}
		return txn.Set(k, v)
	})
	if err != nil {
		return nil, false, err
	}
	return prev, loaded, nil
}

// Delete removes the key and returns the removed value
func (b *badgerImpl) Delete(key string) (prev []byte, loaded bool, err error) {
	k := encodeKey(key)

	err = b.update(func(txn *badger.Txn) error {
		var err error
		if prev, loaded, err = lookup(txn, k); err != nil || !loaded {
			return err
		}
		return txn.Delete(k)
	})
	if err != nil {
		return nil, false, err
	}
	return prev, loaded, nil
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

func (b *badgerImpl) Get(key string) (value []byte, loaded bool, err error) {
	err = b.db.View(func(txn *badger.Txn) error {
		var err error
		value, loaded, err = lookup(txn, encodeKey(key))
		return err
	})
	return value, loaded, err
}

func (b *badgerImpl) Has(key string) (loaded bool, err error) {
	err = b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(encodeKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		loaded = err == nil
		return err
	})
	return loaded, err
}

// Range iterates a consistent read snapshot in key order
func (b *badgerImpl) Range(fn func(key string, value []byte) bool) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{keyPrefix}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !fn(decodeKey(item.Key()), value) {
				break
			}
		}
		return nil
	})
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save writes the magic, the version (uint8) and a full badger backup
func (b *badgerImpl) Save(w io.Writer) error {
	bw := bufio.NewWriterSize(w, 1024*1024)

	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	if err := bw.WriteByte(badgerVersion); err != nil {
		return err
	}
	if _, err := b.db.Backup(bw, 0); err != nil {
		return fmt.Errorf("badger: backup: %w", err)
	}
	return bw.Flush()
}

// Load replaces the content of the database with a snapshot written by Save.
// The header is verified before any data is dropped.
func (b *badgerImpl) Load(r io.Reader) error {
	br := bufio.NewReaderSize(r, 1024*1024)

	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}
	version, err := br.ReadByte()
	if err != nil {
		return err
	}
	if version != badgerVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, badgerVersion)
	}

	if err := b.db.DropAll(); err != nil {
		return fmt.Errorf("badger: drop all: %w", err)
	}
	if err := b.db.Load(br, 256); err != nil {
		return fmt.Errorf("badger: load: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Features and Metadata
// --------------------------------------------------------------------------

func (b *badgerImpl) GetInfo() db.DatabaseInfo {
	lsm, vlog := b.db.Size()

	keys := 0
	_ = b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte{keyPrefix}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys++
		}
		return nil
	})

	meta := &struct {
		Dir      string `json:"dir,omitempty"`
		InMemory bool   `json:"in_memory"`
		LSMSize  int64  `json:"lsm_size"`
		VLogSize int64  `json:"vlog_size"`
	}{
		Dir:      b.opts.Dir,
		InMemory: b.opts.InMemory,
		LSMSize:  lsm,
		VLogSize: vlog,
	}

	features := make([]db.Feature, 0, 8)
	for f := db.FeatureSet; f <= db.FeaturePersistent; f <<= 1 {
		if b.features&f != 0 {
			features = append(features, f)
		}
	}

	return db.DatabaseInfo{
		SizeBytes:         int(lsm + vlog),
		Keys:              keys,
		DbType:            db.ImplBadger,
		SupportedFeatures: features,
		Metadata:          meta,
	}
}

func (b *badgerImpl) SupportsFeature(feature db.Feature) bool {
	return b.features&feature == feature
}

// Close stops the value log gc and closes the database
func (b *badgerImpl) Close() error {
	b.stopOnce.Do(func() {
		if !b.opts.InMemory {
			close(b.stopGC)
		}
	})
	<-b.gcDone
	return b.db.Close()
}

// --------------------------------------------------------------------------
// Value log gc
// --------------------------------------------------------------------------

func (b *badgerImpl) gcLoop() {
	defer close(b.gcDone)

	interval := b.opts.GCInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopGC:
			return
		case <-ticker.C:
			rewrites := 0
			for {
				err := b.db.RunValueLogGC(0.5)
				if err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
						Logger.Warningf("value log gc failed: %v", err)
					}
					break
				}
				rewrites++
			}
			if rewrites > 0 {
				Logger.Debugf("value log gc rewrote %d files", rewrites)
			}
		}
	}
}
