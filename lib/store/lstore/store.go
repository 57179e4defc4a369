package lstore

import (
	"sort"

	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/ValentinKolb/pKV/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("store")

type storeImpl struct {
	db db.KVDB
}

// NewLocalStore creates a new local store instance on top of the database
// returned by factory.
func NewLocalStore(factory store.DBFactory) (store.IStore, error) {
	database, err := factory()
	if err != nil {
		return nil, store.WrapError(store.RetCInternalError, err, "failed to create the database")
	}
	info := database.GetInfo()
	Logger.Infof("local store created (engine=%s, keys=%d)", info.DbType, info.Keys)
	return &storeImpl{db: database}, nil
}

// require returns an UnsupportedOperation error if the database lacks a feature
func (s *storeImpl) require(feature db.Feature, op string) error {
	if !s.db.SupportsFeature(feature) {
		return store.NewError(store.RetCUnsupportedOperation, op+" operation is not supported")
	}
	return nil
}

// backend wraps an engine error
func backend(err error, op string) error {
	if err == nil {
		return nil
	}
	Logger.Warningf("%s failed: %v", op, err)
	return store.WrapError(store.RetCInternalError, err, op+" failed")
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Get(key string) ([]byte, bool, error) {
	if err := s.require(db.FeatureGet, "Get"); err != nil {
		return nil, false, err
	}
	value, loaded, err := s.db.Get(key)
	if err != nil {
		return nil, false, backend(err, "Get")
	}
	return value, loaded, nil
}

func (s *storeImpl) MGet(keys []string) ([][]byte, []bool, error) {
	if err := s.require(db.FeatureGet, "MGet"); err != nil {
		return nil, nil, err
	}
	values := make([][]byte, len(keys))
	loaded := make([]bool, len(keys))
	for i, key := range keys {
		var err error
		if values[i], loaded[i], err = s.db.Get(key); err != nil {
			return nil, nil, backend(err, "MGet")
		}
	}
	return values, loaded, nil
}

func (s *storeImpl) GetAll() ([]string, [][]byte, error) {
	if err := s.require(db.FeatureRange, "GetAll"); err != nil {
		return nil, nil, err
	}

	type entry struct {
		key   string
		value []byte
	}
	var entries []entry
	err := s.db.Range(func(key string, value []byte) bool {
		entries = append(entries, entry{key, value})
		return true
	})
	if err != nil {
		return nil, nil, backend(err, "GetAll")
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	keys := make([]string, len(entries))
	values := make([][]byte, len(entries))
	for i, e := range entries {
		keys[i], values[i] = e.key, e.value
	}
	return keys, values, nil
}

func (s *storeImpl) Set(key string, value []byte) ([]byte, bool, error) {
	if err := s.require(db.FeatureSet, "Set"); err != nil {
		return nil, false, err
	}
	prev, loaded, err := s.db.Set(key, value)
	if err != nil {
		return nil, false, backend(err, "Set")
	}
	return prev, loaded, nil
}

// MSet applies the pairs in order. The pairs are not applied atomically,
// a backend error leaves the earlier pairs written.
func (s *storeImpl) MSet(keys []string, values [][]byte) ([][]byte, []bool, error) {
	if err := s.require(db.FeatureSet, "MSet"); err != nil {
		return nil, nil, err
	}
	if len(keys) != len(values) {
		return nil, nil, store.NewError(store.RetCInvalidOperation, "MSet requires as many values as keys")
	}
	prevs := make([][]byte, len(keys))
	loaded := make([]bool, len(keys))
	for i, key := range keys {
		var err error
		if prevs[i], loaded[i], err = s.db.Set(key, values[i]); err != nil {
			return nil, nil, backend(err, "MSet")
		}
	}
	return prevs, loaded, nil
}

func (s *storeImpl) Delete(key string) ([]byte, bool, error) {
	if err := s.require(db.FeatureDelete, "Delete"); err != nil {
		return nil, false, err
	}
	prev, loaded, err := s.db.Delete(key)
	if err != nil {
		return nil, false, backend(err, "Delete")
	}
	return prev, loaded, nil
}

func (s *storeImpl) MDelete(keys []string) ([][]byte, []bool, error) {
	if err := s.require(db.FeatureDelete, "MDelete"); err != nil {
		return nil, nil, err
	}
	prevs := make([][]byte, len(keys))
	loaded := make([]bool, len(keys))
	for i, key := range keys {
		var err error
		if prevs[i], loaded[i], err = s.db.Delete(key); err != nil {
			return nil, nil, backend(err, "MDelete")
		}
	}
	return prevs, loaded, nil
}

func (s *storeImpl) Has(key string) (bool, error) {
	if err := s.require(db.FeatureHas, "Has"); err != nil {
		return false, err
	}
	loaded, err := s.db.Has(key)
	if err != nil {
		return false, backend(err, "Has")
	}
	return loaded, nil
}

func (s *storeImpl) MHas(keys []string) ([]bool, error) {
	if err := s.require(db.FeatureHas, "MHas"); err != nil {
		return nil, err
	}
	loaded := make([]bool, len(keys))
	for i, key := range keys {
		var err error
		if loaded[i], err = s.db.Has(key); err != nil {
			return nil, backend(err, "MHas")
		}
	}
	return loaded, nil
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	return s.db.GetInfo(), nil
}

func (s *storeImpl) Close() error {
	return backend(s.db.Close(), "Close")
}
