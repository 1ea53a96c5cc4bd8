package embedding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Cache stores embeddings by content key.
type Cache interface {
	Get(key string) ([]float32, bool, error)
	Put(key string, vec []float32) error
	Close() error
}

const cachePrefix = "emb:"

// BadgerCache is a Cache backed by BadgerDB.
type BadgerCache struct {
	db *badger.DB
}

// OpenBadgerCache opens or creates a cache directory at dir. An empty dir
// opens an in-memory cache.
func OpenBadgerCache(dir string) (*BadgerCache, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache dir: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLogger{logger: slog.Default().With("component", "embedding_cache")}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedding cache: %w", err)
	}
	return &BadgerCache{db: db}, nil
}

// Get returns the cached vector for key.
func (c *BadgerCache) Get(key string) ([]float32, bool, error) {
	var vec []float32
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(cachePrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			vec, err = decodeVector(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

// Put stores vec under key.
func (c *BadgerCache) Put(key string, vec []float32) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(cachePrefix+key), encodeVector(vec))
	})
}

// Close closes the underlying database.
func (c *BadgerCache) Close() error {
	return c.db.Close()
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("corrupt cached vector of %d bytes", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec, nil
}

// badgerLogger routes badger's logging to slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(msg string, args ...any) {
	l.logger.Error(fmt.Sprintf(msg, args...))
}

func (l *badgerLogger) Warningf(msg string, args ...any) {
	l.logger.Warn(fmt.Sprintf(msg, args...))
}

func (l *badgerLogger) Infof(msg string, args ...any) {
	l.logger.Debug(fmt.Sprintf(msg, args...))
}

func (l *badgerLogger) Debugf(msg string, args ...any) {
	l.logger.Debug(fmt.Sprintf(msg, args...))
}
