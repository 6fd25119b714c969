package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragflow/internal/domain"
	domrun "github.com/kailas-cloud/ragflow/internal/domain/run"
)

// errStoreClosed is returned by Ping after Close.
var errStoreClosed = errors.New("badger run store closed")

// BadgerStore keeps runs in an embedded Badger database.
type BadgerStore struct {
	db  *badger.DB
	ttl time.Duration
}

// badgerLogger adapts zap to the badger.Logger interface.
type badgerLogger struct {
	logger *zap.SugaredLogger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, items ...any)   { l.logger.Errorf(msg, items...) }
func (l *badgerLogger) Warningf(msg string, items ...any) { l.logger.Warnf(msg, items...) }
func (l *badgerLogger) Infof(msg string, items ...any)    { l.logger.Infof(msg, items...) }
func (l *badgerLogger) Debugf(msg string, items ...any)   { l.logger.Debugf(msg, items...) }

// OpenBadger opens (or creates) a Badger run store at path. An empty path
// with inMemory=true opens a throwaway in-memory store. ttl <= 0 keeps runs
// forever.
func OpenBadger(path string, inMemory bool, ttl time.Duration, logger *zap.Logger) (*BadgerStore, error) {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create badger dir %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	// badger is chatty at info level
	opts.Logger = &badgerLogger{logger: logger.Named("badger").WithOptions(
		zap.IncreaseLevel(zap.WarnLevel)).Sugar()}
	opts.Compression = options.None

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: bdb, ttl: ttl}, nil
}

// Close releases the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) put(key string, value []byte, ttl time.Duration) error {
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

// get returns (nil, false, nil) for a missing key.
func (s *BadgerStore) get(key string) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// Save writes the whole run record, replacing any previous version.
func (s *BadgerStore) Save(_ context.Context, r *domrun.Run) error {
	data, err := encodeRun(r)
	if err != nil {
		return err
	}
	if err := s.put(runKey(r.ID), data, s.ttl); err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return nil
}

// Get loads a run. Unknown or expired ids return domain.ErrRunNotFound.
func (s *BadgerStore) Get(_ context.Context, id string) (*domrun.Run, error) {
	data, ok, err := s.get(runKey(id))
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrRunNotFound)
	}
	return decodeRun(id, data)
}

// RequestCancel raises the cancel flag.
func (s *BadgerStore) RequestCancel(_ context.Context, id string) error {
	if err := s.put(cancelKey(id), []byte("1"), s.ttl); err != nil {
		return fmt.Errorf("request cancel %s: %w", id, err)
	}
	return nil
}

// CancelRequested reports whether the cancel flag is raised.
func (s *BadgerStore) CancelRequested(_ context.Context, id string) (bool, error) {
	_, ok, err := s.get(cancelKey(id))
	if err != nil {
		return false, fmt.Errorf("check cancel %s: %w", id, err)
	}
	return ok, nil
}

// ChunkCount returns the chunk count of the last ingestion of sourceID.
func (s *BadgerStore) ChunkCount(_ context.Context, sourceID string) (int, bool, error) {
	data, ok, err := s.get(chunkCountKey(sourceID))
	if err != nil {
		return 0, false, fmt.Errorf("get chunk count %s: %w", sourceID, err)
	}
	if !ok {
		return 0, false, nil
	}
	n, err := decodeCount(sourceID, data)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// SetChunkCount records the chunk count of the latest ingestion of sourceID.
func (s *BadgerStore) SetChunkCount(_ context.Context, sourceID string, n int) error {
	if err := s.put(chunkCountKey(sourceID), []byte(strconv.Itoa(n)), 0); err != nil {
		return fmt.Errorf("set chunk count %s: %w", sourceID, err)
	}
	return nil
}

// Ping reports whether the database is still open.
func (s *BadgerStore) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return errStoreClosed
	}
	return nil
}
