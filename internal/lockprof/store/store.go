// Package store archives captured sessions in BadgerDB.
//
// An event log is a flat file tied to one run. The store keeps many sessions
// side by side so reports can be rebuilt later from a snapshot without the
// original files.
//
// Key layout:
//
//	m/<session:16>                                   -> eventlog.Header (JSON)
//	s/<session:16><seq:8><goroutine:8><lock:8>       -> record (JSON)
//
// All integers are big-endian, the goroutine ID with its sign bit flipped, so
// a prefix scan over one session yields records in access.Compare order.
// Records with equal keys are collapsed to the one report.Build would keep:
// the archive always holds the collapsed view.
package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/kolkov/lockprof/internal/lockprof/access"
	"github.com/kolkov/lockprof/internal/lockprof/eventlog"
	"github.com/kolkov/lockprof/internal/lockprof/report"
)

var (
	metaPrefix    = []byte("m/")
	sessionPrefix = []byte("s/")

	// ErrSessionNotFound is returned by Load for unknown sessions.
	ErrSessionNotFound = errors.New("store: session not found")
)

// Config holds configuration for a Store.
type Config struct {
	// Path is the BadgerDB directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Useful for tests.
	InMemory bool

	// SyncWrites makes every commit durable before returning.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. nil disables them.
	Logger *slog.Logger
}

// DefaultConfig returns a durable on-disk configuration rooted at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is a BadgerDB-backed archive of capture sessions.
//
// Thread Safety: safe for concurrent use, as is the underlying *badger.DB.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) a store.
func Open(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("store: path is required for persistent stores")
		}
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// putChunk bounds the records written per transaction.
const putChunk = 1000

// Put archives records under the session described by h. Calling Put again
// for the same session adds records; the header is overwritten.
//
// Records sharing a key are collapsed the way report.Build does it: the one
// that sorts first under report.ComparePayload wins, whether the duplicates
// arrive in one call or across several.
func (s *Store) Put(ctx context.Context, h eventlog.Header, records []access.Access) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	meta, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("store: encode header: %w", err)
	}
	collapsed := report.Build(records).All()

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey(h.Session), meta)
	}); err != nil {
		return fmt.Errorf("store: write header: %w", err)
	}

	for start := 0; start < len(collapsed); start += putChunk {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk := collapsed[start:min(start+putChunk, len(collapsed))]
		if err := s.db.Update(func(txn *badger.Txn) error {
			return putRecords(txn, h.Session, chunk)
		}); err != nil {
			return fmt.Errorf("store: write records: %w", err)
		}
	}
	return nil
}

// putRecords writes each record unless an archived one with the same key
// already sorts first.
func putRecords(txn *badger.Txn, session uuid.UUID, records []access.Access) error {
	for _, a := range records {
		key := recordKey(session, a)

		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			var existing access.Access
			if err := item.Value(func(val []byte) error {
				existing, err = eventlog.UnmarshalAccess(val)
				return err
			}); err != nil {
				return fmt.Errorf("decode record %d: %w", a.Seq, err)
			}
			if report.ComparePayload(existing, a) <= 0 {
				continue
			}
		}

		val, err := eventlog.MarshalAccess(a)
		if err != nil {
			return fmt.Errorf("encode record %d: %w", a.Seq, err)
		}
		if err := txn.Set(key, val); err != nil {
			return fmt.Errorf("record %d: %w", a.Seq, err)
		}
	}
	return nil
}

// Load returns the header and every record of a session in total order.
func (s *Store) Load(ctx context.Context, session uuid.UUID) (*eventlog.Log, error) {
	var log eventlog.Log

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(session))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, session)
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &log.Header)
		}); err != nil {
			return fmt.Errorf("decode header: %w", err)
		}

		prefix := append(append([]byte{}, sessionPrefix...), session[:]...)
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: prefix})
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				a, err := eventlog.UnmarshalAccess(val)
				if err != nil {
					return err
				}
				log.Records = append(log.Records, a)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", session, err)
	}
	return &log, nil
}

// Sessions lists archived session headers ordered by session ID.
func (s *Store) Sessions(ctx context.Context) ([]eventlog.Header, error) {
	var out []eventlog.Header
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 16, Prefix: metaPrefix})
		defer it.Close()

		for it.Seek(metaPrefix); it.ValidForPrefix(metaPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var h eventlog.Header
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &h)
			}); err != nil {
				return fmt.Errorf("decode header: %w", err)
			}
			out = append(out, h)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	return out, nil
}

func metaKey(session uuid.UUID) []byte {
	key := make([]byte, 0, len(metaPrefix)+16)
	key = append(key, metaPrefix...)
	return append(key, session[:]...)
}

func recordKey(session uuid.UUID, a access.Access) []byte {
	key := make([]byte, 0, len(sessionPrefix)+16+24)
	key = append(key, sessionPrefix...)
	key = append(key, session[:]...)
	key = binary.BigEndian.AppendUint64(key, a.Seq)
	key = binary.BigEndian.AppendUint64(key, uint64(a.Accessor.ID)^(1<<63))
	return binary.BigEndian.AppendUint64(key, a.Target.ID)
}
