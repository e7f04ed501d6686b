package recorder

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/saworbit/fileloop/internal/metrics"
	"github.com/saworbit/fileloop/pkg/config"
	"github.com/saworbit/fileloop/pkg/delta"
)

const (
	PrefixLog     = "log:"
	PrefixSession = "meta:session:"
)

const (
	OpCreate = "create"
	OpWrite  = "write"
	OpRemove = "remove"
)

var errNoSession = errors.New("journal has no active session")

// Entry is one observed filesystem event.
type Entry struct {
	Session   string `json:"session"`
	Timestamp int64  `json:"ts"` // Nanoseconds
	Path      string `json:"path"`
	Op        string `json:"op"`
	Digest    string `json:"digest,omitempty"` // base58 multihash of the full content
	Size      int    `json:"size"`
	Encoding  string `json:"enc"`               // full | bsdiff | none
	Payload   []byte `json:"payload,omitempty"` // compressed codec output
}

// Session describes one watch run.
type Session struct {
	ID    string `json:"id"`
	Start int64  `json:"start"`
	Root  string `json:"root"`
}

// Journal appends observed events to Pebble under a time-ordered prefix. Each
// path's content is delta-encoded against the last recorded version of that
// path; a remove resets the chain.
type Journal struct {
	db       *pebble.DB
	readOnly bool
	codec    delta.Codec
	hashAlgo string
	now      func() time.Time

	mu         sync.Mutex
	session    Session
	lastTS     int64
	last       map[string][]byte
	lastDigest map[string]string
}

// Open opens (creating if needed) the journal stored in stateDir for writing.
func Open(stateDir string, cfg config.RecorderConfig) (*Journal, error) {
	return open(stateDir, cfg, false)
}

// OpenReadOnly opens an existing journal for replay.
func OpenReadOnly(stateDir string, cfg config.RecorderConfig) (*Journal, error) {
	return open(stateDir, cfg, true)
}

func open(stateDir string, cfg config.RecorderConfig, readOnly bool) (*Journal, error) {
	codec, err := delta.ForName(cfg.Delta)
	if err != nil {
		return nil, err
	}

	db, err := pebble.Open(stateDir, &pebble.Options{ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}

	return &Journal{
		db:         db,
		readOnly:   readOnly,
		codec:      codec,
		hashAlgo:   cfg.HashAlgo,
		now:        time.Now,
		last:       make(map[string][]byte),
		lastDigest: make(map[string]string),
	}, nil
}

// StartSession begins a new session rooted at root. Entries appended afterwards
// carry its ID.
func (j *Journal) StartSession(root string) (Session, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	s := Session{
		ID:    uuid.NewString(),
		Start: j.now().UnixNano(),
		Root:  root,
	}

	val, err := json.Marshal(s)
	if err != nil {
		return Session{}, fmt.Errorf("marshal session: %w", err)
	}
	if err := j.db.Set([]byte(PrefixSession+s.ID), val, pebble.Sync); err != nil {
		return Session{}, fmt.Errorf("write session: %w", err)
	}

	j.session = s
	j.last = make(map[string][]byte)
	j.lastDigest = make(map[string]string)
	return s, nil
}

// Session returns the active session.
func (j *Journal) Session() Session {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.session
}

// Append records op for path. data is the full file content after the event
// and is ignored for removes. It reports false when a write carried no change.
func (j *Journal) Append(op, path string, data []byte) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.session.ID == "" {
		return false, errNoSession
	}

	entry := Entry{
		Session:   j.session.ID,
		Timestamp: j.nextTimestamp(),
		Path:      path,
		Op:        op,
		Encoding:  "none",
	}

	if op == OpRemove {
		if err := j.write(entry); err != nil {
			return false, err
		}
		delete(j.last, path)
		delete(j.lastDigest, path)
		return true, nil
	}

	digest, err := Digest(data, j.hashAlgo)
	if err != nil {
		return false, err
	}
	if op == OpWrite && j.lastDigest[path] == digest {
		return false, nil
	}

	prev := j.last[path]
	payload, err := j.codec.Encode(prev, data)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", path, err)
	}
	compressed, err := compress(payload)
	if err != nil {
		return false, fmt.Errorf("compress %s: %w", path, err)
	}

	entry.Digest = digest
	entry.Size = len(data)
	entry.Encoding = j.codec.Name()
	if len(prev) == 0 {
		entry.Encoding = delta.Full{}.Name()
	}
	entry.Payload = compressed

	if err := j.write(entry); err != nil {
		return false, err
	}

	j.last[path] = append([]byte(nil), data...)
	j.lastDigest[path] = digest
	metrics.SetDeltaRatio(entry.Encoding, delta.Ratio(data, compressed))
	return true, nil
}

// nextTimestamp keeps keys strictly increasing even when the clock repeats.
func (j *Journal) nextTimestamp() int64 {
	ts := j.now().UnixNano()
	if ts <= j.lastTS {
		ts = j.lastTS + 1
	}
	j.lastTS = ts
	return ts
}

func (j *Journal) write(entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}

	keySuffix, err := randomSuffix()
	if err != nil {
		return fmt.Errorf("generate journal key: %w", err)
	}

	key := []byte(fmt.Sprintf("%s%020d:%s", PrefixLog, entry.Timestamp, keySuffix))

	batch := j.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(key, payload, pebble.NoSync); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}

	if err := batch.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("commit journal entry: %w", err)
	}

	return nil
}

// Sessions lists recorded sessions, oldest first.
func (j *Journal) Sessions() ([]Session, error) {
	iter, err := newPrefixIter(j.db, PrefixSession)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var sessions []Session
	for iter.First(); iter.Valid(); iter.Next() {
		var s Session
		if err := json.Unmarshal(iter.Value(), &s); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", iter.Key(), err)
		}
		sessions = append(sessions, s)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	sort.Slice(sessions, func(a, b int) bool { return sessions[a].Start < sessions[b].Start })
	return sessions, nil
}

// Entries returns the entries of sessionID in recording order. An empty
// sessionID returns every entry.
func (j *Journal) Entries(sessionID string) ([]Entry, error) {
	iter, err := newPrefixIter(j.db, PrefixLog)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var entries []Entry
	for iter.First(); iter.Valid(); iter.Next() {
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("decode entry %s: %w", iter.Key(), err)
		}
		if sessionID != "" && e.Session != sessionID {
			continue
		}
		entries = append(entries, e)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	return entries, nil
}

// Close flushes pending writes and closes the database.
func (j *Journal) Close() error {
	var result *multierror.Error
	if !j.readOnly {
		if err := j.db.Flush(); err != nil {
			result = multierror.Append(result, fmt.Errorf("flush journal: %w", err))
		}
	}
	if err := j.db.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close journal: %w", err))
	}
	return result.ErrorOrNil()
}

func newPrefixIter(db *pebble.DB, prefix string) (*pebble.Iterator, error) {
	upper := append([]byte(prefix), 0xff)
	return db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upper,
	})
}

func randomSuffix() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
