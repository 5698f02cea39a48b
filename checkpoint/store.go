/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package checkpoint

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"chainguard.dev/vlmensemble/ensemble"
	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"
)

const (
	formatVersion = 1
	logName       = "records.jsonl"
	snapshotName  = "snapshot.json"
)

var (
	// ErrIO wraps every failure to write the checkpoint.
	ErrIO = errors.New("checkpoint_io_error")

	// ErrDuplicate is returned by Append for a unit already persisted.
	ErrDuplicate = errors.New("unit already checkpointed")
)

// Namespace scopes a checkpoint to one model under one experiment.
type Namespace struct {
	Model      string `json:"model"`
	Experiment string `json:"experiment"`
}

// Validate checks that the namespace maps to a single directory.
func (n Namespace) Validate() error {
	for name, v := range map[string]string{"model": n.Model, "experiment": n.Experiment} {
		if v == "" || v == "." || v == ".." {
			return fmt.Errorf("namespace %s %q is invalid", name, v)
		}
		if strings.ContainsAny(v, `/\`) {
			return fmt.Errorf("namespace %s %q must not contain path separators", name, v)
		}
	}
	return nil
}

// Dir returns the namespace directory under root.
func (n Namespace) Dir(root string) string {
	return filepath.Join(root, n.Experiment, n.Model)
}

type envelope struct {
	V           int              `json:"v"`
	RunID       string           `json:"run_id"`
	Namespace   Namespace        `json:"namespace"`
	PersistedAt time.Time        `json:"persisted_at"`
	Record      *ensemble.Record `json:"record"`
}

type snapshot struct {
	V         int                `json:"v"`
	Namespace Namespace          `json:"namespace"`
	TakenAt   time.Time          `json:"taken_at"`
	LogOffset int64              `json:"log_offset"`
	Records   []*ensemble.Record `json:"records"`
}

// Store is the checkpoint of one namespace. It is safe for concurrent use;
// the lock is held only while a record is written.
type Store struct {
	dir   string
	ns    Namespace
	runID string

	snapshotEvery    int
	snapshotInterval time.Duration
	fsync            bool
	now              func() time.Time

	mu            sync.Mutex
	log           *os.File
	offset        int64
	needNewline   bool
	records       map[string]*ensemble.Record
	sinceSnapshot int
	lastSnapshot  time.Time
	malformed     int64
	closed        bool
}

// Open loads the latest state of ns under root and opens its log for
// appending.
func Open(ctx context.Context, root string, ns Namespace, opts ...Option) (*Store, error) {
	if err := ns.Validate(); err != nil {
		return nil, err
	}
	s := &Store{
		dir:           ns.Dir(root),
		ns:            ns,
		runID:         uuid.NewString(),
		snapshotEvery: DefaultSnapshotEvery,
		now:           time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %w", ErrIO, s.dir, err)
	}

	records, malformed, err := LoadLatest(root, ns)
	if err != nil {
		return nil, err
	}
	s.records = make(map[string]*ensemble.Record, len(records))
	for _, r := range records {
		s.records[r.UnitID] = r
	}
	s.malformed = malformed

	f, err := os.OpenFile(filepath.Join(s.dir, logName), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: opening log: %w", ErrIO, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat log: %w", ErrIO, err)
	}
	s.log, s.offset = f, fi.Size()
	if s.offset > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, s.offset-1); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: reading log tail: %w", ErrIO, err)
		}
		s.needNewline = last[0] != '\n'
	}
	s.lastSnapshot = s.now()

	log := clog.FromContext(ctx).With("experiment", ns.Experiment, "model", ns.Model, "run_id", s.runID)
	if malformed > 0 {
		log.Warnf("Skipped %d malformed checkpoint lines", malformed)
	}
	log.With("records", len(s.records)).Info("Opened checkpoint")
	return s, nil
}

// RunID identifies the lineage of records appended through this Store.
func (s *Store) RunID() string { return s.runID }

// Namespace returns the store's namespace.
func (s *Store) Namespace() Namespace { return s.ns }

// Malformed returns the number of log lines skipped while loading.
func (s *Store) Malformed() int64 { return s.malformed }

// Has reports whether unitID is already checkpointed.
func (s *Store) Has(unitID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[unitID]
	return ok
}

// Len returns the number of checkpointed records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Records returns a copy of every checkpointed record, sorted by unit ID.
func (s *Store) Records() []*ensemble.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked()
}

// Append persists rec as one log line. A record for a unit that is
// already checkpointed is rejected with ErrDuplicate.
func (s *Store) Append(ctx context.Context, rec *ensemble.Record) error {
	if rec == nil || rec.UnitID == "" {
		return errors.New("record must have a unit id")
	}
	line, err := json.Marshal(envelope{
		V:           formatVersion,
		RunID:       s.runID,
		Namespace:   s.ns,
		PersistedAt: s.now().UTC(),
		Record:      rec,
	})
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", rec.UnitID, err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: store is closed", ErrIO)
	}
	if _, ok := s.records[rec.UnitID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, rec.UnitID)
	}
	if s.needNewline {
		line = append([]byte{'\n'}, line...)
	}
	n, err := s.log.Write(line)
	s.offset += int64(n)
	if err != nil {
		s.needNewline = n > 0
		return fmt.Errorf("%w: appending %s: %w", ErrIO, rec.UnitID, err)
	}
	s.needNewline = false
	if s.fsync {
		if err := s.log.Sync(); err != nil {
			return fmt.Errorf("%w: syncing log: %w", ErrIO, err)
		}
	}
	s.records[rec.UnitID] = rec.Clone()
	s.sinceSnapshot++

	if s.snapshotDueLocked() {
		if err := s.snapshotLocked(); err != nil {
			return err
		}
		clog.FromContext(ctx).With("records", len(s.records), "log_offset", s.offset).Debug("Wrote checkpoint snapshot")
	}
	return nil
}

// Snapshot writes the full record set and returns it.
func (s *Store) Snapshot() ([]*ensemble.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.snapshotLocked(); err != nil {
		return nil, err
	}
	return s.sortedLocked(), nil
}

// Close writes a final snapshot and closes the log. Close is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	snapErr := s.snapshotLocked()
	if err := s.log.Close(); err != nil && snapErr == nil {
		return fmt.Errorf("%w: closing log: %w", ErrIO, err)
	}
	return snapErr
}

func (s *Store) snapshotDueLocked() bool {
	if s.snapshotEvery > 0 && s.sinceSnapshot >= s.snapshotEvery {
		return true
	}
	return s.snapshotInterval > 0 && s.now().Sub(s.lastSnapshot) >= s.snapshotInterval
}

func (s *Store) snapshotLocked() error {
	if s.fsync {
		if err := s.log.Sync(); err != nil {
			return fmt.Errorf("%w: syncing log: %w", ErrIO, err)
		}
	}
	snap := snapshot{
		V:         formatVersion,
		Namespace: s.ns,
		TakenAt:   s.now().UTC(),
		LogOffset: s.offset,
		Records:   s.sortedLocked(),
	}
	if err := writeAtomic(filepath.Join(s.dir, snapshotName), snap); err != nil {
		return fmt.Errorf("%w: writing snapshot: %w", ErrIO, err)
	}
	s.sinceSnapshot = 0
	s.lastSnapshot = s.now()
	return nil
}

func (s *Store) sortedLocked() []*ensemble.Record {
	out := make([]*ensemble.Record, 0, len(s.records))
	for _, id := range slices.Sorted(maps.Keys(s.records)) {
		out = append(out, s.records[id].Clone())
	}
	return out
}

func writeAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadLatest reads the checkpointed records of ns under root: the snapshot
// plus every log line written after it. It returns the records sorted by
// unit ID and the number of malformed log lines skipped. A missing
// checkpoint is empty, not an error.
func LoadLatest(root string, ns Namespace) ([]*ensemble.Record, int64, error) {
	if err := ns.Validate(); err != nil {
		return nil, 0, err
	}
	dir := ns.Dir(root)
	records := map[string]*ensemble.Record{}

	var offset int64
	b, err := os.ReadFile(filepath.Join(dir, snapshotName))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, 0, fmt.Errorf("%w: reading snapshot: %w", ErrIO, err)
	default:
		var snap snapshot
		if err := json.Unmarshal(b, &snap); err != nil {
			return nil, 0, fmt.Errorf("%w: decoding snapshot: %w", ErrIO, err)
		}
		if snap.V != formatVersion {
			return nil, 0, fmt.Errorf("%w: unsupported snapshot version %d", ErrIO, snap.V)
		}
		for _, r := range snap.Records {
			if r != nil && r.UnitID != "" {
				records[r.UnitID] = r
			}
		}
		offset = snap.LogOffset
	}

	f, err := os.Open(filepath.Join(dir, logName))
	if errors.Is(err, fs.ErrNotExist) {
		return sortRecords(records), 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: opening log: %w", ErrIO, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: stat log: %w", ErrIO, err)
	}
	if offset > fi.Size() {
		// The log is shorter than the snapshot remembers; replay all of it.
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("%w: seeking log: %w", ErrIO, err)
	}

	malformed, err := replay(bufio.NewReader(f), ns, records)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: reading log: %w", ErrIO, err)
	}
	return sortRecords(records), malformed, nil
}

func replay(r *bufio.Reader, ns Namespace, records map[string]*ensemble.Record) (int64, error) {
	var malformed int64
	for {
		line, err := r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var env envelope
			switch {
			case json.Unmarshal(line, &env) != nil,
				env.V != formatVersion,
				env.Record == nil,
				env.Record.UnitID == "",
				env.Namespace != ns:
				malformed++
			default:
				if _, dup := records[env.Record.UnitID]; !dup {
					records[env.Record.UnitID] = env.Record
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return malformed, nil
		}
		if err != nil {
			return malformed, err
		}
	}
}

func sortRecords(m map[string]*ensemble.Record) []*ensemble.Record {
	out := make([]*ensemble.Record, 0, len(m))
	for _, id := range slices.Sorted(maps.Keys(m)) {
		out = append(out, m[id])
	}
	return out
}
