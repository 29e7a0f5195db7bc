// Package objstore implements the persistence engine beneath the entity
// store: a fixed set of data files holding variable-length object bodies,
// written through a crash-safe write plan/journal, with a fault injector for
// exercising recovery.
//
// Grounded on internal/target/queue's disk metadata persistence
// (create-temp-file, fsync, atomic rename) generalized from "one JSON file
// per queued message" into "N shared data files plus one journal".
package objstore

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// NrDataFiles is the compile-time number of fixed data files per store
// directory.
const NrDataFiles = 16

const journalName = "wal.journal"

// OpIntent tags a single write-plan step.
type OpIntent int

const (
	// OpWrite (re)writes bytes at an offset in a data file.
	OpWrite OpIntent = iota
	// OpFree marks a previously written slot as reusable.
	OpFree
)

// Op is one step of a write plan.
type Op struct {
	File   int      `json:"f"`
	Offset int64    `json:"o"`
	Bytes  []byte   `json:"b,omitempty"`
	Intent OpIntent `json:"i"`
}

// Plan is the list of operations a transaction accumulates before commit.
type Plan struct {
	Ops []Op `json:"ops"`
}

// Stats exposes the counters required by the entity store layer above;
// fields are exported atomics so callers can Add directly.
type Stats struct {
	RunTxExclusive       atomic.Int64
	TryRunTxNonExclusive atomic.Int64
	NonExclusiveGiveUps  atomic.Int64
	StartTx              atomic.Int64
	CommitTx              atomic.Int64
	AbortTx              atomic.Int64
}

// Snapshot is a point-in-time copy of Stats suitable for printing/JSON.
type Snapshot struct {
	RunTxExclusive       int64
	TryRunTxNonExclusive int64
	NonExclusiveGiveUps  int64
	StartTx              int64
	CommitTx             int64
	AbortTx              int64
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		RunTxExclusive:       s.RunTxExclusive.Load(),
		TryRunTxNonExclusive: s.TryRunTxNonExclusive.Load(),
		NonExclusiveGiveUps:  s.NonExclusiveGiveUps.Load(),
		StartTx:              s.StartTx.Load(),
		CommitTx:             s.CommitTx.Load(),
		AbortTx:              s.AbortTx.Load(),
	}
}

// Ref locates an object's body within the fixed data-file set.
type Ref struct {
	File   int
	Offset int64
	Length int64
}

// faultInjector simulates crash points inside Commit's apply phase.
type faultInjector struct {
	mu      sync.Mutex
	enabled bool
	odds    int
	rng     *rand.Rand
}

func (f *faultInjector) shouldFail() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.enabled || f.odds <= 0 {
		return false
	}
	return f.rng.Intn(f.odds) == 0
}

// Store manages the fixed data files and write-ahead journal for one
// directory.
type Store struct {
	dir   string
	files [NrDataFiles]*os.File

	mu sync.Mutex // guards file writes and journal lifecycle

	fault faultInjector

	Stats Stats
}

// Open opens (creating if necessary) the data files and journal under dir,
// replaying any complete journal left by a prior crash and discarding any
// partial one.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, fmt.Errorf("objstore: mkdir: %w", err)
	}

	st := &Store{dir: dir}
	st.fault.rng = rand.New(rand.NewSource(1))

	for i := 0; i < NrDataFiles; i++ {
		f, err := os.OpenFile(st.dataFilePath(i), os.O_RDWR|os.O_CREATE, 0o600)
		if err != nil {
			return nil, fmt.Errorf("objstore: open data file %d: %w", i, err)
		}
		st.files[i] = f
	}

	if err := st.recover(); err != nil {
		return nil, err
	}

	return st, nil
}

func (st *Store) dataFilePath(i int) string {
	return filepath.Join(st.dir, fmt.Sprintf("data.%02d", i))
}

func (st *Store) journalPath() string {
	return filepath.Join(st.dir, journalName)
}

// Close closes all underlying file descriptors.
func (st *Store) Close() error {
	var firstErr error
	for _, f := range st.files {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SetWritePlanTest installs (enable=true) or removes (enable=false) a fault
// injector: each write-plan apply step thereafter fails with probability
// 1/odds, simulating a crash mid-commit. The store must remain consistent
// across any such injected failure.
func (st *Store) SetWritePlanTest(enable bool, odds int) {
	st.fault.mu.Lock()
	defer st.fault.mu.Unlock()
	st.fault.enabled = enable
	st.fault.odds = odds
}

// injectedFailure is returned by Commit when the fault injector fires; it is
// a distinguishable sentinel so tests can assert on it without the store
// being left inconsistent.
type injectedFailure struct{ atStep int }

func (e *injectedFailure) Error() string {
	return fmt.Sprintf("objstore: injected write-plan failure at step %d", e.atStep)
}

// Commit durably applies plan: it is serialized to the journal, fsynced,
// applied to the data files, fsynced again, and the journal is removed. If
// the process dies at any point, Open's recovery logic either finishes the
// apply (journal was complete) or discards it (journal was partial/missing),
// so a Commit call that returns an *injectedFailure error still leaves the
// store recoverable on the next Open.
func (st *Store) Commit(plan Plan) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if len(plan.Ops) == 0 {
		return nil
	}

	if err := st.writeJournal(plan); err != nil {
		return fmt.Errorf("objstore: write journal: %w", err)
	}

	if err := st.applyPlan(plan); err != nil {
		// Journal is still on disk; next Open will replay it to finish
		// the job, so this is not data loss, just a delayed commit.
		return err
	}

	if err := os.Remove(st.journalPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("objstore: remove journal: %w", err)
	}
	return nil
}

func (st *Store) writeJournal(plan Plan) error {
	tmp := st.journalPath() + ".new"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(f)
	if err := enc.Encode(plan); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, st.journalPath())
}

func (st *Store) applyPlan(plan Plan) error {
	for i, op := range plan.Ops {
		if st.fault.shouldFail() {
			return &injectedFailure{atStep: i}
		}
		if err := st.applyOp(op); err != nil {
			return err
		}
	}
	for _, f := range st.files {
		if err := f.Sync(); err != nil {
			return err
		}
	}
	return nil
}

func (st *Store) applyOp(op Op) error {
	f := st.files[op.File]
	switch op.Intent {
	case OpWrite:
		hdr := make([]byte, 8)
		binary.BigEndian.PutUint64(hdr, uint64(len(op.Bytes)))
		if _, err := f.WriteAt(hdr, op.Offset); err != nil {
			return err
		}
		if _, err := f.WriteAt(op.Bytes, op.Offset+8); err != nil {
			return err
		}
		return nil
	case OpFree:
		zero := make([]byte, 8)
		_, err := f.WriteAt(zero, op.Offset)
		return err
	default:
		return fmt.Errorf("objstore: unknown op intent %d", op.Intent)
	}
}

// recover replays a complete journal found at startup, or discards a
// truncated/corrupt one — the crash-tolerance half of the write-plan
// contract.
func (st *Store) recover() error {
	f, err := os.Open(st.journalPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	var plan Plan
	dec := json.NewDecoder(bufio.NewReader(f))
	if err := dec.Decode(&plan); err != nil {
		if err == io.EOF {
			// Empty/truncated journal from a crash between create and
			// fsync: nothing was committed, safe to discard.
			return os.Remove(st.journalPath())
		}
		return os.Remove(st.journalPath())
	}

	if err := st.applyPlan(plan); err != nil {
		return fmt.Errorf("objstore: recovery replay failed: %w", err)
	}
	return os.Remove(st.journalPath())
}

// Append appends body to the data file selected by fileIdx and returns a Ref
// to it. Callers (the entity store) choose fileIdx, typically by hashing the
// object id, so related writes spread across the fixed file set.
func (st *Store) Append(plan *Plan, fileIdx int, body []byte) (Ref, error) {
	if fileIdx < 0 || fileIdx >= NrDataFiles {
		return Ref{}, fmt.Errorf("objstore: file index %d out of range", fileIdx)
	}

	off, err := st.files[fileIdx].Seek(0, io.SeekEnd)
	if err != nil {
		return Ref{}, err
	}
	// Earlier writes to the same file in this plan are not on disk yet;
	// place this body after them.
	for _, op := range plan.Ops {
		if op.File == fileIdx && op.Intent == OpWrite {
			if end := op.Offset + 8 + int64(len(op.Bytes)); end > off {
				off = end
			}
		}
	}

	plan.Ops = append(plan.Ops, Op{
		File:   fileIdx,
		Offset: off,
		Bytes:  body,
		Intent: OpWrite,
	})

	return Ref{File: fileIdx, Offset: off, Length: int64(len(body))}, nil
}

// Read returns the bytes at ref, independent of any in-flight plan.
func (st *Store) Read(ref Ref) ([]byte, error) {
	hdr := make([]byte, 8)
	if _, err := st.files[ref.File].ReadAt(hdr, ref.Offset); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint64(hdr)
	buf := make([]byte, n)
	if _, err := st.files[ref.File].ReadAt(buf, ref.Offset+8); err != nil {
		return nil, err
	}
	return buf, nil
}

// Free records that ref's slot is no longer referenced.
func (st *Store) Free(plan *Plan, ref Ref) {
	plan.Ops = append(plan.Ops, Op{File: ref.File, Offset: ref.Offset, Intent: OpFree})
}
