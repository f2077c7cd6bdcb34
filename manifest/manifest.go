package manifest

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/oarkflow/emberdb/errs"
	"github.com/oarkflow/emberdb/sstable"
)

const fileName = "MANIFEST"
const backupSuffix = ".bak"

// Manifest is the single file tracking the live set of SSTables and the
// engine's sequence number: a snapshot followed by an append log of
// incremental records, periodically collapsed (spec §3, §4.2). No teacher
// file covers this shape directly; grounded on
// return2faye-SiltKV/internal/lsm/manifest.go's snapshot+temp-file+rename
// discipline, generalised to this spec's typed record set and automatic
// log-threshold rewrite.
type Manifest struct {
	mu sync.Mutex

	dir  string
	path string

	sstables  map[string]sstable.Meta
	sequence  uint64
	logFile   *os.File
	logCount  int
	threshold int
}

// Open loads dir/MANIFEST if present (snapshot, then every log record in
// order) and reopens the log for further appends. A missing manifest file
// starts from an empty snapshot.
func Open(dir string, logThreshold int) (*Manifest, error) {
	path := filepath.Join(dir, fileName)
	m := &Manifest{
		dir:       dir,
		path:      path,
		sstables:  make(map[string]sstable.Meta),
		threshold: logThreshold,
	}

	if _, err := os.Stat(path); err == nil {
		if err := m.loadLocked(); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, errs.Wrap(errs.Io, "stat manifest", err)
	} else {
		if err := m.writeSnapshotLocked(path); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.Io, "open manifest for append", err)
	}
	m.logFile = f
	return m, nil
}

func (m *Manifest) loadLocked() error {
	f, err := os.Open(m.path)
	if err != nil {
		return errs.Wrap(errs.Io, "open manifest", err)
	}
	defer f.Close()

	snapshot, err := readFramed(f)
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return errs.Wrap(errs.Corruption, "read manifest snapshot", err)
	}
	if err := m.applySnapshot(snapshot); err != nil {
		return err
	}

	for {
		payload, err := readFramed(f)
		if err != nil {
			if err == io.EOF {
				break
			}
			return errs.Wrap(errs.Corruption, "read manifest log record", err)
		}
		rec, err := decodeRecord(payload)
		if err != nil {
			return err
		}
		m.applyRecordLocked(rec)
		m.logCount++
	}
	return nil
}

func (m *Manifest) applyRecordLocked(rec record) {
	switch rec.Type {
	case recordAddSSTable:
		m.sstables[rec.Meta.Path] = rec.Meta
	case recordRemoveSSTable:
		delete(m.sstables, rec.Path)
	case recordUpdateSequence:
		m.sequence = rec.Sequence
	case recordCompactionDone:
		// bookkeeping only; AddSSTable/RemoveSSTable records already carry
		// the actual set mutation.
	}
}

// snapshot wire format: sequence:u64_le | count:u32_le | count * encodeMeta.
func (m *Manifest) applySnapshot(b []byte) error {
	r := bytes.NewReader(b)
	var seq uint64
	if err := readUint64(r, &seq); err != nil {
		return errs.Wrap(errs.Corruption, "manifest snapshot: sequence", err)
	}
	m.sequence = seq

	var count uint32
	if err := readUint32(r, &count); err != nil {
		return errs.Wrap(errs.Corruption, "manifest snapshot: count", err)
	}
	for i := uint32(0); i < count; i++ {
		meta, err := decodeMeta(r)
		if err != nil {
			return errs.Wrap(errs.Corruption, "manifest snapshot: entry", err)
		}
		m.sstables[meta.Path] = meta
	}
	return nil
}

func (m *Manifest) encodeSnapshotLocked() []byte {
	var buf bytes.Buffer
	writeUint64(&buf, m.sequence)
	writeUint32(&buf, uint32(len(m.sstables)))
	for _, meta := range m.sstables {
		encodeMeta(&buf, meta)
	}
	return buf.Bytes()
}

func (m *Manifest) writeSnapshotLocked(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.Wrap(errs.Io, "create manifest", err)
	}
	if err := writeFramed(f, m.encodeSnapshotLocked()); err != nil {
		f.Close()
		return errs.Wrap(errs.Io, "write manifest snapshot", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errs.Wrap(errs.Io, "fsync manifest", err)
	}
	return f.Close()
}

// AddSSTable appends an AddSSTable record and installs meta into the live
// set.
func (m *Manifest) AddSSTable(meta sstable.Meta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.appendLocked(addSSTableRecord(meta)); err != nil {
		return err
	}
	m.sstables[meta.Path] = meta
	return m.maybeRewriteLocked()
}

// RemoveSSTable appends a RemoveSSTable record and drops path from the live
// set.
func (m *Manifest) RemoveSSTable(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.appendLocked(removeSSTableRecord(path)); err != nil {
		return err
	}
	delete(m.sstables, path)
	return m.maybeRewriteLocked()
}

// UpdateSequence appends an UpdateSequence record and advances the
// in-memory sequence counter.
func (m *Manifest) UpdateSequence(seq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.appendLocked(updateSequenceRecord(seq)); err != nil {
		return err
	}
	m.sequence = seq
	return m.maybeRewriteLocked()
}

// RecordCompaction appends a CompactionDone bookkeeping record. Callers are
// expected to also call AddSSTable for every output and RemoveSSTable for
// every input, in either order, within the same compaction pass.
func (m *Manifest) RecordCompaction(level int, inputs, outputs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.appendLocked(compactionDoneRecord(level, inputs, outputs)); err != nil {
		return err
	}
	return m.maybeRewriteLocked()
}

func (m *Manifest) appendLocked(rec record) error {
	if err := writeFramed(m.logFile, encodeRecord(rec)); err != nil {
		return errs.Wrap(errs.Io, "append manifest log record", err)
	}
	if err := m.logFile.Sync(); err != nil {
		return errs.Wrap(errs.Io, "fsync manifest log", err)
	}
	m.logCount++
	return nil
}

// maybeRewriteLocked collapses the log into a fresh snapshot once logCount
// reaches the configured threshold, via the MANIFEST.bak rename protocol in
// spec §4.2.
func (m *Manifest) maybeRewriteLocked() error {
	if m.logCount < m.threshold {
		return nil
	}

	bakPath := m.path + backupSuffix
	if err := m.writeSnapshotLocked(bakPath); err != nil {
		return err
	}
	if err := m.logFile.Close(); err != nil {
		return errs.Wrap(errs.Io, "close manifest log before rewrite", err)
	}
	if err := os.Rename(bakPath, m.path); err != nil {
		return errs.Wrap(errs.Io, "rename manifest snapshot into place", err)
	}

	f, err := os.OpenFile(m.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errs.Wrap(errs.Io, "reopen manifest for append", err)
	}
	m.logFile = f
	m.logCount = 0
	return nil
}

// Sequence returns the manifest's current sequence number.
func (m *Manifest) Sequence() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sequence
}

// Live returns a copy of every currently live SSTable's metadata.
func (m *Manifest) Live() []sstable.Meta {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sstable.Meta, 0, len(m.sstables))
	for _, meta := range m.sstables {
		out = append(out, meta)
	}
	return out
}

// Close closes the manifest's log file handle.
func (m *Manifest) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.logFile == nil {
		return nil
	}
	return m.logFile.Close()
}
