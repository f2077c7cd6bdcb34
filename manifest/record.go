// Package manifest tracks the live set of SSTables and the engine's
// sequence number (spec §3 "Manifest", §4.2 "Manifest protocol", §6
// "Manifest file").
package manifest

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/oarkflow/emberdb/errs"
	"github.com/oarkflow/emberdb/sstable"
)

type recordType uint8

const (
	recordAddSSTable recordType = iota + 1
	recordRemoveSSTable
	recordUpdateSequence
	recordCompactionDone
)

// record is one manifest log entry. Only the fields relevant to its type
// are populated.
type record struct {
	Type     recordType
	Meta     sstable.Meta // AddSSTable
	Path     string       // RemoveSSTable
	Sequence uint64       // UpdateSequence
	Level    int          // CompactionDone
	Inputs   []string     // CompactionDone
	Outputs  []string     // CompactionDone
}

func addSSTableRecord(m sstable.Meta) record  { return record{Type: recordAddSSTable, Meta: m} }
func removeSSTableRecord(path string) record  { return record{Type: recordRemoveSSTable, Path: path} }
func updateSequenceRecord(seq uint64) record  { return record{Type: recordUpdateSequence, Sequence: seq} }
func compactionDoneRecord(level int, inputs, outputs []string) record {
	return record{Type: recordCompactionDone, Level: level, Inputs: inputs, Outputs: outputs}
}

func writeString(buf *bytes.Buffer, s string) {
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(s)))
	buf.Write(l[:])
	buf.WriteString(s)
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(b)))
	buf.Write(l[:])
	buf.Write(b)
}

func writeStringSlice(buf *bytes.Buffer, ss []string) {
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(ss)))
	buf.Write(l[:])
	for _, s := range ss {
		writeString(buf, s)
	}
}

func readString(r *bytes.Reader) (string, error) {
	var l uint32
	if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
		return "", err
	}
	b := make([]byte, l)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	var l uint32
	if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
		return nil, err
	}
	b := make([]byte, l)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	binary.Write(buf, binary.LittleEndian, v)
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	binary.Write(buf, binary.LittleEndian, v)
}

func readUint64(r *bytes.Reader, out *uint64) error {
	return binary.Read(r, binary.LittleEndian, out)
}

func readUint32(r *bytes.Reader, out *uint32) error {
	return binary.Read(r, binary.LittleEndian, out)
}

func readStringSlice(r *bytes.Reader) ([]string, error) {
	var l uint32
	if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
		return nil, err
	}
	out := make([]string, 0, l)
	for i := uint32(0); i < l; i++ {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func encodeMeta(buf *bytes.Buffer, m sstable.Meta) {
	writeString(buf, m.Path)
	var levelBuf [4]byte
	binary.LittleEndian.PutUint32(levelBuf[:], uint32(m.Level))
	buf.Write(levelBuf[:])
	writeBytes(buf, m.MinKey)
	writeBytes(buf, m.MaxKey)
	binary.Write(buf, binary.LittleEndian, m.EntryCount)
	binary.Write(buf, binary.LittleEndian, m.FileSize)
	binary.Write(buf, binary.LittleEndian, m.Sequence)
}

func decodeMeta(r *bytes.Reader) (sstable.Meta, error) {
	var m sstable.Meta
	var err error
	if m.Path, err = readString(r); err != nil {
		return m, err
	}
	var level uint32
	if err := binary.Read(r, binary.LittleEndian, &level); err != nil {
		return m, err
	}
	m.Level = int(level)
	if m.MinKey, err = readBytes(r); err != nil {
		return m, err
	}
	if m.MaxKey, err = readBytes(r); err != nil {
		return m, err
	}
	if err := binary.Read(r, binary.LittleEndian, &m.EntryCount); err != nil {
		return m, err
	}
	if err := binary.Read(r, binary.LittleEndian, &m.FileSize); err != nil {
		return m, err
	}
	if err := binary.Read(r, binary.LittleEndian, &m.Sequence); err != nil {
		return m, err
	}
	return m, nil
}

// encodeRecord serialises one manifest log record.
func encodeRecord(rec record) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(rec.Type))
	switch rec.Type {
	case recordAddSSTable:
		encodeMeta(&buf, rec.Meta)
	case recordRemoveSSTable:
		writeString(&buf, rec.Path)
	case recordUpdateSequence:
		binary.Write(&buf, binary.LittleEndian, rec.Sequence)
	case recordCompactionDone:
		var levelBuf [4]byte
		binary.LittleEndian.PutUint32(levelBuf[:], uint32(rec.Level))
		buf.Write(levelBuf[:])
		writeStringSlice(&buf, rec.Inputs)
		writeStringSlice(&buf, rec.Outputs)
	}
	return buf.Bytes()
}

func decodeRecord(b []byte) (record, error) {
	if len(b) < 1 {
		return record{}, errs.New(errs.Corruption, "manifest record: empty")
	}
	rec := record{Type: recordType(b[0])}
	r := bytes.NewReader(b[1:])
	var err error
	switch rec.Type {
	case recordAddSSTable:
		rec.Meta, err = decodeMeta(r)
	case recordRemoveSSTable:
		rec.Path, err = readString(r)
	case recordUpdateSequence:
		err = binary.Read(r, binary.LittleEndian, &rec.Sequence)
	case recordCompactionDone:
		var level uint32
		if err = binary.Read(r, binary.LittleEndian, &level); err == nil {
			rec.Level = int(level)
			if rec.Inputs, err = readStringSlice(r); err == nil {
				rec.Outputs, err = readStringSlice(r)
			}
		}
	default:
		return rec, errs.Newf(errs.Serialization, "manifest: unknown record type %d", rec.Type)
	}
	if err != nil {
		return rec, errs.Wrap(errs.Serialization, "decode manifest record", err)
	}
	return rec, nil
}

// writeFramed writes length:u32_le | payload to w, matching spec §6's
// "length:u32_le | bincode(record)" manifest log framing.
func writeFramed(w io.Writer, payload []byte) error {
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(payload)))
	if _, err := w.Write(l[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readFramed reads one length-prefixed payload from r. io.EOF (clean, at a
// frame boundary) is returned unwrapped so callers can stop the read loop.
func readFramed(r io.Reader) ([]byte, error) {
	var l [4]byte
	if _, err := io.ReadFull(r, l[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}
	length := binary.LittleEndian.Uint32(l[:])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}
	return payload, nil
}
