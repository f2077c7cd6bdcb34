package wal

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/oarkflow/emberdb/errs"
)

// RecordType identifies the payload variant of a WAL frame. Values match
// spec §6 exactly: 1=Put, 2=Delete, 3=BeginTx, 4=CommitTx, 5=Checkpoint.
type RecordType uint8

const (
	TypePut RecordType = iota + 1
	TypeDelete
	TypeBeginTx
	TypeCommitTx
	TypeCheckpoint
)

func (t RecordType) String() string {
	switch t {
	case TypePut:
		return "Put"
	case TypeDelete:
		return "Delete"
	case TypeBeginTx:
		return "BeginTx"
	case TypeCommitTx:
		return "CommitTx"
	case TypeCheckpoint:
		return "Checkpoint"
	default:
		return "Unknown"
	}
}

// Record is one WAL payload variant (spec §3 "WAL record").
type Record struct {
	Type     RecordType
	Key      []byte // Put, Delete
	Value    []byte // Put
	TxID     uint64 // BeginTx, CommitTx
	Sequence uint64 // Checkpoint
}

func PutRecord(key, value []byte) Record {
	return Record{Type: TypePut, Key: key, Value: value}
}

func DeleteRecord(key []byte) Record {
	return Record{Type: TypeDelete, Key: key}
}

func BeginTxRecord(txID uint64) Record {
	return Record{Type: TypeBeginTx, TxID: txID}
}

func CommitTxRecord(txID uint64) Record {
	return Record{Type: TypeCommitTx, TxID: txID}
}

func CheckpointRecord(sequence uint64) Record {
	return Record{Type: TypeCheckpoint, Sequence: sequence}
}

// encodePayload serializes the type-specific fields only (not the frame
// envelope). Each variant is a simple length-prefixed concatenation of its
// fields, little-endian throughout, standing in for "bincode of {...}" in a
// language without that crate.
func (r Record) encodePayload() []byte {
	var buf bytes.Buffer
	switch r.Type {
	case TypePut:
		writeBytes(&buf, r.Key)
		writeBytes(&buf, r.Value)
	case TypeDelete:
		writeBytes(&buf, r.Key)
	case TypeBeginTx, TypeCommitTx:
		binary.Write(&buf, binary.LittleEndian, r.TxID)
	case TypeCheckpoint:
		binary.Write(&buf, binary.LittleEndian, r.Sequence)
	}
	return buf.Bytes()
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(b)))
	buf.Write(l[:])
	buf.Write(b)
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

// Encode writes the full frame for r: length|type|payload|crc32, all
// little-endian, per spec §6.
func Encode(r Record) []byte {
	payload := r.encodePayload()

	body := make([]byte, 0, 1+len(payload))
	body = append(body, byte(r.Type))
	body = append(body, payload...)

	crc := crc32.ChecksumIEEE(body)

	frame := make([]byte, 0, 4+len(body)+4)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	frame = append(frame, lenBuf[:]...)
	frame = append(frame, body...)
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], crc)
	frame = append(frame, crcBuf[:]...)
	return frame
}

// decodePayload parses the type-specific fields for a given type from body
// (body excludes the leading type byte).
func decodePayload(t RecordType, body []byte) (Record, error) {
	r := Record{Type: t}
	br := bytes.NewReader(body)
	var err error
	switch t {
	case TypePut:
		if r.Key, err = readBytes(br); err != nil {
			return r, errs.Wrap(errs.Serialization, "decode Put key", err)
		}
		if r.Value, err = readBytes(br); err != nil {
			return r, errs.Wrap(errs.Serialization, "decode Put value", err)
		}
	case TypeDelete:
		if r.Key, err = readBytes(br); err != nil {
			return r, errs.Wrap(errs.Serialization, "decode Delete key", err)
		}
	case TypeBeginTx, TypeCommitTx:
		if err := binary.Read(br, binary.LittleEndian, &r.TxID); err != nil {
			return r, errs.Wrap(errs.Serialization, "decode tx id", err)
		}
	case TypeCheckpoint:
		if err := binary.Read(br, binary.LittleEndian, &r.Sequence); err != nil {
			return r, errs.Wrap(errs.Serialization, "decode checkpoint sequence", err)
		}
	default:
		return r, errs.Newf(errs.Serialization, "unknown record type %d", t)
	}
	return r, nil
}
