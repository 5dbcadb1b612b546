package segmented

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

const (
	idDagMagic   = 0x53444731 // "SDG1"
	idDagVersion = 1
)

// DagVersion is the content-derived version of a serialized IdDag blob.
type DagVersion string

// Marshal serializes the dag: a fixed little-endian header followed by
// levels of segments.
func (d *IDDag) Marshal() []byte {
	size := 12
	for _, level := range d.levels {
		size += 4
		for _, seg := range level {
			size += 16 + 4 + 8*len(seg.Parents)
		}
	}

	buf := make([]byte, 0, size)
	var scratch [8]byte

	put32 := func(v uint32) {
		binary.LittleEndian.PutUint32(scratch[:4], v)
		buf = append(buf, scratch[:4]...)
	}
	put64 := func(v uint64) {
		binary.LittleEndian.PutUint64(scratch[:8], v)
		buf = append(buf, scratch[:8]...)
	}

	put32(idDagMagic)
	put32(idDagVersion)
	put32(uint32(len(d.levels)))
	for _, level := range d.levels {
		put32(uint32(len(level)))
		for _, seg := range level {
			put64(uint64(seg.Low))
			put64(uint64(seg.High))
			put32(uint32(len(seg.Parents)))
			for _, p := range seg.Parents {
				put64(uint64(p))
			}
		}
	}
	return buf
}

// UnmarshalIDDag deserializes a blob produced by Marshal.
func UnmarshalIDDag(data []byte) (*IDDag, error) {
	r := &byteReader{data: data}

	magic, err := r.u32()
	if err != nil {
		return nil, err
	}
	if magic != idDagMagic {
		return nil, fmt.Errorf("iddag blob: invalid magic %#x", magic)
	}
	version, err := r.u32()
	if err != nil {
		return nil, err
	}
	if version != idDagVersion {
		return nil, fmt.Errorf("iddag blob: unsupported version %d", version)
	}

	levelCount, err := r.u32()
	if err != nil {
		return nil, err
	}
	levels := make([][]Segment, 0, levelCount)
	for l := uint32(0); l < levelCount; l++ {
		segCount, err := r.u32()
		if err != nil {
			return nil, err
		}
		level := make([]Segment, 0, segCount)
		for s := uint32(0); s < segCount; s++ {
			low, err := r.u64()
			if err != nil {
				return nil, err
			}
			high, err := r.u64()
			if err != nil {
				return nil, err
			}
			parentCount, err := r.u32()
			if err != nil {
				return nil, err
			}
			seg := Segment{Low: DagID(low), High: DagID(high)}
			for p := uint32(0); p < parentCount; p++ {
				pv, err := r.u64()
				if err != nil {
					return nil, err
				}
				seg.Parents = append(seg.Parents, DagID(pv))
			}
			level = append(level, seg)
		}
		levels = append(levels, level)
	}
	if len(levels) == 0 {
		return nil, fmt.Errorf("iddag blob: no levels")
	}
	return &IDDag{levels: levels}, nil
}

type byteReader struct {
	data []byte
	off  int
}

func (r *byteReader) u32() (uint32, error) {
	if r.off+4 > len(r.data) {
		return 0, fmt.Errorf("iddag blob: truncated at offset %d", r.off)
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v, nil
}

func (r *byteReader) u64() (uint64, error) {
	if r.off+8 > len(r.data) {
		return 0, fmt.Errorf("iddag blob: truncated at offset %d", r.off)
	}
	v := binary.LittleEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v, nil
}

// BlobStore is a content-addressed blob store over a billy filesystem. The
// version returned by Put is derived from the content, so identical blobs
// share one object and a version can never point at different bytes.
type BlobStore struct {
	fs billy.Filesystem
}

func NewBlobStore(fs billy.Filesystem) *BlobStore {
	return &BlobStore{fs: fs}
}

func (s *BlobStore) objectPath(v DagVersion) string {
	name := string(v)
	return path.Join("iddag", name[:2], name)
}

// Put writes data and returns its content-derived version.
func (s *BlobStore) Put(data []byte) (DagVersion, error) {
	sum := sha256.Sum256(data)
	v := DagVersion(hex.EncodeToString(sum[:]))
	p := s.objectPath(v)
	if err := s.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("blob store mkdir: %w", err)
	}
	if err := util.WriteFile(s.fs, p, data, 0o644); err != nil {
		return "", fmt.Errorf("blob store write %s: %w", v, err)
	}
	return v, nil
}

// Get reads the blob for version v and verifies its content hash.
func (s *BlobStore) Get(v DagVersion) ([]byte, error) {
	if len(v) != sha256.Size*2 {
		return nil, fmt.Errorf("blob store read: malformed version %q", v)
	}
	data, err := util.ReadFile(s.fs, s.objectPath(v))
	if err != nil {
		return nil, fmt.Errorf("blob store read %s: %w", v, err)
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != string(v) {
		return nil, fmt.Errorf("blob store read %s: content hash mismatch", v)
	}
	return data, nil
}
