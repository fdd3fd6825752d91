// Package snapshot implements the on-disk format: a magic header, a
// length-prefixed config/metadata block, a tagged-union quantizer state, a
// sequence of vector records, an end marker, and a CRC-32 checksum over
// everything in between. Write and Restore stream through
// io.Writer/io.Reader rather than buffering a collection in memory,
// reusing internal/encoding's length-prefixed record codec.
package snapshot

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"github.com/liliang-cn/vectra/collection"
	"github.com/liliang-cn/vectra/errs"
	"github.com/liliang-cn/vectra/internal/encoding"
	"github.com/liliang-cn/vectra/logging"
	"github.com/liliang-cn/vectra/metrics"
	"github.com/liliang-cn/vectra/quantize"
	"github.com/liliang-cn/vectra/vector"
)

const (
	magic         = "VCTR"
	formatVersion byte = 1
	endMarker     byte = 0xff
)

// Quantizer tag bytes for the tagged union.
const (
	tagQuantNone   byte = 0
	tagQuantSQ     byte = 1
	tagQuantPQ     byte = 2
	tagQuantBinary byte = 3
)

type meta struct {
	Name      string
	Config    collection.Config
	CreatedAt time.Time
}

// Write serializes col's full state (config, metadata, trained quantizer,
// and every live vector, with its payload and sparse component if any) to
// w. The name argument is the collection's registry key, recorded
// alongside its metadata so Restore can recreate it under the same name.
func Write(w io.Writer, name string, col *collection.Collection) error {
	if _, err := io.WriteString(w, magic); err != nil {
		return fmt.Errorf("snapshot: write magic: %w", err)
	}
	if _, err := w.Write([]byte{formatVersion}); err != nil {
		return fmt.Errorf("snapshot: write version: %w", err)
	}

	h := crc32.NewIEEE()
	body := io.MultiWriter(w, h)

	md := col.Metadata()
	if err := writeMeta(body, meta{Name: name, Config: md.Config, CreatedAt: md.CreatedAt}); err != nil {
		return fmt.Errorf("snapshot: write metadata: %w", err)
	}
	if err := writeQuantizer(body, col.Quantizer()); err != nil {
		return fmt.Errorf("snapshot: write quantizer: %w", err)
	}

	count := col.Count()
	if err := binary.Write(body, binary.LittleEndian, uint64(count)); err != nil {
		return fmt.Errorf("snapshot: write record count: %w", err)
	}
	written := 0
	if err := col.Each(func(id string, v vector.Vector) error {
		written++
		return writeRecord(body, id, v)
	}); err != nil {
		return fmt.Errorf("snapshot: write records: %w", err)
	}
	if written != count {
		return fmt.Errorf("snapshot: live vector count changed mid-write: expected %d, wrote %d", count, written)
	}

	if _, err := body.Write([]byte{endMarker}); err != nil {
		return fmt.Errorf("snapshot: write end marker: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, h.Sum32()); err != nil {
		return fmt.Errorf("snapshot: write checksum: %w", err)
	}
	return nil
}

func writeMeta(w io.Writer, m meta) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return encoding.WriteBlock(w, data)
}

func writeQuantizer(w io.Writer, q quantize.Quantizer) error {
	switch t := q.(type) {
	case nil:
		_, err := w.Write([]byte{tagQuantNone})
		return err
	case *quantize.Scalar:
		min, max, bits, dim, trained := t.State()
		if err := writeTagAndTrained(w, tagQuantSQ, trained); err != nil || !trained {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, min); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, max); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, int32(bits)); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, int32(dim))
	case *quantize.Binary:
		median, dim, trained := t.State()
		if err := writeTagAndTrained(w, tagQuantBinary, trained); err != nil || !trained {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, median); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, int32(dim))
	case *quantize.Product:
		books := t.Codebooks()
		trained := books != nil
		if err := writeTagAndTrained(w, tagQuantPQ, trained); err != nil || !trained {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(books))); err != nil {
			return err
		}
		for _, sub := range books {
			if err := binary.Write(w, binary.LittleEndian, uint32(len(sub))); err != nil {
				return err
			}
			for _, centroid := range sub {
				if err := encoding.WriteVector(w, centroid); err != nil {
					return err
				}
			}
		}
		return nil
	default:
		return fmt.Errorf("snapshot: unknown quantizer type %T", q)
	}
}

func writeTagAndTrained(w io.Writer, tag byte, trained bool) error {
	if _, err := w.Write([]byte{tag}); err != nil {
		return err
	}
	var b byte
	if trained {
		b = 1
	}
	_, err := w.Write([]byte{b})
	return err
}

func writeRecord(w io.Writer, id string, v vector.Vector) error {
	if err := encoding.WriteString(w, id); err != nil {
		return err
	}
	if err := encoding.WriteVector(w, v.Data); err != nil {
		return err
	}
	if v.Sparse == nil {
		_, err := w.Write([]byte{0})
		if err != nil {
			return err
		}
	} else {
		if _, err := w.Write([]byte{1}); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(v.Sparse.Indices))); err != nil {
			return err
		}
		for _, idx := range v.Sparse.Indices {
			if err := binary.Write(w, binary.LittleEndian, idx); err != nil {
				return err
			}
		}
		for _, val := range v.Sparse.Values {
			if err := binary.Write(w, binary.LittleEndian, val); err != nil {
				return err
			}
		}
	}
	return encoding.WritePayload(w, v.Payload)
}

// countingReader tracks bytes consumed so failures can be reported with a
// byte offset into the stream, per errs.SnapshotCorrupt.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Restore reads a snapshot written by Write, recreating the collection it
// describes (under its original name) with sink and logger wired in the
// same way Store.CreateCollection would. The returned collection's name is
// available from its Metadata().
func Restore(r io.Reader, sink metrics.Sink, logger logging.Logger) (*collection.Collection, error) {
	magicBuf := make([]byte, len(magic))
	if _, err := io.ReadFull(r, magicBuf); err != nil {
		return nil, &errs.SnapshotCorrupt{Offset: 0, Reason: "truncated magic header"}
	}
	if string(magicBuf) != magic {
		return nil, &errs.SnapshotCorrupt{Offset: 0, Reason: "bad magic header"}
	}
	verBuf := make([]byte, 1)
	if _, err := io.ReadFull(r, verBuf); err != nil {
		return nil, &errs.SnapshotCorrupt{Offset: int64(len(magic)), Reason: "truncated version byte"}
	}
	if verBuf[0] != formatVersion {
		return nil, &errs.SnapshotCorrupt{Offset: int64(len(magic)), Reason: fmt.Sprintf("unsupported version %d", verBuf[0])}
	}

	h := crc32.NewIEEE()
	cr := &countingReader{r: io.TeeReader(r, h)}

	m, err := readMeta(cr)
	if err != nil {
		return nil, &errs.SnapshotCorrupt{Offset: cr.n, Reason: "metadata: " + err.Error()}
	}

	col, err := collection.New(m.Name, m.Config, sink, logger)
	if err != nil {
		return nil, &errs.SnapshotCorrupt{Offset: cr.n, Reason: "recreate collection: " + err.Error()}
	}

	if err := readQuantizer(cr, col.Quantizer()); err != nil {
		return nil, &errs.SnapshotCorrupt{Offset: cr.n, Reason: "quantizer: " + err.Error()}
	}

	var count uint64
	if err := binary.Read(cr, binary.LittleEndian, &count); err != nil {
		return nil, &errs.SnapshotCorrupt{Offset: cr.n, Reason: "record count: " + err.Error()}
	}
	for i := uint64(0); i < count; i++ {
		id, v, err := readRecord(cr)
		if err != nil {
			return nil, &errs.SnapshotCorrupt{Offset: cr.n, Reason: fmt.Sprintf("record %d: %s", i, err)}
		}
		if err := col.Insert(id, v); err != nil {
			return nil, &errs.SnapshotCorrupt{Offset: cr.n, Reason: fmt.Sprintf("record %d insert: %s", i, err)}
		}
	}

	endBuf := make([]byte, 1)
	if _, err := io.ReadFull(cr, endBuf); err != nil || endBuf[0] != endMarker {
		return nil, &errs.SnapshotCorrupt{Offset: cr.n, Reason: "missing end marker"}
	}

	var want uint32
	if err := binary.Read(r, binary.LittleEndian, &want); err != nil {
		return nil, &errs.SnapshotCorrupt{Offset: cr.n, Reason: "truncated checksum"}
	}
	if got := h.Sum32(); got != want {
		return nil, &errs.SnapshotCorrupt{Offset: cr.n, Reason: fmt.Sprintf("checksum mismatch: got %#x, want %#x", got, want)}
	}
	return col, nil
}

func readMeta(r io.Reader) (meta, error) {
	data, err := encoding.ReadBlock(r)
	if err != nil {
		return meta{}, err
	}
	var m meta
	if err := json.Unmarshal(data, &m); err != nil {
		return meta{}, err
	}
	return m, nil
}

// readQuantizer reads the tagged union written by writeQuantizer and, if
// it describes trained state, restores it onto q. q's concrete type
// already matches the tag because it was constructed from the same
// CollectionConfig that produced the snapshot being read; a mismatch here
// means the snapshot body itself is inconsistent.
func readQuantizer(r io.Reader, q quantize.Quantizer) error {
	tagBuf := make([]byte, 1)
	if _, err := io.ReadFull(r, tagBuf); err != nil {
		return err
	}
	tag := tagBuf[0]
	if tag == tagQuantNone {
		if q != nil {
			return fmt.Errorf("snapshot says no quantizer but collection has one")
		}
		return nil
	}
	trainedBuf := make([]byte, 1)
	if _, err := io.ReadFull(r, trainedBuf); err != nil {
		return err
	}
	trained := trainedBuf[0] == 1

	switch tag {
	case tagQuantSQ:
		sq, ok := q.(*quantize.Scalar)
		if !ok {
			return fmt.Errorf("snapshot has scalar quantizer state, collection configured with %T", q)
		}
		if !trained {
			return nil
		}
		var min, max float32
		var bits, dim int32
		if err := binary.Read(r, binary.LittleEndian, &min); err != nil {
			return err
		}
		if err := binary.Read(r, binary.LittleEndian, &max); err != nil {
			return err
		}
		if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
			return err
		}
		if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
			return err
		}
		sq.Restore(min, max)
		return nil
	case tagQuantBinary:
		bq, ok := q.(*quantize.Binary)
		if !ok {
			return fmt.Errorf("snapshot has binary quantizer state, collection configured with %T", q)
		}
		if !trained {
			return nil
		}
		var median float32
		var dim int32
		if err := binary.Read(r, binary.LittleEndian, &median); err != nil {
			return err
		}
		if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
			return err
		}
		bq.Restore(median)
		return nil
	case tagQuantPQ:
		pq, ok := q.(*quantize.Product)
		if !ok {
			return fmt.Errorf("snapshot has product quantizer state, collection configured with %T", q)
		}
		if !trained {
			return nil
		}
		var m uint32
		if err := binary.Read(r, binary.LittleEndian, &m); err != nil {
			return err
		}
		books := make([][][]float32, m)
		for i := range books {
			var k uint32
			if err := binary.Read(r, binary.LittleEndian, &k); err != nil {
				return err
			}
			books[i] = make([][]float32, k)
			for j := range books[i] {
				centroid, err := encoding.ReadVector(r)
				if err != nil {
					return err
				}
				books[i][j] = centroid
			}
		}
		pq.Restore(books)
		return nil
	default:
		return fmt.Errorf("unknown quantizer tag %d", tag)
	}
}

func readRecord(r io.Reader) (string, vector.Vector, error) {
	id, err := encoding.ReadString(r)
	if err != nil {
		return "", vector.Vector{}, err
	}
	data, err := encoding.ReadVector(r)
	if err != nil {
		return "", vector.Vector{}, err
	}
	hasSparse := make([]byte, 1)
	if _, err := io.ReadFull(r, hasSparse); err != nil {
		return "", vector.Vector{}, err
	}
	var sparse *vector.Sparse
	if hasSparse[0] == 1 {
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return "", vector.Vector{}, err
		}
		indices := make([]uint32, n)
		for i := range indices {
			if err := binary.Read(r, binary.LittleEndian, &indices[i]); err != nil {
				return "", vector.Vector{}, err
			}
		}
		values := make([]float32, n)
		for i := range values {
			if err := binary.Read(r, binary.LittleEndian, &values[i]); err != nil {
				return "", vector.Vector{}, err
			}
		}
		sparse = &vector.Sparse{Indices: indices, Values: values}
	}
	payload, err := encoding.ReadPayload(r)
	if err != nil {
		return "", vector.Vector{}, err
	}
	return id, vector.Vector{ID: id, Data: data, Sparse: sparse, Payload: payload}, nil
}
