package catalog

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"

	capnp "zombiezen.com/go/capnproto2"
)

// The "portable_binary" format (spec.md §6) is a Cap'n Proto message
// with no generated schema: a fixed-size header struct (r_env,
// delta_max, size) plus a pointer to a Data list, one entry per
// DiscreteKey bucket. Each bucket's own contents (its environments,
// their mechanisms) stay gob-encoded inside that Data entry -- the
// portability Cap'n Proto buys here is in the outer framing (segment
// layout, pointer/list bookkeeping) being architecture-independent,
// which is the property spec.md §6 requires of "portable_binary"
// versus plain "binary" (native gob, faster, not portable).
var capnpHeaderSize = capnp.ObjectSize{DataSize: 24, PointerCount: 1}

func encodeCapnp(doc persistedDoc) ([]byte, error) {
	msg, seg, err := capnp.NewMessage(capnp.SingleSegment(nil))
	if err != nil {
		return nil, fmt.Errorf("catalog: capnp new message: %w", err)
	}

	root, err := capnp.NewRootStruct(seg, capnpHeaderSize)
	if err != nil {
		return nil, fmt.Errorf("catalog: capnp new root struct: %w", err)
	}
	root.SetUint64(0, math.Float64bits(doc.REnv))
	root.SetUint64(8, math.Float64bits(doc.DeltaMax))
	root.SetUint64(16, uint64(doc.Size))

	buckets, err := capnp.NewDataList(seg, int32(len(doc.Buckets)))
	if err != nil {
		return nil, fmt.Errorf("catalog: capnp new data list: %w", err)
	}
	for i, b := range doc.Buckets {
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(b); err != nil {
			return nil, fmt.Errorf("catalog: capnp encode bucket %d: %w", i, err)
		}
		if err := buckets.SetBytes(i, buf.Bytes()); err != nil {
			return nil, fmt.Errorf("catalog: capnp set bucket %d: %w", i, err)
		}
	}
	if err := root.SetPtr(0, buckets.ToPtr()); err != nil {
		return nil, fmt.Errorf("catalog: capnp set root pointer: %w", err)
	}

	return msg.Marshal()
}

func decodeCapnp(payload []byte) (persistedDoc, error) {
	msg, err := capnp.Unmarshal(payload)
	if err != nil {
		return persistedDoc{}, fmt.Errorf("catalog: capnp unmarshal: %w", err)
	}

	root, err := msg.RootPtr()
	if err != nil {
		return persistedDoc{}, fmt.Errorf("catalog: capnp root pointer: %w", err)
	}
	st := root.Struct()

	doc := persistedDoc{
		REnv:     math.Float64frombits(st.Uint64(0)),
		DeltaMax: math.Float64frombits(st.Uint64(8)),
		Size:     int(st.Uint64(16)),
	}

	bucketsPtr, err := st.Ptr(0)
	if err != nil {
		return persistedDoc{}, fmt.Errorf("catalog: capnp bucket list pointer: %w", err)
	}
	buckets := capnp.DataList{List: bucketsPtr.List()}

	for i := 0; i < buckets.Len(); i++ {
		raw, err := buckets.BytesAt(i)
		if err != nil {
			return persistedDoc{}, fmt.Errorf("catalog: capnp bucket %d bytes: %w", i, err)
		}
		var b persistedBucket
		if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&b); err != nil {
			return persistedDoc{}, fmt.Errorf("catalog: capnp decode bucket %d: %w", i, err)
		}
		doc.Buckets = append(doc.Buckets, b)
	}

	return doc, nil
}
