// Package checkpoint persists policy parameter snapshots in protobuf wire
// format:
//
//	message Checkpoint {
//	  uint32 version = 1;
//	  Spec spec = 2;            // input_dim=1 hidden_dim=2 num_layers=3 cell=4
//	  repeated Tensor tensor = 3;
//	}
//	message Tensor { string name = 1; uint32 rows = 2; uint32 cols = 3; repeated double data = 4 [packed]; }
package checkpoint

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/cartridge/summarizer/internal/policy"
)

const formatVersion = 1

// ErrCorrupt indicates bytes that do not decode to a checkpoint.
var ErrCorrupt = errors.New("corrupt checkpoint")

const (
	fieldVersion protowire.Number = 1
	fieldSpec    protowire.Number = 2
	fieldTensor  protowire.Number = 3

	specInput  protowire.Number = 1
	specHidden protowire.Number = 2
	specLayers protowire.Number = 3
	specCell   protowire.Number = 4

	tensorName protowire.Number = 1
	tensorRows protowire.Number = 2
	tensorCols protowire.Number = 3
	tensorData protowire.Number = 4
)

// Marshal encodes a snapshot.
func Marshal(snap policy.Snapshot) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, formatVersion)

	var spec []byte
	spec = appendVarintField(spec, specInput, uint64(snap.Spec.InputDim))
	spec = appendVarintField(spec, specHidden, uint64(snap.Spec.HiddenDim))
	spec = appendVarintField(spec, specLayers, uint64(snap.Spec.NumLayers))
	spec = protowire.AppendTag(spec, specCell, protowire.BytesType)
	spec = protowire.AppendString(spec, string(snap.Spec.Cell))
	b = protowire.AppendTag(b, fieldSpec, protowire.BytesType)
	b = protowire.AppendBytes(b, spec)

	for _, t := range snap.Tensors {
		var tb []byte
		tb = protowire.AppendTag(tb, tensorName, protowire.BytesType)
		tb = protowire.AppendString(tb, t.Name)
		tb = appendVarintField(tb, tensorRows, uint64(t.Rows))
		tb = appendVarintField(tb, tensorCols, uint64(t.Cols))
		packed := make([]byte, 0, 8*len(t.Data))
		for _, v := range t.Data {
			packed = protowire.AppendFixed64(packed, math.Float64bits(v))
		}
		tb = protowire.AppendTag(tb, tensorData, protowire.BytesType)
		tb = protowire.AppendBytes(tb, packed)

		b = protowire.AppendTag(b, fieldTensor, protowire.BytesType)
		b = protowire.AppendBytes(b, tb)
	}
	return b
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// Unmarshal decodes a snapshot. Unknown fields are skipped.
func Unmarshal(b []byte) (policy.Snapshot, error) {
	var snap policy.Snapshot
	var version uint64
	err := walk(b, func(num protowire.Number, typ protowire.Type, payload []byte, v uint64) error {
		switch {
		case num == fieldVersion && typ == protowire.VarintType:
			version = v
		case num == fieldSpec && typ == protowire.BytesType:
			spec, err := unmarshalSpec(payload)
			if err != nil {
				return err
			}
			snap.Spec = spec
		case num == fieldTensor && typ == protowire.BytesType:
			t, err := unmarshalTensor(payload)
			if err != nil {
				return err
			}
			snap.Tensors = append(snap.Tensors, t)
		}
		return nil
	})
	if err != nil {
		return policy.Snapshot{}, err
	}
	if version != formatVersion {
		return policy.Snapshot{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, version)
	}
	return snap, nil
}

func unmarshalSpec(b []byte) (policy.Spec, error) {
	var s policy.Spec
	err := walk(b, func(num protowire.Number, typ protowire.Type, payload []byte, v uint64) error {
		switch {
		case num == specInput && typ == protowire.VarintType:
			s.InputDim = int(v)
		case num == specHidden && typ == protowire.VarintType:
			s.HiddenDim = int(v)
		case num == specLayers && typ == protowire.VarintType:
			s.NumLayers = int(v)
		case num == specCell && typ == protowire.BytesType:
			s.Cell = policy.Cell(payload)
		}
		return nil
	})
	return s, err
}

func unmarshalTensor(b []byte) (policy.Tensor, error) {
	var t policy.Tensor
	err := walk(b, func(num protowire.Number, typ protowire.Type, payload []byte, v uint64) error {
		switch {
		case num == tensorName && typ == protowire.BytesType:
			t.Name = string(payload)
		case num == tensorRows && typ == protowire.VarintType:
			t.Rows = int(v)
		case num == tensorCols && typ == protowire.VarintType:
			t.Cols = int(v)
		case num == tensorData && typ == protowire.BytesType:
			if len(payload)%8 != 0 {
				return fmt.Errorf("%w: tensor %q has %d data bytes", ErrCorrupt, t.Name, len(payload))
			}
			for len(payload) > 0 {
				bits, n := protowire.ConsumeFixed64(payload)
				if n < 0 {
					return fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
				}
				t.Data = append(t.Data, math.Float64frombits(bits))
				payload = payload[n:]
			}
		case num == tensorData && typ == protowire.Fixed64Type:
			t.Data = append(t.Data, math.Float64frombits(v))
		}
		return nil
	})
	return t, err
}

// walk visits every field of a message. Varint and fixed64 values arrive in
// v; length-delimited values in payload.
func walk(b []byte, visit func(num protowire.Number, typ protowire.Type, payload []byte, v uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
		}
		b = b[n:]

		var (
			payload []byte
			v       uint64
		)
		switch typ {
		case protowire.VarintType:
			v, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			v, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			payload, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrCorrupt, num, protowire.ParseError(n))
		}
		b = b[n:]
		if err := visit(num, typ, payload, v); err != nil {
			return err
		}
	}
	return nil
}

// Save writes snap to path through a temporary file in the same directory.
func Save(path string, snap policy.Snapshot) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(Marshal(snap)); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("install checkpoint: %w", err)
	}
	return nil
}

// Load reads a snapshot written by Save.
func Load(path string) (policy.Snapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return policy.Snapshot{}, fmt.Errorf("read checkpoint: %w", err)
	}
	snap, err := Unmarshal(b)
	if err != nil {
		return policy.Snapshot{}, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return snap, nil
}

// FileName is the checkpoint name used at the end of a run of maxEpoch epochs.
func FileName(maxEpoch int) string {
	return fmt.Sprintf("model_epoch%d.ckpt", maxEpoch)
}
