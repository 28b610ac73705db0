package grid

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/mrjoshuak/go-openexr/half"

	"volrays/internal/models"
)

// DecodeVoxels converts count little-endian voxels of type t from raw into
// float64 values. raw must hold exactly count*t.Size() bytes.
func DecodeVoxels(raw []byte, t models.VoxelType, count int) ([]float64, error) {
	size := t.Size()
	if size == 0 {
		return nil, fmt.Errorf("grid: unsupported voxel type %v", t)
	}
	if count < 0 || len(raw) != count*size {
		return nil, fmt.Errorf("got %d bytes for %d %s voxels: %w", len(raw), count, t, ErrVoxelCount)
	}

	out := make([]float64, count)
	le := binary.LittleEndian

	switch t {
	case models.VoxelUChar:
		for i := range out {
			out[i] = float64(raw[i])
		}
	case models.VoxelShort:
		for i := range out {
			out[i] = float64(int16(le.Uint16(raw[2*i:])))
		}
	case models.VoxelUShort:
		for i := range out {
			out[i] = float64(le.Uint16(raw[2*i:]))
		}
	case models.VoxelHalf:
		tmp := make([]float32, count)
		half.ConvertBytesToFloat32(tmp, raw)
		for i, v := range tmp {
			out[i] = float64(v)
		}
	case models.VoxelFloat:
		for i := range out {
			out[i] = float64(math.Float32frombits(le.Uint32(raw[4*i:])))
		}
	case models.VoxelDouble:
		for i := range out {
			out[i] = math.Float64frombits(le.Uint64(raw[8*i:]))
		}
	}

	return out, nil
}

// EncodeVoxels is the inverse of DecodeVoxels. Values are converted to t with
// Go conversion semantics; integer types truncate.
func EncodeVoxels(values []float64, t models.VoxelType) ([]byte, error) {
	size := t.Size()
	if size == 0 {
		return nil, fmt.Errorf("grid: unsupported voxel type %v", t)
	}

	raw := make([]byte, len(values)*size)
	le := binary.LittleEndian

	for i, v := range values {
		switch t {
		case models.VoxelUChar:
			raw[i] = uint8(v)
		case models.VoxelShort:
			le.PutUint16(raw[2*i:], uint16(int16(v)))
		case models.VoxelUShort:
			le.PutUint16(raw[2*i:], uint16(v))
		case models.VoxelHalf:
			le.PutUint16(raw[2*i:], half.FromFloat64(v).Bits())
		case models.VoxelFloat:
			le.PutUint32(raw[4*i:], math.Float32bits(float32(v)))
		case models.VoxelDouble:
			le.PutUint64(raw[8*i:], math.Float64bits(v))
		}
	}

	return raw, nil
}
