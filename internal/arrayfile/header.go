package arrayfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

const (
	magic         = "ARTA"
	formatVersion = 1

	offsetRows = 16
	fixedSize  = 24
	maxDims    = 32

	// blockElements 是每个存储块容纳的目标元素数。
	blockElements = 4096
)

var (
	ErrBadMagic         = errors.New("not an array container")
	ErrCorruptHeader    = errors.New("corrupt array header")
	ErrShapeMismatch    = errors.New("array shape mismatch")
	ErrDTypeMismatch    = errors.New("array dtype mismatch")
	ErrUnsupportedDType = errors.New("unsupported dtype")
)

// header is the on-disk prefix of a container:
//
//	0   magic "ARTA"
//	4   version      u16
//	6   dtype        u8
//	7   ndim         u8 (>= 1, leading dim included)
//	8   rowsPerBlock u32
//	12  crc32 of [0,12) ++ trailing dims
//	16  rows         u64 (committed leading dimension)
//	24  trailing     u64 × (ndim-1)
type header struct {
	dtype        DType
	trailing     []int
	rowsPerBlock int
	rows         int
}

func newHeader(dtype DType, trailing []int) header {
	return header{
		dtype:        dtype,
		trailing:     append([]int(nil), trailing...),
		rowsPerBlock: rowsPerBlock(trailing),
	}
}

// rowsPerBlock sizes a block to hold about blockElements elements.
func rowsPerBlock(trailing []int) int {
	per := product(trailing)
	return (blockElements + per - 1) / per
}

func (h header) size() int {
	return fixedSize + 8*len(h.trailing)
}

func (h header) rowBytes() int {
	return product(h.trailing) * h.dtype.Size()
}

func (h header) shape() []int {
	return append([]int{h.rows}, h.trailing...)
}

// capacity returns the data bytes allocated for rows, rounded up to whole blocks.
func (h header) capacity(rows int) int64 {
	blocks := (rows + h.rowsPerBlock - 1) / h.rowsPerBlock
	return int64(blocks) * int64(h.rowsPerBlock) * int64(h.rowBytes())
}

func (h header) dataOffset(row int) int64 {
	return int64(h.size()) + int64(row)*int64(h.rowBytes())
}

func (h header) encode() []byte {
	buf := make([]byte, h.size())
	copy(buf[0:4], magic)
	binary.LittleEndian.PutUint16(buf[4:6], formatVersion)
	buf[6] = byte(h.dtype)
	buf[7] = byte(len(h.trailing) + 1)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.rowsPerBlock))
	binary.LittleEndian.PutUint64(buf[offsetRows:fixedSize], uint64(h.rows))
	for i, d := range h.trailing {
		binary.LittleEndian.PutUint64(buf[fixedSize+8*i:], uint64(d))
	}
	binary.LittleEndian.PutUint32(buf[12:16], headerChecksum(buf))
	return buf
}

func headerChecksum(buf []byte) uint32 {
	crc := crc32.NewIEEE()
	crc.Write(buf[0:12])
	crc.Write(buf[fixedSize:])
	return crc.Sum32()
}

func readHeader(r io.ReaderAt) (header, error) {
	fixed := make([]byte, fixedSize)
	if _, err := r.ReadAt(fixed, 0); err != nil {
		if errors.Is(err, io.EOF) {
			return header{}, fmt.Errorf("%w: short header", ErrCorruptHeader)
		}
		return header{}, err
	}
	if string(fixed[0:4]) != magic {
		return header{}, ErrBadMagic
	}
	if v := binary.LittleEndian.Uint16(fixed[4:6]); v != formatVersion {
		return header{}, fmt.Errorf("%w: version %d", ErrCorruptHeader, v)
	}
	ndim := int(fixed[7])
	if ndim < 1 || ndim > maxDims {
		return header{}, fmt.Errorf("%w: ndim %d", ErrCorruptHeader, ndim)
	}

	buf := make([]byte, fixedSize+8*(ndim-1))
	copy(buf, fixed)
	if ndim > 1 {
		if _, err := r.ReadAt(buf[fixedSize:], fixedSize); err != nil {
			return header{}, fmt.Errorf("%w: %v", ErrCorruptHeader, err)
		}
	}
	if binary.LittleEndian.Uint32(buf[12:16]) != headerChecksum(buf) {
		return header{}, fmt.Errorf("%w: checksum mismatch", ErrCorruptHeader)
	}

	h := header{
		dtype:        DType(buf[6]),
		rowsPerBlock: int(binary.LittleEndian.Uint32(buf[8:12])),
		rows:         int(binary.LittleEndian.Uint64(buf[offsetRows:fixedSize])),
	}
	if !h.dtype.Valid() {
		return header{}, fmt.Errorf("%w: %s", ErrUnsupportedDType, h.dtype)
	}
	if h.rowsPerBlock <= 0 {
		return header{}, fmt.Errorf("%w: rows per block %d", ErrCorruptHeader, h.rowsPerBlock)
	}
	for i := 0; i < ndim-1; i++ {
		d := int(binary.LittleEndian.Uint64(buf[fixedSize+8*i:]))
		if d <= 0 {
			return header{}, fmt.Errorf("%w: trailing dimension %d", ErrCorruptHeader, d)
		}
		h.trailing = append(h.trailing, d)
	}
	return h, nil
}

// readRows re-reads only the committed row count.
func readRows(r io.ReaderAt) (int, error) {
	buf := make([]byte, 8)
	if _, err := r.ReadAt(buf, offsetRows); err != nil {
		return 0, err
	}
	return int(binary.LittleEndian.Uint64(buf)), nil
}
