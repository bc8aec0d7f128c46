package arrayfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"golang.org/x/sys/unix"
)

// Overwrite replaces any container at path with one holding exactly a.
// The new container is written beside path and renamed into place, so
// readers see either the old file or the complete new one.
func Overwrite(path string, a Array) error {
	if err := a.validate(); err != nil {
		return err
	}
	h := newHeader(a.DType, a.Trailing())
	h.rows = a.Rows()

	tempFile, err := os.CreateTemp(filepath.Dir(path), "_tmp-*.arr")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	err = writeContainer(tempFile, h, a.Data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, path); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

// Extend appends the rows of a to the container at path, creating it with
// a's trailing shape when absent. New rows become visible to concurrent
// readers only after they are fully written and flushed.
//
// Extend does not lock: callers must ensure a single writer per container.
func Extend(path string, a Array) error {
	if err := a.validate(); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, fs.ErrNotExist) {
		if err := Overwrite(path, Array{DType: a.DType, Shape: append([]int{0}, a.Trailing()...)}); err != nil {
			return err
		}
		f, err = os.OpenFile(path, os.O_RDWR, 0)
	}
	if err != nil {
		return err
	}
	defer f.Close()

	h, err := readHeader(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if h.dtype != a.DType {
		return fmt.Errorf("%w: container is %s, rows are %s", ErrDTypeMismatch, h.dtype, a.DType)
	}
	if !slices.Equal(h.trailing, a.Trailing()) {
		return fmt.Errorf("%w: container trailing %v, rows trailing %v", ErrShapeMismatch, h.trailing, a.Trailing())
	}
	if a.Rows() == 0 {
		return nil
	}

	total := h.rows + a.Rows()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if need := int64(h.size()) + h.capacity(total); info.Size() < need {
		if err := f.Truncate(need); err != nil {
			return err
		}
	}
	if _, err := f.WriteAt(a.Data, h.dataOffset(h.rows)); err != nil {
		return err
	}
	if err := flush(f); err != nil {
		return err
	}

	rows := make([]byte, 8)
	binary.LittleEndian.PutUint64(rows, uint64(total))
	if _, err := f.WriteAt(rows, offsetRows); err != nil {
		return err
	}
	return flush(f)
}

func writeContainer(f *os.File, h header, data []byte) error {
	if err := f.Truncate(int64(h.size()) + h.capacity(h.rows)); err != nil {
		return err
	}
	if _, err := f.WriteAt(h.encode(), 0); err != nil {
		return err
	}
	if len(data) > 0 {
		if _, err := f.WriteAt(data, int64(h.size())); err != nil {
			return err
		}
	}
	return flush(f)
}

func flush(f *os.File) error {
	if err := unix.Fsync(int(f.Fd())); err != nil {
		return fmt.Errorf("flush %s: %w", f.Name(), err)
	}
	return nil
}

// Reader gives read access to a container while a writer may be appending.
type Reader struct {
	f   *os.File
	hdr header
}

// Open opens the container at path for reading.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	h, err := readHeader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Reader{f: f, hdr: h}, nil
}

// Read loads the whole container at path.
func Read(path string) (Array, error) {
	r, err := Open(path)
	if err != nil {
		return Array{}, err
	}
	defer r.Close()
	return r.ReadAll()
}

// DType returns the element type.
func (r *Reader) DType() DType { return r.hdr.dtype }

// Trailing returns the fixed trailing dimensions.
func (r *Reader) Trailing() []int { return slices.Clone(r.hdr.trailing) }

// RowsPerBlock returns the allocation granularity chosen at creation.
func (r *Reader) RowsPerBlock() int { return r.hdr.rowsPerBlock }

// Len returns the number of committed rows, refreshed from disk.
func (r *Reader) Len() (int, error) {
	rows, err := readRows(r.f)
	if err != nil {
		return 0, err
	}
	r.hdr.rows = rows
	return rows, nil
}

// Shape returns the current shape, refreshed from disk.
func (r *Reader) Shape() ([]int, error) {
	if _, err := r.Len(); err != nil {
		return nil, err
	}
	return r.hdr.shape(), nil
}

// ReadRows reads n rows starting at start. The range must lie within the
// committed rows.
func (r *Reader) ReadRows(start, n int) (Array, error) {
	rows, err := r.Len()
	if err != nil {
		return Array{}, err
	}
	if start < 0 || n < 0 || start+n > rows {
		return Array{}, fmt.Errorf("%w: rows [%d,%d) outside [0,%d)", ErrShapeMismatch, start, start+n, rows)
	}
	data := make([]byte, n*r.hdr.rowBytes())
	if len(data) > 0 {
		if _, err := r.f.ReadAt(data, r.hdr.dataOffset(start)); err != nil {
			return Array{}, err
		}
	}
	return Array{
		DType: r.hdr.dtype,
		Shape: append([]int{n}, r.hdr.trailing...),
		Data:  data,
	}, nil
}

// ReadAll reads every committed row.
func (r *Reader) ReadAll() (Array, error) {
	rows, err := r.Len()
	if err != nil {
		return Array{}, err
	}
	return r.ReadRows(0, rows)
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.f.Close()
}
