package io

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/DataDog/zstd"

	"github.com/phil-mansfield/dustgrid/geom"
	"github.com/phil-mansfield/dustgrid/mesh"
)

/*
The binary format used for mesh files is as follows:
    |-- 1 --||-- 2 --||-- ... 3 ... --||-- ... 4 ... --||-- ... 5 ... --|

    1 - (int32) Flag indicating the endianness of the file. 0 indicates a big
        endian byte ordering and -1 indicates a little endian byte order.
    2 - (int32) Size of a MeshHeader struct. Should be checked for consistency.
    3 - (MeshHeader) Header containing the mesh's dimensions and order.
    4 - Order name followed by each field name, each as an int64 length and
        the raw bytes. Field names are sorted.
    5 - Body: one byte per refinement flag, then Leaves float64 values for
        every field. The body is zstd compressed if Compressed is set.
*/

const (
	// Endianness used when writing mesh files. Files of either endianness
	// can be read.
	DefaultEndiannessFlag int32 = -1

	compressionLevel = 3
)

var meshOrder binary.ByteOrder = binary.LittleEndian

// MeshHeader describes the contents of a mesh file.
type MeshHeader struct {
	Nodes, Leaves, Fields int64
	Codes                 [geom.Octants]int64
	Compressed            int64
	// BodySize is the number of bytes in the (possibly compressed) body.
	BodySize int64
}

// WriteMesh writes m to fname, compressing the body if requested.
func WriteMesh(fname string, m *mesh.Mesh, compress bool) error {
	f, err := os.Create(fname)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := EncodeMesh(f, m, compress); err != nil {
		return err
	}
	return f.Close()
}

// EncodeMesh writes m to w in the mesh file format.
func EncodeMesh(w io.Writer, m *mesh.Mesh, compress bool) error {
	names := m.Names()
	leaves := m.Leaves()

	body := &bytes.Buffer{}
	flags := make([]byte, len(m.Refined))
	for i, r := range m.Refined {
		if r {
			flags[i] = 1
		}
	}
	body.Write(flags)
	for _, name := range names {
		if len(m.Fields[name]) != leaves {
			return fmt.Errorf(
				"Field '%s' has %d values, but the mesh has %d leaves.",
				name, len(m.Fields[name]), leaves,
			)
		}
		if err := binary.Write(body, meshOrder, m.Fields[name]); err != nil {
			return err
		}
	}

	raw := body.Bytes()
	hd := MeshHeader{
		Nodes: int64(len(m.Refined)), Leaves: int64(leaves),
		Fields: int64(len(names)),
	}
	for i, c := range m.Order.Codes {
		hd.Codes[i] = int64(c)
	}
	if compress {
		var err error
		raw, err = zstd.CompressLevel(nil, raw, compressionLevel)
		if err != nil {
			return err
		}
		hd.Compressed = 1
	}
	hd.BodySize = int64(len(raw))

	buf := &bytes.Buffer{}
	binary.Write(buf, meshOrder, DefaultEndiannessFlag)
	binary.Write(buf, meshOrder, int32(binary.Size(hd)))
	binary.Write(buf, meshOrder, &hd)
	writeString(buf, m.Order.Name)
	for _, name := range names {
		writeString(buf, name)
	}
	buf.Write(raw)

	_, err := w.Write(buf.Bytes())
	return err
}

// ReadMesh reads a mesh written by WriteMesh.
func ReadMesh(fname string) (*mesh.Mesh, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeMesh(f)
}

// DecodeMesh reads a mesh from r.
func DecodeMesh(r io.Reader) (*mesh.Mesh, error) {
	var flag, size int32
	if err := binary.Read(r, binary.LittleEndian, &flag); err != nil {
		return nil, err
	}
	var order binary.ByteOrder
	switch flag {
	case -1:
		order = binary.LittleEndian
	case 0:
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("Unrecognized endianness flag, %d.", flag)
	}

	if err := binary.Read(r, order, &size); err != nil {
		return nil, err
	}
	hd := MeshHeader{}
	if int(size) != binary.Size(hd) {
		return nil, fmt.Errorf(
			"Expected mesh header of size %d, but file says %d.",
			binary.Size(hd), size,
		)
	}
	if err := binary.Read(r, order, &hd); err != nil {
		return nil, err
	}

	if hd.Nodes < 0 || hd.Leaves < 0 || hd.Fields < 0 || hd.BodySize < 0 {
		return nil, fmt.Errorf(
			"Mesh header has negative counts: %d nodes, %d leaves, %d "+
				"fields, %d body bytes.", hd.Nodes, hd.Leaves, hd.Fields, hd.BodySize,
		)
	} else if hd.Leaves > hd.Nodes {
		return nil, fmt.Errorf(
			"Mesh header has %d leaves, but only %d nodes.", hd.Leaves, hd.Nodes,
		)
	}

	rest, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	// Every name is prefixed by an 8 byte length.
	if hd.Fields > int64(len(rest))/8 {
		return nil, fmt.Errorf(
			"Mesh header has %d fields, but only %d bytes follow it.",
			hd.Fields, len(rest),
		)
	}
	names := bytes.NewReader(rest)

	orderName, err := readString(names, order)
	if err != nil {
		return nil, err
	}
	codes := [geom.Octants]int{}
	for i, c := range hd.Codes {
		codes[i] = int(c)
	}
	o, err := mesh.NewOrder(orderName, codes)
	if err != nil {
		return nil, err
	}

	fieldNames := make([]string, hd.Fields)
	for i := range fieldNames {
		if fieldNames[i], err = readString(names, order); err != nil {
			return nil, err
		}
	}

	raw := rest[len(rest)-names.Len():]
	if int64(len(raw)) != hd.BodySize {
		return nil, fmt.Errorf(
			"Mesh body has %d bytes, but the header says %d.",
			len(raw), hd.BodySize,
		)
	}
	if hd.Compressed != 0 {
		if raw, err = zstd.Decompress(nil, raw); err != nil {
			return nil, err
		}
	}

	if err := checkBodySize(&hd, int64(len(raw))); err != nil {
		return nil, err
	}

	m := &mesh.Mesh{
		Order:   o,
		Refined: make([]bool, hd.Nodes),
		Fields:  make(map[string][]float64, len(fieldNames)),
	}
	for i := range m.Refined {
		m.Refined[i] = raw[i] != 0
	}

	body := bytes.NewReader(raw[hd.Nodes:])
	for _, name := range fieldNames {
		vals := make([]float64, hd.Leaves)
		if err := binary.Read(body, order, vals); err != nil {
			return nil, err
		}
		m.Fields[name] = vals
	}

	if leaves := m.Leaves(); int64(leaves) != hd.Leaves {
		return nil, &mesh.MalformedTreeError{
			Index: -1, Expected: int(hd.Leaves), Actual: leaves,
			Reason: "mesh file header disagrees with its refinement flags",
		}
	}
	if err := mesh.Validate(m, -1); err != nil {
		return nil, fmt.Errorf("Mesh file is corrupted: %w", err)
	}

	return m, nil
}

// checkBodySize checks that a decoded body of n bytes holds exactly one byte
// per node and Leaves float64 values per field, without overflowing.
func checkBodySize(hd *MeshHeader, n int64) error {
	fieldBytes := n - hd.Nodes
	ok := fieldBytes >= 0
	if ok && hd.Fields == 0 {
		ok = fieldBytes == 0
	} else if ok {
		perLeaf := 8 * hd.Fields
		ok = fieldBytes%perLeaf == 0 && fieldBytes/perLeaf == hd.Leaves
	}

	if !ok {
		return fmt.Errorf(
			"Mesh body has %d bytes, which does not fit %d nodes and %d "+
				"fields of %d leaves.", n, hd.Nodes, hd.Fields, hd.Leaves,
		)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, meshOrder, int64(len(s)))
	buf.WriteString(s)
}

func readString(r io.Reader, order binary.ByteOrder) (string, error) {
	var n int64
	if err := binary.Read(r, order, &n); err != nil {
		return "", err
	}
	if n < 0 || n > 1<<16 {
		return "", fmt.Errorf("Invalid string length %d in mesh file.", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
