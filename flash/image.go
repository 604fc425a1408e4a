// Package flash loads firmware images for the RequestDownload /
// TransferData sequence.
package flash

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/marcinbor85/gohex"
)

// Segment is one contiguous memory range of an image.
type Segment struct {
	Address uint32
	Data    []byte
}

// Blocks splits the segment payload into chunks of at most size bytes.
func (s Segment) Blocks(size int) [][]byte {
	return SplitBlock(s.Data, size)
}

type Image struct {
	Segments []Segment
}

var ErrEmptyImage = errors.New("flash: image has no data")

// LoadIntelHex parses an Intel HEX stream. Segments are returned in
// ascending address order.
func LoadIntelHex(r io.Reader) (*Image, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, fmt.Errorf("flash: parse intel hex: %w", err)
	}
	var img Image
	for _, seg := range mem.GetDataSegments() {
		if len(seg.Data) == 0 {
			continue
		}
		img.Segments = append(img.Segments, Segment{
			Address: seg.Address,
			Data:    append([]byte(nil), seg.Data...),
		})
	}
	if len(img.Segments) == 0 {
		return nil, ErrEmptyImage
	}
	sort.Slice(img.Segments, func(i, j int) bool {
		return img.Segments[i].Address < img.Segments[j].Address
	})
	return &img, nil
}

func LoadIntelHexFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("flash: %w", err)
	}
	defer f.Close()
	return LoadIntelHex(f)
}

// Size is the total payload length across segments.
func (img *Image) Size() int {
	n := 0
	for _, s := range img.Segments {
		n += len(s.Data)
	}
	return n
}

// WriteIntelHex dumps the image back to Intel HEX with 16 data bytes per
// record.
func (img *Image) WriteIntelHex(w io.Writer) error {
	mem := gohex.NewMemory()
	for _, s := range img.Segments {
		if err := mem.AddBinary(s.Address, s.Data); err != nil {
			return fmt.Errorf("flash: segment 0x%08X: %w", s.Address, err)
		}
	}
	return mem.DumpIntelHex(w, 16)
}

// SplitBlock cuts data into consecutive chunks of size bytes; the last
// chunk may be shorter. The chunks alias data.
func SplitBlock(data []byte, size int) [][]byte {
	if size <= 0 {
		return nil
	}
	blocks := make([][]byte, 0, (len(data)+size-1)/size)
	for i := 0; i < len(data); i += size {
		blocks = append(blocks, data[i:min(i+size, len(data))])
	}
	return blocks
}
