package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

// Reader serves postings from a segment file without loading every bitmap.
type Reader struct {
	file     *os.File
	filePath string
	header   SegmentHeader
	dict     []DictEntry
}

// OpenReader validates the header and dictionary checksum of path.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	r, err := newReader(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func newReader(f *os.File, path string) (*Reader, error) {
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return nil, fmt.Errorf("reading segment header: %w", err)
	}
	header := decodeHeader(headerBytes)
	if header.Magic != MagicBytes {
		return nil, fmt.Errorf("invalid segment file: bad magic bytes %x", header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported segment version %d", header.Version)
	}
	dictBytes := make([]byte, header.DictSize)
	if _, err := f.ReadAt(dictBytes, header.DictOffset); err != nil {
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, header.DictOffset+header.DictSize); err != nil {
		return nil, fmt.Errorf("reading footer: %w", err)
	}
	if got, want := crc32.ChecksumIEEE(dictBytes), binary.LittleEndian.Uint32(footer[0:4]); got != want {
		return nil, fmt.Errorf("dictionary checksum mismatch: %x != %x", got, want)
	}
	var dict []DictEntry
	if err := json.Unmarshal(dictBytes, &dict); err != nil {
		return nil, fmt.Errorf("parsing dictionary: %w", err)
	}
	return &Reader{file: f, filePath: path, header: header, dict: dict}, nil
}

// Lookup returns the messages of wordID, or an empty bitmap.
func (r *Reader) Lookup(wordID uint32) (*roaring.Bitmap, error) {
	idx := sort.Search(len(r.dict), func(i int) bool {
		return r.dict[i].WordID >= wordID
	})
	if idx >= len(r.dict) || r.dict[idx].WordID != wordID {
		return roaring.New(), nil
	}
	return r.read(r.dict[idx])
}

// ForEach decodes every word's postings in word id order.
func (r *Reader) ForEach(fn func(Postings) error) error {
	for _, entry := range r.dict {
		bm, err := r.read(entry)
		if err != nil {
			return err
		}
		if err := fn(Postings{WordID: entry.WordID, Messages: bm}); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) read(entry DictEntry) (*roaring.Bitmap, error) {
	buf := make([]byte, entry.PostLen)
	if _, err := r.file.ReadAt(buf, r.header.PostOffset+entry.PostOffset); err != nil {
		return nil, fmt.Errorf("reading postings for word %d: %w", entry.WordID, err)
	}
	bm := roaring.New()
	if err := bm.UnmarshalBinary(buf); err != nil {
		return nil, fmt.Errorf("decoding postings for word %d: %w", entry.WordID, err)
	}
	return bm, nil
}

func (r *Reader) Words() int {
	return len(r.dict)
}

func (r *Reader) Entries() uint64 {
	return r.header.EntryCount
}

func (r *Reader) Path() string {
	return r.filePath
}

func (r *Reader) Close() error {
	return r.file.Close()
}
