package segment

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

// MagicBytes identifies a valid .fsx segment file.
const (
	MagicBytes    uint32 = 0x46535849
	FormatVersion uint32 = 2
	HeaderSize    int    = 64
	FooterSize    int    = 16
)

// SegmentHeader is the fixed-size header written at the start of every segment.
type SegmentHeader struct {
	Magic      uint32
	Version    uint32
	WordCount  uint32
	EntryCount uint64
	DictOffset int64
	DictSize   int64
	PostOffset int64
	PostSize   int64
}

// DictEntry locates the serialized bitmap of one word id.
type DictEntry struct {
	WordID     uint32 `json:"w"`
	PostOffset int64  `json:"o"`
	PostLen    int    `json:"l"`
	DocFreq    uint64 `json:"d"`
}

// Postings is the message set of one word id.
type Postings struct {
	WordID   uint32
	Messages *roaring.Bitmap
}

// Write atomically replaces path with a segment holding the given postings.
// The output depends only on the input, so rewriting an unchanged index
// produces an identical file.
func Write(path string, postings []Postings) error {
	sorted := make([]Postings, 0, len(postings))
	for _, p := range postings {
		if p.Messages != nil && !p.Messages.IsEmpty() {
			sorted = append(sorted, p)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].WordID < sorted[j].WordID })

	var body bytes.Buffer
	dict := make([]DictEntry, 0, len(sorted))
	var entries uint64
	for _, p := range sorted {
		p.Messages.RunOptimize()
		offset := int64(body.Len())
		n, err := p.Messages.WriteTo(&body)
		if err != nil {
			return fmt.Errorf("writing postings for word %d: %w", p.WordID, err)
		}
		card := p.Messages.GetCardinality()
		entries += card
		dict = append(dict, DictEntry{
			WordID:     p.WordID,
			PostOffset: offset,
			PostLen:    int(n),
			DocFreq:    card,
		})
	}
	dictData, err := json.Marshal(dict)
	if err != nil {
		return fmt.Errorf("marshaling dictionary: %w", err)
	}

	header := SegmentHeader{
		Magic:      MagicBytes,
		Version:    FormatVersion,
		WordCount:  uint32(len(dict)),
		EntryCount: entries,
		PostOffset: int64(HeaderSize),
		PostSize:   int64(body.Len()),
	}
	header.DictOffset = header.PostOffset + header.PostSize
	header.DictSize = int64(len(dictData))

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating segment directory: %w", err)
	}
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp segment file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(encodeHeader(header)); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if _, err := f.Write(body.Bytes()); err != nil {
		return fmt.Errorf("writing postings: %w", err)
	}
	if _, err := f.Write(dictData); err != nil {
		return fmt.Errorf("writing dictionary: %w", err)
	}
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(dictData))
	binary.LittleEndian.PutUint32(footer[4:8], crc32.ChecksumIEEE(body.Bytes()))
	binary.LittleEndian.PutUint64(footer[8:16], entries)
	if _, err := f.Write(footer); err != nil {
		return fmt.Errorf("writing footer: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing segment file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming segment file: %w", err)
	}
	return nil
}

func encodeHeader(h SegmentHeader) []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.WordCount)
	binary.LittleEndian.PutUint64(b[12:20], h.EntryCount)
	binary.LittleEndian.PutUint64(b[20:28], uint64(h.DictOffset))
	binary.LittleEndian.PutUint64(b[28:36], uint64(h.DictSize))
	binary.LittleEndian.PutUint64(b[36:44], uint64(h.PostOffset))
	binary.LittleEndian.PutUint64(b[44:52], uint64(h.PostSize))
	return b
}

func decodeHeader(b []byte) SegmentHeader {
	return SegmentHeader{
		Magic:      binary.LittleEndian.Uint32(b[0:4]),
		Version:    binary.LittleEndian.Uint32(b[4:8]),
		WordCount:  binary.LittleEndian.Uint32(b[8:12]),
		EntryCount: binary.LittleEndian.Uint64(b[12:20]),
		DictOffset: int64(binary.LittleEndian.Uint64(b[20:28])),
		DictSize:   int64(binary.LittleEndian.Uint64(b[28:36])),
		PostOffset: int64(binary.LittleEndian.Uint64(b[36:44])),
		PostSize:   int64(binary.LittleEndian.Uint64(b[44:52])),
	}
}
