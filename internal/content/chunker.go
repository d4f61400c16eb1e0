package content

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/inkbound/scribe/internal/keyval"
)

const (
	// DefaultThreshold is the exclusive upper bound for the normal storage
	// strategy: encoded content of exactly this size is still stored as one
	// record.
	DefaultThreshold = 20 * 1024

	// MaxNormalValueSize is the hard cap on a single stored value.
	MaxNormalValueSize = 60 * 1024

	// OptimalChunkSize is the default chunk segment size.
	OptimalChunkSize = 16 * 1024

	manifestMagic = "scribe-chunked v1"
)

// Strategy selects between one normal write and chunked storage.
type Strategy int

const (
	StrategyNormal Strategy = iota
	StrategyChunked
)

func (s Strategy) String() string {
	if s == StrategyChunked {
		return "chunked"
	}
	return "normal"
}

// Chunk is one content-addressed segment of oversized content.
type Chunk struct {
	Index int
	Data  []byte
	Hash  keyval.Hash
}

// Classification is the outcome of classifying one upload.
type Classification struct {
	Strategy    Strategy
	Encoded     []byte // stored text form of the full content
	ContentHash keyval.Hash
	Chunks      []Chunk // chunked strategy only
	Manifest    []byte  // chunked strategy only
}

// Options configure classification.
type Options struct {
	Threshold int  // normal/chunked boundary; 0 means DefaultThreshold
	ChunkSize int  // 0 means OptimalChunkSize
	Compress  bool // zstd-compress binary content before encoding
}

// Classify encodes raw content and decides the storage strategy. Encoded
// length at or below the threshold selects normal; anything larger is split
// into chunks and a manifest document is synthesized.
func Classify(raw []byte, opts Options) (*Classification, error) {
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	chunkSize := opts.ChunkSize
	if chunkSize == 0 {
		chunkSize = OptimalChunkSize
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}

	encoded, err := Encode(raw, opts.Compress)
	if err != nil {
		return nil, fmt.Errorf("encode content: %w", err)
	}

	c := &Classification{
		Encoded:     encoded,
		ContentHash: keyval.HashOf(encoded),
	}
	if len(encoded) <= threshold {
		c.Strategy = StrategyNormal
		return c, nil
	}

	c.Strategy = StrategyChunked
	c.Chunks = split(encoded, chunkSize)
	c.Manifest = buildManifest(c, chunkSize)
	return c, nil
}

func split(data []byte, size int) []Chunk {
	chunks := make([]Chunk, 0, (len(data)+size-1)/size)
	for i := 0; i < len(data); i += size {
		end := i + size
		if end > len(data) {
			end = len(data)
		}
		seg := data[i:end]
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Data:  seg,
			Hash:  keyval.HashOf(seg),
		})
	}
	return chunks
}

// buildManifest renders the chunk manifest: a small line-oriented document
// listing ordered chunk hashes plus the declared hash of the whole content.
func buildManifest(c *Classification, chunkSize int) []byte {
	var b strings.Builder
	b.WriteString(manifestMagic + "\n")
	b.WriteString("content-hash: " + c.ContentHash.Hex() + "\n")
	b.WriteString("chunk-size: " + strconv.Itoa(chunkSize) + "\n")
	b.WriteString("total-size: " + strconv.Itoa(len(c.Encoded)) + "\n")
	b.WriteString("chunks:\n")
	for _, ch := range c.Chunks {
		b.WriteString(strconv.Itoa(ch.Index) + ": " + ch.Hash.Hex() + "\n")
	}
	return []byte(b.String())
}

// Manifest is a parsed chunk manifest document.
type Manifest struct {
	ContentHash keyval.Hash
	ChunkSize   int
	TotalSize   int
	Chunks      []keyval.Hash
}

// ParseManifest parses a stored manifest document.
func ParseManifest(doc []byte) (*Manifest, error) {
	lines := strings.Split(strings.TrimRight(string(doc), "\n"), "\n")
	if len(lines) == 0 || lines[0] != manifestMagic {
		return nil, fmt.Errorf("not a chunk manifest")
	}
	m := &Manifest{}
	inChunks := false
	for _, line := range lines[1:] {
		if line == "chunks:" {
			inChunks = true
			continue
		}
		k, v, ok := strings.Cut(line, ": ")
		if !ok {
			return nil, fmt.Errorf("bad manifest line %q", line)
		}
		if inChunks {
			idx, err := strconv.Atoi(k)
			if err != nil || idx != len(m.Chunks) {
				return nil, fmt.Errorf("bad chunk index %q", k)
			}
			h, err := keyval.ParseHash(v)
			if err != nil {
				return nil, err
			}
			m.Chunks = append(m.Chunks, h)
			continue
		}
		var err error
		switch k {
		case "content-hash":
			m.ContentHash, err = keyval.ParseHash(v)
		case "chunk-size":
			m.ChunkSize, err = strconv.Atoi(v)
		case "total-size":
			m.TotalSize, err = strconv.Atoi(v)
		default:
			// Unknown fields are tolerated for forward compatibility.
		}
		if err != nil {
			return nil, fmt.Errorf("manifest field %s: %w", k, err)
		}
	}
	if len(m.Chunks) == 0 {
		return nil, fmt.Errorf("manifest lists no chunks")
	}
	return m, nil
}
