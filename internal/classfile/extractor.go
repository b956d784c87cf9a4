package classfile

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/redefinecore/agent/internal/model"
)

// DefaultMaxArtifactSize is the ceiling applied when NewExtractor is given
// a non-positive maxArtifactSize (spec.md §8 "Artifact larger than a
// configured maximum").
const DefaultMaxArtifactSize int64 = 16 * 1024 * 1024

// Extractor parses class artifacts into ClassMetadata, caching results by
// (path, content digest) for the configured TTL (spec.md §4.2 "Caching").
type Extractor struct {
	cache           *expirable.LRU[string, model.ClassMetadata]
	maxArtifactSize int64
}

// NewExtractor constructs an Extractor whose cache holds at most
// maxEntries entries, each valid for ttl. maxArtifactSize bounds the
// bytes Extract will parse; a non-positive value falls back to
// DefaultMaxArtifactSize.
func NewExtractor(maxEntries int, ttl time.Duration, maxArtifactSize int64) *Extractor {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if maxArtifactSize <= 0 {
		maxArtifactSize = DefaultMaxArtifactSize
	}
	return &Extractor{
		cache:           expirable.NewLRU[string, model.ClassMetadata](maxEntries, nil, ttl),
		maxArtifactSize: maxArtifactSize,
	}
}

// Extract parses artifact, or returns the cached result for the same
// (path, digest) pair if present. The returned bool reports a cache hit.
// An artifact larger than maxArtifactSize is rejected before parsing.
func (e *Extractor) Extract(artifact model.ClassArtifact) (model.ClassMetadata, bool, *ExtractionError) {
	if int64(len(artifact.Bytes)) > e.maxArtifactSize {
		return model.ClassMetadata{}, false, tooLarge(fmt.Sprintf("artifact %d bytes exceeds max %d", len(artifact.Bytes), e.maxArtifactSize))
	}

	key := cacheKey(artifact.Path, artifact.Digest)
	if cached, ok := e.cache.Get(key); ok {
		return cached, true, nil
	}

	meta, extErr := parse(artifact.Bytes)
	if extErr != nil {
		return model.ClassMetadata{}, false, extErr
	}
	e.cache.Add(key, meta)
	return meta, false, nil
}

func cacheKey(path string, digest [32]byte) string {
	return path + "#" + hex.EncodeToString(digest[:])
}
