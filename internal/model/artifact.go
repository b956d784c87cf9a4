// Package model holds the core data types shared across the redefinition
// pipeline: class artifacts, extracted metadata, the VM's view of loaded
// classes, pre-image snapshots and in-flight redefinition attempts.
package model

import "time"

// ClassArtifact is a compiled class file on disk as observed by the watch
// session. It is never mutated once discovered.
type ClassArtifact struct {
	Path       string
	ModifiedAt time.Time
	Size       int64
	Digest     [32]byte
	Bytes      []byte
}

// DigestHex returns the lowercase hex encoding of the content digest.
func (a ClassArtifact) DigestHex() string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(a.Digest)*2)
	for i, b := range a.Digest {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}
