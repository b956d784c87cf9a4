package classfile

import (
	"crypto/sha256"
	"sort"
	"strings"

	"github.com/redefinecore/agent/internal/model"
)

// fingerprint computes a stable hash over (supertype, sorted interface
// names, sorted field name-and-type pairs, sorted method name-and-
// signature tuples), per spec.md §4.2. Sorting makes the result
// independent of the order fields/methods appeared in the container.
func fingerprint(meta model.ClassMetadata) [16]byte {
	interfaces := append([]string(nil), meta.Interfaces...)
	sort.Strings(interfaces)

	fieldPairs := make([]string, 0, len(meta.Fields))
	for _, f := range meta.Fields {
		fieldPairs = append(fieldPairs, f.Name+":"+f.Type)
	}
	sort.Strings(fieldPairs)

	methodSigs := make([]string, 0, len(meta.Methods))
	for _, m := range meta.Methods {
		methodSigs = append(methodSigs, m.Signature())
	}
	sort.Strings(methodSigs)

	var b strings.Builder
	b.WriteString(meta.Supertype)
	b.WriteByte('\x00')
	b.WriteString(strings.Join(interfaces, ","))
	b.WriteByte('\x00')
	b.WriteString(strings.Join(fieldPairs, ","))
	b.WriteByte('\x00')
	b.WriteString(strings.Join(methodSigs, ","))

	sum := sha256.Sum256([]byte(b.String()))
	var out [16]byte
	copy(out[:], sum[:16])
	return out
}
