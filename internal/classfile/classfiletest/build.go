// Package classfiletest builds well-formed container bytes for use in
// tests across packages that need a realistic ClassArtifact without
// depending on the real build toolchain of a managed-bytecode compiler.
package classfiletest

import (
	"bytes"
	"encoding/binary"
)

const (
	magicNumber  uint32 = 0xC0DEC1A5
	majorVersion uint16 = 1
	minorVersion uint16 = 0
)

// FieldSpec describes one field row.
type FieldSpec struct {
	Name string
	Type string
}

// MethodSpec describes one method row.
type MethodSpec struct {
	Name       string
	ParamTypes []string
	ReturnType string
}

// Spec is the logical content of a class container, prior to encoding.
type Spec struct {
	Name       string
	Supertype  string
	Interfaces []string
	Fields     []FieldSpec
	Methods    []MethodSpec
}

// pool accumulates unique strings and hands back stable indices.
type pool struct {
	entries []string
	index   map[string]uint16
}

func newPool() *pool {
	return &pool{index: make(map[string]uint16)}
}

func (p *pool) intern(s string) uint16 {
	if idx, ok := p.index[s]; ok {
		return idx
	}
	idx := uint16(len(p.entries))
	p.entries = append(p.entries, s)
	p.index[s] = idx
	return idx
}

// Build encodes spec into the container byte format accepted by
// internal/classfile.
func Build(spec Spec) []byte {
	p := newPool()
	thisIdx := p.intern(spec.Name)
	superIdx := p.intern(spec.Supertype)

	ifaceIdx := make([]uint16, len(spec.Interfaces))
	for i, iface := range spec.Interfaces {
		ifaceIdx[i] = p.intern(iface)
	}

	type fieldIdx struct{ name, typ uint16 }
	fieldIdxs := make([]fieldIdx, len(spec.Fields))
	for i, f := range spec.Fields {
		fieldIdxs[i] = fieldIdx{p.intern(f.Name), p.intern(f.Type)}
	}

	type methodIdx struct {
		name    uint16
		params  []uint16
		retType uint16
	}
	methodIdxs := make([]methodIdx, len(spec.Methods))
	for i, m := range spec.Methods {
		params := make([]uint16, len(m.ParamTypes))
		for j, pt := range m.ParamTypes {
			params[j] = p.intern(pt)
		}
		methodIdxs[i] = methodIdx{p.intern(m.Name), params, p.intern(m.ReturnType)}
	}

	var buf bytes.Buffer
	w16 := func(v uint16) { binary.Write(&buf, binary.BigEndian, v) }
	w32 := func(v uint32) { binary.Write(&buf, binary.BigEndian, v) }
	wstr := func(s string) { w16(uint16(len(s))); buf.WriteString(s) }

	w32(magicNumber)
	w16(majorVersion)
	w16(minorVersion)
	w16(0) // access flags

	w16(uint16(len(p.entries)))
	for _, s := range p.entries {
		wstr(s)
	}

	w16(thisIdx)
	w16(superIdx)

	w16(uint16(len(ifaceIdx)))
	for _, idx := range ifaceIdx {
		w16(idx)
	}

	w16(uint16(len(fieldIdxs)))
	for _, f := range fieldIdxs {
		w16(f.name)
		w16(f.typ)
	}

	w16(uint16(len(methodIdxs)))
	for _, m := range methodIdxs {
		w16(m.name)
		w16(uint16(len(m.params)))
		for _, pidx := range m.params {
			w16(pidx)
		}
		w16(m.retType)
	}

	return buf.Bytes()
}
