package classfile

import (
	"io"

	"github.com/redefinecore/agent/internal/model"
)

// container is the fully parsed constant pool and table indices, before
// indices are resolved into the name strings ClassMetadata carries.
type container struct {
	pool          []string
	thisClass     uint16
	superClass    uint16
	interfaceIdx  []uint16
	fields        []fieldRow
	methods       []methodRow
}

type fieldRow struct {
	nameIdx uint16
	typeIdx uint16
}

type methodRow struct {
	nameIdx       uint16
	paramTypeIdx  []uint16
	returnTypeIdx uint16
}

// parse reads the container format from b and returns the fully resolved
// ClassMetadata, or an *ExtractionError classifying why it could not.
func parse(b []byte) (model.ClassMetadata, *ExtractionError) {
	if len(b) == 0 {
		return model.ClassMetadata{}, truncated("empty artifact")
	}

	rd := newReader(b)

	magic, err := rd.u32()
	if err != nil {
		return model.ClassMetadata{}, truncated("magic number")
	}
	if magic != MagicNumber {
		return model.ClassMetadata{}, unsupported("unrecognized magic number")
	}

	major, err := rd.u16()
	if err != nil {
		return model.ClassMetadata{}, truncated("major version")
	}
	if _, err := rd.u16(); err != nil { // minor version, not gated on
		return model.ClassMetadata{}, truncated("minor version")
	}
	if major != CurrentMajorVersion {
		return model.ClassMetadata{}, unsupported("unsupported major version")
	}

	if _, err := rd.u16(); err != nil { // access flags, carried for fidelity but not modeled
		return model.ClassMetadata{}, truncated("access flags")
	}

	c := container{}
	poolCount, err := rd.u16()
	if err != nil {
		return model.ClassMetadata{}, truncated("constant pool count")
	}
	c.pool = make([]string, poolCount)
	for i := range c.pool {
		s, err := rd.str()
		if err != nil {
			return model.ClassMetadata{}, truncatedOrMalformed(err, "constant pool entry")
		}
		c.pool[i] = s
	}

	if c.thisClass, err = rd.u16(); err != nil {
		return model.ClassMetadata{}, truncated("this-class index")
	}
	if c.superClass, err = rd.u16(); err != nil {
		return model.ClassMetadata{}, truncated("super-class index")
	}

	ifaceCount, err := rd.u16()
	if err != nil {
		return model.ClassMetadata{}, truncated("interface count")
	}
	c.interfaceIdx = make([]uint16, ifaceCount)
	for i := range c.interfaceIdx {
		if c.interfaceIdx[i], err = rd.u16(); err != nil {
			return model.ClassMetadata{}, truncated("interface index")
		}
	}

	fieldCount, err := rd.u16()
	if err != nil {
		return model.ClassMetadata{}, truncated("field count")
	}
	c.fields = make([]fieldRow, fieldCount)
	for i := range c.fields {
		if c.fields[i].nameIdx, err = rd.u16(); err != nil {
			return model.ClassMetadata{}, truncated("field name index")
		}
		if c.fields[i].typeIdx, err = rd.u16(); err != nil {
			return model.ClassMetadata{}, truncated("field type index")
		}
	}

	methodCount, err := rd.u16()
	if err != nil {
		return model.ClassMetadata{}, truncated("method count")
	}
	c.methods = make([]methodRow, methodCount)
	for i := range c.methods {
		m := &c.methods[i]
		if m.nameIdx, err = rd.u16(); err != nil {
			return model.ClassMetadata{}, truncated("method name index")
		}
		paramCount, err := rd.u16()
		if err != nil {
			return model.ClassMetadata{}, truncated("method param count")
		}
		m.paramTypeIdx = make([]uint16, paramCount)
		for j := range m.paramTypeIdx {
			if m.paramTypeIdx[j], err = rd.u16(); err != nil {
				return model.ClassMetadata{}, truncated("method param type index")
			}
		}
		if m.returnTypeIdx, err = rd.u16(); err != nil {
			return model.ClassMetadata{}, truncated("method return type index")
		}
	}

	return resolve(c)
}

func truncatedOrMalformed(err error, what string) *ExtractionError {
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return truncated(what)
	}
	return malformed(what)
}

// resolve turns pool-index references into the name strings ClassMetadata
// carries and computes the schema fingerprint.
func resolve(c container) (model.ClassMetadata, *ExtractionError) {
	lookup := func(idx uint16) (string, bool) {
		if int(idx) >= len(c.pool) {
			return "", false
		}
		return c.pool[idx], true
	}

	className, ok := lookup(c.thisClass)
	if !ok || className == "" {
		return model.ClassMetadata{}, malformed("missing class name")
	}
	superName, ok := lookup(c.superClass)
	if !ok {
		return model.ClassMetadata{}, malformed("super-class index out of range")
	}

	interfaces := make([]string, 0, len(c.interfaceIdx))
	for _, idx := range c.interfaceIdx {
		name, ok := lookup(idx)
		if !ok {
			return model.ClassMetadata{}, malformed("interface index out of range")
		}
		interfaces = append(interfaces, name)
	}

	fields := make([]model.FieldDescriptor, 0, len(c.fields))
	for _, f := range c.fields {
		name, ok := lookup(f.nameIdx)
		if !ok {
			return model.ClassMetadata{}, malformed("field name index out of range")
		}
		typ, ok := lookup(f.typeIdx)
		if !ok {
			return model.ClassMetadata{}, malformed("field type index out of range")
		}
		fields = append(fields, model.FieldDescriptor{Name: name, Type: typ})
	}

	methods := make([]model.MethodDescriptor, 0, len(c.methods))
	for _, m := range c.methods {
		name, ok := lookup(m.nameIdx)
		if !ok {
			return model.ClassMetadata{}, malformed("method name index out of range")
		}
		params := make([]string, 0, len(m.paramTypeIdx))
		for _, idx := range m.paramTypeIdx {
			p, ok := lookup(idx)
			if !ok {
				return model.ClassMetadata{}, malformed("method param type index out of range")
			}
			params = append(params, p)
		}
		ret, ok := lookup(m.returnTypeIdx)
		if !ok {
			return model.ClassMetadata{}, malformed("method return type index out of range")
		}
		methods = append(methods, model.MethodDescriptor{Name: name, ParamTypes: params, ReturnType: ret})
	}

	meta := model.ClassMetadata{
		Name:       className,
		Supertype:  superName,
		Interfaces: interfaces,
		Fields:     fields,
		Methods:    methods,
	}
	meta.Fingerprint = fingerprint(meta)
	return meta, nil
}
