package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/redefinecore/agent/internal/event"
	"github.com/redefinecore/agent/internal/model"
)

func baseMetadata() model.ClassMetadata {
	return model.ClassMetadata{
		Name:       "com.example.Widget",
		Supertype:  "java.lang.Object",
		Interfaces: []string{"com.example.Shape"},
		Fields: []model.FieldDescriptor{
			{Name: "count", Type: "int"},
		},
		Methods: []model.MethodDescriptor{
			{Name: "render", ParamTypes: []string{"int"}, ReturnType: "void"},
		},
	}
}

func loadedWith(meta model.ClassMetadata) *model.LoadedClass {
	lc := &model.LoadedClass{Name: meta.Name}
	lc.Apply([]byte("old-bytecode"), meta)
	return lc
}

func TestCheckNotLoaded(t *testing.T) {
	reasons := Check(baseMetadata(), nil)
	assert.Equal(t, []event.RejectionReason{{Kind: event.ReasonNotLoaded}}, reasons)
}

func TestCheckIdenticalMetadataPasses(t *testing.T) {
	meta := baseMetadata()
	reasons := Check(meta, loadedWith(meta))
	assert.Empty(t, reasons)
}

func TestCheckFieldAdded(t *testing.T) {
	old := baseMetadata()
	neu := baseMetadata()
	neu.Fields = append(neu.Fields, model.FieldDescriptor{Name: "label", Type: "string"})

	reasons := Check(neu, loadedWith(old))
	assert.Contains(t, reasons, event.RejectionReason{Kind: event.ReasonFieldAdded, Detail: "label"})
}

func TestCheckFieldRemoved(t *testing.T) {
	old := baseMetadata()
	neu := baseMetadata()
	neu.Fields = nil

	reasons := Check(neu, loadedWith(old))
	assert.Contains(t, reasons, event.RejectionReason{Kind: event.ReasonFieldRemoved, Detail: "count"})
}

func TestCheckFieldTypeChanged(t *testing.T) {
	old := baseMetadata()
	neu := baseMetadata()
	neu.Fields[0].Type = "long"

	reasons := Check(neu, loadedWith(old))
	assert.Contains(t, reasons, event.RejectionReason{Kind: event.ReasonFieldTypeChanged, Detail: "count"})
}

func TestCheckMethodBodyOnlyChangeIsAllowed(t *testing.T) {
	// Signature unchanged; method bodies are not modeled by ClassMetadata,
	// so an identical signature must never be reported.
	meta := baseMetadata()
	reasons := Check(meta, loadedWith(meta))
	assert.Empty(t, reasons)
}

func TestCheckMethodSignatureChanged(t *testing.T) {
	old := baseMetadata()
	neu := baseMetadata()
	neu.Methods[0].ReturnType = "int"

	reasons := Check(neu, loadedWith(old))
	assert.Contains(t, reasons, event.RejectionReason{Kind: event.ReasonMethodSignatureChange, Detail: "render(int)int"})
}

func TestCheckSupertypeChanged(t *testing.T) {
	old := baseMetadata()
	neu := baseMetadata()
	neu.Supertype = "com.example.Base"

	reasons := Check(neu, loadedWith(old))
	assert.Contains(t, reasons, event.RejectionReason{Kind: event.ReasonSupertypeChanged})
}

func TestCheckInterfaceSetChangedIgnoresOrder(t *testing.T) {
	old := baseMetadata()
	old.Interfaces = []string{"A", "B"}
	neu := baseMetadata()
	neu.Interfaces = []string{"B", "A"}

	reasons := Check(neu, loadedWith(old))
	assert.Empty(t, reasons)
}

func TestCheckMultipleReasonsReportedTogether(t *testing.T) {
	old := baseMetadata()
	neu := baseMetadata()
	neu.Supertype = "com.example.Base"
	neu.Fields = append(neu.Fields, model.FieldDescriptor{Name: "label", Type: "string"})

	reasons := Check(neu, loadedWith(old))
	assert.Len(t, reasons, 2)
}
