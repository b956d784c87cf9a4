// Package validate decides whether a newly-extracted ClassMetadata value
// is redefinable against the currently-loaded class (spec.md §4.3).
package validate

import (
	"sort"

	"github.com/redefinecore/agent/internal/event"
	"github.com/redefinecore/agent/internal/model"
)

// Check compares newMeta against loaded's current metadata and returns the
// full set of rejection reasons, or nil if the change is redefinable. A
// nil loaded class is reported as NotLoaded and no other rules run.
func Check(newMeta model.ClassMetadata, loaded *model.LoadedClass) []event.RejectionReason {
	if loaded == nil {
		return []event.RejectionReason{{Kind: event.ReasonNotLoaded}}
	}
	_, oldMeta, _ := loaded.Snapshot()

	var reasons []event.RejectionReason

	if newMeta.Name != oldMeta.Name {
		reasons = append(reasons, event.RejectionReason{Kind: event.ReasonClassNameMismatch})
	}
	if newMeta.Supertype != oldMeta.Supertype {
		reasons = append(reasons, event.RejectionReason{Kind: event.ReasonSupertypeChanged})
	}
	if !sameStringSet(oldMeta.Interfaces, newMeta.Interfaces) {
		reasons = append(reasons, event.RejectionReason{Kind: event.ReasonInterfaceSetChanged})
	}

	reasons = append(reasons, diffFields(oldMeta.Fields, newMeta.Fields)...)
	reasons = append(reasons, diffMethods(oldMeta.Methods, newMeta.Methods)...)

	return reasons
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func diffFields(old, new_ []model.FieldDescriptor) []event.RejectionReason {
	oldByName := make(map[string]model.FieldDescriptor, len(old))
	for _, f := range old {
		oldByName[f.Name] = f
	}
	newByName := make(map[string]model.FieldDescriptor, len(new_))
	for _, f := range new_ {
		newByName[f.Name] = f
	}

	var reasons []event.RejectionReason
	for name, nf := range newByName {
		of, ok := oldByName[name]
		if !ok {
			reasons = append(reasons, event.RejectionReason{Kind: event.ReasonFieldAdded, Detail: name})
			continue
		}
		if of.Type != nf.Type {
			reasons = append(reasons, event.RejectionReason{Kind: event.ReasonFieldTypeChanged, Detail: name})
		}
	}
	for name := range oldByName {
		if _, ok := newByName[name]; !ok {
			reasons = append(reasons, event.RejectionReason{Kind: event.ReasonFieldRemoved, Detail: name})
		}
	}
	return sortedReasons(reasons)
}

func diffMethods(old, new_ []model.MethodDescriptor) []event.RejectionReason {
	oldByName := make(map[string]model.MethodDescriptor, len(old))
	for _, m := range old {
		oldByName[m.Name] = m
	}
	newByName := make(map[string]model.MethodDescriptor, len(new_))
	for _, m := range new_ {
		newByName[m.Name] = m
	}

	var reasons []event.RejectionReason
	for name, nm := range newByName {
		om, ok := oldByName[name]
		if !ok {
			reasons = append(reasons, event.RejectionReason{Kind: event.ReasonMethodAdded, Detail: nm.Signature()})
			continue
		}
		if om.Signature() != nm.Signature() {
			reasons = append(reasons, event.RejectionReason{Kind: event.ReasonMethodSignatureChange, Detail: nm.Signature()})
		}
	}
	for name, om := range oldByName {
		if _, ok := newByName[name]; !ok {
			reasons = append(reasons, event.RejectionReason{Kind: event.ReasonMethodRemoved, Detail: om.Signature()})
		}
	}
	return sortedReasons(reasons)
}

// sortedReasons gives deterministic ordering for reproducible events and
// tests; map iteration order is otherwise unspecified.
func sortedReasons(reasons []event.RejectionReason) []event.RejectionReason {
	sort.Slice(reasons, func(i, j int) bool {
		if reasons[i].Kind != reasons[j].Kind {
			return reasons[i].Kind < reasons[j].Kind
		}
		return reasons[i].Detail < reasons[j].Detail
	})
	return reasons
}
