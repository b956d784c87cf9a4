package reconcile

import (
	"context"

	"github.com/redefinecore/agent/internal/ports"
)

// FieldAccessor is the reflective field read/write hook ReflectiveRestore
// depends on. Field sets are guaranteed identical by name and type between
// pre-image and current instance, per the Compatibility Validator's rules.
type FieldAccessor interface {
	Available(ctx context.Context, className string) bool
	ReadFields(ctx context.Context, instance ports.InstanceHandle) (map[string]any, error)
	WriteFields(ctx context.Context, instance ports.InstanceHandle, fields map[string]any) error
}

// ProxyRefresher is the framework-support hook ProxyRefresh depends on:
// instances exposed behind a proxy/interceptor can have their target
// swapped without touching instance state.
type ProxyRefresher interface {
	Available(ctx context.Context, className string) bool
	Refresh(ctx context.Context, instance ports.InstanceHandle) error
}

// FactoryResetter is the framework-support hook FactoryReset depends on:
// instances are re-created via a registered factory, state is not
// preserved.
type FactoryResetter interface {
	Available(ctx context.Context, className string) bool
	Recreate(ctx context.Context, instance ports.InstanceHandle) error
}
