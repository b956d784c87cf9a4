// Package reconcile brings live instances of a just-redefined class into
// consistency with its new shape (spec.md §4.5 "Instance Reconciler").
package reconcile

// Strategy selects how live instances are brought into consistency with a
// redefined class.
type Strategy string

const (
	StrategyReflectiveRestore Strategy = "ReflectiveRestore"
	StrategyProxyRefresh      Strategy = "ProxyRefresh"
	StrategyFactoryReset      Strategy = "FactoryReset"
	StrategyNoUpdate          Strategy = "NoUpdate"
	StrategyAutomatic         Strategy = "Automatic"
)

// ParseStrategy maps a configuration string (spec.md §6
// "reconciler.default-strategy") to a Strategy, defaulting to Automatic
// for an unrecognized value.
func ParseStrategy(s string) Strategy {
	switch Strategy(s) {
	case StrategyReflectiveRestore, StrategyProxyRefresh, StrategyFactoryReset, StrategyNoUpdate, StrategyAutomatic:
		return Strategy(s)
	default:
		return StrategyAutomatic
	}
}
