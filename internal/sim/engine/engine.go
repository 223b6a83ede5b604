// Package engine advances a circuit grid by one tick.
//
// Advance is a pure function of the previous grid and the tick settings.
// Every pass reads a frozen view produced by the pass before it, so the
// order tiles are visited in never matters, with one documented exception:
// pistons resolve in row-major scan order and each one sees the grid as
// already rearranged by the pistons before it.
package engine

import "circuitsandbox.dev/internal/sim/grid"

// Advance computes the grid that follows prev.
//
//  1. component logic, reading only prev
//  2. explosions
//  3. power propagation through dust
//  4. consumer activation
//  5. dispensers, then fluids
//  6. pistons
func Advance(prev grid.Grid, s grid.Settings) grid.Grid {
	next := evaluateComponents(prev, s)
	next = resolveExplosions(next, s)
	propagatePower(next)
	activateConsumers(next)

	result := next.Clone()
	fireDispensers(prev, next, result)
	flowFluids(next, result)

	final := result.Clone()
	resolvePistons(prev, result, final)
	return final
}
