// Copyright 2026 The libtcgcfg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ir

import (
	"fmt"
	"math"
)

// StackMagnitude is a lattice value in {BOTTOM} ∪ ℕ ∪ {TOP}. Because
// BOTTOM < n < TOP holds for every finite n when BOTTOM is -1 and TOP is
// the largest representable int64, plain integer comparison already
// implements the lattice order; join is plain max.
type StackMagnitude int64

const (
	// Bottom means "not yet reached" by the fixpoint.
	Bottom StackMagnitude = -1
	// Top means "unknown / conservatively unbounded".
	Top StackMagnitude = math.MaxInt64
)

// Join returns the least upper bound of a and b.
func (a StackMagnitude) Join(b StackMagnitude) StackMagnitude {
	if a > b {
		return a
	}
	return b
}

func (a StackMagnitude) String() string {
	switch a {
	case Bottom:
		return "BOTTOM"
	case Top:
		return "TOP"
	default:
		return fmt.Sprintf("%d", int64(a))
	}
}

// MfpStackState is the per-instruction lattice value the max-stack
// fixpoint computes: the product of two StackMagnitude lattices, joined
// componentwise.
type MfpStackState struct {
	MaxLdSize StackMagnitude
	MaxStSize StackMagnitude
}

// Join returns the componentwise join of s and o.
func (s MfpStackState) Join(o MfpStackState) MfpStackState {
	return MfpStackState{
		MaxLdSize: s.MaxLdSize.Join(o.MaxLdSize),
		MaxStSize: s.MaxStSize.Join(o.MaxStSize),
	}
}

// SubsumedBy reports whether s is already covered by o, i.e. o is at least
// as great as s in both components. The predicate is conjunctive: per
// spec.md §9, an earlier draft used OR here, which is wrong — a state is
// only subsumed when BOTH components are already covered.
func (s MfpStackState) SubsumedBy(o MfpStackState) bool {
	return s.MaxLdSize <= o.MaxLdSize && s.MaxStSize <= o.MaxStSize
}
