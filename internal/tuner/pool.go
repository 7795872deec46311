// Package tuner models the fixed set of capture resources on the device.
//
// A Pool owns no allocation table. Callers pass the indices currently held
// by their tasks and the pool answers from that view, so a lost release can
// never leak a tuner past the next tick.
package tuner

import "fmt"

// Pool is the set of tuner indices 0..Size-1.
type Pool struct {
	Size int
}

func (p Pool) valid(i int) bool { return i >= 0 && i < p.Size }

// Free returns every index not present in assigned, ascending.
func (p Pool) Free(assigned []int) []int {
	used := make([]bool, p.Size)
	for _, i := range assigned {
		if p.valid(i) {
			used[i] = true
		}
	}
	out := make([]int, 0, p.Size)
	for i, u := range used {
		if !u {
			out = append(out, i)
		}
	}
	return out
}

// Allocate returns the lowest index not in assigned.
func (p Pool) Allocate(assigned []int) (int, bool) {
	free := p.Free(assigned)
	if len(free) == 0 {
		return -1, false
	}
	return free[0], true
}

// Check reports the first tuner assigned more than once, or an index
// outside the pool.
func (p Pool) Check(assigned []int) error {
	seen := make(map[int]bool, len(assigned))
	for _, i := range assigned {
		if !p.valid(i) {
			return fmt.Errorf("tuner %d outside pool of %d", i, p.Size)
		}
		if seen[i] {
			return fmt.Errorf("tuner %d assigned twice", i)
		}
		seen[i] = true
	}
	return nil
}
