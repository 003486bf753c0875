package mnthr

// fiberPool owns the free list of recyclable fiber records plus the
// holding area for finalized-but-still-pinned ones (§4.1 pin/unpin,
// gc). It is only ever touched from the single driver goroutine (or a
// fiber it is currently running), so it needs no lock of its own —
// the same invariant that lets the rest of the scheduler's core state
// go lock-free.
type fiberPool struct {
	free    []*Fiber
	holding []*Fiber
}

func (p *fiberPool) init() {
	p.free = nil
	p.holding = nil
}

// acquire pops a reusable, unpinned record off the free list, or nil if
// none is available.
func (p *fiberPool) acquire() *Fiber {
	n := len(p.free)
	if n == 0 {
		return nil
	}
	f := p.free[n-1]
	p.free[n-1] = nil
	p.free = p.free[:n-1]
	return f
}

// release returns a finalized record to the pool: the free list if its
// pin count is zero, otherwise the holding area (§4.1: "finalized
// records with abac > 0 remain on a holding list and are only released
// by gc() when abac returns to zero").
func (p *fiberPool) release(f *Fiber) {
	if f.pin > 0 {
		p.holding = append(p.holding, f)
		return
	}
	p.free = append(p.free, f)
}

// gc compacts the pool: holding records whose pin has dropped to zero
// merge into the free list; unpinned free records have their stacks
// actually unmapped and are dropped, reclaiming their memory (§4.1 gc:
// "records that are free and unpinned are dropped; pinned free records
// move to a holding list that merges back on a later gc").
func (rt *Runtime) GC() {
	p := &rt.pool
	kept := p.holding[:0]
	for _, f := range p.holding {
		if f.pin > 0 {
			kept = append(kept, f)
		} else {
			p.free = append(p.free, f)
		}
	}
	p.holding = kept

	for _, f := range p.free {
		if err := f.stack.unmap(); err != nil {
			rt.log.Warn("gc: failed to release fiber stack")
		}
	}
	p.free = p.free[:0]
}
