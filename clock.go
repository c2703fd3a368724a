// clock.go - Two-process clock kernel: combinational convergence + sequential commit

package river

// Component is the two-process capability every clocked block in the
// design implements: compute next-state/outputs from current-state
// and inputs only (Comb), and publish next -> current for every
// signal it owns (Commit). This is deliberately the only dispatch
// surface the kernel needs - no virtual hierarchy beyond it.
type Component interface {
	// Comb recomputes every output and every Signal's next value from
	// current values only. May be called more than once per tick; it
	// must be safe to re-run until the whole design's signals settle.
	Comb()

	// Commit publishes this component's own Signals' next -> current.
	// Called exactly once per tick, after combinational convergence.
	Commit()
}

// StepCallback is invoked once per tick, after the register commit,
// in registration order. Returning true re-registers the callback for
// the following tick, so a callback may reschedule itself.
type StepCallback func(tick uint64) (again bool)

// Clock drives the fixed-point combinational evaluation and the
// sequential commit for every component registered with it.
type Clock struct {
	components []Component
	maxIters   int
	changed    int
	tick       uint64
	callbacks  []StepCallback
	preCommit  []func()
}

// defaultMaxItersSlack is added to the component count to get the
// default convergence bound: the total number of combinational
// processes plus a small constant.
const defaultMaxItersSlack = 4

// NewClock creates a clock with the default convergence bound. Call
// SetMaxIters after registering all components if a tighter or looser
// bound is required (e.g. in tests that want CombinationalLoop to
// trigger quickly).
func NewClock() *Clock {
	return &Clock{}
}

// Register adds a component to the evaluation schedule. Order among
// components is not guaranteed to matter for correctness - see Tick.
func (c *Clock) Register(comp Component) {
	c.components = append(c.components, comp)
	c.maxIters = len(c.components) + defaultMaxItersSlack
}

// SetMaxIters overrides the convergence bound.
func (c *Clock) SetMaxIters(n int) { c.maxIters = n }

// OnStep registers a callback to run after every commit.
func (c *Clock) OnStep(cb StepCallback) { c.callbacks = append(c.callbacks, cb) }

// OnPreCommit registers a callback to run once per tick, after
// combinational convergence but before any component's Commit. This
// is the hook multi-master bus arbitration needs: by convergence every
// component's "v" (next) state already reflects what it would commit
// this tick, so a pre-commit callback can inspect contention across
// components and adjust their "v" state before Commit publishes it -
// see simulator.go's arbitrateBusGrants.
func (c *Clock) OnPreCommit(cb func()) { c.preCommit = append(c.preCommit, cb) }

func (c *Clock) markChanged() { c.changed++ }

// Tick evaluates all components to a combinational fixed point, then
// commits every register, then runs step callbacks. Returns
// ErrCombinationalLoop (via Fatal) if convergence does not occur
// within the configured bound.
func (c *Clock) Tick() error {
	converged := false
	bound := c.maxIters
	if bound <= 0 {
		bound = len(c.components) + defaultMaxItersSlack
	}
	for i := 0; i < bound; i++ {
		c.changed = 0
		for _, comp := range c.components {
			comp.Comb()
		}
		if c.changed == 0 {
			converged = true
			break
		}
	}
	if !converged {
		return Fatal(ErrCombinationalLoop, "no fixed point within %d iterations over %d components", bound, len(c.components))
	}

	for _, cb := range c.preCommit {
		cb()
	}

	for _, comp := range c.components {
		comp.Commit()
	}

	c.tick++
	live := c.callbacks[:0]
	for _, cb := range c.callbacks {
		if cb(c.tick) {
			live = append(live, cb)
		}
	}
	c.callbacks = live
	return nil
}

// Now returns the tick counter (number of commits performed so far).
func (c *Clock) Now() uint64 { return c.tick }
