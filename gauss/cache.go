package gauss

// snapshot is the cached state. A Result is never modified after it
// is built, so copying a snapshot copies the whole state.
type snapshot struct {
	known  bool
	result *Result
	err    error
}

// Cache is a lazily computed, transactional wrapper around a
// propagator.
//
// Invalidate marks the state unknown; EnsureComputed recomputes it on
// the next read. Checkpoint saves the current state before a proposal,
// Rollback restores it after a rejection and Commit drops it after an
// acceptance.
type Cache struct {
	prop  *Propagator
	cur   snapshot
	saved *snapshot

	// Evaluations counts the post-order passes.
	Evaluations int
}

// NewCache creates a cache with unknown state.
func NewCache(prop *Propagator) *Cache {
	return &Cache{prop: prop}
}

// Propagator returns the wrapped propagator.
func (c *Cache) Propagator() *Propagator {
	return c.prop
}

// Invalidate marks all the derived quantities unknown.
func (c *Cache) Invalidate() {
	c.cur = snapshot{}
}

// Known returns true if the cached state is up to date.
func (c *Cache) Known() bool {
	return c.cur.known
}

// EnsureComputed returns the cached result, computing it if it is
// unknown. Errors are cached as well.
func (c *Cache) EnsureComputed() (*Result, error) {
	if !c.cur.known {
		res, err := c.prop.Compute()
		c.Evaluations++
		c.cur = snapshot{known: true, result: res, err: err}
	}
	return c.cur.result, c.cur.err
}

// LogLikelihood returns the marginal log-likelihood of the tip
// values.
func (c *Cache) LogLikelihood() (float64, error) {
	res, err := c.EnsureComputed()
	if err != nil {
		return 0, err
	}
	return res.LogLikelihood, nil
}

// Checkpoint saves the current state. A previous checkpoint is
// overwritten.
func (c *Cache) Checkpoint() {
	saved := c.cur
	c.saved = &saved
}

// Rollback restores the state saved by Checkpoint. It does nothing
// without a checkpoint.
func (c *Cache) Rollback() {
	if c.saved == nil {
		return
	}
	c.cur = *c.saved
	c.saved = nil
}

// Commit drops the checkpoint.
func (c *Cache) Commit() {
	c.saved = nil
}

// OnUpstreamModelChanged is called when an upstream model (matrix
// parameter, tree, restricted partial) changes.
func (c *Cache) OnUpstreamModelChanged(source interface{}) {
	log.Debugf("model changed: %T", source)
	c.Invalidate()
}

// OnUpstreamVariableChanged is called when a single value of an
// upstream variable changes.
func (c *Cache) OnUpstreamVariableChanged(source interface{}, index int) {
	log.Debugf("variable changed: %T[%d]", source, index)
	c.Invalidate()
}
