// Package nancheck reports NaN values flowing into networks.
//
// A nil *Checker is valid and does nothing, so checks can be left in
// the forward pass at no cost:
//
//	var checker *nancheck.Checker // disabled
//	checker.Check("actor/obs", data)
//
// Enable reporting by creating a Checker, optionally with a custom
// Handler.
package nancheck

import (
	"fmt"
	"sync"

	"github.com/samuelfneumann/rmappo/utils/floatutils"
	"k8s.io/klog/v2"
)

// Report describes the NaN values found by a single check
type Report struct {
	// Scope names the checked values, e.g. "actor/observation"
	Scope string

	// Count is the number of NaN values and Total the number checked
	Count int
	Total int

	// Mask is true at the index of every NaN value
	Mask []bool
}

func (r Report) String() string {
	return fmt.Sprintf("%s: %d of %d values are NaN", r.Scope, r.Count,
		r.Total)
}

// Handler is called with every Report holding at least one NaN
type Handler func(r Report)

// DefaultHandler logs reports as warnings with klog
func DefaultHandler(r Report) {
	klog.Warningf("nancheck: %v", r)
	if klog.V(2).Enabled() {
		klog.Infof("nancheck: %s mask %v", r.Scope, r.Mask)
	}
}

// Checker checks values for NaNs and reports them to its Handler
type Checker struct {
	handler Handler
}

// New returns a Checker reporting with DefaultHandler
func New() *Checker {
	return &Checker{handler: DefaultHandler}
}

// WithHandler sets the Handler reports are sent to and returns the
// Checker. A nil handler restores DefaultHandler.
func (c *Checker) WithHandler(handler Handler) *Checker {
	if handler == nil {
		handler = DefaultHandler
	}
	c.handler = handler
	return c
}

// Check reports the NaN values in data under scope and returns their
// count. Checking never alters data. A nil Checker returns 0.
func (c *Checker) Check(scope string, data []float64) int {
	if c == nil {
		return 0
	}

	count, mask := floatutils.CountNaN(data)
	if count > 0 {
		c.handler(Report{
			Scope: scope,
			Count: count,
			Total: len(data),
			Mask:  mask,
		})
	}
	return count
}

// Counter is a Handler accumulating the number of NaN values seen per
// scope. It is safe for concurrent use.
type Counter struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewCounter returns a new, empty Counter
func NewCounter() *Counter {
	return &Counter{counts: make(map[string]int)}
}

// Handle implements a Handler; pass c.Handle to WithHandler
func (c *Counter) Handle(r Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[r.Scope] += r.Count
}

// Count returns the number of NaN values seen under scope
func (c *Counter) Count(scope string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[scope]
}

// Total returns the number of NaN values seen under all scopes
func (c *Counter) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for _, n := range c.counts {
		total += n
	}
	return total
}
