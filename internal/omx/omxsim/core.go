// Package omxsim is an in-process implementation of omx.Core. Stages
// complete commands asynchronously, consume buffers while executing and
// pass frames across tunnels, so the player can run end to end without
// hardware.
package omxsim

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmylchreest/esplayer/internal/omx"
)

type tunnelKey struct {
	name string
	port int
}

type stateKey struct {
	name  string
	state omx.State
}

// Core is a simulated vendor runtime.
type Core struct {
	logger *slog.Logger
	names  map[omx.Kind]string

	mu             sync.Mutex
	handles        []*Handle
	failHandle     map[string]bool
	failTunnel     map[tunnelKey]bool
	failState      map[stateKey]bool
	failAllocate   map[string]bool
	failParameters map[string]bool
	held           map[string]bool
}

// Option configures a Core.
type Option func(*Core)

// WithLogger sets the core's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Core) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithComponentNames overrides the stage names reported per kind.
func WithComponentNames(names map[omx.Kind]string) Option {
	return func(c *Core) {
		for k, v := range names {
			c.names[k] = v
		}
	}
}

// New returns an empty simulated core.
func New(opts ...Option) *Core {
	c := &Core{
		logger:         slog.Default(),
		names:          make(map[omx.Kind]string, len(omx.DefaultComponentNames)),
		failHandle:     make(map[string]bool),
		failTunnel:     make(map[tunnelKey]bool),
		failState:      make(map[stateKey]bool),
		failAllocate:   make(map[string]bool),
		failParameters: make(map[string]bool),
		held:           make(map[string]bool),
	}
	for k, v := range omx.DefaultComponentNames {
		c.names[k] = v
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ComponentName implements omx.Core.
func (c *Core) ComponentName(k omx.Kind) string {
	return c.names[k]
}

func (c *Core) kindOf(name string) (omx.Kind, bool) {
	for k, v := range c.names {
		if v == name {
			return k, true
		}
	}
	return 0, false
}

// GetHandle implements omx.Core.
func (c *Core) GetHandle(name string, events chan<- omx.Callback) (omx.Handle, error) {
	kind, ok := c.kindOf(name)
	if !ok {
		return nil, omx.NewError("get_handle "+name, omx.ErrorComponentNotFound)
	}

	c.mu.Lock()
	fail := c.failHandle[name]
	c.mu.Unlock()
	if fail {
		return nil, omx.NewError("get_handle "+name, omx.ErrorInsufficientResources)
	}

	h := newHandle(c, name, kind, events)

	c.mu.Lock()
	c.handles = append(c.handles, h)
	c.mu.Unlock()

	c.logger.Debug("sim stage created", slog.String("name", name), slog.String("kind", kind.String()))
	return h, nil
}

// FreeHandle implements omx.Core.
func (c *Core) FreeHandle(handle omx.Handle) error {
	h, ok := handle.(*Handle)
	if !ok {
		return omx.NewError("free_handle", omx.ErrorInvalidComponent)
	}

	c.mu.Lock()
	for i, cand := range c.handles {
		if cand == h {
			c.handles = append(c.handles[:i], c.handles[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	h.close()
	return nil
}

// SetupTunnel implements omx.Core.
func (c *Core) SetupTunnel(src omx.Handle, srcPort int, dst omx.Handle, dstPort int) error {
	s, ok1 := src.(*Handle)
	d, ok2 := dst.(*Handle)
	if !ok1 || !ok2 {
		return omx.NewError("setup_tunnel", omx.ErrorInvalidComponent)
	}

	c.mu.Lock()
	fail := c.failTunnel[tunnelKey{s.name, srcPort}]
	c.mu.Unlock()
	if fail {
		return omx.NewError(fmt.Sprintf("setup_tunnel %s:%d", s.name, srcPort), omx.ErrorPortsNotCompatible)
	}

	if err := s.link(srcPort, d, dstPort); err != nil {
		return err
	}
	if err := d.link(dstPort, s, srcPort); err != nil {
		return err
	}
	return nil
}

// FailGetHandle makes creation of the named stage fail.
func (c *Core) FailGetHandle(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failHandle[name] = true
}

// FailTunnel makes tunnels from port of the named stage fail.
func (c *Core) FailTunnel(name string, port int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failTunnel[tunnelKey{name, port}] = true
}

// FailState makes transitions of the named stage into state fail.
func (c *Core) FailState(name string, state omx.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failState[stateKey{name, state}] = true
}

// FailAllocate makes buffer allocation on the named stage fail.
func (c *Core) FailAllocate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failAllocate[name] = true
}

// FailParameters makes parameter writes on the named stage fail.
func (c *Core) FailParameters(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failParameters[name] = true
}

// Hold stops or resumes buffer consumption by the named stage. Held
// stages keep submitted buffers, so the client sees its buffers fill up.
func (c *Core) Hold(name string, hold bool) {
	c.mu.Lock()
	c.held[name] = hold
	var resume []*Handle
	if !hold {
		for _, h := range c.handles {
			if h.name == name {
				resume = append(resume, h)
			}
		}
	}
	c.mu.Unlock()

	for _, h := range resume {
		h.pump()
	}
}

// Handle returns the most recently created live stage with name.
func (c *Core) Handle(name string) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.handles) - 1; i >= 0; i-- {
		if c.handles[i].name == name {
			return c.handles[i]
		}
	}
	return nil
}

// HandleOf returns the most recently created live stage of kind.
func (c *Core) HandleOf(kind omx.Kind) *Handle {
	return c.Handle(c.names[kind])
}

// Live returns the number of stages not yet freed.
func (c *Core) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handles)
}

func (c *Core) isHeld(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held[name]
}

func (c *Core) stateFails(name string, state omx.State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failState[stateKey{name, state}]
}

func (c *Core) allocateFails(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failAllocate[name]
}

func (c *Core) parametersFail(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failParameters[name]
}
