package admin

import (
	"fmt"
	"sync"
	"sync/atomic"

	"swapvault/internal/asset"
	"swapvault/internal/vault"
)

// Controller holds the admin set and the global pause flag. Deposits and
// withdrawals check Paused before touching any state; privileged operations
// call Require first and proceed only for a registered admin.
type Controller struct {
	mu     sync.RWMutex
	admins map[asset.Address]struct{}

	paused atomic.Bool
}

func NewController(admins ...asset.Address) *Controller {
	c := &Controller{admins: make(map[asset.Address]struct{}, len(admins))}
	for _, a := range admins {
		c.admins[a] = struct{}{}
	}
	return c
}

func (c *Controller) IsAdmin(addr asset.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.admins[addr]
	return ok
}

// Require returns ErrUnauthorized unless addr is a registered admin.
func (c *Controller) Require(addr asset.Address) error {
	if !c.IsAdmin(addr) {
		return fmt.Errorf("%w: %s is not an admin", vault.ErrUnauthorized, addr)
	}
	return nil
}

// Grant adds an admin. Caller authorization is checked by Require upstream.
func (c *Controller) Grant(addr asset.Address) error {
	if addr == asset.ZeroAddress {
		return fmt.Errorf("grant: %w: zero address", vault.ErrInvalidInput)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.admins[addr] = struct{}{}
	return nil
}

// Revoke removes an admin. Removing the last admin is refused so the system
// can never lock itself out of pause and cap changes.
func (c *Controller) Revoke(addr asset.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.admins[addr]; !ok {
		return fmt.Errorf("revoke: %w: %s is not an admin", vault.ErrInvalidInput, addr)
	}
	if len(c.admins) == 1 {
		return fmt.Errorf("revoke: %w: cannot remove the last admin", vault.ErrInvalidInput)
	}
	delete(c.admins, addr)
	return nil
}

func (c *Controller) Pause()       { c.paused.Store(true) }
func (c *Controller) Resume()      { c.paused.Store(false) }
func (c *Controller) Paused() bool { return c.paused.Load() }

// CheckRunning is the gate in front of every user-facing operation.
func (c *Controller) CheckRunning() error {
	if c.paused.Load() {
		return vault.ErrSystemPaused
	}
	return nil
}
