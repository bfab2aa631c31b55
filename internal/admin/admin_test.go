package admin_test

import (
	"errors"
	"testing"

	"swapvault/internal/admin"
	"swapvault/internal/asset"
	"swapvault/internal/vault"
)

func TestController_RequireAdmin(t *testing.T) {
	c := admin.NewController("alice")

	if err := c.Require("alice"); err != nil {
		t.Errorf("registered admin rejected: %v", err)
	}
	if err := c.Require("mallory"); !errors.Is(err, vault.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

func TestController_PauseGate(t *testing.T) {
	c := admin.NewController("alice")

	if err := c.CheckRunning(); err != nil {
		t.Errorf("fresh controller should be running: %v", err)
	}

	c.Pause()
	if err := c.CheckRunning(); !errors.Is(err, vault.ErrSystemPaused) {
		t.Errorf("got %v, want ErrSystemPaused", err)
	}
	if !c.Paused() {
		t.Error("Paused() should report true after Pause")
	}

	c.Resume()
	if err := c.CheckRunning(); err != nil {
		t.Errorf("resumed controller should be running: %v", err)
	}
}

func TestController_GrantRevoke(t *testing.T) {
	c := admin.NewController("alice")

	if err := c.Grant("bob"); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	if !c.IsAdmin("bob") {
		t.Error("bob should be an admin after Grant")
	}

	if err := c.Revoke("alice"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if c.IsAdmin("alice") {
		t.Error("alice should no longer be an admin")
	}
}

func TestController_GrantZeroAddress(t *testing.T) {
	c := admin.NewController("alice")
	if err := c.Grant(asset.ZeroAddress); !errors.Is(err, vault.ErrInvalidInput) {
		t.Errorf("got %v, want ErrInvalidInput", err)
	}
}

func TestController_RevokeLastAdmin(t *testing.T) {
	c := admin.NewController("alice")
	if err := c.Revoke("alice"); !errors.Is(err, vault.ErrInvalidInput) {
		t.Errorf("got %v, want ErrInvalidInput", err)
	}
	if !c.IsAdmin("alice") {
		t.Error("failed revoke must leave the admin in place")
	}
}

func TestController_RevokeUnknown(t *testing.T) {
	c := admin.NewController("alice")
	if err := c.Revoke("bob"); !errors.Is(err, vault.ErrInvalidInput) {
		t.Errorf("got %v, want ErrInvalidInput", err)
	}
}
