/*
driver.go - Relay hardware capability interface and simulator

PURPOSE:
  RelayDriver abstracts the physical actuator so the interlock and
  compensating-refund logic never depend on which implementation is
  wired in. The simulator stands in for real hardware in dev and tests,
  with per-resource offline switches and optional random failure
  injection.
*/
package device

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
)

// =============================================================================
// RELAY DRIVER - Hardware capability interface
// =============================================================================

// RelayDriver talks to the physical relay hardware.
type RelayDriver interface {
	// Ping checks reachability without changing relay state.
	Ping(ctx context.Context, resourceID string) error

	// SendCommand issues the physical power command.
	SendCommand(ctx context.Context, resourceID string, cmd Command) error
}

// =============================================================================
// SIMULATED DRIVER
// =============================================================================

// SimDriver simulates relay hardware. FailureRate injects random
// unreachability per call; SetOffline forces it per resource.
type SimDriver struct {
	// FailureRate in [0, 1): probability any call fails as offline.
	FailureRate float64

	mu      sync.Mutex
	offline map[string]bool
	rng     *rand.Rand
}

func NewSimDriver(failureRate float64) *SimDriver {
	return &SimDriver{
		FailureRate: failureRate,
		offline:     make(map[string]bool),
		rng:         rand.New(rand.NewSource(rand.Int63())),
	}
}

// SetOffline forces a resource's relay (un)reachable. For tests and demos.
func (d *SimDriver) SetOffline(resourceID string, offline bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.offline[resourceID] = offline
}

func (d *SimDriver) unreachable(resourceID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.offline[resourceID] {
		return true
	}
	return d.FailureRate > 0 && d.rng.Float64() < d.FailureRate
}

func (d *SimDriver) Ping(_ context.Context, resourceID string) error {
	if d.unreachable(resourceID) {
		return fmt.Errorf("relay %s: no response", resourceID)
	}
	return nil
}

func (d *SimDriver) SendCommand(_ context.Context, resourceID string, cmd Command) error {
	if d.unreachable(resourceID) {
		return fmt.Errorf("relay %s: command %s not acknowledged", resourceID, cmd)
	}
	return nil
}

// =============================================================================
// SIMULATED DOOR SENSOR
// =============================================================================

// SimSensor simulates the door-closed sensor. Doors default to closed.
type SimSensor struct {
	mu   sync.Mutex
	open map[string]bool
}

func NewSimSensor() *SimSensor {
	return &SimSensor{open: make(map[string]bool)}
}

// SetDoorOpen marks a resource's door open or closed.
func (s *SimSensor) SetDoorOpen(resourceID string, isOpen bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open[resourceID] = isOpen
}

func (s *SimSensor) IsDoorClosed(_ context.Context, resourceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.open[resourceID], nil
}
