package server

import (
	"context"
	"errors"
	"sync"

	"github.com/adbd-go/adbd/internal/session"
)

// ErrNoDevices is returned by StubDeviceManager when no device has been
// registered, matching the "no devices/emulators found" wire message
// host:transport-any reports back to the client.
var ErrNoDevices = errors.New("no devices/emulators found")

// stubDevice is the minimal session.Device implementation: a bare serial.
type stubDevice struct{ serial string }

func (d stubDevice) Serial() string { return d.serial }

// StubDeviceManager is a single-device, in-memory session.DeviceManager.
// adbd-go has no USB/emulator transport of its own; callers that front a
// real device population (USB enumeration, emulator console) register it
// here via SetDevice instead of implementing session.DeviceManager from
// scratch.
type StubDeviceManager struct {
	mu     sync.RWMutex
	device *stubDevice
}

// NewStubDeviceManager returns a device manager with no device selected.
func NewStubDeviceManager() *StubDeviceManager {
	return &StubDeviceManager{}
}

// SetDevice registers the single device reported by SelectedDevice. Passing
// an empty serial clears it.
func (m *StubDeviceManager) SetDevice(serial string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if serial == "" {
		m.device = nil
		return
	}
	m.device = &stubDevice{serial: serial}
}

func (m *StubDeviceManager) SelectedDevice(ctx context.Context) (session.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.device == nil {
		return nil, ErrNoDevices
	}
	return *m.device, nil
}
