package serial

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.bug.st/serial/enumerator"
)

// ErrPortBusy is returned when a port is already held in this process.
var ErrPortBusy = errors.New("port is in use by another session")

var (
	heldMu sync.Mutex
	held   = make(map[string]struct{})
)

func claim(name string) error {
	heldMu.Lock()
	defer heldMu.Unlock()
	if _, ok := held[name]; ok {
		return fmt.Errorf("%s: %w", name, ErrPortBusy)
	}
	held[name] = struct{}{}
	return nil
}

func release(name string) {
	heldMu.Lock()
	delete(held, name)
	heldMu.Unlock()
}

// Held reports whether a port is currently owned by a session.
func Held(name string) bool {
	heldMu.Lock()
	defer heldMu.Unlock()
	_, ok := held[name]
	return ok
}

// PortInfo describes an attached serial device.
type PortInfo struct {
	Name    string
	IsUSB   bool
	VID     string
	PID     string
	Serial  string
	Product string

	// InUse is set when a session in this process holds the port.
	InUse bool
}

// listDetailed is replaced in tests.
var listDetailed = enumerator.GetDetailedPortsList

// ListPorts returns the available serial ports sorted by name.
func ListPorts() ([]PortInfo, error) {
	details, err := listDetailed()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:    d.Name,
			IsUSB:   d.IsUSB,
			VID:     d.VID,
			PID:     d.PID,
			Serial:  d.SerialNumber,
			Product: d.Product,
			InUse:   Held(d.Name),
		})
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
	return ports, nil
}
