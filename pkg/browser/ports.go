package browser

import (
	"fmt"
	"sync"
)

// debugPorts hands out remote debugging ports among running browsers. Each
// device starts at its DebugPort and probes forward past ports already held.
type debugPorts struct {
	mu    sync.Mutex
	inUse map[int]string
}

// acquire reserves a port for deviceID.
func (p *debugPorts) acquire(deviceID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inUse == nil {
		p.inUse = make(map[int]string)
	}
	offset := DebugPort(deviceID) - BaseDebugPort
	for i := 0; i < DebugPortRange; i++ {
		port := BaseDebugPort + (offset+i)%DebugPortRange
		if _, taken := p.inUse[port]; !taken {
			p.inUse[port] = deviceID
			return port, nil
		}
	}
	return 0, fmt.Errorf("no free debug port for device %s", deviceID)
}

// release frees port.
func (p *debugPorts) release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, port)
}
