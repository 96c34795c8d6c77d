package provision

import (
	"context"
	"fmt"
	"net/http"
	"sync"
)

// RESTOrchestrator is the default Orchestrator: it calls the same
// host-management back-end's key-rotation endpoint, serialized by an
// internal mutex so two concurrent host_recreated hooks never race the
// downstream rotation (the "dns-rotation" named critical section).
type RESTOrchestrator struct {
	backend *RESTBackend

	mu sync.Mutex
}

// NewRESTOrchestrator wraps backend's HTTP client for key-rotation calls.
func NewRESTOrchestrator(backend *RESTBackend) *RESTOrchestrator {
	return &RESTOrchestrator{backend: backend}
}

// HostRecreated serializes a POST to /hosts/<serial>/rotate-keys.
func (o *RESTOrchestrator) HostRecreated(ctx context.Context, serial string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	resp, err := o.backend.do(ctx, http.MethodPost, fmt.Sprintf("/hosts/%s/rotate-keys", serial), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	return statusToError(resp, "rotate keys for "+serial)
}
