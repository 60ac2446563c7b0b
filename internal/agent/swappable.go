package agent

import (
	"context"
	"fmt"
	"sync/atomic"
)

type serviceSlot struct {
	svc DecisionService
	err error
}

// SwappableService forwards to a DecisionService that can be replaced while
// conversations are running, for example after the API key is rotated.
// Without a service every call fails with ErrUnreachable and the reason the
// service could not be built.
type SwappableService struct {
	slot atomic.Pointer[serviceSlot]
}

// NewSwappableService wraps svc. err explains a nil svc.
func NewSwappableService(svc DecisionService, err error) *SwappableService {
	s := &SwappableService{}
	s.Set(svc, err)
	return s
}

// Set replaces the current service. In-flight calls finish on the old one.
func (s *SwappableService) Set(svc DecisionService, err error) {
	s.slot.Store(&serviceSlot{svc: svc, err: err})
}

// Available reports whether a service is installed.
func (s *SwappableService) Available() bool {
	return s.slot.Load().svc != nil
}

func (s *SwappableService) Converse(ctx context.Context, req Request) (*Reply, error) {
	slot := s.slot.Load()
	if slot.svc == nil {
		reason := slot.err
		if reason == nil {
			reason = ErrMissingAPIKey
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, reason)
	}
	return slot.svc.Converse(ctx, req)
}
