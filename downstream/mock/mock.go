package mocks

import (
	"context"
	"sync"

	"github.com/ZutrixPog/capsync/downstream"
)

var (
	_ downstream.SessionService = (*SessionService)(nil)
	_ downstream.Commerce       = (*Commerce)(nil)
)

// SessionService records pushed updates. Setting Err makes every push fail.
type SessionService struct {
	Err error

	updates []downstream.CapabilitiesUpdate
	mu      sync.Mutex
}

func NewSessionService() *SessionService {
	return &SessionService{}
}

func (s *SessionService) PushCapabilities(ctx context.Context, update downstream.CapabilitiesUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return s.Err
	}
	s.updates = append(s.updates, update)
	return nil
}

func (s *SessionService) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Err = err
}

func (s *SessionService) Updates() []downstream.CapabilitiesUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]downstream.CapabilitiesUpdate(nil), s.updates...)
}

type Provisioned struct {
	Resource    downstream.Resource
	AccountID   string
	AccountType string
}

// Commerce records provisioning calls. Failing makes calls for the listed
// resources fail with ErrUnavailable.
type Commerce struct {
	Failing map[downstream.Resource]bool

	calls []Provisioned
	mu    sync.Mutex
}

func NewCommerce() *Commerce {
	return &Commerce{Failing: make(map[downstream.Resource]bool)}
}

func (c *Commerce) Provision(ctx context.Context, resource downstream.Resource, accountID string, accountType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Failing[resource] {
		return downstream.ErrUnavailable
	}
	c.calls = append(c.calls, Provisioned{Resource: resource, AccountID: accountID, AccountType: accountType})
	return nil
}

func (c *Commerce) Calls() []Provisioned {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Provisioned(nil), c.calls...)
}
