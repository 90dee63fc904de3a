package service

import (
	"context"

	"github.com/personadesk/runstream/internal/domain"
)

// StartConsent launches (or re-launches) the authorization flow for a
// connector. A flow already in the authorizing stage is left alone; one
// stuck polling is superseded.
func (s *Service) StartConsent(ctx context.Context, connectorID, provider string) error {
	return s.consentSession(connectorID, provider).Start(ctx)
}

// ConsentState reports the consent flow state for a connector. Unknown
// connectors report idle.
func (s *Service) ConsentState(connectorID string) domain.ConsentState {
	s.mu.Lock()
	sess, ok := s.consents[connectorID]
	s.mu.Unlock()
	if !ok {
		return domain.ConsentState{Status: domain.ConsentIdle}
	}
	return sess.State()
}

// ResetConsent aborts any polling loop and clears the connector's
// consent state.
func (s *Service) ResetConsent(connectorID string) {
	s.mu.Lock()
	sess, ok := s.consents[connectorID]
	s.mu.Unlock()
	if ok {
		sess.Reset()
	}
}
