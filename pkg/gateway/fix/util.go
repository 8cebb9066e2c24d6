package fixgateway

import (
	"fmt"

	"github.com/quickfixgo/quickfix"
)

// orderID scopes a ClOrdID to its session, ClOrdIDs are only unique per
// counterparty.
func orderID(sessionID quickfix.SessionID, clOrdID string) string {
	return fmt.Sprintf("%s-%s", sessionID.TargetCompID, clOrdID)
}

func (s *FixGateway) storeOrigin(org *origin) {
	s.byClOrdID.Store(orderID(org.SessionID, org.ClOrdID), org)
	if org.OrderID != "" {
		s.byOrderID.Store(org.OrderID, org)
	}
	if org.StrategyID != "" {
		s.byStrategy.Store(org.StrategyID, org)
	}
}

func (s *FixGateway) originByClOrdID(sessionID quickfix.SessionID, clOrdID string) (*origin, bool) {
	v, ok := s.byClOrdID.Load(orderID(sessionID, clOrdID))
	if !ok {
		return nil, false
	}
	return v.(*origin), true
}

func (s *FixGateway) originByOrder(clientOrderID, strategyID string) (*origin, bool) {
	if v, ok := s.byOrderID.Load(clientOrderID); ok {
		return v.(*origin), true
	}
	if strategyID == "" {
		return nil, false
	}
	// wait out a strategy submit that has not stored its origin yet
	s.strategyMu.Lock()
	v, ok := s.byStrategy.Load(strategyID)
	s.strategyMu.Unlock()
	if !ok {
		return nil, false
	}
	return v.(*origin), true
}
