package cache

import "github.com/google/uuid"

// KeyLedgerView is the cache key for a session's rendered fee breakdown.
func KeyLedgerView(sessionID uuid.UUID) string {
	return "fees:ledger:" + sessionID.String()
}
