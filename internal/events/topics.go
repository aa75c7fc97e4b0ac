package events

// Topic constants for domain events emitted by the fee engine.
const (
	TopicFeesRecalculated = "fees.recalculated"
	TopicFeesRecalcFailed = "fees.recalc_failed"
	TopicSessionDeleted   = "session.deleted"
)

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicFeesRecalculated,
		TopicFeesRecalcFailed,
		TopicSessionDeleted,
	}
}
