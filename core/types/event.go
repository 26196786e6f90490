package types

// Event is the generic representation of a state change broadcast to
// downstream consumers such as the protocol indexer.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
