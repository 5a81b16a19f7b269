package btp

// Reject codes carried on the wire. The values are part of the peer
// protocol contract.
const (
	// CodeMalformed marks an undecodable payload or filter.
	CodeMalformed = "F01"
	// CodeNoRoute marks a destination with no known next hop.
	CodeNoRoute = "F02"
	// CodeUnhandled marks an event no handler accepted or the agent refused.
	CodeUnhandled = "F99"
	// CodeExpired marks a prepare received or processed after its expiry.
	CodeExpired = "R02"
	// CodeStorageLimit marks an insert rejected by the event store ceiling.
	CodeStorageLimit = "T00"
	// CodeBudgetExhausted marks an AI dispatch refused for lack of tokens.
	CodeBudgetExhausted = "T03"
	// CodeInsufficientPayment marks a prepare whose amount is below the
	// skill's required payment.
	CodeInsufficientPayment = "T04"
)
