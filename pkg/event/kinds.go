package event

// Protocol-assigned event kind families.
const (
	// KindProfile carries agent profile metadata as JSON content.
	KindProfile = 0
	// KindNote is a plain text note.
	KindNote = 1
	// KindFollows replaces the author's follow list; each "p" tag is one entry.
	KindFollows = 3
	// KindDeletion requests removal of the events referenced by its "e" tags.
	KindDeletion = 5

	// KindJobRequestMin and KindJobRequestMax bound the job-request range.
	KindJobRequestMin = 5000
	KindJobRequestMax = 5999
	// KindTextTask is a generic text transformation job.
	KindTextTask = 5050
	// KindDiscovery asks an agent to describe the skills it offers.
	KindDiscovery = 5300
	// KindDelegation delegates a task with timeout, priority and agent hints.
	KindDelegation = 5900

	// KindJobResultMin and KindJobResultMax bound the job-result range.
	// A result's kind is its request's kind plus 1000.
	KindJobResultMin = 6000
	KindJobResultMax = 6999

	// KindJobFeedback carries job status, progress and ETA updates.
	KindJobFeedback = 7000

	// KindAgentInfo asks for (or announces) an agent's identity card.
	KindAgentInfo = 21000
	// KindQuery requests events matching a JSON filter in the content.
	KindQuery = 21001
)

// KindResultOffset is added to a job-request kind to form its result kind.
const KindResultOffset = 1000

// IsJobRequestKind reports whether k lies in the reserved job-request range.
func IsJobRequestKind(k int) bool {
	return k >= KindJobRequestMin && k <= KindJobRequestMax
}

// IsJobResultKind reports whether k lies in the reserved job-result range.
func IsJobResultKind(k int) bool {
	return k >= KindJobResultMin && k <= KindJobResultMax
}
