package waitlist

// Status is the lifecycle state of a waitlist entry.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusNotified  Status = "NOTIFIED"
	StatusSeated    Status = "SEATED"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

// transitions lists the legal edges of the state machine. The empty status
// stands for "not yet created".
var transitions = map[Status][]Status{
	"":              {StatusQueued, StatusSeated},
	StatusQueued:   {StatusNotified, StatusCancelled},
	StatusNotified: {StatusSeated, StatusCancelled, StatusExpired},
}

func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusNotified, StatusSeated, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Active reports whether the entry still sits in the queue.
func (s Status) Active() bool {
	return s == StatusQueued || s == StatusNotified
}

func (s Status) Terminal() bool {
	return s == StatusSeated || s == StatusCancelled || s == StatusExpired
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AllowedFrom returns the statuses an entry may hold for a move to `to` to be legal.
func AllowedFrom(to Status) []Status {
	var out []Status
	for from, tos := range transitions {
		if from == "" {
			continue
		}
		for _, s := range tos {
			if s == to {
				out = append(out, from)
			}
		}
	}
	return out
}
