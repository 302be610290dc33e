package broadcast

import (
	"errors"
	"fmt"
	"time"
)

var ErrDeliveryFailure = errors.New("delivery failed")

// Failure is one recipient the message could not be delivered to.
type Failure struct {
	UserID         int64
	ConversationID int64
	Reason         error
}

func (f Failure) Error() string {
	return fmt.Sprintf("user %d (chat %d): %v", f.UserID, f.ConversationID, f.Reason)
}

func (f Failure) Unwrap() error { return f.Reason }

// Report summarizes a run. Succeeded holds user ids in delivery order.
type Report struct {
	ID        string
	Total     int
	Succeeded []int64
	Failed    []Failure
	StartedAt time.Time
	Took      time.Duration
}

func (r Report) OK() int   { return len(r.Succeeded) }
func (r Report) Fail() int { return len(r.Failed) }

// Err joins every failure, or returns nil when all sends succeeded.
func (r Report) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}
