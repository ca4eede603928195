package lifecycle

import (
	"errors"
	"fmt"

	"pactline/internal/domain"
)

// Validation failures: rejected before anything is persisted.
var ErrSelfPact = errors.New("cannot make a pact with yourself")
var ErrNotFriends = errors.New("partner is not a friend")

// UnknownPartnerError means the friendship directory cannot resolve the
// requested partner.
type UnknownPartnerError struct {
	UserID string
}

func (e UnknownPartnerError) Error() string {
	return fmt.Sprintf("unknown partner %s", e.UserID)
}

// Conflict codes for state-conflict errors.
const (
	CodeAlreadyResponded  = "already_responded"
	CodeInvitationExpired = "invitation_expired"
	CodeNotInvited        = "not_invited"
	CodePactInactive      = "pact_inactive"
)

// ConflictError rejects an operation that clashes with the pact's
// current state. The authoritative pact rides along so callers can
// reconcile their view.
type ConflictError struct {
	Code string
	Pact domain.Pact
}

func (e ConflictError) Error() string {
	switch e.Code {
	case CodeAlreadyResponded:
		return fmt.Sprintf("pact %s was already responded to", e.Pact.ID)
	case CodeInvitationExpired:
		return fmt.Sprintf("invitation for pact %s expired", e.Pact.ID)
	case CodeNotInvited:
		return fmt.Sprintf("only the invited partner may respond to pact %s", e.Pact.ID)
	case CodePactInactive:
		return fmt.Sprintf("pact %s is not active", e.Pact.ID)
	}
	return fmt.Sprintf("pact %s state conflict: %s", e.Pact.ID, e.Code)
}

// ConflictCode extracts the conflict code from an error chain, or "".
func ConflictCode(err error) string {
	var ce ConflictError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
