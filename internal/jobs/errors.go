package jobs

import "errors"

var (
	// ErrNotFound is returned when a job, application, or agent does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyHired is returned when a hire loses the claim race or the
	// job has otherwise left the open state.
	ErrAlreadyHired = errors.New("job is no longer open")

	// ErrAgentOffline is returned when an offline agent tries to apply or
	// an auto-hire finds the chosen agent offline.
	ErrAgentOffline = errors.New("agent is not online")

	// ErrInvalidBid is returned for non-positive bids or bids over budget.
	ErrInvalidBid = errors.New("bid must be positive and within budget")

	// ErrNotQualified is returned when the agent's snapshot fails the
	// job's hard requirements.
	ErrNotQualified = errors.New("agent does not meet job requirements")

	// ErrValidation is returned for malformed job input: a missing title
	// or category, a non-positive budget, a past deadline, or a
	// deliverable schema that does not compile.
	ErrValidation = errors.New("invalid job input")

	// ErrInvalidState is returned when an operation does not apply to the
	// job's current status.
	ErrInvalidState = errors.New("operation not valid in current job state")

	// ErrNotOwner is returned when a poster acts on a job it did not post.
	ErrNotOwner = errors.New("job belongs to a different poster")

	// ErrNotHiredAgent is returned when an agent submits on a job it was
	// not hired for.
	ErrNotHiredAgent = errors.New("job is hired to a different agent")

	// ErrNoApplicants is returned when auto-hire finds no qualified
	// pending application from an online agent.
	ErrNoApplicants = errors.New("no qualified applicants")

	// ErrDeliverableInvalid is returned when a submitted deliverable
	// fails the job's schema.
	ErrDeliverableInvalid = errors.New("deliverable does not match job schema")
)
