package types

import "errors"

// Admission errors. Each maps to exactly one wire Reason.
var (
	ErrPollNotFound  = errors.New("poll not found")
	ErrPollClosed    = errors.New("poll is closed")
	ErrAlreadyVoted  = errors.New("voter already voted")
	ErrRateLimited   = errors.New("too many votes from this address")
	ErrInvalidOption = errors.New("option does not belong to poll")
	ErrStorage       = errors.New("storage failure")
)

// Validation errors for poll creation and vote input
var (
	ErrEmptyQuestion     = errors.New("question cannot be empty")
	ErrQuestionTooLong   = errors.New("question exceeds 500 characters")
	ErrOptionCount       = errors.New("poll must have between 2 and 10 options")
	ErrEmptyOptionText   = errors.New("option text cannot be empty")
	ErrOptionTextTooLong = errors.New("option text exceeds 100 characters")
	ErrDuplicateOptionID = errors.New("duplicate option id")
	ErrInvalidVoterID    = errors.New("voter id must be 1-128 characters")
	ErrMissingPollID     = errors.New("poll id is required")
)

// Reason is the machine-readable code sent to a client in vote_error and
// join_error frames.
type Reason string

const (
	ReasonPollNotFound  Reason = "poll_not_found"
	ReasonPollClosed    Reason = "poll_closed"
	ReasonAlreadyVoted  Reason = "already_voted"
	ReasonRateLimited   Reason = "rate_limited"
	ReasonInvalidOption Reason = "invalid_option"
	ReasonStorageError  Reason = "storage_error"
	ReasonBadRequest    Reason = "bad_request"
)

// ReasonFor converts an error from the admission path into its wire reason.
// Anything outside the admission taxonomy is reported as a storage error so
// a client can tell "your vote was invalid" apart from "try again".
func ReasonFor(err error) Reason {
	switch {
	case errors.Is(err, ErrPollNotFound):
		return ReasonPollNotFound
	case errors.Is(err, ErrPollClosed):
		return ReasonPollClosed
	case errors.Is(err, ErrAlreadyVoted):
		return ReasonAlreadyVoted
	case errors.Is(err, ErrRateLimited):
		return ReasonRateLimited
	case errors.Is(err, ErrInvalidOption):
		return ReasonInvalidOption
	case errors.Is(err, ErrInvalidVoterID), errors.Is(err, ErrMissingPollID):
		return ReasonBadRequest
	case errors.Is(err, ErrStorage):
		return ReasonStorageError
	default:
		return ReasonStorageError
	}
}

// Message returns a human readable description of the reason.
func (r Reason) Message() string {
	switch r {
	case ReasonPollNotFound:
		return "Poll not found"
	case ReasonPollClosed:
		return "Poll is closed"
	case ReasonAlreadyVoted:
		return "You already voted"
	case ReasonRateLimited:
		return "Too many votes from this address. Please wait."
	case ReasonInvalidOption:
		return "Invalid option"
	case ReasonBadRequest:
		return "Malformed request"
	default:
		return "Server error"
	}
}
