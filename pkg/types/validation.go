package types

import (
	"strings"
	"unicode/utf8"
)

// ValidatePollInput checks a question and option texts before a poll is
// created. Texts are expected to be trimmed by the caller.
func ValidatePollInput(question string, optionTexts []string) error {
	if strings.TrimSpace(question) == "" {
		return ErrEmptyQuestion
	}
	if utf8.RuneCountInString(question) > MaxQuestionText {
		return ErrQuestionTooLong
	}
	if len(optionTexts) < MinOptions || len(optionTexts) > MaxOptions {
		return ErrOptionCount
	}
	for _, text := range optionTexts {
		if strings.TrimSpace(text) == "" {
			return ErrEmptyOptionText
		}
		// FUNCTIONAL DISCOVERY: limit counts characters, not bytes
		if utf8.RuneCountInString(text) > MaxOptionText {
			return ErrOptionTextTooLong
		}
	}
	return nil
}

// Validate checks structural invariants of a poll record.
func (p *Poll) Validate() error {
	if p.ID == "" {
		return ErrMissingPollID
	}
	texts := make([]string, len(p.Options))
	seen := make(map[string]struct{}, len(p.Options))
	for i, opt := range p.Options {
		texts[i] = opt.Text
		if _, dup := seen[opt.ID]; dup || opt.ID == "" {
			return ErrDuplicateOptionID
		}
		seen[opt.ID] = struct{}{}
	}
	return ValidatePollInput(p.Question, texts)
}

// Validate checks that a vote event carries the fields the pipeline needs.
// Option membership is checked later against the poll itself.
func (e *VoteEvent) Validate() error {
	if e.PollID == "" {
		return ErrMissingPollID
	}
	if e.VoterID == "" || len(e.VoterID) > MaxVoterIDLength {
		return ErrInvalidVoterID
	}
	return nil
}
