package types

import (
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// Poll limits enforced at creation time
const (
	MinOptions       = 2
	MaxOptions       = 10
	MaxOptionText    = 100
	MaxQuestionText  = 500
	MaxVoterIDLength = 128
)

// Option is one choice within a poll. Votes only ever grows, by one per
// accepted vote, and only while the parent poll is active.
type Option struct {
	ID    string `json:"optionId"`
	Text  string `json:"text"`
	Votes int    `json:"votes"`
}

// PollSnapshot is the complete wire state of a poll. Every poll_update
// carries one of these; there are no deltas.
type PollSnapshot struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Options   []Option  `json:"options"`
	Voters    []string  `json:"voters"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

// Poll is the mutable record owned by the poll store.
// ARCHITECTURAL DISCOVERY: Voters keeps arrival order for snapshots while
// voterIndex answers membership in O(1); both are updated together.
type Poll struct {
	ID        string
	Question  string
	Options   []Option
	Voters    []string
	IsActive  bool
	CreatedAt time.Time

	voterIndex mapset.Set[string]
}

// VoteEvent is a single transient vote attempt. SourceAddress is filled in
// by the transport, never by the client.
type VoteEvent struct {
	PollID        string `json:"pollId"`
	OptionID      string `json:"optionId"`
	VoterID       string `json:"voterId"`
	SourceAddress string `json:"-"`
}

// NewPoll builds an active poll with zeroed tallies.
func NewPoll(id, question string, options []Option, createdAt time.Time) *Poll {
	p := &Poll{
		ID:        id,
		Question:  question,
		Options:   make([]Option, len(options)),
		Voters:    []string{},
		IsActive:  true,
		CreatedAt: createdAt,
	}
	for i, opt := range options {
		p.Options[i] = Option{ID: opt.ID, Text: opt.Text}
	}
	p.reindex()
	return p
}

// PollFromSnapshot rebuilds a poll record from persisted state.
func PollFromSnapshot(s *PollSnapshot) *Poll {
	p := &Poll{
		ID:        s.ID,
		Question:  s.Question,
		Options:   append([]Option(nil), s.Options...),
		Voters:    append([]string{}, s.Voters...),
		IsActive:  s.IsActive,
		CreatedAt: s.CreatedAt,
	}
	p.reindex()
	return p
}

func (p *Poll) reindex() {
	p.voterIndex = mapset.NewThreadUnsafeSet[string](p.Voters...)
}

// HasVoted reports whether voterID is already in the voter set.
func (p *Poll) HasVoted(voterID string) bool {
	if p.voterIndex == nil {
		p.reindex()
	}
	return p.voterIndex.Contains(voterID)
}

// OptionIndex returns the position of optionID within the poll.
func (p *Poll) OptionIndex(optionID string) (int, bool) {
	for i := range p.Options {
		if p.Options[i].ID == optionID {
			return i, true
		}
	}
	return -1, false
}

// RecordVote increments the option at index and appends the voter.
// Callers must have already checked HasVoted, IsActive and the index.
func (p *Poll) RecordVote(index int, voterID string) {
	if p.voterIndex == nil {
		p.reindex()
	}
	p.Options[index].Votes++
	p.Voters = append(p.Voters, voterID)
	p.voterIndex.Add(voterID)
}

// Close marks the poll inactive. There is no way back to active.
func (p *Poll) Close() {
	p.IsActive = false
}

// TotalVotes sums all option tallies.
func (p *Poll) TotalVotes() int {
	total := 0
	for _, opt := range p.Options {
		total += opt.Votes
	}
	return total
}

// Clone returns a deep copy that can be mutated without affecting p.
func (p *Poll) Clone() *Poll {
	c := &Poll{
		ID:        p.ID,
		Question:  p.Question,
		Options:   append([]Option(nil), p.Options...),
		Voters:    append([]string{}, p.Voters...),
		IsActive:  p.IsActive,
		CreatedAt: p.CreatedAt,
	}
	c.reindex()
	return c
}

// Snapshot returns the wire representation. The returned value shares no
// memory with p.
func (p *Poll) Snapshot() *PollSnapshot {
	return &PollSnapshot{
		ID:        p.ID,
		Question:  p.Question,
		Options:   append([]Option{}, p.Options...),
		Voters:    append([]string{}, p.Voters...),
		IsActive:  p.IsActive,
		CreatedAt: p.CreatedAt,
	}
}
