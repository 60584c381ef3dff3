// Package domain provides domain models and business logic for the Citation Resolution Service.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// CitationType classifies the kind of source a citation points at.
// These values must match the database enum citation_type.
type CitationType string

const (
	CitationTypeJournal   CitationType = "journal"
	CitationTypeBook      CitationType = "book"
	CitationTypeChapter   CitationType = "chapter"
	CitationTypeNewspaper CitationType = "newspaper"
	CitationTypeWebsite   CitationType = "website"
	CitationTypeUnknown   CitationType = "unknown"
)

// CostClass buckets providers by relative expense. The cascade tries
// cheaper classes first and only escalates on miss.
type CostClass int

const (
	// CostClassFree covers bibliographic APIs with zero marginal cost.
	CostClassFree CostClass = iota
	// CostClassPaidCheap covers search APIs with a small fixed cost per call.
	CostClassPaidCheap
	// CostClassPaidAI covers LLM-based extraction, the most expensive tier.
	CostClassPaidAI
)

// String returns the human-readable name of the cost class.
func (c CostClass) String() string {
	switch c {
	case CostClassFree:
		return "free"
	case CostClassPaidCheap:
		return "paid_cheap"
	case CostClassPaidAI:
		return "paid_ai"
	default:
		return "unknown"
	}
}

// Tier identifies which layer of the resolution hierarchy answered a lookup.
type Tier string

const (
	TierUser     Tier = "user"
	TierShared   Tier = "shared"
	TierProvider Tier = "provider"
	TierMiss     Tier = "miss"
)

// CitationRequest is one raw citation to resolve. It is immutable once
// created; the resolver never mutates a request.
type CitationRequest struct {
	// RawText is the original citation fragment from the source document.
	RawText string

	// Hints are optional parsed fields extracted upstream or by Detect.
	Hints CitationHints

	// UserID identifies the requesting user for user-tier lookups.
	// Zero value means no user library is consulted.
	UserID int64

	// DocumentID groups citations belonging to one document/session.
	DocumentID uuid.UUID

	// Style is the target citation style (apa, mla, chicago, ...).
	// Carried for downstream formatters; the resolver does not use it.
	Style string
}

// CitationHints holds the parsed author/year fields of a request.
type CitationHints struct {
	Author       string
	SecondAuthor string
	ThirdAuthor  string
	Year         string
	EtAl         bool
	DOI          string
	URL          string
}

// HasAuthorYear reports whether enough is known to build a lookup key.
func (h CitationHints) HasAuthorYear() bool {
	return h.Author != "" && h.Year != ""
}

// Authors returns the known author surnames in citation order.
func (h CitationHints) Authors() []string {
	authors := make([]string, 0, 3)
	for _, a := range []string{h.Author, h.SecondAuthor, h.ThirdAuthor} {
		if a != "" {
			authors = append(authors, a)
		}
	}
	return authors
}

// Record is a resolved bibliographic record. Every provider adapter
// constructs the same tagged shape; Provenance carries the provider name.
type Record struct {
	ID           uuid.UUID    `json:"id,omitempty"`
	LookupKey    string       `json:"lookup_key,omitempty"`
	CitationType CitationType `json:"citation_type"`
	Title        string       `json:"title"`
	Authors      []string     `json:"authors"`
	Year         string       `json:"year"`
	Journal      string       `json:"journal,omitempty"`
	Volume       string       `json:"volume,omitempty"`
	Issue        string       `json:"issue,omitempty"`
	Pages        string       `json:"pages,omitempty"`
	Publisher    string       `json:"publisher,omitempty"`
	DOI          string       `json:"doi,omitempty"`
	URL          string       `json:"url,omitempty"`

	// Confidence is the producing provider's score in [0,1]. User-tier
	// copies are always surfaced with confidence 1.0.
	Confidence float64 `json:"confidence"`

	// Provenance names the engine that produced the record
	// (crossref, openalex, serpapi, openai, anthropic, library).
	Provenance string `json:"provenance"`

	// LookupCount is the shared-tier hit counter.
	LookupCount int64 `json:"lookup_count,omitempty"`
}

// IsComplete reports whether the record meets the cascade's minimum
// completeness bar: a title plus at least one of author or year.
func (r *Record) IsComplete() bool {
	if r == nil || r.Title == "" {
		return false
	}
	return len(r.Authors) > 0 || r.Year != ""
}

// AttemptOutcome classifies one provider invocation.
type AttemptOutcome string

const (
	OutcomeSuccess   AttemptOutcome = "success"
	OutcomeEmpty     AttemptOutcome = "empty"
	OutcomeTransient AttemptOutcome = "transient_error"
	OutcomeTerminal  AttemptOutcome = "terminal_error"
)

// ResolutionAttempt records one provider invocation outcome. Attempts are
// ephemeral: they exist for the duration of a cascade and are forwarded to
// the outcome recorder.
type ResolutionAttempt struct {
	DocumentID uuid.UUID
	UserID     int64
	Provider   string
	CostClass  CostClass
	Query      string
	Outcome    AttemptOutcome
	Cost       float64
	Latency    time.Duration
	Err        string
}

// ResolutionResult is the final outcome for one CitationRequest.
type ResolutionResult struct {
	// Index is the citation's position in the source document.
	Index int `json:"index"`

	// Found reports whether a usable record was resolved.
	Found bool `json:"found"`

	// Record is the resolved record, or nil. When Partial is true it is
	// present but below the completeness bar.
	Record *Record `json:"record,omitempty"`

	// Partial marks a best-effort record surfaced after every provider
	// failed to clear the completeness bar.
	Partial bool `json:"partial,omitempty"`

	// Tier reports which layer answered: user, shared, provider, or miss.
	Tier Tier `json:"tier"`

	// Provider is the provider name when Tier is provider.
	Provider string `json:"provider,omitempty"`

	// Cost is the total cost in USD incurred resolving this citation.
	Cost float64 `json:"cost"`

	// Latency is the end-to-end resolution time for this citation.
	Latency time.Duration `json:"latency"`
}

// EditClassification describes how a user's saved text relates to the
// recommendation it started from.
type EditClassification string

const (
	// EditAcceptedOriginal means the user kept the recommendation
	// essentially unchanged.
	EditAcceptedOriginal EditClassification = "accepted_original"
	// EditMinor means the user made small edits.
	EditMinor EditClassification = "minor_edit"
	// EditUserProvided means the user replaced the recommendation.
	EditUserProvided EditClassification = "user_provided"
)
