package models

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MaxNegotiationRounds bounds the rounds recorded against a single offer.
const MaxNegotiationRounds = 3

type SessionStatus string

const (
	StatusInitiated    SessionStatus = "initiated"
	StatusBroadcasting SessionStatus = "broadcasting"
	StatusCollecting   SessionStatus = "collecting_responses"
	StatusNegotiating  SessionStatus = "negotiating"
	StatusDeciding     SessionStatus = "deciding"
	StatusCompleted    SessionStatus = "completed"
	StatusFailed       SessionStatus = "failed"
)

var statusRank = map[SessionStatus]int{
	StatusInitiated:    0,
	StatusBroadcasting: 1,
	StatusCollecting:   2,
	StatusNegotiating:  3,
	StatusDeciding:     4,
	StatusCompleted:    5,
}

func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanAdvanceTo reports whether next lies strictly after s in phase order.
// Any non-terminal status may move to failed.
func (s SessionStatus) CanAdvanceTo(next SessionStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	return ok && to > from
}

// Session is the aggregate root of one negotiation. Reads are safe from any
// goroutine; writes are made by the orchestrator driving it.
type Session struct {
	mu sync.RWMutex

	id           string
	participants []string
	request      ResourceRequest
	offers       []ResourceOffer
	ranking      []string
	messages     []AuditMessage
	events       []Event
	status       SessionStatus
	rounds       map[string][]NegotiationRound
	analysis     *NeedAnalysis
	decision     *Decision
	contract     *Contract
	failure      string
	createdAt    time.Time
	updatedAt    time.Time
}

func NewSession(id string, req ResourceRequest, participants []string, now time.Time) *Session {
	return &Session{
		id:           id,
		participants: append([]string(nil), participants...),
		request:      req.Clone(),
		status:       StatusInitiated,
		rounds:       make(map[string][]NegotiationRound),
		createdAt:    now,
		updatedAt:    now,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Request() ResourceRequest {
	return s.request.Clone()
}

func (s *Session) Participants() []string {
	return append([]string(nil), s.participants...)
}

func (s *Session) Status() SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Session) Advance(next SessionStatus, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrSessionTerminal, s.id, s.status)
	}
	if !s.status.CanAdvanceTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.status, next)
	}
	s.status = next
	s.touch(now)
	return nil
}

// Fail moves the session to failed. Failing a terminal session is a no-op
// that reports false.
func (s *Session) Fail(reason string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return false
	}
	s.status = StatusFailed
	s.failure = reason
	s.touch(now)
	return true
}

// Complete records the decision and optional contract and moves the session
// to completed in one step.
func (s *Session) Complete(d Decision, c *Contract, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrSessionTerminal, s.id, s.status)
	}
	if !s.status.CanAdvanceTo(StatusCompleted) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.status, StatusCompleted)
	}
	if c != nil && (!d.Success || len(d.Selected) == 0) {
		return fmt.Errorf("%w: contract without accepted offer", ErrInvalidTransition)
	}
	dc := d.Clone()
	s.decision = &dc
	if c != nil {
		cc := c.Clone()
		s.contract = &cc
	}
	s.status = StatusCompleted
	s.touch(now)
	return nil
}

// AppendOffer adds an offer collected from a participant. Offers for a
// different resource kind, for no units or at a negative price are rejected.
func (s *Session) AppendOffer(o ResourceOffer, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusCollecting {
		return fmt.Errorf("%w: offers are only collected while %s, session is %s", ErrInvalidTransition, StatusCollecting, s.status)
	}
	if o.Resource != s.request.Resource {
		return fmt.Errorf("%w: offer %s is for %s, request is for %s", ErrInvalidRequest, o.ID, o.Resource, s.request.Resource)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: offer %s has quantity %d", ErrInvalidRequest, o.ID, o.Quantity)
	}
	if o.PricePerUnit.IsNegative() {
		return fmt.Errorf("%w: offer %s has a negative price", ErrInvalidRequest, o.ID)
	}
	o.ResponseOrder = len(s.offers)
	s.offers = append(s.offers, o.Clone())
	s.ranking = append(s.ranking, o.ID)
	s.touch(now)
	return nil
}

// AdjustOffer rewrites the price and conditions of an offer in place. Only
// allowed while negotiating.
func (s *Session) AdjustOffer(offerID string, price decimal.Decimal, conditions []string, now time.Time) (ResourceOffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusNegotiating {
		return ResourceOffer{}, fmt.Errorf("%w: offers are only adjusted while %s, session is %s", ErrInvalidTransition, StatusNegotiating, s.status)
	}
	if price.IsNegative() {
		return ResourceOffer{}, fmt.Errorf("%w: negative price for offer %s", ErrInvalidRequest, offerID)
	}
	for i := range s.offers {
		if s.offers[i].ID != offerID {
			continue
		}
		s.offers[i].PricePerUnit = price
		if conditions != nil {
			s.offers[i].Conditions = append([]string(nil), conditions...)
		}
		s.touch(now)
		return s.offers[i].Clone(), nil
	}
	return ResourceOffer{}, fmt.Errorf("%w: offer %s", ErrNotFound, offerID)
}

func (s *Session) Offers() []ResourceOffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneOffers(s.offers)
}

// SetRanking stores the preferred order of offers by id.
func (s *Session) SetRanking(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ids) != len(s.offers) {
		return fmt.Errorf("%w: ranking has %d ids for %d offers", ErrInvalidRequest, len(ids), len(s.offers))
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] || s.offerIndex(id) < 0 {
			return fmt.Errorf("%w: ranking id %s", ErrInvalidRequest, id)
		}
		seen[id] = true
	}
	s.ranking = append([]string(nil), ids...)
	return nil
}

// RankedOffers returns offers in the last stored ranking.
func (s *Session) RankedOffers() []ResourceOffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ResourceOffer, 0, len(s.ranking))
	for _, id := range s.ranking {
		if i := s.offerIndex(id); i >= 0 {
			out = append(out, s.offers[i].Clone())
		}
	}
	return out
}

// AppendRound records a round against an offer. Round numbers are 1-based,
// consecutive and bounded by MaxNegotiationRounds; asking prices never rise.
func (s *Session) AppendRound(offerID string, r NegotiationRound, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusNegotiating {
		return fmt.Errorf("%w: rounds are only recorded while %s", ErrInvalidTransition, StatusNegotiating)
	}
	if s.offerIndex(offerID) < 0 {
		return fmt.Errorf("%w: offer %s", ErrNotFound, offerID)
	}
	prev := s.rounds[offerID]
	if r.Number != len(prev)+1 || r.Number > MaxNegotiationRounds {
		return fmt.Errorf("%w: round %d after %d rounds", ErrInvalidRequest, r.Number, len(prev))
	}
	if len(prev) > 0 {
		last := prev[len(prev)-1]
		if last.Accepted {
			return fmt.Errorf("%w: offer %s already accepted", ErrInvalidRequest, offerID)
		}
		if r.ResponsePrice.GreaterThan(last.ResponsePrice) {
			return fmt.Errorf("%w: asking price rose from %s to %s", ErrInvalidRequest, last.ResponsePrice, r.ResponsePrice)
		}
	}
	s.rounds[offerID] = append(prev, r)
	s.touch(now)
	return nil
}

func (s *Session) Rounds(offerID string) []NegotiationRound {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]NegotiationRound(nil), s.rounds[offerID]...)
}

// RecordEvent appends e to the audit trail, assigning its sequence number.
// Timestamps are clamped so they never go backwards.
func (s *Session) RecordEvent(e Event) Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.SessionID = s.id
	e.Seq = len(s.events) + 1
	if n := len(s.events); n > 0 && e.Timestamp.Before(s.events[n-1].Timestamp) {
		e.Timestamp = s.events[n-1].Timestamp
	}
	s.events = append(s.events, e)
	s.touch(e.Timestamp)
	return e
}

func (s *Session) RecordMessage(m AuditMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	s.touch(m.Timestamp)
}

func (s *Session) SetNeedAnalysis(a NeedAnalysis) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analysis = &a
}

func (s *Session) NeedAnalysis() (NeedAnalysis, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.analysis == nil {
		return NeedAnalysis{}, false
	}
	return *s.analysis, true
}

func (s *Session) Contract() (Contract, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.contract == nil {
		return Contract{}, false
	}
	return s.contract.Clone(), true
}

func (s *Session) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event(nil), s.events...)
}

// Snapshot returns a deep copy of the session state.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := SessionSnapshot{
		ID:           s.id,
		InitiatorID:  s.request.RequesterID,
		Participants: append([]string(nil), s.participants...),
		Request:      s.request.Clone(),
		Offers:       cloneOffers(s.offers),
		Ranking:      append([]string(nil), s.ranking...),
		Messages:     append([]AuditMessage(nil), s.messages...),
		Events:       append([]Event(nil), s.events...),
		Status:       s.status,
		Rounds:       make(map[string][]NegotiationRound, len(s.rounds)),
		Error:        s.failure,
		CreatedAt:    s.createdAt,
		UpdatedAt:    s.updatedAt,
	}
	for id, rs := range s.rounds {
		snap.Rounds[id] = append([]NegotiationRound(nil), rs...)
	}
	if s.analysis != nil {
		a := *s.analysis
		snap.NeedAnalysis = &a
	}
	if s.decision != nil {
		d := s.decision.Clone()
		snap.Decision = &d
	}
	if s.contract != nil {
		c := s.contract.Clone()
		snap.Contract = &c
	}
	return snap
}

func (s *Session) Summary() SessionSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionSummary{
		ID:          s.id,
		InitiatorID: s.request.RequesterID,
		Resource:    s.request.Resource,
		Quantity:    s.request.Quantity,
		Status:      s.status,
		OfferCount:  len(s.offers),
		HasContract: s.contract != nil,
		CreatedAt:   s.createdAt,
		UpdatedAt:   s.updatedAt,
	}
}

func (s *Session) offerIndex(id string) int {
	for i := range s.offers {
		if s.offers[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) touch(now time.Time) {
	if now.After(s.updatedAt) {
		s.updatedAt = now
	}
}

func cloneOffers(in []ResourceOffer) []ResourceOffer {
	out := make([]ResourceOffer, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

type SessionSnapshot struct {
	ID           string                        `json:"session_id"`
	InitiatorID  string                        `json:"initiator"`
	Participants []string                      `json:"participants"`
	Request      ResourceRequest               `json:"request"`
	Offers       []ResourceOffer               `json:"offers"`
	Ranking      []string                      `json:"ranking"`
	Messages     []AuditMessage                `json:"messages"`
	Events       []Event                       `json:"events"`
	Status       SessionStatus                 `json:"status"`
	Rounds       map[string][]NegotiationRound `json:"rounds"`
	NeedAnalysis *NeedAnalysis                 `json:"need_analysis,omitempty"`
	Decision     *Decision                     `json:"decision,omitempty"`
	Contract     *Contract                     `json:"contract,omitempty"`
	Error        string                        `json:"error,omitempty"`
	CreatedAt    time.Time                     `json:"created_at"`
	UpdatedAt    time.Time                     `json:"updated_at"`
}

type SessionSummary struct {
	ID          string        `json:"session_id"`
	InitiatorID string        `json:"initiator"`
	Resource    ResourceKind  `json:"resource_type"`
	Quantity    int           `json:"quantity"`
	Status      SessionStatus `json:"status"`
	OfferCount  int           `json:"offers_count"`
	HasContract bool          `json:"has_contract"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}
