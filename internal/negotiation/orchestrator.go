package negotiation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dyike/CareMesh/consts"
	"github.com/dyike/CareMesh/internal/agents"
	"github.com/dyike/CareMesh/internal/notify"
	"github.com/dyike/CareMesh/internal/oracle"
	"github.com/dyike/CareMesh/internal/storage"
	"github.com/dyike/CareMesh/models"
)

const dateLayout = "2006-01-02"

// Settings tunes pacing, round limits and persistence of a negotiation.
type Settings struct {
	OracleTimeout  time.Duration
	BroadcastDelay time.Duration
	CollectDelay   time.Duration
	RoundDelay     time.Duration
	MaxRounds      int
	Tolerance      decimal.Decimal
	PaymentTerms   string
	ResponseWindow time.Duration
	BroadcastTTL   time.Duration
	OfferTTL       time.Duration
	ContractTTL    time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		OracleTimeout:  30 * time.Second,
		MaxRounds:      models.MaxNegotiationRounds,
		Tolerance:      decimal.RequireFromString(consts.DefaultTolerance),
		PaymentTerms:   consts.DefaultPaymentTerms,
		ResponseWindow: 30 * time.Minute,
		BroadcastTTL:   consts.DefaultBroadcastTTL,
		OfferTTL:       consts.DefaultOfferTTL,
		ContractTTL:    consts.DefaultContractTTL,
	}
}

func (s Settings) maxRounds() int {
	if s.MaxRounds <= 0 || s.MaxRounds > models.MaxNegotiationRounds {
		return models.MaxNegotiationRounds
	}
	return s.MaxRounds
}

// Ledger keeps finalized contracts.
type Ledger interface {
	StoreContract(ctx context.Context, c models.Contract) error
}

// Observer sees every event of every session, and the final snapshot once
// the session has ended.
type Observer interface {
	OnEvent(ev models.Event)
	OnFinish(snap models.SessionSnapshot)
}

type Option func(*Orchestrator)

// WithOracle sets the requester-side oracle used for need analysis, offer
// evaluation, counter offers and the final decision. Without it every step
// uses its deterministic fallback.
func WithOracle(o oracle.Oracle) Option {
	return func(orc *Orchestrator) {
		orc.oracle = o
	}
}

func WithStore(s storage.Store) Option {
	return func(o *Orchestrator) {
		o.store = s
	}
}

func WithLedger(l Ledger) Option {
	return func(o *Orchestrator) {
		o.ledger = l
	}
}

func WithNotifier(n notify.Notifier) Option {
	return func(o *Orchestrator) {
		o.notifier = n
	}
}

func WithObserver(ob Observer) Option {
	return func(o *Orchestrator) {
		if ob != nil {
			o.observers = append(o.observers, ob)
		}
	}
}

func WithSettings(s Settings) Option {
	return func(o *Orchestrator) {
		o.settings = s
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) {
		if gen != nil {
			o.newID = gen
		}
	}
}

// Orchestrator drives negotiation sessions between the agents of a
// registry. Each session runs on its own goroutine.
type Orchestrator struct {
	registry  *agents.Registry
	sessions  *Sessions
	oracle    oracle.Oracle
	coord     *coordinator
	store     storage.Store
	ledger    Ledger
	notifier  notify.Notifier
	observers []Observer
	settings  Settings
	now       func() time.Time
	newID     func() string
}

func New(registry *agents.Registry, sessions *Sessions, opts ...Option) (*Orchestrator, error) {
	if registry == nil {
		return nil, fmt.Errorf("agent registry is required")
	}
	if sessions == nil {
		sessions = NewSessions()
	}
	o := &Orchestrator{
		registry: registry,
		sessions: sessions,
		settings: DefaultSettings(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.coord = &coordinator{}
	if o.oracle != nil {
		o.coord.oracle = oracle.Guard(o.oracle, o.settings.OracleTimeout)
	}
	return o, nil
}

// NegotiationRequest is what a caller supplies to start a session. The
// needed window opens 24 hours from now and lasts DurationDays.
type NegotiationRequest struct {
	InitiatorID  string
	Resource     models.ResourceKind
	Quantity     int
	Urgency      models.Urgency
	DurationDays int
	MaxBudget    decimal.Decimal
	Details      map[string]any
}

// Run is a handle on a session in progress. Its event channel can be read
// once; Close detaches the reader without stopping the session.
type Run struct {
	session *models.Session
	stream  *stream
	done    chan struct{}
}

func (r *Run) SessionID() string { return r.session.ID() }

// Events delivers the session's events in order. The channel is closed
// after the terminal event.
func (r *Run) Events() <-chan models.Event { return r.stream.out }

func (r *Run) Close() { r.stream.close() }

// Done is closed once the session has ended and its outcome has been
// recorded and delivered.
func (r *Run) Done() <-chan struct{} { return r.done }

func (r *Run) Snapshot() models.SessionSnapshot { return r.session.Snapshot() }

// Start validates in, creates its session and begins driving it. ctx only
// cancels the session at phase boundaries.
func (o *Orchestrator) Start(ctx context.Context, in NegotiationRequest) (*Run, error) {
	initiator, err := o.registry.Get(in.InitiatorID)
	if err != nil {
		return nil, err
	}
	if in.DurationDays <= 0 {
		return nil, fmt.Errorf("%w: duration must be at least one day, got %d", models.ErrInvalidRequest, in.DurationDays)
	}
	now := o.now()
	from := now.Add(24 * time.Hour)
	req := models.ResourceRequest{
		ID:            o.newID(),
		RequesterID:   initiator.ID(),
		RequesterName: initiator.Name(),
		Resource:      in.Resource,
		Quantity:      in.Quantity,
		Urgency:       in.Urgency,
		NeededFrom:    from,
		NeededUntil:   from.AddDate(0, 0, in.DurationDays),
		MaxBudget:     in.MaxBudget,
		Details:       in.Details,
		CreatedAt:     now,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	participants := o.registry.Participants(initiator.ID())
	ids := make([]string, len(participants))
	for i, a := range participants {
		ids[i] = a.ID()
	}
	sess := models.NewSession(o.newID(), req, ids, now)
	if err := o.sessions.Add(sess); err != nil {
		return nil, err
	}

	run := &Run{session: sess, stream: newStream(), done: make(chan struct{})}
	go o.drive(ctx, run, participants)
	return run, nil
}

// Negotiate runs a session to the end, passing each event to onEvent, and
// returns its final snapshot.
func (o *Orchestrator) Negotiate(ctx context.Context, in NegotiationRequest, onEvent func(models.Event)) (models.SessionSnapshot, error) {
	run, err := o.Start(ctx, in)
	if err != nil {
		return models.SessionSnapshot{}, err
	}
	for ev := range run.Events() {
		if onEvent != nil {
			onEvent(ev)
		}
	}
	<-run.Done()
	return run.Snapshot(), nil
}

func (o *Orchestrator) GetSession(id string) (models.SessionSnapshot, error) {
	sess, err := o.sessions.Get(id)
	if err != nil {
		return models.SessionSnapshot{}, err
	}
	return sess.Snapshot(), nil
}

func (o *Orchestrator) ListSessions() []models.SessionSummary {
	list := o.sessions.List()
	out := make([]models.SessionSummary, len(list))
	for i, sess := range list {
		out[i] = sess.Summary()
	}
	return out
}

// Contract returns the contract of a completed session.
func (o *Orchestrator) Contract(sessionID string) (models.Contract, error) {
	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return models.Contract{}, err
	}
	c, ok := sess.Contract()
	if !ok {
		return models.Contract{}, fmt.Errorf("%w: session %s has no contract", models.ErrNotFound, sessionID)
	}
	return c, nil
}

func (o *Orchestrator) ListAgents() []models.AgentSummary {
	list := o.registry.List()
	out := make([]models.AgentSummary, len(list))
	for i, a := range list {
		out[i] = a.Summary()
	}
	return out
}

func (o *Orchestrator) GetAgent(id string) (models.AgentSummary, error) {
	a, err := o.registry.Get(id)
	if err != nil {
		return models.AgentSummary{}, err
	}
	return a.Summary(), nil
}

type Status struct {
	Agents         int `json:"agents"`
	ActiveSessions int `json:"active_sessions"`
	TotalSessions  int `json:"total_sessions"`
}

func (o *Orchestrator) Status() Status {
	return Status{
		Agents:         o.registry.Len(),
		ActiveSessions: o.sessions.Active(),
		TotalSessions:  len(o.sessions.List()),
	}
}

// SubmitOffer stores an offer from a party outside the registry. It is
// merged into the requester's next collection while it lives in the store.
func (o *Orchestrator) SubmitOffer(ctx context.Context, requesterID string, offer models.ResourceOffer) (models.ResourceOffer, error) {
	if o.store == nil {
		return models.ResourceOffer{}, fmt.Errorf("no offer store configured")
	}
	if _, err := o.registry.Get(requesterID); err != nil {
		return models.ResourceOffer{}, err
	}
	if strings.TrimSpace(offer.PartyID) == "" || offer.PartyID == requesterID {
		return models.ResourceOffer{}, fmt.Errorf("%w: offer needs a supplier other than the requester", models.ErrInvalidRequest)
	}
	if _, err := models.ParseResourceKind(string(offer.Resource)); err != nil {
		return models.ResourceOffer{}, err
	}
	if offer.Quantity <= 0 || offer.PricePerUnit.IsNegative() {
		return models.ResourceOffer{}, fmt.Errorf("%w: offer needs a positive quantity and a price", models.ErrInvalidRequest)
	}
	if offer.ID == "" {
		offer.ID = o.newID()
	}
	if offer.PartyName == "" {
		offer.PartyName = offer.PartyID
	}
	offer.Source = models.OfferSourceStore
	offer.ReceivedAt = o.now()
	if err := storage.SetJSON(ctx, o.store, storage.OfferKey(requesterID, offer.ID), offer, o.settings.OfferTTL); err != nil {
		return models.ResourceOffer{}, err
	}
	return offer, nil
}

// shortID turns a generated id into a compact contract suffix.
func shortID(id string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(id) {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
		}
		if b.Len() == 8 {
			break
		}
	}
	return b.String()
}
