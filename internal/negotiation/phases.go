package negotiation

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyike/CareMesh/consts"
	"github.com/dyike/CareMesh/internal/agents"
	"github.com/dyike/CareMesh/internal/notify"
	"github.com/dyike/CareMesh/internal/observability"
	"github.com/dyike/CareMesh/internal/storage"
	"github.com/dyike/CareMesh/models"
)

// drive runs every phase of one session. Whatever happens, the stream ends
// with a terminal event and observers see the final snapshot.
func (o *Orchestrator) drive(ctx context.Context, run *Run, participants []*agents.Agent) {
	ctx = observability.WithSessionID(ctx, run.session.ID())
	log := observability.LoggerFromContext(ctx)

	defer close(run.done)
	defer o.finish(ctx, run)
	defer run.stream.finish()
	defer func() {
		if r := recover(); r != nil {
			log.Error("negotiation panicked", "panic", r)
			o.fail(run, fmt.Errorf("internal error: %v", r))
		}
	}()

	if err := o.phases(ctx, run, participants); err != nil {
		log.Warn("negotiation failed", "error", err)
		o.fail(run, err)
	}
}

func (o *Orchestrator) phases(ctx context.Context, run *Run, participants []*agents.Agent) error {
	sess := run.session
	req := sess.Request()
	call := context.WithoutCancel(ctx)

	names := make([]string, len(participants))
	for i, a := range participants {
		names[i] = a.Name()
	}
	o.emit(run, models.EventInitiated, map[string]any{
		"request":      req,
		"participants": sess.Participants(),
		"message":      fmt.Sprintf("%s needs %d %s", req.RequesterName, req.Quantity, req.Resource),
	})
	need := o.coord.analyzeNeed(call, req)
	sess.SetNeedAnalysis(need)
	o.audit(sess, req.RequesterID, consts.Audit_NeedAnalysis, need)

	if err := o.advance(ctx, sess, models.StatusBroadcasting); err != nil {
		return err
	}
	o.broadcast(call, sess, req)
	o.emit(run, models.EventBroadcasting, map[string]any{
		"participants": names,
		"message":      fmt.Sprintf("Broadcasting request to %d hospital(s)", len(names)),
	})
	if err := sleep(ctx, o.settings.BroadcastDelay); err != nil {
		return err
	}

	if err := o.advance(ctx, sess, models.StatusCollecting); err != nil {
		return err
	}
	if err := o.collect(ctx, run, req, participants); err != nil {
		return err
	}
	o.collectExternal(call, run, req)
	originals := make(map[string]decimal.Decimal)
	for _, offer := range sess.Offers() {
		originals[offer.ID] = offer.PricePerUnit
	}

	if len(sess.Offers()) >= 2 {
		if err := o.advance(ctx, sess, models.StatusNegotiating); err != nil {
			return err
		}
		if err := o.negotiate(ctx, run, req, need); err != nil {
			return err
		}
	}

	if err := o.advance(ctx, sess, models.StatusDeciding); err != nil {
		return err
	}
	o.emit(run, models.EventMakingDecision, map[string]any{
		"offer_count":   len(sess.Offers()),
		"offered_total": sumTotals(sess.Offers()),
		"message":       "Evaluating offers and selecting suppliers",
	})
	d, contract := o.decide(call, sess, req, need, originals)
	if err := sess.Complete(d, contract, o.now()); err != nil {
		return err
	}
	o.emitCompleted(run)
	return nil
}

// advance checks for cancellation before moving sess to next.
func (o *Orchestrator) advance(ctx context.Context, sess *models.Session, next models.SessionStatus) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("negotiation cancelled before %s: %w", next, err)
	}
	return sess.Advance(next, o.now())
}

func (o *Orchestrator) broadcast(ctx context.Context, sess *models.Session, req models.ResourceRequest) {
	if o.store == nil {
		return
	}
	payload := map[string]any{
		"session_id":        sess.ID(),
		"request":           req,
		"participants":      sess.Participants(),
		"response_deadline": o.now().Add(o.settings.ResponseWindow),
	}
	if err := storage.SetJSON(ctx, o.store, storage.BroadcastKey(req.RequesterID), payload, o.settings.BroadcastTTL); err != nil {
		observability.LoggerFromContext(ctx).Warn("store broadcast", "error", err)
	}
}

func (o *Orchestrator) collect(ctx context.Context, run *Run, req models.ResourceRequest, participants []*agents.Agent) error {
	sess := run.session
	call := context.WithoutCancel(ctx)
	for i, agent := range participants {
		o.emit(run, models.EventAgentAnalyzing, map[string]any{
			"hospital_id":   agent.ID(),
			"hospital_name": agent.Name(),
			"message":       fmt.Sprintf("%s is analyzing the request", agent.Name()),
		})
		j := agent.Analyze(call, req)
		o.audit(sess, agent.ID(), consts.Audit_Judgment, judgmentContent(j))

		if h, ok := j.(agents.Helpful); ok {
			offer := models.ResourceOffer{
				ID:             o.newID(),
				PartyID:        agent.ID(),
				PartyName:      agent.Name(),
				Resource:       req.Resource,
				Quantity:       h.Quantity,
				PricePerUnit:   h.PricePerUnit,
				AvailableFrom:  req.NeededFrom,
				AvailableUntil: req.NeededUntil,
				Conditions:     h.Conditions,
				Confidence:     h.Confidence,
				Reasoning:      h.Reasoning,
				Source:         models.OfferSourceAgent,
				ReceivedAt:     o.now(),
			}
			if err := sess.AppendOffer(offer, offer.ReceivedAt); err != nil {
				return err
			}
			offer.ResponseOrder = len(sess.Offers()) - 1
			o.persistOffer(call, req, offer)
			o.emit(run, models.EventOfferReceived, map[string]any{
				"hospital_id":   agent.ID(),
				"hospital_name": agent.Name(),
				"offer":         offer,
			})
		} else {
			o.emit(run, models.EventOfferDeclined, map[string]any{
				"hospital_id":   agent.ID(),
				"hospital_name": agent.Name(),
				"reasoning":     agents.Reasoning(j),
				"confidence":    agents.Confidence(j),
			})
		}

		if i < len(participants)-1 {
			if err := sleep(ctx, o.settings.CollectDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

// collectExternal merges offers that parties outside the registry left in
// the store for this requester.
func (o *Orchestrator) collectExternal(ctx context.Context, run *Run, req models.ResourceRequest) {
	if o.store == nil {
		return
	}
	sess := run.session
	log := observability.LoggerFromContext(ctx)
	keys, err := o.store.ListKeys(ctx, storage.OfferPattern(req.RequesterID))
	if err != nil {
		log.Warn("list stored offers", "error", err)
		return
	}
	seen := make(map[string]bool)
	for _, offer := range sess.Offers() {
		seen[offer.ID] = true
	}
	for _, key := range keys {
		var offer models.ResourceOffer
		ok, err := storage.GetJSON(ctx, o.store, key, &offer)
		if err != nil {
			log.Warn("read stored offer", "key", key, "error", err)
			continue
		}
		if !ok || seen[offer.ID] || offer.Source == models.OfferSourceAgent {
			continue
		}
		if offer.Resource != req.Resource || offer.PartyID == "" || offer.PartyID == req.RequesterID {
			continue
		}
		if offer.Quantity <= 0 || offer.PricePerUnit.IsNegative() {
			continue
		}
		if offer.Quantity > req.Quantity {
			offer.Quantity = req.Quantity
		}
		offer.Source = models.OfferSourceStore
		offer.ReceivedAt = o.now()
		if err := sess.AppendOffer(offer, offer.ReceivedAt); err != nil {
			log.Warn("merge stored offer", "key", key, "error", err)
			continue
		}
		seen[offer.ID] = true
		offer.ResponseOrder = len(sess.Offers()) - 1
		o.emit(run, models.EventOfferReceived, map[string]any{
			"hospital_id":   offer.PartyID,
			"hospital_name": offer.PartyName,
			"offer":         offer,
		})
	}
}

func (o *Orchestrator) negotiate(ctx context.Context, run *Run, req models.ResourceRequest, need models.NeedAnalysis) error {
	sess := run.session
	call := context.WithoutCancel(ctx)
	o.emit(run, models.EventRoundStarted, map[string]any{
		"offer_count": len(sess.Offers()),
		"message":     "Suppliers are reviewing competing offers",
	})

	for _, own := range sess.Offers() {
		agent, err := o.registry.Get(own.PartyID)
		if err != nil {
			continue
		}
		current, competing := splitOffers(sess.Offers(), own.ID)
		adj := agent.Negotiate(call, req, current, competing)
		o.audit(sess, agent.ID(), consts.Audit_Adjustment, adj)
		if !adj.Adjust {
			continue
		}
		updated, err := sess.AdjustOffer(own.ID, adj.NewPrice, adj.NewConditions, o.now())
		if err != nil {
			return err
		}
		o.persistOffer(call, req, updated)
		o.emit(run, models.EventOfferAdjusted, map[string]any{
			"hospital_id":   agent.ID(),
			"hospital_name": agent.Name(),
			"offer_id":      own.ID,
			"old_price":     current.PricePerUnit,
			"new_price":     updated.PricePerUnit,
			"strategy":      adj.Strategy,
		})
	}
	if err := sleep(ctx, o.settings.RoundDelay); err != nil {
		return err
	}

	ranked, source := o.coord.evaluate(call, req, need, sess.Offers())
	if err := sess.SetRanking(offerIDs(ranked)); err != nil {
		return err
	}
	o.audit(sess, req.RequesterID, consts.Audit_Evaluation, map[string]any{
		"ranked_offer_ids": offerIDs(ranked),
		"source":           source,
	})
	return o.narrow(ctx, run, req, need, ranked[0])
}

// narrow plays counter offer rounds on the total price of top until its
// supplier accepts or the rounds run out.
func (o *Orchestrator) narrow(ctx context.Context, run *Run, req models.ResourceRequest, need models.NeedAnalysis, top models.ResourceOffer) error {
	sess := run.session
	call := context.WithoutCancel(ctx)
	maxRounds := o.settings.maxRounds()
	qty := decimal.NewFromInt(int64(top.Quantity))
	current := top.TotalPrice()
	target := need.TargetPrice.Mul(qty)
	if current.LessThanOrEqual(target) {
		return nil
	}

	for round := 1; round <= maxRounds; round++ {
		var r models.NegotiationRound
		if counter, reasoning, ok := o.coord.counter(call, req, need, top.PartyName, round, maxRounds, current, target); ok {
			r = CounterRound(round, maxRounds, current, target, counter, o.settings.Tolerance, reasoning)
		} else {
			r = FallbackRound(round, maxRounds, current, target)
		}
		if err := sess.AppendRound(top.ID, r, o.now()); err != nil {
			return err
		}
		o.emit(run, models.EventOfferAdjusted, map[string]any{
			"hospital_id":    top.PartyID,
			"hospital_name":  top.PartyName,
			"offer_id":       top.ID,
			"round":          r.Number,
			"our_offer":      r.CounterPrice,
			"their_response": r.ResponsePrice,
			"accepted":       r.Accepted,
		})
		current = r.ResponsePrice
		if r.Accepted {
			break
		}
		if round < maxRounds {
			if err := sleep(ctx, o.settings.RoundDelay); err != nil {
				return err
			}
		}
	}

	unit := current.Div(qty).Round(2)
	if !unit.LessThan(top.PricePerUnit) {
		return nil
	}
	updated, err := sess.AdjustOffer(top.ID, unit, nil, o.now())
	if err != nil {
		return err
	}
	o.persistOffer(call, req, updated)
	return nil
}

func (o *Orchestrator) decide(ctx context.Context, sess *models.Session, req models.ResourceRequest, need models.NeedAnalysis, originals map[string]decimal.Decimal) (models.Decision, *models.Contract) {
	offers := sess.Offers()
	if len(offers) == 0 {
		d := noOffersDecision()
		o.audit(sess, req.RequesterID, consts.Audit_Decision, d)
		return d, nil
	}
	ranked, _ := o.coord.evaluate(ctx, req, need, offers)
	if err := sess.SetRanking(offerIDs(ranked)); err != nil {
		observability.LoggerFromContext(ctx).Warn("store ranking", "error", err)
	}
	d := o.coord.decide(ctx, req, ranked)
	o.audit(sess, req.RequesterID, consts.Audit_Decision, d)
	if !d.Success {
		return d, nil
	}

	rounds := 0
	for _, sel := range d.Selected {
		rounds += len(sess.Rounds(sel.OfferID))
	}
	now := o.now()
	c := BuildContract(models.NewContractID(now, shortID(o.newID())), sess.ID(), req, d, originals, rounds, o.settings.PaymentTerms, now)
	o.storeContract(ctx, c)
	return d, &c
}

func (o *Orchestrator) storeContract(ctx context.Context, c models.Contract) {
	log := observability.LoggerFromContext(ctx)
	if o.ledger != nil {
		if err := o.ledger.StoreContract(ctx, c); err != nil {
			log.Warn("store contract in ledger", "contract_id", c.ID, "error", err)
		}
	}
	if o.store != nil {
		if err := storage.SetJSON(ctx, o.store, storage.ContractKey(c.ID), c, o.settings.ContractTTL); err != nil {
			log.Warn("store contract", "contract_id", c.ID, "error", err)
		}
	}
}

func (o *Orchestrator) persistOffer(ctx context.Context, req models.ResourceRequest, offer models.ResourceOffer) {
	if o.store == nil {
		return
	}
	if err := storage.SetJSON(ctx, o.store, storage.OfferKey(req.RequesterID, offer.ID), offer, o.settings.OfferTTL); err != nil {
		observability.LoggerFromContext(ctx).Warn("store offer", "offer_id", offer.ID, "error", err)
	}
}

func (o *Orchestrator) emit(run *Run, kind models.EventKind, payload map[string]any) {
	ev := run.session.RecordEvent(models.Event{Kind: kind, Payload: payload, Timestamp: o.now()})
	run.stream.push(ev)
	for _, ob := range o.observers {
		ob.OnEvent(ev)
	}
}

func (o *Orchestrator) emitCompleted(run *Run) {
	snap := run.session.Snapshot()
	payload := map[string]any{
		"decision": snap.Decision,
		"message":  "Negotiation completed",
	}
	if snap.Contract != nil {
		payload["contract"] = snap.Contract
	}
	o.emit(run, models.EventCompleted, payload)
}

// fail ends the session with an error event. A session that completed but
// never announced it gets its completion event instead.
func (o *Orchestrator) fail(run *Run, err error) {
	if run.session.Fail(err.Error(), o.now()) {
		o.emit(run, models.EventError, map[string]any{"message": err.Error()})
		return
	}
	events := run.session.Events()
	if len(events) > 0 && events[len(events)-1].Kind.Terminal() {
		return
	}
	if run.session.Status() == models.StatusCompleted {
		o.emitCompleted(run)
	}
}

func (o *Orchestrator) finish(ctx context.Context, run *Run) {
	snap := run.session.Snapshot()
	log := observability.LoggerFromContext(ctx)
	for _, ob := range o.observers {
		ob.OnFinish(snap)
	}
	if o.notifier != nil {
		n := notify.FromSnapshot(snap, o.now())
		if err := o.notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
			log.Warn("notify requester", "error", err)
		}
	}
	log.Info("negotiation finished", "status", snap.Status, "offers", len(snap.Offers), "contract", snap.Contract != nil)
}

func (o *Orchestrator) audit(sess *models.Session, from, kind string, content any) {
	sess.RecordMessage(models.AuditMessage{From: from, Type: kind, Content: content, Timestamp: o.now()})
}

func judgmentContent(j agents.Judgment) map[string]any {
	out := map[string]any{
		"can_help":   false,
		"reasoning":  agents.Reasoning(j),
		"confidence": agents.Confidence(j),
	}
	switch v := j.(type) {
	case agents.Helpful:
		out["can_help"] = true
		out["quantity_available"] = v.Quantity
		out["price_per_unit"] = v.PricePerUnit
		out["conditions"] = v.Conditions
	case agents.Malformed:
		out["raw"] = v.Raw
	}
	return out
}

func splitOffers(offers []models.ResourceOffer, id string) (models.ResourceOffer, []models.ResourceOffer) {
	var own models.ResourceOffer
	others := make([]models.ResourceOffer, 0, len(offers))
	for _, o := range offers {
		if o.ID == id {
			own = o
			continue
		}
		others = append(others, o)
	}
	return own, others
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
