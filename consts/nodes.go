package consts

// Oracle step names, used as eino graph names and in logs.
const (
	// Requester side
	AnalyzeNeed    = "analyze_need"
	EvaluateOffers = "evaluate_offers"
	CounterOffer   = "counter_offer"
	MakeDecision   = "make_decision"

	// Supplier side
	AnalyzeRequest = "analyze_request"
	NegotiateOffer = "negotiate_offer"
)

// Personality labels assigned to hospital agents.
const (
	PersonalityAcademic  = "academic_collaborative"
	PersonalityBusiness  = "business_oriented"
	PersonalityCommunity = "community_focused"
)
