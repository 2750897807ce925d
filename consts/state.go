package consts

import "time"

// Ephemeral store key prefixes.
const (
	KeyBroadcast    = "broadcast"
	KeyOffer        = "offer"
	KeyContract     = "contract"
	KeyNotification = "notification"
)

const (
	DefaultBroadcastTTL    = 30 * time.Minute
	DefaultOfferTTL        = 30 * time.Minute
	DefaultContractTTL     = 7 * 24 * time.Hour
	DefaultNotificationTTL = 24 * time.Hour
)

const (
	DefaultPaymentTerms = "Net 30 days"
	DefaultTolerance    = "0.05"
	FallbackReduction   = "0.05"
	OracleResponseStep  = "0.98"
)

const (
	Audit_NeedAnalysis = "need_analysis"
	Audit_Judgment     = "judgment"
	Audit_Adjustment   = "adjustment"
	Audit_Evaluation   = "evaluation"
	Audit_Decision     = "decision"
)
