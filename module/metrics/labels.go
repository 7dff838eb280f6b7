package metrics

const (
	LabelChannel   = "channel"
	EngineLabel    = "engine"
	LabelMessage   = "message"
	LabelPrefix    = "prefix"
	LabelReason    = "reason"
	LabelAuthority = "authority"
	LabelDecision  = "decision"
	LabelChange    = "change"
	LabelKind      = "kind"
	LabelRole      = "role"
)

const (
	EngineSection = "section"
	EngineRouting = "routing"
)
