package forward

// Bus topics published by the forward module.
const (
	TopicGatewayDiscovered = "forward.gateway.discovered"
	TopicRulesCreated      = "forward.rules.created"
	TopicRestarted         = "forward.restarted"
)

// GatewayEvent is the payload for TopicGatewayDiscovered.
type GatewayEvent struct {
	Endpoint string `json:"endpoint"`
}

// RulesEvent is the payload for TopicRulesCreated.
type RulesEvent struct {
	Endpoint string `json:"endpoint"`
	Ports    int    `json:"ports"`
}

// RestartEvent is the payload for TopicRestarted.
type RestartEvent struct {
	Fingerprint string `json:"fingerprint"`
}
