package types

// Event represents a typed record emitted by the spend engine for off-process
// consumers (audit pipelines, dashboards, alerting).
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
