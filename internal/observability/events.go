package observability

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`

	RequestID string `json:"-"`
	TraceID   string `json:"-"`
}

// Headers are attached to the published AMQP message.
func (e EventEnvelope) Headers() map[string]string {
	return BuildHeaders(e.RequestID, e.TraceID)
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
