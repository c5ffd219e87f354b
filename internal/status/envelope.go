package status

// Status is the outcome of a public operation.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
	StatusNotFound Status = "not_found"
	StatusPartial  Status = "partial"
)

// Envelope is the uniform response shape for every public operation.
type Envelope struct {
	Status         Status `json:"status"`
	RetrievalType  string `json:"retrieval_type,omitempty"`
	Data           any    `json:"data,omitempty"`
	Error          string `json:"error,omitempty"`
	ErrorKind      Kind   `json:"error_kind,omitempty"`
	ReasoningSteps []any  `json:"reasoning_steps,omitempty"`
}

// OK wraps data in a success envelope.
func OK(data any) Envelope {
	return Envelope{Status: StatusSuccess, Data: data}
}

// Retrieved wraps retrieval data with its retrieval type.
func Retrieved(retrievalType string, data any) Envelope {
	return Envelope{Status: StatusSuccess, RetrievalType: retrievalType, Data: data}
}

// Fail converts an error into an error envelope, preserving its kind.
func Fail(err error) Envelope {
	st := StatusError
	if KindOf(err) == KindNotFound {
		st = StatusNotFound
	}
	return Envelope{Status: st, Error: err.Error(), ErrorKind: KindOf(err)}
}
