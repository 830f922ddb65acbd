package event

// Type identifies the type of domain event
type Type string

const (
	TypeApplicationCreated Type = "application.created"
	TypeStatusChanged      Type = "application.status_changed"
	TypeDocumentUploaded   Type = "application.document_uploaded"
	TypeRiskScored         Type = "application.risk_scored"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeApplicationCreated,
		TypeStatusChanged,
		TypeDocumentUploaded,
		TypeRiskScored:
		return true
	default:
		return false
	}
}
