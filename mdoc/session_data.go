package mdoc

// SessionData status codes, ISO 18013-5 Table 20.
const (
	SessionStatusDecryptionError = 10
	SessionStatusDecodingError   = 11
	SessionStatusTermination     = 20
)

type SessionData struct {
	Data   []byte `json:"data,omitempty"`
	Status *uint  `json:"status,omitempty"`
}

// NewSessionTermination returns a SessionData that only carries status 20.
func NewSessionTermination() SessionData {
	status := uint(SessionStatusTermination)
	return SessionData{Status: &status}
}

func (s SessionData) IsTermination() bool {
	return s.Status != nil && *s.Status == SessionStatusTermination
}

