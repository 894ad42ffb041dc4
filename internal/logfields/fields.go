package logfields

import (
	"go.uber.org/zap"
)

// Log Fields.
const (
	FieldAttributeCount = "attributeCount"
	FieldDocCount       = "docCount"
	FieldDocType        = "docType"
	FieldDocTypes       = "docTypes"
	FieldKeyID          = "keyID"
	FieldSessionID      = "sessionID"
	FieldSessionType    = "sessionType"
	FieldState          = "state"
	FieldStatus         = "status"
	FieldDataShared     = "dataShared"
	FieldOrganization   = "organization"
	FieldUserLogLevel   = "userLogLevel"
	FieldAddress        = "address"
)

// WithAttributeCount sets the AttributeCount field.
func WithAttributeCount(count int) zap.Field {
	return zap.Int(FieldAttributeCount, count)
}

// WithDocCount sets the DocCount field.
func WithDocCount(count int) zap.Field {
	return zap.Int(FieldDocCount, count)
}

// WithDocType sets the DocType field.
func WithDocType(docType string) zap.Field {
	return zap.String(FieldDocType, docType)
}

// WithDocTypes sets the DocTypes field.
func WithDocTypes(docTypes []string) zap.Field {
	return zap.Strings(FieldDocTypes, docTypes)
}

// WithKeyID sets the KeyID field. Key identifiers are references, never key material.
func WithKeyID(keyID string) zap.Field {
	return zap.String(FieldKeyID, keyID)
}

// WithSessionID sets the SessionID field.
func WithSessionID(sessionID string) zap.Field {
	return zap.String(FieldSessionID, sessionID)
}

// WithSessionType sets the SessionType field.
func WithSessionType(sessionType string) zap.Field {
	return zap.String(FieldSessionType, sessionType)
}

// WithState sets the State field.
func WithState(state string) zap.Field {
	return zap.String(FieldState, state)
}

// WithStatus sets the Status field.
func WithStatus(status int) zap.Field {
	return zap.Int(FieldStatus, status)
}

// WithDataShared sets the DataShared field.
func WithDataShared(shared bool) zap.Field {
	return zap.Bool(FieldDataShared, shared)
}

// WithOrganization sets the Organization field.
func WithOrganization(name string) zap.Field {
	return zap.String(FieldOrganization, name)
}

// WithUserLogLevel sets the UserLogLevel field.
func WithUserLogLevel(level string) zap.Field {
	return zap.String(FieldUserLogLevel, level)
}

// WithAddress sets the Address field.
func WithAddress(address string) zap.Field {
	return zap.String(FieldAddress, address)
}
