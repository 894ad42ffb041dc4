package holder

import (
	"context"
	"crypto/ecdsa"
	"errors"

	"github.com/kokukuma/mdoc-wallet/mdoc"
)

// Transport posts a CBOR encodable req to url and decodes the reply into
// resp. A nil resp discards the reply body.
type Transport interface {
	Post(ctx context.Context, url string, req, resp interface{}) error
}

// CredentialSource returns held mdocs for the requested doc types, grouped
// by doc type. It must not return doc types that were not asked for.
type CredentialSource interface {
	MdocsByDocTypes(ctx context.Context, docTypes []mdoc.DocType) (map[mdoc.DocType][]mdoc.Mdoc, error)
}

// KeyResolver maps a private key reference to a signing handle. The handle
// may be backed by hardware, so signing can block.
type KeyResolver interface {
	Resolve(ctx context.Context, privateKeyID string) (SigningKey, error)
}

// SigningKey signs with ES256. Sign receives the unhashed message and
// returns the raw r||s signature.
type SigningKey interface {
	Public() *ecdsa.PublicKey
	Sign(ctx context.Context, message []byte) ([]byte, error)
}

// deliveryReporter is implemented by transport errors that know whether the
// request body reached the server.
type deliveryReporter interface {
	Delivered() bool
}

// mayHaveDelivered reports whether a failed post may still have reached the
// verifier. Errors that do not say otherwise count as delivered.
func mayHaveDelivered(err error) bool {
	var reporter deliveryReporter
	if errors.As(err, &reporter) {
		return reporter.Delivered()
	}
	return true
}
