package engagement

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParseURL(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	require.NoError(t, err)
	return u
}

func TestReaderEngagementRoundTrip(t *testing.T) {
	verifierURL := mustParseURL(t, "https://verifier.example.com/disclosure/abc")

	re, priv, err := NewReaderEngagement(verifierURL)
	require.NoError(t, err)

	b, err := re.Bytes()
	require.NoError(t, err)

	parsed, err := Parse(b)
	require.NoError(t, err)

	u, err := parsed.VerifierURL()
	require.NoError(t, err)
	assert.Equal(t, verifierURL.String(), u.String())

	pub, err := parsed.PublicKey()
	require.NoError(t, err)
	assert.True(t, pub.Equal(priv.PublicKey()))
}

func TestDeviceEngagement(t *testing.T) {
	de, priv, err := NewDeviceEngagement(mustParseURL(t, "https://referrer.url/"))
	require.NoError(t, err)

	pub, err := de.PublicKey()
	require.NoError(t, err)
	assert.True(t, pub.Equal(priv.PublicKey()))

	require.Len(t, de.OriginInfos, 2)
	assert.Equal(t, OriginCatReceived, de.OriginInfos[0].Cat)
	assert.Equal(t, OriginTypeWebsite, de.OriginInfos[0].Type)
	assert.Equal(t, "https://referrer.url/", de.OriginInfos[0].Details.BaseURL)
	assert.Equal(t, OriginCatDelivered, de.OriginInfos[1].Cat)
	assert.Equal(t, OriginTypeMessageData, de.OriginInfos[1].Type)
	assert.Nil(t, de.OriginInfos[1].Details)

	_, err = de.VerifierURL()
	assert.ErrorIs(t, err, ErrVerifierURLMissing)

	other, _, err := NewDeviceEngagement(mustParseURL(t, "https://referrer.url/"))
	require.NoError(t, err)
	otherPub, err := other.PublicKey()
	require.NoError(t, err)
	assert.False(t, pub.Equal(otherPub), "every engagement gets its own ephemeral key")
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "not cbor", data: []byte{0xff, 0x00}},
		{name: "wrong type", data: []byte{0x01}},
		{name: "missing version", data: []byte{0xa0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestMissingFields(t *testing.T) {
	e := &Engagement{Version: Version}

	_, err := e.VerifierURL()
	assert.ErrorIs(t, err, ErrVerifierURLMissing)

	_, err = e.PublicKey()
	assert.ErrorIs(t, err, ErrVerifierEphemeralKeyMissing)

	e.ConnectionMethods = []ConnectionMethod{{Type: ConnectionMethodRestAPI, Version: 1, Options: RestAPIOptions{URI: "/relative"}}}
	_, err = e.VerifierURL()
	assert.ErrorIs(t, err, ErrVerifierURLMissing)
}
