package session_transcript

import (
	"net/url"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kokukuma/mdoc-wallet/engagement"
)

func engagements(t *testing.T) ([]byte, []byte) {
	t.Helper()

	verifierURL, err := url.Parse("https://verifier.example.com/session")
	require.NoError(t, err)
	re, _, err := engagement.NewReaderEngagement(verifierURL)
	require.NoError(t, err)
	reBytes, err := re.Bytes()
	require.NoError(t, err)

	referrer, err := url.Parse("https://referrer.url/")
	require.NoError(t, err)
	de, _, err := engagement.NewDeviceEngagement(referrer)
	require.NoError(t, err)
	deBytes, err := de.Bytes()
	require.NoError(t, err)

	return reBytes, deBytes
}

func TestDeterminism(t *testing.T) {
	reBytes, deBytes := engagements(t)

	for _, sessionType := range []SessionType{SameDevice, CrossDevice} {
		t.Run(sessionType.String(), func(t *testing.T) {
			a, err := New(sessionType, reBytes, deBytes)
			require.NoError(t, err)
			b, err := New(sessionType, reBytes, deBytes)
			require.NoError(t, err)

			aBytes, err := a.Bytes()
			require.NoError(t, err)
			bBytes, err := b.Bytes()
			require.NoError(t, err)
			assert.Equal(t, aBytes, bBytes)
		})
	}
}

func TestSessionTypeIsBound(t *testing.T) {
	reBytes, deBytes := engagements(t)

	same, err := New(SameDevice, reBytes, deBytes)
	require.NoError(t, err)
	cross, err := New(CrossDevice, reBytes, deBytes)
	require.NoError(t, err)

	sameBytes, err := same.Bytes()
	require.NoError(t, err)
	crossBytes, err := cross.Bytes()
	require.NoError(t, err)
	assert.NotEqual(t, sameBytes, crossBytes)

	var decoded []cbor.RawMessage
	require.NoError(t, cbor.Unmarshal(crossBytes, &decoded))
	require.Len(t, decoded, 3)
	assert.Equal(t, cbor.RawMessage{0xf6}, decoded[2])

	require.NoError(t, cbor.Unmarshal(sameBytes, &decoded))
	var handover cbor.Tag
	require.NoError(t, cbor.Unmarshal(decoded[2], &handover))
	assert.EqualValues(t, 24, handover.Number)
	assert.Equal(t, reBytes, handover.Content)
}

func TestNewErrors(t *testing.T) {
	reBytes, deBytes := engagements(t)

	_, err := New(SameDevice, nil, deBytes)
	assert.Error(t, err)

	_, err = New(SameDevice, reBytes, nil)
	assert.Error(t, err)

	noKey, err := (&engagement.Engagement{Version: engagement.Version}).Bytes()
	require.NoError(t, err)
	_, err = New(SameDevice, noKey, deBytes)
	assert.ErrorIs(t, err, engagement.ErrVerifierEphemeralKeyMissing)

	_, err = New(SessionType(7), reBytes, deBytes)
	assert.Error(t, err)
}

func TestParseSessionType(t *testing.T) {
	st, err := ParseSessionType("cross_device")
	require.NoError(t, err)
	assert.Equal(t, CrossDevice, st)

	st, err = ParseSessionType("same-device")
	require.NoError(t, err)
	assert.Equal(t, SameDevice, st)

	_, err = ParseSessionType("bluetooth")
	assert.Error(t, err)
}
