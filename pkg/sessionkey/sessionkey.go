// Package sessionkey derives the ISO 18013-5 session encryption keys
// (9.1.1.5) and the device MAC key (9.1.3.5).
package sessionkey

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"golang.org/x/crypto/hkdf"

	"github.com/kokukuma/mdoc-wallet/mdoc"
	"github.com/kokukuma/mdoc-wallet/session_transcript"
)

const keySize = 32

// User selects the direction a key protects.
type User int

const (
	// Reader keys protect messages from the verifier to the holder.
	Reader User = iota
	// Device keys protect messages from the holder to the verifier.
	Device
)

func (u User) info() string {
	if u == Reader {
		return "SKReader"
	}
	return "SKDevice"
}

// identifier is the fixed first 8 bytes of the GCM nonce.
func (u User) identifier() []byte {
	id := make([]byte, 8)
	if u == Device {
		id[7] = 1
	}
	return id
}

var (
	ErrDecrypt          = errors.New("failed to decrypt session data")
	ErrCounterExhausted = errors.New("message counter exhausted")
)

// SessionKey encrypts messages in one direction. Encrypt and Decrypt each
// advance the message counter, so a key must be used by one side for
// exactly one direction.
type SessionKey struct {
	user    User
	aead    cipher.AEAD
	counter uint32
}

// New runs ECDH between priv and pub and expands the shared secret with the
// transcript and the direction label.
func New(priv *ecdh.PrivateKey, pub *ecdh.PublicKey, transcript *session_transcript.SessionTranscript, user User) (*SessionKey, error) {
	salt, err := transcriptSalt(transcript)
	if err != nil {
		return nil, err
	}

	key, err := deriveKey(priv, pub, salt, user.info())
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &SessionKey{user: user, aead: aead}, nil
}

// MacKey derives EMacKey from the device key and the reader's ephemeral key.
// Either side can compute it: the holder with (SDeviceKey, EReaderKey.Pub), the
// verifier with (EReaderKey, SDeviceKey.Pub).
func MacKey(priv *ecdh.PrivateKey, pub *ecdh.PublicKey, transcript *session_transcript.SessionTranscript) ([]byte, error) {
	salt, err := transcriptSalt(transcript)
	if err != nil {
		return nil, err
	}
	return deriveKey(priv, pub, salt, "EMacKey")
}

func transcriptSalt(transcript *session_transcript.SessionTranscript) ([]byte, error) {
	if transcript == nil {
		return nil, mdoc.ErrEmptySessionTranscript
	}
	tagged, err := transcript.TaggedBytes()
	if err != nil {
		return nil, err
	}
	salt := sha256.Sum256(tagged)
	return salt[:], nil
}

func deriveKey(priv *ecdh.PrivateKey, pub *ecdh.PublicKey, salt []byte, info string) ([]byte, error) {
	if priv == nil || pub == nil {
		return nil, fmt.Errorf("key agreement requires both keys")
	}
	shared, err := priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("failed to expand key: %w", err)
	}
	return key, nil
}

func (k *SessionKey) nextNonce() ([]byte, error) {
	if k.counter == math.MaxUint32 {
		return nil, ErrCounterExhausted
	}
	k.counter++

	nonce := make([]byte, 0, 12)
	nonce = append(nonce, k.user.identifier()...)
	return binary.BigEndian.AppendUint32(nonce, k.counter), nil
}

func (k *SessionKey) Encrypt(plaintext []byte) ([]byte, error) {
	nonce, err := k.nextNonce()
	if err != nil {
		return nil, err
	}
	return k.aead.Seal(nil, nonce, plaintext, nil), nil
}

func (k *SessionKey) Decrypt(ciphertext []byte) ([]byte, error) {
	nonce, err := k.nextNonce()
	if err != nil {
		return nil, err
	}
	plaintext, err := k.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

// SerializeAndEncrypt encodes v and wraps it in SessionData.
func (k *SessionKey) SerializeAndEncrypt(v interface{}) (*mdoc.SessionData, error) {
	plaintext, err := mdoc.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session data payload: %w", err)
	}
	data, err := k.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	return &mdoc.SessionData{Data: data}, nil
}

// DecryptAndDeserialize opens SessionData and decodes its payload into v.
// Decryption failures wrap ErrDecrypt, anything else is a decoding failure.
func (k *SessionKey) DecryptAndDeserialize(sessionData *mdoc.SessionData, v interface{}) error {
	if sessionData == nil || len(sessionData.Data) == 0 {
		return fmt.Errorf("%w: session data carries no payload", ErrDecrypt)
	}
	plaintext, err := k.Decrypt(sessionData.Data)
	if err != nil {
		return err
	}
	if err := mdoc.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("failed to decode session data payload: %w", err)
	}
	return nil
}
