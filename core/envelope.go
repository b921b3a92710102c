package core

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// DecoratedSignature is a signature over the envelope hash plus a short hint
// identifying the public key that produced it. Verifiers check signatures in
// envelope order.
type DecoratedSignature struct {
	Hint      []byte `json:"hint"`
	Signature []byte `json:"signature"`
}

// Envelope is the decoded form of a challenge or transaction envelope: the
// target network passphrase, the opaque transaction bytes, and zero or more
// signatures in the order they were appended.
type Envelope struct {
	Network    string               `json:"network"`
	Tx         []byte               `json:"tx"`
	Signatures []DecoratedSignature `json:"signatures"`
}

// Sanitize repairs an encoded envelope that picked up transport artifacts:
// embedded whitespace and newlines, URL-safe alphabet, lost padding. It is
// best effort and never fails; input that cannot be repaired still fails at
// decode time.
func Sanitize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch r {
		case ' ', '\t', '\n', '\r':
			continue
		case '-':
			b.WriteByte('+')
		case '_':
			b.WriteByte('/')
		default:
			b.WriteRune(r)
		}
	}
	s := strings.TrimRight(b.String(), "=")
	if n := len(s) % 4; n != 0 {
		s += strings.Repeat("=", 4-n)
	}
	return s
}

// DecodeEnvelope parses an encoded envelope. Callers should Sanitize first.
func DecodeEnvelope(raw string) (Envelope, error) {
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	if env.Network == "" || len(env.Tx) == 0 {
		return Envelope{}, fmt.Errorf("%w: missing network or transaction", ErrMalformedEnvelope)
	}

	return env, nil
}

// Encode serializes the envelope back to its transport form.
func (e Envelope) Encode() string {
	data, err := json.Marshal(e)
	if err != nil {
		// Envelope fields are all marshalable types; this cannot happen.
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(data)
}

// SignatureCount returns the number of signatures carried by the envelope.
func (e Envelope) SignatureCount() int {
	return len(e.Signatures)
}

// Hash returns the signing payload: SHA-256 over the network passphrase and
// the transaction bytes.
func (e Envelope) Hash() [32]byte {
	h := sha256.New()
	h.Write([]byte(e.Network))
	h.Write(e.Tx)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Sign produces a new envelope with an additional signature appended after
// the existing ones. The receiver is not mutated.
func (e Envelope) Sign(key ed25519.PrivateKey) (Envelope, error) {
	if len(key) != ed25519.PrivateKeySize {
		return Envelope{}, fmt.Errorf("%w: signing key has wrong length", ErrConfiguration)
	}

	hash := e.Hash()
	sig := ed25519.Sign(key, hash[:])

	pub := key.Public().(ed25519.PublicKey)
	hint := make([]byte, 4)
	copy(hint, pub[len(pub)-4:])

	signed := Envelope{
		Network:    e.Network,
		Tx:         append([]byte(nil), e.Tx...),
		Signatures: make([]DecoratedSignature, 0, len(e.Signatures)+1),
	}
	signed.Signatures = append(signed.Signatures, e.Signatures...)
	signed.Signatures = append(signed.Signatures, DecoratedSignature{
		Hint:      hint,
		Signature: sig,
	})

	return signed, nil
}

// Verify reports whether the signature at index idx is a valid signature over
// the envelope hash by the given public key.
func (e Envelope) Verify(idx int, pub ed25519.PublicKey) bool {
	if idx < 0 || idx >= len(e.Signatures) {
		return false
	}
	hash := e.Hash()
	return ed25519.Verify(pub, hash[:], e.Signatures[idx].Signature)
}
