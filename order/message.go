package order

import (
	"strconv"

	"github.com/ethereum/go-ethereum/crypto"
)

// OrderMessageDomain is the version prefix of the canonical message. Bumping
// the version invalidates all previously issued signatures.
const OrderMessageDomain = "zkdelegate-order-v1:"

// CanonicalMessageLen is the fixed length of the canonical message: the
// domain prefix followed by the compressed target account.
const CanonicalMessageLen = len(OrderMessageDomain) + CompressedTargetLen

const personalSignPrefix = "\x19Ethereum Signed Message:\n"

// EnvelopeLen is the fixed length of the signing envelope. The canonical
// message length is constant, so its decimal rendering in the envelope is
// always two digits and the envelope length never varies.
const EnvelopeLen = len(personalSignPrefix) + 2 + CanonicalMessageLen

// CanonicalMessage renders the byte string a signer commits to:
//
//	domain prefix || compressed target (33 bytes)
//
// The message deliberately excludes the signer key. Any secp256k1 key signs
// the same bytes for a given target, which is what lets the signature check
// and the order identity stay independent concerns.
func CanonicalMessage(o *DelegationOrder) []byte {
	msg := make([]byte, 0, CanonicalMessageLen)
	msg = append(msg, OrderMessageDomain...)
	compressed := o.Target.Compressed()
	msg = append(msg, compressed[:]...)
	return msg
}

// EnvelopeHeader returns the constant leading bytes shared by every signing
// envelope: the personal-sign prefix, the two decimal length digits and the
// domain prefix. Only the compressed target varies between envelopes.
func EnvelopeHeader() []byte {
	hdr := make([]byte, 0, EnvelopeLen-CompressedTargetLen)
	hdr = append(hdr, personalSignPrefix...)
	hdr = append(hdr, strconv.Itoa(CanonicalMessageLen)...)
	hdr = append(hdr, OrderMessageDomain...)
	return hdr
}

// SigningEnvelope wraps the canonical message in the personal-sign envelope:
//
//	"\x19Ethereum Signed Message:\n" || decimal message length || message
//
// Wallet tooling that implements personal_sign produces exactly this byte
// string before hashing, so orders can be authorized by stock signers.
func SigningEnvelope(o *DelegationOrder) []byte {
	env := append(make([]byte, 0, EnvelopeLen), EnvelopeHeader()...)
	compressed := o.Target.Compressed()
	env = append(env, compressed[:]...)
	return env
}

// SigningDigest is the keccak256 hash of the signing envelope. This is the
// 32-byte value the secp256k1 signature is verified against, both natively
// and inside the circuits.
func SigningDigest(o *DelegationOrder) [32]byte {
	var out [32]byte
	copy(out[:], crypto.Keccak256(SigningEnvelope(o)))
	return out
}
