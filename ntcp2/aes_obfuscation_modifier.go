package ntcp2

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/go-i2p/ntcp2router/handshake"
	"github.com/samber/oops"
)

// AESObfuscationModifier implements NTCP2's AES-256-CBC obfuscation of the
// ephemeral X25519 keys carried in SessionRequest and SessionCreated.
//
// The cipher state is a single CBC stream: X is encrypted under the
// published router IV, and the last ciphertext block of that encryption
// becomes the IV for encrypting Y in the following message. Messages 3
// and later carry no obfuscated key material and pass through untouched.
type AESObfuscationModifier struct {
	name       string
	routerHash []byte // 32-byte key: responder's router hash (RH_B)
	iv         []byte // 16-byte IV published in the responder's RouterInfo
	chainedIV  []byte // last ciphertext block from message 1, used as IV for message 2
}

// NewAESObfuscationModifier creates a new AES obfuscation modifier for NTCP2.
// routerHash must be 32 bytes (RH_B), iv must be 16 bytes from the network database.
func NewAESObfuscationModifier(name string, routerHash, iv []byte) (*AESObfuscationModifier, error) {
	if len(routerHash) != 32 {
		return nil, oops.
			Code("INVALID_ROUTER_HASH").
			In("ntcp2").
			With("hash_length", len(routerHash)).
			Errorf("router hash must be exactly 32 bytes")
	}

	if len(iv) != 16 {
		return nil, oops.
			Code("INVALID_IV").
			In("ntcp2").
			With("iv_length", len(iv)).
			Errorf("IV must be exactly 16 bytes")
	}

	hash := make([]byte, 32)
	copy(hash, routerHash)

	initIV := make([]byte, 16)
	copy(initIV, iv)

	return &AESObfuscationModifier{
		name:       name,
		routerHash: hash,
		iv:         initIV,
	}, nil
}

// ivForPhase returns the CBC IV to use for the given handshake phase, and
// records the chaining state that the next phase will need.
func (aom *AESObfuscationModifier) ivForPhase(phase handshake.HandshakePhase) ([]byte, error) {
	switch phase {
	case handshake.PhaseInitial:
		return aom.iv, nil
	case handshake.PhaseExchange:
		if aom.chainedIV == nil {
			return nil, oops.
				Code("MISSING_AES_STATE").
				In("ntcp2").
				With("modifier_name", aom.name).
				Errorf("AES chaining state not available for message 2")
		}
		return aom.chainedIV, nil
	default:
		return nil, nil
	}
}

// ModifyOutbound applies AES obfuscation to ephemeral keys in handshake messages.
// For message 1: encrypts X with RH_B and the published IV.
// For message 2: encrypts Y with RH_B and the chained IV saved from message 1.
func (aom *AESObfuscationModifier) ModifyOutbound(phase handshake.HandshakePhase, data []byte) ([]byte, error) {
	if len(data) != 32 {
		return data, nil
	}

	iv, err := aom.ivForPhase(phase)
	if err != nil {
		return nil, err
	}
	if iv == nil {
		return data, nil
	}

	block, err := aes.NewCipher(aom.routerHash)
	if err != nil {
		return nil, oops.
			Code("AES_CIPHER_CREATION_FAILED").
			In("ntcp2").
			With("modifier_name", aom.name).
			Wrap(err)
	}

	result := make([]byte, 32)
	copy(result, data)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(result, result)

	if phase == handshake.PhaseInitial {
		aom.chainedIV = append([]byte(nil), result[16:32]...)
	}

	return result, nil
}

// ModifyInbound removes AES obfuscation from ephemeral keys in handshake messages.
func (aom *AESObfuscationModifier) ModifyInbound(phase handshake.HandshakePhase, data []byte) ([]byte, error) {
	if len(data) != 32 {
		return data, nil
	}

	iv, err := aom.ivForPhase(phase)
	if err != nil {
		return nil, err
	}
	if iv == nil {
		return data, nil
	}

	block, err := aes.NewCipher(aom.routerHash)
	if err != nil {
		return nil, oops.
			Code("AES_CIPHER_CREATION_FAILED").
			In("ntcp2").
			With("modifier_name", aom.name).
			Wrap(err)
	}

	result := make([]byte, 32)
	copy(result, data)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(result, result)

	if phase == handshake.PhaseInitial {
		// the chaining IV for message 2 is the *ciphertext*, not the plaintext
		aom.chainedIV = append([]byte(nil), data[16:32]...)
	}

	return result, nil
}

// Name returns the modifier name for logging and debugging.
func (aom *AESObfuscationModifier) Name() string {
	return aom.name
}
