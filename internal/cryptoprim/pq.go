package cryptoprim

import (
	"crypto/rand"
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode3"

	"github.com/botho-project/botho/internal/types"
)

// kemScheme is resolved once; KyberEncapsulate/KyberDecapsulate below defer
// to the package's generic kem.Scheme interface rather than importing the
// kyber768 concrete types directly, matching circl's own recommended usage.
var kemScheme = kyberScheme()

// KyberEncapsulate produces a fresh Kyber768 ciphertext and shared secret
// for a recipient's KEM public key, sized to the KEMCiphertext wire type's
// exact 1088-byte length.
func KyberEncapsulate(recipientPub []byte) (ciphertext types.KEMCiphertext, sharedSecret []byte, err error) {
	pk, err := kemScheme.UnmarshalBinaryPublicKey(recipientPub)
	if err != nil {
		return ciphertext, nil, fmt.Errorf("cryptoprim: unmarshal kyber public key: %w", err)
	}

	ct, ss, err := kemScheme.Encapsulate(pk)
	if err != nil {
		return ciphertext, nil, fmt.Errorf("cryptoprim: kyber encapsulate: %w", err)
	}
	if len(ct) != len(ciphertext) {
		return ciphertext, nil, fmt.Errorf("cryptoprim: unexpected kyber ciphertext size %d", len(ct))
	}
	copy(ciphertext[:], ct)
	return ciphertext, ss, nil
}

// KyberDecapsulate recovers the shared secret from a received ciphertext
// using the recipient's private key.
func KyberDecapsulate(priv []byte, ciphertext types.KEMCiphertext) ([]byte, error) {
	sk, err := kemScheme.UnmarshalBinaryPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("cryptoprim: unmarshal kyber private key: %w", err)
	}
	return kemScheme.Decapsulate(sk, ciphertext[:])
}

// KyberGenerateKeyPair creates a fresh Kyber768 KEM key pair for a wallet's
// output-encryption identity.
func KyberGenerateKeyPair() (pub, priv []byte, err error) {
	pk, sk, err := kemScheme.GenerateKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("cryptoprim: generate kyber key pair: %w", err)
	}
	pubBytes, err := pk.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	privBytes, err := sk.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	return pubBytes, privBytes, nil
}

// PQGenerateKeyPair creates a fresh Dilithium3/ML-DSA-65 signing key pair
// for a minter's attestation identity, sized to the PQVerifyKey wire type's
// 1952-byte public key length.
func PQGenerateKeyPair() (pub types.PQVerifyKey, priv *mode3.PrivateKey, err error) {
	pk, sk, err := mode3.GenerateKey(rand.Reader)
	if err != nil {
		return pub, nil, fmt.Errorf("cryptoprim: generate dilithium key pair: %w", err)
	}
	packedPub := pk.Bytes()
	if len(packedPub) != len(pub) {
		return pub, nil, fmt.Errorf("cryptoprim: unexpected dilithium public key size %d", len(packedPub))
	}
	copy(pub[:], packedPub)
	return pub, sk, nil
}

// PQSign produces a Dilithium3 signature over a minting attestation's
// unsigned encoding. The
// returned slice's length may differ from the nominal 3309 B wire
// constant; see DESIGN.md for the size discrepancy note.
func PQSign(priv *mode3.PrivateKey, message []byte) types.PQSignature {
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(priv, message, sig)
	return types.PQSignature(sig)
}

// PQVerify checks a Dilithium3 minting attestation signature against the
// minter's declared verify key.
func PQVerify(pub types.PQVerifyKey, message []byte, signature types.PQSignature) (bool, error) {
	pk := new(mode3.PublicKey)
	if err := pk.UnmarshalBinary(pub[:]); err != nil {
		return false, fmt.Errorf("cryptoprim: unmarshal dilithium public key: %w", err)
	}
	return mode3.Verify(pk, message, signature), nil
}
