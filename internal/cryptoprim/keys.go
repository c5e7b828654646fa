package cryptoprim

import (
	"crypto/rand"
	"fmt"

	"github.com/gtank/ristretto255"

	"github.com/botho-project/botho/internal/types"
)

// KeyPair is a Ristretto255 scalar/point pair: a view or spend key, a
// validator identity, or a minter identity, depending on context.
type KeyPair struct {
	Private *ristretto255.Scalar
	Public  *ristretto255.Element
}

// GenerateKeyPair draws a fresh uniformly random private scalar and derives
// its public point.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := RandomBlindingFactor()
	if err != nil {
		return nil, fmt.Errorf("cryptoprim: generate key pair: %w", err)
	}
	pub := ristretto255.NewElement().ScalarMult(priv, ristretto255.NewElement().Base())
	return &KeyPair{Private: priv, Public: pub}, nil
}

// PublicKey encodes the pair's public point into the wire type.
func (kp *KeyPair) PublicKey() types.PublicKey {
	return EncodePublicKey(kp.Public)
}

// WalletKeys holds the view/spend keypair a wallet uses for stealth address
// generation and scanning.
type WalletKeys struct {
	View  *KeyPair
	Spend *KeyPair
}

// GenerateWalletKeys creates a fresh view/spend keypair.
func GenerateWalletKeys() (*WalletKeys, error) {
	view, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	spend, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &WalletKeys{View: view, Spend: spend}, nil
}

// StealthOutput is the recipient-facing result of deriving a one-time
// output key for a payment: the target key to embed in the output, and the
// ephemeral key the sender publishes alongside it.
type StealthOutput struct {
	TargetKey    types.PublicKey
	EphemeralKey types.PublicKey
}

// DeriveStealthOutput computes a one-time target key for a recipient given
// their view and spend public keys: shared = Hs(r*A)*G, target = B + shared
// where r is a fresh ephemeral scalar, A is the recipient's view key, and B
// is the recipient's spend key.
func DeriveStealthOutput(recipientView, recipientSpend types.PublicKey) (*StealthOutput, *ristretto255.Scalar, error) {
	ephemeral, err := GenerateKeyPair()
	if err != nil {
		return nil, nil, err
	}

	viewPoint, err := DecodePoint([32]byte(recipientView))
	if err != nil {
		return nil, nil, fmt.Errorf("cryptoprim: decode recipient view key: %w", err)
	}
	spendPoint, err := DecodePoint([32]byte(recipientSpend))
	if err != nil {
		return nil, nil, fmt.Errorf("cryptoprim: decode recipient spend key: %w", err)
	}

	shared := ristretto255.NewElement().ScalarMult(ephemeral.Private, viewPoint)
	sharedScalar := HashToScalar(domainStealth, shared.Encode(nil))
	sharedPoint := ristretto255.NewElement().ScalarMult(sharedScalar, ristretto255.NewElement().Base())
	target := ristretto255.NewElement().Add(spendPoint, sharedPoint)

	return &StealthOutput{
		TargetKey:    EncodePublicKey(target),
		EphemeralKey: ephemeral.PublicKey(),
	}, ephemeral.Private, nil
}

// DeriveSpendScalar recovers the one-time private scalar for an output the
// wallet's view/spend keys own: x' = Hs(a*R) + b where a is the view
// private scalar, R is the output's ephemeral key, and b is the spend
// private scalar.
func (wk *WalletKeys) DeriveSpendScalar(ephemeralKey types.PublicKey) (*ristretto255.Scalar, error) {
	ephemeralPoint, err := DecodePoint([32]byte(ephemeralKey))
	if err != nil {
		return nil, fmt.Errorf("cryptoprim: decode ephemeral key: %w", err)
	}
	shared := ristretto255.NewElement().ScalarMult(wk.View.Private, ephemeralPoint)
	sharedScalar := HashToScalar(domainStealth, shared.Encode(nil))
	return ristretto255.NewScalar().Add(sharedScalar, wk.Spend.Private), nil
}

// OwnsOutput reports whether this wallet's keys produced the given output's
// target key, by recomputing the stealth derivation and comparing.
func (wk *WalletKeys) OwnsOutput(targetKey, ephemeralKey types.PublicKey) (bool, error) {
	ephemeralPoint, err := DecodePoint([32]byte(ephemeralKey))
	if err != nil {
		return false, err
	}
	shared := ristretto255.NewElement().ScalarMult(wk.View.Private, ephemeralPoint)
	sharedScalar := HashToScalar(domainStealth, shared.Encode(nil))
	sharedPoint := ristretto255.NewElement().ScalarMult(sharedScalar, ristretto255.NewElement().Base())
	expected := ristretto255.NewElement().Add(wk.Spend.Public, sharedPoint)

	target, err := DecodePoint([32]byte(targetKey))
	if err != nil {
		return false, err
	}
	return expected.Equal(target) == 1, nil
}

// KeyImage derives the unique double-spend tag for an output: I = x *
// Hp(P) where x is the output's one-time private scalar and P is its
// target public key.
func KeyImage(oneTimePriv *ristretto255.Scalar, targetKey types.PublicKey) types.KeyImage {
	hp := HashToPoint(domainKeyImage, targetKey[:])
	img := ristretto255.NewElement().ScalarMult(oneTimePriv, hp)
	var out types.KeyImage
	copy(out[:], img.Encode(nil))
	return out
}

// RandomNonce draws a fresh uniformly random 32-byte value, used for
// ephemeral ring-signature commitments.
func RandomNonce() ([32]byte, error) {
	var b [32]byte
	_, err := rand.Read(b[:])
	return b, err
}
