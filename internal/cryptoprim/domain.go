// Package cryptoprim implements every cryptographic primitive the rest of
// the node relies on: Ristretto255 group arithmetic and hashing, CLSAG-style
// linkable ring signatures, Pedersen commitments and the aggregate balance
// check, aggregated range proof verification, proof-of-work difficulty
// checks, and the two post-quantum operations (Kyber768 encapsulation,
// Dilithium3 attestation signing).
// Every hash used as a Fiat-Shamir challenge or key derivation input is
// domain-separated by one of the tags below, so a transcript from one
// protocol can never be replayed as a valid transcript in another.
package cryptoprim

const (
	domainAmountValue    = "mc_amount_value"
	domainAmountBlinding = "mc_amount_blinding"
	domainCLSAGRound     = "CLSAG_round"
	domainCLSAGAggP      = "CLSAG_agg_P"
	domainCLSAGAggC      = "CLSAG_agg_C"
	domainBulletproof    = "mc_bulletproof_transcript"
	domainPedersenH      = "botho_pedersen_H"
	domainKeyImage       = "botho_key_image"
	domainStealth        = "botho_stealth_derive"
)
