package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/ed25519"

	"github.com/botho-project/botho/internal/cryptoprim"
	"github.com/botho-project/botho/internal/types"
)

// identity is the node's two signing roles: the Ed25519 validator key that
// authenticates consensus messages, and the Dilithium3 key that signs
// minting attestations.
type identity struct {
	validatorPriv ed25519.PrivateKey
	validatorPub  types.PublicKey
	pqPub         types.PQVerifyKey
	pqPriv        *mode3.PrivateKey
}

type identityFile struct {
	ValidatorPrivate string `json:"validator_private"`
	PQPublic         string `json:"pq_public"`
	PQPrivate        string `json:"pq_private"`
}

func generateIdentity() (*identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	pqPub, pqPriv, err := cryptoprim.PQGenerateKeyPair()
	if err != nil {
		return nil, err
	}

	ident := &identity{validatorPriv: priv, pqPub: pqPub, pqPriv: pqPriv}
	copy(ident.validatorPub[:], pub)
	return ident, nil
}

func (i *identity) save(path string) error {
	f := identityFile{
		ValidatorPrivate: hex.EncodeToString(i.validatorPriv),
		PQPublic:         hex.EncodeToString(i.pqPub[:]),
		PQPrivate:        hex.EncodeToString(i.pqPriv.Bytes()),
	}
	data, err := json.MarshalIndent(&f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func loadIdentity(path string) (*identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read identity file: %w", err)
	}
	var f identityFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse identity file: %w", err)
	}

	privRaw, err := hex.DecodeString(f.ValidatorPrivate)
	if err != nil || len(privRaw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("bad validator private key in identity file")
	}
	pqPubRaw, err := hex.DecodeString(f.PQPublic)
	if err != nil {
		return nil, fmt.Errorf("bad pq public key in identity file")
	}
	pqPrivRaw, err := hex.DecodeString(f.PQPrivate)
	if err != nil {
		return nil, fmt.Errorf("bad pq private key in identity file")
	}

	ident := &identity{validatorPriv: ed25519.PrivateKey(privRaw)}
	pub := ident.validatorPriv.Public().(ed25519.PublicKey)
	copy(ident.validatorPub[:], pub)

	if len(pqPubRaw) != len(ident.pqPub) {
		return nil, fmt.Errorf("pq public key has wrong length %d", len(pqPubRaw))
	}
	copy(ident.pqPub[:], pqPubRaw)

	ident.pqPriv = new(mode3.PrivateKey)
	if err := ident.pqPriv.UnmarshalBinary(pqPrivRaw); err != nil {
		return nil, fmt.Errorf("unmarshal pq private key: %w", err)
	}
	return ident, nil
}
