// Package wallet holds the view/spend and KEM identities a node spends and
// receives with, scans applied blocks for owned outputs, and assembles
// ring-signed confidential transfer transactions.
package wallet

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/gtank/ristretto255"

	"github.com/botho-project/botho/internal/cryptoprim"
	"github.com/botho-project/botho/internal/types"
)

// OwnedOutput is one spendable (or already spent) UTXO this wallet's keys
// control, with the secrets recovered at scan time: the plaintext amount,
// the commitment blinding, and the one-time private scalar the ring
// signature needs.
type OwnedOutput struct {
	TargetKey   types.PublicKey
	Commitment  types.Commitment
	Value       uint64
	Blinding    *ristretto255.Scalar
	OneTimePriv *ristretto255.Scalar
	KeyImage    types.KeyImage
	Height      uint64
	Spent       bool
}

// Wallet is the spending identity plus the set of owned outputs discovered
// by scanning. All methods are safe for concurrent use.
type Wallet struct {
	keys       *cryptoprim.WalletKeys
	kemPublic  []byte
	kemPrivate []byte

	mu            sync.Mutex
	owned         map[types.PublicKey]*OwnedOutput
	byKeyImage    map[types.KeyImage]types.PublicKey
	scannedHeight uint64
	hasScanned    bool
}

// Generate creates a wallet with fresh view/spend and Kyber identities.
func Generate() (*Wallet, error) {
	keys, err := cryptoprim.GenerateWalletKeys()
	if err != nil {
		return nil, err
	}
	kemPub, kemPriv, err := cryptoprim.KyberGenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &Wallet{
		keys:       keys,
		kemPublic:  kemPub,
		kemPrivate: kemPriv,
		owned:      make(map[types.PublicKey]*OwnedOutput),
		byKeyImage: make(map[types.KeyImage]types.PublicKey),
	}, nil
}

// keyFile is the on-disk JSON layout; every secret is hex-encoded.
type keyFile struct {
	ViewPrivate  string `json:"view_private"`
	SpendPrivate string `json:"spend_private"`
	KEMPublic    string `json:"kem_public"`
	KEMPrivate   string `json:"kem_private"`
}

// Save writes the wallet's secret keys to path with owner-only permissions.
func (w *Wallet) Save(path string) error {
	kf := keyFile{
		ViewPrivate:  hex.EncodeToString(w.keys.View.Private.Encode(nil)),
		SpendPrivate: hex.EncodeToString(w.keys.Spend.Private.Encode(nil)),
		KEMPublic:    hex.EncodeToString(w.kemPublic),
		KEMPrivate:   hex.EncodeToString(w.kemPrivate),
	}
	data, err := json.MarshalIndent(&kf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Load reads a wallet key file written by Save.
func Load(path string) (*Wallet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wallet: read key file: %w", err)
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("wallet: parse key file: %w", err)
	}

	viewPriv, err := decodeScalarHex(kf.ViewPrivate)
	if err != nil {
		return nil, fmt.Errorf("wallet: view key: %w", err)
	}
	spendPriv, err := decodeScalarHex(kf.SpendPrivate)
	if err != nil {
		return nil, fmt.Errorf("wallet: spend key: %w", err)
	}
	kemPub, err := hex.DecodeString(kf.KEMPublic)
	if err != nil {
		return nil, fmt.Errorf("wallet: kem public key: %w", err)
	}
	kemPriv, err := hex.DecodeString(kf.KEMPrivate)
	if err != nil {
		return nil, fmt.Errorf("wallet: kem private key: %w", err)
	}

	base := ristretto255.NewElement().Base()
	keys := &cryptoprim.WalletKeys{
		View: &cryptoprim.KeyPair{
			Private: viewPriv,
			Public:  ristretto255.NewElement().ScalarMult(viewPriv, base),
		},
		Spend: &cryptoprim.KeyPair{
			Private: spendPriv,
			Public:  ristretto255.NewElement().ScalarMult(spendPriv, base),
		},
	}
	return &Wallet{
		keys:       keys,
		kemPublic:  kemPub,
		kemPrivate: kemPriv,
		owned:      make(map[types.PublicKey]*OwnedOutput),
		byKeyImage: make(map[types.KeyImage]types.PublicKey),
	}, nil
}

func decodeScalarHex(s string) (*ristretto255.Scalar, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	sc := ristretto255.NewScalar()
	if err := sc.Decode(raw); err != nil {
		return nil, err
	}
	return sc, nil
}

// Address returns this wallet's public receiving address.
func (w *Wallet) Address() Address {
	return Address{
		View:      cryptoprim.EncodePublicKey(w.keys.View.Public),
		Spend:     cryptoprim.EncodePublicKey(w.keys.Spend.Public),
		KEMPublic: w.kemPublic,
	}
}

// Balance sums the value of all unspent owned outputs.
func (w *Wallet) Balance() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var total uint64
	for _, o := range w.owned {
		if !o.Spent {
			total += o.Value
		}
	}
	return total
}

// UnspentOutputs returns the wallet's spendable outputs, largest first.
func (w *Wallet) UnspentOutputs() []*OwnedOutput {
	w.mu.Lock()
	defer w.mu.Unlock()
	var outs []*OwnedOutput
	for _, o := range w.owned {
		if !o.Spent {
			outs = append(outs, o)
		}
	}
	sort.Slice(outs, func(i, j int) bool { return outs[i].Value > outs[j].Value })
	return outs
}

// ScannedHeight reports the highest block height the wallet has scanned,
// and whether any block has been scanned yet.
func (w *Wallet) ScannedHeight() (uint64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.scannedHeight, w.hasScanned
}
