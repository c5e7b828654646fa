// Package ledger persists applied blocks and the UTXO set in BadgerDB,
// enforcing the chain's append-only invariants atomically on every apply.
package ledger

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"github.com/gtank/ristretto255"

	"github.com/botho-project/botho/internal/cryptoprim"
	"github.com/botho-project/botho/internal/errkind"
	"github.com/botho-project/botho/internal/types"
)

const (
	prefixBlockByHeight = 'B'
	prefixOutputByKey   = 'U'
	prefixKeyImage      = 'K'
	prefixTxIndex       = 'T'
	tipKey              = "tip"
)

// Store is the sole writer of the ledger's persistent state. All mutation
// goes through Apply, which commits one block's worth of changes in a
// single BadgerDB transaction, so readers never observe a half-applied
// block.
type Store struct {
	db *badger.DB

	mu         sync.RWMutex
	tipHeight  uint64
	tipHash    types.Hash
	hasGenesis bool
}

// Open opens or creates the Badger-backed ledger store at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("ledger: open store: %w", err)
	}

	s := &Store{db: db}
	if err := s.loadTip(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) loadTip() error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(tipKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 40 {
				return fmt.Errorf("ledger: corrupt tip record, want 40 bytes got %d", len(val))
			}
			s.tipHeight = binary.BigEndian.Uint64(val[:8])
			copy(s.tipHash[:], val[8:])
			s.hasGenesis = true
			return nil
		})
	})
}

// Tip returns the height and hash of the most recently applied block, and
// whether any block has been applied yet.
func (s *Store) Tip() (height uint64, hash types.Hash, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tipHeight, s.tipHash, s.hasGenesis
}

// TipHeight returns the current tip height, satisfying validator.Snapshot.
func (s *Store) TipHeight() uint64 {
	height, _, _ := s.Tip()
	return height
}

func blockKey(height uint64) []byte {
	key := make([]byte, 9)
	key[0] = prefixBlockByHeight
	binary.BigEndian.PutUint64(key[1:], height)
	return key
}

func outputKey(targetKey types.PublicKey) []byte {
	key := make([]byte, 33)
	key[0] = prefixOutputByKey
	copy(key[1:], targetKey[:])
	return key
}

func keyImageKey(ki types.KeyImage) []byte {
	key := make([]byte, 33)
	key[0] = prefixKeyImage
	copy(key[1:], ki[:])
	return key
}

func txIndexKey(hash types.Hash) []byte {
	key := make([]byte, 33)
	key[0] = prefixTxIndex
	copy(key[1:], hash[:])
	return key
}

// Apply validates a block's placement against the current tip and commits
// every resulting UTXO insertion, key-image spend, and transaction index
// entry atomically. It returns a classified error on any
// rejection, never a partially-applied block.
func (s *Store) Apply(block *types.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasGenesis {
		if block.Header.PrevHash != s.tipHash {
			return errkind.Wrap(errkind.Stale, "block prev_hash does not match tip",
				fmt.Errorf("want %s got %s", s.tipHash, block.Header.PrevHash))
		}
		if block.Header.Height != s.tipHeight+1 {
			return errkind.New(errkind.Structural, fmt.Sprintf(
				"block height %d is not tip+1 (%d)", block.Header.Height, s.tipHeight+1))
		}
	} else {
		if block.Header.Height != 0 {
			return errkind.New(errkind.Structural, "first applied block must be height 0")
		}
		if block.Header.PrevHash != cryptoprim.GenesisPrevHash {
			return errkind.New(errkind.Structural, "genesis block prev_hash is not the genesis sentinel")
		}
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(blockKey(block.Header.Height)); err == nil {
			return errkind.ErrAlreadyApplied
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return errkind.Wrap(errkind.TransientIO, "read existing block", err)
		}

		seenKeyImages := make(map[types.KeyImage]struct{})
		seenOutputKeys := make(map[types.PublicKey]struct{})

		for _, tx := range block.Transactions {
			for _, in := range tx.Prefix.Inputs {
				if _, dup := seenKeyImages[in.KeyImage]; dup {
					return errkind.ErrConflictingKeyImage
				}
				seenKeyImages[in.KeyImage] = struct{}{}

				if _, err := txn.Get(keyImageKey(in.KeyImage)); err == nil {
					return errkind.ErrKeyImageCollision
				} else if !errors.Is(err, badger.ErrKeyNotFound) {
					return errkind.Wrap(errkind.TransientIO, "read key image", err)
				}
			}

			for _, out := range tx.Prefix.Outputs {
				if _, dup := seenOutputKeys[out.TargetKey]; dup {
					return errkind.ErrOutputKeyCollision
				}
				seenOutputKeys[out.TargetKey] = struct{}{}

				if _, err := txn.Get(outputKey(out.TargetKey)); err == nil {
					return errkind.ErrOutputKeyCollision
				} else if !errors.Is(err, badger.ErrKeyNotFound) {
					return errkind.Wrap(errkind.TransientIO, "read output key", err)
				}
			}
		}

		if reward := RewardOutput(block); reward != nil {
			if _, dup := seenOutputKeys[reward.TargetKey]; dup {
				return errkind.ErrOutputKeyCollision
			}
			if _, err := txn.Get(outputKey(reward.TargetKey)); err == nil {
				return errkind.ErrOutputKeyCollision
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return errkind.Wrap(errkind.TransientIO, "read reward output key", err)
			}
		}

		if err := txn.Set(blockKey(block.Header.Height), types.EncodeBlock(block)); err != nil {
			return errkind.Wrap(errkind.TransientIO, "write block", err)
		}

		for txOffset, tx := range block.Transactions {
			for _, in := range tx.Prefix.Inputs {
				heightBytes := make([]byte, 8)
				binary.BigEndian.PutUint64(heightBytes, block.Header.Height)
				if err := txn.Set(keyImageKey(in.KeyImage), heightBytes); err != nil {
					return errkind.Wrap(errkind.TransientIO, "write key image", err)
				}
			}

			for _, out := range tx.Prefix.Outputs {
				o := types.Output{
					TargetKey:    out.TargetKey,
					EphemeralKey: out.EphemeralKey,
					KEMCipher:    out.KEMCipher,
					Commitment:   out.Commitment,
					MaskedValue:  out.MaskedValue,
					Memo:         out.Memo,
					Height:       block.Header.Height,
				}
				if err := txn.Set(outputKey(out.TargetKey), encodeOutput(&o)); err != nil {
					return errkind.Wrap(errkind.TransientIO, "write output", err)
				}
			}

			indexVal := make([]byte, 12)
			binary.BigEndian.PutUint64(indexVal[:8], block.Header.Height)
			binary.BigEndian.PutUint32(indexVal[8:], uint32(txOffset))
			if err := txn.Set(txIndexKey(tx.Hash()), indexVal); err != nil {
				return errkind.Wrap(errkind.TransientIO, "write tx index", err)
			}
		}

		if reward := RewardOutput(block); reward != nil {
			if err := txn.Set(outputKey(reward.TargetKey), encodeOutput(reward)); err != nil {
				return errkind.Wrap(errkind.TransientIO, "write reward output", err)
			}
		}

		tipVal := make([]byte, 40)
		binary.BigEndian.PutUint64(tipVal[:8], block.Header.Height)
		tipHash := block.Header.Hash()
		copy(tipVal[8:], tipHash[:])
		if err := txn.Set([]byte(tipKey), tipVal); err != nil {
			return errkind.Wrap(errkind.TransientIO, "write tip", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.tipHeight = block.Header.Height
	s.tipHash = block.Header.Hash()
	s.hasGenesis = true
	return nil
}

// RewardOutput materializes the minting reward as a UTXO entry. The
// commitment uses a zero blinding factor so any verifier can recompute it
// from the attested reward amount; the masked value carries the amount in
// the clear. Genesis and sync-replayed blocks with an all-zero attestation
// target mint nothing.
func RewardOutput(block *types.Block) *types.Output {
	att := &block.Attestation
	if att.TargetKey == (types.PublicKey{}) {
		return nil
	}
	commit := cryptoprim.Commit(att.Reward, ristretto255.NewScalar())
	var masked types.MaskedValue
	binary.LittleEndian.PutUint64(masked[:], att.Reward)
	return &types.Output{
		TargetKey:    att.TargetKey,
		EphemeralKey: att.EphemeralKey,
		KEMCipher:    att.KEMCipher,
		Commitment:   cryptoprim.EncodeCommitment(commit),
		MaskedValue:  masked,
		Height:       block.Header.Height,
	}
}

// KeyImageExists reports whether a key image has already been spent by an
// applied block.
func (s *Store) KeyImageExists(ki types.KeyImage) (bool, error) {
	exists := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(keyImageKey(ki))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		return false, errkind.Wrap(errkind.TransientIO, "key image lookup", err)
	}
	return exists, nil
}

// Membership reports, for each given output target key, whether it exists
// in the UTXO set, used by the validator to check ring membership.
func (s *Store) Membership(targetKeys []types.PublicKey) (map[types.PublicKey]bool, error) {
	result := make(map[types.PublicKey]bool, len(targetKeys))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, k := range targetKeys {
			_, err := txn.Get(outputKey(k))
			if errors.Is(err, badger.ErrKeyNotFound) {
				result[k] = false
				continue
			}
			if err != nil {
				return err
			}
			result[k] = true
		}
		return nil
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.TransientIO, "membership lookup", err)
	}
	return result, nil
}

// Output retrieves one UTXO entry by its target key, used to recover a
// ring member's commitment during validation.
func (s *Store) Output(targetKey types.PublicKey) (*types.Output, bool, error) {
	var out *types.Output
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(outputKey(targetKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			decoded, derr := decodeOutput(val)
			if derr != nil {
				return derr
			}
			out = decoded
			return nil
		})
	})
	if err != nil {
		return nil, false, errkind.Wrap(errkind.TransientIO, "output lookup", err)
	}
	return out, out != nil, nil
}

// SampleOutputs draws up to count distinct UTXO entries uniformly at
// random, used to populate ring decoys. Entries whose target key is in
// exclude are skipped.
func (s *Store) SampleOutputs(count int, exclude map[types.PublicKey]bool) ([]types.RingMember, error) {
	var reservoir []types.RingMember
	seen := 0

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{prefixOutputByKey}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			if len(key) != 33 {
				continue
			}
			var target types.PublicKey
			copy(target[:], key[1:])
			if exclude[target] {
				continue
			}

			var member types.RingMember
			if err := item.Value(func(val []byte) error {
				out, derr := decodeOutput(val)
				if derr != nil {
					return derr
				}
				member = types.RingMember{TargetKey: out.TargetKey, Commitment: out.Commitment}
				return nil
			}); err != nil {
				return err
			}

			seen++
			if len(reservoir) < count {
				reservoir = append(reservoir, member)
				continue
			}
			j, err := randIntn(seen)
			if err != nil {
				return err
			}
			if j < count {
				reservoir[j] = member
			}
		}
		return nil
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.TransientIO, "sample outputs", err)
	}
	return reservoir, nil
}

// randIntn draws a uniform integer in [0, n) from the system entropy
// source; bias from the modulo is negligible for decoy selection.
func randIntn(n int) (int, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return int(binary.LittleEndian.Uint64(buf[:]) % uint64(n)), nil
}

// GetBlock retrieves an applied block by height.
func (s *Store) GetBlock(height uint64) (*types.Block, error) {
	var block *types.Block
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(height))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			decoded, derr := types.DecodeBlock(val)
			if derr != nil {
				return derr
			}
			block = decoded
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errkind.New(errkind.Structural, fmt.Sprintf("no block at height %d", height))
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.TransientIO, "get block", err)
	}
	return block, nil
}

// TransactionLocation reports the (height, offset) of an applied
// transaction by hash, if present.
func (s *Store) TransactionLocation(hash types.Hash) (height uint64, offset uint32, found bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, getErr := txn.Get(txIndexKey(hash))
		if errors.Is(getErr, badger.ErrKeyNotFound) {
			return nil
		}
		if getErr != nil {
			return getErr
		}
		return item.Value(func(val []byte) error {
			if len(val) != 12 {
				return fmt.Errorf("ledger: corrupt tx index record")
			}
			height = binary.BigEndian.Uint64(val[:8])
			offset = binary.BigEndian.Uint32(val[8:])
			found = true
			return nil
		})
	})
	if err != nil {
		return 0, 0, false, errkind.Wrap(errkind.TransientIO, "transaction location lookup", err)
	}
	return height, offset, found, nil
}
