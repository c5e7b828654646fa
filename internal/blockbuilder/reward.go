package blockbuilder

// initialReward is the minting payout at genesis: 50 BTH in picocredits.
const initialReward = 50_000_000_000_000

// halvingInterval is the block count between reward halvings.
const halvingInterval = 2_100_000

// BlockReward returns the minting reward a valid attestation must claim at
// the given height.
func BlockReward(height uint64) uint64 {
	shift := height / halvingInterval
	if shift >= 64 {
		return 0
	}
	return initialReward >> shift
}
