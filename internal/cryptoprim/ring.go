package cryptoprim

import (
	"fmt"

	"github.com/gtank/ristretto255"

	"github.com/botho-project/botho/internal/types"
)

// ringContext is the per-input material the challenge chain walks: the
// aggregated ring slots W_i = mu_P*P_i + mu_C*(C_i - pseudo), the key-image
// base points H_p(P_i), and the aggregated image mu_P*I + mu_C*D.
type ringContext struct {
	slots    [types.RingSize]*ristretto255.Element
	hp       [types.RingSize]*ristretto255.Element
	image    *ristretto255.Element
	muP, muC *ristretto255.Scalar
}

// ringBytes flattens a ring and its pseudo-output commitment into the byte
// string both aggregation coefficients and every round challenge bind.
func ringBytes(in *types.TxInput) []byte {
	buf := make([]byte, 0, types.RingSize*64+32)
	for _, m := range in.Ring {
		buf = append(buf, m.TargetKey[:]...)
		buf = append(buf, m.Commitment[:]...)
	}
	buf = append(buf, in.PseudoCommitment[:]...)
	return buf
}

// newRingContext derives the aggregation coefficients mu_P and mu_C under
// their distinct domain tags over the ring, key image, and commitment key
// image, then folds every ring slot and both images into single points.
func newRingContext(in *types.TxInput, commitmentImage types.Commitment) (*ringContext, error) {
	rb := ringBytes(in)
	muP := HashToScalar(domainCLSAGAggP, rb, in.KeyImage[:], commitmentImage[:])
	muC := HashToScalar(domainCLSAGAggC, rb, in.KeyImage[:], commitmentImage[:])

	pseudo, err := DecodePoint([32]byte(in.PseudoCommitment))
	if err != nil {
		return nil, fmt.Errorf("cryptoprim: decode pseudo commitment: %w", err)
	}

	ctx := &ringContext{muP: muP, muC: muC}
	for i, m := range in.Ring {
		target, derr := DecodePoint([32]byte(m.TargetKey))
		if derr != nil {
			return nil, fmt.Errorf("cryptoprim: decode ring target %d: %w", i, derr)
		}
		commit, derr := DecodePoint([32]byte(m.Commitment))
		if derr != nil {
			return nil, fmt.Errorf("cryptoprim: decode ring commitment %d: %w", i, derr)
		}
		diff := ristretto255.NewElement().Subtract(commit, pseudo)

		pPart := ristretto255.NewElement().ScalarMult(muP, target)
		cPart := ristretto255.NewElement().ScalarMult(muC, diff)
		ctx.slots[i] = ristretto255.NewElement().Add(pPart, cPart)
		ctx.hp[i] = HashToPoint(domainKeyImage, m.TargetKey[:])
	}

	img, err := DecodePoint([32]byte(in.KeyImage))
	if err != nil {
		return nil, fmt.Errorf("cryptoprim: decode key image: %w", err)
	}
	dImg, err := DecodePoint([32]byte(commitmentImage))
	if err != nil {
		return nil, fmt.Errorf("cryptoprim: decode commitment key image: %w", err)
	}
	pImg := ristretto255.NewElement().ScalarMult(muP, img)
	cImg := ristretto255.NewElement().ScalarMult(muC, dImg)
	ctx.image = ristretto255.NewElement().Add(pImg, cImg)

	return ctx, nil
}

// chainPrefix builds the transcript prefix every round challenge re-binds:
// all rings with their pseudo commitments, then the signed message.
func chainPrefix(message []byte, inputs []*types.TxInput) []byte {
	buf := make([]byte, 0, len(message)+len(inputs)*(types.RingSize*64+32))
	for _, in := range inputs {
		buf = append(buf, ringBytes(in)...)
	}
	buf = append(buf, message...)
	return buf
}

// roundChallenge computes c_{i+1} = H("CLSAG_round" || rings || pseudos ||
// m || L_i || R_i), where the L/R pairs of every input share the round.
func roundChallenge(prefix []byte, lr []byte) *ristretto255.Scalar {
	return HashToScalar(domainCLSAGRound, prefix, lr)
}

// VerifyRingSignature checks the aggregate ring signature authenticating
// every input of a transaction at once. message is the transaction's
// signing hash (the SHA-256 digest of its prefix encoding). Verification
// recomputes the per-index challenge chain and accepts iff it closes back
// onto c_0.
func VerifyRingSignature(message []byte, inputs []*types.TxInput, sig *types.RingSignature) (bool, error) {
	if len(inputs) != len(sig.Responses) {
		return false, fmt.Errorf("cryptoprim: %d inputs but %d response vectors", len(inputs), len(sig.Responses))
	}
	if len(inputs) != len(sig.CommitmentImages) {
		return false, fmt.Errorf("cryptoprim: %d inputs but %d commitment images", len(inputs), len(sig.CommitmentImages))
	}
	if len(inputs) == 0 {
		return false, fmt.Errorf("cryptoprim: empty input set")
	}

	ctxs := make([]*ringContext, len(inputs))
	for j, in := range inputs {
		ctx, err := newRingContext(in, sig.CommitmentImages[j])
		if err != nil {
			return false, err
		}
		ctxs[j] = ctx
	}

	c0, err := DecodeScalar(sig.C0)
	if err != nil {
		return false, fmt.Errorf("cryptoprim: decode signature challenge: %w", err)
	}

	prefix := chainPrefix(message, inputs)
	g := ristretto255.NewElement().Base()

	c := c0
	for i := 0; i < types.RingSize; i++ {
		lr := make([]byte, 0, 64*len(inputs))
		for j, ctx := range ctxs {
			s, err := DecodeScalar(sig.Responses[j][i])
			if err != nil {
				return false, fmt.Errorf("cryptoprim: decode response input %d index %d: %w", j, i, err)
			}

			sG := ristretto255.NewElement().ScalarMult(s, g)
			cW := ristretto255.NewElement().ScalarMult(c, ctx.slots[i])
			l := ristretto255.NewElement().Add(sG, cW)

			sHp := ristretto255.NewElement().ScalarMult(s, ctx.hp[i])
			cI := ristretto255.NewElement().ScalarMult(c, ctx.image)
			r := ristretto255.NewElement().Add(sHp, cI)

			lr = append(lr, l.Encode(nil)...)
			lr = append(lr, r.Encode(nil)...)
		}
		c = roundChallenge(prefix, lr)
	}

	return c.Equal(c0) == 1, nil
}

// SignRing produces the aggregate ring signature over message. Every input's
// real spent output must sit at the same ring position realIndex.
// oneTimePrivs[j] is input j's one-time private scalar x (so that the
// input's key image is x*H_p(P)); blindingDiffs[j] is z = r - p, the real
// output's commitment blinding minus the pseudo-output's, making
// C_real - pseudo = z*G. The commitment key images D_j = z_j*H_p(P_real)
// are computed here and returned inside the signature.
func SignRing(message []byte, inputs []*types.TxInput, realIndex int, oneTimePrivs, blindingDiffs []*ristretto255.Scalar) (*types.RingSignature, error) {
	n := len(inputs)
	if n == 0 {
		return nil, fmt.Errorf("cryptoprim: sign ring: empty input set")
	}
	if len(oneTimePrivs) != n || len(blindingDiffs) != n {
		return nil, fmt.Errorf("cryptoprim: sign ring: mismatched input counts")
	}
	if realIndex < 0 || realIndex >= types.RingSize {
		return nil, fmt.Errorf("cryptoprim: sign ring: real index %d out of range", realIndex)
	}

	commitmentImages := make([]types.Commitment, n)
	for j, in := range inputs {
		hpReal := HashToPoint(domainKeyImage, in.Ring[realIndex].TargetKey[:])
		d := ristretto255.NewElement().ScalarMult(blindingDiffs[j], hpReal)
		commitmentImages[j] = EncodeCommitment(d)
	}

	ctxs := make([]*ringContext, n)
	realScalars := make([]*ristretto255.Scalar, n)
	alphas := make([]*ristretto255.Scalar, n)
	responses := make([][types.RingSize]types.Scalar, n)

	for j, in := range inputs {
		ctx, err := newRingContext(in, commitmentImages[j])
		if err != nil {
			return nil, err
		}
		ctxs[j] = ctx

		// W[realIndex] = mu_P*x*G + mu_C*z*G, so its discrete log w.r.t. G
		// (and the image's w.r.t. hp[realIndex]) is mu_P*x + mu_C*z.
		pPart := ristretto255.NewScalar().Multiply(ctx.muP, oneTimePrivs[j])
		cPart := ristretto255.NewScalar().Multiply(ctx.muC, blindingDiffs[j])
		realScalars[j] = ristretto255.NewScalar().Add(pPart, cPart)

		alpha, err := RandomBlindingFactor()
		if err != nil {
			return nil, err
		}
		alphas[j] = alpha
	}

	prefix := chainPrefix(message, inputs)
	g := ristretto255.NewElement().Base()

	// Seed the chain at the real index with the ephemeral alphas, then walk
	// the decoy positions forward with random responses; the real response
	// is solved last so the chain closes exactly.
	lr := make([]byte, 0, 64*n)
	for j := range inputs {
		l := ristretto255.NewElement().ScalarMult(alphas[j], g)
		r := ristretto255.NewElement().ScalarMult(alphas[j], ctxs[j].hp[realIndex])
		lr = append(lr, l.Encode(nil)...)
		lr = append(lr, r.Encode(nil)...)
	}

	challenges := make([]*ristretto255.Scalar, types.RingSize)
	challenges[(realIndex+1)%types.RingSize] = roundChallenge(prefix, lr)

	idx := (realIndex + 1) % types.RingSize
	for steps := 0; steps < types.RingSize-1; steps++ {
		c := challenges[idx]
		lr = lr[:0]
		for j, ctx := range ctxs {
			resp, err := RandomBlindingFactor()
			if err != nil {
				return nil, err
			}
			responses[j][idx] = EncodeScalar(resp)

			sG := ristretto255.NewElement().ScalarMult(resp, g)
			cW := ristretto255.NewElement().ScalarMult(c, ctx.slots[idx])
			l := ristretto255.NewElement().Add(sG, cW)

			sHp := ristretto255.NewElement().ScalarMult(resp, ctx.hp[idx])
			cI := ristretto255.NewElement().ScalarMult(c, ctx.image)
			r := ristretto255.NewElement().Add(sHp, cI)

			lr = append(lr, l.Encode(nil)...)
			lr = append(lr, r.Encode(nil)...)
		}
		nextIdx := (idx + 1) % types.RingSize
		challenges[nextIdx] = roundChallenge(prefix, lr)
		idx = nextIdx
	}

	cReal := challenges[realIndex]
	for j := range inputs {
		cx := ristretto255.NewScalar().Multiply(cReal, realScalars[j])
		s := ristretto255.NewScalar().Subtract(alphas[j], cx)
		responses[j][realIndex] = EncodeScalar(s)
	}

	return &types.RingSignature{
		C0:               EncodeScalar(challenges[0]),
		Responses:        responses,
		CommitmentImages: commitmentImages,
	}, nil
}
