package cryptoprim

import (
	"encoding/binary"
	"fmt"

	"github.com/gtank/ristretto255"

	"github.com/botho-project/botho/internal/types"
)

// rangeProofBits is the bit width every committed amount is proven to lie
// within: [0, 2^64).
const rangeProofBits = 64

// ipaRounds is the depth of the inner-product argument for a 64-bit proof.
const ipaRounds = 6

// rangeProofSize is the fixed wire size of one proof: A, S, T1, T2 (4
// points), tau_x, mu, t_hat (3 scalars), 6 L/R point pairs, and the final
// a, b scalars.
const rangeProofSize = 4*32 + 3*32 + ipaRounds*64 + 2*32

// bpGens holds the fixed generator set of the range-proof protocol, derived
// once under the bulletproof transcript domain. The value base g and
// blinding base h are the same generators the Pedersen commitments use, so
// a proof binds exactly the commitment the balance identity sums.
type bpGens struct {
	g, h, u *ristretto255.Element
	gVec    [rangeProofBits]*ristretto255.Element
	hVec    [rangeProofBits]*ristretto255.Element
}

func newBPGens() *bpGens {
	gens := &bpGens{
		g: AmountGenerator(),
		h: ristretto255.NewElement().Base(),
		u: HashToPoint(domainBulletproof, []byte("u")),
	}
	var idx [4]byte
	for i := 0; i < rangeProofBits; i++ {
		binary.LittleEndian.PutUint32(idx[:], uint32(i))
		gens.gVec[i] = HashToPoint(domainBulletproof, []byte("G"), idx[:])
		gens.hVec[i] = HashToPoint(domainBulletproof, []byte("H"), idx[:])
	}
	return gens
}

type rangeProof struct {
	a, s, t1, t2   *ristretto255.Element
	tauX, mu, tHat *ristretto255.Scalar
	ipaL, ipaR     [ipaRounds]*ristretto255.Element
	ipaA, ipaB     *ristretto255.Scalar
}

func (p *rangeProof) encode() types.RangeProof {
	buf := make([]byte, 0, rangeProofSize)
	buf = append(buf, p.a.Encode(nil)...)
	buf = append(buf, p.s.Encode(nil)...)
	buf = append(buf, p.t1.Encode(nil)...)
	buf = append(buf, p.t2.Encode(nil)...)
	buf = append(buf, p.tauX.Encode(nil)...)
	buf = append(buf, p.mu.Encode(nil)...)
	buf = append(buf, p.tHat.Encode(nil)...)
	for i := 0; i < ipaRounds; i++ {
		buf = append(buf, p.ipaL[i].Encode(nil)...)
		buf = append(buf, p.ipaR[i].Encode(nil)...)
	}
	buf = append(buf, p.ipaA.Encode(nil)...)
	buf = append(buf, p.ipaB.Encode(nil)...)
	return types.RangeProof(buf)
}

func decodeRangeProof(raw types.RangeProof) (*rangeProof, error) {
	if len(raw) != rangeProofSize {
		return nil, fmt.Errorf("cryptoprim: range proof must be %d bytes, got %d", rangeProofSize, len(raw))
	}
	off := 0
	point := func() (*ristretto255.Element, error) {
		e := ristretto255.NewElement()
		if err := e.Decode(raw[off : off+32]); err != nil {
			return nil, err
		}
		off += 32
		return e, nil
	}
	scalar := func() (*ristretto255.Scalar, error) {
		s := ristretto255.NewScalar()
		if err := s.Decode(raw[off : off+32]); err != nil {
			return nil, err
		}
		off += 32
		return s, nil
	}

	p := &rangeProof{}
	var err error
	if p.a, err = point(); err != nil {
		return nil, fmt.Errorf("cryptoprim: range proof A: %w", err)
	}
	if p.s, err = point(); err != nil {
		return nil, fmt.Errorf("cryptoprim: range proof S: %w", err)
	}
	if p.t1, err = point(); err != nil {
		return nil, fmt.Errorf("cryptoprim: range proof T1: %w", err)
	}
	if p.t2, err = point(); err != nil {
		return nil, fmt.Errorf("cryptoprim: range proof T2: %w", err)
	}
	if p.tauX, err = scalar(); err != nil {
		return nil, fmt.Errorf("cryptoprim: range proof tau_x: %w", err)
	}
	if p.mu, err = scalar(); err != nil {
		return nil, fmt.Errorf("cryptoprim: range proof mu: %w", err)
	}
	if p.tHat, err = scalar(); err != nil {
		return nil, fmt.Errorf("cryptoprim: range proof t_hat: %w", err)
	}
	for i := 0; i < ipaRounds; i++ {
		if p.ipaL[i], err = point(); err != nil {
			return nil, fmt.Errorf("cryptoprim: range proof L%d: %w", i, err)
		}
		if p.ipaR[i], err = point(); err != nil {
			return nil, fmt.Errorf("cryptoprim: range proof R%d: %w", i, err)
		}
	}
	if p.ipaA, err = scalar(); err != nil {
		return nil, fmt.Errorf("cryptoprim: range proof a: %w", err)
	}
	if p.ipaB, err = scalar(); err != nil {
		return nil, fmt.Errorf("cryptoprim: range proof b: %w", err)
	}
	return p, nil
}

func scalarZero() *ristretto255.Scalar { return ristretto255.NewScalar() }

func scalarOne() *ristretto255.Scalar { return scalarFromUint64(1) }

// powersOfTwo returns [1, 2, 4, ..., 2^63] as scalars.
func powersOfTwo() [rangeProofBits]*ristretto255.Scalar {
	var out [rangeProofBits]*ristretto255.Scalar
	out[0] = scalarOne()
	for i := 1; i < rangeProofBits; i++ {
		out[i] = ristretto255.NewScalar().Add(out[i-1], out[i-1])
	}
	return out
}

// powersOf returns [1, y, y^2, ..., y^(n-1)].
func powersOf(y *ristretto255.Scalar) [rangeProofBits]*ristretto255.Scalar {
	var out [rangeProofBits]*ristretto255.Scalar
	out[0] = scalarOne()
	for i := 1; i < rangeProofBits; i++ {
		out[i] = ristretto255.NewScalar().Multiply(out[i-1], y)
	}
	return out
}

func innerProduct(a, b []*ristretto255.Scalar) *ristretto255.Scalar {
	sum := scalarZero()
	for i := range a {
		term := ristretto255.NewScalar().Multiply(a[i], b[i])
		sum = ristretto255.NewScalar().Add(sum, term)
	}
	return sum
}

// msum accumulates sum of scalars[i]*points[i].
func msum(scalars []*ristretto255.Scalar, points []*ristretto255.Element) *ristretto255.Element {
	acc := ristretto255.NewElement().Zero()
	for i := range scalars {
		term := ristretto255.NewElement().ScalarMult(scalars[i], points[i])
		acc = ristretto255.NewElement().Add(acc, term)
	}
	return acc
}

func challengeScalar(label string, parts ...[]byte) *ristretto255.Scalar {
	all := make([][]byte, 0, len(parts)+1)
	all = append(all, []byte(label))
	all = append(all, parts...)
	joined := make([]byte, 0, 256)
	for _, p := range all {
		joined = append(joined, p...)
	}
	return HashToScalar(domainBulletproof, joined)
}

// delta computes (z - z^2)*<1^n, y^n> - z^3*<1^n, 2^n>, the constant term
// correction of the range polynomial.
func delta(y, z *ristretto255.Scalar) *ristretto255.Scalar {
	yPow := powersOf(y)
	sumY := scalarZero()
	for _, p := range yPow {
		sumY = ristretto255.NewScalar().Add(sumY, p)
	}
	pow2 := powersOfTwo()
	sum2 := scalarZero()
	for _, p := range pow2 {
		sum2 = ristretto255.NewScalar().Add(sum2, p)
	}

	z2 := ristretto255.NewScalar().Multiply(z, z)
	z3 := ristretto255.NewScalar().Multiply(z2, z)

	zMinusZ2 := ristretto255.NewScalar().Subtract(z, z2)
	left := ristretto255.NewScalar().Multiply(zMinusZ2, sumY)
	right := ristretto255.NewScalar().Multiply(z3, sum2)
	return ristretto255.NewScalar().Subtract(left, right)
}

// ProveRange produces an aggregated logarithmic-size proof that the value
// committed by Commit(value, blinding) lies in [0, 2^64). The proof transcript is
// domain-separated under the bulletproof transcript tag.
func ProveRange(value uint64, blinding *ristretto255.Scalar) (types.RangeProof, error) {
	gens := newBPGens()
	vCommit := Commit(value, blinding)
	vBytes := vCommit.Encode(nil)

	one := scalarOne()

	// Bit decomposition: aL[i] in {0,1}, aR = aL - 1.
	aL := make([]*ristretto255.Scalar, rangeProofBits)
	aR := make([]*ristretto255.Scalar, rangeProofBits)
	for i := 0; i < rangeProofBits; i++ {
		if value>>uint(i)&1 == 1 {
			aL[i] = scalarOne()
			aR[i] = scalarZero()
		} else {
			aL[i] = scalarZero()
			aR[i] = ristretto255.NewScalar().Negate(one)
		}
	}

	alpha, err := RandomBlindingFactor()
	if err != nil {
		return nil, err
	}
	rho, err := RandomBlindingFactor()
	if err != nil {
		return nil, err
	}

	aCommit := ristretto255.NewElement().ScalarMult(alpha, gens.h)
	aCommit = ristretto255.NewElement().Add(aCommit, msum(aL, gens.gVec[:]))
	aCommit = ristretto255.NewElement().Add(aCommit, msum(aR, gens.hVec[:]))

	sL := make([]*ristretto255.Scalar, rangeProofBits)
	sR := make([]*ristretto255.Scalar, rangeProofBits)
	for i := range sL {
		if sL[i], err = RandomBlindingFactor(); err != nil {
			return nil, err
		}
		if sR[i], err = RandomBlindingFactor(); err != nil {
			return nil, err
		}
	}
	sCommit := ristretto255.NewElement().ScalarMult(rho, gens.h)
	sCommit = ristretto255.NewElement().Add(sCommit, msum(sL, gens.gVec[:]))
	sCommit = ristretto255.NewElement().Add(sCommit, msum(sR, gens.hVec[:]))

	aBytes := aCommit.Encode(nil)
	sBytes := sCommit.Encode(nil)
	y := challengeScalar("y", vBytes, aBytes, sBytes)
	z := challengeScalar("z", vBytes, aBytes, sBytes)
	z2 := ristretto255.NewScalar().Multiply(z, z)

	yPow := powersOf(y)
	pow2 := powersOfTwo()

	// l(X) = aL - z*1 + sL*X ; r(X) = y^n o (aR + z*1 + sR*X) + z^2*2^n.
	l0 := make([]*ristretto255.Scalar, rangeProofBits)
	r0 := make([]*ristretto255.Scalar, rangeProofBits)
	r1 := make([]*ristretto255.Scalar, rangeProofBits)
	for i := 0; i < rangeProofBits; i++ {
		l0[i] = ristretto255.NewScalar().Subtract(aL[i], z)
		aRz := ristretto255.NewScalar().Add(aR[i], z)
		yTerm := ristretto255.NewScalar().Multiply(yPow[i], aRz)
		z2Term := ristretto255.NewScalar().Multiply(z2, pow2[i])
		r0[i] = ristretto255.NewScalar().Add(yTerm, z2Term)
		r1[i] = ristretto255.NewScalar().Multiply(yPow[i], sR[i])
	}

	t1 := ristretto255.NewScalar().Add(innerProduct(l0, r1), innerProduct(sL, r0))
	t2 := innerProduct(sL, r1)

	tau1, err := RandomBlindingFactor()
	if err != nil {
		return nil, err
	}
	tau2, err := RandomBlindingFactor()
	if err != nil {
		return nil, err
	}

	t1Commit := ristretto255.NewElement().Add(
		ristretto255.NewElement().ScalarMult(t1, gens.g),
		ristretto255.NewElement().ScalarMult(tau1, gens.h))
	t2Commit := ristretto255.NewElement().Add(
		ristretto255.NewElement().ScalarMult(t2, gens.g),
		ristretto255.NewElement().ScalarMult(tau2, gens.h))

	x := challengeScalar("x", t1Commit.Encode(nil), t2Commit.Encode(nil), z.Encode(nil))
	x2 := ristretto255.NewScalar().Multiply(x, x)

	lVec := make([]*ristretto255.Scalar, rangeProofBits)
	rVec := make([]*ristretto255.Scalar, rangeProofBits)
	for i := 0; i < rangeProofBits; i++ {
		lVec[i] = ristretto255.NewScalar().Add(l0[i], ristretto255.NewScalar().Multiply(x, sL[i]))
		rVec[i] = ristretto255.NewScalar().Add(r0[i], ristretto255.NewScalar().Multiply(x, r1[i]))
	}
	tHat := innerProduct(lVec, rVec)

	tauX := ristretto255.NewScalar().Multiply(tau2, x2)
	tauX = ristretto255.NewScalar().Add(tauX, ristretto255.NewScalar().Multiply(tau1, x))
	tauX = ristretto255.NewScalar().Add(tauX, ristretto255.NewScalar().Multiply(z2, blinding))

	mu := ristretto255.NewScalar().Add(alpha, ristretto255.NewScalar().Multiply(rho, x))

	w := challengeScalar("w", tHat.Encode(nil), tauX.Encode(nil), mu.Encode(nil))
	uPrime := ristretto255.NewElement().ScalarMult(w, gens.u)

	// Inner-product argument over (gVec, hVec') with hVec'[i] = y^-i * hVec[i].
	yInv := ristretto255.NewScalar().Invert(y)
	yInvPow := powersOf(yInv)
	gCur := make([]*ristretto255.Element, rangeProofBits)
	hCur := make([]*ristretto255.Element, rangeProofBits)
	for i := 0; i < rangeProofBits; i++ {
		gCur[i] = gens.gVec[i]
		hCur[i] = ristretto255.NewElement().ScalarMult(yInvPow[i], gens.hVec[i])
	}
	aCur, bCur := lVec, rVec

	proof := &rangeProof{
		a: aCommit, s: sCommit, t1: t1Commit, t2: t2Commit,
		tauX: tauX, mu: mu, tHat: tHat,
	}

	prevCh := w
	for round := 0; round < ipaRounds; round++ {
		half := len(aCur) / 2
		aLo, aHi := aCur[:half], aCur[half:]
		bLo, bHi := bCur[:half], bCur[half:]
		gLo, gHi := gCur[:half], gCur[half:]
		hLo, hHi := hCur[:half], hCur[half:]

		cL := innerProduct(aLo, bHi)
		cR := innerProduct(aHi, bLo)

		lPoint := ristretto255.NewElement().Add(msum(aLo, gHi), msum(bHi, hLo))
		lPoint = ristretto255.NewElement().Add(lPoint, ristretto255.NewElement().ScalarMult(cL, uPrime))
		rPoint := ristretto255.NewElement().Add(msum(aHi, gLo), msum(bLo, hHi))
		rPoint = ristretto255.NewElement().Add(rPoint, ristretto255.NewElement().ScalarMult(cR, uPrime))

		proof.ipaL[round] = lPoint
		proof.ipaR[round] = rPoint

		ch := challengeScalar("ipa", lPoint.Encode(nil), rPoint.Encode(nil), prevCh.Encode(nil))
		chInv := ristretto255.NewScalar().Invert(ch)
		prevCh = ch

		nextA := make([]*ristretto255.Scalar, half)
		nextB := make([]*ristretto255.Scalar, half)
		nextG := make([]*ristretto255.Element, half)
		nextH := make([]*ristretto255.Element, half)
		for i := 0; i < half; i++ {
			nextA[i] = ristretto255.NewScalar().Add(
				ristretto255.NewScalar().Multiply(ch, aLo[i]),
				ristretto255.NewScalar().Multiply(chInv, aHi[i]))
			nextB[i] = ristretto255.NewScalar().Add(
				ristretto255.NewScalar().Multiply(chInv, bLo[i]),
				ristretto255.NewScalar().Multiply(ch, bHi[i]))
			nextG[i] = ristretto255.NewElement().Add(
				ristretto255.NewElement().ScalarMult(chInv, gLo[i]),
				ristretto255.NewElement().ScalarMult(ch, gHi[i]))
			nextH[i] = ristretto255.NewElement().Add(
				ristretto255.NewElement().ScalarMult(ch, hLo[i]),
				ristretto255.NewElement().ScalarMult(chInv, hHi[i]))
		}
		aCur, bCur, gCur, hCur = nextA, nextB, nextG, nextH
	}

	proof.ipaA = aCur[0]
	proof.ipaB = bCur[0]

	return proof.encode(), nil
}

// VerifyRangeProof checks that the proof attests every given commitment's
// value lies in [0, 2^64). One proof
// covers exactly one commitment; callers verify per-output.
func VerifyRangeProof(commitments []types.Commitment, proof types.RangeProof) (bool, error) {
	if len(commitments) != 1 {
		return false, fmt.Errorf("cryptoprim: range proof covers exactly one commitment, got %d", len(commitments))
	}
	vCommit, err := DecodePoint([32]byte(commitments[0]))
	if err != nil {
		return false, fmt.Errorf("cryptoprim: decode commitment for range proof: %w", err)
	}

	p, err := decodeRangeProof(proof)
	if err != nil {
		return false, err
	}

	gens := newBPGens()
	vBytes := vCommit.Encode(nil)
	aBytes := p.a.Encode(nil)
	sBytes := p.s.Encode(nil)
	y := challengeScalar("y", vBytes, aBytes, sBytes)
	z := challengeScalar("z", vBytes, aBytes, sBytes)
	z2 := ristretto255.NewScalar().Multiply(z, z)
	x := challengeScalar("x", p.t1.Encode(nil), p.t2.Encode(nil), z.Encode(nil))
	x2 := ristretto255.NewScalar().Multiply(x, x)

	// Check 1: t_hat*g + tau_x*h == z^2*V + delta(y,z)*g + x*T1 + x^2*T2.
	lhs := ristretto255.NewElement().Add(
		ristretto255.NewElement().ScalarMult(p.tHat, gens.g),
		ristretto255.NewElement().ScalarMult(p.tauX, gens.h))
	rhs := ristretto255.NewElement().ScalarMult(z2, vCommit)
	rhs = ristretto255.NewElement().Add(rhs, ristretto255.NewElement().ScalarMult(delta(y, z), gens.g))
	rhs = ristretto255.NewElement().Add(rhs, ristretto255.NewElement().ScalarMult(x, p.t1))
	rhs = ristretto255.NewElement().Add(rhs, ristretto255.NewElement().ScalarMult(x2, p.t2))
	if lhs.Equal(rhs) != 1 {
		return false, nil
	}

	// Check 2: the inner-product argument over the committed l, r vectors.
	w := challengeScalar("w", p.tHat.Encode(nil), p.tauX.Encode(nil), p.mu.Encode(nil))
	uPrime := ristretto255.NewElement().ScalarMult(w, gens.u)

	yInv := ristretto255.NewScalar().Invert(y)
	yInvPow := powersOf(yInv)
	yPow := powersOf(y)
	pow2 := powersOfTwo()

	gCur := make([]*ristretto255.Element, rangeProofBits)
	hCur := make([]*ristretto255.Element, rangeProofBits)
	hExp := make([]*ristretto255.Scalar, rangeProofBits)
	for i := 0; i < rangeProofBits; i++ {
		gCur[i] = gens.gVec[i]
		hCur[i] = ristretto255.NewElement().ScalarMult(yInvPow[i], gens.hVec[i])
		hExp[i] = ristretto255.NewScalar().Add(
			ristretto255.NewScalar().Multiply(z, yPow[i]),
			ristretto255.NewScalar().Multiply(z2, pow2[i]))
	}

	// P = A + x*S - z*Sum(G_i) + Sum((z*y^i + z^2*2^i)*H'_i) + t_hat*u' - mu*h.
	pPoint := ristretto255.NewElement().Add(p.a, ristretto255.NewElement().ScalarMult(x, p.s))
	zNeg := ristretto255.NewScalar().Negate(z)
	for i := 0; i < rangeProofBits; i++ {
		pPoint = ristretto255.NewElement().Add(pPoint, ristretto255.NewElement().ScalarMult(zNeg, gCur[i]))
		pPoint = ristretto255.NewElement().Add(pPoint, ristretto255.NewElement().ScalarMult(hExp[i], hCur[i]))
	}
	pPoint = ristretto255.NewElement().Add(pPoint, ristretto255.NewElement().ScalarMult(p.tHat, uPrime))
	muNeg := ristretto255.NewScalar().Negate(p.mu)
	pPoint = ristretto255.NewElement().Add(pPoint, ristretto255.NewElement().ScalarMult(muNeg, gens.h))

	prevCh := w
	for round := 0; round < ipaRounds; round++ {
		ch := challengeScalar("ipa", p.ipaL[round].Encode(nil), p.ipaR[round].Encode(nil), prevCh.Encode(nil))
		chInv := ristretto255.NewScalar().Invert(ch)
		prevCh = ch

		ch2 := ristretto255.NewScalar().Multiply(ch, ch)
		chInv2 := ristretto255.NewScalar().Multiply(chInv, chInv)
		pPoint = ristretto255.NewElement().Add(pPoint, ristretto255.NewElement().ScalarMult(ch2, p.ipaL[round]))
		pPoint = ristretto255.NewElement().Add(pPoint, ristretto255.NewElement().ScalarMult(chInv2, p.ipaR[round]))

		half := len(gCur) / 2
		nextG := make([]*ristretto255.Element, half)
		nextH := make([]*ristretto255.Element, half)
		for i := 0; i < half; i++ {
			nextG[i] = ristretto255.NewElement().Add(
				ristretto255.NewElement().ScalarMult(chInv, gCur[i]),
				ristretto255.NewElement().ScalarMult(ch, gCur[half+i]))
			nextH[i] = ristretto255.NewElement().Add(
				ristretto255.NewElement().ScalarMult(ch, hCur[i]),
				ristretto255.NewElement().ScalarMult(chInv, hCur[half+i]))
		}
		gCur, hCur = nextG, nextH
	}

	// Final fold: P'' == a*G_fin + b*H_fin + a*b*u'.
	ab := ristretto255.NewScalar().Multiply(p.ipaA, p.ipaB)
	final := ristretto255.NewElement().ScalarMult(p.ipaA, gCur[0])
	final = ristretto255.NewElement().Add(final, ristretto255.NewElement().ScalarMult(p.ipaB, hCur[0]))
	final = ristretto255.NewElement().Add(final, ristretto255.NewElement().ScalarMult(ab, uPrime))

	return pPoint.Equal(final) == 1, nil
}
