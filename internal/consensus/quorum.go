package consensus

import "github.com/botho-project/botho/internal/types"

// satisfiesQuorumSet reports whether the set of validators recorded as
// voted/accepted in voted meets qs's threshold, counting a nested inner
// set as present when it is itself satisfied.
func satisfiesQuorumSet(voted map[types.PublicKey]bool, qs types.QuorumSet) bool {
	count := 0
	for _, v := range qs.Validators {
		if voted[v] {
			count++
		}
	}
	for _, inner := range qs.InnerSets {
		if satisfiesQuorumSet(voted, inner) {
			count++
		}
	}
	return count >= qs.Threshold
}

// isBlockingSet reports whether voted is a v-blocking set for qs: every
// slice of qs that could satisfy the threshold necessarily intersects
// voted, so qs can never be satisfied without participation from voted.
func isBlockingSet(voted map[types.PublicKey]bool, qs types.QuorumSet) bool {
	countInSet := 0
	for _, v := range qs.Validators {
		if voted[v] {
			countInSet++
		}
	}
	for _, inner := range qs.InnerSets {
		if isBlockingSet(voted, inner) {
			countInSet++
		}
	}
	remaining := qs.ValidatorCount() - countInSet
	return remaining < qs.Threshold
}

// quorumsIntersect reports whether two quorum sets share at least one
// validator anywhere in their (one-level) nested structure, the structural
// precondition the agreement safety invariant depends on.
func quorumsIntersect(a, b types.QuorumSet) bool {
	membersA := flattenMembers(a)
	membersB := flattenMembers(b)
	for v := range membersA {
		if membersB[v] {
			return true
		}
	}
	return false
}

func flattenMembers(qs types.QuorumSet) map[types.PublicKey]bool {
	out := make(map[types.PublicKey]bool)
	for _, v := range qs.Validators {
		out[v] = true
	}
	for _, inner := range qs.InnerSets {
		for v := range flattenMembers(inner) {
			out[v] = true
		}
	}
	return out
}
