package verification

// Tier is the ordinal trust level derived from a landlord's verification flags.
type Tier string

const (
	TierBasic         Tier = "BASIC"
	TierPhoneVerified Tier = "PHONE_VERIFIED"
	TierIDVerified    Tier = "ID_VERIFIED"
	TierFullyVerified Tier = "FULLY_VERIFIED"
)

var tierRank = map[Tier]int{
	TierBasic:         0,
	TierPhoneVerified: 1,
	TierIDVerified:    2,
	TierFullyVerified: 3,
}

// Rank returns the ordinal of t. Unknown tiers rank below BASIC.
func (t Tier) Rank() int {
	if r, ok := tierRank[t]; ok {
		return r
	}
	return -1
}

func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// Flags are the verification booleans the tier and completeness derive from.
type Flags struct {
	EmailVerified    bool
	PhoneVerified    bool
	IDVerified       bool
	PropertyVerified bool
}

// Completeness weights, summing to 100.
const (
	weightEmail    = 15
	weightPhone    = 15
	weightID       = 35
	weightProperty = 35
)

// ComputeTier maps flags to a tier by strict precedence, highest first.
// Email verification does not affect the tier.
func ComputeTier(f Flags) Tier {
	switch {
	case f.IDVerified && f.PropertyVerified:
		return TierFullyVerified
	case f.IDVerified:
		return TierIDVerified
	case f.PhoneVerified:
		return TierPhoneVerified
	default:
		return TierBasic
	}
}

// ComputeCompleteness returns the weighted verification progress in [0,100].
func ComputeCompleteness(f Flags) int {
	total := 0
	if f.EmailVerified {
		total += weightEmail
	}
	if f.PhoneVerified {
		total += weightPhone
	}
	if f.IDVerified {
		total += weightID
	}
	if f.PropertyVerified {
		total += weightProperty
	}
	return total
}
