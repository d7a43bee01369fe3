package verification

import "fmt"

// Feature names a tier-gated capability.
type Feature string

const (
	FeatureCreateListing           Feature = "CREATE_LISTING"
	FeatureShowPhoneNumber         Feature = "SHOW_PHONE_NUMBER"
	FeatureVerifiedBadge           Feature = "VERIFIED_BADGE"
	FeatureListingAnalytics        Feature = "LISTING_ANALYTICS"
	FeatureFeaturedListings        Feature = "FEATURED_LISTINGS"
	FeatureVerificationCertificate Feature = "VERIFICATION_CERTIFICATE"
)

// featureMinTier is the minimum tier required for each feature.
var featureMinTier = map[Feature]Tier{
	FeatureCreateListing:           TierPhoneVerified,
	FeatureShowPhoneNumber:         TierPhoneVerified,
	FeatureVerifiedBadge:           TierIDVerified,
	FeatureListingAnalytics:        TierIDVerified,
	FeatureFeaturedListings:        TierFullyVerified,
	FeatureVerificationCertificate: TierFullyVerified,
}

// Unlimited marks a tier without a listing cap.
const Unlimited = -1

var listingLimits = map[Tier]int{
	TierBasic:         2,
	TierPhoneVerified: 5,
	TierIDVerified:    10,
	TierFullyVerified: Unlimited,
}

// CanAccess reports whether tier meets the feature's minimum tier.
// Unknown features and unknown tiers are denied.
func CanAccess(tier Tier, feature Feature) bool {
	required, ok := featureMinTier[feature]
	if !ok || !tier.Valid() {
		return false
	}
	return tier.Rank() >= required.Rank()
}

// Features returns the gate decision for every known feature.
func Features(tier Tier) map[Feature]bool {
	out := make(map[Feature]bool, len(featureMinTier))
	for f := range featureMinTier {
		out[f] = CanAccess(tier, f)
	}
	return out
}

// MinimumTier returns the tier a feature requires.
func MinimumTier(feature Feature) (Tier, bool) {
	t, ok := featureMinTier[feature]
	return t, ok
}

// ListingLimit returns the listing cap for tier, or Unlimited.
func ListingLimit(tier Tier) int {
	if limit, ok := listingLimits[tier]; ok {
		return limit
	}
	return 0
}

// ListingDecision is the outcome of CanCreateListing.
type ListingDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Limit   int    `json:"limit"`
}

// CanCreateListing decides whether a landlord at tier holding currentCount
// listings may create another one.
func CanCreateListing(tier Tier, currentCount int) ListingDecision {
	limit := ListingLimit(tier)
	if !CanAccess(tier, FeatureCreateListing) {
		return ListingDecision{
			Allowed: false,
			Reason:  "Verify your phone number to start creating listings",
			Limit:   limit,
		}
	}
	if limit != Unlimited && currentCount >= limit {
		return ListingDecision{
			Allowed: false,
			Reason:  fmt.Sprintf("You have reached the limit of %d listings for your verification tier. Complete more verification steps to list more properties", limit),
			Limit:   limit,
		}
	}
	return ListingDecision{Allowed: true, Limit: limit}
}
