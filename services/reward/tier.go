package reward

// Tier is a referral-bonus bracket. RateBps is the share of the referee's
// credit paid to the referrer, in basis points.
type Tier struct {
	MinReferrals int64
	RateBps      int64
	Label        string
}

// Ordered ascending by MinReferrals; LookupTier picks the highest threshold
// met. Amounts derived from these rates use integer arithmetic
// (amount * RateBps / 10000).
var tiers = []Tier{
	{MinReferrals: 0, RateBps: 500, Label: "BRONZE"},
	{MinReferrals: 10, RateBps: 750, Label: "SILVER"},
	{MinReferrals: 50, RateBps: 1000, Label: "GOLD"},
	{MinReferrals: 200, RateBps: 1500, Label: "PLATINUM"},
}

// LookupTier maps a referral count to its bonus tier. Pure, total.
func LookupTier(referralCount int64) Tier {
	current := tiers[0]
	for _, t := range tiers {
		if referralCount >= t.MinReferrals {
			current = t
		}
	}
	return current
}
