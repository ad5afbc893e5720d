package ledger

// Plan describes one purchasable subscription tier
type Plan struct {
	Key          string `json:"key"`
	Name         string `json:"name"`
	PriceUSD     int    `json:"price_usd"`
	Runs         int    `json:"runs"`
	DurationDays int    `json:"duration_days"`
}

// Plans is the catalog served to the pricing page and used when a
// payment confirmation lands.
var Plans = map[string]Plan{
	"WEEKLY":  {Key: "WEEKLY", Name: "Weekly Sprint", PriceUSD: 15, Runs: 20, DurationDays: 7},
	"MONTHLY": {Key: "MONTHLY", Name: "Monthly Startup", PriceUSD: 47, Runs: 50, DurationDays: 30},
	"YEARLY":  {Key: "YEARLY", Name: "Yearly Scale-Up", PriceUSD: 495, Runs: 600, DurationDays: 365},
}

// LookupPlan returns the plan for a key, if it exists
func LookupPlan(key string) (Plan, bool) {
	p, ok := Plans[key]
	return p, ok
}
