package checkout

import (
	"fmt"

	"github.com/kasira-dev/fees-engine/internal/config"
	"github.com/kasira-dev/fees-engine/internal/fees"
)

// RulesFromConfig assembles the fee rule set from parsed configuration. The
// discount strategy selects exactly one discount rule; the payment-method
// surcharge is always present.
func RulesFromConfig(cfg config.FeeConfig) (fees.RuleSet, error) {
	var rs fees.RuleSet

	switch cfg.DiscountStrategy {
	case config.StrategyTiered:
		tiers := make([]fees.Tier, 0, len(cfg.Tiers))
		for _, t := range cfg.Tiers {
			tiers = append(tiers, fees.Tier{
				EntryName: t.Name,
				MinSpend:  t.MinSpend,
				RateBps:   t.RateBps,
			})
		}
		rule, err := fees.NewTieredSpendDiscount(tiers)
		if err != nil {
			return fees.RuleSet{}, fmt.Errorf("tiered discount: %w", err)
		}
		rs.Discounts = append(rs.Discounts, rule)
	case config.StrategyPerItem:
		rs.Discounts = append(rs.Discounts, fees.PerItemDiscount{
			EntryName: "per_item_discount",
			PerUnit:   cfg.PerItemAmount,
			MinQty:    cfg.PerItemMinQty,
		})
	default:
		return fees.RuleSet{}, fmt.Errorf("unknown discount strategy %q", cfg.DiscountStrategy)
	}

	rs.Surcharges = append(rs.Surcharges, fees.MethodSurcharge{
		EntryName: cfg.SurchargeName,
		Method:    cfg.SurchargeMethod,
		RateBps:   cfg.SurchargeRateBps,
		Taxable:   cfg.SurchargeTaxable,
	})

	if err := rs.Validate(); err != nil {
		return fees.RuleSet{}, err
	}
	return rs, nil
}
