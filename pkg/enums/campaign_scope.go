package enums

import "fmt"

// CampaignScope selects which cart lines a campaign targets.
type CampaignScope string

const (
	CampaignScopeAllProducts CampaignScope = "all_products"
	CampaignScopeProducts    CampaignScope = "products"
	CampaignScopeCategories  CampaignScope = "categories"
	CampaignScopeListings    CampaignScope = "listings"
)

var validCampaignScopeValues = []CampaignScope{
	CampaignScopeAllProducts,
	CampaignScopeProducts,
	CampaignScopeCategories,
	CampaignScopeListings,
}

// String implements fmt.Stringer.
func (v CampaignScope) String() string {
	return string(v)
}

// IsValid reports whether the value is a known CampaignScope.
func (v CampaignScope) IsValid() bool {
	for _, candidate := range validCampaignScopeValues {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseCampaignScope converts raw input into a CampaignScope.
func ParseCampaignScope(value string) (CampaignScope, error) {
	for _, candidate := range validCampaignScopeValues {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid campaign scope %q", value)
}
