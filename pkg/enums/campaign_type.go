package enums

import "fmt"

// CampaignType selects how a campaign computes its discount.
type CampaignType string

const (
	CampaignTypePercentage        CampaignType = "percentage"
	CampaignTypeFixedAmount       CampaignType = "fixed_amount"
	CampaignTypeBuyXGetY          CampaignType = "buy_x_get_y"
	CampaignTypeFreeShipping      CampaignType = "free_shipping"
	CampaignTypeMinAmountDiscount CampaignType = "min_amount_discount"
)

var validCampaignTypeValues = []CampaignType{
	CampaignTypePercentage,
	CampaignTypeFixedAmount,
	CampaignTypeBuyXGetY,
	CampaignTypeFreeShipping,
	CampaignTypeMinAmountDiscount,
}

// String implements fmt.Stringer.
func (v CampaignType) String() string {
	return string(v)
}

// IsValid reports whether the value is a known CampaignType.
func (v CampaignType) IsValid() bool {
	for _, candidate := range validCampaignTypeValues {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseCampaignType converts raw input into a CampaignType.
func ParseCampaignType(value string) (CampaignType, error) {
	for _, candidate := range validCampaignTypeValues {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid campaign type %q", value)
}
