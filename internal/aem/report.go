package aem

import (
	"strconv"

	"github.com/solatis/aem/internal/core/auth"
)

// DelayFlow is the only delay flow this reporter produces.
const DelayFlow = "server"

// ReportRequest is one entry of an aggregation batch.
type ReportRequest struct {
	CampaignID            string `json:"campaign_id"`
	ConversionData        int    `json:"conversion_data"`
	ConsumptionHour       int    `json:"consumption_hour"`
	Token                 string `json:"token"`
	DelayFlow             string `json:"delay_flow"`
	ConfigID              string `json:"config_id,omitempty"`
	HMAC                  string `json:"hmac,omitempty"`
	BusinessID            string `json:"advertiser_id,omitempty"`
	IsConversionFiltering *bool  `json:"is_conversion_filtering,omitempty"`
}

// Report builds the signed report for the current conversion value.
// filteringEnabled is the global conversion filtering switch.
func (inv *Invocation) Report(consumptionHour int, filteringEnabled bool) ReportRequest {
	req := inv.report(inv.ConversionValue, consumptionHour)
	if filteringEnabled && inv.IsConversionFilteringEligible {
		eligible := true
		req.IsConversionFiltering = &eligible
	}
	return req
}

// DebugReport builds the immediate report sent for test deep links.
func (inv *Invocation) DebugReport() ReportRequest {
	return inv.report(0, 0)
}

func (inv *Invocation) report(conversionValue, consumptionHour int) ReportRequest {
	return ReportRequest{
		CampaignID:      inv.CampaignID,
		ConversionData:  conversionValue,
		ConsumptionHour: consumptionHour,
		Token:           inv.ACSToken,
		DelayFlow:       DelayFlow,
		ConfigID:        inv.ACSConfigID,
		HMAC:            inv.Signature(conversionValue, consumptionHour),
		BusinessID:      inv.BusinessID,
	}
}

// Signature signs "{campaign_id}|{conversion_value}|{delay}|server" with the
// shared secret. Empty when the secret or config id is missing or the secret
// does not decode.
func (inv *Invocation) Signature(conversionValue, delay int) string {
	if inv.ACSSharedSecret == "" || inv.ACSConfigID == "" {
		return ""
	}
	secret, err := auth.DecodeSecret(inv.ACSSharedSecret)
	if err != nil {
		return ""
	}
	return auth.SignReport(secret,
		inv.CampaignID,
		strconv.Itoa(conversionValue),
		strconv.Itoa(delay),
		DelayFlow,
	)
}

// VerifySignature checks a report signature produced with this invocation's
// shared secret.
func (inv *Invocation) VerifySignature(signature string, conversionValue, delay int) bool {
	if inv.ACSSharedSecret == "" || signature == "" {
		return false
	}
	secret, err := auth.DecodeSecret(inv.ACSSharedSecret)
	if err != nil {
		return false
	}
	return auth.VerifyReport(secret, signature,
		inv.CampaignID,
		strconv.Itoa(conversionValue),
		strconv.Itoa(delay),
		DelayFlow,
	)
}
