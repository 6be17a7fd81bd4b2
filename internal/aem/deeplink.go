package aem

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/solatis/aem/internal/types"
)

// AppLinkDataParam is the query parameter carrying click data.
const AppLinkDataParam = "al_applink_data"

// appLinkData is the JSON object inside al_applink_data.
type appLinkData struct {
	CampaignIDs  string   `json:"campaign_ids"`
	ACSToken     string   `json:"acs_token"`
	SharedSecret string   `json:"shared_secret"`
	ACSConfigID  string   `json:"acs_config_id"`
	AdvertiserID string   `json:"advertiser_id"`
	CatalogID    string   `json:"catalog_id"`
	TestDeeplink flexBool `json:"test_deeplink"`
	HasSKAN      flexBool `json:"has_skan"`
}

// flexBool accepts true/false, 0/1 and their string forms.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*b = false
		return nil
	}
	v, err := strconv.ParseBool(string(data))
	if err != nil {
		return fmt.Errorf("invalid boolean %q", data)
	}
	*b = flexBool(v)
	return nil
}

// ParseDeepLink builds an invocation from a click URL. The URL must carry
// al_applink_data with at least campaign_ids and acs_token.
func ParseDeepLink(rawURL string, now time.Time) (*Invocation, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidDeepLink, err)
	}
	payload := u.Query().Get(AppLinkDataParam)
	if payload == "" {
		return nil, fmt.Errorf("%w: no %s", types.ErrInvalidDeepLink, AppLinkDataParam)
	}

	var data appLinkData
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidDeepLink, err)
	}
	if data.CampaignIDs == "" || data.ACSToken == "" {
		return nil, fmt.Errorf("%w: campaign_ids and acs_token are required", types.ErrInvalidDeepLink)
	}

	inv := NewInvocation(data.CampaignIDs, data.ACSToken, now)
	inv.ACSSharedSecret = data.SharedSecret
	inv.ACSConfigID = data.ACSConfigID
	inv.BusinessID = data.AdvertiserID
	inv.CatalogID = data.CatalogID
	inv.IsTestMode = bool(data.TestDeeplink)
	inv.HasStoreKitAdNetwork = bool(data.HasSKAN)
	inv.IsConversionFilteringEligible = true
	return inv, nil
}
