package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/aem/internal/aem"
)

var deeplinkCmd = &cobra.Command{
	Use:   "deeplink",
	Short: "Inspect campaign deep links",
}

var deeplinkParseCmd = &cobra.Command{
	Use:   "parse <url>",
	Short: "Parse a deep link into the invocation it would create",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeeplinkParse,
}

func init() {
	deeplinkParseCmd.Flags().String("verify", "", "report signature to check against the link's shared secret")
	deeplinkParseCmd.Flags().Int("conversion-value", 0, "conversion value the signature covers")
	deeplinkParseCmd.Flags().Int("delay", 0, "consumption hour the signature covers")
	deeplinkCmd.AddCommand(deeplinkParseCmd)
	rootCmd.AddCommand(deeplinkCmd)
}

// deeplinkView omits the shared secret; only its presence is shown.
type deeplinkView struct {
	CampaignID       string `json:"campaign_id"`
	ACSToken         string `json:"acs_token"`
	ACSConfigID      string `json:"acs_config_id,omitempty"`
	BusinessID       string `json:"business_id,omitempty"`
	CatalogID        string `json:"catalog_id,omitempty"`
	HasSharedSecret  bool   `json:"has_shared_secret"`
	TestMode         bool   `json:"test_mode"`
	HasStoreKitAdNet bool   `json:"has_skan"`
	SignatureValid   *bool  `json:"signature_valid,omitempty"`
}

func runDeeplinkParse(cmd *cobra.Command, args []string) error {
	inv, err := aem.ParseDeepLink(args[0], time.Now())
	if err != nil {
		return err
	}
	view := deeplinkView{
		CampaignID:       inv.CampaignID,
		ACSToken:         inv.ACSToken,
		ACSConfigID:      inv.ACSConfigID,
		BusinessID:       inv.BusinessID,
		CatalogID:        inv.CatalogID,
		HasSharedSecret:  inv.ACSSharedSecret != "",
		TestMode:         inv.IsTestMode,
		HasStoreKitAdNet: inv.HasStoreKitAdNetwork,
	}
	if cmd.Flags().Changed("verify") {
		signature, _ := cmd.Flags().GetString("verify")
		value, _ := cmd.Flags().GetInt("conversion-value")
		delay, _ := cmd.Flags().GetInt("delay")
		valid := inv.VerifySignature(signature, value, delay)
		view.SignatureValid = &valid
	}
	return printJSON(cmd, view)
}
