package billing

import "strings"

// directCountries lists the markets served by the direct processor.
// Everything else goes through the federated broker, which handles local
// payment methods and tax via its own upstream providers.
var directCountries = map[string]struct{}{
	"US": {}, "CA": {}, "GB": {}, "AU": {}, "NZ": {},
	"DE": {}, "FR": {}, "NL": {}, "ES": {}, "IT": {},
	"IE": {}, "AT": {}, "BE": {}, "SE": {}, "DK": {},
	"NO": {}, "FI": {}, "CH": {}, "PT": {},
}

// companionProduct is billed through the broker regardless of geography
// because its merchant-of-record setup only exists there.
const companionProduct = "esgpilot"

// Route maps (country code, product) to a payment provider. Pure and
// total: unrecognized country codes fall back to the default
// international provider.
func Route(countryCode, product string) ProviderID {
	if strings.EqualFold(strings.TrimSpace(product), companionProduct) {
		return ProviderPaddle
	}
	cc := strings.ToUpper(strings.TrimSpace(countryCode))
	if _, ok := directCountries[cc]; ok {
		return ProviderStripe
	}
	return ProviderPaddle
}
