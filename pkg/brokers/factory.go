package brokers

import (
	"fmt"

	"broker-core/pkg/brokers/common"
	"broker-core/pkg/brokers/paper"
	"broker-core/pkg/brokers/smartapi"
	"broker-core/pkg/brokers/zerodha"
	"broker-core/pkg/credentials"
)

// Seed prices for the paper backend, roughly the index levels the
// default symbol map covers.
var paperSeed = map[string]float64{
	"NSE:NIFTY50":    24000,
	"NSE:BANKNIFTY":  51000,
	"NSE:FINNIFTY":   23500,
	"NSE:MIDCPNIFTY": 12500,
}

// New creates a backend client for the named broker, pulling live
// credentials from the vault. The paper backend needs no credentials.
// The limiter is shared with the caller so clients that issue follow-up
// requests of their own stay inside the same budget.
func New(name string, vault *credentials.Store, limiter *common.RateLimiter) (common.Client, error) {
	switch name {
	case "paper":
		return paper.New(paperSeed), nil
	}

	if vault == nil {
		return nil, fmt.Errorf("broker %s requires a credential vault", name)
	}

	switch name {
	case "zerodha":
		creds, err := vault.Get(name)
		if err != nil {
			return nil, fmt.Errorf("load zerodha credentials: %w", err)
		}
		return zerodha.New(zerodha.Config{
			APIKey:      creds.APIKey,
			AccessToken: creds.AccessToken,
			Limiter:     limiter,
		}), nil

	case "smartapi":
		creds, err := vault.Get(name)
		if err != nil {
			return nil, fmt.Errorf("load smartapi credentials: %w", err)
		}
		return smartapi.New(smartapi.Config{
			APIKey:     creds.APIKey,
			ClientCode: creds.ClientCode,
			JWT:        creds.AccessToken,
		}), nil

	default:
		return nil, fmt.Errorf("unsupported broker: %s", name)
	}
}

// Supported lists the broker names New accepts.
func Supported() []string {
	return []string{"paper", "zerodha", "smartapi"}
}
