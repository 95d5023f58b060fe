// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/openlark/sdk-go/token"
	"github.com/openlark/sdk-go/token/event"
)

func main() {
	var (
		baseURL     = flag.String("url", "", "platform API base URL")
		appID       = flag.String("app-id", "", "application id")
		appSecret   = flag.String("app-secret", "", "application secret")
		tenantID    = flag.String("tenant-key", "", "tenant key to fetch a tenant token for, if set")
		marketplace = flag.Bool("marketplace", false, "treat the application as marketplace-flavor")
		timeout     = flag.Duration("timeout", 5*time.Second, "HTTP client timeout")
	)
	flag.Parse()

	client := &http.Client{Timeout: *timeout}

	flavor := token.FlavorSelfBuilt
	if *marketplace {
		flavor = token.FlavorMarketplace
	}

	mgr, err := token.New(
		token.AppID(*appID),
		token.AppSecret(*appSecret),
		token.BaseURL(*baseURL),
		token.WithFlavor(flavor),
		token.HTTPClient(client),
		token.AddFetchListener(event.FetchListenerFunc(func(fe event.Fetch) {
			fmt.Println("Fetch:")
			fmt.Printf("  Key:        %s\n", fe.Key)
			fmt.Printf("  Kind:       %s\n", fe.Kind)
			fmt.Printf("  At:         %s\n", fe.At.Format(time.RFC3339))
			fmt.Printf("  Duration:   %s\n", fe.Duration)
			fmt.Printf("  StatusCode: %d\n", fe.StatusCode)
			fmt.Printf("  Expiration: %s\n", fe.Expiration.Format(time.RFC3339))
			if fe.Err != nil {
				fmt.Printf("  Err:        %s\n", fe.Err)
			} else {
				fmt.Println("  Err:        nil")
			}
		})),
	)
	if err != nil {
		panic(err)
	}
	defer mgr.Close()

	mgr.StartWarmer(token.WarmerConfig{})
	defer mgr.StopWarmer()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if *tenantID != "" {
		tok, err := mgr.GetTenantToken(ctx, *tenantID, "")
		if err != nil {
			panic(err)
		}
		fmt.Printf("tenant_access_token: %s\n", tok)
		return
	}

	tok, err := mgr.GetAppToken(ctx, "")
	if err != nil {
		panic(err)
	}
	fmt.Printf("app_access_token: %s\n", tok)

	snap := mgr.Metrics()
	fmt.Printf("app cache hit rate: %.2f\n", snap.AppCacheHitRate())
}
