// SPDX-License-Identifier: Apache-2.0

package token

import "github.com/openlark/sdk-go/oapierr"

// requiredOptions validates the fields every Manager must have,
// mirroring credentials.go's "Vador" suffix convention (options that
// only ever return an error, appended after the caller's own options so
// an explicit override always wins before validation runs).
func requiredOptions() []Option {
	return []Option{
		appIDVador(),
		appSecretVador(),
		baseURLVador(),
	}
}

func appIDVador() Option {
	return optionFunc(func(m *Manager) error {
		if m.appID == "" {
			return oapierr.Validation("app_id", "application id is missing")
		}
		return nil
	})
}

func appSecretVador() Option {
	return optionFunc(func(m *Manager) error {
		if m.appSecret == "" {
			return oapierr.Validation("app_secret", "application secret is missing")
		}
		return nil
	})
}

func baseURLVador() Option {
	return optionFunc(func(m *Manager) error {
		if m.baseURL == "" {
			return oapierr.Validation("base_url", "base URL is missing")
		}
		return nil
	})
}
