// SPDX-License-Identifier: Apache-2.0

package oapierr

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetriable(t *testing.T) {
	MarkTransient(88880001)

	tests := []struct {
		description string
		err         *Error
		want        bool
	}{
		{"transport", Transport("", io.EOF), true},
		{"rate limited", RateLimited("", 5), true},
		{"server transient", Server("", 88880001, "internal"), true},
		{"server non-transient", Server("", 1, "bad param"), false},
		{"decode", Decode("", io.EOF), false},
		{"validation", Validation("app_id", "missing"), false},
		{"auth", Auth("", "ticket missing"), false},
		{"cancelled", Cancelled(""), false},
	}

	for _, tc := range tests {
		t.Run(tc.description, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.err.IsRetriable())
		})
	}
}

func TestErrorsIs(t *testing.T) {
	err := Transport("req-1", io.EOF)

	assert.True(t, errors.Is(err, ErrTransport))
	assert.True(t, errors.Is(err, io.EOF))
	assert.False(t, errors.Is(err, ErrAuth))

	auth := Auth("req-2", "app ticket is empty")
	assert.True(t, errors.Is(auth, ErrAuth))
}

func TestErrorMessages(t *testing.T) {
	assert.Contains(t, Validation("app_id", "missing").Error(), "app_id")
	assert.Contains(t, Server("", 99991400, "throttled").Error(), "99991400")
	assert.Equal(t, "cancelled", Cancelled("").Error())
}
