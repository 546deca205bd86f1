package monitor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/batmon/internal/radio"
	"github.com/srg/batmon/internal/registry"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     registry.Status
		breaksLink bool
		retryable  bool
	}{
		{
			name:       "service not found preserves link",
			err:        radio.NewError(radio.CategoryServiceNotFound, "", nil),
			status:     registry.StatusConnectedNoBatteryService,
			breaksLink: false,
			retryable:  false,
		},
		{
			name:       "characteristic not found preserves link",
			err:        radio.NewError(radio.CategoryCharacteristicNotFound, "", nil),
			status:     registry.StatusConnectedNoBatteryService,
			breaksLink: false,
			retryable:  false,
		},
		{
			name:       "not found breaks link",
			err:        radio.NewError(radio.CategoryNotFound, "", nil),
			status:     registry.StatusDisconnected,
			breaksLink: true,
			retryable:  true,
		},
		{
			name:       "address resolution failure breaks link",
			err:        radio.NewError(radio.CategoryAddressResolutionFailed, "", nil),
			status:     registry.StatusDisconnected,
			breaksLink: true,
			retryable:  true,
		},
		{
			name:       "link failure breaks link",
			err:        radio.NewError(radio.CategoryLinkFailed, "", nil),
			status:     registry.StatusDisconnected,
			breaksLink: true,
			retryable:  true,
		},
		{
			name:       "read failure surfaces as unreachable",
			err:        radio.NewError(radio.CategoryReadFailed, "", nil),
			status:     registry.StatusUnreachable,
			breaksLink: true,
			retryable:  true,
		},
		{
			name:       "access denied breaks link",
			err:        radio.NewError(radio.CategoryAccessDenied, "", nil),
			status:     registry.StatusAccessDenied,
			breaksLink: true,
			retryable:  true,
		},
		{
			name:       "uncategorized platform error is conservative",
			err:        errors.New("vendor protocol error 0x3E"),
			status:     registry.StatusError,
			breaksLink: true,
			retryable:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := classify(tt.err)
			assert.Equal(t, tt.status, verdict.status)
			assert.Equal(t, tt.breaksLink, verdict.breaksLink)
			assert.Equal(t, tt.retryable, verdict.retryable)
		})
	}
}
