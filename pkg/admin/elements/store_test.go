package elements

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusFromInfo(t *testing.T) {
	assert.Equal(t, StatusOperational, statusFromInfo("operational"))
	assert.Equal(t, StatusDegraded, statusFromInfo("degraded"))
	assert.Equal(t, StatusOffline, statusFromInfo("offline"))

	// Unknown or empty self-reported statuses default to operational.
	assert.Equal(t, StatusOperational, statusFromInfo(""))
	assert.Equal(t, StatusOperational, statusFromInfo("healthy"))
}
