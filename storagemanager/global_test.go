package storagemanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetGlobalManager_ReturnsSameInstance(t *testing.T) {
	a := GetGlobalManager()
	b := GetGlobalManager()
	assert.Same(t, a, b)
}
