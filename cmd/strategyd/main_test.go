package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigDir(t *testing.T) {
	assert.Equal(t, "", configDir([]string{"run"}))
	assert.Equal(t, "/etc/strategy", configDir([]string{"--config", "/etc/strategy", "run"}))
	assert.Equal(t, "/etc/strategy", configDir([]string{"status", "--config=/etc/strategy"}))
	assert.Equal(t, "", configDir([]string{"run", "--config"}))
	assert.Equal(t, "", configDir([]string{"--", "--config", "x"}))
}
