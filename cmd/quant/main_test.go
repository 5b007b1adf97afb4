package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldRouteToCtl(t *testing.T) {
	assert.True(t, shouldRouteToCtl([]string{"-backtest", "-bt-config", "x.yaml"}))
	assert.True(t, shouldRouteToCtl([]string{"--optimize"}))
	assert.True(t, shouldRouteToCtl([]string{"-history", "-db", "r.db"}))
	assert.False(t, shouldRouteToCtl([]string{"-config", "config.yaml"}))
	assert.False(t, shouldRouteToCtl(nil))
}
