package swarm

import (
	"testing"

	"github.com/FiligranHQ/xtm-composer-sub000/internal/orchestrator"
	"github.com/stretchr/testify/assert"
)

func TestServiceNameIsCanonical(t *testing.T) {
	o := &Orchestrator{}
	name := o.serviceName(orchestrator.Connector{Name: "IPInfo Connector"})
	assert.Equal(t, "ipinfo-connector", name)
}

func TestStateConverterMapsRunningToStarted(t *testing.T) {
	o := &Orchestrator{}
	assert.Equal(t, orchestrator.StatusStarted, o.StateConverter(orchestrator.Container{State: "running"}))
	assert.Equal(t, orchestrator.StatusStopped, o.StateConverter(orchestrator.Container{State: "stopped"}))
	assert.Equal(t, orchestrator.StatusStopped, o.StateConverter(orchestrator.Container{State: "unknown"}))
}
