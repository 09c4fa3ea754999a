package hass

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supergoudvis116/joule-connector/internal/config"
)

func shortWaits(t *testing.T) {
	t.Helper()
	connectWait, operationWait := ConnectWait, OperationWait
	ConnectWait, OperationWait = 200*time.Millisecond, 100*time.Millisecond
	t.Cleanup(func() {
		ConnectWait, OperationWait = connectWait, operationWait
	})
}

func TestConnectReturnsWhileBrokerDown(t *testing.T) {
	shortWaits(t)

	type result struct {
		client *Client
		err    error
	}
	done := make(chan result, 1)
	go func() {
		client, err := Connect(&config.MQTTConfig{Broker: "tcp://127.0.0.1:1", BaseTopic: "joule_connector", QoS: 1}, nil)
		done <- result{client, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Connect blocked with the broker down")
	}
	require.NoError(t, res.err)
	t.Cleanup(res.client.Close)

	assert.NoError(t, res.client.Subscribe("joule_connector/+/temperature/set", func(string, []byte) {}))
	assert.Contains(t, res.client.subs, "joule_connector/+/temperature/set")
	assert.ErrorIs(t, res.client.Publish("joule_connector/SN1/state", true, []byte("{}")), ErrTimeout)
}

func TestConnectRequiresBroker(t *testing.T) {
	_, err := Connect(&config.MQTTConfig{}, nil)
	assert.ErrorContains(t, err, "broker is required")
}
