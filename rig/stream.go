package rig

import (
	"github.com/arloliu/footrig/notify"
	"github.com/arloliu/footrig/sensor"
)

// SubscribeReadings returns the pressure stream: every sampling period one Reading per channel.
func (c *Controller) SubscribeReadings(buffer int) *notify.Subscription[sensor.Reading] {
	return c.readings.Subscribe(buffer)
}

// sample publishes the current readings. It keeps the sampler alive while the loop is down.
func (c *Controller) sample() bool {
	if c.readings.Subscribers() == 0 || !c.Running() {
		return true
	}

	gw, err := c.gate()
	if err != nil {
		return true
	}
	rs, err := gw.ReadAllReadings()
	if err != nil {
		c.log.Debug("pressure sample failed", "error", err)
		return true
	}
	for _, r := range rs {
		c.readings.Publish(r)
	}

	return true
}
