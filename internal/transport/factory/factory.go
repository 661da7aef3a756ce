// Package factory selects the bus transport named by messaging.type.
package factory

import (
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-bus/internal/metrics"
	"github.com/nerrad567/gray-logic-bus/internal/transport"
	"github.com/nerrad567/gray-logic-bus/internal/transport/amqp"
	"github.com/nerrad567/gray-logic-bus/internal/transport/mqtt"
	"github.com/nerrad567/gray-logic-bus/internal/transport/nats"
)

// ErrUnknownMessaging is returned for a messaging type no transport implements.
var ErrUnknownMessaging = errors.New("factory: unknown messaging type")

// New builds an unstarted transport for cfg.Messaging.Type.
// "qpid" and "amqp" both select the AMQP 1.0 transport.
func New(cfg *config.Config, log transport.Logger, m *metrics.Metrics) (transport.Transport, error) {
	switch cfg.Messaging.Type {
	case config.MessagingQpid, config.MessagingAMQP:
		return amqp.New(amqp.Options{
			Config:   cfg.AMQP,
			Instance: cfg.Instance,
			Logger:   log,
			Metrics:  m,
		}), nil

	case config.MessagingMQTT:
		mqttCfg := cfg.MQTT
		mqttCfg.Broker.ClientID = cfg.ClientID()
		return mqtt.New(mqtt.Options{
			Config:   mqttCfg,
			Instance: cfg.Instance,
			Logger:   log,
			Metrics:  m,
		}), nil

	case config.MessagingNATS:
		return nats.New(nats.Options{
			Config:   cfg.NATS,
			Instance: cfg.Instance,
			Logger:   log,
			Metrics:  m,
		}), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMessaging, cfg.Messaging.Type)
}
