package events

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"prospector/internal/config"
	"prospector/internal/events/kafka"
	"prospector/internal/events/rabbitmq"
	"prospector/internal/port"
)

// New builds a publisher fanning out to every sink named in cfg.Sinks.
// Sinks opened before a failure are closed again.
func New(cfg *config.EventsConfig, log logrus.FieldLogger) (port.TransitionPublisher, error) {
	var names []string
	var sinks []port.TransitionPublisher
	closeAll := func() {
		for _, s := range sinks {
			_ = s.Close()
		}
	}

	for _, name := range cfg.Sinks {
		var (
			pub port.TransitionPublisher
			err error
		)
		switch name {
		case "log":
			pub = NewLogPublisher(log.WithField("component", "events"))
		case "rabbitmq":
			pub, err = rabbitmq.Dial(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
		case "kafka":
			pub, err = kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		default:
			err = fmt.Errorf("unknown event sink %q", name)
		}
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("events.New %s: %w", name, err)
		}
		names = append(names, name)
		sinks = append(sinks, pub)
	}

	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return Multi(names, sinks), nil
}
