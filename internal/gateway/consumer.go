package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// JetStreamConsumerConfig holds configuration for the control consumer.
type JetStreamConsumerConfig struct {
	URL           string
	StreamName    string
	ConsumerName  string
	SubjectFilter string        // e.g., "buzzer.control.>"
	MaxDeliver    int           // Max delivery attempts
	AckWait       time.Duration // How long to wait for ack
	MaxAckPending int           // Max messages pending ack
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultJetStreamConsumerConfig returns default consumer configuration.
func DefaultJetStreamConsumerConfig() JetStreamConsumerConfig {
	return JetStreamConsumerConfig{
		URL:           nats.DefaultURL,
		StreamName:    "BUZZER_CONTROL",
		ConsumerName:  "buzzer-gateway",
		SubjectFilter: "buzzer.control.>",
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// ControlConsumer is a second control-plane ingress for deployments that
// already run a message bus: it consumes Command envelopes from
// JetStream and routes them through the same dispatcher as WebSocket
// and HTTP commands. Optional; created only when enabled in config.
type ControlConsumer struct {
	dispatcher *Dispatcher
	nc         *nats.Conn
	js         jetstream.JetStream
	consumer   jetstream.Consumer
	config     JetStreamConsumerConfig
}

// NewControlConsumer connects to NATS and ensures the durable consumer.
func NewControlConsumer(d *Dispatcher, config JetStreamConsumerConfig) (*ControlConsumer, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	cc := &ControlConsumer{
		dispatcher: d,
		nc:         nc,
		js:         js,
		config:     config,
	}

	if err := cc.ensureConsumer(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}

	return cc, nil
}

// ensureConsumer creates or gets the JetStream consumer.
func (cc *ControlConsumer) ensureConsumer(ctx context.Context) error {
	stream, err := cc.js.Stream(ctx, cc.config.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	consumerConfig := jetstream.ConsumerConfig{
		Name:          cc.config.ConsumerName,
		Durable:       cc.config.ConsumerName,
		Description:   "Buzzer gateway control-plane consumer",
		FilterSubject: cc.config.SubjectFilter,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    cc.config.MaxDeliver,
		AckWait:       cc.config.AckWait,
		MaxAckPending: cc.config.MaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	}

	consumer, err := stream.Consumer(ctx, cc.config.ConsumerName)
	if err != nil {
		consumer, err = stream.CreateConsumer(ctx, consumerConfig)
		if err != nil {
			return fmt.Errorf("create consumer: %w", err)
		}
		log.Info().
			Str("consumer", cc.config.ConsumerName).
			Str("stream", cc.config.StreamName).
			Msg("created JetStream consumer")
	} else {
		log.Info().
			Str("consumer", cc.config.ConsumerName).
			Str("stream", cc.config.StreamName).
			Msg("using existing JetStream consumer")
	}

	cc.consumer = consumer
	return nil
}

// Start begins consuming control commands from JetStream.
func (cc *ControlConsumer) Start(ctx context.Context) error {
	log.Info().
		Str("consumer", cc.config.ConsumerName).
		Str("stream", cc.config.StreamName).
		Msg("starting control-plane consumer")

	messageCh := make(chan jetstream.Msg, 100)

	consumeCtx, err := cc.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("control-plane consumer shutting down")
			return nil
		case msg := <-messageCh:
			if err := cc.processMessage(msg); err != nil {
				log.Error().
					Err(err).
					Str("subject", msg.Subject()).
					Msg("failed to process control message")
				if nakErr := msg.Nak(); nakErr != nil {
					log.Error().Err(nakErr).Msg("failed to NAK message")
				}
			} else {
				if ackErr := msg.Ack(); ackErr != nil {
					log.Error().Err(ackErr).Msg("failed to ACK message")
				}
			}
		}
	}
}

// processMessage routes one control command through the dispatcher.
func (cc *ControlConsumer) processMessage(msg jetstream.Msg) error {
	var cmd Command
	if err := json.Unmarshal(msg.Data(), &cmd); err != nil {
		return fmt.Errorf("unmarshal command envelope: %w", err)
	}
	// Validate the payload before dispatching so a poison message is
	// rejected with its parse error rather than half-applied.
	if _, err := ParseCommandData(cmd); err != nil {
		return fmt.Errorf("invalid command payload: %w", err)
	}

	log.Debug().
		Str("event", string(cmd.Event)).
		Str("subject", msg.Subject()).
		Msg("processing control command from bus")

	if err := cc.dispatcher.Dispatch(nil, cmd); err != nil {
		return fmt.Errorf("dispatch command: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the consumer.
func (cc *ControlConsumer) Stop() error {
	log.Info().Msg("stopping control-plane consumer")

	if cc.nc != nil {
		cc.nc.Close()
	}

	return nil
}
