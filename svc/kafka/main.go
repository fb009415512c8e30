package main

import (
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/rs/zerolog/log"

	"github.com/txsvc/stdlib/v2"

	"github.com/airgradient/otaengine/internal"
)

var (
	kc *kafka.Consumer
)

func init() {
	internal.SetLogLevel()

	clientID := stdlib.GetString("client_id", "ota-kafka-listener-svc")
	groupID := stdlib.GetString("group_id", "ota-kafka-listener")
	autoOffset := stdlib.GetString("auto_offset", "end") // smallest, earliest, beginning, largest, latest, end

	// kafka setup
	kafkaServer, err := internal.KafkaServer()
	if err != nil {
		panic(err)
	}

	// https://github.com/edenhill/librdkafka/blob/master/CONFIGURATION.md
	_kc, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":       kafkaServer,
		"client.id":               clientID,
		"group.id":                groupID,
		"connections.max.idle.ms": 0,
		"auto.offset.reset":       autoOffset,
		"broker.address.family":   "v4",
	})
	if err != nil {
		panic(err)
	}
	kc = _kc

	// prometheus endpoint setup
	internal.StartPrometheusListener()
}

func main() {

	sourceTopic := stdlib.GetString(internal.KAFKA_TOPIC, "ota-events")

	// subscribe
	if err := kc.SubscribeTopics(strings.Split(sourceTopic, ","), nil); err != nil {
		panic(err)
	}
	log.Info().Str("topic", sourceTopic).Msg("listening")

	for {
		msg, err := kc.ReadMessage(-1)
		if err != nil {
			// The client will automatically try to recover from all errors.
			log.Error().Err(err).Msg("consumer error")
			continue
		}

		evt, err := internal.CountEvent(msg.Value)
		if err != nil {
			log.Error().Err(err).Str("partition", msg.TopicPartition.String()).Str("body", string(msg.Value)).Msg("invalid event")
			continue
		}
		log.Info().Str("serial", evt.Serial).Str("result", evt.Result).Str("msg", evt.Message).Str("received", msg.Timestamp.Format(time.RFC3339)).Msg(evt.String())
	}
}
