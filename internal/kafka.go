package internal

import (
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/rs/zerolog/log"
	"github.com/txsvc/stdlib/v2"
)

const (
	KAFKA_SERVICE      = "kafka_service"
	KAFKA_SERVICE_PORT = "kafka_service_port"
	KAFKA_TOPIC        = "kafka_topic"

	flushTimeoutMs = 1000
)

type (
	// KafkaPublisher sends update events to a single topic, keyed by serial number.
	KafkaPublisher struct {
		kp    *kafka.Producer
		topic string
	}
)

func KafkaServer() (string, error) {
	kafkaService := stdlib.GetString(KAFKA_SERVICE, "")
	if kafkaService == "" {
		return "", fmt.Errorf("missing env KAFKA_SERVICE")
	}
	kafkaServicePort := stdlib.GetString(KAFKA_SERVICE_PORT, "9092")
	return fmt.Sprintf("%s:%s", kafkaService, kafkaServicePort), nil
}

func NewKafkaPublisher(clientID, topic string) (*KafkaPublisher, error) {
	kafkaServer, err := KafkaServer()
	if err != nil {
		return nil, err
	}

	// https://github.com/edenhill/librdkafka/blob/master/CONFIGURATION.md
	kp, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":     kafkaServer,
		"client.id":             clientID,
		"broker.address.family": "v4",
	})
	if err != nil {
		return nil, err
	}

	// drain delivery reports
	go func() {
		for e := range kp.Events() {
			if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
				log.Error().Err(m.TopicPartition.Error).Str("topic", topic).Msg("delivery failed")
			}
		}
	}()

	return &KafkaPublisher{kp: kp, topic: topic}, nil
}

func (p *KafkaPublisher) Publish(evt *UpdateEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	return p.kp.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &p.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(evt.Serial),
		Value: data,
	}, nil)
}

func (p *KafkaPublisher) Close() {
	p.kp.Flush(flushTimeoutMs)
	p.kp.Close()
}
