package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/txsvc/stdlib/v2"

	"github.com/airgradient/otaengine/internal"
)

const (
	// expected ENV variables
	CLIENT_ID    = "client_id"
	SOURCE_TOPIC = "source_topic"
)

var (
	mqttHost     string
	mqttProtocol string
	mqttPort     string
	clientID     string
	sourceTopic  string
)

func init() {
	internal.SetLogLevel()
	internal.SetMqttLogging()

	mqttHost = stdlib.GetString(internal.MQTT_HOST, "")
	mqttProtocol = stdlib.GetString(internal.MQTT_PROTOCOL, "tcp")
	mqttPort = stdlib.GetString(internal.MQTT_PORT, "1883")
	if mqttHost == "" {
		panic(fmt.Errorf("missing env MQTT_HOST"))
	}
	clientID = stdlib.GetString(CLIENT_ID, "ota-mqtt-listener-svc")
	sourceTopic = stdlib.GetString(SOURCE_TOPIC, internal.EventTopicFor("+"))
}

func main() {
	internal.StartPrometheusListener()

	// listen for update events of all devices
	cl := internal.CreateMqttClient(mqttProtocol, mqttHost, mqttPort, clientID, stdlib.GetString(internal.MQTT_USER, ""), stdlib.GetString(internal.MQTT_PASSWORD, ""))
	if token := cl.Connect(); token.Wait() && token.Error() != nil {
		log.Fatal().Err(token.Error()).Msg(token.Error().Error())
	}
	defer cl.Disconnect(250)

	if token := cl.Subscribe(sourceTopic, internal.AtLeastOnce, receiveEvent); token.Wait() && token.Error() != nil {
		log.Fatal().Err(token.Error()).Msg(token.Error().Error())
	}
	log.Info().Str("topic", sourceTopic).Str("client", clientID).Msg("listening")

	// setup shutdown handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Warn().Msg("shutting down")
}

func receiveEvent(client mqtt.Client, msg mqtt.Message) {
	evt, err := internal.CountEvent(msg.Payload())
	if err != nil {
		log.Error().Err(err).Str("topic", msg.Topic()).Str("body", string(msg.Payload())).Msg(fmt.Sprintf("message id %d", msg.MessageID()))
		return
	}
	log.Info().Str("topic", msg.Topic()).Str("serial", evt.Serial).Str("result", evt.Result).Str("msg", evt.Message).Int64("ts", evt.Timestamp).Msg(evt.String())
}
