package internal

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	stdlog "log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

const (
	// https://www.hivemq.com/blog/mqtt-essentials-part-6-mqtt-quality-of-service-levels/
	AtMostOnce  byte = 0
	AtLeastOnce byte = 1
	ExactlyOnce byte = 2

	MQTT_HOST            = "mqtt_host"
	MQTT_PROTOCOL        = "mqtt_protocol"
	MQTT_PORT            = "mqtt_port"
	MQTT_USER            = "mqtt_user"
	MQTT_PASSWORD        = "mqtt_password"
	MQTT_TLS_SKIP_VERIFY = "mqtt_tls_skip_verify"

	publishTimeout = 5 * time.Second
)

type (
	// MqttPublisher sends update events to the device's event topic.
	MqttPublisher struct {
		cl  mqtt.Client
		qos byte
	}
)

// SetMqttLogging routes the paho loggers to stdout.
func SetMqttLogging() {
	if GetBool(LOG_LEVEL_MQTT_TRACE, false) {
		mqtt.CRITICAL = stdlog.New(os.Stdout, "[CRIT] ", 0)
		mqtt.WARN = stdlog.New(os.Stdout, "[WARN]  ", 0)
		mqtt.DEBUG = stdlog.New(os.Stdout, "[DEBUG] ", 0)
	}
	mqtt.ERROR = stdlog.New(os.Stdout, "[ERROR] ", 0)
}

func CreateMqttClient(protocol, host, port, clientID, username, password string) mqtt.Client {
	// setup and configuration
	broker := fmt.Sprintf("%s://%s:%s", protocol, host, port)
	opts := mqtt.NewClientOptions().AddBroker(broker)

	opts.SetCleanSession(true)
	opts.SetClientID(clientID)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(5 * time.Second)

	opts.SetDefaultPublishHandler(func(client mqtt.Client, msg mqtt.Message) {
		log.Logger.Info().Str("topic", msg.Topic()).Str("body", string(msg.Payload())).Msg(fmt.Sprintf("un-handled message id %d", msg.MessageID()))
	})
	opts.SetOnConnectHandler(onConnectHandler)

	if username != "" {
		opts.SetUsername(username)
	}
	if password != "" {
		opts.SetPassword(password)
	}
	if protocol == "ssl" || protocol == "tls" || protocol == "wss" {
		opts.SetTLSConfig(&tls.Config{
			InsecureSkipVerify: GetBool(MQTT_TLS_SKIP_VERIFY, false),
		})
	}

	// create a client
	return mqtt.NewClient(opts)
}

func onConnectHandler(c mqtt.Client) {
	log.Logger.Info().Bool("connected", c.IsConnected()).Bool("open", c.IsConnectionOpen()).Msg("onConnect")
}

// NewMqttPublisher wraps a connected client.
func NewMqttPublisher(cl mqtt.Client, qos byte) *MqttPublisher {
	return &MqttPublisher{cl: cl, qos: qos}
}

func (p *MqttPublisher) Publish(evt *UpdateEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	token := p.cl.Publish(EventTopicFor(evt.Serial), p.qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to '%s' timed out", EventTopicFor(evt.Serial))
	}
	return token.Error()
}

func (p *MqttPublisher) Close() {
	p.cl.Disconnect(250)
}

// SendCommand publishes cmd to the command topic of serial.
func SendCommand(cl mqtt.Client, serial string, cmd *UpdateCommand) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	token := cl.Publish(CommandTopicFor(serial), AtLeastOnce, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to '%s' timed out", CommandTopicFor(serial))
	}
	return token.Error()
}
