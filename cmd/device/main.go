package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/txsvc/stdlib/v2"

	"github.com/airgradient/otaengine/api/ota"
	"github.com/airgradient/otaengine/internal"
	"github.com/airgradient/otaengine/internal/partition"
)

const (
	// expected ENV variables, flags take precedence
	DEVICE_SERIAL   = "device_serial"
	DEVICE_VERSION  = "device_version"
	DEVICE_ICCID    = "device_iccid"
	OTA_DOMAIN      = "ota_domain"
	PARTITION_DIR   = "partition_dir"
	KAFKA_CLIENT_ID = "kafka_client_id"

	defaultTopic    = "ota-events"
	defaultClientID = "ota-device-%s"

	transportWifi     = "wifi"
	transportCellular = "cellular"
)

type (
	// updater is satisfied by both update sources
	updater interface {
		UpdateIfAvailable(ctx context.Context, req ota.UpdateRequest) ota.Result
	}
)

func init() {
	internal.SetLogLevel()
	internal.SetMqttLogging()
}

func main() {
	if !run() {
		os.Exit(1)
	}
}

// run returns false if a one-shot update failed.
func run() bool {

	var transport string
	var serial string
	var version string
	var domain string
	var profileName string
	var partitionDir string
	var capacity int64
	var iccid string
	var publishMqtt bool
	var publishKafka bool
	var listen bool
	var bridge string
	var bridgeUser string
	var bridgeToken string

	flag.StringVar(&transport, "transport", transportWifi, "wifi or cellular")
	flag.StringVar(&serial, "serial", stdlib.GetString(DEVICE_SERIAL, ""), "Device serial number")
	flag.StringVar(&version, "version", stdlib.GetString(DEVICE_VERSION, ""), "Running firmware version")
	flag.StringVar(&domain, "domain", stdlib.GetString(OTA_DOMAIN, ota.DefaultDomain), "Update server host[:port]")
	flag.StringVar(&profileName, "profile", ota.ProfileOneOpenAir.String(), "oneopenair or max")
	flag.StringVar(&partitionDir, "partitions", stdlib.GetString(PARTITION_DIR, "./partitions"), "Directory holding the A/B slots")
	flag.Int64Var(&capacity, "capacity", 0, "Slot capacity in bytes, 0 is unlimited")
	flag.StringVar(&iccid, "iccid", stdlib.GetString(DEVICE_ICCID, ""), "SIM ICCID, cellular only")
	flag.BoolVar(&publishMqtt, "mqtt", false, "Publish update events over MQTT")
	flag.BoolVar(&publishKafka, "kafka", false, "Publish update events to Kafka")
	flag.BoolVar(&listen, "listen", false, "Wait for update commands over MQTT")
	flag.StringVar(&bridge, "bridge", "", "Modem bridge proxy URL, cellular only")
	flag.StringVar(&bridgeUser, "bridge-user", "", "Modem bridge user")
	flag.StringVar(&bridgeToken, "bridge-token", "", "Modem bridge token")
	flag.Parse()

	if serial == "" {
		log.Fatal().Msg("missing serial number")
	}
	profile, err := ota.ParseProfile(profileName)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid profile")
	}
	if err := os.MkdirAll(partitionDir, 0755); err != nil {
		log.Fatal().Err(err).Str("dir", partitionDir).Msg("partition directory")
	}

	internal.StartPrometheusListener()

	var cl mqtt.Client
	if publishMqtt || listen {
		cl = connectMqtt(serial)
		defer cl.Disconnect(250)
	}

	publishers := make([]internal.Publisher, 0, 2)
	if publishMqtt {
		publishers = append(publishers, internal.NewMqttPublisher(cl, internal.AtLeastOnce))
	}
	if publishKafka {
		kp, err := internal.NewKafkaPublisher(stdlib.GetString(KAFKA_CLIENT_ID, fmt.Sprintf(defaultClientID, serial)), stdlib.GetString(internal.KAFKA_TOPIC, defaultTopic))
		if err != nil {
			log.Fatal().Err(err).Msg("kafka producer")
		}
		defer kp.Close()
		publishers = append(publishers, kp)
	}

	w := partition.NewFileWriter(partitionDir, capacity)
	c := ota.NewCoordinator(w, profile)
	c.SetHandler(internal.EventHandler(serial, publishers...))

	src, err := newUpdater(transport, c, iccid, bridgeOptions(version, bridge, bridgeUser, bridgeToken)...)
	if err != nil {
		log.Fatal().Err(err).Msg("transport")
	}

	log.Info().Str("serial", serial).Str("version", version).Str("transport", transport).Str("profile", profile.String()).Str("slot", w.ActiveSlot()).Msg("device")

	if !listen {
		return runUpdate(src, ota.NewUpdateRequest(serial, version, domain), w) != ota.Failed
	}

	// listen for commands, updates run one at a time on this goroutine
	cmds := make(chan *internal.UpdateCommand, 1)
	topic := internal.CommandTopicFor(serial)
	receiveCommand := func(client mqtt.Client, msg mqtt.Message) {
		cmd, err := internal.ParseUpdateCommand(msg.Payload())
		if err != nil {
			log.Error().Err(err).Str("topic", msg.Topic()).Msg("invalid command")
			return
		}
		select {
		case cmds <- cmd:
		default:
			log.Warn().Str("topic", msg.Topic()).Msg("update already pending, command dropped")
		}
	}
	if token := cl.Subscribe(topic, internal.AtLeastOnce, receiveCommand); token.Wait() && token.Error() != nil {
		log.Fatal().Err(token.Error()).Msg(token.Error().Error())
	}
	log.Info().Str("topic", topic).Msg("waiting for commands")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case cmd := <-cmds:
			req := ota.NewUpdateRequest(serial, version, domain)
			if cmd.Domain != "" {
				req.Domain = cmd.Domain
			}
			if cmd.Version != "" {
				req.CurrentVersion = cmd.Version
			}
			runUpdate(src, req, w)
		case <-quit:
			log.Warn().Msg("shutting down")
			return true
		}
	}
}

func newUpdater(transport string, c *ota.Coordinator, iccid string, opts ...internal.ClientOption) (updater, error) {
	switch transport {
	case transportWifi:
		return ota.NewStreamingSource(c, internal.NewLoggingTransport(http.DefaultTransport)), nil
	case transportCellular:
		rc, err := internal.NewRestClient(context.Background(), opts...)
		if err != nil {
			return nil, err
		}
		return ota.NewChunkedSource(c, rc, iccid), nil
	}
	return nil, fmt.Errorf("unknown transport '%s'", transport)
}

// bridgeOptions overrides the CELLULAR_BRIDGE_* environment with the flags that are set.
func bridgeOptions(version, endpoint, user, token string) []internal.ClientOption {
	opts := make([]internal.ClientOption, 0, 3)
	if version != "" {
		opts = append(opts, internal.WithUserAgent(fmt.Sprintf("%s/%s", internal.CellularBridgeApiAgent, version)))
	}
	if endpoint != "" {
		opts = append(opts, internal.WithEndpoint(endpoint))
	}
	if user != "" || token != "" {
		opts = append(opts, internal.WithCredentials(user, token))
	}
	return opts
}

func runUpdate(src updater, req ota.UpdateRequest, w *partition.FileWriter) ota.Result {
	result := src.UpdateIfAvailable(context.Background(), req)

	if result == ota.Success {
		log.Warn().Str("slot", w.ActiveSlot()).Msg("new image staged, reboot to activate")
	} else {
		log.Info().Str("result", result.String()).Str("slot", w.ActiveSlot()).Msg("update finished")
	}
	return result
}

func connectMqtt(serial string) mqtt.Client {
	host := stdlib.GetString(internal.MQTT_HOST, "")
	if host == "" {
		log.Fatal().Msg("missing env MQTT_HOST")
	}

	cl := internal.CreateMqttClient(
		stdlib.GetString(internal.MQTT_PROTOCOL, "tcp"),
		host,
		stdlib.GetString(internal.MQTT_PORT, "1883"),
		fmt.Sprintf(defaultClientID, serial),
		stdlib.GetString(internal.MQTT_USER, ""),
		stdlib.GetString(internal.MQTT_PASSWORD, ""),
	)
	if token := cl.Connect(); token.Wait() && token.Error() != nil {
		log.Fatal().Err(token.Error()).Msg(token.Error().Error())
	}
	return cl
}
