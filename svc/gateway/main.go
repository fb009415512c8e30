package main

import (
	"context"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/rs/zerolog/log"

	"github.com/txsvc/apikit"
	"github.com/txsvc/apikit/api"
	"github.com/txsvc/stdlib/v2"

	"github.com/airgradient/otaengine/api/ota"
	"github.com/airgradient/otaengine/internal"
)

const (
	// expected ENV variables
	CLIENT_ID    = "client_id"
	SOURCE_TOPIC = "source_topic"
	STATUS_TTL   = "status_ttl"

	DefaultTTL = time.Hour * 24
)

type (
	// commander sends update commands to devices
	commander interface {
		SendCommand(serial string, cmd *internal.UpdateCommand) error
	}

	mqttCommander struct {
		cl mqtt.Client
	}

	// statusBoard keeps the last event of every device
	statusBoard struct {
		mu   sync.Mutex
		ttl  time.Duration
		last map[string]*internal.UpdateEvent
	}

	// DeviceStatus is the response of the status endpoints
	DeviceStatus struct {
		Serial  string `json:"serial"`
		Result  string `json:"result"`
		Message string `json:"message,omitempty"`
		Updated int64  `json:"updated"`
		Busy    bool   `json:"busy"`
	}
)

var (
	cmdr  commander
	board *statusBoard
)

func init() {
	// setup logging
	internal.SetLogLevel()
	internal.SetMqttLogging()

	board = newStatusBoard(time.Duration(stdlib.GetInt(STATUS_TTL, int64(DefaultTTL/time.Second))) * time.Second)
}

func main() {
	mqttHost := stdlib.GetString(internal.MQTT_HOST, "")
	if mqttHost == "" {
		log.Fatal().Msg("missing env MQTT_HOST")
	}

	cl := internal.CreateMqttClient(
		stdlib.GetString(internal.MQTT_PROTOCOL, "tcp"),
		mqttHost,
		stdlib.GetString(internal.MQTT_PORT, "1883"),
		stdlib.GetString(CLIENT_ID, "ota-gateway-svc"),
		stdlib.GetString(internal.MQTT_USER, ""),
		stdlib.GetString(internal.MQTT_PASSWORD, ""),
	)
	if token := cl.Connect(); token.Wait() && token.Error() != nil {
		log.Fatal().Err(token.Error()).Msg(token.Error().Error())
	}
	cmdr = &mqttCommander{cl: cl}

	// track update events of all devices
	sourceTopic := stdlib.GetString(SOURCE_TOPIC, internal.EventTopicFor("+"))
	if token := cl.Subscribe(sourceTopic, internal.AtLeastOnce, receiveEvent); token.Wait() && token.Error() != nil {
		log.Fatal().Err(token.Error()).Msg(token.Error().Error())
	}
	log.Info().Str("source", sourceTopic).Msg("start listening")

	internal.StartPrometheusListener()

	// start the http listener
	svc, err := apikit.New(setup, shutdown)
	if err != nil {
		log.Fatal().Err(err).Msg(err.Error())
	}
	svc.Listen("")
}

func receiveEvent(client mqtt.Client, msg mqtt.Message) {
	evt, err := internal.CountEvent(msg.Payload())
	if err != nil {
		log.Error().Err(err).Str("topic", msg.Topic()).Msg("invalid event")
		return
	}
	board.update(evt)
}

func (m *mqttCommander) SendCommand(serial string, cmd *internal.UpdateCommand) error {
	return internal.SendCommand(m.cl, serial, cmd)
}

func newStatusBoard(ttl time.Duration) *statusBoard {
	return &statusBoard{
		ttl:  ttl,
		last: make(map[string]*internal.UpdateEvent),
	}
}

func (b *statusBoard) update(evt *internal.UpdateEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if last, ok := b.last[evt.Serial]; ok && last.Timestamp > evt.Timestamp {
		return // out of order
	}
	b.last[evt.Serial] = evt
}

func (b *statusBoard) get(serial string) (*DeviceStatus, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	evt, ok := b.last[serial]
	if !ok {
		return nil, false
	}
	if b.ttl > 0 && stdlib.Now()-evt.Timestamp > int64(b.ttl/time.Second) {
		delete(b.last, serial)
		return nil, false
	}
	return toStatus(evt), true
}

func (b *statusBoard) list() []*DeviceStatus {
	b.mu.Lock()
	serials := make([]string, 0, len(b.last))
	for serial := range b.last {
		serials = append(serials, serial)
	}
	b.mu.Unlock()

	sort.Strings(serials)

	devices := make([]*DeviceStatus, 0, len(serials))
	for _, serial := range serials {
		if s, ok := b.get(serial); ok {
			devices = append(devices, s)
		}
	}
	return devices
}

func toStatus(evt *internal.UpdateEvent) *DeviceStatus {
	r, _ := ota.ParseResult(evt.Result)
	return &DeviceStatus{
		Serial:  evt.Serial,
		Result:  evt.Result,
		Message: evt.Message,
		Updated: evt.Timestamp,
		Busy:    !r.Terminal(),
	}
}

// http endpoint setup

func setup() *echo.Echo {
	// create a new router instance
	e := echo.New()

	// add and configure any middlewares
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.DefaultCORSConfig))

	// add your own endpoints here
	e.GET("/", api.DefaultEndpoint)
	e.GET("/api/v1/devices", listDevicesEndpoint)
	e.GET("/api/v1/devices/:serial", getDeviceEndpoint)
	e.POST("/api/v1/devices/:serial/update", triggerUpdateEndpoint)

	// done
	return e
}

func shutdown(ctx context.Context, a *apikit.App) error {
	if m, ok := cmdr.(*mqttCommander); ok {
		m.cl.Disconnect(250)
	}
	return nil
}

// handler

func listDevicesEndpoint(c echo.Context) error {
	return api.StandardResponse(c, http.StatusOK, board.list())
}

func getDeviceEndpoint(c echo.Context) error {
	serial := c.Param("serial")
	if serial == "" {
		return api.ErrorResponse(c, http.StatusBadRequest, api.ErrInvalidRoute, "serial")
	}

	status, ok := board.get(serial)
	if !ok {
		return api.ErrorResponse(c, http.StatusNotFound, api.ErrInvalidRoute, "device not found")
	}
	return api.StandardResponse(c, http.StatusOK, status)
}

func triggerUpdateEndpoint(c echo.Context) error {
	serial := c.Param("serial")
	if serial == "" {
		return api.ErrorResponse(c, http.StatusBadRequest, api.ErrInvalidRoute, "serial")
	}

	// refuse while an update is running
	if status, ok := board.get(serial); ok && status.Busy {
		return api.ErrorResponse(c, http.StatusConflict, api.ErrInternalError, "update in progress")
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return api.ErrorResponse(c, http.StatusBadRequest, api.ErrInternalError, err.Error())
	}
	cmd, err := internal.ParseUpdateCommand(body)
	if err != nil {
		return api.ErrorResponse(c, http.StatusBadRequest, api.ErrInternalError, "invalid command")
	}

	if err := cmdr.SendCommand(serial, cmd); err != nil {
		log.Error().Err(err).Str("serial", serial).Msg("send command")
		return api.ErrorResponse(c, http.StatusBadGateway, api.ErrInternalError, "command not sent")
	}

	log.Info().Str("serial", serial).Str("domain", cmd.Domain).Str("version", cmd.Version).Msg("update triggered")
	return api.StandardResponse(c, http.StatusAccepted, cmd)
}
