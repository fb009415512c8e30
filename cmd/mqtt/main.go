package main

import (
	"flag"
	"fmt"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/txsvc/stdlib/v2"

	"github.com/airgradient/otaengine/internal"
)

func main() {

	var serial string
	var domain string
	var version string

	flag.StringVar(&serial, "serial", "", "Device serial number")
	flag.StringVar(&domain, "domain", "", "Update server override")
	flag.StringVar(&version, "version", "", "Current version override")
	flag.Parse()

	if serial == "" {
		log.Fatal("missing -serial")
	}
	internal.SetMqttLogging()

	host := stdlib.GetString(internal.MQTT_HOST, "localhost")
	protocol := stdlib.GetString(internal.MQTT_PROTOCOL, "tcp")
	port := stdlib.GetString(internal.MQTT_PORT, "1883")

	fmt.Printf("--> Connecting to %s://%s:%s\n", protocol, host, port)

	c := internal.CreateMqttClient(protocol, host, port, "ota-trigger-"+internal.XID(), stdlib.GetString(internal.MQTT_USER, ""), stdlib.GetString(internal.MQTT_PASSWORD, ""))
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		fmt.Println("--> Error ... ")
		log.Fatal(token.Error())
	}
	defer onDisconnect(c)

	cmd := &internal.UpdateCommand{Domain: domain, Version: version}

	fmt.Printf("--> Sending %+v to '%s' ...\n", *cmd, internal.CommandTopicFor(serial))
	if err := internal.SendCommand(c, serial, cmd); err != nil {
		fmt.Println("--> Error ... ")
		log.Fatal(err)
	}

	fmt.Println("--> Done.")
}

func onDisconnect(c mqtt.Client) {
	fmt.Println("*** Disconnecting ... ")
	c.Disconnect(250)
}
