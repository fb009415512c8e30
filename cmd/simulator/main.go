package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/txsvc/stdlib/v2"

	"github.com/airgradient/otaengine/internal"
	"github.com/airgradient/otaengine/internal/simulator"
)

const (
	// expected ENV variables
	SIMULATOR_ADDR   = "simulator_addr"
	FIRMWARE_VERSION = "firmware_version"
	FIRMWARE_IMAGE   = "firmware_image"
	FIRMWARE_SIZE    = "firmware_size"

	defaultImageSize = 1400000
	shutdownTimeout  = 5 * time.Second
)

func init() {
	internal.SetLogLevel()
}

func main() {

	var addr string
	var version string
	var imagePath string
	var size int64
	var blocked string

	flag.StringVar(&addr, "addr", stdlib.GetString(SIMULATOR_ADDR, "0.0.0.0:8080"), "Listen address")
	flag.StringVar(&version, "version", stdlib.GetString(FIRMWARE_VERSION, "3.1.2"), "Version of the served image")
	flag.StringVar(&imagePath, "image", stdlib.GetString(FIRMWARE_IMAGE, ""), "Image file, random bytes if empty")
	flag.Int64Var(&size, "size", stdlib.GetInt(FIRMWARE_SIZE, defaultImageSize), "Size of a generated image")
	flag.StringVar(&blocked, "block", "", "Serial number to decline updates for")
	flag.Parse()

	image, err := loadImage(imagePath, size)
	if err != nil {
		log.Fatal().Err(err).Msg("firmware image")
	}

	sim := simulator.New(version, image)
	if blocked != "" {
		sim.Block(blocked)
	}
	e := sim.Echo()

	internal.StartPrometheusListener()

	go func() {
		log.Info().Str("addr", addr).Str("version", version).Int("size", len(image)).Msg("serving firmware")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("shutting down")
		}
	}()

	// setup shutdown handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("shutdown")
	}
	log.Warn().Int("requests", sim.Requests()).Msg("shut down")
}

// loadImage reads path, or generates size random bytes if path is empty.
func loadImage(path string, size int64) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}
	if size <= 0 {
		return nil, fmt.Errorf("invalid image size %d", size)
	}

	image := make([]byte, size)
	if _, err := rand.Read(image); err != nil {
		return nil, err
	}
	return image, nil
}
