// lwm2m-client is an LWM2M client exposing a dimmable light (object 3311).
//
// The client registers with an LWM2M server, bootstrapping first when
// configured, and serves reads, writes and observations of the light until
// interrupted. It then deregisters.
//
// Configuration comes from the environment (LWM2M_*) and an optional .env
// file:
//
//	LWM2M_ENDPOINT        Endpoint client name (default: urn:uuid:<random>)
//	LWM2M_SERVER_HOST     LWM2M server host
//	LWM2M_SERVER_PORT     LWM2M server port (default: 5683, 5684 with DTLS)
//	LWM2M_BOOTSTRAP       Bootstrap before registering
//	LWM2M_BOOTSTRAP_HOST  Bootstrap server host
//	LWM2M_DTLS            Secure the connection with DTLS-PSK
//	LWM2M_USER_DATA       "AuthCode:<code>;PSK:<key>;"
//	LWM2M_LIFETIME        Registration lifetime (default: 24h)
//	LWM2M_STORAGE_PATH    File remembering the server (default: in-memory)
//	LWM2M_METRICS_ADDR    Serve Prometheus metrics, e.g. ":9090"
//	LWM2M_LOG_LEVEL       debug, info, warn or error (default: info)
//	LWM2M_LOG_SCOPES      Per-scope levels, e.g. "transaction:debug"
//	LWM2M_LOG_FILE        Also log JSON to this rotating file
//
// Example:
//
//	LWM2M_SERVER_HOST=leshan.eclipseprojects.io LWM2M_ENDPOINT=my-light lwm2m-client
package main

import (
	"fmt"
	"log"

	"github.com/backkem/lwm2m/examples/common"
	"github.com/backkem/lwm2m/examples/light"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// run returns instead of exiting so the deferred log flush happens.
func run() error {
	opts, err := common.LoadOptions()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	lf, err := common.NewLoggerFactory(opts)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = lf.Sync() }()

	client, err := common.NewClient(opts, lf)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	device := light.NewDevice(light.Config{LoggerFactory: lf})
	if err := client.Session.AddObject(device.Object()); err != nil {
		return fmt.Errorf("failed to add light object: %w", err)
	}
	device.Attach(client.Session)

	ctx, stop := common.SignalContext()
	defer stop()

	// Run blocks until interrupted
	if err := client.Run(ctx); err != nil {
		return fmt.Errorf("client error: %w", err)
	}
	return nil
}
