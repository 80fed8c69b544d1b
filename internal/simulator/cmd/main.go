// Command pivot-sim emulates a multi-motor center-pivot irrigation
// controller against a real MQTT broker, so the control frontend can be
// exercised without hardware.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Hashiru97/pivot-mqtt-wordpress-dashboard/internal/simulator"
	"github.com/Hashiru97/pivot-mqtt-wordpress-dashboard/internal/topic"
	"github.com/Hashiru97/pivot-mqtt-wordpress-dashboard/pkg/ackcache"
	"github.com/Hashiru97/pivot-mqtt-wordpress-dashboard/pkg/mqttx"
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Println("loaded environment from .env")
	}
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheme := topic.NewScheme(cfg.FarmID, cfg.DeviceID)
	reg := prometheus.NewRegistry()
	metrics := simulator.NewMetrics(reg)
	store := simulator.NewStore(cfg.Segments)
	acks := ackcache.New(10*time.Minute, 20000)
	mirror := simulator.NewMirror(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket, cfg.FarmID, cfg.DeviceID)
	defer mirror.Close()

	session := simulator.NewSession(mqttx.Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		User:        cfg.User,
		Password:    cfg.Password,
		ClientID:    cfg.ClientID,
		CAFile:      cfg.CAFile,
		UseTLS:      cfg.UseTLS,
		WillTopic:   scheme.Presence(),
		WillPayload: []byte(`{"message":"Offline"}`),
		WillRetain:  true,
	}, scheme, metrics)

	telemetry := simulator.NewTelemetry(scheme, session, store, acks, metrics, mirror, cfg.DropRate)
	actuator := simulator.NewActuator(store, cfg.Latency, cfg.RandomLag, telemetry.OnCommit)
	processor := simulator.NewProcessor(store, actuator, acks, cfg.MaxSpeed, cfg.DefaultSpeed, cfg.MotorFail)
	session.Attach(processor, telemetry)

	if err := session.Connect(ctx); err != nil {
		log.Fatalf("startup: %v", err)
	}
	log.Printf("pivot %s/%s online: %d segments, latency %s", cfg.FarmID, cfg.DeviceID, cfg.Segments, cfg.Latency)

	if cfg.MetricsAddr != "" {
		health := simulator.NewHealthHandler(session.Connected, store, mirror)
		go func() {
			if err := simulator.ServeObservability(cfg.MetricsAddr, reg, health); err != nil {
				log.Printf("observability server: %v", err)
			}
		}()
	}

	go telemetry.RunHeartbeat(ctx, cfg.Heartbeat)

	session.Run(ctx)
	log.Println("shutdown complete")
}
