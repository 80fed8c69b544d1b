// Package mqttx holds the shared MQTT plumbing: client option construction
// (TLS, credentials, last-will) and thin publish/subscribe wrappers around
// the paho client.
package mqttx

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Config carries everything needed to open a broker connection.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	ClientID string
	CAFile   string // optional CA bundle; system roots when empty
	UseTLS   bool

	// Optional last-will, published by the broker on unexpected disconnect.
	WillTopic   string
	WillPayload []byte
	WillRetain  bool
}

// BuildOptions translates the config into paho client options. Automatic
// reconnection is disabled: reconnect policy belongs to the caller.
func (c *Config) BuildOptions() (*mqtt.ClientOptions, error) {
	scheme := "tcp"
	if c.UseTLS {
		scheme = "ssl"
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port))
	opts.SetUsername(c.User)
	opts.SetPassword(c.Password)
	opts.SetClientID(c.ClientID)
	opts.SetCleanSession(true)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(false)

	if c.UseTLS {
		tlsCfg, err := newTLSConfig(c.CAFile)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if c.WillTopic != "" {
		opts.SetBinaryWill(c.WillTopic, c.WillPayload, 1, c.WillRetain)
	}
	return opts, nil
}

func newTLSConfig(caFile string) (*tls.Config, error) {
	if caFile == "" {
		return &tls.Config{MinVersion: tls.VersionTLS12}, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("CA bundle %s: no certificates found", caFile)
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// Publish sends one message and waits for the client to hand it off.
func Publish(client mqtt.Client, topic string, qos byte, retain bool, payload []byte) error {
	token := client.Publish(topic, qos, retain, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers a handler for each filter and waits for the broker to
// confirm every subscription before returning.
func Subscribe(client mqtt.Client, filters []string, qos byte, handler mqtt.MessageHandler) error {
	for _, f := range filters {
		token := client.Subscribe(f, qos, handler)
		token.Wait()
		if err := token.Error(); err != nil {
			return fmt.Errorf("subscribe %s: %w", f, err)
		}
	}
	return nil
}
