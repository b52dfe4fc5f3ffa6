// Package notify provides the MQTT-backed notification dispatcher. Intents
// are published fire-and-forget; delivery channels and retry policy belong to
// the downstream notification service consuming the topic.
package notify

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"

	paho "github.com/eclipse/paho.mqtt.golang"

	corenotify "github.com/kidlift/kidlift/core/notify"
	"github.com/kidlift/kidlift/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker      string `json:"broker"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	UseTLS      bool   `json:"use_tls"`
	ClientCert  string `json:"client_cert"`
	ClientKey   string `json:"client_key"`
	CABundle    string `json:"ca_bundle"`
	QoS         byte   `json:"qos"`
}

// SetDefaults fills unset values.
func (c *Config) SetDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = "carpool/notify"
	}
	if c.ClientID == "" {
		c.ClientID = "carpool-core"
	}
}

// PahoDispatcher publishes notification intents over MQTT.
type PahoDispatcher struct {
	cli    paho.Client
	prefix string
	qos    byte
	log    logger.Logger
}

// NewPahoDispatcher connects to the broker and returns a dispatcher.
func NewPahoDispatcher(cfg Config) (*PahoDispatcher, error) {
	cfg.SetDefaults()
	log := logger.New("notify_mqtt")
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.loadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	opts.OnConnect = func(paho.Client) { log.Infof("MQTT connected") }
	opts.OnConnectionLost = func(_ paho.Client, err error) { log.Errorf("connection lost: %v", err) }
	cli := paho.NewClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &PahoDispatcher{cli: cli, prefix: cfg.TopicPrefix, qos: cfg.QoS, log: log}, nil
}

func (c Config) loadTLSConfig() (*tls.Config, error) {
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// Dispatch publishes the intent to <prefix>/<type>.
func (d *PahoDispatcher) Dispatch(_ context.Context, intent corenotify.Intent) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("%s/%s", d.prefix, intent.Type)
	token := d.cli.Publish(topic, d.qos, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish intent %s: %w", intent.ID, err)
	}
	d.log.Debugf("published intent %s to %s", intent.ID, topic)
	return nil
}

// Disconnect gracefully closes the MQTT connection.
func (d *PahoDispatcher) Disconnect() {
	if d.cli != nil && d.cli.IsConnected() {
		d.cli.Disconnect(250)
	}
}
