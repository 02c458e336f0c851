package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/aria-voice/aria/internal/assistant"
)

// MQTTDispatcher publishes device commands over an MQTT broker. Each
// target device listens on <topicPrefix>/<mac-with-dashes>/command.
type MQTTDispatcher struct {
	client      paho.Client
	topicPrefix string
}

// MQTTOptions configures the broker connection.
type MQTTOptions struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// NewMQTTDispatcher connects to the broker in the background and
// returns immediately; publishes fail until the connection is up.
func NewMQTTDispatcher(opts MQTTOptions) *MQTTDispatcher {
	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetMaxReconnectInterval(10 * time.Second).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		if opts.Password != "" {
			clientOpts.SetPassword(opts.Password)
		}
	}
	clientOpts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Printf("dispatch: mqtt connection lost: %v", err)
	})
	clientOpts.SetOnConnectHandler(func(paho.Client) {
		log.Printf("dispatch: connected to mqtt broker")
	})

	client := paho.NewClient(clientOpts)
	client.Connect()

	prefix := strings.Trim(opts.TopicPrefix, "/")
	if prefix == "" {
		prefix = "aria/devices"
	}
	return &MQTTDispatcher{client: client, topicPrefix: prefix}
}

// commandMessage is the payload published to the device command topic.
type commandMessage struct {
	Command      string `json:"command"`
	SourceDevice string `json:"source_device,omitempty"`
	ParentDevice string `json:"parent_device,omitempty"`
	UserData     string `json:"user_data,omitempty"`
	IssuedAtMs   int64  `json:"issued_at_ms"`
}

func (d *MQTTDispatcher) Route(ctx context.Context, resp *assistant.Response) error {
	target := strings.TrimSpace(resp.TargetDevice)
	if target == "" {
		return ErrNoTarget
	}
	command := resp.Command()
	if command == "" {
		return ErrNoCommand
	}

	payload, err := json.Marshal(commandMessage{
		Command:      command,
		SourceDevice: resp.SourceDevice,
		ParentDevice: resp.ParentDevice,
		UserData:     resp.UserData,
		IssuedAtMs:   time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}

	topic := d.topicPrefix + "/" + TopicSegment(target) + "/command"
	token := d.client.Publish(topic, 1, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (d *MQTTDispatcher) Close() {
	d.client.Disconnect(250)
}

// TopicSegment normalizes a device MAC for use in a topic path. Colons
// are topic-safe in MQTT but awkward in tooling, so they become dashes.
func TopicSegment(mac string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(mac), ":", "-"))
}
