// Package announce publishes worker action catalogs as retained MQTT
// messages and merges announcements into a coordinator's registry, so a
// coordinator can route to actions it does not host itself.
package announce

import (
	"encoding/json"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kettleops/kettle"
	"github.com/kettleops/kettle/catalog"
)

// TopicPrefix is the retained-announcement topic namespace. One topic per
// action: kettle/actions/<name>.
const TopicPrefix = "kettle/actions/"

func actionTopic(name string) string {
	return TopicPrefix + name
}

func connect(brokerURL, role string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().AddBroker(brokerURL)
	opts.SetClientID(fmt.Sprintf("kettle-%s-%s", role, uuid.New().String()))
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to mqtt %s: %w", brokerURL, token.Error())
	}
	return client, nil
}

// Announcer publishes a worker's registered actions.
type Announcer struct {
	client mqtt.Client
	logger *zap.Logger
}

// NewAnnouncer connects to the MQTT broker as a worker.
func NewAnnouncer(brokerURL string, logger *zap.Logger) (*Announcer, error) {
	client, err := connect(brokerURL, "worker")
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Announcer{client: client, logger: logger}, nil
}

// Announce publishes every descriptor as a retained message so coordinators
// that connect later still discover them.
func (a *Announcer) Announce(registry *catalog.Registry) error {
	for name, desc := range registry.All() {
		payload, err := json.Marshal(desc)
		if err != nil {
			return fmt.Errorf("encode descriptor %s: %w", name, err)
		}
		token := a.client.Publish(actionTopic(name), 1, true, payload)
		if token.Wait(); token.Error() != nil {
			return fmt.Errorf("announce %s: %w", name, token.Error())
		}
		a.logger.Info("announced action", zap.String("action", name))
	}
	return nil
}

// Clear retracts the worker's announcements by publishing empty retained
// payloads.
func (a *Announcer) Clear(registry *catalog.Registry) {
	for name := range registry.All() {
		a.client.Publish(actionTopic(name), 1, true, []byte{}).Wait()
	}
}

// Close disconnects from the broker.
func (a *Announcer) Close() {
	a.client.Disconnect(250)
}

// Discoverer merges announced descriptors into a coordinator registry.
// Announced actions carry no handler; they are dispatched to workers
// through the task broker, never run locally.
type Discoverer struct {
	client   mqtt.Client
	registry *catalog.Registry
	logger   *zap.Logger
}

// NewDiscoverer connects to the MQTT broker and subscribes to action
// announcements, keeping registry in sync with them.
func NewDiscoverer(brokerURL string, registry *catalog.Registry, logger *zap.Logger) (*Discoverer, error) {
	client, err := connect(brokerURL, "coordinator")
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Discoverer{client: client, registry: registry, logger: logger}

	token := client.Subscribe(TopicPrefix+"+", 1, d.onAnnounced)
	if token.Wait(); token.Error() != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("subscribe to announcements: %w", token.Error())
	}
	return d, nil
}

func (d *Discoverer) onAnnounced(_ mqtt.Client, msg mqtt.Message) {
	parts := strings.Split(msg.Topic(), "/")
	if len(parts) != 3 {
		return
	}
	name := parts[2]

	// An empty retained payload retracts the action.
	if len(msg.Payload()) == 0 {
		d.registry.Unregister(name)
		d.logger.Info("action removed", zap.String("action", name))
		return
	}

	var desc kettle.Descriptor
	if err := json.Unmarshal(msg.Payload(), &desc); err != nil {
		d.logger.Warn("bad announcement", zap.String("action", name), zap.Error(err))
		return
	}
	desc.Name = name
	d.registry.Register(kettle.Action{Descriptor: desc})
	d.logger.Info("action discovered", zap.String("action", name), zap.String("queue", desc.Queue))
}

// Close disconnects from the broker.
func (d *Discoverer) Close() {
	d.client.Disconnect(250)
}
