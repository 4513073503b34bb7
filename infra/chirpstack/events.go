package chirpstack

import (
	"encoding/json"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/luminet/dimmerd/core/logger"
)

type pahoClient interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// TxAckListener follows the ChirpStack MQTT event stream and resolves queue
// item ids into transmission acks.
type TxAckListener struct {
	cli   pahoClient
	topic string
	qos   byte
	acks  *AckTable
	log   logger.Logger
}

// StartTxAckListener connects to the broker and subscribes to the txack
// topic. The subscription is re-established on every reconnect.
func StartTxAckListener(cfg EventsConfig, acks *AckTable, log logger.Logger) (*TxAckListener, error) {
	l := &TxAckListener{topic: cfg.Topic, qos: cfg.QoS, acks: acks, log: log}

	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnect = func(c paho.Client) {
		log.Infof("event stream connected")
		if token := c.Subscribe(l.topic, l.qos, l.onTxAck); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("event stream connection lost: %v", err)
	}

	cli := newMQTTClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	l.cli = cli
	return l, nil
}

func (l *TxAckListener) onTxAck(_ paho.Client, msg paho.Message) {
	var ev struct {
		QueueItemID string `json:"queueItemId"`
	}
	if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
		l.log.Errorf("failed to decode txack event: %v", err)
		return
	}
	if ev.QueueItemID == "" {
		return
	}
	l.log.Debugf("txack for queue item %s", ev.QueueItemID)
	l.acks.Signal(ev.QueueItemID)
}

// Close disconnects from the broker.
func (l *TxAckListener) Close() {
	if l.cli != nil {
		l.cli.Disconnect(250)
	}
}
