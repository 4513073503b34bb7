// Package chirpstack implements the network-server boundary against the
// ChirpStack v4 gRPC API, with downlink transmission acks taken from its
// MQTT event stream.
package chirpstack

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/chirpstack/chirpstack/api/go/v4/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/luminet/dimmerd/core/lns"
	"github.com/luminet/dimmerd/core/logger"
	"github.com/luminet/dimmerd/core/model"
)

// apiToken presents the ChirpStack API key as per-RPC bearer credentials.
type apiToken string

func (t apiToken) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + string(t)}, nil
}

func (t apiToken) RequireTransportSecurity() bool { return false }

// deviceEnqueuer and groupEnqueuer are the two ChirpStack calls this client
// issues, narrowed for the fakes in tests.
type deviceEnqueuer interface {
	Enqueue(ctx context.Context, in *api.EnqueueDeviceQueueItemRequest, opts ...grpc.CallOption) (*api.EnqueueDeviceQueueItemResponse, error)
}

type groupEnqueuer interface {
	Enqueue(ctx context.Context, in *api.EnqueueMulticastGroupQueueItemRequest, opts ...grpc.CallOption) (*api.EnqueueMulticastGroupQueueItemResponse, error)
}

// Client enqueues downlinks on ChirpStack. It implements lns.Client.
type Client struct {
	conn    *grpc.ClientConn
	devices deviceEnqueuer
	groups  groupEnqueuer
	fPort   uint32
	acks    *AckTable
	tracked bool
	log     logger.Logger
}

// NewClient connects to the ChirpStack gRPC API. When the event stream is
// configured the returned client hands queue item ids to the txack listener;
// otherwise enqueue success counts as delivery.
func NewClient(cfg Config, log logger.Logger) (*Client, error) {
	cfg.SetDefaults()
	creds := insecure.NewCredentials()
	if cfg.UseTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	conn, err := grpc.NewClient(cfg.Server,
		grpc.WithTransportCredentials(creds),
		grpc.WithPerRPCCredentials(apiToken(cfg.APIToken)),
	)
	if err != nil {
		return nil, fmt.Errorf("chirpstack: %w", err)
	}
	return &Client{
		conn:    conn,
		devices: api.NewDeviceServiceClient(conn),
		groups:  api.NewMulticastGroupServiceClient(conn),
		fPort:   uint32(cfg.FPort),
		acks:    newAckTable(),
		tracked: cfg.Events.Enabled(),
		log:     log,
	}, nil
}

// Acks exposes the ack table for the txack listener.
func (c *Client) Acks() *AckTable { return c.acks }

// Close releases the gRPC connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Send enqueues the payload. Device downlinks return the queue item id when
// txack tracking is on; multicast downlinks fan out inside the network
// server and have no per-item ack, so they always return an empty id.
func (c *Client) Send(ctx context.Context, target model.Target, payload []byte) (string, error) {
	switch target.Kind {
	case model.TargetDevice:
		resp, err := c.devices.Enqueue(ctx, &api.EnqueueDeviceQueueItemRequest{
			QueueItem: &api.DeviceQueueItem{
				DevEui:    target.ID,
				FPort:     c.fPort,
				Confirmed: false,
				Data:      payload,
			},
		})
		if err != nil {
			return "", classify(err)
		}
		if !c.tracked {
			return "", nil
		}
		c.acks.register(resp.GetId())
		return resp.GetId(), nil
	case model.TargetDeviceGroup:
		_, err := c.groups.Enqueue(ctx, &api.EnqueueMulticastGroupQueueItemRequest{
			QueueItem: &api.MulticastGroupQueueItem{
				MulticastGroupId: target.ID,
				FPort:            c.fPort,
				Data:             payload,
			},
		})
		if err != nil {
			return "", classify(err)
		}
		return "", nil
	default:
		return "", lns.Permanent(fmt.Errorf("unknown target kind %q", target.Kind))
	}
}

// WaitForTxAck blocks until a gateway transmitted the queue item or timeout.
func (c *Client) WaitForTxAck(id string, timeout time.Duration) (bool, error) {
	return c.acks.wait(id, timeout)
}

// classify marks ChirpStack rejections that no retry can fix as permanent.
func classify(err error) error {
	switch status.Code(err) {
	case codes.NotFound, codes.InvalidArgument, codes.PermissionDenied, codes.Unauthenticated:
		return lns.Permanent(err)
	}
	return err
}

// AckTable correlates queue item ids with txack events.
type AckTable struct {
	mu    sync.Mutex
	chans map[string]chan struct{}
}

func newAckTable() *AckTable {
	return &AckTable{chans: make(map[string]chan struct{})}
}

func (t *AckTable) register(id string) {
	t.mu.Lock()
	t.chans[id] = make(chan struct{}, 1)
	t.mu.Unlock()
}

// Signal marks the queue item as transmitted. Unknown ids are dropped; they
// belong to downlinks some other process enqueued.
func (t *AckTable) Signal(id string) {
	t.mu.Lock()
	if ch, ok := t.chans[id]; ok {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	t.mu.Unlock()
}

func (t *AckTable) wait(id string, timeout time.Duration) (bool, error) {
	t.mu.Lock()
	ch := t.chans[id]
	t.mu.Unlock()
	if ch == nil {
		return false, fmt.Errorf("unknown queue item %s", id)
	}
	defer func() {
		t.mu.Lock()
		delete(t.chans, id)
		t.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true, nil
	case <-timer.C:
		return false, fmt.Errorf("%w", lns.ErrAckTimeout)
	}
}
