package irrigation_controller

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// DeviceRouter tells whether the device service watering a field can accept
// a valve command right now.
type DeviceRouter interface {
	Ready(ctx context.Context, field string) (bool, error)
	Close()
}

// deviceRouter keeps one gRPC health client per field.
type deviceRouter struct {
	mu    sync.RWMutex
	conns map[string]*grpc.ClientConn
	clis  map[string]healthpb.HealthClient
}

var _ DeviceRouter = (*deviceRouter)(nil)

// NewDeviceRouter parses "field1=host1:50051,field2=host2:50051". An empty map
// gives a router that reports every field ready.
func NewDeviceRouter(mapStr string, opts ...grpc.DialOption) (DeviceRouter, error) {
	if strings.TrimSpace(mapStr) == "" {
		return openRouter{}, nil
	}
	dr := &deviceRouter{
		conns: make(map[string]*grpc.ClientConn),
		clis:  make(map[string]healthpb.HealthClient),
	}
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)

	for _, p := range strings.Split(mapStr, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 || strings.TrimSpace(kv[0]) == "" || strings.TrimSpace(kv[1]) == "" {
			dr.Close()
			return nil, fmt.Errorf("invalid DEVICE_GRPC_ADDR_MAP entry: %q", p)
		}
		field, addr := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])

		conn, err := grpc.NewClient(addr, opts...)
		if err != nil {
			dr.Close()
			return nil, fmt.Errorf("dial %s (%s): %w", field, addr, err)
		}
		dr.conns[field] = conn
		dr.clis[field] = healthpb.NewHealthClient(conn)
	}
	return dr, nil
}

// Ready asks the field's device for the health of the service named after the field.
func (d *deviceRouter) Ready(ctx context.Context, field string) (bool, error) {
	d.mu.RLock()
	cli, ok := d.clis[field]
	d.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("no device route for field %s", field)
	}
	resp, err := cli.Check(ctx, &healthpb.HealthCheckRequest{Service: field})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

func (d *deviceRouter) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.conns {
		_ = c.Close()
	}
	d.conns = map[string]*grpc.ClientConn{}
	d.clis = map[string]healthpb.HealthClient{}
}

type openRouter struct{}

func (openRouter) Ready(context.Context, string) (bool, error) { return true, nil }
func (openRouter) Close()                                      {}
