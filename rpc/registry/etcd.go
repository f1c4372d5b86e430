package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	clientv3 "go.etcd.io/etcd/client/v3"
)

var Logger = logger.GetLogger("registry")

const keyPrefix = "/dlink/"

// ErrNoInstance is returned by Resolve if no instance of a service is registered
var ErrNoInstance = errors.New("no registered instance")

// Instance describes one registered server
type Instance struct {
	Addr       string    `json:"addr"`
	Version    string    `json:"version,omitempty"`
	Registered time.Time `json:"registered"`
}

// registration is a live lease of this process
type registration struct {
	lease  clientv3.LeaseID
	cancel context.CancelFunc
	done   chan struct{}
}

// EtcdRegistry registers and discovers servers in etcd. It is safe for concurrent use.
type EtcdRegistry struct {
	client *clientv3.Client

	mu     sync.Mutex
	leases map[string]*registration
}

// NewEtcdRegistry connects to the given etcd endpoints
func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration) (*EtcdRegistry, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("no etcd endpoints")
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return &EtcdRegistry{
		client: c,
		leases: make(map[string]*registration),
	}, nil
}

func serviceKey(service, addr string) string {
	return keyPrefix + service + "/" + addr
}

// Register stores instance under service with a lease of ttl seconds and
// keeps the lease alive until Deregister or Close
func (r *EtcdRegistry) Register(ctx context.Context, service string, instance Instance, ttl int64) error {
	if instance.Registered.IsZero() {
		instance.Registered = time.Now()
	}
	val, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("failed to encode instance: %w", err)
	}

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}

	key := serviceKey(service, instance.Addr)
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}

	// the keepalive outlives ctx, it stops with Deregister or Close
	keepCtx, cancel := context.WithCancel(context.Background())
	ch, err := r.client.KeepAlive(keepCtx, lease.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to keep lease alive: %w", err)
	}

	reg := &registration{lease: lease.ID, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(reg.done)
		for range ch {
		}
	}()

	r.mu.Lock()
	if old, ok := r.leases[key]; ok {
		old.cancel()
	}
	r.leases[key] = reg
	r.mu.Unlock()

	Logger.Infof("Registered %s (lease %x, ttl %ds)", key, lease.ID, ttl)
	return nil
}

// Deregister removes an instance and revokes its lease
func (r *EtcdRegistry) Deregister(ctx context.Context, service, addr string) error {
	key := serviceKey(service, addr)

	r.mu.Lock()
	reg, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	if ok {
		reg.cancel()
		<-reg.done
		if _, err := r.client.Revoke(ctx, reg.lease); err != nil {
			Logger.Warningf("Failed to revoke lease of %s: %v", key, err)
		}
	}
	if _, err := r.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	Logger.Infof("Deregistered %s", key)
	return nil
}

// Discover returns every registered instance of service. Malformed entries are skipped.
func (r *EtcdRegistry) Discover(ctx context.Context, service string) ([]Instance, error) {
	resp, err := r.client.Get(ctx, keyPrefix+service+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", service, err)
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance Instance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			Logger.Debugf("Skipping malformed entry %s: %v", kv.Key, err)
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Resolve picks a random instance of service and splits its address
func (r *EtcdRegistry) Resolve(ctx context.Context, service string) (string, int, error) {
	instances, err := r.Discover(ctx, service)
	if err != nil {
		return "", 0, err
	}
	if len(instances) == 0 {
		return "", 0, fmt.Errorf("%w of %q", ErrNoInstance, service)
	}
	return SplitAddr(instances[rand.IntN(len(instances))].Addr)
}

// Close stops every keepalive and closes the etcd client. Registered keys
// expire with their leases.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	leases := r.leases
	r.leases = make(map[string]*registration)
	r.mu.Unlock()

	for _, reg := range leases {
		reg.cancel()
		<-reg.done
	}
	return r.client.Close()
}

// SplitAddr splits host:port into its parts
func SplitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %w", addr, err)
	}
	return host, port, nil
}
