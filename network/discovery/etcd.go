package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/linchenxuan/slingshot/log"
	"github.com/linchenxuan/slingshot/network/peer"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/namespace"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	_defaultEtcdPrefix         = "slingshot/"
	_defaultEtcdDialTimeout    = 2 * time.Second
	_defaultEtcdRequestTimeout = time.Second
	_defaultLeaseTTL           = 10

	_fieldUsername = "username"
	_fieldInfo     = "info"
)

// EtcdConfig configures an EtcdDirectory.
type EtcdConfig struct {
	Tag            string        `mapstructure:"tag"`            // Plugin instance tag
	Endpoints      []string      `mapstructure:"endpoints"`      // Cluster members, "host:port"
	DialTimeout    time.Duration `mapstructure:"dialTimeout"`    // Defaults to 2s
	RequestTimeout time.Duration `mapstructure:"requestTimeout"` // Bounds each get, put, delete and revoke
	Username       string        `mapstructure:"username"`       // Empty disables authentication
	Password       string        `mapstructure:"password"`       // Used with Username
	// Prefix namespaces every key of the directory.
	Prefix string `mapstructure:"prefix"`
	// LeaseTTL is the lifetime in seconds of a registration whose host stopped refreshing it.
	LeaseTTL int64 `mapstructure:"leaseTTL"`
}

// Validate fills defaults and requires at least one endpoint.
func (c *EtcdConfig) Validate() error {
	if len(c.Endpoints) == 0 {
		return errors.New("etcd directory needs at least one endpoint")
	}
	if c.DialTimeout < 0 || c.RequestTimeout < 0 || c.LeaseTTL < 0 {
		return errors.New("etcd timeouts must not be negative")
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = _defaultEtcdDialTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = _defaultEtcdRequestTimeout
	}
	if c.LeaseTTL == 0 {
		c.LeaseTTL = _defaultLeaseTTL
	}
	if c.Prefix == "" {
		c.Prefix = _defaultEtcdPrefix
	}
	if !strings.HasSuffix(c.Prefix, "/") {
		c.Prefix += "/"
	}
	return nil
}

// EtcdDirectory stores records in etcd under <prefix><service>/<host id>. Each registration is
// bound to a lease that is kept alive until Deregister, so the records of a host that died
// expire after LeaseTTL.
type EtcdDirectory struct {
	cfg    *EtcdConfig
	client *clientv3.Client

	mu   sync.Mutex
	regs map[string]*registration
}

// registration is a record written by this directory.
type registration struct {
	lease  clientv3.LeaseID   // Lease the key is bound to
	cancel context.CancelFunc // Stops the keep-alive
}

// NewEtcdDirectory connects to the cluster in cfg.
func NewEtcdDirectory(cfg *EtcdConfig) (*EtcdDirectory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd client: %w", err)
	}
	client.KV = namespace.NewKV(client.KV, cfg.Prefix)
	client.Watcher = namespace.NewWatcher(client.Watcher, cfg.Prefix)
	client.Lease = namespace.NewLease(client.Lease, cfg.Prefix)
	return &EtcdDirectory{cfg: cfg, client: client, regs: make(map[string]*registration)}, nil
}

// FactoryName implements plugin.Plugin.
func (d *EtcdDirectory) FactoryName() string { return _etcdFactoryName }

// recordKey is relative to the configured prefix; the namespaced client adds it.
func recordKey(service string, id peer.ID) string {
	return service + "/" + id.String()
}

// Register writes rec under a fresh lease and keeps the lease alive in the background.
// Registering the same host again rewrites the value under the existing lease.
func (d *EtcdDirectory) Register(ctx context.Context, rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	value, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	key := recordKey(rec.Service, rec.Host.ID)
	ctx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	defer cancel()

	d.mu.Lock()
	defer d.mu.Unlock()
	if reg, ok := d.regs[key]; ok {
		if _, err := d.client.Put(ctx, key, string(value), clientv3.WithLease(reg.lease)); err != nil {
			return fmt.Errorf("etcd put %s: %w", key, err)
		}
		return nil
	}

	grant, err := d.client.Grant(ctx, d.cfg.LeaseTTL)
	if err != nil {
		return fmt.Errorf("etcd grant lease: %w", err)
	}
	if _, err := d.client.Put(ctx, key, string(value), clientv3.WithLease(grant.ID)); err != nil {
		_, _ = d.client.Revoke(context.Background(), grant.ID)
		return fmt.Errorf("etcd put %s: %w", key, err)
	}
	kaCtx, kaCancel := context.WithCancel(context.Background())
	ka, err := d.client.KeepAlive(kaCtx, grant.ID)
	if err != nil {
		kaCancel()
		_, _ = d.client.Revoke(context.Background(), grant.ID)
		return fmt.Errorf("etcd keep lease alive: %w", err)
	}
	d.regs[key] = &registration{lease: grant.ID, cancel: kaCancel}
	go drainKeepAlive(kaCtx, key, ka)
	return nil
}

// drainKeepAlive consumes keep-alive responses so the client does not log a full channel.
// The channel closes when the lease is lost or the registration is cancelled.
func drainKeepAlive(ctx context.Context, key string, ka <-chan *clientv3.LeaseKeepAliveResponse) {
	for range ka {
	}
	if ctx.Err() == nil {
		log.Warn().Str("key", key).Msg("etcd lease keep-alive stopped, record will expire")
	}
}

// Deregister revokes the lease of a registration made by this directory, which deletes the
// key. Keys written by other processes are deleted directly.
func (d *EtcdDirectory) Deregister(ctx context.Context, service string, id peer.ID) error {
	key := recordKey(service, id)
	ctx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	defer cancel()

	d.mu.Lock()
	reg, ok := d.regs[key]
	delete(d.regs, key)
	d.mu.Unlock()
	if !ok {
		if _, err := d.client.Delete(ctx, key); err != nil {
			return fmt.Errorf("etcd delete %s: %w", key, err)
		}
		return nil
	}
	reg.cancel()
	if _, err := d.client.Revoke(ctx, reg.lease); err != nil {
		return fmt.Errorf("etcd revoke lease of %s: %w", key, err)
	}
	return nil
}

// Browse lists the service prefix, then watches it from the revision after the listing so no
// change is missed between the two. A failed listing and a closed or compacted watch are
// reported as ErrDefunctConnection.
func (d *EtcdDirectory) Browse(ctx context.Context, service string, out chan<- Update) error {
	prefix := service + "/"
	getCtx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	resp, err := d.client.Get(getCtx, prefix, clientv3.WithPrefix())
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: etcd list %s: %v", ErrDefunctConnection, prefix, err)
	}
	for _, kv := range resp.Kvs {
		rec, err := decodeRecord(service, string(kv.Key), kv.Value)
		if err != nil {
			log.Warn().Err(err).Str("key", string(kv.Key)).Msg("skipping undecodable game record")
			continue
		}
		if !send(ctx, out, Update{Kind: Found, Record: rec}) {
			return nil
		}
	}
	if !send(ctx, out, Update{Kind: Synced}) {
		return nil
	}

	wctx, wcancel := context.WithCancel(clientv3.WithRequireLeader(ctx))
	defer wcancel()
	wch := d.client.Watch(wctx, prefix, clientv3.WithPrefix(), clientv3.WithRev(resp.Header.Revision+1))
	for {
		select {
		case <-ctx.Done():
			return nil
		case wr, ok := <-wch:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: etcd watch closed", ErrDefunctConnection)
			}
			if wr.CompactRevision != 0 {
				return fmt.Errorf("%w: etcd watch compacted at revision %d", ErrDefunctConnection, wr.CompactRevision)
			}
			if err := wr.Err(); err != nil {
				return fmt.Errorf("%w: etcd watch: %v", ErrDefunctConnection, err)
			}
			for _, ev := range wr.Events {
				u, err := watchUpdate(service, ev)
				if err != nil {
					log.Warn().Err(err).Str("key", string(ev.Kv.Key)).Msg("skipping undecodable game record")
					continue
				}
				if !send(ctx, out, u) {
					return nil
				}
			}
		}
	}
}

// watchUpdate converts a watch event. Deletes carry only the key, so a Lost update has no
// username or info.
func watchUpdate(service string, ev *clientv3.Event) (Update, error) {
	key := string(ev.Kv.Key)
	if ev.Type == clientv3.EventTypeDelete {
		id, err := hostFromKey(service, key)
		if err != nil {
			return Update{}, err
		}
		return Update{Kind: Lost, Record: Record{Service: service, Host: peer.Player{ID: id}}}, nil
	}
	rec, err := decodeRecord(service, key, ev.Kv.Value)
	if err != nil {
		return Update{}, err
	}
	return Update{Kind: Found, Record: rec}, nil
}

// Close stops every keep-alive and closes the client. Registrations expire with their leases.
func (d *EtcdDirectory) Close() error {
	d.mu.Lock()
	for key, reg := range d.regs {
		reg.cancel()
		delete(d.regs, key)
	}
	d.mu.Unlock()
	return d.client.Close()
}

// encodeRecord stores the username and info as a protobuf Struct. The host id and service live
// in the key.
func encodeRecord(rec Record) ([]byte, error) {
	info := make(map[string]any, len(rec.Info))
	for k, v := range rec.Info {
		info[k] = v
	}
	st, err := structpb.NewStruct(map[string]any{
		_fieldUsername: rec.Host.Username,
		_fieldInfo:     info,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return proto.Marshal(st)
}

// hostFromKey parses the host id out of "<service>/<id>".
func hostFromKey(service, key string) (peer.ID, error) {
	raw, ok := strings.CutPrefix(key, service+"/")
	if !ok {
		return peer.ID{}, fmt.Errorf("key %q outside service %q", key, service)
	}
	return peer.ParseID(raw)
}

// decodeRecord is the inverse of encodeRecord. Non-string info values read as empty strings.
func decodeRecord(service, key string, value []byte) (Record, error) {
	id, err := hostFromKey(service, key)
	if err != nil {
		return Record{}, err
	}
	st := &structpb.Struct{}
	if err := proto.Unmarshal(value, st); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	rec := Record{
		Service: service,
		Host:    peer.Player{ID: id, Username: st.GetFields()[_fieldUsername].GetStringValue()},
		Info:    make(map[string]string),
	}
	for k, v := range st.GetFields()[_fieldInfo].GetStructValue().GetFields() {
		rec.Info[k] = v.GetStringValue()
	}
	return rec, nil
}
