// Package discovery finds hosted games. A host registers a Record in a Directory through an
// Advertiser; players run a Browser that turns the records of a service into NetworkGames.
//
// The directory itself is pluggable: MemoryDirectory serves a single process and tests,
// EtcdDirectory shares games between machines through an etcd cluster.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/linchenxuan/slingshot/network/peer"
	"github.com/linchenxuan/slingshot/plugin"
)

// Service types. Players and spectators browse separately.
const (
	PlayerService    = "slingshot-p" // Games open to players
	SpectatorService = "slingshot-s" // Games open to spectators
)

// Discovery-info keys carried by a Record.
const (
	AttrGameName = "SlingshotGameAttributeName" // Display name of the game
	AttrLocation = "LocationAttributeName"      // Integer location code; non-numeric values read as 0
	AttrAppID    = "AppIdentifierAttributeName" // Application identity; browsers skip other values
	// AttrAddress is the host:port the host listens on and AttrNetwork the transport serving it.
	AttrAddress = "address"
	AttrNetwork = "network" // "tcp" or "kcp"
)

var (
	// ErrDefunctConnection reports a directory connection that failed but can be reopened.
	// Browsers restart after it; every other browse error is terminal.
	ErrDefunctConnection = errors.New("discovery: defunct connection")
	// ErrInvalidRecord is returned for records that cannot be registered.
	ErrInvalidRecord = errors.New("discovery: invalid record")
)

// Record is a registered game host.
type Record struct {
	Service string            // PlayerService or SpectatorService
	Host    peer.Player       // Identity of the hosting participant
	Info    map[string]string // Discovery info, keyed by the Attr constants
}

func (r Record) validate() error {
	if r.Service == "" {
		return fmt.Errorf("%w: empty service", ErrInvalidRecord)
	}
	if r.Host.IsZero() {
		return fmt.Errorf("%w: host has no identity", ErrInvalidRecord)
	}
	return nil
}

func (r Record) clone() Record {
	info := make(map[string]string, len(r.Info))
	for k, v := range r.Info {
		info[k] = v
	}
	r.Info = info
	return r
}

// UpdateKind discriminates Update.
type UpdateKind uint8

const (
	// Found adds or replaces a record.
	Found UpdateKind = iota + 1
	// Lost removes the record of Record.Host.
	Lost
	// Synced follows the initial listing of a browse.
	Synced
)

// Update is one change seen by a browse.
type Update struct {
	Kind   UpdateKind // What changed
	Record Record     // For Lost only Service and Host.ID are guaranteed
}

// Directory stores game records.
type Directory interface {
	plugin.Plugin
	// Register adds rec, replacing an earlier record of the same host and service.
	Register(ctx context.Context, rec Record) error
	// Deregister removes the record of id. Removing an absent record is not an error.
	Deregister(ctx context.Context, service string, id peer.ID) error
	// Browse sends every current record of service as Found, then Synced, then streams changes
	// until ctx ends, when it returns nil. ErrDefunctConnection in the returned error means a new
	// Browse may succeed.
	Browse(ctx context.Context, service string, out chan<- Update) error
}

// NetworkGame is a joinable game seen by a Browser. Games are the same game when their hosts are
// the same participant.
type NetworkGame struct {
	Host     peer.Player // Hosting participant
	Name     string      // From AttrGameName
	Location int         // From AttrLocation
	Address  string      // Dial address of the host
	Network  string      // Transport to dial with
}

// Equal reports whether g and o are hosted by the same participant.
func (g NetworkGame) Equal(o NetworkGame) bool {
	return g.Host.Equal(o.Host)
}

func gameFromRecord(r Record) NetworkGame {
	loc, err := strconv.Atoi(r.Info[AttrLocation])
	if err != nil {
		loc = 0
	}
	return NetworkGame{
		Host:     r.Host,
		Name:     r.Info[AttrGameName],
		Location: loc,
		Address:  r.Info[AttrAddress],
		Network:  r.Info[AttrNetwork],
	}
}

// send delivers u unless ctx ends first.
// send delivers u unless ctx ends first.
func send(ctx context.Context, out chan<- Update, u Update) bool {
	select {
	case out <- u:
		return true
	case <-ctx.Done():
		return false
	}
}
