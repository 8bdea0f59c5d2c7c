// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package activenode

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/wire"
	"github.com/noirofficial/noir-sub000/internal/snode"
	"github.com/noirofficial/noir-sub000/snwire"
)

const (
	// ManageInterval is the interval at which Run invokes ManageState.
	ManageInterval = time.Minute

	// probeTimeout bounds the inbound reachability probe.
	probeTimeout = 5 * time.Second
)

// ErrNoCollateral is returned by a Wallet that holds no usable collateral
// output.
var ErrNoCollateral = errors.New("no collateral output available")

// Mode is how the local service node was announced.
type Mode int

// These constants define the controller modes.
const (
	// ModeUnknown is the mode before the local network configuration was
	// validated.
	ModeUnknown Mode = iota

	// ModeRemote is used when the broadcast was created by another process
	// holding the collateral.
	ModeRemote

	// ModeLocal is used when the local wallet holds the collateral.
	ModeLocal
)

// String returns the mode as a human-readable name.
func (m Mode) String() string {
	switch m {
	case ModeUnknown:
		return "UNKNOWN"
	case ModeRemote:
		return "REMOTE"
	case ModeLocal:
		return "LOCAL"
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(m))
}

// State is the activation state of the local service node.
type State int

// These constants define the activation states.
const (
	StateInitial State = iota
	StateSyncInProgress
	StateInputTooNew
	StateNotCapable
	StateStarted
)

var stateStrings = map[State]string{
	StateInitial:        "INITIAL",
	StateSyncInProgress: "SYNC_IN_PROGRESS",
	StateInputTooNew:    "INPUT_TOO_NEW",
	StateNotCapable:     "NOT_CAPABLE",
	StateStarted:        "STARTED",
}

// String returns the state as a human-readable name.
func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(s))
}

// Wallet is the subset of the wallet the controller uses to find and reserve
// the collateral of a locally controlled node.
type Wallet interface {
	// CollateralAndKeys returns an unspent output holding exactly the
	// collateral amount together with the private key that controls it.
	// It returns ErrNoCollateral when there is none.
	CollateralAndKeys() (wire.OutPoint, *secp256k1.PrivateKey, error)

	// LockCoin prevents op from being spent by the wallet.
	LockCoin(op wire.OutPoint)
}

// Registry is the subset of the service node registry the controller drives.
type Registry interface {
	Has(op wire.OutPoint) bool
	FindByOperatorKey(key []byte) (snode.Record, bool)
	Check(op wire.OutPoint)
	UpdateList(b *snwire.MsgSNBroadcast)
	SetLastPing(ping *snwire.MsgSNPing)
	IsPingedWithin(op wire.OutPoint, d time.Duration) bool
}

// Config is a descriptor containing the controller configuration.
type Config struct {
	// Params are the network specific service node parameters.
	Params *snode.Params

	// Chain is the view of the base chain.
	Chain snode.ChainView

	// Transport is used to relay the broadcast and the pings.
	Transport snode.Transport

	// Registry is the service node registry.  It may be assigned after New
	// as long as that happens before the first call to ManageState.
	Registry Registry

	// Wallet provides the collateral in local mode.  It may be nil.
	Wallet Wallet

	// OperatorKey is the operating key of the local node.  The process is
	// not a service node when it is nil.
	OperatorKey *secp256k1.PrivateKey

	// Listen reports whether the process accepts inbound connections.
	Listen bool

	// ExternalAddr is the configured public address, if any.
	ExternalAddr netip.AddrPort

	// LocalAddr returns the best local address to advertise to the given
	// remote address.  It may be nil.
	LocalAddr func(remote netip.AddrPort) (netip.AddrPort, bool)

	// Probe opens and closes a connection to addr to prove it accepts
	// inbound connections.  It defaults to a plain TCP dial.
	Probe func(addr netip.AddrPort) error

	// IsBlockchainSynced reports whether the base chain is synced.
	IsBlockchainSynced func() bool

	// Now returns the current adjusted time.  It defaults to time.Now.
	Now func() time.Time
}

// Controller manages the activation of the service node run by this process.
// It is safe for concurrent access.
type Controller struct {
	cfg *Config

	// manageMtx serializes ManageState.  The fields below are only written
	// while it is held.
	manageMtx sync.Mutex

	// mtx protects the fields below for readers outside ManageState.
	mtx           sync.RWMutex
	mode          Mode
	state         State
	reason        string
	outpoint      wire.OutPoint
	addr          netip.AddrPort
	pingerEnabled bool
}

var _ snode.LocalNode = (*Controller)(nil)

func defaultProbe(addr netip.AddrPort) error {
	conn, err := net.DialTimeout("tcp", addr.String(), probeTimeout)
	if err != nil {
		return err
	}
	return conn.Close()
}

// New returns a new controller.  The configuration is retained, not copied.
func New(cfg *Config) *Controller {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Probe == nil {
		cfg.Probe = defaultProbe
	}
	if cfg.IsBlockchainSynced == nil {
		cfg.IsBlockchainSynced = func() bool { return true }
	}
	return &Controller{cfg: cfg}
}

// OperatorKey returns the operating key of the local node or nil when the
// process is not a service node.
func (c *Controller) OperatorKey() *secp256k1.PrivateKey {
	return c.cfg.OperatorKey
}

// Identity returns the collateral outpoint of the local node once it has been
// started.
func (c *Controller) Identity() (wire.OutPoint, bool) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.outpoint, c.state == StateStarted
}

// Mode returns the current mode.
func (c *Controller) Mode() Mode {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.mode
}

// State returns the current activation state.
func (c *Controller) State() State {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.state
}

// Addr returns the detected service address of the local node.
func (c *Controller) Addr() netip.AddrPort {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.addr
}

// NotCapableReason returns the reason the node could not be started, if any.
func (c *Controller) NotCapableReason() string {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.reason
}

// Status returns a human-readable description of the activation state.
func (c *Controller) Status() string {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	switch c.state {
	case StateInitial:
		return "Node just started, not yet activated"
	case StateSyncInProgress:
		return "Sync in progress. Must wait until sync is complete to " +
			"start the service node"
	case StateInputTooNew:
		return fmt.Sprintf("Service node input must have at least %d "+
			"confirmations", snode.CollateralConfirmations)
	case StateNotCapable:
		return "Not capable service node: " + c.reason
	case StateStarted:
		return "Service node successfully started"
	}
	return "Unknown"
}

func (c *Controller) setState(state State, reason string) {
	c.mtx.Lock()
	if c.state != state || c.reason != reason {
		log.Debugf("Local service node state %v -> %v %s", c.state, state,
			reason)
	}
	c.state = state
	c.reason = reason
	c.mtx.Unlock()
}

func (c *Controller) notCapable(format string, args ...interface{}) {
	reason := fmt.Sprintf(format, args...)
	c.setState(StateNotCapable, reason)
	log.Infof("Local service node not capable: %s", reason)
}

// ManageState advances the activation of the local node and sends a ping when
// one is due.  It is invoked every ManageInterval by Run and whenever the
// bootstrap sync finishes.
func (c *Controller) ManageState() {
	if c.cfg.OperatorKey == nil {
		return
	}

	c.manageMtx.Lock()
	defer c.manageMtx.Unlock()

	if !c.cfg.IsBlockchainSynced() {
		c.setState(StateSyncInProgress, "")
		return
	}
	if c.state == StateSyncInProgress {
		c.setState(StateInitial, "")
	}

	if c.mode == ModeUnknown {
		c.manageInitial()
	}
	switch c.mode {
	case ModeRemote:
		c.manageRemote()
	case ModeLocal:
		// A local node whose broadcast is already known is restarted like
		// a remote one without a new broadcast.
		c.manageRemote()
		if c.state != StateStarted {
			c.manageLocal()
		}
	}

	c.sendPing()
}

// detectAddr returns the public address of this process.
func (c *Controller) detectAddr() (netip.AddrPort, error) {
	params := c.cfg.Params
	if snode.IsValidNetAddr(params, c.cfg.ExternalAddr) {
		return c.cfg.ExternalAddr, nil
	}
	peers := c.cfg.Transport.Peers()
	if len(peers) == 0 {
		return netip.AddrPort{}, errors.New("can't detect valid external " +
			"address, will retry when there are some connections available")
	}
	if c.cfg.LocalAddr != nil {
		for _, peer := range peers {
			if !peer.Addr().Addr().Unmap().Is4() {
				continue
			}
			addr, ok := c.cfg.LocalAddr(peer.Addr())
			if ok && snode.IsValidNetAddr(params, addr) {
				return addr, nil
			}
		}
	}
	return netip.AddrPort{}, errors.New("can't detect valid external " +
		"address, consider setting the external IPv4 address")
}

// manageInitial validates the local network configuration and picks the
// mode.
//
// This function MUST be called with the manage lock held.
func (c *Controller) manageInitial() {
	if !c.cfg.Listen {
		c.notCapable("service node must accept connections from outside")
		return
	}
	addr, err := c.detectAddr()
	if err != nil {
		c.notCapable("%v", err)
		return
	}
	if err := snode.CheckPort(c.cfg.Params, addr.Port()); err != nil {
		c.notCapable("%v", err)
		return
	}

	log.Infof("Checking inbound connection to %v", addr)
	if err := c.cfg.Probe(addr); err != nil {
		c.notCapable("could not connect to %v: %v", addr, err)
		return
	}

	mode := ModeRemote
	if c.cfg.Wallet != nil {
		_, _, err := c.cfg.Wallet.CollateralAndKeys()
		switch {
		case err == nil:
			mode = ModeLocal
		case errors.Is(err, ErrNoCollateral):
		default:
			log.Infof("Wallet collateral unavailable: %v", err)
		}
	}

	c.mtx.Lock()
	c.addr = addr
	c.mode = mode
	c.mtx.Unlock()
	log.Infof("Local service node at %v runs in %v mode", addr, mode)
}

// manageRemote adopts the registry record announcing the local operating key.
//
// This function MUST be called with the manage lock held.
func (c *Controller) manageRemote() {
	key := c.cfg.OperatorKey.PubKey().SerializeCompressed()
	rec, ok := c.cfg.Registry.FindByOperatorKey(key)
	if ok {
		c.cfg.Registry.Check(rec.Outpoint)
		rec, ok = c.cfg.Registry.FindByOperatorKey(key)
	}
	if !ok {
		c.notCapable("service node not in the registry")
		return
	}
	if rec.ProtocolVersion != snwire.ProtocolVersion {
		c.notCapable("invalid protocol version %d", rec.ProtocolVersion)
		return
	}
	if rec.Addr != c.addr {
		c.notCapable("announced address %v doesn't match our external "+
			"address %v, a new broadcast is required", rec.Addr, c.addr)
		return
	}
	if !rec.State.IsValidForAutoStart() {
		c.notCapable("service node in %v state", rec.State)
		return
	}
	if c.state == StateStarted {
		return
	}

	c.mtx.Lock()
	c.outpoint = rec.Outpoint
	c.addr = rec.Addr
	c.pingerEnabled = true
	c.mtx.Unlock()
	c.setState(StateStarted, "")
	log.Infof("Started remote service node %v", rec.Outpoint)
}

// manageLocal creates, applies and relays a broadcast for the collateral
// held by the wallet.
//
// This function MUST be called with the manage lock held.
func (c *Controller) manageLocal() {
	if c.state == StateStarted {
		return
	}
	op, collateralKey, err := c.cfg.Wallet.CollateralAndKeys()
	if err != nil {
		return
	}

	entry, err := c.cfg.Chain.FetchUtxoEntry(op)
	if err != nil {
		log.Warnf("Unable to look up collateral %v: %v", op, err)
		return
	}
	if entry == nil {
		c.notCapable("collateral %v is spent or unknown", op)
		return
	}
	_, tip := c.cfg.Chain.BestBlock()
	age := entry.Confirmations(tip)
	if age < snode.CollateralConfirmations {
		reason := fmt.Sprintf("%d confirmations", age)
		c.setState(StateInputTooNew, reason)
		return
	}

	c.cfg.Wallet.LockCoin(op)

	bcast, err := snode.CreateBroadcast(c.cfg.Params, c.cfg.Chain,
		&snode.BroadcastConfig{
			Outpoint:      op,
			Addr:          c.addr,
			CollateralKey: collateralKey,
			OperatorKey:   c.cfg.OperatorKey,
		}, c.cfg.Now())
	if err != nil {
		c.notCapable("error creating service node broadcast: %v", err)
		return
	}

	c.mtx.Lock()
	c.outpoint = op
	c.pingerEnabled = true
	c.mtx.Unlock()
	c.setState(StateStarted, "")
	log.Infof("Started local service node %v at %v", op, c.addr)

	c.cfg.Registry.UpdateList(bcast)
	c.cfg.Transport.RelayMessage(bcast)
}

// sendPing relays a fresh ping for the started node unless the previous one
// is younger than snode.MinPingInterval.
//
// This function MUST be called with the manage lock held.
func (c *Controller) sendPing() bool {
	if !c.pingerEnabled {
		return false
	}
	if !c.cfg.Registry.Has(c.outpoint) {
		c.notCapable("service node not in the registry")
		return false
	}
	if c.cfg.Registry.IsPingedWithin(c.outpoint, snode.MinPingInterval) {
		log.Tracef("Too early to ping service node %v", c.outpoint)
		return false
	}
	ping, err := snode.NewPing(c.cfg.Params, c.cfg.Chain, c.outpoint,
		c.cfg.OperatorKey, c.cfg.Now())
	if err != nil {
		log.Warnf("Unable to create ping: %v", err)
		return false
	}
	c.cfg.Registry.SetLastPing(ping)
	log.Debugf("Relaying ping for service node %v", c.outpoint)
	c.cfg.Transport.RelayMessage(ping)
	return true
}

// Run manages the local node state until the provided context is cancelled.
func (c *Controller) Run(ctx context.Context) {
	if c.cfg.OperatorKey == nil {
		return
	}
	log.Trace("Starting local service node controller")
	ticker := time.NewTicker(ManageInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.ManageState()
		case <-ctx.Done():
			log.Trace("Local service node controller stopped")
			return
		}
	}
}
