// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package snode

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/decred/dcrd/addrmgr/v3"
)

// IsValidNetAddr returns whether addr may be announced as a service address
// on the network described by params.  Test networks that permit private
// addresses accept any valid IP.
func IsValidNetAddr(params *Params, addr netip.AddrPort) bool {
	if !addr.IsValid() || addr.Addr().IsUnspecified() {
		return false
	}
	if params.AllowPrivateAddrs {
		return true
	}
	return addrmgr.IsRoutable(net.IP(addr.Addr().AsSlice()))
}

// CheckPort enforces the port policy: the main network requires its default
// port and every other network must not use it.
func CheckPort(params *Params, port uint16) error {
	if params.IsMainNet() {
		if port != params.MainNetPort {
			str := fmt.Sprintf("invalid port %d for main network, "+
				"expected %d", port, params.MainNetPort)
			return ruleError(ErrBadPort, 0, str)
		}
		return nil
	}
	if port == params.MainNetPort {
		str := fmt.Sprintf("port %d is reserved for the main network", port)
		return ruleError(ErrBadPort, 0, str)
	}
	return nil
}
