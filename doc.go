// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2022 The Decred developers
// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
snoded runs the service node subsystem next to a base node.

It keeps the registry of collateral-backed service nodes, elects the node owed
the service node share of each block reward, gathers the payment votes that
confirm the election and syncs all of that from its peers when it starts.  The
base chain is read from the RPC server of a base node.  When configured with an
operating key it also activates and pings the service node run by this process.

The long form of all of the options (except -C) can be specified in a
configuration file that is automatically parsed when snoded starts up.  By
default, the configuration file is located at ~/.snoded/snoded.conf on
POSIX-style operating systems and %LOCALAPPDATA%\snoded\snoded.conf on Windows.

Usage:

	snoded [OPTIONS]

Application Options:

	-V, --version               Display version information and exit
	-A, --appdata=              Path to application home directory
	-C, --configfile=           Path to configuration file
	-b, --datadir=              Directory to store the service node cache
	    --logdir=               Directory to log output
	    --nofilelogging         Disable file logging
	    --logsize=              Number of rotated log files to keep
	-d, --debuglevel=           Logging level for all subsystems {trace, debug,
	                            info, warn, error, critical} -- You may also
	                            specify <subsystem>=<level>,<subsystem2>=<level>,...
	                            to set the log level for individual subsystems --
	                            Use show to list available subsystems (info)
	    --nodiskcache           Do not load or store the service node registry
	                            and payment votes on disk
	    --testnet               Use the test network
	    --simnet                Use the simulation test network
	    --regnet                Use the regression test network
	    --listen=               Add an interface/port to listen for service node
	                            connections
	    --nolisten              Disable listening for incoming connections
	    --connect=              Keep a permanent connection to the specified peer
	    --externalip=           Public address of this service node
	    --maxpeers=             Max number of inbound and outbound peers (125)
	    --nobanning             Disable banning of misbehaving peers
	    --banduration=          How long to ban misbehaving peers (24h0m0s)
	    --banthreshold=         Maximum allowed ban score before disconnecting
	                            and banning misbehaving peers (100)
	    --whitelist=            Add an IP network or IP that will not be banned
	    --servicenode           Run as a service node
	    --servicenodekey=       WIF encoded operating key of the service node
	    --collateral=           Collateral outpoint of the service node
	                            (txid:index)
	    --collateralkey=        WIF encoded key of the collateral output
	    --snreward=             Service node share of each block reward in coins
	    --rpcserver=            Base node RPC server to connect to
	-u, --rpcuser=              Base node RPC username
	-P, --rpcpass=              Base node RPC password
	    --rpccert=              Base node RPC server certificate chain
	    --norpctls              Disable TLS for the base node RPC connection
	    --paymentenforcement    Reject blocks that do not pay the elected node
	    --payupdatednodes       Only pay service nodes running the latest
	                            protocol version
	    --watchdogrequired      Require service nodes to keep casting watchdog
	                            votes

Help Options:

	-h, --help                  Show this help message
*/
package main
