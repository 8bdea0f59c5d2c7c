// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2024 The Decred developers
// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/wire"
	flags "github.com/jessevdk/go-flags"
	"github.com/noirofficial/noir-sub000/internal/snode"
	"github.com/noirofficial/noir-sub000/internal/version"
	"github.com/noirofficial/noir-sub000/sampleconfig"
)

const (
	defaultConfigFilename = "snoded.conf"
	defaultDataDirname    = "data"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "snoded.log"
	defaultLogSize        = 3
	defaultMaxPeers       = 125
	defaultBanDuration    = time.Hour * 24
	defaultBanThreshold   = 100
	defaultRPCCertFile    = "rpc.cert"
)

var (
	defaultHomeDir    = dcrutil.AppDataDir("snoded", false)
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(defaultHomeDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(defaultHomeDir, defaultLogDirname)
	defaultRPCCert    = filepath.Join(dcrutil.AppDataDir("dcrd", false),
		defaultRPCCertFile)
)

// errSuppressUsage signifies that an error that happened during the initial
// configuration phase should suppress the usage output since it was not caused
// by the user.
type errSuppressUsage string

// Error implements the error interface.
func (e errSuppressUsage) Error() string {
	return string(e)
}

// config defines the configuration options for snoded.
//
// See loadConfig for details on the configuration load process.
type config struct {
	// General application behavior.
	ShowVersion   bool   `short:"V" long:"version" description:"Display version information and exit"`
	HomeDir       string `short:"A" long:"appdata" description:"Path to application home directory"`
	ConfigFile    string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir       string `short:"b" long:"datadir" description:"Directory to store the service node cache"`
	LogDir        string `long:"logdir" description:"Directory to log output"`
	NoFileLogging bool   `long:"nofilelogging" description:"Disable file logging"`
	LogSize       int    `long:"logsize" description:"Number of rotated log files to keep"`
	DebugLevel    string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	NoDiskCache   bool   `long:"nodiskcache" description:"Do not load or store the service node registry and payment votes on disk"`

	// Network selection.
	TestNet bool `long:"testnet" description:"Use the test network"`
	SimNet  bool `long:"simnet" description:"Use the simulation test network"`
	RegNet  bool `long:"regnet" description:"Use the regression test network"`

	// Peer networking.
	Listeners      []string      `long:"listen" description:"Add an interface/port to listen for service node connections (default all interfaces port: 9108, testnet: 19108)"`
	DisableListen  bool          `long:"nolisten" description:"Disable listening for incoming connections"`
	ConnectPeers   []string      `long:"connect" description:"Keep a permanent connection to the specified peer"`
	ExternalIP     string        `long:"externalip" description:"Public address of this service node"`
	MaxPeers       int           `long:"maxpeers" description:"Max number of inbound and outbound peers"`
	DisableBanning bool          `long:"nobanning" description:"Disable banning of misbehaving peers"`
	BanDuration    time.Duration `long:"banduration" description:"How long to ban misbehaving peers.  Valid time units are {s, m, h}.  Minimum 1 second"`
	BanThreshold   uint32        `long:"banthreshold" description:"Maximum allowed ban score before disconnecting and banning misbehaving peers"`
	Whitelists     []string      `long:"whitelist" description:"Add an IP network or IP that will not be banned (eg. 192.168.1.0/24 or ::1)"`

	// Service node.
	ServiceNode    bool    `long:"servicenode" description:"Run as a service node"`
	ServiceNodeKey string  `long:"servicenodekey" description:"WIF encoded operating key of the service node"`
	Collateral     string  `long:"collateral" description:"Collateral outpoint of the service node (txid:index) when the collateral key is held locally"`
	CollateralKey  string  `long:"collateralkey" description:"WIF encoded key of the collateral output"`
	SNReward       float64 `long:"snreward" description:"Service node share of each block reward in coins"`

	// Chain view backend.
	RPCServer string `long:"rpcserver" description:"Base node RPC server to connect to"`
	RPCUser   string `short:"u" long:"rpcuser" description:"Base node RPC username"`
	RPCPass   string `short:"P" long:"rpcpass" default-mask:"-" description:"Base node RPC password"`
	RPCCert   string `long:"rpccert" description:"Base node RPC server certificate chain for validation"`
	NoRPCTLS  bool   `long:"norpctls" description:"Disable TLS for the base node RPC connection"`

	// Static network feature switches.
	PaymentEnforcement bool `long:"paymentenforcement" description:"Reject blocks that do not pay the elected service node"`
	PayUpdatedNodes    bool `long:"payupdatednodes" description:"Only pay service nodes running the latest protocol version"`
	WatchdogRequired   bool `long:"watchdogrequired" description:"Require service nodes to keep casting watchdog votes"`

	// The following fields are derived from the above fields during loading.
	params        *netParams
	listenAddrs   []string
	connectPeers  []netip.AddrPort
	externalAddr  netip.AddrPort
	whitelists    []netip.Prefix
	operatorKey   *secp256k1.PrivateKey
	collateral    *wire.OutPoint
	collateralKey *secp256k1.PrivateKey
	snReward      dcrutil.Amount
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Nothing to do when no path is given.
	if path == "" {
		return path
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows cmd.exe-style
	// %VARIABLE%, but the variables can still be expanded via POSIX-style
	// $VARIABLE.
	path = os.ExpandEnv(path)

	if !strings.HasPrefix(path, "~") {
		return filepath.Clean(path)
	}

	// Expand initial ~ to the current user's home directory, or ~otheruser to
	// otheruser's home directory.  On Windows, both forward and backward
	// slashes can be used.
	path = path[1:]

	var pathSeparators string
	if runtime.GOOS == "windows" {
		pathSeparators = string(os.PathSeparator) + "/"
	} else {
		pathSeparators = string(os.PathSeparator)
	}

	userName := ""
	if i := strings.IndexAny(path, pathSeparators); i != -1 {
		userName = path[:i]
		path = path[i:]
	}

	homeDir := ""
	if userName == "" {
		homeDir, _ = os.UserHomeDir()
	}
	if homeDir == "" {
		// Fallback to CWD if user lookup fails or is disallowed.
		homeDir = "."
	}

	return filepath.Join(homeDir, path)
}

// normalizeAddress returns addr with the passed default port appended if there
// is not already a port specified.
func normalizeAddress(addr, defaultPort string) string {
	_, _, err := net.SplitHostPort(addr)
	if err != nil {
		return net.JoinHostPort(addr, defaultPort)
	}
	return addr
}

// parseAddrPort parses a numeric address with an optional port.
func parseAddrPort(addr string, defaultPort uint16) (netip.AddrPort, error) {
	ap, err := netip.ParseAddrPort(normalizeAddress(addr,
		strconv.Itoa(int(defaultPort))))
	if err != nil {
		return netip.AddrPort{}, err
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}

// parseOutPoint parses a collateral outpoint in the form txid:index.
func parseOutPoint(s string) (*wire.OutPoint, error) {
	txid, index, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("outpoint %q is not in the form txid:index", s)
	}
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, fmt.Errorf("invalid outpoint hash %q: %w", txid, err)
	}
	idx, err := strconv.ParseUint(index, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid outpoint index %q: %w", index, err)
	}
	return wire.NewOutPoint(hash, uint32(idx), wire.TxTreeRegular), nil
}

// parsePrivateKey decodes a WIF encoded secp256k1 private key for the given
// network.
func parsePrivateKey(wif string, net *chaincfg.Params) (*secp256k1.PrivateKey, error) {
	decoded, err := dcrutil.DecodeWIF(wif, net.PrivateKeyID)
	if err != nil {
		return nil, err
	}
	return secp256k1.PrivKeyFromBytes(decoded.PrivKey()), nil
}

// parseWhitelist parses an IP network or a single IP.
func parseWhitelist(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		prefix, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

// createDefaultConfigFile writes the sample configuration to the given path
// when it does not exist yet.
func createDefaultConfigFile(destPath string) error {
	// Create the destination directory if it does not exist.
	err := os.MkdirAll(filepath.Dir(destPath), 0700)
	if err != nil {
		return err
	}

	dest, err := os.OpenFile(destPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer dest.Close()

	_, err = dest.WriteString(sampleconfig.Snoded())
	return err
}

// newConfigParser returns a new command line flags parser.
func newConfigParser(cfg *config, options flags.Options) *flags.Parser {
	return flags.NewParser(cfg, options)
}

// defaultConfig returns the configuration with all defaults applied.
func defaultConfig() config {
	return config{
		HomeDir:      defaultHomeDir,
		ConfigFile:   defaultConfigFile,
		DataDir:      defaultDataDir,
		LogDir:       defaultLogDir,
		LogSize:      defaultLogSize,
		DebugLevel:   defaultLogLevel,
		MaxPeers:     defaultMaxPeers,
		BanDuration:  defaultBanDuration,
		BanThreshold: defaultBanThreshold,
		RPCServer:    "localhost",
		RPCCert:      defaultRPCCert,
	}
}

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in snoded functioning properly without any config settings
// while still allowing the user to override settings with config files and
// command line options.  Command line options always take precedence.
func loadConfig(appName string, args []string) (*config, []string, error) {
	cfg := defaultConfig()

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.  Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := cfg
	preParser := newConfigParser(&preCfg, flags.HelpFlag)
	_, err := preParser.ParseArgs(args)
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
	}

	// Show the version and exit if the version flag was specified.
	if preCfg.ShowVersion {
		fmt.Printf("%s version %s (Go version %s %s/%s)\n", appName,
			version.String(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	// Update the home directory if specified.  Since the home directory is
	// updated, other variables need to be updated to reflect the new
	// changes.
	if preCfg.HomeDir != defaultHomeDir {
		cfg.HomeDir = cleanAndExpandPath(preCfg.HomeDir)
		if preCfg.ConfigFile == defaultConfigFile {
			cfg.ConfigFile = filepath.Join(cfg.HomeDir, defaultConfigFilename)
		} else {
			cfg.ConfigFile = cleanAndExpandPath(preCfg.ConfigFile)
		}
		if preCfg.DataDir == defaultDataDir {
			cfg.DataDir = filepath.Join(cfg.HomeDir, defaultDataDirname)
		}
		if preCfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(cfg.HomeDir, defaultLogDirname)
		}
	} else {
		cfg.ConfigFile = cleanAndExpandPath(preCfg.ConfigFile)
	}

	// Create a default config file when one does not exist and the user did
	// not specify an override.
	if preCfg.ConfigFile == defaultConfigFile && !fileExists(cfg.ConfigFile) {
		if err := createDefaultConfigFile(cfg.ConfigFile); err != nil {
			snodLog.Warnf("Error creating a default config file: %v", err)
		}
	}

	// Load additional config from file.
	var configFileError error
	parser := newConfigParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(cfg.ConfigFile)
	if err != nil {
		var e *os.PathError
		if !errors.As(err, &e) {
			err = fmt.Errorf("error parsing config file: %w", err)
			return nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.ParseArgs(args)
	if err != nil {
		return nil, nil, err
	}

	// Multiple networks can't be selected simultaneously.
	numNets := 0
	cfg.params = &mainNetParams
	if cfg.TestNet {
		numNets++
		cfg.params = &testNet3Params
	}
	if cfg.SimNet {
		numNets++
		cfg.params = &simNetParams
	}
	if cfg.RegNet {
		numNets++
		cfg.params = &regNetParams
	}
	if numNets > 1 {
		str := "%s: the testnet, regnet, and simnet params can't be " +
			"used together -- choose one of the three"
		err := fmt.Errorf(str, "loadConfig")
		return nil, nil, err
	}

	// Append the network type to the data and log directories so they are
	// "namespaced" per network.
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.DataDir = filepath.Join(cfg.DataDir, cfg.params.Name)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.LogDir = filepath.Join(cfg.LogDir, cfg.params.Name)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Initialize log rotation.  After log rotation has been initialized, the
	// logger variables may be used.
	if !cfg.NoFileLogging {
		initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename),
			cfg.LogSize)
	}

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %w", "loadConfig", err)
		return nil, nil, err
	}

	if cfg.MaxPeers < 0 {
		str := "%s: the maxpeers option may not be less than 0 -- parsed [%d]"
		err := fmt.Errorf(str, "loadConfig", cfg.MaxPeers)
		return nil, nil, err
	}
	if cfg.BanDuration < time.Second {
		str := "%s: the banduration option may not be less than 1s -- " +
			"parsed [%v]"
		err := fmt.Errorf(str, "loadConfig", cfg.BanDuration)
		return nil, nil, err
	}

	snParams := cfg.params.sn
	defaultPort := strconv.Itoa(int(snParams.Port))

	// Listen on all interfaces on the default port when no listeners were
	// specified.
	if !cfg.DisableListen {
		if len(cfg.Listeners) == 0 {
			cfg.Listeners = []string{net.JoinHostPort("", defaultPort)}
		}
		for _, addr := range cfg.Listeners {
			cfg.listenAddrs = append(cfg.listenAddrs,
				normalizeAddress(addr, defaultPort))
		}
	}

	for _, addr := range cfg.ConnectPeers {
		ap, err := parseAddrPort(addr, snParams.Port)
		if err != nil {
			str := "%s: invalid connect address %q: %v"
			return nil, nil, fmt.Errorf(str, "loadConfig", addr, err)
		}
		cfg.connectPeers = append(cfg.connectPeers, ap)
	}

	if cfg.ExternalIP != "" {
		ap, err := parseAddrPort(cfg.ExternalIP, snParams.Port)
		if err != nil {
			str := "%s: invalid external address %q: %v"
			return nil, nil, fmt.Errorf(str, "loadConfig", cfg.ExternalIP, err)
		}
		cfg.externalAddr = ap
	}

	for _, s := range cfg.Whitelists {
		prefix, err := parseWhitelist(s)
		if err != nil {
			str := "%s: the whitelist value of '%s' is invalid"
			return nil, nil, fmt.Errorf(str, "loadConfig", s)
		}
		cfg.whitelists = append(cfg.whitelists, prefix)
	}

	// A service node needs its operating key.  The collateral is optional
	// and selects local mode when present.
	if cfg.ServiceNode {
		if cfg.ServiceNodeKey == "" {
			str := "%s: the servicenode option requires servicenodekey"
			return nil, nil, fmt.Errorf(str, "loadConfig")
		}
		key, err := parsePrivateKey(cfg.ServiceNodeKey, cfg.params.Params)
		if err != nil {
			str := "%s: invalid servicenodekey: %v"
			return nil, nil, fmt.Errorf(str, "loadConfig", err)
		}
		cfg.operatorKey = key

		if (cfg.Collateral == "") != (cfg.CollateralKey == "") {
			str := "%s: the collateral and collateralkey options must be " +
				"used together"
			return nil, nil, fmt.Errorf(str, "loadConfig")
		}
		if cfg.Collateral != "" {
			op, err := parseOutPoint(cfg.Collateral)
			if err != nil {
				str := "%s: invalid collateral: %v"
				return nil, nil, fmt.Errorf(str, "loadConfig", err)
			}
			key, err := parsePrivateKey(cfg.CollateralKey, cfg.params.Params)
			if err != nil {
				str := "%s: invalid collateralkey: %v"
				return nil, nil, fmt.Errorf(str, "loadConfig", err)
			}
			cfg.collateral = op
			cfg.collateralKey = key
		}
	}

	if cfg.SNReward < 0 {
		str := "%s: the snreward option may not be negative"
		return nil, nil, fmt.Errorf(str, "loadConfig")
	}
	reward, err := dcrutil.NewAmount(cfg.SNReward)
	if err != nil {
		str := "%s: invalid snreward: %v"
		return nil, nil, fmt.Errorf(str, "loadConfig", err)
	}
	cfg.snReward = reward

	cfg.RPCServer = normalizeAddress(cfg.RPCServer, cfg.params.rpcPort)
	cfg.RPCCert = cleanAndExpandPath(cfg.RPCCert)

	// Warn about missing config file only after all other configuration is
	// done.  This prevents the warning on help messages and invalid options.
	// Note this should go directly before the return.
	if configFileError != nil {
		snodLog.Warnf("%v", configFileError)
	}

	return &cfg, remainingArgs, nil
}

// netParams couples the chain parameters of a network with the values the
// daemon derives from them.
type netParams struct {
	*chaincfg.Params
	sn      *snode.Params
	rpcPort string
}

// The parameters of each supported network.
var (
	mainNetParams  = newNetParams(chaincfg.MainNetParams(), "9109")
	testNet3Params = newNetParams(chaincfg.TestNet3Params(), "19109")
	simNetParams   = newNetParams(chaincfg.SimNetParams(), "19556")
	regNetParams   = newNetParams(chaincfg.RegNetParams(), "18656")
)

func newNetParams(params *chaincfg.Params, rpcPort string) netParams {
	return netParams{
		Params:  params,
		sn:      snode.NewParams(params),
		rpcPort: rpcPort,
	}
}
