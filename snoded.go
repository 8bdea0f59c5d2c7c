// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2024 The Decred developers
// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/noirofficial/noir-sub000/internal/version"
)

// snodedMain is the real main function for snoded.  It is necessary to work
// around the fact that deferred functions do not run when os.Exit() is called.
func snodedMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	cfg, _, err := loadConfig(appName, os.Args[1:])
	if err != nil {
		usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
		fmt.Fprintln(os.Stderr, err)
		var e errSuppressUsage
		if !errors.As(err, &e) {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return err
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	// Get a context that will be canceled when a shutdown signal has been
	// triggered from an OS signal such as SIGINT (Ctrl+C).
	ctx := shutdownListener()
	defer snodLog.Info("Shutdown complete")

	snodLog.Infof("Version %s (Go version %s %s/%s)", version.String(),
		runtime.Version(), runtime.GOOS, runtime.GOARCH)
	snodLog.Infof("Home dir: %s", cfg.HomeDir)
	if cfg.NoFileLogging {
		snodLog.Info("File logging disabled")
	}
	if cfg.operatorKey != nil {
		snodLog.Infof("Running as a service node on %s", cfg.params.Name)
	}

	// Return now if a shutdown signal was triggered.
	if shutdownRequested(ctx) {
		return nil
	}

	svr, err := newServer(ctx, cfg)
	if err != nil {
		snodLog.Errorf("Unable to start server: %v", err)
		return err
	}
	if shutdownRequested(ctx) {
		svr.closeStore()
		return nil
	}

	// Run the server.  This will block until the context is cancelled which
	// happens when the interrupt signal is received.
	svr.Run(ctx)
	srvrLog.Infof("Server shutdown complete")
	return nil
}

func main() {
	// Work around defer not working after os.Exit()
	if err := snodedMain(); err != nil {
		os.Exit(1)
	}
}
