// Copyright (c) 2015-2021 The Decred developers
// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package progresslog

import (
	"sync"
	"time"

	"github.com/decred/slog"
)

// pickNoun returns the singular or plural form of a noun depending on the
// provided count.
func pickNoun(n uint64, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}

// Logger provides periodic logging of progress towards some action such as
// syncing the service node registry.
type Logger struct {
	sync.Mutex
	subsystemLogger slog.Logger
	progressAction  string

	// lastLogTime tracks the last time a log statement was shown.
	lastLogTime time.Time

	// These fields accumulate the items received between log statements.
	receivedEntries uint64
	receivedVotes   uint64
}

// New returns a new sync progress logger.
func New(progressAction string, logger slog.Logger) *Logger {
	return &Logger{
		lastLogTime:     time.Now(),
		progressAction:  progressAction,
		subsystemLogger: logger,
	}
}

// LogProgress accumulates the provided number of registry entries and payment
// votes and periodically (every 10 seconds) logs an information message to
// show progress to the user along with duration and totals included.
//
// The force flag may be used to force a log message to be shown regardless of
// the time the last one was shown.
//
// The progress message is templated as follows:
//  {progressAction} {numEntries} {entries|entry} and {numVotes} {votes|vote}
//  in the last {timePeriod} (stage {stage}, {progress}% done)
func (l *Logger) LogProgress(entries, votes uint64, forceLog bool,
	stage string, progress func() float64) {

	l.Lock()
	defer l.Unlock()

	l.receivedEntries += entries
	l.receivedVotes += votes
	now := time.Now()
	duration := now.Sub(l.lastLogTime)
	if !forceLog && duration < time.Second*10 {
		return
	}

	l.subsystemLogger.Infof("%s %d service node %s and %d payment %s in "+
		"the last %0.2fs (stage %s, %0.2f%% done)", l.progressAction,
		l.receivedEntries, pickNoun(l.receivedEntries, "entry", "entries"),
		l.receivedVotes, pickNoun(l.receivedVotes, "vote", "votes"),
		duration.Seconds(), stage, progress()*100)

	l.receivedEntries = 0
	l.receivedVotes = 0
	l.lastLogTime = now
}

// SetLastLogTime updates the last time data was logged to the provided time.
func (l *Logger) SetLastLogTime(time time.Time) {
	l.Lock()
	l.lastLogTime = time
	l.Unlock()
}
