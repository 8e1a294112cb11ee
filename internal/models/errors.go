package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrVoiceTimeout           = errors.New("voice connection timed out")
	ErrVoiceConnectInProgress = errors.New("voice connection already in progress")
	ErrVoiceDisconnected      = errors.New("voice connection closed")
	ErrNoWorkerAvailable      = errors.New("no audio worker available")
	ErrNodeNotReady           = errors.New("audio worker session not established")
	ErrNotDJ                  = errors.New("missing DJ permission")
	ErrNothingPlaying         = errors.New("nothing is playing")
	ErrInvalidIndex           = errors.New("invalid queue index")
	ErrNotInVoice             = errors.New("not connected to a voice channel")
	ErrOtherChannel           = errors.New("already playing in another voice channel")
	ErrNotSeekable            = errors.New("track is not seekable")
	ErrNotManager             = errors.New("missing manage guild permission")
	ErrNoResults              = errors.New("no results")
)

// WorkerCallError is returned when a worker rejects a control call.
type WorkerCallError struct {
	Node    string
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *WorkerCallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("worker %s: %s: %v", e.Node, e.Op, e.Err)
	}
	return fmt.Sprintf("worker %s: %s returned status %d: %s", e.Node, e.Op, e.Status, e.Message)
}

func (e *WorkerCallError) Unwrap() error { return e.Err }

// SearchError wraps a failed search against a worker's track loader.
type SearchError struct {
	Query string
	Err   error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search %q: %v", e.Query, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }
