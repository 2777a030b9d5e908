// Package poolerr defines the stable error taxonomy surfaced across every
// component: a typed Kind plus a wrapped sentinel, following the same
// sentinel-error convention the teacher's internal/zerocash and ledger.go
// use (errors.New + fmt.Errorf("...: %w", err)) but adding the short,
// stable kind identifier the spec requires for user-visible messages.
package poolerr

import (
	"errors"
	"fmt"
)

// Kind is a short, stable identifier safe to show to users and to switch
// on programmatically. Secrets never appear alongside a Kind.
type Kind string

const (
	InvalidInput           Kind = "InvalidInput"
	UserRejected           Kind = "UserRejected"
	WalletNetworkMismatch  Kind = "WalletNetworkMismatch"
	OutOfSync              Kind = "OutOfSync"
	RootDivergence         Kind = "RootDivergence"
	KeyExists              Kind = "KeyExists"
	Unbalanced             Kind = "Unbalanced"
	TreeFull               Kind = "TreeFull"
	ArtifactDownloadFailed Kind = "ArtifactDownloadFailed"
	CacheFailure           Kind = "CacheFailure"
	ProverUninitialized    Kind = "ProverUninitialized"
	WorkerFailure          Kind = "WorkerFailure"
	Transient              Kind = "Transient"
)

// Sentinels, for errors.Is-style matching the way the teacher's ledger.go
// compares against a fixed error value.
var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrUserRejected           = errors.New("signer rejected or returned no signature")
	ErrWalletNetworkMismatch  = errors.New("connected wallet is on the wrong network")
	ErrOutOfSync              = errors.New("sync gap exceeds retention window")
	ErrRootDivergence         = errors.New("computed root does not match event-supplied root")
	ErrKeyExists              = errors.New("key is present in the blocked set")
	ErrUnbalanced             = errors.New("input and output amounts do not conserve")
	ErrTreeFull               = errors.New("append-only tree is full")
	ErrArtifactDownloadFailed = errors.New("artifact download failed")
	ErrCacheFailure           = errors.New("artifact cache failure")
	ErrProverUninitialized    = errors.New("prover facade not initialized")
	ErrWorkerFailure          = errors.New("prover worker failure")
	ErrTransient              = errors.New("transient error, safe to retry")
)

var kindSentinel = map[Kind]error{
	InvalidInput:           ErrInvalidInput,
	UserRejected:           ErrUserRejected,
	WalletNetworkMismatch:  ErrWalletNetworkMismatch,
	OutOfSync:              ErrOutOfSync,
	RootDivergence:         ErrRootDivergence,
	KeyExists:              ErrKeyExists,
	Unbalanced:             ErrUnbalanced,
	TreeFull:               ErrTreeFull,
	ArtifactDownloadFailed: ErrArtifactDownloadFailed,
	CacheFailure:           ErrCacheFailure,
	ProverUninitialized:    ErrProverUninitialized,
	WorkerFailure:          ErrWorkerFailure,
	Transient:              ErrTransient,
}

// Error is a typed, user-displayable error carrying a stable Kind plus a
// human-readable message and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return kindSentinel[e.Kind]
}

// New builds an *Error for kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error for kind, preserving cause for errors.Is/As chains.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return errors.Is(err, kindSentinel[kind])
}
