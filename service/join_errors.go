package service

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// JoinErrorCodeValue defines the type for join error codes.
type JoinErrorCodeValue int

func (c JoinErrorCodeValue) String() string {
	if msg, ok := JoinErrorMessages[c]; ok {
		return msg
	}
	return "unknown"
}

// The list of join error codes.
const (
	JoinUnknownError JoinErrorCodeValue = iota - 1
	AlreadyJoined
	WorldMismatch
	PlayerInstanceConflict
	UnexpectedJoinFailure
	GenericJoinRejected
	ScreeningFailed
	AllocationOverflow
	SpaceClosed
	JoinThrottled
)

// DuplicateIdentity is the same condition as PlayerInstanceConflict, seen from the identity protocol.
const DuplicateIdentity = PlayerInstanceConflict

var JoinErrorMessages = map[JoinErrorCodeValue]string{
	AlreadyJoined:          "already_joined",
	WorldMismatch:          "world_mismatch",
	PlayerInstanceConflict: "player_instance_conflict",
	UnexpectedJoinFailure:  "unexpected_join_failure",
	GenericJoinRejected:    "join_rejected",
	ScreeningFailed:        "screening_failed",
	AllocationOverflow:     "allocation_overflow",
	SpaceClosed:            "space_closed",
	JoinThrottled:          "join_throttled",
}

var (
	ErrAlreadyJoined          = NewJoinError(AlreadyJoined, "you have already joined this game")
	ErrWorldMismatch          = NewJoinError(WorldMismatch, "player is not in one of the game's worlds")
	ErrPlayerInstanceConflict = NewJoinError(PlayerInstanceConflict, "player instance is already registered")
	ErrUnexpectedJoinFailure  = NewJoinError(UnexpectedJoinFailure, "an unexpected error occurred while joining the game")
	ErrGenericJoinRejected    = NewJoinError(GenericJoinRejected, "you could not join this game")
	ErrSpaceClosed            = NewJoinError(SpaceClosed, "this game has closed")
	ErrJoinThrottled          = NewJoinError(JoinThrottled, "you are joining games too quickly")
	ErrAllocationOverflow     = NewJoinError(AllocationOverflow, "there are more players than team slots")
)

// JoinError struct that implements the error interface.
type JoinError struct {
	code       JoinErrorCodeValue
	message    string
	wrappedErr error
}

func NewJoinError(code JoinErrorCodeValue, message string) JoinError {
	return JoinError{
		code:    code,
		message: message,
	}
}

// NewJoinErrorf creates a new JoinError with the given code and formatted message.
func NewJoinErrorf(code JoinErrorCodeValue, format string, a ...any) JoinError {
	err := fmt.Errorf(format, a...)
	return JoinError{
		code:       code,
		message:    err.Error(),
		wrappedErr: errors.Unwrap(err),
	}
}

// Error implements the error interface.
func (e JoinError) Error() string {
	message := e.message
	switch e.code {
	case AlreadyJoined:
		message = "already joined: " + message
	case WorldMismatch:
		message = "world mismatch: " + message
	case PlayerInstanceConflict:
		message = "player instance conflict: " + message
	case UnexpectedJoinFailure:
		message = "unexpected join failure: " + message
	case GenericJoinRejected:
		message = "join rejected: " + message
	case ScreeningFailed:
		message = "screening failed: " + message
	case AllocationOverflow:
		message = "allocation overflow: " + message
	case SpaceClosed:
		message = "space closed: " + message
	case JoinThrottled:
		message = "throttled: " + message
	default:
		message = "unknown error: " + message
	}
	return message
}

// Message is the human readable reason, without the code prefix.
func (e JoinError) Message() string {
	return e.message
}

func (e JoinError) Code() JoinErrorCodeValue {
	return e.code
}

func (e JoinError) Is(target error) bool {
	if t, ok := target.(JoinError); ok {
		return e.code == t.code
	}
	return false
}

func (e JoinError) Unwrap() error {
	return e.wrappedErr
}

// GRPCStatus lets hosts that expose joins over gRPC return the error directly.
func (e JoinError) GRPCStatus() *status.Status {
	var code codes.Code
	switch e.code {
	case AlreadyJoined:
		code = codes.AlreadyExists
	case WorldMismatch, ScreeningFailed:
		code = codes.FailedPrecondition
	case PlayerInstanceConflict:
		code = codes.Aborted
	case GenericJoinRejected:
		code = codes.PermissionDenied
	case AllocationOverflow, JoinThrottled:
		code = codes.ResourceExhausted
	case SpaceClosed:
		code = codes.Unavailable
	case UnexpectedJoinFailure:
		code = codes.Internal
	default:
		code = codes.Unknown
	}
	return status.New(code, e.message)
}

// JoinErrorIs checks if the given error is a JoinError with the given code.
func JoinErrorIs(err error, code JoinErrorCodeValue) bool {
	var jErr JoinError
	return errors.As(err, &jErr) && jErr.code == code
}

func JoinErrorCodeOf(err error) JoinErrorCodeValue {
	var jErr JoinError
	if errors.As(err, &jErr) {
		return jErr.code
	}
	return JoinUnknownError
}

// JoinErrorMessage returns the text a participant should see for err.
func JoinErrorMessage(err error) string {
	var jErr JoinError
	if errors.As(err, &jErr) {
		return jErr.message
	}
	var oErr *OpenError
	if errors.As(err, &oErr) {
		return oErr.Reason
	}
	return err.Error()
}

// OpenError reports a structured reason why a game could not be opened or entered.
type OpenError struct {
	Reason string
	Err    error
}

func NewOpenError(reason string, err error) *OpenError {
	return &OpenError{Reason: reason, Err: err}
}

func (e *OpenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("game open failed: %s: %v", e.Reason, e.Err)
	}
	return "game open failed: " + e.Reason
}

func (e *OpenError) Unwrap() error {
	return e.Err
}
