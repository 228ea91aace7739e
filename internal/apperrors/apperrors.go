// Package apperrors defines the error taxonomy shared by the relationship and
// chat services and the uniform result handed to clients.
package apperrors

import (
	"context"
	"errors"

	"chatsync/internal/docstore"
)

// Kind classifies an error for propagation and presentation.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindPermission
	KindNotFound
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindPermission:
		return "permission"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

// Code identifies a specific business-rule violation.
type Code string

const (
	CodeSelfReference           Code = "self_reference"
	CodeMissingID               Code = "missing_id"
	CodeAlreadyFriends          Code = "already_friends"
	CodeDuplicateRequest        Code = "duplicate_request"
	CodeReciprocalRequestExists Code = "reciprocal_request_exists"
	CodeBlocked                 Code = "blocked"
	CodeNoPendingRequest        Code = "no_pending_request"
	CodeNotFriends              Code = "not_friends"
	CodeAlreadyBlocked          Code = "already_blocked"
	CodeNotParticipant          Code = "not_participant"
	CodeNotSender               Code = "not_sender"
	CodeEmptyMessage            Code = "empty_message"
	CodeInvalidPayload          Code = "invalid_payload"
	CodeMessageTooLarge         Code = "message_too_large"
	CodeNoMessages              Code = "no_messages"
	CodeUserNotFound            Code = "user_not_found"
	CodeUserExists              Code = "user_exists"
	CodeChatNotFound            Code = "chat_not_found"
	CodeMessageNotFound         Code = "message_not_found"
	CodeTransactionAborted      Code = "transaction_aborted"
	CodeUnavailable             Code = "unavailable"
	CodeInternal                Code = "internal"
)

// GenericFailure is what clients see for errors that are not business rules.
const GenericFailure = "something went wrong, please try again"

// Error is a classified application error. Two errors match under errors.Is
// when their codes are equal.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

// New builds an Error.
func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap builds an Error carrying cause.
func Wrap(kind Kind, code Code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code so wrapped variants still compare equal to the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrSelfReference           = New(KindValidation, CodeSelfReference, "cannot target yourself")
	ErrMissingID               = New(KindValidation, CodeMissingID, "user id is required")
	ErrAlreadyFriends          = New(KindConflict, CodeAlreadyFriends, "already friends")
	ErrDuplicateRequest        = New(KindConflict, CodeDuplicateRequest, "friend request already sent")
	ErrReciprocalRequestExists = New(KindConflict, CodeReciprocalRequestExists, "this user already sent you a friend request")
	ErrBlocked                 = New(KindConflict, CodeBlocked, "action not allowed between these users")
	ErrNoPendingRequest        = New(KindConflict, CodeNoPendingRequest, "no pending friend request")
	ErrNotFriends              = New(KindConflict, CodeNotFriends, "users are not friends")
	ErrAlreadyBlocked          = New(KindConflict, CodeAlreadyBlocked, "user already blocked")
	ErrNotParticipant          = New(KindPermission, CodeNotParticipant, "not a chat member")
	ErrNotSender               = New(KindPermission, CodeNotSender, "only the sender can delete this message")
	ErrEmptyMessage            = New(KindValidation, CodeEmptyMessage, "message is empty")
	ErrInvalidPayload          = New(KindValidation, CodeInvalidPayload, "invalid message payload")
	ErrMessageTooLarge         = New(KindValidation, CodeMessageTooLarge, "message is too large")
	ErrNoMessages              = New(KindConflict, CodeNoMessages, "chat has no messages")
	ErrUserNotFound            = New(KindNotFound, CodeUserNotFound, "user not found")
	ErrUserExists              = New(KindConflict, CodeUserExists, "user already registered")
	ErrChatNotFound            = New(KindNotFound, CodeChatNotFound, "chat not found")
	ErrMessageNotFound         = New(KindNotFound, CodeMessageNotFound, "message not found")
)

// FromStore classifies an error returned by the document store. Errors that
// already carry a classification pass through unchanged.
func FromStore(err error) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}
	switch {
	case errors.Is(err, docstore.ErrAborted):
		return Wrap(KindTransient, CodeTransactionAborted, "transaction aborted, please retry", err)
	case errors.Is(err, docstore.ErrUnavailable), errors.Is(err, docstore.ErrClosed),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return Wrap(KindTransient, CodeUnavailable, "backend unavailable", err)
	}
	return Wrap(KindInternal, CodeInternal, "internal error", err)
}

// KindOf returns the kind of err, KindInternal when unclassified.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// CodeOf returns the code of err, CodeInternal when unclassified.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// Result is the uniform {success, error?} outcome of a mutation.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Code    Code   `json:"code,omitempty"`
}

// ResultOf converts err into a Result. Internal errors are reported with a
// generic message; their details belong in the logs.
func ResultOf(err error) Result {
	if err == nil {
		return Result{Success: true}
	}
	var appErr *Error
	if !errors.As(err, &appErr) || appErr.Kind == KindInternal {
		return Result{Error: GenericFailure, Code: CodeInternal}
	}
	return Result{Error: appErr.Message, Code: appErr.Code}
}
