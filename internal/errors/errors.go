package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Code codes.Code

const (
	CodeInvalidArgument    = Code(codes.InvalidArgument)
	CodeNotFound           = Code(codes.NotFound)
	CodeAlreadyExists      = Code(codes.AlreadyExists)
	CodeAborted            = Code(codes.Aborted)
	CodePermissionDenied   = Code(codes.PermissionDenied)
	CodeFailedPrecondition = Code(codes.FailedPrecondition)
	CodeResourceExhausted  = Code(codes.ResourceExhausted)
	CodeInternal           = Code(codes.Internal)
	CodeUnauthenticated    = Code(codes.Unauthenticated)
)

var code2http = map[Code]int{
	CodeInvalidArgument:    http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeAlreadyExists:      http.StatusConflict,
	CodeAborted:            http.StatusConflict,
	CodePermissionDenied:   http.StatusForbidden,
	CodeFailedPrecondition: http.StatusPaymentRequired,
	CodeResourceExhausted:  http.StatusForbidden,
	CodeInternal:           http.StatusInternalServerError,
	CodeUnauthenticated:    http.StatusUnauthorized,
}

// Reason distinguishes errors that share a code.
type Reason string

const (
	ReasonInsufficientPoints Reason = "INSUFFICIENT_POINTS"
	ReasonQuotaViolation     Reason = "QUOTA_VIOLATION"
	ReasonQuizNotFound       Reason = "QUIZ_NOT_FOUND"
	ReasonQuestionNotFound   Reason = "QUESTION_NOT_FOUND"
	ReasonForbidden          Reason = "FORBIDDEN"
)

type Error struct {
	Code    Code   `json:"code"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: codes.Code(code).String(),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) GRPCStatus() *status.Status {
	return status.New(codes.Code(e.Code), e.Message)
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}

	return http.StatusInternalServerError
}

func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}

	return e
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

// InsufficientPoints reports a balance below the amount an operation costs.
func InsufficientPoints(balance, required int) *Error {
	return New(CodeFailedPrecondition,
		WithReason(ReasonInsufficientPoints),
		WithMessagef("insufficient points: balance %d, required %d", balance, required),
	)
}

// QuotaViolation reports a plan restriction. The reason is shown to the user as is.
func QuotaViolation(reason string) *Error {
	return New(CodeResourceExhausted,
		WithReason(ReasonQuotaViolation),
		WithMessagef("%s", reason),
	)
}

func QuizNotFound(id int64) *Error {
	return New(CodeNotFound,
		WithReason(ReasonQuizNotFound),
		WithMessagef("quiz not found: id=%d", id),
	)
}

func QuestionNotFound(id int64) *Error {
	return New(CodeNotFound,
		WithReason(ReasonQuestionNotFound),
		WithMessagef("question not found: id=%d", id),
	)
}

func Forbidden(format string, args ...any) *Error {
	return New(CodePermissionDenied,
		WithReason(ReasonForbidden),
		WithMessagef(format, args...),
	)
}

func IsInsufficientPoints(err error) bool { return hasReason(err, ReasonInsufficientPoints) }

func IsQuotaViolation(err error) bool { return hasReason(err, ReasonQuotaViolation) }

func IsForbidden(err error) bool { return hasReason(err, ReasonForbidden) }

func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == CodeNotFound
}

func hasReason(err error, r Reason) bool {
	var e *Error
	return errors.As(err, &e) && e.Reason == r
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}

func WithReason(r Reason) Option {
	return optionFunc(func(e *Error) {
		e.Reason = r
	})
}
