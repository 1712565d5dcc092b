package notification

import (
	"fmt"

	"github.com/openans/ansd/internal/errors"
)

// Code is the numeric result code reported to callers. Zero is success.
type Code int32

const ansErrOffset Code = 67108864

const (
	CodeOK      Code = 0
	CodeUnknown Code = -1

	CodeServiceNotReady           = ansErrOffset + 1
	CodeInvalidParam              = ansErrOffset + 3
	CodeInvalidBundle             = ansErrOffset + 7
	CodeNotAllowed                = ansErrOffset + 8
	CodeNoMemory                  = ansErrOffset + 12
	CodeNonSystemApp              = ansErrOffset + 13
	CodePermissionDenied          = ansErrOffset + 14
	CodeNotificationNotExists     = ansErrOffset + 15
	CodeNotificationIsUnremovable = ansErrOffset + 16
	CodeOverMaxActivePerSecond    = ansErrOffset + 17
	CodePictureOverSize           = ansErrOffset + 19
	CodePreferencesDBFailed       = ansErrOffset + 20
	CodeSlotNotExist              = ansErrOffset + 22
)

const codeContextKey = "ans_code"

func newSentinel(code Code, msg string, category errors.ErrorCategory) *errors.EnhancedError {
	return errors.New(errors.NewStd(msg)).
		Component("notification").
		Category(category).
		Context(codeContextKey, code).
		Build()
}

// Sentinel errors. Wrapped errors keep these in their chain, so callers can
// use errors.Is or CodeOf.
var (
	ErrServiceNotReady           = newSentinel(CodeServiceNotReady, "notification service is not running", errors.CategoryState)
	ErrInvalidParam              = newSentinel(CodeInvalidParam, "invalid parameter", errors.CategoryValidation)
	ErrInvalidBundle             = newSentinel(CodeInvalidBundle, "invalid bundle", errors.CategoryValidation)
	ErrNotAllowed                = newSentinel(CodeNotAllowed, "notifications are disabled for this bundle", errors.CategoryPermission)
	ErrNoMemory                  = newSentinel(CodeNoMemory, "too many active notifications", errors.CategoryLimit)
	ErrNotificationNotExists     = newSentinel(CodeNotificationNotExists, "notification does not exist", errors.CategoryNotFound)
	ErrNotificationIsUnremovable = newSentinel(CodeNotificationIsUnremovable, "notification is unremovable", errors.CategoryConflict)
	ErrOverMaxActivePerSecond    = newSentinel(CodeOverMaxActivePerSecond, "publish rate exceeds the per-bundle quota", errors.CategoryRateLimit)
	ErrPictureOverSize           = newSentinel(CodePictureOverSize, "picture exceeds the maximum size", errors.CategoryValidation)
	ErrPreferencesDBFailed       = newSentinel(CodePreferencesDBFailed, "preference storage failed", errors.CategoryDatabase)
	ErrSlotNotExist              = newSentinel(CodeSlotNotExist, "slot does not exist", errors.CategoryNotFound)
)

// serviceError starts a builder wrapping sentinel with the operation name.
func serviceError(sentinel *errors.EnhancedError, operation string) *errors.ErrorBuilder {
	return errors.New(sentinel).
		Component("notification").
		Category(sentinel.Category).
		Context("operation", operation)
}

// serviceErrorf is serviceError with a detail message appended to the
// sentinel text.
func serviceErrorf(sentinel *errors.EnhancedError, operation, format string, args ...any) *errors.ErrorBuilder {
	return errors.New(fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))).
		Component("notification").
		Category(sentinel.Category).
		Context("operation", operation)
}

// CodeOf returns the result code carried by err: CodeOK for nil, CodeUnknown
// when no code is attached.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		ee, ok := e.(*errors.EnhancedError)
		if !ok {
			continue
		}
		if v, ok := ee.ContextValue(codeContextKey); ok {
			if code, ok := v.(Code); ok {
				return code
			}
		}
	}
	return CodeUnknown
}
