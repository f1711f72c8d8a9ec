package examerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes are stable identifiers shared with API clients and used as
// translation message IDs.
const (
	CodeExamNotFound        = "exam_not_found"
	CodeSubmissionNotFound  = "submission_not_found"
	CodeAnswerCountMismatch = "answer_count_mismatch"
	CodeInvalidAnswers      = "invalid_answers"
	CodeUnknownExamType     = "unknown_exam_type"
	CodeTimeout             = "timeout"
	CodeAlreadySubmitted    = "already_submitted"
	CodeExamLocked          = "exam_locked"
	CodeExamChanged         = "exam_changed"
	CodeInvalidScore        = "invalid_score"
	CodeInvalidExam         = "invalid_exam"
	CodeInternal            = "internal_error"
)

// Error is a typed failure reported to callers of the evaluation core.
type Error struct {
	code       string
	msg        string
	httpStatus int
	cause      error
}

func (e *Error) Error() string {
	return e.msg
}

// Code returns the stable error code.
func (e *Error) Code() string {
	return e.code
}

// HTTPStatus returns the status the transport layer should respond with.
func (e *Error) HTTPStatus() int {
	if e.httpStatus == 0 {
		return http.StatusInternalServerError
	}
	return e.httpStatus
}

// Unwrap exposes the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error with the same code, so the package sentinels can be
// used with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.code == e.code
}

// WithCause attaches a debugging cause.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

func newError(code string, status int, msg string) *Error {
	return &Error{code: code, msg: msg, httpStatus: status}
}

// Sentinels for errors.Is comparisons. Do not return these directly.
var (
	ErrExamNotFound        = newError(CodeExamNotFound, http.StatusNotFound, "exam not found")
	ErrSubmissionNotFound  = newError(CodeSubmissionNotFound, http.StatusNotFound, "submission not found")
	ErrAnswerCountMismatch = newError(CodeAnswerCountMismatch, http.StatusBadRequest, "answer count mismatch")
	ErrInvalidAnswers      = newError(CodeInvalidAnswers, http.StatusBadRequest, "invalid answers")
	ErrUnknownExamType     = newError(CodeUnknownExamType, http.StatusBadRequest, "unknown exam type")
	ErrTimeout             = newError(CodeTimeout, http.StatusServiceUnavailable, "timed out")
	ErrAlreadySubmitted    = newError(CodeAlreadySubmitted, http.StatusConflict, "already submitted")
	ErrExamLocked          = newError(CodeExamLocked, http.StatusConflict, "exam locked")
	ErrExamChanged         = newError(CodeExamChanged, http.StatusConflict, "exam changed")
	ErrInvalidScore        = newError(CodeInvalidScore, http.StatusBadRequest, "invalid score")
	ErrInvalidExam         = newError(CodeInvalidExam, http.StatusBadRequest, "invalid exam")
	ErrInternal            = newError(CodeInternal, http.StatusInternalServerError, "internal error")
)

func ExamNotFound(examID int64) *Error {
	return newError(CodeExamNotFound, http.StatusNotFound,
		fmt.Sprintf("exam %d not found", examID))
}

func SubmissionNotFound(submissionID int64) *Error {
	return newError(CodeSubmissionNotFound, http.StatusNotFound,
		fmt.Sprintf("submission %d not found", submissionID))
}

// NoSubmission reports that a student has not submitted an exam.
func NoSubmission(examID int64, studentID string) *Error {
	return newError(CodeSubmissionNotFound, http.StatusNotFound,
		fmt.Sprintf("student %q has no submission for exam %d", studentID, examID))
}

func AnswerCountMismatch(expected, got int) *Error {
	return newError(CodeAnswerCountMismatch, http.StatusBadRequest,
		fmt.Sprintf("answer count mismatch: expected %d, got %d", expected, got))
}

func InvalidAnswers(reason string) *Error {
	return newError(CodeInvalidAnswers, http.StatusBadRequest, "invalid answers: "+reason)
}

func UnknownExamType(examType string) *Error {
	return newError(CodeUnknownExamType, http.StatusBadRequest,
		fmt.Sprintf("unknown exam type %q", examType))
}

func Timeout(op string) *Error {
	return newError(CodeTimeout, http.StatusServiceUnavailable, op+": timed out waiting for lock")
}

func AlreadySubmitted(examID int64, studentID string) *Error {
	return newError(CodeAlreadySubmitted, http.StatusConflict,
		fmt.Sprintf("student %q already submitted exam %d", studentID, examID))
}

func ExamLocked(examID int64) *Error {
	return newError(CodeExamLocked, http.StatusConflict,
		fmt.Sprintf("exam %d already has submissions and can no longer be edited", examID))
}

// ExamChanged reports that questions were added to an exam after the
// answers were scored.
func ExamChanged(examID int64, scored, current int) *Error {
	return newError(CodeExamChanged, http.StatusConflict,
		fmt.Sprintf("exam %d changed while grading: scored against %d questions, now %d", examID, scored, current))
}

func InvalidScore(score, totalMarks int) *Error {
	return newError(CodeInvalidScore, http.StatusBadRequest,
		fmt.Sprintf("score %d outside range 0..%d", score, totalMarks))
}

func InvalidExam(reason string) *Error {
	return newError(CodeInvalidExam, http.StatusBadRequest, "invalid exam: "+reason)
}

func Internal(err error) *Error {
	return newError(CodeInternal, http.StatusInternalServerError, "internal error").WithCause(err)
}

// As returns the *Error in err's chain, or nil.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}
