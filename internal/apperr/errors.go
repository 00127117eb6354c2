// Package apperr 서비스 계층 공통 에러 분류
package apperr

import "errors"

var (
	// ErrUnauthenticated 식별자 없음
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNotAuthorized 식별자는 있으나 권한 없음 (비멤버, 비소유자)
	ErrNotAuthorized = errors.New("not authorized")
	// ErrNotFound 대상 방/엔티티 없음
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput 빈 이름, 잘못된 ID 등
	ErrInvalidInput = errors.New("invalid input")
	// ErrRateLimited 사용자별 쓰기 횟수 초과
	ErrRateLimited = errors.New("rate limited")
)

// Code 에러 분류 코드 (API 응답용)
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "UNAUTHENTICATED"
	case errors.Is(err, ErrNotAuthorized):
		return "NOT_AUTHORIZED"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidInput):
		return "INVALID_INPUT"
	case errors.Is(err, ErrRateLimited):
		return "RATE_LIMITED"
	default:
		return "INTERNAL"
	}
}
