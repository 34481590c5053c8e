package marketplace

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// 业务错误分类，调用方通过 errors.Is 判断后映射为 HTTP 状态。
var (
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("forbidden")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	// ErrInvalidTransition 表示状态机拒绝了本次迁移（含并发下 CAS 失败）。
	ErrInvalidTransition = fmt.Errorf("%w: invalid state transition", ErrConflict)
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func forbiddenf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

func conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func transitionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidTransition, fmt.Sprintf(format, args...))
}

// lookupError 将 gorm 的未找到错误转为 ErrNotFound，其余错误原样包装。
func lookupError(err error, entity string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s not found", ErrNotFound, entity)
	}
	return fmt.Errorf("query %s: %w", entity, err)
}

// Message 返回去掉分类前缀后的可读信息，供响应体使用。
func Message(err error) string {
	msg := err.Error()
	for _, kind := range []error{ErrInvalidTransition, ErrValidation, ErrForbidden, ErrNotFound, ErrConflict} {
		msg = strings.TrimPrefix(msg, kind.Error()+": ")
	}
	return msg
}
