package cli

import (
	"errors"
	"fmt"

	"mcq_bot/internal/config"
)

// Exit codes for CLI commands.
const (
	ExitSuccess     = 0 // 成功，或尚未配对（下次运行再试）
	ExitFailure     = 1 // 部分题目发送失败或运行时错误
	ExitConfigError = 2 // 配置错误，连接前即退出
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps an error to the process exit code. Configuration errors
// always exit with ExitConfigError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if errors.Is(err, config.ErrInvalid) {
		return ExitConfigError
	}
	return ExitFailure
}
