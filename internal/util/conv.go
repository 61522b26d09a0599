package util

import (
	"fmt"
	"strconv"
)

// ParseQuestionID 解析题目 ID，必须为正整数
func ParseQuestionID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid question id %q", s)
	}
	return id, nil
}
