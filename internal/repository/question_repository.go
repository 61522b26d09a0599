package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"mcq_bot/internal/model"
	"mcq_bot/internal/util"

	"gopkg.in/yaml.v3"
)

type QuestionRepository struct {
	Path string
}

// NewQuestionRepository 题库文件为只读，支持 .json 和 .yaml/.yml
func NewQuestionRepository(path string) *QuestionRepository {
	return &QuestionRepository{Path: path}
}

// FindAll loads the whole pool. A missing file yields an empty pool; a file
// that cannot be parsed, or holds an invalid question, is CorruptData.
func (r *QuestionRepository) FindAll() ([]model.Question, error) {
	data, err := os.ReadFile(r.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []model.Question{}, nil
		}
		return nil, err
	}

	var pool model.QuestionPool
	switch strings.ToLower(filepath.Ext(r.Path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &pool)
	default:
		err = json.Unmarshal(data, &pool)
	}
	if err != nil {
		return nil, &util.CorruptDataError{Path: r.Path, Err: err}
	}

	seen := make(map[int]bool, len(pool.Questions))
	for i := range pool.Questions {
		q := &pool.Questions[i]
		if err := q.Validate(); err != nil {
			return nil, &util.CorruptDataError{Path: r.Path, Err: err}
		}
		if seen[q.ID] {
			return nil, &util.CorruptDataError{Path: r.Path, Err: fmt.Errorf("duplicate question id %d", q.ID)}
		}
		seen[q.ID] = true
	}

	if pool.Questions == nil {
		return []model.Question{}, nil
	}
	return pool.Questions, nil
}

// FindByID 在题库中按 ID 查找
func (r *QuestionRepository) FindByID(id int) (*model.Question, error) {
	questions, err := r.FindAll()
	if err != nil {
		return nil, err
	}
	for i := range questions {
		if questions[i].ID == id {
			return &questions[i], nil
		}
	}
	return nil, util.ErrQuestionNotFound
}
