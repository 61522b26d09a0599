package repository

import (
	"errors"
	"io/fs"
	"os"

	"mcq_bot/internal/model"
	"mcq_bot/internal/util"
)

// CredentialRepository stores the backend's session credentials as an opaque
// blob, one file per session.
type CredentialRepository struct {
	Path string
}

func NewCredentialRepository(path string) *CredentialRepository {
	return &CredentialRepository{Path: path}
}

// Load returns nil credentials when none were saved yet.
func (r *CredentialRepository) Load() (model.Credentials, error) {
	data, err := os.ReadFile(r.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return model.Credentials(data), nil
}

func (r *CredentialRepository) Save(creds model.Credentials) error {
	return util.WriteFileAtomic(r.Path, creds, 0600)
}

// Clear 登出后删除凭证
func (r *CredentialRepository) Clear() error {
	if err := os.Remove(r.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
