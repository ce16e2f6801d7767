// Package memory is an in-process account store for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"accounts/internal/domain/models"
	"accounts/internal/storage"

	"github.com/google/uuid"
)

type Storage struct {
	mu       sync.RWMutex
	accounts map[string]models.Account
}

func New() *Storage {
	return &Storage{accounts: make(map[string]models.Account)}
}

func (s *Storage) SaveAccount(_ context.Context, acc models.Account) (*models.Account, error) {
	const op = "storage.memory.SaveAccount"

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.accounts {
		if existing.Username == acc.Username || existing.Email == acc.Email {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserAlreadyExists)
		}
	}

	now := time.Now().UTC()
	acc.ID = uuid.NewString()
	acc.CreatedAt = now
	acc.UpdatedAt = now
	s.accounts[acc.ID] = acc

	return clone(acc), nil
}

func (s *Storage) Account(_ context.Context, lookup models.Lookup) (*models.Account, error) {
	const op = "storage.memory.Account"

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, acc := range s.accounts {
		if (lookup.Username != "" && acc.Username == lookup.Username) ||
			(lookup.Email != "" && acc.Email == lookup.Email) {
			return clone(acc), nil
		}
	}

	return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
}

func (s *Storage) AccountByID(_ context.Context, id string) (*models.Account, error) {
	const op = "storage.memory.AccountByID"

	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	return clone(acc), nil
}

func (s *Storage) UpdateAccount(_ context.Context, id string, upd models.AccountUpdate) (*models.Account, error) {
	const op = "storage.memory.UpdateAccount"

	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	if upd.IfRefreshTokenHash != nil && acc.RefreshTokenHash != *upd.IfRefreshTokenHash {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrRefreshTokenMismatch)
	}

	if upd.Email != nil {
		for otherID, other := range s.accounts {
			if otherID != id && other.Email == *upd.Email {
				return nil, fmt.Errorf("%s: %w", op, storage.ErrUserAlreadyExists)
			}
		}
		acc.Email = *upd.Email
	}
	if upd.FullName != nil {
		acc.FullName = *upd.FullName
	}
	if upd.Avatar != nil {
		acc.Avatar = *upd.Avatar
	}
	if upd.CoverImage != nil {
		acc.CoverImage = *upd.CoverImage
	}
	if upd.PassHash != nil {
		acc.PassHash = append([]byte(nil), upd.PassHash...)
	}
	if upd.RefreshTokenHash != nil {
		acc.RefreshTokenHash = *upd.RefreshTokenHash
	}

	acc.UpdatedAt = time.Now().UTC()
	s.accounts[id] = acc

	return clone(acc), nil
}

func clone(acc models.Account) *models.Account {
	acc.PassHash = append([]byte(nil), acc.PassHash...)
	return &acc
}

func (s *Storage) Ping(context.Context) error {
	return nil
}
