package clientcart

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrRecordNotFound — запись корзины ещё не сохранялась.
var ErrRecordNotFound = errors.New("cart record not found")

// UpdateFunc получает текущую запись (nil, если её нет) и возвращает новую.
// Ошибка отменяет запись. Функция может быть вызвана повторно.
type UpdateFunc func(current []byte) ([]byte, error)

// Storage — долговременное хранилище одной именованной записи на корзину.
// Update атомарно читает и переписывает запись: параллельные изменения
// одной корзины из разных вкладок не затирают друг друга.
type Storage interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Delete(ctx context.Context, key string) error
}

// MemoryStorage хранит записи в памяти процесса.
type MemoryStorage struct {
	mu      sync.RWMutex
	records map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{records: make(map[string][]byte)}
}

func (s *MemoryStorage) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.records[key]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStorage) Save(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[key] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStorage) Update(_ context.Context, key string, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current []byte
	if data, ok := s.records[key]; ok {
		current = append([]byte(nil), data...)
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	s.records[key] = append([]byte(nil), next...)
	return nil
}

func (s *MemoryStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)
	return nil
}

// Sessions открывает корзины посетителей из одного хранилища по ключу сессии.
type Sessions struct {
	log     *slog.Logger
	storage Storage
}

func NewSessions(log *slog.Logger, storage Storage) *Sessions {
	return &Sessions{log: log, storage: storage}
}

func (s *Sessions) Open(ctx context.Context, key string) *Cache {
	return Open(ctx, s.log, s.storage, key)
}

// Ephemeral — кэш без постоянного хранения, живёт в пределах одного запроса.
func Ephemeral(ctx context.Context, log *slog.Logger) *Cache {
	return Open(ctx, log, NewMemoryStorage(), "ephemeral")
}
