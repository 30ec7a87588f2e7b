package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"farmhand.dev/core/internal/models"
)

// MemoryRepository is an in-process Repository implementation used by unit
// tests; the cmd/ entrypoints always open the Postgres repository. It
// mirrors the Postgres implementation's compare-and-swap semantics using a
// single mutex rather than row-level locking, grounded on the map-of-maps
// dataset shape the teacher used for its JSON-backed store.
type MemoryRepository struct {
	mu sync.Mutex

	users    map[string]models.User
	accounts map[string]models.Account
	settings map[string]models.Settings
	videos   map[string]models.Video
	sessions map[string]models.StreamSession
	chat     []models.ChatMessage
	engage   []models.EngagementEvent
	idemKeys map[string]struct{}
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:    make(map[string]models.User),
		accounts: make(map[string]models.Account),
		settings: make(map[string]models.Settings),
		videos:   make(map[string]models.Video),
		sessions: make(map[string]models.StreamSession),
		idemKeys: make(map[string]struct{}),
	}
}

func (m *MemoryRepository) Ping(context.Context) error { return nil }
func (m *MemoryRepository) Close()                     {}

func (m *MemoryRepository) CreateUser(_ context.Context, u models.User) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) || strings.EqualFold(existing.Handle, u.Handle) {
			return models.User{}, ErrConflict
		}
	}
	now := time.Now().UTC()
	if u.Role == "" {
		u.Role = models.RoleViewer
	}
	u.CreatedAt, u.UpdatedAt = now, now
	m.users[u.ID] = u
	m.settings[u.ID] = models.Settings{UserID: u.ID}
	return u, nil
}

func (m *MemoryRepository) FindUserByID(_ context.Context, id string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return u, nil
}

func (m *MemoryRepository) FindUserByEmail(_ context.Context, email string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return models.User{}, ErrNotFound
}

func (m *MemoryRepository) FindUserByHandle(_ context.Context, handle string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Handle, handle) {
			return u, nil
		}
	}
	return models.User{}, ErrNotFound
}

func (m *MemoryRepository) UpdateUserPassword(_ context.Context, id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	m.users[id] = u
	return nil
}

func (m *MemoryRepository) UpdateUserHandle(_ context.Context, id, handle string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	for otherID, other := range m.users {
		if otherID != id && strings.EqualFold(other.Handle, handle) {
			return models.User{}, ErrConflict
		}
	}
	u.Handle = handle
	u.UpdatedAt = time.Now().UTC()
	m.users[id] = u
	return u, nil
}

func (m *MemoryRepository) UpsertAccount(_ context.Context, a models.Account) (models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for id, existing := range m.accounts {
		if existing.Provider == a.Provider && existing.ProviderUserID == a.ProviderUserID {
			a.ID = id
			a.CreatedAt = existing.CreatedAt
			a.UpdatedAt = now
			m.accounts[id] = a
			return a, nil
		}
	}
	if a.ID == "" {
		a.ID = newOpaqueID()
	}
	a.CreatedAt, a.UpdatedAt = now, now
	m.accounts[a.ID] = a
	return a, nil
}

func (m *MemoryRepository) FindAccountByProvider(_ context.Context, provider, providerUserID string) (models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Provider == provider && a.ProviderUserID == providerUserID {
			return a, nil
		}
	}
	return models.Account{}, ErrNotFound
}

func (m *MemoryRepository) ListAccountsByUser(_ context.Context, userID string) ([]models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Account
	for _, a := range m.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MemoryRepository) GetSettings(_ context.Context, userID string) (models.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[userID]
	if !ok {
		return models.Settings{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryRepository) UpdateSettings(_ context.Context, s models.Settings) (models.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[s.UserID] = s
	return s, nil
}

func (m *MemoryRepository) InsertPendingVideo(_ context.Context, v models.Video) (models.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if v.ProcessingStatus == "" {
		v.ProcessingStatus = models.ProcessingPending
	}
	if v.CompressionStatus == "" {
		v.CompressionStatus = models.CompressionNone
	}
	v.CreatedAt, v.UpdatedAt = now, now
	m.videos[v.ID] = v
	return v, nil
}

func (m *MemoryRepository) GetVideo(_ context.Context, id string) (models.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return models.Video{}, ErrNotFound
	}
	return v, nil
}

func (m *MemoryRepository) FindVideoByTitle(_ context.Context, userID, title string) (models.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.videos {
		if v.UserID == userID && v.Title == title {
			return v, nil
		}
	}
	return models.Video{}, ErrNotFound
}

func (m *MemoryRepository) ListVideosByUser(_ context.Context, userID string) ([]models.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Video
	for _, v := range m.videos {
		if v.UserID == userID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *MemoryRepository) DeleteVideo(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.videos[id]; !ok {
		return ErrNotFound
	}
	delete(m.videos, id)
	return nil
}

func (m *MemoryRepository) cas(id string, expectProcessing, expectCompression models.ProcessingStatus, checkCompression bool, wantCompression models.CompressionStatus, mutate func(*models.Video)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return ErrInvalidTransition
	}
	if expectProcessing != "" && v.ProcessingStatus != expectProcessing {
		return ErrInvalidTransition
	}
	if checkCompression && v.CompressionStatus != wantCompression {
		return ErrInvalidTransition
	}
	_ = expectCompression
	mutate(&v)
	v.UpdatedAt = time.Now().UTC()
	m.videos[id] = v
	return nil
}

func (m *MemoryRepository) TransitionProcessing(_ context.Context, id string) error {
	return m.cas(id, models.ProcessingPending, "", false, "", func(v *models.Video) {
		v.ProcessingStatus = models.ProcessingProcessing
	})
}

func (m *MemoryRepository) TransitionCompleted(_ context.Context, id, processedPath string, duration *float64) error {
	return m.cas(id, models.ProcessingProcessing, "", false, "", func(v *models.Video) {
		v.ProcessingStatus = models.ProcessingCompleted
		v.ProcessedPath = processedPath
		v.DurationSeconds = duration
	})
}

func (m *MemoryRepository) TransitionFailed(_ context.Context, id, reason string) error {
	return m.cas(id, models.ProcessingProcessing, "", false, "", func(v *models.Video) {
		v.ProcessingStatus = models.ProcessingFailed
		v.ErrorMessage = reason
	})
}

func (m *MemoryRepository) TransitionCompressing(_ context.Context, id string) error {
	return m.cas(id, models.ProcessingCompleted, "", true, models.CompressionNone, func(v *models.Video) {
		v.CompressionStatus = models.CompressionCompressing
	})
}

func (m *MemoryRepository) TransitionArchived(_ context.Context, id, archivePath string) error {
	return m.cas(id, "", "", true, models.CompressionCompressing, func(v *models.Video) {
		v.CompressionStatus = models.CompressionCompleted
		v.ArchivePath = archivePath
		v.RawObjectKey = ""
	})
}

func (m *MemoryRepository) TransitionCompressionFailed(_ context.Context, id, reason string) error {
	return m.cas(id, "", "", true, models.CompressionCompressing, func(v *models.Video) {
		v.CompressionStatus = models.CompressionFailed
		v.ErrorMessage = reason
	})
}

func (m *MemoryRepository) FindActiveSession(_ context.Context, userID string) (models.StreamSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.UserID == userID && s.EndedAt == nil {
			return s, true, nil
		}
	}
	return models.StreamSession{}, false, nil
}

func (m *MemoryRepository) CreateStreamSession(_ context.Context, s models.StreamSession) (models.StreamSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		if existing.UserID == s.UserID && existing.EndedAt == nil {
			return models.StreamSession{}, ErrConflict
		}
	}
	now := time.Now().UTC()
	if s.StartedAt.IsZero() {
		s.StartedAt = now
	}
	s.CreatedAt, s.UpdatedAt = now, now
	m.sessions[s.ID] = s
	return s, nil
}

func (m *MemoryRepository) EndStreamSession(_ context.Context, id string, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.EndedAt != nil {
		return ErrInvalidTransition
	}
	s.EndedAt = &endedAt
	s.UpdatedAt = time.Now().UTC()
	m.sessions[id] = s
	return nil
}

func (m *MemoryRepository) SetSessionReplay(_ context.Context, id, replayVideoURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.ReplayVideoURL = replayVideoURL
	s.UpdatedAt = time.Now().UTC()
	m.sessions[id] = s
	return nil
}

func (m *MemoryRepository) InsertChatMessage(_ context.Context, msg models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chat = append(m.chat, msg)
	return nil
}

func (m *MemoryRepository) InsertEngagementEvent(_ context.Context, e models.EngagementEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engage = append(m.engage, e)
	return nil
}

func (m *MemoryRepository) SeenIdempotencyKey(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.idemKeys[key]; ok {
		return false, nil
	}
	m.idemKeys[key] = struct{}{}
	return true, nil
}

var _ Repository = (*MemoryRepository)(nil)
