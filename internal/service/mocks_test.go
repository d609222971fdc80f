package service_test

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
	"github.com/vidshare/backend/internal/models"
	"github.com/vidshare/backend/internal/repository"
)

type mockUserStore struct {
	mock.Mock
}

func (m *mockUserStore) CreateUser(ctx context.Context, user *models.User) error {
	return m.Called(user).Error(0)
}

func (m *mockUserStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	args := m.Called(username)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

type mockVideoStore struct {
	mock.Mock
}

func (m *mockVideoStore) CreateVideo(ctx context.Context, video *models.Video) error {
	return m.Called(video).Error(0)
}

func (m *mockVideoStore) ListVideos(ctx context.Context, q repository.VideoQuery) ([]models.Video, error) {
	args := m.Called(q)
	videos, _ := args.Get(0).([]models.Video)
	return videos, args.Error(1)
}

type mockObjectStore struct {
	mock.Mock
}

func (m *mockObjectStore) Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	data, _ := io.ReadAll(body)
	args := m.Called(key, data, contentType)
	return args.String(0), args.Error(1)
}

func (m *mockObjectStore) Delete(ctx context.Context, key string) error {
	return m.Called(key).Error(0)
}

func (m *mockObjectStore) URL(key string) string {
	return "https://cdn.example.com/" + key
}
