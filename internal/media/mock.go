package media

import "github.com/stretchr/testify/mock"

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Delete(ref string) error {
	args := m.Called(ref)
	return args.Error(0)
}
