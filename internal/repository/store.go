package repository

import "gorm.io/gorm"

// Store is the gorm-backed persistence gateway used by the services.
type Store struct {
	MessageRepository
	UserRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		MessageRepository: NewMessageRepository(db),
		UserRepository:    NewUserRepository(db),
	}
}
