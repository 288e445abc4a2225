// Package userstore is the application bundled into provisioned units.
//
// A unit running userstore holds exactly one user record. The record starts
// empty and is replaced wholesale by create_user.
package userstore

import (
	"sync"

	"github.com/danmuck/spawnctl/internal/units"
)

const (
	ModuleName = "userstore"

	MethodCreateUser  = "create_user"
	MethodGetUser     = "get_user"
	MethodGetUserName = "get_user_name"
)

// moduleCode is the compiled module image served by the code source.
var moduleCode = []byte("\x00asm\x01\x00\x00\x00spawnctl:userstore:v1")

// Code returns a copy of the userstore module image.
func Code() []byte {
	out := make([]byte, len(moduleCode))
	copy(out, moduleCode)
	return out
}

// CreateUserArgs is the create_user request payload.
type CreateUserArgs struct {
	User units.AppState `json:"user"`
}

// CreateUserResult reports the identity of the unit that stored the user.
type CreateUserResult struct {
	UserID units.UnitID `json:"user_id"`
}

// Store is one unit's single-slot, last-write-wins user record.
type Store struct {
	mu   sync.RWMutex
	self units.UnitID
	user units.AppState
}

func New(self units.UnitID) *Store {
	return &Store{self: self}
}

// Create replaces the stored user and returns the owning unit id.
func (s *Store) Create(args CreateUserArgs) CreateUserResult {
	s.mu.Lock()
	s.user = args.User
	s.mu.Unlock()
	return CreateUserResult{UserID: s.self}
}

// Get returns the stored user state; it is empty before create_user.
func (s *Store) Get() units.AppState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// GetName returns the stored user name.
func (s *Store) GetName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.Name
}
