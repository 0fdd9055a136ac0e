package memory

import (
	"context"
	"sync"

	"github.com/xela07ax/agentwallet/internal/domain"
)

// Credentials учетки Console в памяти процесса
type Credentials struct {
	mu    sync.RWMutex
	items map[string]domain.Credential
}

func NewCredentials() *Credentials {
	return &Credentials{items: make(map[string]domain.Credential)}
}

// GetCredential nil, nil если учетки нет
func (c *Credentials) GetCredential(_ context.Context, identity string) (*domain.Credential, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cred, ok := c.items[identity]
	if !ok {
		return nil, nil
	}
	return &cred, nil
}

func (c *Credentials) CreateCredential(_ context.Context, cred *domain.Credential) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[cred.Identity]; ok {
		return domain.Errorf(domain.CodeInvalidArgument, "credential %s already exists", cred.Identity)
	}
	c.items[cred.Identity] = *cred
	return nil
}
