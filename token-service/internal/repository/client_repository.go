package repository

import (
	"strings"

	"github.com/userpreference/platform/shared/apperrors"
	"github.com/userpreference/platform/shared/config"
)

// Client is a registered token-service caller. SecretHash is a bcrypt hash.
type Client struct {
	ID         string
	SecretHash string
	UserID     string
}

// ClientRepository holds the clients declared in configuration.
type ClientRepository struct {
	clients map[string]Client
}

func NewClientRepository(clients []config.ClientConfig) *ClientRepository {
	byID := make(map[string]Client, len(clients))
	for _, c := range clients {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			continue
		}
		userID := c.UserID
		if userID == "" {
			userID = id
		}
		byID[id] = Client{ID: id, SecretHash: c.SecretHash, UserID: userID}
	}
	return &ClientRepository{clients: byID}
}

func (r *ClientRepository) GetByID(id string) (*Client, error) {
	c, ok := r.clients[id]
	if !ok {
		return nil, apperrors.NotFound("client not found")
	}
	return &c, nil
}

func (r *ClientRepository) Len() int {
	return len(r.clients)
}
