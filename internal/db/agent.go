package db

import (
	"errors"
	"net/url"
	"strings"

	"gorm.io/gorm"

	"github.com/griffithind/dockge/internal/crypto"
	apperrors "github.com/griffithind/dockge/internal/errors"
)

// Agent is a registered remote instance. The password column stores the
// enc:-wrapped form; the in-memory struct returned by FindAgents carries
// the plaintext needed to open the outbound connection.
type Agent struct {
	ID       int64  `gorm:"primaryKey" json:"id"`
	URL      string `gorm:"column:url;uniqueIndex;not null" json:"url"`
	Username string `json:"username"`
	Password string `json:"-"`
	Active   bool   `gorm:"default:true" json:"active"`
}

// TableName keeps the singular table name of the schema contract.
func (Agent) TableName() string { return "agent" }

// Endpoint derives the host[:port] identity from the agent URL.
func (a *Agent) Endpoint() string {
	return EndpointFromURL(a.URL)
}

// EndpointFromURL extracts host[:port] from an agent URL. Invalid URLs
// fall back to the raw string with the scheme stripped.
func EndpointFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		trimmed := rawURL
		if idx := strings.Index(trimmed, "://"); idx >= 0 {
			trimmed = trimmed[idx+3:]
		}
		return strings.TrimSuffix(trimmed, "/")
	}
	return parsed.Host
}

// CreateAgent encrypts the password and inserts an agent row. Adding the
// same URL twice is rejected.
func (s *Store) CreateAgent(rawURL, username, password string) (*Agent, error) {
	existing, err := s.findAgentByURL(rawURL)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.New(apperrors.CategoryAgent, apperrors.CodeAgentExists, "Agent already exists.")
	}

	secret, err := s.EncryptionSecret()
	if err != nil {
		return nil, err
	}
	encrypted, err := crypto.Encrypt(password, secret)
	if err != nil {
		return nil, err
	}

	agent := &Agent{
		URL:      rawURL,
		Username: username,
		Password: encrypted,
		Active:   true,
	}
	if err := s.db.Create(agent).Error; err != nil {
		return nil, wrapQuery(err, "create agent")
	}

	agent.Password = password
	return agent, nil
}

// FindAgents returns all agents with passwords decrypted in memory.
// Rows that fail to decrypt are returned with an empty password so a
// broken key does not hide the agent from the list.
func (s *Store) FindAgents() ([]*Agent, error) {
	var rows []*Agent
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, wrapQuery(err, "list agents")
	}
	if len(rows) == 0 {
		return rows, nil
	}

	secret, err := s.EncryptionSecret()
	if err != nil {
		return nil, err
	}
	for _, agent := range rows {
		if !crypto.IsEncrypted(agent.Password) {
			continue
		}
		plaintext, err := crypto.Decrypt(agent.Password, secret)
		if err != nil {
			agent.Password = ""
			continue
		}
		agent.Password = plaintext
	}
	return rows, nil
}

// DeleteAgentByURL removes an agent row. Deleting an unknown URL is not
// an error.
func (s *Store) DeleteAgentByURL(rawURL string) error {
	if err := s.db.Where("url = ?", rawURL).Delete(&Agent{}).Error; err != nil {
		return wrapQuery(err, "delete agent")
	}
	return nil
}

// MigrateAgentPasswords rewrites any plaintext agent passwords in the
// enc: form. Returns the number of rows rewritten.
func (s *Store) MigrateAgentPasswords() (int, error) {
	var rows []*Agent
	if err := s.db.Find(&rows).Error; err != nil {
		return 0, wrapQuery(err, "list agents")
	}

	migrated := 0
	for _, agent := range rows {
		if agent.Password == "" || crypto.IsEncrypted(agent.Password) {
			continue
		}
		secret, err := s.EncryptionSecret()
		if err != nil {
			return migrated, err
		}
		encrypted, err := crypto.Encrypt(agent.Password, secret)
		if err != nil {
			return migrated, err
		}
		if err := s.db.Model(agent).Update("password", encrypted).Error; err != nil {
			return migrated, wrapQuery(err, "migrate agent password")
		}
		migrated++
	}
	return migrated, nil
}

func (s *Store) findAgentByURL(rawURL string) (*Agent, error) {
	var agent Agent
	err := s.db.Where("url = ?", rawURL).First(&agent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapQuery(err, "find agent")
	}
	return &agent, nil
}
