// Package store holds the in-memory deployment registry.
package store

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/searchstack-dev/searchstack/pkg/models"
)

var (
	// ErrNotFound is returned when an instance id is not registered.
	ErrNotFound = errors.New("deployment not found")

	// ErrInvalidTransition is returned when a status update would skip a
	// lifecycle stage.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store is a mutex-guarded registry of active deployments. Records are held
// in process memory only and are lost on restart.
type Store struct {
	mu          sync.RWMutex
	deployments map[string]*models.Deployment
}

// New returns an empty store.
func New() *Store {
	return &Store{deployments: make(map[string]*models.Deployment)}
}

// NewInstanceID generates a short random instance token. Collisions are
// probabilistically unlikely, not guaranteed impossible.
func NewInstanceID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Create registers a new deployment record in the deploying state.
func (s *Store) Create(rec *models.Deployment) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Status = models.StatusDeploying
	rec.CreatedAt = time.Now().UTC()
	s.deployments[rec.InstanceID] = rec
}

// Get returns a copy of the record for the given instance id.
func (s *Store) Get(id string) (*models.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.deployments[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

// List returns copies of all records.
func (s *Store) List() []*models.Deployment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Deployment, 0, len(s.deployments))
	for _, rec := range s.deployments {
		recCopy := *rec
		out = append(out, &recCopy)
	}
	return out
}

// Delete removes a record. Deleting an unknown id returns ErrNotFound so a
// second stop of the same instance is reported as not found rather than
// silently succeeding.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deployments[id]; !ok {
		return ErrNotFound
	}
	delete(s.deployments, id)
	return nil
}

// allowedTransitions encodes the deployment lifecycle: deploying feeds
// services_starting, which fans out to the terminal states. A failure is
// reachable from either non-terminal state.
var allowedTransitions = map[models.DeploymentStatus][]models.DeploymentStatus{
	models.StatusDeploying: {
		models.StatusServicesStarting,
		models.StatusFailed,
	},
	models.StatusServicesStarting: {
		models.StatusRunning,
		models.StatusPartiallyRunning,
		models.StatusHealthCheckFailed,
		models.StatusFailed,
	},
}

// UpdateStatus transitions a deployment to the given status, enforcing the
// lifecycle ordering.
func (s *Store) UpdateStatus(id string, status models.DeploymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.deployments[id]
	if !ok {
		return ErrNotFound
	}
	for _, next := range allowedTransitions[rec.Status] {
		if next == status {
			rec.Status = status
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, status)
}

// SetFailed marks a deployment failed with the captured error text.
func (s *Store) SetFailed(id, errText string) error {
	if err := s.UpdateStatus(id, models.StatusFailed); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.deployments[id]; ok {
		rec.Error = errText
	}
	return nil
}

// SetCredentials stores the generated Elasticsearch credential pair.
func (s *Store) SetCredentials(id, apiKey, encodedKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.deployments[id]
	if !ok {
		return ErrNotFound
	}
	rec.APIKey = apiKey
	rec.EncodedKey = encodedKey
	return nil
}

// SetDockerOutput records the last docker compose output for a deployment.
func (s *Store) SetDockerOutput(id, output string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.deployments[id]; ok {
		rec.DockerOutput = output
	}
}

// SetHealth records the per-service health map alongside a status change.
func (s *Store) SetHealth(id string, status models.DeploymentStatus, health models.ServicesHealth, healthErr string) error {
	if err := s.UpdateStatus(id, status); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.deployments[id]; ok {
		rec.ServicesHealth = health
		rec.HealthError = healthErr
	}
	return nil
}

// SetAPIKeyResult records the outcome of a manual API key generation.
func (s *Store) SetAPIKeyResult(id, apiKey, apiKeyErr string, restarted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.deployments[id]; ok {
		if apiKey != "" {
			rec.APIKey = apiKey
		}
		rec.APIKeyError = apiKeyErr
		rec.MCPKeyRestartOK = restarted
	}
}

// Count returns the number of active deployments.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.deployments)
}
