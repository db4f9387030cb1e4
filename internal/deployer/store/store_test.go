package store_test

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchstack-dev/searchstack/internal/deployer/store"
	"github.com/searchstack-dev/searchstack/pkg/models"
)

func newRecord(id string) *models.Deployment {
	return &models.Deployment{
		InstanceID: id,
		Ports:      models.Ports{Elasticsearch: 9200, ElasticsearchTransport: 9300, MCPServer: 9301, AIAgent: 9302},
	}
}

func TestNewInstanceID(t *testing.T) {
	hexID := regexp.MustCompile(`^[0-9a-f]{8}$`)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := store.NewInstanceID()
		assert.Regexp(t, hexID, id)
		assert.False(t, seen[id], "duplicate instance id %s", id)
		seen[id] = true
	}
}

func TestCreateAndGet(t *testing.T) {
	s := store.New()
	s.Create(newRecord("abc12345"))

	rec, err := s.Get("abc12345")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeploying, rec.Status)
	assert.False(t, rec.CreatedAt.IsZero())

	// Get returns a copy; mutating it must not touch the stored record.
	rec.Status = models.StatusRunning
	again, err := s.Get("abc12345")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeploying, again.Status)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []models.DeploymentStatus
		wantErr bool
	}{
		{
			name: "full happy path",
			path: []models.DeploymentStatus{models.StatusServicesStarting, models.StatusRunning},
		},
		{
			name: "partially running",
			path: []models.DeploymentStatus{models.StatusServicesStarting, models.StatusPartiallyRunning},
		},
		{
			name: "health check failure",
			path: []models.DeploymentStatus{models.StatusServicesStarting, models.StatusHealthCheckFailed},
		},
		{
			name: "failure during start",
			path: []models.DeploymentStatus{models.StatusFailed},
		},
		{
			name:    "running must not skip services_starting",
			path:    []models.DeploymentStatus{models.StatusRunning},
			wantErr: true,
		},
		{
			name:    "no transitions out of terminal state",
			path:    []models.DeploymentStatus{models.StatusFailed, models.StatusServicesStarting},
			wantErr: true,
		},
		{
			name:    "running is terminal",
			path:    []models.DeploymentStatus{models.StatusServicesStarting, models.StatusRunning, models.StatusFailed},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.New()
			s.Create(newRecord("abc12345"))

			var err error
			for _, status := range tt.path {
				err = s.UpdateStatus("abc12345", status)
				if err != nil {
					break
				}
			}
			if tt.wantErr {
				assert.ErrorIs(t, err, store.ErrInvalidTransition)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUpdateStatusUnknownID(t *testing.T) {
	s := store.New()
	err := s.UpdateStatus("missing", models.StatusServicesStarting)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteTwice(t *testing.T) {
	s := store.New()
	s.Create(newRecord("abc12345"))

	require.NoError(t, s.Delete("abc12345"))
	assert.ErrorIs(t, s.Delete("abc12345"), store.ErrNotFound)
}

func TestSetFailedRecordsError(t *testing.T) {
	s := store.New()
	s.Create(newRecord("abc12345"))

	require.NoError(t, s.SetFailed("abc12345", "docker exploded"))

	rec, err := s.Get("abc12345")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Equal(t, "docker exploded", rec.Error)
}

func TestSetCredentials(t *testing.T) {
	s := store.New()
	s.Create(newRecord("abc12345"))

	require.NoError(t, s.SetCredentials("abc12345", "raw", "encoded"))
	rec, err := s.Get("abc12345")
	require.NoError(t, err)
	assert.Equal(t, "raw", rec.APIKey)
	assert.Equal(t, "encoded", rec.EncodedKey)

	assert.ErrorIs(t, s.SetCredentials("missing", "a", "b"), store.ErrNotFound)
}

func TestSetHealth(t *testing.T) {
	s := store.New()
	s.Create(newRecord("abc12345"))
	require.NoError(t, s.UpdateStatus("abc12345", models.StatusServicesStarting))

	health := models.ServicesHealth{"elasticsearch": "healthy", "mcp_server": "healthy", "ai_agent": "healthy"}
	require.NoError(t, s.SetHealth("abc12345", models.StatusRunning, health, ""))

	rec, err := s.Get("abc12345")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, rec.Status)
	assert.Equal(t, health, rec.ServicesHealth)
}

func TestListAndCount(t *testing.T) {
	s := store.New()
	assert.Equal(t, 0, s.Count())
	assert.Empty(t, s.List())

	s.Create(newRecord("aaaa1111"))
	s.Create(newRecord("bbbb2222"))
	assert.Equal(t, 2, s.Count())
	assert.Len(t, s.List(), 2)
}
