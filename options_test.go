package automation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
)

type recordingRunner struct {
	name     string
	log      *[]string
	startErr error
}

func (r *recordingRunner) Start(context.Context) error {
	*r.log = append(*r.log, "start "+r.name)
	return r.startErr
}

func (r *recordingRunner) Stop(context.Context) error {
	*r.log = append(*r.log, "stop "+r.name)
	return nil
}

type nopStore struct{ closed bool }

func (s *nopStore) Migrate(context.Context) error { return nil }
func (s *nopStore) Ping(context.Context) error    { return nil }
func (s *nopStore) Close() error                  { s.closed = true; return nil }

func TestOrchestratorRunnerOrder(t *testing.T) {
	var log []string
	store := &nopStore{}
	o, err := automation.New(
		automation.WithStore(store),
		automation.WithRunner(&recordingRunner{name: "sweep", log: &log}),
		automation.WithRunner(&recordingRunner{name: "pool", log: &log}),
	)
	require.NoError(t, err)

	require.NoError(t, o.Start(context.Background()))
	require.NoError(t, o.Stop(context.Background()))

	assert.Equal(t, []string{"start sweep", "start pool", "stop pool", "stop sweep"}, log)
	assert.True(t, store.closed)
}

func TestOrchestratorStartRollsBack(t *testing.T) {
	var log []string
	o, err := automation.New(
		automation.WithStore(&nopStore{}),
		automation.WithRunner(&recordingRunner{name: "sweep", log: &log}),
		automation.WithRunner(&recordingRunner{name: "pool", log: &log, startErr: errors.New("boom")}),
	)
	require.NoError(t, err)

	require.Error(t, o.Start(context.Background()))
	assert.Equal(t, []string{"start sweep", "start pool", "stop sweep"}, log)
}

func TestOrchestratorRequiresStore(t *testing.T) {
	o, err := automation.New()
	require.NoError(t, err)
	assert.ErrorIs(t, o.Start(context.Background()), automation.ErrNoStore)
}

func TestWithConfigRejectsBadLimits(t *testing.T) {
	cfg := automation.DefaultConfig()
	cfg.DefaultListLimit = 500
	_, err := automation.New(automation.WithConfig(cfg))
	assert.ErrorIs(t, err, automation.ErrValidation)
}
