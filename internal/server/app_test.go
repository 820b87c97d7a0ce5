package server

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/clinicguard/internal/fieldcrypt"
	"github.com/dmitrijs2005/clinicguard/internal/logging"
	"github.com/dmitrijs2005/clinicguard/internal/server/config"
	"github.com/dmitrijs2005/clinicguard/internal/server/models"
	"github.com/dmitrijs2005/clinicguard/internal/server/repositories/memrepo"
)

func testConfig() *config.Config {
	c := &config.Config{}
	c.LoadDefaults()
	c.FieldKey = base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", fieldcrypt.KeySize)))
	return c
}

func TestBuild(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	app, err := build(testConfig(), logging.Nop(), db, memrepo.New())
	require.NoError(t, err)
	assert.NotNil(t, app.http)
	assert.NotNil(t, app.grpc)
	assert.NotNil(t, app.auth)
}

func TestBuild_BadFieldKey(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	c := testConfig()
	c.FieldKey = "not base64!"
	_, err = build(c, logging.Nop(), db, memrepo.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field key")
}

func TestPurgeSessions(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := memrepo.New()
	app, err := build(testConfig(), logging.Nop(), db, store)
	require.NoError(t, err)

	expired := &models.Session{ID: "s1", AccountID: "a1", ExpiresAt: time.Now().Add(-time.Hour)}
	require.NoError(t, store.Sessions(nil).Create(context.Background(), expired))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		app.purgeSessions(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return store.SessionCount() == 0 }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("purge loop did not stop after cancel")
	}
}
