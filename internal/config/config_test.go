package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/chat-engine/internal/domain"
)

const sampleYAML = `
server:
  port: 9000
chat:
  room_id: room-1
  session_id: live-1
  identity:
    user_id: u-1
    username: alice
    role: HOST
filter:
  hide_links: true
transport:
  driver: feed
  feed:
    topic: changes
backend:
  base_url: http://history:8080
  timeout: 2s
websocket:
  ping_interval: 15s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600))
	return dir
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 50060, cfg.GRPC.Port)
	assert.Equal(t, domain.Channel{RoomID: "room-1", SessionID: "live-1"}, cfg.Chat.Channel())
	assert.Equal(t, domain.Identity{UserID: "u-1", Username: "alice", Role: domain.RoleHost}, cfg.Chat.Identity)
	assert.True(t, cfg.Filter.HideLinks)
	assert.True(t, cfg.Filter.HideSpam)
	assert.Equal(t, "feed", cfg.Transport.Driver)
	assert.Equal(t, "changes", cfg.Transport.Feed.Topic)
	assert.Equal(t, 2*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Outbound.SendTimeout)
	assert.Equal(t, 15*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 60*time.Second, cfg.WebSocket.PongWait)

	client := cfg.Client()
	assert.Equal(t, "http://history:8080", client.BaseURL)
	assert.Equal(t, 50, client.HistoryLimit)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("CHAT_ROLE", "creator")
	t.Setenv("TRANSPORT_DRIVER", "pubsub")
	t.Setenv("PUBSUB_DRIVER", "memory")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, domain.RoleCreator, cfg.Chat.Identity.Role)
	assert.Equal(t, "pubsub", cfg.Transport.Driver)
	assert.Equal(t, "memory", cfg.Transport.PubSub.Driver)
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, domain.RoleViewer, cfg.Chat.Identity.Role)
	assert.Equal(t, "redis", cfg.Transport.PubSub.Driver)
	assert.Equal(t, 3*time.Second, cfg.Transport.PubSub.Redis.ReadTimeout)
	assert.Empty(t, cfg.Backend.BaseURL)
}
