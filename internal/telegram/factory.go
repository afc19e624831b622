package telegram

import (
	"fmt"
	"path/filepath"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/glebarez/sqlite"

	"github.com/marselk/tgbridge/internal/models"
)

// ClientFactory creates the MTProto client for one account. Injectable so
// tests can substitute a fake transport.
type ClientFactory func(apiID int, apiHash string, acc *models.Account, dataDir string, conversator gotgproto.AuthConversator) (*gotgproto.Client, error)

// NewPersistentClient creates a client whose session lives in a per-account
// sqlite file, so auth key refreshes persist across restarts. An existing
// session string seeds the first run.
func NewPersistentClient(apiID int, apiHash string, acc *models.Account, dataDir string, conversator gotgproto.AuthConversator) (*gotgproto.Client, error) {
	clientType := gotgproto.ClientTypePhone(acc.Phone)
	if acc.Kind == models.AccountKindBot {
		clientType = gotgproto.ClientTypeBot(acc.BotToken)
	}

	var session sessionMaker.SessionConstructor
	if acc.SessionString != "" {
		session = sessionMaker.StringSession(acc.SessionString)
	} else {
		path := filepath.Join(dataDir, fmt.Sprintf("session_%s.db", acc.ID))
		session = sessionMaker.SqlSession(sqlite.Open(path))
	}

	opts := &gotgproto.ClientOpts{
		Session:          session,
		AuthConversator:  conversator,
		DisableCopyright: true,
	}

	client, err := gotgproto.NewClient(apiID, apiHash, clientType, opts)
	if err != nil {
		return nil, fmt.Errorf("create telegram client for %s: %w", acc.Name, err)
	}
	return client, nil
}
