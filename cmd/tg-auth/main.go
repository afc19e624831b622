// Command tg-auth interactively authenticates a Telegram account and stores
// the resulting session string on the matching account row, so the bridge can
// start the session headless.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/glebarez/sqlite"
	"github.com/gotd/td/session/tdesktop"

	"github.com/marselk/tgbridge/internal/config"
	"github.com/marselk/tgbridge/internal/database"
	"github.com/marselk/tgbridge/internal/repository"
)

func main() {
	accountName := flag.String("account", "", "bridge account name to store the session string on")
	flag.Parse()

	fmt.Println("=== telegram auth tool ===")
	fmt.Println("generates a session string for a bridge account")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	// try to reuse a telegram desktop session before falling back to phone auth
	tdataPath := telegramDesktopPath()
	accounts, tdataErr := tdesktop.Read(tdataPath, nil)

	if tdataErr != nil || len(accounts) == 0 {
		fmt.Printf("no telegram desktop session at: %s\n", tdataPath)
		fmt.Print("enter telegram desktop path (or press enter to skip): ")
		customPath, _ := reader.ReadString('\n')
		customPath = strings.TrimSpace(customPath)

		if customPath != "" {
			if !strings.HasSuffix(customPath, "tdata") {
				customPath = filepath.Join(customPath, "tdata")
			}
			accounts, tdataErr = tdesktop.Read(customPath, nil)
		}
	}

	useTData := false
	if tdataErr == nil && len(accounts) > 0 {
		fmt.Printf("\ndetected %d telegram desktop session(s)\n", len(accounts))
		fmt.Println("  1. use telegram desktop session")
		fmt.Println("  2. authenticate with phone number (sms/code)")
		fmt.Print("\nenter choice [1]: ")
		choice, _ := reader.ReadString('\n')
		useTData = strings.TrimSpace(choice) != "2"
	} else {
		fmt.Println("no telegram desktop session found, using phone auth")
	}

	apiID, apiHash := apiCredentials(reader)

	var client *gotgproto.Client
	var err error
	if useTData {
		client, err = authWithTData(apiID, apiHash, accounts, reader)
	} else {
		client, err = authWithPhone(apiID, apiHash, reader)
	}
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	defer client.Stop()

	sessionString, err := client.ExportStringSession()
	if err != nil {
		fmt.Printf("error exporting session: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n✓ authentication successful!")
	fmt.Printf("logged in as: @%s\n", client.Self.Username)

	if *accountName != "" {
		if err := storeSession(*accountName, sessionString); err != nil {
			fmt.Printf("error saving to account %q: %v\n", *accountName, err)
			os.Exit(1)
		}
		fmt.Printf("\nsession string saved on account %q\n", *accountName)
		return
	}

	fmt.Println("\nyour session string:")
	fmt.Println("---")
	fmt.Println(sessionString)
	fmt.Println("---")
	fmt.Println("\nset it on the account row, or re-run with -account <name>")
	fmt.Println("\n⚠️  keep this secret! it provides full access to your telegram account")
}

// storeSession writes the session string onto the named account row.
func storeSession(name, sessionString string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	accounts := repository.NewAccountsRepository(db.GORM)
	ctx := context.Background()

	acc, err := accounts.GetByName(ctx, name)
	if err != nil {
		return err
	}
	if acc == nil {
		return fmt.Errorf("account %q does not exist, create it first", name)
	}
	return accounts.SaveSessionString(ctx, acc.ID, sessionString)
}

// telegramDesktopPath returns the default Telegram Desktop data directory.
func telegramDesktopPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "Telegram Desktop", "tdata")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "Telegram Desktop", "tdata")
	default: // linux
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "TelegramDesktop", "tdata")
	}
}

// apiCredentials reads API ID and Hash from env or prompts for them.
func apiCredentials(reader *bufio.Reader) (int, string) {
	apiIDStr := os.Getenv("TG_API_ID")
	apiHash := os.Getenv("TG_API_HASH")

	if apiIDStr == "" {
		fmt.Print("enter your api_id (from https://my.telegram.org): ")
		apiIDStr, _ = reader.ReadString('\n')
		apiIDStr = strings.TrimSpace(apiIDStr)
	}
	if apiHash == "" {
		fmt.Print("enter your api_hash: ")
		apiHash, _ = reader.ReadString('\n')
		apiHash = strings.TrimSpace(apiHash)
	}

	apiID, err := strconv.Atoi(apiIDStr)
	if err != nil {
		fmt.Printf("error: invalid api_id: %v\n", err)
		os.Exit(1)
	}
	return apiID, apiHash
}

func authWithTData(apiID int, apiHash string, accounts []tdesktop.Account, reader *bufio.Reader) (*gotgproto.Client, error) {
	selected := accounts[0]
	if len(accounts) > 1 {
		fmt.Printf("\nfound %d telegram accounts\n", len(accounts))
		fmt.Print("select account number [1]: ")
		choice, _ := reader.ReadString('\n')
		if n, err := strconv.Atoi(strings.TrimSpace(choice)); err == nil && n >= 1 && n <= len(accounts) {
			selected = accounts[n-1]
		}
	}

	fmt.Println("\nauthenticating with telegram desktop session...")
	return gotgproto.NewClient(
		apiID,
		apiHash,
		gotgproto.ClientTypePhone(""), // empty = use session
		&gotgproto.ClientOpts{
			Session:          sessionMaker.TdataSession(selected).Name("tdata_session"),
			DisableCopyright: true,
		},
	)
}

func authWithPhone(apiID int, apiHash string, reader *bufio.Reader) (*gotgproto.Client, error) {
	fmt.Print("enter your phone number (with country code, e.g. +1234567890): ")
	phone, _ := reader.ReadString('\n')
	phone = strings.TrimSpace(phone)

	fmt.Println("\nauthenticating... (check telegram for code)")
	client, err := gotgproto.NewClient(
		apiID,
		apiHash,
		gotgproto.ClientTypePhone(phone),
		&gotgproto.ClientOpts{
			Session:          sessionMaker.SqlSession(sqlite.Open("tg_session")),
			DisableCopyright: true,
		},
	)
	if err == nil {
		fmt.Println("\nnote: tg_session.db was created for temporary storage.")
		fmt.Println("you can delete it after the session string is saved.")
	}
	return client, err
}
