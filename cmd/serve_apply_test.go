package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"emojivote/internal/bootstrap/config"
	"emojivote/internal/bootstrap/database"
	domainemoji "emojivote/internal/domain/emoji"
	"emojivote/internal/infrastructure/memory"
	"emojivote/internal/infrastructure/persistence/sqlite/model"
	sqliterepo "emojivote/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "emojivote/internal/infrastructure/persistence/sqlite/uow"
	slackinfra "emojivote/internal/infrastructure/slack"
	emojiusecase "emojivote/internal/usecase/emoji"
)

// fetchingSlack answers emoji.list with an empty directory and, like the real
// service, downloads the image URL before accepting admin.emoji.add.
type fetchingSlack struct {
	mu      sync.Mutex
	fetched [][]byte
	errors  []string
}

func (f *fetchingSlack) handler(t *testing.T) http.Handler {
	client := &http.Client{Timeout: 3 * time.Second}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/emoji.list":
			_, _ = io.WriteString(w, `{"ok":true,"emoji":{},"categories":[]}`)
		case "/api/admin.emoji.add":
			if err := r.ParseForm(); err != nil {
				t.Errorf("parse form: %v", err)
			}
			resp, err := client.Get(r.PostForm.Get("url"))
			if err != nil {
				f.record(nil, err.Error())
				_, _ = io.WriteString(w, `{"ok":false,"error":"image_fetch_failed"}`)
				return
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusOK {
				f.record(nil, fmt.Sprintf("status %d", resp.StatusCode))
				_, _ = io.WriteString(w, `{"ok":false,"error":"image_fetch_failed"}`)
				return
			}
			f.record(body, "")
			_, _ = io.WriteString(w, `{"ok":true}`)
		default:
			_, _ = io.WriteString(w, `{"ok":true}`)
		}
	})
}

func (f *fetchingSlack) record(body []byte, failure string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if failure != "" {
		f.errors = append(f.errors, failure)
		return
	}
	f.fetched = append(f.fetched, body)
}

func TestForcedAddLetsDirectoryFetchImageDuringApply(t *testing.T) {
	ctx := context.Background()
	dbCfg := config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "emojivote.sqlite")}

	db, err := database.Open(ctx, dbCfg)
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(model.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	reader, err := database.OpenReader(ctx, dbCfg)
	if err != nil {
		t.Fatalf("database.OpenReader() error = %v", err)
	}
	readerSQL, _ := reader.DB()
	t.Cleanup(func() { _ = readerSQL.Close() })

	images := httptest.NewServer(newServeHandler(ctx, &stubEventSink{}, sqliterepo.NewImageStore(reader), serveHandlerConfig{}))
	t.Cleanup(images.Close)

	directory := &fetchingSlack{}
	slackServer := httptest.NewServer(directory.handler(t))
	t.Cleanup(slackServer.Close)

	gateway := slackinfra.NewDirectoryGateway(slackinfra.GatewayOptions{
		APIURL:         slackServer.URL + "/api",
		AdminToken:     "xoxp-admin",
		ImageURLPrefix: images.URL + "/images/",
		Timeout:        10 * time.Second,
	})
	svc := emojiusecase.NewService(
		sqliterepo.NewProposalRepository(db),
		sqliteuow.NewUnitOfWork(db),
		nil,
		gateway,
		sqliterepo.NewImageStore(db),
		memory.NewNotifier(),
		emojiusecase.Options{
			Rules:        domainemoji.VoteRules{CommentPeriod: 1, MaxDuration: 3, WinBy: 5, DownVoteThreshold: 3},
			EmojiChannel: "CEMOJI",
			AdminChannel: "CADMIN",
			IsAdmin:      func(user string) bool { return user == "UADMIN" },
			Now:          func() time.Time { return testSlackNow },
		},
	)

	data := []byte("\x89PNG\r\n\x1a\nparrot")
	proposed, err := svc.ProposeEmoji(ctx, emojiusecase.ProposeEmojiInput{
		Requester:   "UAUTHOR",
		FileName:    "party_parrot.png",
		ContentType: "image/png",
		Data:        data,
	})
	if err != nil {
		t.Fatalf("ProposeEmoji() error = %v", err)
	}

	started := time.Now()
	result, err := svc.Force(ctx, proposed.Proposal.ID, "UADMIN")
	if err != nil {
		t.Fatalf("Force() error = %v", err)
	}
	if result.State != domainemoji.StateAccepted {
		t.Fatalf("Force() state = %s note=%q, want accepted", result.State, result.Note)
	}
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Fatalf("apply took %s, image fetch was blocked", elapsed)
	}

	directory.mu.Lock()
	defer directory.mu.Unlock()
	if len(directory.errors) != 0 {
		t.Fatalf("directory image fetch failed: %v", directory.errors)
	}
	if len(directory.fetched) != 1 || !bytes.Equal(directory.fetched[0], data) {
		t.Fatalf("directory fetched %d images, want the proposal image", len(directory.fetched))
	}
}
