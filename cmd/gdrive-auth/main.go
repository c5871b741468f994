// Command gdrive-auth runs the OAuth consent flow once and prints the
// refresh token to put in GDRIVE_REFRESH_TOKEN.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"

	"templater/internal/config"
	"templater/internal/pkg/errors"
	"templater/internal/pkg/logger"
)

const consentTimeout = 3 * time.Minute

func main() {
	log := logger.New(logger.Config{Level: "info", Format: "text", Output: os.Stderr})

	if err := run(context.Background(), log); err != nil {
		log.LogFatal("gdrive-auth failed", err)
	}
}

func run(ctx context.Context, log *logger.Logger) error {
	v, err := config.New()
	if err != nil {
		return err
	}
	clientID := strings.TrimSpace(v.GetString(config.KeyGDriveClientID))
	clientSecret := strings.TrimSpace(v.GetString(config.KeyGDriveSecret))
	if clientID == "" || clientSecret == "" {
		return errors.Validation("GDRIVE_CLIENT_ID and GDRIVE_CLIENT_SECRET are required")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return errors.Wrap(err, "gdrive-auth.listen", "cannot open callback listener")
	}
	defer ln.Close()

	redirectURL := fmt.Sprintf("http://127.0.0.1:%d/callback", ln.Addr().(*net.TCPAddr).Port)

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
		RedirectURL:  redirectURL,
	}

	state, err := randomState()
	if err != nil {
		return err
	}

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("state") != state:
			http.Error(w, "invalid state", http.StatusBadRequest)
			errCh <- errors.New(errors.CodeBadRequest, "invalid state in callback")
		case q.Get("error") != "":
			http.Error(w, "authorization error: "+q.Get("error"), http.StatusBadRequest)
			errCh <- errors.Newf(errors.CodeBadRequest, "authorization error: %s", q.Get("error"))
		case q.Get("code") == "":
			http.Error(w, "missing code", http.StatusBadRequest)
			errCh <- errors.New(errors.CodeBadRequest, "missing code in callback")
		default:
			fmt.Fprintln(w, "Done. You can close this window and return to the terminal.")
			codeCh <- q.Get("code")
		}
	})

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	// Offline access with forced consent so Google hands out a refresh token.
	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))

	fmt.Fprintln(os.Stderr, "Open this URL in your browser:")
	fmt.Fprintln(os.Stderr, authURL)
	log.Info("waiting for authorization", "redirect_url", redirectURL)

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return err
	case <-time.After(consentTimeout):
		return errors.Timeout("authorization")
	}

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return errors.Wrap(err, "gdrive-auth.exchange", "cannot exchange authorization code")
	}

	if strings.TrimSpace(tok.RefreshToken) == "" {
		return errors.Internal("no refresh token returned; revoke the app at https://myaccount.google.com/permissions and retry")
	}

	fmt.Println(tok.RefreshToken)
	return nil
}

func randomState() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "gdrive-auth.state", "cannot generate state")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
