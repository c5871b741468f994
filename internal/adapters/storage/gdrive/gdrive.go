// Package gdrive delivers artifacts to Google Drive and reads input
// documents from it.
//
// Destinations are written as gdrive://<folder-id>/<file-name>; with an
// empty host (gdrive:///<file-name>) the configured folder is used.
// Sources are gdrive://<file-id>.
package gdrive

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"templater/internal/adapters/storage/checksum"
	"templater/internal/pkg/errors"
	"templater/internal/pkg/logger"
	"templater/internal/ports"
)

const Scheme = "gdrive"

// Credentials configure an OAuth client for a user-owned Drive.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	FolderID     string
}

// Complete reports whether enough is set to talk to Drive.
func (c Credentials) Complete() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
}

// Client implements ports.Uploader and ports.Fetcher backed by Google Drive.
type Client struct {
	srv      *drive.Service
	folderID string
	log      *logger.Logger
}

func NewClient(srv *drive.Service, folderID string, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Discard()
	}
	return &Client{srv: srv, folderID: folderID, log: log.WithComponent("gdrive")}
}

// NewFromCredentials builds a Drive service authorised by a refresh token.
func NewFromCredentials(ctx context.Context, creds Credentials, log *logger.Logger) (*Client, error) {
	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
	}
	httpClient := conf.Client(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})

	srv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("gdrive service: %w", err)
	}
	return NewClient(srv, creds.FolderID, log), nil
}

func (c *Client) Schemes() []string { return []string{Scheme} }

func (c *Client) Upload(ctx context.Context, in ports.UploadInput) (ports.UploadOutput, error) {
	dest := in.Destination.String()
	folderID, name := c.target(in.Destination)
	if name == "" {
		return ports.UploadOutput{}, errors.New(errors.CodeDispatchIO, "drive destination has no file name").
			WithField("url", dest)
	}

	file := &drive.File{Name: name}
	if folderID != "" {
		file.Parents = []string{folderID}
	}

	body := checksum.NewReader(in.Reader)
	call := c.srv.Files.Create(file).SupportsAllDrives(true).Fields("id", "md5Checksum", "size")
	if in.ContentType != "" {
		call = call.Media(body, googleapi.ContentType(in.ContentType))
	} else {
		call = call.Media(body)
	}

	created, err := call.Context(ctx).Do()
	if err != nil {
		return ports.UploadOutput{}, errors.WrapWithCode(err, errors.CodeDispatchIO, "gdrive.upload", "drive upload failed").
			WithField("url", dest)
	}

	sum := body.Sum()
	if created.Md5Checksum == "" {
		return ports.UploadOutput{}, errors.New(errors.CodeMissingIntegrity, "drive did not report md5Checksum").
			WithFields(map[string]any{"url": dest, "file_id": created.Id, "checksum": sum})
	}
	if !checksum.Matches(created.Md5Checksum, sum) {
		return ports.UploadOutput{}, errors.Newf(errors.CodeIntegrityCheckFailed, "md5Checksum %s does not match checksum %s", created.Md5Checksum, sum).
			WithFields(map[string]any{"url": dest, "file_id": created.Id, "etag": created.Md5Checksum, "checksum": sum})
	}

	c.log.FromContext(ctx).Debug("drive upload verified", "file_id", created.Id, "bytes", body.N())
	return ports.UploadOutput{Location: created.Id, Checksum: sum, Size: body.N()}, nil
}

func (c *Client) Fetch(ctx context.Context, src *url.URL) (io.ReadCloser, string, error) {
	fileID := src.Host
	if fileID == "" {
		fileID = strings.Trim(src.Path, "/")
	}
	if fileID == "" {
		return nil, "", fmt.Errorf("drive source %s has no file id", src)
	}

	resp, err := c.srv.Files.Get(fileID).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, "", fmt.Errorf("drive download %s: %w", fileID, err)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

func (c *Client) target(u *url.URL) (folderID, name string) {
	folderID = u.Host
	if folderID == "" {
		folderID = c.folderID
	}
	return folderID, strings.Trim(u.Path, "/")
}
