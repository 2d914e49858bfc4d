package vault

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/snapvault/snapvault/pkg/engine"
	"github.com/snapvault/snapvault/pkg/telemetry"
)

const folderMimeType = "application/vnd.google-apps.folder"

// DriveStore implements engine.DocumentStore on Google Drive. It uses two
// services: the ambient service-account credentials for reads, updates, moves
// and renames, and OAuth user credentials for creation, so new files draw on
// the user's storage quota and are owned by the user.
type DriveStore struct {
	svc     *drive.Service
	creator *drive.Service
}

// UserCredentials holds the OAuth client and refresh token of the vault
// owner, used for file creation.
type UserCredentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// NewDriveStore builds a store from ambient service-account credentials plus
// the vault owner's OAuth refresh token.
func NewDriveStore(ctx context.Context, user UserCredentials) (*DriveStore, error) {
	svc, err := drive.NewService(ctx, option.WithScopes(drive.DriveScope))
	if err != nil {
		return nil, fmt.Errorf("creating drive service: %w", err)
	}

	cfg := &oauth2.Config{
		ClientID:     user.ClientID,
		ClientSecret: user.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveScope},
	}
	ts := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: user.RefreshToken})
	creator, err := drive.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("creating drive user service: %w", err)
	}

	return &DriveStore{svc: svc, creator: creator}, nil
}

func (d *DriveStore) List(ctx context.Context, folderID string) ([]engine.Document, error) {
	var out []engine.Document
	pageToken := ""
	for {
		call := d.svc.Files.List().
			Q(fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(folderID))).
			Spaces("drive").
			Fields("nextPageToken, files(id, name, mimeType, modifiedTime)").
			PageSize(100).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, driveError("listing folder", err)
		}
		for _, f := range resp.Files {
			out = append(out, toDocument(f))
		}
		if resp.NextPageToken == "" {
			return out, nil
		}
		pageToken = resp.NextPageToken
	}
}

func (d *DriveStore) ResolvePath(ctx context.Context, rootID, path string) (string, error) {
	current := rootID
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		q := fmt.Sprintf("name = '%s' and '%s' in parents and mimeType = '%s' and trashed = false",
			escapeQuery(part), escapeQuery(current), folderMimeType)
		resp, err := d.svc.Files.List().Q(q).Spaces("drive").Fields("files(id)").PageSize(1).Context(ctx).Do()
		if err != nil {
			return "", driveError("resolving path segment", err)
		}
		if len(resp.Files) == 0 {
			return "", engine.ErrNotFound
		}
		current = resp.Files[0].Id
	}
	return current, nil
}

func (d *DriveStore) Find(ctx context.Context, folderID, name string) (engine.Document, error) {
	q := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false",
		escapeQuery(name), escapeQuery(folderID))
	resp, err := d.svc.Files.List().Q(q).Spaces("drive").
		Fields("files(id, name, mimeType, modifiedTime)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return engine.Document{}, driveError("finding file", err)
	}
	if len(resp.Files) == 0 {
		return engine.Document{}, engine.ErrNotFound
	}
	return toDocument(resp.Files[0]), nil
}

func (d *DriveStore) Read(ctx context.Context, id string) ([]byte, error) {
	resp, err := d.svc.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return nil, driveError("downloading file", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, engine.NewTransientError("reading download body", err)
	}
	return data, nil
}

func (d *DriveStore) Write(ctx context.Context, id string, content []byte) error {
	_, err := d.svc.Files.Update(id, &drive.File{}).
		Media(bytes.NewReader(content)).
		Context(ctx).Do()
	if err != nil {
		return driveError("updating file content", err)
	}
	return nil
}

func (d *DriveStore) Create(ctx context.Context, folderID, name string, content []byte) (string, error) {
	meta := &drive.File{
		Name:     name,
		Parents:  []string{folderID},
		MimeType: "text/markdown",
	}
	f, err := d.creator.Files.Create(meta).
		Media(bytes.NewReader(content)).
		Fields("id").
		Context(ctx).Do()
	if err != nil {
		return "", driveError("creating file", err)
	}
	telemetry.FromContext(ctx).WithField("name", name).Debug("created drive file")
	return f.Id, nil
}

func (d *DriveStore) Move(ctx context.Context, id, newParentID string) error {
	f, err := d.svc.Files.Get(id).Fields("parents").Context(ctx).Do()
	if err != nil {
		return driveError("reading file parents", err)
	}
	_, err = d.svc.Files.Update(id, &drive.File{}).
		AddParents(newParentID).
		RemoveParents(strings.Join(f.Parents, ",")).
		Fields("id, parents").
		Context(ctx).Do()
	if err != nil {
		return driveError("moving file", err)
	}
	return nil
}

func (d *DriveStore) Rename(ctx context.Context, id, newName string) error {
	_, err := d.svc.Files.Update(id, &drive.File{Name: newName}).Fields("id, name").Context(ctx).Do()
	if err != nil {
		return driveError("renaming file", err)
	}
	return nil
}

func (d *DriveStore) Delete(ctx context.Context, id string) error {
	if err := d.svc.Files.Delete(id).Context(ctx).Do(); err != nil {
		return driveError("deleting file", err)
	}
	return nil
}

func toDocument(f *drive.File) engine.Document {
	doc := engine.Document{ID: f.Id, Name: f.Name, MimeType: f.MimeType}
	if f.ModifiedTime != "" {
		if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
			doc.ModifiedAt = t
		}
	}
	return doc
}

// escapeQuery escapes single quotes in Drive query literals.
func escapeQuery(s string) string {
	return strings.ReplaceAll(s, "'", `\'`)
}

// driveError maps a Drive API error onto the pipeline's error classes.
func driveError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusNotFound:
			return engine.ErrNotFound
		case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
			return engine.NewAuthError(op, err)
		case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
			return engine.NewTransientError(op, err)
		default:
			return engine.NewPermanentError(op, err)
		}
	}
	return engine.NewTransientError(op, err)
}
