// Package cloud implements the storage backend on Google Drive. Virtual paths are
// resolved segment by segment below a configured root folder.
package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"

	"github.com/mwantia/vstore/backend"
	"github.com/mwantia/vstore/data"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const defaultRootID = "root"

// Config contains the settings of the drive backend. Either TokenSource is set
// programmatically or a token file with client credentials is configured.
type Config struct {
	// RootID of the folder virtual paths are resolved against, "root" is "My Drive"
	RootID       string `mapstructure:"root_id"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	// TokenFile contains an oauth2 token as json
	TokenFile string `mapstructure:"token_file"`

	TokenSource oauth2.TokenSource `mapstructure:"-"`

	backend.WritePolicy `mapstructure:",squash"`
}

type CloudBackend struct {
	mu      sync.RWMutex
	config  *Config
	rootID  string
	policy  backend.WritePolicy
	service itemService
}

func NewCloudBackend(config *Config) (*CloudBackend, error) {
	if config == nil {
		return nil, data.NewError(data.KindConfiguration, "init", "", errors.New("missing drive configuration"))
	}
	if config.TokenSource == nil && config.TokenFile == "" {
		return nil, data.NewError(data.KindConfiguration, "init", "", errors.New("either a token source or token file is required"))
	}

	return newCloudBackend(config, nil), nil
}

// newCloudBackend allows to provide a service that is used instead of the drive api.
func newCloudBackend(config *Config, service itemService) *CloudBackend {
	rootID := config.RootID
	if rootID == "" {
		rootID = defaultRootID
	}

	return &CloudBackend{
		config:  config,
		rootID:  rootID,
		policy:  config.WritePolicy,
		service: service,
	}
}

// Name returns the identifier name defined for this backend
func (*CloudBackend) Name() string {
	return "cloud"
}

// Open connects the drive service and verifies access to the root folder.
func (cb *CloudBackend) Open(ctx context.Context) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.service == nil {
		ts, err := cb.tokenSource(ctx)
		if err != nil {
			return err
		}

		service, err := drive.NewService(ctx, option.WithTokenSource(ts))
		if err != nil {
			return data.NewError(data.KindConfiguration, "open", "", err)
		}
		cb.service = newDriveService(service)
	}

	root, err := cb.service.Get(ctx, cb.rootID)
	if err != nil {
		return mapError("open", data.Separator, err, data.KindConfiguration)
	}
	if !root.isFolder() {
		return data.NewError(data.KindConfiguration, "open", data.Separator, errors.New("root is not a folder"))
	}

	return nil
}

func (cb *CloudBackend) tokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	if cb.config.TokenSource != nil {
		return cb.config.TokenSource, nil
	}

	content, err := os.ReadFile(cb.config.TokenFile)
	if err != nil {
		return nil, data.NewError(data.KindConfiguration, "open", cb.config.TokenFile, err)
	}

	token := &oauth2.Token{}
	if err := json.Unmarshal(content, token); err != nil {
		return nil, data.NewError(data.KindConfiguration, "open", cb.config.TokenFile, err)
	}

	if cb.config.ClientID == "" {
		// Without client credentials the token cannot be refreshed
		return oauth2.StaticTokenSource(token), nil
	}

	conf := &oauth2.Config{
		ClientID:     cb.config.ClientID,
		ClientSecret: cb.config.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveScope},
	}
	return conf.TokenSource(ctx, token), nil
}

func (cb *CloudBackend) Close(ctx context.Context) error {
	return nil
}

func (cb *CloudBackend) Capabilities() *backend.Capabilities {
	return &backend.Capabilities{
		Capabilities: []backend.Capability{
			backend.CapabilityNativeMove,
			backend.CapabilityFolderTree,
			backend.CapabilityStreaming,
			backend.CapabilityStableIDs,
			backend.CapabilityDirectories,
		},
		MaxObjectSize: cb.policy.MaxFileSize,
	}
}

func (cb *CloudBackend) getService() (itemService, error) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if cb.service == nil {
		return nil, data.NewError(data.KindConfiguration, "", "", errors.New("backend is not opened"))
	}
	return cb.service, nil
}

// findChild returns the non-trashed child called name, or nil when there is none.
func (cb *CloudBackend) findChild(ctx context.Context, service itemService, parentID, name string) (*remoteFile, error) {
	files, _, err := service.List(ctx, listQuery{ParentID: parentID, Name: name}, "")
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}

	// Drive allows duplicate names, folders take precedence
	for _, f := range files {
		if f.isFolder() {
			return f, nil
		}
	}
	return files[0], nil
}

// resolve walks the segments of virtual from the root, one query per segment.
// With createIfMissing absent segments are created as folders.
func (cb *CloudBackend) resolve(ctx context.Context, service itemService, op, virtual string, createIfMissing bool, notFound data.ErrorKind) (*remoteFile, error) {
	current, err := service.Get(ctx, cb.rootID)
	if err != nil {
		return nil, mapError(op, virtual, err, notFound)
	}

	walked := data.Separator
	for _, segment := range data.Split(virtual) {
		if !current.isFolder() {
			return nil, data.NewError(data.KindNotDirectory, op, walked, nil)
		}

		walked = data.Join(walked, segment)
		child, err := cb.findChild(ctx, service, current.ID, segment)
		if err != nil {
			return nil, mapError(op, walked, err, notFound)
		}

		if child == nil {
			if !createIfMissing {
				return nil, data.NewError(notFound, op, virtual, nil)
			}
			if child, err = service.CreateFolder(ctx, current.ID, segment); err != nil {
				return nil, mapError(op, walked, err, notFound)
			}
		}
		current = child
	}

	return current, nil
}

// resolveFolder resolves virtual and fails unless it is a folder.
func (cb *CloudBackend) resolveFolder(ctx context.Context, service itemService, op, virtual string, createIfMissing bool) (*remoteFile, error) {
	folder, err := cb.resolve(ctx, service, op, virtual, createIfMissing, data.KindDirectoryNotFound)
	if err != nil {
		return nil, err
	}
	if !folder.isFolder() {
		return nil, data.NewError(data.KindNotDirectory, op, virtual, nil)
	}

	return folder, nil
}

// listAll collects every page of a query.
func (cb *CloudBackend) listAll(ctx context.Context, service itemService, query listQuery) ([]*remoteFile, error) {
	files := make([]*remoteFile, 0)
	pageToken := ""

	for {
		page, next, err := service.List(ctx, query, pageToken)
		if err != nil {
			return nil, err
		}

		files = append(files, page...)
		if next == "" {
			return files, nil
		}
		pageToken = next
	}
}

func (cb *CloudBackend) toItem(virtual string, f *remoteFile) data.Item {
	virtual = data.Normalize(virtual)

	var item data.Item
	if f.isFolder() {
		item = data.NewFolderItem(f.ID, virtual, f.ModifiedTime)
	} else {
		mimeType := f.MimeType
		if mimeType == "" {
			mimeType = string(data.GetMIMEType(virtual))
		}
		item = data.NewFileItem(f.ID, virtual, f.Size, mimeType, f.ModifiedTime)
	}

	info := item.Info()
	info.CreatedAt = f.CreatedTime
	if len(f.Parents) > 0 {
		info.ParentID = f.Parents[0]
	}

	info.Metadata[data.MetadataDriveID] = f.ID
	info.Metadata[data.MetadataMimeType] = f.MimeType
	if f.WebViewLink != "" {
		info.Metadata[data.MetadataWebViewLink] = f.WebViewLink
	}
	if f.MD5Checksum != "" {
		info.Metadata[data.MetadataMD5Checksum] = f.MD5Checksum
	}

	return item
}

// mapError converts drive api errors into typed errors. notFound is used for 404 responses.
func mapError(op, virtual string, err error, notFound data.ErrorKind) error {
	if err == nil {
		return nil
	}

	var typed *data.Error
	if errors.As(err, &typed) {
		return data.Wrap(op, virtual, typed)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401, 403:
			return data.NewError(data.KindAuthFailed, op, virtual, err)
		case 404:
			return data.NewError(notFound, op, virtual, nil)
		}
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return data.NewError(data.KindAuthFailed, op, virtual, err)
	}

	return data.Wrap(op, virtual, err)
}
