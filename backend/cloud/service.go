package cloud

import (
	"context"
	"io"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	fileFields     = "id, name, mimeType, parents, size, createdTime, modifiedTime, webViewLink, md5Checksum"
	pageSize       = 1000
)

// remoteFile is the subset of a drive file the backend works with.
type remoteFile struct {
	ID           string
	Name         string
	MimeType     string
	Parents      []string
	Size         int64
	CreatedTime  time.Time
	ModifiedTime time.Time
	WebViewLink  string
	MD5Checksum  string
}

func (f *remoteFile) isFolder() bool {
	return f.MimeType == folderMimeType
}

// listQuery selects non-trashed files. Empty fields are not part of the query.
type listQuery struct {
	ParentID string
	// ParentIDs matches children of any of the folders
	ParentIDs   []string
	Name        string
	FoldersOnly bool
}

// String renders the drive search query, e.g. "'root' in parents and name = 'a' and trashed = false".
func (q listQuery) String() string {
	terms := make([]string, 0, 4)
	if q.ParentID != "" {
		terms = append(terms, "'"+escapeQuery(q.ParentID)+"' in parents")
	}
	if len(q.ParentIDs) > 0 {
		parents := make([]string, len(q.ParentIDs))
		for i, id := range q.ParentIDs {
			parents[i] = "'" + escapeQuery(id) + "' in parents"
		}
		terms = append(terms, "("+strings.Join(parents, " or ")+")")
	}
	if q.Name != "" {
		terms = append(terms, "name = '"+escapeQuery(q.Name)+"'")
	}
	if q.FoldersOnly {
		terms = append(terms, "mimeType = '"+folderMimeType+"'")
	}
	terms = append(terms, "trashed = false")

	return strings.Join(terms, " and ")
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// itemService is the remote surface used by the backend.
type itemService interface {
	Get(ctx context.Context, id string) (*remoteFile, error)
	List(ctx context.Context, query listQuery, pageToken string) ([]*remoteFile, string, error)
	CreateFolder(ctx context.Context, parentID, name string) (*remoteFile, error)
	Upload(ctx context.Context, parentID, name, mimeType string, r io.Reader) (*remoteFile, error)
	// Replace overwrites the content of an existing file.
	Replace(ctx context.Context, id, mimeType string, r io.Reader) (*remoteFile, error)
	// Update renames and reparents a file in a single call. Empty values are left unchanged.
	Update(ctx context.Context, id, name, addParents, removeParents string) (*remoteFile, error)
	Download(ctx context.Context, id string) (io.ReadCloser, error)
	Delete(ctx context.Context, id string) error
}

type driveService struct {
	files *drive.FilesService
}

func newDriveService(service *drive.Service) *driveService {
	return &driveService{
		files: service.Files,
	}
}

func (d *driveService) Get(ctx context.Context, id string) (*remoteFile, error) {
	f, err := d.files.Get(id).
		Fields(fileFields).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}

	return fromDrive(f), nil
}

func (d *driveService) List(ctx context.Context, query listQuery, pageToken string) ([]*remoteFile, string, error) {
	call := d.files.List().
		Q(query.String()).
		Fields("nextPageToken, files("+fileFields+")").
		PageSize(pageSize).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	list, err := call.Do()
	if err != nil {
		return nil, "", err
	}

	files := make([]*remoteFile, 0, len(list.Files))
	for _, f := range list.Files {
		files = append(files, fromDrive(f))
	}

	return files, list.NextPageToken, nil
}

func (d *driveService) CreateFolder(ctx context.Context, parentID, name string) (*remoteFile, error) {
	f, err := d.files.Create(&drive.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{parentID},
	}).
		Fields(fileFields).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}

	return fromDrive(f), nil
}

func (d *driveService) Upload(ctx context.Context, parentID, name, mimeType string, r io.Reader) (*remoteFile, error) {
	f, err := d.files.Create(&drive.File{
		Name:     name,
		MimeType: mimeType,
		Parents:  []string{parentID},
	}).
		Media(r, googleapi.ContentType(mimeType)).
		Fields(fileFields).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}

	return fromDrive(f), nil
}

func (d *driveService) Replace(ctx context.Context, id, mimeType string, r io.Reader) (*remoteFile, error) {
	f, err := d.files.Update(id, &drive.File{}).
		Media(r, googleapi.ContentType(mimeType)).
		Fields(fileFields).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}

	return fromDrive(f), nil
}

func (d *driveService) Update(ctx context.Context, id, name, addParents, removeParents string) (*remoteFile, error) {
	call := d.files.Update(id, &drive.File{Name: name}).
		Fields(fileFields).
		SupportsAllDrives(true).
		Context(ctx)
	if addParents != "" {
		call = call.AddParents(addParents)
	}
	if removeParents != "" {
		call = call.RemoveParents(removeParents)
	}

	f, err := call.Do()
	if err != nil {
		return nil, err
	}

	return fromDrive(f), nil
}

func (d *driveService) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	resp, err := d.files.Get(id).
		SupportsAllDrives(true).
		Context(ctx).
		Download()
	if err != nil {
		return nil, err
	}

	return resp.Body, nil
}

func (d *driveService) Delete(ctx context.Context, id string) error {
	return d.files.Delete(id).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
}

func fromDrive(f *drive.File) *remoteFile {
	return &remoteFile{
		ID:           f.Id,
		Name:         f.Name,
		MimeType:     f.MimeType,
		Parents:      f.Parents,
		Size:         f.Size,
		CreatedTime:  parseTime(f.CreatedTime),
		ModifiedTime: parseTime(f.ModifiedTime),
		WebViewLink:  f.WebViewLink,
		MD5Checksum:  f.Md5Checksum,
	}
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
