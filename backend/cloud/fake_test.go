package cloud

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/googleapi"
)

// fakeService keeps drive files in memory. Listings return two files per page.
type fakeService struct {
	mu       sync.Mutex
	files    map[string]*remoteFile
	content  map[string][]byte
	next     int
	calls    map[string]int
	failWith error
	// failList fails the listings it returns an error for
	failList func(query listQuery) error
}

func newFakeService() *fakeService {
	now := time.Now().UTC()
	return &fakeService{
		files: map[string]*remoteFile{
			defaultRootID: {
				ID:           defaultRootID,
				Name:         "My Drive",
				MimeType:     folderMimeType,
				CreatedTime:  now,
				ModifiedTime: now,
			},
		},
		content: make(map[string][]byte),
		calls:   make(map[string]int),
	}
}

func (f *fakeService) call(name string) error {
	f.calls[name]++
	return f.failWith
}

func (f *fakeService) newID() string {
	f.next++
	return fmt.Sprintf("id-%03d", f.next)
}

func (f *fakeService) copyOf(file *remoteFile) *remoteFile {
	c := *file
	c.Parents = slices.Clone(file.Parents)
	return &c
}

func (f *fakeService) Get(ctx context.Context, id string) (*remoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.call("get"); err != nil {
		return nil, err
	}

	file, ok := f.files[id]
	if !ok {
		return nil, &googleapi.Error{Code: http.StatusNotFound, Message: "file not found"}
	}
	return f.copyOf(file), nil
}

func (f *fakeService) List(ctx context.Context, query listQuery, pageToken string) ([]*remoteFile, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.call("list"); err != nil {
		return nil, "", err
	}
	if f.failList != nil {
		if err := f.failList(query); err != nil {
			return nil, "", err
		}
	}

	matches := make([]*remoteFile, 0)
	for _, file := range f.files {
		if file.ID == defaultRootID {
			continue
		}
		if query.ParentID != "" && !slices.Contains(file.Parents, query.ParentID) {
			continue
		}
		if len(query.ParentIDs) > 0 && !slices.ContainsFunc(file.Parents, func(p string) bool {
			return slices.Contains(query.ParentIDs, p)
		}) {
			continue
		}
		if query.Name != "" && file.Name != query.Name {
			continue
		}
		if query.FoldersOnly && !file.isFolder() {
			continue
		}
		matches = append(matches, f.copyOf(file))
	}
	slices.SortFunc(matches, func(a, b *remoteFile) int {
		return strings.Compare(a.ID, b.ID)
	})

	start := 0
	if pageToken != "" {
		fmt.Sscanf(pageToken, "page-%d", &start)
	}
	end := min(start+2, len(matches))
	next := ""
	if end < len(matches) {
		next = fmt.Sprintf("page-%d", end)
	}

	return matches[start:end], next, nil
}

func (f *fakeService) create(parentID, name, mimeType string, content []byte) *remoteFile {
	now := time.Now().UTC()
	file := &remoteFile{
		ID:           f.newID(),
		Name:         name,
		MimeType:     mimeType,
		Parents:      []string{parentID},
		Size:         int64(len(content)),
		CreatedTime:  now,
		ModifiedTime: now,
		WebViewLink:  "https://drive.example/" + name,
	}
	f.files[file.ID] = file
	if content != nil {
		f.content[file.ID] = content
	}
	return f.copyOf(file)
}

func (f *fakeService) CreateFolder(ctx context.Context, parentID, name string) (*remoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.call("create_folder"); err != nil {
		return nil, err
	}
	return f.create(parentID, name, folderMimeType, nil), nil
}

func (f *fakeService) Upload(ctx context.Context, parentID, name, mimeType string, r io.Reader) (*remoteFile, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.call("upload"); err != nil {
		return nil, err
	}
	return f.create(parentID, name, mimeType, content), nil
}

func (f *fakeService) Replace(ctx context.Context, id, mimeType string, r io.Reader) (*remoteFile, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.call("replace"); err != nil {
		return nil, err
	}

	file, ok := f.files[id]
	if !ok {
		return nil, &googleapi.Error{Code: http.StatusNotFound}
	}
	file.Size = int64(len(content))
	file.MimeType = mimeType
	file.ModifiedTime = time.Now().UTC()
	f.content[id] = content

	return f.copyOf(file), nil
}

func (f *fakeService) Update(ctx context.Context, id, name, addParents, removeParents string) (*remoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.call("update"); err != nil {
		return nil, err
	}

	file, ok := f.files[id]
	if !ok {
		return nil, &googleapi.Error{Code: http.StatusNotFound}
	}
	if name != "" {
		file.Name = name
	}
	if removeParents != "" {
		remove := strings.Split(removeParents, ",")
		file.Parents = slices.DeleteFunc(file.Parents, func(parent string) bool {
			return slices.Contains(remove, parent)
		})
	}
	if addParents != "" {
		file.Parents = append(file.Parents, strings.Split(addParents, ",")...)
	}

	return f.copyOf(file), nil
}

func (f *fakeService) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.call("download"); err != nil {
		return nil, err
	}
	if _, ok := f.files[id]; !ok {
		return nil, &googleapi.Error{Code: http.StatusNotFound}
	}
	return io.NopCloser(bytes.NewReader(f.content[id])), nil
}

func (f *fakeService) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.call("delete"); err != nil {
		return err
	}
	if _, ok := f.files[id]; !ok {
		return &googleapi.Error{Code: http.StatusNotFound}
	}
	f.deleteTree(id)
	return nil
}

func (f *fakeService) deleteTree(id string) {
	delete(f.files, id)
	delete(f.content, id)

	for childID, file := range f.files {
		if slices.Contains(file.Parents, id) {
			f.deleteTree(childID)
		}
	}
}
