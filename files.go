package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// FileRecord is the persisted form of a File inside the session state.
type FileRecord struct {
	FileId       string  `json:"file_id"`
	Name         string  `json:"name"`
	IsUploaded   bool    `json:"is_uploaded"`
	Path         string  `json:"path" validate:"required"`
	Size         int64   `json:"size"`
	CreationDate float64 `json:"creation_date"`
	UploadDate   *int64  `json:"upload_date"`
}

// File is a local document that may have been uploaded to the remote file
// store.
type File struct {
	key          uuid.UUID
	path         string
	size         int64
	creationDate float64
	fileId       string
	isUploaded   bool
	uploadDate   *int64

	service ChatGPTService
	owner   *Files
}

func newFile(path string, service ChatGPTService) (*File, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	if stat.IsDir() {
		return nil, fmt.Errorf("reading file %s: path is a directory", path)
	}

	return &File{
		key:          uuid.New(),
		path:         path,
		size:         stat.Size(),
		creationDate: float64(stat.ModTime().UnixNano()) / float64(time.Second),
		service:      service,
	}, nil
}

func (f *File) Key() uuid.UUID {
	return f.key
}

func (f *File) Name() string {
	return filepath.Base(f.path)
}

func (f *File) Path() string {
	return f.path
}

func (f *File) Size() int64 {
	return f.size
}

func (f *File) FileId() string {
	return f.fileId
}

func (f *File) IsUploaded() bool {
	return f.isUploaded
}

// UploadDate is the remote creation time, zero until uploaded.
func (f *File) UploadDate() time.Time {
	if f.uploadDate == nil {
		return time.Time{}
	}
	return time.Unix(*f.uploadDate, 0)
}

// Attachment references the uploaded file for the file_search tool.
func (f *File) Attachment() FileAttachment {
	return FileAttachment{
		FileId: f.fileId,
		Tools:  []Tool{{Type: "file_search"}},
	}
}

// Upload sends the file to the remote store. Uploading an already uploaded
// file is a logged no-op.
func (f *File) Upload(ctx context.Context) error {
	if err := f.upload(ctx); err != nil {
		return err
	}
	if f.owner != nil {
		f.owner.rebuildIndexes()
	}
	return nil
}

func (f *File) upload(ctx context.Context) error {
	if f.isUploaded {
		log.WithField("file", f.Name()).Info("file has already been uploaded")
		return nil
	}

	content, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("opening file %s: %w", f.path, err)
	}
	defer content.Close()

	object, err := f.service.UploadFile(ctx, f.Name(), content)
	if err != nil {
		log.WithField("file", f.Name()).WithError(err).Error("error uploading file")
		return fmt.Errorf("uploading file %s: %w", f.Name(), err)
	}

	f.fileId = object.Id
	f.isUploaded = true
	uploaded := object.CreatedAt
	f.uploadDate = &uploaded

	log.WithFields(log.Fields{
		"file":    f.Name(),
		"file_id": f.fileId,
	}).Info("file has been uploaded")
	return nil
}

// Delete removes the file from the remote store and resets its upload
// bookkeeping. Deleting a file that was never uploaded is a logged no-op.
func (f *File) Delete(ctx context.Context) error {
	if err := f.delete(ctx); err != nil {
		return err
	}
	if f.owner != nil {
		f.owner.rebuildIndexes()
	}
	return nil
}

func (f *File) delete(ctx context.Context) error {
	if !f.isUploaded {
		log.WithField("file", f.Name()).Info("file has not been uploaded")
		return nil
	}

	if err := f.service.DeleteFile(ctx, f.fileId); err != nil {
		log.WithField("file", f.Name()).WithError(err).Error("error deleting file")
		return fmt.Errorf("deleting file %s: %w", f.Name(), err)
	}

	log.WithFields(log.Fields{
		"file":    f.Name(),
		"file_id": f.fileId,
	}).Info("file has been deleted")

	f.fileId = ""
	f.isUploaded = false
	f.uploadDate = nil
	return nil
}

func (f *File) Record() FileRecord {
	return FileRecord{
		FileId:       f.fileId,
		Name:         f.Name(),
		IsUploaded:   f.isUploaded,
		Path:         filepath.ToSlash(f.path),
		Size:         f.size,
		CreationDate: f.creationDate,
		UploadDate:   f.uploadDate,
	}
}

// Files is the ordered registry of local documents. Entries are keyed by a
// synthetic uuid; the name and remote id indexes are derived from the slice
// and rebuilt together whenever it changes.
type Files struct {
	service ChatGPTService
	files   []*File
	byKey   map[uuid.UUID]int
	byName  map[string]int
	byId    map[string]int
}

func NewFiles(service ChatGPTService) *Files {
	return &Files{
		service: service,
		files:   []*File{},
		byKey:   map[uuid.UUID]int{},
		byName:  map[string]int{},
		byId:    map[string]int{},
	}
}

func (fs *Files) Len() int {
	return len(fs.files)
}

func (fs *Files) At(index int) (*File, error) {
	if index < 0 || index >= len(fs.files) {
		return nil, FileNotRegisteredError{By: "index", Value: strconv.Itoa(index)}
	}
	return fs.files[index], nil
}

// List returns the registered files in insertion order.
func (fs *Files) List() []*File {
	files := make([]*File, len(fs.files))
	copy(files, fs.files)
	return files
}

// Load appends files restored from a session state. Every referenced path
// must still exist.
func (fs *Files) Load(records []FileRecord) error {
	for _, record := range records {
		file, err := newFile(record.Path, fs.service)
		if err != nil {
			return err
		}
		if _, ok := fs.byName[file.Name()]; ok {
			log.WithField("file", file.Name()).Info("file has already been added")
			continue
		}
		file.fileId = record.FileId
		file.isUploaded = record.IsUploaded
		file.uploadDate = record.UploadDate
		if record.CreationDate != 0 {
			file.creationDate = record.CreationDate
		}
		fs.insert(file)
	}
	return nil
}

// Add registers the file at path. A file whose base name is already
// registered is skipped and added is false.
func (fs *Files) Add(path string) (added bool, err error) {
	name := filepath.Base(path)
	if _, ok := fs.byName[name]; ok {
		log.WithField("file", name).Info("file has already been added")
		return false, nil
	}

	file, err := newFile(path, fs.service)
	if err != nil {
		return false, err
	}
	log.WithField("file", name).Info("adding file to the list of files")
	fs.insert(file)
	return true, nil
}

func (fs *Files) insert(file *File) {
	file.owner = fs
	fs.files = append(fs.files, file)
	fs.rebuildIndexes()
}

func (fs *Files) GetByKey(key uuid.UUID) (*File, error) {
	index, ok := fs.byKey[key]
	if !ok {
		return nil, FileNotRegisteredError{By: "key", Value: key.String()}
	}
	return fs.files[index], nil
}

func (fs *Files) GetByName(name string) (*File, error) {
	index, ok := fs.byName[name]
	if !ok {
		return nil, FileNotRegisteredError{By: "name", Value: name}
	}
	return fs.files[index], nil
}

func (fs *Files) GetByID(fileId string) (*File, error) {
	index, ok := fs.byId[fileId]
	if !ok {
		return nil, FileNotRegisteredError{By: "id", Value: fileId}
	}
	return fs.files[index], nil
}

// DeleteByName drops the entry from the registry. The remote file, if any,
// is left alone.
func (fs *Files) DeleteByName(name string) error {
	index, ok := fs.byName[name]
	if !ok {
		return FileNotRegisteredError{By: "name", Value: name}
	}
	fs.remove(index)
	return nil
}

func (fs *Files) DeleteByIndex(index int) error {
	if index < 0 || index >= len(fs.files) {
		return FileNotRegisteredError{By: "index", Value: strconv.Itoa(index)}
	}
	fs.remove(index)
	return nil
}

func (fs *Files) DeleteByID(fileId string) error {
	index, ok := fs.byId[fileId]
	if !ok {
		return FileNotRegisteredError{By: "id", Value: fileId}
	}
	fs.remove(index)
	return nil
}

func (fs *Files) remove(index int) {
	file := fs.files[index]
	file.owner = nil
	fs.files = append(fs.files[:index], fs.files[index+1:]...)
	fs.rebuildIndexes()
	log.WithField("file", file.Name()).Info("removed file from the list of files")
}

// rebuildIndexes derives every index from the slice in one pass.
func (fs *Files) rebuildIndexes() {
	byKey := make(map[uuid.UUID]int, len(fs.files))
	byName := make(map[string]int, len(fs.files))
	byId := make(map[string]int, len(fs.files))
	for i, file := range fs.files {
		byKey[file.key] = i
		byName[file.Name()] = i
		if file.fileId != "" {
			byId[file.fileId] = i
		}
	}
	fs.byKey = byKey
	fs.byName = byName
	fs.byId = byId
}

// UploadAll uploads every file not yet uploaded, a few at a time.
func (fs *Files) UploadAll(ctx context.Context) error {
	pending := []*File{}
	for _, file := range fs.files {
		if !file.isUploaded {
			pending = append(pending, file)
		}
	}

	errs := uploadFiles(ctx, pending)
	fs.rebuildIndexes()
	return errors.Join(errs...)
}

// DeleteAll removes every uploaded file from the remote store. Entries stay
// registered.
func (fs *Files) DeleteAll(ctx context.Context) error {
	uploaded := []*File{}
	for _, file := range fs.files {
		if file.isUploaded {
			uploaded = append(uploaded, file)
		}
	}

	errs := deleteFiles(ctx, uploaded)
	fs.rebuildIndexes()
	return errors.Join(errs...)
}

func (fs *Files) Records() []FileRecord {
	records := make([]FileRecord, 0, len(fs.files))
	for _, file := range fs.files {
		records = append(records, file.Record())
	}
	return records
}

func (fs *Files) ToJSON() (string, error) {
	data, err := json.Marshal(map[string][]FileRecord{"files": fs.Records()})
	if err != nil {
		return "", err
	}
	return string(data), nil
}
