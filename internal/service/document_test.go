package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"go.uber.org/mock/gomock"

	"docsearch/internal/extractor"
	"docsearch/internal/service"
	"docsearch/internal/storage"
	storage_mocks "docsearch/internal/storage/mocks"
	"docsearch/internal/uploads"
)

func init() {
	// Keep test output quiet; the service logs through slog.Default().
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type stubExtractor struct {
	text string
	err  error
}

func (s *stubExtractor) Extract(_ context.Context, path, _ string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return s.text, s.err
}

type stubIndexer struct {
	mu         sync.Mutex
	enqueued   []*storage.Document
	texts      []string
	enqueueErr error
	reindexErr error
	reindexed  []int64
}

func (s *stubIndexer) Enqueue(_ context.Context, doc *storage.Document, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueued = append(s.enqueued, doc)
	s.texts = append(s.texts, text)
	return s.enqueueErr
}

func (s *stubIndexer) Reindex(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reindexed = append(s.reindexed, id)
	return s.reindexErr
}

type stubVectors struct {
	ok      bool
	deleted []int64
}

func (s *stubVectors) Delete(_ context.Context, id int64) bool {
	s.deleted = append(s.deleted, id)
	return s.ok
}

type fixture struct {
	svc       service.DocumentService
	docs      *storage_mocks.MockDocumentStore
	employees *storage_mocks.MockEmployeeStore
	files     *uploads.Manager
	extractor *stubExtractor
	indexer   *stubIndexer
	vectors   *stubVectors
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	files, err := uploads.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	f := &fixture{
		docs:      storage_mocks.NewMockDocumentStore(ctrl),
		employees: storage_mocks.NewMockEmployeeStore(ctrl),
		files:     files,
		extractor: &stubExtractor{text: "Annual leave policy for HR staff"},
		indexer:   &stubIndexer{},
		vectors:   &stubVectors{ok: true},
	}
	f.svc = service.NewDocumentService(f.docs, f.employees, f.files, f.extractor, f.indexer, f.vectors)
	return f
}

func (f *fixture) storedFiles(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(f.files.Dir())
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	return len(entries)
}

func validRequest() service.UploadRequest {
	return service.UploadRequest{
		OriginalName: "leave.txt",
		Content:      strings.NewReader("Annual leave policy for HR staff"),
		Title:        "Leave Policy",
		Description:  "Yearly leave",
		EmployeeID:   4,
	}
}

func TestDocumentService_Upload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.employees.EXPECT().GetByID(gomock.Any(), int64(4)).Return(&storage.Employee{ID: 4, Name: "Salma", Department: "HR"}, nil)
	f.docs.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, doc *storage.Document) (int64, error) {
		if doc.FileName != "leave.txt" || doc.Title != "Leave Policy" {
			t.Errorf("Create() doc = %+v", doc)
		}
		if doc.Department != "HR" || doc.EmployeeName != "Salma" {
			t.Errorf("Create() should default department and name from the employee, got %q %q", doc.Department, doc.EmployeeName)
		}
		if !strings.HasPrefix(doc.FilePath, f.files.Dir()) {
			t.Errorf("Create() FilePath = %v, want inside %v", doc.FilePath, f.files.Dir())
		}
		return 11, nil
	})

	res, err := f.svc.Upload(ctx, validRequest())
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if res.DocumentID != 11 || res.FileName != "leave.txt" || res.ExtractedText != "Annual leave policy for HR staff" {
		t.Errorf("Upload() = %+v", res)
	}
	if len(f.indexer.enqueued) != 1 || f.indexer.enqueued[0].ID != 11 {
		t.Fatalf("Upload() should enqueue document 11, got %+v", f.indexer.enqueued)
	}
	if f.indexer.texts[0] != "Annual leave policy for HR staff" {
		t.Errorf("Upload() enqueued text = %q", f.indexer.texts[0])
	}
	if f.storedFiles(t) != 1 {
		t.Errorf("Upload() stored files = %v, want 1", f.storedFiles(t))
	}
}

func TestDocumentService_Upload_KeepsExplicitMetadata(t *testing.T) {
	f := newFixture(t)
	req := validRequest()
	req.Department = "IT"
	req.EmployeeName = "S. Haddad"

	f.employees.EXPECT().GetByID(gomock.Any(), int64(4)).Return(&storage.Employee{ID: 4, Name: "Salma", Department: "HR"}, nil)
	f.docs.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, doc *storage.Document) (int64, error) {
		if doc.Department != "IT" || doc.EmployeeName != "S. Haddad" {
			t.Errorf("Create() department/name = %q %q, want IT / S. Haddad", doc.Department, doc.EmployeeName)
		}
		return 1, nil
	})

	if _, err := f.svc.Upload(context.Background(), req); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
}

func TestDocumentService_Upload_Validation(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*service.UploadRequest)
		wantField string
	}{
		{name: "missing name", mutate: func(r *service.UploadRequest) { r.OriginalName = " " }, wantField: "file"},
		{name: "missing content", mutate: func(r *service.UploadRequest) { r.Content = nil }, wantField: "file"},
		{name: "missing employee", mutate: func(r *service.UploadRequest) { r.EmployeeID = 0 }, wantField: "employee_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := validRequest()
			tt.mutate(&req)

			_, err := f.svc.Upload(context.Background(), req)

			var vErr *service.ValidationError
			if !errors.As(err, &vErr) || vErr.Field != tt.wantField {
				t.Errorf("Upload() error = %v, want validation error on %s", err, tt.wantField)
			}
			if f.storedFiles(t) != 0 {
				t.Error("Upload() should not store a file for an invalid request")
			}
		})
	}
}

func TestDocumentService_Upload_UnknownEmployee(t *testing.T) {
	f := newFixture(t)
	f.employees.EXPECT().GetByID(gomock.Any(), int64(4)).Return(nil, storage.ErrNotFound)

	_, err := f.svc.Upload(context.Background(), validRequest())

	if !errors.Is(err, service.ErrInvalidInput) {
		t.Errorf("Upload() error = %v, want %v", err, service.ErrInvalidInput)
	}
	if f.storedFiles(t) != 0 {
		t.Error("Upload() should not store a file for an unknown employee")
	}
}

func TestDocumentService_Upload_ExtractionFailureRemovesFile(t *testing.T) {
	f := newFixture(t)
	f.extractor.err = &extractor.ExtractionError{Path: "x", Format: ".txt", Err: errors.New("corrupt")}
	f.employees.EXPECT().GetByID(gomock.Any(), gomock.Any()).Return(&storage.Employee{ID: 4}, nil)

	_, err := f.svc.Upload(context.Background(), validRequest())

	if !errors.Is(err, extractor.ErrExtraction) {
		t.Errorf("Upload() error = %v, want %v", err, extractor.ErrExtraction)
	}
	if f.storedFiles(t) != 0 {
		t.Errorf("Upload() left %d files after extraction failure", f.storedFiles(t))
	}
	if len(f.indexer.enqueued) != 0 {
		t.Error("Upload() should not enqueue after extraction failure")
	}
}

func TestDocumentService_Upload_CreateFailureRemovesFile(t *testing.T) {
	tests := []struct {
		name      string
		createErr error
		wantErr   error
	}{
		{name: "employee removed concurrently", createErr: storage.ErrEmployeeNotFound, wantErr: service.ErrInvalidInput},
		{name: "database error", createErr: errors.New("disk full"), wantErr: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.employees.EXPECT().GetByID(gomock.Any(), gomock.Any()).Return(&storage.Employee{ID: 4}, nil)
			f.docs.EXPECT().Create(gomock.Any(), gomock.Any()).Return(int64(0), tt.createErr)

			_, err := f.svc.Upload(context.Background(), validRequest())

			if err == nil {
				t.Fatal("Upload() expected error, got nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Upload() error = %v, want %v", err, tt.wantErr)
			}
			if f.storedFiles(t) != 0 {
				t.Errorf("Upload() left %d files after create failure", f.storedFiles(t))
			}
		})
	}
}

func TestDocumentService_Upload_EnqueueFailureStillSucceeds(t *testing.T) {
	f := newFixture(t)
	f.indexer.enqueueErr = errors.New("pool closed")
	f.employees.EXPECT().GetByID(gomock.Any(), gomock.Any()).Return(&storage.Employee{ID: 4}, nil)
	f.docs.EXPECT().Create(gomock.Any(), gomock.Any()).Return(int64(3), nil)

	res, err := f.svc.Upload(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if res.DocumentID != 3 {
		t.Errorf("Upload() DocumentID = %v, want 3", res.DocumentID)
	}
}

func TestDocumentService_Get(t *testing.T) {
	f := newFixture(t)
	f.docs.EXPECT().GetByID(gomock.Any(), int64(1)).Return(&storage.Document{ID: 1, Title: "a"}, nil)
	f.docs.EXPECT().GetByID(gomock.Any(), int64(2)).Return(nil, storage.ErrNotFound)

	doc, err := f.svc.Get(context.Background(), 1)
	if err != nil || doc.Title != "a" {
		t.Errorf("Get() = %+v, %v", doc, err)
	}
	if _, err := f.svc.Get(context.Background(), 2); !errors.Is(err, service.ErrNotFound) {
		t.Errorf("Get() error = %v, want %v", err, service.ErrNotFound)
	}
}

func TestDocumentService_SoftDelete(t *testing.T) {
	tests := []struct {
		name       string
		storeErr   error
		vectorOK   bool
		wantErr    error
		wantVector bool
	}{
		{name: "deleted", vectorOK: true, wantVector: true},
		{name: "index delete fails", vectorOK: false, wantVector: true},
		{name: "not found", storeErr: storage.ErrNotFound, wantErr: service.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.vectors.ok = tt.vectorOK
			f.docs.EXPECT().SoftDelete(gomock.Any(), int64(5)).Return(tt.storeErr)

			err := f.svc.SoftDelete(context.Background(), 5)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("SoftDelete() error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Errorf("SoftDelete() unexpected error: %v", err)
			}
			if got := len(f.vectors.deleted) == 1; got != tt.wantVector {
				t.Errorf("SoftDelete() vector delete called = %v, want %v", got, tt.wantVector)
			}
		})
	}
}

func TestDocumentService_Reindex(t *testing.T) {
	f := newFixture(t)

	if err := f.svc.Reindex(context.Background(), 8); err != nil {
		t.Errorf("Reindex() error = %v", err)
	}
	if len(f.indexer.reindexed) != 1 || f.indexer.reindexed[0] != 8 {
		t.Errorf("Reindex() indexer calls = %v", f.indexer.reindexed)
	}

	f.indexer.reindexErr = storage.ErrNotFound
	if err := f.svc.Reindex(context.Background(), 9); !errors.Is(err, service.ErrNotFound) {
		t.Errorf("Reindex() error = %v, want %v", err, service.ErrNotFound)
	}
}
