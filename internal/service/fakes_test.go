package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Hazimafiq/test-express-portal/internal/domain/filetype"
	"github.com/Hazimafiq/test-express-portal/internal/domain/model"
	"github.com/Hazimafiq/test-express-portal/internal/domain/status"
	"github.com/Hazimafiq/test-express-portal/internal/objectstore"
	"github.com/Hazimafiq/test-express-portal/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func intPtr(v int) *int { return &v }

// --- Кейсы ---

// fakeCaseRepo — in-memory реализация CaseRepository.
type fakeCaseRepo struct {
	mu         sync.Mutex
	cases      map[string]*model.Case
	treatments map[string]*model.Treatment

	// existsCalls — количество вызовов Exists
	existsCalls int
	// createErr — ошибка Create для n-го вызова (1-based); nil — без ошибки
	createErr func(call int) error
	createN   int
	// touched — case_id каждого вызова Touch
	touched []string
}

func newFakeCaseRepo() *fakeCaseRepo {
	return &fakeCaseRepo{
		cases:      make(map[string]*model.Case),
		treatments: make(map[string]*model.Treatment),
	}
}

func (r *fakeCaseRepo) seed(c *model.Case) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.cases[c.CaseID] = &cp
	r.treatments[c.CaseID] = &model.Treatment{CaseID: c.CaseID}
}

func (r *fakeCaseRepo) Exists(_ context.Context, caseID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.existsCalls++
	_, ok := r.cases[caseID]
	return ok, nil
}

func (r *fakeCaseRepo) Create(_ context.Context, c *model.Case, t *model.Treatment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createN++
	if r.createErr != nil {
		if err := r.createErr(r.createN); err != nil {
			return err
		}
	}
	if _, ok := r.cases[c.CaseID]; ok {
		return repository.ErrConflict
	}
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	cp := *c
	r.cases[c.CaseID] = &cp
	tc := *t
	tc.CaseID = c.CaseID
	r.treatments[c.CaseID] = &tc
	return nil
}

func (r *fakeCaseRepo) GetByID(_ context.Context, caseID string) (*model.Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[caseID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeCaseRepo) Update(_ context.Context, c *model.Case) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.cases[c.CaseID]
	if !ok {
		return repository.ErrNotFound
	}
	st := stored.Status
	cp := *c
	cp.Status = st
	cp.UpdatedAt = time.Now()
	r.cases[c.CaseID] = &cp
	return nil
}

func (r *fakeCaseRepo) Touch(_ context.Context, caseID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[caseID]
	if !ok {
		return repository.ErrNotFound
	}
	c.UpdatedAt = time.Now()
	r.touched = append(r.touched, caseID)
	return nil
}

func (r *fakeCaseRepo) touchCount(caseID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range r.touched {
		if id == caseID {
			n++
		}
	}
	return n
}

func (r *fakeCaseRepo) GetTreatment(_ context.Context, caseID string) (*model.Treatment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.treatments[caseID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *fakeCaseRepo) UpdateTreatment(_ context.Context, t *model.Treatment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cases[t.CaseID]; !ok {
		return repository.ErrNotFound
	}
	cp := *t
	r.treatments[t.CaseID] = &cp
	return nil
}

func (r *fakeCaseRepo) UpdateStatus(_ context.Context, caseID string, to status.Status, from []status.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[caseID]
	if !ok || !slices.Contains(from, c.Status) {
		return repository.ErrNotFound
	}
	c.Status = to
	c.UpdatedAt = time.Now()
	return nil
}

func (r *fakeCaseRepo) Search(_ context.Context, q model.CaseQuery) ([]*model.Case, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.Case
	for _, c := range r.cases {
		if q.Status != nil {
			if c.Status != *q.Status {
				continue
			}
		} else if c.Status == status.Deleted {
			continue
		}
		if q.OwnerID != nil && c.OwnerID != *q.OwnerID {
			continue
		}
		cp := *c
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CaseID < result[j].CaseID })
	return result, len(result), nil
}

func (r *fakeCaseRepo) CountByStatus(ctx context.Context, q model.CaseQuery) (*model.StatusCounts, error) {
	q.Status = nil
	list, _, _ := r.Search(ctx, q)
	counts := &model.StatusCounts{}
	for _, c := range list {
		switch c.Status {
		case status.Draft:
			counts.Draft++
		case status.Submitted:
			counts.Submitted++
		}
	}
	counts.All = counts.Draft + counts.Submitted
	return counts, nil
}

// --- Реестр файлов ---

// fakeFileRegistry — in-memory реализация FileRegistryRepository.
type fakeFileRegistry struct {
	mu       sync.Mutex
	files    []*model.CaseFile
	lastID   map[string]int
	nextRow  int64
	accesses int

	// insertErr — сбой Insert для указанного типа файла
	insertErr map[filetype.Type]error
	// getBySlotErr — сбой GetBySlot
	getBySlotErr error
}

func newFakeFileRegistry() *fakeFileRegistry {
	return &fakeFileRegistry{lastID: make(map[string]int)}
}

// seed добавляет файл как уже сохранённый.
func (r *fakeFileRegistry) seed(f *model.CaseFile) *model.CaseFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextRow++
	cp := *f
	cp.ID = r.nextRow
	if cp.FileID > r.lastID[cp.CaseID] {
		r.lastID[cp.CaseID] = cp.FileID
	}
	r.files = append(r.files, &cp)
	return &cp
}

func (r *fakeFileRegistry) byCase(caseID string) []*model.CaseFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.CaseFile
	for _, f := range r.files {
		if f.CaseID == caseID {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileID < out[j].FileID })
	return out
}

func (r *fakeFileRegistry) ListByCase(_ context.Context, caseID string) ([]*model.CaseFile, error) {
	return r.byCase(caseID), nil
}

func (r *fakeFileRegistry) ListByTypes(_ context.Context, caseID string, types []filetype.Type) ([]*model.CaseFile, error) {
	var out []*model.CaseFile
	for _, f := range r.byCase(caseID) {
		if slices.Contains(types, f.FileType) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *fakeFileRegistry) GetByFileID(_ context.Context, caseID string, fileID int) (*model.CaseFile, error) {
	for _, f := range r.byCase(caseID) {
		if f.FileID == fileID {
			return f, nil
		}
	}
	return nil, repository.ErrNotFound
}

func sameSim(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r *fakeFileRegistry) GetBySlot(_ context.Context, caseID string, ft filetype.Type, sim *int) (*model.CaseFile, error) {
	if r.getBySlotErr != nil {
		return nil, r.getBySlotErr
	}
	var found *model.CaseFile
	for _, f := range r.byCase(caseID) {
		if f.FileType == ft && sameSim(f.SimulationNumber, sim) {
			found = f
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found, nil
}

func (r *fakeFileRegistry) ReserveFileIDs(_ context.Context, caseID string, n int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	first := r.lastID[caseID] + 1
	r.lastID[caseID] += n
	return first, nil
}

func (r *fakeFileRegistry) Insert(_ context.Context, f *model.CaseFile) error {
	if err := r.insertErr[f.FileType]; err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextRow++
	f.ID = r.nextRow
	f.CreatedAt, f.UpdatedAt = time.Now(), time.Now()
	cp := *f
	r.files = append(r.files, &cp)
	return nil
}

func (r *fakeFileRegistry) ReplaceContent(_ context.Context, id int64, content model.FileContent, uploadedBy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.files {
		if f.ID == id {
			f.StorageKey = content.StorageKey
			f.StoredName = content.StoredName
			f.OriginalName = content.OriginalName
			f.StorageURL = content.StorageURL
			f.Size = content.Size
			f.ContentType = content.ContentType
			f.UploadedBy = uploadedBy
			f.SignedURL = nil
			f.SignedURLExpiresAt = nil
			f.UpdatedAt = time.Now()
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *fakeFileRegistry) DeleteBySlot(_ context.Context, caseID string, ft filetype.Type, sim *int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.files[:0]
	n := 0
	for _, f := range r.files {
		if f.CaseID == caseID && f.FileType == ft && sameSim(f.SimulationNumber, sim) {
			n++
			continue
		}
		kept = append(kept, f)
	}
	r.files = kept
	return n, nil
}

func (r *fakeFileRegistry) DeleteByFileID(_ context.Context, caseID string, fileID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, f := range r.files {
		if f.CaseID == caseID && f.FileID == fileID {
			r.files = append(r.files[:i], r.files[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *fakeFileRegistry) StoreSignedURL(_ context.Context, id int64, signedURL string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.files {
		if f.ID == id {
			u, exp := signedURL, expiresAt
			f.SignedURL = &u
			f.SignedURLExpiresAt = &exp
			f.AccessCount++
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *fakeFileRegistry) IncrementAccess(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.files {
		if f.ID == id {
			f.AccessCount++
			r.accesses++
			return nil
		}
	}
	return repository.ErrNotFound
}

// --- Объектное хранилище ---

// fakeObjectStore — in-memory хранилище объектов с подсчётом подписей.
type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	mints   int
	// putErr — сбой Put для ключей, содержащих подстроку
	putErr map[string]error
	// streamErr — сбой Stream для ключа
	streamErr map[string]error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (s *fakeObjectStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	for substr, err := range s.putErr {
		if strings.Contains(key, substr) {
			return err
		}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *fakeObjectStore) ObjectURL(key string) string {
	return "https://bucket.example.com/" + key
}

func (s *fakeObjectStore) Stream(_ context.Context, key string) (io.ReadCloser, error) {
	if err := s.streamErr[key]; err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, objectstore.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeObjectStore) MintSignedURL(_ context.Context, key string, opts objectstore.SignOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mints++
	return fmt.Sprintf("https://bucket.example.com/%s?sig=%d&disposition=%s", key, s.mints, opts.Disposition), nil
}

// --- События ---

// recordingPublisher запоминает опубликованные события.
type recordingPublisher struct {
	mu     sync.Mutex
	events []CaseEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evt CaseEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

// --- Планы симуляции и комментарии ---

type fakeSimulationRepo struct {
	mu    sync.Mutex
	plans map[string][]*model.SimulationPlan
}

func newFakeSimulationRepo() *fakeSimulationRepo {
	return &fakeSimulationRepo{plans: make(map[string][]*model.SimulationPlan)}
}

func (r *fakeSimulationRepo) Create(_ context.Context, p *model.SimulationPlan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.SimulationNumber = len(r.plans[p.CaseID]) + 1
	p.CreatedAt, p.UpdatedAt = time.Now(), time.Now()
	cp := *p
	r.plans[p.CaseID] = append(r.plans[p.CaseID], &cp)
	return nil
}

func (r *fakeSimulationRepo) find(caseID string, number int) *model.SimulationPlan {
	for _, p := range r.plans[caseID] {
		if p.SimulationNumber == number {
			return p
		}
	}
	return nil
}

func (r *fakeSimulationRepo) Get(_ context.Context, caseID string, number int) (*model.SimulationPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.find(caseID, number)
	if p == nil {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakeSimulationRepo) ListByCase(_ context.Context, caseID string) ([]*model.SimulationPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.SimulationPlan
	for _, p := range r.plans[caseID] {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeSimulationRepo) UpdateURL(_ context.Context, caseID string, number int, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.find(caseID, number)
	if p == nil {
		return repository.ErrNotFound
	}
	p.SimulationURL = url
	return nil
}

func (r *fakeSimulationRepo) SetDecision(_ context.Context, caseID string, number int, decision, decidedBy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.find(caseID, number)
	if p == nil {
		return repository.ErrNotFound
	}
	d, by := decision, decidedBy
	p.Decision, p.DecidedBy = &d, &by
	return nil
}

type fakeCommentRepo struct {
	mu       sync.Mutex
	comments []*model.Comment
}

func (r *fakeCommentRepo) Create(_ context.Context, c *model.Comment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.ID = int64(len(r.comments) + 1)
	c.CreatedAt = time.Now()
	cp := *c
	r.comments = append(r.comments, &cp)
	return nil
}

func (r *fakeCommentRepo) ListByCase(_ context.Context, caseID string) ([]*model.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Comment
	for _, c := range r.comments {
		if c.CaseID == caseID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- Сборка сервисов ---

// testEnv — набор сервисов поверх in-memory зависимостей.
type testEnv struct {
	cases    *fakeCaseRepo
	files    *fakeFileRegistry
	store    *fakeObjectStore
	events   *recordingPublisher
	sims     *fakeSimulationRepo
	comments *fakeCommentRepo

	reconciler *ReconcileService
	caseSvc    *CaseService
	gate       *AccessGate
	simSvc     *SimulationService
	commentSvc *CommentService
	archiveSvc *ArchiveService
}

const testBaseURL = "https://portal.example.com/"

func newTestEnv() *testEnv {
	env := &testEnv{
		cases:    newFakeCaseRepo(),
		files:    newFakeFileRegistry(),
		store:    newFakeObjectStore(),
		events:   &recordingPublisher{},
		sims:     newFakeSimulationRepo(),
		comments: &fakeCommentRepo{},
	}
	logger := testLogger()
	env.reconciler = NewReconcileService(env.files, env.store, testBaseURL, logger)
	env.caseSvc = NewCaseService(env.cases, env.files, env.reconciler, env.events, logger)
	env.gate = NewAccessGate(env.files, env.store, logger)
	env.simSvc = NewSimulationService(env.caseSvc, env.sims, env.files, env.reconciler, logger)
	env.commentSvc = NewCommentService(env.caseSvc, env.comments, logger)
	env.archiveSvc = NewArchiveService(env.caseSvc, env.files, env.store, logger)
	return env
}

// part создаёт FilePart с текстовым содержимым.
func part(ft filetype.Type, name, content string) FilePart {
	return FilePart{
		FileType:     ft,
		OriginalName: name,
		ContentType:  "application/octet-stream",
		Size:         int64(len(content)),
		Body:         strings.NewReader(content),
	}
}

var (
	doctor      = model.Session{UserID: "doc-1", Name: "Dr. Tan", Role: model.RoleDoctor}
	otherDoctor = model.Session{UserID: "doc-2", Name: "Dr. Lim", Role: model.RoleDoctor}
	labUser     = model.Session{UserID: "lab-1", Name: "Lab", Role: model.RoleLab}
)
