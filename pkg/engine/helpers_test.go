package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// memStore is an in-memory DocumentStore with Drive-like semantics: no
// exclusive create, duplicates by name are possible, lookups by ID.
type memStore struct {
	mu   sync.Mutex
	seq  int
	docs map[string]*memDoc

	// hooks for fault injection
	onRead      func(id string)
	beforeWrite func(id string)
	afterCreate func(id string)
	readErr     error
	writeErr    error
	createErr   error
}

type memDoc struct {
	id       string
	name     string
	parent   string
	mime     string
	content  []byte
	modified time.Time
	folder   bool
}

func newMemStore() *memStore {
	return &memStore{docs: map[string]*memDoc{}}
}

func (s *memStore) nextID() string {
	s.seq++
	return fmt.Sprintf("id-%d", s.seq)
}

func (s *memStore) addFolder(name, parent string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID()
	s.docs[id] = &memDoc{id: id, name: name, parent: parent, folder: true, mime: "application/vnd.folder"}
	return id
}

func (s *memStore) addFile(name, parent, mime string, content []byte, modified time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID()
	s.docs[id] = &memDoc{id: id, name: name, parent: parent, mime: mime, content: content, modified: modified}
	return id
}

func (s *memStore) get(id string) (*memDoc, bool) {
	d, ok := s.docs[id]
	return d, ok
}

func (s *memStore) contentOf(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.docs[id]; ok {
		return string(d.content)
	}
	return ""
}

func (s *memStore) findIn(folderID, name string) *memDoc {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.docs {
		if d.parent == folderID && d.name == name {
			return d
		}
	}
	return nil
}

func (s *memStore) List(_ context.Context, folderID string) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Document
	for _, d := range s.docs {
		if d.parent == folderID {
			out = append(out, Document{ID: d.id, Name: d.name, MimeType: d.mime, ModifiedAt: d.modified})
		}
	}
	return out, nil
}

func (s *memStore) ResolvePath(_ context.Context, rootID, path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := rootID
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		found := ""
		for _, d := range s.docs {
			if d.parent == cur && d.name == part && d.folder {
				found = d.id
				break
			}
		}
		if found == "" {
			return "", ErrNotFound
		}
		cur = found
	}
	return cur, nil
}

func (s *memStore) Find(_ context.Context, folderID, name string) (Document, error) {
	if d := s.findIn(folderID, name); d != nil {
		return Document{ID: d.id, Name: d.name, MimeType: d.mime, ModifiedAt: d.modified}, nil
	}
	return Document{}, ErrNotFound
}

func (s *memStore) Read(_ context.Context, id string) ([]byte, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	if s.onRead != nil {
		s.onRead(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(d.content))
	copy(out, d.content)
	return out, nil
}

func (s *memStore) Write(_ context.Context, id string, content []byte) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	if s.beforeWrite != nil {
		s.beforeWrite(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	d.content = content
	return nil
}

func (s *memStore) Create(_ context.Context, folderID, name string, content []byte) (string, error) {
	if s.createErr != nil {
		return "", s.createErr
	}
	s.mu.Lock()
	id := s.nextID()
	cp := make([]byte, len(content))
	copy(cp, content)
	s.docs[id] = &memDoc{id: id, name: name, parent: folderID, mime: "text/markdown", content: cp}
	s.mu.Unlock()
	if s.afterCreate != nil {
		s.afterCreate(id)
	}
	return id, nil
}

func (s *memStore) Move(_ context.Context, id, newParentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	d.parent = newParentID
	return nil
}

func (s *memStore) Rename(_ context.Context, id, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	d.name = newName
	return nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return ErrNotFound
	}
	delete(s.docs, id)
	return nil
}

// memJournal is an in-memory Journal.
type memJournal struct {
	mu        sync.Mutex
	items     map[string]SourceItem
	analyses  map[string]*AnalysisResult
	mutations map[string]DestinationMutation // by idempotency key
	order     []string
	cp        Checkpoint
	hasCP     bool
}

func newMemJournal() *memJournal {
	return &memJournal{
		items:     map[string]SourceItem{},
		analyses:  map[string]*AnalysisResult{},
		mutations: map[string]DestinationMutation{},
	}
}

func (j *memJournal) GetItem(_ context.Context, itemID string) (SourceItem, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if item, ok := j.items[itemID]; ok {
		return item, nil
	}
	return SourceItem{}, ErrNotFound
}

func (j *memJournal) UpsertItem(_ context.Context, item SourceItem) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.items[item.ID] = item
	return nil
}

func (j *memJournal) SaveAnalysis(_ context.Context, analysis *AnalysisResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.analyses[analysis.SourceItemID] = analysis
	return nil
}

func (j *memJournal) GetAnalysis(_ context.Context, itemID string) (*AnalysisResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if a, ok := j.analyses[itemID]; ok {
		return a, nil
	}
	return nil, ErrNotFound
}

func (j *memJournal) SaveMutations(_ context.Context, muts []DestinationMutation) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, m := range muts {
		if _, exists := j.mutations[m.IdempotencyKey]; exists {
			continue
		}
		j.mutations[m.IdempotencyKey] = m
		j.order = append(j.order, m.IdempotencyKey)
	}
	return nil
}

func (j *memJournal) Mutations(_ context.Context, itemID string) ([]DestinationMutation, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []DestinationMutation
	for _, key := range j.order {
		if m := j.mutations[key]; m.SourceItemID == itemID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (j *memJournal) MarkMutation(_ context.Context, key string, status MutationStatus, attempts int, lastErr string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	m, ok := j.mutations[key]
	if !ok {
		return ErrNotFound
	}
	m.Status = status
	m.Attempts = attempts
	m.LastError = lastErr
	j.mutations[key] = m
	return nil
}

func (j *memJournal) IsApplied(_ context.Context, key string) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	m, ok := j.mutations[key]
	return ok && m.Status == MutationApplied, nil
}

func (j *memJournal) Checkpoint(_ context.Context) (Checkpoint, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.hasCP {
		return Checkpoint{}, nil
	}
	return j.cp, nil
}

func (j *memJournal) SaveCheckpoint(_ context.Context, cp Checkpoint) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cp = cp
	j.hasCP = true
	return nil
}

// fakeTasks is an in-memory TaskClient.
type fakeTasks struct {
	mu       sync.Mutex
	created  []TaskRequest
	projects map[string]string
	createErr error
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{projects: map[string]string{}}
}

func (f *fakeTasks) CreateTask(_ context.Context, req TaskRequest) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	return fmt.Sprintf("task-%d", len(f.created)), nil
}

func (f *fakeTasks) ResolveProject(_ context.Context, hint string) (string, error) {
	if hint == "" {
		return "", nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.projects[hint]; ok {
		return id, nil
	}
	id := "proj-" + hint
	f.projects[hint] = id
	return id, nil
}

func (f *fakeTasks) OpenTasks(_ context.Context, _ time.Time) (TaskDashboard, error) {
	return TaskDashboard{}, nil
}

// fakeAnalyzer returns canned analysis results keyed by item ID.
type fakeAnalyzer struct {
	mu      sync.Mutex
	results map[string]*AnalysisResult
	errs    map[string]error
	calls   map[string]int
}

func newFakeAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{
		results: map[string]*AnalysisResult{},
		errs:    map[string]error{},
		calls:   map[string]int{},
	}
}

func (f *fakeAnalyzer) Analyze(_ context.Context, itemID string, _ []byte, _ string) (*AnalysisResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[itemID]++
	if err, ok := f.errs[itemID]; ok {
		return nil, err
	}
	if res, ok := f.results[itemID]; ok {
		return res, nil
	}
	return nil, NewPermanentError("no canned analysis for item", nil).WithItem(itemID)
}

// testVault lays out root/inbox/archive/claims plus the daily notes and
// destination folders a routed analysis needs.
type testVault struct {
	store  *memStore
	layout VaultLayout
	daily  string
}

func newTestVault() *testVault {
	s := newMemStore()
	root := s.addFolder("vault", "")
	inbox := s.addFolder("0-Inbox", root)
	archive := s.addFolder("4-Archives", root)
	claims := s.addFolder("claims", root)
	daily := s.addFolder("Daily Notes", root)

	areas := s.addFolder("2-Areas", root)
	cal := s.addFolder("Calendar", areas)
	_ = cal
	s.addFolder("Finances", areas)
	res := s.addFolder("3-Resources", root)
	s.addFolder("Ideas", res)

	return &testVault{
		store: s,
		layout: VaultLayout{
			RootID:           root,
			InboxID:          inbox,
			ArchiveID:        archive,
			ClaimsID:         claims,
			DailyNotesFolder: "Daily Notes",
		},
		daily: daily,
	}
}

func taskAnalysis(itemID string, due time.Time) *AnalysisResult {
	return &AnalysisResult{
		SourceItemID:       itemID,
		Summary:            "Whiteboard with action items",
		Language:           "en",
		Transcript:         "Ship the report by Friday",
		FilenameSuggestion: "whiteboard-actions",
		Fragments: []ClassifiedFragment{
			{Type: FragmentTask, Content: "Ship the report", Priority: PriorityHigh, DueDate: &due},
			{Type: FragmentIdea, Content: "Automate the weekly export", Priority: PriorityLow},
		},
	}
}
