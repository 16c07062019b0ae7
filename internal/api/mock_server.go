package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockServer provides a fake activity service for testing.
type MockServer struct {
	*httptest.Server
	mu         sync.RWMutex
	byClientID map[string]*ActivityDTO
	nextID     int64
	calls      map[string]int
	failCreate map[string]int // clientID -> status to return on create
	failDelete map[int64]int  // serverID -> status to return on delete
	authBroken bool
}

// NewMockServer creates a mock activity service.
func NewMockServer() *MockServer {
	m := &MockServer{
		byClientID: make(map[string]*ActivityDTO),
		nextID:     1,
		calls:      make(map[string]int),
		failCreate: make(map[string]int),
		failDelete: make(map[int64]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/activities", m.handleActivities)
	mux.HandleFunc("/activities/", m.handleActivityPath)

	m.Server = httptest.NewServer(mux)
	return m
}

// Seed inserts an activity already known to the server, assigning a
// server id if the DTO carries none.
func (m *MockServer) Seed(dto ActivityDTO) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dto.ID == nil {
		id := m.nextID
		m.nextID++
		dto.ID = &id
	} else if *dto.ID >= m.nextID {
		m.nextID = *dto.ID + 1
	}
	m.byClientID[dto.ClientID] = &dto
}

// SetNextServerID controls the id the next accepted create receives.
func (m *MockServer) SetNextServerID(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID = id
}

// FailCreate makes creates for the given client id return the status.
func (m *MockServer) FailCreate(clientID string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCreate[clientID] = status
}

// FailDelete makes deletes of the given server id return the status.
// A zero status clears the injection.
func (m *MockServer) FailDelete(serverID int64, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status == 0 {
		delete(m.failDelete, serverID)
		return
	}
	m.failDelete[serverID] = status
}

// BreakAuth makes every request return 401.
func (m *MockServer) BreakAuth(broken bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authBroken = broken
}

// Calls returns how many times the named operation was served.
// Operations: create, getByClientID, getByServerID, update, delete,
// listRecent, search.
func (m *MockServer) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// Activity returns the server's copy for a client id, for assertions.
func (m *MockServer) Activity(clientID string) *ActivityDTO {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byClientID[clientID]
}

// Count returns how many activities the server holds.
func (m *MockServer) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byClientID)
}

func writeEnvelope(w http.ResponseWriter, status int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":   status < 400,
		"message":   message,
		"data":      data,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (m *MockServer) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	m.mu.RLock()
	broken := m.authBroken
	m.mu.RUnlock()
	if broken || r.Header.Get("Authorization") == "" {
		writeEnvelope(w, http.StatusUnauthorized, "invalid or missing token", nil)
		return false
	}
	return true
}

// handleActivities serves POST /activities.
func (m *MockServer) handleActivities(w http.ResponseWriter, r *http.Request) {
	if !m.checkAuth(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		writeEnvelope(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["create"]++

	var dto ActivityDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeEnvelope(w, http.StatusBadRequest, "invalid json", nil)
		return
	}
	if status, ok := m.failCreate[dto.ClientID]; ok {
		writeEnvelope(w, status, "injected failure", nil)
		return
	}
	if dto.ClientID == "" || dto.SubjectName == "" {
		writeEnvelope(w, http.StatusBadRequest, "clientId and businessName are required", nil)
		return
	}
	if _, exists := m.byClientID[dto.ClientID]; exists {
		writeEnvelope(w, http.StatusConflict, "activity already exists", nil)
		return
	}

	id := m.nextID
	m.nextID++
	dto.ID = &id
	now := time.Now().UTC().Format(time.RFC3339)
	dto.CreatedAt = now
	dto.UpdatedAt = now
	m.byClientID[dto.ClientID] = &dto

	writeEnvelope(w, http.StatusCreated, "activity created", dto)
}

// handleActivityPath serves the /activities/{...} routes.
func (m *MockServer) handleActivityPath(w http.ResponseWriter, r *http.Request) {
	if !m.checkAuth(w, r) {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/activities/")
	switch {
	case rest == "recent":
		m.handleListRecent(w, r)
	case rest == "search":
		m.handleSearch(w, r)
	case strings.HasPrefix(rest, "sync/"):
		m.handleGetByClientID(w, strings.TrimPrefix(rest, "sync/"))
	case strings.HasPrefix(rest, "kind/"):
		m.handleListByKind(w, r, strings.TrimPrefix(rest, "kind/"))
	default:
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			writeEnvelope(w, http.StatusBadRequest, "invalid activity id", nil)
			return
		}
		switch r.Method {
		case http.MethodGet:
			m.handleGetByServerID(w, id)
		case http.MethodPut:
			m.handleUpdate(w, r, id)
		case http.MethodDelete:
			m.handleDelete(w, id)
		default:
			writeEnvelope(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		}
	}
}

// sortedActivities returns the server's records newest business time first.
func (m *MockServer) sortedActivities() []ActivityDTO {
	acts := make([]ActivityDTO, 0, len(m.byClientID))
	for _, a := range m.byClientID {
		acts = append(acts, *a)
	}
	for i := 0; i < len(acts); i++ {
		for j := i + 1; j < len(acts); j++ {
			if acts[j].OccurredAt > acts[i].OccurredAt {
				acts[i], acts[j] = acts[j], acts[i]
			}
		}
	}
	return acts
}

func pageQuery(r *http.Request) (page, size int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	size, _ = strconv.Atoi(r.URL.Query().Get("size"))
	if size <= 0 {
		size = 20
	}
	return page, size
}

func buildPage(acts []ActivityDTO, page, size int) Page {
	total := len(acts)
	start := page * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	totalPages := (total + size - 1) / size
	return Page{
		Content:       acts[start:end],
		Page:          page,
		Size:          size,
		TotalElements: int64(total),
		TotalPages:    totalPages,
		First:         page == 0,
		Last:          page >= totalPages-1,
		HasNext:       page < totalPages-1,
		HasPrevious:   page > 0,
	}
}

func (m *MockServer) handleListRecent(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.calls["listRecent"]++
	acts := m.sortedActivities()
	m.mu.Unlock()

	page, size := pageQuery(r)
	writeEnvelope(w, http.StatusOK, "ok", buildPage(acts, page, size))
}

func (m *MockServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.calls["search"]++
	name := strings.ToLower(r.URL.Query().Get("businessName"))
	var acts []ActivityDTO
	for _, a := range m.sortedActivities() {
		if strings.Contains(strings.ToLower(a.SubjectName), name) {
			acts = append(acts, a)
		}
	}
	m.mu.Unlock()

	page, size := pageQuery(r)
	writeEnvelope(w, http.StatusOK, "ok", buildPage(acts, page, size))
}

func (m *MockServer) handleListByKind(w http.ResponseWriter, r *http.Request, kind string) {
	m.mu.Lock()
	m.calls["listByKind"]++
	var acts []ActivityDTO
	for _, a := range m.sortedActivities() {
		if a.Kind == kind {
			acts = append(acts, a)
		}
	}
	m.mu.Unlock()

	page, size := pageQuery(r)
	writeEnvelope(w, http.StatusOK, "ok", buildPage(acts, page, size))
}

func (m *MockServer) handleGetByClientID(w http.ResponseWriter, clientID string) {
	m.mu.Lock()
	m.calls["getByClientID"]++
	dto, ok := m.byClientID[clientID]
	m.mu.Unlock()

	if !ok {
		writeEnvelope(w, http.StatusNotFound, "activity not found", nil)
		return
	}
	writeEnvelope(w, http.StatusOK, "ok", dto)
}

func (m *MockServer) handleGetByServerID(w http.ResponseWriter, id int64) {
	m.mu.Lock()
	m.calls["getByServerID"]++
	var found *ActivityDTO
	for _, a := range m.byClientID {
		if a.ID != nil && *a.ID == id {
			found = a
			break
		}
	}
	m.mu.Unlock()

	if found == nil {
		writeEnvelope(w, http.StatusNotFound, "activity not found", nil)
		return
	}
	writeEnvelope(w, http.StatusOK, "ok", found)
}

func (m *MockServer) handleUpdate(w http.ResponseWriter, r *http.Request, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["update"]++

	var existing *ActivityDTO
	for _, a := range m.byClientID {
		if a.ID != nil && *a.ID == id {
			existing = a
			break
		}
	}
	if existing == nil {
		writeEnvelope(w, http.StatusNotFound, "activity not found", nil)
		return
	}

	var dto ActivityDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeEnvelope(w, http.StatusBadRequest, "invalid json", nil)
		return
	}
	dto.ID = existing.ID
	dto.ClientID = existing.ClientID
	dto.CreatedAt = existing.CreatedAt
	dto.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	m.byClientID[dto.ClientID] = &dto

	writeEnvelope(w, http.StatusOK, "activity updated", dto)
}

func (m *MockServer) handleDelete(w http.ResponseWriter, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["delete"]++

	if status, ok := m.failDelete[id]; ok {
		writeEnvelope(w, status, "injected failure", nil)
		return
	}

	for clientID, a := range m.byClientID {
		if a.ID != nil && *a.ID == id {
			delete(m.byClientID, clientID)
			writeEnvelope(w, http.StatusOK, "activity deleted", nil)
			return
		}
	}
	writeEnvelope(w, http.StatusNotFound, "activity not found", nil)
}
