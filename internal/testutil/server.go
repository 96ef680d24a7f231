package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/dyluth/hieratika/pkg/hieratika"
)

// FakeServer is an in-memory Hieratika server for tests. It implements the
// request/response endpoints and the event stream closely enough for the
// client, the dispatcher and the editor to be exercised end to end.
// All exported maps may be seeded before the first request; afterwards use
// the helper methods, which take the lock.
type FakeServer struct {
	*httptest.Server

	mu              sync.Mutex
	Passwords       map[string]string // username -> password
	Groups          map[string][]string
	Pages           []hieratika.Page
	Variables       map[string]*hieratika.VariableInfo
	Plant           hieratika.Values
	Schedules       map[string]*hieratika.Schedule
	ScheduleValues  map[string]hieratika.Values
	Folders         []hieratika.ScheduleFolder
	Libraries       map[string]*hieratika.Library
	LibraryValues   map[string]hieratika.Values
	Transformations []hieratika.TransformationInfo
	InUse           map[string]bool // schedule or library uids that cannot change

	tokens  map[string]string // token -> username
	replies map[string]string // path -> forced reply
	calls   []Call
	streams map[int]chan []byte
	nextID  int
}

// Call is one request received by the fake server.
type Call struct {
	Path string
	Form url.Values
}

// SetupFakeServer starts a fake server with one user (operator/secret), one
// page and an empty plant. It is closed automatically when the test ends.
func SetupFakeServer(t testing.TB) *FakeServer {
	t.Helper()

	s := &FakeServer{
		Passwords:      map[string]string{"operator": "secret"},
		Groups:         map[string][]string{"operator": {"experts"}},
		Pages:          []hieratika.Page{{Name: "demo", Description: "Demo configuration"}},
		Variables:      map[string]*hieratika.VariableInfo{},
		Plant:          hieratika.Values{},
		Schedules:      map[string]*hieratika.Schedule{},
		ScheduleValues: map[string]hieratika.Values{},
		Libraries:      map[string]*hieratika.Library{},
		LibraryValues:  map[string]hieratika.Values{},
		InUse:          map[string]bool{},
		tokens:         map[string]string{},
		replies:        map[string]string{},
		streams:        map[int]chan []byte{},
	}

	s.Server = httptest.NewServer(s.router())
	t.Cleanup(s.Close)
	return s
}

func (s *FakeServer) router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(hieratika.PathLogin, s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc(hieratika.PathStream, s.handleStream).Methods(http.MethodGet, http.MethodPost)

	authed := map[string]http.HandlerFunc{
		hieratika.PathLogout:                  s.handleLogout,
		hieratika.PathGetUsers:                s.handleGetUsers,
		hieratika.PathGetUser:                 s.handleGetUser,
		hieratika.PathGetPages:                s.handleGetPages,
		hieratika.PathGetPage:                 s.handleGetPage,
		hieratika.PathGetVariablesInfo:        s.handleVariablesInfo,
		hieratika.PathGetLiveVariablesInfo:    s.handleVariablesInfo,
		hieratika.PathGetLibraryVariablesInfo: s.handleVariablesInfo,
		hieratika.PathGetTransformationsInfo:  s.handleTransformationsInfo,
		hieratika.PathGetScheduleFolders:      s.handleGetScheduleFolders,
		hieratika.PathGetSchedules:            s.handleGetSchedules,
		hieratika.PathGetSchedule:             s.handleGetSchedule,
		hieratika.PathGetScheduleValues:       s.handleGetScheduleValues,
		hieratika.PathCreateSchedule:          s.handleCreateSchedule,
		hieratika.PathCreateScheduleFolder:    s.handleOK,
		hieratika.PathDeleteScheduleFolder:    s.handleOK,
		hieratika.PathObsoleteScheduleFolder:  s.handleOK,
		hieratika.PathDeleteSchedule:          s.handleDeleteSchedule,
		hieratika.PathObsoleteSchedule:        s.handleObsoleteSchedule,
		hieratika.PathUpdateSchedule:          s.handleUpdateSchedule,
		hieratika.PathCommitSchedule:          s.handleCommitSchedule,
		hieratika.PathUpdatePlant:             s.handleUpdatePlant,
		hieratika.PathUpdatePlantFromSchedule: s.handleUpdatePlantFromSchedule,
		hieratika.PathLoadIntoPlant:           s.handleOK,
		hieratika.PathGetLibraries:            s.handleGetLibraries,
		hieratika.PathGetLibraryValues:        s.handleGetLibraryValues,
		hieratika.PathSaveLibrary:             s.handleSaveLibrary,
		hieratika.PathDeleteLibrary:           s.handleDeleteLibrary,
		hieratika.PathObsoleteLibrary:         s.handleObsoleteLibrary,
		hieratika.PathTransform:               s.handleTransform,
		hieratika.PathStatistics:              s.handleStatistics,
	}
	for path, h := range authed {
		r.HandleFunc(path, s.authorize(path, h)).Methods(http.MethodPost)
	}
	return r
}

// authorize rejects requests without a valid token, records the call and
// serves forced replies.
func (s *FakeServer) authorize(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		s.calls = append(s.calls, Call{Path: path, Form: cloneForm(r.PostForm)})
		_, valid := s.tokens[r.PostForm.Get("token")]
		forced, hasForced := s.replies[path]
		s.mu.Unlock()

		if !valid {
			fmt.Fprint(w, hieratika.ReplyInvalidToken)
			return
		}
		if hasForced {
			fmt.Fprint(w, forced)
			return
		}
		next(w, r)
	}
}

func cloneForm(f url.Values) url.Values {
	out := url.Values{}
	for k, v := range f {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// SetReply forces every authorised request to path to be answered with reply.
func (s *FakeServer) SetReply(path, reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[path] = reply
}

// InvalidateTokens forgets every issued token.
func (s *FakeServer) InvalidateTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = map[string]string{}
}

// IssueToken logs username in without a request and returns the token.
func (s *FakeServer) IssueToken(username string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := uuid.New().String()
	s.tokens[token] = username
	return token
}

// Calls returns the recorded requests to path.
func (s *FakeServer) Calls(path string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

// AddSchedule stores a schedule and its values.
func (s *FakeServer) AddSchedule(sched hieratika.Schedule, values hieratika.Values) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := sched
	s.Schedules[sched.UID] = &stored
	s.ScheduleValues[sched.UID] = copyValues(values)
}

// ScheduleValuesOf returns a copy of the stored values of a schedule.
func (s *FakeServer) ScheduleValuesOf(uid string) hieratika.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyValues(s.ScheduleValues[uid])
}

// PlantValues returns a copy of the plant values.
func (s *FakeServer) PlantValues() hieratika.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyValues(s.Plant)
}

func copyValues(v hieratika.Values) hieratika.Values {
	out := hieratika.Values{}
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Broadcast sends msg to every connected stream.
func (s *FakeServer) Broadcast(msg *hieratika.Message) {
	payload, err := msg.Payload()
	if err != nil {
		panic(err)
	}
	s.BroadcastRaw(payload)
}

// BroadcastRaw sends payload, unvalidated, to every connected stream.
func (s *FakeServer) BroadcastRaw(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.streams {
		select {
		case ch <- payload:
		default:
		}
	}
}

// WaitForStreams blocks until n streams are connected or timeout elapses.
func (s *FakeServer) WaitForStreams(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		connected := len(s.streams)
		s.mu.Unlock()
		if connected >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

// Streams returns the number of connected streams.
func (s *FakeServer) Streams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write(b)
}

func (s *FakeServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		fmt.Fprint(w, hieratika.ReplyInvalidParameters)
		return
	}
	username := r.PostForm.Get("username")
	password := r.PostForm.Get("password")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Path: hieratika.PathLogin, Form: cloneForm(r.PostForm)})

	if expected, ok := s.Passwords[username]; !ok || expected != password {
		writeJSON(w, hieratika.User{Username: ""})
		return
	}
	token := uuid.New().String()
	s.tokens[token] = username
	writeJSON(w, hieratika.User{Username: username, Groups: s.Groups[username], Token: token})
}

func (s *FakeServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, r.PostForm.Get("token"))
}

func (s *FakeServer) handleOK(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, hieratika.ReplyOK)
}

func (s *FakeServer) handleGetUsers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]hieratika.User, 0, len(s.Passwords))
	for name := range s.Passwords {
		users = append(users, hieratika.User{Username: name, Groups: s.Groups[name]})
	}
	writeJSON(w, users)
}

func (s *FakeServer) handleGetUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := r.PostForm.Get("username")
	if _, ok := s.Passwords[name]; !ok {
		return
	}
	writeJSON(w, hieratika.User{Username: name, Groups: s.Groups[name]})
}

func (s *FakeServer) handleGetPages(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, s.Pages)
}

func (s *FakeServer) handleGetPage(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := r.PostForm.Get("name")
	for _, p := range s.Pages {
		if p.Name == name {
			writeJSON(w, p)
			return
		}
	}
	fmt.Fprint(w, hieratika.ReplyNotFound)
}

func (s *FakeServer) handleVariablesInfo(w http.ResponseWriter, r *http.Request) {
	var names []string
	if err := json.Unmarshal([]byte(r.PostForm.Get("variables")), &names); err != nil {
		fmt.Fprint(w, hieratika.ReplyInvalidParameters)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*hieratika.VariableInfo{}
	for _, n := range names {
		if v, ok := s.Variables[n]; ok {
			info := *v
			if plant, ok := s.Plant[n]; ok {
				info.Value = plant
			}
			out = append(out, &info)
		}
	}
	writeJSON(w, out)
}

func (s *FakeServer) handleTransformationsInfo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.Transformations
	if out == nil {
		out = []hieratika.TransformationInfo{}
	}
	writeJSON(w, out)
}

func (s *FakeServer) handleGetScheduleFolders(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.Folders
	if out == nil {
		out = []hieratika.ScheduleFolder{}
	}
	writeJSON(w, out)
}

func (s *FakeServer) handleGetSchedules(w http.ResponseWriter, r *http.Request) {
	page := r.PostForm.Get("pageName")
	owner := r.PostForm.Get("username")

	s.mu.Lock()
	defer s.mu.Unlock()
	out := []hieratika.Schedule{}
	for _, sched := range s.Schedules {
		if sched.PageName == page && (owner == "" || sched.Owner == owner) {
			out = append(out, *sched)
		}
	}
	writeJSON(w, out)
}

func (s *FakeServer) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.Schedules[r.PostForm.Get("scheduleUID")]
	if !ok {
		fmt.Fprint(w, hieratika.ReplyNotFound)
		return
	}
	writeJSON(w, sched)
}

func (s *FakeServer) handleGetScheduleValues(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, ok := s.ScheduleValues[r.PostForm.Get("scheduleUID")]
	if !ok {
		fmt.Fprint(w, hieratika.ReplyNotFound)
		return
	}
	writeJSON(w, values)
}

func (s *FakeServer) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	name := r.PostForm.Get("name")
	if name == "" {
		fmt.Fprint(w, hieratika.ReplyInvalidParameters)
		return
	}
	var parents []string
	_ = json.Unmarshal([]byte(r.PostForm.Get("parentFolders")), &parents)

	s.mu.Lock()
	defer s.mu.Unlock()
	source := s.Plant
	if src := r.PostForm.Get("sourceScheduleUID"); src != "" {
		values, ok := s.ScheduleValues[src]
		if !ok {
			fmt.Fprint(w, hieratika.ReplyNotFound)
			return
		}
		source = values
		if r.PostForm.Get("inheritFromSchedule") == "true" {
			s.InUse[src] = true
		}
	}
	uid := uuid.New().String()
	s.Schedules[uid] = &hieratika.Schedule{
		UID:           uid,
		Name:          name,
		Description:   r.PostForm.Get("description"),
		Owner:         r.PostForm.Get("username"),
		PageName:      r.PostForm.Get("pageName"),
		ParentFolders: parents,
	}
	s.ScheduleValues[uid] = copyValues(source)
	fmt.Fprint(w, uid)
}

func (s *FakeServer) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	uid := r.PostForm.Get("scheduleUID")
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.Schedules[uid] == nil:
		fmt.Fprint(w, hieratika.ReplyNotFound)
	case s.InUse[uid]:
		fmt.Fprint(w, hieratika.ReplyInUse)
	default:
		delete(s.Schedules, uid)
		delete(s.ScheduleValues, uid)
		fmt.Fprint(w, hieratika.ReplyOK)
	}
}

func (s *FakeServer) handleObsoleteSchedule(w http.ResponseWriter, r *http.Request) {
	uid := r.PostForm.Get("scheduleUID")
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.Schedules[uid]
	if !ok {
		fmt.Fprint(w, hieratika.ReplyNotFound)
		return
	}
	sched.Obsolete = true
	fmt.Fprint(w, hieratika.ReplyOK)
}

func decodeValues(raw string) (hieratika.Values, bool) {
	values := hieratika.Values{}
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, false
	}
	return values, true
}

func (s *FakeServer) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	values, ok := decodeValues(r.PostForm.Get("variables"))
	uid := r.PostForm.Get("scheduleUID")
	if !ok || uid == "" {
		fmt.Fprint(w, hieratika.ReplyInvalidParameters)
		return
	}
	msg := hieratika.NewScheduleMessage(uid, values)
	msg.Tid = r.PostForm.Get("tid")
	s.Broadcast(msg)
	fmt.Fprint(w, hieratika.ReplyOK)
}

func (s *FakeServer) handleCommitSchedule(w http.ResponseWriter, r *http.Request) {
	values, ok := decodeValues(r.PostForm.Get("variables"))
	uid := r.PostForm.Get("scheduleUID")
	if !ok {
		fmt.Fprint(w, hieratika.ReplyInvalidParameters)
		return
	}

	s.mu.Lock()
	if s.InUse[uid] {
		s.mu.Unlock()
		fmt.Fprint(w, hieratika.ReplyInUse)
		return
	}
	stored, exists := s.ScheduleValues[uid]
	if !exists {
		s.mu.Unlock()
		fmt.Fprint(w, hieratika.ReplyNotFound)
		return
	}
	for k, v := range values {
		stored[k] = v
	}
	s.mu.Unlock()

	msg := hieratika.NewScheduleMessage(uid, values)
	msg.Tid = r.PostForm.Get("tid")
	s.Broadcast(msg)
	fmt.Fprint(w, hieratika.ReplyOK)
}

func (s *FakeServer) handleUpdatePlant(w http.ResponseWriter, r *http.Request) {
	values, ok := decodeValues(r.PostForm.Get("variables"))
	if !ok {
		fmt.Fprint(w, hieratika.ReplyInvalidParameters)
		return
	}
	s.mu.Lock()
	for k, v := range values {
		s.Plant[k] = v
	}
	s.mu.Unlock()

	msg := hieratika.NewPlantMessage(values)
	msg.Tid = r.PostForm.Get("tid")
	s.Broadcast(msg)
	fmt.Fprint(w, hieratika.ReplyOK)
}

func (s *FakeServer) handleUpdatePlantFromSchedule(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	values, ok := s.ScheduleValues[r.PostForm.Get("scheduleUID")]
	if !ok {
		s.mu.Unlock()
		fmt.Fprint(w, hieratika.ReplyNotFound)
		return
	}
	values = copyValues(values)
	for k, v := range values {
		s.Plant[k] = v
	}
	s.mu.Unlock()

	s.Broadcast(hieratika.NewPlantMessage(values))
	fmt.Fprint(w, hieratika.ReplyOK)
}

func (s *FakeServer) handleGetLibraries(w http.ResponseWriter, r *http.Request) {
	htype := r.PostForm.Get("type")
	owner := r.PostForm.Get("username")
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []hieratika.Library{}
	for _, lib := range s.Libraries {
		if lib.Type == htype && (owner == "" || lib.Owner == owner) {
			out = append(out, *lib)
		}
	}
	writeJSON(w, out)
}

func (s *FakeServer) handleGetLibraryValues(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, ok := s.LibraryValues[r.PostForm.Get("libraryUID")]
	if !ok {
		fmt.Fprint(w, hieratika.ReplyNotFound)
		return
	}
	writeJSON(w, values)
}

func (s *FakeServer) handleSaveLibrary(w http.ResponseWriter, r *http.Request) {
	values, ok := decodeValues(r.PostForm.Get("variables"))
	if !ok {
		fmt.Fprint(w, hieratika.ReplyInvalidParameters)
		return
	}
	htype := r.PostForm.Get("type")
	name := r.PostForm.Get("name")
	owner := r.PostForm.Get("username")

	s.mu.Lock()
	defer s.mu.Unlock()
	for uid, lib := range s.Libraries {
		if lib.Type == htype && lib.Name == name && lib.Owner == owner {
			if s.InUse[uid] {
				fmt.Fprint(w, hieratika.ReplyInUse)
				return
			}
			lib.Description = r.PostForm.Get("description")
			s.LibraryValues[uid] = values
			writeJSON(w, lib)
			return
		}
	}
	uid := uuid.New().String()
	lib := &hieratika.Library{UID: uid, Type: htype, Name: name, Owner: owner, Description: r.PostForm.Get("description")}
	s.Libraries[uid] = lib
	s.LibraryValues[uid] = values
	writeJSON(w, lib)
}

func (s *FakeServer) handleDeleteLibrary(w http.ResponseWriter, r *http.Request) {
	uid := r.PostForm.Get("libraryUID")
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.Libraries[uid] == nil:
		fmt.Fprint(w, hieratika.ReplyNotFound)
	case s.InUse[uid]:
		fmt.Fprint(w, hieratika.ReplyInUse)
	default:
		delete(s.Libraries, uid)
		delete(s.LibraryValues, uid)
		fmt.Fprint(w, hieratika.ReplyOK)
	}
}

func (s *FakeServer) handleObsoleteLibrary(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lib, ok := s.Libraries[r.PostForm.Get("libraryUID")]
	if !ok {
		fmt.Fprint(w, hieratika.ReplyNotFound)
		return
	}
	lib.Obsolete = true
	fmt.Fprint(w, hieratika.ReplyOK)
}

func (s *FakeServer) handleTransform(w http.ResponseWriter, r *http.Request) {
	fun := r.PostForm.Get("fun")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.Transformations {
		if t.Fun == fun {
			fmt.Fprintf(w, "tr-%s", uuid.New().String())
			return
		}
	}
	fmt.Fprint(w, hieratika.ReplyInvalidParameters)
}

func (s *FakeServer) handleStatistics(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int{}
	for _, c := range s.calls {
		counts[strings.TrimPrefix(c.Path, "/")]++
	}
	writeJSON(w, counts)
}

// handleStream serves the event stream: a reset message carrying a fresh tid,
// then every broadcast payload until the client goes away.
func (s *FakeServer) handleStream(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	s.mu.Lock()
	_, valid := s.tokens[token]
	if !valid {
		s.mu.Unlock()
		fmt.Fprint(w, hieratika.ReplyInvalidToken)
		return
	}
	s.nextID++
	id := s.nextID
	ch := make(chan []byte, 64)
	s.streams[id] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.streams, id)
		s.mu.Unlock()
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	reset, _ := hieratika.NewResetMessage(fmt.Sprintf("tid-%d", id)).Payload()
	fmt.Fprintf(w, "data: %s\n\n", reset)
	// keepalive, as the real server emits while its queue is empty
	fmt.Fprint(w, "data: \n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case payload := <-ch:
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
