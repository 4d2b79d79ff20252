package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
)

// fakeAPI is an in-memory stand-in for the assistants API. Runs walk through
// runStatuses, one entry per GET, and stay on the last entry.
type fakeAPI struct {
	mu sync.Mutex

	assistants map[string]Assistant
	threads    map[string]Thread
	messages   map[string][]ThreadMessageResponse
	runs       map[string]ThreadRun
	runPolls   map[string]int
	files      map[string]FileObject

	runStatuses []string
	runRequests []RunRequest
	pageSize    int
	failDeletes map[string]bool

	requests map[string]int
	nextId   int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		assistants:  map[string]Assistant{},
		threads:     map[string]Thread{},
		messages:    map[string][]ThreadMessageResponse{},
		runs:        map[string]ThreadRun{},
		runPolls:    map[string]int{},
		files:       map[string]FileObject{},
		runStatuses: []string{RunStatusInProgress, RunStatusCompleted},
		pageSize:    100,
		failDeletes: map[string]bool{},
		requests:    map[string]int{},
	}
}

// newTestClient starts the fake API and returns a real client pointed at it.
func newTestClient(t *testing.T) (*ChatGPTAssistantClient, *fakeAPI) {
	t.Helper()

	api := newFakeAPI()
	server := httptest.NewServer(api.handler())
	t.Cleanup(server.Close)

	client := NewChatGPTAssistantClient("gpt-4o-mini", ChatGPTCredentials{Secret: "test-token"})
	client.BaseUrl = server.URL
	return client, api
}

func (api *fakeAPI) id(prefix string) string {
	api.nextId++
	return fmt.Sprintf("%s_%d", prefix, api.nextId)
}

// count returns how many requests matched route, e.g. "GET /threads/{thread}/runs/{run}".
func (api *fakeAPI) count(route string) int {
	api.mu.Lock()
	defer api.mu.Unlock()
	return api.requests[route]
}

func (api *fakeAPI) total() int {
	api.mu.Lock()
	defer api.mu.Unlock()
	total := 0
	for _, n := range api.requests {
		total += n
	}
	return total
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func notFound(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusNotFound, map[string]any{
		"error": map[string]any{"message": "No " + what + " found", "type": "invalid_request_error"},
	})
}

func (api *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern string, fn func(w http.ResponseWriter, r *http.Request)) {
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer test-token" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]any{"message": "bad key"}})
				return
			}
			api.mu.Lock()
			defer api.mu.Unlock()
			api.requests[pattern]++
			fn(w, r)
		})
	}

	route("GET /models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": []Model{{Id: "gpt-4o-mini"}}})
	})

	route("GET /models/{model}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("model") != "gpt-4o-mini" {
			notFound(w, "model")
			return
		}
		writeJSON(w, http.StatusOK, Model{Id: r.PathValue("model")})
	})

	route("POST /assistants", func(w http.ResponseWriter, r *http.Request) {
		var request AssistantRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"message": err.Error()}})
			return
		}
		temperature := request.Temperature
		assistant := Assistant{
			Id:           api.id("asst"),
			Name:         request.Name,
			Model:        request.Model,
			Instructions: request.Instructions,
			Temperature:  &temperature,
			Tools:        request.Tools,
		}
		api.assistants[assistant.Id] = assistant
		writeJSON(w, http.StatusOK, assistant)
	})

	route("GET /assistants/{id}", func(w http.ResponseWriter, r *http.Request) {
		assistant, ok := api.assistants[r.PathValue("id")]
		if !ok {
			notFound(w, "assistant")
			return
		}
		writeJSON(w, http.StatusOK, assistant)
	})

	route("POST /threads", func(w http.ResponseWriter, r *http.Request) {
		thread := Thread{Id: api.id("thread"), CreatedAt: 1700000000}
		api.threads[thread.Id] = thread
		writeJSON(w, http.StatusOK, thread)
	})

	route("GET /threads/{thread}", func(w http.ResponseWriter, r *http.Request) {
		thread, ok := api.threads[r.PathValue("thread")]
		if !ok {
			notFound(w, "thread")
			return
		}
		writeJSON(w, http.StatusOK, thread)
	})

	route("DELETE /threads/{thread}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("thread")
		if _, ok := api.threads[id]; !ok {
			notFound(w, "thread")
			return
		}
		delete(api.threads, id)
		delete(api.messages, id)
		writeJSON(w, http.StatusOK, DeletionStatus{Id: id, Object: "thread.deleted", Deleted: true})
	})

	route("POST /threads/{thread}/messages", func(w http.ResponseWriter, r *http.Request) {
		threadId := r.PathValue("thread")
		if _, ok := api.threads[threadId]; !ok {
			notFound(w, "thread")
			return
		}
		var message ThreadMessage
		if err := json.NewDecoder(r.Body).Decode(&message); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"message": err.Error()}})
			return
		}
		created := ThreadMessageResponse{
			Id:          api.id("msg"),
			ThreadId:    threadId,
			Role:        message.Role,
			Attachments: message.Attachments,
			Content:     []ThreadMessageContent{textContent(message.Content)},
		}
		// newest first, like the real list endpoint
		api.messages[threadId] = append([]ThreadMessageResponse{created}, api.messages[threadId]...)
		writeJSON(w, http.StatusOK, created)
	})

	route("GET /threads/{thread}/messages", func(w http.ResponseWriter, r *http.Request) {
		threadId := r.PathValue("thread")
		if _, ok := api.threads[threadId]; !ok {
			notFound(w, "thread")
			return
		}
		all := api.messages[threadId]
		start := 0
		if after := r.URL.Query().Get("after"); after != "" {
			for i, msg := range all {
				if msg.Id == after {
					start = i + 1
				}
			}
		}
		end := start + api.pageSize
		if end > len(all) {
			end = len(all)
		}
		page := ThreadMessageList{Data: append([]ThreadMessageResponse{}, all[start:end]...), HasMore: end < len(all)}
		if len(page.Data) > 0 {
			page.FirstId = page.Data[0].Id
			page.LastId = page.Data[len(page.Data)-1].Id
		}
		writeJSON(w, http.StatusOK, page)
	})

	route("DELETE /threads/{thread}/messages/{message}", func(w http.ResponseWriter, r *http.Request) {
		threadId, messageId := r.PathValue("thread"), r.PathValue("message")
		if api.failDeletes[messageId] {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": map[string]any{"message": "boom"}})
			return
		}
		messages := api.messages[threadId]
		for i, msg := range messages {
			if msg.Id == messageId {
				api.messages[threadId] = append(messages[:i:i], messages[i+1:]...)
				writeJSON(w, http.StatusOK, DeletionStatus{Id: messageId, Object: "thread.message.deleted", Deleted: true})
				return
			}
		}
		notFound(w, "message")
	})

	route("POST /threads/{thread}/runs", func(w http.ResponseWriter, r *http.Request) {
		threadId := r.PathValue("thread")
		if _, ok := api.threads[threadId]; !ok {
			notFound(w, "thread")
			return
		}
		var request RunRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"message": err.Error()}})
			return
		}
		api.runRequests = append(api.runRequests, request)
		run := ThreadRun{Id: api.id("run"), ThreadId: threadId, AssistantId: request.AssistantId, Status: RunStatusQueued}
		api.runs[run.Id] = run
		writeJSON(w, http.StatusOK, run)
	})

	route("GET /threads/{thread}/runs/{run}", func(w http.ResponseWriter, r *http.Request) {
		run, ok := api.runs[r.PathValue("run")]
		if !ok {
			notFound(w, "run")
			return
		}
		step := api.runPolls[run.Id]
		if step >= len(api.runStatuses) {
			step = len(api.runStatuses) - 1
		}
		run.Status = api.runStatuses[step]
		api.runPolls[run.Id]++

		if run.Status == RunStatusCompleted && api.runs[run.Id].Status != RunStatusCompleted {
			reply := ThreadMessageResponse{
				Id:       api.id("msg"),
				ThreadId: run.ThreadId,
				RunId:    run.Id,
				Role:     string(RoleAssistant),
				Content:  []ThreadMessageContent{textContent("summary of the document")},
			}
			api.messages[run.ThreadId] = append([]ThreadMessageResponse{reply}, api.messages[run.ThreadId]...)
		}
		api.runs[run.Id] = run
		writeJSON(w, http.StatusOK, run)
	})

	route("POST /files", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"message": err.Error()}})
			return
		}
		if r.FormValue("purpose") != "assistants" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"message": "bad purpose"}})
			return
		}
		part, header, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"message": err.Error()}})
			return
		}
		defer part.Close()
		content, _ := io.ReadAll(part)

		file := FileObject{
			Id:        api.id("file"),
			Filename:  header.Filename,
			Bytes:     int64(len(content)),
			CreatedAt: 1700000000 + int64(api.nextId),
			Purpose:   "assistants",
		}
		api.files[file.Id] = file
		writeJSON(w, http.StatusOK, file)
	})

	route("DELETE /files/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if _, ok := api.files[id]; !ok {
			notFound(w, "file")
			return
		}
		delete(api.files, id)
		writeJSON(w, http.StatusOK, DeletionStatus{Id: id, Object: "file", Deleted: true})
	})

	return mux
}

func textContent(value string) ThreadMessageContent {
	content := ThreadMessageContent{Type: "text"}
	content.Text.Value = value
	return content
}

// seedMessages adds n user messages to the thread directly.
func (api *fakeAPI) seedMessages(threadId string, n int) []string {
	api.mu.Lock()
	defer api.mu.Unlock()

	ids := []string{}
	for i := 0; i < n; i++ {
		msg := ThreadMessageResponse{
			Id:       api.id("msg"),
			ThreadId: threadId,
			Role:     string(RoleUser),
			Content:  []ThreadMessageContent{textContent("message " + strconv.Itoa(i))},
		}
		api.messages[threadId] = append([]ThreadMessageResponse{msg}, api.messages[threadId]...)
		ids = append(ids, msg.Id)
	}
	return ids
}

func (api *fakeAPI) fileCount() int {
	api.mu.Lock()
	defer api.mu.Unlock()
	return len(api.files)
}

func (api *fakeAPI) messageCount(threadId string) int {
	api.mu.Lock()
	defer api.mu.Unlock()
	return len(api.messages[threadId])
}

func (api *fakeAPI) lastRunRequest() (RunRequest, bool) {
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.runRequests) == 0 {
		return RunRequest{}, false
	}
	return api.runRequests[len(api.runRequests)-1], true
}

func (api *fakeAPI) setRunStatuses(statuses ...string) {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.runStatuses = statuses
}
