package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	APIUrl = "https://api.openai.com/v1"
)

var assistantsBetaHeaders = map[string]string{
	"OpenAI-Beta": "assistants=v2",
}

func NewChatGPTError(response *http.Response) error {
	// read contents of response body
	// and parse JSON structure
	buffer, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(buffer, &payload); err != nil {
		payload = map[string]interface{}{"raw": string(buffer)}
	}

	gptError := ChatGPTError{
		Code: response.StatusCode,
		Body: payload,
	}
	// add error type to error interface
	switch response.StatusCode {
	case http.StatusUnauthorized:
		gptError.Type = ChatGPTErrorTypeAuth
	case http.StatusNotFound:
		gptError.Type = ChatGPTErrorTypeNotFound
	default:
		gptError.Type = ChatGPTErrorTypeAPI
	}
	return gptError
}

func NewChatGPTAssistantClient(model string, credentials ChatGPTCredentials) *ChatGPTAssistantClient {
	return &ChatGPTAssistantClient{
		Model:       model,
		Credentials: credentials,
		BaseUrl:     APIUrl,
		Client:      &http.Client{},
	}
}

// ChatGPTService is the subset of the Assistants v2 API the session code
// depends on.
type ChatGPTService interface {
	VerifyCredentials(ctx context.Context) error
	GetModel(ctx context.Context, model string) (Model, error)
	GetAssistant(ctx context.Context, id string) (Assistant, error)
	CreateAssistant(ctx context.Context, request AssistantRequest) (Assistant, error)
	CreateThread(ctx context.Context) (Thread, error)
	GetThread(ctx context.Context, id string) (Thread, error)
	DeleteThread(ctx context.Context, id string) error
	CreateMessage(ctx context.Context, threadId string, message ThreadMessage) (ThreadMessageResponse, error)
	ListMessages(ctx context.Context, threadId, after string) (ThreadMessageList, error)
	DeleteMessage(ctx context.Context, threadId, messageId string) error
	CreateRun(ctx context.Context, threadId string, request RunRequest) (ThreadRun, error)
	GetRun(ctx context.Context, threadId, runId string) (ThreadRun, error)
	UploadFile(ctx context.Context, filename string, content io.Reader) (FileObject, error)
	DeleteFile(ctx context.Context, fileId string) error
}

var _ ChatGPTService = (*ChatGPTAssistantClient)(nil)

type ChatGPTAssistantClient struct {
	Credentials ChatGPTCredentials
	Model       string
	BaseUrl     string
	*http.Client
}

// ExecuteChatGPTRequest sends an HTTP request to the specified URL using the provided method and payload.
// It sets the necessary headers for authorization and content type.
//
// Parameters:
//   - ctx: Context bounding the request.
//   - method: The HTTP method to use for the request (e.g., "GET", "POST").
//   - url: The URL to which the request is sent.
//   - payload: The data to be sent in the request body. It can be of any type.
//   - headers: Extra headers added after the defaults.
//
// Returns:
//   - *http.Response: The HTTP response received from the server.
//   - error: An error if the request could not be created or executed.
func (client *ChatGPTAssistantClient) ExecuteChatGPTRequest(ctx context.Context, method, url string, payload any, headers map[string]string) (*http.Response, error) {
	var buffer io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		buffer = bytes.NewBuffer(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, url, buffer)
	if err != nil {
		return nil, err
	}
	// add required request headers
	request.Header.Add("Authorization", "Bearer "+client.Credentials.Secret)
	request.Header.Add("Content-Type", "application/json")

	for k, v := range headers {
		request.Header.Add(k, v)
	}

	r, err := client.Do(request)
	if err != nil {
		return nil, err
	}
	log.Debug(fmt.Sprintf("received http(s) response: %s %s - %d", method, url, r.StatusCode))

	return r, nil
}

// executeAssistantsRequest runs an assistants=v2 request against path and
// decodes a 200 response into out. Any other status becomes a ChatGPTError.
func (client *ChatGPTAssistantClient) executeAssistantsRequest(ctx context.Context, method, path string, payload, out any) error {
	response, err := client.ExecuteChatGPTRequest(ctx, method, client.endpoint(path), payload, assistantsBetaHeaders)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusOK:
		content, err := io.ReadAll(response.Body)
		if err != nil {
			return err
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal(content, out)

	default:
		return NewChatGPTError(response)
	}
}

func (client *ChatGPTAssistantClient) endpoint(path string) string {
	base := client.BaseUrl
	if base == "" {
		base = APIUrl
	}
	return strings.TrimRight(base, "/") + path
}

// VerifyCredentials checks the validity of the client's credentials by making a request
// to the /models endpoint of the ChatGPT API. If the credentials are valid, the function
// returns nil. Otherwise, it returns an error indicating the failure reason.
func (client *ChatGPTAssistantClient) VerifyCredentials(ctx context.Context) error {
	// check credentials using /models endpoint
	response, err := client.ExecuteChatGPTRequest(ctx, http.MethodGet, client.endpoint("/models"), nil, nil)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return NewChatGPTError(response)
	}
	return nil
}

// GetModel retrieves the details of a specific model from the ChatGPT API.
// It takes the model name as a parameter and returns the Model data and an error, if any.
func (client *ChatGPTAssistantClient) GetModel(ctx context.Context, model string) (Model, error) {
	var modelData Model

	response, err := client.ExecuteChatGPTRequest(ctx, http.MethodGet, client.endpoint("/models/"+url.PathEscape(model)), nil, nil)
	if err != nil {
		return modelData, err
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusOK:
		data, err := io.ReadAll(response.Body)
		if err != nil {
			return modelData, err
		}

		if err := json.Unmarshal(data, &modelData); err != nil {
			return modelData, err
		} else {
			return modelData, nil
		}

	default:
		return modelData, NewChatGPTError(response)
	}
}

// GetAssistant retrieves an assistant by its ID from the ChatGPT API.
// A stale or unknown ID surfaces as a ChatGPTError of type not_found.
//
// Parameters:
//   - id: The unique identifier of the assistant to retrieve.
//
// Returns:
//   - Assistant: The assistant object retrieved from the API.
//   - error: An error object if the request fails or the response cannot be parsed.
func (client *ChatGPTAssistantClient) GetAssistant(ctx context.Context, id string) (Assistant, error) {
	var assistant Assistant
	err := client.executeAssistantsRequest(ctx, http.MethodGet, "/assistants/"+url.PathEscape(id), nil, &assistant)
	return assistant, err
}

// CreateAssistant creates a new assistant from the given request.
//
// Parameters:
//   - request: name, instructions, model, tools and temperature of the assistant.
//
// Returns:
//   - Assistant: The created assistant, including its generated ID.
//   - error: An error if the request fails or the response cannot be parsed.
func (client *ChatGPTAssistantClient) CreateAssistant(ctx context.Context, request AssistantRequest) (Assistant, error) {
	var assistant Assistant
	err := client.executeAssistantsRequest(ctx, http.MethodPost, "/assistants", request, &assistant)
	return assistant, err
}

// CreateThread creates an empty conversation thread.
func (client *ChatGPTAssistantClient) CreateThread(ctx context.Context) (Thread, error) {
	var thread Thread
	err := client.executeAssistantsRequest(ctx, http.MethodPost, "/threads", map[string]interface{}{}, &thread)
	return thread, err
}

func (client *ChatGPTAssistantClient) GetThread(ctx context.Context, id string) (Thread, error) {
	var thread Thread
	err := client.executeAssistantsRequest(ctx, http.MethodGet, "/threads/"+url.PathEscape(id), nil, &thread)
	return thread, err
}

func (client *ChatGPTAssistantClient) DeleteThread(ctx context.Context, id string) error {
	var status DeletionStatus
	if err := client.executeAssistantsRequest(ctx, http.MethodDelete, "/threads/"+url.PathEscape(id), nil, &status); err != nil {
		return err
	}
	if !status.Deleted {
		return fmt.Errorf("thread %s was not deleted", id)
	}
	return nil
}

// CreateMessage appends a message to the thread.
func (client *ChatGPTAssistantClient) CreateMessage(ctx context.Context, threadId string, message ThreadMessage) (ThreadMessageResponse, error) {
	var created ThreadMessageResponse
	path := fmt.Sprintf("/threads/%s/messages", url.PathEscape(threadId))
	err := client.executeAssistantsRequest(ctx, http.MethodPost, path, message, &created)
	return created, err
}

// ListMessages returns a single page of thread messages, newest first. Pass
// the previous page's LastId as after to continue while HasMore is set.
func (client *ChatGPTAssistantClient) ListMessages(ctx context.Context, threadId, after string) (ThreadMessageList, error) {
	var page ThreadMessageList

	query := url.Values{}
	query.Set("limit", "100")
	if after != "" {
		query.Set("after", after)
	}
	path := fmt.Sprintf("/threads/%s/messages?%s", url.PathEscape(threadId), query.Encode())

	err := client.executeAssistantsRequest(ctx, http.MethodGet, path, nil, &page)
	return page, err
}

func (client *ChatGPTAssistantClient) DeleteMessage(ctx context.Context, threadId, messageId string) error {
	var status DeletionStatus
	path := fmt.Sprintf("/threads/%s/messages/%s", url.PathEscape(threadId), url.PathEscape(messageId))
	if err := client.executeAssistantsRequest(ctx, http.MethodDelete, path, nil, &status); err != nil {
		return err
	}
	if !status.Deleted {
		return fmt.Errorf("message %s was not deleted", messageId)
	}
	return nil
}

// CreateRun submits a run of the assistant against the thread. The returned
// run is usually still queued; see GetRun.
func (client *ChatGPTAssistantClient) CreateRun(ctx context.Context, threadId string, request RunRequest) (ThreadRun, error) {
	var run ThreadRun
	path := fmt.Sprintf("/threads/%s/runs", url.PathEscape(threadId))
	err := client.executeAssistantsRequest(ctx, http.MethodPost, path, request, &run)
	return run, err
}

func (client *ChatGPTAssistantClient) GetRun(ctx context.Context, threadId, runId string) (ThreadRun, error) {
	var run ThreadRun
	path := fmt.Sprintf("/threads/%s/runs/%s", url.PathEscape(threadId), url.PathEscape(runId))
	err := client.executeAssistantsRequest(ctx, http.MethodGet, path, nil, &run)
	return run, err
}

// UploadFile uploads content as a multipart form with purpose "assistants".
//
// Parameters:
//   - filename: The name reported to the API.
//   - content: The file body.
//
// Returns:
//   - FileObject: The stored file, including its ID and created_at timestamp.
//   - error: An error if the form cannot be built or the request fails.
func (client *ChatGPTAssistantClient) UploadFile(ctx context.Context, filename string, content io.Reader) (FileObject, error) {
	var file FileObject

	var data bytes.Buffer
	writer := multipart.NewWriter(&data)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return file, err
	}
	// write file content to the form
	if _, err := io.Copy(part, content); err != nil {
		return file, err
	}
	// add purpose field to the form
	if err := writer.WriteField("purpose", "assistants"); err != nil {
		return file, err
	}
	// close the writer to finalize the form
	if err := writer.Close(); err != nil {
		return file, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, client.endpoint("/files"), &data)
	if err != nil {
		return file, err
	}
	// add required request headers
	request.Header.Add("Authorization", "Bearer "+client.Credentials.Secret)
	request.Header.Add("Content-Type", writer.FormDataContentType())

	response, err := client.Do(request)
	if err != nil {
		return file, err
	}
	defer response.Body.Close()
	log.Debug(fmt.Sprintf("received http(s) response: POST %s - %d", client.endpoint("/files"), response.StatusCode))

	switch response.StatusCode {
	case http.StatusOK:
		content, err := io.ReadAll(response.Body)
		if err != nil {
			return file, err
		}

		if err := json.Unmarshal(content, &file); err != nil {
			return file, err
		} else {
			return file, nil
		}

	default:
		return file, NewChatGPTError(response)
	}
}

func (client *ChatGPTAssistantClient) DeleteFile(ctx context.Context, fileId string) error {
	response, err := client.ExecuteChatGPTRequest(ctx, http.MethodDelete, client.endpoint("/files/"+url.PathEscape(fileId)), nil, nil)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusOK:
		content, err := io.ReadAll(response.Body)
		if err != nil {
			return err
		}

		var status DeletionStatus
		if err := json.Unmarshal(content, &status); err != nil {
			return err
		}
		if !status.Deleted {
			return fmt.Errorf("file %s was not deleted", fileId)
		}
		return nil

	default:
		return NewChatGPTError(response)
	}
}
