package main

import (
	"errors"
	"fmt"
)

var (
	ErrNoAssistant = errors.New("thread has no assistant assigned")
	ErrNoActiveRun = errors.New("thread has no submitted run to poll")
)

type InvalidConfigFileError struct {
	Path string
}

func (e InvalidConfigFileError) Error() string {
	return fmt.Sprintf("error loading config file at provided path %s", e.Path)
}

type ConfigFileNotFoundError struct {
	Path string
}

func (e ConfigFileNotFoundError) Error() string {
	return fmt.Sprintf("cannot find config file at provided path %s", e.Path)
}

type StateFileNotFoundError struct {
	Path string
}

func (e StateFileNotFoundError) Error() string {
	return fmt.Sprintf("state file %s does not exist", e.Path)
}

type InvalidStateFileError struct {
	Path   string
	Reason string
}

func (e InvalidStateFileError) Error() string {
	return fmt.Sprintf("state file %s is invalid: %s", e.Path, e.Reason)
}

type InvalidRoleError struct {
	Role string
}

func (e InvalidRoleError) Error() string {
	return fmt.Sprintf("role must be either 'user' or 'assistant', got %q", e.Role)
}

// FileNotRegisteredError is returned by registry lookups. By names the index
// that was searched ("key", "name", "id" or "index").
type FileNotRegisteredError struct {
	By    string
	Value string
}

func (e FileNotRegisteredError) Error() string {
	return fmt.Sprintf("file with %s %s does not exist", e.By, e.Value)
}

type ChatGPTErrorType string

const (
	ChatGPTErrorTypeAuth     ChatGPTErrorType = "authentication"
	ChatGPTErrorTypeNotFound ChatGPTErrorType = "not_found"
	ChatGPTErrorTypeAPI      ChatGPTErrorType = "api"
)

type ChatGPTError struct {
	Code int
	Body map[string]interface{}
	Type ChatGPTErrorType
}

func (e ChatGPTError) Error() string {
	if msg := e.Message(); msg != "" {
		return fmt.Sprintf("received ChatGPT error type %s: status code %d: %s", e.Type, e.Code, msg)
	}
	return fmt.Sprintf("received ChatGPT error type %s: status code %d", e.Type, e.Code)
}

// Message extracts error.message from the response body, if present.
func (e ChatGPTError) Message() string {
	detail, ok := e.Body["error"].(map[string]interface{})
	if !ok {
		return ""
	}
	msg, _ := detail["message"].(string)
	return msg
}

// IsNotFound reports whether err is a ChatGPTError for a missing resource.
func IsNotFound(err error) bool {
	var gptErr ChatGPTError
	return errors.As(err, &gptErr) && gptErr.Type == ChatGPTErrorTypeNotFound
}
