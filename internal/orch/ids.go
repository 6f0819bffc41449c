package orch

import (
	"crypto/rand"
	"encoding/base64"
)

// NewWorkerID generates a cryptographically random worker id.
func NewWorkerID() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "wk_" + base64.RawURLEncoding.EncodeToString(b), nil
}

// NewTaskID generates a cryptographically random task id.
func NewTaskID() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "task_" + base64.RawURLEncoding.EncodeToString(b), nil
}
