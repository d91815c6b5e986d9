package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/opbridge/opbridge/internal/assistant"
	"github.com/opbridge/opbridge/internal/tools"
)

// Session is the one assistant and thread every inbound message is
// posted to. Concurrent messages interleave into the same conversation.
type Session struct {
	AssistantID string
	ThreadID    string
}

// SessionManager creates the shared [Session] on first use. A failed
// creation leaves no session behind, so the next turn retries.
type SessionManager struct {
	svc         assistant.Service
	name        string
	description string
	descriptors []tools.Descriptor
	logger      *slog.Logger

	mu      sync.Mutex
	session *Session
}

// NewSessionManager returns a manager that registers an assistant with
// the given identity and tools.
func NewSessionManager(svc assistant.Service, name, description string, descriptors []tools.Descriptor, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		svc:         svc,
		name:        name,
		description: description,
		descriptors: descriptors,
		logger:      logger,
	}
}

// Ensure returns the session, creating the assistant and thread if they
// do not exist yet. An assistant created by an earlier attempt whose
// thread creation failed is reused.
func (m *SessionManager) Ensure(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil && m.session.ThreadID != "" {
		return m.session, nil
	}

	if m.session == nil {
		id, err := m.svc.CreateAssistant(ctx, m.name, m.description, m.descriptors)
		if err != nil {
			return nil, fmt.Errorf("create assistant: %w", err)
		}
		m.session = &Session{AssistantID: id}
		m.logger.Info("assistant created", "assistant_id", id, "tools", len(m.descriptors))
	}

	threadID, err := m.svc.CreateThread(ctx, m.session.AssistantID)
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	m.session.ThreadID = threadID
	m.logger.Info("thread created", "assistant_id", m.session.AssistantID, "thread_id", threadID)

	return m.session, nil
}

// Current returns a copy of the session, or nil before it is ready.
func (m *SessionManager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.session.ThreadID == "" {
		return nil
	}
	s := *m.session
	return &s
}
