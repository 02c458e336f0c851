package speech

import "sync"

// MockSynthesizer records utterances for tests. When Manual is false,
// each Speak completes synchronously; when true, the test releases
// utterances one at a time with Finish.
type MockSynthesizer struct {
	Manual bool

	mu      sync.Mutex
	spoken  []string
	pending []func(SpeakResult)
	stops   int
	Err     error
}

func (m *MockSynthesizer) Speak(text string, done func(SpeakResult)) error {
	m.mu.Lock()
	if m.Err != nil {
		err := m.Err
		m.mu.Unlock()
		return err
	}
	m.spoken = append(m.spoken, text)
	if m.Manual {
		m.pending = append(m.pending, done)
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	done(SpeakResult{})
	return nil
}

func (m *MockSynthesizer) Stop() {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.stops++
	m.mu.Unlock()
	for _, done := range pending {
		done(SpeakResult{})
	}
}

// Finish completes the oldest in-flight utterance.
func (m *MockSynthesizer) Finish() bool {
	m.mu.Lock()
	if len(m.pending) == 0 {
		m.mu.Unlock()
		return false
	}
	done := m.pending[0]
	m.pending = m.pending[1:]
	m.mu.Unlock()
	done(SpeakResult{})
	return true
}

func (m *MockSynthesizer) Spoken() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.spoken...)
}

func (m *MockSynthesizer) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}
