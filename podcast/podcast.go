// Package podcast implements the podcast synthesizer (spec §4.9, C9):
// version creation under an LRU cap, per-turn text-to-speech with
// progress events, and audio concatenation to disk.
package podcast

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/arborist-labs/scholaria/llm"
	"github.com/arborist-labs/scholaria/settings"
	"github.com/arborist-labs/scholaria/store"
	"github.com/arborist-labs/scholaria/task"
)

// DefaultMaxVersions is the retained-versions cap per (workspace, topic,
// type) (spec §3 PodcastVersion: "default 3").
const DefaultMaxVersions = 3

// ScriptTurn is one line of a generated podcast script (spec §4.8's
// podcast_script shape).
type ScriptTurn struct {
	Speaker string `json:"speaker"`
	Voice   string `json:"voice"`
	Text    string `json:"text"`
}

// Script is the full decoded podcast_script artifact payload.
type Script struct {
	Topic  string       `json:"topic"`
	Script []ScriptTurn `json:"script"`
}

// Synthesizer turns a generated script into voiced, concatenated audio
// (spec §4.9).
type Synthesizer struct {
	store       *store.Store
	settings    *settings.Service
	bus         *task.Bus
	audioDir    string
	maxVersions int
}

// New wires a Synthesizer. audioDir is where concatenated audio files are
// written; it is registered with the store so a crash between writing a
// file and committing its row can be reconciled on the next startup (spec
// §5 "Shared resources").
func New(st *store.Store, svc *settings.Service, bus *task.Bus, audioDir string, maxVersions int) *Synthesizer {
	if maxVersions <= 0 {
		maxVersions = DefaultMaxVersions
	}
	st.RegisterAudioDir(audioDir)
	return &Synthesizer{store: st, settings: svc, bus: bus, audioDir: audioDir, maxVersions: maxVersions}
}

// eventKey is the task.Bus subscription key for a version's progress
// stream (spec §4.9 "Progress is exposed via an SSE stream keyed by version
// id").
func eventKey(versionID int64) string {
	return "podcast:" + strconv.FormatInt(versionID, 10)
}

// Subscribe exposes the progress stream for a version id, including replay
// of the last known event (spec §4.9 "Clients may reconnect; the server
// re-emits the last event immediately").
func (s *Synthesizer) Subscribe(versionID int64) (<-chan task.Event, func()) {
	return s.bus.Subscribe(eventKey(versionID))
}

// CreateVersion inserts a PodcastVersion row, then enforces the LRU cap by
// evicting the oldest versions of (workspace, topic, type) beyond
// maxVersions, deleting their audio files from disk (spec §4.9 steps 1-2).
func (s *Synthesizer) CreateVersion(ctx context.Context, v store.PodcastVersion) (int64, error) {
	id, err := s.store.CreatePodcastVersion(ctx, v)
	if err != nil {
		return 0, fmt.Errorf("podcast: creating version: %w", err)
	}

	evicted, err := s.store.EvictOldestPodcastVersions(ctx, v.WorkspaceID, v.Topic, v.Type, s.maxVersions)
	if err != nil {
		return 0, fmt.Errorf("podcast: enforcing version cap: %w", err)
	}
	for _, old := range evicted {
		if old.AudioPath != nil {
			_ = os.Remove(*old.AudioPath)
		}
	}
	return id, nil
}

// Synthesize calls TTS for every turn in order, concatenates the resulting
// audio, writes it to disk, and records the path on the version (spec §4.9
// steps 3-5). cancelled is polled between turns, mirroring ingest.Pipeline's
// cooperative cancellation.
func (s *Synthesizer) Synthesize(ctx context.Context, workspaceID, versionID int64, script []ScriptTurn, cancelled func() bool) error {
	return s.synthesizeAt(ctx, workspaceID, versionID, script, cancelled, "")
}

// synthesizeAt is Synthesize with an explicit OpenAI base URL override, so
// tests can point the TTS provider at an httptest server. Production callers
// use Synthesize, which leaves the provider's default endpoint in place.
func (s *Synthesizer) synthesizeAt(ctx context.Context, workspaceID, versionID int64, script []ScriptTurn, cancelled func() bool, baseURL string) error {
	key := eventKey(versionID)

	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("podcast: loading workspace %d: %w", workspaceID, err)
	}
	eff, err := s.settings.Effective(ctx, ws)
	if err != nil {
		return fmt.Errorf("podcast: resolving effective settings: %w", err)
	}
	if err := eff.RequireTTS(); err != nil {
		s.bus.Publish(key, task.Event{Status: task.StatusFailed, Message: err.Error()})
		return err
	}

	provider, err := llm.NewTTSProvider(llm.Config{Provider: "openai", APIKey: eff.OpenAIAPIKey, BaseURL: baseURL})
	if err != nil {
		s.bus.Publish(key, task.Event{Status: task.StatusFailed, Message: err.Error()})
		return fmt.Errorf("podcast: building tts provider: %w", err)
	}

	n := len(script)
	var audio []byte
	for i, turn := range script {
		if cancelled != nil && cancelled() {
			s.bus.Publish(key, task.Event{Status: task.StatusFailed, Message: "cancelled"})
			return fmt.Errorf("podcast: synthesis cancelled")
		}

		clip, err := provider.Synthesize(ctx, turn.Text, turn.Voice)
		if err != nil {
			s.bus.Publish(key, task.Event{Status: task.StatusFailed, Message: err.Error()})
			return fmt.Errorf("podcast: synthesizing turn %d: %w", i, err)
		}
		audio = append(audio, clip...)

		progress := int(math.Floor(float64(i+1) / float64(n) * 100))
		s.bus.Publish(key, task.Event{
			Status:   task.StatusSynthesizing,
			Progress: progress,
			Message:  fmt.Sprintf("Turn %d/%d", i+1, n),
		})
	}

	path := filepath.Join(s.audioDir, fmt.Sprintf("version-%d.mp3", versionID))
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		s.bus.Publish(key, task.Event{Status: task.StatusFailed, Message: err.Error()})
		return fmt.Errorf("podcast: writing audio file: %w", err)
	}
	if err := s.store.SetPodcastAudioPath(ctx, versionID, &path); err != nil {
		s.bus.Publish(key, task.Event{Status: task.StatusFailed, Message: err.Error()})
		return fmt.Errorf("podcast: recording audio path: %w", err)
	}

	s.bus.Publish(key, task.Event{Status: task.StatusComplete, Progress: 100})
	return nil
}

// Resynthesize regenerates the audio for an existing version in place: same
// version row, no new LRU entry (spec §4.9 "Re-synthesis: replaces audio in
// place on the same version").
func (s *Synthesizer) Resynthesize(ctx context.Context, versionID int64, script []ScriptTurn, cancelled func() bool) error {
	v, err := s.store.GetPodcastVersion(ctx, versionID)
	if err != nil {
		return fmt.Errorf("podcast: loading version %d: %w", versionID, err)
	}
	if v.AudioPath != nil {
		_ = os.Remove(*v.AudioPath)
	}
	return s.Synthesize(ctx, v.WorkspaceID, versionID, script, cancelled)
}

// ListVoices returns the TTS provider's voice catalogue for the workspace's
// effective configuration (spec §4.7 "list_voices").
func (s *Synthesizer) ListVoices(ctx context.Context, workspaceID int64) ([]llm.Voice, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("podcast: loading workspace %d: %w", workspaceID, err)
	}
	eff, err := s.settings.Effective(ctx, ws)
	if err != nil {
		return nil, fmt.Errorf("podcast: resolving effective settings: %w", err)
	}
	provider, err := llm.NewTTSProvider(llm.Config{Provider: "openai", APIKey: eff.OpenAIAPIKey})
	if err != nil {
		return nil, fmt.Errorf("podcast: building tts provider: %w", err)
	}
	return provider.ListVoices(ctx)
}
