package podcast

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/arborist-labs/scholaria/settings"
	"github.com/arborist-labs/scholaria/store"
	"github.com/arborist-labs/scholaria/task"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func fakeTTSServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audio/speech", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("AUDIOCLIP"))
	})
	return httptest.NewServer(mux)
}

func newTestSynth(t *testing.T, maxVersions int) (*Synthesizer, *store.Store, int64) {
	t.Helper()
	ctx := context.Background()
	st := newTestStore(t)
	svc := settings.New(st, task.NewBus())
	if err := svc.Update(ctx, store.Settings{OpenAIAPIKey: "test-key"}); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	wsID, err := st.CreateWorkspace(ctx, "acme")
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}

	bus := task.NewBus()
	dir := t.TempDir()
	synth := New(st, svc, bus, dir, maxVersions)
	return synth, st, wsID
}

func TestCreateVersionEvictsOldestBeyondCap(t *testing.T) {
	ctx := context.Background()
	synth, st, wsID := newTestSynth(t, 2)

	scriptRef, err := st.InsertPodcastScript(ctx, wsID, "t", `{}`)
	if err != nil {
		t.Fatalf("insert script: %v", err)
	}

	dir := t.TempDir()
	var ids []int64
	for i := 0; i < 3; i++ {
		path := filepath.Join(dir, "old.mp3")
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write fixture audio: %v", err)
		}
		id, err := synth.CreateVersion(ctx, store.PodcastVersion{
			WorkspaceID: wsID, Topic: "t", Type: "single", VoiceA: "alloy", VoiceAName: "Host", ScriptRef: scriptRef,
		})
		if err != nil {
			t.Fatalf("create version %d: %v", i, err)
		}
		if err := st.SetPodcastAudioPath(ctx, id, &path); err != nil {
			t.Fatalf("set audio path: %v", err)
		}
		ids = append(ids, id)
	}

	versions, err := st.ListPodcastVersions(ctx, wsID, "t", "single")
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 retained versions, got %d", len(versions))
	}
	for _, v := range versions {
		if v.ID == ids[0] {
			t.Error("expected oldest version to have been evicted")
		}
	}
}

func TestSynthesizeWritesAudioAndEmitsProgress(t *testing.T) {
	ctx := context.Background()
	srv := fakeTTSServer(t)
	defer srv.Close()

	st := newTestStore(t)
	bus := task.NewBus()
	svc := settings.New(st, bus)
	if err := svc.Update(ctx, store.Settings{OpenAIAPIKey: "test-key"}); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	wsID, err := st.CreateWorkspace(ctx, "acme")
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	dir := t.TempDir()
	synth := New(st, svc, bus, dir, DefaultMaxVersions)

	scriptRef, err := st.InsertPodcastScript(ctx, wsID, "solar system", `{}`)
	if err != nil {
		t.Fatalf("insert script: %v", err)
	}

	versionID, err := synth.CreateVersion(ctx, store.PodcastVersion{
		WorkspaceID: wsID, Topic: "solar system", Type: "single", VoiceA: "alloy", VoiceAName: "Host", ScriptRef: scriptRef,
	})
	if err != nil {
		t.Fatalf("create version: %v", err)
	}

	ch, cancel := synth.Subscribe(versionID)
	defer cancel()

	script := []ScriptTurn{
		{Speaker: "Host", Voice: "alloy", Text: "Welcome."},
		{Speaker: "Host", Voice: "alloy", Text: "Today we cover the solar system."},
	}

	if err := synth.synthesizeAt(ctx, wsID, versionID, script, nil, srv.URL); err != nil {
		t.Fatalf("synthesize: %v", err)
	}

	v, err := st.GetPodcastVersion(ctx, versionID)
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	if v.AudioPath == nil {
		t.Fatal("expected audio path to be set")
	}
	data, err := os.ReadFile(*v.AudioPath)
	if err != nil {
		t.Fatalf("reading audio file: %v", err)
	}
	if string(data) != "AUDIOCLIPAUDIOCLIP" {
		t.Errorf("unexpected concatenated audio: %q", data)
	}

	var sawCompleted, sawSynthesizing bool
	for i := 0; i < 4; i++ {
		select {
		case ev := <-ch:
			switch ev.Status {
			case task.StatusComplete:
				sawCompleted = true
			case task.StatusSynthesizing:
				sawSynthesizing = true
			}
		default:
		}
	}
	if !sawCompleted {
		t.Error("expected a completed event on the progress stream")
	}
	if !sawSynthesizing {
		t.Error("expected at least one synthesizing progress event")
	}
}

func TestSynthesizeHonorsCancellation(t *testing.T) {
	ctx := context.Background()
	srv := fakeTTSServer(t)
	defer srv.Close()

	st := newTestStore(t)
	bus := task.NewBus()
	svc := settings.New(st, bus)
	if err := svc.Update(ctx, store.Settings{OpenAIAPIKey: "test-key"}); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	wsID, err := st.CreateWorkspace(ctx, "acme")
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	dir := t.TempDir()
	synth := New(st, svc, bus, dir, DefaultMaxVersions)

	scriptRef, err := st.InsertPodcastScript(ctx, wsID, "t", `{}`)
	if err != nil {
		t.Fatalf("insert script: %v", err)
	}

	versionID, err := synth.CreateVersion(ctx, store.PodcastVersion{
		WorkspaceID: wsID, Topic: "t", Type: "single", VoiceA: "alloy", VoiceAName: "Host", ScriptRef: scriptRef,
	})
	if err != nil {
		t.Fatalf("create version: %v", err)
	}

	script := []ScriptTurn{{Speaker: "Host", Voice: "alloy", Text: "hi"}}
	cancelled := func() bool { return true }

	err = synth.synthesizeAt(ctx, wsID, versionID, script, cancelled, srv.URL)
	if err == nil {
		t.Fatal("expected cancellation error")
	}

	v, err := st.GetPodcastVersion(ctx, versionID)
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	if v.AudioPath != nil {
		t.Error("expected audio path to remain unset after cancellation")
	}
}
