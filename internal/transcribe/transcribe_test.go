package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/dictaflow/internal/audio"
	"github.com/chaz8081/dictaflow/internal/backend"
	"github.com/chaz8081/dictaflow/internal/config"
)

func testArtifact(t *testing.T) *audio.Artifact {
	t.Helper()
	a, err := audio.NewArtifact(t.TempDir(), make([]int16, audio.SampleRate/2), false)
	if err != nil {
		t.Fatalf("NewArtifact() error = %v", err)
	}
	t.Cleanup(func() { a.Remove() })
	return a
}

// capturedRequest records what the fake transcription server received.
type capturedRequest struct {
	auth     string
	model    string
	language string
	fileName string
	fileSize int
}

func transcriptionServer(t *testing.T, status int, body string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	got := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		got.auth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm() error = %v", err)
		}
		got.model = r.FormValue("model")
		got.language = r.FormValue("language")
		if f, hdr, err := r.FormFile("file"); err == nil {
			data, _ := io.ReadAll(f)
			got.fileName = hdr.Filename
			got.fileSize = len(data)
			f.Close()
		}
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestCloudTranscribe(t *testing.T) {
	srv, got := transcriptionServer(t, http.StatusOK, `{"text":"  hello world \n"}`)
	c := NewCloud(CloudConfig{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Language: "en"}, srv.Client())
	a := testArtifact(t)

	text, err := c.Transcribe(context.Background(), a)
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "hello world" {
		t.Errorf("Transcribe() = %q, want %q", text, "hello world")
	}
	if got.auth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", got.auth)
	}
	if got.model != DefaultCloudModel {
		t.Errorf("model = %q, want %q", got.model, DefaultCloudModel)
	}
	if got.language != "en" {
		t.Errorf("language = %q, want en", got.language)
	}
	if !strings.HasSuffix(got.fileName, ".wav") || got.fileSize <= 44 {
		t.Errorf("file = %q (%d bytes), want a WAV with data", got.fileName, got.fileSize)
	}
}

func TestCloudAutoLanguageOmitted(t *testing.T) {
	srv, got := transcriptionServer(t, http.StatusOK, `{"text":"hi"}`)
	c := NewCloud(CloudConfig{BaseURL: srv.URL + "/v1", APIKey: "k", Language: "auto"}, srv.Client())

	if _, err := c.Transcribe(context.Background(), testArtifact(t)); err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if got.language != "" {
		t.Errorf("language = %q, want omitted", got.language)
	}
}

func TestCloudErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, backend.ErrAuth},
		{"rate limited", http.StatusTooManyRequests, `{}`, backend.ErrRateLimited},
		{"server error", http.StatusBadGateway, ``, backend.ErrNetwork},
		{"malformed json", http.StatusOK, `not json`, backend.ErrInvalid},
		{"missing text", http.StatusOK, `{"segments":[]}`, backend.ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := transcriptionServer(t, tt.status, tt.body)
			c := NewCloud(CloudConfig{BaseURL: srv.URL + "/v1", APIKey: "k"}, srv.Client())

			_, err := c.Transcribe(context.Background(), testArtifact(t))
			if !errors.Is(err, tt.want) {
				t.Errorf("Transcribe() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCloudConnectionRefused(t *testing.T) {
	c := NewCloud(CloudConfig{BaseURL: "http://127.0.0.1:1/v1", APIKey: "k"}, nil)
	_, err := c.Transcribe(context.Background(), testArtifact(t))
	if !errors.Is(err, backend.ErrNetwork) {
		t.Errorf("Transcribe() error = %v, want ErrNetwork", err)
	}
}

func TestCloudCanceledIsNotNetwork(t *testing.T) {
	srv, _ := transcriptionServer(t, http.StatusOK, `{"text":"x"}`)
	c := NewCloud(CloudConfig{BaseURL: srv.URL + "/v1", APIKey: "k"}, srv.Client())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Transcribe(ctx, testArtifact(t))
	if !errors.Is(err, context.Canceled) || errors.Is(err, backend.ErrNetwork) {
		t.Errorf("Transcribe() error = %v, want context.Canceled only", err)
	}
}

func TestCloudAvailable(t *testing.T) {
	ctx := context.Background()
	if NewCloud(CloudConfig{}, nil).Available(ctx) {
		t.Error("Available() = true without API key")
	}
	if !NewCloud(CloudConfig{APIKey: "k", BaseURL: "http://127.0.0.1:1"}, nil).Available(ctx) {
		t.Error("Available() = false with API key; it must not probe the network")
	}
}

func TestCloudNoKeyIsAuth(t *testing.T) {
	c := NewCloud(CloudConfig{}, nil)
	if _, err := c.Transcribe(context.Background(), testArtifact(t)); !errors.Is(err, backend.ErrAuth) {
		t.Errorf("Transcribe() error = %v, want ErrAuth", err)
	}
}

func TestCloudTimeoutScalesWithDuration(t *testing.T) {
	c := NewCloud(CloudConfig{}, nil)
	short := c.requestTimeout(time.Second)
	long := c.requestTimeout(2 * time.Minute)
	if short != 32*time.Second {
		t.Errorf("requestTimeout(1s) = %v, want 32s", short)
	}
	if long <= short {
		t.Errorf("requestTimeout(2m) = %v, want more than %v", long, short)
	}
}

// fakeSupervisor turns healthy after a number of probes once started.
type fakeSupervisor struct {
	mu           sync.Mutex
	started      int
	probes       int
	healthyAfter int // probes after start before Health returns true; -1 never
	startErr     error
}

func (f *fakeSupervisor) EnsureRunning(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started++
	f.probes = 0
	return nil
}

func (f *fakeSupervisor) Health(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started == 0 || f.healthyAfter < 0 {
		return false
	}
	f.probes++
	return f.probes > f.healthyAfter
}

func (f *fakeSupervisor) Stop(context.Context) error { return nil }

func noSleep(context.Context, time.Duration) error { return nil }

func TestLocalStartsServiceAndWaits(t *testing.T) {
	srv, got := transcriptionServer(t, http.StatusOK, `{"text":"local text"}`)
	sup := &fakeSupervisor{healthyAfter: 3}
	l := NewLocal(LocalConfig{BaseURL: srv.URL + "/v1"}, sup, srv.Client())
	l.sleep = noSleep

	text, err := l.Transcribe(context.Background(), testArtifact(t))
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "local text" {
		t.Errorf("Transcribe() = %q", text)
	}
	if sup.started != 1 {
		t.Errorf("EnsureRunning called %d times, want 1", sup.started)
	}
	if got.auth != "" {
		t.Errorf("local backend sent Authorization %q", got.auth)
	}
	if got.model != DefaultLocalModel {
		t.Errorf("model = %q, want %q", got.model, DefaultLocalModel)
	}

	// Second call in the same session does not restart the service.
	if _, err := l.Transcribe(context.Background(), testArtifact(t)); err != nil {
		t.Fatalf("second Transcribe() error = %v", err)
	}
	if sup.started != 1 {
		t.Errorf("EnsureRunning called %d times after second call, want 1", sup.started)
	}
}

func TestLocalStartupTimeout(t *testing.T) {
	var slept time.Duration
	sup := &fakeSupervisor{healthyAfter: -1}
	l := NewLocal(LocalConfig{
		BaseURL:        "http://127.0.0.1:1/v1",
		StartupTimeout: 10 * time.Second,
		PollInterval:   2 * time.Second,
	}, sup, nil)
	l.sleep = func(_ context.Context, d time.Duration) error {
		slept += d
		return nil
	}

	_, err := l.Transcribe(context.Background(), testArtifact(t))
	if !errors.Is(err, backend.ErrUnavailable) {
		t.Fatalf("Transcribe() error = %v, want ErrUnavailable", err)
	}
	if slept != 10*time.Second {
		t.Errorf("waited %v, want the full 10s startup timeout", slept)
	}
}

// stuckSupervisor never finishes starting and ignores ctx.
type stuckSupervisor struct{ release chan struct{} }

func (s *stuckSupervisor) EnsureRunning(context.Context) error {
	<-s.release
	return nil
}

func (s *stuckSupervisor) Health(context.Context) bool { return false }
func (s *stuckSupervisor) Stop(context.Context) error  { return nil }

func TestLocalStartupTimeoutCoversEnsureRunning(t *testing.T) {
	sup := &stuckSupervisor{release: make(chan struct{})}
	defer close(sup.release)
	l := NewLocal(LocalConfig{
		BaseURL:        "http://127.0.0.1:1/v1",
		StartupTimeout: 100 * time.Millisecond,
	}, sup, nil)
	l.sleep = noSleep

	start := time.Now()
	_, err := l.Transcribe(context.Background(), testArtifact(t))
	if !errors.Is(err, backend.ErrUnavailable) {
		t.Fatalf("Transcribe() error = %v, want ErrUnavailable", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Transcribe() took %v, want it bounded by the 100ms startup timeout", elapsed)
	}
}

func TestLocalPollIntervalLongerThanTimeout(t *testing.T) {
	srv, _ := transcriptionServer(t, http.StatusOK, `{"text":"ok"}`)
	sup := &fakeSupervisor{healthyAfter: 0}
	l := NewLocal(LocalConfig{
		BaseURL:        srv.URL + "/v1",
		StartupTimeout: time.Second,
		PollInterval:   5 * time.Second,
	}, sup, srv.Client())
	var slept []time.Duration
	l.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	if _, err := l.Transcribe(context.Background(), testArtifact(t)); err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if len(slept) != 1 || slept[0] != time.Second {
		t.Errorf("slept %v, want one poll capped at the 1s timeout", slept)
	}
}

func TestLocalSupervisorFailure(t *testing.T) {
	sup := &fakeSupervisor{startErr: errors.New("docker not installed")}
	l := NewLocal(LocalConfig{BaseURL: "http://127.0.0.1:1/v1"}, sup, nil)
	l.sleep = noSleep

	_, err := l.Transcribe(context.Background(), testArtifact(t))
	if !errors.Is(err, backend.ErrUnavailable) {
		t.Errorf("Transcribe() error = %v, want ErrUnavailable", err)
	}
}

func TestLocalNetworkErrorResetsReadiness(t *testing.T) {
	srv, _ := transcriptionServer(t, http.StatusBadGateway, ``)
	sup := &fakeSupervisor{}
	l := NewLocal(LocalConfig{BaseURL: srv.URL + "/v1"}, sup, srv.Client())
	l.sleep = noSleep

	if _, err := l.Transcribe(context.Background(), testArtifact(t)); !errors.Is(err, backend.ErrNetwork) {
		t.Fatalf("Transcribe() error = %v, want ErrNetwork", err)
	}
	if l.ready {
		t.Error("ready should be reset after a network error")
	}
}

func TestLocalAvailable(t *testing.T) {
	sup := &fakeSupervisor{}
	l := NewLocal(LocalConfig{}, sup, nil)
	if l.Available(context.Background()) {
		t.Error("Available() = true before the service is started")
	}
	sup.started = 1
	if !l.Available(context.Background()) {
		t.Error("Available() = false for a healthy service")
	}
}

func TestModelsCatalog(t *testing.T) {
	models := Models()
	if len(models) != 5 {
		t.Fatalf("Models() returned %d entries, want 5", len(models))
	}
	recommended := 0
	for _, m := range models {
		if m.Recommended {
			recommended++
		}
	}
	if recommended != 1 {
		t.Errorf("%d recommended models, want 1", recommended)
	}

	models[0].Name = "changed"
	if Models()[0].Name == "changed" {
		t.Error("Models() must return a copy")
	}
	if _, ok := LookupModel(DefaultLocalModel); !ok {
		t.Errorf("default model %q missing from catalog", DefaultLocalModel)
	}

	data, err := json.Marshal(models[1])
	if err != nil || !strings.Contains(string(data), `"recommended":true`) {
		t.Errorf("json = %s, err = %v", data, err)
	}
}

func TestNew(t *testing.T) {
	cfg := config.Default().Transcribe

	cfg.Backend = "cloud"
	b, err := New(&cfg, nil, nil)
	if err != nil {
		t.Fatalf("New(cloud) error = %v", err)
	}
	if _, ok := b.(*Cloud); !ok {
		t.Errorf("New(cloud) = %T, want *Cloud", b)
	}

	cfg.Backend = "local"
	if _, err := New(&cfg, nil, nil); err == nil {
		t.Error("New(local) without supervisor should fail")
	}
	b, err = New(&cfg, &fakeSupervisor{}, nil)
	if err != nil {
		t.Fatalf("New(local) error = %v", err)
	}
	if _, ok := b.(*Local); !ok {
		t.Errorf("New(local) = %T, want *Local", b)
	}

	cfg.Backend = "parakeet"
	if _, err := New(&cfg, nil, nil); err == nil {
		t.Error("New(parakeet) should fail")
	}
}
