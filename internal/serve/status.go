package serve

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
)

// status tracks what the serving loop has done so far and renders it as a
// small HTML page.
type status struct {
	mu          sync.Mutex
	startedAt   time.Time
	builds      int
	failures    int
	lastBuild   time.Time
	lastError   string
	lastChanged []string
}

func newStatus() *status {
	return &status{startedAt: time.Now()}
}

func (s *status) recordBuild(changed []string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builds++
	s.lastBuild = time.Now()
	s.lastChanged = changed
	if err != nil {
		s.failures++
		s.lastError = err.Error()
	} else {
		s.lastError = ""
	}
}

// markdown renders the current state as Markdown; goldmark turns it into
// the HTML served at /status.
func (s *status) markdown() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "# sitepress\n\n")
	fmt.Fprintf(&b, "- up since: %s\n", s.startedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- builds: %d (%d failed)\n", s.builds, s.failures)
	if !s.lastBuild.IsZero() {
		fmt.Fprintf(&b, "- last build: %s\n", s.lastBuild.Format(time.RFC3339))
	}
	if s.lastError != "" {
		fmt.Fprintf(&b, "- last error: `%s`\n", s.lastError)
	}
	if len(s.lastChanged) > 0 {
		fmt.Fprintf(&b, "\n## Last changed files\n\n")
		for _, p := range s.lastChanged {
			fmt.Fprintf(&b, "- `%s`\n", p)
		}
	}
	return b.String()
}

func (s *status) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		var buf bytes.Buffer
		if err := goldmark.Convert([]byte(s.markdown()), &buf); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	}
}
