package serve

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusMarkdown(t *testing.T) {
	st := newStatus()
	st.recordBuild([]string{"docs/a.md"}, nil)
	st.recordBuild(nil, errors.New("hugo exited with code 1"))

	md := st.markdown()
	require.Contains(t, md, "builds: 2 (1 failed)")
	require.Contains(t, md, "hugo exited with code 1")
}

func TestStatusHandlerRendersHTML(t *testing.T) {
	st := newStatus()
	st.recordBuild([]string{"docs/a.md"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	st.handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	require.Contains(t, rec.Body.String(), "<h1")
	require.Contains(t, rec.Body.String(), "docs/a.md")
}
