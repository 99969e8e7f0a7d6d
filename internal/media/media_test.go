package media

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
)

func TestHandlerServesOnlyImages(t *testing.T) {
	h := handler(fstest.MapFS{
		"alice.jpg":       {Data: []byte("jpeg bytes")},
		"notes.txt":       {Data: []byte("secret")},
		"album/bob.PNG":   {Data: []byte("png bytes")},
		"album/dir.jpg/x": {Data: []byte("nested")},
	})

	cases := []struct {
		path   string
		status int
		ctype  string
	}{
		{"/alice.jpg", http.StatusOK, "image/jpeg"},
		{"/album/bob.PNG", http.StatusOK, "image/png"},
		{"/notes.txt", http.StatusNotFound, ""},
		{"/missing.jpg", http.StatusNotFound, ""},
		{"/album/dir.jpg", http.StatusNotFound, ""},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
		assert.Equal(t, tc.status, w.Code, tc.path)
		if tc.ctype != "" {
			assert.Equal(t, tc.ctype, w.Header().Get("Content-Type"), tc.path)
		}
	}
}
