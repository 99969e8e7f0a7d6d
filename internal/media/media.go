// Package media serves the baby photos that prompts point at.
package media

import (
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
)

var imageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
}

// Handler serves image files from dir. Anything that is not an image,
// including directories, is a 404.
func Handler(dir string) http.Handler {
	return handler(os.DirFS(dir))
}

func handler(fsys fs.FS) http.Handler {
	fileServer := http.FileServer(http.FS(fsys))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := path.Clean("/" + r.URL.Path)
		ctype, ok := imageTypes[strings.ToLower(path.Ext(name))]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if info, err := fs.Stat(fsys, strings.TrimPrefix(name, "/")); err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", ctype)
		// photos never change during a party
		w.Header().Set("Cache-Control", "public, max-age=3600")
		fileServer.ServeHTTP(w, r)
	})
}
