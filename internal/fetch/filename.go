package fetch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tanq16/danzo-crawl/internal/types"
)

// localPath computes the on-disk destination for job, following spec.md
// §4.5's file-policy summary: URL path mapped under OutputDir, with a
// trailing-slash URL (or empty path) saved as index.html, matching the
// teacher's RenewOutputPath naming scheme for collisions.
func (p *Pool) localPath(job *types.Job) string {
	if job.LocalFile != "" {
		return job.LocalFile
	}
	urlPath := job.URL.Path
	if urlPath == "" || strings.HasSuffix(urlPath, "/") {
		urlPath += "index.html"
	}
	urlPath = strings.TrimPrefix(urlPath, "/")
	host, port := job.URL.HostPort()
	return filepath.Join(p.cfg.OutputDir, host+":"+port, filepath.FromSlash(urlPath))
}

// disambiguate mirrors the teacher's internal/utils/functions.go
// RenewOutputPath: appends "-(N)" before the extension until a free name
// is found, capped at 999 per spec.md §9 (kept, documented as arbitrary).
func disambiguate(path string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	for i := 1; i <= 999; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s-(%d)%s", name, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
	return path
}
